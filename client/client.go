// Package client drives a running minutes server: meeting control over REST and the live
// event stream over a websocket.
package client

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/bosley/minutes/engine"
	"github.com/bosley/minutes/scribe"
	"github.com/bosley/minutes/session"
	"github.com/bosley/minutes/store"
)

type Config struct {
	// Server address, "host:port" or a full http(s) URL
	Addr string

	// Bearer token for control endpoints
	Token string

	// Certificate to trust for a server with a self-signed certificate
	CertFile string

	// Skip certificate verification
	Insecure bool
}

type Client struct {
	base   *url.URL
	token  string
	hc     *http.Client
	dialer *websocket.Dialer
}

// APIError is a non-2xx reply from the server.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.StatusCode, e.Message)
}

func New(cfg Config) (*Client, error) {
	addr := cfg.Addr
	if !strings.Contains(addr, "://") {
		scheme := "http"
		if cfg.CertFile != "" || cfg.Insecure {
			scheme = "https"
		}
		addr = scheme + "://" + addr
	}
	base, err := url.Parse(addr)
	if err != nil {
		return nil, fmt.Errorf("invalid server address %q: %w", cfg.Addr, err)
	}

	tlsConfig, err := createTLSConfig(cfg.Insecure, cfg.CertFile)
	if err != nil {
		return nil, err
	}

	return &Client{
		base:  base,
		token: cfg.Token,
		hc: &http.Client{
			Timeout:   5 * time.Minute,
			Transport: &http.Transport{TLSClientConfig: tlsConfig},
		},
		dialer: &websocket.Dialer{
			TLSClientConfig:  tlsConfig,
			HandshakeTimeout: 10 * time.Second,
		},
	}, nil
}

func (c *Client) Status(ctx context.Context) (session.Snapshot, error) {
	var snap session.Snapshot
	err := c.do(ctx, http.MethodGet, "/api/status", nil, &snap)
	return snap, err
}

func (c *Client) Transcript(ctx context.Context) ([]scribe.TranscriptSegment, error) {
	var segs []scribe.TranscriptSegment
	err := c.do(ctx, http.MethodGet, "/api/transcript", nil, &segs)
	return segs, err
}

type meetingRef struct {
	MeetingID string `json:"meetingId"`
}

func (c *Client) Start(ctx context.Context, title string) (string, error) {
	var ref meetingRef
	err := c.do(ctx, http.MethodPost, "/api/meeting/start", map[string]string{"title": title, "source": "remote"}, &ref)
	return ref.MeetingID, err
}

func (c *Client) Stop(ctx context.Context) (string, error) {
	var ref meetingRef
	err := c.do(ctx, http.MethodPost, "/api/meeting/stop", nil, &ref)
	return ref.MeetingID, err
}

func (c *Client) Cancel(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/api/meeting/cancel", nil, nil)
}

func (c *Client) Meetings(ctx context.Context) ([]store.Meeting, error) {
	var meetings []store.Meeting
	err := c.do(ctx, http.MethodGet, "/api/meetings", nil, &meetings)
	return meetings, err
}

func (c *Client) Meeting(ctx context.Context, id string) (store.Meeting, error) {
	var m store.Meeting
	err := c.do(ctx, http.MethodGet, "/api/meetings/"+id, nil, &m)
	return m, err
}

func (c *Client) Summarize(ctx context.Context, id string) (engine.Summary, error) {
	var s engine.Summary
	err := c.do(ctx, http.MethodPost, "/api/meeting/"+id+"/summarize", nil, &s)
	return s, err
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		r = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base.JoinPath(path).String(), r)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var e struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&e)
		return &APIError{StatusCode: resp.StatusCode, Message: e.Error}
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// Follow streams server events to fn until ctx is done or the connection drops.
func (c *Client) Follow(ctx context.Context, fn func(session.Event)) error {
	u := *c.base
	u.Scheme = "ws"
	if c.base.Scheme == "https" {
		u.Scheme = "wss"
	}
	u.Path = "/ws"

	conn, _, err := c.dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("connecting to %s: %w", u.String(), err)
	}
	defer conn.Close()
	slog.Debug("Following server events", "url", u.String())

	stop := context.AfterFunc(ctx, func() {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		conn.Close()
	})
	defer stop()

	for {
		var ev session.Event
		if err := conn.ReadJSON(&ev); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			var syntax *json.SyntaxError
			if errors.As(err, &syntax) {
				slog.Warn("Skipping malformed event", "error", err)
				continue
			}
			return err
		}
		fn(ev)
	}
}

func createTLSConfig(insecure bool, certFile string) (*tls.Config, error) {
	if insecure {
		slog.Warn("Skipping server certificate verification")
		return &tls.Config{InsecureSkipVerify: true}, nil
	}
	if certFile == "" {
		return nil, nil
	}

	certPEM, err := os.ReadFile(certFile)
	if err != nil {
		return nil, err
	}

	certPool := x509.NewCertPool()
	if !certPool.AppendCertsFromPEM(certPEM) {
		return nil, fmt.Errorf("failed to append server certificate")
	}
	return &tls.Config{RootCAs: certPool}, nil
}
