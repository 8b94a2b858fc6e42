package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bosley/minutes/audio"
	"github.com/bosley/minutes/engine"
	"github.com/bosley/minutes/scribe"
	"github.com/bosley/minutes/store"
)

// Deps are the collaborators a Controller drives.
type Deps struct {
	// NewSink returns a fresh sink for each recording.
	NewSink     func() (audio.Sink, error)
	Transcriber engine.Transcriber
	// Diarizer and Summarizer may be nil.
	Diarizer   engine.Diarizer
	Summarizer engine.Summarizer
	Store      store.Store
	Notifier   Notifier
	Pipeline   scribe.Config
}

// Controller owns the meeting lifecycle. Only one meeting records at a time.
type Controller struct {
	deps Deps
	now  func() time.Time

	mu        sync.Mutex
	status    Status
	gen       uint64
	meetingID string
	title     string
	startedAt time.Time
	sink      audio.Sink
	pipeline  *scribe.Pipeline
	consumed  chan struct{}
	segments  []scribe.TranscriptSegment
	lastErr   error

	cancelSummary context.CancelFunc
	noticeSent    bool
	background    sync.WaitGroup
}

func New(deps Deps) *Controller {
	if deps.Notifier == nil {
		deps.Notifier = nopNotifier{}
	}
	return &Controller{deps: deps, now: time.Now}
}

func (c *Controller) emit(e Event) {
	e.At = c.now()
	c.deps.Notifier.Notify(e)
}

// setStatus must be called with c.mu held.
func (c *Controller) setStatus(s Status) {
	if c.status == s {
		return
	}
	slog.Debug("Session status changed", "from", c.status, "to", s, "meetingID", c.meetingID)
	c.status = s
	c.emit(Event{Kind: EventStatusChanged, MeetingID: c.meetingID, Status: s})
}

// Start creates a meeting record and begins recording. It fails with AlreadyActive while
// another meeting is starting, recording or stopping.
func (c *Controller) Start(ctx context.Context, title, source string) (string, error) {
	c.mu.Lock()
	if c.status.busy() {
		st := c.status
		c.mu.Unlock()
		return "", &Error{Kind: AlreadyActive, Status: st}
	}
	c.gen++
	gen := c.gen
	c.meetingID = ""
	c.segments = nil
	c.lastErr = nil
	if title == "" {
		title = "Meeting " + c.now().Format("2006-01-02 15:04")
	}
	c.title = title
	c.setStatus(Starting)
	c.mu.Unlock()

	slog.Info("Starting meeting", "title", title, "source", source)

	id, sink, pipeline, results, err := c.open(ctx, title, source)
	if err != nil {
		return "", c.failStart(gen, err)
	}

	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		slog.Info("Meeting cancelled while starting", "meetingID", id)
		pipeline.Cancel()
		for range results {
		}
		c.deleteRecord(id)
		return "", &Error{Kind: Cancelled}
	}
	c.meetingID = id
	c.sink = sink
	c.pipeline = pipeline
	c.startedAt = c.now()
	c.consumed = make(chan struct{})
	c.setStatus(Recording)
	notice := !pipeline.Diarizing() && !c.noticeSent
	if notice {
		c.noticeSent = true
	}
	consumed := c.consumed
	c.mu.Unlock()

	go c.consume(gen, id, results, consumed)

	c.emit(Event{Kind: EventMeetingStarted, MeetingID: id, Status: Recording})
	if notice {
		c.emit(Event{Kind: EventDiarizationUnavailable, MeetingID: id, Status: Recording})
	}
	slog.Info("Meeting recording", "meetingID", id, "diarization", pipeline.Diarizing())
	return id, nil
}

// open runs the fallible part of Start. Nothing it creates survives a failure.
func (c *Controller) open(ctx context.Context, title, source string) (string, audio.Sink, *scribe.Pipeline, <-chan scribe.Result, error) {
	if l, ok := c.deps.Transcriber.(engine.Loader); ok {
		if err := l.Load(ctx); err != nil {
			return "", nil, nil, nil, &Error{Kind: ModelLoadFailed, Err: err}
		}
	}

	// diarizers that can refresh their readiness do so once per recording
	if p, ok := c.deps.Diarizer.(interface{ Probe(context.Context) bool }); ok {
		p.Probe(ctx)
	}

	sink, err := c.deps.NewSink()
	if err != nil {
		return "", nil, nil, nil, &Error{Kind: StartFailed, Err: err}
	}

	id, err := c.deps.Store.Create(ctx, title, source)
	if err != nil {
		return "", nil, nil, nil, &Error{Kind: StartFailed, Err: fmt.Errorf("creating meeting record: %w", err)}
	}

	pipeline := scribe.New(c.deps.Pipeline, sink, c.deps.Transcriber, c.deps.Diarizer)
	results, err := pipeline.Start(ctx)
	if err != nil {
		c.deleteRecord(id)
		return "", nil, nil, nil, &Error{Kind: StartFailed, Err: err}
	}
	return id, sink, pipeline, results, nil
}

func (c *Controller) failStart(gen uint64, err error) error {
	slog.Error("Failed to start meeting", "error", err)
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen == gen {
		c.lastErr = err
		c.setStatus(Failed)
	}
	return err
}

// consume reads the pipeline's results until the stream closes.
func (c *Controller) consume(gen uint64, meetingID string, results <-chan scribe.Result, done chan struct{}) {
	defer close(done)
	for r := range results {
		if r.Err != nil {
			c.windowFailed(gen, meetingID, r)
			continue
		}
		if r.Segment != nil {
			c.addSegment(gen, meetingID, *r.Segment)
		}
	}
}

func (c *Controller) windowFailed(gen uint64, meetingID string, r scribe.Result) {
	if !errors.Is(r.Err, engine.ErrModelNotLoaded) {
		slog.Warn("Window dropped", "meetingID", meetingID, "start", r.Start, "end", r.End, "error", r.Err)
		return
	}
	c.mu.Lock()
	current := c.gen == gen
	c.mu.Unlock()
	if !current {
		return
	}
	slog.Error("Speech model is not loaded", "meetingID", meetingID, "error", r.Err)
	c.emit(Event{Kind: EventEngineError, MeetingID: meetingID, Status: Recording, Error: r.Err.Error()})

	if l, ok := c.deps.Transcriber.(engine.Loader); ok {
		if err := l.Load(context.Background()); err != nil {
			slog.Error("Reloading speech model failed", "error", err)
		}
	}
}

// addSegment keeps the live transcript ordered and persists the segment straight away.
// Results from a cancelled meeting are dropped.
func (c *Controller) addSegment(gen uint64, meetingID string, seg scribe.TranscriptSegment) {
	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		slog.Debug("Discarding segment from a cancelled meeting", "meetingID", meetingID)
		return
	}
	c.segments = scribe.InsertSorted(c.segments, seg)
	if err := c.deps.Store.AddSegment(context.Background(), meetingID, seg); err != nil {
		slog.Error("Failed to persist segment", "meetingID", meetingID, "error", err)
	}
	status := c.status
	c.mu.Unlock()

	c.emit(Event{Kind: EventSegmentAdded, MeetingID: meetingID, Status: status, Segment: &seg})
}

// Stop drains trailing audio, marks the meeting completed and returns. Summarization
// continues in the background; use Wait to block on it.
func (c *Controller) Stop(ctx context.Context) (string, error) {
	c.mu.Lock()
	if c.status != Recording {
		st := c.status
		c.mu.Unlock()
		return "", &Error{Kind: NotRecording, Status: st}
	}
	gen := c.gen
	id := c.meetingID
	pipeline := c.pipeline
	consumed := c.consumed
	sink := c.sink
	c.setStatus(Stopping)
	c.mu.Unlock()

	slog.Info("Stopping meeting", "meetingID", id)

	if err := pipeline.Drain(ctx); err != nil {
		slog.Warn("Drain did not complete", "meetingID", id, "error", err)
	}
	<-consumed

	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		return "", &Error{Kind: Cancelled}
	}
	ended := c.now()
	duration := ended.Sub(c.startedAt)
	if err := c.deps.Store.CompleteMeeting(context.Background(), id, ended); err != nil {
		slog.Error("Failed to complete meeting record", "meetingID", id, "error", err)
	}
	transcript := append([]scribe.TranscriptSegment(nil), c.segments...)
	sumCtx, cancel := context.WithCancel(context.Background())
	c.cancelSummary = cancel
	c.setStatus(Processing)
	c.background.Add(1)
	c.mu.Unlock()

	c.emit(Event{Kind: EventMeetingEnded, MeetingID: id, Status: Processing})
	slog.Info("Meeting ended", "meetingID", id, "segments", len(transcript), "duration", duration)

	go func() {
		defer c.background.Done()
		defer cancel()
		c.finish(sumCtx, gen, id, transcript, sink)
	}()

	return id, nil
}

// finish attaches the recording and summarizes, then marks the session completed. Failures
// here never change the stored meeting's completed status.
func (c *Controller) finish(ctx context.Context, gen uint64, id string, transcript []scribe.TranscriptSegment, sink audio.Sink) {
	if rec, ok := sink.(audio.Recording); ok && rec.Path() != "" {
		hash, err := audio.Fingerprint(rec.Path())
		if err != nil {
			slog.Warn("Failed to fingerprint recording", "path", rec.Path(), "error", err)
		} else if err := c.deps.Store.AttachAudio(ctx, id, rec.Path(), hash); err != nil {
			slog.Warn("Failed to attach recording", "meetingID", id, "error", err)
		}
	}

	if summary, ok := c.summarize(ctx, id, transcript); ok {
		c.emit(Event{Kind: EventSummaryGenerated, MeetingID: id, Status: Completed, Summary: &summary})
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen == gen {
		c.cancelSummary = nil
		c.setStatus(Completed)
	}
}

func (c *Controller) summarize(ctx context.Context, id string, transcript []scribe.TranscriptSegment) (engine.Summary, bool) {
	if c.deps.Summarizer == nil {
		slog.Debug("No summarizer configured", "meetingID", id)
		return engine.Summary{}, false
	}
	if len(transcript) == 0 {
		slog.Info("Empty transcript, skipping summary", "meetingID", id)
		return engine.Summary{}, false
	}

	summary, err := c.deps.Summarizer.Summarize(ctx, scribe.PlainText(transcript))
	if err != nil {
		slog.Warn("Summary generation failed", "meetingID", id, "error", err)
		return engine.Summary{}, false
	}
	if err := c.deps.Store.UpdateSummary(context.Background(), id, summary); err != nil {
		slog.Error("Failed to persist summary", "meetingID", id, "error", err)
		return engine.Summary{}, false
	}
	slog.Info("Summary generated", "meetingID", id, "length", len(summary.Text))
	return summary, true
}

// Cancel discards the current meeting from any state and returns to idle. Completed and
// failed meetings are left in the store.
func (c *Controller) Cancel(ctx context.Context) error {
	c.mu.Lock()
	status := c.status
	id := c.meetingID
	pipeline := c.pipeline
	cancelSummary := c.cancelSummary

	if status == Idle {
		c.mu.Unlock()
		return nil
	}
	c.gen++
	c.meetingID = ""
	c.pipeline = nil
	c.sink = nil
	c.consumed = nil
	c.cancelSummary = nil
	c.segments = nil
	c.lastErr = nil
	c.setStatus(Idle)
	c.mu.Unlock()

	switch status {
	case Starting:
		// Start notices the generation change and cleans up.
		slog.Info("Cancelling meeting start")
		return nil
	case Recording, Stopping:
		pipeline.Cancel()
		c.deleteRecord(id)
	case Processing:
		if cancelSummary != nil {
			cancelSummary()
		}
		c.deleteRecord(id)
	default:
		return nil
	}

	slog.Info("Meeting cancelled", "meetingID", id, "from", status)
	c.emit(Event{Kind: EventMeetingCancelled, MeetingID: id, Status: Idle})
	return nil
}

func (c *Controller) deleteRecord(id string) {
	if id == "" {
		return
	}
	if err := c.deps.Store.Delete(context.Background(), id); err != nil && !errors.Is(err, store.ErrNotFound) {
		slog.Error("Failed to delete meeting record", "meetingID", id, "error", err)
	}
}

// Resummarize regenerates the summary of a stored meeting.
func (c *Controller) Resummarize(ctx context.Context, id string) (engine.Summary, error) {
	if c.deps.Summarizer == nil {
		return engine.Summary{}, engine.ErrUnavailable
	}
	m, err := c.deps.Store.Get(ctx, id)
	if err != nil {
		return engine.Summary{}, err
	}
	if len(m.Segments) == 0 {
		return engine.Summary{}, fmt.Errorf("meeting %s has no transcript", id)
	}
	summary, err := c.deps.Summarizer.Summarize(ctx, scribe.PlainText(m.Segments))
	if err != nil {
		return engine.Summary{}, fmt.Errorf("summarizing: %w", err)
	}
	if err := c.deps.Store.UpdateSummary(ctx, id, summary); err != nil {
		return engine.Summary{}, fmt.Errorf("saving summary: %w", err)
	}
	c.emit(Event{Kind: EventSummaryGenerated, MeetingID: id, Status: c.Status().Status, Summary: &summary})
	return summary, nil
}

// Wait blocks until background summarization has finished.
func (c *Controller) Wait() {
	c.background.Wait()
}

func (c *Controller) Status() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := Snapshot{
		Status:    c.status,
		MeetingID: c.meetingID,
		Title:     c.title,
		StartedAt: c.startedAt,
		Segments:  len(c.segments),
		Level:     -160,
	}
	if c.pipeline != nil {
		s.Diarizing = c.pipeline.Diarizing()
		if c.status == Recording {
			s.Level = c.pipeline.Level()
		}
	}
	if c.lastErr != nil {
		s.LastError = c.lastErr.Error()
	}
	return s
}

// Transcript is a copy of the live transcript, ordered by start time.
func (c *Controller) Transcript() []scribe.TranscriptSegment {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]scribe.TranscriptSegment(nil), c.segments...)
}
