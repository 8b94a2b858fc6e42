package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/bosley/minutes/detect"
)

// DefaultStopDebounce is how long a meeting app must stay closed before recording stops.
const DefaultStopDebounce = 5 * time.Second

// AutoDetector starts a meeting when a meeting app appears and stops it once the app has
// been gone for the debounce period. It only stops meetings it started itself.
type AutoDetector struct {
	c        *Controller
	debounce time.Duration

	mu      sync.Mutex
	app     string
	meeting string
	timer   *time.Timer
	stopped chan string // test hook, receives meeting IDs stopped by the debounce
}

func NewAutoDetector(c *Controller, debounce time.Duration) *AutoDetector {
	if debounce <= 0 {
		debounce = DefaultStopDebounce
	}
	return &AutoDetector{c: c, debounce: debounce}
}

// Run handles events until the channel closes or ctx is done.
func (a *AutoDetector) Run(ctx context.Context, events <-chan detect.Event) {
	defer a.cancelTimer()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			a.Handle(ctx, ev)
		}
	}
}

func (a *AutoDetector) Handle(ctx context.Context, ev detect.Event) {
	switch ev.Kind {
	case detect.AppDetected:
		a.detected(ctx, ev)
	case detect.AppClosed:
		a.closed(ev)
	}
}

func (a *AutoDetector) detected(ctx context.Context, ev detect.Event) {
	a.mu.Lock()
	defer a.mu.Unlock()

	// any app showing up during the debounce keeps the meeting going; its close re-arms the stop
	if a.timer != nil {
		a.timer.Stop()
		a.timer = nil
		if ev.App != a.app {
			slog.Info("Another meeting app took over, keeping recording", "from", a.app, "to", ev.App)
			a.app = ev.App
		} else {
			slog.Info("Meeting app came back, keeping recording", "app", ev.App)
		}
		return
	}
	if a.meeting != "" {
		if st := a.c.Status(); st.MeetingID == a.meeting && st.Status.busy() {
			return
		}
		// stopped or cancelled by someone else
		a.meeting, a.app = "", ""
	}

	id, err := a.c.Start(ctx, ev.App+" meeting "+ev.At.Format("2006-01-02 15:04"), ev.App)
	if err != nil {
		if errors.Is(err, ErrAlreadyActive) {
			slog.Info("Meeting app detected but a meeting is already active", "app", ev.App)
		} else {
			slog.Error("Auto-start failed", "app", ev.App, "error", err)
		}
		return
	}
	a.app = ev.App
	a.meeting = id
	slog.Info("Auto-started meeting", "app", ev.App, "meetingID", id)
}

func (a *AutoDetector) closed(ev detect.Event) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.meeting == "" || ev.App != a.app || a.timer != nil {
		return
	}
	id := a.meeting
	slog.Info("Meeting app closed, stopping after debounce", "app", ev.App, "debounce", a.debounce)
	a.timer = time.AfterFunc(a.debounce, func() { a.fire(id) })
}

func (a *AutoDetector) fire(id string) {
	a.mu.Lock()
	if a.meeting != id || a.timer == nil {
		a.mu.Unlock()
		return
	}
	a.timer = nil
	a.meeting = ""
	a.app = ""
	hook := a.stopped
	a.mu.Unlock()

	if a.c.Status().MeetingID != id {
		return
	}
	if _, err := a.c.Stop(context.Background()); err != nil {
		slog.Warn("Auto-stop failed", "meetingID", id, "error", err)
		return
	}
	slog.Info("Auto-stopped meeting", "meetingID", id)
	if hook != nil {
		hook <- id
	}
}

func (a *AutoDetector) cancelTimer() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.timer != nil {
		a.timer.Stop()
		a.timer = nil
	}
}
