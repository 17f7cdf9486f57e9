package telemetry

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	ws "github.com/gorilla/websocket"
)

const (
	streamQueueSize = 4096
	ackQueueSize    = 16
	maxRedial       = 10
	maxRedialDelay  = 30 * time.Second
	writeWait       = 10 * time.Second
)

var errLinkBroken = errors.New("stream link broken")

type frame struct {
	tick uint64 // zero for session messages
	data []byte
}

// link is one websocket connection. broken closes once either side fails.
type link struct {
	conn   *ws.Conn
	broken chan struct{}
	once   sync.Once
}

func (l *link) fail() {
	l.once.Do(func() {
		close(l.broken)
		_ = l.conn.Close()
	})
}

func (l *link) write(data []byte) error {
	if err := l.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return l.conn.WriteMessage(ws.TextMessage, data)
}

// streamWriter owns the websocket of one session. A single goroutine writes;
// every link gets its own reader that applies acks. Ticks stay in a replay
// window until the server acks them, and a redial resumes after the last
// acked tick.
type streamWriter struct {
	url     string
	secret  string
	session SessionPayload
	window  int
	delay   time.Duration
	logger  *slog.Logger

	queue   chan frame
	acks    chan AckMessage
	done    chan struct{}
	stopped chan struct{}
	stop    sync.Once

	mu      sync.Mutex
	pending []frame
	acked   uint64
	// evicted from the window and not yet covered by an ack
	unconfirmed uint64
	lastEvicted uint64

	dropped atomic.Uint64
}

func newStreamWriter(cfg StreamConfig, logger *slog.Logger) *streamWriter {
	window := cfg.ReplayWindow
	if window <= 0 {
		window = DefaultReplayWindow
	}
	delay := cfg.RetryDelay
	if delay <= 0 {
		delay = DefaultRetryDelay
	}
	return &streamWriter{
		url:     cfg.URL,
		secret:  cfg.Secret,
		session: cfg.Session,
		window:  window,
		delay:   delay,
		logger:  logger,
		queue:   make(chan frame, streamQueueSize),
		acks:    make(chan AckMessage, ackQueueSize),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
}

// open dials and starts the writer.
func (w *streamWriter) open() error {
	l, err := w.dial()
	if err != nil {
		return err
	}
	go w.read(l)
	go w.run(l)
	return nil
}

func (w *streamWriter) dial() (*link, error) {
	u, err := url.Parse(w.url)
	if err != nil {
		return nil, fmt.Errorf("invalid stream URL: %w", err)
	}
	if w.secret != "" {
		q := u.Query()
		q.Set("secret", w.secret)
		u.RawQuery = q.Encode()
	}
	conn, _, err := ws.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("stream dial failed: %w", err)
	}
	return &link{conn: conn, broken: make(chan struct{})}, nil
}

func (w *streamWriter) run(l *link) {
	defer close(w.stopped)
	for l != nil {
		err := w.pump(l)
		if err == nil {
			_ = l.conn.WriteMessage(ws.CloseMessage, ws.FormatCloseMessage(ws.CloseNormalClosure, ""))
			l.fail()
			return
		}
		w.logger.Warn("Stream connection lost", "error", err)
		l.fail()
		l = w.redial()
	}
}

// pump writes queued frames until the writer stops (nil) or the link fails.
func (w *streamWriter) pump(l *link) error {
	for {
		select {
		case <-w.done:
			return nil
		case <-l.broken:
			return errLinkBroken
		case f := <-w.queue:
			if f.tick > 0 {
				w.remember(f)
			}
			if err := l.write(f.data); err != nil {
				return err
			}
		}
	}
}

func (w *streamWriter) read(l *link) {
	defer l.fail()
	for {
		_, msg, err := l.conn.ReadMessage()
		if err != nil {
			select {
			case <-w.done:
			default:
				w.logger.Debug("Stream read ended", "error", err)
			}
			return
		}

		var ack AckMessage
		if err := json.Unmarshal(msg, &ack); err != nil || ack.Type != "ack" {
			w.logger.Debug("Ignoring stream message", "raw", string(msg))
			continue
		}
		if ack.Session != w.session.Session {
			w.logger.Debug("Ignoring ack for another session", "session", ack.Session, "for", ack.For)
			continue
		}
		if ack.For == TypeTick {
			w.confirm(ack.Tick)
			continue
		}
		select {
		case w.acks <- ack:
		default:
			w.logger.Debug("Ack queue full, dropping", "for", ack.For)
		}
	}
}

func (w *streamWriter) remember(f frame) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.pending = append(w.pending, f)
	if over := len(w.pending) - w.window; over > 0 {
		w.lastEvicted = w.pending[over-1].tick
		w.unconfirmed += uint64(over)
		w.pending = append(w.pending[:0], w.pending[over:]...)
	}
}

// confirm applies a cumulative tick ack.
func (w *streamWriter) confirm(tick uint64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if tick <= w.acked {
		return
	}
	w.acked = tick
	i := 0
	for i < len(w.pending) && w.pending[i].tick <= tick {
		i++
	}
	w.pending = append(w.pending[:0], w.pending[i:]...)
	if tick >= w.lastEvicted {
		w.unconfirmed = 0
	}
}

// progress returns the last acked tick and how many ticks await an ack.
func (w *streamWriter) progress() (uint64, int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.acked, len(w.pending)
}

func (w *streamWriter) redial() *link {
	delay := w.delay
	for attempt := 1; attempt <= maxRedial; attempt++ {
		select {
		case <-w.done:
			return nil
		case <-time.After(delay):
		}

		l, err := w.dial()
		if err != nil {
			w.logger.Warn("Stream redial failed", "attempt", attempt, "error", err)
			delay = min(delay*2, maxRedialDelay)
			continue
		}
		go w.read(l)
		if err := w.resume(l); err != nil {
			w.logger.Warn("Stream resume failed", "attempt", attempt, "error", err)
			l.fail()
			continue
		}
		w.logger.Info("Stream resumed", "attempt", attempt)
		return l
	}
	w.logger.Error("Stream redial gave up", "attempts", maxRedial)
	return nil
}

// resume reopens the session after the last acked tick and replays the
// window. Ticks evicted before the server acked them are counted as dropped.
func (w *streamWriter) resume(l *link) error {
	w.mu.Lock()
	after := w.acked
	replay := append([]frame(nil), w.pending...)
	lost := w.unconfirmed
	w.unconfirmed = 0
	w.mu.Unlock()

	if lost > 0 {
		w.dropped.Add(lost)
		w.logger.Warn("Stream replay window overflowed", "lost", lost, "after", after)
	}

	data, err := marshalEnvelope(TypeResume, w.session.Session, 0, ResumePayload{SessionPayload: w.session, After: after})
	if err != nil {
		return err
	}
	if err := l.write(data); err != nil {
		return err
	}
	for _, f := range replay {
		if err := l.write(f.data); err != nil {
			return err
		}
	}
	return nil
}

// enqueue hands a tick to the writer without blocking. A full queue drops it.
func (w *streamWriter) enqueue(f frame) bool {
	select {
	case w.queue <- f:
		return true
	default:
		w.dropped.Add(1)
		return false
	}
}

func (w *streamWriter) sendAndWait(data []byte, ackFor string, timeout time.Duration) error {
	select {
	case w.queue <- frame{data: data}:
	default:
		return ErrQueueFull
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		select {
		case ack := <-w.acks:
			if ack.For == ackFor {
				return nil
			}
		case <-timer.C:
			return fmt.Errorf("timeout waiting for ack of %q", ackFor)
		case <-w.stopped:
			return fmt.Errorf("stream stopped while waiting for ack of %q", ackFor)
		}
	}
}

// close stops the writer and waits for it. Only valid after a successful
// open.
func (w *streamWriter) close() {
	w.stop.Do(func() { close(w.done) })
	<-w.stopped
}
