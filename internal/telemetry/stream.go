package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"
)

// Stream message types.
const (
	TypeStartSession = "start_session"
	TypeTick         = "tick"
	TypeEndSession   = "end_session"
	TypeResume       = "resume"
)

const (
	// DefaultAckTimeout bounds how long session start and end wait for the
	// server.
	DefaultAckTimeout = 10 * time.Second
	// DefaultReplayWindow is how many unacked ticks are kept for a resume.
	DefaultReplayWindow = 1024
	// DefaultRetryDelay is the first redial backoff.
	DefaultRetryDelay = time.Second
)

// Envelope wraps every message on the stream. Seq is the tick number of a
// tick message and zero otherwise.
type Envelope struct {
	Type    string          `json:"type"`
	Session string          `json:"session"`
	Seq     uint64          `json:"seq,omitempty"`
	Payload json.RawMessage `json:"payload"`
}

// AckMessage is the server's acknowledgement. Acks for a session message
// name it in For; tick acks are cumulative up to Tick. An ack whose Session
// differs from ours is ignored.
type AckMessage struct {
	Type    string `json:"type"`
	For     string `json:"for"`
	Session string `json:"session"`
	Tick    uint64 `json:"tick,omitempty"`
}

// SessionPayload opens a stream session.
type SessionPayload struct {
	Session  string    `json:"session"`
	TickRate float64   `json:"tickRate"`
	Epoch    time.Time `json:"epoch"`
}

// ResumePayload reopens a session after a reconnect. Ticks after After
// follow it.
type ResumePayload struct {
	SessionPayload
	After uint64 `json:"after"`
}

// TickPayload is a Sample on the wire.
type TickPayload struct {
	Tick       uint64    `json:"tick"`
	Elapsed    float64   `json:"elapsed"`
	Wall       time.Time `json:"wall"`
	Active     string    `json:"active,omitempty"`
	X          float64   `json:"x"`
	Y          float64   `json:"y"`
	VX         float64   `json:"vx"`
	VY         float64   `json:"vy"`
	Classified int       `json:"classified"`
	Evaluated  int       `json:"evaluated"`
	Shifted    int       `json:"shifted"`
	Gravitated int       `json:"gravitated"`
	Contacts   int       `json:"contacts"`
	DurationUS int64     `json:"durationUs"`
}

func tickPayload(s Sample) TickPayload {
	return TickPayload{
		Tick:       s.Tick,
		Elapsed:    s.Elapsed,
		Wall:       s.Wall,
		Active:     s.ActiveName,
		X:          s.ActivePosition[0],
		Y:          s.ActivePosition[1],
		VX:         s.ActiveVelocity[0],
		VY:         s.ActiveVelocity[1],
		Classified: s.Classified,
		Evaluated:  s.Evaluated,
		Shifted:    s.Shifted,
		Gravitated: s.Gravitated,
		Contacts:   s.Contacts,
		DurationUS: s.Duration.Microseconds(),
	}
}

// StreamConfig holds websocket stream settings.
type StreamConfig struct {
	URL          string
	Secret       string
	AckTimeout   time.Duration
	ReplayWindow int
	RetryDelay   time.Duration
	Session      SessionPayload
}

// Stream pushes one message per tick to a websocket server. Ticks are fire
// and forget but stay buffered until acked, so a dropped connection resumes
// where the server left off. Session start and end wait for an ack.
type Stream struct {
	cfg    StreamConfig
	w      *streamWriter
	closed atomic.Bool
}

// NewStream dials cfg.URL and opens the session.
func NewStream(cfg StreamConfig, logger *slog.Logger) (*Stream, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.AckTimeout <= 0 {
		cfg.AckTimeout = DefaultAckTimeout
	}
	w := newStreamWriter(cfg, logger.With("sink", "stream", "session", cfg.Session.Session))
	if err := w.open(); err != nil {
		return nil, err
	}

	start, err := marshalEnvelope(TypeStartSession, cfg.Session.Session, 0, cfg.Session)
	if err == nil {
		err = w.sendAndWait(start, TypeStartSession, cfg.AckTimeout)
	}
	if err != nil {
		w.close()
		return nil, fmt.Errorf("starting stream session: %w", err)
	}
	return &Stream{cfg: cfg, w: w}, nil
}

func marshalEnvelope(msgType, session string, seq uint64, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", msgType, err)
	}
	data, err := json.Marshal(Envelope{Type: msgType, Session: session, Seq: seq, Payload: raw})
	if err != nil {
		return nil, fmt.Errorf("marshal %s envelope: %w", msgType, err)
	}
	return data, nil
}

// Record queues s for the writer. A full queue drops the sample.
func (s *Stream) Record(_ context.Context, sample Sample) error {
	if s.closed.Load() {
		return ErrClosed
	}
	data, err := marshalEnvelope(TypeTick, s.cfg.Session.Session, sample.Tick, tickPayload(sample))
	if err != nil {
		return err
	}
	if !s.w.enqueue(frame{tick: sample.Tick, data: data}) {
		return ErrQueueFull
	}
	return nil
}

// Dropped returns how many samples never reached the server: those refused
// by a full queue and those evicted from the replay window unacked.
func (s *Stream) Dropped() uint64 { return s.w.dropped.Load() }

// Acked returns the last tick the server acknowledged.
func (s *Stream) Acked() uint64 {
	acked, _ := s.w.progress()
	return acked
}

func (s *Stream) Flush() error { return nil }

// Close ends the session and disconnects. The session end is best effort.
func (s *Stream) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	end, err := marshalEnvelope(TypeEndSession, s.cfg.Session.Session, 0, struct{}{})
	if err == nil {
		err = s.w.sendAndWait(end, TypeEndSession, s.cfg.AckTimeout)
	}
	s.w.close()
	return err
}
