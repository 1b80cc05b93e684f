package scanner

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/noah-isme/juliana/internal/obs"
	"github.com/noah-isme/juliana/internal/resilience"
	"github.com/noah-isme/juliana/internal/rfid"
)

// Defaults for the local NFC bridge.
const (
	DefaultURL       = "ws://localhost:3000"
	DefaultRetryBase = 500 * time.Millisecond
	DefaultRetryMax  = 30 * time.Second
)

// Kind classifies scan stream events.
type Kind int

const (
	// Scan carries a card that was presented.
	Scan Kind = iota
	// Connected is sent when the bridge connection is (re)established.
	Connected
	// Disconnected is sent once per outage; Err holds the cause.
	Disconnected
	// Rejected carries a frame that did not decode to a known card.
	Rejected
)

func (k Kind) String() string {
	switch k {
	case Scan:
		return "scan"
	case Connected:
		return "connected"
	case Disconnected:
		return "disconnected"
	case Rejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// Event is delivered to the terminal for every scanner occurrence.
type Event struct {
	Kind Kind
	Card rfid.Card
	Err  error
}

// Source reads card frames from the NFC bridge websocket and reconnects with
// exponential backoff when the connection drops.
type Source struct {
	URL         string
	Subprotocol string
	Dialer      *websocket.Dialer
	Header      http.Header
	RetryBase   time.Duration
	RetryMax    time.Duration
	Logger      zerolog.Logger

	connected atomic.Bool
}

// Connected reports whether the bridge connection is currently up.
func (s *Source) Connected() bool {
	return s.connected.Load()
}

// Run delivers events on out until ctx is cancelled.
func (s *Source) Run(ctx context.Context, out chan<- Event) error {
	attempt := 0
	down := false
	for {
		conn, err := s.dial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			attempt++
			if !down {
				down = true
				if !s.send(ctx, out, Event{Kind: Disconnected, Err: err}) {
					return ctx.Err()
				}
			}
			wait := s.backoff(attempt)
			s.Logger.Warn().Err(err).Int("attempt", attempt).Dur("retry_in", wait).Msg("scanner_connect_failed")
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
			continue
		}

		attempt = 0
		down = false
		s.connected.Store(true)
		s.Logger.Info().Str("url", s.url()).Msg("scanner_connected")
		if !s.send(ctx, out, Event{Kind: Connected}) {
			_ = conn.Close()
			s.connected.Store(false)
			return ctx.Err()
		}

		err = s.read(ctx, conn, out)
		s.connected.Store(false)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		down = true
		evt := s.Logger.Warn()
		if IsClosed(err) {
			evt = s.Logger.Info()
		}
		evt.Err(err).Msg("scanner_disconnected")
		if !s.send(ctx, out, Event{Kind: Disconnected, Err: err}) {
			return ctx.Err()
		}
	}
}

func (s *Source) dial(ctx context.Context) (*websocket.Conn, error) {
	dialer := s.Dialer
	if dialer == nil {
		dialer = &websocket.Dialer{HandshakeTimeout: 5 * time.Second}
	}
	if s.Subprotocol != "" {
		d := *dialer
		d.Subprotocols = []string{s.Subprotocol}
		dialer = &d
	}
	conn, resp, err := dialer.DialContext(ctx, s.url(), s.Header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", s.url(), err)
	}
	return conn, nil
}

func (s *Source) read(ctx context.Context, conn *websocket.Conn, out chan<- Event) error {
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()
	defer conn.Close()

	for {
		msgType, frame, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		if msgType != websocket.TextMessage && msgType != websocket.BinaryMessage {
			continue
		}
		card, err := rfid.Parse(frame)
		ev := Event{Kind: Scan, Card: card}
		if err != nil {
			s.Logger.Warn().Err(err).Bytes("frame", frame).Msg("scanner_frame_rejected")
			ev = Event{Kind: Rejected, Card: card, Err: err}
		}
		if !s.send(ctx, out, ev) {
			return ctx.Err()
		}
	}
}

func (s *Source) send(ctx context.Context, out chan<- Event, ev Event) bool {
	if obs.ScannerEvents != nil {
		obs.ScannerEvents.WithLabelValues(ev.Kind.String()).Inc()
	}
	select {
	case out <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

func (s *Source) url() string {
	if s.URL == "" {
		return DefaultURL
	}
	return s.URL
}

func (s *Source) backoff(attempt int) time.Duration {
	base := s.RetryBase
	if base <= 0 {
		base = DefaultRetryBase
	}
	ceiling := s.RetryMax
	if ceiling <= 0 {
		ceiling = DefaultRetryMax
	}
	if attempt > 16 {
		attempt = 16
	}
	d := resilience.Backoff(base, attempt, 0.2)
	if d > ceiling {
		d = ceiling
	}
	return d
}

// IsClosed reports whether err is a normal websocket closure.
func IsClosed(err error) bool {
	return websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) ||
		errors.Is(err, websocket.ErrCloseSent)
}
