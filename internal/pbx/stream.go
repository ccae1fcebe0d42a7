package pbx

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// Handler processes one accepted stream frame. Frames are delivered
// sequentially in stream order.
type Handler func(ctx context.Context, msg Message)

// StreamOptions configures a Stream.
type StreamOptions struct {
	URL               string
	Credentials       Credentials
	KeepaliveInterval time.Duration
	ReconnectBase     time.Duration
	ReconnectMax      time.Duration
	Dialer            *websocket.Dialer
}

// Stream maintains the authenticated websocket connection to the PBX
// event feed, reconnecting with capped exponential backoff.
type Stream struct {
	opts    StreamOptions
	handler Handler
	cursor  *Cursor

	attempts  atomic.Int64
	connected atomic.Bool
}

// NewStream creates a Stream delivering accepted frames to handler.
func NewStream(opts StreamOptions, handler Handler) *Stream {
	if opts.Dialer == nil {
		opts.Dialer = &websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	}
	if opts.KeepaliveInterval <= 0 {
		opts.KeepaliveInterval = 30 * time.Second
	}
	if opts.ReconnectBase <= 0 {
		opts.ReconnectBase = time.Second
	}
	if opts.ReconnectMax < opts.ReconnectBase {
		opts.ReconnectMax = opts.ReconnectBase
	}
	return &Stream{
		opts:    opts,
		handler: handler,
		cursor:  &Cursor{},
	}
}

// Cursor returns the stream's ingestion cursor.
func (s *Stream) Cursor() *Cursor {
	return s.cursor
}

// Connected reports whether a session is currently established.
func (s *Stream) Connected() bool {
	return s.connected.Load()
}

// Attempts returns the number of consecutive failed connection attempts.
func (s *Stream) Attempts() int {
	return int(s.attempts.Load())
}

// Run connects and processes frames until ctx is cancelled.
func (s *Stream) Run(ctx context.Context) error {
	for {
		err := s.runSession(ctx)
		if ctx.Err() != nil {
			return nil
		}

		attempt := int(s.attempts.Add(1))
		delay := Backoff(s.opts.ReconnectBase, s.opts.ReconnectMax, attempt-1)
		log.Warn().Err(err).Int("attempt", attempt).Dur("delay", delay).Msg("PBX stream disconnected, reconnecting")

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil
		}
	}
}

func (s *Stream) runSession(ctx context.Context) error {
	token, err := s.opts.Credentials.Token(ctx)
	if err != nil {
		return fmt.Errorf("getting token: %w", err)
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)

	conn, resp, err := s.opts.Dialer.DialContext(ctx, s.opts.URL, header)
	if err != nil {
		if resp != nil && isAuthFailure(resp.StatusCode) {
			// Next attempt dials with a fresh token.
			if _, rerr := s.opts.Credentials.Refresh(ctx); rerr != nil {
				log.Warn().Err(rerr).Msg("refreshing PBX token after rejected dial")
			}
		}
		return fmt.Errorf("dial PBX stream: %w", err)
	}
	defer conn.Close()

	s.attempts.Store(0)
	s.connected.Store(true)
	defer s.connected.Store(false)
	log.Info().Str("url", s.opts.URL).Int64("cursor", s.cursor.Value()).Msg("PBX stream connected")

	var alive atomic.Bool
	alive.Store(true)
	conn.SetPongHandler(func(string) error {
		alive.Store(true)
		return nil
	})

	sessionCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Close connection when context is cancelled or keepalive fails.
	go s.keepalive(sessionCtx, conn, &alive)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("reading PBX stream: %w", err)
		}
		alive.Store(true)

		msg, err := Decode(data)
		if err != nil {
			log.Warn().Err(err).Int("bytes", len(data)).Msg("dropping malformed PBX frame")
			continue
		}
		if !s.cursor.Accept(msg.Sequence) {
			log.Debug().Int64("sequence", msg.Sequence).Int64("cursor", s.cursor.Value()).Msg("dropping stale PBX frame")
			continue
		}
		s.handler(ctx, msg)
	}
}

func (s *Stream) keepalive(ctx context.Context, conn *websocket.Conn, alive *atomic.Bool) {
	ticker := time.NewTicker(s.opts.KeepaliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			conn.Close()
			return
		case <-ticker.C:
			if !alive.Load() {
				log.Warn().Msg("PBX stream missed keepalive, closing")
				conn.Close()
				return
			}
			alive.Store(false)
			deadline := time.Now().Add(s.opts.KeepaliveInterval)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				if !errors.Is(err, websocket.ErrCloseSent) {
					log.Warn().Err(err).Msg("PBX keepalive ping failed, closing")
				}
				conn.Close()
				return
			}
		}
	}
}

// Backoff returns the reconnect delay for the given zero-based attempt:
// base * 2^attempt plus jitter in [0, base/2), never more than max.
func Backoff(base, max time.Duration, attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	delay := max
	if attempt < 32 {
		if d := base << uint(attempt); d > 0 && d < max {
			delay = d
		}
	}
	if half := int64(base / 2); half > 0 {
		delay += time.Duration(rand.Int64N(half))
	}
	if delay > max {
		delay = max
	}
	return delay
}
