package ingest

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// StreamFrame is a decoded message arriving on a subscribed channel/key.
type StreamFrame struct {
	Channel string
	Key     string
	Data    json.RawMessage
}

// wireMessage is the subscribe/unsubscribe frame (Method "subscribe" or
// "unsubscribe"), a generic shape: {channel, key}. This generalizes a single fixed JSON subscribe
// frame shape into a channel taxonomy (trades, wallet_trades,
// market_updates).
type wireMessage struct {
	Method  string `json:"method"`
	Channel string `json:"channel"`
	Key     string `json:"key,omitempty"`
}

type wireFrame struct {
	Channel string          `json:"channel"`
	Key     string          `json:"key"`
	Data    json.RawMessage `json:"data"`
}

// WSStream is the single shared duplex connection multiplexing every
// per-leader subscription, built on a Manager + Client pair. It owns
// reconnect-with-backoff and exposes a single Frames() channel consumers
// read from.
type WSStream struct {
	url string
	log zerolog.Logger

	mu            sync.Mutex
	conn          *websocket.Conn
	subscriptions map[string]bool // "channel:key" -> true

	frames chan StreamFrame
	done   chan struct{}
	wg     sync.WaitGroup
}

// NewWSStream constructs a stream client against url. Call Start to dial
// and begin reading.
func NewWSStream(url string, log zerolog.Logger) *WSStream {
	return &WSStream{
		url:           url,
		log:           log.With().Str("component", "stream").Logger(),
		subscriptions: make(map[string]bool),
		frames:        make(chan StreamFrame, 1024),
		done:          make(chan struct{}),
	}
}

// Frames returns the channel every decoded frame is published on.
func (s *WSStream) Frames() <-chan StreamFrame { return s.frames }

// Start dials the stream once and, if that succeeds, begins the
// read/reconnect supervisor loop. A failed initial dial is returned
// without retrying; base, cap and maxAttempts apply only to reconnects
// after an established connection drops.
func (s *WSStream) Start(ctx context.Context, base, cap time.Duration, maxAttempts int) error {
	if err := s.dial(ctx); err != nil {
		return err
	}
	s.wg.Add(1)
	go s.supervise(ctx, base, cap, maxAttempts)
	return nil
}

func (s *WSStream) dial(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.conn = conn
	// Re-send every active subscription so a reconnect is transparent to
	// callers that subscribed before the drop.
	for key := range s.subscriptions {
		_ = s.writeSubscribe(conn, "subscribe", key)
	}
	s.mu.Unlock()
	return nil
}

func (s *WSStream) writeSubscribe(conn *websocket.Conn, method, channelKey string) error {
	channel, key := splitChannelKey(channelKey)
	return conn.WriteJSON(wireMessage{Method: method, Channel: channel, Key: key})
}

func splitChannelKey(channelKey string) (channel, key string) {
	for i := 0; i < len(channelKey); i++ {
		if channelKey[i] == ':' {
			return channelKey[:i], channelKey[i+1:]
		}
	}
	return channelKey, ""
}

// Subscribe adds a (channel, key) subscription, e.g. ("wallet_trades", leaderAddr).
func (s *WSStream) Subscribe(channel, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ck := channel + ":" + key
	s.subscriptions[ck] = true
	if s.conn == nil {
		return nil // will be (re)sent once connected
	}
	return s.writeSubscribe(s.conn, "subscribe", ck)
}

// Unsubscribe removes a subscription.
func (s *WSStream) Unsubscribe(channel, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ck := channel + ":" + key
	delete(s.subscriptions, ck)
	if s.conn == nil {
		return nil
	}
	return s.writeSubscribe(s.conn, "unsubscribe", ck)
}

// Close tears down the stream, stops the supervisor, then closes Frames.
func (s *WSStream) Close() error {
	close(s.done)
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	var err error
	if conn != nil {
		err = conn.Close()
	}
	s.wg.Wait()
	close(s.frames) // the supervisor's readLoop was the only sender
	return err
}

// supervise reads frames until the connection drops, then reconnects with
// exponential backoff (initial 1s, factor 2, cap 60s, max 10 attempts by
// default). On exhaustion it logs the stream as dead and returns, leaving
// the stream down; it does not signal the ingestor, whose per-leader
// superviseStream moves each leader to polling when that leader's own
// backoff budget runs out.
func (s *WSStream) supervise(ctx context.Context, base, cap time.Duration, maxAttempts int) {
	defer s.wg.Done()
	for {
		s.readLoop()

		select {
		case <-s.done:
			return
		case <-ctx.Done():
			return
		default:
		}

		bo := newBackoff(base, cap, maxAttempts)
		for {
			delay, ok := bo.Next()
			if !ok {
				s.log.Error().Msg("stream reconnect attempts exhausted, declaring stream dead")
				return
			}
			select {
			case <-s.done:
				return
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
			if err := s.dial(ctx); err != nil {
				s.log.Warn().Err(err).Msg("stream reconnect failed")
				continue
			}
			s.log.Info().Msg("stream reconnected")
			break
		}
	}
}

func (s *WSStream) readLoop() {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return
	}

	for {
		var frame wireFrame
		if err := conn.ReadJSON(&frame); err != nil {
			s.log.Warn().Err(err).Msg("stream read error")
			s.mu.Lock()
			if s.conn == conn {
				s.conn = nil
			}
			s.mu.Unlock()
			return
		}
		select {
		case s.frames <- StreamFrame{Channel: frame.Channel, Key: frame.Key, Data: frame.Data}:
		case <-s.done:
			return
		default:
			s.log.Warn().Str("channel", frame.Channel).Msg("frame channel full, dropping")
		}
	}
}
