package feed

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"nhooyr.io/websocket"

	"github.com/park285/chess-indexer/internal/domain"
)

type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateReconnecting State = "reconnecting"
	StateFailed       State = "failed"
)

// BatchHandler consumes one decoded batch. A failing batch is retried, then the session is dropped
// so the upstream can resend from the last recorded height.
type BatchHandler func(ctx context.Context, b *domain.Batch) error

const deliverAttempts = 3

type SubscriberConfig struct {
	URL   string
	Token string
	// MaxReconnectAttempts of 0 retries forever.
	MaxReconnectAttempts int
	PingInterval         time.Duration
	Logger               *zap.Logger
}

// Subscriber reads Batch frames from an upstream websocket feed and reconnects on failure.
type Subscriber struct {
	cfg     SubscriberConfig
	handler BatchHandler
	logger  *zap.Logger

	stateM  sync.RWMutex
	state   State
	onState func(State)
}

func NewSubscriber(cfg SubscriberConfig, handler BatchHandler) *Subscriber {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 30 * time.Second
	}
	return &Subscriber{cfg: cfg, handler: handler, logger: logger, state: StateDisconnected}
}

// OnStateChange registers a callback for connection state transitions.
func (s *Subscriber) OnStateChange(cb func(State)) {
	s.stateM.Lock()
	s.onState = cb
	s.stateM.Unlock()
}

func (s *Subscriber) State() State {
	s.stateM.RLock()
	defer s.stateM.RUnlock()
	return s.state
}

// Run blocks until ctx is done or the reconnect budget is exhausted.
func (s *Subscriber) Run(ctx context.Context) error {
	attempt := 0
	for {
		s.setState(StateConnecting)
		err := s.session(ctx)
		if ctx.Err() != nil {
			s.setState(StateDisconnected)
			return ctx.Err()
		}
		if err == nil {
			attempt = 0
		}
		attempt++
		if s.cfg.MaxReconnectAttempts > 0 && attempt > s.cfg.MaxReconnectAttempts {
			s.setState(StateFailed)
			return err
		}
		s.setState(StateReconnecting)
		s.logger.Warn("feed_reconnect", zap.Int("attempt", attempt), zap.Error(err))
		if sleepErr := sleepWithContext(ctx, backoffDuration(attempt)); sleepErr != nil {
			s.setState(StateDisconnected)
			return sleepErr
		}
	}
}

// session runs one connection. It returns nil when a connected stream ends, an error when dialing
// fails or a batch cannot be delivered.
func (s *Subscriber) session(ctx context.Context) error {
	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	conn, _, err := websocket.Dial(dialCtx, s.cfg.URL, &websocket.DialOptions{
		CompressionMode: websocket.CompressionNoContextTakeover,
		HTTPHeader:      s.headers(),
	})
	cancel()
	if err != nil {
		return err
	}
	conn.SetReadLimit(8 << 20)
	s.setState(StateConnected)
	s.logger.Info("feed_connected", zap.String("url", s.cfg.URL))

	connCtx, stop := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.pingLoop(connCtx, conn)
	}()
	defer func() {
		stop()
		_ = conn.Close(websocket.StatusNormalClosure, "close")
		wg.Wait()
	}()

	for {
		_, data, err := conn.Read(connCtx)
		if err != nil {
			if ctx.Err() == nil && websocket.CloseStatus(err) != websocket.StatusNormalClosure {
				s.logger.Warn("feed_read_failed", zap.Error(err))
			}
			s.setState(StateDisconnected)
			return nil
		}
		b, err := domain.DecodeBatch(data)
		if err != nil {
			s.logger.Warn("feed_frame_rejected", zap.Int("bytes", len(data)), zap.Error(err))
			continue
		}
		if err := s.deliver(connCtx, b); err != nil {
			s.logger.Error("feed_batch_failed", zap.Uint64("height", b.BlockHeight), zap.Error(err))
			s.setState(StateDisconnected)
			return fmt.Errorf("deliver batch %d: %w", b.BlockHeight, err)
		}
	}
}

func (s *Subscriber) deliver(ctx context.Context, b *domain.Batch) error {
	var err error
	for attempt := 1; attempt <= deliverAttempts; attempt++ {
		if err = s.handler(ctx, b); err == nil {
			return nil
		}
		if attempt == deliverAttempts {
			break
		}
		s.logger.Warn("feed_batch_retry", zap.Uint64("height", b.BlockHeight), zap.Int("attempt", attempt), zap.Error(err))
		if sleepErr := sleepWithContext(ctx, backoffDuration(attempt)); sleepErr != nil {
			return err
		}
	}
	return err
}

func (s *Subscriber) pingLoop(ctx context.Context, conn *websocket.Conn) {
	t := time.NewTicker(s.cfg.PingInterval)
	defer t.Stop()
	failures := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			pctx, cancel := context.WithTimeout(ctx, 3*time.Second)
			err := conn.Ping(pctx)
			cancel()
			if err == nil {
				failures = 0
				continue
			}
			failures++
			if failures >= 2 {
				_ = conn.Close(websocket.StatusGoingAway, "ping failure")
				return
			}
		}
	}
}

func (s *Subscriber) setState(st State) {
	s.stateM.Lock()
	s.state = st
	cb := s.onState
	s.stateM.Unlock()
	if cb != nil {
		cb(st)
	}
}

func (s *Subscriber) headers() http.Header {
	hdr := http.Header{}
	if t := strings.TrimSpace(s.cfg.Token); t != "" {
		hdr.Set("Authorization", "Bearer "+t)
	}
	return hdr
}
