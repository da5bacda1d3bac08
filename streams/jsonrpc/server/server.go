package server

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/defistate/lendgine-go/engine"
	"github.com/defistate/lendgine-go/metrics"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/event"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/holiman/uint256"
)

const (
	// RpcNamespace is the namespace under which the API is registered.
	RpcNamespace = "lendgine"

	EventTypeFull = "full"
)

var (
	ErrTickNotFound     = errors.New("tick not found")
	ErrPositionNotFound = errors.New("position not found")
)

// Logger is the structured, leveled logger the server writes publishes and
// subscriptions to. *slog.Logger satisfies it.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Engine is the read side of the lending engine.
type Engine interface {
	Snapshot() engine.State
	InterestNumerator() *uint256.Int
	RecomputeInterestNumerator() *uint256.Int
}

// SubscriptionEvent is the wrapper object sent to subscribers.
type SubscriptionEvent struct {
	Type    string        `json:"type"`
	Payload *engine.State `json:"payload"`
	SentAt  int64         `json:"sentAt"`
}

// Config holds the configuration for the server.
type Config struct {
	Engine Engine
	// Lock serializes access to the engine with its writers.
	Lock       *sync.RWMutex
	Logger     Logger
	BufferSize uint
	Metrics    *metrics.Metrics // optional
}

func (c *Config) validate() error {
	if c.Engine == nil {
		return errors.New("config: Engine is required")
	}
	if c.Lock == nil {
		return errors.New("config: Lock is required")
	}
	if c.Logger == nil {
		return errors.New("config: Logger is required")
	}
	if c.BufferSize < 1 {
		return errors.New("config: BufferSize must be greater than 0")
	}
	return nil
}

// Server publishes engine snapshots to stream subscribers and answers point
// queries against the live engine.
type Server struct {
	engine     Engine
	lock       *sync.RWMutex
	logger     Logger
	bufferSize uint
	metrics    *metrics.Metrics

	feed event.Feed

	mu       sync.Mutex
	sequence uint64
	latest   *engine.State
}

func New(cfg Config) (*Server, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &Server{
		engine:     cfg.Engine,
		lock:       cfg.Lock,
		logger:     cfg.Logger,
		bufferSize: cfg.BufferSize,
		metrics:    cfg.Metrics,
	}, nil
}

// Publish snapshots the engine, stamps the next sequence number and sends the
// state to every subscriber.
func (s *Server) Publish() *engine.State {
	s.lock.RLock()
	state := s.engine.Snapshot()
	tracked, recomputed := s.engine.InterestNumerator(), s.engine.RecomputeInterestNumerator()
	s.lock.RUnlock()

	s.metrics.RecordNumeratorDrift(tracked, recomputed)

	s.mu.Lock()
	s.sequence++
	state.Sequence = s.sequence
	s.latest = &state
	s.mu.Unlock()

	n := s.feed.Send(&state)
	s.logger.Debug("published state", "sequence", state.Sequence, "subscribers", n, "currentTick", state.Lendgine.CurrentTick)
	return &state
}

// Latest returns the last published state, or nil before the first Publish.
func (s *Server) Latest() *engine.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.latest
}

// RPCServer returns a go-ethereum RPC server with the API registered.
func (s *Server) RPCServer() (*rpc.Server, error) {
	srv := rpc.NewServer()
	if err := srv.RegisterName(RpcNamespace, &API{server: s}); err != nil {
		return nil, fmt.Errorf("failed to register API: %w", err)
	}
	return srv, nil
}

func (s *Server) snapshot() engine.State {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return s.engine.Snapshot()
}

// API is the RPC receiver. Its exported methods are served as lendgine_<method>.
type API struct {
	server *Server
}

// State returns a fresh snapshot of the engine and its pool.
func (api *API) State(ctx context.Context) (*engine.State, error) {
	state := api.server.snapshot()
	if latest := api.server.Latest(); latest != nil {
		state.Sequence = latest.Sequence
	}
	return &state, nil
}

func (api *API) Pair(ctx context.Context) (*engine.PairState, error) {
	state := api.server.snapshot()
	return &state.Pair, nil
}

func (api *API) Ticks(ctx context.Context) ([]engine.TickInfo, error) {
	state := api.server.snapshot()
	return state.Lendgine.Ticks, nil
}

func (api *API) Tick(ctx context.Context, tick uint32) (*engine.TickInfo, error) {
	state := api.server.snapshot()
	info, ok := state.Tick(tick)
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrTickNotFound, tick)
	}
	return &info, nil
}

func (api *API) Position(ctx context.Context, owner common.Address, tick uint32) (*engine.PositionInfo, error) {
	state := api.server.snapshot()
	info, ok := state.Position(owner, tick)
	if !ok {
		return nil, fmt.Errorf("%w: %s at tick %d", ErrPositionNotFound, owner, tick)
	}
	return &info, nil
}

// InterestNumeratorDrift reports the tracked numerator next to its recomputed value.
func (api *API) InterestNumeratorDrift(ctx context.Context) (*engine.NumeratorDrift, error) {
	s := api.server
	s.lock.RLock()
	defer s.lock.RUnlock()
	return &engine.NumeratorDrift{
		Tracked:    s.engine.InterestNumerator(),
		Recomputed: s.engine.RecomputeInterestNumerator(),
	}, nil
}

// SubscribeStateStream sends the latest published state, then every state
// published after it.
func (api *API) SubscribeStateStream(ctx context.Context) (*rpc.Subscription, error) {
	notifier, supported := rpc.NotifierFromContext(ctx)
	if !supported {
		return nil, rpc.ErrNotificationsUnsupported
	}

	s := api.server
	rpcSub := notifier.CreateSubscription()
	states := make(chan *engine.State, s.bufferSize)
	feedSub := s.feed.Subscribe(states)
	latest := s.Latest()

	go func() {
		defer feedSub.Unsubscribe()

		notify := func(state *engine.State) bool {
			event := &SubscriptionEvent{Type: EventTypeFull, Payload: state, SentAt: time.Now().UnixNano()}
			if err := notifier.Notify(rpcSub.ID, event); err != nil {
				s.logger.Warn("Error notifying subscriber", "id", rpcSub.ID, "error", err)
				return false
			}
			return true
		}

		if latest != nil && !notify(latest) {
			return
		}
		for {
			select {
			case state := <-states:
				if !notify(state) {
					return
				}
			case <-rpcSub.Err():
				s.logger.Debug("Subscriber left", "id", rpcSub.ID)
				return
			case <-feedSub.Err():
				return
			}
		}
	}()

	s.logger.Info("New state stream subscriber", "id", rpcSub.ID)
	return rpcSub, nil
}
