package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/defistate/lendgine-go/engine"
	"github.com/ethereum/go-ethereum/rpc"
)

// Constants for reconnection logic
const (
	initialReconnectDelay = 1 * time.Second
	maxReconnectDelay     = 30 * time.Second

	// RpcNamespace is the namespace under which the server API is registered.
	RpcNamespace                  = "lendgine"
	StateStreamSubscriptionMethod = "subscribeStateStream"
)

// Logger defines a standard interface for structured, leveled logging.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Config holds the configuration for the client.
type Config struct {
	URL        string
	Logger     Logger
	BufferSize uint
}

// validate checks if the configuration is valid.
func (c *Config) validate() error {
	if c.URL == "" {
		return errors.New("config: URL is required")
	}
	if c.BufferSize < 1 {
		return errors.New("config: BufferSize must be greater than 0")
	}
	if c.Logger == nil {
		return errors.New("config: Logger is required")
	}
	return nil
}

// SubscriptionEvent is the wrapper object received from the server.
type SubscriptionEvent struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
	SentAt  int64           `json:"sentAt"`
}

// -----------------------------------------------------------------------------
// StreamProcessor
// -----------------------------------------------------------------------------

// StreamProcessor parses events, keeps the latest state and broadcasts updates.
// It is decoupled from the networking layer.
type StreamProcessor struct {
	lastState *engine.State
	stateCh   chan *engine.State
	logger    Logger
}

// NewStreamProcessor creates a pure logic processor without networking.
func NewStreamProcessor(logger Logger, bufferSize uint) *StreamProcessor {
	return &StreamProcessor{
		logger:  logger,
		stateCh: make(chan *engine.State, bufferSize),
	}
}

// State returns a read-only channel for receiving new states.
func (sp *StreamProcessor) State() <-chan *engine.State {
	return sp.stateCh
}

// Last returns the most recently accepted state.
func (sp *StreamProcessor) Last() *engine.State {
	return sp.lastState
}

// ProcessMessage accepts a raw JSON message, processes it, and updates the
// internal state.
func (sp *StreamProcessor) ProcessMessage(rawData json.RawMessage) error {
	processingStart := time.Now()
	var event SubscriptionEvent

	if err := json.Unmarshal(rawData, &event); err != nil {
		return fmt.Errorf("failed to unmarshal subscription event: %w", err)
	}

	switch event.Type {
	case "full":
		return sp.handleFullState(event, processingStart)
	default:
		return fmt.Errorf("received unknown event type: %s", event.Type)
	}
}

func (sp *StreamProcessor) handleFullState(event SubscriptionEvent, start time.Time) error {
	var state engine.State
	if err := json.Unmarshal(event.Payload, &state); err != nil {
		return fmt.Errorf("failed to unmarshal full state payload: %w", err)
	}
	if state.Schema != engine.StateSchema {
		return fmt.Errorf("unsupported state schema %q", state.Schema)
	}

	if sp.lastState != nil && state.Sequence <= sp.lastState.Sequence {
		sp.logger.Warn(
			"Received stale state; discarding.",
			"last_known_sequence", sp.lastState.Sequence,
			"sequence", state.Sequence,
		)
		return nil // Non-fatal, just ignored
	}

	sp.logMetrics(&state, time.Since(start), event.SentAt)

	sp.lastState = &state
	sp.stateCh <- &state
	return nil
}

func (sp *StreamProcessor) logMetrics(state *engine.State, processingDur time.Duration, sentAt int64) {
	clientFinishTime := time.Now()
	clientStartTime := clientFinishTime.Add(-processingDur)
	transportTime := clientStartTime.Sub(time.Unix(0, sentAt))

	sp.logger.Debug("State Processed",
		"sequence", state.Sequence,
		"timestamp", state.Timestamp,
		"current_tick", state.Lendgine.CurrentTick,
		"ticks", len(state.Lendgine.Ticks),
		"positions", len(state.Lendgine.Positions),
		"errors", state.HasErrors(),
		"latency_transport_ms", transportTime.Milliseconds(),
		"latency_proc_ms", processingDur.Milliseconds(),
	)
}

// -----------------------------------------------------------------------------
// Client (Networking Wrapper)
// -----------------------------------------------------------------------------

// Client manages the connection and uses StreamProcessor for logic.
type Client struct {
	processor *StreamProcessor
	errCh     chan error
	logger    Logger
}

// NewClient creates a new client with networking enabled.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	client := &Client{
		processor: NewStreamProcessor(cfg.Logger, cfg.BufferSize),
		errCh:     make(chan error, 1),
		logger:    cfg.Logger,
	}

	go client.run(ctx, cfg.URL)
	return client, nil
}

// State delegates to the processor's state channel.
func (c *Client) State() <-chan *engine.State {
	return c.processor.State()
}

// Err returns a read-only channel for receiving fatal (unrecoverable) errors.
func (c *Client) Err() <-chan error {
	return c.errCh
}

// run handles the networking lifecycle and feeds data to the processor.
func (c *Client) run(ctx context.Context, url string) {
	defer close(c.errCh)
	reconnectDelay := initialReconnectDelay

	for {
		if ctx.Err() != nil {
			c.logger.Info("Client context canceled, shutting down.")
			return
		}

		c.logger.Info("Attempting to connect to RPC server", "url", url)
		rpcClient, err := rpc.DialContext(ctx, url)
		if err != nil {
			c.logger.Error("Failed to connect to RPC server, will retry...", "error", err, "delay", reconnectDelay)
			if !sleep(ctx, reconnectDelay) {
				return
			}
			reconnectDelay = min(reconnectDelay*2, maxReconnectDelay)
			continue
		}

		c.logger.Info("Successfully connected to RPC server.")
		reconnectDelay = initialReconnectDelay

		err = c.subscribeAndProcess(ctx, rpcClient)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				c.logger.Info("Context canceled, shutting down.")
				return
			}
			c.logger.Error("Subscription failed, will reconnect...", "error", err, "delay", reconnectDelay)
			if !sleep(ctx, reconnectDelay) {
				return
			}
			reconnectDelay = min(reconnectDelay*2, maxReconnectDelay)
		}
	}
}

func (c *Client) subscribeAndProcess(ctx context.Context, rpcClient *rpc.Client) error {
	defer rpcClient.Close()

	rawCh := make(chan json.RawMessage)
	sub, err := rpcClient.Subscribe(ctx, RpcNamespace, rawCh, StateStreamSubscriptionMethod)
	if err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}
	defer sub.Unsubscribe()

	c.logger.Info("Successfully subscribed. Waiting for data...")
	for {
		select {
		case rawData := <-rawCh:
			if err := c.processor.ProcessMessage(rawData); err != nil {
				c.logger.Error("Error processing message", "error", err)
			}
		case err := <-sub.Err():
			return err
		case <-ctx.Done():
			c.logger.Info("Context cancelled, stopping subscription.")
			return ctx.Err()
		}
	}
}

// sleep waits for d and reports whether ctx is still live.
func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
