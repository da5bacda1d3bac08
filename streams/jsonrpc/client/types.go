package client

import (
	"context"

	"github.com/defistate/lendgine-go/engine"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rpc"
)

// Reader issues typed point queries against a lendgine RPC endpoint.
type Reader struct {
	rpc *rpc.Client
}

// NewReader wraps an already dialed RPC client.
func NewReader(c *rpc.Client) *Reader {
	return &Reader{rpc: c}
}

// DialReader connects to url and returns a Reader over the connection.
func DialReader(ctx context.Context, url string) (*Reader, error) {
	c, err := rpc.DialContext(ctx, url)
	if err != nil {
		return nil, err
	}
	return NewReader(c), nil
}

func (r *Reader) Close() { r.rpc.Close() }

func (r *Reader) State(ctx context.Context) (*engine.State, error) {
	var state engine.State
	if err := r.rpc.CallContext(ctx, &state, RpcNamespace+"_state"); err != nil {
		return nil, err
	}
	return &state, nil
}

func (r *Reader) Pair(ctx context.Context) (*engine.PairState, error) {
	var pair engine.PairState
	if err := r.rpc.CallContext(ctx, &pair, RpcNamespace+"_pair"); err != nil {
		return nil, err
	}
	return &pair, nil
}

func (r *Reader) Ticks(ctx context.Context) ([]engine.TickInfo, error) {
	var ticks []engine.TickInfo
	if err := r.rpc.CallContext(ctx, &ticks, RpcNamespace+"_ticks"); err != nil {
		return nil, err
	}
	return ticks, nil
}

func (r *Reader) Tick(ctx context.Context, tick uint32) (*engine.TickInfo, error) {
	var info engine.TickInfo
	if err := r.rpc.CallContext(ctx, &info, RpcNamespace+"_tick", tick); err != nil {
		return nil, err
	}
	return &info, nil
}

func (r *Reader) Position(ctx context.Context, owner common.Address, tick uint32) (*engine.PositionInfo, error) {
	var info engine.PositionInfo
	if err := r.rpc.CallContext(ctx, &info, RpcNamespace+"_position", owner, tick); err != nil {
		return nil, err
	}
	return &info, nil
}

func (r *Reader) InterestNumeratorDrift(ctx context.Context) (*engine.NumeratorDrift, error) {
	var drift engine.NumeratorDrift
	if err := r.rpc.CallContext(ctx, &drift, RpcNamespace+"_interestNumeratorDrift"); err != nil {
		return nil, err
	}
	return &drift, nil
}
