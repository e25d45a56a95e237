package syncer

import (
	"context"
	"sync"

	censor "github.com/phoenix4ge/censor"
	"github.com/phoenix4ge/censor/translate"
)

// Remote is the analyzer's configuration API. Implementations should return
// *censor.TransientRemoteError for network and timeout failures and
// *censor.RemoteRejectionError when the analyzer refuses a configuration.
//
// Apply must be idempotent: it may be retried after a canceled or timed-out
// attempt.
type Remote interface {
	Fetch(ctx context.Context, target string, uc censor.UsageContext) (translate.RemoteParameterSet, error)
	Apply(ctx context.Context, target string, params translate.RemoteParameterSet) error
}

// RemoteFuncs adapts plain functions to Remote.
type RemoteFuncs struct {
	FetchFunc func(ctx context.Context, target string, uc censor.UsageContext) (translate.RemoteParameterSet, error)
	ApplyFunc func(ctx context.Context, target string, params translate.RemoteParameterSet) error
}

// Fetch calls FetchFunc.
func (f RemoteFuncs) Fetch(ctx context.Context, target string, uc censor.UsageContext) (translate.RemoteParameterSet, error) {
	if f.FetchFunc == nil {
		return translate.RemoteParameterSet{}, censor.ErrRemoteNotFound
	}
	return f.FetchFunc(ctx, target, uc)
}

// Apply calls ApplyFunc.
func (f RemoteFuncs) Apply(ctx context.Context, target string, params translate.RemoteParameterSet) error {
	if f.ApplyFunc == nil {
		return censor.ErrRemoteNotFound
	}
	return f.ApplyFunc(ctx, target, params)
}

var _ Remote = RemoteFuncs{}

// targetLocks serializes pushes per remote target. A waiting push gives up
// when its context is done.
type targetLocks struct {
	mu    sync.Mutex
	locks map[string]chan struct{}
}

func newTargetLocks() *targetLocks {
	return &targetLocks{locks: make(map[string]chan struct{})}
}

func (l *targetLocks) acquire(ctx context.Context, target string) (func(), error) {
	l.mu.Lock()
	sem, ok := l.locks[target]
	if !ok {
		sem = make(chan struct{}, 1)
		l.locks[target] = sem
	}
	l.mu.Unlock()

	select {
	case sem <- struct{}{}:
		return func() { <-sem }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
