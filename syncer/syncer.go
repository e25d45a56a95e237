// Package syncer reconciles the local threshold model with the remote
// analyzer's configuration, in either direction.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	censor "github.com/phoenix4ge/censor"
	"github.com/phoenix4ge/censor/drift"
	"github.com/phoenix4ge/censor/threshold"
	"github.com/phoenix4ge/censor/translate"
	"github.com/phoenix4ge/censor/utils"
)

// Config configures a Synchronizer.
type Config struct {
	// MaxRetries bounds retries of one remote call. Only transient errors
	// are retried.
	MaxRetries    int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	JitterPercent uint64

	// AttemptTimeout bounds every single Fetch or Apply call. A timed-out
	// attempt is a transient failure.
	AttemptTimeout time.Duration

	// NonAtomic marks remotes whose Apply can leave a partial write behind.
	// A failed push is then rolled back to the snapshot fetched before it.
	NonAtomic bool

	// RollbackTimeout bounds the rollback, which runs even when the push's
	// context was canceled.
	RollbackTimeout time.Duration
}

// DefaultConfig returns sensible defaults for synchronization.
func DefaultConfig() Config {
	return Config{
		MaxRetries:      censor.DefaultMaxRetries,
		InitialDelay:    200 * time.Millisecond,
		MaxDelay:        5 * time.Second,
		JitterPercent:   10,
		AttemptTimeout:  10 * time.Second,
		RollbackTimeout: 30 * time.Second,
	}
}

// Option configures a Synchronizer.
type Option func(*Synchronizer)

// WithClock sets the clock used for outcome timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Synchronizer) {
		s.now = now
	}
}

// WithIDGenerator sets the generator for outcome IDs.
func WithIDGenerator(gen func() string) Option {
	return func(s *Synchronizer) {
		s.newID = gen
	}
}

// WithLogger sets the logger for retry and rollback messages.
func WithLogger(l logrus.FieldLogger) Option {
	return func(s *Synchronizer) {
		s.log = l
	}
}

// Synchronizer pushes local configuration to the remote analyzer or pulls
// the remote configuration as a recommended local update. It is safe for
// concurrent use; pushes to the same target run one at a time.
type Synchronizer struct {
	remote Remote
	config Config
	locks  *targetLocks
	now    func() time.Time
	newID  func() string
	log    logrus.FieldLogger
}

// New creates a Synchronizer for remote.
func New(remote Remote, config Config, opts ...Option) *Synchronizer {
	if config.AttemptTimeout <= 0 {
		config.AttemptTimeout = DefaultConfig().AttemptTimeout
	}
	if config.RollbackTimeout <= 0 {
		config.RollbackTimeout = DefaultConfig().RollbackTimeout
	}
	if config.MaxRetries < 0 {
		config.MaxRetries = 0
	}

	discard := logrus.New()
	discard.SetOutput(io.Discard)

	s := &Synchronizer{
		remote: remote,
		config: config,
		locks:  newTargetLocks(),
		now:    time.Now,
		newID:  uuid.NewString,
		log:    discard,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Request describes one synchronization.
type Request struct {
	Direction censor.Direction
	Target    string
	Context   censor.UsageContext

	// Local is required for push. For pull it is optional and, when set,
	// the outcome carries the drift between it and the fetched snapshot.
	Local *threshold.Model
}

// Sync runs req and returns its outcome. The returned error is the outcome's
// Err; the outcome is never nil.
func (s *Synchronizer) Sync(ctx context.Context, req Request) (*Outcome, error) {
	out := &Outcome{
		ID:        s.newID(),
		Direction: req.Direction,
		Target:    req.Target,
		Context:   req.Context,
		StartedAt: s.now(),
	}

	switch req.Direction {
	case censor.DirectionPush:
		if req.Local == nil {
			s.finish(out, censor.NewConfigurationError("local", "push requires a local model"))
		} else {
			s.push(ctx, *req.Local, out)
		}
	case censor.DirectionPull:
		s.pull(ctx, req.Local, out)
	default:
		s.finish(out, censor.NewConfigurationError("direction", fmt.Sprintf("unknown direction %q", req.Direction)))
	}
	return out, out.Err
}

// Push applies local to target for uc.
func (s *Synchronizer) Push(ctx context.Context, target string, uc censor.UsageContext, local threshold.Model) (*Outcome, error) {
	return s.Sync(ctx, Request{Direction: censor.DirectionPush, Target: target, Context: uc, Local: &local})
}

// Pull fetches target's configuration for uc and returns it as a recommended
// local model. It never writes anywhere.
func (s *Synchronizer) Pull(ctx context.Context, target string, uc censor.UsageContext) (*Outcome, error) {
	return s.Sync(ctx, Request{Direction: censor.DirectionPull, Target: target, Context: uc})
}

func (s *Synchronizer) push(ctx context.Context, local threshold.Model, out *Outcome) {
	if !out.Context.Valid() {
		s.finish(out, censor.NewConfigurationError("context", "unknown usage context "+string(out.Context)))
		return
	}
	if err := local.Validate(); err != nil {
		s.finish(out, err)
		return
	}

	release, err := s.locks.acquire(ctx, out.Target)
	if err != nil {
		s.finish(out, err)
		return
	}
	defer release()

	// The snapshot before the push is both the rollback buffer and the
	// keyword baseline the translation must not shrink.
	prev, _, err := s.fetch(ctx, out.Target, out.Context)
	if err != nil {
		s.finish(out, err)
		return
	}
	out.Previous = &prev

	desired, err := translate.ToRemote(local, out.Context, translate.WithBaselineKeywords(prev.ChildSafetyKeywords()))
	if err != nil {
		s.finish(out, err)
		return
	}

	attempts, err := s.apply(ctx, out.Target, desired)
	out.Attempts = attempts
	if err != nil {
		s.rollback(ctx, out)
		s.finish(out, err)
		return
	}

	after, _, err := s.fetch(ctx, out.Target, out.Context)
	if err != nil {
		s.finish(out, fmt.Errorf("censor: verify push to %s: %w", out.Target, err))
		return
	}
	if reports := drift.Compare(desired, after); len(reports) > 0 {
		out.Drift = reports
		s.rollback(ctx, out)
		s.finish(out, &censor.DriftUnresolvedError{Target: out.Target, Reports: reports})
		return
	}

	out.Applied = &desired
	s.finish(out, nil)
}

func (s *Synchronizer) pull(ctx context.Context, local *threshold.Model, out *Outcome) {
	if !out.Context.Valid() {
		s.finish(out, censor.NewConfigurationError("context", "unknown usage context "+string(out.Context)))
		return
	}

	fetched, attempts, err := s.fetch(ctx, out.Target, out.Context)
	out.Attempts = attempts
	if err != nil {
		s.finish(out, err)
		return
	}
	out.Previous = &fetched

	rec := translate.FromRemote(fetched)
	out.Recommended = &rec
	if unknown := translate.UnknownRemoteCategories(fetched); len(unknown) > 0 {
		s.log.WithFields(logrus.Fields{"target": out.Target, "categories": unknown}).
			Warn("remote carries categories unknown to the registry; dropped from recommendation")
	}

	if local != nil {
		reports, err := drift.DetectFor(*local, out.Context, fetched)
		if err != nil {
			s.finish(out, err)
			return
		}
		out.Drift = reports
	}
	s.finish(out, nil)
}

// rollback re-applies the pre-push snapshot on non-atomic remotes. It runs
// detached from ctx so a canceled push does not leave a partial write.
func (s *Synchronizer) rollback(ctx context.Context, out *Outcome) {
	if !s.config.NonAtomic || out.Previous == nil || out.Previous.IsZero() {
		return
	}
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.config.RollbackTimeout)
	defer cancel()

	_, err := s.apply(rctx, out.Target, *out.Previous)
	if err != nil {
		out.RollbackErr = err
		s.log.WithFields(logrus.Fields{"target": out.Target, "sync_id": out.ID}).
			WithError(err).Error("rollback to previous configuration failed")
		return
	}
	out.RolledBack = true
	s.log.WithFields(logrus.Fields{"target": out.Target, "sync_id": out.ID}).
		Warn("push failed; previous configuration restored")
}

func (s *Synchronizer) fetch(ctx context.Context, target string, uc censor.UsageContext) (translate.RemoteParameterSet, int, error) {
	res, err := utils.DoWithResult(ctx, s.retryer(target, "fetch"), func(ctx context.Context) (translate.RemoteParameterSet, error) {
		actx, cancel := context.WithTimeout(ctx, s.config.AttemptTimeout)
		defer cancel()
		p, err := s.remote.Fetch(actx, target, uc)
		return p, s.classify(ctx, actx, target, "fetch", err)
	})
	return res.Value, res.Attempts, s.final(ctx, res.LastError(), err)
}

func (s *Synchronizer) apply(ctx context.Context, target string, params translate.RemoteParameterSet) (int, error) {
	res, err := utils.DoWithResult(ctx, s.retryer(target, "apply"), func(ctx context.Context) (struct{}, error) {
		actx, cancel := context.WithTimeout(ctx, s.config.AttemptTimeout)
		defer cancel()
		return struct{}{}, s.classify(ctx, actx, target, "apply", s.remote.Apply(actx, target, params))
	})
	return res.Attempts, s.final(ctx, res.LastError(), err)
}

func (s *Synchronizer) retryer(target, op string) *utils.Retryer {
	return utils.NewRetryer(utils.RetryConfig{
		MaxRetries:    s.config.MaxRetries,
		InitialDelay:  s.config.InitialDelay,
		MaxDelay:      s.config.MaxDelay,
		JitterPercent: s.config.JitterPercent,
		RetryIf:       censor.IsTransient,
		OnRetry: func(attempt int, err error, delay time.Duration) {
			s.log.WithFields(logrus.Fields{
				"target":  target,
				"op":      op,
				"attempt": attempt,
				"delay":   delay,
			}).WithError(err).Warn("transient remote error, retrying")
		},
	})
}

// classify turns an attempt that ran out of its own deadline into a
// transient error. A done parent context is returned as is and stops the
// retry loop.
func (s *Synchronizer) classify(parent, attempt context.Context, target, op string, err error) error {
	if err == nil {
		return nil
	}
	if parent.Err() != nil {
		return parent.Err()
	}
	if censor.IsTransient(err) {
		return err
	}
	if errors.Is(attempt.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return censor.NewTransientRemoteError(target, op, fmt.Errorf("%w: %v", censor.ErrTimeout, err))
	}
	return err
}

// final prefers the last remote error over a bare context error so the
// outcome says what actually failed.
func (s *Synchronizer) final(ctx context.Context, last, err error) error {
	if err == nil {
		return nil
	}
	if ctx.Err() != nil && last != nil && !errors.Is(last, ctx.Err()) {
		return fmt.Errorf("%w (last error: %v)", ctx.Err(), last)
	}
	return err
}

func (s *Synchronizer) finish(out *Outcome, err error) {
	out.Err = err
	out.FinishedAt = s.now()
	if err != nil {
		out.Status = censor.SyncFailed
		return
	}
	out.Status = censor.SyncSucceeded
}
