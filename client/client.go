package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	censor "github.com/phoenix4ge/censor"
	"github.com/phoenix4ge/censor/decision"
	"github.com/phoenix4ge/censor/filter"
	"github.com/phoenix4ge/censor/hooks"
	"github.com/phoenix4ge/censor/providers"
	"github.com/phoenix4ge/censor/store"
	"github.com/phoenix4ge/censor/syncer"
	"github.com/phoenix4ge/censor/threshold"
	"github.com/phoenix4ge/censor/translate"
)

// Event sources.
const (
	sourceFilter    = "filter"
	sourcePull      = "pull"
	sourcePush      = "push"
	sourceReconcile = "reconcile"
	sourceWatcher   = "watcher"
)

// Client is the main censor client.
type Client struct {
	store    store.Store
	hooks    hooks.Hooks
	pipeline *pipelineExecutor
	syncer   *syncer.Synchronizer
	engine   *decision.Engine
	opts     Options
	now      func() time.Time
	log      logrus.FieldLogger
}

// New creates a new censor client.
func New(opts Options) (*Client, error) {
	if opts.Store == nil {
		return nil, censor.ErrStoreNotConfigured
	}

	if opts.Hooks == nil {
		opts.Hooks = hooks.NopHooks{}
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.Logger == nil {
		discard := logrus.New()
		discard.SetOutput(io.Discard)
		opts.Logger = discard
	}
	if opts.Target == "" {
		opts.Target = DefaultOptions().Target
	}

	c := &Client{
		store:    opts.Store,
		hooks:    opts.Hooks,
		pipeline: newPipelineExecutor(opts.Analyzers, opts.Pipeline),
		engine:   decision.New(opts.Decision),
		opts:     opts,
		now:      opts.Clock,
		log:      opts.Logger.WithField("component", "client"),
	}
	if opts.Remote != nil {
		c.syncer = syncer.New(opts.Remote, opts.Sync,
			syncer.WithClock(opts.Clock),
			syncer.WithLogger(opts.Logger))
	}
	return c, nil
}

// Model returns the stored model for uc, or the context defaults with
// version 0 when none was saved yet.
func (c *Client) Model(ctx context.Context, uc censor.UsageContext) (*store.ModelRecord, error) {
	if !uc.Valid() {
		return nil, censor.NewConfigurationError("context", "unknown usage context "+string(uc))
	}
	rec, err := c.store.GetModel(ctx, uc)
	if errors.Is(err, censor.ErrModelNotFound) {
		return &store.ModelRecord{Context: uc, Model: threshold.DefaultModel(uc)}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load model: %w", err)
	}
	return rec, nil
}

// UpdateModel validates and stores a new model for uc.
func (c *Client) UpdateModel(ctx context.Context, uc censor.UsageContext, m threshold.Model, actor string) (*store.ModelRecord, error) {
	if !uc.Valid() {
		return nil, censor.NewConfigurationError("context", "unknown usage context "+string(uc))
	}
	if actor == "" {
		return nil, censor.NewConfigurationError("actor", "required")
	}
	return c.store.SaveModel(ctx, uc, m, actor)
}

// GrantOverride re-enables a category for uc on behalf of actor. An existing
// override for the same category is replaced.
func (c *Client) GrantOverride(ctx context.Context, uc censor.UsageContext, category, actor, reason string) (*store.ModelRecord, error) {
	if !threshold.Known(category) {
		return nil, censor.NewConfigurationError("category", "unknown category "+category)
	}
	if uc.Valid() && !threshold.Overridable(uc, category) {
		return nil, censor.NewConfigurationError("category", category+" is not suppressed for "+string(uc)+"; use its toggle")
	}
	if actor == "" {
		return nil, censor.NewConfigurationError("actor", "required")
	}
	cur, err := c.Model(ctx, uc)
	if err != nil {
		return nil, err
	}

	m := cur.Model.Clone()
	kept := m.Overrides[:0]
	for _, o := range m.Overrides {
		if o.Context != uc || o.Category != category {
			kept = append(kept, o)
		}
	}
	m.Overrides = append(kept, threshold.ProfileOverride{
		Context:   uc,
		Category:  category,
		Actor:     actor,
		Reason:    reason,
		GrantedAt: c.now(),
	})
	return c.store.SaveModel(ctx, uc, m, actor)
}

// RevokeOverride removes the override for (uc, category). It returns
// store.ErrNotFound when there is none.
func (c *Client) RevokeOverride(ctx context.Context, uc censor.UsageContext, category, actor string) (*store.ModelRecord, error) {
	if uc.Valid() && !threshold.Overridable(uc, category) {
		return nil, censor.NewConfigurationError("category", category+" is not suppressed for "+string(uc)+"; use its toggle")
	}
	if actor == "" {
		return nil, censor.NewConfigurationError("actor", "required")
	}
	cur, err := c.Model(ctx, uc)
	if err != nil {
		return nil, err
	}
	if _, ok := cur.Model.Override(uc, category); !ok {
		return nil, store.ErrNotFound
	}

	m := cur.Model.Clone()
	kept := m.Overrides[:0]
	for _, o := range m.Overrides {
		if o.Context != uc || o.Category != category {
			kept = append(kept, o)
		}
	}
	m.Overrides = kept
	return c.store.SaveModel(ctx, uc, m, actor)
}

// Moderate analyzes one image under the model of its usage context and
// decides on it.
func (c *Client) Moderate(ctx context.Context, in ModerateInput) (*ModerateResult, error) {
	if len(in.Image) == 0 && in.ImageURL == "" {
		return nil, censor.ErrNoImage
	}
	cur, err := c.Model(ctx, in.Context)
	if err != nil {
		return nil, err
	}
	model := cur.Model

	params, err := translate.ToRemote(model, in.Context)
	if err != nil {
		return nil, err
	}

	requestID := in.RequestID
	if requestID == "" {
		requestID = uuid.NewString()
	}
	req := providers.AnalyzeRequest{
		RequestID: requestID,
		Context:   in.Context,
		Image:     in.Image,
		Filename:  in.Filename,
		ImageURL:  in.ImageURL,
		Params:    params,
		Timeout:   c.opts.AnalyzeTimeout,
	}

	judge := func(a providers.Analysis) censor.ModerationStatus {
		retained, err := filter.Filter(a.Records, in.Context, model)
		if err != nil {
			return censor.StatusFlaggedForReview
		}
		return c.engine.Assess(decision.Input{Context: in.Context, Retained: retained, Signals: a.Signals}).Status
	}

	pr, err := c.pipeline.execute(ctx, req, judge)
	if err != nil {
		return nil, fmt.Errorf("failed to analyze image: %w", err)
	}
	entry := c.log.WithFields(logrus.Fields{"request_id": requestID, "context": in.Context})
	if pr.primaryErr != nil {
		entry.WithError(pr.primaryErr).Warn("primary analyzer failed; used secondary")
	}
	if pr.secondaryErr != nil {
		entry.WithError(pr.secondaryErr).Warn("secondary analyzer failed; primary result kept")
	}

	a := pr.analysis
	retained, err := filter.Filter(a.Records, in.Context, model)
	if err != nil {
		return nil, err
	}

	result := &ModerateResult{
		RequestID:    requestID,
		Context:      in.Context,
		Providers:    pr.providers,
		Retained:     retained,
		Dropped:      len(a.Records) - len(retained),
		Signals:      a.Signals,
		Unknown:      filter.UnknownCategories(a.Records, model),
		Overrides:    model.ActiveOverrides(in.Context),
		ModelVersion: cur.Version,
	}
	result.Assessment = c.engine.Assess(decision.Input{
		Context:  in.Context,
		Retained: retained,
		Signals:  a.Signals,
		Disabled: disabledCategories(model, in.Context),
	})

	now := c.now()
	if len(result.Unknown) > 0 {
		c.emit("unknown_category", c.hooks.OnUnknownCategory(ctx, hooks.UnknownCategoryEvent{
			Context:    in.Context,
			Categories: result.Unknown,
			Source:     sourceFilter,
			Timestamp:  now,
		}))
	}
	for _, o := range result.Overrides {
		c.emit("profile_override", c.hooks.OnProfileOverride(ctx, hooks.ProfileOverrideEvent{
			Context:   in.Context,
			Override:  o,
			RequestID: requestID,
			Timestamp: now,
		}))
	}

	if c.opts.RecordModerations {
		rec := store.ModerationRecord{
			RequestID:     requestID,
			Provider:      pr.provider(),
			Context:       in.Context,
			ConfigVersion: a.ConfigVersion,
			Retained:      retained,
			Dropped:       result.Dropped,
			Assessment:    result.Assessment,
			CreatedAt:     now,
		}
		if err := c.store.SaveModeration(ctx, rec); err != nil {
			entry.WithError(err).Error("failed to save moderation record")
		}
	}

	c.emit("moderated", c.hooks.OnModerated(ctx, hooks.ModeratedEvent{
		RequestID:  requestID,
		Provider:   pr.provider(),
		Context:    in.Context,
		Assessment: result.Assessment,
		Retained:   len(retained),
		Dropped:    result.Dropped,
		Timestamp:  now,
	}))
	return result, nil
}

// Moderation returns the stored record of a moderated image.
func (c *Client) Moderation(ctx context.Context, requestID string) (*store.ModerationRecord, error) {
	return c.store.GetModeration(ctx, requestID)
}

// Push applies the local model of uc to the remote analyzer.
func (c *Client) Push(ctx context.Context, uc censor.UsageContext) (*syncer.Outcome, error) {
	return c.push(ctx, uc, sourcePush)
}

// Pull fetches the remote configuration of uc. The outcome carries the
// recommended model and the drift against the local model; nothing is
// stored until AcceptRecommendation.
func (c *Client) Pull(ctx context.Context, uc censor.UsageContext) (*syncer.Outcome, error) {
	return c.pull(ctx, uc, sourcePull)
}

// ReconcileResult is the outcome of a Reconcile.
type ReconcileResult struct {
	Pull *syncer.Outcome

	// Push is set when drift was found and the local model was pushed.
	Push *syncer.Outcome
}

// Drift returns the drift the pull found.
func (r *ReconcileResult) Drift() []censor.DriftReport {
	if r == nil || r.Pull == nil {
		return nil
	}
	return r.Pull.Drift
}

// Reconcile compares the remote configuration of uc with the local model and
// pushes the local model when they diverge. The local model is the source of
// truth.
func (c *Client) Reconcile(ctx context.Context, uc censor.UsageContext) (*ReconcileResult, error) {
	return c.reconcile(ctx, uc, sourceReconcile, true)
}

func (c *Client) reconcile(ctx context.Context, uc censor.UsageContext, source string, push bool) (*ReconcileResult, error) {
	pulled, err := c.pull(ctx, uc, source)
	res := &ReconcileResult{Pull: pulled}
	if err != nil || !push || len(pulled.Drift) == 0 {
		return res, err
	}
	res.Push, err = c.push(ctx, uc, source)
	return res, err
}

// AcceptRecommendation stores the model a pull recovered as the local model
// of uc. Local overrides are kept: the remote cannot carry who granted them.
func (c *Client) AcceptRecommendation(ctx context.Context, uc censor.UsageContext, out *syncer.Outcome, actor string) (*store.ModelRecord, error) {
	if out == nil || out.Direction != censor.DirectionPull || out.Recommended == nil {
		return nil, censor.NewConfigurationError("outcome", "not a pull with a recommendation")
	}
	if out.Context != uc {
		return nil, censor.NewConfigurationError("context",
			fmt.Sprintf("recommendation is for %s, not %s", out.Context, uc))
	}
	if uc.Valid() && !threshold.Overridable(uc, category) {
		return nil, censor.NewConfigurationError("category", category+" is not suppressed for "+string(uc)+"; use its toggle")
	}
	if actor == "" {
		return nil, censor.NewConfigurationError("actor", "required")
	}
	cur, err := c.Model(ctx, uc)
	if err != nil {
		return nil, err
	}

	m := out.Recommended.Clone()
	m.Overrides = cur.Model.Clone().Overrides
	return c.store.SaveModel(ctx, uc, m, actor)
}

// SyncHistory lists the recorded synchronizations, newest first.
func (c *Client) SyncHistory(ctx context.Context, filter store.SyncFilter) ([]store.SyncRecord, error) {
	return c.store.ListSyncRecords(ctx, filter)
}

// Ping checks the store.
func (c *Client) Ping(ctx context.Context) error {
	return c.store.Ping(ctx)
}

func (c *Client) push(ctx context.Context, uc censor.UsageContext, source string) (*syncer.Outcome, error) {
	if c.syncer == nil {
		return nil, censor.ErrRemoteNotFound
	}
	cur, err := c.Model(ctx, uc)
	if err != nil {
		return nil, err
	}

	out, err := c.syncer.Push(ctx, c.opts.Target, uc, cur.Model)
	c.recordSync(ctx, out)
	if len(out.Drift) > 0 {
		c.emitDrift(ctx, out, source)
	}
	if out.Succeeded() {
		for _, o := range cur.Model.ActiveOverrides(uc) {
			c.emit("profile_override", c.hooks.OnProfileOverride(ctx, hooks.ProfileOverrideEvent{
				Context:   uc,
				Override:  o,
				Timestamp: out.FinishedAt,
			}))
		}
	}
	return out, err
}

func (c *Client) pull(ctx context.Context, uc censor.UsageContext, source string) (*syncer.Outcome, error) {
	if c.syncer == nil {
		return nil, censor.ErrRemoteNotFound
	}
	cur, err := c.Model(ctx, uc)
	if err != nil {
		return nil, err
	}

	out, err := c.syncer.Sync(ctx, syncer.Request{
		Direction: censor.DirectionPull,
		Target:    c.opts.Target,
		Context:   uc,
		Local:     &cur.Model,
	})
	c.recordSync(ctx, out)
	if len(out.Drift) > 0 {
		c.emitDrift(ctx, out, source)
	}
	if out.Previous != nil {
		if unknown := translate.UnknownRemoteCategories(*out.Previous); len(unknown) > 0 {
			c.emit("unknown_category", c.hooks.OnUnknownCategory(ctx, hooks.UnknownCategoryEvent{
				Context:    uc,
				Categories: unknown,
				Source:     source,
				Timestamp:  out.FinishedAt,
			}))
		}
	}
	return out, err
}

// recordSync stores the audit record and emits OnSyncCompleted.
func (c *Client) recordSync(ctx context.Context, out *syncer.Outcome) {
	errMsg := ""
	if out.Err != nil {
		errMsg = out.Err.Error()
	}

	rec := store.SyncRecord{
		ID:         out.ID,
		Direction:  out.Direction,
		Target:     out.Target,
		Context:    out.Context,
		Status:     out.Status,
		Attempts:   out.Attempts,
		RolledBack: out.RolledBack,
		Drift:      out.Drift,
		Error:      errMsg,
		StartedAt:  out.StartedAt,
		FinishedAt: out.FinishedAt,
	}
	// The caller's context may be the reason the sync failed; the audit
	// record is written regardless.
	if err := c.store.SaveSyncRecord(context.WithoutCancel(ctx), rec); err != nil {
		c.log.WithError(err).WithField("sync_id", out.ID).Error("failed to save sync record")
	}

	c.emit("sync_completed", c.hooks.OnSyncCompleted(ctx, hooks.SyncCompletedEvent{
		SyncID:     out.ID,
		Direction:  out.Direction,
		Target:     out.Target,
		Context:    out.Context,
		Status:     out.Status,
		Attempts:   out.Attempts,
		RolledBack: out.RolledBack,
		DriftCount: len(out.Drift),
		Error:      errMsg,
		Duration:   out.Duration(),
		Timestamp:  out.FinishedAt,
	}))
}

func (c *Client) emitDrift(ctx context.Context, out *syncer.Outcome, source string) {
	c.emit("drift_detected", c.hooks.OnDriftDetected(ctx, hooks.DriftDetectedEvent{
		Target:    out.Target,
		Context:   out.Context,
		Reports:   out.Drift,
		Source:    source,
		Timestamp: out.FinishedAt,
	}))
}

// emit logs a failed hook. Hook failures never fail the operation.
func (c *Client) emit(event string, err error) {
	if err != nil {
		c.log.WithError(err).WithField("event", event).Warn("hook failed")
	}
}

// disabledCategories lists the registry categories switched off for uc.
func disabledCategories(m threshold.Model, uc censor.UsageContext) []string {
	var out []string
	for _, cat := range threshold.Categories() {
		if !m.Enabled(uc, cat.Name) {
			out = append(out, cat.Name)
		}
	}
	return out
}
