package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	censor "github.com/phoenix4ge/censor"
	"github.com/phoenix4ge/censor/threshold"
	"github.com/phoenix4ge/censor/translate"
)

var fixedTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func testConfig() Config {
	return Config{
		MaxRetries:      3,
		InitialDelay:    time.Millisecond,
		MaxDelay:        5 * time.Millisecond,
		AttemptTimeout:  time.Second,
		RollbackTimeout: time.Second,
	}
}

func newTestSynchronizer(r Remote, cfg Config) *Synchronizer {
	return New(r, cfg,
		WithClock(func() time.Time { return fixedTime }),
		WithIDGenerator(func() string { return "sync-1" }),
	)
}

func testModel() threshold.Model {
	return threshold.Model{
		Toggles: map[string]bool{
			censor.CategoryBreast:    true,
			censor.CategoryGenitalia: true,
			censor.CategoryFace:      true,
		},
		Thresholds: map[string]float64{
			censor.CategoryBreast:    0.7,
			censor.CategoryGenitalia: 0.8,
			censor.CategoryFace:      0.5,
		},
		ChildSafety: threshold.ChildSafety{Keywords: []string{"child"}, RiskMultiplier: 2},
	}
}

func mustToRemote(t *testing.T, m threshold.Model, uc censor.UsageContext) translate.RemoteParameterSet {
	t.Helper()
	p, err := translate.ToRemote(m, uc)
	if err != nil {
		t.Fatalf("ToRemote() error = %v", err)
	}
	return p
}

// editParams returns a copy of p with its wire form changed by edit.
func editParams(t *testing.T, p translate.RemoteParameterSet, edit func(w map[string]any)) translate.RemoteParameterSet {
	t.Helper()
	data, _ := json.Marshal(p)
	var w map[string]any
	_ = json.Unmarshal(data, &w)
	edit(w)
	data, _ = json.Marshal(w)
	var out translate.RemoteParameterSet
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	return out
}

// fakeRemote is an in-memory remote. applyErrs and fetchErrs are consumed
// one per call; store decides what a successful Apply persists.
type fakeRemote struct {
	mu         sync.Mutex
	state      map[string]translate.RemoteParameterSet
	applyErrs  []error
	fetchErrs  []error
	applyCalls int
	fetchCalls int
	store      func(p translate.RemoteParameterSet) translate.RemoteParameterSet
	onApply    func(ctx context.Context, call int) error

	inFlight    int
	maxInFlight int
	applyDelay  time.Duration
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{state: map[string]translate.RemoteParameterSet{}}
}

func (f *fakeRemote) Fetch(ctx context.Context, target string, uc censor.UsageContext) (translate.RemoteParameterSet, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetchCalls++
	if len(f.fetchErrs) > 0 {
		err := f.fetchErrs[0]
		f.fetchErrs = f.fetchErrs[1:]
		if err != nil {
			return translate.RemoteParameterSet{}, err
		}
	}
	return f.state[target], nil
}

func (f *fakeRemote) Apply(ctx context.Context, target string, p translate.RemoteParameterSet) error {
	f.mu.Lock()
	f.applyCalls++
	call := f.applyCalls
	f.inFlight++
	if f.inFlight > f.maxInFlight {
		f.maxInFlight = f.inFlight
	}
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		f.inFlight--
		f.mu.Unlock()
	}()

	if f.applyDelay > 0 {
		time.Sleep(f.applyDelay)
	}
	if f.onApply != nil {
		if err := f.onApply(ctx, call); err != nil {
			return err
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.applyErrs) > 0 {
		err := f.applyErrs[0]
		f.applyErrs = f.applyErrs[1:]
		if err != nil {
			return err
		}
	}
	if f.store != nil {
		p = f.store(p)
	}
	f.state[target] = p
	return nil
}

func transient() error {
	return censor.NewTransientRemoteError("analyzer", "apply", censor.ErrConnectionRefused)
}

func TestPush_Succeeds(t *testing.T) {
	remote := newFakeRemote()
	s := newTestSynchronizer(remote, testConfig())

	out, err := s.Push(context.Background(), "analyzer", censor.ContextPublicSite, testModel())
	if err != nil {
		t.Fatalf("Push() error = %v", err)
	}
	if !out.Succeeded() || out.Attempts != 1 {
		t.Errorf("outcome = %s after %d attempts, want succeeded after 1", out.Status, out.Attempts)
	}
	if out.ID != "sync-1" || !out.StartedAt.Equal(fixedTime) || !out.FinishedAt.Equal(fixedTime) {
		t.Errorf("outcome metadata = %q %v %v", out.ID, out.StartedAt, out.FinishedAt)
	}
	if out.Applied == nil || !reflect.DeepEqual(remote.state["analyzer"], *out.Applied) {
		t.Errorf("remote state = %+v, want applied %+v", remote.state["analyzer"], out.Applied)
	}
	if out.Previous == nil || !out.Previous.IsZero() {
		t.Errorf("Previous = %+v, want the empty pre-push snapshot", out.Previous)
	}
	if out.Direction != censor.DirectionPush || out.Target != "analyzer" || out.Context != censor.ContextPublicSite {
		t.Errorf("outcome identity = %s %s %s", out.Direction, out.Target, out.Context)
	}
}

func TestPush_RetriesTransientFailures(t *testing.T) {
	remote := newFakeRemote()
	prev := mustToRemote(t, threshold.DefaultModel(censor.ContextPublicSite), censor.ContextPublicSite)
	remote.state["analyzer"] = prev
	remote.applyErrs = []error{transient(), transient(), transient()}

	local := testModel()
	before := local.Clone()

	// Until the remote acknowledges, nothing may have changed on either side.
	remote.onApply = func(ctx context.Context, call int) error {
		if call <= 3 && !reflect.DeepEqual(remote.state["analyzer"], prev) {
			t.Errorf("remote mutated before acknowledgment on call %d", call)
		}
		return nil
	}

	s := newTestSynchronizer(remote, testConfig())
	out, err := s.Push(context.Background(), "analyzer", censor.ContextPublicSite, local)
	if err != nil {
		t.Fatalf("Push() error = %v", err)
	}
	if !out.Succeeded() {
		t.Fatalf("Status = %s, want succeeded", out.Status)
	}
	if out.Attempts != 4 {
		t.Errorf("Attempts = %d, want 4", out.Attempts)
	}
	if !reflect.DeepEqual(local, before) {
		t.Error("Push() mutated the local model")
	}
}

func TestPush_RetriesExhausted(t *testing.T) {
	remote := newFakeRemote()
	prev := mustToRemote(t, threshold.DefaultModel(censor.ContextStore), censor.ContextStore)
	remote.state["analyzer"] = prev
	remote.applyErrs = []error{transient(), transient(), transient(), transient(), transient()}

	cfg := testConfig()
	cfg.MaxRetries = 2
	s := newTestSynchronizer(remote, cfg)

	out, err := s.Push(context.Background(), "analyzer", censor.ContextStore, testModel())
	if !censor.IsTransient(err) {
		t.Fatalf("Push() error = %v, want transient", err)
	}
	if out.Status != censor.SyncFailed || out.Attempts != 3 {
		t.Errorf("outcome = %s after %d attempts, want failed after 3", out.Status, out.Attempts)
	}
	if !reflect.DeepEqual(remote.state["analyzer"], prev) {
		t.Error("remote state changed after a failed push")
	}
	if out.Applied != nil {
		t.Error("Applied set on failed push")
	}
}

func TestPush_RejectionNotRetried(t *testing.T) {
	remote := newFakeRemote()
	remote.applyErrs = []error{censor.NewRemoteRejectionError("analyzer", 422, "threshold out of range")}
	s := newTestSynchronizer(remote, testConfig())

	out, err := s.Push(context.Background(), "analyzer", censor.ContextPaysite, testModel())
	if !censor.IsRemoteRejection(err) {
		t.Fatalf("Push() error = %v, want rejection", err)
	}
	if out.Attempts != 1 || remote.applyCalls != 1 {
		t.Errorf("Attempts = %d, applyCalls = %d, want 1", out.Attempts, remote.applyCalls)
	}
}

func TestPush_AttemptTimeoutIsTransient(t *testing.T) {
	remote := newFakeRemote()
	remote.onApply = func(ctx context.Context, call int) error {
		if call == 1 {
			<-ctx.Done()
			return ctx.Err()
		}
		return nil
	}

	cfg := testConfig()
	cfg.AttemptTimeout = 20 * time.Millisecond
	s := newTestSynchronizer(remote, cfg)

	out, err := s.Push(context.Background(), "analyzer", censor.ContextPublicSite, testModel())
	if err != nil {
		t.Fatalf("Push() error = %v", err)
	}
	if out.Attempts != 2 {
		t.Errorf("Attempts = %d, want 2", out.Attempts)
	}
}

func TestPush_VerificationDrift(t *testing.T) {
	remote := newFakeRemote()
	// The remote acknowledges but silently keeps its own nudity cutoff.
	remote.store = func(p translate.RemoteParameterSet) translate.RemoteParameterSet {
		return editParams(t, p, func(w map[string]any) { w["nudity_score_threshold"] = 95 })
	}
	s := newTestSynchronizer(remote, testConfig())

	out, err := s.Push(context.Background(), "analyzer", censor.ContextPublicSite, testModel())
	if !censor.IsDriftUnresolved(err) {
		t.Fatalf("Push() error = %v, want DriftUnresolvedError", err)
	}
	if out.Succeeded() {
		t.Error("Push() with residual drift reported success")
	}
	if len(out.Drift) != 1 || out.Drift[0].Field != "nudity_score_threshold" {
		t.Errorf("Drift = %v, want nudity_score_threshold only", out.Drift)
	}
	var de *censor.DriftUnresolvedError
	if errors.As(err, &de) && len(de.Reports) != 1 {
		t.Errorf("error reports = %v", de.Reports)
	}
}

func TestPush_NonAtomicRollback(t *testing.T) {
	remote := newFakeRemote()
	prev := mustToRemote(t, threshold.DefaultModel(censor.ContextPublicSite), censor.ContextPublicSite)
	remote.state["analyzer"] = prev

	// The first apply half-writes and then fails; later applies succeed.
	remote.onApply = func(ctx context.Context, call int) error {
		if call == 1 {
			remote.mu.Lock()
			remote.state["analyzer"] = editParams(t, prev, func(w map[string]any) { w["child_risk_threshold"] = 80 })
			remote.mu.Unlock()
			return censor.NewRemoteRejectionError("analyzer", 500, "write interrupted")
		}
		return nil
	}

	cfg := testConfig()
	cfg.NonAtomic = true
	s := newTestSynchronizer(remote, cfg)

	out, err := s.Push(context.Background(), "analyzer", censor.ContextPublicSite, testModel())
	if !censor.IsRemoteRejection(err) {
		t.Fatalf("Push() error = %v, want rejection", err)
	}
	if !out.RolledBack || out.RollbackErr != nil {
		t.Errorf("RolledBack = %v, RollbackErr = %v", out.RolledBack, out.RollbackErr)
	}
	if !reflect.DeepEqual(remote.state["analyzer"], prev) {
		t.Error("remote not restored to the pre-push snapshot")
	}
}

func TestPush_AtomicRemoteNoRollback(t *testing.T) {
	remote := newFakeRemote()
	remote.state["analyzer"] = mustToRemote(t, testModel(), censor.ContextStore)
	remote.applyErrs = []error{censor.NewRemoteRejectionError("analyzer", 400, "nope")}
	s := newTestSynchronizer(remote, testConfig())

	out, _ := s.Push(context.Background(), "analyzer", censor.ContextStore, testModel())
	if out.RolledBack || remote.applyCalls != 1 {
		t.Errorf("RolledBack = %v, applyCalls = %d, want no rollback", out.RolledBack, remote.applyCalls)
	}
}

func TestPush_KeepsRemoteKeywords(t *testing.T) {
	remote := newFakeRemote()
	remote.state["analyzer"] = editParams(t, mustToRemote(t, testModel(), censor.ContextStore), func(w map[string]any) {
		w["child_safety_keywords"] = []string{"child", "schoolkid"}
	})
	s := newTestSynchronizer(remote, testConfig())

	out, err := s.Push(context.Background(), "analyzer", censor.ContextStore, testModel())
	if err != nil {
		t.Fatalf("Push() error = %v", err)
	}
	kw := out.Applied.ChildSafetyKeywords()
	found := false
	for _, k := range kw {
		if k == "schoolkid" {
			found = true
		}
	}
	if !found {
		t.Errorf("applied keywords %v dropped remote vocabulary", kw)
	}
}

func TestPush_SerializedPerTarget(t *testing.T) {
	remote := newFakeRemote()
	remote.applyDelay = 10 * time.Millisecond
	s := newTestSynchronizer(remote, testConfig())

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.Push(context.Background(), "analyzer", censor.ContextPublicSite, testModel()); err != nil {
				t.Errorf("Push() error = %v", err)
			}
		}()
	}
	wg.Wait()

	if remote.maxInFlight != 1 {
		t.Errorf("maxInFlight = %d, want 1", remote.maxInFlight)
	}
	if remote.applyCalls != 5 {
		t.Errorf("applyCalls = %d, want 5", remote.applyCalls)
	}
}

func TestPush_CanceledWhileBackingOff(t *testing.T) {
	remote := newFakeRemote()
	remote.applyErrs = []error{transient(), transient(), transient(), transient()}

	cfg := testConfig()
	cfg.InitialDelay = time.Second
	cfg.MaxDelay = time.Second
	s := newTestSynchronizer(remote, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(30 * time.Millisecond)
		cancel()
	}()

	out, err := s.Push(ctx, "analyzer", censor.ContextPublicSite, testModel())
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Push() error = %v, want context.Canceled", err)
	}
	if out.Status != censor.SyncFailed || remote.applyCalls != 1 {
		t.Errorf("Status = %s, applyCalls = %d", out.Status, remote.applyCalls)
	}
}

func TestPush_InvalidModel(t *testing.T) {
	remote := newFakeRemote()
	s := newTestSynchronizer(remote, testConfig())

	bad := testModel()
	bad.Toggles["tail_detection"] = true
	_, err := s.Push(context.Background(), "analyzer", censor.ContextPublicSite, bad)
	if !censor.IsConfigurationError(err) {
		t.Fatalf("Push() error = %v, want ConfigurationError", err)
	}
	if remote.fetchCalls != 0 || remote.applyCalls != 0 {
		t.Error("invalid model reached the remote")
	}
}

func TestPull(t *testing.T) {
	remote := newFakeRemote()
	remote.state["analyzer"] = mustToRemote(t, testModel(), censor.ContextPaysite)
	remote.fetchErrs = []error{transient()}
	s := newTestSynchronizer(remote, testConfig())

	out, err := s.Pull(context.Background(), "analyzer", censor.ContextPaysite)
	if err != nil {
		t.Fatalf("Pull() error = %v", err)
	}
	if out.Attempts != 2 {
		t.Errorf("Attempts = %d, want 2", out.Attempts)
	}
	if remote.applyCalls != 0 {
		t.Error("Pull() applied configuration")
	}
	if out.Recommended == nil {
		t.Fatal("Recommended is nil")
	}
	for name, v := range testModel().Thresholds {
		if got := out.Recommended.Thresholds[name]; got != v {
			t.Errorf("Recommended threshold %s = %v, want %v", name, got, v)
		}
	}
	if !out.Recommended.Toggles[censor.CategoryBreast] {
		t.Error("Recommended lost an enabled toggle")
	}
}

func TestPull_ReportsDrift(t *testing.T) {
	remote := newFakeRemote()
	remote.state["analyzer"] = mustToRemote(t, testModel(), censor.ContextPublicSite)
	s := newTestSynchronizer(remote, testConfig())

	local := testModel()
	local.Thresholds[censor.CategoryFace] = 0.6

	out, err := s.Sync(context.Background(), Request{
		Direction: censor.DirectionPull,
		Target:    "analyzer",
		Context:   censor.ContextPublicSite,
		Local:     &local,
	})
	if err != nil {
		t.Fatalf("Sync() error = %v", err)
	}
	if len(out.Drift) != 1 || out.Drift[0].Category != censor.CategoryFace {
		t.Errorf("Drift = %v, want face threshold only", out.Drift)
	}
}

func TestSync_BadRequests(t *testing.T) {
	s := newTestSynchronizer(newFakeRemote(), testConfig())

	tests := []struct {
		name string
		req  Request
	}{
		{"unknown direction", Request{Direction: "sideways", Target: "analyzer", Context: censor.ContextStore}},
		{"push without local", Request{Direction: censor.DirectionPush, Target: "analyzer", Context: censor.ContextStore}},
		{"unknown context", Request{Direction: censor.DirectionPull, Target: "analyzer", Context: "forum"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := s.Sync(context.Background(), tt.req)
			if !censor.IsConfigurationError(err) {
				t.Errorf("Sync() error = %v, want ConfigurationError", err)
			}
			if out == nil || out.Status != censor.SyncFailed {
				t.Errorf("outcome = %+v, want failed", out)
			}
		})
	}
}
