package syncer

import (
	"time"

	censor "github.com/phoenix4ge/censor"
	"github.com/phoenix4ge/censor/threshold"
	"github.com/phoenix4ge/censor/translate"
)

// Outcome is the complete, structured result of one synchronization. It
// carries everything an audit sink needs.
type Outcome struct {
	ID        string
	Status    censor.SyncStatus
	Direction censor.Direction
	Target    string
	Context   censor.UsageContext

	// Attempts counts Apply calls for a push and Fetch calls for a pull.
	Attempts int

	// Previous is the remote snapshot fetched before a push, or the
	// snapshot a pull fetched.
	Previous *translate.RemoteParameterSet

	// Applied is set when a push succeeded and was verified.
	Applied *translate.RemoteParameterSet

	// Recommended is the model a pull recovered. Persisting it is up to the
	// caller.
	Recommended *threshold.Model

	// Drift is the residual drift after a failed push verification, or the
	// drift between local and remote seen by a pull.
	Drift []censor.DriftReport

	RolledBack  bool
	RollbackErr error

	Err        error
	StartedAt  time.Time
	FinishedAt time.Time
}

// Succeeded reports whether the synchronization succeeded.
func (o *Outcome) Succeeded() bool {
	return o.Status == censor.SyncSucceeded
}

// Duration returns how long the synchronization took.
func (o *Outcome) Duration() time.Duration {
	return o.FinishedAt.Sub(o.StartedAt)
}
