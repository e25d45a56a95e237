package providers

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"

	censor "github.com/phoenix4ge/censor"
	"github.com/phoenix4ge/censor/utils"
)

// ResilientConfig configures the resilient analyzer wrapper.
type ResilientConfig struct {
	// Retry configuration
	MaxRetries   int
	InitialDelay time.Duration
	MaxDelay     time.Duration

	// Breaker configuration. The breaker opens after BreakerFailures
	// consecutive failures and probes again after BreakerTimeout.
	BreakerFailures    uint32
	BreakerTimeout     time.Duration
	BreakerMaxRequests uint32

	// Logger for API calls
	Logger APILogger

	EnableRetry   bool
	EnableBreaker bool
	EnableLogging bool
}

// DefaultResilientConfig returns sensible defaults.
func DefaultResilientConfig() ResilientConfig {
	return ResilientConfig{
		MaxRetries:         censor.DefaultMaxRetries,
		InitialDelay:       500 * time.Millisecond,
		MaxDelay:           10 * time.Second,
		BreakerFailures:    5,
		BreakerTimeout:     30 * time.Second,
		BreakerMaxRequests: 1,
		EnableRetry:        true,
		EnableBreaker:      true,
		EnableLogging:      true,
	}
}

// ResilientAnalyzer wraps an analyzer with retry, circuit breaking and
// logging. Retries happen inside the breaker so one image counts as one
// breaker request.
type ResilientAnalyzer struct {
	analyzer Analyzer
	config   ResilientConfig
	retryer  *utils.Retryer
	breaker  *gobreaker.CircuitBreaker
	logger   APILogger
}

// NewResilientAnalyzer creates a new resilient analyzer wrapper.
func NewResilientAnalyzer(analyzer Analyzer, config ResilientConfig) *ResilientAnalyzer {
	ra := &ResilientAnalyzer{
		analyzer: analyzer,
		config:   config,
	}

	if config.EnableRetry {
		ra.retryer = utils.NewRetryer(utils.RetryConfig{
			MaxRetries:    config.MaxRetries,
			InitialDelay:  config.InitialDelay,
			MaxDelay:      config.MaxDelay,
			JitterPercent: 10,
			RetryIf:       censor.IsRetryable,
		})
	}

	if config.EnableBreaker {
		failures := config.BreakerFailures
		if failures == 0 {
			failures = DefaultResilientConfig().BreakerFailures
		}
		ra.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        analyzer.Name(),
			MaxRequests: config.BreakerMaxRequests,
			Timeout:     config.BreakerTimeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= failures
			},
			// Only remote trouble trips the breaker; a bad image does not.
			IsSuccessful: func(err error) bool {
				return err == nil || !censor.IsRetryable(err)
			},
		})
	}

	if config.EnableLogging {
		if config.Logger != nil {
			ra.logger = config.Logger
		} else {
			ra.logger = GlobalLogger
		}
	} else {
		ra.logger = NopLogger{}
	}

	return ra
}

// Name returns the provider name.
func (ra *ResilientAnalyzer) Name() string {
	return ra.analyzer.Name()
}

// Capability returns the supported capability.
func (ra *ResilientAnalyzer) Capability() Capability {
	return ra.analyzer.Capability()
}

// Analyze analyzes an image with retry, circuit breaking and logging.
func (ra *ResilientAnalyzer) Analyze(ctx context.Context, req AnalyzeRequest) (Analysis, error) {
	timer := StartLog(ra.logger, ra.analyzer.Name(), "analyze").
		WithRequest(req.RequestID, req.Context, len(req.Image))

	var resp Analysis
	attempts := 0

	call := func(ctx context.Context) error {
		attempts++
		var err error
		resp, err = ra.analyzer.Analyze(ctx, req)
		return err
	}

	run := func() error {
		if ra.retryer != nil {
			return ra.retryer.Do(ctx, call)
		}
		return call(ctx)
	}

	var err error
	if ra.breaker != nil {
		_, err = ra.breaker.Execute(func() (interface{}, error) {
			return nil, run()
		})
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			err = fmt.Errorf("%w: %s: %v", censor.ErrCircuitOpen, ra.analyzer.Name(), err)
		}
	} else {
		err = run()
	}

	retries := attempts - 1
	if retries < 0 {
		retries = 0
	}
	if err != nil {
		timer.WithRetryCount(retries).Error(ctx, err)
		return Analysis{}, err
	}

	timer.WithRetryCount(retries).
		WithExtra("records", len(resp.Records)).
		Success(ctx)
	return resp, nil
}

// State returns the breaker state, or closed when breaking is disabled.
func (ra *ResilientAnalyzer) State() gobreaker.State {
	if ra.breaker == nil {
		return gobreaker.StateClosed
	}
	return ra.breaker.State()
}

// Unwrap returns the underlying analyzer.
func (ra *ResilientAnalyzer) Unwrap() Analyzer {
	return ra.analyzer
}

// WrapWithResilience wraps an analyzer with default resilience configuration.
func WrapWithResilience(analyzer Analyzer) *ResilientAnalyzer {
	return NewResilientAnalyzer(analyzer, DefaultResilientConfig())
}

// WrapWithRetry wraps an analyzer with retry only.
func WrapWithRetry(analyzer Analyzer, maxRetries int) *ResilientAnalyzer {
	return NewResilientAnalyzer(analyzer, ResilientConfig{
		MaxRetries:   maxRetries,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     10 * time.Second,
		EnableRetry:  true,
	})
}

// WrapWithLogging wraps an analyzer with logging only.
func WrapWithLogging(analyzer Analyzer, logger APILogger) *ResilientAnalyzer {
	return NewResilientAnalyzer(analyzer, ResilientConfig{
		Logger:        logger,
		EnableLogging: true,
	})
}

var _ Analyzer = (*ResilientAnalyzer)(nil)
