package providers

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	censor "github.com/phoenix4ge/censor"
)

// APILogEntry represents a single analyzer call.
type APILogEntry struct {
	ID           string         `json:"id"`
	Timestamp    time.Time      `json:"timestamp"`
	Provider     string         `json:"provider"`
	Operation    string         `json:"operation"` // analyze, fetch_config, apply_config, health
	RequestID    string         `json:"request_id,omitempty"`
	Context      string         `json:"context,omitempty"`
	Duration     time.Duration  `json:"duration_ms"`
	Success      bool           `json:"success"`
	StatusCode   int            `json:"status_code,omitempty"`
	ErrorCode    string         `json:"error_code,omitempty"`
	ErrorMessage string         `json:"error_message,omitempty"`
	RetryCount   int            `json:"retry_count,omitempty"`
	RequestSize  int            `json:"request_size,omitempty"`
	Extra        map[string]any `json:"extra,omitempty"`
}

// APILogger defines the interface for logging analyzer calls.
type APILogger interface {
	// Log records an API log entry.
	Log(ctx context.Context, entry APILogEntry)

	// LogAsync records an API log entry asynchronously.
	LogAsync(ctx context.Context, entry APILogEntry)
}

// LoggerConfig configures the API logger behavior.
type LoggerConfig struct {
	// Level is the minimum level written. Successful calls log at debug,
	// failures at warn.
	Level logrus.Level

	// AsyncBufferSize is the buffer size for async logging.
	AsyncBufferSize int
}

// DefaultLoggerConfig returns sensible defaults for logger configuration.
func DefaultLoggerConfig() LoggerConfig {
	return LoggerConfig{
		Level:           logrus.InfoLevel,
		AsyncBufferSize: 1000,
	}
}

// StandardLogger writes API log entries to a logrus logger.
type StandardLogger struct {
	config    LoggerConfig
	log       logrus.FieldLogger
	asyncChan chan APILogEntry
	wg        sync.WaitGroup
	closed    bool
	mu        sync.RWMutex
}

// NewStandardLogger creates a new standard logger. A nil logger writes to
// the logrus standard logger.
func NewStandardLogger(l logrus.FieldLogger, config LoggerConfig) *StandardLogger {
	if config.AsyncBufferSize == 0 {
		config.AsyncBufferSize = 1000
	}
	if l == nil {
		l = logrus.StandardLogger()
	}

	sl := &StandardLogger{
		config:    config,
		log:       l.WithField("component", "analyzer_api"),
		asyncChan: make(chan APILogEntry, config.AsyncBufferSize),
	}

	sl.wg.Add(1)
	go sl.processAsyncLogs()

	return sl
}

// Log records an API log entry synchronously.
func (l *StandardLogger) Log(ctx context.Context, entry APILogEntry) {
	l.logEntry(entry)
}

// LogAsync records an API log entry asynchronously.
func (l *StandardLogger) LogAsync(ctx context.Context, entry APILogEntry) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if l.closed {
		return
	}

	select {
	case l.asyncChan <- entry:
	default:
		// Buffer full, log synchronously
		l.logEntry(entry)
	}
}

func (l *StandardLogger) logEntry(entry APILogEntry) {
	level := logrus.DebugLevel
	if !entry.Success {
		level = logrus.WarnLevel
	}
	if level > l.config.Level {
		return
	}

	fields := logrus.Fields{
		"provider":    entry.Provider,
		"operation":   entry.Operation,
		"duration_ms": entry.Duration.Milliseconds(),
	}
	if entry.RequestID != "" {
		fields["request_id"] = entry.RequestID
	}
	if entry.Context != "" {
		fields["context"] = entry.Context
	}
	if entry.RetryCount > 0 {
		fields["retry_count"] = entry.RetryCount
	}
	for k, v := range entry.Extra {
		fields[k] = v
	}

	e := l.log.WithFields(fields)
	if entry.Success {
		e.Debug("analyzer call succeeded")
		return
	}
	e.WithFields(logrus.Fields{
		"status_code": entry.StatusCode,
		"error_code":  entry.ErrorCode,
		"error":       entry.ErrorMessage,
	}).Warn("analyzer call failed")
}

func (l *StandardLogger) processAsyncLogs() {
	defer l.wg.Done()

	for entry := range l.asyncChan {
		l.logEntry(entry)
	}
}

// Close shuts down the logger and waits for pending logs to be processed.
func (l *StandardLogger) Close() {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.closed = true
	l.mu.Unlock()

	close(l.asyncChan)
	l.wg.Wait()
}

// LogTimer is a helper for timing API calls.
type LogTimer struct {
	entry     APILogEntry
	startTime time.Time
	logger    APILogger
}

// StartLog starts timing an API call and returns a LogTimer.
func StartLog(logger APILogger, provider, operation string) *LogTimer {
	now := time.Now()
	return &LogTimer{
		entry: APILogEntry{
			Provider:  provider,
			Operation: operation,
			Timestamp: now,
		},
		startTime: now,
		logger:    logger,
	}
}

// WithRequest sets the request identity.
func (t *LogTimer) WithRequest(requestID string, uc censor.UsageContext, size int) *LogTimer {
	t.entry.RequestID = requestID
	t.entry.Context = string(uc)
	t.entry.RequestSize = size
	return t
}

// WithRetryCount sets the retry count.
func (t *LogTimer) WithRetryCount(count int) *LogTimer {
	t.entry.RetryCount = count
	return t
}

// WithExtra adds extra metadata.
func (t *LogTimer) WithExtra(key string, value any) *LogTimer {
	if t.entry.Extra == nil {
		t.entry.Extra = make(map[string]any)
	}
	t.entry.Extra[key] = value
	return t
}

// Success logs a successful API call.
func (t *LogTimer) Success(ctx context.Context) {
	t.entry.Duration = time.Since(t.startTime)
	t.entry.Success = true
	t.logger.LogAsync(ctx, t.entry)
}

// Error logs a failed API call.
func (t *LogTimer) Error(ctx context.Context, err error) {
	t.entry.Duration = time.Since(t.startTime)
	t.entry.Success = false

	var pe *censor.ProviderError
	var re *censor.RemoteRejectionError
	switch {
	case errors.As(err, &pe):
		t.entry.ErrorCode = pe.Code
		t.entry.ErrorMessage = pe.Message
		t.entry.StatusCode = pe.StatusCode
	case errors.As(err, &re):
		t.entry.ErrorCode = string(censor.ErrorCategoryRejected)
		t.entry.ErrorMessage = re.Message
		t.entry.StatusCode = re.StatusCode
	case err != nil:
		t.entry.ErrorCode = string(censor.GetErrorCategory(err))
		t.entry.ErrorMessage = err.Error()
	}

	t.logger.LogAsync(ctx, t.entry)
}

// NopLogger is a no-op logger that discards all logs.
type NopLogger struct{}

func (NopLogger) Log(ctx context.Context, entry APILogEntry)      {}
func (NopLogger) LogAsync(ctx context.Context, entry APILogEntry) {}

// GlobalLogger is the default global logger instance.
var GlobalLogger APILogger = NopLogger{}

// SetGlobalLogger sets the global logger instance.
func SetGlobalLogger(logger APILogger) {
	GlobalLogger = logger
}
