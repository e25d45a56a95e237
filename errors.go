package censor

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// ErrorCategory represents the category of an error for handling decisions.
type ErrorCategory string

const (
	ErrorCategoryNetwork    ErrorCategory = "network"    // Network connectivity issues
	ErrorCategoryRateLimit  ErrorCategory = "rate_limit" // Rate limiting
	ErrorCategoryTimeout    ErrorCategory = "timeout"    // Request timeout
	ErrorCategoryAuth       ErrorCategory = "auth"       // Authentication/authorization
	ErrorCategoryConfig     ErrorCategory = "config"     // Configuration issues
	ErrorCategoryValidation ErrorCategory = "validation" // Input validation
	ErrorCategoryRejected   ErrorCategory = "rejected"   // Remote refused the request
	ErrorCategoryDrift      ErrorCategory = "drift"      // Post-push verification mismatch
	ErrorCategoryProvider   ErrorCategory = "provider"   // Provider-specific errors
	ErrorCategoryInternal   ErrorCategory = "internal"   // Internal errors
)

// Common errors
var (
	ErrNoImage            = errors.New("censor: no image provided")
	ErrProviderNotFound   = errors.New("censor: provider not found")
	ErrModelNotFound      = errors.New("censor: threshold model not found")
	ErrStoreNotConfigured = errors.New("censor: store not configured")
	ErrRemoteNotFound     = errors.New("censor: remote target not found")
	ErrTimeout            = errors.New("censor: operation timeout")
	ErrRateLimited        = errors.New("censor: rate limited by provider")
	ErrCircuitOpen        = errors.New("censor: circuit breaker open")

	// Network errors
	ErrNetworkUnreachable = errors.New("censor: network unreachable")
	ErrConnectionRefused  = errors.New("censor: connection refused")
	ErrDNSResolution      = errors.New("censor: DNS resolution failed")

	// Auth errors
	ErrAuthFailed        = errors.New("censor: authentication failed")
	ErrInvalidCredential = errors.New("censor: invalid credentials")

	// Config errors
	ErrMissingConfig = errors.New("censor: missing required configuration")
	ErrInvalidConfig = errors.New("censor: invalid configuration")
)

// ConfigurationError reports an invalid threshold model field.
type ConfigurationError struct {
	Field   string // Offending field, e.g. component_thresholds.breast_detection
	Message string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("censor: configuration error on %s: %s", e.Field, e.Message)
}

// Is lets errors.Is(err, ErrInvalidConfig) match.
func (e *ConfigurationError) Is(target error) bool {
	return target == ErrInvalidConfig
}

// NewConfigurationError creates a new configuration error.
func NewConfigurationError(field, message string) *ConfigurationError {
	return &ConfigurationError{
		Field:   field,
		Message: message,
	}
}

// DetectionFormatError reports a malformed detection record. The whole batch
// containing it is rejected.
type DetectionFormatError struct {
	Index   int
	Record  DetectionRecord
	Message string
}

func (e *DetectionFormatError) Error() string {
	return fmt.Sprintf("censor: malformed detection at index %d (%q): %s", e.Index, e.Record.Category, e.Message)
}

// NewDetectionFormatError creates a new detection format error.
func NewDetectionFormatError(index int, rec DetectionRecord, message string) *DetectionFormatError {
	return &DetectionFormatError{
		Index:   index,
		Record:  rec,
		Message: message,
	}
}

// TransientRemoteError is a network or timeout failure talking to the remote
// configuration API. It is the only error the synchronizer retries.
type TransientRemoteError struct {
	Target    string // Remote target name
	Operation string // fetch, apply
	Err       error
}

func (e *TransientRemoteError) Error() string {
	return fmt.Sprintf("censor: transient remote error during %s on %s: %v", e.Operation, e.Target, e.Err)
}

func (e *TransientRemoteError) Unwrap() error {
	return e.Err
}

// NewTransientRemoteError creates a new transient remote error.
func NewTransientRemoteError(target, operation string, err error) *TransientRemoteError {
	return &TransientRemoteError{
		Target:    target,
		Operation: operation,
		Err:       err,
	}
}

// RemoteRejectionError means the remote explicitly refused a configuration.
type RemoteRejectionError struct {
	Target     string
	StatusCode int
	Message    string
}

func (e *RemoteRejectionError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("censor: remote %s rejected configuration [%d]: %s", e.Target, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("censor: remote %s rejected configuration: %s", e.Target, e.Message)
}

// NewRemoteRejectionError creates a new remote rejection error.
func NewRemoteRejectionError(target string, statusCode int, message string) *RemoteRejectionError {
	return &RemoteRejectionError{
		Target:     target,
		StatusCode: statusCode,
		Message:    message,
	}
}

// DriftUnresolvedError means the remote acknowledged a push but a verification
// fetch still differs from the pushed configuration.
type DriftUnresolvedError struct {
	Target  string
	Reports []DriftReport
}

func (e *DriftUnresolvedError) Error() string {
	return fmt.Sprintf("censor: drift unresolved on %s after push: %d field(s) differ", e.Target, len(e.Reports))
}

// ProviderError represents an error from an image analysis provider.
type ProviderError struct {
	Provider   string        // Provider name (nudenet, aliyun, huawei, tencent)
	Code       string        // Error code from provider
	Message    string        // Error message
	StatusCode int           // HTTP status code if applicable
	Category   ErrorCategory // Error category for handling
	Retryable  bool          // Whether this error is retryable
	Raw        any           // Raw error response
	Err        error         // Underlying error
}

func (e *ProviderError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("censor: provider %s error [%d/%s]: %s", e.Provider, e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("censor: provider %s error [%s]: %s", e.Provider, e.Code, e.Message)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// NewProviderError creates a new provider error.
func NewProviderError(provider, code, message string) *ProviderError {
	pe := &ProviderError{
		Provider: provider,
		Code:     code,
		Message:  message,
		Category: ErrorCategoryProvider,
	}
	pe.Retryable = pe.isRetryable()
	return pe
}

// WithStatusCode sets the HTTP status code.
func (e *ProviderError) WithStatusCode(code int) *ProviderError {
	e.StatusCode = code
	e.Category = categorizeByStatusCode(code)
	e.Retryable = e.isRetryable()
	return e
}

// WithCategory sets the error category.
func (e *ProviderError) WithCategory(cat ErrorCategory) *ProviderError {
	e.Category = cat
	e.Retryable = e.isRetryable()
	return e
}

// WithRaw sets the raw error response.
func (e *ProviderError) WithRaw(raw any) *ProviderError {
	e.Raw = raw
	return e
}

// WithCause sets the underlying error.
func (e *ProviderError) WithCause(err error) *ProviderError {
	e.Err = err
	return e
}

func (e *ProviderError) isRetryable() bool {
	switch e.Category {
	case ErrorCategoryNetwork, ErrorCategoryRateLimit, ErrorCategoryTimeout:
		return true
	}
	switch e.StatusCode {
	case 429, 500, 502, 503, 504:
		return true
	}
	return false
}

func categorizeByStatusCode(code int) ErrorCategory {
	switch {
	case code == 401 || code == 403:
		return ErrorCategoryAuth
	case code == 429:
		return ErrorCategoryRateLimit
	case code == 408 || code == 504:
		return ErrorCategoryTimeout
	case code >= 500:
		return ErrorCategoryInternal
	default:
		return ErrorCategoryProvider
	}
}

// StoreError represents a database/store error.
type StoreError struct {
	Operation string // Operation that failed (get, save, list)
	Table     string // Table/collection name
	Err       error  // Underlying error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("censor: store error during %s on %s: %v", e.Operation, e.Table, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// NewStoreError creates a new store error.
func NewStoreError(operation, table string, err error) *StoreError {
	return &StoreError{
		Operation: operation,
		Table:     table,
		Err:       err,
	}
}

// IsConfigurationError checks if an error is a configuration error.
func IsConfigurationError(err error) bool {
	var ce *ConfigurationError
	return errors.As(err, &ce)
}

// IsDetectionFormatError checks if an error is a detection format error.
func IsDetectionFormatError(err error) bool {
	var de *DetectionFormatError
	return errors.As(err, &de)
}

// IsTransient checks if an error is a transient remote error.
func IsTransient(err error) bool {
	var te *TransientRemoteError
	return errors.As(err, &te)
}

// IsRemoteRejection checks if an error is a remote rejection.
func IsRemoteRejection(err error) bool {
	var re *RemoteRejectionError
	return errors.As(err, &re)
}

// IsDriftUnresolved checks if an error is an unresolved drift error.
func IsDriftUnresolved(err error) bool {
	var de *DriftUnresolvedError
	return errors.As(err, &de)
}

// IsProviderError checks if an error is a provider error.
func IsProviderError(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe)
}

// IsStoreError checks if an error is a store error.
func IsStoreError(err error) bool {
	var se *StoreError
	return errors.As(err, &se)
}

// IsRetryable checks if an analyzer call error is worth retrying.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	if IsTransient(err) {
		return true
	}

	// Check sentinel errors
	if errors.Is(err, ErrTimeout) || errors.Is(err, ErrRateLimited) ||
		errors.Is(err, ErrNetworkUnreachable) || errors.Is(err, ErrConnectionRefused) {
		return true
	}

	// Check provider error
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Retryable
	}

	// Check for network errors
	if IsNetworkError(err) {
		return true
	}

	return false
}

// IsNetworkError checks if an error is a network-related error.
func IsNetworkError(err error) bool {
	if err == nil {
		return false
	}

	// Check sentinel errors
	if errors.Is(err, ErrNetworkUnreachable) || errors.Is(err, ErrConnectionRefused) ||
		errors.Is(err, ErrDNSResolution) {
		return true
	}

	// Check for net.Error
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	// Check for common network error patterns in message
	msg := strings.ToLower(err.Error())
	networkPatterns := []string{
		"connection refused",
		"connection reset",
		"no such host",
		"network is unreachable",
		"i/o timeout",
		"connection timed out",
		"dial tcp",
		"dial udp",
	}
	for _, pattern := range networkPatterns {
		if strings.Contains(msg, pattern) {
			return true
		}
	}

	return false
}

// IsTimeout checks if an error is a timeout of any kind.
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return false
}

// GetErrorCategory returns the category of an error.
func GetErrorCategory(err error) ErrorCategory {
	if err == nil {
		return ""
	}

	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Category
	}

	switch {
	case IsConfigurationError(err):
		return ErrorCategoryConfig
	case IsDetectionFormatError(err):
		return ErrorCategoryValidation
	case IsRemoteRejection(err):
		return ErrorCategoryRejected
	case IsDriftUnresolved(err):
		return ErrorCategoryDrift
	case IsTimeout(err):
		return ErrorCategoryTimeout
	case IsNetworkError(err), IsTransient(err):
		return ErrorCategoryNetwork
	case errors.Is(err, ErrRateLimited):
		return ErrorCategoryRateLimit
	case errors.Is(err, ErrAuthFailed), errors.Is(err, ErrInvalidCredential):
		return ErrorCategoryAuth
	}

	return ErrorCategoryInternal
}

// WrapNetworkError wraps a network error with appropriate sentinel error.
func WrapNetworkError(err error) error {
	if err == nil {
		return nil
	}

	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "connection refused") {
		return fmt.Errorf("%w: %v", ErrConnectionRefused, err)
	}
	if strings.Contains(msg, "no such host") || strings.Contains(msg, "dns") {
		return fmt.Errorf("%w: %v", ErrDNSResolution, err)
	}
	if strings.Contains(msg, "network is unreachable") {
		return fmt.Errorf("%w: %v", ErrNetworkUnreachable, err)
	}
	if strings.Contains(msg, "timeout") || strings.Contains(msg, "timed out") {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}

	return err
}
