// Package apperrors provides a standardized error type for the runtime core.
//
// Every error surfaced across a package boundary (pool, plugin, HRANA) is an
// *AppError carrying a machine-readable code, a human message, optional
// details, and an HTTP status code for the rare cases an error crosses
// straight into an HTTP response.
package apperrors

import (
	"fmt"
	"net/http"
)

// AppError is a standardized application error with HTTP context.
type AppError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	Details    string `json:"details,omitempty"`
	StatusCode int    `json:"-"`
}

func (e *AppError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %s - %s", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// ErrorResponse is the JSON shape returned to HTTP clients.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}

// Error codes. The client-error / worker / plugin / HRANA groups correspond
// to the taxonomy in spec.md §7.
const (
	ErrCodeBadRequest       = "BAD_REQUEST"
	ErrCodeUnauthorized     = "UNAUTHORIZED"
	ErrCodeForbidden        = "FORBIDDEN"
	ErrCodeNotFound         = "NOT_FOUND"
	ErrCodeConflict         = "CONFLICT"
	ErrCodeValidationFailed = "VALIDATION_FAILED"
	ErrCodeInternalServer   = "INTERNAL_SERVER_ERROR"
	ErrCodeServiceUnavailable = "SERVICE_UNAVAILABLE"

	// Worker Pool / Worker Instance (spec.md §4.1, §4.2, §7)
	ErrCodeWorkerTimeout    = "WORKER_TIMEOUT"
	ErrCodeWorkerCritical   = "WORKER_CRITICAL_ERROR"
	ErrCodeWorkerInitFailed = "WORKER_INIT_FAILED"
	ErrCodeWorkerRequest    = "WORKER_REQUEST_ERROR"
	ErrCodeWorkerCollision  = "WORKER_COLLISION"
	ErrCodeWorkerTerminated = "WORKER_TERMINATED"

	// Plugin Loader & Registry (spec.md §4.3, §7)
	ErrCodePluginDependency = "PLUGIN_DEPENDENCY_ERROR"
	ErrCodePluginCycle      = "PLUGIN_DEPENDENCY_CYCLE"
	ErrCodePluginBasePath   = "PLUGIN_INVALID_BASE"
	ErrCodePluginDuplicate  = "PLUGIN_DUPLICATE_NAME"
	ErrCodePluginInitTimeout = "PLUGIN_INIT_TIMEOUT"

	// HRANA (spec.md §4.4, §7)
	ErrCodeHranaInvalidBaton = "HRANA_INVALID_BATON"
	ErrCodeHranaNoSession    = "HRANA_NO_SESSION"
	ErrCodeHranaUnknownSQL   = "HRANA_UNKNOWN_SQL_ID"
)

// New creates an AppError with an HTTP status inferred from code.
func New(code, message string) *AppError {
	return &AppError{Code: code, Message: message, StatusCode: statusForCode(code)}
}

// NewWithDetails creates an AppError carrying debugging details.
func NewWithDetails(code, message, details string) *AppError {
	return &AppError{Code: code, Message: message, Details: details, StatusCode: statusForCode(code)}
}

// Wrap wraps an underlying error as the Details of a new AppError.
func Wrap(code, message string, err error) *AppError {
	details := ""
	if err != nil {
		details = err.Error()
	}
	return NewWithDetails(code, message, details)
}

func statusForCode(code string) int {
	switch code {
	case ErrCodeBadRequest, ErrCodeValidationFailed:
		return http.StatusBadRequest
	case ErrCodeUnauthorized:
		return http.StatusUnauthorized
	case ErrCodeForbidden, ErrCodePluginBasePath:
		return http.StatusForbidden
	case ErrCodeNotFound, ErrCodeHranaNoSession, ErrCodeHranaUnknownSQL:
		return http.StatusNotFound
	case ErrCodeConflict, ErrCodeWorkerCollision, ErrCodePluginDuplicate:
		return http.StatusConflict
	case ErrCodeWorkerTimeout, ErrCodePluginInitTimeout:
		return http.StatusGatewayTimeout
	case ErrCodeServiceUnavailable, ErrCodeWorkerTerminated:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// ToResponse converts the AppError to its JSON wire shape.
func (e *AppError) ToResponse() ErrorResponse {
	return ErrorResponse{Error: e.Code, Message: e.Message, Code: e.Code, Details: e.Details}
}

func BadRequest(message string) *AppError    { return New(ErrCodeBadRequest, message) }
func Unauthorized(message string) *AppError  { return New(ErrCodeUnauthorized, message) }
func Forbidden(message string) *AppError     { return New(ErrCodeForbidden, message) }
func NotFound(resource string) *AppError {
	return New(ErrCodeNotFound, fmt.Sprintf("%s not found", resource))
}
func Conflict(message string) *AppError         { return New(ErrCodeConflict, message) }
func ValidationFailed(message string) *AppError { return New(ErrCodeValidationFailed, message) }
func InternalServer(message string) *AppError   { return New(ErrCodeInternalServer, message) }

func WorkerTimeout(workerID string) *AppError {
	return New(ErrCodeWorkerTimeout, fmt.Sprintf("request to worker %s timed out", workerID))
}

func WorkerCritical(workerID, reason string) *AppError {
	return NewWithDetails(ErrCodeWorkerCritical, fmt.Sprintf("worker %s entered a critical error state", workerID), reason)
}

func WorkerInitFailed(err error) *AppError {
	return Wrap(ErrCodeWorkerInitFailed, "Worker initialization failed", err)
}

func WorkerCollision(key, existingDir, requestedDir string) *AppError {
	return NewWithDetails(ErrCodeWorkerCollision,
		fmt.Sprintf("application key %q is already bound to a different directory", key),
		fmt.Sprintf("existing=%s requested=%s", existingDir, requestedDir))
}

func PluginDependencyMissing(plugin, dependency string, disabled bool) *AppError {
	state := "absent"
	if disabled {
		state = "disabled"
	}
	return New(ErrCodePluginDependency,
		fmt.Sprintf("plugin %q requires %q which is %s", plugin, dependency, state))
}

func PluginDependencyCycle(residual []string) *AppError {
	return NewWithDetails(ErrCodePluginCycle, "plugin dependency graph has a cycle",
		fmt.Sprintf("residual=%v", residual))
}

func PluginInvalidBase(plugin, base string) *AppError {
	return New(ErrCodePluginBasePath, fmt.Sprintf("plugin %q has an invalid or reserved base path %q", plugin, base))
}

func PluginDuplicateName(name string) *AppError {
	return New(ErrCodePluginDuplicate, fmt.Sprintf("plugin %q is already registered", name))
}

func HranaInvalidBaton() *AppError {
	return New(ErrCodeHranaInvalidBaton, "baton does not reference a live session")
}

func HranaNoSession() *AppError {
	return New(ErrCodeHranaNoSession, "operation requires an active session")
}

func HranaUnknownSQL(sqlID int64) *AppError {
	return New(ErrCodeHranaUnknownSQL, fmt.Sprintf("sql_id %d was not stored in this session", sqlID))
}
