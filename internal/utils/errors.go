package utils

import "fmt"

type AppError struct {
	Code    string
	Message string
	Origin  error // Original error that caused this error, if any
}

func (appErr *AppError) Error() string {
	if appErr.Origin != nil {
		return appErr.Message + ": " + appErr.Origin.Error()
	}
	return appErr.Message
}

// Standard error codes for the engine
const (
	// Resource errors
	ErrNotFound     = "NOT_FOUND"
	ErrInvalidInput = "INVALID_INPUT"

	// Ownership / time-window errors
	ErrForbidden        = "FORBIDDEN"
	ErrEditWindowClosed = "EDIT_WINDOW_CLOSED"

	// User-specific errors
	ErrUserNotFound       = "USER_NOT_FOUND"
	ErrUserAlreadyExists  = "USER_ALREADY_EXISTS"
	ErrInvalidCredentials = "INVALID_CREDENTIALS"
	ErrInvalidToken       = "INVALID_TOKEN"
	ErrInsufficientKarma  = "INSUFFICIENT_KARMA"

	// Voting errors
	ErrDuplicateVote = "DUPLICATE_VOTE"

	// Submission errors
	ErrDuplicateURL = "DUPLICATE_URL"

	// Throttling
	ErrRateLimited = "RATE_LIMITED"

	// Store transport failures; never recovered locally
	ErrStoreUnavailable = "STORE_UNAVAILABLE"
)

// Error creation helper functions
func NewAppError(code string, message string, originalErr error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Origin:  originalErr,
	}
}

// Specific error creators for common cases
func NewUserNotFoundError(username string) *AppError {
	return &AppError{
		Code:    ErrUserNotFound,
		Message: "User not found: " + username,
	}
}

func NewNewsNotFoundError(newsID int64) *AppError {
	return &AppError{
		Code:    ErrNotFound,
		Message: fmt.Sprintf("News not found: %d", newsID),
	}
}

func NewCommentNotFoundError(newsID, commentID int64) *AppError {
	return &AppError{
		Code:    ErrNotFound,
		Message: fmt.Sprintf("Comment not found: %d in thread %d", commentID, newsID),
	}
}

func NewForbiddenError(reason string) *AppError {
	return &AppError{
		Code:    ErrForbidden,
		Message: "Forbidden: " + reason,
	}
}

func NewInsufficientKarmaError(required, actual int64) *AppError {
	return &AppError{
		Code:    ErrInsufficientKarma,
		Message: fmt.Sprintf("Insufficient karma. Required: %d, Actual: %d", required, actual),
	}
}

func NewStoreError(op string, originalErr error) *AppError {
	return &AppError{
		Code:    ErrStoreUnavailable,
		Message: "Store operation failed: " + op,
		Origin:  originalErr,
	}
}

// Helper method to check if an error is of a specific type
func IsErrorCode(err error, code string) bool {
	if appErr, ok := err.(*AppError); ok {
		return appErr.Code == code
	}
	return false
}

// IsNotFound reports whether an error means the record is absent rather
// than the store having failed.
func IsNotFound(err error) bool {
	if appErr, ok := err.(*AppError); ok {
		return appErr.Code == ErrNotFound || appErr.Code == ErrUserNotFound
	}
	return false
}

// AppErrorToHTTPStatus converts an AppError code to an HTTP status code
// for the web layer sitting on top of the engine.
func AppErrorToHTTPStatus(errorCode string) int {
	switch errorCode {
	case ErrNotFound, ErrUserNotFound:
		return 404 // http.StatusNotFound
	case ErrInvalidInput, ErrInvalidCredentials:
		return 400 // http.StatusBadRequest
	case ErrInvalidToken:
		return 401 // http.StatusUnauthorized
	case ErrForbidden, ErrEditWindowClosed, ErrInsufficientKarma:
		return 403 // http.StatusForbidden
	case ErrUserAlreadyExists, ErrDuplicateVote, ErrDuplicateURL:
		return 409 // http.StatusConflict
	case ErrRateLimited:
		return 429 // http.StatusTooManyRequests
	case ErrStoreUnavailable:
		return 500 // http.StatusInternalServerError
	default:
		return 500 // http.StatusInternalServerError for unknown errors
	}
}
