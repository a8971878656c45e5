package errors

import "net/http"

// ErrorCode represents a unique error identifier.
//
// 10000-10999: common errors
// 11000-11999: auth errors
// 13000-13999: execution errors
type ErrorCode int

const (
	Success ErrorCode = 10000

	InternalServerError ErrorCode = 10001
	InvalidParams       ErrorCode = 10002
	NotFound            ErrorCode = 10003
	Unauthorized        ErrorCode = 10004
	Forbidden           ErrorCode = 10005
	ServiceUnavailable  ErrorCode = 10007

	DatabaseError ErrorCode = 10100
	CacheError    ErrorCode = 10200

	TokenInvalid ErrorCode = 11000
	TokenExpired ErrorCode = 11001

	TestCasesNotFound  ErrorCode = 13000
	SandboxStartFailed ErrorCode = 13001
	UnknownCategory    ErrorCode = 13002
	CodeTooLarge       ErrorCode = 13003
	SubmissionNotFound ErrorCode = 13004
)

var codeMessages = map[ErrorCode]string{
	Success:             "Success",
	InternalServerError: "Internal server error",
	InvalidParams:       "Invalid parameters",
	NotFound:            "Resource not found",
	Unauthorized:        "Unauthorized",
	Forbidden:           "Forbidden",
	ServiceUnavailable:  "Service unavailable",
	DatabaseError:       "Database error",
	CacheError:          "Cache error",
	TokenInvalid:        "Invalid token",
	TokenExpired:        "Token expired",
	TestCasesNotFound:   "No test cases found for problem",
	SandboxStartFailed:  "Failed to start sandbox",
	UnknownCategory:     "Unknown problem category",
	CodeTooLarge:        "Code exceeds size limit",
	SubmissionNotFound:  "Submission not found",
}

// Message returns the default message for the code.
func (c ErrorCode) Message() string {
	if msg, ok := codeMessages[c]; ok {
		return msg
	}
	return "Unknown error"
}

// HTTPStatus maps the code to an HTTP status.
func (c ErrorCode) HTTPStatus() int {
	switch c {
	case Success:
		return http.StatusOK
	case InvalidParams, UnknownCategory, CodeTooLarge:
		return http.StatusBadRequest
	case Unauthorized, TokenInvalid, TokenExpired:
		return http.StatusUnauthorized
	case Forbidden:
		return http.StatusForbidden
	case NotFound, TestCasesNotFound, SubmissionNotFound:
		return http.StatusNotFound
	case ServiceUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
