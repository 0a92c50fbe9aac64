package apiclient

import (
	"errors"
	"fmt"
	"net/http"
)

// Code classifies a failed request.
type Code string

const (
	CodeInvalidCredentials     Code = "invalid_credentials"
	CodeSessionExpired         Code = "session_expired"
	CodeAuthenticationRequired Code = "authentication_required"
	CodeNetworkOffline         Code = "network_offline"
	CodeNetworkError           Code = "network_error"
	CodeBadRequest             Code = "bad_request"
	CodeForbidden              Code = "forbidden"
	CodeNotFound               Code = "not_found"
	CodeConflict               Code = "conflict"
	CodeRateLimit              Code = "rate_limit"
	CodeServerError            Code = "server_error"
	CodeUnknown                Code = "unknown_error"
)

var defaultMessages = map[Code]string{
	CodeInvalidCredentials:     "Incorrect email or password. Please check again.",
	CodeSessionExpired:         "Login session has expired. Please log in again.",
	CodeAuthenticationRequired: "Login is required for this service.",
	CodeNetworkOffline:         "Internet connection is lost. Please check your network connection and try again.",
	CodeNetworkError:           "Cannot connect to server. Please try again later.",
	CodeBadRequest:             "There is an error in the request. Please check your input information.",
	CodeForbidden:              "You do not have permission to perform this action.",
	CodeNotFound:               "The requested resource could not be found.",
	CodeConflict:               "The request conflicts with the current state. Please try again with the latest information.",
	CodeRateLimit:              "Too many requests sent. Please try again later.",
	CodeServerError:            "A server error occurred. Please try again later.",
	CodeUnknown:                "An unknown error occurred. Please try again later.",
}

// Message returns the default user-facing message for the code.
func (c Code) Message() string {
	if msg, ok := defaultMessages[c]; ok {
		return msg
	}
	return defaultMessages[CodeUnknown]
}

// Terminal reports whether the code ends the session.
func (c Code) Terminal() bool {
	return c == CodeSessionExpired || c == CodeAuthenticationRequired
}

// Error is the classified form of every failure returned by Client.
type Error struct {
	Code    Code
	Message string
	// Status is the HTTP status, zero when no response was received.
	Status int
	// ServerCode is the "error" field of the API error body, if any.
	ServerCode string
	Err        error
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s (%d): %s", e.Code, e.Status, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error carrying the same code, so the sentinels below work
// with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// Sentinels for errors.Is comparisons.
var (
	ErrInvalidCredentials     = &Error{Code: CodeInvalidCredentials, Message: CodeInvalidCredentials.Message()}
	ErrSessionExpired         = &Error{Code: CodeSessionExpired, Message: CodeSessionExpired.Message()}
	ErrAuthenticationRequired = &Error{Code: CodeAuthenticationRequired, Message: CodeAuthenticationRequired.Message()}
	ErrNetworkOffline         = &Error{Code: CodeNetworkOffline, Message: CodeNetworkOffline.Message()}
	ErrNetworkError           = &Error{Code: CodeNetworkError, Message: CodeNetworkError.Message()}
	ErrBadRequest             = &Error{Code: CodeBadRequest, Message: CodeBadRequest.Message()}
	ErrForbidden              = &Error{Code: CodeForbidden, Message: CodeForbidden.Message()}
	ErrNotFound               = &Error{Code: CodeNotFound, Message: CodeNotFound.Message()}
	ErrConflict               = &Error{Code: CodeConflict, Message: CodeConflict.Message()}
	ErrRateLimit              = &Error{Code: CodeRateLimit, Message: CodeRateLimit.Message()}
	ErrServerError            = &Error{Code: CodeServerError, Message: CodeServerError.Message()}
	ErrUnknown                = &Error{Code: CodeUnknown, Message: CodeUnknown.Message()}
)

func newError(code Code, status int, err error) *Error {
	return &Error{Code: code, Message: code.Message(), Status: status, Err: err}
}

// CodeOf returns the classification of err. Errors that were not produced
// by this package report CodeUnknown; nil reports "".
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	return CodeUnknown
}

// apiErrorBody is the error document returned by the API.
type apiErrorBody struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

// classifyStatus maps a non-2xx, non-401 response onto the taxonomy.
func classifyStatus(status int, body []byte) *Error {
	var code Code
	switch {
	case status == http.StatusBadRequest:
		code = CodeBadRequest
	case status == http.StatusForbidden:
		code = CodeForbidden
	case status == http.StatusNotFound:
		code = CodeNotFound
	case status == http.StatusConflict:
		code = CodeConflict
	case status == http.StatusTooManyRequests:
		code = CodeRateLimit
	case status >= http.StatusInternalServerError:
		code = CodeServerError
	default:
		code = CodeUnknown
	}

	e := newError(code, status, nil)

	var errBody apiErrorBody
	if len(body) > 0 && json.Unmarshal(body, &errBody) == nil && errBody.Error != "" {
		e.ServerCode = errBody.Error
		if code == CodeUnknown && errBody.ErrorDescription != "" {
			e.Message = errBody.ErrorDescription
		}
	}
	return e
}

// classifyTransport maps a failure without a response.
func classifyTransport(err error) *Error {
	var tErr *TransportError
	if errors.As(err, &tErr) && tErr.Offline {
		return newError(CodeNetworkOffline, 0, err)
	}
	return newError(CodeNetworkError, 0, err)
}
