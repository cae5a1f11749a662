package errors

import (
	"github.com/mezonai/certsync/jsonx"
)

// NetworkErrorCode represents standardized error codes for RPC responses
type NetworkErrorCode string

const (
	ErrCodeInternal        NetworkErrorCode = "internal_error"
	ErrCodeInvalidRequest  NetworkErrorCode = "invalid_request"
	ErrCodeNotYetAvailable NetworkErrorCode = "not_yet_available"
	ErrCodeNoGenesis       NetworkErrorCode = "no_genesis"
	ErrCodeRateLimited     NetworkErrorCode = "rate_limited"
)

const (
	ErrMsgInvalidRequest   = "Request format is invalid"
	ErrMsgInternal         = "Server error, please try again"
	ErrMsgPayloadNotFound  = "Payload for block %d is not available"
	ErrMsgCertNotFound     = "Certificate for block %d is not available"
	ErrMsgGenesisNotSet    = "Node has no genesis yet"
	ErrMsgRangeTooLarge    = "Requested range exceeds maximum (%d blocks)"
	ErrMsgUnknownFetchKind = "Unknown request kind '%s'"
	ErrMsgRateLimited      = "Too many sync requests, slow down"
)

// NetworkError represents a standardized network error
type NetworkError struct {
	Code    NetworkErrorCode `json:"code"`
	Message string           `json:"message"`
}

// Error implements the error interface
func (e *NetworkError) Error() string {
	err, _ := jsonx.Marshal(NetworkError{
		Code:    e.Code,
		Message: e.Message,
	})
	return string(err)
}

// Kind maps a wire error code back to the sentinel the fetchers retry on.
func (e *NetworkError) Kind() error {
	switch e.Code {
	case ErrCodeNotYetAvailable, ErrCodeNoGenesis:
		return ErrNotYetAvailable
	default:
		return ErrUnavailable
	}
}

// NewError creates a new NetworkError and returns it as error interface
func NewError(code NetworkErrorCode, message string) error {
	return &NetworkError{
		Code:    code,
		Message: message,
	}
}
