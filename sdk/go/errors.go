package cvforgeauth

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors returned by the client.
var (
	// ErrNoToken is returned when no access token is found in the request.
	ErrNoToken = errors.New("cvforgeauth: no access token provided")

	// ErrTokenInvalid is returned when the access token is invalid or expired.
	ErrTokenInvalid = errors.New("cvforgeauth: token is invalid or expired")

	// ErrTokenForbidden is returned when the token is valid but the user lacks permission.
	ErrTokenForbidden = errors.New("cvforgeauth: access forbidden")
)

// APIError represents an error response from cvforge-auth.
type APIError struct {
	StatusCode int    `json:"-"`
	Code       string `json:"code"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("cvforgeauth: API error %d [%s]: %s", e.StatusCode, e.Code, e.Message)
}

// Is lets errors.Is match token failures against the sentinels.
func (e *APIError) Is(target error) bool {
	switch target {
	case ErrTokenInvalid:
		return e.StatusCode == http.StatusUnauthorized
	case ErrTokenForbidden:
		return e.StatusCode == http.StatusForbidden
	}
	return false
}

// apiErrorWrapper matches the error envelope.
type apiErrorWrapper struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func parseAPIError(statusCode int, body []byte) error {
	var wrapper apiErrorWrapper
	if err := json.Unmarshal(body, &wrapper); err == nil && wrapper.Error.Code != "" {
		return &APIError{
			StatusCode: statusCode,
			Code:       wrapper.Error.Code,
			Message:    wrapper.Error.Message,
		}
	}

	return &APIError{
		StatusCode: statusCode,
		Code:       "unknown",
		Message:    string(body),
	}
}

// IsAPIError checks whether err is an APIError and returns it.
func IsAPIError(err error) (*APIError, bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}
