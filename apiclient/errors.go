package apiclient

import "errors"

// AuthMessage is the message surfaced when no usable identity is available.
const AuthMessage = "authentication required: please sign in again"

// GenericFailureMessage is used when a failed response carries no detail.
const GenericFailureMessage = "API request failed"

// AuthError indicates there is no signed-in principal or its token could not be obtained.
// The caller has to re-authenticate; the request never reached the backend.
type AuthError struct {
	Err error
}

func (e AuthError) Error() string {
	return AuthMessage
}

func (e AuthError) Unwrap() error {
	return e.Err
}

// TransportError indicates no response was obtained, or a success body could not be decoded.
type TransportError struct {
	Err error
}

func (e TransportError) Error() string {
	if e.Err == nil {
		return "transport: request failed"
	}
	return "transport: " + e.Err.Error()
}

func (e TransportError) Unwrap() error {
	return e.Err
}

// ApplicationError is a non-success response from the backend.
type ApplicationError struct {
	Status  int
	Message string
}

func (e ApplicationError) Error() string {
	return e.Message
}

// IsAuth reports whether err is an AuthError.
func IsAuth(err error) bool {
	var auth AuthError
	return errors.As(err, &auth)
}

// IsTransport reports whether err is a TransportError.
func IsTransport(err error) bool {
	var transport TransportError
	return errors.As(err, &transport)
}

func errorTypeLabel(err error) string {
	if err == nil {
		return "unknown"
	}
	var auth AuthError
	if errors.As(err, &auth) {
		return "auth"
	}
	var transport TransportError
	if errors.As(err, &transport) {
		return "transport"
	}
	var app ApplicationError
	if errors.As(err, &app) {
		return "application"
	}
	return "other"
}
