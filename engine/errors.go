package engine

import "fmt"

// Kind classifies engine failures for translation at the protocol boundary.
type Kind string

const (
	// KindSessionExpired means the request carried no live session.
	KindSessionExpired Kind = "session_expired"
	// KindNotAuthorized means the session is valid but lacks the required rights.
	KindNotAuthorized Kind = "not_authorized"
	// KindWrongCredentials means the password check failed on login.
	KindWrongCredentials Kind = "wrong_credentials"
)

// Error is an authorization failure. Store lookup failures (not-found,
// already-exists) pass through the engine wrapped but untyped; only the
// engine's own pre-checks produce an *Error.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func sessionExpired() error {
	return &Error{Kind: KindSessionExpired, Message: "no valid session"}
}

func notAuthorized(message string) error {
	return &Error{Kind: KindNotAuthorized, Message: message}
}
