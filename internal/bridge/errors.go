package bridge

import "errors"

var (
	// ErrSessionNotOpen is returned when a chat_message arrives for a
	// session the Bridge has no open entry for (never active, or already
	// closed by settlement/expiry).
	ErrSessionNotOpen = errors.New("session is not active")
	// ErrSessionExpired is returned when a chat_message arrives after
	// the session's expires_at, even if Close has not yet run.
	ErrSessionExpired = errors.New("session has expired")
	// ErrGenerationBusy is returned when a chat_message arrives while a
	// prior one is still streaming.
	ErrGenerationBusy = errors.New("busy")
	// ErrBackpressure is returned when the client's push connection
	// cannot keep up with token delivery; the generation is cancelled
	// rather than buffered without bound.
	ErrBackpressure = errors.New("backpressure")
)
