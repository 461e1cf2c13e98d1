package orchestrator

import "errors"

var (
	// ErrSessionNotFound is returned when an operation references an unknown session.
	ErrSessionNotFound = errors.New("session not found")
	// ErrNodeBusy is returned by NewSession when the requested node lost
	// the reservation race or was not online.
	ErrNodeBusy = errors.New("node is busy")
	// ErrModelDoesNotFit is returned when the node does not offer the
	// requested model or the requested context length exceeds the model's
	// maximum. The model's min-VRAM is not compared with the node's GPUs.
	ErrModelDoesNotFit = errors.New("model does not fit on node")
	// ErrInvalidTransition is returned when an event arrives for a
	// session not in the state the event requires.
	ErrInvalidTransition = errors.New("invalid session state transition")
	// ErrNotOwner is returned when a user references a session they do
	// not own.
	ErrNotOwner = errors.New("session does not belong to user")
	// ErrInsufficientFunds is returned by the wallet payment path when
	// the payer's balance cannot cover the session amount.
	ErrInsufficientFunds = errors.New("insufficient funds")
)
