package orchestrator

import "infermarket/internal/database"

// Event is the closed set of things that can happen to a session, per
// spec.md §4.4's transition table. handleEvent switches on the concrete
// type.
type Event interface{ eventName() string }

type newSessionEvent struct {
	session *sessionParams
}

func (newSessionEvent) eventName() string { return "NewSession" }

type paymentObservedEvent struct{}

func (paymentObservedEvent) eventName() string { return "PaymentObserved" }

type cancelRequestedEvent struct{}

func (cancelRequestedEvent) eventName() string { return "CancelRequested" }
func (cancelRequestedEvent) terminal() bool     { return true }

type invoiceExpiredEvent struct{}

func (invoiceExpiredEvent) eventName() string { return "InvoiceExpired" }
func (invoiceExpiredEvent) terminal() bool     { return true }

type nodeReadyEvent struct{}

func (nodeReadyEvent) eventName() string { return "NodeReady" }

type nodeLoadFailedEvent struct {
	reason string
}

func (nodeLoadFailedEvent) eventName() string { return "NodeLoadFailed" }
func (nodeLoadFailedEvent) terminal() bool     { return true }

type startingTimeoutEvent struct{}

func (startingTimeoutEvent) eventName() string { return "StartingTimeout" }
func (startingTimeoutEvent) terminal() bool     { return true }

type expiryTickEvent struct{}

func (expiryTickEvent) eventName() string { return "ExpiryTick" }
func (expiryTickEvent) terminal() bool     { return true }

type endRequestedEvent struct {
	requestedBy string
}

func (endRequestedEvent) eventName() string { return "EndRequested" }
func (endRequestedEvent) terminal() bool     { return true }

type nodeFailedEvent struct{}

func (nodeFailedEvent) eventName() string { return "NodeFailed" }
func (nodeFailedEvent) terminal() bool     { return true }

type modelStatusEvent struct {
	status  string
	message string
}

func (modelStatusEvent) eventName() string { return "ModelStatus" }

// sessionParams carries NewSession's inputs through the mailbox.
type sessionParams struct {
	id            string
	userID        string
	nodeID        string
	modelID       string
	hfRepo        string
	contextLength int64
	minutes       int64
	paymentMethod database.PaymentMethod
	amountSats    int64
	node          *database.Node
}
