package database

import (
	"fmt"
	"time"
)

// SessionState represents the lifecycle state of a session.
type SessionState string

// NodeStatus represents the liveness state of a node.
type NodeStatus string

// PaymentMethod represents how a session's access was paid for.
type PaymentMethod string

// LedgerTxType represents the kind of ledger transaction.
type LedgerTxType string

// InvoicePurpose represents what an invoice was created for.
type InvoicePurpose string

// InvoiceStatus represents the settlement state of an invoice.
type InvoiceStatus string

const (
	SessionPendingPayment SessionState = "pending_payment"
	SessionStarting       SessionState = "starting"
	SessionActive         SessionState = "active"
	SessionSettling       SessionState = "settling"
	SessionRefunding      SessionState = "refunding"
	SessionEnded          SessionState = "ended"
)

func (s SessionState) String() string { return string(s) }

// ParseSessionState parses a persisted session state string. Returns an
// error for any value not produced by this package, so a corrupt or
// hand-edited row is caught at read time rather than silently misrouted.
func ParseSessionState(s string) (SessionState, error) {
	switch SessionState(s) {
	case SessionPendingPayment, SessionStarting, SessionActive, SessionSettling, SessionRefunding, SessionEnded:
		return SessionState(s), nil
	default:
		return "", fmt.Errorf("unknown session state %q", s)
	}
}

const (
	NodeOnline  NodeStatus = "online"
	NodeBusy    NodeStatus = "busy"
	NodeOffline NodeStatus = "offline"
)

func (s NodeStatus) String() string { return string(s) }

func ParseNodeStatus(s string) (NodeStatus, error) {
	switch NodeStatus(s) {
	case NodeOnline, NodeBusy, NodeOffline:
		return NodeStatus(s), nil
	default:
		return "", fmt.Errorf("unknown node status %q", s)
	}
}

const (
	PaymentLightning PaymentMethod = "lightning"
	PaymentWallet    PaymentMethod = "wallet"
)

func (m PaymentMethod) String() string { return string(m) }

func ParsePaymentMethod(s string) (PaymentMethod, error) {
	switch PaymentMethod(s) {
	case PaymentLightning, PaymentWallet:
		return PaymentMethod(s), nil
	default:
		return "", fmt.Errorf("unknown payment method %q", s)
	}
}

const (
	TxDeposit        LedgerTxType = "deposit"
	TxSessionPayment LedgerTxType = "session_payment"
	TxNodeEarning    LedgerTxType = "node_earning"
	TxCommission     LedgerTxType = "commission"
	TxWithdrawal     LedgerTxType = "withdrawal"
	TxRefund         LedgerTxType = "refund"
)

func (t LedgerTxType) String() string { return string(t) }

func ParseLedgerTxType(s string) (LedgerTxType, error) {
	switch LedgerTxType(s) {
	case TxDeposit, TxSessionPayment, TxNodeEarning, TxCommission, TxWithdrawal, TxRefund:
		return LedgerTxType(s), nil
	default:
		return "", fmt.Errorf("unknown ledger transaction type %q", s)
	}
}

const (
	InvoiceForDeposit InvoicePurpose = "deposit"
	InvoiceForSession InvoicePurpose = "session"
)

func (p InvoicePurpose) String() string { return string(p) }

func ParseInvoicePurpose(s string) (InvoicePurpose, error) {
	switch InvoicePurpose(s) {
	case InvoiceForDeposit, InvoiceForSession:
		return InvoicePurpose(s), nil
	default:
		return "", fmt.Errorf("unknown invoice purpose %q", s)
	}
}

const (
	InvoicePending InvoiceStatus = "pending"
	InvoicePaid    InvoiceStatus = "paid"
	InvoiceExpired InvoiceStatus = "expired"
)

func (s InvoiceStatus) String() string { return string(s) }

func ParseInvoiceStatus(s string) (InvoiceStatus, error) {
	switch InvoiceStatus(s) {
	case InvoicePending, InvoicePaid, InvoiceExpired:
		return InvoiceStatus(s), nil
	default:
		return "", fmt.Errorf("unknown invoice status %q", s)
	}
}

// User is an identity holding a prepaid sats balance.
//
// BalanceSats mirrors the authoritative sum of that user's ledger
// transactions; it is only trustworthy when read inside a Ledger
// transaction (see internal/ledger).
type User struct {
	ID           string    `json:"id" db:"id"`
	Email        string    `json:"email" db:"email"`
	PasswordHash string    `json:"-" db:"password_hash"`
	IsAdmin      bool      `json:"is_admin" db:"is_admin"`
	BalanceSats  int64     `json:"balance_sats" db:"balance_sats"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
}

// GPU describes one graphics card reported by a node heartbeat.
type GPU struct {
	Name     string `json:"name"`
	VRAMMB   int64  `json:"vram_mb"`
}

// HardwareDescriptor is the resource shape a node advertises.
type HardwareDescriptor struct {
	CPU    string `json:"cpu"`
	RAMMB  int64  `json:"ram_mb"`
	DiskMB int64  `json:"disk_mb"`
	GPUs   []GPU  `json:"gpus"`
}

// ModelDescriptor describes one model a node can serve.
type ModelDescriptor struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	Architecture   string `json:"architecture"`
	ParameterCount string `json:"parameter_count"`
	Quantization   string `json:"quantization"`
	ContextLength  int64  `json:"context_length"`
	MinVRAMMB      int64  `json:"min_vram_mb"`
}

// Node is a remote machine registered with the coordinator that runs an
// LLM runtime and accepts session load/chat/stop RPCs.
type Node struct {
	ID                 string             `json:"node_id" db:"id"`
	Name               string             `json:"name" db:"name"`
	OwnerUserID        string             `json:"owner_user_id" db:"owner_user_id"`
	Endpoint           string             `json:"endpoint" db:"endpoint"`
	Hardware           HardwareDescriptor `json:"hardware" db:"hardware"`
	PricePerMinuteSats int64              `json:"price_per_minute_sats" db:"price_per_minute_sats"`
	Models             []ModelDescriptor  `json:"models" db:"models"`
	Status             NodeStatus         `json:"status" db:"status"`
	CurrentSessionID   *string            `json:"current_session_id,omitempty" db:"current_session_id"`
	LastHeartbeatAt    time.Time          `json:"last_heartbeat_at" db:"last_heartbeat_at"`
	CreatedAt          time.Time          `json:"created_at" db:"created_at"`
}

// IsOnline reports whether the node's last heartbeat is within timeout,
// the rule the Registry and Scheduler both apply to decide liveness.
func (n *Node) IsOnline(now time.Time, heartbeatTimeout time.Duration) bool {
	return now.Sub(n.LastHeartbeatAt) <= heartbeatTimeout
}

// Session is a time-bounded exclusive right for one user to issue chat
// requests to one node running one model.
type Session struct {
	ID               string        `json:"session_id" db:"id"`
	UserID           string        `json:"user_id" db:"user_id"`
	NodeID           string        `json:"node_id" db:"node_id"`
	ModelID          string        `json:"model_id,omitempty" db:"model_id"`
	HFRepo           string        `json:"hf_repo,omitempty" db:"hf_repo"`
	ContextLength    int64         `json:"context_length" db:"context_length"`
	MinutesPurchased int64         `json:"minutes_purchased" db:"minutes_purchased"`
	AmountSats       int64         `json:"amount_sats" db:"amount_sats"`
	State            SessionState  `json:"state" db:"state"`
	PaymentMethod    PaymentMethod `json:"payment_method" db:"payment_method"`
	PaymentReference *string       `json:"payment_reference,omitempty" db:"payment_reference"`
	CreatedAt        time.Time     `json:"created_at" db:"created_at"`
	PaidAt           *time.Time    `json:"paid_at,omitempty" db:"paid_at"`
	StartedAt        *time.Time    `json:"started_at,omitempty" db:"started_at"`
	ExpiresAt        *time.Time    `json:"expires_at,omitempty" db:"expires_at"`
	EndedAt          *time.Time    `json:"ended_at,omitempty" db:"ended_at"`
}

// UsesDynamicModel reports whether this session loads a model by
// HuggingFace coordinate rather than a preloaded model id on the node.
func (s *Session) UsesDynamicModel() bool {
	return s.HFRepo != ""
}

// LedgerTransaction is one signed movement of a user's balance. Every
// balance mutation has exactly one matching row.
type LedgerTransaction struct {
	ID               string       `json:"id" db:"id"`
	UserID           string       `json:"user_id" db:"user_id"`
	Type             LedgerTxType `json:"type" db:"type"`
	AmountSats       int64        `json:"amount_sats" db:"amount_sats"`
	FeeSats          int64        `json:"fee_sats" db:"fee_sats"`
	Description      string       `json:"description" db:"description"`
	RelatedSessionID *string      `json:"related_session_id,omitempty" db:"related_session_id"`
	CreatedAt        time.Time    `json:"created_at" db:"created_at"`
}

// Invoice is the single source of truth for "paid" outside the Lightning
// daemon; it is only updated after the daemon confirms settlement.
type Invoice struct {
	PaymentHash string         `json:"payment_hash" db:"payment_hash"`
	Bolt11      string         `json:"bolt11" db:"bolt11"`
	AmountSats  int64          `json:"amount_sats" db:"amount_sats"`
	Purpose     InvoicePurpose `json:"purpose" db:"purpose"`
	RelatedID   string         `json:"related_id" db:"related_id"`
	Status      InvoiceStatus  `json:"status" db:"status"`
	ExpiresAt   time.Time      `json:"expires_at" db:"expires_at"`
	CreatedAt   time.Time      `json:"created_at" db:"created_at"`
	SettledAt   *time.Time     `json:"settled_at,omitempty" db:"settled_at"`
}
