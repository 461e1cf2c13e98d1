package api

import (
	"time"

	"infermarket/internal/database"
	"infermarket/internal/lightning"
)

type registerRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=8"`
}

type registerResponse struct {
	UserID string `json:"user_id"`
	Token  string `json:"token"`
}

type loginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

type loginResponse struct {
	Token string `json:"token"`
}

type meResponse struct {
	UserID      string `json:"user_id"`
	Email       string `json:"email"`
	BalanceSats int64  `json:"balance_sats"`
}

type modelsAvailableResponse struct {
	Models          []database.ModelDescriptor `json:"models"`
	BusyModels      []database.ModelDescriptor `json:"busy_models"`
	TotalNodesOnline int                        `json:"total_nodes_online"`
}

type nodeOnlineEntry struct {
	NodeID             string                      `json:"node_id"`
	Name               string                      `json:"name"`
	Hardware           database.HardwareDescriptor `json:"hardware"`
	PricePerMinuteSats int64                       `json:"price_per_minute_sats"`
	Models             []database.ModelDescriptor  `json:"models"`
	Status             database.NodeStatus         `json:"status"`
	BusyETA            *time.Time                  `json:"busy_eta,omitempty"`
}

type registerNodeRequest struct {
	Name               string                      `json:"name" binding:"required"`
	Endpoint           string                      `json:"endpoint" binding:"required,url"`
	Hardware           database.HardwareDescriptor `json:"hardware"`
	PricePerMinuteSats int64                       `json:"price_per_minute_sats" binding:"required,gt=0"`
	Models             []database.ModelDescriptor  `json:"models"`
}

type registerNodeResponse struct {
	NodeID         string `json:"node_id"`
	RegistrationFee int64 `json:"registration_fee"`
}

type nodeHeartbeatRequest struct {
	NodeID string                      `json:"node_id" binding:"required"`
	Load   float64                     `json:"load"` // advisory only; not persisted, busy/idle is derived from CurrentSessionID
	Models []database.ModelDescriptor  `json:"models"`
	Hardware database.HardwareDescriptor `json:"hardware"`
}

type newSessionRequest struct {
	Model         string                 `json:"model"`
	HFRepo        string                 `json:"hf_repo"`
	NodeID        string                 `json:"node_id" binding:"required"`
	Minutes       int64                  `json:"minutes" binding:"required,gt=0"`
	ContextLength int64                  `json:"context_length" binding:"required,gt=0"`
	PaymentMethod database.PaymentMethod `json:"payment_method" binding:"required,oneof=lightning wallet"`
}

type newSessionResponse struct {
	SessionID string                     `json:"session_id"`
	Invoice   *lightning.InvoiceResult   `json:"invoice,omitempty"`
	Amount    int64                      `json:"amount"`
	ExpiresAt *time.Time                 `json:"expires_at,omitempty"`
}

type checkPaymentResponse struct {
	Paid bool `json:"paid"`
}

type walletDepositRequest struct {
	Amount int64 `json:"amount" binding:"required,gt=0"`
}

type walletDepositResponse struct {
	Invoice     *lightning.InvoiceResult `json:"invoice"`
	PaymentHash string                   `json:"payment_hash"`
}

type walletDepositCheckResponse struct {
	Status database.InvoiceStatus `json:"status"`
}

type walletPaySessionRequest struct {
	SessionID string `json:"session_id" binding:"required"`
}

type walletPaySessionResponse struct {
	AmountPaid int64 `json:"amount_paid"`
	NewBalance int64 `json:"new_balance"`
}

type walletTransactionsResponse struct {
	Transactions []*database.LedgerTransaction `json:"transactions"`
}
