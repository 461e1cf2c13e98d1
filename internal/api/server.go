// Package api is the coordinator's external interface: the REST
// endpoint table of spec.md §6, the node-facing callback webhook, the
// Prometheus /metrics endpoint, and the /ws upgrade into the push Hub.
package api

import (
	"context"
	"sync"
	"time"

	"infermarket/config"
	"infermarket/internal/database"
	"infermarket/internal/lightning"
	"infermarket/internal/orchestrator"
	"infermarket/internal/push"
	"infermarket/internal/registry"

	"golang.org/x/time/rate"
)

// users is the slice of internal/database.UserRepository the API needs.
type users interface {
	Create(ctx context.Context, user *database.User) error
	GetByID(ctx context.Context, id string) (*database.User, error)
	GetByEmail(ctx context.Context, email string) (*database.User, error)
}

// nodes is the slice of internal/registry.Service the API needs.
type nodes interface {
	ListAvailable(ctx context.Context) ([]registry.AvailableNode, error)
	RegisterNode(ctx context.Context, ownerID string, caps registry.Capabilities) (*database.Node, error)
	Heartbeat(ctx context.Context, nodeID string, hardware database.HardwareDescriptor, models []database.ModelDescriptor) error
	GetByID(ctx context.Context, id string) (*database.Node, error)
}

// invoices is the slice of internal/database.InvoiceRepository the API needs.
type invoices interface {
	Create(ctx context.Context, inv *database.Invoice) error
	GetByPaymentHash(ctx context.Context, paymentHash string) (*database.Invoice, error)
}

// ledgerClient is the slice of internal/ledger.Service the API needs.
type ledgerClient interface {
	GetBalance(ctx context.Context, userID string) (int64, error)
	ListTransactions(ctx context.Context, userID string, page, size int) ([]*database.LedgerTransaction, error)
}

// orchestratorClient is the slice of internal/orchestrator.Service the API needs.
type orchestratorClient interface {
	NewSession(ctx context.Context, req orchestrator.NewSessionRequest) (*orchestrator.NewSessionResult, error)
	ObservePayment(ctx context.Context, sessionID string) error
	HandleNodeReady(ctx context.Context, sessionID string) error
	HandleNodeLoadFailed(ctx context.Context, sessionID, reason string) error
	HandleModelStatus(ctx context.Context, sessionID, status, message string) error
	EndSession(ctx context.Context, sessionID, requestedBy string) error
}

// lightningGateway is the slice of internal/lightning.Client the API needs.
type lightningGateway interface {
	CreateInvoice(ctx context.Context, amountSats int64, memo string, expirySeconds int64) (*lightning.InvoiceResult, error)
}

// eventPublisher is the slice of pkg/queue.StreamQueue the API needs to
// hand node-originated events off to the coordinator's stream consumer
// goroutines instead of mutating Orchestrator state synchronously
// inside the webhook request.
type eventPublisher interface {
	Publish(ctx context.Context, stream string, data []byte) (string, error)
}

// Server holds every dependency the API handlers close over.
type Server struct {
	users    users
	nodes    nodes
	sessions sessionStore
	invoices invoices
	ledger   ledgerClient
	orch     orchestratorClient
	lg       lightningGateway
	hub      *push.Hub
	events   eventPublisher
	tokens   *tokenIssuer
	cfg      *config.CoordinatorConfig

	limitersMu sync.Mutex
	limiters   map[string]*rate.Limiter
}

// Deps bundles Server's constructor arguments.
type Deps struct {
	Users    users
	Nodes    nodes
	Sessions sessionStore
	Invoices invoices
	Ledger   ledgerClient
	Orch     orchestratorClient
	Lightning lightningGateway
	Hub      *push.Hub
	Events   eventPublisher
	Config   *config.CoordinatorConfig
}

// NewServer wires a Server from Deps.
func NewServer(d Deps) *Server {
	ttl := time.Duration(d.Config.HTTP.JWTTTLMinutes) * time.Minute
	return &Server{
		users:    d.Users,
		nodes:    d.Nodes,
		sessions: d.Sessions,
		invoices: d.Invoices,
		ledger:   d.Ledger,
		orch:     d.Orch,
		lg:       d.Lightning,
		hub:      d.Hub,
		events:   d.Events,
		tokens:   newTokenIssuer(d.Config.HTTP.JWTSecret, ttl),
		cfg:      d.Config,
		limiters: map[string]*rate.Limiter{},
	}
}
