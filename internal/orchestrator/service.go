package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"infermarket/internal/database"
	"infermarket/internal/ledger"
	"infermarket/internal/lightning"
	"infermarket/internal/metrics"
	"infermarket/internal/noderpc"
	"infermarket/internal/registry"
	"infermarket/pkg/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Config holds the Orchestrator's tunables, populated from the
// coordinator's [pricing] and [scheduler] config sections.
type Config struct {
	HouseUserID               string
	CommissionRateBasisPoints int64
	InvoiceExpirySeconds      int64
}

// Service is the Session Orchestrator.
type Service struct {
	mu        sync.Mutex
	mailboxes map[string]*mailbox

	sessions SessionStore
	nodes    NodeRegistry
	ledger   LedgerClient
	lg       LightningGateway
	invoices InvoiceStore
	nodeRPC  NodeCaller
	bridge   Bridge
	pusher   Pusher

	cfg Config
}

// NewService creates the Orchestrator.
func NewService(sessions SessionStore, nodes NodeRegistry, ledgerClient LedgerClient, lg LightningGateway,
	invoices InvoiceStore, nodeRPC NodeCaller, bridge Bridge, pusher Pusher, cfg Config) *Service {
	return &Service{
		mailboxes: make(map[string]*mailbox),
		sessions:  sessions,
		nodes:     nodes,
		ledger:    ledgerClient,
		lg:        lg,
		invoices:  invoices,
		nodeRPC:   nodeRPC,
		bridge:    bridge,
		pusher:    pusher,
		cfg:       cfg,
	}
}

// NewSessionRequest is NewSession's input, one row per field the API's
// new_session handler accepts.
type NewSessionRequest struct {
	UserID        string
	Node          *database.Node
	ModelID       string
	HFRepo        string
	ContextLength int64
	Minutes       int64
	PaymentMethod database.PaymentMethod
}

// NewSessionResult is NewSession's output: the persisted session and,
// for lightning payment, the invoice the client must pay.
type NewSessionResult struct {
	Session *database.Session
	Invoice *lightning.InvoiceResult
}

// NewSession reserves node, checks the requested model fits it, creates
// an invoice (lightning) or pre-checks the payer's balance (wallet), and
// persists the session in pending_payment. It runs synchronously rather
// than through a mailbox: sessionID is freshly minted here, so there is
// no prior event stream to linearize against.
func (s *Service) NewSession(ctx context.Context, req NewSessionRequest) (*NewSessionResult, error) {
	if err := checkModelFits(req.Node, req.ModelID, req.ContextLength); err != nil {
		return nil, err
	}
	if req.Minutes <= 0 {
		return nil, fmt.Errorf("%w: minutes must be positive", ErrInvalidTransition)
	}

	sessionID := uuid.New().String()
	if err := s.nodes.TryReserve(ctx, req.Node.ID, sessionID); err != nil {
		if errors.Is(err, ErrNodeBusy) || errors.Is(err, registry.ErrNodeBusy) {
			metrics.ReservationConflictsTotal.Inc()
			return nil, ErrNodeBusy
		}
		return nil, fmt.Errorf("failed to reserve node: %w", err)
	}

	amountSats := req.Node.PricePerMinuteSats * req.Minutes
	now := time.Now().UTC()

	session := &database.Session{
		ID:               sessionID,
		UserID:           req.UserID,
		NodeID:           req.Node.ID,
		ModelID:          req.ModelID,
		HFRepo:           req.HFRepo,
		ContextLength:    req.ContextLength,
		MinutesPurchased: req.Minutes,
		AmountSats:       amountSats,
		State:            database.SessionPendingPayment,
		PaymentMethod:    req.PaymentMethod,
		CreatedAt:        now,
	}

	result := &NewSessionResult{Session: session}

	switch req.PaymentMethod {
	case database.PaymentLightning:
		inv, err := s.lg.CreateInvoice(ctx, amountSats, "inference session "+sessionID, s.cfg.InvoiceExpirySeconds)
		if err != nil {
			_ = s.nodes.Release(ctx, req.Node.ID, sessionID)
			return nil, fmt.Errorf("failed to create session invoice: %w", err)
		}
		session.PaymentReference = &inv.PaymentHash
		result.Invoice = inv

		if err := s.invoices.Create(ctx, &database.Invoice{
			PaymentHash: inv.PaymentHash,
			Bolt11:      inv.Bolt11,
			AmountSats:  amountSats,
			Purpose:     database.InvoiceForSession,
			RelatedID:   sessionID,
			Status:      database.InvoicePending,
			ExpiresAt:   inv.ExpiresAt,
			CreatedAt:   now,
		}); err != nil {
			_ = s.nodes.Release(ctx, req.Node.ID, sessionID)
			return nil, fmt.Errorf("failed to persist session invoice: %w", err)
		}
	case database.PaymentWallet:
		balance, err := s.ledger.GetBalance(ctx, req.UserID)
		if err != nil {
			_ = s.nodes.Release(ctx, req.Node.ID, sessionID)
			return nil, err
		}
		if balance < amountSats {
			_ = s.nodes.Release(ctx, req.Node.ID, sessionID)
			return nil, ErrInsufficientFunds
		}
	default:
		_ = s.nodes.Release(ctx, req.Node.ID, sessionID)
		return nil, fmt.Errorf("unknown payment method %q", req.PaymentMethod)
	}

	if err := s.sessions.Create(ctx, session); err != nil {
		_ = s.nodes.Release(ctx, req.Node.ID, sessionID)
		return nil, fmt.Errorf("failed to persist session: %w", err)
	}

	logger.Info("session created", zap.String("session_id", sessionID), zap.String("node_id", req.Node.ID),
		zap.String("payment_method", string(req.PaymentMethod)))
	metrics.SessionsCreatedTotal.WithLabelValues(string(req.PaymentMethod)).Inc()
	return result, nil
}

func checkModelFits(node *database.Node, modelID string, contextLength int64) error {
	if modelID == "" {
		return nil // dynamic HF load: fit is only knowable once the node attempts it.
	}
	for _, m := range node.Models {
		if m.ID != modelID {
			continue
		}
		if contextLength > m.ContextLength {
			return fmt.Errorf("%w: requested context %d exceeds model max %d", ErrModelDoesNotFit, contextLength, m.ContextLength)
		}
		return nil
	}
	return fmt.Errorf("%w: model %q not offered by node %q", ErrModelDoesNotFit, modelID, node.ID)
}

// ObservePayment posts PaymentObserved for sessionID.
func (s *Service) ObservePayment(ctx context.Context, sessionID string) error {
	return s.dispatch(ctx, sessionID, paymentObservedEvent{})
}

// CancelSession posts CancelRequested for sessionID.
func (s *Service) CancelSession(ctx context.Context, sessionID string) error {
	return s.dispatch(ctx, sessionID, cancelRequestedEvent{})
}

// HandleInvoiceExpired posts InvoiceExpired for sessionID.
func (s *Service) HandleInvoiceExpired(ctx context.Context, sessionID string) error {
	return s.dispatch(ctx, sessionID, invoiceExpiredEvent{})
}

// HandleNodeReady posts NodeReady for sessionID.
func (s *Service) HandleNodeReady(ctx context.Context, sessionID string) error {
	return s.dispatch(ctx, sessionID, nodeReadyEvent{})
}

// HandleNodeLoadFailed posts NodeLoadFailed for sessionID.
func (s *Service) HandleNodeLoadFailed(ctx context.Context, sessionID, reason string) error {
	return s.dispatch(ctx, sessionID, nodeLoadFailedEvent{reason: reason})
}

// HandleStartingTimeout posts StartingTimeout for sessionID.
func (s *Service) HandleStartingTimeout(ctx context.Context, sessionID string) error {
	return s.dispatch(ctx, sessionID, startingTimeoutEvent{})
}

// HandleExpiryTick posts ExpiryTick for sessionID.
func (s *Service) HandleExpiryTick(ctx context.Context, sessionID string) error {
	return s.dispatch(ctx, sessionID, expiryTickEvent{})
}

// EndSession posts EndRequested for sessionID, attributed to requestedBy.
func (s *Service) EndSession(ctx context.Context, sessionID, requestedBy string) error {
	return s.dispatch(ctx, sessionID, endRequestedEvent{requestedBy: requestedBy})
}

// HandleNodeFailed posts NodeFailed for sessionID, used by the
// Scheduler's heartbeat sweep when a node holding an active session goes
// stale.
func (s *Service) HandleNodeFailed(ctx context.Context, sessionID string) error {
	return s.dispatch(ctx, sessionID, nodeFailedEvent{})
}

// HandleModelStatus posts a ModelStatus progress update (downloading,
// loading) for relay to the user's push channel; it never changes session state.
func (s *Service) HandleModelStatus(ctx context.Context, sessionID, status, message string) error {
	return s.dispatch(ctx, sessionID, modelStatusEvent{status: status, message: message})
}

// handleEvent is the single place that switches on event type and drives
// the session's state machine, per the session orchestrator's transition
// table. It always runs inside the session's mailbox goroutine.
func (s *Service) handleEvent(ctx context.Context, sessionID string, event Event) error {
	switch ev := event.(type) {
	case paymentObservedEvent:
		return s.handlePaymentObserved(ctx, sessionID)
	case cancelRequestedEvent:
		return s.handlePendingPaymentTerminal(ctx, sessionID, "session cancelled")
	case invoiceExpiredEvent:
		return s.handlePendingPaymentTerminal(ctx, sessionID, "invoice expired")
	case nodeReadyEvent:
		return s.handleNodeReady(ctx, sessionID)
	case nodeLoadFailedEvent:
		return s.handleStartingFailure(ctx, sessionID, ev.reason)
	case startingTimeoutEvent:
		return s.handleStartingFailure(ctx, sessionID, "starting timed out")
	case expiryTickEvent:
		return s.handleExpiryTick(ctx, sessionID)
	case endRequestedEvent:
		return s.handleEndRequested(ctx, sessionID)
	case nodeFailedEvent:
		return s.handleNodeFailedMidSession(ctx, sessionID)
	case modelStatusEvent:
		return s.handleModelStatus(ctx, sessionID, ev)
	default:
		return fmt.Errorf("unhandled event type %T", event)
	}
}

func (s *Service) handlePaymentObserved(ctx context.Context, sessionID string) error {
	sess, err := s.sessions.GetByID(ctx, sessionID)
	if err != nil {
		return err
	}
	if sess.State != database.SessionPendingPayment {
		return nil // already observed; idempotent no-op.
	}

	if sess.PaymentMethod == database.PaymentWallet {
		if _, err := s.ledger.Debit(ctx, sess.UserID, sess.AmountSats, database.TxSessionPayment, "session payment", &sessionID); err != nil {
			if errors.Is(err, ledger.ErrInsufficientFunds) {
				_ = s.nodes.Release(ctx, sess.NodeID, sessionID)
				_ = s.sessions.End(ctx, sessionID, time.Now().UTC())
				s.pushError(sess.UserID, sessionID, "insufficient funds")
				return ErrInsufficientFunds
			}
			return fmt.Errorf("failed to debit session payment: %w", err)
		}
	}

	paidAt := time.Now().UTC()
	ok, err := s.sessions.MarkPaid(ctx, sessionID, paidAt, database.SessionStarting)
	if err != nil {
		return fmt.Errorf("failed to mark session paid: %w", err)
	}
	if !ok {
		return nil // a racing duplicate observation already marked it paid.
	}

	node, err := s.nodes.GetByID(ctx, sess.NodeID)
	if err != nil {
		return s.handleStartingFailure(ctx, sessionID, "node no longer available")
	}

	loadReq := noderpc.LoadModelRequest{ModelID: sess.ModelID, HFRepo: sess.HFRepo, ContextLength: sess.ContextLength}
	if err := s.nodeRPC.LoadModel(ctx, node.Endpoint, loadReq); err != nil {
		return s.handleStartingFailure(ctx, sessionID, "failed to dispatch model load: "+err.Error())
	}

	s.pusher.PushToUser(sess.UserID, map[string]any{"type": "session_started", "session_id": sessionID})
	return nil
}

func (s *Service) handlePendingPaymentTerminal(ctx context.Context, sessionID, reason string) error {
	sess, err := s.sessions.GetByID(ctx, sessionID)
	if err != nil {
		return err
	}
	if sess.State != database.SessionPendingPayment {
		return nil
	}
	if err := s.nodes.Release(ctx, sess.NodeID, sessionID); err != nil {
		logger.Warn("failed to release node on pending-payment termination", zap.String("session_id", sessionID), zap.Error(err))
	}
	if err := s.sessions.End(ctx, sessionID, time.Now().UTC()); err != nil {
		return fmt.Errorf("failed to end session: %w", err)
	}
	s.pusher.PushToUser(sess.UserID, map[string]any{"type": "session_ended", "session_id": sessionID, "reason": reason})
	return nil
}

func (s *Service) handleNodeReady(ctx context.Context, sessionID string) error {
	sess, err := s.sessions.GetByID(ctx, sessionID)
	if err != nil {
		return err
	}
	if sess.State != database.SessionStarting {
		return nil
	}

	now := time.Now().UTC()
	expiresAt := now.Add(time.Duration(sess.MinutesPurchased) * time.Minute)
	ok, err := s.sessions.MarkStarted(ctx, sessionID, now, expiresAt)
	if err != nil {
		return fmt.Errorf("failed to mark session started: %w", err)
	}
	if !ok {
		return nil
	}

	node, err := s.nodes.GetByID(ctx, sess.NodeID)
	if err != nil {
		return fmt.Errorf("failed to load node for active session: %w", err)
	}
	s.bridge.Open(sessionID, node.Endpoint, expiresAt)
	s.pusher.PushToUser(sess.UserID, map[string]any{"type": "session_ready", "session_id": sessionID, "expires_at": expiresAt})
	return nil
}

// handleStartingFailure refunds the full session amount and releases the
// node: NodeLoadFailed, a starting-phase timeout, or a node that vanished
// between reservation and load all land here since no service was ever
// rendered.
func (s *Service) handleStartingFailure(ctx context.Context, sessionID, reason string) error {
	sess, err := s.sessions.GetByID(ctx, sessionID)
	if err != nil {
		return err
	}
	if sess.State != database.SessionStarting {
		return nil
	}

	if err := s.sessions.SetState(ctx, sessionID, database.SessionRefunding); err != nil {
		return fmt.Errorf("failed to set refunding state: %w", err)
	}
	// Credited to the internal balance regardless of payment method: a
	// lightning payment already settled into the coordinator's LG node,
	// so "refund" here means the same thing settle() means by it — a
	// Ledger credit, not an outbound Lightning payment.
	if _, err := s.ledger.Credit(ctx, sess.UserID, sess.AmountSats, database.TxRefund, "session refund: "+reason, &sessionID); err != nil {
		return fmt.Errorf("failed to refund session: %w", err)
	}
	if err := s.nodes.Release(ctx, sess.NodeID, sessionID); err != nil {
		logger.Warn("failed to release node after starting failure", zap.String("session_id", sessionID), zap.Error(err))
	}
	if err := s.sessions.End(ctx, sessionID, time.Now().UTC()); err != nil {
		return fmt.Errorf("failed to end session: %w", err)
	}
	logger.Info("session refunded after starting failure", zap.String("session_id", sessionID), zap.String("reason", reason))
	s.pusher.PushToUser(sess.UserID, map[string]any{"type": "session_ended", "session_id": sessionID, "reason": reason})
	return nil
}

func (s *Service) handleExpiryTick(ctx context.Context, sessionID string) error {
	sess, err := s.sessions.GetByID(ctx, sessionID)
	if err != nil {
		return err
	}
	if sess.State != database.SessionActive {
		return nil
	}
	return s.settle(ctx, sess, sess.MinutesPurchased, "expired")
}

func (s *Service) handleEndRequested(ctx context.Context, sessionID string) error {
	sess, err := s.sessions.GetByID(ctx, sessionID)
	if err != nil {
		return err
	}
	if sess.State != database.SessionActive {
		return nil
	}

	minutesElapsed := sess.MinutesPurchased
	if sess.StartedAt != nil {
		elapsed := time.Since(*sess.StartedAt)
		minutesElapsed = int64(math.Ceil(elapsed.Minutes()))
		if minutesElapsed < 0 {
			minutesElapsed = 0
		}
		if minutesElapsed > sess.MinutesPurchased {
			minutesElapsed = sess.MinutesPurchased
		}
	}
	return s.settle(ctx, sess, minutesElapsed, "ended by user")
}

// handleNodeFailedMidSession is the Scheduler's heartbeat sweep reporting
// that a node holding an active session went stale. Per the full-refund
// on coordinator-detected node failure decision, no portion is charged:
// the user did not choose to end early, so none of the unused time is
// billed, unlike handleEndRequested's proration.
func (s *Service) handleNodeFailedMidSession(ctx context.Context, sessionID string) error {
	sess, err := s.sessions.GetByID(ctx, sessionID)
	if err != nil {
		return err
	}
	if sess.State != database.SessionActive {
		return nil
	}
	if err := s.settle(ctx, sess, 0, "node failed"); err != nil {
		return err
	}
	if err := s.nodes.MarkOffline(ctx, sess.NodeID); err != nil {
		logger.Warn("failed to mark failed node offline", zap.String("node_id", sess.NodeID), zap.Error(err))
	}
	return nil
}

// settle closes out an active session: it bills minutesCharged (capped
// at the purchased minutes), splits the charge between the node owner
// and house commission, refunds any unused remainder, stops the node's
// generation, closes the Streaming Bridge, releases the node, and ends
// the session.
func (s *Service) settle(ctx context.Context, sess *database.Session, minutesCharged int64, reason string) error {
	if err := s.sessions.SetState(ctx, sess.ID, database.SessionSettling); err != nil {
		return fmt.Errorf("failed to set settling state: %w", err)
	}

	s.bridge.Close(sess.ID)
	if node, err := s.nodes.GetByID(ctx, sess.NodeID); err == nil {
		s.nodeRPC.StopModel(ctx, node.Endpoint)
	}

	pricePerMinute := int64(0)
	if sess.MinutesPurchased > 0 {
		pricePerMinute = sess.AmountSats / sess.MinutesPurchased
	}
	chargeAmount := pricePerMinute * minutesCharged
	if chargeAmount > sess.AmountSats {
		chargeAmount = sess.AmountSats
	}
	refundAmount := sess.AmountSats - chargeAmount

	node, err := s.nodes.GetByID(ctx, sess.NodeID)
	if err != nil {
		return fmt.Errorf("failed to load node for settlement: %w", err)
	}

	if chargeAmount > 0 {
		fee := chargeAmount * s.cfg.CommissionRateBasisPoints / 10000
		netEarning := chargeAmount - fee
		if netEarning > 0 {
			if _, err := s.ledger.Credit(ctx, node.OwnerUserID, netEarning, database.TxNodeEarning, "node earning", &sess.ID); err != nil {
				return fmt.Errorf("failed to credit node owner: %w", err)
			}
		}
		if fee > 0 {
			if _, err := s.ledger.Credit(ctx, s.cfg.HouseUserID, fee, database.TxCommission, "platform commission", &sess.ID); err != nil {
				return fmt.Errorf("failed to credit house commission: %w", err)
			}
		}
	}
	if refundAmount > 0 {
		if _, err := s.ledger.Credit(ctx, sess.UserID, refundAmount, database.TxRefund, "session refund: "+reason, &sess.ID); err != nil {
			return fmt.Errorf("failed to refund unused session balance: %w", err)
		}
	}

	if err := s.nodes.Release(ctx, sess.NodeID, sess.ID); err != nil {
		logger.Warn("failed to release node at settlement", zap.String("session_id", sess.ID), zap.Error(err))
	}
	if err := s.sessions.End(ctx, sess.ID, time.Now().UTC()); err != nil {
		return fmt.Errorf("failed to end session: %w", err)
	}

	logger.Info("session settled", zap.String("session_id", sess.ID), zap.Int64("minutes_charged", minutesCharged),
		zap.Int64("charge_amount_sats", chargeAmount), zap.Int64("refund_amount_sats", refundAmount), zap.String("reason", reason))
	metrics.SessionsSettledTotal.WithLabelValues(reason).Inc()
	metrics.SettlementAmountSats.Add(float64(chargeAmount))
	s.pusher.PushToUser(sess.UserID, map[string]any{"type": "session_ended", "session_id": sess.ID, "reason": reason})
	return nil
}

func (s *Service) handleModelStatus(ctx context.Context, sessionID string, ev modelStatusEvent) error {
	sess, err := s.sessions.GetByID(ctx, sessionID)
	if err != nil {
		return err
	}
	s.pusher.PushToUser(sess.UserID, map[string]any{
		"type":       "model_status",
		"session_id": sessionID,
		"status":     ev.status,
		"message":    ev.message,
	})
	return nil
}

func (s *Service) pushError(userID, sessionID, message string) {
	s.pusher.PushToUser(userID, map[string]any{"type": "error", "session_id": sessionID, "message": message})
}
