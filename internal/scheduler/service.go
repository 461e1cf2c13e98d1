package scheduler

import (
	"context"
	"sync"
	"time"

	"infermarket/internal/database"
	"infermarket/internal/lightning"
	"infermarket/pkg/logger"

	"go.uber.org/zap"
)

// Config holds the Scheduler's tick intervals and timeouts, mirroring
// the coordinator config's [scheduler] section.
type Config struct {
	HeartbeatTimeout time.Duration
	HeartbeatPoll    time.Duration
	InvoicePoll      time.Duration
	ExpiryPoll       time.Duration

	// StartingTimeout bounds a normal model load; HFStartingTimeout
	// bounds a dynamic HuggingFace-repo load, which additionally has to
	// download weights and so is given much more room.
	StartingTimeout   time.Duration
	HFStartingTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.HeartbeatTimeout <= 0 {
		c.HeartbeatTimeout = 60 * time.Second
	}
	if c.HeartbeatPoll <= 0 {
		c.HeartbeatPoll = 5 * time.Second
	}
	if c.InvoicePoll <= 0 {
		c.InvoicePoll = 3 * time.Second
	}
	if c.ExpiryPoll <= 0 {
		c.ExpiryPoll = 1 * time.Second
	}
	if c.StartingTimeout <= 0 {
		c.StartingTimeout = 600 * time.Second
	}
	if c.HFStartingTimeout <= 0 {
		c.HFStartingTimeout = 1800 * time.Second
	}
	return c
}

// Service is the Expiry/Heartbeat Scheduler. It owns no state of its
// own: every sweep re-derives what needs doing from the session and
// node repositories, so a crash or restart mid-tick just repeats the
// scan on the next one.
type Service struct {
	sessions      SessionStore
	nodes         NodeRegistry
	invoices      InvoiceStore
	lg            LightningGateway
	depositLedger DepositLedger
	orch          Orchestrator

	cfg Config

	wg sync.WaitGroup
}

// NewService creates a Scheduler.
func NewService(sessions SessionStore, nodes NodeRegistry, invoices InvoiceStore, lg LightningGateway, depositLedger DepositLedger, orch Orchestrator, cfg Config) *Service {
	return &Service{
		sessions:      sessions,
		nodes:         nodes,
		invoices:      invoices,
		lg:            lg,
		depositLedger: depositLedger,
		orch:          orch,
		cfg:           cfg.withDefaults(),
	}
}

// Run starts all four sweep loops and blocks until ctx is cancelled,
// then waits for the in-flight tick of each to finish before returning.
func (s *Service) Run(ctx context.Context) {
	loops := []struct {
		name     string
		interval time.Duration
		tick     func(context.Context)
	}{
		{"expiry", s.cfg.ExpiryPoll, s.sweepExpiry},
		{"heartbeat", s.cfg.HeartbeatPoll, s.sweepHeartbeats},
		{"invoice", s.cfg.InvoicePoll, s.pollInvoices},
		{"starting_timeout", s.cfg.ExpiryPoll, s.sweepStartingTimeouts},
	}

	for _, l := range loops {
		s.wg.Add(1)
		go s.runLoop(ctx, l.name, l.interval, l.tick)
	}
	s.wg.Wait()
}

func (s *Service) runLoop(ctx context.Context, name string, interval time.Duration, tick func(context.Context)) {
	defer s.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			tick(ctx)
		}
	}
}

// sweepExpiry fires ExpiryTick for every active session whose
// expires_at has passed. It is idempotent: handleExpiryTick on the
// Orchestrator side is a no-op once the session has already left the
// active state, so a session caught by two consecutive ticks before the
// first one's transition lands is harmless.
func (s *Service) sweepExpiry(ctx context.Context) {
	sessions, err := s.sessions.ListByState(ctx, database.SessionActive)
	if err != nil {
		logger.Error("scheduler: failed to list active sessions", zap.Error(err))
		return
	}

	now := time.Now().UTC()
	for _, sess := range sessions {
		if sess.ExpiresAt == nil || now.Before(*sess.ExpiresAt) {
			continue
		}
		if err := s.orch.HandleExpiryTick(ctx, sess.ID); err != nil {
			logger.Error("scheduler: expiry tick failed", zap.String("session_id", sess.ID), zap.Error(err))
		}
	}
}

// sweepHeartbeats marks offline every node whose last heartbeat is
// older than HeartbeatTimeout. A node with no occupant is marked offline
// directly. A node found holding a session is routed through
// HandleNodeFailed instead: for an active session that settles it with a
// full refund and marks the node offline; for a session still in
// pending_payment or starting it does nothing, so such a node is not
// marked offline on this sweep.
func (s *Service) sweepHeartbeats(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-s.cfg.HeartbeatTimeout)
	stale, err := s.nodes.ListStaleHeartbeats(ctx, cutoff)
	if err != nil {
		logger.Error("scheduler: failed to list stale nodes", zap.Error(err))
		return
	}

	for _, node := range stale {
		if node.CurrentSessionID != nil {
			if err := s.orch.HandleNodeFailed(ctx, *node.CurrentSessionID); err != nil {
				logger.Error("scheduler: failed to fail session for unresponsive node",
					zap.String("node_id", node.ID), zap.String("session_id", *node.CurrentSessionID), zap.Error(err))
			}
			continue
		}
		if err := s.nodes.MarkOffline(ctx, node.ID); err != nil {
			logger.Error("scheduler: failed to mark node offline", zap.String("node_id", node.ID), zap.Error(err))
		}
	}
}

// pollInvoices checks every outstanding Lightning invoice against LND's
// own settlement record, since a node or coordinator restart can miss a
// webhook callback entirely. Session invoices route paid/expired
// invoices into the Orchestrator; deposit invoices credit the payer's
// wallet balance directly.
func (s *Service) pollInvoices(ctx context.Context) {
	s.pollSessionInvoices(ctx)
	s.pollDepositInvoices(ctx)
}

func (s *Service) pollSessionInvoices(ctx context.Context) {
	invoices, err := s.invoices.ListPendingByPurpose(ctx, database.InvoiceForSession)
	if err != nil {
		logger.Error("scheduler: failed to list pending session invoices", zap.Error(err))
		return
	}

	for _, inv := range invoices {
		result, err := s.lg.LookupInvoice(ctx, inv.PaymentHash)
		if err != nil {
			logger.Error("scheduler: invoice lookup failed", zap.String("payment_hash", inv.PaymentHash), zap.Error(err))
			continue
		}

		switch result.State {
		case lightning.InvoiceLookupPaid:
			settledAt := time.Now().UTC()
			if result.SettledAt != nil {
				settledAt = *result.SettledAt
			}
			if _, err := s.invoices.MarkPaid(ctx, inv.PaymentHash, settledAt); err != nil {
				logger.Error("scheduler: failed to mark session invoice paid", zap.String("payment_hash", inv.PaymentHash), zap.Error(err))
				continue
			}
			if err := s.orch.ObservePayment(ctx, inv.RelatedID); err != nil {
				logger.Error("scheduler: observe payment failed", zap.String("session_id", inv.RelatedID), zap.Error(err))
			}
		case lightning.InvoiceLookupExpired:
			if err := s.invoices.MarkExpired(ctx, inv.PaymentHash); err != nil {
				logger.Error("scheduler: failed to mark session invoice expired", zap.String("payment_hash", inv.PaymentHash), zap.Error(err))
				continue
			}
			if err := s.orch.HandleInvoiceExpired(ctx, inv.RelatedID); err != nil {
				logger.Error("scheduler: handle invoice expired failed", zap.String("session_id", inv.RelatedID), zap.Error(err))
			}
		}
	}
}

func (s *Service) pollDepositInvoices(ctx context.Context) {
	invoices, err := s.invoices.ListPendingByPurpose(ctx, database.InvoiceForDeposit)
	if err != nil {
		logger.Error("scheduler: failed to list pending deposit invoices", zap.Error(err))
		return
	}

	for _, inv := range invoices {
		result, err := s.lg.LookupInvoice(ctx, inv.PaymentHash)
		if err != nil {
			logger.Error("scheduler: deposit invoice lookup failed", zap.String("payment_hash", inv.PaymentHash), zap.Error(err))
			continue
		}

		switch result.State {
		case lightning.InvoiceLookupPaid:
			settledAt := time.Now().UTC()
			if result.SettledAt != nil {
				settledAt = *result.SettledAt
			}
			marked, err := s.invoices.MarkPaid(ctx, inv.PaymentHash, settledAt)
			if err != nil {
				logger.Error("scheduler: failed to mark deposit invoice paid", zap.String("payment_hash", inv.PaymentHash), zap.Error(err))
				continue
			}
			if !marked {
				continue
			}
			if _, err := s.depositLedger.Credit(ctx, inv.RelatedID, inv.AmountSats, database.TxDeposit, "lightning deposit", nil); err != nil {
				logger.Error("scheduler: failed to credit deposit", zap.String("user_id", inv.RelatedID), zap.Error(err))
			}
		case lightning.InvoiceLookupExpired:
			if err := s.invoices.MarkExpired(ctx, inv.PaymentHash); err != nil {
				logger.Error("scheduler: failed to mark deposit invoice expired", zap.String("payment_hash", inv.PaymentHash), zap.Error(err))
			}
		}
	}
}

// sweepStartingTimeouts times out any session stuck in starting past
// its model's load deadline: a dynamic HuggingFace load (empty ModelID)
// is given HFStartingTimeout to download and load weights; a catalogued
// model gets the shorter StartingTimeout.
func (s *Service) sweepStartingTimeouts(ctx context.Context) {
	sessions, err := s.sessions.ListByState(ctx, database.SessionStarting)
	if err != nil {
		logger.Error("scheduler: failed to list starting sessions", zap.Error(err))
		return
	}

	now := time.Now().UTC()
	for _, sess := range sessions {
		if sess.PaidAt == nil {
			continue
		}
		timeout := s.cfg.StartingTimeout
		if sess.ModelID == "" {
			timeout = s.cfg.HFStartingTimeout
		}
		if now.Sub(*sess.PaidAt) < timeout {
			continue
		}
		if err := s.orch.HandleStartingTimeout(ctx, sess.ID); err != nil {
			logger.Error("scheduler: starting timeout handling failed", zap.String("session_id", sess.ID), zap.Error(err))
		}
	}
}
