package api

import (
	"net/http"
	"strconv"

	"infermarket/internal/apierr"
	"infermarket/internal/database"

	"github.com/gin-gonic/gin"
)

func (s *Server) handleWalletDeposit(c *gin.Context) {
	var req walletDepositRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apierr.RespondKind(c, apierr.ValidationError, err.Error())
		return
	}

	userID := userIDFromContext(c)
	inv, err := s.lg.CreateInvoice(c.Request.Context(), req.Amount, "wallet deposit for "+userID, s.cfg.Lightning.InvoiceExpirySeconds)
	if err != nil {
		apierr.Respond(c, err)
		return
	}

	if err := s.invoices.Create(c.Request.Context(), &database.Invoice{
		PaymentHash: inv.PaymentHash,
		Bolt11:      inv.Bolt11,
		AmountSats:  req.Amount,
		Purpose:     database.InvoiceForDeposit,
		RelatedID:   userID,
		Status:      database.InvoicePending,
		ExpiresAt:   inv.ExpiresAt,
	}); err != nil {
		apierr.Respond(c, err)
		return
	}

	c.JSON(http.StatusCreated, walletDepositResponse{Invoice: inv, PaymentHash: inv.PaymentHash})
}

func (s *Server) handleWalletDepositCheck(c *gin.Context) {
	hash := c.Param("hash")
	inv, err := s.invoices.GetByPaymentHash(c.Request.Context(), hash)
	if err != nil {
		apierr.Respond(c, err)
		return
	}

	c.JSON(http.StatusOK, walletDepositCheckResponse{Status: inv.Status})
}

// handleWalletPaySession debits the session's cost from the caller's
// wallet balance, the trigger a wallet-paid session waits in
// pending_payment for (a lightning-paid session instead transitions
// when the Scheduler observes the invoice settle).
func (s *Server) handleWalletPaySession(c *gin.Context) {
	var req walletPaySessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apierr.RespondKind(c, apierr.ValidationError, err.Error())
		return
	}

	sess, err := s.sessions.GetByID(c.Request.Context(), req.SessionID)
	if err != nil {
		apierr.Respond(c, err)
		return
	}
	userID := userIDFromContext(c)
	if sess.UserID != userID {
		apierr.RespondKind(c, apierr.Forbidden, "session does not belong to user")
		return
	}
	if sess.PaymentMethod != database.PaymentWallet {
		apierr.RespondKind(c, apierr.ValidationError, "session was not created for wallet payment")
		return
	}

	if err := s.orch.ObservePayment(c.Request.Context(), req.SessionID); err != nil {
		apierr.Respond(c, err)
		return
	}

	balance, err := s.ledger.GetBalance(c.Request.Context(), userID)
	if err != nil {
		apierr.Respond(c, err)
		return
	}

	c.JSON(http.StatusOK, walletPaySessionResponse{AmountPaid: sess.AmountSats, NewBalance: balance})
}

func (s *Server) handleWalletTransactions(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	size, _ := strconv.Atoi(c.DefaultQuery("size", "50"))
	if page <= 0 {
		page = 1
	}
	if size <= 0 || size > 200 {
		size = 50
	}

	txs, err := s.ledger.ListTransactions(c.Request.Context(), userIDFromContext(c), page-1, size)
	if err != nil {
		apierr.Respond(c, err)
		return
	}

	c.JSON(http.StatusOK, walletTransactionsResponse{Transactions: txs})
}
