package api

import (
	"net/http"

	"infermarket/internal/apierr"
	"infermarket/internal/noderpc"
	"infermarket/internal/orchestrator"
	"infermarket/internal/queue"

	"github.com/gin-gonic/gin"
)

func (s *Server) handleNewSession(c *gin.Context) {
	var req newSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apierr.RespondKind(c, apierr.ValidationError, err.Error())
		return
	}

	node, err := s.nodes.GetByID(c.Request.Context(), req.NodeID)
	if err != nil {
		apierr.Respond(c, err)
		return
	}

	result, err := s.orch.NewSession(c.Request.Context(), orchestrator.NewSessionRequest{
		UserID:        userIDFromContext(c),
		Node:          node,
		ModelID:       req.Model,
		HFRepo:        req.HFRepo,
		ContextLength: req.ContextLength,
		Minutes:       req.Minutes,
		PaymentMethod: req.PaymentMethod,
	})
	if err != nil {
		apierr.Respond(c, err)
		return
	}

	resp := newSessionResponse{
		SessionID: result.Session.ID,
		Amount:    result.Session.AmountSats,
	}
	if result.Invoice != nil {
		resp.Invoice = result.Invoice
		resp.ExpiresAt = &result.Invoice.ExpiresAt
	}
	c.JSON(http.StatusCreated, resp)
}

func (s *Server) handleCheckPayment(c *gin.Context) {
	sessionID := c.Param("id")
	sess, err := s.sessions.GetByID(c.Request.Context(), sessionID)
	if err != nil {
		apierr.Respond(c, err)
		return
	}

	c.JSON(http.StatusOK, checkPaymentResponse{Paid: sess.PaidAt != nil})
}

// handleNodeCallback receives a node's load-progress/ready/load_failed
// callback for the session it is bringing up. This route is reached
// without the bearer-token auth middleware: nodes are not end users,
// and the sessionID in the path is itself an unguessable credential.
//
// The callback is not applied to the Orchestrator inline: it is
// published to the node_events stream and picked up by the
// coordinator's own consumer goroutine, so a slow or momentarily stuck
// state transition never holds open the node's HTTP connection, and a
// coordinator restart between publish and processing just leaves the
// message pending in its consumer group rather than losing it.
func (s *Server) handleNodeCallback(c *gin.Context) {
	sessionID := c.Param("session_id")

	var ev noderpc.CallbackEvent
	if err := c.ShouldBindJSON(&ev); err != nil {
		apierr.RespondKind(c, apierr.ValidationError, err.Error())
		return
	}

	msg := queue.NodeCallbackMessage{SessionID: sessionID, Event: ev.Event, Message: ev.Message}
	if err := msg.Validate(); err != nil {
		apierr.RespondKind(c, apierr.ValidationError, err.Error())
		return
	}

	data, err := msg.ToJSON()
	if err != nil {
		apierr.Respond(c, err)
		return
	}
	if _, err := s.events.Publish(c.Request.Context(), queue.StreamNodeEvents, data); err != nil {
		apierr.Respond(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"ok": true})
}
