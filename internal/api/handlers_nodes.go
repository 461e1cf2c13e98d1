package api

import (
	"net/http"

	"infermarket/internal/apierr"
	"infermarket/internal/database"
	"infermarket/internal/queue"
	"infermarket/internal/registry"
	"infermarket/pkg/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func (s *Server) handleModelsAvailable(c *gin.Context) {
	nodes, err := s.nodes.ListAvailable(c.Request.Context())
	if err != nil {
		apierr.Respond(c, err)
		return
	}

	seen := make(map[string]bool)
	resp := modelsAvailableResponse{}
	for _, n := range nodes {
		if n.Node.Status == database.NodeOffline {
			continue
		}
		resp.TotalNodesOnline++
		for _, m := range n.Node.Models {
			if seen[m.ID] {
				continue
			}
			seen[m.ID] = true
			if n.Node.Status == database.NodeBusy {
				resp.BusyModels = append(resp.BusyModels, m)
			} else {
				resp.Models = append(resp.Models, m)
			}
		}
	}

	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleNodesOnline(c *gin.Context) {
	nodes, err := s.nodes.ListAvailable(c.Request.Context())
	if err != nil {
		apierr.Respond(c, err)
		return
	}

	out := make([]nodeOnlineEntry, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, nodeOnlineEntry{
			NodeID:             n.Node.ID,
			Name:               n.Node.Name,
			Hardware:           n.Node.Hardware,
			PricePerMinuteSats: n.Node.PricePerMinuteSats,
			Models:             n.Node.Models,
			Status:             n.Node.Status,
			BusyETA:            n.BusyETA,
		})
	}

	c.JSON(http.StatusOK, out)
}

func (s *Server) handleRegisterNode(c *gin.Context) {
	var req registerNodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apierr.RespondKind(c, apierr.ValidationError, err.Error())
		return
	}

	node, err := s.nodes.RegisterNode(c.Request.Context(), userIDFromContext(c), registry.Capabilities{
		Name:               req.Name,
		Endpoint:           req.Endpoint,
		Hardware:           req.Hardware,
		PricePerMinuteSats: req.PricePerMinuteSats,
		Models:             req.Models,
	})
	if err != nil {
		apierr.Respond(c, err)
		return
	}

	c.JSON(http.StatusCreated, registerNodeResponse{NodeID: node.ID, RegistrationFee: s.cfg.Pricing.NodeRegistrationFeeSats})
}

func (s *Server) handleNodeHeartbeat(c *gin.Context) {
	var req nodeHeartbeatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apierr.RespondKind(c, apierr.ValidationError, err.Error())
		return
	}

	if err := s.nodes.Heartbeat(c.Request.Context(), req.NodeID, req.Hardware, req.Models); err != nil {
		apierr.Respond(c, err)
		return
	}

	// The node's liveness is already durable via the Heartbeat call above;
	// this publish only feeds the audit-trail consumer, so a failure here
	// is logged and swallowed rather than failing the node's heartbeat.
	msg := queue.NodeHeartbeatMessage{NodeID: req.NodeID}
	if data, err := msg.ToJSON(); err == nil {
		if _, err := s.events.Publish(c.Request.Context(), queue.StreamNodeHeartbeats, data); err != nil {
			logger.Warn("failed to publish node heartbeat event", zap.String("node_id", req.NodeID), zap.Error(err))
		}
	}

	c.JSON(http.StatusOK, gin.H{"ok": true})
}
