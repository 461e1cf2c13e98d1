package api

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Router assembles the gin engine: public routes, bearer-authenticated
// routes, the node-facing webhook, the Prometheus scrape endpoint, and
// the websocket upgrade.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(requestIDMiddleware, gin.Recovery(), loggerMiddleware)

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api")
	{
		api.POST("/register", s.rateLimit("register", s.cfg.HTTP.RegisterPerMinute), s.handleRegister)
		api.POST("/login", s.rateLimit("login", s.cfg.HTTP.LoginPerMinute), s.handleLogin)
		api.GET("/models/available", s.handleModelsAvailable)
		api.GET("/nodes/online", s.handleNodesOnline)

		authed := api.Group("")
		authed.Use(s.authMiddleware)
		{
			authed.GET("/me", s.handleMe)
			authed.POST("/register_node", s.handleRegisterNode)
			authed.POST("/node_heartbeat", s.handleNodeHeartbeat)
			authed.POST("/new_session", s.rateLimit("new_session", s.cfg.HTTP.NewSessionPerMinute), s.handleNewSession)
			authed.GET("/session/:id/check_payment", s.handleCheckPayment)
			authed.POST("/wallet/deposit", s.handleWalletDeposit)
			authed.GET("/wallet/deposit/check/:hash", s.handleWalletDepositCheck)
			authed.POST("/wallet/pay_session", s.handleWalletPaySession)
			authed.GET("/wallet/transactions", s.handleWalletTransactions)
			authed.GET("/ws", s.handleWebsocket)
		}
	}

	r.POST("/internal/node_callback/:session_id", s.handleNodeCallback)

	return r
}

func (s *Server) handleWebsocket(c *gin.Context) {
	s.hub.ServeWS(c, userIDFromContext(c))
}
