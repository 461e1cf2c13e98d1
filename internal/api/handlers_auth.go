package api

import (
	"errors"
	"net/http"

	"infermarket/internal/apierr"
	"infermarket/internal/database"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

func (s *Server) handleRegister(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apierr.RespondKind(c, apierr.ValidationError, err.Error())
		return
	}

	hash, err := hashPassword(req.Password)
	if err != nil {
		apierr.Respond(c, err)
		return
	}

	user := &database.User{
		ID:           uuid.New().String(),
		Email:        req.Email,
		PasswordHash: hash,
	}
	if err := s.users.Create(c.Request.Context(), user); err != nil {
		if errors.Is(err, database.ErrUserEmailExists) {
			apierr.Respond(c, err)
			return
		}
		apierr.Respond(c, err)
		return
	}

	token, err := s.tokens.issue(user)
	if err != nil {
		apierr.Respond(c, err)
		return
	}

	c.JSON(http.StatusCreated, registerResponse{UserID: user.ID, Token: token})
}

func (s *Server) handleLogin(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apierr.RespondKind(c, apierr.ValidationError, err.Error())
		return
	}

	user, err := s.users.GetByEmail(c.Request.Context(), req.Email)
	if err != nil {
		apierr.RespondKind(c, apierr.Unauthenticated, "invalid email or password")
		return
	}
	if !verifyPassword(user.PasswordHash, req.Password) {
		apierr.RespondKind(c, apierr.Unauthenticated, "invalid email or password")
		return
	}

	token, err := s.tokens.issue(user)
	if err != nil {
		apierr.Respond(c, err)
		return
	}

	c.JSON(http.StatusOK, loginResponse{Token: token})
}

func (s *Server) handleMe(c *gin.Context) {
	userID := userIDFromContext(c)
	user, err := s.users.GetByID(c.Request.Context(), userID)
	if err != nil {
		apierr.Respond(c, err)
		return
	}

	c.JSON(http.StatusOK, meResponse{UserID: user.ID, Email: user.Email, BalanceSats: user.BalanceSats})
}
