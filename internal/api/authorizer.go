package api

import (
	"context"

	"infermarket/internal/database"
)

// sessionStore is the slice of internal/database.SessionRepository the
// API layer needs for read paths: ownership checks, check_payment, and
// resolving a session's node/expiry for responses.
type sessionStore interface {
	GetByID(ctx context.Context, id string) (*database.Session, error)
}

// SessionAuthorizer implements push.SessionAuthorizer by comparing the
// session's persisted owner against the connection's authenticated user,
// so a websocket client can never bind to a session it does not own by
// merely claiming its id. Exported so cmd/coordinator can build the push
// Hub (which needs an authorizer) before constructing the Server.
type SessionAuthorizer struct {
	sessions sessionStore
}

// NewSessionAuthorizer creates a SessionAuthorizer over any store
// satisfying the narrow sessionStore slice (database.SessionRepository
// does, directly).
func NewSessionAuthorizer(sessions interface {
	GetByID(ctx context.Context, id string) (*database.Session, error)
}) *SessionAuthorizer {
	return &SessionAuthorizer{sessions: sessions}
}

func (a *SessionAuthorizer) IsOwner(ctx context.Context, sessionID, userID string) (bool, error) {
	sess, err := a.sessions.GetByID(ctx, sessionID)
	if err != nil {
		return false, err
	}
	return sess.UserID == userID, nil
}
