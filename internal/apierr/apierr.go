// Package apierr maps the sentinel errors returned by the orchestrator,
// registry, and ledger services onto the HTTP status codes and JSON
// envelopes the API layer returns to clients. Handlers never inspect a
// service error's kind themselves; they call Respond and let this
// package's mapping table decide the wire shape, so a new sentinel only
// needs one entry here rather than a switch in every handler.
package apierr

import (
	"errors"
	"net/http"

	"infermarket/internal/database"
	"infermarket/internal/ledger"
	"infermarket/internal/orchestrator"
	"infermarket/internal/registry"
	"infermarket/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Kind is one of the error categories spec'd for the external interface.
type Kind string

const (
	Unauthenticated      Kind = "unauthenticated"
	Forbidden            Kind = "forbidden"
	NotFound             Kind = "not_found"
	ValidationError      Kind = "validation_error"
	InsufficientFunds    Kind = "insufficient_funds"
	NodeBusy             Kind = "node_busy"
	NodeUnavailable      Kind = "node_unavailable"
	LightningUnavailable Kind = "lightning_unavailable"
	ModelLoadFailed      Kind = "model_load_failed"
	RateLimited          Kind = "rate_limited"
	Internal             Kind = "internal"
)

var statusByKind = map[Kind]int{
	Unauthenticated:      http.StatusUnauthorized,
	Forbidden:            http.StatusForbidden,
	NotFound:             http.StatusNotFound,
	ValidationError:      http.StatusBadRequest,
	InsufficientFunds:    http.StatusPaymentRequired,
	NodeBusy:             http.StatusConflict,
	NodeUnavailable:      http.StatusServiceUnavailable,
	LightningUnavailable: http.StatusServiceUnavailable,
	ModelLoadFailed:      http.StatusUnprocessableEntity,
	RateLimited:          http.StatusTooManyRequests,
	Internal:             http.StatusInternalServerError,
}

// classify maps a service-layer error to its Kind. Unrecognized errors
// classify as Internal, which is the only kind that never echoes the
// underlying error text back to the client.
func classify(err error) Kind {
	switch {
	case errors.Is(err, orchestrator.ErrNotOwner):
		return Forbidden
	case errors.Is(err, orchestrator.ErrSessionNotFound),
		errors.Is(err, registry.ErrNodeNotFound),
		errors.Is(err, database.ErrSessionNotFound),
		errors.Is(err, database.ErrNodeNotFound),
		errors.Is(err, database.ErrInvoiceNotFound),
		errors.Is(err, database.ErrUserNotFound),
		errors.Is(err, ledger.ErrUserNotFound):
		return NotFound
	case errors.Is(err, orchestrator.ErrModelDoesNotFit),
		errors.Is(err, orchestrator.ErrInvalidTransition),
		errors.Is(err, database.ErrDuplicateHardwareFingerprint),
		errors.Is(err, registry.ErrDuplicateHardware),
		errors.Is(err, database.ErrUserEmailExists),
		errors.Is(err, ledger.ErrInvalidAmount):
		return ValidationError
	case errors.Is(err, orchestrator.ErrInsufficientFunds), errors.Is(err, ledger.ErrInsufficientFunds):
		return InsufficientFunds
	case errors.Is(err, orchestrator.ErrNodeBusy), errors.Is(err, registry.ErrNodeBusy):
		return NodeBusy
	default:
		return Internal
	}
}

// Respond writes err to the response as the JSON envelope
// {"error": {"kind": ..., "message": ..., "correlation_id": ...}}, using
// the HTTP status the error's Kind maps to. An Internal-kind error never
// exposes its underlying message to the client; it is logged instead
// against a correlation id the client can quote when reporting it.
func Respond(c *gin.Context, err error) {
	kind := classify(err)
	status := statusByKind[kind]

	message := err.Error()
	correlationID := ""
	if kind == Internal {
		correlationID = uuid.New().String()
		logger.Error("internal error", zap.String("correlation_id", correlationID), zap.String("path", c.FullPath()), zap.Error(err))
		message = "an internal error occurred"
	}

	body := gin.H{"error": gin.H{"kind": kind, "message": message}}
	if correlationID != "" {
		body["error"].(gin.H)["correlation_id"] = correlationID
	}
	c.AbortWithStatusJSON(status, body)
}

// RespondKind writes a client-originated error (one apierr.Kind without
// a backing sentinel, e.g. a malformed request body) directly.
func RespondKind(c *gin.Context, kind Kind, message string) {
	c.AbortWithStatusJSON(statusByKind[kind], gin.H{"error": gin.H{"kind": kind, "message": message}})
}
