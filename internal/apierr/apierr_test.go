package apierr

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"infermarket/internal/ledger"
	"infermarket/internal/orchestrator"
	"infermarket/internal/registry"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func respond(t *testing.T, err error) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/test", nil)

	Respond(c, err)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return w, body
}

func TestRespond_InsufficientFundsMaps402(t *testing.T) {
	w, body := respond(t, orchestrator.ErrInsufficientFunds)
	assert.Equal(t, http.StatusPaymentRequired, w.Code)
	assert.Equal(t, string(InsufficientFunds), body["error"].(map[string]any)["kind"])
}

func TestRespond_NodeBusyMaps409(t *testing.T) {
	w, body := respond(t, registry.ErrNodeBusy)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, string(NodeBusy), body["error"].(map[string]any)["kind"])
}

func TestRespond_NotOwnerMapsForbidden(t *testing.T) {
	w, _ := respond(t, orchestrator.ErrNotOwner)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestRespond_SessionNotFoundMaps404(t *testing.T) {
	w, _ := respond(t, orchestrator.ErrSessionNotFound)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRespond_LedgerInsufficientFundsMaps402(t *testing.T) {
	w, _ := respond(t, ledger.ErrInsufficientFunds)
	assert.Equal(t, http.StatusPaymentRequired, w.Code)
}

func TestRespond_UnknownErrorMapsInternalAndHidesMessage(t *testing.T) {
	w, body := respond(t, errors.New("some leaky database detail"))
	assert.Equal(t, http.StatusInternalServerError, w.Code)

	errBody := body["error"].(map[string]any)
	assert.Equal(t, string(Internal), errBody["kind"])
	assert.NotContains(t, errBody["message"], "leaky")
	assert.NotEmpty(t, errBody["correlation_id"])
}

func TestRespondKind_WritesRequestedKind(t *testing.T) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/test", nil)

	RespondKind(c, RateLimited, "too many requests")

	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "too many requests", body["error"].(map[string]any)["message"])
}
