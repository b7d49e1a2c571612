package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/docusign-alternative/platform/realtime-service/internal/config"
	"github.com/docusign-alternative/platform/realtime-service/internal/conflict"
	"github.com/docusign-alternative/platform/realtime-service/internal/realtime"
	"github.com/docusign-alternative/platform/realtime-service/internal/registry"
)

func newTestRouter(t *testing.T) (*gin.Engine, *realtime.Service, *registry.Registry) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	cfg := &config.Config{Auth: config.AuthConfig{JWTSecret: "test-secret"}}
	reg := registry.New(registry.Options{})
	res := conflict.New(conflict.Options{})
	svc := realtime.NewService(reg, res, nil)

	r := gin.New()
	NewRealtimeHandler(cfg, reg, svc).Register(r)
	return r, svc, reg
}

func doJSON(t *testing.T, r *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestEmitDocumentUpdate_Accepted(t *testing.T) {
	r, _, _ := newTestRouter(t)
	w := doJSON(t, r, http.MethodPost, "/api/v1/realtime/documents/doc-1/update",
		`{"organizationId":"org-1","userId":"alice","changes":{"title":"X"}}`)
	require.Equal(t, http.StatusAccepted, w.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, "emitted", resp["status"])
	require.Equal(t, "doc-1", resp["documentId"])
}

func TestEmitDocumentUpdate_RejectsIncompleteBody(t *testing.T) {
	r, _, _ := newTestRouter(t)
	w := doJSON(t, r, http.MethodPost, "/api/v1/realtime/documents/doc-1/update",
		`{"userId":"alice","changes":{"title":"X"}}`)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestEmitSignatureStatus_Accepted(t *testing.T) {
	r, _, _ := newTestRouter(t)
	w := doJSON(t, r, http.MethodPost, "/api/v1/realtime/signing-requests/req-1/status",
		`{"organizationId":"org-1","userId":"alice","documentId":"doc-1","status":"signed"}`)
	require.Equal(t, http.StatusAccepted, w.Code)
}

func TestEmitPresence_InvalidStatus(t *testing.T) {
	r, _, _ := newTestRouter(t)
	w := doJSON(t, r, http.MethodPost, "/api/v1/realtime/presence",
		`{"organizationId":"org-1","userId":"alice","status":"sleeping"}`)
	require.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(t, r, http.MethodPost, "/api/v1/realtime/presence",
		`{"organizationId":"org-1","userId":"alice","status":"away"}`)
	require.Equal(t, http.StatusAccepted, w.Code)
}

func TestEmitNotification_Accepted(t *testing.T) {
	r, _, _ := newTestRouter(t)
	w := doJSON(t, r, http.MethodPost, "/api/v1/realtime/notifications",
		`{"organizationId":"org-1","userId":"alice","payload":{"message":"document signed"}}`)
	require.Equal(t, http.StatusAccepted, w.Code)
}

func TestEmitActivity_Accepted(t *testing.T) {
	r, _, _ := newTestRouter(t)
	w := doJSON(t, r, http.MethodPost, "/api/v1/realtime/activity",
		`{"organizationId":"org-1","userId":"alice","teamId":"team-1","activity":{"action":"renamed"}}`)
	require.Equal(t, http.StatusAccepted, w.Code)
}

// Two conflicting updates, then the full resolve / inspect / clear cycle over
// the HTTP surface.
func TestConflictLifecycleOverHTTP(t *testing.T) {
	r, _, _ := newTestRouter(t)

	w := doJSON(t, r, http.MethodPost, "/api/v1/realtime/documents/doc-1/update",
		`{"organizationId":"org-1","userId":"alice","changes":{"title":"X"}}`)
	require.Equal(t, http.StatusAccepted, w.Code)
	w = doJSON(t, r, http.MethodPost, "/api/v1/realtime/documents/doc-1/update",
		`{"organizationId":"org-1","userId":"bob","changes":{"title":"Y"}}`)
	require.Equal(t, http.StatusAccepted, w.Code)

	w = doJSON(t, r, http.MethodGet, "/api/v1/realtime/conflicts/doc-1", "")
	require.Equal(t, http.StatusOK, w.Code)
	var listing struct {
		DocumentID string                   `json:"documentId"`
		Conflicts  []conflict.FieldConflict `json:"conflicts"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &listing))
	require.Equal(t, "doc-1", listing.DocumentID)
	require.Len(t, listing.Conflicts, 1)
	require.Equal(t, "title", listing.Conflicts[0].Field)

	w = doJSON(t, r, http.MethodPost, "/api/v1/realtime/conflicts/doc-1/resolve",
		`{"organizationId":"org-1","strategy":"merge","resolvedBy":"bob"}`)
	require.Equal(t, http.StatusOK, w.Code)
	var res conflict.Resolution
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	require.Equal(t, conflict.TypeConcurrentEdit, res.ConflictType)
	require.Equal(t, conflict.StrategyMerge, res.Strategy)
	require.Equal(t, "Y", res.ResolvedValues["title"])

	w = doJSON(t, r, http.MethodGet, "/api/v1/realtime/conflicts/doc-1", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), `"resolution"`)

	w = doJSON(t, r, http.MethodDelete, "/api/v1/realtime/conflicts/doc-1", "")
	require.Equal(t, http.StatusNoContent, w.Code)

	w = doJSON(t, r, http.MethodPost, "/api/v1/realtime/conflicts/doc-1/resolve",
		`{"organizationId":"org-1","strategy":"merge","resolvedBy":"bob"}`)
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestResolveConflicts_InvalidStrategyOverHTTP(t *testing.T) {
	r, _, _ := newTestRouter(t)
	w := doJSON(t, r, http.MethodPost, "/api/v1/realtime/conflicts/doc-1/resolve",
		`{"organizationId":"org-1","strategy":"majority","resolvedBy":"bob","conflicts":[{"field":"title"}]}`)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestConflictStatisticsEndpoint(t *testing.T) {
	r, _, _ := newTestRouter(t)
	w := doJSON(t, r, http.MethodGet, "/api/v1/realtime/conflicts", "")
	require.Equal(t, http.StatusOK, w.Code)

	var stats conflict.Statistics
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &stats))
	require.Zero(t, stats.ConflictsDetected)
}

func TestServiceMetricsEndpoint(t *testing.T) {
	r, _, _ := newTestRouter(t)
	w := doJSON(t, r, http.MethodPost, "/api/v1/realtime/presence",
		`{"organizationId":"org-1","userId":"alice","status":"online"}`)
	require.Equal(t, http.StatusAccepted, w.Code)

	w = doJSON(t, r, http.MethodGet, "/api/v1/realtime/metrics", "")
	require.Equal(t, http.StatusOK, w.Code)

	var m realtime.Metrics
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &m))
	require.Zero(t, m.Connections)
	require.Equal(t, int64(1), m.EventsEmitted)
	require.False(t, m.PropagationEnabled)
}
