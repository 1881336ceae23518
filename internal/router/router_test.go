package router

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/patient-flow/internal/bus"
	"github.com/jwalitptl/patient-flow/internal/handler/auth"
	"github.com/jwalitptl/patient-flow/internal/handler/health"
	"github.com/jwalitptl/patient-flow/internal/handler/patient"
	"github.com/jwalitptl/patient-flow/internal/handler/prometheus"
	"github.com/jwalitptl/patient-flow/internal/handler/refresh"
	"github.com/jwalitptl/patient-flow/internal/handler/views"
	"github.com/jwalitptl/patient-flow/internal/middleware"
	"github.com/jwalitptl/patient-flow/internal/model"
	"github.com/jwalitptl/patient-flow/internal/notice"
	"github.com/jwalitptl/patient-flow/internal/remote/local"
	"github.com/jwalitptl/patient-flow/internal/service/attendance"
	"github.com/jwalitptl/patient-flow/internal/session"
	"github.com/jwalitptl/patient-flow/internal/store"
	"github.com/jwalitptl/patient-flow/internal/syncer"
	"github.com/jwalitptl/patient-flow/pkg/logger"
	"github.com/jwalitptl/patient-flow/pkg/metrics"
)

type testResponse struct {
	Code    int
	Status  string          `json:"status"`
	Message string          `json:"message"`
	RawData json.RawMessage `json:"data"`
	Data    map[string]interface{}
}

func (r testResponse) IsSuccess() bool {
	return r.Status == "success"
}

func (r testResponse) GetString(key string) string {
	if v, ok := r.Data[key].(string); ok {
		return v
	}
	return ""
}

type testServer struct {
	engine  http.Handler
	session *session.Session
	store   *store.Store
	backend *local.Backend
}

func newTestServer(t *testing.T, sess *session.Session) *testServer {
	t.Helper()
	log := logger.Nop()
	m := metrics.NewMetrics("patientflow", "test")
	backend := local.New()
	st := store.New()
	b := bus.New()
	notices := notice.NewBoard()
	s := syncer.New(backend, st, sess, notices, m, log, syncer.DefaultConfig())
	svc := attendance.NewService(backend, st, b, sess, nil, m, log)

	r := NewRouter(sess, prometheus.New(m.Registry, "patientflow"), Handlers{
		Health:  health.NewHandler(nil, sess),
		Auth:    auth.NewHandler(backend, sess, st, s, log),
		Views:   views.NewHandler(st),
		Refresh: refresh.NewHandler(s, notices),
		Patient: patient.NewHandler(svc, nil),
	}, log, RouterConfig{CORSConfig: middleware.DefaultCORSConfig()})
	r.Setup()

	return &testServer{engine: r.Engine(), session: sess, store: st, backend: backend}
}

func (s *testServer) request(t *testing.T, method, path string, body interface{}) testResponse {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.engine.ServeHTTP(w, req)

	resp := testResponse{Code: w.Code}
	if w.Body.Len() > 0 && strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
		_ = json.Unmarshal(resp.RawData, &resp.Data)
	}
	return resp
}

func TestPatientFlow(t *testing.T) {
	srv := newTestServer(t, session.New("desk-token", &model.User{ID: "nurse-1", Name: "Nurse"}))

	created := srv.request(t, http.MethodPost, "/api/v1/patients", map[string]string{
		"name":     "Maria Silva",
		"document": "123.456.789-00",
	})
	require.Equal(t, http.StatusCreated, created.Code, created.Message)
	assert.True(t, created.IsSuccess())
	id := created.GetString("id")
	require.NotEmpty(t, id)
	assert.Equal(t, string(model.StatusRegistered), created.GetString("status"))

	found := srv.request(t, http.MethodPost, "/api/v1/patients/lookup", map[string]string{"document": "12345678900"})
	require.Equal(t, http.StatusOK, found.Code)
	assert.Equal(t, true, found.Data["found"])

	triaged := srv.request(t, http.MethodPost, "/api/v1/patients/"+id+"/triage", map[string]string{"complaint": "febre alta"})
	require.Equal(t, http.StatusOK, triaged.Code, triaged.Message)
	assert.Equal(t, string(model.StatusAwaitingConsultation), triaged.GetString("status"))

	desk := srv.request(t, http.MethodGet, "/api/v1/views/physician/dr-1", nil)
	require.Equal(t, http.StatusOK, desk.Code)
	assert.Nil(t, desk.Data["current"])
	queue := desk.Data["queue"].([]interface{})
	require.Len(t, queue, 1)
	assert.Equal(t, string(model.PriorityHigh), queue[0].(map[string]interface{})["priority"])

	called := srv.request(t, http.MethodPost, "/api/v1/physicians/dr-1/next", nil)
	require.Equal(t, http.StatusOK, called.Code, called.Message)
	assert.Equal(t, id, called.GetString("id"))
	assert.Equal(t, string(model.StatusInConsultation), called.GetString("status"))

	busy := srv.request(t, http.MethodPost, "/api/v1/physicians/dr-1/next", nil)
	assert.Equal(t, http.StatusConflict, busy.Code)
	assert.Equal(t, "error", busy.Status)

	empty := srv.request(t, http.MethodPost, "/api/v1/physicians/dr-2/next", nil)
	assert.Equal(t, http.StatusOK, empty.Code)
	assert.Equal(t, "queue is empty", empty.Message)

	invalid := srv.request(t, http.MethodPost, "/api/v1/patients/"+id+"/conclude", map[string]string{})
	assert.Equal(t, http.StatusUnprocessableEntity, invalid.Code)
	var fields []map[string]string
	require.NoError(t, json.Unmarshal(invalid.RawData, &fields))
	assert.NotEmpty(t, fields)

	done := srv.request(t, http.MethodPost, "/api/v1/patients/"+id+"/conclude", map[string]string{"symptoms": "febre", "diagnosis": "R50"})
	require.Equal(t, http.StatusOK, done.Code, done.Message)
	assert.Equal(t, string(model.StatusConcluded), done.GetString("status"))

	again := srv.request(t, http.MethodPost, "/api/v1/patients/"+id+"/triage", map[string]string{"complaint": "tosse"})
	assert.Equal(t, http.StatusConflict, again.Code, "concluded is terminal")

	panel := srv.request(t, http.MethodGet, "/api/v1/views/panel", nil)
	require.Equal(t, http.StatusOK, panel.Code)
	assert.Equal(t, float64(1), panel.Data["total"])
	assert.Equal(t, float64(0), panel.Data["waiting"])

	refreshed := srv.request(t, http.MethodPost, "/api/v1/sync/refresh?force=true", nil)
	require.Equal(t, http.StatusOK, refreshed.Code, refreshed.Message)
	assert.Equal(t, float64(1), refreshed.Data["patients"])
	assert.Equal(t, true, refreshed.Data["fresh"])

	history := srv.request(t, http.MethodGet, "/api/v1/patients/"+id+"/history", nil)
	assert.Equal(t, http.StatusServiceUnavailable, history.Code)
}

func TestConcludeAndCallNextRoute(t *testing.T) {
	srv := newTestServer(t, session.New("desk-token", &model.User{ID: "dr-1"}))

	var ids []string
	for i, name := range []string{"Ana", "Bruno"} {
		created := srv.request(t, http.MethodPost, "/api/v1/patients", map[string]string{"name": name, "document": strings.Repeat(string(rune('1'+i)), 11)})
		require.Equal(t, http.StatusCreated, created.Code, created.Message)
		id := created.GetString("id")
		triaged := srv.request(t, http.MethodPost, "/api/v1/patients/"+id+"/triage", map[string]string{"complaint": "tosse"})
		require.Equal(t, http.StatusOK, triaged.Code, triaged.Message)
		ids = append(ids, id)
	}

	called := srv.request(t, http.MethodPost, "/api/v1/physicians/dr-1/next", nil)
	require.Equal(t, http.StatusOK, called.Code, called.Message)
	first := called.GetString("id")

	blank := srv.request(t, http.MethodPost, "/api/v1/physicians/dr-1/conclude/"+first, map[string]string{"symptoms": "  "})
	assert.Equal(t, http.StatusUnprocessableEntity, blank.Code)

	handoff := srv.request(t, http.MethodPost, "/api/v1/physicians/dr-1/conclude/"+first, map[string]string{"diagnosis": "J00"})
	require.Equal(t, http.StatusOK, handoff.Code, handoff.Message)
	concluded := handoff.Data["concluded"].(map[string]interface{})
	assert.Equal(t, string(model.StatusConcluded), concluded["status"])
	next := handoff.Data["next"].(map[string]interface{})
	assert.Contains(t, ids, next["id"])
	assert.NotEqual(t, first, next["id"])
	assert.Equal(t, string(model.StatusInConsultation), next["status"])
}

func TestActionsRequireSession(t *testing.T) {
	srv := newTestServer(t, session.New("", nil))

	resp := srv.request(t, http.MethodPost, "/api/v1/patients", map[string]string{"name": "X", "document": "1"})
	assert.Equal(t, http.StatusUnauthorized, resp.Code)

	views := srv.request(t, http.MethodGet, "/api/v1/views/triage", nil)
	assert.Equal(t, http.StatusOK, views.Code, "views stay readable")
}

func TestLoginAndLogout(t *testing.T) {
	sess := session.New("", nil)
	srv := newTestServer(t, sess)

	bad := srv.request(t, http.MethodPost, "/api/v1/session", map[string]string{"email": "nurse@example.com"})
	assert.Equal(t, http.StatusUnprocessableEntity, bad.Code)
	assert.False(t, sess.Valid())

	ok := srv.request(t, http.MethodPost, "/api/v1/session", map[string]string{"email": "nurse@example.com", "password": "secret"})
	require.Equal(t, http.StatusOK, ok.Code, ok.Message)
	assert.Equal(t, "nurse", ok.GetString("name"))
	assert.True(t, sess.Valid())

	current := srv.request(t, http.MethodGet, "/api/v1/session", nil)
	assert.Equal(t, http.StatusOK, current.Code)

	_, err := srv.backend.CreatePatient(context.Background(), model.Patient{ID: "p1", Name: "A", Status: model.StatusRegistered})
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		resp := srv.request(t, http.MethodPost, "/api/v1/sync/refresh?force=true", nil)
		return resp.Code == http.StatusOK && srv.store.Len() == 1
	}, time.Second, 10*time.Millisecond)

	out := srv.request(t, http.MethodDelete, "/api/v1/session", nil)
	assert.Equal(t, http.StatusOK, out.Code)
	assert.False(t, sess.Valid())
	assert.Zero(t, srv.store.Len())
}

func TestClassifyNoticesAndHealth(t *testing.T) {
	srv := newTestServer(t, session.New("desk-token", nil))

	c := srv.request(t, http.MethodGet, "/api/v1/classify?complaint=Dor%20no%20peito", nil)
	require.Equal(t, http.StatusOK, c.Code)
	assert.Equal(t, string(model.PriorityHigh), c.GetString("priority"))

	notices := srv.request(t, http.MethodGet, "/api/v1/notices", nil)
	assert.Equal(t, http.StatusOK, notices.Code)

	missing := srv.request(t, http.MethodDelete, "/api/v1/notices/nope", nil)
	assert.Equal(t, http.StatusNotFound, missing.Code)

	live := srv.request(t, http.MethodGet, "/health/live", nil)
	assert.Equal(t, http.StatusOK, live.Code)
	ready := srv.request(t, http.MethodGet, "/health/ready", nil)
	assert.Equal(t, http.StatusOK, ready.Code)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	srv.engine.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "patientflow_http_requests_total")
}
