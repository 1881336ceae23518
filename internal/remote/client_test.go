package remote

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/patient-flow/internal/model"
	"github.com/jwalitptl/patient-flow/pkg/errors"
	"github.com/jwalitptl/patient-flow/pkg/metrics"
)

type staticToken string

func (s staticToken) Token() string { return string(s) }

func newTestClient(t *testing.T, h http.HandlerFunc, routes EncounterRoutes) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewClient(Config{BaseURL: srv.URL, Timeout: 2 * time.Second, EncounterRoutes: routes},
		staticToken("tok"), metrics.NewMetrics("test", "remote"), nil)
}

func TestClient_ListPatientsSendsBearer(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/pacientes", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		_, _ = io.WriteString(w, `[{"id": 1, "nome": "Maria", "status": "CADASTRADO"}]`)
	}, "")

	patients, err := c.ListPatients(context.Background())
	require.NoError(t, err)
	require.Len(t, patients, 1)
	assert.Equal(t, "Maria", patients[0].Name)
}

func TestClient_QueueAndGetPatient(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/pacientes/fila":
			_, _ = io.WriteString(w, `[{"id": 2, "nome": "Joao", "status": "AGUARDANDO"}]`)
		case "/pacientes/7":
			_, _ = io.WriteString(w, `{"id": 7, "nome": "Ana", "status": "CADASTRADO"}`)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}, "")

	queue, err := c.Queue(context.Background())
	require.NoError(t, err)
	require.Len(t, queue, 1)
	assert.Equal(t, "2", queue[0].ID)
	assert.Equal(t, model.StatusAwaitingConsultation, queue[0].Status)

	p, err := c.GetPatient(context.Background(), "7")
	require.NoError(t, err)
	assert.Equal(t, "Ana", p.Name)

	_, err = c.GetPatient(context.Background(), "8")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrNotFound))
}

func TestClient_ErrorClassification(t *testing.T) {
	tests := []struct {
		status int
		kind   errors.Kind
	}{
		{http.StatusUnauthorized, errors.KindAuth},
		{http.StatusForbidden, errors.KindAuth},
		{http.StatusUnprocessableEntity, errors.KindValidation},
		{http.StatusInternalServerError, errors.KindServer},
		{http.StatusServiceUnavailable, errors.KindServer},
		{http.StatusTeapot, errors.KindUnknown},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}, "")
			_, err := c.ListPatients(context.Background())
			require.Error(t, err)
			assert.Equal(t, tt.kind, errors.KindOf(err))
		})
	}
}

func TestClient_NetworkError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	base := srv.URL
	srv.Close()

	c := NewClient(Config{BaseURL: base}, nil, nil, nil)
	_, err := c.ListPatients(context.Background())
	require.Error(t, err)
	assert.Equal(t, errors.KindNetwork, errors.KindOf(err))
}

func TestClient_CancelledRequest(t *testing.T) {
	release := make(chan struct{})
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}, "")
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	_, err := c.ListPatients(ctx)
	require.Error(t, err)
	assert.True(t, errors.IsCanceled(err))
}

func TestClient_WritePayloads(t *testing.T) {
	type call struct {
		method, path string
		body         map[string]interface{}
	}
	var calls []call
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var body map[string]interface{}
		_ = json.NewDecoder(r.Body).Decode(&body)
		calls = append(calls, call{r.Method, r.URL.Path, body})
		if r.URL.Path == "/atendimento/iniciar" {
			_, _ = io.WriteString(w, `{"id": 77, "horaInicio": "2024-03-10T09:00:00Z"}`)
		}
	}, RoutesSingular)

	ctx := context.Background()
	require.NoError(t, c.UpdateStatus(ctx, "5", model.StatusAwaitingConsultation))
	require.NoError(t, c.SubmitTriage(ctx, "5", model.TriageRecord{
		Complaint: "febre alta", Priority: model.PriorityHigh, Vitals: model.Vitals{Temperature: "39"},
	}))
	enc, err := c.StartEncounter(ctx, "5", "dr-1")
	require.NoError(t, err)
	assert.Equal(t, "77", enc.ID)
	require.NoError(t, c.ConcludeEncounter(ctx, "5", model.Encounter{ID: "77", Diagnosis: "A09"}))

	require.Len(t, calls, 4)
	assert.Equal(t, http.MethodPatch, calls[0].method)
	assert.Equal(t, "/pacientes/5/status", calls[0].path)
	assert.Equal(t, "AGUARDANDO", calls[0].body["status"])

	assert.Equal(t, "/pacientes/triagem", calls[1].path)
	assert.Equal(t, "5", calls[1].body["pacienteId"])
	assert.Equal(t, "ALTA", calls[1].body["prioridade"])
	assert.Equal(t, "febre alta", calls[1].body["motivo"])
	assert.Equal(t, "39", calls[1].body["temperatura"])

	assert.Equal(t, "/atendimento/iniciar", calls[2].path)
	assert.Equal(t, "/atendimento/concluir", calls[3].path)
	atendimento, ok := calls[3].body["atendimento"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "A09", atendimento["cid10"])
}

func TestClient_PluralEncounterRoutes(t *testing.T) {
	var paths []string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.Method+" "+r.URL.Path)
	}, RoutesPlural)

	ctx := context.Background()
	_, err := c.StartEncounter(ctx, "5", "")
	require.NoError(t, err)
	require.NoError(t, c.ConcludeEncounter(ctx, "5", model.Encounter{ID: "e-9"}))
	require.NoError(t, c.ConcludeEncounter(ctx, "6", model.Encounter{ID: "local-x"}))

	assert.Equal(t, []string{
		"POST /atendimentos/iniciar",
		"PATCH /atendimentos/finalizar/e-9",
		"PATCH /atendimentos/finalizar/6",
	}, paths)
}

func TestClient_LookupAndLogin(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/pacientes/buscar":
			var body map[string]string
			_ = json.NewDecoder(r.Body).Decode(&body)
			_ = json.NewEncoder(w).Encode(map[string]bool{"encontrado": body["documento"] == "123.456.789-09"})
		case "/auth/login":
			_, _ = io.WriteString(w, `{"token": "jwt", "user": {"id": 3, "nome": "Dra. Ana", "role": "MEDICO"}}`)
		}
	}, "")

	ctx := context.Background()
	found, err := c.Lookup(ctx, "123.456.789-09")
	require.NoError(t, err)
	assert.True(t, found)

	found, err = c.Lookup(ctx, "000")
	require.NoError(t, err)
	assert.False(t, found)

	token, user, err := c.Login(ctx, "ana@example.com", "secret")
	require.NoError(t, err)
	assert.Equal(t, "jwt", token)
	assert.Equal(t, model.User{ID: "3", Name: "Dra. Ana", Role: "MEDICO"}, user)
}

func TestClient_CreatePatientFallsBackToSubmitted(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	}, "")

	in := model.Patient{ID: "local-1", Name: "Maria", Status: model.StatusRegistered}
	out, err := c.CreatePatient(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}
