// Package remote talks to the patient REST backend.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/jwalitptl/patient-flow/internal/model"
	"github.com/jwalitptl/patient-flow/pkg/errors"
	"github.com/jwalitptl/patient-flow/pkg/logger"
	"github.com/jwalitptl/patient-flow/pkg/metrics"
)

// API is the backend as the desks use it. Every method honours ctx
// cancellation; a cancelled call returns an error for which
// errors.IsCanceled is true.
type API interface {
	ListPatients(ctx context.Context) ([]model.Patient, error)
	Queue(ctx context.Context) ([]model.Patient, error)
	GetPatient(ctx context.Context, id string) (model.Patient, error)
	CreatePatient(ctx context.Context, p model.Patient) (model.Patient, error)
	Lookup(ctx context.Context, document string) (bool, error)
	UpdateStatus(ctx context.Context, id string, status model.Status) error
	SubmitTriage(ctx context.Context, patientID string, rec model.TriageRecord) error
	StartEncounter(ctx context.Context, patientID, physicianID string) (model.Encounter, error)
	ConcludeEncounter(ctx context.Context, patientID string, enc model.Encounter) error
	Login(ctx context.Context, email, password string) (string, model.User, error)
}

// TokenSource supplies the bearer token for each request.
type TokenSource interface {
	Token() string
}

// EncounterRoutes selects which generation of encounter endpoints the
// backend exposes.
type EncounterRoutes string

const (
	// POST /atendimento/iniciar and POST /atendimento/concluir
	RoutesSingular EncounterRoutes = "singular"
	// POST /atendimentos/iniciar and PATCH /atendimentos/finalizar/{id}
	RoutesPlural EncounterRoutes = "plural"
)

type Config struct {
	BaseURL         string
	Timeout         time.Duration
	EncounterRoutes EncounterRoutes
}

const maxErrorBody = 4 << 10

type Client struct {
	baseURL string
	routes  EncounterRoutes
	http    *http.Client
	tokens  TokenSource
	metrics *metrics.Metrics
	logger  *logger.Logger
}

// NewClient builds a client; m may be nil.
func NewClient(cfg Config, tokens TokenSource, m *metrics.Metrics, log *logger.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.EncounterRoutes == "" {
		cfg.EncounterRoutes = RoutesSingular
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		routes:  cfg.EncounterRoutes,
		http:    &http.Client{Timeout: cfg.Timeout},
		tokens:  tokens,
		metrics: m,
		logger:  log,
	}
}

func (c *Client) ListPatients(ctx context.Context) ([]model.Patient, error) {
	return c.list(ctx, "pacientes")
}

// Queue returns the patients the backend considers queue-eligible.
func (c *Client) Queue(ctx context.Context) ([]model.Patient, error) {
	return c.list(ctx, "pacientes/fila")
}

func (c *Client) list(ctx context.Context, route string) ([]model.Patient, error) {
	body, err := c.do(ctx, http.MethodGet, route, route, nil)
	if err != nil {
		return nil, err
	}
	patients, rejected := decodePatients(body)
	for _, r := range rejected {
		c.logger.Warn("skipping malformed patient record", "route", route, "error", r.Error())
	}
	return patients, nil
}

func (c *Client) GetPatient(ctx context.Context, id string) (model.Patient, error) {
	body, err := c.do(ctx, http.MethodGet, "pacientes/"+url.PathEscape(id), "pacientes/:id", nil)
	if err != nil {
		return model.Patient{}, err
	}
	p, err := decodePatient(body)
	if err != nil {
		return model.Patient{}, errors.Unknown(fmt.Errorf("decode patient %s: %w", id, err))
	}
	return p, nil
}

// CreatePatient registers p. When the backend answers without a usable
// record the submitted one is returned.
func (c *Client) CreatePatient(ctx context.Context, p model.Patient) (model.Patient, error) {
	body, err := c.do(ctx, http.MethodPost, "pacientes", "pacientes", newPatientPayload(p))
	if err != nil {
		return model.Patient{}, err
	}
	if created, err := decodePatient(body); err == nil {
		return created, nil
	}
	return p, nil
}

func (c *Client) Lookup(ctx context.Context, document string) (bool, error) {
	body, err := c.do(ctx, http.MethodPost, "pacientes/buscar", "pacientes/buscar", lookupPayload{Documento: document})
	if err != nil {
		return false, err
	}
	var resp lookupResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return false, errors.Unknown(fmt.Errorf("decode lookup: %w", err))
	}
	return resp.Encontrado, nil
}

func (c *Client) UpdateStatus(ctx context.Context, id string, status model.Status) error {
	_, err := c.do(ctx, http.MethodPatch, "pacientes/"+url.PathEscape(id)+"/status", "pacientes/:id/status",
		statusPayload{Status: status.String()})
	return err
}

func (c *Client) SubmitTriage(ctx context.Context, patientID string, rec model.TriageRecord) error {
	_, err := c.do(ctx, http.MethodPost, "pacientes/triagem", "pacientes/triagem", newTriagePayload(patientID, rec))
	return err
}

// StartEncounter opens an encounter. The returned encounter carries the
// server id when the backend sends one back.
func (c *Client) StartEncounter(ctx context.Context, patientID, physicianID string) (model.Encounter, error) {
	route := "atendimento/iniciar"
	if c.routes == RoutesPlural {
		route = "atendimentos/iniciar"
	}
	body, err := c.do(ctx, http.MethodPost, route, route, startPayload{PacienteID: patientID, MedicoID: physicianID})
	if err != nil {
		return model.Encounter{}, err
	}
	var w wireEncounter
	if len(bytes.TrimSpace(body)) > 0 && json.Unmarshal(body, &w) == nil {
		return model.Encounter{ID: string(w.ID), PhysicianID: string(w.MedicoID), StartedAt: w.start()}, nil
	}
	return model.Encounter{}, nil
}

// ConcludeEncounter closes enc. With plural routes the encounter id is used
// in the path, falling back to the patient id when the server never sent one.
func (c *Client) ConcludeEncounter(ctx context.Context, patientID string, enc model.Encounter) error {
	if c.routes == RoutesPlural {
		id := enc.ID
		if id == "" || strings.HasPrefix(id, "local-") {
			id = patientID
		}
		_, err := c.do(ctx, http.MethodPatch, "atendimentos/finalizar/"+url.PathEscape(id), "atendimentos/finalizar/:id",
			newEncounterPayload(enc))
		return err
	}
	_, err := c.do(ctx, http.MethodPost, "atendimento/concluir", "atendimento/concluir",
		concludePayload{PacienteID: patientID, Atendimento: newEncounterPayload(enc)})
	return err
}

// Login exchanges credentials for a bearer token.
func (c *Client) Login(ctx context.Context, email, password string) (string, model.User, error) {
	body, err := c.do(ctx, http.MethodPost, "auth/login", "auth/login", loginPayload{Email: email, Senha: password})
	if err != nil {
		return "", model.User{}, err
	}
	var resp loginResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", model.User{}, errors.Unknown(fmt.Errorf("decode login: %w", err))
	}
	if resp.Token == "" {
		return "", model.User{}, errors.Auth(http.StatusUnauthorized, fmt.Errorf("login response without token"))
	}
	return resp.Token, resp.user(), nil
}

// do sends one request and returns the response body of a 2xx answer.
// Failures are *errors.AppError except for cancellation, which keeps the
// context error so callers can drop it.
func (c *Client) do(ctx context.Context, method, path, route string, payload interface{}) ([]byte, error) {
	var reader io.Reader
	if payload != nil {
		buf, err := json.Marshal(payload)
		if err != nil {
			return nil, errors.Unknown(fmt.Errorf("encode %s: %w", route, err))
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+"/"+path, reader)
	if err != nil {
		return nil, errors.Unknown(fmt.Errorf("build %s request: %w", route, err))
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.tokens != nil {
		if token := c.tokens.Token(); token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	c.observe(method, route, start, resp)
	if err != nil {
		if ctx.Err() != nil && errors.IsCanceled(ctx.Err()) {
			return nil, ctx.Err()
		}
		return nil, errors.Network(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		c.logger.Debug("backend rejected request", "method", method, "route", route, "status", resp.StatusCode)
		return nil, errors.FromStatus(resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		if ctx.Err() != nil && errors.IsCanceled(ctx.Err()) {
			return nil, ctx.Err()
		}
		return nil, errors.Network(fmt.Errorf("read %s response: %w", route, err))
	}
	return body, nil
}

func (c *Client) observe(method, route string, start time.Time, resp *http.Response) {
	if c.metrics == nil {
		return
	}
	status := "error"
	if resp != nil {
		status = strconv.Itoa(resp.StatusCode)
	}
	c.metrics.RemoteRequests.WithLabelValues(method, route, status).Inc()
	c.metrics.RemoteLatency.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
}
