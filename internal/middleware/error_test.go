package middleware

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/patient-flow/internal/handler"
	"github.com/jwalitptl/patient-flow/pkg/errors"
	"github.com/jwalitptl/patient-flow/pkg/logger"
)

func serve(err error) (int, handler.Response) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestID(), ErrorHandler(logger.Nop()))
	r.GET("/", func(c *gin.Context) {
		handler.Abort(c, err)
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	var resp handler.Response
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	return w.Code, resp
}

func TestErrorHandler_StatusFromWrappedError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"validation", errors.Validation("bad", nil), http.StatusUnprocessableEntity},
		{"illegal transition", fmt.Errorf("triage: %w", errors.IllegalTransition("CONCLUIDO", "AGUARDANDO")), http.StatusConflict},
		{"busy", errors.Validation("busy", errors.ErrPhysicianBusy), http.StatusConflict},
		{"auth", errors.Auth(401, nil), http.StatusUnauthorized},
		{"not found", errors.NotFound("patient 1"), http.StatusNotFound},
		{"upstream", errors.Server(503, nil), http.StatusBadGateway},
		{"plain", fmt.Errorf("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, resp := serve(tt.err)
			assert.Equal(t, tt.want, code)
			assert.Equal(t, "error", resp.Status)
		})
	}
}

func TestErrorHandler_HidesInternalDetail(t *testing.T) {
	code, resp := serve(errors.Network(fmt.Errorf("dial tcp 10.0.0.7:443: connection refused")))
	require.Equal(t, http.StatusBadGateway, code)
	assert.Equal(t, errors.MessageFor(errors.KindNetwork), resp.Message)

	_, resp = serve(fmt.Errorf("pq: password authentication failed"))
	assert.Equal(t, "Internal server error", resp.Message)
}

func TestRequestID_EchoesHeader(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestID())
	r.GET("/", func(c *gin.Context) { c.String(http.StatusOK, c.GetString(ContextRequestID)) })

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(HeaderXRequestID, "abc")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, "abc", w.Body.String())
	assert.Equal(t, "abc", w.Header().Get(HeaderXRequestID))
}
