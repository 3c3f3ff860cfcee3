package apperror

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func serveError(t *testing.T, method string, err error) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()

	e := echo.New()
	req := httptest.NewRequest(method, "/api/wechat/integrations", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	HTTPErrorHandler(slog.Default())(err, c)

	if rec.Body.Len() == 0 {
		return rec, nil
	}
	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return rec, resp["error"].(map[string]any)
}

func TestHTTPErrorHandler_AppError(t *testing.T) {
	rec, body := serveError(t, http.MethodGet, NewNotFound("integration", "42"))

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", body["code"])
	assert.Equal(t, "integration '42' not found", body["message"])
}

func TestHTTPErrorHandler_EchoError(t *testing.T) {
	rec, body := serveError(t, http.MethodGet, echo.NewHTTPError(http.StatusUnauthorized, "token expired"))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "unauthorized", body["code"])
	assert.Equal(t, "token expired", body["message"])
}

func TestHTTPErrorHandler_UnknownError(t *testing.T) {
	rec, body := serveError(t, http.MethodGet, errors.New("nil pointer somewhere"))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "internal_error", body["code"])
	assert.Equal(t, "An internal error occurred", body["message"])
}

func TestHTTPErrorHandler_Head(t *testing.T) {
	rec, body := serveError(t, http.MethodHead, ErrForbidden)

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Nil(t, body)
}
