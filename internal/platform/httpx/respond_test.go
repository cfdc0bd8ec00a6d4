package httpx

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRespondErrorClassifies(t *testing.T) {
	cases := []struct {
		err    error
		detail string
		status int
		want   string
	}{
		{fmt.Errorf("lookup: %w", ErrNotFound), "No existe", http.StatusNotFound, "No existe"},
		{ErrConflict, "", http.StatusConflict, "conflict"},
		{ErrValidation, "Peso inválido", http.StatusBadRequest, "Peso inválido"},
		{ErrNotImplemented, "", http.StatusNotImplemented, "not implemented"},
		{errors.New("dial tcp: refused"), "", http.StatusInternalServerError, ""},
		{fmt.Errorf("queue: dial tcp: refused: %w", ErrUnavailable), "", http.StatusServiceUnavailable, ""},
		{ErrUnavailable, "Cola de exportación no configurada", http.StatusServiceUnavailable, "Cola de exportación no configurada"},
	}
	for _, tc := range cases {
		rr := httptest.NewRecorder()
		RespondError(rr, tc.err, tc.detail)
		assert.Equal(t, tc.status, rr.Code)
		assert.Equal(t, "application/problem+json; charset=utf-8", rr.Header().Get("Content-Type"))
		if tc.want == "" {
			assert.NotContains(t, rr.Body.String(), "refused", "internal errors are not leaked")
		} else {
			assert.Contains(t, rr.Body.String(), tc.want)
		}
	}
}

func TestDecodeJSONRejectsTrailingData(t *testing.T) {
	var dst map[string]any
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"a":1} {"b":2}`))
	require.Error(t, DecodeJSON(req, &dst))

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"a":1}`))
	require.NoError(t, DecodeJSON(req, &dst))
	assert.Equal(t, float64(1), dst["a"])
}
