package httpx

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/require"

	"github.com/stitchline/stitchline/internal/shared"
)

func TestRespondErrorMapsTaxonomy(t *testing.T) {
	cases := []struct {
		err    error
		status int
	}{
		{fmt.Errorf("batch: %w", shared.ErrNotFound), http.StatusNotFound},
		{fmt.Errorf("ART -> PACK: %w", shared.ErrInvalidTransition), http.StatusConflict},
		{shared.ErrInventoryInvariant, http.StatusConflict},
		{shared.ErrPrintGate, http.StatusUnprocessableEntity},
		{shared.ErrValidation, http.StatusBadRequest},
		{shared.ErrConflict, http.StatusConflict},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		rr := httptest.NewRecorder()
		RespondError(rr, tc.err)
		require.Equal(t, tc.status, rr.Code, tc.err.Error())

		var body ProblemDetail
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
		require.Equal(t, tc.status, body.Status)
	}
}

func TestDecodeAndValidate(t *testing.T) {
	type payload struct {
		Stage string `json:"stage" validate:"required"`
	}
	v := validator.New()

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"stage":"PRINT"}`))
	var ok payload
	require.NoError(t, DecodeAndValidate(req, v, &ok))
	require.Equal(t, "PRINT", ok.Stage)

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{}`))
	var missing payload
	require.ErrorIs(t, DecodeAndValidate(req, v, &missing), shared.ErrValidation)

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{`))
	require.ErrorIs(t, DecodeJSON(req, &missing), shared.ErrValidation)
}

func TestDecodeJSONRejectsOversizedBody(t *testing.T) {
	big := `{"stage":"` + strings.Repeat("x", MaxBodyBytes) + `"}`
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(big))
	var target struct {
		Stage string `json:"stage"`
	}
	require.ErrorIs(t, DecodeJSON(req, &target), shared.ErrValidation)
}

func TestProblemHeaders(t *testing.T) {
	rr := httptest.NewRecorder()
	Problem(rr, http.StatusBadRequest, "Validation Failed", "qty must be positive")
	require.Equal(t, "application/problem+json", rr.Header().Get("Content-Type"))
	require.Equal(t, "no-store", rr.Header().Get("Cache-Control"))

	var body ProblemDetail
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.Equal(t, "about:blank", body.Type)
	require.Equal(t, "qty must be positive", body.Detail)
}
