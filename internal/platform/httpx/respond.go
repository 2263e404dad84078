// Package httpx holds the JSON and RFC 7807 response helpers shared by the HTTP handlers.
package httpx

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/stitchline/stitchline/internal/shared"
)

// MaxBodyBytes caps decoded request bodies.
const MaxBodyBytes = 1 << 20

// ProblemDetail is an RFC 7807 body.
type ProblemDetail struct {
	Type   string `json:"type,omitempty"`
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// JSON writes data with the given status.
func JSON(w http.ResponseWriter, status int, data any) {
	write(w, "application/json", status, data)
}

// Problem writes an application/problem+json body.
func Problem(w http.ResponseWriter, status int, title, detail string) {
	write(w, "application/problem+json", status, ProblemDetail{
		Type:   "about:blank",
		Title:  title,
		Status: status,
		Detail: detail,
	})
}

func write(w http.ResponseWriter, contentType string, status int, data any) {
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// DecodeJSON reads at most MaxBodyBytes into target. An empty body leaves target untouched.
func DecodeJSON(r *http.Request, target any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	body := http.MaxBytesReader(nil, r.Body, MaxBodyBytes)
	if err := json.NewDecoder(body).Decode(target); err != nil {
		return fmt.Errorf("decode body: %v: %w", err, shared.ErrValidation)
	}
	return nil
}

// DecodeAndValidate decodes the body, then applies validate tags.
func DecodeAndValidate(r *http.Request, v *validator.Validate, target any) error {
	if err := DecodeJSON(r, target); err != nil {
		return err
	}
	if err := v.Struct(target); err != nil {
		return fmt.Errorf("%v: %w", err, shared.ErrValidation)
	}
	return nil
}
