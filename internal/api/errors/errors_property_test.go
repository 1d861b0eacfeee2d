package errors

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/narvanalabs/conflux-builder/internal/validation"
)

// Every error response carries code, message and request_id, and its status
// follows the code.
func TestPropertyStructuredErrorResponseFormat(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100

	properties := gopter.NewProperties(parameters)

	genErrorCode := gen.OneConstOf(
		CodeValidationError,
		CodeNotFound,
		CodeUnauthorized,
		CodeConflict,
		CodeUpstreamError,
		CodeInternalError,
	)
	genRequestID := gen.RegexMatch("[a-f0-9]{8}-[a-f0-9]{4}-[a-f0-9]{4}")

	properties.Property("error response contains required fields", prop.ForAll(
		func(code, message, requestID string) bool {
			rr := httptest.NewRecorder()
			WriteErrorWithRequestID(rr, New(code, message), requestID)

			var body map[string]any
			if err := json.NewDecoder(rr.Body).Decode(&body); err != nil {
				return false
			}
			return body["code"] == code &&
				body["message"] == message &&
				body["request_id"] == requestID &&
				rr.Code == New(code, message).HTTPStatusCode() &&
				rr.Header().Get("Content-Type") == "application/json"
		},
		genErrorCode,
		gen.AlphaString(),
		genRequestID,
	))

	properties.TestingRun(t)
}

func TestHTTPStatusCode(t *testing.T) {
	tests := []struct {
		code string
		want int
	}{
		{CodeValidationError, http.StatusBadRequest},
		{CodeNotFound, http.StatusNotFound},
		{CodeUnauthorized, http.StatusUnauthorized},
		{CodeConflict, http.StatusConflict},
		{CodeUpstreamError, http.StatusBadGateway},
		{CodeInternalError, http.StatusInternalServerError},
		{"SOMETHING_ELSE", http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := New(tt.code, "x").HTTPStatusCode(); got != tt.want {
			t.Errorf("%s: HTTPStatusCode() = %d, want %d", tt.code, got, tt.want)
		}
	}
}

func TestFromValidation(t *testing.T) {
	var v validation.ValidationErrors
	v.Add("os", "os must be one of linux, windows, macos")
	v.Add("arch", "arch is required")

	err := FromValidation(v)
	if err.Code != CodeValidationError {
		t.Errorf("Code = %s", err.Code)
	}
	if err.Message != "os must be one of linux, windows, macos (and 1 more errors)" {
		t.Errorf("Message = %q", err.Message)
	}
	fields, ok := err.Details["fields"].(validation.ValidationErrors)
	if !ok || len(fields) != 2 {
		t.Errorf("Details = %v", err.Details)
	}

	if FromValidation(nil).Message != "validation failed" {
		t.Error("empty validation errors should have a generic message")
	}
}
