// Package testutil provides common test utilities and helpers for step-timer tests.
package testutil

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/tenderdesk/steptimer/internal/api"
	"github.com/tenderdesk/steptimer/internal/clock"
	"github.com/tenderdesk/steptimer/internal/engine"
	"github.com/tenderdesk/steptimer/internal/registry"
	"github.com/tenderdesk/steptimer/internal/store"
	"github.com/tenderdesk/steptimer/internal/workflow"
)

// TestEnv bundles an API server with its in-memory dependencies so tests can
// drive HTTP endpoints while controlling the clock and inspecting the store.
type TestEnv struct {
	Server    *api.Server
	Engine    *engine.Engine
	Assembler *workflow.Assembler
	Registry  *registry.Registry
	Store     *store.InMemoryStore
	Clock     *clock.FakeClock
}

// NewTestEnv creates a test environment with the default step registry, an
// in-memory store, and a fake clock frozen at a fixed instant.
func NewTestEnv(t *testing.T) *TestEnv {
	t.Helper()

	reg, err := registry.New(registry.Defaults())
	if err != nil {
		t.Fatalf("failed to build registry: %v", err)
	}
	st := store.NewInMemoryStore()
	clk := clock.NewFakeClock(time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC))
	eng := engine.NewEngine(st, reg, clk)
	asm := workflow.NewAssembler(st, reg, clk)

	return &TestEnv{
		Server:    api.NewServer(eng, asm, reg, ""),
		Engine:    eng,
		Assembler: asm,
		Registry:  reg,
		Store:     st,
		Clock:     clk,
	}
}

// AssertHTTPStatus checks the HTTP status code and fails the test if it doesn't match.
func AssertHTTPStatus(t *testing.T, expected, actual int, context string) {
	t.Helper()
	if actual != expected {
		t.Errorf("%s: expected status %d, got %d", context, expected, actual)
	}
}

// AssertJSONResponse decodes a JSON response and validates the status field.
func AssertJSONResponse(t *testing.T, rr *httptest.ResponseRecorder, expectedStatus string) map[string]interface{} {
	t.Helper()
	var response map[string]interface{}
	if err := json.NewDecoder(rr.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode JSON response: %v", err)
	}

	if status, ok := response["status"].(string); ok {
		if status != expectedStatus {
			t.Errorf("expected status '%s', got '%s'", expectedStatus, status)
		}
	} else {
		t.Error("response missing or invalid 'status' field")
	}

	return response
}

// CreateHTTPRequest creates an HTTP request with optional JSON body for testing.
func CreateHTTPRequest(t *testing.T, method, url string, body interface{}) *http.Request {
	t.Helper()
	var reqBody *bytes.Buffer
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to marshal request body: %v", err)
		}
		reqBody = bytes.NewBuffer(jsonData)
	} else {
		reqBody = bytes.NewBuffer(nil)
	}

	req, err := http.NewRequest(method, url, reqBody)
	if err != nil {
		t.Fatalf("failed to create HTTP request: %v", err)
	}
	return req
}
