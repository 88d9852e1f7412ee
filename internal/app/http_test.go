package app

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"grantsmith/api/internal/generation"
)

func serve(t *testing.T, server *HTTPServer, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)
	return rr
}

func decodeResponse(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var response map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &response); err != nil {
		t.Fatalf("failed to parse response %q: %v", rr.Body.String(), err)
	}
	return response
}

func TestHealthEndpoint(t *testing.T) {
	svc, _ := newTestService(t, draftGenerator())
	rr := serve(t, NewHTTPServer(svc, "*"), http.MethodGet, "/api/health", "")

	if rr.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", rr.Code)
	}
	if ok := decodeResponse(t, rr)["ok"]; ok != true {
		t.Errorf("expected ok=true, got %v", ok)
	}
	if rr.Header().Get("X-Request-ID") == "" {
		t.Error("expected a request id header")
	}
}

func TestReadyEndpoint(t *testing.T) {
	cases := []struct {
		name     string
		pingErr  error
		wantCode int
		wantDB   string
	}{
		{name: "healthy", wantCode: http.StatusOK, wantDB: "ok"},
		{name: "database down", pingErr: errors.New("connection refused"), wantCode: http.StatusServiceUnavailable, wantDB: "error"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc, deps := newTestService(t, draftGenerator())
			deps.store.pingFn = func(context.Context) error { return tc.pingErr }

			rr := serve(t, NewHTTPServer(svc, "*"), http.MethodGet, "/api/ready", "")
			if rr.Code != tc.wantCode {
				t.Fatalf("expected status %d, got %d", tc.wantCode, rr.Code)
			}
			checks, ok := decodeResponse(t, rr)["checks"].(map[string]any)
			if !ok {
				t.Fatalf("expected checks object")
			}
			if status := checks["database"].(map[string]any)["status"]; status != tc.wantDB {
				t.Fatalf("expected database status %s, got %v", tc.wantDB, status)
			}
		})
	}
}

func TestProposalRoutes(t *testing.T) {
	svc, _ := newTestService(t, draftGenerator())
	server := NewHTTPServer(svc, "https://grants.example.org")

	rr := serve(t, server, http.MethodPost, "/api/proposals", `{"title":"Artisans","templateId":"foundation-short"}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("create: expected 201, got %d %s", rr.Code, rr.Body.String())
	}
	if origin := rr.Header().Get("Access-Control-Allow-Origin"); origin != "https://grants.example.org" {
		t.Fatalf("unexpected CORS origin %q", origin)
	}
	created := decodeResponse(t, rr)["proposal"].(map[string]any)
	id := created["id"].(string)

	rr = serve(t, server, http.MethodGet, "/api/proposals", "")
	if rr.Code != http.StatusOK || len(decodeResponse(t, rr)["proposals"].([]any)) != 1 {
		t.Fatalf("list: unexpected response %d %s", rr.Code, rr.Body.String())
	}

	rr = serve(t, server, http.MethodPost, "/api/proposals/"+id+"/sections/Need/generate", `{"customInstructions":"cite census data"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("generate: expected 200, got %d %s", rr.Code, rr.Body.String())
	}
	if state := decodeResponse(t, rr)["state"]; state != "READY" {
		t.Fatalf("expected READY, got %v", state)
	}

	rr = serve(t, server, http.MethodPut, "/api/proposals/"+id+"/sections/Need", `{"text":"Edited need."}`)
	if rr.Code != http.StatusOK || decodeResponse(t, rr)["state"] != "MANUALLY_EDITED" {
		t.Fatalf("edit: unexpected response %d %s", rr.Code, rr.Body.String())
	}

	rr = serve(t, server, http.MethodPost, "/api/proposals/"+id+"/sections/Need/restore", `{}`)
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("restore without index: expected 422, got %d", rr.Code)
	}
	rr = serve(t, server, http.MethodPost, "/api/proposals/"+id+"/sections/Need/restore", `{"index":0}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("restore: expected 200, got %d %s", rr.Code, rr.Body.String())
	}

	rr = serve(t, server, http.MethodPost, "/api/proposals/"+id+"/sections/Missing/generate", "")
	if rr.Code != http.StatusNotFound || decodeResponse(t, rr)["code"] != "SECTION_NOT_FOUND" {
		t.Fatalf("unknown section: unexpected response %d %s", rr.Code, rr.Body.String())
	}

	rr = serve(t, server, http.MethodPost, "/api/proposals/"+id+"/generate-all?wait=true", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("generate-all: expected 200, got %d %s", rr.Code, rr.Body.String())
	}
	report := decodeResponse(t, rr)
	if skipped := report["skipped"].([]any); len(skipped) != 1 || skipped[0] != "Need" {
		t.Fatalf("expected the edited section skipped, got %v", report["skipped"])
	}

	rr = serve(t, server, http.MethodGet, "/api/proposals/"+id+"/ask", "")
	ask, ok := decodeResponse(t, rr)["ask"].(map[string]any)
	if !ok || ask["sectionName"] != "Budget" {
		t.Fatalf("ask: unexpected response %s", rr.Body.String())
	}

	rr = serve(t, server, http.MethodGet, "/api/proposals/"+id+"/assembled", "")
	if text, _ := decodeResponse(t, rr)["text"].(string); !strings.Contains(text, "Draft of Need") {
		t.Fatalf("assembled: unexpected response %s", rr.Body.String())
	}

	rr = serve(t, server, http.MethodGet, "/api/proposals/"+id+"/blocks", "")
	if blocks, _ := decodeResponse(t, rr)["blocks"].([]any); len(blocks) == 0 {
		t.Fatalf("blocks: unexpected response %s", rr.Body.String())
	}

	rr = serve(t, server, http.MethodGet, "/api/proposals/"+id+"/export?format=html", "")
	if rr.Code != http.StatusOK || !strings.HasPrefix(rr.Header().Get("Content-Type"), "text/html") {
		t.Fatalf("export: unexpected response %d %v", rr.Code, rr.Header())
	}
	if !strings.Contains(rr.Header().Get("Content-Disposition"), ".html") || rr.Header().Get("ETag") == "" {
		t.Fatalf("export: missing download headers %v", rr.Header())
	}

	rr = serve(t, server, http.MethodGet, "/api/proposals/"+id+"/export?format=odt", "")
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("export odt: expected 400, got %d", rr.Code)
	}

	rr = serve(t, server, http.MethodGet, "/api/proposals/"+id+"/versions", "")
	if versions := decodeResponse(t, rr)["versions"].([]any); len(versions) != 3 {
		t.Fatalf("versions: expected edit, restore and run commits, got %s", rr.Body.String())
	}

	rr = serve(t, server, http.MethodGet, "/api/proposals/"+id+"/run", "")
	if runs := decodeResponse(t, rr)["runs"].([]any); len(runs) != 1 {
		t.Fatalf("run: unexpected response %s", rr.Body.String())
	}

	rr = serve(t, server, http.MethodDelete, "/api/proposals/"+id, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("delete: expected 200, got %d", rr.Code)
	}
	rr = serve(t, server, http.MethodGet, "/api/proposals/"+id, "")
	if rr.Code != http.StatusNotFound {
		t.Fatalf("get after delete: expected 404, got %d", rr.Code)
	}
}

func TestGenerateAllConflictWhileRunning(t *testing.T) {
	entered := make(chan struct{}, 8)
	release := make(chan struct{})
	gen := generation.GeneratorFunc(func(_ context.Context, req generation.Request) generation.Outcome {
		entered <- struct{}{}
		<-release
		return generation.Ok("Draft of " + req.SectionName)
	})
	svc, _ := newTestService(t, gen)
	server := NewHTTPServer(svc, "*")
	id := createProposal(t, svc, "foundation-short")

	rr := serve(t, server, http.MethodPost, "/api/proposals/"+id+"/generate-all", "")
	if rr.Code != http.StatusAccepted || decodeResponse(t, rr)["runId"] == "" {
		t.Fatalf("expected 202 with run id, got %d %s", rr.Code, rr.Body.String())
	}
	<-entered

	rr = serve(t, server, http.MethodPost, "/api/proposals/"+id+"/generate-all", "")
	if rr.Code != http.StatusConflict || decodeResponse(t, rr)["code"] != "GENERATION_IN_PROGRESS" {
		t.Fatalf("expected 409 GENERATION_IN_PROGRESS, got %d %s", rr.Code, rr.Body.String())
	}
	rr = serve(t, server, http.MethodPut, "/api/proposals/"+id+"/sections/Need", `{"text":"x"}`)
	if rr.Code != http.StatusConflict {
		t.Fatalf("expected edit during run to conflict, got %d", rr.Code)
	}

	rr = serve(t, server, http.MethodPost, "/api/proposals/"+id+"/cancel", "")
	if rr.Code != http.StatusOK || decodeResponse(t, rr)["cancelled"] != true {
		t.Fatalf("cancel: unexpected response %d %s", rr.Code, rr.Body.String())
	}
	close(release)
	svc.inflight.Wait()

	rr = serve(t, server, http.MethodGet, "/api/proposals/"+id+"/run", "")
	status := decodeResponse(t, rr)["status"].(map[string]any)
	if status["state"] != "cancelled" {
		t.Fatalf("expected cancelled status, got %v", status)
	}
}

func TestSearchAndUnknownRoutes(t *testing.T) {
	svc, _ := newTestService(t, draftGenerator())
	server := NewHTTPServer(svc, "*")

	if rr := serve(t, server, http.MethodGet, "/api/search", ""); rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("search without q: expected 422, got %d", rr.Code)
	}
	rr := serve(t, server, http.MethodGet, "/api/search?q=artisans", "")
	if rr.Code != http.StatusOK || decodeResponse(t, rr)["query"] != "artisans" {
		t.Fatalf("search: unexpected response %d %s", rr.Code, rr.Body.String())
	}

	if rr := serve(t, server, http.MethodGet, "/api/templates", ""); rr.Code != http.StatusOK {
		t.Fatalf("templates: expected 200, got %d", rr.Code)
	}
	if rr := serve(t, server, http.MethodGet, "/api/nowhere", ""); rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
	if rr := serve(t, server, http.MethodPost, "/api/proposals", `{"title":`); rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad JSON, got %d", rr.Code)
	}
	if rr := serve(t, server, http.MethodGet, "/api/proposals/missing/assembled", ""); rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown proposal, got %d", rr.Code)
	}
}
