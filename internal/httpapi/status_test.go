package httpapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/haasonsaas/moc/internal/mcpclient"
)

func TestHandleServerStatusReportsRunningServers(t *testing.T) {
	srv := newTestServer(t, []mcpclient.Tool{{Name: "search", Description: "search the web"}})

	req := httptest.NewRequest(http.MethodGet, "/api/server-status", nil)
	rec := httptest.NewRecorder()
	srv.handleServerStatus(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("got status %d", rec.Code)
	}
	var resp serverStatusResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Servers) != 1 || !resp.Servers[0].IsRunning {
		t.Fatalf("got %+v", resp.Servers)
	}
	if len(resp.Servers[0].Tools) != 1 || resp.Servers[0].Tools[0].Description != "search the web" {
		t.Fatalf("got tools %+v", resp.Servers[0].Tools)
	}
}

func TestHandleHealthzReportsServerCounts(t *testing.T) {
	srv := newTestServer(t, []mcpclient.Tool{{Name: "search"}})

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	srv.handleHealthz(rec, req)

	var payload map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if payload["status"] != "ok" {
		t.Fatalf("got %+v", payload)
	}
	if payload["serversUp"].(float64) != 1 {
		t.Fatalf("got serversUp %v, want 1", payload["serversUp"])
	}
}
