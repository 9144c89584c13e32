package devkit

import (
	"context"
	"net/url"
	"testing"
	"time"

	"github.com/goliatone/go-shims/core"
)

func TestFakeTransportAdapter_ScriptsAndCapturesRequests(t *testing.T) {
	adapter := NewFakeTransportAdapter("rest",
		TransportScript{Response: core.TransportResponse{StatusCode: 401}},
		FormResponse(200, url.Values{"oauth_token": {"t"}}),
	)

	first, err := adapter.Do(context.Background(), core.TransportRequest{
		Method: "POST",
		URL:    "https://api.example.test/oauth/request_token",
	})
	if err != nil {
		t.Fatalf("first fake call: %v", err)
	}
	if first.StatusCode != 401 {
		t.Fatalf("expected first scripted status 401, got %d", first.StatusCode)
	}

	second, err := adapter.Do(context.Background(), core.TransportRequest{
		Method:  "POST",
		URL:     "https://api.example.test/oauth/access_token",
		Headers: map[string]string{"Authorization": "OAuth x"},
	})
	if err != nil {
		t.Fatalf("second fake call: %v", err)
	}
	if string(second.Body) != "oauth_token=t" {
		t.Fatalf("expected form body, got %q", second.Body)
	}

	requests := adapter.Requests()
	if len(requests) != 2 {
		t.Fatalf("expected two captured requests, got %d", len(requests))
	}
	if requests[1].Headers["Authorization"] != "OAuth x" {
		t.Fatalf("expected captured headers, got %#v", requests[1].Headers)
	}

	third, _ := adapter.Do(context.Background(), core.TransportRequest{Method: "GET", URL: "https://api.example.test/again"})
	if string(third.Body) != "oauth_token=t" {
		t.Fatalf("expected the last script to repeat, got %q", third.Body)
	}
	if last, ok := adapter.LastRequest(); !ok || last.URL != "https://api.example.test/again" {
		t.Fatalf("unexpected last request %#v", last)
	}
}

func TestReplayLedgerConformance_MemoryLedger(t *testing.T) {
	if err := ValidateReplayLedgerConformance(context.Background(), core.NewMemoryReplayLedger(time.Hour), "shims:authorize:abc"); err != nil {
		t.Fatalf("memory ledger conformance: %v", err)
	}
}

func TestTokenStoreConformance_MemoryStore(t *testing.T) {
	if err := ValidateTokenStoreConformance(context.Background(), core.NewMemoryAuthorizationTokenStore(), "alice", "fitbit"); err != nil {
		t.Fatalf("memory token store conformance: %v", err)
	}
}
