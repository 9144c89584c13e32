package devkit

import (
	"context"
	"fmt"
	"maps"
	"net/http"
	"strings"
	"sync"

	"github.com/goliatone/go-shims/core"
)

// TransportScript is one canned provider reply.
type TransportScript struct {
	Response core.TransportResponse
	Err      error
}

// FakeTransportAdapter answers the nth request with the nth script and keeps
// repeating the final script afterwards. With no scripts every call gets an
// empty 200. Requests are recorded for assertions.
type FakeTransportAdapter struct {
	kind    string
	scripts []TransportScript

	mu   sync.Mutex
	seen []core.TransportRequest
}

func NewFakeTransportAdapter(kind string, scripts ...TransportScript) *FakeTransportAdapter {
	return &FakeTransportAdapter{
		kind:    strings.ToLower(strings.TrimSpace(kind)),
		scripts: append([]TransportScript(nil), scripts...),
	}
}

func (a *FakeTransportAdapter) Kind() string {
	if a == nil {
		return ""
	}
	return a.kind
}

func (a *FakeTransportAdapter) Do(_ context.Context, req core.TransportRequest) (core.TransportResponse, error) {
	if a == nil {
		return core.TransportResponse{}, fmt.Errorf("devkit: fake transport adapter is nil")
	}
	a.mu.Lock()
	a.seen = append(a.seen, copyRequest(req))
	call := len(a.seen) - 1
	a.mu.Unlock()

	if len(a.scripts) == 0 {
		return core.TransportResponse{
			StatusCode: http.StatusOK,
			Headers:    map[string]string{},
			Metadata:   map[string]any{"kind": a.kind},
		}, nil
	}
	script := a.scripts[min(call, len(a.scripts)-1)]
	return copyResponse(script.Response), script.Err
}

// Requests returns copies of every request received so far.
func (a *FakeTransportAdapter) Requests() []core.TransportRequest {
	if a == nil {
		return nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]core.TransportRequest, len(a.seen))
	for i, req := range a.seen {
		out[i] = copyRequest(req)
	}
	return out
}

// LastRequest returns the most recent request, if any.
func (a *FakeTransportAdapter) LastRequest() (core.TransportRequest, bool) {
	requests := a.Requests()
	if len(requests) == 0 {
		return core.TransportRequest{}, false
	}
	return requests[len(requests)-1], true
}

func copyRequest(in core.TransportRequest) core.TransportRequest {
	out := in
	out.Headers = copyStrings(in.Headers)
	out.Query = copyStrings(in.Query)
	out.Body = append([]byte(nil), in.Body...)
	return out
}

func copyResponse(in core.TransportResponse) core.TransportResponse {
	out := in
	out.Headers = copyStrings(in.Headers)
	out.Body = append([]byte(nil), in.Body...)
	out.Metadata = map[string]any{}
	maps.Copy(out.Metadata, in.Metadata)
	return out
}

func copyStrings(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	maps.Copy(out, in)
	return out
}

var _ core.TransportAdapter = (*FakeTransportAdapter)(nil)
