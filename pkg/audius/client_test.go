package audius

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
)

// newTestUpstream starts a server for the given routes and returns a Source bound to it.
func newTestUpstream(t *testing.T, routes map[string]http.HandlerFunc) (*Source, *httptest.Server) {
	t.Helper()

	mux := http.NewServeMux()
	for path, handler := range routes {
		mux.HandleFunc(path, handler)
	}
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	source := NewSourceWithProvider(Options{}, Provider(srv.URL), zap.NewNop())
	return source, srv
}

// respond returns a handler writing body as JSON with the given status.
func respond(status int, body string) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}
}

func TestClient_Classify(t *testing.T) {
	client := NewClient(Options{}, zap.NewNop())

	tests := []struct {
		name          string
		status        int
		body          string
		wantData      string
		wantNotFound  bool
		wantProtocol  bool
		wantMalformed bool
	}{
		{name: "Success", status: 200, body: `{"data":{"id":"1"}}`, wantData: `{"id":"1"}`},
		{name: "Success with null error", status: 200, body: `{"data":[1],"error":null}`, wantData: `[1]`},
		{name: "Empty body", status: 200, body: ``, wantNotFound: true},
		{name: "Null body", status: 200, body: `null`, wantNotFound: true},
		{name: "Explicit not found", status: 200, body: `{"error":"resource not found"}`, wantNotFound: true},
		{name: "Resource for id", status: 400, body: `{"error":"No resource for ID 7"}`, wantNotFound: true},
		{name: "Rate limited", status: 429, body: `{"error":"rate limited"}`, wantProtocol: true},
		{name: "Error on 200", status: 200, body: `{"data":{},"error":"boom"}`, wantProtocol: true},
		{name: "Non-string error", status: 200, body: `{"error":{"code":5}}`, wantProtocol: true},
		{name: "Missing data", status: 200, body: `{"foo":1}`, wantProtocol: true, wantMalformed: true},
		{name: "Null data", status: 200, body: `{"data":null}`, wantProtocol: true, wantMalformed: true},
		{name: "Not JSON", status: 200, body: `<html>`, wantProtocol: true, wantMalformed: true},
		{name: "Server error without body", status: 502, body: `bad gateway`, wantProtocol: true},
		{name: "Server error without error field", status: 500, body: `{"data":{}}`, wantProtocol: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := client.classify("http://upstream/v1/x", tt.status, []byte(tt.body))

			if tt.wantNotFound {
				if !errors.Is(err, ErrNotFound) {
					t.Fatalf("classify() error = %v, want ErrNotFound", err)
				}
				return
			}
			if tt.wantProtocol {
				var protoErr *ProtocolError
				if !errors.As(err, &protoErr) {
					t.Fatalf("classify() error = %v, want *ProtocolError", err)
				}
				if protoErr.Malformed != tt.wantMalformed {
					t.Errorf("ProtocolError.Malformed = %v, want %v", protoErr.Malformed, tt.wantMalformed)
				}
				return
			}
			if err != nil {
				t.Fatalf("classify() unexpected error: %v", err)
			}
			if string(data) != tt.wantData {
				t.Errorf("classify() data = %s, want %s", data, tt.wantData)
			}
		})
	}
}

func TestClient_Get_NotFoundStatus(t *testing.T) {
	srv := httptest.NewServer(respond(http.StatusNotFound, `<html>missing</html>`))
	defer srv.Close()

	client := NewClient(Options{}, zap.NewNop())
	if _, err := client.get(context.Background(), "test", "id", srv.URL); !errors.Is(err, ErrNotFound) {
		t.Errorf("get() error = %v, want ErrNotFound", err)
	}
}

func TestClient_Get_TransportErrorCarriesID(t *testing.T) {
	srv := httptest.NewServer(respond(http.StatusOK, `{"data":1}`))
	url := srv.URL
	srv.Close()

	client := NewClient(Options{}, zap.NewNop())
	_, err := client.get(context.Background(), "test", "track-9", url)

	var transportErr *TransportError
	if !errors.As(err, &transportErr) {
		t.Fatalf("get() error = %v, want *TransportError", err)
	}
	if transportErr.ID != "track-9" {
		t.Errorf("TransportError.ID = %q, want %q", transportErr.ID, "track-9")
	}
}

func TestClient_Get_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	client := NewClient(Options{RequestTimeout: 50 * time.Millisecond}, zap.NewNop())
	_, err := client.get(context.Background(), "test", "slow", srv.URL)

	var transportErr *TransportError
	if !errors.As(err, &transportErr) {
		t.Fatalf("get() error = %v, want *TransportError", err)
	}
}

func TestClient_Get_Cancellation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	client := NewClient(Options{}, zap.NewNop())
	_, err := client.get(ctx, "test", "abandoned", srv.URL)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("get() error = %v, want context.Canceled", err)
	}
}

func TestClient_Get_BoundsConcurrency(t *testing.T) {
	var (
		mu       sync.Mutex
		inFlight int
		peak     int
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		mu.Lock()
		inFlight++
		if inFlight > peak {
			peak = inFlight
		}
		mu.Unlock()

		time.Sleep(20 * time.Millisecond)

		mu.Lock()
		inFlight--
		mu.Unlock()
		_, _ = w.Write([]byte(`{"data":1}`))
	}))
	defer srv.Close()

	client := NewClient(Options{MaxConcurrentRequests: 2}, zap.NewNop())

	var wg sync.WaitGroup
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := client.get(context.Background(), "test", "id", srv.URL); err != nil {
				t.Errorf("get() error = %v", err)
			}
		}()
	}
	wg.Wait()

	if peak > 2 {
		t.Errorf("peak concurrent requests = %d, want <= 2", peak)
	}
}

func TestClient_ObserverAndAppName(t *testing.T) {
	var gotAppName string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAppName = r.URL.Query().Get("app_name")
		_, _ = w.Write([]byte(`{"error":"rate limited"}`))
	}))
	defer srv.Close()

	var endpoint, outcome string
	client := NewClient(Options{
		AppName: "my-app",
		Observer: func(e, o string, _ time.Duration) {
			endpoint, outcome = e, o
		},
	}, zap.NewNop())

	reqURL := client.apiURL(Provider(srv.URL+"/"), "/v1/resolve", nil)
	if !strings.HasPrefix(reqURL, srv.URL+"/v1/resolve?") {
		t.Errorf("apiURL() = %q, want provider without duplicate slash", reqURL)
	}
	_, _ = client.get(context.Background(), "resolve", "x", reqURL)

	if gotAppName != "my-app" {
		t.Errorf("app_name = %q, want %q", gotAppName, "my-app")
	}
	if endpoint != "resolve" || outcome != OutcomeUpstream {
		t.Errorf("observer got (%q, %q), want (%q, %q)", endpoint, outcome, "resolve", OutcomeUpstream)
	}
}
