package pipeline

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

type echoResponse struct {
	Greeting string `json:"greeting"`
}

type strictResponse struct {
	Name string `json:"name"`
}

func (r *strictResponse) Validate() error {
	if r.Name == "" {
		return errors.New("name is required")
	}
	return nil
}

func newTestPipeline(baseURL string) *Pipeline {
	p := New(baseURL, "web",
		func() string { return "dev-1" },
		func() string { return "access-1" },
		&http.Client{Timeout: 2 * time.Second}, nil)
	p.SetRetryPolicy(0, time.Millisecond)
	return p
}

func TestDo_AttachesHeaders(t *testing.T) {
	var got http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
		w.Write([]byte(`{"greeting":"hi"}`))
	}))
	defer srv.Close()

	var out echoResponse
	if err := newTestPipeline(srv.URL).Do(context.Background(), Request{
		Method: http.MethodGet, Path: "/hello", Out: &out,
	}); err != nil {
		t.Fatalf("Do: %v", err)
	}
	if out.Greeting != "hi" {
		t.Errorf("greeting = %q, want %q", out.Greeting, "hi")
	}
	if got.Get("Authorization") != "Bearer access-1" {
		t.Errorf("Authorization = %q, want bearer token", got.Get("Authorization"))
	}
	if got.Get("X-Device-Id") != "dev-1" {
		t.Errorf("X-Device-Id = %q, want %q", got.Get("X-Device-Id"), "dev-1")
	}
	if got.Get("X-Client-Type") != "web" {
		t.Errorf("X-Client-Type = %q, want %q", got.Get("X-Client-Type"), "web")
	}
	if got.Get("X-Request-Id") == "" {
		t.Error("X-Request-Id missing")
	}
}

func TestDo_NoAuthSkipsAuthorization(t *testing.T) {
	var got http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	if err := newTestPipeline(srv.URL).Do(context.Background(), Request{
		Method: http.MethodPost, Path: "/auth/login", Body: map[string]string{"email": "a@b.c"}, NoAuth: true,
	}); err != nil {
		t.Fatalf("Do: %v", err)
	}
	if got.Get("Authorization") != "" {
		t.Errorf("Authorization = %q, want empty for NoAuth request", got.Get("Authorization"))
	}
}

func TestDo_TokenOverride(t *testing.T) {
	var got string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get("Authorization")
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	if err := newTestPipeline(srv.URL).Do(context.Background(), Request{
		Method: http.MethodDelete, Path: "/sessions/s1", TokenOverride: "mgmt-1",
	}); err != nil {
		t.Fatalf("Do: %v", err)
	}
	if got != "Bearer mgmt-1" {
		t.Errorf("Authorization = %q, want management token", got)
	}
}

func TestDo_ClassifiesTokenStale(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"status":401,"message":"token expired"}`))
	}))
	defer srv.Close()

	err := newTestPipeline(srv.URL).Do(context.Background(), Request{Method: http.MethodGet, Path: "/leads"})
	if !IsTokenStale(err) {
		t.Fatalf("want token-stale, got %v", err)
	}
	var ae *APIError
	if !errors.As(err, &ae) {
		t.Fatal("want *APIError")
	}
	if ae.Status != http.StatusUnauthorized {
		t.Errorf("Status = %d, want 401", ae.Status)
	}
}

func TestDo_ClassifiesSessionInvalid(t *testing.T) {
	testCases := []struct {
		name string
		body string
	}{
		{"by code", `{"status":401,"code":"SESSION_REVOKED","message":"unauthorized"}`},
		{"not found code", `{"status":401,"code":"SESSION_NOT_FOUND","message":"unauthorized"}`},
		{"by message", `{"status":401,"message":"session revoked by administrator"}`},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusUnauthorized)
				w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			err := newTestPipeline(srv.URL).Do(context.Background(), Request{Method: http.MethodGet, Path: "/leads"})
			if !IsSessionInvalid(err) {
				t.Errorf("want session-invalid, got %v", err)
			}
		})
	}
}

func TestDo_ClassifiesBusinessFatal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusPaymentRequired)
		w.Write([]byte(`{"status":402,"code":"TRIAL_EXPIRED","message":"trial expired"}`))
	}))
	defer srv.Close()

	err := newTestPipeline(srv.URL).Do(context.Background(), Request{Method: http.MethodGet, Path: "/campaigns"})
	if !IsBusinessFatal(err) {
		t.Fatalf("want business-fatal, got %v", err)
	}
	var ae *APIError
	if !errors.As(err, &ae) || ae.Code != CodeTrialExpired {
		t.Errorf("want code %s, got %v", CodeTrialExpired, err)
	}
}

func TestDo_SessionLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		w.Write([]byte(`{
			"status":409,"code":"SESSION_LIMIT","message":"too many sessions",
			"managementToken":"mgmt-1",
			"sessions":[{"id":"s1","deviceId":"d1","clientType":"web"}]
		}`))
	}))
	defer srv.Close()

	err := newTestPipeline(srv.URL).Do(context.Background(), Request{Method: http.MethodPost, Path: "/auth/login", NoAuth: true})
	var sl *SessionLimitError
	if !errors.As(err, &sl) {
		t.Fatalf("want *SessionLimitError, got %v", err)
	}
	if sl.ManagementToken != "mgmt-1" {
		t.Errorf("ManagementToken = %q, want %q", sl.ManagementToken, "mgmt-1")
	}
	if len(sl.Sessions) != 1 || sl.Sessions[0].ID != "s1" {
		t.Errorf("Sessions = %+v, want one session s1", sl.Sessions)
	}
}

func TestDo_ValidationError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"name":""}`))
	}))
	defer srv.Close()

	var out strictResponse
	err := newTestPipeline(srv.URL).Do(context.Background(), Request{Method: http.MethodGet, Path: "/auth/me", Out: &out})
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("want *ValidationError, got %v", err)
	}
	if len(ve.Raw) == 0 {
		t.Error("ValidationError should carry the raw payload")
	}
}

func TestDo_ValidationErrorOnShapeMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"greeting":123}`))
	}))
	defer srv.Close()

	var out echoResponse
	err := newTestPipeline(srv.URL).Do(context.Background(), Request{Method: http.MethodGet, Path: "/hello", Out: &out})
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("want *ValidationError, got %v", err)
	}
}

func TestDo_TransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // unreachable

	err := newTestPipeline(srv.URL).Do(context.Background(), Request{Method: http.MethodGet, Path: "/leads"})
	if !IsTransport(err) {
		t.Fatalf("want transport error, got %v", err)
	}
}

func TestDo_RetriesTransientTransportFailure(t *testing.T) {
	hits := 0
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		if hits == 1 {
			// Drop the first connection mid-request.
			srv.CloseClientConnections()
			return
		}
		w.Write([]byte(`{"greeting":"back"}`))
	}))
	defer srv.Close()

	p := newTestPipeline(srv.URL)
	p.SetRetryPolicy(2, time.Millisecond)

	var out echoResponse
	if err := p.Do(context.Background(), Request{Method: http.MethodGet, Path: "/hello", Out: &out}); err != nil {
		t.Fatalf("Do with retry: %v", err)
	}
	if out.Greeting != "back" {
		t.Errorf("greeting = %q, want %q", out.Greeting, "back")
	}
	if hits < 2 {
		t.Errorf("hits = %d, want at least 2", hits)
	}
}

func TestDo_DoesNotRetryNonIdempotentMethods(t *testing.T) {
	hits := 0
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		// Drop every connection; a POST must not come back for another try.
		srv.CloseClientConnections()
	}))
	defer srv.Close()

	p := newTestPipeline(srv.URL)
	p.SetRetryPolicy(3, time.Millisecond)

	err := p.Do(context.Background(), Request{
		Method: http.MethodPost, Path: "/auth/login", Body: map[string]string{"email": "a@b.c"}, NoAuth: true,
	})
	if !IsTransport(err) {
		t.Fatalf("want transport error, got %v", err)
	}
	if hits != 1 {
		t.Errorf("hits = %d, want 1 (POST is not retried)", hits)
	}
}

func TestDo_DoesNotRetryHTTPErrors(t *testing.T) {
	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"status":500,"message":"boom"}`))
	}))
	defer srv.Close()

	p := newTestPipeline(srv.URL)
	p.SetRetryPolicy(3, time.Millisecond)

	err := p.Do(context.Background(), Request{Method: http.MethodGet, Path: "/leads"})
	var ae *APIError
	if !errors.As(err, &ae) || ae.Kind != KindHTTP {
		t.Fatalf("want generic http error, got %v", err)
	}
	if hits != 1 {
		t.Errorf("hits = %d, want 1 (HTTP statuses are not retried)", hits)
	}
}
