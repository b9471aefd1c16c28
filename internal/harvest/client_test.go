package harvest

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

// apiServer is a counting fake for the Harvest API. Responses are consumed
// in order; the last one repeats.
type apiServer struct {
	mu        sync.Mutex
	calls     int
	authSeen  []string
	responses []fakeResponse
	server    *httptest.Server
}

type fakeResponse struct {
	status int
	body   string
}

func newAPIServer(t *testing.T, responses ...fakeResponse) *apiServer {
	t.Helper()
	a := &apiServer{responses: responses}
	a.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		a.mu.Lock()
		idx := a.calls
		if idx >= len(a.responses) {
			idx = len(a.responses) - 1
		}
		resp := a.responses[idx]
		a.calls++
		a.authSeen = append(a.authSeen, r.Header.Get("Authorization"))
		a.mu.Unlock()

		w.WriteHeader(resp.status)
		_, _ = w.Write([]byte(resp.body))
	}))
	t.Cleanup(a.server.Close)
	return a
}

func (a *apiServer) callCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls
}

func (a *apiServer) authHeader(i int) string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if i >= len(a.authSeen) {
		return ""
	}
	return a.authSeen[i]
}

// tokenServer is a counting fake for the token-issuance endpoint.
type tokenServer struct {
	mu       sync.Mutex
	calls    int
	lastForm map[string]string
	status   int
	body     string
	server   *httptest.Server
}

func newTokenServer(t *testing.T, status int, body string) *tokenServer {
	t.Helper()
	ts := &tokenServer{status: status, body: body}
	ts.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Errorf("token endpoint got unparseable form: %v", err)
		}
		ts.mu.Lock()
		ts.calls++
		ts.lastForm = map[string]string{}
		for k := range r.PostForm {
			ts.lastForm[k] = r.PostForm.Get(k)
		}
		ts.mu.Unlock()

		w.WriteHeader(ts.status)
		_, _ = w.Write([]byte(ts.body))
	}))
	t.Cleanup(ts.server.Close)
	return ts
}

func (ts *tokenServer) callCount() int {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return ts.calls
}

func newTestClient(api *apiServer, auth Authenticator) *Client {
	c := NewClient(auth, "12345")
	c.BaseURL = api.server.URL
	return c
}

func TestClient_MakesSingleCall_When_FirstAttemptSucceeds(t *testing.T) {
	api := newAPIServer(t, fakeResponse{status: 200, body: `{"id":1,"first_name":"Pat"}`})
	tokens := newTokenServer(t, 200, `{"access_token":"should-not-be-used"}`)

	auth := NewBearerAuth("tok-1", "refresh-1", "client-1", "secret-1")
	auth.TokenURL = tokens.server.URL

	user, err := newTestClient(api, auth).GetMe(context.Background())
	if err != nil {
		t.Fatalf("GetMe failed: %v", err)
	}
	if user.ID != 1 {
		t.Errorf("Expected user ID 1, got %d", user.ID)
	}
	if api.callCount() != 1 {
		t.Errorf("Expected exactly 1 API call, got %d", api.callCount())
	}
	if tokens.callCount() != 0 {
		t.Errorf("Refresher should not be invoked on success, got %d token calls", tokens.callCount())
	}
}

func TestClient_DoesNotRetry_When_CredentialTripleIsIncomplete(t *testing.T) {
	api := newAPIServer(t, fakeResponse{status: 401, body: `{"error":"invalid_token"}`})
	tokens := newTokenServer(t, 200, `{"access_token":"new-token"}`)

	// Refresh token present, client secret missing: not eligible.
	auth := NewBearerAuth("tok-1", "refresh-1", "client-1", "")
	auth.TokenURL = tokens.server.URL

	_, err := newTestClient(api, auth).GetMe(context.Background())
	if err == nil {
		t.Fatal("Expected error from 401 response")
	}

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("Expected *APIError, got %T: %v", err, err)
	}
	if apiErr.StatusCode != 401 {
		t.Errorf("Expected status 401, got %d", apiErr.StatusCode)
	}
	if api.callCount() != 1 {
		t.Errorf("Expected exactly 1 API call, got %d", api.callCount())
	}
	if tokens.callCount() != 0 {
		t.Errorf("Expected no token endpoint calls, got %d", tokens.callCount())
	}
	if auth.AccessToken() != "tok-1" {
		t.Errorf("Access token must be unchanged, got %q", auth.AccessToken())
	}
}

func TestClient_RetriesWithNewToken_When_RefreshSucceeds(t *testing.T) {
	api := newAPIServer(t,
		fakeResponse{status: 401, body: `{"error":"invalid_token"}`},
		fakeResponse{status: 200, body: `{"id":7,"first_name":"Pat"}`},
	)
	tokens := newTokenServer(t, 200, `{"access_token":"new-token","token_type":"bearer"}`)

	auth := NewBearerAuth("old-token", "refresh-1", "client-1", "secret-1")
	auth.TokenURL = tokens.server.URL

	user, err := newTestClient(api, auth).GetMe(context.Background())
	if err != nil {
		t.Fatalf("GetMe failed after refresh: %v", err)
	}
	if user.ID != 7 {
		t.Errorf("Expected user ID 7, got %d", user.ID)
	}

	// Exactly three network calls: original, token issuance, retry.
	if api.callCount() != 2 {
		t.Errorf("Expected 2 API calls, got %d", api.callCount())
	}
	if tokens.callCount() != 1 {
		t.Errorf("Expected 1 token call, got %d", tokens.callCount())
	}
	if got := api.authHeader(0); got != "Bearer old-token" {
		t.Errorf("Original attempt used %q", got)
	}
	if got := api.authHeader(1); got != "Bearer new-token" {
		t.Errorf("Retry must use the new token, used %q", got)
	}
	if auth.AccessToken() != "new-token" {
		t.Errorf("Token cell not mutated, got %q", auth.AccessToken())
	}
}

func TestClient_SurfacesRetryResponse_When_RetryIsAlsoUnauthorized(t *testing.T) {
	api := newAPIServer(t,
		fakeResponse{status: 401, body: "first rejection"},
		fakeResponse{status: 401, body: "second rejection"},
	)
	tokens := newTokenServer(t, 200, `{"access_token":"new-token"}`)

	auth := NewBearerAuth("old-token", "refresh-1", "client-1", "secret-1")
	auth.TokenURL = tokens.server.URL

	_, err := newTestClient(api, auth).GetMe(context.Background())
	if err == nil {
		t.Fatal("Expected error")
	}

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("Expected *APIError, got %T", err)
	}
	if apiErr.Body != "second rejection" {
		t.Errorf("Error must carry the retry's body, got %q", apiErr.Body)
	}
	// No second refresh cycle: still exactly three network calls.
	if api.callCount() != 2 {
		t.Errorf("Expected 2 API calls, got %d", api.callCount())
	}
	if tokens.callCount() != 1 {
		t.Errorf("Expected 1 token call, got %d", tokens.callCount())
	}
}

func TestClient_DoesNotRetry_When_RefreshFails(t *testing.T) {
	api := newAPIServer(t, fakeResponse{status: 401, body: "original rejection"})
	tokens := newTokenServer(t, 400, `{"error":"invalid_grant"}`)

	auth := NewBearerAuth("old-token", "refresh-1", "client-1", "secret-1")
	auth.TokenURL = tokens.server.URL

	_, err := newTestClient(api, auth).GetMe(context.Background())

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("Expected *APIError, got %T", err)
	}
	if apiErr.Body != "original rejection" {
		t.Errorf("Error must carry the original body, got %q", apiErr.Body)
	}
	if api.callCount() != 1 {
		t.Errorf("Expected 1 API call (no retry), got %d", api.callCount())
	}
	if auth.AccessToken() != "old-token" {
		t.Errorf("Failed refresh must keep the token, got %q", auth.AccessToken())
	}
}

func TestClient_TruncatesErrorBody_When_ResponseIsHuge(t *testing.T) {
	api := newAPIServer(t, fakeResponse{status: 500, body: strings.Repeat("x", 10000)})

	auth := NewBearerAuth("tok-1", "", "", "")
	_, err := newTestClient(api, auth).GetMe(context.Background())

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("Expected *APIError, got %T", err)
	}
	if len(apiErr.Body) != 500 {
		t.Errorf("Expected body excerpt of exactly 500 characters, got %d", len(apiErr.Body))
	}
}

func TestClient_ProducesIndependentResults_When_CalledTwice(t *testing.T) {
	api := newAPIServer(t, fakeResponse{status: 200, body: `{"id":1}`})
	tokens := newTokenServer(t, 200, `{"access_token":"unused"}`)

	auth := NewBearerAuth("tok-1", "refresh-1", "client-1", "secret-1")
	auth.TokenURL = tokens.server.URL
	client := newTestClient(api, auth)

	for i := 0; i < 2; i++ {
		if _, err := client.GetMe(context.Background()); err != nil {
			t.Fatalf("Call %d failed: %v", i+1, err)
		}
	}

	if api.callCount() != 2 {
		t.Errorf("Expected 2 API calls, got %d", api.callCount())
	}
	if tokens.callCount() != 0 {
		t.Errorf("Refresh must not happen across healthy calls, got %d", tokens.callCount())
	}
	if auth.AccessToken() != "tok-1" {
		t.Errorf("Token must be unchanged, got %q", auth.AccessToken())
	}
}

func TestClient_RecordsRoundTrips_When_RecorderIsSet(t *testing.T) {
	api := newAPIServer(t,
		fakeResponse{status: 401, body: "no"},
		fakeResponse{status: 200, body: `{"id":1}`},
	)
	tokens := newTokenServer(t, 200, `{"access_token":"new-token"}`)

	auth := NewBearerAuth("old", "refresh-1", "client-1", "secret-1")
	auth.TokenURL = tokens.server.URL
	client := newTestClient(api, auth)

	var records []int
	client.Recorder = recorderFunc(func(status, attempt int) {
		records = append(records, status, attempt)
	})

	if _, err := client.GetMe(context.Background()); err != nil {
		t.Fatalf("GetMe failed: %v", err)
	}

	want := []int{401, 1, 200, 2}
	if len(records) != len(want) {
		t.Fatalf("Expected %d recorded values, got %v", len(want), records)
	}
	for i := range want {
		if records[i] != want[i] {
			t.Errorf("Record %d: expected %d, got %d", i, want[i], records[i])
		}
	}
}

type recorderFunc func(status, attempt int)

func (f recorderFunc) Record(_, _ string, status int, _ time.Duration, attempt int) {
	f(status, attempt)
}

func TestBuildURL_OmitsEmptyValues(t *testing.T) {
	q := NewQueryParams().
		Set("a", "1").
		Set("b", "").
		Set("c", "")

	got := buildURL("https://api.example.com", "/v2/things", q)
	want := "https://api.example.com/v2/things?a=1"
	if got != want {
		t.Errorf("Expected %q, got %q", want, got)
	}
}

func TestBuildURL_PreservesInsertionOrder(t *testing.T) {
	q := NewQueryParams().
		Set("zebra", "1").
		Set("alpha", "2").
		Set("mango", "3")

	got := buildURL("https://api.example.com", "/v2/things", q)
	want := "https://api.example.com/v2/things?zebra=1&alpha=2&mango=3"
	if got != want {
		t.Errorf("Expected %q, got %q", want, got)
	}
}

func TestBuildURL_KeepsPosition_When_KeyIsOverwritten(t *testing.T) {
	q := NewQueryParams().
		Set("a", "1").
		Set("b", "2").
		Set("a", "3")

	got := buildURL("", "/v2/things", q)
	want := "/v2/things?a=3&b=2"
	if got != want {
		t.Errorf("Expected %q, got %q", want, got)
	}
}

func TestBuildURL_EncodesKeysAndValues(t *testing.T) {
	q := NewQueryParams().Set("note s", "a&b=c")

	got := buildURL("", "/v2/things", q)
	want := "/v2/things?note+s=a%26b%3Dc"
	if got != want {
		t.Errorf("Expected %q, got %q", want, got)
	}
}

func TestBuildURL_UsesAmpersand_When_PathAlreadyHasQuery(t *testing.T) {
	q := NewQueryParams().Set("page", "2")

	got := buildURL("", "/v2/things?fixed=1", q)
	want := "/v2/things?fixed=1&page=2"
	if got != want {
		t.Errorf("Expected %q, got %q", want, got)
	}
}

func TestTruncate_CountsCharactersNotBytes(t *testing.T) {
	s := strings.Repeat("é", 600)
	got := truncate(s, 500)
	if n := len([]rune(got)); n != 500 {
		t.Errorf("Expected 500 characters, got %d", n)
	}
}
