package harvest

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

// DefaultTokenURL is the Harvest ID endpoint for the refresh_token grant.
const DefaultTokenURL = "https://id.getharvest.com/api/v2/oauth2/token"

// Authenticator applies credentials to outgoing requests and knows how to
// recover after the API rejects them.
type Authenticator interface {
	// Apply sets the authentication header on the request.
	Apply(req *http.Request)

	// Refresh attempts to obtain fresh credentials. It reports false both
	// when refreshing is not possible (missing credentials) and when the
	// attempt itself failed; callers only need to know whether a retry is
	// worthwhile.
	Refresh(ctx context.Context) bool
}

// BearerAuth authenticates with an OAuth2 bearer token and exchanges the
// refresh token for a new one when the API returns 401.
type BearerAuth struct {
	// TokenURL is the token-issuance endpoint. Tests point it at a local server.
	TokenURL string

	// OnRefresh, when set, receives every replacement access token.
	// The credential store hooks in here to persist rotations.
	OnRefresh func(accessToken string)

	refreshToken string
	clientID     string
	clientSecret string

	mu          sync.Mutex
	accessToken string

	client *http.Client
}

// NewBearerAuth creates bearer authentication from an access token and the
// optional refresh credentials. Refresh is only attempted when refresh token,
// client ID and client secret are all present.
func NewBearerAuth(accessToken, refreshToken, clientID, clientSecret string) *BearerAuth {
	return &BearerAuth{
		TokenURL:     DefaultTokenURL,
		accessToken:  accessToken,
		refreshToken: refreshToken,
		clientID:     clientID,
		clientSecret: clientSecret,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// AccessToken returns the current bearer token.
func (b *BearerAuth) AccessToken() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.accessToken
}

// Apply sets the Authorization header with the current bearer token.
func (b *BearerAuth) Apply(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+b.AccessToken())
}

// Refresh exchanges the refresh token for a new access token. It returns
// false without touching the network when any of refresh token, client ID or
// client secret is missing. All failure causes (error status, transport
// fault, response without a token) collapse into the same false, and the
// current access token is kept.
func (b *BearerAuth) Refresh(ctx context.Context) bool {
	if b.refreshToken == "" || b.clientID == "" || b.clientSecret == "" {
		return false
	}

	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", b.refreshToken)
	form.Set("client_id", b.clientID)
	form.Set("client_secret", b.clientSecret)

	req, err := http.NewRequestWithContext(ctx, "POST", b.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return false
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := b.client.Do(req)
	if err != nil {
		return false
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return false
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return false
	}

	var token struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.Unmarshal(body, &token); err != nil || token.AccessToken == "" {
		return false
	}

	b.mu.Lock()
	b.accessToken = token.AccessToken
	b.mu.Unlock()

	if b.OnRefresh != nil {
		b.OnRefresh(token.AccessToken)
	}

	return true
}

// APIKeyAuth authenticates with a static header value. There is nothing to
// refresh, so a 401 is final.
type APIKeyAuth struct {
	Header string // defaults to Authorization
	Key    string
}

// Apply sets the configured header.
func (a *APIKeyAuth) Apply(req *http.Request) {
	header := a.Header
	if header == "" {
		header = "Authorization"
	}
	req.Header.Set(header, a.Key)
}

// Refresh reports that recovery is not possible for static keys.
func (a *APIKeyAuth) Refresh(_ context.Context) bool {
	return false
}
