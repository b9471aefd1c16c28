package harvest

import (
	"context"
	"fmt"
	"html"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DefaultUserID keys the single credential set this server manages. The
// setup flow writes under it and the server reads rotations back with it.
// TODO: proper user sessions for multi-user deployments.
const DefaultUserID = "default_user"

// SetupHandler handles Harvest credential setup
type SetupHandler struct {
	store     CredentialStore
	validator func(creds Credentials) error
}

// NewSetupHandler creates Harvest setup handler
func NewSetupHandler() *SetupHandler {
	storePath := os.Getenv("HARVEST_CREDENTIAL_DB_PATH")
	if storePath == "" {
		storePath = "/tmp/harvest_credentials.db" // Default for development
	}

	store, err := NewCredentialStore(storePath)
	if err != nil {
		// Return handler without store - will show error to user
		return &SetupHandler{}
	}

	return &SetupHandler{
		store:     store,
		validator: defaultHarvestValidator,
	}
}

// defaultHarvestValidator checks a credential set with a live API call
func defaultHarvestValidator(creds Credentials) error {
	auth := NewBearerAuth(creds.AccessToken, creds.RefreshToken, creds.ClientID, creds.ClientSecret)
	client := NewClient(auth, creds.AccountID)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if _, err := client.GetMe(ctx); err != nil {
		return fmt.Errorf("Harvest API test failed: %w", err)
	}
	return nil
}

// Store returns the credential store backing the handler, or nil when
// storage failed to initialize.
func (h *SetupHandler) Store() CredentialStore {
	return h.store
}

// HandleSetup shows credential input form or processes submission
func (h *SetupHandler) HandleSetup(w http.ResponseWriter, r *http.Request) {
	if r.Method == "GET" {
		h.showSetupForm(w, r)
		return
	}

	if r.Method == "POST" {
		h.processSetup(w, r)
		return
	}

	http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
}

func (h *SetupHandler) showSetupForm(w http.ResponseWriter, _ *http.Request) {
	// Stateless CSRF token: cookie must match the hidden form field
	csrfToken := uuid.New().String()
	http.SetCookie(w, &http.Cookie{
		Name:     "csrf_token",
		Value:    csrfToken,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   600, // 10 minutes
	})

	page := fmt.Sprintf(`
<!DOCTYPE html>
<html>
<head>
    <title>Harvest Setup</title>
    <style>
        body { font-family: Arial, sans-serif; max-width: 600px; margin: 50px auto; padding: 20px; }
        .container { border: 1px solid #ddd; border-radius: 8px; padding: 30px; }
        h1 { color: #333; }
        .form-group { margin: 20px 0; }
        label { display: block; margin-bottom: 5px; font-weight: bold; }
        input[type="text"], input[type="password"] {
            width: 100%%; padding: 10px; border: 1px solid #ddd; border-radius: 4px;
            box-sizing: border-box;
        }
        button {
            background: #f36c00; color: white; border: none; padding: 12px 24px;
            border-radius: 4px; cursor: pointer; font-size: 16px;
        }
        .info { background: #e9ecef; padding: 15px; border-radius: 4px; margin: 20px 0; }
    </style>
</head>
<body>
    <div class="container">
        <h1>Harvest Setup</h1>

        <div class="info">
            <p>Create an OAuth2 application at
            <a href="https://id.getharvest.com/developers" target="_blank">id.getharvest.com/developers</a>
            and paste its credentials below. Refresh token, client ID and client
            secret are optional but enable automatic token renewal.</p>
        </div>

        <form method="POST">
            <input type="hidden" name="csrf_token" value="%s">
            <div class="form-group">
                <label for="access_token">Access Token:</label>
                <input type="password" id="access_token" name="access_token" required>
            </div>
            <div class="form-group">
                <label for="refresh_token">Refresh Token (optional):</label>
                <input type="password" id="refresh_token" name="refresh_token">
            </div>
            <div class="form-group">
                <label for="client_id">Client ID (optional):</label>
                <input type="text" id="client_id" name="client_id">
            </div>
            <div class="form-group">
                <label for="client_secret">Client Secret (optional):</label>
                <input type="password" id="client_secret" name="client_secret">
            </div>
            <div class="form-group">
                <label for="account_id">Account ID:</label>
                <input type="text" id="account_id" name="account_id">
            </div>
            <button type="submit">Validate &amp; Save Credentials</button>
        </form>

        <div class="info">
            <p><strong>Security:</strong> Your credentials are encrypted before
            they are stored.</p>
        </div>
    </div>
</body>
</html>`, csrfToken)

	w.Header().Set("Content-Type", "text/html")
	w.WriteHeader(http.StatusOK)
	if _, err := fmt.Fprint(w, page); err != nil {
		http.Error(w, "Failed to render form", http.StatusInternalServerError)
	}
}

func (h *SetupHandler) processSetup(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		h.showError(w, "Invalid form data")
		return
	}

	cookie, err := r.Cookie("csrf_token")
	if err != nil || cookie.Value == "" || cookie.Value != r.FormValue("csrf_token") {
		h.showError(w, "Invalid or expired form token, please retry")
		return
	}

	creds := Credentials{
		AccessToken:  strings.TrimSpace(r.FormValue("access_token")),
		RefreshToken: strings.TrimSpace(r.FormValue("refresh_token")),
		ClientID:     strings.TrimSpace(r.FormValue("client_id")),
		ClientSecret: strings.TrimSpace(r.FormValue("client_secret")),
		AccountID:    strings.TrimSpace(r.FormValue("account_id")),
	}

	if creds.AccessToken == "" {
		h.showError(w, "Access token is required")
		return
	}

	// Validate credentials with a live API call
	if h.validator != nil {
		if err := h.validator(creds); err != nil {
			h.showError(w, fmt.Sprintf("Invalid Harvest credentials: %v", err))
			return
		}
	}

	if h.store == nil {
		h.showError(w, "Credential storage unavailable")
		return
	}

	if err := h.store.Store(DefaultUserID, creds); err != nil {
		h.showError(w, fmt.Sprintf("Failed to save credentials: %v", err))
		return
	}

	h.showSuccess(w, "Credentials validated and saved successfully!")
}

func (h *SetupHandler) showError(w http.ResponseWriter, message string) {
	// The message may embed remote API response text; never render it raw.
	page := fmt.Sprintf(`
<!DOCTYPE html>
<html>
<head>
    <title>Harvest Setup - Error</title>
    <style>
        body { font-family: Arial, sans-serif; max-width: 600px; margin: 50px auto; padding: 20px; }
        .container { border: 1px solid #ddd; border-radius: 8px; padding: 30px; }
        .error { background: #f8d7da; border: 1px solid #f5c6cb; color: #721c24; padding: 15px; border-radius: 4px; margin: 20px 0; }
        .button { display: inline-block; background: #f36c00; color: white; text-decoration: none; padding: 10px 20px; border-radius: 4px; margin: 10px 0; }
    </style>
</head>
<body>
    <div class="container">
        <h1>Setup Error</h1>
        <div class="error">%s</div>
        <a href="/setup" class="button">Try Again</a>
    </div>
</body>
</html>`, html.EscapeString(message))

	w.Header().Set("Content-Type", "text/html")
	w.WriteHeader(http.StatusBadRequest)
	if _, err := fmt.Fprint(w, page); err != nil {
		http.Error(w, "Failed to render error", http.StatusInternalServerError)
	}
}

func (h *SetupHandler) showSuccess(w http.ResponseWriter, message string) {
	page := fmt.Sprintf(`
<!DOCTYPE html>
<html>
<head>
    <title>Harvest Setup - Success</title>
    <style>
        body { font-family: Arial, sans-serif; max-width: 600px; margin: 50px auto; padding: 20px; }
        .container { border: 1px solid #ddd; border-radius: 8px; padding: 30px; }
        .success { background: #d4edda; border: 1px solid #c3e6cb; color: #155724; padding: 15px; border-radius: 4px; margin: 20px 0; }
    </style>
</head>
<body>
    <div class="container">
        <h1>Setup Complete</h1>
        <div class="success">%s</div>
    </div>
</body>
</html>`, message)

	w.Header().Set("Content-Type", "text/html")
	w.WriteHeader(http.StatusOK)
	if _, err := fmt.Fprint(w, page); err != nil {
		http.Error(w, "Failed to render success", http.StatusInternalServerError)
	}
}
