package harvest

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"database/sql"
	"encoding/base64"
	"fmt"
	"io"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

// Credentials is the OAuth credential set for one Harvest account connection.
// AccessToken is required; the other three token fields are only needed for
// automatic refresh.
type Credentials struct {
	AccessToken  string
	RefreshToken string
	ClientID     string
	ClientSecret string
	AccountID    string
}

// CredentialStore manages encrypted Harvest credentials
type CredentialStore interface {
	Store(userID string, creds Credentials) error
	Retrieve(userID string) (Credentials, error)
	// UpdateAccessToken persists a rotated access token without touching
	// the rest of the credential set. Wired to BearerAuth.OnRefresh.
	UpdateAccessToken(userID, accessToken string) error
	Delete(userID string) error
	Close() error
}

// SQLiteCredentialStore implements encrypted credential storage
type SQLiteCredentialStore struct {
	db        *sql.DB
	masterKey []byte
}

// NewCredentialStore creates credential store with encryption
func NewCredentialStore(dbPath string) (CredentialStore, error) {
	// Ensure directory exists
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath+"?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	masterKey, err := getMasterKey()
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to get master key: %w", err)
	}

	store := &SQLiteCredentialStore{
		db:        db,
		masterKey: masterKey,
	}

	if err := store.createTables(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return store, nil
}

func (s *SQLiteCredentialStore) createTables() error {
	query := `
	CREATE TABLE IF NOT EXISTS harvest_credentials (
		user_id TEXT PRIMARY KEY,
		encrypted_access_token TEXT NOT NULL,
		encrypted_refresh_token TEXT NOT NULL DEFAULT '',
		encrypted_client_id TEXT NOT NULL DEFAULT '',
		encrypted_client_secret TEXT NOT NULL DEFAULT '',
		account_id TEXT NOT NULL DEFAULT '',
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TRIGGER IF NOT EXISTS update_harvest_credentials_timestamp
	AFTER UPDATE ON harvest_credentials
	BEGIN
		UPDATE harvest_credentials SET updated_at = CURRENT_TIMESTAMP WHERE user_id = NEW.user_id;
	END;`

	_, err := s.db.Exec(query)
	return err
}

func (s *SQLiteCredentialStore) Store(userID string, creds Credentials) error {
	encrypted := make([]string, 4)
	for i, plain := range []string{creds.AccessToken, creds.RefreshToken, creds.ClientID, creds.ClientSecret} {
		var err error
		encrypted[i], err = s.encrypt(plain)
		if err != nil {
			return fmt.Errorf("failed to encrypt credentials: %w", err)
		}
	}

	query := `
	INSERT OR REPLACE INTO harvest_credentials
		(user_id, encrypted_access_token, encrypted_refresh_token, encrypted_client_id, encrypted_client_secret, account_id, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)`

	_, err := s.db.Exec(query, userID, encrypted[0], encrypted[1], encrypted[2], encrypted[3], creds.AccountID)
	if err != nil {
		return fmt.Errorf("failed to store credentials: %w", err)
	}

	return nil
}

func (s *SQLiteCredentialStore) Retrieve(userID string) (Credentials, error) {
	var encAccess, encRefresh, encClientID, encClientSecret string
	var creds Credentials

	query := `
	SELECT encrypted_access_token, encrypted_refresh_token, encrypted_client_id, encrypted_client_secret, account_id
	FROM harvest_credentials WHERE user_id = ?`

	err := s.db.QueryRow(query, userID).Scan(&encAccess, &encRefresh, &encClientID, &encClientSecret, &creds.AccountID)
	if err != nil {
		if err == sql.ErrNoRows {
			return Credentials{}, fmt.Errorf("credentials not found for user %s", userID)
		}
		return Credentials{}, fmt.Errorf("failed to retrieve credentials: %w", err)
	}

	for _, field := range []struct {
		enc string
		dst *string
	}{
		{encAccess, &creds.AccessToken},
		{encRefresh, &creds.RefreshToken},
		{encClientID, &creds.ClientID},
		{encClientSecret, &creds.ClientSecret},
	} {
		*field.dst, err = s.decrypt(field.enc)
		if err != nil {
			return Credentials{}, fmt.Errorf("failed to decrypt credentials: %w", err)
		}
	}

	return creds, nil
}

func (s *SQLiteCredentialStore) UpdateAccessToken(userID, accessToken string) error {
	encrypted, err := s.encrypt(accessToken)
	if err != nil {
		return fmt.Errorf("failed to encrypt access token: %w", err)
	}

	result, err := s.db.Exec(
		`UPDATE harvest_credentials SET encrypted_access_token = ? WHERE user_id = ?`,
		encrypted, userID,
	)
	if err != nil {
		return fmt.Errorf("failed to update access token: %w", err)
	}

	rows, err := result.RowsAffected()
	if err == nil && rows == 0 {
		return fmt.Errorf("credentials not found for user %s", userID)
	}
	return nil
}

func (s *SQLiteCredentialStore) Delete(userID string) error {
	_, err := s.db.Exec(`DELETE FROM harvest_credentials WHERE user_id = ?`, userID)
	if err != nil {
		return fmt.Errorf("failed to delete credentials: %w", err)
	}
	return nil
}

func (s *SQLiteCredentialStore) Close() error {
	return s.db.Close()
}

// Encryption helpers
func (s *SQLiteCredentialStore) encrypt(plaintext string) (string, error) {
	block, err := aes.NewCipher(s.masterKey)
	if err != nil {
		return "", err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}

	ciphertext := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

func (s *SQLiteCredentialStore) decrypt(encoded string) (string, error) {
	ciphertext, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", err
	}

	block, err := aes.NewCipher(s.masterKey)
	if err != nil {
		return "", err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}

	nonceSize := gcm.NonceSize()
	if len(ciphertext) < nonceSize {
		return "", fmt.Errorf("ciphertext too short")
	}

	nonce, ciphertext := ciphertext[:nonceSize], ciphertext[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", err
	}

	return string(plaintext), nil
}

// getMasterKey generates or retrieves encryption key
func getMasterKey() ([]byte, error) {
	// In production, this should come from a secure key management system
	keySource := os.Getenv("HARVEST_MASTER_KEY")
	if keySource == "" {
		keySource = "harvest-mcp-encryption-key-2025" // Default for development
	}

	hash := sha256.Sum256([]byte(keySource))
	return hash[:], nil
}
