// Package access implements client authentication for the SatQuery server.
// It covers the API-key check guarding the ask endpoints and the hashed
// secret comparison guarding the management endpoints.
package access

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"net/http"
	"strings"
)

// AuthErrorCode classifies authentication failures.
type AuthErrorCode string

const (
	AuthErrorCodeNoCredentials     AuthErrorCode = "no_credentials"
	AuthErrorCodeInvalidCredential AuthErrorCode = "invalid_credential"
)

// AuthError carries authentication failure details and HTTP status.
type AuthError struct {
	Code    AuthErrorCode
	Message string
}

func (e *AuthError) Error() string {
	if e == nil {
		return ""
	}
	message := strings.TrimSpace(e.Message)
	if message == "" {
		message = "authentication error"
	}
	return message
}

// StatusCode maps the failure to an HTTP status.
func (e *AuthError) StatusCode() int {
	if e == nil {
		return http.StatusInternalServerError
	}
	switch e.Code {
	case AuthErrorCodeNoCredentials, AuthErrorCodeInvalidCredential:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

// Checker validates inbound credentials against the configured key material.
type Checker struct {
	keys       map[string]struct{}
	mgmtSecret string
}

// NewChecker builds a checker from the configured API keys and management secret.
// Empty and duplicate keys are dropped.
func NewChecker(apiKeys []string, managementSecret string) *Checker {
	keySet := make(map[string]struct{}, len(apiKeys))
	for _, key := range apiKeys {
		trimmed := strings.TrimSpace(key)
		if trimmed == "" {
			continue
		}
		keySet[trimmed] = struct{}{}
	}
	return &Checker{
		keys:       keySet,
		mgmtSecret: strings.TrimSpace(managementSecret),
	}
}

// AuthenticateRequest checks the ask-API credentials carried by the request
// and returns the key that matched. Accepted carriers: "Authorization:
// Bearer <key>", "X-Api-Key", and the "key" query parameter. When no API
// keys are configured, access is open and the returned key is empty.
func (c *Checker) AuthenticateRequest(r *http.Request) (string, *AuthError) {
	if c == nil || len(c.keys) == 0 {
		return "", nil
	}

	authHeader := r.Header.Get("Authorization")
	apiKeyHeader := r.Header.Get("X-Api-Key")
	queryKey := ""
	if r.URL != nil {
		queryKey = r.URL.Query().Get("key")
	}
	if authHeader == "" && apiKeyHeader == "" && queryKey == "" {
		return "", &AuthError{Code: AuthErrorCodeNoCredentials, Message: "missing api key"}
	}

	for _, candidate := range []string{extractBearerToken(authHeader), apiKeyHeader, queryKey} {
		candidate = strings.TrimSpace(candidate)
		if candidate == "" {
			continue
		}
		if _, ok := c.keys[candidate]; ok {
			return candidate, nil
		}
	}
	return "", &AuthError{Code: AuthErrorCodeInvalidCredential, Message: "invalid api key"}
}

// VerifySecret checks a management credential against the configured secret.
// Both sides may be supplied either as plaintext or as a forwarded sha256 hex
// digest; all comparisons happen in hash space so a pre-hashed secret in the
// config file never has to be reversed.
func (c *Checker) VerifySecret(candidate string) *AuthError {
	if c == nil || c.mgmtSecret == "" {
		return &AuthError{Code: AuthErrorCodeInvalidCredential, Message: "management access is disabled"}
	}
	candidate = strings.TrimSpace(candidate)
	if candidate == "" {
		return &AuthError{Code: AuthErrorCodeNoCredentials, Message: "missing management secret"}
	}

	stored := c.mgmtSecret
	if !isHexDigest(stored) {
		stored = HashSecret(stored)
	}
	hashed := candidate
	if !isHexDigest(hashed) {
		hashed = HashSecret(hashed)
	}

	if subtle.ConstantTimeCompare([]byte(strings.ToLower(stored)), []byte(strings.ToLower(hashed))) == 1 {
		return nil
	}
	return &AuthError{Code: AuthErrorCodeInvalidCredential, Message: "invalid management secret"}
}

// HashSecret returns the sha256 hex digest of the given secret.
func HashSecret(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}

func extractBearerToken(header string) string {
	trimmed := strings.TrimSpace(header)
	if trimmed == "" {
		return ""
	}
	parts := strings.SplitN(trimmed, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func isHexDigest(value string) bool {
	if len(value) != 64 {
		return false
	}
	for _, r := range value {
		switch {
		case r >= '0' && r <= '9':
		case r >= 'a' && r <= 'f':
		case r >= 'A' && r <= 'F':
		default:
			return false
		}
	}
	return true
}
