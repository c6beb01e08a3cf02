package security

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"
)

// AuthInfo describes an authenticated caller of the routing API.
type AuthInfo struct {
	UserID       string     `json:"user_id"`
	ApproverRole string     `json:"approver_role,omitempty"`
	AuthType     string     `json:"auth_type"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
}

// ApproverClaims is the JWT payload identifying who may approve plans.
type ApproverClaims struct {
	UserID       string `json:"user_id"`
	ApproverRole string `json:"approver_role"`
	jwt.RegisteredClaims
}

// Config holds authentication configuration.
type Config struct {
	APIKeys     []string      `yaml:"api_keys"`
	JWTSecret   string        `yaml:"jwt_secret"`
	JWTExpiry   time.Duration `yaml:"jwt_expiry"`
	RequireAuth bool          `yaml:"require_auth"`
}

// AuthProvider validates API keys and approver JWTs for the HTTP surface.
type AuthProvider struct {
	config *Config
	logger *logrus.Logger
}

// NewAuthProvider creates an authentication provider.
func NewAuthProvider(config *Config, logger *logrus.Logger) *AuthProvider {
	if config.JWTExpiry == 0 {
		config.JWTExpiry = 24 * time.Hour
	}
	return &AuthProvider{config: config, logger: logger}
}

// Authenticate accepts either a configured API key or a valid approver JWT.
func (a *AuthProvider) Authenticate(token string) (*AuthInfo, error) {
	if info, err := a.ValidateAPIKey(token); err == nil {
		return info, nil
	}
	if claims, err := a.ValidateJWT(token); err == nil {
		expiry := claims.ExpiresAt.Time
		return &AuthInfo{
			UserID:       claims.UserID,
			ApproverRole: claims.ApproverRole,
			AuthType:     "jwt",
			ExpiresAt:    &expiry,
		}, nil
	}
	return nil, errors.New("invalid authentication token")
}

// ValidateAPIKey checks a key against the configured set in constant time.
func (a *AuthProvider) ValidateAPIKey(apiKey string) (*AuthInfo, error) {
	if apiKey == "" {
		return nil, errors.New("API key is required")
	}
	for _, validKey := range a.config.APIKeys {
		if subtle.ConstantTimeCompare([]byte(apiKey), []byte(validKey)) == 1 {
			return &AuthInfo{
				UserID:   keyUserID(apiKey),
				AuthType: "api_key",
			}, nil
		}
	}

	a.logger.WithField("api_key_prefix", maskKey(apiKey)).Warn("Invalid API key attempted")
	return nil, errors.New("invalid API key")
}

// GenerateJWT issues an approver identity token.
func (a *AuthProvider) GenerateJWT(userID, approverRole string) (string, error) {
	now := time.Now()
	claims := &ApproverClaims{
		UserID:       userID,
		ApproverRole: approverRole,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(a.config.JWTExpiry)),
			Issuer:    "scheduler",
			Subject:   userID,
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(a.config.JWTSecret))
}

// ValidateJWT parses and validates an approver identity token.
func (a *AuthProvider) ValidateJWT(tokenString string) (*ApproverClaims, error) {
	claims := &ApproverClaims{}
	parsed, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(a.config.JWTSecret), nil
	})
	if err != nil {
		return nil, fmt.Errorf("invalid JWT: %w", err)
	}
	if !parsed.Valid {
		return nil, errors.New("invalid JWT")
	}
	return claims, nil
}

// AuthMiddleware enforces authentication on every request when RequireAuth
// is set; otherwise it passes through.
func (a *AuthProvider) AuthMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !a.config.RequireAuth {
				next.ServeHTTP(w, r)
				return
			}

			token := extractToken(r)
			if token == "" {
				http.Error(w, `{"error":"authentication required"}`, http.StatusUnauthorized)
				return
			}
			if _, err := a.Authenticate(token); err != nil {
				http.Error(w, `{"error":"invalid credentials"}`, http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// extractToken pulls the credential from the Authorization or X-API-Key
// header.
func extractToken(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return r.Header.Get("X-API-Key")
}

// keyUserID derives a stable pseudonymous user ID from an API key.
func keyUserID(apiKey string) string {
	sum := sha256.Sum256([]byte(apiKey))
	return "key-" + hex.EncodeToString(sum[:4])
}

// maskKey truncates a key for log output.
func maskKey(key string) string {
	if len(key) <= 8 {
		return "***"
	}
	return key[:4] + "..." + key[len(key)-4:]
}
