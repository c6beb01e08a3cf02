package security

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/sirupsen/logrus"
)

// ValidationConfig holds request validation configuration.
type ValidationConfig struct {
	MaxRequestSize int64 `yaml:"max_request_size"`
	MaxJSONDepth   int   `yaml:"max_json_depth"`
	MaxFieldLength int   `yaml:"max_field_length"`
}

// RequestValidator performs basic structural checks on inbound requests
// before they reach the routing engine: size limit, well-formed JSON, and
// bounded nesting so a hostile payload cannot exhaust the parser.
type RequestValidator struct {
	config *ValidationConfig
	logger *logrus.Logger
}

// NewRequestValidator creates a validator with the given limits.
func NewRequestValidator(config *ValidationConfig, logger *logrus.Logger) *RequestValidator {
	if config.MaxRequestSize <= 0 {
		config.MaxRequestSize = 10 << 20
	}
	if config.MaxJSONDepth <= 0 {
		config.MaxJSONDepth = 20
	}
	if config.MaxFieldLength <= 0 {
		config.MaxFieldLength = 100000
	}
	return &RequestValidator{config: config, logger: logger}
}

// ValidateJSON checks a request body for well-formedness and depth.
func (v *RequestValidator) ValidateJSON(body []byte) error {
	if len(body) == 0 {
		return nil
	}
	var parsed interface{}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return fmt.Errorf("malformed JSON: %w", err)
	}
	if depth := jsonDepth(parsed); depth > v.config.MaxJSONDepth {
		return fmt.Errorf("JSON nesting depth %d exceeds limit %d", depth, v.config.MaxJSONDepth)
	}
	return validateFieldLengths(parsed, v.config.MaxFieldLength)
}

// ValidationMiddleware enforces the size limit and JSON checks on request
// bodies.
func (v *RequestValidator) ValidationMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.ContentLength > v.config.MaxRequestSize {
				http.Error(w, `{"error":"request too large"}`, http.StatusRequestEntityTooLarge)
				return
			}
			r.Body = http.MaxBytesReader(w, r.Body, v.config.MaxRequestSize)

			if r.Method == http.MethodPost || r.Method == http.MethodPut {
				body, err := io.ReadAll(r.Body)
				if err != nil {
					http.Error(w, `{"error":"request too large"}`, http.StatusRequestEntityTooLarge)
					return
				}
				if err := v.ValidateJSON(body); err != nil {
					v.logger.WithError(err).Warn("Request validation failed")
					http.Error(w, `{"error":"invalid request body"}`, http.StatusBadRequest)
					return
				}
				r.Body = io.NopCloser(bytes.NewReader(body))
			}

			next.ServeHTTP(w, r)
		})
	}
}

func jsonDepth(data interface{}) int {
	switch v := data.(type) {
	case map[string]interface{}:
		max := 0
		for _, child := range v {
			if d := jsonDepth(child); d > max {
				max = d
			}
		}
		return max + 1
	case []interface{}:
		max := 0
		for _, child := range v {
			if d := jsonDepth(child); d > max {
				max = d
			}
		}
		return max + 1
	default:
		return 1
	}
}

func validateFieldLengths(data interface{}, limit int) error {
	switch v := data.(type) {
	case string:
		if len(v) > limit {
			return fmt.Errorf("field length %d exceeds limit %d", len(v), limit)
		}
	case map[string]interface{}:
		for _, child := range v {
			if err := validateFieldLengths(child, limit); err != nil {
				return err
			}
		}
	case []interface{}:
		for _, child := range v {
			if err := validateFieldLengths(child, limit); err != nil {
				return err
			}
		}
	}
	return nil
}
