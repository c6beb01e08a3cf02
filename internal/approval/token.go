package approval

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"

	"github.com/synaptiq/scheduler/internal/types"
)

var (
	// ErrTokenExpired means the token's TTL elapsed before execution.
	// Execution must reject an expired token regardless of its used state.
	ErrTokenExpired = errors.New("execution token expired")

	// ErrTokenAlreadyUsed means a second execution was attempted with a
	// token that has already been claimed. Replays are hard rejections,
	// never silent no-ops.
	ErrTokenAlreadyUsed = errors.New("execution token already used")

	// ErrPlanMismatch means an approval does not belong to the plan it was
	// presented with.
	ErrPlanMismatch = errors.New("approval does not match plan")

	// ErrBadSignature means the approval's signature does not verify.
	ErrBadSignature = errors.New("approval signature invalid")
)

// TokenTTL is the hard expiry window from issuance.
const TokenTTL = time.Hour

// ExecutionToken is the only artifact authorized to trigger live execution.
// It derives from exactly one approval, is single-use, and expires TokenTTL
// after issuance.
type ExecutionToken struct {
	TokenID   string         `json:"token_id"`
	PlanID    string         `json:"plan_id"`
	Approval  types.Approval `json:"approval"`
	ExpiresAt time.Time      `json:"expires_at"`

	// SignedJWT is the stateless wire form carrying the same identity and
	// expiry, for callers that round-trip tokens over HTTP.
	SignedJWT string `json:"signed_jwt,omitempty"`

	used atomic.Bool
}

// Used reports whether the token has been claimed.
func (t *ExecutionToken) Used() bool {
	return t.used.Load()
}

// Claim atomically transitions used false->true. Concurrent claimants get
// exactly one winner; losers observe ErrTokenAlreadyUsed. Expiry is checked
// first so an expired token is rejected whatever its used state.
func (t *ExecutionToken) Claim() error {
	if time.Now().After(t.ExpiresAt) {
		return ErrTokenExpired
	}
	if !t.used.CompareAndSwap(false, true) {
		return ErrTokenAlreadyUsed
	}
	return nil
}

// TokenClaims is the JWT payload of a token's wire form.
type TokenClaims struct {
	TokenID    string `json:"token_id"`
	PlanID     string `json:"plan_id"`
	ApproverID string `json:"approver_id"`
	jwt.RegisteredClaims
}

// Issuer signs approvals and mints execution tokens. The signing secret is
// shared with the HTTP surface so tokens can be verified statelessly.
type Issuer struct {
	secret []byte
	logger *logrus.Logger
}

// NewIssuer creates an issuer with the given signing secret.
func NewIssuer(secret string, logger *logrus.Logger) *Issuer {
	if logger == nil {
		logger = logrus.New()
	}
	return &Issuer{secret: []byte(secret), logger: logger}
}

// ApprovePlan records a sign-off on a plan. One approval per plan; the
// signature binds the approval to the plan and the approver.
func (i *Issuer) ApprovePlan(plan types.Plan, approverID, approverRole, reason string) types.Approval {
	app := types.Approval{
		PlanID:       plan.PlanID,
		ApproverID:   approverID,
		ApproverRole: approverRole,
		Reason:       reason,
		Timestamp:    time.Now().UTC(),
	}
	app.Signature = i.sign(app)

	i.logger.WithFields(logrus.Fields{
		"plan_id":  plan.PlanID,
		"approver": approverID,
		"role":     approverRole,
	}).Info("Plan approved")
	return app
}

// VerifyApproval checks the approval's signature and plan binding.
func (i *Issuer) VerifyApproval(app types.Approval, plan types.Plan) error {
	if app.PlanID != plan.PlanID {
		return fmt.Errorf("%w: approval for %s, plan %s", ErrPlanMismatch, app.PlanID, plan.PlanID)
	}
	expected := i.sign(app)
	if !hmac.Equal([]byte(expected), []byte(app.Signature)) {
		return ErrBadSignature
	}
	return nil
}

// IssueExecutionToken mints a token from an approval. Issuance is pure
// construction and never fails; all rejection happens at claim time.
func (i *Issuer) IssueExecutionToken(app types.Approval) *ExecutionToken {
	token := &ExecutionToken{
		TokenID:   newTokenID(),
		PlanID:    app.PlanID,
		Approval:  app,
		ExpiresAt: time.Now().UTC().Add(TokenTTL),
	}
	token.SignedJWT = i.signJWT(token)

	i.logger.WithFields(logrus.Fields{
		"token_id":   token.TokenID,
		"plan_id":    token.PlanID,
		"expires_at": token.ExpiresAt,
	}).Info("Execution token issued")
	return token
}

// VerifyTokenJWT parses and validates a token's wire form.
func (i *Issuer) VerifyTokenJWT(signed string) (*TokenClaims, error) {
	claims := &TokenClaims{}
	parsed, err := jwt.ParseWithClaims(signed, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return i.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, fmt.Errorf("invalid token: %w", err)
	}
	if !parsed.Valid {
		return nil, errors.New("invalid token")
	}
	return claims, nil
}

// sign computes the HMAC-SHA256 approval signature over the identity fields.
func (i *Issuer) sign(app types.Approval) string {
	mac := hmac.New(sha256.New, i.secret)
	fmt.Fprintf(mac, "%s|%s|%s|%d", app.PlanID, app.ApproverID, app.ApproverRole, app.Timestamp.UnixMilli())
	return hex.EncodeToString(mac.Sum(nil))
}

func (i *Issuer) signJWT(token *ExecutionToken) string {
	claims := &TokenClaims{
		TokenID:    token.TokenID,
		PlanID:     token.PlanID,
		ApproverID: token.Approval.ApproverID,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(token.ExpiresAt),
			Issuer:    "scheduler",
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		// HS256 signing over a byte secret does not fail in practice; the
		// in-memory token remains valid without a wire form.
		i.logger.WithError(err).Warn("Failed to sign execution token JWT")
		return ""
	}
	return signed
}

func newTokenID() string {
	buf := make([]byte, 12)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Sprintf("token-%d", time.Now().UnixNano())
	}
	return "token-" + hex.EncodeToString(buf)
}
