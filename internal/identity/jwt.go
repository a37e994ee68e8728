package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"pricewatch/internal/config"
	apperrors "pricewatch/internal/errors"
	"pricewatch/internal/users"
)

var (
	// ErrMissingUserID is returned when a valid token names no user
	ErrMissingUserID = errors.New("token carries no user id")
)

// JWTVerifier verifies HMAC-signed JSON Web Tokens. The user id is read from
// the "id" claim, or "sub" when "id" is absent. With a Directory the account
// is looked up and must exist; without one the name and email claims are used.
type JWTVerifier struct {
	secret    []byte
	algorithm string
	directory users.Directory
}

// NewJWTVerifier creates a verifier from the auth settings. dir may be nil.
func NewJWTVerifier(cfg config.AuthConfig, dir users.Directory) (*JWTVerifier, error) {
	if cfg.JWTSecret == "" {
		return nil, apperrors.NewConfigError("jwt secret is required", nil)
	}
	alg, err := signingMethod(cfg.JWTAlgorithm)
	if err != nil {
		return nil, apperrors.NewConfigError("unsupported jwt algorithm", err)
	}
	return &JWTVerifier{
		secret:    []byte(cfg.JWTSecret),
		algorithm: alg.Alg(),
		directory: dir,
	}, nil
}

// VerifyCredential implements CredentialVerifier
func (v *JWTVerifier) VerifyCredential(ctx context.Context, token string) (Principal, error) {
	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return v.secret, nil
	}, jwt.WithValidMethods([]string{v.algorithm}))
	if err != nil {
		return Principal{}, apperrors.NewCredentialError("token verification failed", err)
	}

	userID := stringClaim(claims, "id")
	if userID == "" {
		userID = stringClaim(claims, "sub")
	}
	if userID == "" {
		return Principal{}, ErrMissingUserID
	}

	if v.directory == nil {
		return Principal{
			UserID: userID,
			Name:   stringClaim(claims, "name"),
			Email:  stringClaim(claims, "email"),
		}, nil
	}

	u, err := v.directory.FindByID(ctx, userID)
	if err != nil {
		return Principal{}, fmt.Errorf("lookup user %s: %w", userID, err)
	}
	return Principal{UserID: u.ID, Name: u.Name, Email: u.Email}, nil
}

// SignToken issues a token in the layout VerifyCredential accepts. The
// gateway never issues credentials itself; this serves tooling and tests.
func SignToken(cfg config.AuthConfig, userID, name, email string, ttl time.Duration) (string, error) {
	method, err := signingMethod(cfg.JWTAlgorithm)
	if err != nil {
		return "", err
	}
	now := time.Now()
	claims := jwt.MapClaims{
		"id":  userID,
		"iat": now.Unix(),
		"exp": now.Add(ttl).Unix(),
	}
	if name != "" {
		claims["name"] = name
	}
	if email != "" {
		claims["email"] = email
	}
	return jwt.NewWithClaims(method, claims).SignedString([]byte(cfg.JWTSecret))
}

func signingMethod(alg string) (jwt.SigningMethod, error) {
	switch strings.ToUpper(strings.TrimSpace(alg)) {
	case "", "HS256":
		return jwt.SigningMethodHS256, nil
	case "HS384":
		return jwt.SigningMethodHS384, nil
	case "HS512":
		return jwt.SigningMethodHS512, nil
	default:
		return nil, fmt.Errorf("unsupported alg %q (use HS256, HS384 or HS512)", alg)
	}
}

func stringClaim(claims jwt.MapClaims, key string) string {
	if v, ok := claims[key].(string); ok {
		return strings.TrimSpace(v)
	}
	return ""
}

// failureReason labels the credential failure metric
func failureReason(err error) string {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return "expired"
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return "signature"
	case errors.Is(err, jwt.ErrTokenMalformed):
		return "malformed"
	case errors.Is(err, users.ErrUserNotFound):
		return "user_not_found"
	case errors.Is(err, ErrMissingUserID):
		return "missing_user_id"
	case errors.Is(err, errNoVerifier):
		return "unconfigured"
	default:
		return "invalid"
	}
}
