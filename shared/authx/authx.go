package authx

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrMissingToken = errors.New("missing bearer token")
	ErrInvalidToken = errors.New("invalid token")
	ErrUnknownKID   = errors.New("unknown kid")
)

// Identity is the minimum caller identity forwarded past the edge. It never
// carries the raw credential.
type Identity struct {
	Subject string
	Email   string
	UserID  string
	Roles   []string
}

func (i Identity) HasAnyRole(roles ...string) bool {
	for _, have := range i.Roles {
		for _, want := range roles {
			if strings.EqualFold(have, want) {
				return true
			}
		}
	}
	return false
}

type Verifier interface {
	Verify(ctx context.Context, rawToken string) (Identity, error)
}

type contextKey struct{}

func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, contextKey{}, id)
}

func FromContext(ctx context.Context) (Identity, bool) {
	if v := ctx.Value(contextKey{}); v != nil {
		if id, ok := v.(Identity); ok {
			return id, true
		}
	}
	return Identity{}, false
}

// ExtractBearer returns the token of an "Authorization: Bearer <token>" header.
func ExtractBearer(header string) (string, error) {
	header = strings.TrimSpace(header)
	if len(header) < len("bearer ") || !strings.EqualFold(header[:len("bearer ")], "bearer ") {
		return "", ErrMissingToken
	}
	token := strings.TrimSpace(header[len("bearer "):])
	if token == "" {
		return "", ErrMissingToken
	}
	return token, nil
}

// HMACVerifier accepts HS256 tokens signed with a shared secret, as issued by
// the user service. The subject claim carries the user's email.
type HMACVerifier struct {
	secret []byte
	parser *jwt.Parser
}

func NewHMACVerifier(secret string, clockSkewSeconds int) (*HMACVerifier, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, fmt.Errorf("%w: missing hmac secret", ErrInvalidToken)
	}
	if clockSkewSeconds < 0 {
		clockSkewSeconds = 0
	}
	return &HMACVerifier{
		secret: []byte(secret),
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"}),
			jwt.WithExpirationRequired(),
			jwt.WithLeeway(time.Duration(clockSkewSeconds)*time.Second),
		),
	}, nil
}

func (v *HMACVerifier) Verify(_ context.Context, rawToken string) (Identity, error) {
	rawToken = strings.TrimSpace(rawToken)
	if rawToken == "" {
		return Identity{}, ErrMissingToken
	}
	claims := jwt.MapClaims{}
	if _, err := v.parser.ParseWithClaims(rawToken, claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	}); err != nil {
		return Identity{}, ErrInvalidToken
	}
	return identityFromClaims(claims)
}

// ChainVerifier tries each verifier in order and returns the first success.
type ChainVerifier []Verifier

func (c ChainVerifier) Verify(ctx context.Context, rawToken string) (Identity, error) {
	if len(c) == 0 {
		return Identity{}, ErrInvalidToken
	}
	var lastErr error = ErrInvalidToken
	for _, v := range c {
		id, err := v.Verify(ctx, rawToken)
		if err == nil {
			return id, nil
		}
		lastErr = err
	}
	return Identity{}, lastErr
}

func identityFromClaims(claims jwt.MapClaims) (Identity, error) {
	subject := claimString(claims, "sub")
	if subject == "" {
		return Identity{}, ErrInvalidToken
	}
	email := claimString(claims, "email")
	if email == "" && strings.Contains(subject, "@") {
		email = subject
	}
	userID := claimString(claims, "uid")
	if userID == "" {
		userID = claimString(claims, "user_id")
	}
	return Identity{
		Subject: subject,
		Email:   email,
		UserID:  userID,
		Roles:   parseRoles(claims),
	}, nil
}

func claimString(claims map[string]any, key string) string {
	v, ok := claims[key]
	if !ok || v == nil {
		return ""
	}
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case float64:
		return strings.TrimSpace(fmt.Sprintf("%.0f", t))
	default:
		return strings.TrimSpace(fmt.Sprint(t))
	}
}

func parseRoles(claims map[string]any) []string {
	var roles []string
	appendRole := func(role string) {
		role = strings.TrimSpace(role)
		if role == "" {
			return
		}
		for _, existing := range roles {
			if existing == role {
				return
			}
		}
		roles = append(roles, role)
	}

	for _, key := range []string{"roles", "role"} {
		switch t := claims[key].(type) {
		case nil:
		case []string:
			for _, role := range t {
				appendRole(role)
			}
		case []any:
			for _, role := range t {
				appendRole(fmt.Sprint(role))
			}
		case string:
			for _, role := range strings.Fields(t) {
				appendRole(role)
			}
		default:
			appendRole(fmt.Sprint(t))
		}
	}

	if s, ok := claims["scp"].(string); ok {
		for _, scope := range strings.Fields(s) {
			appendRole(scope)
		}
	}
	return roles
}
