package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"google.golang.org/grpc/metadata"
)

// Principal kinds.
const (
	KindCustomer = "customer"
	KindCourier  = "courier"
	KindKitchen  = "kitchen"
)

// Principal represents the authenticated caller from JWT.
type Principal struct {
	Name string // user id of the customer, courier or kitchen station
	Kind string // "customer" | "courier" | "kitchen"
}

type principalKey struct{}

// WithPrincipal stores the principal in context.
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// FromContext retrieves the principal from context (if any).
func FromContext(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(*Principal)
	return p, ok
}

// ParseFromMD extracts and validates a Bearer JWT from gRPC metadata and returns a Principal.
func ParseFromMD(ctx context.Context, secret string) (*Principal, error) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return nil, errors.New("missing metadata")
	}
	vals := md.Get("authorization")
	if len(vals) == 0 {
		vals = md.Get("Authorization")
	}
	if len(vals) == 0 {
		return nil, errors.New("missing authorization")
	}
	return ParseBearer(vals[0], secret)
}

// ParseBearer validates an "Authorization: Bearer <jwt>" header value.
func ParseBearer(header, secret string) (*Principal, error) {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return nil, errors.New("invalid authorization header")
	}
	tokenStr := strings.TrimSpace(parts[1])
	return parseJWT(tokenStr, secret)
}

// claims is the token payload. Tokens from the identity provider carry the
// user id in sub and the app role in role; internal tools use name and kind.
type claims struct {
	Name string `json:"name,omitempty"`
	Kind string `json:"kind,omitempty"`
	Role string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

func (c *claims) principal() (*Principal, error) {
	id := c.Subject
	if id == "" {
		id = c.Name
	}
	kind := c.Kind
	if kind == "" {
		kind = c.Role
	}
	if id == "" || kind == "" {
		return nil, errors.New("invalid claims")
	}
	kind = strings.ToLower(kind)
	switch kind {
	case KindCustomer, KindCourier, KindKitchen:
	default:
		return nil, fmt.Errorf("unknown principal kind %q", kind)
	}
	return &Principal{Name: id, Kind: kind}, nil
}

func parseJWT(tokenStr string, secret string) (*Principal, error) {
	if secret == "" {
		return nil, errors.New("jwt secret is empty")
	}
	tok, err := jwt.ParseWithClaims(tokenStr, &claims{}, func(t *jwt.Token) (interface{}, error) {
		if t.Method.Alg() != jwt.SigningMethodHS256.Alg() {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(secret), nil
	})
	if err != nil || !tok.Valid {
		if err == nil {
			err = errors.New("invalid token")
		}
		return nil, err
	}
	c, _ := tok.Claims.(*claims)
	if c == nil {
		return nil, errors.New("invalid claims")
	}
	return c.principal()
}

// Issue signs an HS256 token for p. A zero ttl issues a token without expiry.
func Issue(p Principal, secret string, ttl time.Duration) (string, error) {
	if secret == "" {
		return "", errors.New("jwt secret is empty")
	}
	c := claims{Kind: p.Kind, RegisteredClaims: jwt.RegisteredClaims{Subject: p.Name}}
	if ttl > 0 {
		now := time.Now()
		c.IssuedAt = jwt.NewNumericDate(now)
		c.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString([]byte(secret))
}
