package middleware

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"quizora/internal/domain"
)

const (
	TokenIssuer   = "quizora"
	TokenAudience = "quizora-app"
)

// TokenClaims is the identity token body. Subject is the account id.
type TokenClaims struct {
	Email string `json:"email,omitempty"`
	Role  string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// Identity is the authenticated caller.
type Identity struct {
	AccountID string
	Email     string
	Role      domain.AccountRole
}

type identityKey struct{}

var errInvalidToken = errors.New("invalid token")

// tokenParser accepts only HS256 tokens issued by us, for us, with an expiry.
var tokenParser = jwt.NewParser(
	jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	jwt.WithIssuer(TokenIssuer),
	jwt.WithAudience(TokenAudience),
	jwt.WithExpirationRequired(),
	jwt.WithIssuedAt(),
	jwt.WithLeeway(30*time.Second),
)

func SignJWT(secret string, claims TokenClaims) (string, error) {
	if secret == "" {
		return "", errors.New("jwt secret is required")
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// IssueToken signs an identity token valid for ttl.
func IssueToken(secret string, id Identity, ttl time.Duration) (string, error) {
	now := time.Now()
	return SignJWT(secret, TokenClaims{
		Email: id.Email,
		Role:  string(id.Role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.AccountID,
			Issuer:    TokenIssuer,
			Audience:  jwt.ClaimStrings{TokenAudience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	})
}

// VerifyJWT checks signature, issuer, audience and expiry. Every failure
// wraps errInvalidToken together with the jwt cause.
func VerifyJWT(secret, token string) (*TokenClaims, error) {
	if secret == "" {
		return nil, fmt.Errorf("%w: jwt secret is required", errInvalidToken)
	}
	var claims TokenClaims
	_, err := tokenParser.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return []byte(secret), nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errInvalidToken, err)
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return nil, fmt.Errorf("%w: subject is required", errInvalidToken)
	}
	return &claims, nil
}

// AuthJWT requires a valid bearer token and stores the caller identity in
// the request context.
func AuthJWT(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				WriteError(w, http.StatusUnauthorized, "unauthorized", "missing authorization")
				return
			}
			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
				WriteError(w, http.StatusUnauthorized, "unauthorized", "invalid authorization")
				return
			}
			claims, err := VerifyJWT(secret, strings.TrimSpace(parts[1]))
			if err != nil {
				WriteError(w, http.StatusUnauthorized, "unauthorized", "invalid token")
				return
			}
			id := Identity{
				AccountID: claims.Subject,
				Email:     claims.Email,
				Role:      domain.ParseAccountRole(claims.Role),
			}
			annotateAccount(r.Context(), id.AccountID)
			next.ServeHTTP(w, r.WithContext(ContextWithIdentity(r.Context(), id)))
		})
	}
}

// RequireAdmin rejects callers whose token does not carry the admin role.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if IdentityFromContext(r.Context()).Role != domain.AccountRoleAdmin {
			WriteError(w, http.StatusForbidden, "forbidden", "admin role required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func IdentityFromContext(ctx context.Context) Identity {
	if v, ok := ctx.Value(identityKey{}).(Identity); ok {
		return v
	}
	return Identity{}
}

func UserIDFromContext(ctx context.Context) string {
	return IdentityFromContext(ctx).AccountID
}

func ContextWithIdentity(ctx context.Context, id Identity) context.Context {
	if strings.TrimSpace(id.AccountID) == "" {
		return ctx
	}
	return context.WithValue(ctx, identityKey{}, id)
}
