package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// CallerHeader carries the caller's account ID when no JWT secret is set.
const CallerHeader = "X-Account-ID"

var ErrInvalidToken = errors.New("invalid token")

type callerKey struct{}

// Claims identifies the caller by the token subject.
type Claims struct {
	jwt.RegisteredClaims
}

// WithCaller stores the caller's account ID on ctx.
func WithCaller(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, callerKey{}, id)
}

// Caller returns the account ID attached by Identity, or "" for anonymous requests.
func Caller(ctx context.Context) string {
	id, _ := ctx.Value(callerKey{}).(string)
	return id
}

// Identity resolves the caller of each request. With a secret the caller is
// the subject of an HS256 bearer token and a bad token is rejected with 401.
// Without one the X-Account-ID header is trusted as-is. Requests without
// credentials pass through anonymously; handlers that need a caller check.
func Identity(secret []byte) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var caller string
			if len(secret) > 0 {
				if token := ExtractBearer(r.Header.Get("Authorization")); token != "" {
					claims, err := ParseJWT(token, secret)
					if err != nil || claims.Subject == "" {
						http.Error(w, "invalid token", http.StatusUnauthorized)
						return
					}
					caller = claims.Subject
				}
			} else {
				caller = strings.TrimSpace(r.Header.Get(CallerHeader))
			}
			if caller != "" {
				r = r.WithContext(WithCaller(r.Context(), caller))
			}
			next.ServeHTTP(w, r)
		})
	}
}

func ParseJWT(tokenString string, secret []byte) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if token.Method.Alg() != jwt.SigningMethodHS256.Alg() {
			return nil, ErrInvalidToken
		}
		return secret, nil
	})
	if err != nil {
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

func ExtractBearer(header string) string {
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
