package middleware

import (
	"context"
	"net/http"
	"strings"
)

type contextKey string

// walletKey carries the authenticated wallet through the request context.
const walletKey contextKey = "qawakun.wallet"

// TokenVerifier checks a bearer token and returns the wallet it belongs to.
type TokenVerifier interface {
	Verify(token string) (string, error)
}

// Session enforces a bearer session token and stores the wallet in the
// request context.
func Session(verifier TokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if !strings.HasPrefix(header, "Bearer ") {
				http.Error(w, "missing bearer token", http.StatusUnauthorized)
				return
			}
			wallet, err := verifier.Verify(strings.TrimSpace(strings.TrimPrefix(header, "Bearer ")))
			if err != nil {
				http.Error(w, "invalid session", http.StatusUnauthorized)
				return
			}
			ctx := context.WithValue(r.Context(), walletKey, wallet)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// WalletFromContext returns the wallet set by Session, if any.
func WalletFromContext(ctx context.Context) (string, bool) {
	wallet, ok := ctx.Value(walletKey).(string)
	return wallet, ok && wallet != ""
}
