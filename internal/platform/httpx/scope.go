package httpx

import (
	"net/http"
	"strings"

	"github.com/stitchline/stitchline/internal/shared"
)

const (
	// HeaderStoreID carries the tenant resolved by the upstream gateway.
	HeaderStoreID = "X-Store-ID"
	// HeaderActorID carries the authenticated user id.
	HeaderActorID = "X-Actor-ID"
)

// ScopeMiddleware copies the gateway scope headers into the request context.
func ScopeMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		scope := shared.Scope{
			StoreID: strings.TrimSpace(r.Header.Get(HeaderStoreID)),
			ActorID: strings.TrimSpace(r.Header.Get(HeaderActorID)),
		}
		next.ServeHTTP(w, r.WithContext(shared.ContextWithScope(r.Context(), scope)))
	})
}

// RequireStore rejects requests without a valid store scope.
func RequireStore(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := shared.RequireStore(shared.ScopeFromContext(r.Context()).StoreID); err != nil {
			RespondError(w, err)
			return
		}
		next.ServeHTTP(w, r)
	})
}
