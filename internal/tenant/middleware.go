package tenant

import (
	"net/http"
	"strconv"
)

// Header names populated by the upstream gateway after it resolves the
// caller's visibility context. The core trusts these values.
const (
	HeaderOrganization = "X-Org-ID"
	HeaderAssociation  = "X-Association-ID"
	HeaderActor        = "X-Actor-ID"
	HeaderStaff        = "X-Staff"
)

// Middleware reads the tenant headers into a Scope and rejects requests
// that arrive without one.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		scope := Scope{
			OrganizationID: parseID(r.Header.Get(HeaderOrganization)),
			AssociationID:  parseID(r.Header.Get(HeaderAssociation)),
			ActorID:        parseID(r.Header.Get(HeaderActor)),
			IsStaff:        r.Header.Get(HeaderStaff) == "1",
		}
		if err := scope.Validate(); err != nil {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(ContextWithScope(r.Context(), scope)))
	})
}

func parseID(raw string) int64 {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0
	}
	return id
}
