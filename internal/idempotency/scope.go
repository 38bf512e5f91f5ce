package idempotency

import (
	"net/http"
	"strings"
)

// Mutating methods are the only ones subject to idempotency bookkeeping.
var mutatingMethods = map[string]struct{}{
	http.MethodPost:   {},
	http.MethodPut:    {},
	http.MethodPatch:  {},
	http.MethodDelete: {},
}

// IsMutating reports whether method is POST, PUT, PATCH or DELETE.
func IsMutating(method string) bool {
	_, ok := mutatingMethods[strings.ToUpper(method)]
	return ok
}

// Scope derives "METHOD:route" so the same key used on two endpoints never collides.
// An empty route falls back to path.
func Scope(method, route, path string) string {
	if route == "" {
		route = path
	}
	return strings.ToUpper(method) + ":" + route
}
