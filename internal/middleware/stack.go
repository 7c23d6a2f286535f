package middleware

import "net/http"

// Stack composes middlewares into a single wrapper, applied left to right:
//
//	stack := Stack(loggingMw, Identity, RequireSubject)
//	mux.Handle("GET /api/profile", stack(profileHandler))
func Stack(middlewares ...func(http.Handler) http.Handler) func(http.Handler) http.Handler {
	return func(final http.Handler) http.Handler {
		for i := len(middlewares) - 1; i >= 0; i-- {
			final = middlewares[i](final)
		}
		return final
	}
}
