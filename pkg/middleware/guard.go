package middleware

import "net/http"

// Guard is a precondition evaluated before a handler runs. It either returns
// the (possibly enriched) request to pass on, or an error that stops the chain.
type Guard func(r *http.Request) (*http.Request, error)

// ErrorWriter renders a guard failure onto the response.
type ErrorWriter func(w http.ResponseWriter, r *http.Request, err error)

// Guarded wraps next so that guards run left to right before it. The first
// guard to fail short-circuits the chain: its error is written with onErr and
// neither later guards nor next are invoked.
func Guarded(guards []Guard, next http.Handler, onErr ErrorWriter) http.Handler {
	if len(guards) == 0 {
		return next
	}
	chain := make([]Guard, len(guards))
	copy(chain, guards)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for _, g := range chain {
			guarded, err := g(r)
			if err != nil {
				onErr(w, r, err)
				return
			}
			r = guarded
		}
		next.ServeHTTP(w, r)
	})
}
