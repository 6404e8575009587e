package handlers

import "net/http"

func setAllowOrigin(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
}

// AllowAnyOrigin is a mux middleware adding the permissive CORS header to every response
func AllowAnyOrigin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		setAllowOrigin(w)
		next.ServeHTTP(w, r)
	})
}
