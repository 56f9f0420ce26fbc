package auth

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
)

// NotAuthenticated is the error body of every rejected request.
const NotAuthenticated = "Not authenticated"

// Middleware validates the bearer token of every request that is not
// public and stores the user in the request context. A nil svc disables
// auth: every request runs as LocalUser.
func Middleware(svc *Service, next http.Handler) http.Handler {
	if svc == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), LocalUser)))
		})
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if isPublicRoute(r) {
			next.ServeHTTP(w, r)
			return
		}

		tokenStr := extractToken(r)
		if tokenStr == "" {
			writeJSONError(w, http.StatusUnauthorized, NotAuthenticated)
			return
		}
		user, err := svc.ValidateToken(tokenStr)
		if err != nil {
			writeJSONError(w, http.StatusUnauthorized, NotAuthenticated)
			return
		}

		next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), user)))
	})
}

func isPublicRoute(r *http.Request) bool {
	switch {
	case r.URL.Path == "/health" && r.Method == http.MethodGet:
		return true
	case r.URL.Path == "/auth/login" && r.Method == http.MethodPost:
		return true
	}
	return false
}

// extractToken pulls the token from the Authorization header, falling
// back to the token query parameter (EventSource and WebSocket clients
// cannot set headers).
func extractToken(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		parts := strings.SplitN(auth, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			return ""
		}
		return parts[1]
	}
	return r.URL.Query().Get("token")
}

// LoginHandler serves POST /auth/login.
func LoginHandler(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			writeJSONError(w, http.StatusNotFound, "auth is disabled")
			return
		}
		var body struct {
			Username string `json:"username"`
			Password string `json:"password"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		token, user, err := svc.Login(body.Username, body.Password)
		switch {
		case errors.Is(err, ErrInvalidCredentials):
			writeJSONError(w, http.StatusUnauthorized, ErrInvalidCredentials.Error())
			return
		case err != nil:
			log.Printf("[auth] login %s: %v", body.Username, err)
			writeJSONError(w, http.StatusInternalServerError, "login failed")
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"access_token": token,
			"token_type":   "Bearer",
			"expires_in":   svc.ExpirySeconds(),
			"user":         user,
		})
	}
}

// MeHandler serves GET /auth/me.
func MeHandler(w http.ResponseWriter, r *http.Request) {
	user := UserFromContext(r.Context())
	if user == nil {
		writeJSONError(w, http.StatusUnauthorized, NotAuthenticated)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(user)
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
