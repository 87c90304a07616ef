package server

import (
	"net/http"

	"github.com/google/uuid"
)

const (
	// CookieName is the name of the browser-session cookie that scopes the
	// session store.
	CookieName = "neuromate_session"
	// ScopeHeader carries the scope for clients that do not keep cookies.
	ScopeHeader = "X-Session-Id"
)

// SetSessionCookie sets an HTTP-only cookie without MaxAge, so it lives as
// long as the browser session.
func SetSessionCookie(w http.ResponseWriter, r *http.Request, scope string) {
	cookie := &http.Cookie{
		Name:     CookieName,
		Value:    scope,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   r.TLS != nil,
	}
	http.SetCookie(w, cookie)
}

// GetSessionCookie reads the scope from the cookie
func GetSessionCookie(r *http.Request) (string, error) {
	cookie, err := r.Cookie(CookieName)
	if err != nil {
		return "", err
	}
	return cookie.Value, nil
}

func newScope() string {
	return uuid.NewString()
}

// getScope retrieves the scope from cookie or header
func getScope(r *http.Request) string {
	if cookie, err := GetSessionCookie(r); err == nil && cookie != "" {
		return cookie
	}
	return r.Header.Get(ScopeHeader)
}

// getOrCreateScope gets the existing scope or creates one, setting the cookie
func getOrCreateScope(r *http.Request, w http.ResponseWriter) string {
	scope := getScope(r)
	if scope == "" {
		scope = newScope()
		SetSessionCookie(w, r, scope)
	}
	w.Header().Set(ScopeHeader, scope)
	return scope
}

// requestScope returns the caller's existing scope without minting one.
func requestScope(w http.ResponseWriter, r *http.Request) string {
	scope := getScope(r)
	if scope != "" {
		w.Header().Set(ScopeHeader, scope)
	}
	return scope
}
