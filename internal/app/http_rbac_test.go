package app

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"ballora/api/internal/store"
)

func issueToken(t *testing.T, svc *Service, fs *fakeStore, user store.User) string {
	t.Helper()
	fs.users[user.ID] = user
	sess, err := svc.CreateSession(context.Background(), user)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	return sess.Token
}

func TestRouteRoleMatrix(t *testing.T) {
	fs := newFakeStore()
	svc, _, _, _, _ := newTestService(fs)
	handler := NewHTTPServer(svc, "*").Handler()

	adminToken := issueToken(t, svc, fs, store.User{ID: "u-admin", Email: "admin@example.com", Role: "admin"})
	ownerToken := issueToken(t, svc, fs, store.User{ID: "u-owner", Email: "owner@example.com", Role: "idea-owner"})
	investorToken := issueToken(t, svc, fs, store.User{ID: "u-investor", Email: "investor@example.com", Role: "investor"})

	cases := []struct {
		name   string
		method string
		path   string
		token  string
		want   int
	}{
		{"summary admin", http.MethodGet, "/api/summary", adminToken, http.StatusOK},
		{"summary owner", http.MethodGet, "/api/summary", ownerToken, http.StatusForbidden},
		{"summary investor", http.MethodGet, "/api/summary", investorToken, http.StatusForbidden},
		{"notifier status admin", http.MethodGet, "/api/notifier/status", adminToken, http.StatusOK},
		{"notifier status investor", http.MethodGet, "/api/notifier/status", investorToken, http.StatusForbidden},
		{"search investor", http.MethodGet, "/api/search?q=irrigation", investorToken, http.StatusOK},
		{"search owner", http.MethodGet, "/api/search?q=irrigation", ownerToken, http.StatusForbidden},
		{"submit idea investor", http.MethodPost, "/api/ideas", investorToken, http.StatusForbidden},
		{"list ideas owner", http.MethodGet, "/api/ideas", ownerToken, http.StatusOK},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec, _ := doRequest(t, handler, tc.method, tc.path, tc.token)
			if rec.Code != tc.want {
				t.Fatalf("%s %s = %d, want %d", tc.method, tc.path, rec.Code, tc.want)
			}
		})
	}
}

func TestMissingAndInvalidTokens(t *testing.T) {
	fs := newFakeStore()
	svc, _, _, _, _ := newTestService(fs)
	handler := NewHTTPServer(svc, "*").Handler()

	rec, body := doRequest(t, handler, http.MethodGet, "/api/summary", "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("missing token: status = %d", rec.Code)
	}
	if body["code"] != "UNAUTHORIZED" {
		t.Fatalf("missing token: code = %v", body["code"])
	}

	rec, _ = doRequest(t, handler, http.MethodGet, "/api/summary", "not-a-token")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("garbage token: status = %d", rec.Code)
	}
}

// A store outage during role resolution is not a denial: the caller gets
// 503 so clients retry rather than dropping the session.
func TestRoleLookupFailureIs503(t *testing.T) {
	fs := newFakeStore()
	svc, _, _, _, _ := newTestService(fs)
	handler := NewHTTPServer(svc, "*").Handler()

	token := issueToken(t, svc, fs, store.User{ID: "u-admin", Email: "admin@example.com", Role: "admin"})
	fs.userErr = errors.New("connection refused")

	rec, body := doRequest(t, handler, http.MethodGet, "/api/summary", token)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
	if body["code"] != "ROLE_LOOKUP_FAILED" {
		t.Fatalf("code = %v", body["code"])
	}

	// A token for a deleted user is a plain 401, not an outage.
	fs.userErr = nil
	delete(fs.users, "u-admin")
	rec, _ = doRequest(t, handler, http.MethodGet, "/api/summary", token)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("deleted user: status = %d, want 401", rec.Code)
	}
}

func TestLogoutRevokesAccessToken(t *testing.T) {
	fs := newFakeStore()
	svc, _, _, _, _ := newTestService(fs)
	handler := NewHTTPServer(svc, "*").Handler()

	token := issueToken(t, svc, fs, store.User{ID: "u-owner", Email: "owner@example.com", Role: "idea-owner"})

	rec, _ := doRequest(t, handler, http.MethodGet, "/api/ideas", token)
	if rec.Code != http.StatusOK {
		t.Fatalf("before logout: status = %d", rec.Code)
	}

	rec, _ = doRequest(t, handler, http.MethodPost, "/api/session/logout", token)
	if rec.Code != http.StatusOK {
		t.Fatalf("logout: status = %d", rec.Code)
	}

	rec, _ = doRequest(t, handler, http.MethodGet, "/api/ideas", token)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("after logout: status = %d, want 401", rec.Code)
	}
}

func TestRoleResolvedPerRequest(t *testing.T) {
	fs := newFakeStore()
	svc, _, _, _, _ := newTestService(fs)
	handler := NewHTTPServer(svc, "*").Handler()

	token := issueToken(t, svc, fs, store.User{ID: "u-1", Email: "user@example.com", Role: "admin"})

	rec, _ := doRequest(t, handler, http.MethodGet, "/api/summary", token)
	if rec.Code != http.StatusOK {
		t.Fatalf("admin: status = %d", rec.Code)
	}

	// Demote the user; the same token must lose admin routes immediately.
	user := fs.users["u-1"]
	user.Role = "investor"
	fs.users["u-1"] = user

	rec, _ = doRequest(t, handler, http.MethodGet, "/api/summary", token)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("demoted: status = %d, want 403", rec.Code)
	}
}
