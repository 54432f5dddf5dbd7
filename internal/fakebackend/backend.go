// Package fakebackend is an in-process stand-in for an organization's hosted
// database: the auth endpoints used by session binding plus a tiny REST surface.
package fakebackend

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const signingSecret = "fake-backend-secret"

type user struct {
	ID       string
	Email    string
	Password string
	Role     string
}

// RPCFunc handles POST /rest/v1/rpc/<name>. authorization is the raw Authorization header.
type RPCFunc func(args map[string]any, authorization string) (any, int)

type Backend struct {
	Server    *httptest.Server
	PublicKey string

	mu            sync.Mutex
	users         map[string]*user   // email -> user
	accessTokens  map[string]*user   // issued access tokens
	refreshTokens map[string]*user   // issued refresh tokens
	tables        map[string][]any   // table -> rows
	rpcs          map[string]RPCFunc // function name -> handler
	requests      []Request
	userLookups   int
	failUserCalls bool
}

// Request is a record of an incoming request, kept for assertions.
type Request struct {
	Method        string
	Path          string
	APIKey        string
	Authorization string
	ClientInfo    string
}

func New(publicKey string) *Backend {
	b := &Backend{
		PublicKey:     publicKey,
		users:         make(map[string]*user),
		accessTokens:  make(map[string]*user),
		refreshTokens: make(map[string]*user),
		tables:        make(map[string][]any),
		rpcs:          make(map[string]RPCFunc),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /auth/v1/user", b.handleUser)
	mux.HandleFunc("POST /auth/v1/token", b.handleToken)
	mux.HandleFunc("POST /auth/v1/logout", b.handleLogout)
	mux.HandleFunc("GET /rest/v1/{table}", b.handleSelect)
	mux.HandleFunc("POST /rest/v1/rpc/{fn}", b.handleRPC)

	b.Server = httptest.NewServer(b.record(mux))
	return b
}

func (b *Backend) Close() {
	b.Server.Close()
}

// URL returns the endpoint including the scheme.
func (b *Backend) URL() string {
	return b.Server.URL
}

func (b *Backend) AddUser(id, email, password, role string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.users[strings.ToLower(email)] = &user{ID: id, Email: email, Password: password, Role: role}
}

func (b *Backend) AddRows(table string, rows ...any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.tables[table] = append(b.tables[table], rows...)
}

func (b *Backend) HandleRPC(name string, fn RPCFunc) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rpcs[name] = fn
}

// FailUserLookups makes GET /auth/v1/user answer 500.
func (b *Backend) FailUserLookups(fail bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failUserCalls = fail
}

// IssueSession mints a token pair for a registered user, as a successful sign-in would.
func (b *Backend) IssueSession(email string, ttl time.Duration) (accessToken, refreshToken string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	u, ok := b.users[strings.ToLower(email)]
	if !ok {
		return "", ""
	}
	return b.issueLocked(u, ttl)
}

func (b *Backend) Requests() []Request {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Request(nil), b.requests...)
}

func (b *Backend) UserLookups() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.userLookups
}

// MintToken signs an access token that the fake backend will decode but has not issued.
func MintToken(sub, email string, exp time.Time) string {
	claims := jwt.MapClaims{
		"sub":   sub,
		"email": email,
		"role":  "authenticated",
		"aud":   "authenticated",
		"iat":   time.Now().Unix(),
		"jti":   uuid.New().String(),
	}
	if !exp.IsZero() {
		claims["exp"] = exp.Unix()
	}
	signed, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(signingSecret))
	return signed
}

func (b *Backend) issueLocked(u *user, ttl time.Duration) (string, string) {
	access := MintToken(u.ID, u.Email, time.Now().Add(ttl))
	refresh := uuid.New().String()
	b.accessTokens[access] = u
	b.refreshTokens[refresh] = u
	return access, refresh
}

func (b *Backend) record(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		b.requests = append(b.requests, Request{
			Method:        r.Method,
			Path:          r.URL.Path,
			APIKey:        r.Header.Get("apikey"),
			Authorization: r.Header.Get("Authorization"),
			ClientInfo:    r.Header.Get("X-Client-Info"),
		})
		b.mu.Unlock()

		if r.Header.Get("apikey") != b.PublicKey {
			writeError(w, http.StatusUnauthorized, "invalid api key")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (b *Backend) bearerUser(r *http.Request) (*user, bool) {
	raw := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	b.mu.Lock()
	defer b.mu.Unlock()
	u, ok := b.accessTokens[raw]
	return u, ok
}

func (b *Backend) handleUser(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	b.userLookups++
	fail := b.failUserCalls
	b.mu.Unlock()

	if fail {
		writeError(w, http.StatusInternalServerError, "auth service unavailable")
		return
	}
	u, ok := b.bearerUser(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "invalid JWT")
		return
	}
	writeJSON(w, http.StatusOK, userJSON(u))
}

func (b *Backend) handleToken(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email        string `json:"email"`
		Password     string `json:"password"`
		RefreshToken string `json:"refresh_token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}

	b.mu.Lock()
	var u *user
	switch r.URL.Query().Get("grant_type") {
	case "password":
		candidate, ok := b.users[strings.ToLower(body.Email)]
		if ok && candidate.Password == body.Password {
			u = candidate
		}
	case "refresh_token":
		if candidate, ok := b.refreshTokens[body.RefreshToken]; ok {
			delete(b.refreshTokens, body.RefreshToken)
			u = candidate
		}
	}
	if u == nil {
		b.mu.Unlock()
		writeError(w, http.StatusBadRequest, "invalid grant")
		return
	}
	ttl := time.Hour
	access, refresh := b.issueLocked(u, ttl)
	b.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]any{
		"access_token":  access,
		"refresh_token": refresh,
		"token_type":    "bearer",
		"expires_in":    int(ttl.Seconds()),
		"expires_at":    time.Now().Add(ttl).Unix(),
		"user":          userJSON(u),
	})
}

func (b *Backend) handleLogout(w http.ResponseWriter, r *http.Request) {
	raw := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	b.mu.Lock()
	_, ok := b.accessTokens[raw]
	delete(b.accessTokens, raw)
	b.mu.Unlock()
	if !ok {
		writeError(w, http.StatusUnauthorized, "invalid JWT")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (b *Backend) handleSelect(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	rows, ok := b.tables[r.PathValue("table")]
	b.mu.Unlock()
	if !ok {
		writeError(w, http.StatusNotFound, "relation does not exist")
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

func (b *Backend) handleRPC(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	fn, ok := b.rpcs[r.PathValue("fn")]
	b.mu.Unlock()
	if !ok {
		writeError(w, http.StatusNotFound, "function not found")
		return
	}

	args := map[string]any{}
	if err := json.NewDecoder(r.Body).Decode(&args); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	result, status := fn(args, r.Header.Get("Authorization"))
	if status >= 300 {
		writeError(w, status, "rpc failed")
		return
	}
	writeJSON(w, status, result)
}

func userJSON(u *user) map[string]any {
	return map[string]any{"id": u.ID, "email": u.Email, "role": u.Role}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"message": msg})
}
