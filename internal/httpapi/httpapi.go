package httpapi

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"net/netip"
	"strings"
	"sync"
	"time"

	"troli/backend/internal/cart"
	"troli/backend/internal/migration"
	"troli/backend/internal/service"
	"troli/backend/internal/storage"
	"troli/backend/internal/xid"
)

// API is the thin HTTP shell over the cart service. Identity is the
// JWT subject when a bearer token is present, otherwise the guest id
// the client carries in the X-Cart-ID header; the cart instance comes
// from the ?instance query parameter.
type API struct {
	service       *service.Service
	migrator      *migration.Migrator
	auth          *AuthManager
	allowedOrigin string
	loginLimiter  *attemptLimiter
}

func New(svc *service.Service, migrator *migration.Migrator, auth *AuthManager, allowedOrigin string) *API {
	return &API{
		service:       svc,
		migrator:      migrator,
		auth:          auth,
		allowedOrigin: allowedOrigin,
		loginLimiter:  newAttemptLimiter(5, time.Minute),
	}
}

type attemptLimiter struct {
	mu      sync.Mutex
	max     int
	window  time.Duration
	entries map[string][]time.Time
}

func newAttemptLimiter(max int, window time.Duration) *attemptLimiter {
	if max < 1 {
		max = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &attemptLimiter{max: max, window: window, entries: make(map[string][]time.Time)}
}

func (l *attemptLimiter) Allow(key string) bool {
	if l == nil {
		return true
	}
	now := time.Now()
	cutoff := now.Add(-l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	history := l.entries[key]
	kept := make([]time.Time, 0, len(history)+1)
	for _, ts := range history {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	if len(kept) >= l.max {
		l.entries[key] = kept
		return false
	}
	kept = append(kept, now)
	l.entries[key] = kept
	return true
}

func clientKey(r *http.Request) string {
	host := strings.TrimSpace(r.RemoteAddr)
	if host == "" {
		return "unknown"
	}
	if addr, err := netip.ParseAddrPort(host); err == nil {
		return addr.Addr().String()
	}
	if idx := strings.LastIndex(host, ":"); idx > 0 {
		return host[:idx]
	}
	return host
}

func (a *API) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", a.handleHealth)
	mux.HandleFunc("/api/v1/auth/login", a.handleLogin)
	mux.HandleFunc("/api/v1/cart/session", a.handleSession)

	mux.HandleFunc("/api/v1/cart", a.withIdentity(a.handleCart))
	mux.HandleFunc("/api/v1/cart/items", a.withIdentity(a.handleItems))
	mux.HandleFunc("/api/v1/cart/items/", a.withIdentity(a.handleItemActions))
	mux.HandleFunc("/api/v1/cart/conditions", a.withIdentity(a.handleConditions))
	mux.HandleFunc("/api/v1/cart/conditions/", a.withIdentity(a.handleConditionActions))

	return a.withMiddleware(mux)
}

type identityKey struct{}

// withIdentity resolves the cart owner: the bearer token's subject
// when present and valid, else the X-Cart-ID guest header. Requests
// with neither are rejected so anonymous carts always have a stable
// key.
func (a *API) withIdentity(next func(http.ResponseWriter, *http.Request, string)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		authorization := strings.TrimSpace(r.Header.Get("Authorization"))
		if strings.HasPrefix(strings.ToLower(authorization), "bearer ") {
			token := strings.TrimSpace(authorization[len("Bearer "):])
			actor, err := a.auth.ParseToken(token)
			if err != nil {
				writeError(w, http.StatusUnauthorized, err)
				return
			}
			next(w, r, "user-"+actor.Username)
			return
		}

		guestID := strings.TrimSpace(r.Header.Get("X-Cart-ID"))
		if guestID == "" {
			writeError(w, http.StatusUnauthorized, errors.New("missing bearer token or X-Cart-ID header"))
			return
		}
		next(w, r, guestID)
	}
}

func (a *API) instance(r *http.Request) string {
	return a.service.Instance(r.URL.Query().Get("instance"))
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"ok": true,
		"at": time.Now().UTC().Format(time.RFC3339),
	})
}

// handleSession mints a guest cart identifier. The client stores it
// and sends it back in X-Cart-ID until login migrates the cart.
func (a *API) handleSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"cart_id": xid.Guest()})
}

type loginRequest struct {
	Username      string `json:"username"`
	Password      string `json:"password"`
	GuestID       string `json:"guest_id,omitempty"`
	GuestInstance string `json:"guest_instance,omitempty"`
}

type loginResponse struct {
	LoginResponse
	Merge *migration.MergeResult `json:"merge,omitempty"`
}

// handleLogin authenticates and, when the request names a guest cart,
// migrates it into the user's cart so nothing is lost at the login
// boundary.
func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}
	if !a.loginLimiter.Allow(clientKey(r)) {
		writeError(w, http.StatusTooManyRequests, errors.New("too many login attempts"))
		return
	}

	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	auth, err := a.auth.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err)
		return
	}

	resp := loginResponse{LoginResponse: auth}
	if req.GuestID != "" {
		instance := a.service.Instance(req.GuestInstance)
		identifier := "user-" + strings.ToLower(strings.TrimSpace(req.Username))
		result, err := a.migrator.Migrate(r.Context(), req.GuestID, instance, identifier, instance)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		resp.Merge = &result
	}

	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleCart(w http.ResponseWriter, r *http.Request, identifier string) {
	switch r.Method {
	case http.MethodGet:
		view, err := a.service.GetCart(r.Context(), identifier, a.instance(r))
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, view)
	case http.MethodDelete:
		if r.URL.Query().Get("purge") == "true" {
			if err := a.service.DeleteCart(r.Context(), identifier, a.instance(r)); err != nil {
				writeError(w, http.StatusInternalServerError, err)
				return
			}
			w.WriteHeader(http.StatusNoContent)
			return
		}
		if err := a.service.ClearCart(r.Context(), identifier, a.instance(r)); err != nil {
			writeCartError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		writeMethodNotAllowed(w)
	}
}

func (a *API) handleItems(w http.ResponseWriter, r *http.Request, identifier string) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}

	var req service.AddItemRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	item, err := a.service.AddItem(r.Context(), identifier, a.instance(r), req)
	if err != nil {
		writeCartError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"item": item})
}

func (a *API) handleItemActions(w http.ResponseWriter, r *http.Request, identifier string) {
	id := strings.TrimPrefix(r.URL.Path, "/api/v1/cart/items/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, http.StatusNotFound, errors.New("unknown item path"))
		return
	}

	switch r.Method {
	case http.MethodPatch:
		var req service.UpdateItemRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}

		item, err := a.service.UpdateItem(r.Context(), identifier, a.instance(r), id, req)
		if err != nil {
			writeCartError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"item": item})
	case http.MethodDelete:
		item, err := a.service.RemoveItem(r.Context(), identifier, a.instance(r), id)
		if err != nil {
			writeCartError(w, err)
			return
		}
		if item == nil {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"item": item})
	default:
		writeMethodNotAllowed(w)
	}
}

func (a *API) handleConditions(w http.ResponseWriter, r *http.Request, identifier string) {
	switch r.Method {
	case http.MethodPost:
		var cond cart.Condition
		if err := decodeJSON(r, &cond); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}

		if err := a.service.AddCondition(r.Context(), identifier, a.instance(r), cond); err != nil {
			writeCartError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"name": cond.Name})
	case http.MethodDelete:
		condType := strings.TrimSpace(r.URL.Query().Get("type"))
		if condType == "" {
			writeError(w, http.StatusBadRequest, errors.New("missing type query parameter"))
			return
		}

		removed, err := a.service.ClearConditionsByType(r.Context(), identifier, a.instance(r), condType)
		if err != nil {
			writeCartError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"removed": removed})
	default:
		writeMethodNotAllowed(w)
	}
}

func (a *API) handleConditionActions(w http.ResponseWriter, r *http.Request, identifier string) {
	name := strings.TrimPrefix(r.URL.Path, "/api/v1/cart/conditions/")
	if name == "" || strings.Contains(name, "/") {
		writeError(w, http.StatusNotFound, errors.New("unknown condition path"))
		return
	}
	if r.Method != http.MethodDelete {
		writeMethodNotAllowed(w)
		return
	}

	removed, err := a.service.RemoveCondition(r.Context(), identifier, a.instance(r), name)
	if err != nil {
		writeCartError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"removed": removed})
}

func (a *API) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Access-Control-Allow-Origin", a.allowedOrigin)
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Cart-ID")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PATCH,DELETE,OPTIONS")
		w.Header().Set("Vary", "Origin")

		if (r.Method == http.MethodPost || r.Method == http.MethodPatch || r.Method == http.MethodPut) && strings.Contains(strings.ToLower(r.Header.Get("Content-Type")), "application/json") {
			r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		startedAt := time.Now()
		next.ServeHTTP(w, r)
		log.Printf("%s %s %s", r.Method, r.URL.Path, time.Since(startedAt))
	})
}

// writeCartError maps engine errors onto HTTP statuses: validation
// failures are the client's fault, version conflicts are retryable,
// everything else is internal.
func writeCartError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, cart.ErrInvalidItem),
		errors.Is(err, cart.ErrInvalidQuantity),
		errors.Is(err, cart.ErrInvalidConditionValue):
		writeError(w, http.StatusBadRequest, err)
	case errors.Is(err, storage.ErrConflict):
		writeError(w, http.StatusConflict, err)
	default:
		writeError(w, http.StatusInternalServerError, err)
	}
}

func decodeJSON(r *http.Request, dest any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(dest)
}

func writeMethodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
}

func writeError(w http.ResponseWriter, status int, err error) {
	// 5xx responses carry a generic message so internal details (SQL
	// errors, file paths) never leak; 4xx messages are user-facing.
	msg := err.Error()
	if status >= 500 {
		log.Printf("internal error (status %d): %v", status, err)
		msg = "internal server error"
	}
	writeJSON(w, status, map[string]any{
		"error": msg,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
