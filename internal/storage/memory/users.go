package memory

import (
	"context"
	"log"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"troli/backend/internal/storage"
)

// UserStore is the in-process credential backend for dev/demo mode.
type UserStore struct {
	mu    sync.RWMutex
	users map[string]storage.UserAccount
}

// NewUserStore returns an empty credential store.
func NewUserStore() *UserStore {
	return &UserStore{users: make(map[string]storage.UserAccount)}
}

// NewSeededUserStore builds the initial dev/demo accounts. Credentials
// come from SEED_ADMIN_PASSWORD and SEED_CUSTOMER_PASSWORD; hardcoded
// dev defaults are used with a warning when unset. Production
// deployments use PostgreSQL-backed accounts instead.
func NewSeededUserStore() *UserStore {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	customerPwd := envOr("SEED_CUSTOMER_PASSWORD", "customer123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_CUSTOMER_PASSWORD") == "" {
		log.Println("[memory-store] WARNING: using default dev credentials. Set SEED_ADMIN_PASSWORD and SEED_CUSTOMER_PASSWORD to override.")
	}

	now := time.Now().UTC()
	us := NewUserStore()
	for _, u := range []struct {
		username string
		password string
		role     string
	}{
		{"admin", adminPwd, "admin"},
		{"customer", customerPwd, "customer"},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			log.Fatalf("[memory-store] failed to hash seed password for %s: %v", u.username, err)
		}
		us.users[u.username] = storage.UserAccount{
			Username:  u.username,
			Password:  string(hash),
			Role:      u.role,
			Active:    true,
			CreatedAt: now,
		}
	}
	return us
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func (u *UserStore) CreateUser(_ context.Context, user storage.UserAccount) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	user.Username = strings.ToLower(strings.TrimSpace(user.Username))
	if user.Username == "" || strings.TrimSpace(user.Password) == "" {
		return storage.ErrInvalidAccount
	}
	if _, exists := u.users[user.Username]; exists {
		return storage.ErrInvalidAccount
	}
	if user.Role == "" {
		user.Role = "customer"
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	u.users[user.Username] = user
	return nil
}

func (u *UserStore) ListUsers(_ context.Context) ([]storage.UserAccount, error) {
	u.mu.RLock()
	defer u.mu.RUnlock()

	users := make([]storage.UserAccount, 0, len(u.users))
	for _, user := range u.users {
		users = append(users, user)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].Username < users[j].Username })
	return users, nil
}

func (u *UserStore) UpdateUserPassword(_ context.Context, username string, password string) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	username = strings.ToLower(strings.TrimSpace(username))
	user, exists := u.users[username]
	if !exists {
		return storage.ErrNotFound
	}
	user.Password = password
	u.users[username] = user
	return nil
}
