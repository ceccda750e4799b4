package auth

import (
	"fmt"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

// User is one CREATE USER-registered principal (§6.1): a username, a
// bcrypt password hash, and the set of "<event_type>:<action>" permission
// strings GRANT/REVOKE maintain, matched the same way
// JWTAuthenticator.Authorize already matches a JWT claim's permissions.
type User struct {
	Username     string
	PasswordHash string
	Permissions  map[string]bool
}

// UserStore is the in-process CREATE USER/GRANT/REVOKE backing store
// (§6.1, §7 Conflict "STORE against a permission-denied event_type"),
// bcrypt-hashing passwords the way the folded go-control-plane admin auth
// package did before it was deleted (see DESIGN.md).
type UserStore struct {
	mu    sync.RWMutex
	users map[string]*User
}

// NewUserStore creates an empty user store.
func NewUserStore() *UserStore {
	return &UserStore{users: make(map[string]*User)}
}

// CreateUser registers username with password, hashed with bcrypt at the
// library's default cost. Re-creating an existing username overwrites its
// password but preserves its permission set.
func (s *UserStore) CreateUser(username, password string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("auth: hash password: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[username]
	if !ok {
		u = &User{Username: username, Permissions: make(map[string]bool)}
		s.users[username] = u
	}
	u.PasswordHash = string(hash)
	return nil
}

// Authenticate reports whether password matches username's stored hash.
func (s *UserStore) Authenticate(username, password string) (*User, error) {
	s.mu.RLock()
	u, ok := s.users[username]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("auth: unknown user %q", username)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return nil, fmt.Errorf("auth: invalid password for %q", username)
	}
	return u, nil
}

// Grant adds permission (an "<event_type>:<action>" string, or "*" for
// every action on every event_type) to username.
func (s *UserStore) Grant(username, permission string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[username]
	if !ok {
		return fmt.Errorf("auth: unknown user %q", username)
	}
	u.Permissions[permission] = true
	return nil
}

// Revoke removes permission from username. Revoking an unheld permission
// is a no-op, not an error.
func (s *UserStore) Revoke(username, permission string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[username]
	if !ok {
		return fmt.Errorf("auth: unknown user %q", username)
	}
	delete(u.Permissions, permission)
	return nil
}

// Authorized reports whether username may perform action on resource,
// matching the same "<resource>:<action>" / "*" rule Authorize uses for
// JWT claims.
func (s *UserStore) Authorized(username, resource, action string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[username]
	if !ok {
		return false
	}
	want := fmt.Sprintf("%s:%s", resource, action)
	return u.Permissions[want] || u.Permissions["*"]
}
