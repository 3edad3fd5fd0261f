package httpapi

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"voyapos/backend/internal/domain"
)

type userStoreStub struct {
	mu      sync.Mutex
	users   map[string]domain.UserAccount
	updates int
}

func (s *userStoreStub) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.users == nil {
		s.users = make(map[string]domain.UserAccount)
	}
	s.users[user.Username] = user
	return nil
}

func (s *userStoreStub) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.UserAccount, 0, len(s.users))
	for _, user := range s.users {
		out = append(out, user)
	}
	return out, nil
}

func (s *userStoreStub) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	user := s.users[username]
	user.Password = password
	s.users[username] = user
	s.updates++
	return nil
}

func TestAuthManagerUpgradesLegacyPlainPassword(t *testing.T) {
	store := &userStoreStub{
		users: map[string]domain.UserAccount{
			"admin": {
				Username:  "admin",
				Password:  "admin123",
				Role:      domain.RoleAdmin,
				Active:    true,
				CreatedAt: time.Now().UTC(),
			},
		},
	}

	manager := NewAuthManager("test-secret", time.Hour, store, nil)
	_, err := manager.Login(context.Background(), domain.LoginRequest{
		Username: "admin",
		Password: "admin123",
	})
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}

	users, err := store.ListUsers(context.Background())
	if err != nil {
		t.Fatalf("list users failed: %v", err)
	}
	if len(users) != 1 {
		t.Fatalf("expected 1 user, got %d", len(users))
	}
	if !strings.HasPrefix(users[0].Password, "$2") {
		t.Fatalf("expected bcrypt password hash, got %s", users[0].Password)
	}
}

func TestCreateCashierStoresPasswordHashAndStore(t *testing.T) {
	store := &userStoreStub{}
	manager := NewAuthManager("test-secret", time.Hour, store, nil)

	cashier, err := manager.CreateCashier(context.Background(), domain.CashierCreateRequest{
		Username: "Ravi",
		Password: "pass1234",
		StoreID:  "store-mgroad",
	})
	if err != nil {
		t.Fatalf("create cashier failed: %v", err)
	}
	if cashier.Username != "ravi" {
		t.Fatalf("expected lowercased username, got %s", cashier.Username)
	}

	saved := store.users["ravi"]
	if saved.Password == "pass1234" || !strings.HasPrefix(saved.Password, "$2") {
		t.Fatalf("expected cashier password to be hashed, got %s", saved.Password)
	}
	if saved.StoreID != "store-mgroad" {
		t.Fatalf("expected store binding to persist, got %q", saved.StoreID)
	}

	resp, err := manager.Login(context.Background(), domain.LoginRequest{Username: "ravi", Password: "pass1234"})
	if err != nil {
		t.Fatalf("login with hashed cashier failed: %v", err)
	}
	actor, err := manager.ParseToken(resp.AccessToken)
	if err != nil {
		t.Fatalf("parse token: %v", err)
	}
	if actor.StoreID != "store-mgroad" || actor.Role != domain.RoleCashier {
		t.Fatalf("unexpected actor from token: %+v", actor)
	}
}

func TestCreateCashierValidation(t *testing.T) {
	manager := NewAuthManager("test-secret", time.Hour, &userStoreStub{}, nil)

	cases := []domain.CashierCreateRequest{
		{Username: "abc", Password: "pass1234", StoreID: "store-a"},
		{Username: "has space", Password: "pass1234", StoreID: "store-a"},
		{Username: "valid", Password: "123", StoreID: "store-a"},
		{Username: "valid", Password: "pass1234"},
	}
	for _, req := range cases {
		if _, err := manager.CreateCashier(context.Background(), req); err == nil {
			t.Fatalf("expected %+v to be rejected", req)
		}
	}
}

func TestInactiveAccountCannotLogin(t *testing.T) {
	store := &userStoreStub{
		users: map[string]domain.UserAccount{
			"old": {Username: "old", Password: "retired1", Role: domain.RoleManager, Active: false},
		},
	}
	manager := NewAuthManager("test-secret", time.Hour, store, nil)

	if _, err := manager.Login(context.Background(), domain.LoginRequest{Username: "old", Password: "retired1"}); err != errInactiveAccount {
		t.Fatalf("expected inactive account error, got %v", err)
	}
}

func TestExpiredTokenRejected(t *testing.T) {
	manager := NewAuthManager("test-secret", time.Hour, nil, nil)

	token, err := manager.sign("admin", domain.RoleAdmin, "", time.Now().Add(-time.Minute))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := manager.ParseToken(token); err == nil {
		t.Fatalf("expected expired token to be rejected")
	}
}
