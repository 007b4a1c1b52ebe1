package httpapi

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/PhuocHoan/CoolWear-sub000/internal/domain"
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

func plainOwnerStore() *userStoreStub {
	return &userStoreStub{
		users: map[string]domain.UserAccount{
			"owner": {
				Username:  "owner",
				Password:  "owner123",
				Role:      domain.RoleOwner,
				Active:    true,
				CreatedAt: time.Now().UTC(),
			},
		},
	}
}

func TestAuthManagerRehashesPlainPassword(t *testing.T) {
	store := plainOwnerStore()
	manager := NewAuthManager(context.Background(), "test-secret", time.Hour, "482913", store)

	resp, err := manager.Login(context.Background(), domain.LoginRequest{Username: "Owner", Password: "owner123"})
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}
	if resp.Role != domain.RoleOwner {
		t.Fatalf("expected owner role, got %s", resp.Role)
	}

	users, _ := store.ListUsers(context.Background())
	if !strings.HasPrefix(users[0].Password, "$2") {
		t.Fatalf("expected bcrypt hash in store, got %s", users[0].Password)
	}
	if store.updates == 0 {
		t.Fatalf("expected the store password to be updated")
	}
}

func TestLoginRejectsWrongPasswordAndInactiveAccount(t *testing.T) {
	store := plainOwnerStore()
	store.users["ghost"] = domain.UserAccount{Username: "ghost", Password: "ghost123", Role: domain.RoleStaff, Active: false}
	manager := NewAuthManager(context.Background(), "test-secret", time.Hour, "482913", store)

	if _, err := manager.Login(context.Background(), domain.LoginRequest{Username: "owner", Password: "nope"}); err == nil {
		t.Fatalf("expected wrong password to fail")
	}
	if _, err := manager.Login(context.Background(), domain.LoginRequest{Username: "ghost", Password: "ghost123"}); err == nil {
		t.Fatalf("expected inactive account to fail")
	}
}

func TestParseTokenRoundTripAndTamper(t *testing.T) {
	manager := NewAuthManager(context.Background(), "test-secret", time.Hour, "482913", plainOwnerStore())
	resp, err := manager.Login(context.Background(), domain.LoginRequest{Username: "owner", Password: "owner123"})
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}

	actor, err := manager.ParseToken(resp.AccessToken)
	if err != nil {
		t.Fatalf("parse token: %v", err)
	}
	if actor.Username != "owner" || actor.Role != domain.RoleOwner {
		t.Fatalf("unexpected actor %+v", actor)
	}

	other := NewAuthManager(context.Background(), "another-secret", time.Hour, "482913", nil)
	if _, err := other.ParseToken(resp.AccessToken); err == nil {
		t.Fatalf("expected token signed with another secret to be rejected")
	}
}

func TestCreateStaffStoresPasswordHash(t *testing.T) {
	store := plainOwnerStore()
	manager := NewAuthManager(context.Background(), "test-secret", time.Hour, "482913", store)

	staff, err := manager.CreateStaff(context.Background(), domain.StaffCreateRequest{Username: "Linh.Tran", Password: "pass1234"})
	if err != nil {
		t.Fatalf("create staff failed: %v", err)
	}
	if staff.Username != "linh.tran" || staff.Role != domain.RoleStaff {
		t.Fatalf("unexpected staff %+v", staff)
	}

	saved := store.users["linh.tran"]
	if saved.Password == "pass1234" || !strings.HasPrefix(saved.Password, "$2") {
		t.Fatalf("expected hashed staff password, got %s", saved.Password)
	}
	if _, err := manager.Login(context.Background(), domain.LoginRequest{Username: "linh.tran", Password: "pass1234"}); err != nil {
		t.Fatalf("login with new staff failed: %v", err)
	}

	if _, err := manager.CreateStaff(context.Background(), domain.StaffCreateRequest{Username: "linh.tran", Password: "pass1234"}); err == nil {
		t.Fatalf("expected duplicate username to fail")
	}
	if _, err := manager.CreateStaff(context.Background(), domain.StaffCreateRequest{Username: "shortpw", Password: "123"}); err == nil {
		t.Fatalf("expected short password to fail")
	}

	list := manager.ListStaff(context.Background())
	if len(list) != 1 || list[0].Username != "linh.tran" {
		t.Fatalf("expected only the staff account listed, got %+v", list)
	}
}

func TestOwnerPINIsHashedAndStillValidates(t *testing.T) {
	manager := NewAuthManager(context.Background(), "test-secret", time.Hour, "654321", nil)

	if manager.ownerPIN == "654321" {
		t.Fatalf("expected owner pin to be stored as hash")
	}
	if !manager.ValidateOwnerPIN("654321") {
		t.Fatalf("expected owner pin validation to succeed")
	}
	if manager.ValidateOwnerPIN("111111") {
		t.Fatalf("expected wrong owner pin to fail")
	}

	disabled := NewAuthManager(context.Background(), "test-secret", time.Hour, "", nil)
	if disabled.ValidateOwnerPIN("") {
		t.Fatalf("expected an unset owner pin never to validate")
	}
}
