package store

import (
	"testing"

	"github.com/mossline/filterhub/internal/database"
)

func setupSessionTestDB(t *testing.T) (*SessionStore, *UserStore) {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewSessionStore(db), NewUserStore(db)
}

func TestSessionLifecycle(t *testing.T) {
	ss, us := setupSessionTestDB(t)
	user := createTestUser(t, us, "a@example.com")

	sess, err := ss.Create(user.ID)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	if sess.Token == "" {
		t.Fatal("session token is empty")
	}

	got, err := ss.GetByToken(sess.Token)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if got == nil || got.UserID != user.ID {
		t.Fatalf("got %+v, want session for user %d", got, user.ID)
	}

	if err := ss.Delete(sess.Token); err != nil {
		t.Fatalf("delete session: %v", err)
	}
	got, err = ss.GetByToken(sess.Token)
	if err != nil {
		t.Fatalf("get deleted session: %v", err)
	}
	if got != nil {
		t.Error("deleted session still resolves")
	}
}

func TestGetSessionUnknownToken(t *testing.T) {
	ss, _ := setupSessionTestDB(t)

	got, err := ss.GetByToken("nope")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got != nil {
		t.Errorf("unknown token resolved to %+v", got)
	}
}

func TestUserEmailUnique(t *testing.T) {
	_, us := setupSessionTestDB(t)

	if _, err := us.Create("a@example.com", "First", "x"); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := us.Create("a@example.com", "Second", "y"); err == nil {
		t.Error("duplicate email should fail")
	}

	got, err := us.GetByEmail("a@example.com")
	if err != nil {
		t.Fatalf("get by email: %v", err)
	}
	if got == nil || got.Name != "First" {
		t.Errorf("got %+v, want the first user", got)
	}
}
