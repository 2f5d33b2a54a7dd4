package credential

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// setupTestStore opens an in-memory SQLite database. A single connection
// keeps every query on the same database and serialises transactions.
func setupTestStore(t *testing.T) *GormStore {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to get sql.DB: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	store := NewGormStore(db)
	if err := store.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate failed: %v", err)
	}
	return store
}

func strPtr(s string) *string { return &s }

func newUser(email string) *User {
	return &User{
		ID:           uuid.NewString(),
		Email:        email,
		PasswordHash: "hash",
		IsActive:     true,
	}
}

func newToken(userID, hash string, expiresAt time.Time) *RefreshToken {
	return &RefreshToken{
		ID:        uuid.NewString(),
		UserID:    userID,
		TokenHash: hash,
		ExpiresAt: expiresAt,
	}
}

func TestCreateUserWithRoles(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	u := newUser("a@example.com")
	u.Username = strPtr("alice")
	if err := store.CreateUser(ctx, u, []string{"user"}); err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}

	got, err := store.GetUserByEmail(ctx, "a@example.com")
	if err != nil {
		t.Fatalf("GetUserByEmail failed: %v", err)
	}
	if got.ID != u.ID || !got.CanAuthenticate() {
		t.Fatalf("unexpected user %+v", got)
	}

	roles, err := store.ListRoles(ctx, u.ID)
	if err != nil {
		t.Fatalf("ListRoles failed: %v", err)
	}
	if len(roles) != 1 || roles[0] != "user" {
		t.Fatalf("unexpected roles %v", roles)
	}
}

func TestCreateUserRejectsDuplicates(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	first := newUser("a@example.com")
	first.Username = strPtr("alice")
	first.Phone = strPtr("+15550001")
	if err := store.CreateUser(ctx, first, nil); err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}

	sameEmail := newUser("a@example.com")
	if err := store.CreateUser(ctx, sameEmail, nil); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate for email, got %v", err)
	}

	sameUsername := newUser("b@example.com")
	sameUsername.Username = strPtr("alice")
	if err := store.CreateUser(ctx, sameUsername, nil); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate for username, got %v", err)
	}

	samePhone := newUser("c@example.com")
	samePhone.Phone = strPtr("+15550001")
	if err := store.CreateUser(ctx, samePhone, nil); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate for phone, got %v", err)
	}

	// Absent optional fields never collide.
	if err := store.CreateUser(ctx, newUser("d@example.com"), nil); err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}
	if err := store.CreateUser(ctx, newUser("e@example.com"), nil); err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}
}

func TestAssignRoleIsIdempotent(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	u := newUser("a@example.com")
	_ = store.CreateUser(ctx, u, nil)
	if err := store.EnsureRoles(ctx, "user", "admin"); err != nil {
		t.Fatalf("EnsureRoles failed: %v", err)
	}
	if err := store.EnsureRoles(ctx, "admin"); err != nil {
		t.Fatalf("EnsureRoles second call failed: %v", err)
	}

	for i := 0; i < 3; i++ {
		if err := store.AssignRole(ctx, u.ID, "admin"); err != nil {
			t.Fatalf("AssignRole failed: %v", err)
		}
	}
	roles, _ := store.ListRoles(ctx, u.ID)
	if len(roles) != 1 {
		t.Fatalf("expected one grant, got %v", roles)
	}

	if err := store.AssignRole(ctx, u.ID, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown role, got %v", err)
	}
	if err := store.AssignRole(ctx, "nobody", "admin"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown user, got %v", err)
	}

	if err := store.RevokeRole(ctx, u.ID, "admin"); err != nil {
		t.Fatalf("RevokeRole failed: %v", err)
	}
	roles, _ = store.ListRoles(ctx, u.ID)
	if len(roles) != 0 {
		t.Fatalf("expected no roles, got %v", roles)
	}
}

func TestRotateRefreshToken(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	u := newUser("a@example.com")
	_ = store.CreateUser(ctx, u, nil)
	first := newToken(u.ID, "h1", now.Add(time.Hour))
	if err := store.CreateRefreshToken(ctx, first); err != nil {
		t.Fatalf("CreateRefreshToken failed: %v", err)
	}

	next := newToken("", "h2", now.Add(time.Hour))
	consumed, err := store.RotateRefreshToken(ctx, "h1", next, now)
	if err != nil {
		t.Fatalf("RotateRefreshToken failed: %v", err)
	}
	if consumed.ID != first.ID || consumed.ReplacedByID == nil || *consumed.ReplacedByID != next.ID {
		t.Fatalf("unexpected consumed row %+v", consumed)
	}
	if next.UserID != u.ID {
		t.Fatalf("successor must inherit owner, got %q", next.UserID)
	}

	old, _ := store.FindRefreshToken(ctx, "h1")
	if !old.Revoked || old.RevokedAt == nil {
		t.Fatalf("expected old token revoked, got %+v", old)
	}

	row, err := store.RotateRefreshToken(ctx, "h1", newToken("", "h3", now.Add(time.Hour)), now)
	if !errors.Is(err, ErrTokenRevoked) || row == nil || row.UserID != u.ID {
		t.Fatalf("expected ErrTokenRevoked with owner, got row=%+v err=%v", row, err)
	}
	if _, err := store.FindRefreshToken(ctx, "h3"); !errors.Is(err, ErrNotFound) {
		t.Fatal("failed rotation must not insert a successor")
	}

	if _, err := store.RotateRefreshToken(ctx, "nope", newToken("", "h4", now.Add(time.Hour)), now); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRotateExpiredRefreshToken(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	u := newUser("a@example.com")
	_ = store.CreateUser(ctx, u, nil)
	_ = store.CreateRefreshToken(ctx, newToken(u.ID, "h1", now.Add(-time.Second)))

	if _, err := store.RotateRefreshToken(ctx, "h1", newToken("", "h2", now.Add(time.Hour)), now); !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("expected ErrTokenExpired, got %v", err)
	}
}

func TestRotateConcurrentSingleWinner(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	u := newUser("a@example.com")
	_ = store.CreateUser(ctx, u, nil)
	_ = store.CreateRefreshToken(ctx, newToken(u.ID, "h0", now.Add(time.Hour)))

	const n = 16
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		success int
		revoked int
	)
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			_, err := store.RotateRefreshToken(ctx, "h0", newToken("", uuid.NewString(), now.Add(time.Hour)), now)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				success++
			case errors.Is(err, ErrTokenRevoked):
				revoked++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if success != 1 || revoked != n-1 {
		t.Fatalf("expected 1 winner and %d revoked, got %d/%d", n-1, success, revoked)
	}
	active, _ := store.CountActiveRefreshTokens(ctx, u.ID, now)
	if active != 1 {
		t.Fatalf("expected exactly one live successor, got %d", active)
	}
}

func TestRevokeRefreshTokenIdempotent(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	u := newUser("a@example.com")
	_ = store.CreateUser(ctx, u, nil)
	_ = store.CreateRefreshToken(ctx, newToken(u.ID, "h1", now.Add(time.Hour)))

	_, changed, err := store.RevokeRefreshToken(ctx, "h1", now)
	if err != nil || !changed {
		t.Fatalf("first revoke: changed=%v err=%v", changed, err)
	}
	_, changed, err = store.RevokeRefreshToken(ctx, "h1", now)
	if err != nil || changed {
		t.Fatalf("second revoke: changed=%v err=%v", changed, err)
	}
}

func TestRevokeAllRefreshTokens(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	u := newUser("a@example.com")
	other := newUser("b@example.com")
	_ = store.CreateUser(ctx, u, nil)
	_ = store.CreateUser(ctx, other, nil)
	for _, h := range []string{"a1", "a2", "a3"} {
		_ = store.CreateRefreshToken(ctx, newToken(u.ID, h, now.Add(time.Hour)))
	}
	_ = store.CreateRefreshToken(ctx, newToken(other.ID, "b1", now.Add(time.Hour)))

	n, err := store.RevokeAllRefreshTokens(ctx, u.ID, now)
	if err != nil || n != 3 {
		t.Fatalf("expected 3 revoked, got %d err=%v", n, err)
	}
	if active, _ := store.CountActiveRefreshTokens(ctx, u.ID, now); active != 0 {
		t.Fatalf("expected no active tokens, got %d", active)
	}
	if active, _ := store.CountActiveRefreshTokens(ctx, other.ID, now); active != 1 {
		t.Fatalf("other user's tokens must survive, got %d", active)
	}
}

func TestSoftDeleteDisablesAuthentication(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	u := newUser("a@example.com")
	_ = store.CreateUser(ctx, u, nil)
	if err := store.SoftDelete(ctx, u.ID); err != nil {
		t.Fatalf("SoftDelete failed: %v", err)
	}
	got, _ := store.GetUserByID(ctx, u.ID)
	if got.CanAuthenticate() || !got.IsDeleted {
		t.Fatalf("expected deleted user, got %+v", got)
	}
	if err := store.SetActive(ctx, "missing", true); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
