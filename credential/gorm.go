package credential

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormStore implements [Store] on any gorm dialect. Tests use SQLite;
// production deployments point it at Postgres or MySQL.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore wraps db.
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// Migrate creates or updates the credential tables.
func (s *GormStore) Migrate(ctx context.Context) error {
	if err := s.db.WithContext(ctx).AutoMigrate(Models()...); err != nil {
		return fmt.Errorf("failed to migrate credential tables: %w", err)
	}
	return nil
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrUnavailable, op, err)
}

// isDuplicate recognises unique violations whether or not the gorm
// connection was opened with TranslateError.
func isDuplicate(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "duplicate key value") ||
		strings.Contains(msg, "Duplicate entry")
}

// CreateUser inserts user and grants roles in one transaction. Roles that do
// not exist yet are created.
func (s *GormStore) CreateUser(ctx context.Context, user *User, roles []string) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		q := tx.Model(&User{}).Where("email = ?", user.Email)
		if user.Username != nil {
			q = q.Or("username = ?", *user.Username)
		}
		if user.Phone != nil {
			q = q.Or("phone = ?", *user.Phone)
		}
		var taken int64
		if err := q.Count(&taken).Error; err != nil {
			return err
		}
		if taken > 0 {
			return ErrDuplicate
		}

		if err := tx.Create(user).Error; err != nil {
			return err
		}

		for _, name := range roles {
			role := Role{Name: name}
			if err := tx.Where(Role{Name: name}).FirstOrCreate(&role).Error; err != nil {
				return err
			}
			if err := tx.Create(&UserRole{UserID: user.ID, RoleID: role.ID}).Error; err != nil {
				return err
			}
		}
		return nil
	})
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrDuplicate) || isDuplicate(err):
		return ErrDuplicate
	default:
		return unavailable("create user", err)
	}
}

func (s *GormStore) getUser(ctx context.Context, query string, arg interface{}) (*User, error) {
	var user User
	if err := s.db.WithContext(ctx).Where(query, arg).Take(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, unavailable("get user", err)
	}
	return &user, nil
}

// GetUserByID returns ErrNotFound for unknown ids.
func (s *GormStore) GetUserByID(ctx context.Context, id string) (*User, error) {
	return s.getUser(ctx, "id = ?", id)
}

// GetUserByEmail expects email to be normalized already.
func (s *GormStore) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	return s.getUser(ctx, "email = ?", email)
}

func (s *GormStore) updateUser(ctx context.Context, op, userID string, values map[string]interface{}) error {
	result := s.db.WithContext(ctx).Model(&User{}).Where("id = ?", userID).Updates(values)
	if err := result.Error; err != nil {
		return unavailable(op, err)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *GormStore) TouchLastLogin(ctx context.Context, userID string, at time.Time) error {
	return s.updateUser(ctx, "touch last login", userID, map[string]interface{}{"last_login_at": at})
}

func (s *GormStore) UpdatePasswordHash(ctx context.Context, userID, hash string) error {
	return s.updateUser(ctx, "update password", userID, map[string]interface{}{"password_hash": hash})
}

func (s *GormStore) MarkEmailVerified(ctx context.Context, userID string) error {
	return s.updateUser(ctx, "verify email", userID, map[string]interface{}{"email_verified": true})
}

func (s *GormStore) SetActive(ctx context.Context, userID string, active bool) error {
	return s.updateUser(ctx, "set active", userID, map[string]interface{}{"is_active": active})
}

func (s *GormStore) SoftDelete(ctx context.Context, userID string) error {
	return s.updateUser(ctx, "soft delete", userID, map[string]interface{}{"is_deleted": true, "is_active": false})
}

// EnsureRoles creates any missing roles.
func (s *GormStore) EnsureRoles(ctx context.Context, names ...string) error {
	if len(names) == 0 {
		return nil
	}
	roles := make([]Role, 0, len(names))
	for _, n := range names {
		roles = append(roles, Role{Name: n})
	}
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "name"}}, DoNothing: true}).
		Create(&roles).Error
	if err != nil {
		return unavailable("ensure roles", err)
	}
	return nil
}

func (s *GormStore) roleID(tx *gorm.DB, name string) (uint, error) {
	var role Role
	if err := tx.Where("name = ?", name).Take(&role).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, ErrNotFound
		}
		return 0, err
	}
	return role.ID, nil
}

// AssignRole grants role to userID. Granting twice is a no-op.
func (s *GormStore) AssignRole(ctx context.Context, userID, role string) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var n int64
		if err := tx.Model(&User{}).Where("id = ?", userID).Count(&n).Error; err != nil {
			return err
		}
		if n == 0 {
			return ErrNotFound
		}
		id, err := s.roleID(tx, role)
		if err != nil {
			return err
		}
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}, {Name: "role_id"}},
			DoNothing: true,
		}).Create(&UserRole{UserID: userID, RoleID: id}).Error
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrNotFound
		}
		return unavailable("assign role", err)
	}
	return nil
}

// RevokeRole removes role from userID. Revoking an absent grant is a no-op.
func (s *GormStore) RevokeRole(ctx context.Context, userID, role string) error {
	db := s.db.WithContext(ctx)
	id, err := s.roleID(db, role)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrNotFound
		}
		return unavailable("revoke role", err)
	}
	if err := db.Where("user_id = ? AND role_id = ?", userID, id).Delete(&UserRole{}).Error; err != nil {
		return unavailable("revoke role", err)
	}
	return nil
}

// ListRoles returns the user's role names, sorted.
func (s *GormStore) ListRoles(ctx context.Context, userID string) ([]string, error) {
	var names []string
	err := s.db.WithContext(ctx).
		Table("user_roles").
		Select("roles.name").
		Joins("JOIN roles ON roles.id = user_roles.role_id").
		Where("user_roles.user_id = ?", userID).
		Order("roles.name").
		Scan(&names).Error
	if err != nil {
		return nil, unavailable("list roles", err)
	}
	return names, nil
}

func (s *GormStore) CreateRefreshToken(ctx context.Context, token *RefreshToken) error {
	if err := s.db.WithContext(ctx).Create(token).Error; err != nil {
		if isDuplicate(err) {
			return ErrDuplicate
		}
		return unavailable("create refresh token", err)
	}
	return nil
}

func findToken(tx *gorm.DB, tokenHash string) (*RefreshToken, error) {
	var row RefreshToken
	if err := tx.Where("token_hash = ?", tokenHash).Take(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &row, nil
}

func (s *GormStore) FindRefreshToken(ctx context.Context, tokenHash string) (*RefreshToken, error) {
	row, err := findToken(s.db.WithContext(ctx), tokenHash)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, unavailable("find refresh token", err)
	}
	return row, err
}

// RotateRefreshToken consumes the presented token and inserts next in one
// transaction. The conditional update is the arbiter between concurrent
// rotations of the same token: exactly one sees RowsAffected == 1.
func (s *GormStore) RotateRefreshToken(ctx context.Context, tokenHash string, next *RefreshToken, now time.Time) (*RefreshToken, error) {
	var consumed *RefreshToken
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		row, err := findToken(tx, tokenHash)
		if err != nil {
			return err
		}
		consumed = row

		// A revoked token is reported as revoked even once expired so that
		// late replays still count as reuse.
		if row.Revoked {
			return ErrTokenRevoked
		}
		if !now.Before(row.ExpiresAt) {
			return ErrTokenExpired
		}

		result := tx.Model(&RefreshToken{}).
			Where("id = ? AND revoked = ?", row.ID, false).
			Updates(map[string]interface{}{
				"revoked":        true,
				"revoked_at":     now,
				"replaced_by_id": next.ID,
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return ErrTokenRevoked
		}

		next.UserID = row.UserID
		return tx.Create(next).Error
	})
	switch {
	case err == nil:
		consumed.Revoked = true
		consumed.RevokedAt = &now
		consumed.ReplacedByID = &next.ID
		return consumed, nil
	case errors.Is(err, ErrNotFound):
		return nil, ErrNotFound
	case errors.Is(err, ErrTokenRevoked), errors.Is(err, ErrTokenExpired):
		return consumed, err
	default:
		return nil, unavailable("rotate refresh token", err)
	}
}

// RevokeRefreshToken marks the row matching tokenHash revoked. changed is
// false when the row was already revoked.
func (s *GormStore) RevokeRefreshToken(ctx context.Context, tokenHash string, now time.Time) (*RefreshToken, bool, error) {
	db := s.db.WithContext(ctx)
	row, err := findToken(db, tokenHash)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, false, ErrNotFound
		}
		return nil, false, unavailable("revoke refresh token", err)
	}
	if row.Revoked {
		return row, false, nil
	}

	result := db.Model(&RefreshToken{}).
		Where("id = ? AND revoked = ?", row.ID, false).
		Updates(map[string]interface{}{"revoked": true, "revoked_at": now})
	if result.Error != nil {
		return nil, false, unavailable("revoke refresh token", result.Error)
	}
	row.Revoked = true
	return row, result.RowsAffected == 1, nil
}

// RevokeAllRefreshTokens revokes every live token of userID and returns how
// many rows changed.
func (s *GormStore) RevokeAllRefreshTokens(ctx context.Context, userID string, now time.Time) (int64, error) {
	result := s.db.WithContext(ctx).Model(&RefreshToken{}).
		Where("user_id = ? AND revoked = ?", userID, false).
		Updates(map[string]interface{}{"revoked": true, "revoked_at": now})
	if result.Error != nil {
		return 0, unavailable("revoke all refresh tokens", result.Error)
	}
	return result.RowsAffected, nil
}

// CountActiveRefreshTokens counts unrevoked, unexpired tokens of userID.
func (s *GormStore) CountActiveRefreshTokens(ctx context.Context, userID string, now time.Time) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&RefreshToken{}).
		Where("user_id = ? AND revoked = ? AND expires_at > ?", userID, false, now).
		Count(&n).Error
	if err != nil {
		return 0, unavailable("count refresh tokens", err)
	}
	return n, nil
}
