package passkey

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/linkshelf/storefront/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Store errors.
var (
	ErrCredentialNotFound  = errors.New("passkey: credential not found")
	ErrLastCredential      = errors.New("passkey: cannot delete last credential")
	ErrCounterRegressed    = errors.New("passkey: signature counter did not advance")
	ErrDuplicateCredential = errors.New("passkey: credential already registered")
)

// Store persists admins, their credentials, challenges and invites.
type Store struct {
	db *gorm.DB
}

// NewStore wraps a GORM connection.
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// AdminByEmail loads an admin by normalized email.
func (s *Store) AdminByEmail(ctx context.Context, email string) (models.Admin, error) {
	var admin models.Admin
	errFind := s.db.WithContext(ctx).Where("email = ?", email).First(&admin).Error
	return admin, errFind
}

// AdminByID loads an admin by primary key.
func (s *Store) AdminByID(ctx context.Context, id uint64) (models.Admin, error) {
	var admin models.Admin
	errFind := s.db.WithContext(ctx).First(&admin, id).Error
	return admin, errFind
}

// CreateAdmin inserts a new admin. A concurrent insert of the same email returns
// the row that won.
func (s *Store) CreateAdmin(ctx context.Context, admin *models.Admin) error {
	res := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "email"}}, DoNothing: true}).
		Create(admin)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		existing, errFind := s.AdminByEmail(ctx, admin.Email)
		if errFind != nil {
			return errFind
		}
		*admin = existing
	}
	return nil
}

// Credentials lists an admin's credentials, oldest first.
func (s *Store) Credentials(ctx context.Context, adminID uint64) ([]models.Credential, error) {
	var creds []models.Credential
	errFind := s.db.WithContext(ctx).
		Where("admin_id = ?", adminID).
		Order("id ASC").
		Find(&creds).Error
	return creds, errFind
}

// SetChallenge stores a challenge, replacing any outstanding one.
func (s *Store) SetChallenge(ctx context.Context, adminID uint64, pending models.PendingChallenge, now time.Time) error {
	return s.db.WithContext(ctx).Model(&models.Admin{}).
		Where("id = ?", adminID).
		Updates(map[string]any{
			"challenge":            pending.Value,
			"challenge_kind":       string(pending.Kind),
			"challenge_expires_at": pending.ExpiresAt.UTC(),
			"updated_at":           now.UTC(),
		}).Error
}

func clearedChallenge() map[string]any {
	return map[string]any{
		"challenge":            nil,
		"challenge_kind":       nil,
		"challenge_expires_at": nil,
	}
}

// ClearChallenge clears the admin's challenge if it is still the given value, so a
// challenge issued by a newer ceremony is left alone.
func (s *Store) ClearChallenge(ctx context.Context, adminID uint64, value string) error {
	return s.db.WithContext(ctx).Model(&models.Admin{}).
		Where("id = ? AND challenge = ?", adminID, value).
		Updates(clearedChallenge()).Error
}

// ClearStaleChallenge clears challenge columns that no longer describe an active challenge.
func (s *Store) ClearStaleChallenge(ctx context.Context, adminID uint64, now time.Time) error {
	return s.db.WithContext(ctx).Model(&models.Admin{}).
		Where("id = ?", adminID).
		Where("challenge IS NULL OR challenge_expires_at IS NULL OR challenge_expires_at <= ?", now.UTC()).
		Where("challenge IS NOT NULL OR challenge_kind IS NOT NULL OR challenge_expires_at IS NOT NULL").
		Updates(clearedChallenge()).Error
}

// SweepExpiredChallenges clears every challenge whose expiry has passed.
func (s *Store) SweepExpiredChallenges(ctx context.Context, now time.Time) (int64, error) {
	res := s.db.WithContext(ctx).Model(&models.Admin{}).
		Where("challenge_expires_at <= ?", now.UTC()).
		Updates(clearedChallenge())
	return res.RowsAffected, res.Error
}

// AddCredential stores a newly registered credential and consumes the email's open invites.
func (s *Store) AddCredential(ctx context.Context, cred *models.Credential, email string, now time.Time) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing int64
		if errCount := tx.Model(&models.Credential{}).
			Where("credential_id = ?", cred.CredentialID).
			Count(&existing).Error; errCount != nil {
			return errCount
		}
		if existing > 0 {
			return ErrDuplicateCredential
		}
		if errCreate := tx.Create(cred).Error; errCreate != nil {
			return errCreate
		}
		return tx.Model(&models.Invite{}).
			Where("email = ? AND used_at IS NULL AND expires_at > ?", email, now.UTC()).
			Update("used_at", now.UTC()).Error
	})
}

// RecordAuthentication advances the credential counter and stamps last-use and
// last-login times. The counter never moves backwards.
func (s *Store) RecordAuthentication(ctx context.Context, adminID, credentialRowID uint64, signCount uint32, backupState bool, now time.Time) error {
	now = now.UTC()
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Credential{}).
			Where("id = ? AND admin_id = ? AND sign_count <= ?", credentialRowID, adminID, signCount).
			Updates(map[string]any{
				"sign_count":   signCount,
				"backup_state": backupState,
				"last_used_at": now,
				"updated_at":   now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrCounterRegressed
		}
		return tx.Model(&models.Admin{}).
			Where("id = ?", adminID).
			Updates(map[string]any{
				"last_login_at": now,
				"updated_at":    now,
			}).Error
	})
}

// DeleteCredential removes one of the admin's credentials, refusing to remove the last one.
func (s *Store) DeleteCredential(ctx context.Context, adminID, credentialRowID uint64) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var admin models.Admin
		if errLock := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Select("id").
			First(&admin, adminID).Error; errLock != nil {
			if errors.Is(errLock, gorm.ErrRecordNotFound) {
				return ErrCredentialNotFound
			}
			return errLock
		}

		var cred models.Credential
		if errFind := tx.Select("id").
			Where("id = ? AND admin_id = ?", credentialRowID, adminID).
			First(&cred).Error; errFind != nil {
			if errors.Is(errFind, gorm.ErrRecordNotFound) {
				return ErrCredentialNotFound
			}
			return errFind
		}

		var count int64
		if errCount := tx.Model(&models.Credential{}).
			Where("admin_id = ?", adminID).
			Count(&count).Error; errCount != nil {
			return errCount
		}
		if count <= 1 {
			return ErrLastCredential
		}

		if errDelete := tx.Where("id = ? AND admin_id = ?", credentialRowID, adminID).
			Delete(&models.Credential{}).Error; errDelete != nil {
			return fmt.Errorf("delete credential: %w", errDelete)
		}
		return nil
	})
}

// RenameCredential updates the label of one of the admin's credentials.
func (s *Store) RenameCredential(ctx context.Context, adminID, credentialRowID uint64, name string, now time.Time) error {
	res := s.db.WithContext(ctx).Model(&models.Credential{}).
		Where("id = ? AND admin_id = ?", credentialRowID, adminID).
		Updates(map[string]any{
			"device_name": name,
			"updated_at":  now.UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrCredentialNotFound
	}
	return nil
}

// UsableInvites returns the unused, unexpired invites for an email, newest first.
func (s *Store) UsableInvites(ctx context.Context, email string, now time.Time) ([]models.Invite, error) {
	var invites []models.Invite
	errFind := s.db.WithContext(ctx).
		Where("email = ? AND used_at IS NULL AND expires_at > ?", email, now.UTC()).
		Order("id DESC").
		Find(&invites).Error
	return invites, errFind
}

// CreateInvite inserts an invite.
func (s *Store) CreateInvite(ctx context.Context, invite *models.Invite) error {
	return s.db.WithContext(ctx).Create(invite).Error
}
