package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/simstore/internal/profile/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

const profileColumns = `id, order_id, external_tran_id, external_resource_id, activation_code, status,
	capacity_bytes, used_bytes, expires_at, created_at, updated_at`

func (r *repo) UpsertByOrderID(ctx context.Context, db *gorm.DB, profile *domain.Profile) (bool, error) {
	existing, err := r.FindByOrderID(ctx, db, profile.OrderID)
	if err != nil {
		return false, err
	}
	if existing == nil {
		return r.insertOrUpdate(ctx, db, profile)
	}
	return false, r.update(ctx, db, existing, profile)
}

// insertOrUpdate inserts the profile, falling back to an update when a
// concurrent writer already stored the same (order, resource) pair.
func (r *repo) insertOrUpdate(ctx context.Context, db *gorm.DB, profile *domain.Profile) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`INSERT INTO profiles (id, order_id, external_tran_id, external_resource_id, activation_code, status,
			capacity_bytes, used_bytes, expires_at, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (order_id, external_tran_id) DO NOTHING`,
		profile.ID,
		profile.OrderID,
		profile.ExternalTranID,
		profile.ExternalResourceID,
		profile.ActivationCode,
		profile.Status,
		profile.CapacityBytes,
		profile.UsedBytes,
		profile.ExpiresAt,
		profile.CreatedAt,
		profile.UpdatedAt,
	)
	if result.Error != nil {
		return false, result.Error
	}
	if result.RowsAffected == 1 {
		return true, nil
	}

	var existing domain.Profile
	err := db.WithContext(ctx).Raw(
		`SELECT `+profileColumns+` FROM profiles WHERE order_id = ? AND external_tran_id = ?`,
		profile.OrderID, profile.ExternalTranID,
	).Scan(&existing).Error
	if err != nil {
		return false, err
	}
	if existing.ID == 0 {
		return false, gorm.ErrRecordNotFound
	}
	return false, r.update(ctx, db, &existing, profile)
}

func (r *repo) update(ctx context.Context, db *gorm.DB, existing, profile *domain.Profile) error {
	profile.ID = existing.ID
	profile.CreatedAt = existing.CreatedAt
	return db.WithContext(ctx).Exec(
		`UPDATE profiles
		 SET external_tran_id = ?, external_resource_id = ?, activation_code = ?, status = ?,
			capacity_bytes = ?, used_bytes = ?, expires_at = ?, updated_at = ?
		 WHERE id = ?`,
		profile.ExternalTranID,
		profile.ExternalResourceID,
		profile.ActivationCode,
		profile.Status,
		profile.CapacityBytes,
		profile.UsedBytes,
		profile.ExpiresAt,
		profile.UpdatedAt,
		existing.ID,
	).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Profile, error) {
	var profile domain.Profile
	err := db.WithContext(ctx).Raw(
		`SELECT `+profileColumns+` FROM profiles WHERE id = ?`,
		id,
	).Scan(&profile).Error
	if err != nil {
		return nil, err
	}
	if profile.ID == 0 {
		return nil, nil
	}
	return &profile, nil
}

func (r *repo) FindByOrderID(ctx context.Context, db *gorm.DB, orderID snowflake.ID) (*domain.Profile, error) {
	var profile domain.Profile
	err := db.WithContext(ctx).Raw(
		`SELECT `+profileColumns+` FROM profiles WHERE order_id = ? ORDER BY created_at ASC, id ASC LIMIT 1`,
		orderID,
	).Scan(&profile).Error
	if err != nil {
		return nil, err
	}
	if profile.ID == 0 {
		return nil, nil
	}
	return &profile, nil
}

func (r *repo) CountByOrderID(ctx context.Context, db *gorm.DB, orderID snowflake.ID) (int64, error) {
	var count int64
	err := db.WithContext(ctx).Raw(
		`SELECT COUNT(*) FROM profiles WHERE order_id = ?`,
		orderID,
	).Scan(&count).Error
	return count, err
}

func (r *repo) ListSyncable(ctx context.Context, db *gorm.DB, updatedBefore time.Time, limit int) ([]domain.Profile, error) {
	var profiles []domain.Profile
	err := db.WithContext(ctx).Raw(
		`SELECT `+profileColumns+` FROM profiles
		 WHERE status NOT IN ? AND updated_at < ?
		 ORDER BY updated_at ASC, id ASC
		 LIMIT ?`,
		domain.TerminalStatuses, updatedBefore, limit,
	).Scan(&profiles).Error
	if err != nil {
		return nil, err
	}
	return profiles, nil
}

func (r *repo) UpdateUsage(ctx context.Context, db *gorm.DB, id snowflake.ID, usedBytes, capacityBytes int64, expiresAt *time.Time, now time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE profiles
		 SET used_bytes = ?, capacity_bytes = ?, expires_at = COALESCE(?, expires_at), updated_at = ?
		 WHERE id = ?`,
		usedBytes, capacityBytes, expiresAt, now, id,
	).Error
}

func (r *repo) UpdateStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, status string, now time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE profiles SET status = ?, updated_at = ? WHERE id = ?`,
		status, now, id,
	).Error
}
