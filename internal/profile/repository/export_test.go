package repository

import (
	"context"

	"github.com/smallbiznis/simstore/internal/profile/domain"
	"gorm.io/gorm"
)

// InsertOrUpdate skips the existence check, as a writer that lost the race
// to read an empty table would.
func InsertOrUpdate(ctx context.Context, db *gorm.DB, profile *domain.Profile) (bool, error) {
	return (&repo{}).insertOrUpdate(ctx, db, profile)
}
