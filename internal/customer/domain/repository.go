package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, customer *Customer) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Customer, error)
	FindByEmail(ctx context.Context, db *gorm.DB, email string) (*Customer, error)
	ClaimGuestEmail(ctx context.Context, db *gorm.DB, id snowflake.ID, email string, now time.Time) (bool, error)
	SetReferrer(ctx context.Context, db *gorm.DB, id snowflake.ID, affiliateID snowflake.ID, now time.Time) (bool, error)

	InsertAffiliate(ctx context.Context, db *gorm.DB, affiliate *Affiliate) error
	FindAffiliateByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Affiliate, error)
	FindAffiliateByCode(ctx context.Context, db *gorm.DB, code string) (*Affiliate, error)
}
