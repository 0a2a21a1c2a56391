package domain

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// Profile mirrors a provisioned SIM profile. Status is the provider's own
// lifecycle string, stored verbatim.
type Profile struct {
	ID                 snowflake.ID `json:"id"`
	OrderID            snowflake.ID `json:"order_id"`
	ExternalTranID     string       `json:"external_tran_id"`
	ExternalResourceID string       `json:"external_resource_id"`
	ActivationCode     string       `json:"activation_code"`
	Status             string       `json:"status"`
	CapacityBytes      int64        `json:"capacity_bytes"`
	UsedBytes          int64        `json:"used_bytes"`
	ExpiresAt          *time.Time   `json:"expires_at,omitempty"`
	CreatedAt          time.Time    `json:"created_at"`
	UpdatedAt          time.Time    `json:"updated_at"`
}

// Provider statuses after which usage no longer changes.
var TerminalStatuses = []string{"REVOKED", "CANCEL", "USED_EXPIRED", "UNUSED_EXPIRED"}

func IsTerminalStatus(status string) bool {
	status = strings.ToUpper(strings.TrimSpace(status))
	for _, terminal := range TerminalStatuses {
		if status == terminal {
			return true
		}
	}
	return false
}

type Repository interface {
	// UpsertByOrderID inserts the profile unless one already exists for the
	// order, in which case the existing row is updated in place. Concurrent
	// inserts of the same resource collapse onto one row.
	UpsertByOrderID(ctx context.Context, db *gorm.DB, profile *Profile) (bool, error)
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Profile, error)
	FindByOrderID(ctx context.Context, db *gorm.DB, orderID snowflake.ID) (*Profile, error)
	CountByOrderID(ctx context.Context, db *gorm.DB, orderID snowflake.ID) (int64, error)
	ListSyncable(ctx context.Context, db *gorm.DB, updatedBefore time.Time, limit int) ([]Profile, error)
	UpdateUsage(ctx context.Context, db *gorm.DB, id snowflake.ID, usedBytes, capacityBytes int64, expiresAt *time.Time, now time.Time) error
	UpdateStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, status string, now time.Time) error
}

var (
	ErrNotFound = errors.New("profile_not_found")
)
