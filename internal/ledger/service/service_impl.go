package service

import (
	"context"
	"errors"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/simstore/internal/clock"
	ledgerdomain "github.com/smallbiznis/simstore/internal/ledger/domain"
	"github.com/smallbiznis/simstore/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
}

func NewService(p Params) ledgerdomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("ledger.service"),
		genID: p.GenID,
		clock: p.Clock,
	}
}

func (s *Service) DebitTx(ctx context.Context, tx *gorm.DB, customerID snowflake.ID, amountCents int64, sourceType ledgerdomain.LedgerSourceType, sourceID string) (*ledgerdomain.Entry, error) {
	if amountCents <= 0 {
		return nil, ledgerdomain.ErrInvalidAmount
	}
	if err := validateSource(sourceType, sourceID); err != nil {
		return nil, err
	}

	result := tx.WithContext(ctx).Exec(
		`UPDATE customers SET balance_cents = balance_cents - ?, updated_at = ?
		 WHERE id = ? AND balance_cents >= ?`,
		amountCents, s.clock.Now().UTC(), customerID, amountCents,
	)
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		exists, err := customerExists(ctx, tx, customerID)
		if err != nil {
			return nil, err
		}
		if !exists {
			return nil, ledgerdomain.ErrCustomerNotFound
		}
		return nil, ledgerdomain.ErrInsufficientBalance
	}

	return s.appendEntry(ctx, tx, customerID, -amountCents, sourceType, sourceID)
}

func (s *Service) CreditTx(ctx context.Context, tx *gorm.DB, customerID snowflake.ID, amountCents int64, sourceType ledgerdomain.LedgerSourceType, sourceID string) (*ledgerdomain.Entry, error) {
	if amountCents <= 0 {
		return nil, ledgerdomain.ErrInvalidAmount
	}
	if err := validateSource(sourceType, sourceID); err != nil {
		return nil, err
	}

	result := tx.WithContext(ctx).Exec(
		`UPDATE customers SET balance_cents = balance_cents + ?, updated_at = ? WHERE id = ?`,
		amountCents, s.clock.Now().UTC(), customerID,
	)
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, ledgerdomain.ErrCustomerNotFound
	}

	return s.appendEntry(ctx, tx, customerID, amountCents, sourceType, sourceID)
}

func (s *Service) TopUp(ctx context.Context, customerID snowflake.ID, amountCents int64, reference string) (*ledgerdomain.Entry, error) {
	var entry *ledgerdomain.Entry
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		entry, err = s.CreditTx(ctx, tx, customerID, amountCents, ledgerdomain.SourceTypeTopUp, reference)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("balance topped up",
		zap.String("customer_id", customerID.String()),
		zap.Int64("amount_cents", amountCents),
		zap.Int64("balance_after", entry.BalanceAfter),
	)
	return entry, nil
}

func (s *Service) Balance(ctx context.Context, customerID snowflake.ID) (int64, error) {
	var row struct {
		ID           int64
		BalanceCents int64
	}
	if err := s.db.WithContext(ctx).Raw(
		`SELECT id, balance_cents FROM customers WHERE id = ?`,
		customerID,
	).Scan(&row).Error; err != nil {
		return 0, err
	}
	if row.ID == 0 {
		return 0, ledgerdomain.ErrCustomerNotFound
	}
	return row.BalanceCents, nil
}

func (s *Service) ListEntries(ctx context.Context, customerID snowflake.ID, limit int) ([]ledgerdomain.Entry, error) {
	if limit <= 0 || limit > 250 {
		limit = 50
	}
	var entries []ledgerdomain.Entry
	err := s.db.WithContext(ctx).Raw(
		`SELECT id, customer_id, source_type, source_id, amount_cents, balance_after, created_at
		 FROM ledger_entries WHERE customer_id = ?
		 ORDER BY created_at DESC, id DESC LIMIT ?`,
		customerID, limit,
	).Scan(&entries).Error
	if err != nil {
		return nil, err
	}
	return entries, nil
}

func (s *Service) appendEntry(ctx context.Context, tx *gorm.DB, customerID snowflake.ID, amountCents int64, sourceType ledgerdomain.LedgerSourceType, sourceID string) (*ledgerdomain.Entry, error) {
	var balance int64
	if err := tx.WithContext(ctx).Raw(
		`SELECT balance_cents FROM customers WHERE id = ?`,
		customerID,
	).Scan(&balance).Error; err != nil {
		return nil, err
	}

	entry := &ledgerdomain.Entry{
		ID:           s.genID.Generate(),
		CustomerID:   customerID,
		SourceType:   sourceType,
		SourceID:     sourceID,
		AmountCents:  amountCents,
		BalanceAfter: balance,
		CreatedAt:    s.clock.Now().UTC(),
	}
	err := tx.WithContext(ctx).Exec(
		`INSERT INTO ledger_entries (id, customer_id, source_type, source_id, amount_cents, balance_after, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		entry.ID,
		entry.CustomerID,
		string(entry.SourceType),
		entry.SourceID,
		entry.AmountCents,
		entry.BalanceAfter,
		entry.CreatedAt,
	).Error
	if err != nil {
		if db.IsDuplicateKeyErr(err) {
			return nil, ledgerdomain.ErrDuplicateEntry
		}
		return nil, err
	}
	return entry, nil
}

func validateSource(sourceType ledgerdomain.LedgerSourceType, sourceID string) error {
	switch sourceType {
	case ledgerdomain.SourceTypeOrder, ledgerdomain.SourceTypeTopUp, ledgerdomain.SourceTypeRefund:
	default:
		return ledgerdomain.ErrInvalidSource
	}
	if strings.TrimSpace(sourceID) == "" {
		return ledgerdomain.ErrInvalidSource
	}
	return nil
}

func customerExists(ctx context.Context, tx *gorm.DB, customerID snowflake.ID) (bool, error) {
	var count int64
	if err := tx.WithContext(ctx).Raw(
		`SELECT COUNT(*) FROM customers WHERE id = ?`,
		customerID,
	).Scan(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// IsDuplicate reports whether err means the movement was already recorded.
func IsDuplicate(err error) bool {
	return errors.Is(err, ledgerdomain.ErrDuplicateEntry)
}
