package rates

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/smallbiznis/simstore/internal/cache"
	"github.com/smallbiznis/simstore/internal/config"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

var (
	ErrUnknownCurrency  = errors.New("unknown_currency")
	ErrRatesUnavailable = errors.New("rates_unavailable")
)

// Source supplies FX rates quoted as units of currency per USD.
type Source interface {
	GetRate(ctx context.Context, currency string) (float64, error)
	// Convert turns reference cents into minor units of currency.
	Convert(ctx context.Context, usdCents int64, currency string) (int64, error)
	// ToReference turns minor units of currency into reference cents. A
	// positive rateHint (the rate at charge time) wins over the live rate.
	ToReference(ctx context.Context, amountMinor int64, currency string, rateHint float64) (int64, error)
}

type ratesPayload struct {
	Base     string             `json:"base"`
	BaseCode string             `json:"base_code"`
	Rates    map[string]float64 `json:"rates"`
}

// HTTPSource reads a JSON rate table and keeps it for ttl.
type HTTPSource struct {
	client *http.Client
	url    string
	ttl    time.Duration
	log    *zap.Logger
	cache  cache.Cache[string, map[string]float64]
	group  singleflight.Group
}

const tableKey = "USD"

func NewHTTPSource(cfg config.Config, log *zap.Logger) Source {
	ttl := time.Duration(cfg.Rates.TTLSeconds) * time.Second
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &HTTPSource{
		client: &http.Client{Timeout: 10 * time.Second},
		url:    cfg.Rates.URL,
		ttl:    ttl,
		log:    log.Named("rates"),
		cache:  cache.NewTTLCache[string, map[string]float64](),
	}
}

func (s *HTTPSource) GetRate(ctx context.Context, currency string) (float64, error) {
	currency = NormalizeCurrency(currency)
	if currency == ReferenceCurrency {
		return 1, nil
	}
	table, err := s.table(ctx)
	if err != nil {
		return 0, err
	}
	rate, ok := table[currency]
	if !ok || rate <= 0 {
		return 0, ErrUnknownCurrency
	}
	return rate, nil
}

func (s *HTTPSource) Convert(ctx context.Context, usdCents int64, currency string) (int64, error) {
	rate, err := s.GetRate(ctx, currency)
	if err != nil {
		return 0, err
	}
	return FromReference(usdCents, rate, currency), nil
}

func (s *HTTPSource) ToReference(ctx context.Context, amountMinor int64, currency string, rateHint float64) (int64, error) {
	rate := rateHint
	if rate <= 0 {
		var err error
		rate, err = s.GetRate(ctx, currency)
		if err != nil {
			return 0, err
		}
	}
	return ToReference(amountMinor, rate, currency), nil
}

func (s *HTTPSource) table(ctx context.Context) (map[string]float64, error) {
	if table, ok := s.cache.Get(tableKey); ok {
		return table, nil
	}

	v, err, _ := s.group.Do(tableKey, func() (interface{}, error) {
		if table, ok := s.cache.Get(tableKey); ok {
			return table, nil
		}
		table, err := s.fetch(ctx)
		if err != nil {
			return nil, err
		}
		s.cache.Set(tableKey, table, s.ttl)
		return table, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(map[string]float64), nil
}

func (s *HTTPSource) fetch(ctx context.Context) (map[string]float64, error) {
	if strings.TrimSpace(s.url) == "" {
		return nil, ErrRatesUnavailable
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRatesUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", ErrRatesUnavailable, resp.StatusCode)
	}

	var payload ratesPayload
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("%w: decode: %v", ErrRatesUnavailable, err)
	}
	base := NormalizeCurrency(payload.Base)
	if base == "" {
		base = NormalizeCurrency(payload.BaseCode)
	}
	if base != "" && base != ReferenceCurrency {
		return nil, fmt.Errorf("%w: unexpected base %s", ErrRatesUnavailable, base)
	}

	table := make(map[string]float64, len(payload.Rates))
	for code, rate := range payload.Rates {
		table[NormalizeCurrency(code)] = rate
	}
	s.log.Debug("rates refreshed", zap.Int("currencies", len(table)))
	return table, nil
}

// StaticSource serves a fixed table. Used for tests and local runs.
type StaticSource struct {
	Rates map[string]float64
	Err   error
}

func (s StaticSource) GetRate(_ context.Context, currency string) (float64, error) {
	if s.Err != nil {
		return 0, s.Err
	}
	currency = NormalizeCurrency(currency)
	if currency == ReferenceCurrency {
		return 1, nil
	}
	rate, ok := s.Rates[currency]
	if !ok || rate <= 0 {
		return 0, ErrUnknownCurrency
	}
	return rate, nil
}

func (s StaticSource) Convert(ctx context.Context, usdCents int64, currency string) (int64, error) {
	rate, err := s.GetRate(ctx, currency)
	if err != nil {
		return 0, err
	}
	return FromReference(usdCents, rate, currency), nil
}

func (s StaticSource) ToReference(ctx context.Context, amountMinor int64, currency string, rateHint float64) (int64, error) {
	rate := rateHint
	if rate <= 0 {
		var err error
		if rate, err = s.GetRate(ctx, currency); err != nil {
			return 0, err
		}
	}
	return ToReference(amountMinor, rate, currency), nil
}
