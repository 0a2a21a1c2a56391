package seed

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
	plandomain "github.com/smallbiznis/simstore/internal/plan/domain"
	"gopkg.in/yaml.v3"
)

var (
	ErrEmptyCatalog = errors.New("seed_empty_catalog")
	ErrInvalidEntry = errors.New("seed_invalid_entry")
)

// catalogFile is the on-disk plan catalog:
//
//	plans:
//	  - code: US-3GB-15D
//	    name: United States 3 GB
//	    retail_usd_cents: 1850
//	    provider_price_units: 98000
//	    data: 3GiB
//	    duration_days: 15
type catalogFile struct {
	Plans []catalogEntry `yaml:"plans"`
}

type catalogEntry struct {
	Code               string `yaml:"code"`
	Name               string `yaml:"name"`
	RetailUSDCents     int64  `yaml:"retail_usd_cents"`
	ProviderPriceUnits int64  `yaml:"provider_price_units"`
	Data               string `yaml:"data"`
	DurationDays       int    `yaml:"duration_days"`
	Active             *bool  `yaml:"active"`
}

// ParseCatalog decodes a YAML plan catalog. Entries default to active.
func ParseCatalog(data []byte) ([]plandomain.Plan, error) {
	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}
	if len(file.Plans) == 0 {
		return nil, ErrEmptyCatalog
	}

	seen := make(map[string]struct{}, len(file.Plans))
	plans := make([]plandomain.Plan, 0, len(file.Plans))
	for i, entry := range file.Plans {
		code := strings.TrimSpace(entry.Code)
		if code == "" {
			return nil, fmt.Errorf("%w: plans[%d] has no code", ErrInvalidEntry, i)
		}
		if _, dup := seen[code]; dup {
			return nil, fmt.Errorf("%w: duplicate code %s", ErrInvalidEntry, code)
		}
		seen[code] = struct{}{}

		var dataBytes uint64
		if raw := strings.TrimSpace(entry.Data); raw != "" {
			parsed, err := humanize.ParseBytes(raw)
			if err != nil {
				return nil, fmt.Errorf("%w: %s data %q: %v", ErrInvalidEntry, code, raw, err)
			}
			dataBytes = parsed
		}
		if entry.DurationDays < 0 {
			return nil, fmt.Errorf("%w: %s duration_days is negative", ErrInvalidEntry, code)
		}

		active := true
		if entry.Active != nil {
			active = *entry.Active
		}
		plans = append(plans, plandomain.Plan{
			Code:               code,
			Name:               strings.TrimSpace(entry.Name),
			RetailUSDCents:     entry.RetailUSDCents,
			ProviderPriceUnits: entry.ProviderPriceUnits,
			DataBytes:          int64(dataBytes),
			DurationDays:       entry.DurationDays,
			Active:             active,
		})
	}
	return plans, nil
}

// EnsurePlans upserts every catalog plan and returns how many were written.
// Plans missing from the catalog are left untouched.
func EnsurePlans(ctx context.Context, plans plandomain.Service, catalog []plandomain.Plan) (int, error) {
	if plans == nil {
		return 0, errors.New("seed plan service is required")
	}
	written := 0
	for _, plan := range catalog {
		if _, err := plans.Upsert(ctx, plan); err != nil {
			return written, fmt.Errorf("upsert %s: %w", plan.Code, err)
		}
		written++
	}
	return written, nil
}
