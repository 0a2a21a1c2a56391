package config

import (
	"errors"
	"log"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// StorefrontConfig carries the pricing defaults used when the settings
// table has no override.
type StorefrontConfig struct {
	MarkupPercent     int64            `mapstructure:"markupPercent"`
	CommissionPercent int64            `mapstructure:"commissionPercent"`
	MinChargeUSDCents int64            `mapstructure:"minChargeUSDCents"`
	MockMode          bool             `mapstructure:"mockMode"`
	SettingsCacheTTL  time.Duration    `mapstructure:"settingsCacheTTL"`
	SKUOverrides      map[string]int64 `mapstructure:"skuOverrides"`
	GuestEmailDomain  string           `mapstructure:"guestEmailDomain"`
}

func DefaultStorefrontConfig() StorefrontConfig {
	return StorefrontConfig{
		MarkupPercent:     30,
		CommissionPercent: 10,
		MinChargeUSDCents: 50,
		MockMode:          false,
		SettingsCacheTTL:  time.Minute,
		SKUOverrides:      map[string]int64{},
		GuestEmailDomain:  "guest.simstore.local",
	}
}

type StorefrontConfigHolder struct {
	current atomic.Value // holds StorefrontConfig
}

// NewStaticStorefrontConfigHolder returns a holder that never reloads.
func NewStaticStorefrontConfigHolder(cfg StorefrontConfig) *StorefrontConfigHolder {
	holder := &StorefrontConfigHolder{}
	holder.current.Store(cfg)
	return holder
}

func NewStorefrontConfigHolder() (*StorefrontConfigHolder, error) {
	v := viper.New()

	v.SetConfigName("storefront")
	v.SetConfigType("yml")
	v.AddConfigPath("/etc/simstore")
	v.AddConfigPath(".")

	v.SetEnvPrefix("SIMSTORE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultStorefrontConfig()
	v.SetDefault("storefront.markupPercent", defaults.MarkupPercent)
	v.SetDefault("storefront.commissionPercent", defaults.CommissionPercent)
	v.SetDefault("storefront.minChargeUSDCents", defaults.MinChargeUSDCents)
	v.SetDefault("storefront.mockMode", defaults.MockMode)
	v.SetDefault("storefront.settingsCacheTTL", defaults.SettingsCacheTTL)
	v.SetDefault("storefront.guestEmailDomain", defaults.GuestEmailDomain)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var cfg StorefrontConfig
	if err := v.UnmarshalKey("storefront", &cfg); err != nil {
		return nil, err
	}
	if err := validateStorefrontConfig(cfg); err != nil {
		return nil, err
	}

	holder := &StorefrontConfigHolder{}
	holder.current.Store(cfg)

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated StorefrontConfig
		if err := v.UnmarshalKey("storefront", &updated); err != nil {
			log.Printf("[storefront-config] reload failed: %v", err)
			return
		}
		if err := validateStorefrontConfig(updated); err != nil {
			log.Printf("[storefront-config] invalid config ignored: %v", err)
			return
		}
		holder.current.Store(updated)
		log.Printf("[storefront-config] reloaded from %s", e.Name)
	})

	return holder, nil
}

func (h *StorefrontConfigHolder) Get() StorefrontConfig {
	return h.current.Load().(StorefrontConfig)
}

func validateStorefrontConfig(cfg StorefrontConfig) error {
	if cfg.MarkupPercent < 0 {
		return errors.New("storefront.markupPercent cannot be negative")
	}
	if cfg.CommissionPercent < 0 || cfg.CommissionPercent > 100 {
		return errors.New("storefront.commissionPercent must be between 0 and 100")
	}
	if cfg.MinChargeUSDCents < 0 {
		return errors.New("storefront.minChargeUSDCents cannot be negative")
	}
	if cfg.SettingsCacheTTL <= 0 {
		return errors.New("storefront.settingsCacheTTL must be positive")
	}
	for sku, cents := range cfg.SKUOverrides {
		if cents <= 0 {
			return errors.New("storefront.skuOverrides." + sku + " must be positive")
		}
	}
	return nil
}
