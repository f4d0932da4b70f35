package config

import (
	"errors"
	"log"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// BillingConfig holds the institution-wide charging defaults. Individual
// invoices may override the rates; the negotiation ceiling is global.
type BillingConfig struct {
	FineRatePercent        string `mapstructure:"fineRatePercent"`
	MonthlyInterestPercent string `mapstructure:"monthlyInterestPercent"`
	MaxInstallments        int    `mapstructure:"maxInstallments"`
	ReferencePrefix        string `mapstructure:"referencePrefix"`
}

func DefaultBillingConfig() BillingConfig {
	return BillingConfig{
		FineRatePercent:        "2",
		MonthlyInterestPercent: "1",
		MaxInstallments:        24,
		ReferencePrefix:        "TUI",
	}
}

// FineRate returns the default fine percentage as a decimal.
func (c BillingConfig) FineRate() decimal.Decimal {
	return mustDecimal(c.FineRatePercent, "2")
}

// MonthlyInterest returns the default monthly interest percentage as a decimal.
func (c BillingConfig) MonthlyInterest() decimal.Decimal {
	return mustDecimal(c.MonthlyInterestPercent, "1")
}

func mustDecimal(raw, fallback string) decimal.Decimal {
	d, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		d = decimal.RequireFromString(fallback)
	}
	return d
}

type BillingConfigHolder struct {
	current atomic.Value // holds BillingConfig
}

func NewBillingConfigHolder() (*BillingConfigHolder, error) {
	v := viper.New()

	v.SetConfigName("billing")
	v.SetConfigType("yml")
	v.AddConfigPath("/var/lib/campusbill/config") // Volume-mounted config
	v.AddConfigPath("/etc/campusbill")            // System config
	v.AddConfigPath(".")                          // Current directory (dev mode)

	v.SetEnvPrefix("CAMPUSBILL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		defaults := DefaultBillingConfig()
		v.SetDefault("billing.fineRatePercent", defaults.FineRatePercent)
		v.SetDefault("billing.monthlyInterestPercent", defaults.MonthlyInterestPercent)
		v.SetDefault("billing.maxInstallments", defaults.MaxInstallments)
		v.SetDefault("billing.referencePrefix", defaults.ReferencePrefix)
	}

	var cfg BillingConfig
	if err := v.UnmarshalKey("billing", &cfg); err != nil {
		return nil, err
	}
	if err := validateBillingConfig(cfg); err != nil {
		return nil, err
	}

	holder := &BillingConfigHolder{}
	holder.current.Store(cfg)

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated BillingConfig
		if err := v.UnmarshalKey("billing", &updated); err != nil {
			log.Printf("[billing-config] reload failed: %v", err)
			return
		}
		if err := validateBillingConfig(updated); err != nil {
			log.Printf("[billing-config] invalid config ignored: %v", err)
			return
		}
		holder.current.Store(updated)
		log.Printf("[billing-config] reloaded from %s", e.Name)
	})

	return holder, nil
}

// NewStaticBillingConfigHolder returns a holder pinned to cfg, without file
// watching. Used by tests and tooling.
func NewStaticBillingConfigHolder(cfg BillingConfig) *BillingConfigHolder {
	holder := &BillingConfigHolder{}
	holder.current.Store(cfg)
	return holder
}

func (h *BillingConfigHolder) Get() BillingConfig {
	return h.current.Load().(BillingConfig)
}

func validateBillingConfig(cfg BillingConfig) error {
	if _, err := decimal.NewFromString(strings.TrimSpace(cfg.FineRatePercent)); err != nil {
		return errors.New("billing.fineRatePercent must be a decimal percentage")
	}
	if _, err := decimal.NewFromString(strings.TrimSpace(cfg.MonthlyInterestPercent)); err != nil {
		return errors.New("billing.monthlyInterestPercent must be a decimal percentage")
	}
	if cfg.MaxInstallments < 1 {
		return errors.New("billing.maxInstallments must be at least 1")
	}
	if strings.TrimSpace(cfg.ReferencePrefix) == "" {
		return errors.New("billing.referencePrefix is required")
	}
	return nil
}
