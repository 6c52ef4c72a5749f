package config

import (
	"errors"
	"log"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// CreditPolicy holds the tunable knobs of the credit accounting model.
// It is file-backed with hot reload so operators can adjust thresholds
// without a restart.
type CreditPolicy struct {
	// LotRetentionMonths is how long purchased minutes stay usable.
	LotRetentionMonths int `mapstructure:"lotRetentionMonths"`
	// ExpiringSoonDays is the lookahead window for expiring-soon balances.
	ExpiringSoonDays int `mapstructure:"expiringSoonDays"`
	// PacingWarningPercent is the month-to-date usage percent that flips
	// the pacing warning on.
	PacingWarningPercent int `mapstructure:"pacingWarningPercent"`
}

func DefaultCreditPolicy() CreditPolicy {
	return CreditPolicy{
		LotRetentionMonths:   24,
		ExpiringSoonDays:     30,
		PacingWarningPercent: 75,
	}
}

type CreditPolicyHolder struct {
	current atomic.Value // holds CreditPolicy
}

func NewCreditPolicyHolder() (*CreditPolicyHolder, error) {
	v := viper.New()

	v.SetConfigName("credit_policy")
	v.SetConfigType("yml")
	v.AddConfigPath("/var/lib/creditdesk/config")
	v.AddConfigPath("/etc/creditdesk")
	v.AddConfigPath(".")

	v.SetEnvPrefix("CREDITDESK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultCreditPolicy()
	v.SetDefault("credits.lotRetentionMonths", defaults.LotRetentionMonths)
	v.SetDefault("credits.expiringSoonDays", defaults.ExpiringSoonDays)
	v.SetDefault("credits.pacingWarningPercent", defaults.PacingWarningPercent)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var policy CreditPolicy
	if err := v.UnmarshalKey("credits", &policy); err != nil {
		return nil, err
	}
	if err := validateCreditPolicy(policy); err != nil {
		return nil, err
	}

	holder := &CreditPolicyHolder{}
	holder.current.Store(policy)

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated CreditPolicy
		if err := v.UnmarshalKey("credits", &updated); err != nil {
			log.Printf("[credit-policy] reload failed: %v", err)
			return
		}
		if err := validateCreditPolicy(updated); err != nil {
			log.Printf("[credit-policy] invalid config ignored: %v", err)
			return
		}
		holder.current.Store(updated)
		log.Printf("[credit-policy] reloaded from %s", e.Name)
	})

	return holder, nil
}

// NewStaticCreditPolicyHolder returns a holder pinned to the given policy.
// Used by tests and callers that do not want file watching.
func NewStaticCreditPolicyHolder(policy CreditPolicy) *CreditPolicyHolder {
	holder := &CreditPolicyHolder{}
	holder.current.Store(policy)
	return holder
}

func (h *CreditPolicyHolder) Get() CreditPolicy {
	return h.current.Load().(CreditPolicy)
}

func validateCreditPolicy(policy CreditPolicy) error {
	if policy.LotRetentionMonths <= 0 {
		return errors.New("credits.lotRetentionMonths must be positive")
	}
	if policy.ExpiringSoonDays <= 0 {
		return errors.New("credits.expiringSoonDays must be positive")
	}
	if policy.PacingWarningPercent <= 0 || policy.PacingWarningPercent > 100 {
		return errors.New("credits.pacingWarningPercent must be within (0, 100]")
	}
	return nil
}
