package config

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	t.Setenv("FACILITATOR_URL", "https://facilitator.example.com/")
	t.Setenv("X402_PAY_TO", "0xMerchant")
	t.Setenv("FACILITATOR_TIMEOUT", "")
	t.Setenv("DB_HOST", "")
	t.Setenv("DB_DRIVER", "")

	cfg := LoadConfig()

	assert.Equal(t, "https://facilitator.example.com", cfg.FacilitatorURL)
	assert.Equal(t, 30*time.Second, cfg.FacilitatorTimeout)
	assert.Equal(t, "mysql", cfg.DBDriver)
	assert.Equal(t, 60, cfg.MaxTimeoutSeconds)
	assert.False(t, cfg.LedgerConfigured())
	require.NoError(t, cfg.Validate())
}

func TestLoadConfig_Overrides(t *testing.T) {
	t.Setenv("FACILITATOR_TIMEOUT", "5s")
	t.Setenv("X402_MAX_TIMEOUT_SECONDS", "120")
	t.Setenv("TRUSTED_PROXIES", "10.0.0.1, 10.0.0.2,")
	t.Setenv("DB_HOST", "db.internal")

	cfg := LoadConfig()

	assert.Equal(t, 5*time.Second, cfg.FacilitatorTimeout)
	assert.Equal(t, 120, cfg.MaxTimeoutSeconds)
	assert.Equal(t, []string{"10.0.0.1", "10.0.0.2"}, cfg.TrustedProxies)
	assert.True(t, cfg.LedgerConfigured())
}

func TestValidate_MissingRequired(t *testing.T) {
	cfg := &Config{DBDriver: "sqlite"}

	err := cfg.Validate()

	var cfgErr *ConfigurationError
	require.True(t, errors.As(err, &cfgErr))
	assert.Len(t, cfgErr.Missing, 3)
	assert.Contains(t, err.Error(), "FACILITATOR_URL")
	assert.Contains(t, err.Error(), "X402_PAY_TO")
}
