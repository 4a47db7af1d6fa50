// File: internal/config/config_test.go
package config_test

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/caliper-cli/internal/config"
)

func TestNewDefaultConfig(t *testing.T) {
	t.Parallel()

	cfg := config.NewDefaultConfig()
	require.NotNil(t, cfg)

	assert.Equal(t, "info", cfg.Logger.Level)
	assert.Equal(t, "console", cfg.Logger.Format)
	assert.True(t, cfg.Browser.Headless)
	assert.True(t, cfg.Browser.DisableCache)
	assert.Equal(t, 1366, cfg.Browser.Viewport.Width)
	assert.Equal(t, 90*time.Second, cfg.Network.NavigationTimeout)
	assert.Equal(t, 2*time.Second, cfg.Network.SettleWait)
	assert.Equal(t, 2*time.Second, cfg.Vitals.SettleWait)
	assert.Equal(t, 10*time.Second, cfg.Vitals.ObserverWait)
	assert.True(t, cfg.Vitals.AllowFallback)
	assert.False(t, cfg.Profile.Enabled)
	assert.Equal(t, "json", cfg.Report.Format)
	assert.False(t, cfg.Store.Enabled)

	assert.NoError(t, cfg.Validate(), "defaults must validate")
}

func TestConfigFromViperOverrides(t *testing.T) {
	t.Parallel()

	v := viper.New()
	config.SetDefaults(v)
	v.Set("browser.headless", false)
	v.Set("network.navigation_timeout", "10s")
	v.Set("budgets.global", map[string]interface{}{"LCP": 2500.0, "CLS": 0.1})

	cfg, err := config.NewConfigFromViper(v)
	require.NoError(t, err)

	assert.False(t, cfg.Browser.Headless)
	assert.Equal(t, 10*time.Second, cfg.Network.NavigationTimeout)
	assert.Equal(t, 2500.0, cfg.Budgets.Global["LCP"])
	assert.Equal(t, 0.1, cfg.Budgets.Global["CLS"])
}

func TestValidateRejectsBadValues(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name    string
		mutate  func(*config.Config)
		wantErr string
	}{
		{
			name:    "zero navigation timeout",
			mutate:  func(c *config.Config) { c.Network.NavigationTimeout = 0 },
			wantErr: "navigation_timeout",
		},
		{
			name:    "bad report format",
			mutate:  func(c *config.Config) { c.Report.Format = "xml" },
			wantErr: "report.format",
		},
		{
			name:    "store enabled without url",
			mutate:  func(c *config.Config) { c.Store.Enabled = true },
			wantErr: "database_url",
		},
		{
			name: "negative budget",
			mutate: func(c *config.Config) {
				c.Budgets.Global = map[string]float64{"LCP": -1}
			},
			wantErr: "must not be negative",
		},
		{
			name: "profiler interval too small",
			mutate: func(c *config.Config) {
				c.Profile.Enabled = true
				c.Profile.SampleInterval = time.Millisecond
			},
			wantErr: "sample_interval",
		},
		{
			name:    "zero viewport",
			mutate:  func(c *config.Config) { c.Browser.Viewport.Width = 0 },
			wantErr: "viewport",
		},
	}

	for _, tc := range testCases {
		tt := tc
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := config.NewDefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
