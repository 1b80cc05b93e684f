package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/juliana/internal/config"
	"github.com/noah-isme/juliana/internal/pricing"
)

func baseEnv() map[string]string {
	return map[string]string{
		"API_URL":  "http://backend.test/rpc/",
		"EVENT_ID": "7",
		"CATALOG":  "1:Grolsch:170, 2:Cola:170,3:Chips:100",
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := config.LoadForTests(baseEnv())
	require.NoError(t, err)

	require.Equal(t, int64(7), cfg.EventID)
	require.Equal(t, ":8080", cfg.HTTPAddr())
	require.Equal(t, 5*time.Second, cfg.RPCTimeout)
	require.Equal(t, 3*time.Second, cfg.PaymentCountdown)
	require.Equal(t, time.Second, cfg.CountdownInterval)
	require.Equal(t, time.Minute, cfg.PricingInterval)
	require.InDelta(t, 5.0, cfg.PricingDelta, 1e-9)
	require.InDelta(t, 0.5, cfg.PricingExponent, 1e-9)
	require.Equal(t, "ws://localhost:3000", cfg.ScannerURL)
	require.Equal(t, []string{config.DriverLog}, cfg.BroadcastDrivers)
	require.True(t, cfg.HasDriver(config.DriverLog))
	require.False(t, cfg.HasDriver(config.DriverRedis))
	require.Equal(t, []pricing.Product{
		{ID: 1, Name: "Grolsch", BasePrice: 170},
		{ID: 2, Name: "Cola", BasePrice: 170},
		{ID: 3, Name: "Chips", BasePrice: 100},
	}, cfg.Products)
}

func TestLoadPricingOverrides(t *testing.T) {
	env := baseEnv()
	env["PRICING_DELTA"] = "0.10"
	env["PRICING_DYNAMIC"] = "1:25:300,2:20:300"
	env["PRICING_LINKS"] = "2>1"
	env["PORT"] = ":9000"

	cfg, err := config.LoadForTests(env)
	require.NoError(t, err)
	require.InDelta(t, 10.0, cfg.PricingDelta, 1e-9)
	require.Equal(t, []pricing.DynamicProduct{{ID: 1, Floor: 25, Ceiling: 300}, {ID: 2, Floor: 20, Ceiling: 300}}, cfg.DynamicProducts)
	require.Equal(t, []pricing.PriceLink{{Dependent: 2, Anchor: 1}}, cfg.PriceLinks)
	require.Equal(t, ":9000", cfg.HTTPAddr())
}

func TestLoadRequiresBackend(t *testing.T) {
	env := baseEnv()
	env["API_URL"] = ""
	_, err := config.LoadForTests(env)
	require.Error(t, err)

	env = baseEnv()
	env["EVENT_ID"] = "zero"
	_, err = config.LoadForTests(env)
	require.Error(t, err)
}

func TestLoadBroadcastDrivers(t *testing.T) {
	env := baseEnv()
	env["BROADCAST_DRIVERS"] = "log,redis"
	_, err := config.LoadForTests(env)
	require.Error(t, err)

	env["REDIS_URL"] = "redis://localhost:6379/0"
	cfg, err := config.LoadForTests(env)
	require.NoError(t, err)
	require.True(t, cfg.HasDriver(config.DriverRedis))

	env["BROADCAST_DRIVERS"] = "kafka"
	_, err = config.LoadForTests(env)
	require.Error(t, err)
}

func TestParseCatalogRejectsMalformedEntries(t *testing.T) {
	for _, value := range []string{"1:Beer", "x:Beer:100", "1::100", "1:Beer:-5", "0:Beer:10"} {
		_, err := config.ParseCatalog(value)
		require.ErrorIs(t, err, config.ErrInvalidCatalog, value)
	}

	products, err := config.ParseCatalog("")
	require.NoError(t, err)
	require.Empty(t, products)
}

func TestParseLinksAndDynamic(t *testing.T) {
	_, err := config.ParseLinks("2-1")
	require.ErrorIs(t, err, config.ErrInvalidCatalog)

	links, err := config.ParseLinks("2>1, 485>1")
	require.NoError(t, err)
	require.Equal(t, []pricing.PriceLink{{Dependent: 2, Anchor: 1}, {Dependent: 485, Anchor: 1}}, links)

	_, err = config.ParseDynamic("1:25")
	require.ErrorIs(t, err, config.ErrInvalidCatalog)
}
