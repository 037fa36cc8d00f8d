package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type AppConfig struct {
	App       AppSettings       `mapstructure:"app"`
	X402      X402Settings      `mapstructure:"x402"`
	OSINT     OSINTSettings     `mapstructure:"osint"`
	CDP       CDPSettings       `mapstructure:"cdp"`
	Admin     AdminSettings     `mapstructure:"admin"`
	RateLimit RateLimitSettings `mapstructure:"rate_limit"`
}

type AppSettings struct {
	Name           string   `mapstructure:"name"`
	Env            string   `mapstructure:"env"`
	Host           string   `mapstructure:"host"`
	Port           int      `mapstructure:"port"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// X402Settings configures the payment gate for the paid search route.
type X402Settings struct {
	Price          string `mapstructure:"price"`
	Network        string `mapstructure:"network"`
	PayTo          string `mapstructure:"pay_to"`
	FacilitatorURL string `mapstructure:"facilitator_url"`
}

// OSINTSettings configures the upstream intelligence-lookup collaborator.
type OSINTSettings struct {
	APIURL   string        `mapstructure:"api_url"`
	APIToken string        `mapstructure:"api_token"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// CDPSettings holds the server-side credentials for the custodial
// settlement relay. All three secrets must be present for the relay to work.
type CDPSettings struct {
	APIKeyID     string `mapstructure:"api_key_id"`
	APIKeySecret string `mapstructure:"api_key_secret"`
	WalletSecret string `mapstructure:"wallet_secret"`
	SettleHost   string `mapstructure:"settle_host"`
	SettlePath   string `mapstructure:"settle_path"`
}

type AdminSettings struct {
	SessionSecret string `mapstructure:"session_secret"`
}

// RateLimitSettings configures the two limiter tiers. The paid tier guards
// the x402-gated search route; the anonymous tier is the strict fallback.
type RateLimitSettings struct {
	PaidMaxRequests      int           `mapstructure:"paid_max_requests"`
	PaidWindow           time.Duration `mapstructure:"paid_window"`
	AnonymousMaxRequests int           `mapstructure:"anonymous_max_requests"`
	AnonymousWindow      time.Duration `mapstructure:"anonymous_window"`
	SweepInterval        time.Duration `mapstructure:"sweep_interval"`
}

func Load() (*AppConfig, error) {
	v := viper.New()

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetEnvPrefix("X402")

	setDefaults(v)

	if err := bindEnvs(v, []string{
		"app.name",
		"app.env",
		"app.host",
		"app.port",
		"app.allowed_origins",
		"x402.price",
		"x402.network",
		"x402.pay_to",
		"x402.facilitator_url",
		"osint.api_url",
		"osint.api_token",
		"osint.timeout",
		"cdp.api_key_id",
		"cdp.api_key_secret",
		"cdp.wallet_secret",
		"cdp.settle_host",
		"cdp.settle_path",
		"admin.session_secret",
		"rate_limit.paid_max_requests",
		"rate_limit.paid_window",
		"rate_limit.anonymous_max_requests",
		"rate_limit.anonymous_window",
		"rate_limit.sweep_interval",
	}); err != nil {
		return nil, err
	}

	v.AutomaticEnv()

	var cfg AppConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "x402new")
	v.SetDefault("app.env", "development")
	v.SetDefault("app.host", "0.0.0.0")
	v.SetDefault("app.port", 8080)
	v.SetDefault("app.allowed_origins", []string{"*"})

	// USDC on Base mainnet by default; the payTo fallback mirrors the
	// project's historical receiver address.
	v.SetDefault("x402.price", "$0.15")
	v.SetDefault("x402.network", "eip155:8453")
	v.SetDefault("x402.pay_to", "0x69D51B18C1EfE88A9302a03A60127d98eD3D307D")
	v.SetDefault("x402.facilitator_url", "")

	v.SetDefault("osint.api_url", "https://leakosintapi.com/")
	v.SetDefault("osint.api_token", "")
	v.SetDefault("osint.timeout", "30s")

	v.SetDefault("cdp.api_key_id", "")
	v.SetDefault("cdp.api_key_secret", "")
	v.SetDefault("cdp.wallet_secret", "")
	v.SetDefault("cdp.settle_host", "api.cdp.coinbase.com")
	v.SetDefault("cdp.settle_path", "/platform/v2/x402/settle")

	v.SetDefault("admin.session_secret", "")

	v.SetDefault("rate_limit.paid_max_requests", 30)
	v.SetDefault("rate_limit.paid_window", "24h")
	v.SetDefault("rate_limit.anonymous_max_requests", 5)
	v.SetDefault("rate_limit.anonymous_window", "24h")
	v.SetDefault("rate_limit.sweep_interval", "5m")
}

func bindEnvs(v *viper.Viper, keys []string) error {
	for _, key := range keys {
		envKey := strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, "X402_"+envKey, envKey); err != nil {
			return fmt.Errorf("bind env for %s: %w", key, err)
		}
	}
	return nil
}
