package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig
	Redis    RedisConfig
	Postgres PostgresConfig
	Booking  BookingConfig
	Group    GroupConfig
	Provider ProviderConfig
	Ticket   TicketConfig
	Mail     MailConfig
	Rates    RatesConfig
	Networks []Network
}

type ServerConfig struct {
	Port int `mapstructure:"port"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
}

type PostgresConfig struct {
	DSN string `mapstructure:"dsn"`
}

// BookingConfig tunes the single-offer poller and the reservation retry job.
type BookingConfig struct {
	PollIntervalSec int64 `mapstructure:"poll_interval_sec"`
	MaxPollFailures int   `mapstructure:"max_poll_failures"`
}

// GroupConfig tunes the group booking pipeline.
type GroupConfig struct {
	DepositPercentage int64 `mapstructure:"deposit_percentage"`
	InitialDelaySec   int64 `mapstructure:"initial_delay_sec"`
	BackoffSec        int64 `mapstructure:"backoff_sec"`
	MaxAttempts       int   `mapstructure:"max_attempts"`
	Concurrency       int   `mapstructure:"concurrency"`
}

// ProviderConfig holds the hotel provider proxy and the guarantee (travel
// account) service credentials.
type ProviderConfig struct {
	ProxyURL     string `mapstructure:"proxy_url"`
	ClientJWT    string `mapstructure:"client_jwt"`
	GuaranteeURL string `mapstructure:"guarantee_url"`
	GuaranteeJWT string `mapstructure:"guarantee_jwt"`
	ReceiverOrg  string `mapstructure:"receiver_org"`
}

type TicketConfig struct {
	BaseURL     string `mapstructure:"base_url"`
	Email       string `mapstructure:"email"`
	APIToken    string `mapstructure:"api_token"`
	ProjectID   string `mapstructure:"project_id"`
	IssueTypeID string `mapstructure:"issue_type_id"`
	Disabled    bool   `mapstructure:"disabled"`
}

type MailConfig struct {
	APIKey            string `mapstructure:"api_key"`
	From              string `mapstructure:"from"`
	BookingTemplateID string `mapstructure:"booking_template_id"`
	GroupTemplateID   string `mapstructure:"group_template_id"`
	OverrideRecipient string `mapstructure:"override_recipient"`
}

type RatesConfig struct {
	BaseURL string `mapstructure:"base_url"`
	JWT     string `mapstructure:"jwt"`
}

// Network describes one allowed settlement network. A payment for a subject
// may land on any configured network; the orchestrator checks all of them.
type Network struct {
	Name            string  `mapstructure:"name"`
	ChainID         int64   `mapstructure:"chain_id"`
	RPCURL          string  `mapstructure:"rpc_url"`
	ContractAddress string  `mapstructure:"contract_address"`
	Assets          []Asset `mapstructure:"assets"`
}

// Asset maps an on-chain token address to the fiat currency it is pegged to.
type Asset struct {
	Address  string `mapstructure:"address"`
	Symbol   string `mapstructure:"symbol"`
	Currency string `mapstructure:"currency"`
	Decimals int    `mapstructure:"decimals"`
	Native   bool   `mapstructure:"native"`
}

func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Booking.PollIntervalSec) * time.Second
}

func Load() (*Config, error) {
	v := viper.New()

	// Defaults
	v.SetDefault("server.port", 8080)
	v.SetDefault("redis.addr", "redis:6379")
	v.SetDefault("booking.poll_interval_sec", 5)
	v.SetDefault("booking.max_poll_failures", 100)
	v.SetDefault("group.deposit_percentage", 10)
	v.SetDefault("group.initial_delay_sec", 30)
	v.SetDefault("group.backoff_sec", 120)
	v.SetDefault("group.max_attempts", 180)
	v.SetDefault("group.concurrency", 3)

	// Config file (networks live here; everything else may come from env)
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/app")
	_ = v.ReadInConfig()

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Explicit env bindings
	bindings := map[string]string{
		"server.port":               "PORT",
		"redis.addr":                "REDIS_ADDR",
		"redis.password":            "REDIS_PASSWORD",
		"postgres.dsn":              "POSTGRES_DSN",
		"booking.poll_interval_sec": "POLL_INTERVAL_SEC",
		"booking.max_poll_failures": "MAX_POLL_FAILURES",
		"group.deposit_percentage":  "GROUP_DEPOSIT_PERCENTAGE",
		"group.max_attempts":        "GROUP_MAX_ATTEMPTS",
		"provider.proxy_url":        "PROVIDER_PROXY_URL",
		"provider.client_jwt":       "PROVIDER_CLIENT_JWT",
		"provider.guarantee_url":    "GUARANTEE_URL",
		"provider.guarantee_jwt":    "GUARANTEE_JWT",
		"provider.receiver_org":     "GUARANTEE_RECEIVER_ORG",
		"ticket.base_url":           "TICKET_BASE_URL",
		"ticket.email":              "TICKET_EMAIL",
		"ticket.api_token":          "TICKET_API_TOKEN",
		"ticket.project_id":         "TICKET_PROJECT_ID",
		"ticket.issue_type_id":      "TICKET_ISSUE_TYPE_ID",
		"ticket.disabled":           "TICKET_DISABLED",
		"mail.api_key":              "MAIL_API_KEY",
		"mail.from":                 "MAIL_FROM",
		"mail.booking_template_id":  "MAIL_BOOKING_TEMPLATE_ID",
		"mail.group_template_id":    "MAIL_GROUP_TEMPLATE_ID",
		"mail.override_recipient":   "MAIL_OVERRIDE_RECIPIENT",
		"rates.base_url":            "RATES_URL",
		"rates.jwt":                 "RATES_JWT",
	}
	for key, env := range bindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", env, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	return cfg, cfg.validate()
}

func (c *Config) validate() error {
	type req struct {
		val  string
		name string
	}
	for _, r := range []req{
		{c.Postgres.DSN, "POSTGRES_DSN"},
		{c.Provider.ProxyURL, "PROVIDER_PROXY_URL"},
		{c.Provider.ClientJWT, "PROVIDER_CLIENT_JWT"},
		{c.Provider.GuaranteeURL, "GUARANTEE_URL"},
		{c.Provider.GuaranteeJWT, "GUARANTEE_JWT"},
	} {
		if r.val == "" {
			return fmt.Errorf("required config missing: %s", r.name)
		}
	}
	if len(c.Networks) == 0 {
		return fmt.Errorf("at least one settlement network must be configured")
	}
	for _, n := range c.Networks {
		if n.RPCURL == "" || n.ContractAddress == "" || n.ChainID == 0 {
			return fmt.Errorf("network %q: rpc_url, contract_address and chain_id are required", n.Name)
		}
		if len(n.Assets) == 0 {
			return fmt.Errorf("network %q: at least one asset is required", n.Name)
		}
	}
	return nil
}
