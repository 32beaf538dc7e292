package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/spf13/viper"
	"github.com/subosito/gotenv"

	"github.com/Spok95/resto-billing/internal/billing"
)

// DefaultPath is used when APP_CONFIG is not set.
const DefaultPath = "config/example.yaml"

type Config struct {
	App struct {
		Env      string
		Timezone string
	} `mapstructure:"app"`

	Telegram struct {
		Token       string
		AdminChatID int64 `mapstructure:"admin_chat_id"`
	} `mapstructure:"telegram"`

	HTTP struct {
		Addr       string
		AdminToken string `mapstructure:"admin_token"`
	} `mapstructure:"http"`

	Postgres struct {
		DSN string
	} `mapstructure:"postgres"`

	Metrics struct {
		Enabled bool
	} `mapstructure:"metrics"`

	Billing billing.Settings `mapstructure:"billing"`

	Scheduler struct {
		// Reconcile and Audit are cron specs; an empty Audit disables the job.
		Reconcile string
		Audit     string
	} `mapstructure:"scheduler"`
}

// Path returns the config file location from APP_CONFIG or DefaultPath.
func Path() string {
	if p := os.Getenv("APP_CONFIG"); p != "" {
		return p
	}
	return DefaultPath
}

// Load reads the YAML file at path. Variables from a .env file in the working
// directory are loaded first; APP_* variables override file values
// (APP_BILLING_GRACE_DAYS overrides billing.grace_days).
func Load(path string) (Config, error) {
	if err := gotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("APP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	var c Config
	if err := v.ReadInConfig(); err != nil {
		return c, err
	}
	if err := v.Unmarshal(&c); err != nil {
		return c, err
	}
	if err := c.Validate(); err != nil {
		return c, err
	}
	return c, nil
}

func setDefaults(v *viper.Viper) {
	d := billing.DefaultSettings()
	v.SetDefault("app.env", "prod")
	v.SetDefault("app.timezone", "UTC")
	v.SetDefault("telegram.token", "")
	v.SetDefault("telegram.admin_chat_id", 0)
	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.admin_token", "")
	v.SetDefault("postgres.dsn", "")
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("billing.trial_enabled", d.TrialEnabled)
	v.SetDefault("billing.trial_days", d.TrialDays)
	v.SetDefault("billing.trial_once", d.TrialOnce)
	v.SetDefault("billing.grace_days", d.GraceDays)
	v.SetDefault("billing.notify_trial_before_days", d.NotifyTrialBeforeDays)
	v.SetDefault("billing.notify_period_before_days", d.NotifyPeriodBeforeDays)
	v.SetDefault("billing.pro_period_days", d.ProPeriodDays)
	v.SetDefault("billing.workers", d.Workers)
	v.SetDefault("scheduler.reconcile", "0 3 * * *")
	v.SetDefault("scheduler.audit", "")
}

func (c Config) Validate() error {
	var errs []error
	if c.Postgres.DSN == "" {
		errs = append(errs, errors.New("postgres.dsn is required"))
	}
	if c.Scheduler.Reconcile == "" {
		errs = append(errs, errors.New("scheduler.reconcile is required"))
	}
	if err := c.Billing.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("billing: %w", err))
	}
	return errors.Join(errs...)
}
