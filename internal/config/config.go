package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	App    AppConfig    `mapstructure:"app"`
	Server ServerConfig `mapstructure:"server"`
	Log    LogConfig    `mapstructure:"log"`
	DB     DBConfig     `mapstructure:"db"`
	Cron   CronConfig   `mapstructure:"cron"`
	Bridge BridgeConfig `mapstructure:"bridge"`
	Sync   SyncConfig   `mapstructure:"sync"`
	Rebate RebateConfig `mapstructure:"rebate"`
	Cache  CacheConfig  `mapstructure:"cache"`
}

type AppConfig struct {
	Env string `mapstructure:"env"`
}

type ServerConfig struct {
	HTTPAddr string `mapstructure:"http_addr"`
}

type LogConfig struct {
	Level             string `mapstructure:"level"`
	Encoding          string `mapstructure:"encoding"`
	Development       bool   `mapstructure:"development"`
	Sampling          bool   `mapstructure:"sampling"`
	DisableCaller     bool   `mapstructure:"disable_caller"`
	DisableStacktrace bool   `mapstructure:"disable_stacktrace"`
}

type DBConfig struct {
	// Driver is "postgres" or "memory".
	Driver          string        `mapstructure:"driver"`
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	Timezone        string        `mapstructure:"timezone"`
}

type CronConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	AccountSync string `mapstructure:"account_sync"`
	RebateCalc  string `mapstructure:"rebate_calc"`
}

type BridgeConfig struct {
	BaseURL              string        `mapstructure:"base_url"`
	APIKey               string        `mapstructure:"api_key"`
	Timeout              time.Duration `mapstructure:"timeout"`
	MaxRetries           int           `mapstructure:"max_retries"`
	RetryInitialInterval time.Duration `mapstructure:"retry_initial_interval"`
}

type SyncConfig struct {
	Workers      int           `mapstructure:"workers"`
	AccountDelay time.Duration `mapstructure:"account_delay"`
	LookbackDays int           `mapstructure:"lookback_days"`
	// TransferPolicy is "exclude" or "as_withdrawal".
	TransferPolicy string `mapstructure:"transfer_policy"`
}

type RebateConfig struct {
	AutoApprove bool `mapstructure:"auto_approve"`
}

type CacheConfig struct {
	// Backend is "memory" or "redis".
	Backend       string        `mapstructure:"backend"`
	TTL           time.Duration `mapstructure:"ttl"`
	RedisAddr     string        `mapstructure:"redis_addr"`
	RedisPassword string        `mapstructure:"redis_password"`
	RedisDB       int           `mapstructure:"redis_db"`
}

func Load(path string, envOnly bool) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("FIDUS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.AutomaticEnv()
	v.SetDefault("app.env", "dev")
	v.SetDefault("server.http_addr", ":8080")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.encoding", "console")
	v.SetDefault("log.development", true)
	v.SetDefault("log.sampling", false)
	v.SetDefault("log.disable_caller", false)
	v.SetDefault("log.disable_stacktrace", false)
	v.SetDefault("db.driver", "postgres")
	v.SetDefault("db.dsn", "")
	v.SetDefault("db.max_open_conns", 20)
	v.SetDefault("db.max_idle_conns", 5)
	v.SetDefault("db.conn_max_lifetime", "30m")
	v.SetDefault("db.conn_max_idle_time", "5m")
	v.SetDefault("db.timezone", "UTC")
	v.SetDefault("cron.enabled", true)
	v.SetDefault("cron.account_sync", "@every 5m")
	// 02:00 on the first day of each month: rebates for the previous month.
	v.SetDefault("cron.rebate_calc", "0 0 2 1 * *")

	v.SetDefault("bridge.base_url", "http://localhost:8000")
	v.SetDefault("bridge.api_key", "")
	v.SetDefault("bridge.timeout", "30s")
	v.SetDefault("bridge.max_retries", 0)
	v.SetDefault("bridge.retry_initial_interval", "1s")

	v.SetDefault("sync.workers", 1)
	v.SetDefault("sync.account_delay", "500ms")
	v.SetDefault("sync.lookback_days", 90)
	v.SetDefault("sync.transfer_policy", "exclude")

	v.SetDefault("rebate.auto_approve", false)

	v.SetDefault("cache.backend", "memory")
	v.SetDefault("cache.ttl", "30s")
	v.SetDefault("cache.redis_addr", "")
	v.SetDefault("cache.redis_password", "")
	v.SetDefault("cache.redis_db", 0)

	if !envOnly {
		if err := v.ReadInConfig(); err != nil {
			return Config{}, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}
