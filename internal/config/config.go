package config

import (
	"errors"
	"io/fs"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/subosito/gotenv"
)

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
		Addr string
	} `mapstructure:"http"`

	Storage struct {
		Driver string // postgres | memory
	} `mapstructure:"storage"`

	Postgres struct {
		DSN string
	} `mapstructure:"postgres"`

	Metrics struct {
		Enabled bool
	} `mapstructure:"metrics"`

	Inventory struct {
		DefaultLocation  string `mapstructure:"default_location"`
		SupportedCycles  []int  `mapstructure:"supported_cycles"`
		CriticalMonths   int    `mapstructure:"critical_months"`
		ProjectionMonths int    `mapstructure:"projection_months"`
		// 0 — перечитывать справочник только после своих записей
		ResolverRefresh time.Duration `mapstructure:"resolver_refresh"`
	} `mapstructure:"inventory"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.env", "prod")
	v.SetDefault("app.timezone", "UTC")
	v.SetDefault("http.addr", ":8080")
	v.SetDefault("storage.driver", "postgres")
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("inventory.default_location", "BODEGA")
	v.SetDefault("inventory.supported_cycles", []int{6, 12, 18, 24})
	v.SetDefault("inventory.critical_months", 4)
	v.SetDefault("inventory.projection_months", 6)
	v.SetDefault("inventory.resolver_refresh", time.Minute)
}

// Load читает YAML; .env рядом с бинарником (если есть) подгружается раньше,
// чтобы APP_POSTGRES_DSN и APP_TELEGRAM_TOKEN не лежали в репозитории.
func Load(path string) (Config, error) {
	if err := gotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, err
	}

	v := viper.New()
	v.SetConfigFile(path)
	setDefaults(v)
	// APP_POSTGRES_DSN перекрывает postgres.dsn
	v.SetEnvPrefix("APP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var c Config
	if err := v.ReadInConfig(); err != nil {
		return c, err
	}
	if err := v.Unmarshal(&c); err != nil {
		return c, err
	}
	return c, c.validate()
}

func (c Config) validate() error {
	switch c.Storage.Driver {
	case "postgres":
		if c.Postgres.DSN == "" {
			return errors.New("config: postgres.dsn is required for storage.driver=postgres")
		}
	case "memory":
	default:
		return errors.New("config: storage.driver must be postgres or memory")
	}
	if c.Inventory.CriticalMonths < 0 {
		return errors.New("config: inventory.critical_months must be >= 0")
	}
	if c.Inventory.ProjectionMonths <= 0 {
		return errors.New("config: inventory.projection_months must be > 0")
	}
	if c.Inventory.ResolverRefresh < 0 {
		return errors.New("config: inventory.resolver_refresh must be >= 0")
	}
	for _, cycle := range c.Inventory.SupportedCycles {
		if cycle <= 0 {
			return errors.New("config: inventory.supported_cycles must be positive")
		}
	}
	return nil
}
