package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds the process settings the engine consumes. Credentials are
// not part of the settings file; they come from the environment
// (HLM_DATABASE_USER / HLM_DATABASE_PASS), standing in for the OS-level
// credential store the service wrapper provides.
type Config struct {
	CA      CASettings   `mapstructure:"channel_access"`
	DB      DBSettings   `mapstructure:"database"`
	Loop    LoopSettings `mapstructure:"import_loop"`
	Logging LogSettings  `mapstructure:"logging"`
	HTTP    HTTPSettings `mapstructure:"http"`
}

type CASettings struct {
	AddressList       string  `mapstructure:"address_list"`       // space-separated host[:port]
	ConnectionTimeout float64 `mapstructure:"connection_timeout"` // seconds
	StaleAfter        float64 `mapstructure:"stale_after"`        // seconds
	AddStalePVs       bool    `mapstructure:"add_stale_pvs"`
	PVPrefix          string  `mapstructure:"pv_prefix"`
	PVDomain          string  `mapstructure:"pv_domain"`
}

type DBSettings struct {
	Driver string `mapstructure:"driver"` // mysql|postgres|sqlite
	Host   string `mapstructure:"host"`
	Name   string `mapstructure:"name"`
	User   string `mapstructure:"user"`
	Pass   string `mapstructure:"pass"`
}

type LoopSettings struct {
	LoopTimer   float64 `mapstructure:"loop_timer"` // seconds
	RecordsFile string  `mapstructure:"records_file"`
}

type LogSettings struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	File   string `mapstructure:"file"`
}

type HTTPSettings struct {
	Listen string `mapstructure:"listen"` // status server; empty disables it
}

// Load reads settings from path (optional) and the HLM_* environment.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("HLM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Every key needs a default so AutomaticEnv can see it.
	v.SetDefault("channel_access.address_list", "")
	v.SetDefault("channel_access.connection_timeout", 2.0)
	v.SetDefault("channel_access.stale_after", 7200.0)
	v.SetDefault("channel_access.add_stale_pvs", false)
	v.SetDefault("channel_access.pv_prefix", "")
	v.SetDefault("channel_access.pv_domain", "")
	v.SetDefault("database.driver", "mysql")
	v.SetDefault("database.host", "")
	v.SetDefault("database.name", "")
	v.SetDefault("database.user", "")
	v.SetDefault("database.pass", "")
	v.SetDefault("import_loop.loop_timer", 5.0)
	v.SetDefault("import_loop.records_file", "pv_records.json")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.file", "")
	v.SetDefault("http.listen", "")

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read settings %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal settings: %w", err)
	}

	// GUI-written settings sometimes carry the delimiter already.
	cfg.CA.PVPrefix = strings.TrimSuffix(cfg.CA.PVPrefix, ":")
	cfg.CA.PVDomain = strings.TrimSuffix(cfg.CA.PVDomain, ":")
	return &cfg, nil
}

func (c CASettings) Timeout() time.Duration {
	return time.Duration(c.ConnectionTimeout * float64(time.Second))
}

func (c CASettings) StaleThreshold() time.Duration {
	return time.Duration(c.StaleAfter * float64(time.Second))
}

func (c CASettings) Addresses() []string {
	return strings.Fields(c.AddressList)
}

// FullName prepends the configured prefix and domain to a PV short name.
// Translation is purely lexical and colon-delimited.
func (c CASettings) FullName(short string) string {
	parts := make([]string, 0, 3)
	if c.PVPrefix != "" {
		parts = append(parts, c.PVPrefix)
	}
	if c.PVDomain != "" {
		parts = append(parts, c.PVDomain)
	}
	parts = append(parts, short)
	return strings.Join(parts, ":")
}

// ShortName strips the configured prefix and domain from a PV full name.
// ShortName(FullName(s)) == s for any s.
func (c CASettings) ShortName(full string) string {
	s := full
	if c.PVPrefix != "" {
		s = strings.TrimPrefix(s, c.PVPrefix+":")
	}
	if c.PVDomain != "" {
		s = strings.TrimPrefix(s, c.PVDomain+":")
	}
	return s
}

func (l LoopSettings) Timer() time.Duration {
	return time.Duration(l.LoopTimer * float64(time.Second))
}

// DSN assembles the connection string for the configured driver, keeping
// the database package independent of the settings layout.
func (d DBSettings) DSN() string {
	switch d.Driver {
	case "mysql":
		return fmt.Sprintf("%s:%s@tcp(%s:3306)/%s?parseTime=true&charset=utf8mb4&loc=Local",
			d.User, d.Pass, d.Host, d.Name)
	case "postgres":
		return fmt.Sprintf("postgres://%s:%s@%s:5432/%s?sslmode=disable",
			d.User, d.Pass, d.Host, d.Name)
	case "sqlite":
		return d.Name
	default:
		return ""
	}
}
