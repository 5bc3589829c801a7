package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/guregu/null/v6"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// LPConfig holds the application configuration
type LPConfig struct {
	Server         string `mapstructure:"server"`
	User           string `mapstructure:"user"`
	Port           int    `mapstructure:"port"`
	Insecure       bool   `mapstructure:"insecure"`
	CAPath         string `mapstructure:"capath"`
	CAFile         string `mapstructure:"cafile"`
	OrganizationID int64  `mapstructure:"organization_id"`
	LocationID     int64  `mapstructure:"location_id"` // 0 means no location scoping

	Output    string `mapstructure:"output"`
	Verbosity int    `mapstructure:"verbosity"`
	LogLevel  string `mapstructure:"log_level"`

	Poll struct {
		MaxStale int           `mapstructure:"max_stale"`
		Interval time.Duration `mapstructure:"interval"`
	} `mapstructure:"poll"`

	Job struct {
		TemplateCategory string `mapstructure:"template_category"`
		TemplateName     string `mapstructure:"template_name"`
		Command          string `mapstructure:"command"`
	} `mapstructure:"job"`

	History struct {
		Driver string `mapstructure:"driver"`
		DSN    string `mapstructure:"dsn"`
		Limit  int    `mapstructure:"limit"`
	} `mapstructure:"history"`

	// File is the config file that was read, empty when none was found
	File string `mapstructure:"-"`
}

// flagKeys maps configuration keys onto the command line flags that can set them
var flagKeys = map[string]string{
	"server":          "server",
	"user":            "user",
	"port":            "port",
	"insecure":        "insecure",
	"capath":          "capath",
	"cafile":          "cafile",
	"organization_id": "organization-id",
	"location_id":     "location-id",
	"output":          "output",
	"verbosity":       "verbose",
	"poll.max_stale":  "max-stale",
	"poll.interval":   "poll-interval",
}

// LoadConfig reads the configuration from a file or environment variables
func LoadConfig(configPaths ...string) (*LPConfig, error) {
	return Load(nil, configPaths...)
}

// Load reads the configuration with, from lowest to highest precedence: defaults, the first
// config file found, LP_* environment variables and flags that were set on the command line.
// Missing config files are not an error.
func Load(flags *pflag.FlagSet, configPaths ...string) (*LPConfig, error) {
	// can specify config path from environment
	if path, exists := os.LookupEnv("LP_CONFIG_PATH"); exists {
		configPaths = append(configPaths, path)
	}

	v := newViper()
	if err := bindFlags(v, flags); err != nil {
		return nil, err
	}

	found := false
	for _, path := range configPaths {
		fi, err := os.Stat(path)
		if errors.Is(err, os.ErrNotExist) {
			continue
		} else if err != nil {
			return nil, err
		}

		mode := fi.Mode()
		switch {
		case mode.IsRegular():
			v.SetConfigFile(path)
		case mode.IsDir():
			v.AddConfigPath(path)
			v.SetConfigName("config")
			v.SetConfigType("yaml")
		default:
			continue
		}

		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if errors.As(err, &notFound) {
				continue
			}
			return nil, fmt.Errorf("could not read config %s: %w", path, err)
		}
		found = true
		break
	}

	if !found {
		// finally read from current working directory
		v.AddConfigPath(".")
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("could not read config: %w", err)
			}
		}
	}

	var config LPConfig
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("could not unmarshal config: %w", err)
	}
	config.File = v.ConfigFileUsed()

	return &config, nil
}

func newViper() *viper.Viper {
	v := viper.New()

	// Satellite defaults
	v.SetDefault("server", "")
	v.SetDefault("user", "")
	v.SetDefault("port", 443)
	v.SetDefault("insecure", false)
	v.SetDefault("capath", "")
	v.SetDefault("cafile", "")
	v.SetDefault("organization_id", 1)
	v.SetDefault("location_id", 0)

	// Report defaults
	v.SetDefault("output", "/tmp/last_patch.csv")
	v.SetDefault("verbosity", 0)
	v.SetDefault("log_level", "warn")

	// Poller defaults
	v.SetDefault("poll.max_stale", 15)
	v.SetDefault("poll.interval", time.Second)

	// Remote job defaults
	v.SetDefault("job.template_category", "Commands")
	v.SetDefault("job.template_name", "Run Command - Script Default")
	v.SetDefault("job.command", "rpm -qa --last")

	// History defaults, an empty dsn disables the run ledger
	v.SetDefault("history.driver", "sqlite")
	v.SetDefault("history.dsn", "")
	v.SetDefault("history.limit", 20)

	v.SetEnvPrefix("LP")                               // Prefix for environment variables
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_")) // Replace dots with underscores in env vars
	v.AutomaticEnv()                                   // Read environment variables

	return v
}

func bindFlags(v *viper.Viper, flags *pflag.FlagSet) error {
	if flags == nil {
		return nil
	}

	for key, name := range flagKeys {
		flag := flags.Lookup(name)
		if flag == nil {
			continue
		}
		if err := v.BindPFlag(key, flag); err != nil {
			return fmt.Errorf("could not bind flag --%s: %w", name, err)
		}
	}
	return nil
}

// Validate checks the settings every mode needs before any network activity
func (c *LPConfig) Validate() error {
	var errs []error

	if strings.TrimSpace(c.Server) == "" {
		errs = append(errs, errors.New("server is required"))
	}

	if c.User == "" {
		errs = append(errs, errors.New("user is required"))
	} else if user, _, ok := strings.Cut(c.User, ":"); !ok || user == "" {
		errs = append(errs, errors.New("user must be given as user:password"))
	}

	if c.Port < 1 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d is out of range", c.Port))
	}

	if c.Poll.MaxStale < 1 {
		errs = append(errs, errors.New("poll.max_stale must be >= 1"))
	}

	if c.Poll.Interval < 0 {
		errs = append(errs, errors.New("poll.interval must be >= 0"))
	}

	if c.LocationID < 0 {
		errs = append(errs, errors.New("location_id must be >= 0"))
	}

	errs = append(errs, c.validateDriver())

	return errors.Join(errs...)
}

// ValidateHistory checks the settings needed to read the run ledger, which needs no server
func (c *LPConfig) ValidateHistory() error {
	var errs []error
	if !c.HistoryEnabled() {
		errs = append(errs, errors.New("history.dsn is required to show the run history"))
	}
	if c.History.Limit < 1 {
		errs = append(errs, errors.New("history.limit must be >= 1"))
	}
	errs = append(errs, c.validateDriver())
	return errors.Join(errs...)
}

func (c *LPConfig) validateDriver() error {
	switch c.History.Driver {
	case "sqlite", "pgx":
		return nil
	default:
		return fmt.Errorf("history.driver %q is not one of sqlite, pgx", c.History.Driver)
	}
}

// Credentials splits the user setting into user name and password. The password may itself
// contain colons.
func (c *LPConfig) Credentials() (user, password string) {
	user, password, _ = strings.Cut(c.User, ":")
	return user, password
}

// Location returns the location scoping of new jobs, invalid when none was configured
func (c *LPConfig) Location() null.Int {
	if c.LocationID <= 0 {
		return null.Int{}
	}
	return null.IntFrom(c.LocationID)
}

// HistoryEnabled reports whether runs are recorded in the local ledger
func (c *LPConfig) HistoryEnabled() bool {
	return strings.TrimSpace(c.History.DSN) != ""
}
