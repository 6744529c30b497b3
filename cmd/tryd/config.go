package main

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/buildmill/tryd/pkg/utils"
	"gopkg.in/yaml.v3"
)

const (
	// DefaultPollInterval is how often the jobdir scheduler scans its
	// mailbox when the configuration does not say otherwise.
	DefaultPollInterval = 2 * time.Second

	// DefaultBuildTimeout bounds a single builder command.
	DefaultBuildTimeout = 10 * time.Minute
)

// Duration is a time.Duration that unmarshals from the usual "2s"/"10m"
// notation in YAML.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	err := value.Decode(&s)
	if err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration '%s': %s", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Config holds the configuration values tryd needs in order to function.
type Config struct {
	Addr string

	// Jobdir is the mailbox root the jobdir scheduler watches. Empty
	// disables the jobdir path.
	Jobdir string `yaml:"jobdir"`

	PollInterval Duration `yaml:"poll_interval"`

	// Builders maps builder names to the shell command each builder
	// runs. The key set is the scheduler whitelist.
	Builders map[string]string `yaml:"builders"`

	// Credentials maps usernames to passwords for the userpass
	// scheduler.
	Credentials map[string]string `yaml:"credentials"`

	BuildTimeout Duration `yaml:"build_timeout"`

	LogLevel string `yaml:"log_level"`
}

// ParseConfig accepts the listening address and a reader from which to
// parse the configuration, and returns a valid Config or an error. An
// empty addr disables the userpass scheduler.
func ParseConfig(addr string, r io.Reader) (*Config, error) {
	cfg := new(Config)
	cfg.Addr = addr

	dec := yaml.NewDecoder(r)
	err := dec.Decode(cfg)
	if err != nil && err != io.EOF {
		return nil, err
	}

	if cfg.PollInterval == 0 {
		cfg.PollInterval = Duration(DefaultPollInterval)
	}
	if cfg.BuildTimeout == 0 {
		cfg.BuildTimeout = Duration(DefaultBuildTimeout)
	}

	if len(cfg.Builders) == 0 {
		return nil, errors.New("at least one builder must be configured")
	}
	if cfg.Addr == "" && cfg.Jobdir == "" {
		return nil, errors.New("no ingestion path configured; set addr or jobdir")
	}
	if cfg.Addr != "" && len(cfg.Credentials) == 0 {
		return nil, errors.New("the userpass scheduler needs credentials")
	}
	if cfg.Jobdir != "" {
		err = utils.PathIsDir(cfg.Jobdir)
		if err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// BuilderNames returns the configured builder whitelist in stable order.
func (cfg *Config) BuilderNames() []string {
	names := make([]string, 0, len(cfg.Builders))
	for name := range cfg.Builders {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
