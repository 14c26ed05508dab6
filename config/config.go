package config

import (
	"os"
	"runtime"
	"time"

	"github.com/alecthomas/kong"
	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
	"github.com/pkg/errors"
)

const (
	EnvVarPrefix = "IPFEX"

	DefaultOutputDir        = "extracted"
	DefaultProgressInterval = duration(2 * time.Second)

	MinWorkers          = 1
	MaxWorkers          = 64
	MinProgressInterval = duration(100 * time.Millisecond)
	MaxProgressInterval = duration(1 * time.Hour)
)

var (
	// VERSION gets set during build
	VERSION = "0.0.0"
)

type Config struct {
	CLI  *CLI
	TOML *TOML
}

type TOML struct {
	Config *TOMLConfig `toml:"config"`
}

type TOMLConfig struct {
	LogLevel         string   `toml:"log_level"`
	NumWorkers       int      `toml:"num_workers"`
	ProgressInterval duration `toml:"progress_interval"`
}

type CLI struct {
	Archive   string `kong:"arg,required,type='existingfile',help='IPF archive to extract'"`
	OutputDir string `kong:"arg,optional,default='extracted',help='Directory to extract into'"`
	Workers   int    `kong:"arg,optional,help='Worker count (default: min(8, CPUs))'"`

	ConfigFile    string `kong:"help='Path to an optional TOML config file',type='path',short='c'"`
	WriteManifest string `kong:"help='Write a SHA-256 manifest of the output directory',type='path'"`
	CheckManifest string `kong:"help='Verify the output directory against a manifest',type='path'"`

	Verbose bool             `kong:"help='Log one line per entry instead of a progress meter',short='v'"`
	Debug   bool             `kong:"help='Enable debug output',short='d'"`
	Quiet   bool             `kong:"help='Disable showing settings banner',short='q'"`
	Version kong.VersionFlag `help:"Show version and exit" env:"-"`

	// Internal bits
	Ctx *kong.Context `kong:"-"`
}

func NewConfig() (*Config, error) {
	// Attempt to load .env
	_ = godotenv.Load(".env")

	cli, err := readCLIArgs()
	if err != nil {
		return nil, errors.Wrap(err, "error parsing CLI args")
	}

	tomlConfig, err := readTOML(cli.ConfigFile)
	if err != nil {
		return nil, errors.Wrap(err, "error reading config file")
	}

	if err := validateTOML(tomlConfig); err != nil {
		return nil, errors.Wrap(err, "error validating TOML config")
	}

	return &Config{
		CLI:  cli,
		TOML: tomlConfig,
	}, nil
}

// Workers resolves the effective worker count: the CLI positional wins,
// then the TOML file, then min(8, CPUs).
func (c *Config) Workers() int {
	if c.CLI.Workers > 0 {
		return c.CLI.Workers
	}

	if c.TOML.Config.NumWorkers > 0 {
		return c.TOML.Config.NumWorkers
	}

	return min(8, runtime.NumCPU())
}

// ProgressInterval resolves the minimum time between progress lines.
func (c *Config) ProgressInterval() time.Duration {
	return time.Duration(c.TOML.Config.ProgressInterval)
}

func setTOMLDefaults(t *TOML) error {
	if t == nil {
		return errors.New("toml config cannot be nil")
	}

	if t.Config == nil {
		t.Config = &TOMLConfig{}
	}

	// NumWorkers 0 means auto-detect, resolved in Workers()

	if t.Config.ProgressInterval == 0 {
		t.Config.ProgressInterval = DefaultProgressInterval
	}

	return nil
}

func Validate(c *Config) error {
	if err := validateCLIArgs(c.CLI); err != nil {
		return errors.Wrap(err, "error validating CLI args")
	}

	if err := validateTOML(c.TOML); err != nil {
		return errors.Wrap(err, "error validating toml config")
	}

	return nil
}

func validateTOML(t *TOML) error {
	if t == nil {
		return errors.New("toml config cannot be nil")
	}

	// Validate [config]
	if err := validateTOMLConfig(t.Config); err != nil {
		return errors.Wrap(err, "config error(s)")
	}

	return nil
}

func validateTOMLConfig(c *TOMLConfig) error {
	if c == nil {
		return errors.New("config cannot be empty")
	}

	if c.NumWorkers != 0 && (c.NumWorkers < MinWorkers || c.NumWorkers > MaxWorkers) {
		return errors.Errorf("config.num_workers must be between %d and %d", MinWorkers, MaxWorkers)
	}

	if c.ProgressInterval < MinProgressInterval || c.ProgressInterval > MaxProgressInterval {
		return errors.Errorf("config.progress_interval must be between %s and %s", time.Duration(MinProgressInterval), time.Duration(MaxProgressInterval))
	}

	return nil
}

func readCLIArgs() (*CLI, error) {
	cli := &CLI{}
	cli.Ctx = kong.Parse(cli,
		kong.Name("ipfex"),
		kong.Description("Parallel extractor for Granado Espada IPF archives"),
		kong.UsageOnError(),
		kong.DefaultEnvars(EnvVarPrefix),
		kong.ConfigureHelp(kong.HelpOptions{
			Compact: true,
			Summary: true,
		}),
		kong.Vars{
			"version": VERSION,
		})

	if err := validateCLIArgs(cli); err != nil {
		return nil, errors.Wrap(err, "error validating args")
	}

	return cli, nil
}

func readTOML(file string) (*TOML, error) {
	tomlConfig := &TOML{}

	// The config file is optional; CLI args and defaults carry a normal
	// run.
	if file == "" {
		if err := setTOMLDefaults(tomlConfig); err != nil {
			return nil, errors.Wrap(err, "error setting TOML defaults")
		}

		return tomlConfig, nil
	}

	data, err := os.ReadFile(file)
	if err != nil {
		return nil, errors.Wrap(err, "error reading file")
	}

	if err := toml.Unmarshal(data, tomlConfig); err != nil {
		return nil, errors.Wrap(err, "error parsing TOML config")
	}

	// Set defaults
	if err := setTOMLDefaults(tomlConfig); err != nil {
		return nil, errors.Wrap(err, "error setting TOML defaults")
	}

	// Validate loaded config
	if err := validateTOML(tomlConfig); err != nil {
		return nil, errors.Wrap(err, "error validating TOML config")
	}

	return tomlConfig, nil
}

func validateCLIArgs(cli *CLI) error {
	if cli == nil {
		return errors.New("config cannot be nil")
	}

	if cli.Workers < 0 {
		return errors.New("worker count must be a positive integer")
	}

	if cli.Workers > MaxWorkers {
		return errors.Errorf("worker count must be at most %d", MaxWorkers)
	}

	return nil
}

// Copied from https://www.kelche.co/blog/go/toml/
type duration time.Duration

func (d duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d *duration) UnmarshalText(text []byte) error {
	dur, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = duration(dur)
	return nil
}
