package main

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

type Config struct {
	bind             string
	database         string
	envFile          string
	mirrorShapes     bool
	port             int
	prefix           string
	profile          bool
	reapInterval     time.Duration
	sessionTimeout   time.Duration
	shapeScale       float64
	shapes           string
	slackAppToken    string
	slackBotToken    string
	slackConnections int
	tlsCert          string
	tlsKey           string
	verbose          bool
	version          bool

	logger *zap.Logger
}

func (c *Config) validate() error {
	if (c.tlsCert == "") != (c.tlsKey == "") {
		return errors.New("both --tls-cert and --tls-key must be provided together")
	}
	if c.port < 1 || c.port > 65535 {
		return fmt.Errorf("invalid port (must be between 1-65535 inclusive): %d", c.port)
	}
	if (c.slackAppToken == "") != (c.slackBotToken == "") {
		return errors.New("both --slack-app-token and --slack-bot-token must be provided together")
	}
	if c.slackConnections < 1 {
		return fmt.Errorf("invalid slack connection count (must be at least 1): %d", c.slackConnections)
	}
	if c.shapeScale <= 0 {
		return fmt.Errorf("invalid shape scale (must be positive): %v", c.shapeScale)
	}
	if c.sessionTimeout <= 0 || c.reapInterval <= 0 {
		return errors.New("--session-timeout and --reap-interval must be positive")
	}
	return nil
}

func (c *Config) scheme() string {
	if c.tlsCert != "" && c.tlsKey != "" {
		return "https"
	}
	return "http"
}

func (c *Config) slackEnabled() bool {
	return c.slackAppToken != "" && c.slackBotToken != ""
}

// loadEnvFile reads KEY=value pairs into the environment. Variables that
// are already set win. A missing file is only an error when it was asked
// for explicitly.
func loadEnvFile(path string, explicit bool) error {
	if path == "" {
		return nil
	}
	err := godotenv.Load(path)
	if errors.Is(err, os.ErrNotExist) && !explicit {
		return nil
	}
	return err
}

// applyEnv copies TOWERBOX_* variables into every flag not set on the
// command line.
func applyEnv(flags *pflag.FlagSet, v *viper.Viper) {
	flags.VisitAll(func(f *pflag.Flag) {
		_ = v.BindPFlag(f.Name, f)
		_ = v.BindEnv(f.Name)
		if !f.Changed && v.IsSet(f.Name) {
			_ = flags.Set(f.Name, fmt.Sprintf("%v", v.Get(f.Name)))
		}
	})
}

func newCmd(cfg *Config) *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix("TOWERBOX")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	cmd := &cobra.Command{
		Use:           "towerbox",
		Short:         "A multiplayer tower stacking game, played from Slack or the browser.",
		Args:          cobra.ExactArgs(0),
		SilenceErrors: true,
		Version:       releaseVersion,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			fs := cmd.Flags()

			explicit := fs.Changed("env-file")
			if !explicit {
				if p, ok := os.LookupEnv("TOWERBOX_ENV_FILE"); ok {
					cfg.envFile, explicit = p, true
				}
			}
			if err := loadEnvFile(cfg.envFile, explicit); err != nil {
				return fmt.Errorf("load env file: %w", err)
			}

			applyEnv(fs, v)

			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.validate(); err != nil {
				return err
			}

			logger, err := newLogger(cfg.verbose)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()
			cfg.logger = logger

			return ServePage(cmd.Context(), cfg, args)
		},
	}

	fs := cmd.Flags()

	fs.SetNormalizeFunc(func(_ *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})

	fs.StringVarP(&cfg.bind, "bind", "b", "0.0.0.0", "address to bind to (env: TOWERBOX_BIND)")
	fs.StringVar(&cfg.database, "database", "", "path to sqlite score ledger, disabled if empty (env: TOWERBOX_DATABASE)")
	fs.StringVar(&cfg.envFile, "env-file", ".env", "file of KEY=value pairs to load into the environment (env: TOWERBOX_ENV_FILE)")
	fs.BoolVar(&cfg.mirrorShapes, "mirror-shapes", true, "add a mirrored copy of every shape (env: TOWERBOX_MIRROR_SHAPES)")
	fs.IntVarP(&cfg.port, "port", "p", 8080, "port to listen on (env: TOWERBOX_PORT)")
	fs.StringVar(&cfg.prefix, "prefix", "", "path to prepend to all URLs, for use behind reverse proxy (env: TOWERBOX_PREFIX)")
	fs.BoolVar(&cfg.profile, "profile", false, "register net/http/pprof handlers (env: TOWERBOX_PROFILE)")
	fs.DurationVar(&cfg.reapInterval, "reap-interval", time.Minute, "time between sweeps for idle games (env: TOWERBOX_REAP_INTERVAL)")
	fs.DurationVar(&cfg.sessionTimeout, "session-timeout", 24*time.Hour, "time before idle games are ended (env: TOWERBOX_SESSION_TIMEOUT)")
	fs.Float64Var(&cfg.shapeScale, "shape-scale", 3.0, "scale factor applied to loaded shapes (env: TOWERBOX_SHAPE_SCALE)")
	fs.StringVar(&cfg.shapes, "shapes", "", "path to a yaml or svg shape catalog, built-in shapes if empty (env: TOWERBOX_SHAPES)")
	fs.StringVar(&cfg.slackAppToken, "slack-app-token", "", "slack app-level token for socket mode (env: TOWERBOX_SLACK_APP_TOKEN)")
	fs.StringVar(&cfg.slackBotToken, "slack-bot-token", "", "slack bot token (env: TOWERBOX_SLACK_BOT_TOKEN)")
	fs.IntVar(&cfg.slackConnections, "slack-connections", 1, "number of concurrent socket mode connections (env: TOWERBOX_SLACK_CONNECTIONS)")
	fs.StringVar(&cfg.tlsCert, "tls-cert", "", "path to tls certificate (env: TOWERBOX_TLS_CERT)")
	fs.StringVar(&cfg.tlsKey, "tls-key", "", "path to tls keyfile (env: TOWERBOX_TLS_KEY)")
	fs.BoolVarP(&cfg.verbose, "verbose", "v", false, "display additional output (env: TOWERBOX_VERBOSE)")
	fs.BoolVarP(&cfg.version, "version", "V", false, "display version and exit (env: TOWERBOX_VERSION)")

	applyEnv(fs, v)

	cmd.CompletionOptions.HiddenDefaultCmd = true
	cmd.SetHelpCommand(&cobra.Command{Hidden: true})
	cmd.SetVersionTemplate("towerbox v{{.Version}}\n")

	cmd.SilenceErrors = true
	cmd.SilenceUsage = true

	return cmd
}
