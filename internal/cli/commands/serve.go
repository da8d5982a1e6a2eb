package commands

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/conduit-lang/resourcekit/internal/app"
	"github.com/conduit-lang/resourcekit/internal/config"
	"github.com/conduit-lang/resourcekit/internal/logging"
)

// serveFlags maps serve flags onto configuration keys
var serveFlags = map[string]string{
	"port":      "server.port",
	"host":      "server.host",
	"prefix":    "server.api_prefix",
	"resources": "resources.file",
	"driver":    "storage.driver",
	"dsn":       "storage.dsn",
	"redis":     "events.redis.addr",
	"stream":    "events.stream",
	"log-level": "log.level",
	"dev":       "log.development",
}

// NewServeCommand creates the serve command
func NewServeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the declared resources over HTTP",
		Long: `Load the configuration and resource declarations and serve the JSON:API.

Flags override resourcekit.yaml, which overrides RESOURCEKIT_* environment
variables and the defaults.

Examples:
  resourcekit serve
  resourcekit serve --port 9000 --prefix /api
  resourcekit serve --driver sqlite --dsn ./data.db
  resourcekit serve --redis localhost:6379 --stream`,
		Args: cobra.NoArgs,
		RunE: runServe,
	}

	flags := cmd.Flags()
	flags.IntP("port", "p", 0, "Port to listen on (default 8080)")
	flags.String("host", "", "Host to listen on (default localhost)")
	flags.String("prefix", "", "API path prefix, e.g. /api")
	flags.StringP("resources", "r", "", "Resource declarations file (default resources.yaml)")
	flags.String("driver", "", "Storage driver: memory, sqlite or postgres")
	flags.String("dsn", "", "Storage data source name")
	flags.String("redis", "", "Redis address to publish events to")
	flags.Bool("stream", false, "Serve the WebSocket event stream at /events")
	flags.String("log-level", "", "Log level: debug, info, warn or error")
	flags.Bool("dev", false, "Human-readable development logging")

	return cmd
}

// loadConfig reads the configuration with the command's flags bound over it
func loadConfig(flags *pflag.FlagSet, bindings map[string]string) (*config.Config, error) {
	v := config.New(configFile)
	if err := bindFlags(v, flags, bindings); err != nil {
		return nil, err
	}
	return config.FromViper(v)
}

func bindFlags(v *viper.Viper, flags *pflag.FlagSet, bindings map[string]string) error {
	for name, key := range bindings {
		flag := flags.Lookup(name)
		if flag == nil {
			continue
		}
		if err := v.BindPFlag(key, flag); err != nil {
			return fmt.Errorf("failed to bind --%s: %w", name, err)
		}
	}
	return nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd.Flags(), serveFlags)
	if err != nil {
		return err
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		return err
	}
	defer logger.Sync()

	a, err := app.New(cmd.Context(), cfg, logger)
	if err != nil {
		return err
	}

	printBanner(cmd, cfg)
	logger.Info("starting resourcekit",
		zap.String("addr", cfg.Server.Addr()),
		zap.String("storage", cfg.Storage.Driver),
		zap.String("resources", cfg.Resources.File),
	)
	return a.Serve(cmd.Context())
}

func printBanner(cmd *cobra.Command, cfg *config.Config) {
	out := cmd.OutOrStdout()
	successColor := color.New(color.FgGreen, color.Bold)
	infoColor := color.New(color.FgCyan)

	base := "http://" + cfg.Server.Addr()
	successColor.Fprintf(out, "✓ Serving %s\n", cfg.Resources.File)
	infoColor.Fprintf(out, "  API:    %s%s\n", base, cfg.Server.APIPrefix)
	infoColor.Fprintf(out, "  Health: %s%s\n", base, app.HealthPath)
	if cfg.Events.Stream {
		infoColor.Fprintf(out, "  Events: ws://%s%s\n", cfg.Server.Addr(), app.EventsPath)
	}
	if cfg.Events.Redis.Addr != "" {
		infoColor.Fprintf(out, "  Redis:  %s (%s:*)\n", cfg.Events.Redis.Addr, cfg.Events.Redis.ChannelPrefix)
	}
}
