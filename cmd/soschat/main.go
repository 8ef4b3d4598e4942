package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"strings"
	"syscall"
	"time"

	"soschat/internal/channel"
	"soschat/internal/config"
	"soschat/internal/domain"
	"soschat/internal/memory"
	"soschat/internal/tool"

	"github.com/spf13/cobra"
)

var (
	version    = "0.1.0"
	logger     *slog.Logger
	configPath string // overridable via --config flag
)

func main() {
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	root := &cobra.Command{
		Use:   "soschat",
		Short: "SOS Chatbot tool service",
		Long:  "soschat dispatches search, calculator, weather and news tool calls over HTTP, WebSocket and Telegram.",
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file (default: ~/.soschat/config.json)")

	root.AddCommand(initCmd())
	root.AddCommand(serveCmd())
	root.AddCommand(callCmd())
	root.AddCommand(toolsCmd())
	root.AddCommand(historyCmd())
	root.AddCommand(statusCmd())
	root.AddCommand(doctorCmd())
	root.AddCommand(configCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// resolveConfigPath returns the config path from --config flag or default.
func resolveConfigPath() string {
	if configPath != "" {
		return configPath
	}
	return config.DefaultConfigPath()
}

// loadConfig loads the config file, falling back to defaults (plus the
// environment overlay) when it does not exist.
func loadConfig() (*config.Config, error) {
	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err == nil {
		return cfg, nil
	}
	if _, statErr := os.Stat(config.ExpandPath(cfgPath)); statErr == nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger.Debug("config not found, using defaults", "path", cfgPath)
	cfg = config.Defaults()
	config.ApplyEnv(cfg)
	cfg.Audit.DBPath = config.ExpandPath(cfg.Audit.DBPath)
	return cfg, nil
}

// newLogger builds the process logger from config. The returned closer
// releases the log file, if any.
func newLogger(cfg config.GeneralConfig) (*slog.Logger, io.Closer, error) {
	var level slog.Level
	switch strings.ToLower(cfg.LogLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	var out io.Writer = os.Stderr
	var closer io.Closer = io.NopCloser(nil)
	if cfg.LogFile != "" {
		f, err := os.OpenFile(config.ExpandPath(cfg.LogFile), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file: %w", err)
		}
		out = io.MultiWriter(os.Stderr, f)
		closer = f
	}
	return slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: level})), closer, nil
}

// buildRegistry wires every tool handler from config. audit may be nil.
func buildRegistry(cfg *config.Config, audit domain.AuditRecorder, log *slog.Logger) (*tool.Registry, error) {
	client := tool.SharedHTTPClient(time.Duration(cfg.Tools.TimeoutSeconds) * time.Second)
	news := tool.NewNewsClient(tool.NewsConfig{
		Endpoint: cfg.Tools.News.Endpoint,
		APIKey:   cfg.Tools.News.APIKey,
		Client:   client,
	})

	return tool.NewRegistry(tool.RegistryConfig{
		Handlers: []domain.Handler{
			tool.NewWebSearchTool(tool.SearchConfig{
				Endpoint:       cfg.Tools.Search.Endpoint,
				DefaultResults: cfg.Tools.Search.DefaultResults,
				Client:         client,
			}),
			tool.NewCalculatorTool(tool.MathConfig{
				Endpoint:      cfg.Tools.Math.Endpoint,
				LocalFallback: cfg.Tools.Math.LocalFallback,
				Client:        client,
				Logger:        log,
			}),
			tool.NewWeatherTool(tool.WeatherConfig{
				GeocodeEndpoint:  cfg.Tools.Weather.GeocodeEndpoint,
				ForecastEndpoint: cfg.Tools.Weather.ForecastEndpoint,
				Client:           client,
			}),
			tool.NewNewsSearchTool(news),
			tool.NewHeadlinesTool(news),
		},
		Audit:  audit,
		Logger: log,
	})
}

// openAudit opens the audit store when enabled. It returns a nil store
// (and no error) when auditing is off.
func openAudit(cfg *config.Config, log *slog.Logger) (*memory.SQLiteStore, error) {
	if !cfg.Audit.Enabled {
		return nil, nil
	}
	store, err := memory.NewSQLiteStore(cfg.Audit.DBPath, log)
	if err != nil {
		return nil, fmt.Errorf("audit store: %w", err)
	}
	return store, nil
}

func initCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := config.ExpandPath(resolveConfigPath())
			if _, err := os.Stat(cfgPath); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", cfgPath)
			}
			if err := config.Save(cfgPath, config.Defaults()); err != nil {
				return err
			}
			logger.Info("initialized", "config", cfgPath)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config file")
	return cmd
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the tool server (HTTP, WebSocket, Telegram)",
		Long:  "Serves POST /tools and the optional WebSocket and Telegram surfaces. Press Ctrl+C to stop.",
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log, closer, err := newLogger(cfg.General)
	if err != nil {
		return err
	}
	defer closer.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var audit domain.AuditRecorder
	store, err := openAudit(cfg, log)
	if err != nil {
		return err
	}
	if store != nil {
		defer store.Close()
		audit = store
		go pruneLoop(ctx, store, cfg.Audit.RetentionDays, log)
	}

	reg, err := buildRegistry(cfg, audit, log)
	if err != nil {
		return err
	}
	if cfg.Tools.News.APIKey == "" {
		log.Warn("NEWS_API_KEY is not set; news and headlines will fail")
	}

	if cfg.Telegram.Enabled {
		tg := channel.NewTelegram(channel.TelegramConfig{
			Token:      cfg.Telegram.Token,
			AllowFrom:  cfg.Telegram.AllowFrom,
			ParseMode:  cfg.Telegram.ParseMode,
			Dispatcher: reg,
			Logger:     log,
		})
		go func() {
			if err := tg.Start(ctx); err != nil {
				log.Error("telegram channel error", "err", err)
			}
		}()
		log.Info("telegram channel enabled")
	}

	metricsPath := ""
	if cfg.Server.MetricsEnabled {
		metricsPath = cfg.Server.MetricsPath
	}
	srv := channel.NewToolsServer(channel.ToolsServerConfig{
		Host:        cfg.Server.Host,
		Port:        cfg.Server.Port,
		APIKey:      cfg.Server.APIKey,
		MetricsPath: metricsPath,
		WSPath:      cfg.Server.WSPath,
		Dispatcher:  reg,
		Logger:      log,
	})
	log.Info("soschat started", "version", version, "tools", len(reg.Names()))

	if err := srv.Start(ctx); err != nil {
		return fmt.Errorf("tools server: %w", err)
	}
	log.Info("shutdown complete")
	return nil
}

// pruneLoop applies audit retention at startup and then daily.
func pruneLoop(ctx context.Context, store *memory.SQLiteStore, retentionDays int, log *slog.Logger) {
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()
	for {
		if _, err := store.Prune(ctx, retentionDays); err != nil && ctx.Err() == nil {
			log.Warn("audit prune failed", "err", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func callCmd() *cobra.Command {
	var (
		rawParams []string
		rawJSON   string
	)
	cmd := &cobra.Command{
		Use:   "call <tool>",
		Short: "Dispatch one tool call and print the envelope",
		Example: `  soschat call calculate --param input="2^10"
  soschat call weather --json '{"location":"Lisbon"}'`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			var audit domain.AuditRecorder
			store, err := openAudit(cfg, logger)
			if err != nil {
				return err
			}
			if store != nil {
				defer store.Close()
				audit = store
			}
			reg, err := buildRegistry(cfg, audit, logger)
			if err != nil {
				return err
			}
			var schema map[string]any
			if h := reg.Get(domain.ToolName(args[0])); h != nil {
				schema = h.Parameters()
			}
			params, err := parseParams(rawParams, rawJSON, schema)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			res := reg.Dispatch(domain.WithRequestID(ctx, "cli"), args[0], params)

			data, _ := json.MarshalIndent(res.Envelope(), "", "  ")
			fmt.Fprintln(cmd.OutOrStdout(), string(data))
			if !res.OK() {
				return fmt.Errorf("tool %s failed", args[0])
			}
			return nil
		},
	}
	cmd.Flags().StringArrayVarP(&rawParams, "param", "p", nil, "parameter as key=value (repeatable)")
	cmd.Flags().StringVar(&rawJSON, "json", "", "parameters as a JSON object")
	cmd.SilenceUsage = true
	return cmd
}

// parseParams merges --json and --param values; --param wins on conflicts.
// Values are typed from the tool's parameter schema so they match what
// JSON clients send; string parameters are passed through verbatim.
func parseParams(pairs []string, rawJSON string, schema map[string]any) (domain.Params, error) {
	params := domain.Params{}
	if rawJSON != "" {
		if err := json.Unmarshal([]byte(rawJSON), &params); err != nil {
			return nil, fmt.Errorf("invalid --json: %w", err)
		}
	}
	for _, p := range pairs {
		key, value, ok := strings.Cut(p, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid --param %q (want key=value)", p)
		}
		params[key] = typedValue(value, paramType(schema, key))
	}
	return params, nil
}

// paramType returns the JSON schema type of a parameter, or "".
func paramType(schema map[string]any, key string) string {
	props, _ := schema["properties"].(map[string]any)
	prop, _ := props[key].(map[string]any)
	typ, _ := prop["type"].(string)
	return typ
}

func typedValue(s, typ string) any {
	switch typ {
	case "string":
		return s
	case "boolean":
		if b, err := strconv.ParseBool(s); err == nil {
			return b
		}
		return s
	}
	switch s {
	case "true":
		return true
	case "false":
		return false
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && !math.IsInf(f, 0) && !math.IsNaN(f) {
		return f
	}
	return s
}

func toolsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tools",
		Short: "List available tools and their parameters",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			reg, err := buildRegistry(cfg, nil, logger)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, def := range reg.Definitions() {
				fmt.Fprintf(out, "%-10s %s\n", def.Name, def.Description)
				props, _ := def.Parameters["properties"].(map[string]any)
				keys := make([]string, 0, len(props))
				for k := range props {
					keys = append(keys, k)
				}
				sort.Strings(keys)
				for _, k := range keys {
					fmt.Fprintf(out, "           --param %s=...\n", k)
				}
			}
			return nil
		},
	}
}

// setConfigValue updates one key in the config file. The file is edited as
// written, so ${VAR} placeholders and secrets taken from the environment
// never end up on disk.
func setConfigValue(cfgPath, key string, value any) error {
	cfg, err := config.LoadRaw(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := config.SetByPath(cfg, key, value); err != nil {
		return fmt.Errorf("set value: %w", err)
	}
	if _, err := config.Effective(cfg); err != nil {
		return err
	}
	if err := config.Save(config.ExpandPath(cfgPath), cfg); err != nil {
		return fmt.Errorf("save config: %w", err)
	}
	return nil
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "View and modify configuration",
		Long:  "Get, set, and list configuration values. Changes are saved to the config file.",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "get [path]",
		Short: "Get a config value (e.g. tools.math.localFallback)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			val, err := config.GetByPath(config.Sanitize(cfg), args[0])
			if err != nil {
				return err
			}
			data, _ := json.MarshalIndent(val, "", "  ")
			fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "set [path] [value]",
		Short: "Set a config value (e.g. server.port 9090)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			if err := setConfigValue(cfgPath, args[0], args[1]); err != nil {
				return err
			}
			logger.Info("config updated", "path", args[0], "file", cfgPath)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List all config values",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			paths := config.ListPaths(config.Sanitize(cfg))
			keys := make([]string, 0, len(paths))
			for k := range paths {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				fmt.Fprintf(cmd.OutOrStdout(), "%s = %v\n", k, paths[k])
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show config file path",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), resolveConfigPath())
		},
	})

	return cmd
}
