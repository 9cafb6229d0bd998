package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/joescharf/crm/internal/crm"
	"github.com/joescharf/crm/internal/events"
	"github.com/joescharf/crm/internal/llm"
	"github.com/joescharf/crm/internal/logger"
	"github.com/joescharf/crm/internal/output"
	"github.com/joescharf/crm/internal/store"
)

// Package-level shared dependencies, initialized in cobra.OnInitialize.
var (
	ui        *output.UI
	dataStore store.Store
	service   *crm.Service
	appLog    *zap.Logger
	closers   []func() error

	verbose bool
	dryRun  bool
)

var rootCmd = &cobra.Command{
	Use:   "crm",
	Short: "Real-estate CRM - track leads, deals, and follow-ups",
	Long: `crm tracks leads, moves deals through the negotiation to closing
pipeline, and schedules follow-ups, for one agent or a whole team
sharing a database.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	DisableAutoGenTag: true,
}

// Execute runs the command line and releases every opened dependency.
func Execute(info BuildInfo) error {
	build = info
	rootCmd.Version = info.Version
	defer closeDeps()
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig, initDeps)

	rootCmd.RunE = func(cmd *cobra.Command, args []string) error {
		return rootRun(cmd)
	}

	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output")
	rootCmd.PersistentFlags().BoolVarP(&dryRun, "dry-run", "n", false, "Show what would happen without making changes")
	rootCmd.PersistentFlags().String("config", "", "Config file (default ~/.config/crm/config.yaml)")
	rootCmd.PersistentFlags().String("owner", "", "Owner ID to act as (default $USER)")
	_ = viper.BindPFlag("owner", rootCmd.PersistentFlags().Lookup("owner"))
	rootCmd.PersistentFlags().Bool("memory", false, "Use an in-memory store that is discarded on exit")
	_ = viper.BindPFlag("memory", rootCmd.PersistentFlags().Lookup("memory"))
}

func initConfig() {
	// .env in the working directory, if any. Real env vars win.
	_ = godotenv.Load()

	if cfgFile, _ := rootCmd.PersistentFlags().GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: cannot find home directory: %v\n", err)
			os.Exit(1)
		}

		viper.AddConfigPath(filepath.Join(home, ".config", "crm"))
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("CRM")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	setDefaults()

	_ = viper.ReadInConfig()
}

// setDefaults registers every config key's default. Tests call it after viper.Reset.
func setDefaults() {
	dir, _ := configDirFunc()

	viper.SetDefault("state_dir", dir)
	viper.SetDefault("db_path", filepath.Join(dir, "crm.db"))
	viper.SetDefault("owner", os.Getenv("USER"))
	viper.SetDefault("user", "")
	viper.SetDefault("memory", false)
	viper.SetDefault("log.level", "warn")
	viper.SetDefault("log.format", "console")
	viper.SetDefault("port", 8085)
	viper.SetDefault("redis.addr", "")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("amqp.url", "")
	viper.SetDefault("amqp.exchange", events.DefaultExchange)
	viper.SetDefault("anthropic.api_key", "")
	viper.SetDefault("anthropic.model", "claude-haiku-4-5-20251001")
}

func initDeps() {
	ui = output.New()
	ui.Verbose = verbose
	ui.DryRun = dryRun

	// Store and service are opened lazily so config commands run without a db.
}

// rootRun handles `crm` with no subcommand: show the dashboard, or help when
// no database can be opened.
func rootRun(cmd *cobra.Command) error {
	if _, err := getService(); err != nil {
		return cmd.Help()
	}
	return dashboardRun(cmd.Context())
}

// session returns the acting owner from --owner, CRM_OWNER or config.
func session() (crm.Session, error) {
	owner := viper.GetString("owner")
	if strings.TrimSpace(owner) == "" {
		return crm.Session{}, fmt.Errorf("no owner configured (use --owner, CRM_OWNER or owner in config)")
	}
	return crm.NewSession(owner, viper.GetString("user")), nil
}

// getLogger returns the shared zap logger, built from log.level and log.format.
func getLogger() *zap.Logger {
	if appLog != nil {
		return appLog
	}
	level := viper.GetString("log.level")
	if verbose {
		level = "debug"
	}
	l, err := logger.New(level, viper.GetString("log.format"))
	if err != nil {
		l = logger.Nop()
	}
	appLog = l
	closers = append(closers, func() error { _ = appLog.Sync(); return nil })
	return appLog
}

// getStore returns the shared store, initializing it on first call. When
// redis.addr is set, change signals go through Redis so that a running
// server sees writes made by this process.
func getStore() (store.Store, error) {
	if dataStore != nil {
		return dataStore, nil
	}

	ctx := context.Background()
	log := getLogger()
	opts := []store.Option{store.WithLogger(log)}

	if addr := viper.GetString("redis.addr"); addr != "" {
		n, err := store.NewRedisNotifier(ctx, store.RedisConfig{
			Addr:     addr,
			Password: viper.GetString("redis.password"),
			DB:       viper.GetInt("redis.db"),
		})
		if err != nil {
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		opts = append(opts, store.WithNotifier(n))
		ui.VerboseLog("Change notifications via redis %s", addr)
	}

	if viper.GetBool("memory") {
		dataStore = store.NewMemoryStore(opts...)
		closers = append(closers, dataStore.Close)
		return dataStore, nil
	}

	dbPath := viper.GetString("db_path")
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	s, err := store.NewSQLiteStore(dbPath, opts...)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := s.Migrate(ctx); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	dataStore = s
	closers = append(closers, s.Close)
	return dataStore, nil
}

// getService returns the shared CRM service over getStore. Domain events go
// to the AMQP broker at amqp.url when one is configured.
func getService() (*crm.Service, error) {
	if service != nil {
		return service, nil
	}
	s, err := getStore()
	if err != nil {
		return nil, err
	}

	opts := []crm.Option{crm.WithLogger(getLogger())}
	if url := viper.GetString("amqp.url"); url != "" {
		pub, err := events.Dial(url, viper.GetString("amqp.exchange"))
		if err != nil {
			// Events are best effort; the CRM works without a broker.
			ui.Warning("Event broker unavailable: %v", err)
		} else {
			opts = append(opts, crm.WithPublisher(pub))
			closers = append(closers, pub.Close)
		}
	}

	service = crm.NewService(s, opts...)
	return service, nil
}

// getLLM returns an Anthropic client, or nil when neither anthropic.api_key
// nor ANTHROPIC_API_KEY is set. Callers fall back to offline behavior.
func getLLM() *llm.Client {
	key := viper.GetString("anthropic.api_key")
	if key == "" {
		key = os.Getenv("ANTHROPIC_API_KEY")
	}
	if key == "" {
		return nil
	}
	model := viper.GetString("anthropic.model")
	getLogger().Debug("using anthropic", zap.String("model", model))
	return llm.NewClient(key, model)
}

// closeDeps releases everything opened by the get* helpers, newest first.
func closeDeps() {
	for i := len(closers) - 1; i >= 0; i-- {
		_ = closers[i]()
	}
	closers = nil
	dataStore = nil
	service = nil
	appLog = nil
}
