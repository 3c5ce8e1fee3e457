package cmd

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/joescharf/forge/internal/editor"
	"github.com/joescharf/forge/internal/models"
	"github.com/joescharf/forge/internal/output"
	"github.com/joescharf/forge/internal/policy"
	"github.com/joescharf/forge/internal/store"
)

// Package-level shared dependencies, initialized in cobra.OnInitialize.
var (
	ui        *output.UI
	logger    *zap.Logger
	dataStore store.Store

	verbose bool
	dryRun  bool
	actAs   string
)

var rootCmd = &cobra.Command{
	Use:   "forge",
	Short: "forge - task tracking and diff review",
	Long: `forge is a small self-hosted task tracker and code review diff viewer.
It stores tasks, users, repositories and imported diffs in SQLite and serves
them over a JSON API, HTML diff pages and an MCP stdio server.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	DisableAutoGenTag: true,
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

// Execute is the main entry point called from main.go.
func Execute(version, commit, date string) {
	buildVersion = version
	buildCommit = commit
	buildDate = date

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig, initDeps)

	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output")
	rootCmd.PersistentFlags().BoolVarP(&dryRun, "dry-run", "n", false, "Show what would happen without making changes")
	rootCmd.PersistentFlags().String("config", "", "Config file (default ~/.config/forge/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&actAs, "as", "", "Act as this username (default: $FORGE_USER, then $USER)")
}

func initConfig() {
	// A .env in the working directory may carry FORGE_* and ANTHROPIC_API_KEY.
	_ = godotenv.Load()

	// If --config is explicitly set, use that file
	if cfgFile, _ := rootCmd.PersistentFlags().GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: cannot find home directory: %v\n", err)
			os.Exit(1)
		}

		configDir := filepath.Join(home, ".config", "forge")
		viper.AddConfigPath(configDir)
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("FORGE")
	viper.AutomaticEnv()

	home, _ := os.UserHomeDir()
	setDefaults(filepath.Join(home, ".config", "forge"))

	// Read config file if it exists (optional)
	_ = viper.ReadInConfig()
}

// setDefaults registers every config key's default value.
func setDefaults(stateDir string) {
	viper.SetDefault("state_dir", stateDir)
	viper.SetDefault("db_path", filepath.Join(stateDir, "forge.db"))
	viper.SetDefault("port", 8080)
	viper.SetDefault("user", "")
	viper.SetDefault("log.level", "warn")
	viper.SetDefault("log.development", false)
	viper.SetDefault("tasks.default_view_policy", policy.Users)
	viper.SetDefault("tasks.default_edit_policy", policy.Users)
	viper.SetDefault("tasks.default_status", string(models.TaskStatusOpen))
	viper.SetDefault("tasks.default_priority", "triage")
	viper.SetDefault("editor.allowed_protocols", []string{"txmt", "mvim", "subl", "vscode", "idea"})
	viper.SetDefault("differential.inline_comments", true)
	viper.SetDefault("anthropic.api_key", "")
	viper.SetDefault("anthropic.model", "claude-haiku-4-5-20251001")
}

func initDeps() {
	ui = output.New()
	ui.Verbose = verbose
	ui.DryRun = dryRun

	l, err := newLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v; logging disabled\n", err)
		l = zap.NewNop()
	}
	logger = l

	// Initialize store lazily; only when commands actually need it.
	// This allows config/version commands to run without a db.
}

// newLogger builds the zap logger from log.* config. --verbose forces debug.
func newLogger() (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if viper.GetBool("log.development") {
		cfg = zap.NewDevelopmentConfig()
	}
	level, err := zapcore.ParseLevel(viper.GetString("log.level"))
	if err != nil {
		return nil, fmt.Errorf("invalid log.level: %w", err)
	}
	if verbose {
		level = zapcore.DebugLevel
	}
	cfg.Level = zap.NewAtomicLevelAt(level)
	l, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return l, nil
}

// getStore returns the shared store, initializing it on first call.
func getStore() (store.Store, error) {
	if dataStore != nil {
		return dataStore, nil
	}

	dbPath := viper.GetString("db_path")
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}
	s, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := s.Migrate(rootCmd.Context()); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	dataStore = s
	return dataStore, nil
}

// actorName returns the username commands act as.
func actorName() string {
	if actAs != "" {
		return actAs
	}
	if u := viper.GetString("user"); u != "" {
		return u
	}
	return os.Getenv("USER")
}

// currentUser loads the acting user from the store.
func currentUser(s store.Store) (*models.User, error) {
	name := actorName()
	if name == "" {
		return nil, fmt.Errorf("no user configured (use --as or set FORGE_USER)")
	}
	u, err := s.GetUserByUsername(rootCmd.Context(), name)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("unknown user %q (create it with 'forge user add %s')", name, name)
	}
	return u, err
}

// taskCatalog returns the default catalog with configured defaults applied.
func taskCatalog() (*models.TaskCatalog, error) {
	catalog := models.DefaultTaskCatalog()
	word := viper.GetString("tasks.default_priority")
	priority, ok := catalog.PriorityByKeyword(word)
	if !ok {
		return nil, fmt.Errorf("tasks.default_priority: unknown priority %q", word)
	}
	return catalog.WithDefaults(models.TaskStatus(viper.GetString("tasks.default_status")), priority)
}

// customFieldSpecs reads tasks.fields.
func customFieldSpecs() ([]models.CustomFieldSpec, error) {
	var specs []models.CustomFieldSpec
	if err := viper.UnmarshalKey("tasks.fields", &specs); err != nil {
		return nil, fmt.Errorf("tasks.fields: %w", err)
	}
	for _, spec := range specs {
		if spec.Key == "" {
			return nil, fmt.Errorf("tasks.fields: every field needs a key")
		}
		if err := spec.Validate(spec.Default); err != nil && spec.Default != "" {
			return nil, fmt.Errorf("tasks.fields: %w", err)
		}
	}
	return specs, nil
}

// taskApplication returns the application carrying the default policies for
// new tasks.
func taskApplication() *policy.Application {
	return policy.NewApplication("maniphest", map[policy.Capability]string{
		policy.DefaultViewCapability: viper.GetString("tasks.default_view_policy"),
		policy.DefaultEditCapability: viper.GetString("tasks.default_edit_policy"),
	})
}

// newEditor builds the transaction editor from config.
func newEditor(s store.Store) (*editor.Editor, error) {
	catalog, err := taskCatalog()
	if err != nil {
		return nil, err
	}
	fields, err := customFieldSpecs()
	if err != nil {
		return nil, err
	}
	return editor.New(s, catalog, fields, logger), nil
}
