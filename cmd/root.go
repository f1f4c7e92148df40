package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/devaihq/devai/internal/models"
	"github.com/devaihq/devai/internal/output"
	"github.com/devaihq/devai/internal/store"
)

// Package-level shared dependencies, initialized in cobra.OnInitialize.
var (
	ui        *output.UI
	dataStore store.Store

	verbose bool
	dryRun  bool
	jsonOut bool
)

var (
	buildVersion = "dev"
	buildCommit  = "none"
	buildDate    = "unknown"
)

var rootCmd = &cobra.Command{
	Use:   "devai",
	Short: "AI task runner - projects, tasks, and pull requests",
	Long: `devai turns development tasks into code changes. It keeps projects
and their tasks in a local database, sends tasks to an AI model for
implementation, and lands the generated files either in local project
storage or on a GitHub branch with a pull request.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	DisableAutoGenTag: true,
}

// Execute is the main entry point called from main.go.
func Execute(version, commit, date string) {
	buildVersion = version
	buildCommit = commit
	buildDate = date
	rootCmd.Version = fmt.Sprintf("%s (commit %s, built %s)", version, commit, date)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("devai %s (commit %s, built %s)\n", buildVersion, buildCommit, buildDate)
	},
}

func init() {
	cobra.OnInitialize(initConfig, initDeps)
	rootCmd.AddCommand(versionCmd)

	rootCmd.RunE = func(cmd *cobra.Command, args []string) error {
		return rootRun(cmd)
	}

	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output")
	rootCmd.PersistentFlags().BoolVarP(&dryRun, "dry-run", "n", false, "Show what would happen without making changes")
	rootCmd.PersistentFlags().BoolVar(&jsonOut, "json", false, "Print list and show output as JSON")
	rootCmd.PersistentFlags().String("config", "", "Config file (default ~/.config/devai/config.yaml)")
}

func initConfig() {
	// If --config is explicitly set, use that file
	if cfgFile, _ := rootCmd.PersistentFlags().GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: cannot find home directory: %v\n", err)
			os.Exit(1)
		}

		configDir := filepath.Join(home, ".config", "devai")
		viper.AddConfigPath(configDir)
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("DEVAI")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// Defaults via viper.SetDefault()
	home, _ := os.UserHomeDir()
	defaultConfigDir := filepath.Join(home, ".config", "devai")

	viper.SetDefault("state_dir", defaultConfigDir)
	viper.SetDefault("db_path", filepath.Join(defaultConfigDir, "devai.db"))
	viper.SetDefault("port", 8080)
	viper.SetDefault("anthropic.api_key", "")
	viper.SetDefault("anthropic.model", "claude-sonnet-4-5-20250929")
	viper.SetDefault("ai.timeout", "120s")
	viper.SetDefault("github.token", "")
	viper.SetDefault("github.timeout", "8s")
	viper.SetDefault("github.branch_attempts", 4)

	// Read config file if it exists (optional)
	_ = viper.ReadInConfig()
}

func initDeps() {
	ui = output.New()
	ui.Verbose = verbose
	ui.DryRun = dryRun

	// Initialize store lazily, only when commands actually need it.
	// This allows config and version commands to run without a db.
}

// rootRun handles `devai` with no subcommand: show the dashboard overview.
func rootRun(cmd *cobra.Command) error {
	if _, err := getStore(); err != nil {
		return cmd.Help()
	}
	return statusOverviewRun()
}

// getStore returns the shared store, initializing it on first call.
func getStore() (store.Store, error) {
	if dataStore != nil {
		return dataStore, nil
	}

	dbPath := viper.GetString("db_path")
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create state directory: %w", err)
		}
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

// resolveProject looks a project up by name first, then by ID.
func resolveProject(ctx context.Context, s store.Store, ref string) (*models.Project, error) {
	if p, err := s.GetProjectByName(ctx, ref); err == nil {
		return p, nil
	}
	if p, err := s.GetProject(ctx, ref); err == nil {
		return p, nil
	}
	return nil, fmt.Errorf("project not found: %s", ref)
}

// printJSON emits v as indented JSON when --json is set and reports
// whether it did, so callers can skip their table output.
func printJSON(v any) bool {
	if !jsonOut {
		return false
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
	return true
}
