package cmd

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"text/template"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

var configForce bool

// configDirFunc returns the config directory path, replaceable in tests.
var configDirFunc = defaultConfigDir

func defaultConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "devai"), nil
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or manage configuration",
	Long: `Show or manage devai configuration.

Running bare 'devai config' is the same as 'devai config show'.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return configShowRun()
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create config file with commented defaults",
	RunE: func(cmd *cobra.Command, args []string) error {
		return configInitRun()
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show effective configuration with sources",
	RunE: func(cmd *cobra.Command, args []string) error {
		return configShowRun()
	},
}

var configEditCmd = &cobra.Command{
	Use:   "edit",
	Short: "Open config file in $EDITOR",
	RunE: func(cmd *cobra.Command, args []string) error {
		return configEditRun()
	},
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print the config file path",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfgPath, err := configFilePath()
		if err != nil {
			return err
		}
		fmt.Println(cfgPath)
		return nil
	},
}

func init() {
	configInitCmd.Flags().BoolVar(&configForce, "force", false, "Overwrite existing config file")
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configEditCmd)
	configCmd.AddCommand(configPathCmd)
	rootCmd.AddCommand(configCmd)
}

// configTemplate is the template for generating config.yaml with comments.
const configTemplate = `# devai configuration
# See: devai config show (for effective values and sources)

# State/data directory (default: ~/.config/devai)
# state_dir: {{ .StateDir }}

# SQLite database path (default: ~/.config/devai/devai.db)
# db_path: {{ .DBPath }}

# HTTP port for 'devai serve'
# port: {{ .Port }}

# Anthropic API
anthropic:
  # API key (or set ANTHROPIC_API_KEY)
  api_key: "{{ .AnthropicAPIKey }}"

  # Model used for task execution and project analysis
  model: "{{ .AnthropicModel }}"

# AI call behavior
ai:
  # Per-call timeout for AI requests
  timeout: "{{ .AITimeout }}"

# GitHub
github:
  # Personal access token (or set GITHUB_TOKEN, or save one in settings)
  token: "{{ .GitHubToken }}"

  # Per-call timeout for GitHub API requests
  timeout: "{{ .GitHubTimeout }}"

  # How many branch name suffixes to try before giving up
  branch_attempts: {{ .GitHubBranchAttempts }}
`

type configTemplateData struct {
	StateDir             string
	DBPath               string
	Port                 int
	AnthropicAPIKey      string
	AnthropicModel       string
	AITimeout            string
	GitHubToken          string
	GitHubTimeout        string
	GitHubBranchAttempts int
}

func configFilePath() (string, error) {
	dir, err := configDirFunc()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

func configInitRun() error {
	cfgPath, err := configFilePath()
	if err != nil {
		return err
	}

	// Check if file already exists
	if _, err := os.Stat(cfgPath); err == nil {
		if !configForce {
			return fmt.Errorf("config file already exists: %s (use --force to overwrite)", cfgPath)
		}
		ui.Warning("Overwriting existing config file")
	}

	// Build template data from current viper values
	data := configTemplateData{
		StateDir:             viper.GetString("state_dir"),
		DBPath:               viper.GetString("db_path"),
		Port:                 viper.GetInt("port"),
		AnthropicAPIKey:      viper.GetString("anthropic.api_key"),
		AnthropicModel:       viper.GetString("anthropic.model"),
		AITimeout:            viper.GetDuration("ai.timeout").String(),
		GitHubToken:          viper.GetString("github.token"),
		GitHubTimeout:        viper.GetDuration("github.timeout").String(),
		GitHubBranchAttempts: viper.GetInt("github.branch_attempts"),
	}

	tmpl, err := template.New("config").Parse(configTemplate)
	if err != nil {
		return fmt.Errorf("template parse error: %w", err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return fmt.Errorf("template execute error: %w", err)
	}

	if dryRun {
		ui.DryRunMsg("Would create config file: %s", cfgPath)
		fmt.Fprintln(ui.Out)
		fmt.Fprint(ui.Out, buf.String())
		return nil
	}

	// Create config directory
	dir := filepath.Dir(cfgPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(cfgPath, buf.Bytes(), 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	ui.Success("Config file created: %s", cfgPath)
	fmt.Fprintln(ui.Out)
	fmt.Fprint(ui.Out, buf.String())
	return nil
}

// configKeyInfo describes a config key for display purposes.
type configKeyInfo struct {
	Key    string
	EnvVar string
	Secret bool
}

var configKeys = []configKeyInfo{
	{Key: "state_dir", EnvVar: "DEVAI_STATE_DIR"},
	{Key: "db_path", EnvVar: "DEVAI_DB_PATH"},
	{Key: "port", EnvVar: "DEVAI_PORT"},
	{Key: "anthropic.api_key", EnvVar: "DEVAI_ANTHROPIC_API_KEY", Secret: true},
	{Key: "anthropic.model", EnvVar: "DEVAI_ANTHROPIC_MODEL"},
	{Key: "ai.timeout", EnvVar: "DEVAI_AI_TIMEOUT"},
	{Key: "github.token", EnvVar: "DEVAI_GITHUB_TOKEN", Secret: true},
	{Key: "github.timeout", EnvVar: "DEVAI_GITHUB_TIMEOUT"},
	{Key: "github.branch_attempts", EnvVar: "DEVAI_GITHUB_BRANCH_ATTEMPTS"},
}

func configShowRun() error {
	cfgPath, err := configFilePath()
	if err != nil {
		return err
	}

	// Check if config file exists
	if _, err := os.Stat(cfgPath); err == nil {
		ui.Info("Config file: %s", cfgPath)
	} else {
		ui.Info("Config file: (none)")
	}
	fmt.Fprintln(ui.Out)

	// Read config file values to determine file source
	fileValues := readConfigFileValues(cfgPath)

	for _, k := range configKeys {
		val := viper.Get(k.Key)
		if k.Secret {
			val = maskSecret(viper.GetString(k.Key))
		}
		source := detectSource(k.Key, k.EnvVar, fileValues)
		fmt.Fprintf(ui.Out, "  %-24s %v  %s\n", k.Key, val, source)
	}

	return nil
}

// maskSecret hides all but the last four characters of a credential.
func maskSecret(val string) string {
	if val == "" {
		return "(unset)"
	}
	if len(val) <= 4 {
		return "****"
	}
	return "****" + val[len(val)-4:]
}

// readConfigFileValues reads the raw YAML file and returns a flat map of keys present in it.
func readConfigFileValues(path string) map[string]bool {
	result := make(map[string]bool)

	data, err := os.ReadFile(path)
	if err != nil {
		return result
	}

	var parsed map[string]any
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return result
	}

	// Flatten nested keys with dot notation
	flattenKeys("", parsed, result)
	return result
}

// flattenKeys recursively flattens a nested map to dot-notation keys.
func flattenKeys(prefix string, m map[string]any, result map[string]bool) {
	for key, val := range m {
		fullKey := key
		if prefix != "" {
			fullKey = prefix + "." + key
		}
		if nested, ok := val.(map[string]any); ok {
			flattenKeys(fullKey, nested, result)
		} else {
			result[fullKey] = true
		}
	}
}

// detectSource determines where a config value is coming from.
func detectSource(key, envVar string, fileValues map[string]bool) string {
	if _, ok := os.LookupEnv(envVar); ok {
		return fmt.Sprintf("(env: %s)", envVar)
	}
	if fileValues[key] {
		return "(file)"
	}
	return "(default)"
}

func configEditRun() error {
	editor := os.Getenv("EDITOR")
	if editor == "" {
		editor = os.Getenv("VISUAL")
	}
	if editor == "" {
		return fmt.Errorf("$EDITOR is not set (e.g. export EDITOR=vim)")
	}

	cfgPath, err := configFilePath()
	if err != nil {
		return err
	}

	if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
		return fmt.Errorf("config file not found: %s (run 'devai config init' first)", cfgPath)
	}

	if dryRun {
		ui.DryRunMsg("Would open %s in %s", cfgPath, editor)
		return nil
	}

	editCmd := exec.Command(editor, cfgPath)
	editCmd.Stdin = os.Stdin
	editCmd.Stdout = os.Stdout
	editCmd.Stderr = os.Stderr
	return editCmd.Run()
}
