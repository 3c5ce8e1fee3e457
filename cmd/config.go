package cmd

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
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
	return filepath.Join(home, ".config", "forge"), nil
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or manage configuration",
	Long: `Show or manage forge configuration.

Running bare 'forge config' is the same as 'forge config show'.`,
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

func init() {
	configInitCmd.Flags().BoolVar(&configForce, "force", false, "Overwrite existing config file")
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configEditCmd)
	rootCmd.AddCommand(configCmd)
}

// configTemplate is the template for generating config.yaml with comments.
const configTemplate = `# forge configuration
# See: forge config show (for effective values and sources)

# State/data directory (default: ~/.config/forge)
# state_dir: {{ .StateDir }}

# SQLite database path (default: ~/.config/forge/forge.db)
# db_path: {{ .DBPath }}

# Port for 'forge serve' (default: 8080)
port: {{ .Port }}

# Username commands act as when --as is not given (default: $USER)
user: "{{ .User }}"

log:
  # debug, info, warn or error (default: warn)
  level: "{{ .LogLevel }}"
  # Human-readable console logs instead of JSON
  development: {{ .LogDevelopment }}

tasks:
  # Policies for new tasks: public, users, admin, no-one or a user PHID
  default_view_policy: "{{ .DefaultViewPolicy }}"
  default_edit_policy: "{{ .DefaultEditPolicy }}"
  default_status: "{{ .DefaultStatus }}"
  # Priority keyword: unbreak, triage, high, normal, low, wish
  default_priority: "{{ .DefaultPriority }}"
  # Custom fields, e.g.
  # fields:
  #   - key: estimate
  #     name: Estimate
  #     type: int

editor:
  # URI schemes allowed in users' editor link patterns
  allowed_protocols: [{{ .AllowedProtocols }}]

differential:
  # Allow inline comments on diff pages
  inline_comments: {{ .InlineComments }}

anthropic:
  # API key for 'forge task enrich' and 'forge task import'
  # (default: $ANTHROPIC_API_KEY)
  # api_key: ""
  model: "{{ .AnthropicModel }}"
`

type configTemplateData struct {
	StateDir          string
	DBPath            string
	Port              int
	User              string
	LogLevel          string
	LogDevelopment    bool
	DefaultViewPolicy string
	DefaultEditPolicy string
	DefaultStatus     string
	DefaultPriority   string
	AllowedProtocols  string
	InlineComments    bool
	AnthropicModel    string
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
		StateDir:          viper.GetString("state_dir"),
		DBPath:            viper.GetString("db_path"),
		Port:              viper.GetInt("port"),
		User:              viper.GetString("user"),
		LogLevel:          viper.GetString("log.level"),
		LogDevelopment:    viper.GetBool("log.development"),
		DefaultViewPolicy: viper.GetString("tasks.default_view_policy"),
		DefaultEditPolicy: viper.GetString("tasks.default_edit_policy"),
		DefaultStatus:     viper.GetString("tasks.default_status"),
		DefaultPriority:   viper.GetString("tasks.default_priority"),
		AllowedProtocols:  quotedList(viper.GetStringSlice("editor.allowed_protocols")),
		InlineComments:    viper.GetBool("differential.inline_comments"),
		AnthropicModel:    viper.GetString("anthropic.model"),
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

	if err := os.WriteFile(cfgPath, buf.Bytes(), 0644); err != nil {
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
}

var configKeys = []configKeyInfo{
	{Key: "state_dir", EnvVar: "FORGE_STATE_DIR"},
	{Key: "db_path", EnvVar: "FORGE_DB_PATH"},
	{Key: "port", EnvVar: "FORGE_PORT"},
	{Key: "user", EnvVar: "FORGE_USER"},
	{Key: "log.level", EnvVar: "FORGE_LOG_LEVEL"},
	{Key: "log.development", EnvVar: "FORGE_LOG_DEVELOPMENT"},
	{Key: "tasks.default_view_policy", EnvVar: "FORGE_TASKS_DEFAULT_VIEW_POLICY"},
	{Key: "tasks.default_edit_policy", EnvVar: "FORGE_TASKS_DEFAULT_EDIT_POLICY"},
	{Key: "tasks.default_status", EnvVar: "FORGE_TASKS_DEFAULT_STATUS"},
	{Key: "tasks.default_priority", EnvVar: "FORGE_TASKS_DEFAULT_PRIORITY"},
	{Key: "editor.allowed_protocols", EnvVar: "FORGE_EDITOR_ALLOWED_PROTOCOLS"},
	{Key: "differential.inline_comments", EnvVar: "FORGE_DIFFERENTIAL_INLINE_COMMENTS"},
	{Key: "anthropic.model", EnvVar: "FORGE_ANTHROPIC_MODEL"},
}

// quotedList renders a YAML flow sequence body.
func quotedList(items []string) string {
	quoted := make([]string, len(items))
	for i, item := range items {
		quoted[i] = strconv.Quote(item)
	}
	return strings.Join(quoted, ", ")
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
		source := detectSource(k.Key, k.EnvVar, fileValues)
		fmt.Fprintf(ui.Out, "  %-30s %v  %s\n", k.Key, val, source)
	}

	return nil
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
		return fmt.Errorf("$EDITOR is not set; set it to your preferred editor (e.g. export EDITOR=vim)")
	}

	cfgPath, err := configFilePath()
	if err != nil {
		return err
	}

	if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
		return fmt.Errorf("config file not found: %s (run 'forge config init' first)", cfgPath)
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
