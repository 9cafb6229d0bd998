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
	return filepath.Join(home, ".config", "crm"), nil
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or manage configuration",
	Long: `Show or manage crm configuration.

Running bare 'crm config' is the same as 'crm config show'.`,
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

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set one key in the config file, keeping its comments",
	Example: `  crm config set owner agent-7
  crm config set redis.addr localhost:6379`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return configSetRun(args[0], args[1])
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
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configEditCmd)
	rootCmd.AddCommand(configCmd)
}

// configTemplate is the template for generating config.yaml with comments.
const configTemplate = `# crm configuration
# See: crm config show (for effective values and sources)

# State/data directory (default: ~/.config/crm)
# state_dir: {{ .StateDir }}

# SQLite database path (default: ~/.config/crm/crm.db)
# db_path: {{ .DBPath }}

# Owner ID every command acts as; records of other owners are not visible
owner: "{{ .Owner }}"

# Name written on activity history (default: the owner ID)
user: "{{ .User }}"

# API server port for 'crm serve'
port: {{ .Port }}

log:
  # debug, info, warn, error
  level: "{{ .LogLevel }}"
  # console or json
  format: "{{ .LogFormat }}"

# Redis pub/sub for change notifications shared between processes.
# Leave addr empty to notify within a single process only.
redis:
  addr: "{{ .RedisAddr }}"
  db: {{ .RedisDB }}

# AMQP broker for domain events. Leave url empty to disable.
amqp:
  url: "{{ .AMQPURL }}"
  exchange: "{{ .AMQPExchange }}"

# Anthropic API, used by 'crm lead import' and 'crm lead next --suggest'.
# The key can also come from ANTHROPIC_API_KEY.
anthropic:
  model: "{{ .AnthropicModel }}"
`

type configTemplateData struct {
	StateDir       string
	DBPath         string
	Owner          string
	User           string
	Port           int
	LogLevel       string
	LogFormat      string
	RedisAddr      string
	RedisDB        int
	AMQPURL        string
	AMQPExchange   string
	AnthropicModel string
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
		StateDir:       viper.GetString("state_dir"),
		DBPath:         viper.GetString("db_path"),
		Owner:          viper.GetString("owner"),
		User:           viper.GetString("user"),
		Port:           viper.GetInt("port"),
		LogLevel:       viper.GetString("log.level"),
		LogFormat:      viper.GetString("log.format"),
		RedisAddr:      viper.GetString("redis.addr"),
		RedisDB:        viper.GetInt("redis.db"),
		AMQPURL:        viper.GetString("amqp.url"),
		AMQPExchange:   viper.GetString("amqp.exchange"),
		AnthropicModel: viper.GetString("anthropic.model"),
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
	Secret bool
}

var configKeys = []configKeyInfo{
	{Key: "state_dir", EnvVar: "CRM_STATE_DIR"},
	{Key: "db_path", EnvVar: "CRM_DB_PATH"},
	{Key: "owner", EnvVar: "CRM_OWNER"},
	{Key: "user", EnvVar: "CRM_USER"},
	{Key: "port", EnvVar: "CRM_PORT"},
	{Key: "log.level", EnvVar: "CRM_LOG_LEVEL"},
	{Key: "log.format", EnvVar: "CRM_LOG_FORMAT"},
	{Key: "redis.addr", EnvVar: "CRM_REDIS_ADDR"},
	{Key: "redis.db", EnvVar: "CRM_REDIS_DB"},
	{Key: "amqp.url", EnvVar: "CRM_AMQP_URL"},
	{Key: "amqp.exchange", EnvVar: "CRM_AMQP_EXCHANGE"},
	{Key: "anthropic.model", EnvVar: "CRM_ANTHROPIC_MODEL"},
	{Key: "anthropic.api_key", EnvVar: "CRM_ANTHROPIC_API_KEY", Secret: true},
}

func configShowRun() error {
	cfgPath, err := configFilePath()
	if err != nil {
		return err
	}

	doc, err := loadConfigDoc(cfgPath)
	if err != nil {
		ui.Warning("Ignoring unreadable config file: %v", err)
		doc = newConfigDoc()
	}
	if doc.exists {
		ui.Info("Config file: %s", cfgPath)
	} else {
		ui.Info("Config file: (none)")
	}
	fmt.Fprintln(ui.Out)

	for _, k := range configKeys {
		val := viper.Get(k.Key)
		if k.Secret && viper.GetString(k.Key) != "" {
			val = "********"
		}
		fmt.Fprintf(ui.Out, "  %-22s %v  %s\n", k.Key, val, detectSource(k, doc))
	}
	return nil
}

// detectSource reports whether a key's value comes from the environment,
// the config file, or the built-in default.
func detectSource(k configKeyInfo, doc *configDoc) string {
	if _, ok := os.LookupEnv(k.EnvVar); ok {
		return fmt.Sprintf("(env: %s)", k.EnvVar)
	}
	if doc.has(k.Key) {
		return "(file)"
	}
	return "(default)"
}

func lookupConfigKey(key string) (configKeyInfo, bool) {
	for _, k := range configKeys {
		if k.Key == key {
			return k, true
		}
	}
	return configKeyInfo{}, false
}

func configSetRun(key, value string) error {
	k, ok := lookupConfigKey(key)
	if !ok {
		return fmt.Errorf("unknown config key %q (see 'crm config show')", key)
	}
	cfgPath, err := configFilePath()
	if err != nil {
		return err
	}
	doc, err := loadConfigDoc(cfgPath)
	if err != nil {
		return err
	}

	shown := value
	if k.Secret {
		shown = "********"
	}
	if dryRun {
		ui.DryRunMsg("Would set %s = %s in %s", k.Key, shown, cfgPath)
		return nil
	}

	doc.set(k.Key, value)
	data, err := doc.encode()
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(cfgPath), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(cfgPath, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	ui.Success("Set %s = %s", k.Key, shown)
	return nil
}

// configDoc is config.yaml as a node tree, so edits keep comments and order.
type configDoc struct {
	root   *yaml.Node
	exists bool
}

func newConfigDoc() *configDoc {
	return &configDoc{root: &yaml.Node{
		Kind:    yaml.DocumentNode,
		Content: []*yaml.Node{{Kind: yaml.MappingNode, Tag: "!!map"}},
	}}
}

// loadConfigDoc parses path. A missing or empty file yields an empty document.
func loadConfigDoc(path string) (*configDoc, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return newConfigDoc(), nil
	}
	if err != nil {
		return nil, err
	}
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	doc := newConfigDoc()
	doc.exists = true
	if root.Kind == yaml.DocumentNode && len(root.Content) == 1 && root.Content[0].Kind == yaml.MappingNode {
		doc.root = &root
	}
	return doc, nil
}

// mappingValue returns the value node under key in mapping m, or nil.
func mappingValue(m *yaml.Node, key string) *yaml.Node {
	for i := 0; i+1 < len(m.Content); i += 2 {
		if m.Content[i].Value == key {
			return m.Content[i+1]
		}
	}
	return nil
}

// has reports whether the dotted key holds a scalar in the file.
func (d *configDoc) has(key string) bool {
	n := d.root.Content[0]
	for _, part := range strings.Split(key, ".") {
		if n == nil || n.Kind != yaml.MappingNode {
			return false
		}
		n = mappingValue(n, part)
	}
	return n != nil && n.Kind == yaml.ScalarNode
}

// set writes value at the dotted key, creating parent maps as needed.
func (d *configDoc) set(key, value string) {
	m := d.root.Content[0]
	parts := strings.Split(key, ".")
	for _, part := range parts[:len(parts)-1] {
		next := mappingValue(m, part)
		if next == nil {
			next = &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
			m.Content = append(m.Content, &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: part}, next)
		} else if next.Kind != yaml.MappingNode {
			*next = yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
		}
		m = next
	}

	leaf := parts[len(parts)-1]
	n := mappingValue(m, leaf)
	if n == nil {
		n = &yaml.Node{}
		m.Content = append(m.Content, &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: leaf}, n)
	}
	style := n.Style
	n.Kind, n.Value, n.Content = yaml.ScalarNode, value, nil
	switch {
	case isInt(value):
		n.Tag, n.Style = "!!int", 0
	case value == "true" || value == "false":
		n.Tag, n.Style = "!!bool", 0
	default:
		n.Tag, n.Style = "!!str", style
	}
}

func (d *configDoc) encode() ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(d.root); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func isInt(s string) bool {
	_, err := strconv.Atoi(s)
	return err == nil
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
		return fmt.Errorf("config file not found: %s (run 'crm config init' first)", cfgPath)
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
