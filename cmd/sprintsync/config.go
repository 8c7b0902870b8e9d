package main

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sprintpulse/sprintsync/internal/config"
)

var configCmd = &cobra.Command{
	Use:     "config",
	GroupID: "setup",
	Short:   "Manage configuration settings",
	Long: `Manage settings in .sprintsync/config.yaml.

Every key can also be set through the environment as SPRINTSYNC_<KEY> with
dots replaced by underscores (SPRINTSYNC_SYNC_OVERLAP=10m). JIRA_URL,
JIRA_USERNAME, JIRA_API_TOKEN and DATABASE_URL are read as well.

Examples:
  sprintsync config set jira.url "https://company.atlassian.net"
  sprintsync config set jira.projects "WEB,API"
  sprintsync config set status_map.path .sprintsync/statuses.toml
  sprintsync config get sync.overlap
  sprintsync config list`,
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value in config.yaml",
	Args:  cobra.ExactArgs(2),
	Run: func(_ *cobra.Command, args []string) {
		key, value := args[0], args[1]
		path := configWritePath()
		if err := config.SetYamlConfig(path, key, value); err != nil {
			FatalError("setting config: %v", err)
		}
		if jsonOutput {
			outputJSON(map[string]string{
				"key":      key,
				"value":    config.MaskSecret(key, value),
				"location": path,
			})
			return
		}
		fmt.Printf("Set %s = %s (in %s)\n", key, config.MaskSecret(key, value), path)
	},
}

var configGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Get the effective value of a setting",
	Args:  cobra.ExactArgs(1),
	Run: func(_ *cobra.Command, args []string) {
		key := args[0]
		value := formatConfigValue(config.Get(key))
		if jsonOutput {
			outputJSON(map[string]string{"key": key, "value": value})
			return
		}
		if value == "" {
			fmt.Printf("%s (not set)\n", key)
			return
		}
		fmt.Println(value)
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "List every setting with secrets masked",
	Run: func(_ *cobra.Command, _ []string) {
		keys := config.AllKeys()
		sort.Strings(keys)

		values := make(map[string]string, len(keys))
		for _, k := range keys {
			values[k] = config.MaskSecret(k, formatConfigValue(config.Get(k)))
		}
		if jsonOutput {
			outputJSON(values)
			return
		}
		if path := config.ConfigFileUsed(); path != "" {
			fmt.Printf("# %s\n", path)
		}
		for _, k := range keys {
			fmt.Printf("%s = %s\n", k, values[k])
		}
	},
}

func init() {
	configCmd.AddCommand(configSetCmd, configGetCmd, configListCmd)
	rootCmd.AddCommand(configCmd)
}

// configWritePath is the loaded config.yaml, else the nearest
// .sprintsync/config.yaml, else one in the working directory.
func configWritePath() string {
	if path := config.ConfigFileUsed(); path != "" {
		return path
	}
	if path, err := config.FindProjectConfig(); err == nil {
		return path
	}
	cwd, err := os.Getwd()
	if err != nil {
		FatalError("%v", err)
	}
	return filepath.Join(cwd, config.DirName, "config.yaml")
}

func formatConfigValue(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case []string:
		return strings.Join(t, ",")
	case []interface{}:
		parts := make([]string, len(t))
		for i, p := range t {
			parts[i] = fmt.Sprint(p)
		}
		return strings.Join(parts, ",")
	}
	return fmt.Sprint(v)
}
