package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gazewatch/gaze/internal/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// configCmd represents the config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage gaze configuration",
	Long:  `View and modify gaze configuration settings.`,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Display the effective configuration",
	RunE:  runConfigShow,
}

var configSetCmd = &cobra.Command{
	Use:   "set [key] [value]",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE:  runConfigSet,
}

var configGetCmd = &cobra.Command{
	Use:   "get [key]",
	Short: "Get a configuration value",
	Args:  cobra.ExactArgs(1),
	RunE:  runConfigGet,
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configGetCmd)
}

func configFileInUse() string {
	if file := viper.ConfigFileUsed(); file != "" {
		return file
	}
	return config.DefaultFile()
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "# %s\n", configFileInUse())

	data, err := cfg.YAML()
	if err != nil {
		return fmt.Errorf("failed to marshal configuration: %w", err)
	}
	fmt.Fprint(out, string(data))
	return nil
}

func runConfigSet(cmd *cobra.Command, args []string) error {
	key, raw := args[0], args[1]

	// Decode the value as YAML so lists, numbers and booleans keep their type
	var value interface{}
	if err := yaml.Unmarshal([]byte(raw), &value); err != nil || value == nil {
		value = raw
	}

	// Validate against a copy before touching the file
	probe := viper.New()
	config.SetDefaults(probe)
	if err := probe.MergeConfigMap(viper.AllSettings()); err != nil {
		return fmt.Errorf("failed to stage configuration: %w", err)
	}
	probe.Set(key, value)
	if _, err := config.Load(probe); err != nil {
		return err
	}

	viper.Set(key, value)

	file := configFileInUse()
	if err := os.MkdirAll(filepath.Dir(file), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := viper.WriteConfigAs(file); err != nil {
		return fmt.Errorf("failed to write configuration: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "%s = %v (%s)\n", key, value, file)
	return nil
}

func runConfigGet(cmd *cobra.Command, args []string) error {
	key := args[0]
	if !viper.IsSet(key) {
		return fmt.Errorf("configuration key '%s' not found", key)
	}

	value := viper.Get(key)
	if m, ok := value.(map[string]interface{}); ok {
		data, err := yaml.Marshal(m)
		if err != nil {
			return err
		}
		fmt.Fprint(cmd.OutOrStdout(), string(data))
		return nil
	}

	fmt.Fprintf(cmd.OutOrStdout(), "%v\n", value)
	return nil
}
