package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/ppiankov/annorepair/internal/model"
)

// configCmd represents the config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage annorepair configuration",
	Long: `Manage annorepair configuration files and settings.

Configuration hierarchy (highest to lowest priority):
1. CLI flags
2. Environment variables (ANNOREPAIR_*, e.g. ANNOREPAIR_STORE_TOKEN)
3. Config file (~/.annorepair/config.yaml)
4. Defaults`,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	Long:  `Display the effective configuration after merging defaults, config file, env vars and flags.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := model.DefaultConfig()
		if err := viper.Unmarshal(cfg); err != nil {
			return fmt.Errorf("error reading config: %w", err)
		}

		if configFile := viper.ConfigFileUsed(); configFile != "" {
			fmt.Fprintf(os.Stderr, "Configuration file: %s\n\n", configFile)
		} else {
			fmt.Fprintf(os.Stderr, "No configuration file found (using defaults)\n\n")
		}

		// Never echo credentials
		if cfg.Store.Token != "" {
			cfg.Store.Token = "********"
		}
		if cfg.API.Token != "" {
			cfg.API.Token = "********"
		}

		yamlData, err := yaml.Marshal(cfg)
		if err != nil {
			return fmt.Errorf("error marshaling config: %w", err)
		}
		fmt.Println(string(yamlData))

		if err := cfg.Validate(); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: configuration is not usable yet: %v\n", err)
		}
		return nil
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize default configuration file",
	Long:  `Create a default configuration file at ~/.annorepair/config.yaml with all available options.`,
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("error finding home directory: %w", err)
		}

		configDir := filepath.Join(home, ".annorepair")
		configPath := filepath.Join(configDir, "config.yaml")

		if _, err := os.Stat(configPath); err == nil {
			return fmt.Errorf("config file already exists: %s\nUse 'annorepair config show' to view it, or delete it first to recreate", configPath)
		}
		if err := os.MkdirAll(configDir, 0o755); err != nil {
			return fmt.Errorf("error creating config directory: %w", err)
		}

		if err := writeDefaultConfig(configPath); err != nil {
			return err
		}

		fmt.Printf("Created default configuration: %s\n", configPath)
		fmt.Printf("\nSet store.base_url and store.container, then check it with:\n")
		fmt.Printf("  annorepair config show\n")
		return nil
	},
}

// writeDefaultConfig writes the defaults as commented YAML
func writeDefaultConfig(path string) (err error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return fmt.Errorf("error creating config file: %w", err)
	}
	defer func() {
		if closeErr := f.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("close config file: %w", closeErr)
		}
	}()

	// Helper for writing with error checking
	printf := func(format string, a ...any) {
		if err != nil {
			return
		}
		_, err = fmt.Fprintf(f, format, a...)
	}

	printf("# annorepair configuration file\n")
	printf("#\n")
	printf("# Configuration hierarchy (highest to lowest priority):\n")
	printf("#   1. CLI flags\n")
	printf("#   2. Environment variables (ANNOREPAIR_*)\n")
	printf("#   3. This config file\n")
	printf("#   4. Built-in defaults\n\n")

	yamlData, mErr := yaml.Marshal(model.DefaultConfig())
	if mErr != nil {
		return fmt.Errorf("error marshaling config: %w", mErr)
	}
	printf("%s", yamlData)

	printf("\n# Credentials are better kept in the environment:\n")
	printf("#   export ANNOREPAIR_STORE_TOKEN=...\n")
	printf("#   export ANNOREPAIR_API_TOKEN=...\n")
	return err
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configInitCmd)
}
