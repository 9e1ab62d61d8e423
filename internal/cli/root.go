package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/ppiankov/annorepair/internal/cache"
	"github.com/ppiankov/annorepair/internal/engine"
	"github.com/ppiankov/annorepair/internal/logging"
	"github.com/ppiankov/annorepair/internal/metrics"
	"github.com/ppiankov/annorepair/internal/model"
	"github.com/ppiankov/annorepair/internal/store"
	"github.com/ppiankov/annorepair/internal/worker"
)

// Version is overridden at build time with -ldflags
var Version = "0.1.0"

const envPrefix = "ANNOREPAIR"

var (
	cfgFile string
	verbose bool
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "annorepair",
	Short: "annorepair - consistency analysis and repair for W3C annotation stores",
	Long: `annorepair walks a W3C Web Annotation collection, classifies structural
defects and applies conservative repairs through the store's ETag
preconditions.

Passes:
  structural          generic cleanup for every motivation
  iconography         iconography-specific repair
  textspotting        textspotting-specific repair
  linking-duplicates  consolidate linking annotations sharing a target set
  linking-orphans     prune or delete linking annotations with dangling targets
  unwanted            delete test and placeholder data

Every repair defaults to a dry run. Nothing is written without --dry-run=false.`,
	SilenceErrors: true,
	SilenceUsage:  true,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

// versionCmd represents the version command
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("annorepair v%s\n", Version)
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default: $HOME/.annorepair/config.yaml)")
	flags.BoolVarP(&verbose, "verbose", "v", false, "verbose output (debug logging)")
	flags.String("store-url", "", "annotation store base URL")
	flags.String("container", "", "annotation container name")
	flags.String("log-level", "", "log level (debug, info, warn, error)")
	flags.String("log-format", "", "log format (console, json)")

	// Bind flags to viper
	_ = viper.BindPFlag("verbose", flags.Lookup("verbose"))
	_ = viper.BindPFlag("store.base_url", flags.Lookup("store-url"))
	_ = viper.BindPFlag("store.container", flags.Lookup("container"))
	_ = viper.BindPFlag("log.level", flags.Lookup("log-level"))
	_ = viper.BindPFlag("log.format", flags.Lookup("log-format"))

	rootCmd.AddCommand(versionCmd)
}

// initConfig reads in config file and ENV variables
func initConfig() {
	if err := setDefaults(viper.GetViper(), model.DefaultConfig()); err != nil {
		fmt.Fprintf(os.Stderr, "Error registering defaults: %v\n", err)
	}

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error finding home directory: %v\n", err)
			return
		}
		viper.AddConfigPath(filepath.Join(home, ".annorepair"))
		viper.SetConfigType("yaml")
		viper.SetConfigName("config")
	}

	// ANNOREPAIR_STORE_TOKEN overrides store.token, and so on
	viper.SetEnvPrefix(envPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil && verbose {
		fmt.Fprintf(os.Stderr, "Using config file: %s\n", viper.ConfigFileUsed())
	}
}

// setDefaults registers every config key so env variables reach keys absent from the file
func setDefaults(v *viper.Viper, cfg *model.Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	var tree map[string]any
	if err := yaml.Unmarshal(data, &tree); err != nil {
		return err
	}
	for key, value := range flatten("", tree) {
		v.SetDefault(key, value)
	}
	return nil
}

func flatten(prefix string, tree map[string]any) map[string]any {
	out := make(map[string]any)
	for k, v := range tree {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if nested, ok := v.(map[string]any); ok {
			for nk, nv := range flatten(key, nested) {
				out[nk] = nv
			}
			continue
		}
		out[key] = v
	}
	return out
}

// loadConfig merges defaults, file, env and flags, then validates the result
func loadConfig(v *viper.Viper) (*model.Config, error) {
	cfg := model.DefaultConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("error reading config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// runtime bundles what every pass command needs
type runtime struct {
	cfg      *model.Config
	log      zerolog.Logger
	recorder *metrics.Recorder
	engine   *engine.Engine
}

func newRuntime() (*runtime, error) {
	cfg, err := loadConfig(viper.GetViper())
	if err != nil {
		return nil, err
	}

	level := cfg.Log.Level
	if verbose {
		level = "debug"
	}
	log := logging.New(level, cfg.Log.Format, os.Stderr)

	recorder := metrics.New()
	etags := cache.NewETagCacheWithStore(
		cache.NewMemoryStore(cfg.Cache.ETagTTL, cfg.Cache.CleanupInterval),
		cfg.Cache.ETagTTL,
	)
	client := store.New(store.OptionsFromConfig(cfg), etags,
		store.WithLimiter(worker.NewLimiter(cfg.RateLimiting.RequestsPerSecond, cfg.RateLimiting.BurstSize)),
		store.WithObserver(recorder),
		store.WithLogger(log),
	)

	eng, err := engine.FromConfig(cfg, client, recorder, log)
	if err != nil {
		return nil, err
	}

	return &runtime{cfg: cfg, log: log, recorder: recorder, engine: eng}, nil
}
