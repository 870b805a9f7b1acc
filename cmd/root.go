package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	homedir "github.com/mitchellh/go-homedir"

	"github.com/rua-project/rua/internal/config"
	"github.com/rua-project/rua/internal/utils"
	"github.com/rua-project/rua/pkg/whttp"
)

var cfgFile string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "rua",
	Short: "Export the territorial control area history to CSV.",
	Long: `rua downloads every snapshot listed by the DeepStateMap history API and
flattens the areas of all of them into a single CSV file for offline analysis.`,
	SilenceUsage: true,
	CompletionOptions: cobra.CompletionOptions{
		DisableDefaultCmd: true,
	},
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return utils.SetLogLevel(viper.GetString("loglevel"))
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.rua.yaml)")

	// Global flags
	rootCmd.PersistentFlags().StringP("proxy", "", "", "HTTP(S) proxy for every request (default: $HTTPS_PROXY). Example: http://127.0.0.1:8080")
	rootCmd.PersistentFlags().StringP("loglevel", "l", "info", "Set log level. Available: debug, info, warn, error, fatal")

	_ = viper.BindPFlag("proxy", rootCmd.PersistentFlags().Lookup("proxy"))
	_ = viper.BindPFlag("loglevel", rootCmd.PersistentFlags().Lookup("loglevel"))
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	config.SetDefaults(viper.GetViper())
	if err := config.BindEnv(viper.GetViper()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := homedir.Dir()
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		viper.AddConfigPath(home)
		viper.SetConfigName(".rua")
		viper.SetConfigType("yaml")
	}

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			fmt.Fprintf(os.Stderr, "Error reading config file: %s\n", err)
			os.Exit(1)
		}
	}
}

// loadConfig validates the merged flag/env/file configuration.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		return nil, err
	}
	if used := viper.ConfigFileUsed(); used != "" {
		utils.Log.Debugf("Using config file %s", filepath.Clean(used))
	}
	return cfg, nil
}

// newHTTPClient builds the shared HTTP client. A proxy that can't be parsed
// is reported and ignored, so requests go out directly.
func newHTTPClient(cfg *config.Config) (*whttp.Client, error) {
	opts := whttp.Options{
		Proxy:     cfg.Proxy,
		NoProxy:   cfg.NoProxy,
		Timeout:   cfg.HTTP.Timeout,
		UserAgent: cfg.HTTP.UserAgent,
	}

	client, err := whttp.NewClient(opts)
	if errors.Is(err, whttp.ErrInvalidProxy) {
		utils.Log.Warnf("Ignoring proxy: %v", err)
		opts.Proxy = ""
		client, err = whttp.NewClient(opts)
	}
	if err != nil {
		return nil, err
	}

	if p := client.Proxy(); p != nil {
		utils.Log.Infof("Using proxy %s", p.Redacted())
	}
	return client, nil
}
