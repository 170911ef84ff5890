package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var cfgFile string
var logger *zap.Logger

var rootCmd = &cobra.Command{
	Use:   "sentinel",
	Short: "Website security scanning service for small teams",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// init config
		if cfgFile != "" {
			viper.SetConfigFile(cfgFile)
		} else {
			viper.AddConfigPath("$HOME")
			viper.SetConfigName(".sentinel")
			viper.SetConfigType("yaml")
		}
		viper.SetEnvPrefix("SENTINEL")
		viper.AutomaticEnv()

		_ = viper.ReadInConfig()

		viper.SetDefault("listen_addr", "127.0.0.1:8080")
		viper.SetDefault("db_path", "./sentinel.db")
		viper.SetDefault("max_concurrent_scans", 5)
		viper.SetDefault("probe_rps", 10)
		viper.SetDefault("insight.timeout_seconds", 15)

		// init logger
		l, err := zap.NewProduction()
		if err != nil {
			return fmt.Errorf("failed to create logger: %w", err)
		}
		logger = l
		return nil
	},
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.sentinel.yaml)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(versionCmd)
}
