package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var serverURL string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "hookci-ctl",
	Short: "Command line interface for the hookci webhook service",
	Long:  `CLI for managing hookci projects, webhook registrations and build logs.`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&serverURL, "url", "http://localhost:8080", "hookci server URL")
	viper.BindPFlag("url", rootCmd.PersistentFlags().Lookup("url"))
}

// initConfig reads HOOKCI_* environment variables, so HOOKCI_URL overrides the default URL.
func initConfig() {
	viper.SetEnvPrefix("HOOKCI")
	viper.AutomaticEnv()
}
