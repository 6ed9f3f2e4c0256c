package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	host  string
	token string
)

var rootCmd = &cobra.Command{
	Use:   "sandguard",
	Short: "Sandguard CLI",
	Long:  `A developer-facing tool to interact with the sandguardd API.`,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&host, "host", "http://localhost:8080", "sandguardd API URL")
	rootCmd.PersistentFlags().StringVar(&token, "token", "", "Bearer token for authentication")
}

func initConfig() {
	home, err := os.UserHomeDir()
	if err == nil {
		viper.AddConfigPath(home)
	}
	viper.SetConfigName(".sandguard")
	viper.SetConfigType("yaml")
	viper.SetEnvPrefix("SANDGUARD")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		if !rootCmd.PersistentFlags().Changed("host") && viper.GetString("host") != "" {
			host = viper.GetString("host")
		}
		if !rootCmd.PersistentFlags().Changed("token") && viper.GetString("token") != "" {
			token = viper.GetString("token")
		}
	}
}
