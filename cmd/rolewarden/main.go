package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "rolewarden",
	Short: "Rolewarden — expiring role grants for Discord guilds",
	Long:  "Rolewarden manages time-boxed Discord role grants: a one-time trial role members claim themselves, admin-issued grants with fixed durations, and a background reconciler that removes expired roles.",
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: configs/rolewarden.yaml)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
