// Package cmd wires the command line interface.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var configPath string

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to HCL config file")
}

var rootCmd = &cobra.Command{
	Use:   "itemtrack",
	Short: "Itemtrack: marketplace item metadata and modifier tracking",
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
