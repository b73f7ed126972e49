package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var logLevel string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "tideos",
	Short: "The tideos storage core",
	Long: `tideos exercises the storage core of the tideos kernel from the host:
it assembles devices, filesystem backends and the VFS router the same way the
kernel does at boot, either from a built-in demo scenario or from a YAML
bootstrap document.`,
}

// Execute adds all child commands to the root command and sets flags
// appropriately. This is called by main.main().
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (trace, debug, info, warn, error)")

	rootCmd.AddCommand(newDemoCommand())
	rootCmd.AddCommand(newBootstrapCommand())
}
