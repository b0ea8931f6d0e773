package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	Version   = "dev"
	BuildTime = ""
)

var rootCmd = &cobra.Command{
	Use:           "wsm",
	Short:         "Worksheet for Manufacturing service",
	Long:          `wsm stores boiler project worksheets, moves them through review and renders them as PDF.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("Version:   %s\nBuildTime: %s\n", Version, BuildTime))

	rootCmd.AddCommand(newServeCommand())
	rootCmd.AddCommand(newMigrateCommand())
	rootCmd.AddCommand(newUserCommand())
	rootCmd.AddCommand(newRenderCommand())
	rootCmd.AddCommand(newExportCommand())
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "❌", err)
		os.Exit(1)
	}
}
