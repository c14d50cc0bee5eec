package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information set via ldflags at build time
var (
	Version   = "dev"
	BuildTime = ""
	GitCommit = ""
)

var rootCmd = &cobra.Command{
	Use:     "filepulse",
	Short:   "filepulse - realtime viewer presence for file managers",
	Long:    `A single-binary presence server that tracks which users currently have a file open and fans that state out to every connected client over WebSocket.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate("filepulse version {{.Version}}\n")
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
