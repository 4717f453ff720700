package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/willowdb/willow/cmd/kv"
	"github.com/willowdb/willow/cmd/util"
)

const (
	Version = "0.3.0"
)

var (

	// RootCmd represents the base command when called without any subcommands
	RootCmd = &cobra.Command{
		Use:   "willow",
		Short: "embedded object persistence engine",
		Long: fmt.Sprintf(`willow (v%s)

An embedded object persistence engine written in Go, with
snapshot-isolated transactions and pluggable extensions.`, Version),
	}
	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of willow",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("willow v%s\n", Version)
		},
	}
)

func init() {
	// Add Commands
	RootCmd.AddCommand(kv.KeyValueCommands)
	RootCmd.AddCommand(versionCmd)

	// Add Flags
	key := "codec"
	RootCmd.PersistentFlags().String(key, "gob", util.WrapString("codec to use for record values (gob, plist)"))
	key = "log-level"
	RootCmd.PersistentFlags().String(key, "warn", util.WrapString("log level (debug, info, warn, error)"))
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the RootCmd.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
