package kv

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/willowdb/willow/cmd/util"
	"github.com/willowdb/willow/lib/store"
)

var (
	db   *store.Database[store.PlainKey]
	conn *store.Connection[store.PlainKey]

	// KeyValueCommands represents the KV command group
	KeyValueCommands = &cobra.Command{
		Use:                "kv",
		Short:              "Perform record operations on a database file",
		PersistentPreRunE:  setupDatabase,
		PersistentPostRunE: teardownDatabase,
	}
)

func init() {
	// Initialize viper
	cobra.OnInitialize(util.InitConfig)

	// Add common database flags to the KV command
	util.SetupDatabaseFlags(KeyValueCommands)

	// Add subcommands
	KeyValueCommands.AddCommand(setCmd)
	KeyValueCommands.AddCommand(getCmd)
	KeyValueCommands.AddCommand(delCmd)
	KeyValueCommands.AddCommand(hasCmd)
	KeyValueCommands.AddCommand(infoCmd)
}

// setupDatabase opens the database file and creates the working connection
func setupDatabase(cmd *cobra.Command, _ []string) error {
	// Bind command flags to viper
	if err := util.BindCommandFlags(cmd); err != nil {
		return err
	}

	util.InitLoggers(viper.GetString("log-level"))

	var err error
	db, err = util.OpenDatabase()
	if err != nil {
		return err
	}

	conn = db.NewConnection()
	return nil
}

// teardownDatabase closes the connection and checkpoints the database
func teardownDatabase(_ *cobra.Command, _ []string) error {
	if conn != nil {
		_ = conn.Close()
	}
	if db != nil {
		return db.Close()
	}
	return nil
}
