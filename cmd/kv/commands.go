package kv

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/willowdb/willow/lib/store"
)

var (
	setCmd = &cobra.Command{
		Use:   "set [key] [value]",
		Short: "Sets the value for a key",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			key := store.PlainKey(args[0])
			value := args[1]

			var meta interface{}
			if m, _ := cmd.Flags().GetString("meta"); m != "" {
				meta = m
			}

			err := conn.Write(func(tx *store.Transaction[store.PlainKey]) error {
				return tx.Set(key, value, meta)
			})
			if err != nil {
				return err
			}
			fmt.Println("set successfully")
			return nil
		},
	}
	getCmd = &cobra.Command{
		Use:   "get [key]",
		Short: "Reads the value and metadata for a key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key := store.PlainKey(args[0])
			return conn.Read(func(tx *store.Transaction[store.PlainKey]) error {
				value, meta, found, err := tx.Get(key)
				if err != nil {
					return err
				}
				fmt.Printf("key=%s, found=%v, value=%v, meta=%v\n", key, found, value, meta)
				return nil
			})
		},
	}
	delCmd = &cobra.Command{
		Use:   "del [key]",
		Short: "Removes a key and its record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key := store.PlainKey(args[0])
			err := conn.Write(func(tx *store.Transaction[store.PlainKey]) error {
				return tx.Remove(key)
			})
			if err != nil {
				return err
			}
			fmt.Println("removed successfully")
			return nil
		},
	}
	hasCmd = &cobra.Command{
		Use:   "has [key]",
		Short: "Checks if a key exists",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key := store.PlainKey(args[0])
			return conn.Read(func(tx *store.Transaction[store.PlainKey]) error {
				found, err := tx.Has(key)
				if err != nil {
					return err
				}
				fmt.Printf("key=%s, found=%v\n", key, found)
				return nil
			})
		},
	}
	infoCmd = &cobra.Command{
		Use:   "info",
		Short: "Prints database path and snapshot",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Printf("path=%s, snapshot=%d\n", db.Path(), db.Snapshot())
			return nil
		},
	}
)

func init() {
	setCmd.Flags().String("meta", "", "Metadata to store alongside the value")
}
