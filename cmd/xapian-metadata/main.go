// Command xapian-metadata reads and writes a database's user-metadata
// table, per spec section 6's "xapian-metadata get|list|set" external
// interface.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/xapian/xapiango/pkg/table"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "xapian-metadata",
	Short: "Read and write a xapiango database's user-metadata table",
}

func init() {
	rootCmd.AddCommand(getCmd, listCmd, setCmd)
}

var getCmd = &cobra.Command{
	Use:   "get <db-dir> <key>",
	Short: "Print the value stored under key, if any",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		md, err := table.OpenMetadata(args[0])
		if err != nil {
			return err
		}
		defer md.Close()
		v, ok, err := md.Get(args[1])
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		fmt.Println(v)
		return nil
	},
}

var listCmd = &cobra.Command{
	Use:   "list <db-dir> [prefix]",
	Short: "List every metadata key, optionally restricted to a prefix",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		md, err := table.OpenMetadata(args[0])
		if err != nil {
			return err
		}
		defer md.Close()
		prefix := ""
		if len(args) == 2 {
			prefix = args[1]
		}
		keys, err := md.List(prefix)
		if err != nil {
			return err
		}
		for _, k := range keys {
			fmt.Println(k)
		}
		return nil
	},
}

var setCmd = &cobra.Command{
	Use:   "set <db-dir> <key> <value>",
	Short: "Set key to value; an empty value deletes the key",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		md, err := table.OpenMetadata(args[0])
		if err != nil {
			return err
		}
		defer md.Close()
		return md.Set(args[1], args[2])
	},
}
