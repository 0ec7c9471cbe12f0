package cmd

import (
	"fmt"
	"os"

	"github.com/ValentinKolb/ghostmesh/cmd/api"
	"github.com/ValentinKolb/ghostmesh/cmd/entity"
	"github.com/ValentinKolb/ghostmesh/cmd/keys"
	"github.com/ValentinKolb/ghostmesh/cmd/node"
	"github.com/ValentinKolb/ghostmesh/cmd/relay"
	"github.com/ValentinKolb/ghostmesh/cmd/tail"
	"github.com/ValentinKolb/ghostmesh/cmd/util"
	"github.com/spf13/cobra"
)

const (
	Version = "0.3.0"
)

var (
	// RootCmd represents the base command when called without any subcommands
	RootCmd = &cobra.Command{
		Use:   "ghostmesh",
		Short: "encrypted entities on an append-only store",
		Long: fmt.Sprintf(`ghostmesh (v%s)

Stores client-side encrypted records as expiring entities on an append-only
entity store and relays the change events to websocket listeners.`, Version),
		SilenceUsage: true,
	}
	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of ghostmesh",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("ghostmesh v%s\n", Version)
		},
	}
)

func init() {
	// Add Commands
	RootCmd.AddCommand(node.NodeCmd)
	RootCmd.AddCommand(api.APICmd)
	RootCmd.AddCommand(relay.RelayCmd)
	RootCmd.AddCommand(entity.EntityCommands)
	RootCmd.AddCommand(tail.TailCmd)
	RootCmd.AddCommand(keys.KeyCommands)
	RootCmd.AddCommand(versionCmd)

	// Add Flags
	key := "serializer"
	RootCmd.PersistentFlags().String(key, "json", util.WrapString("serializer to use (json, gob)"))
	key = "transport"
	RootCmd.PersistentFlags().String(key, "http", util.WrapString("transport to use (http)"))
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the RootCmd.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
