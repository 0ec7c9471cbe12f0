package entity

import (
	"context"

	"github.com/ValentinKolb/ghostmesh/cmd/util"
	"github.com/ValentinKolb/ghostmesh/lib/vault"
	"github.com/spf13/cobra"
)

var (
	client      *vault.Client
	closeClient func(context.Context) error

	// EntityCommands represents the entity command group
	EntityCommands = &cobra.Command{
		Use:                "entity",
		Short:              "Perform encrypted entity operations",
		PersistentPreRunE:  setupEntityClient,
		PersistentPostRunE: teardownEntityClient,
	}
)

func init() {
	cobra.OnInitialize(util.InitConfig)

	util.SetupRPCClientFlags(EntityCommands)
	util.SetupSecretFlags(EntityCommands)
	util.SetupVaultFlags(EntityCommands)

	EntityCommands.AddCommand(createCmd)
	EntityCommands.AddCommand(readCmd)
	EntityCommands.AddCommand(updateCmd)
	EntityCommands.AddCommand(deleteCmd)
	EntityCommands.AddCommand(extendCmd)
	EntityCommands.AddCommand(benchCmd)
}

// setupEntityClient initializes the encrypted entity client
func setupEntityClient(cmd *cobra.Command, _ []string) error {
	if err := util.BindCommandFlags(cmd); err != nil {
		return err
	}
	if err := util.InitLogging(); err != nil {
		return err
	}

	var err error
	client, closeClient, err = util.NewVaultClient(nil)
	return err
}

// teardownEntityClient drains the write queue
func teardownEntityClient(_ *cobra.Command, _ []string) error {
	if closeClient == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), util.ShutdownTimeout)
	defer cancel()
	return closeClient(ctx)
}
