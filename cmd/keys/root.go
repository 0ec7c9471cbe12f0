package keys

import (
	"fmt"

	"github.com/ValentinKolb/ghostmesh/cmd/util"
	"github.com/ValentinKolb/ghostmesh/lib/crypt"
	"github.com/ValentinKolb/ghostmesh/lib/identity"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	// KeyCommands represents the key management command group
	KeyCommands = &cobra.Command{
		Use:   "keys",
		Short: "Generate and inspect signing identities and encryption keys",
	}
	identityCmd = &cobra.Command{
		Use:   "identity",
		Short: "Generates a new signing identity",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			id, err := identity.Generate()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s %s\n", label("address:    "), id.Address())
			fmt.Fprintf(out, "%s %s\n", label("private key:"), id.SeedHex())
			return nil
		},
	}
	secretCmd = &cobra.Command{
		Use:   "secret",
		Short: "Generates a new base64 AES-256 encryption key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			key, err := crypt.GenerateKey()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), key)
			return nil
		},
	}
	showCmd = &cobra.Command{
		Use:   "show",
		Short: "Prints the address and the key fingerprint of the configured secrets",
		Args:  cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, _ []string) error {
			return util.BindCommandFlags(cmd)
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()

			id, err := util.LoadIdentity()
			if err != nil {
				return err
			}
			if id == nil {
				fmt.Fprintf(out, "%s %s\n", label("address:    "), color.YellowString("(no private key, read only)"))
			} else {
				fmt.Fprintf(out, "%s %s\n", label("address:    "), id.Address())
			}

			c, err := util.LoadCipher()
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "%s %s\n", label("key:        "), c.Fingerprint())
			return nil
		},
	}
)

func init() {
	cobra.OnInitialize(util.InitConfig)
	util.SetupSecretFlags(showCmd)

	KeyCommands.AddCommand(identityCmd)
	KeyCommands.AddCommand(secretCmd)
	KeyCommands.AddCommand(showCmd)
}

func label(s string) string {
	return color.New(color.FgHiBlack).Sprint(s)
}
