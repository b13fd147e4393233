package main

import (
	"github.com/spf13/cobra"
)

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "wallctl",
		Short: "Tiled display wall controller",
		Long: `wallctl runs the processes of a tiled display wall: one master holding the
scene, one forker launching applications, and one wall process per screen.`,
		SilenceUsage: true,
	}

	cmd.AddCommand(newRunCommand())
	cmd.AddCommand(newLocalCommand())
	return cmd
}
