package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Sternrassler/ticket-tagger/pkg/sealed"
)

func newKeygenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "keygen",
		Short: "Generate a cache encryption key",
		Long: `Generate an age X25519 key for TAGGER_ENCRYPTION_KEY. The secret key
is printed on stdout; the public recipient goes to stderr as a comment.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			secret, public, err := sealed.GenerateKey()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "# public key: %s\n", public)
			fmt.Fprintln(cmd.OutOrStdout(), secret)
			return nil
		},
	}
}
