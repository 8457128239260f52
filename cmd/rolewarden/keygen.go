package main

import (
	"fmt"

	"github.com/alecgard/rolewarden/internal/auth"
	"github.com/spf13/cobra"
)

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Generate an admin key for the ops API",
	RunE:  runKeygen,
}

func init() {
	rootCmd.AddCommand(keygenCmd)
}

func runKeygen(cmd *cobra.Command, args []string) error {
	plaintext, hash, err := auth.GenerateAdminKey()
	if err != nil {
		return err
	}

	fmt.Printf("Admin key (give to the operator, it is not stored):\n  %s\n\n", plaintext)
	fmt.Printf("Add the hash to your config:\n\nauth:\n  admin_key_hash: \"%s\"\n", hash)
	return nil
}
