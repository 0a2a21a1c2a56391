package main

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/smallbiznis/simstore/internal/authorization"
	"github.com/spf13/cobra"
)

// hashKeyCmd mints an operator key. The printed entry goes into
// ADMIN_API_KEYS; the token is handed to the operator once.
func hashKeyCmd() *cobra.Command {
	var (
		role   string
		secret string
	)

	cmd := &cobra.Command{
		Use:   "hash-key [name]",
		Short: "Generate an admin API key entry for ADMIN_API_KEYS",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := strings.TrimSpace(args[0])
			if name == "" || strings.ContainsAny(name, ".:") {
				return fmt.Errorf("key name must be non-empty and must not contain '.' or ':'")
			}
			if role != authorization.RoleAdmin && role != authorization.RoleSupport {
				return fmt.Errorf("role must be %q or %q", authorization.RoleAdmin, authorization.RoleSupport)
			}
			if secret == "" {
				buf := make([]byte, 24)
				if _, err := rand.Read(buf); err != nil {
					return err
				}
				secret = hex.EncodeToString(buf)
			}

			hash, err := authorization.HashSecret(secret)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "entry: %s:%s:%s\n", name, role, hash)
			fmt.Fprintf(out, "token: %s.%s\n", name, secret)
			return nil
		},
	}

	cmd.Flags().StringVar(&role, "role", authorization.RoleSupport, "operator role (admin or support)")
	cmd.Flags().StringVar(&secret, "secret", "", "use this secret instead of a random one")
	return cmd
}
