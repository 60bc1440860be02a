// rolectl manages the role claim on stored credentials. The claim is the
// single source of truth for authorization; a change here takes effect on the
// holder's next forced token refresh without reissuing tokens.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"investsmart.app/internal/identity"
	"investsmart.app/internal/rbac"
	"investsmart.app/internal/store/pg"
)

var version = "0.3.1"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var dsn string

	root := &cobra.Command{
		Use:           "rolectl",
		Short:         "Manage user role claims",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&dsn, "dsn", os.Getenv("INVESTSMART_PG_DSN"), "PostgreSQL DSN")

	root.AddCommand(newListCmd(&dsn))
	root.AddCommand(newSetCmd(&dsn))
	root.AddCommand(newFixAllCmd(&dsn))
	root.AddCommand(newRemoveAdminCmd(&dsn))
	return root
}

func openStore(dsn string) (*pg.Store, error) {
	if dsn == "" {
		return nil, errors.New("missing DSN: provide via --dsn or INVESTSMART_PG_DSN")
	}
	return pg.Open(dsn)
}

func cmdContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 30*time.Second)
}

func newListCmd(dsn *string) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List credentials and their role claims",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore(*dsn)
			if err != nil {
				return err
			}
			defer store.Close()

			ctx, cancel := cmdContext()
			defer cancel()
			creds, err := store.Credentials().List(ctx, 1000)
			if err != nil {
				return fmt.Errorf("list credentials: %w", err)
			}

			fmt.Printf("%-40s %-10s %s\n", "EMAIL", "ROLE", "UID")
			for _, cred := range creds {
				role := cred.RoleClaim
				if role == "" {
					role = "(none)"
				}
				fmt.Printf("%-40s %-10s %s\n", cred.Email, role, cred.UID)
			}
			return nil
		},
	}
}

func newSetCmd(dsn *string) *cobra.Command {
	return &cobra.Command{
		Use:   "set <email> <role>",
		Short: "Set a user's role claim (admin or user)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			email, role := strings.ToLower(strings.TrimSpace(args[0])), strings.TrimSpace(args[1])
			if role != string(rbac.RoleAdmin) && role != string(rbac.RoleUser) {
				return fmt.Errorf("role must be %q or %q", rbac.RoleAdmin, rbac.RoleUser)
			}
			return setRole(*dsn, email, role)
		},
	}
}

func newRemoveAdminCmd(dsn *string) *cobra.Command {
	return &cobra.Command{
		Use:   "remove-admin <email>",
		Short: "Demote an administrator to an ordinary user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return setRole(*dsn, strings.ToLower(strings.TrimSpace(args[0])), string(rbac.RoleUser))
		},
	}
}

func newFixAllCmd(dsn *string) *cobra.Command {
	return &cobra.Command{
		Use:   "fix-all",
		Short: "Assign the user role to every credential without a role claim",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore(*dsn)
			if err != nil {
				return err
			}
			defer store.Close()

			ctx, cancel := cmdContext()
			defer cancel()
			creds, err := store.Credentials().List(ctx, 1000)
			if err != nil {
				return fmt.Errorf("list credentials: %w", err)
			}

			var fixed int
			for _, cred := range creds {
				if cred.RoleClaim != "" {
					continue
				}
				if err := store.Credentials().SetRoleClaim(ctx, cred.UID, string(rbac.RoleUser)); err != nil {
					return fmt.Errorf("fix %s: %w", cred.Email, err)
				}
				fixed++
			}
			fmt.Printf("fixed %d credential(s)\n", fixed)
			return nil
		},
	}
}

func setRole(dsn, email, role string) error {
	store, err := openStore(dsn)
	if err != nil {
		return err
	}
	defer store.Close()

	ctx, cancel := cmdContext()
	defer cancel()
	cred, err := store.Credentials().FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, identity.ErrNotFound) {
			return fmt.Errorf("no credential for %s", email)
		}
		return err
	}
	if err := store.Credentials().SetRoleClaim(ctx, cred.UID, role); err != nil {
		return err
	}
	fmt.Printf("%s -> %s\n", email, role)
	return nil
}
