package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/d60-Lab/timeline-engine/internal/api/middleware"
	"github.com/d60-Lab/timeline-engine/internal/app"
	"github.com/d60-Lab/timeline-engine/internal/model"
)

func newAuditCommand(root *rootOptions) *cobra.Command {
	var repair bool
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Compare cached follower/following sets with the edge table",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return root.withApp(cmd.Context(), func(a *app.App) error {
				report, err := a.Engine.Auditor.Audit(cmd.Context())
				if err != nil {
					return err
				}
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				if err := enc.Encode(report); err != nil {
					return err
				}
				if report.Consistent() {
					return nil
				}
				if !repair {
					return fmt.Errorf("%d users drifted", len(report.Drifts))
				}
				_, err = a.Engine.Auditor.Rebuild(cmd.Context())
				return err
			})
		},
	}
	cmd.Flags().BoolVar(&repair, "repair", false, "rebuild the cache when drift is found")
	return cmd
}

func newRebuildCommand(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "rebuild-cache",
		Short: "Regenerate follower/following sets from the edge table",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return root.withApp(cmd.Context(), func(a *app.App) error {
				n, err := a.Engine.Auditor.Rebuild(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "rebuilt from %d edges\n", n)
				return nil
			})
		},
	}
}

func newUserCommand(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{Use: "user", Short: "Manage users"}
	add := &cobra.Command{
		Use:   "add <id> <username> [display-name]",
		Short: "Register a user",
		Args:  cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			u := &model.User{ID: args[0], Username: args[1]}
			if len(args) == 3 {
				u.DisplayName = args[2]
			}
			return root.withApp(cmd.Context(), func(a *app.App) error {
				if err := a.Engine.Users.Create(cmd.Context(), u); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "user %s created\n", u.ID)
				return nil
			})
		},
	}
	cmd.AddCommand(add)
	return cmd
}

func newTokenCommand(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "token <user-id>",
		Short: "Issue an API token for a user (requires jwt.secret)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.load()
			if err != nil {
				return err
			}
			if cfg.JWT.Secret == "" {
				return fmt.Errorf("jwt.secret is not configured")
			}
			token, err := middleware.IssueToken(cfg.JWT.Secret, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
}
