package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"hubcache/backend"
	"hubcache/internal/utils"
)

func newMemberCmd(stdout, stderr io.Writer, cfg *Config) *cobra.Command {
	memberCmd := &cobra.Command{
		Use:   "member",
		Short: "Manage hub members",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	addCmd := &cobra.Command{
		Use:   "add <user-id>",
		Short: "Add a user to the active hub",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name, _ := cmd.Flags().GetString("name")
			email, _ := cmd.Flags().GetString("email")
			role, _ := cmd.Flags().GetString("role")
			return run(cmd, stdout, stderr, cfg, func(ctx context.Context, a *app) error {
				hubID, err := a.hub()
				if err != nil {
					return err
				}
				return doMemberAdd(ctx, a, backend.MemberInput{HubID: hubID, UserID: args[0], Name: name, Email: email, Role: role})
			})
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	addCmd.Flags().String("name", "", "Display name")
	addCmd.Flags().String("email", "", "Email address")
	addCmd.Flags().String("role", "member", "Role in the hub")

	memberCmd.AddCommand(addCmd)
	return memberCmd
}

func doMemberAdd(ctx context.Context, a *app, in backend.MemberInput) error {
	if err := in.Validate(); err != nil {
		return utils.ErrInvalidPayload(err)
	}
	raw, err := a.call(ctx, backend.ProcAddHubMember, backend.Params{
		"p_hub_id":  in.HubID,
		"p_user_id": in.UserID,
		"p_name":    in.Name,
		"p_email":   in.Email,
		"p_role":    in.Role,
	})
	if err != nil {
		return err
	}
	var member backend.Member
	if err := json.Unmarshal(raw, &member); err != nil {
		return err
	}
	return a.respond(ResultActionCompleted, map[string]any{"action": "add", "member": member}, func(w io.Writer) {
		_, _ = fmt.Fprintf(w, "Added %s to hub %s as %s\n", memberName(member), member.HubID, member.Role)
	})
}

func memberName(m backend.Member) string {
	if m.Name != "" {
		return m.Name
	}
	return m.UserID
}
