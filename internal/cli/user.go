package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"drawerstore/internal/core"
	"drawerstore/internal/style"
	"drawerstore/pkg/domain"
)

// NewUserCommand creates the credential vault command group.
func NewUserCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage project users",
	}
	cmd.AddCommand(newUserAddCommand(rootOpts))
	cmd.AddCommand(newUserListCommand(rootOpts))
	cmd.AddCommand(newUserRemoveCommand(rootOpts))
	cmd.AddCommand(newUserRoleCommand(rootOpts))
	cmd.AddCommand(newUserPasswdCommand(rootOpts))
	cmd.AddCommand(newUserVerifyCommand(rootOpts))
	cmd.AddCommand(newUserAdminsCommand(rootOpts))
	return cmd
}

type identityView struct {
	domain.Identity
}

func (v identityView) String() string {
	role := v.Role
	if v.IsAdmin() {
		role = style.Bold.Render(role)
	}
	return fmt.Sprintf("%s  %s", v.Username, role)
}

type identityList []identityView

func (l identityList) String() string {
	if len(l) == 0 {
		return style.Dim.Render("no users")
	}
	lines := make([]string, len(l))
	for i, u := range l {
		lines[i] = u.String()
	}
	return strings.Join(lines, "\n")
}

type doneView struct {
	Username string `json:"username"`
	Action   string `json:"action"`
}

func (v doneView) String() string {
	return fmt.Sprintf("%s %s %s", style.SuccessPrefix, v.Action, v.Username)
}

func newUserAddCommand(rootOpts *RootOptions) *cobra.Command {
	var u domain.User
	cmd := &cobra.Command{
		Use:   "add <username>",
		Short: "Add a user to the credential vault",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			u.Username = args[0]
			return rootOpts.withProject(cmd, func(ctx context.Context, p *core.Project, f *OutputFormatter) error {
				if err := p.AddUser(ctx, u); err != nil {
					return f.Fail(err)
				}
				return f.Success(doneView{Username: u.Username, Action: "added"})
			})
		},
	}
	cmd.Flags().StringVar(&u.Password, "password", "", "password")
	cmd.Flags().StringVar(&u.Role, "role", "", "role (admin or any other label)")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}

func newUserListCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List usernames and roles",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return rootOpts.withProject(cmd, func(ctx context.Context, p *core.Project, f *OutputFormatter) error {
				users, err := p.Users(ctx)
				if err != nil {
					return f.Fail(err)
				}
				out := make(identityList, len(users))
				for i, u := range users {
					out[i] = identityView{domain.Identity{Username: u.Username, Role: u.Role}}
				}
				return f.Success(out)
			})
		},
	}
}

func newUserRemoveCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <username>",
		Short: "Remove a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return rootOpts.withProject(cmd, func(ctx context.Context, p *core.Project, f *OutputFormatter) error {
				removed, err := p.RemoveUser(ctx, args[0])
				if err != nil {
					return f.Fail(err)
				}
				return f.Success(removedView{Removed: removed, Name: args[0]})
			})
		},
	}
}

func newUserRoleCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "role <username> <role>",
		Short: "Change a user's role",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return rootOpts.withProject(cmd, func(ctx context.Context, p *core.Project, f *OutputFormatter) error {
				if err := p.ChangeUserRole(ctx, args[0], args[1]); err != nil {
					return f.Fail(err)
				}
				return f.Success(doneView{Username: args[0], Action: "set role " + args[1] + " for"})
			})
		},
	}
}

func newUserPasswdCommand(rootOpts *RootOptions) *cobra.Command {
	var role, oldPassword, newPassword string
	cmd := &cobra.Command{
		Use:   "passwd <username>",
		Short: "Replace a user's password",
		Long: `Replace a user's password after checking the old one.

The role is rewritten with the password; without --role the current role
is kept.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			username := args[0]
			return rootOpts.withProject(cmd, func(ctx context.Context, p *core.Project, f *OutputFormatter) error {
				r := role
				if r == "" {
					users, err := p.Users(ctx)
					if err != nil {
						return f.Fail(err)
					}
					for _, u := range users {
						if u.Username == username {
							r = u.Role
						}
					}
				}
				if err := p.ResetPassword(ctx, username, r, oldPassword, newPassword); err != nil {
					return f.Fail(err)
				}
				return f.Success(doneView{Username: username, Action: "changed password for"})
			})
		},
	}
	cmd.Flags().StringVar(&role, "role", "", "role to store with the new password")
	cmd.Flags().StringVar(&oldPassword, "old", "", "current password")
	cmd.Flags().StringVar(&newPassword, "new", "", "new password")
	_ = cmd.MarkFlagRequired("old")
	_ = cmd.MarkFlagRequired("new")
	return cmd
}

type verifyView struct {
	Valid    bool             `json:"valid"`
	Identity *domain.Identity `json:"identity,omitempty"`
}

func (v verifyView) String() string {
	if !v.Valid {
		return style.ErrorPrefix + " invalid credentials"
	}
	return fmt.Sprintf("%s %s", style.SuccessPrefix, identityView{*v.Identity})
}

func newUserVerifyCommand(rootOpts *RootOptions) *cobra.Command {
	var password string
	cmd := &cobra.Command{
		Use:   "verify <username>",
		Short: "Check a username and password",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return rootOpts.withProject(cmd, func(ctx context.Context, p *core.Project, f *OutputFormatter) error {
				id, ok, err := p.VerifyCredentials(ctx, args[0], password)
				if err != nil {
					return f.Fail(err)
				}
				if !ok {
					_ = f.Success(verifyView{})
					return NewExitError(ExitFailure, "invalid credentials")
				}
				return f.Success(verifyView{Valid: true, Identity: &id})
			})
		},
	}
	cmd.Flags().StringVar(&password, "password", "", "password")
	return cmd
}

type adminCount struct {
	Admins int `json:"admins"`
}

func (a adminCount) String() string { return fmt.Sprintf("%d admin(s)", a.Admins) }

func newUserAdminsCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "admins",
		Short: "Count users with the admin role",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return rootOpts.withProject(cmd, func(ctx context.Context, p *core.Project, f *OutputFormatter) error {
				n, err := p.CountAdmins(ctx)
				if err != nil {
					return f.Fail(err)
				}
				return f.Success(adminCount{n})
			})
		},
	}
}
