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

// NewSessionCommand creates the session command group.
func NewSessionCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Create and list capture sessions",
	}
	cmd.AddCommand(newSessionCreateCommand(rootOpts))
	cmd.AddCommand(newSessionListCommand(rootOpts))
	cmd.AddCommand(newSessionShowCommand(rootOpts))
	return cmd
}

// sessionView exposes the ledger key, which the stored record omits.
type sessionView struct {
	ID string `json:"id"`
	domain.Session
}

func newSessionView(s domain.Session) sessionView { return sessionView{ID: s.ID, Session: s} }

func (v sessionView) String() string {
	return fmt.Sprintf("%s %s  %s  %s  %s  captures=%d",
		style.Bold.Render(v.Name), style.Dim.Render(v.ID), v.Date, v.Capturer, v.Museum, v.NumCaptures)
}

type sessionList []sessionView

func (l sessionList) String() string {
	if len(l) == 0 {
		return style.Dim.Render("no sessions")
	}
	lines := make([]string, len(l))
	for i, s := range l {
		lines[i] = s.String()
	}
	return strings.Join(lines, "\n")
}

func newSessionCreateCommand(rootOpts *RootOptions) *cobra.Command {
	var in domain.NewSession
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Start a new capture session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return rootOpts.withProject(cmd, func(ctx context.Context, p *core.Project, f *OutputFormatter) error {
				s, err := p.CreateSession(ctx, in)
				if err != nil {
					return f.Fail(err)
				}
				f.VerboseLog("session directory %s", s.SessionDir)
				return f.Success(newSessionView(s))
			})
		},
	}
	cmd.Flags().StringVar(&in.Capturer, "capturer", "", "person operating the imaging rig")
	cmd.Flags().StringVar(&in.Museum, "museum", "", "museum holding the drawers")
	cmd.Flags().StringVar(&in.Collection, "collection", "", "collection name")
	return cmd
}

func newSessionListCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List sessions by name",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return rootOpts.withProject(cmd, func(ctx context.Context, p *core.Project, f *OutputFormatter) error {
				sessions, err := p.Sessions(ctx)
				if err != nil {
					return f.Fail(err)
				}
				out := make(sessionList, len(sessions))
				for i, s := range sessions {
					out[i] = newSessionView(s)
				}
				return f.Success(out)
			})
		},
	}
}

func newSessionShowCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show <session-id>",
		Short: "Show one session and its captures",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return rootOpts.withProject(cmd, func(ctx context.Context, p *core.Project, f *OutputFormatter) error {
				s, err := p.Session(ctx, args[0])
				if err != nil {
					return f.Fail(err)
				}
				return f.Success(sessionDetail{newSessionView(s)})
			})
		},
	}
}

type sessionDetail struct {
	sessionView
}

func (d sessionDetail) String() string {
	var b strings.Builder
	b.WriteString(d.sessionView.String())
	for _, c := range d.Captures {
		fmt.Fprintf(&b, "\n  %s %s", style.ArrowPrefix, c)
	}
	return b.String()
}
