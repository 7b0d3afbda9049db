package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"drawerstore/internal/core"
	"drawerstore/internal/style"
	"drawerstore/pkg/domain"
)

// NewMuseumCommand creates the museum registry command group.
func NewMuseumCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "museum",
		Short: "Manage the museum registry",
	}
	cmd.AddCommand(newMuseumAddCommand(rootOpts))
	cmd.AddCommand(newMuseumListCommand(rootOpts))
	cmd.AddCommand(newMuseumEditCommand(rootOpts))
	cmd.AddCommand(newMuseumRemoveCommand(rootOpts))
	return cmd
}

type museumEntryView struct {
	domain.MuseumEntry
}

func (v museumEntryView) String() string {
	m := v.Museum
	return fmt.Sprintf("%s  %s, %s %s, %s", style.Dim.Render(v.ID), style.Bold.Render(m.Name), m.Number, m.Street, m.City)
}

type museumList []museumEntryView

func (l museumList) String() string {
	if len(l) == 0 {
		return style.Dim.Render("no museums")
	}
	lines := make([]string, len(l))
	for i, e := range l {
		lines[i] = e.String()
	}
	return strings.Join(lines, "\n")
}

func museumFlags(fs *pflag.FlagSet, m *domain.Museum, prefix string) {
	fs.StringVar(&m.Name, prefix+"name", "", "museum name")
	fs.StringVar(&m.City, prefix+"city", "", "city")
	fs.StringVar(&m.Street, prefix+"street", "", "street")
	fs.StringVar(&m.Number, prefix+"number", "", "street number")
}

func newMuseumAddCommand(rootOpts *RootOptions) *cobra.Command {
	var m domain.Museum
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Register a museum",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return rootOpts.withProject(cmd, func(ctx context.Context, p *core.Project, f *OutputFormatter) error {
				id, err := p.AddMuseum(ctx, m)
				if err != nil {
					return f.Fail(err)
				}
				return f.Success(museumEntryView{domain.MuseumEntry{ID: id, Museum: m}})
			})
		},
	}
	museumFlags(cmd.Flags(), &m, "")
	return cmd
}

func newMuseumListCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List registered museums",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return rootOpts.withProject(cmd, func(ctx context.Context, p *core.Project, f *OutputFormatter) error {
				entries, err := p.Museums(ctx)
				if err != nil {
					return f.Fail(err)
				}
				out := make(museumList, len(entries))
				for i, e := range entries {
					out[i] = museumEntryView{e}
				}
				return f.Success(out)
			})
		},
	}
}

func newMuseumEditCommand(rootOpts *RootOptions) *cobra.Command {
	var original, updated domain.Museum
	cmd := &cobra.Command{
		Use:   "edit",
		Short: "Replace a museum's fields",
		Long: `Replace a museum's fields.

The museum is identified by --name, --city, --street and --number. Each
--set-* flag replaces one field; unset fields keep their value.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			next := original
			overlay(&next.Name, updated.Name)
			overlay(&next.City, updated.City)
			overlay(&next.Street, updated.Street)
			overlay(&next.Number, updated.Number)
			return rootOpts.withProject(cmd, func(ctx context.Context, p *core.Project, f *OutputFormatter) error {
				id, err := p.EditMuseum(ctx, original, next)
				if err != nil {
					return f.Fail(err)
				}
				f.VerboseLog("museum keyed by %s", rootOpts.Config.MuseumEditKeying)
				return f.Success(museumEntryView{domain.MuseumEntry{ID: id, Museum: next}})
			})
		},
	}
	museumFlags(cmd.Flags(), &original, "")
	museumFlags(cmd.Flags(), &updated, "set-")
	return cmd
}

func overlay(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

type removedView struct {
	Removed bool   `json:"removed"`
	Name    string `json:"name"`
}

func (v removedView) String() string {
	if !v.Removed {
		return fmt.Sprintf("%s %s was not present", style.WarningPrefix, v.Name)
	}
	return fmt.Sprintf("%s removed %s", style.SuccessPrefix, v.Name)
}

func newMuseumRemoveCommand(rootOpts *RootOptions) *cobra.Command {
	var m domain.Museum
	cmd := &cobra.Command{
		Use:   "remove",
		Short: "Remove a museum from the registry",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return rootOpts.withProject(cmd, func(ctx context.Context, p *core.Project, f *OutputFormatter) error {
				if err := p.RemoveMuseum(ctx, m); err != nil {
					return f.Fail(err)
				}
				return f.Success(removedView{Removed: true, Name: m.Name})
			})
		},
	}
	museumFlags(cmd.Flags(), &m, "")
	return cmd
}
