package cli

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"drawerstore/internal/core"
	"drawerstore/internal/style"
	"drawerstore/pkg/domain"
)

// NewProjectCommand creates the project command group.
func NewProjectCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "project",
		Short: "Create and inspect the project",
	}
	cmd.AddCommand(newProjectCreateCommand(rootOpts))
	cmd.AddCommand(newProjectInfoCommand(rootOpts))
	cmd.AddCommand(newProjectCheckCommand(rootOpts))
	return cmd
}

type projectInfoView struct {
	domain.ProjectInfo
}

func (v projectInfoView) String() string {
	lines := []string{
		style.KeyValue("name", 14, v.Name),
		style.KeyValue("description", 14, v.Description),
		style.KeyValue("authors", 14, strings.Join(v.Authors, ", ")),
		style.KeyValue("date", 14, v.Date),
		style.KeyValue("root", 14, style.Dim.Render(v.Root)),
		style.KeyValue("num_captures", 14, strconv.Itoa(v.NumCaptures)),
	}
	for _, k := range slices.Sorted(maps.Keys(v.Extra)) {
		lines = append(lines, style.KeyValue(k, 14, v.Extra[k]))
	}
	return strings.Join(lines, "\n")
}

func newProjectCreateCommand(rootOpts *RootOptions) *cobra.Command {
	var info domain.ProjectInfo
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Initialize a new project in the project directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := rootOpts.formatter(cmd)
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			p, err := rootOpts.createProject(ctx, info)
			if err != nil {
				return f.Fail(err)
			}
			defer func() { _ = p.Close() }()
			created, err := p.Info(ctx)
			if err != nil {
				return f.Fail(err)
			}
			f.VerboseLog("created project %s", created.Root)
			return f.Success(projectInfoView{created})
		},
	}
	cmd.Flags().StringVar(&info.Name, "name", "", "project name")
	cmd.Flags().StringVar(&info.Description, "description", "", "project description")
	cmd.Flags().StringSliceVar(&info.Authors, "author", nil, "project author (repeatable)")
	cmd.Flags().StringVar(&info.Date, "date", "", "project date YYYY-MM-DD (default today)")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func newProjectInfoCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "Show the project configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return rootOpts.withProject(cmd, func(ctx context.Context, p *core.Project, f *OutputFormatter) error {
				info, err := p.Info(ctx)
				if err != nil {
					return f.Fail(err)
				}
				return f.Success(projectInfoView{info})
			})
		},
	}
}

type checkView struct {
	domain.Result
	Rules []string `json:"rules"`
}

func (v checkView) String() string {
	if len(v.Violations) == 0 {
		return fmt.Sprintf("%s project consistent (%s)", style.SuccessPrefix, strings.Join(v.Rules, ", "))
	}
	var b strings.Builder
	for i, viol := range v.Violations {
		if i > 0 {
			b.WriteByte('\n')
		}
		prefix := style.WarningPrefix
		if viol.Severity == domain.SeverityBlock {
			prefix = style.ErrorPrefix
		}
		fmt.Fprintf(&b, "%s %s: %s", prefix, viol.Rule, viol.Message)
		if viol.EntityID != "" {
			fmt.Fprintf(&b, " %s", style.Dim.Render(viol.EntityID))
		}
	}
	return b.String()
}

func newProjectCheckCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Check the project ledgers for consistency",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return rootOpts.withProject(cmd, func(ctx context.Context, p *core.Project, f *OutputFormatter) error {
				rules := core.DefaultRules()
				res, err := p.Check(ctx, rules...)
				if err != nil {
					return f.Fail(err)
				}
				view := checkView{Result: res, Rules: domain.NewRulesEngine(rules...).Rules()}
				if err := f.Success(view); err != nil {
					return err
				}
				if res.HasBlocking() {
					return NewExitError(ExitFailure, domain.RuleViolationError{Result: res}.Error())
				}
				return nil
			})
		},
	}
}
