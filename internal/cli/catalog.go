package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"drawerstore/internal/core"
	"drawerstore/internal/infra/persistence/sqlite"
	"drawerstore/internal/style"
)

// NewCatalogCommand creates the capture catalog command group. The catalog
// is a SQLite index derived from captures.csv.
func NewCatalogCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "Index and search captures",
	}
	cmd.AddCommand(newCatalogRebuildCommand(rootOpts))
	cmd.AddCommand(newCatalogSearchCommand(rootOpts))
	return cmd
}

type rebuildView struct {
	Path     string `json:"path"`
	Captures int    `json:"captures"`
}

func (v rebuildView) String() string {
	return fmt.Sprintf("%s indexed %d capture(s) %s", style.SuccessPrefix, v.Captures, style.Dim.Render(v.Path))
}

func (o *RootOptions) openCatalog(ctx context.Context, p *core.Project) (*sqlite.Catalog, error) {
	return sqlite.Open(ctx, o.Config.CatalogFile(p.Root()))
}

// rebuildCatalog reloads the catalog from the capture ledger.
func rebuildCatalog(ctx context.Context, p *core.Project, cat *sqlite.Catalog) (int, error) {
	records, err := p.Captures(ctx)
	if err != nil {
		return 0, err
	}
	if err := cat.Rebuild(ctx, records); err != nil {
		return 0, err
	}
	return cat.Count(ctx)
}

func newCatalogRebuildCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "rebuild",
		Short: "Rebuild the catalog from captures.csv",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return rootOpts.withProject(cmd, func(ctx context.Context, p *core.Project, f *OutputFormatter) error {
				cat, err := rootOpts.openCatalog(ctx, p)
				if err != nil {
					return f.Fail(err)
				}
				defer func() { _ = cat.Close() }()
				n, err := rebuildCatalog(ctx, p, cat)
				if err != nil {
					return f.Fail(err)
				}
				return f.Success(rebuildView{Path: cat.Path(), Captures: n})
			})
		},
	}
}

func newCatalogSearchCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		q       sqlite.Query
		rebuild bool
	)
	cmd := &cobra.Command{
		Use:   "search",
		Short: "Search indexed captures by taxon or session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return rootOpts.withProject(cmd, func(ctx context.Context, p *core.Project, f *OutputFormatter) error {
				cat, err := rootOpts.openCatalog(ctx, p)
				if err != nil {
					return f.Fail(err)
				}
				defer func() { _ = cat.Close() }()
				if rebuild {
					n, err := rebuildCatalog(ctx, p, cat)
					if err != nil {
						return f.Fail(err)
					}
					f.VerboseLog("indexed %d capture(s)", n)
				}
				records, err := cat.Search(ctx, q)
				if err != nil {
					return f.Fail(err)
				}
				return f.Success(recordList(records))
			})
		},
	}
	cmd.Flags().StringVar(&q.Order, "order", "", "match taxonomic order")
	cmd.Flags().StringVar(&q.Family, "family", "", "match family")
	cmd.Flags().StringVar(&q.Genus, "genus", "", "match genus")
	cmd.Flags().StringVar(&q.Species, "species", "", "match species epithet")
	cmd.Flags().StringVar(&q.Session, "session", "", "match session name")
	cmd.Flags().IntVar(&q.Limit, "limit", 0, "maximum results (0 for all)")
	cmd.Flags().BoolVar(&rebuild, "rebuild", false, "rebuild the catalog before searching")
	return cmd
}
