package cli

import (
	"context"
	"fmt"
	"image"
	_ "image/jpeg" // register decoders for capture add
	_ "image/png"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"drawerstore/internal/capture"
	"drawerstore/internal/core"
	"drawerstore/internal/style"
	"drawerstore/pkg/domain"
)

// NewCaptureCommand creates the capture command group.
func NewCaptureCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "capture",
		Short: "Ingest and inspect captures",
	}
	cmd.AddCommand(newCaptureAddCommand(rootOpts))
	cmd.AddCommand(newCaptureListCommand(rootOpts))
	cmd.AddCommand(newCaptureShowCommand(rootOpts))
	return cmd
}

type captureView struct {
	capture.Result
	NumCaptures int `json:"project_num_captures"`
}

func (v captureView) String() string {
	return fmt.Sprintf("%s %s #%d %s\n  %s %s\n  %s %s",
		style.SuccessPrefix, v.Session.Name, v.Metadata.CaptureOrdinal, v.Metadata.Species.Label(),
		style.ArrowPrefix, v.Image.Key,
		style.ArrowPrefix, v.Sidecar.Key)
}

type recordList []domain.CaptureRecord

func (l recordList) String() string {
	if len(l) == 0 {
		return style.Dim.Render("no captures")
	}
	lines := make([]string, len(l))
	for i, r := range l {
		lines[i] = fmt.Sprintf("%s  %s  %s %s %s %s  %s",
			r.Date, style.Bold.Render(r.Session), r.Order, r.Family, r.Genus, r.Species, style.Dim.Render(r.Directory))
	}
	return strings.Join(lines, "\n")
}

type metadataView struct {
	domain.CaptureMetadata
}

func (v metadataView) String() string {
	return strings.Join([]string{
		style.KeyValue("species", 10, v.Species.Label()),
		style.KeyValue("session", 10, fmt.Sprintf("%s #%d", v.SessionName, v.CaptureOrdinal)),
		style.KeyValue("capturer", 10, v.Capturer),
		style.KeyValue("museum", 10, v.Museum),
		style.KeyValue("date", 10, v.Date),
		style.KeyValue("directory", 10, style.Dim.Render(v.Directory)),
	}, "\n")
}

func newCaptureAddCommand(rootOpts *RootOptions) *cobra.Command {
	var meta domain.CaptureMetadata
	cmd := &cobra.Command{
		Use:   "add <session-id> <image-file>",
		Short: "Store an image as the next capture of a session",
		Long: `Store an image as the next capture of a session.

The image (JPEG or PNG) is re-encoded as JPEG and written with a YAML
sidecar into the session directory, and a row is appended to captures.csv.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return rootOpts.withProject(cmd, func(ctx context.Context, p *core.Project, f *OutputFormatter) error {
				img, err := decodeImage(args[1])
				if err != nil {
					return f.Fail(err)
				}
				f.VerboseLog("decoded %s (%dx%d)", args[1], img.Bounds().Dx(), img.Bounds().Dy())
				res, info, err := p.PostCapture(ctx, args[0], img, meta)
				if err != nil {
					return f.Fail(err)
				}
				return f.Success(captureView{Result: res, NumCaptures: info.NumCaptures})
			})
		},
	}
	cmd.Flags().StringVar(&meta.Species.Order, "order", "", "taxonomic order")
	cmd.Flags().StringVar(&meta.Species.Family, "family", "", "taxonomic family")
	cmd.Flags().StringVar(&meta.Species.Genus, "genus", "", "genus")
	cmd.Flags().StringVar(&meta.Species.Species, "species", "", "species epithet")
	cmd.Flags().StringVar(&meta.Capturer, "capturer", "", "capturer (default the session's)")
	cmd.Flags().StringVar(&meta.Museum, "museum", "", "museum (default the session's)")
	return cmd
}

func decodeImage(path string) (image.Image, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = fh.Close() }()
	img, _, err := image.Decode(fh)
	if err != nil {
		return nil, fmt.Errorf("decoding %s: %w", path, err)
	}
	return img, nil
}

func newCaptureListCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the captures.csv ledger",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return rootOpts.withProject(cmd, func(ctx context.Context, p *core.Project, f *OutputFormatter) error {
				records, err := p.Captures(ctx)
				if err != nil {
					return f.Fail(err)
				}
				return f.Success(recordList(records))
			})
		},
	}
}

func newCaptureShowCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show <image-key>",
		Short: "Show the sidecar metadata of a capture",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return rootOpts.withProject(cmd, func(ctx context.Context, p *core.Project, f *OutputFormatter) error {
				meta, err := p.CaptureMetadata(ctx, args[0])
				if err != nil {
					return f.Fail(err)
				}
				return f.Success(metadataView{meta})
			})
		},
	}
}
