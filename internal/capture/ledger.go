package capture

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"

	"drawerstore/internal/fsutil"
	"drawerstore/internal/layout"
	"drawerstore/pkg/domain"
)

// LedgerHeader is the fixed column order of captures.csv.
var LedgerHeader = []string{"date", "session", "capturer", "museum", "order", "family", "genus", "species", "directory"}

// ErrLedgerHeader is returned when captures.csv does not start with
// LedgerHeader.
var ErrLedgerHeader = errors.New("captures.csv header mismatch")

// InitLedger writes a captures.csv holding only the header row, replacing
// any existing file.
func InitLedger(root string) error {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(LedgerHeader); err != nil {
		return err
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return err
	}
	if err := fsutil.WriteFile(layout.LedgerPath(root), buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("writing capture ledger: %w", err)
	}
	return nil
}

// AppendLedger appends one row to captures.csv. The file must exist; errors
// from the filesystem are returned unwrapped.
func AppendLedger(root string, rec domain.CaptureRecord) error {
	f, err := os.OpenFile(layout.LedgerPath(root), os.O_WRONLY|os.O_APPEND, 0o644) //nolint:gosec // G304
	if err != nil {
		return err
	}
	w := csv.NewWriter(f)
	if err := w.Write(recordRow(rec)); err != nil {
		_ = f.Close()
		return err
	}
	w.Flush()
	if err := w.Error(); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// ReadLedger parses captures.csv into typed rows in file order.
func ReadLedger(root string) ([]domain.CaptureRecord, error) {
	f, err := os.Open(layout.LedgerPath(root)) //nolint:gosec // G304
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()
	return parseLedger(f)
}

func parseLedger(r io.Reader) ([]domain.CaptureRecord, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = len(LedgerHeader)
	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, ErrLedgerHeader
	}
	if err != nil {
		return nil, fmt.Errorf("reading capture ledger: %w", err)
	}
	if !slices.Equal(header, LedgerHeader) {
		return nil, fmt.Errorf("%w: %v", ErrLedgerHeader, header)
	}
	out := []domain.CaptureRecord{}
	for {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, fmt.Errorf("reading capture ledger: %w", err)
		}
		out = append(out, domain.CaptureRecord{
			Date: row[0], Session: row[1], Capturer: row[2], Museum: row[3],
			Order: row[4], Family: row[5], Genus: row[6], Species: row[7], Directory: row[8],
		})
	}
}

func recordRow(r domain.CaptureRecord) []string {
	return []string{r.Date, r.Session, r.Capturer, r.Museum, r.Order, r.Family, r.Genus, r.Species, r.Directory}
}
