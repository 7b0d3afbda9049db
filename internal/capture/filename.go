package capture

import (
	"fmt"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"
)

const (
	// ImageExt is the extension of every stored capture image.
	ImageExt = ".jpg"
	// SidecarExt is the extension of the metadata sidecar.
	SidecarExt = ".yml"
)

var lower = cases.Lower(language.Und)

// FileStem derives the shared stem of a capture's image and sidecar:
//
//	<session>_cap-<ordinal:04d>_order-<order>_species-<genus>.<species>
//
// Taxon parts are NFC normalized, lower-cased, and have runs of whitespace
// replaced by a single hyphen.
func FileStem(sessionName string, ordinal int, order, genus, species string) string {
	return fmt.Sprintf("%s_cap-%04d_order-%s_species-%s.%s",
		sessionName, ordinal, Slug(order), Slug(genus), Slug(species))
}

// Slug normalizes one taxon name for use in a file name.
func Slug(s string) string {
	s = lower.String(norm.NFC.String(s))
	s = strings.Join(strings.Fields(s), "-")
	return strings.ReplaceAll(s, "/", "-")
}
