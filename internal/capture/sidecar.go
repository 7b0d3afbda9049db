package capture

import (
	"bytes"
	"fmt"

	"gopkg.in/yaml.v3"

	"drawerstore/pkg/domain"
)

// sidecarDoc is the YAML shape written next to every image.
type sidecarDoc struct {
	SpeciesInfo domain.SpeciesInfo `yaml:"Species Info"`
	CaptureInfo captureInfo        `yaml:"Capture Info"`
}

type captureInfo struct {
	Capturer  string `yaml:"Capturer"`
	Museum    string `yaml:"Museum"`
	Session   string `yaml:"Session"`
	Capture   int    `yaml:"Capture"`
	Directory string `yaml:"Directory"`
	Date      string `yaml:"Date"`
}

// EncodeSidecar renders meta as the YAML sidecar document.
func EncodeSidecar(meta domain.CaptureMetadata) ([]byte, error) {
	doc := sidecarDoc{
		SpeciesInfo: meta.Species,
		CaptureInfo: captureInfo{
			Capturer:  meta.Capturer,
			Museum:    meta.Museum,
			Session:   meta.SessionName,
			Capture:   meta.CaptureOrdinal,
			Directory: meta.Directory,
			Date:      meta.Date,
		},
	}
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return nil, fmt.Errorf("encoding sidecar: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("encoding sidecar: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeSidecar parses a sidecar document back into capture metadata.
func DecodeSidecar(data []byte) (domain.CaptureMetadata, error) {
	var doc sidecarDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return domain.CaptureMetadata{}, fmt.Errorf("parsing sidecar: %w", err)
	}
	return domain.CaptureMetadata{
		Species:        doc.SpeciesInfo,
		Capturer:       doc.CaptureInfo.Capturer,
		Museum:         doc.CaptureInfo.Museum,
		SessionName:    doc.CaptureInfo.Session,
		CaptureOrdinal: doc.CaptureInfo.Capture,
		Directory:      doc.CaptureInfo.Directory,
		Date:           doc.CaptureInfo.Date,
	}, nil
}
