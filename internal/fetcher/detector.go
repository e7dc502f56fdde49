package fetcher

import "bytes"

// spaMarkers are markup fragments that indicate a client-rendered page whose
// probe body carries little of the visible text.
var spaMarkers = [][]byte{
	[]byte("__next"),
	[]byte(`id="root"`),
	[]byte(`id="app"`),
	[]byte("data-reactroot"),
}

// ThinContentDetector decides when an HTML probe result is too thin to trust
// and a headless render is warranted.
type ThinContentDetector struct {
	minBodySize int
}

// NewThinContentDetector builds a detector; threshold zero selects a default.
func NewThinContentDetector(minBodySize int) *ThinContentDetector {
	if minBodySize == 0 {
		minBodySize = 2048
	}
	return &ThinContentDetector{minBodySize: minBodySize}
}

// ShouldPromote reports whether a headless fetch should replace the probe.
func (d *ThinContentDetector) ShouldPromote(resp RawResponse, extractedText string) bool {
	if len(resp.Body) == 0 {
		return true
	}
	if len(extractedText) == 0 {
		return true
	}
	// A large markup body that yields almost no text is a rendering shell.
	if len(resp.Body) >= d.minBodySize && len(extractedText)*20 < len(resp.Body) {
		return true
	}
	for _, marker := range spaMarkers {
		if bytes.Contains(resp.Body, marker) {
			return true
		}
	}
	return false
}
