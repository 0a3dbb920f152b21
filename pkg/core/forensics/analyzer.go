// Package forensics inspects file bytes and metadata for manipulation
// indicators. Detection is purely structural: every signal comes from an
// observable byte pattern, and the confidence score is a fixed function of
// which signals fired.
package forensics

import (
	"bytes"
	"time"

	"github.com/trunet-labs/trunet/pkg/core/content"
)

// Signal weights. Confidence in the authenticity assessment drops as
// heavier evidence accumulates.
var signalWeights = map[content.ManipulationType]float64{
	content.ManipMetadataStripped: 0.15,
	content.ManipMultiCompression: 0.25,
	content.ManipEditingSoftware:  0.30,
	content.ManipCompressionAnom:  0.20,
	content.ManipRecentlyCreated:  0.10,
}

const (
	baseConfidence = 0.95
	minConfidence  = 0.20

	// Files modified within this window are flagged as freshly created,
	// which alone is weak evidence but compounds with other signals.
	recentWindow = 24 * time.Hour
)

// Known editing-tool identifiers that appear in embedded JPEG/PNG metadata.
var editorSignatures = [][]byte{
	[]byte("Adobe Photoshop"),
	[]byte("Adobe Lightroom"),
	[]byte("GIMP"),
	[]byte("Snapseed"),
	[]byte("PicsArt"),
	[]byte("Affinity Photo"),
	[]byte("Pixelmator"),
	[]byte("paint.net"),
}

// Analyzer detects manipulation indicators in file bytes.
type Analyzer struct {
	now func() time.Time
}

// NewAnalyzer creates an analyzer using the wall clock.
func NewAnalyzer() *Analyzer {
	return &Analyzer{now: time.Now}
}

// NewAnalyzerAt creates an analyzer with a fixed clock, for tests.
func NewAnalyzerAt(now func() time.Time) *Analyzer {
	return &Analyzer{now: now}
}

// Analyze inspects a file and its fingerprint for manipulation indicators.
// Never fails: unreadable structures degrade to fewer detected tags.
func (a *Analyzer) Analyze(file content.FileBlob, fp *content.Fingerprint) *content.ForensicResult {
	var tags []content.ManipulationType

	switch {
	case isJPEG(file.Bytes):
		tags = a.analyzeJPEG(file.Bytes)
	case isPNG(file.Bytes):
		tags = a.analyzePNG(file.Bytes)
	}

	if !file.LastModified.IsZero() && a.now().Sub(file.LastModified) < recentWindow {
		tags = append(tags, content.ManipRecentlyCreated)
	}

	confidence := baseConfidence
	for _, tag := range tags {
		confidence -= signalWeights[tag]
	}
	if confidence < minConfidence {
		confidence = minConfidence
	}

	hashPrefix := fp.ContentHash
	if len(hashPrefix) > 12 {
		hashPrefix = hashPrefix[:12]
	}

	return &content.ForensicResult{
		Authentic:         len(tags) == 0,
		Confidence:        confidence,
		ManipulationTypes: tags,
		Metadata: content.FileMetadata{
			SizeBytes:    file.SizeBytes,
			MimeType:     fp.MimeType,
			LastModified: file.LastModified,
			HashPrefix:   hashPrefix,
		},
	}
}

func isJPEG(data []byte) bool {
	return len(data) > 3 && data[0] == 0xFF && data[1] == 0xD8 && data[2] == 0xFF
}

func isPNG(data []byte) bool {
	return bytes.HasPrefix(data, []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1A, '\n'})
}

// analyzeJPEG walks the marker segments of a JPEG stream and collects
// manipulation indicators. Truncated or corrupt segment tables end the walk
// early with whatever was found so far.
func (a *Analyzer) analyzeJPEG(data []byte) []content.ManipulationType {
	var tags []content.ManipulationType

	hasEXIF := false
	dqtCount := 0
	sosCount := 0

	i := 2
	for i+4 <= len(data) {
		if data[i] != 0xFF {
			break
		}
		marker := data[i+1]

		// Standalone markers carry no length field.
		if marker == 0xD8 || (marker >= 0xD0 && marker <= 0xD7) || marker == 0x01 {
			i += 2
			continue
		}
		if marker == 0xD9 { // EOI
			break
		}

		segLen := int(data[i+2])<<8 | int(data[i+3])
		if segLen < 2 || i+2+segLen > len(data) {
			break
		}
		segment := data[i+4 : i+2+segLen]

		switch marker {
		case 0xE1: // APP1
			if bytes.HasPrefix(segment, []byte("Exif\x00\x00")) {
				hasEXIF = true
			}
		case 0xDB: // DQT
			dqtCount++
		case 0xDA: // SOS
			sosCount++
			// Entropy-coded data follows; scan for the next marker.
			i = skipEntropyCoded(data, i+2+segLen)
			continue
		}

		i += 2 + segLen
	}

	if !hasEXIF {
		tags = append(tags, content.ManipMetadataStripped)
	}
	// A camera-original JPEG carries two quantization tables (luma/chroma).
	// Re-encoding tools often emit extra tables or extra scans.
	if dqtCount > 2 || sosCount > 1 {
		tags = append(tags, content.ManipMultiCompression)
	}
	if containsEditorSignature(data) {
		tags = append(tags, content.ManipEditingSoftware)
	}
	if dqtCount > 0 && hasLowQualityTables(data) {
		tags = append(tags, content.ManipCompressionAnom)
	}

	return tags
}

// skipEntropyCoded advances past entropy-coded scan data to the next
// marker that is not a restart marker or byte-stuffed 0xFF00.
func skipEntropyCoded(data []byte, from int) int {
	for i := from; i+1 < len(data); i++ {
		if data[i] != 0xFF {
			continue
		}
		next := data[i+1]
		if next == 0x00 || (next >= 0xD0 && next <= 0xD7) {
			continue
		}
		return i
	}
	return len(data)
}

// hasLowQualityTables detects aggressively quantized DQT entries, a sign
// the file went through a heavy recompression pass.
func hasLowQualityTables(data []byte) bool {
	i := 2
	for i+4 <= len(data) {
		if data[i] != 0xFF {
			break
		}
		marker := data[i+1]
		if marker == 0xD8 || (marker >= 0xD0 && marker <= 0xD7) || marker == 0x01 {
			i += 2
			continue
		}
		if marker == 0xD9 || marker == 0xDA {
			break
		}
		segLen := int(data[i+2])<<8 | int(data[i+3])
		if segLen < 2 || i+2+segLen > len(data) {
			break
		}
		if marker == 0xDB {
			table := data[i+4 : i+2+segLen]
			// 8-bit table: 1 precision byte + 64 entries. Values above
			// 100 across the table indicate very low encode quality.
			if len(table) >= 65 {
				high := 0
				for _, v := range table[1:65] {
					if v > 100 {
						high++
					}
				}
				if high > 16 {
					return true
				}
			}
		}
		i += 2 + segLen
	}
	return false
}

// analyzePNG walks PNG chunks looking for stripped metadata and editor
// signatures in text chunks.
func (a *Analyzer) analyzePNG(data []byte) []content.ManipulationType {
	var tags []content.ManipulationType

	hasText := false

	i := 8
	for i+8 <= len(data) {
		chunkLen := int(data[i])<<24 | int(data[i+1])<<16 | int(data[i+2])<<8 | int(data[i+3])
		if chunkLen < 0 || i+8+chunkLen > len(data) {
			break
		}
		chunkType := string(data[i+4 : i+8])

		switch chunkType {
		case "tEXt", "zTXt", "iTXt", "tIME", "eXIf":
			hasText = true
		case "IEND":
			i = len(data)
			continue
		}

		i += 8 + chunkLen + 4 // length + type + data + crc
	}

	if !hasText {
		tags = append(tags, content.ManipMetadataStripped)
	}
	if containsEditorSignature(data) {
		tags = append(tags, content.ManipEditingSoftware)
	}
	return tags
}

func containsEditorSignature(data []byte) bool {
	for _, sig := range editorSignatures {
		if bytes.Contains(data, sig) {
			return true
		}
	}
	return false
}
