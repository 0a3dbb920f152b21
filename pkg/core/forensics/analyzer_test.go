package forensics

import (
	"testing"
	"time"

	"github.com/trunet-labs/trunet/pkg/core/content"
)

var testNow = time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)

func fixedAnalyzer() *Analyzer {
	return NewAnalyzerAt(func() time.Time { return testNow })
}

func blobAt(data []byte, modified time.Time) content.FileBlob {
	return content.FileBlob{
		Bytes:        data,
		OriginalName: "test.jpg",
		LastModified: modified,
		SizeBytes:    int64(len(data)),
	}
}

func fpFor(data []byte) *content.Fingerprint {
	return &content.Fingerprint{
		ContentHash: "deadbeefdeadbeefdeadbeef",
		SizeBytes:   int64(len(data)),
		MimeType:    "image/jpeg",
	}
}

// jpegSegment builds one FF-marker segment with a length field.
func jpegSegment(marker byte, payload []byte) []byte {
	segLen := len(payload) + 2
	seg := []byte{0xFF, marker, byte(segLen >> 8), byte(segLen & 0xFF)}
	return append(seg, payload...)
}

func quantTable(value byte) []byte {
	table := make([]byte, 65)
	for i := 1; i < 65; i++ {
		table[i] = value
	}
	return table
}

func buildJPEG(segments ...[]byte) []byte {
	data := []byte{0xFF, 0xD8}
	for _, seg := range segments {
		data = append(data, seg...)
	}
	return append(data, 0xFF, 0xD9)
}

func exifSegment() []byte {
	return jpegSegment(0xE1, []byte("Exif\x00\x00MM\x00\x2A"))
}

func buildPNG(chunks ...[]byte) []byte {
	data := []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1A, '\n'}
	for _, c := range chunks {
		data = append(data, c...)
	}
	return append(data, pngChunk("IEND", nil)...)
}

func pngChunk(chunkType string, payload []byte) []byte {
	n := len(payload)
	chunk := []byte{byte(n >> 24), byte(n >> 16), byte(n >> 8), byte(n)}
	chunk = append(chunk, chunkType...)
	chunk = append(chunk, payload...)
	return append(chunk, 0, 0, 0, 0) // crc not verified
}

func oldTime() time.Time {
	return testNow.Add(-30 * 24 * time.Hour)
}

func hasTag(tags []content.ManipulationType, want content.ManipulationType) bool {
	for _, tag := range tags {
		if tag == want {
			return true
		}
	}
	return false
}

func TestCleanJPEGIsAuthentic(t *testing.T) {
	data := buildJPEG(
		exifSegment(),
		jpegSegment(0xDB, quantTable(16)),
		jpegSegment(0xDB, quantTable(17)),
	)
	result := fixedAnalyzer().Analyze(blobAt(data, oldTime()), fpFor(data))

	if !result.Authentic {
		t.Errorf("clean JPEG should be authentic, tags: %v", result.ManipulationTypes)
	}
	if result.Confidence != 0.95 {
		t.Errorf("authentic file should carry base confidence, got %f", result.Confidence)
	}
}

func TestMetadataStripped(t *testing.T) {
	data := buildJPEG(jpegSegment(0xDB, quantTable(16)))
	result := fixedAnalyzer().Analyze(blobAt(data, oldTime()), fpFor(data))

	if result.Authentic {
		t.Error("JPEG without EXIF should not be authentic")
	}
	if !hasTag(result.ManipulationTypes, content.ManipMetadataStripped) {
		t.Errorf("expected metadata-stripped tag, got %v", result.ManipulationTypes)
	}
}

func TestEditingSoftwareDetected(t *testing.T) {
	data := buildJPEG(
		exifSegment(),
		jpegSegment(0xEE, []byte("Adobe Photoshop 2025")),
	)
	result := fixedAnalyzer().Analyze(blobAt(data, oldTime()), fpFor(data))

	if !hasTag(result.ManipulationTypes, content.ManipEditingSoftware) {
		t.Errorf("expected editing-software-detected tag, got %v", result.ManipulationTypes)
	}
}

func TestMultipleCompressionFromExtraTables(t *testing.T) {
	data := buildJPEG(
		exifSegment(),
		jpegSegment(0xDB, quantTable(16)),
		jpegSegment(0xDB, quantTable(17)),
		jpegSegment(0xDB, quantTable(40)),
	)
	result := fixedAnalyzer().Analyze(blobAt(data, oldTime()), fpFor(data))

	if !hasTag(result.ManipulationTypes, content.ManipMultiCompression) {
		t.Errorf("expected multiple-compression tag, got %v", result.ManipulationTypes)
	}
}

func TestCompressionAnomalyFromAggressiveQuantization(t *testing.T) {
	data := buildJPEG(
		exifSegment(),
		jpegSegment(0xDB, quantTable(200)),
	)
	result := fixedAnalyzer().Analyze(blobAt(data, oldTime()), fpFor(data))

	if !hasTag(result.ManipulationTypes, content.ManipCompressionAnom) {
		t.Errorf("expected compression-anomaly tag, got %v", result.ManipulationTypes)
	}
}

func TestRecentlyCreated(t *testing.T) {
	data := buildJPEG(exifSegment(), jpegSegment(0xDB, quantTable(16)))
	result := fixedAnalyzer().Analyze(blobAt(data, testNow.Add(-1*time.Hour)), fpFor(data))

	if !hasTag(result.ManipulationTypes, content.ManipRecentlyCreated) {
		t.Errorf("expected recently-created tag, got %v", result.ManipulationTypes)
	}
}

func TestPNGWithoutTextChunks(t *testing.T) {
	data := buildPNG(pngChunk("IHDR", make([]byte, 13)))
	result := fixedAnalyzer().Analyze(blobAt(data, oldTime()), fpFor(data))

	if !hasTag(result.ManipulationTypes, content.ManipMetadataStripped) {
		t.Errorf("expected metadata-stripped tag, got %v", result.ManipulationTypes)
	}

	withText := buildPNG(
		pngChunk("IHDR", make([]byte, 13)),
		pngChunk("tEXt", []byte("Comment\x00shot on camera")),
	)
	result = fixedAnalyzer().Analyze(blobAt(withText, oldTime()), fpFor(withText))
	if hasTag(result.ManipulationTypes, content.ManipMetadataStripped) {
		t.Error("PNG with tEXt chunk should not be metadata-stripped")
	}
}

func TestConfidenceDropsWithEvidence(t *testing.T) {
	one := buildJPEG(jpegSegment(0xDB, quantTable(16)))
	many := buildJPEG(
		jpegSegment(0xEE, []byte("GIMP 2.10")),
		jpegSegment(0xDB, quantTable(200)),
		jpegSegment(0xDB, quantTable(200)),
		jpegSegment(0xDB, quantTable(200)),
	)

	analyzer := fixedAnalyzer()
	light := analyzer.Analyze(blobAt(one, oldTime()), fpFor(one))
	heavy := analyzer.Analyze(blobAt(many, oldTime()), fpFor(many))

	if heavy.Confidence >= light.Confidence {
		t.Errorf("more evidence should lower confidence: light=%f heavy=%f", light.Confidence, heavy.Confidence)
	}
	if heavy.Confidence < 0.20 {
		t.Errorf("confidence should not fall below floor, got %f", heavy.Confidence)
	}
}

func TestAnalyzeDeterministic(t *testing.T) {
	data := buildJPEG(jpegSegment(0xEE, []byte("Snapseed")))
	analyzer := fixedAnalyzer()

	first := analyzer.Analyze(blobAt(data, oldTime()), fpFor(data))
	second := analyzer.Analyze(blobAt(data, oldTime()), fpFor(data))

	if first.Confidence != second.Confidence {
		t.Error("repeated analysis must yield identical confidence")
	}
	if len(first.ManipulationTypes) != len(second.ManipulationTypes) {
		t.Error("repeated analysis must yield identical tags")
	}
}

func TestTruncatedFileDegradesGracefully(t *testing.T) {
	// Segment header claims more bytes than exist.
	data := []byte{0xFF, 0xD8, 0xFF, 0xE1, 0xFF, 0xFF, 0x01}
	result := fixedAnalyzer().Analyze(blobAt(data, oldTime()), fpFor(data))
	if result == nil {
		t.Fatal("truncated file must still produce a result")
	}
}

func TestMetadataSnapshot(t *testing.T) {
	data := buildJPEG(exifSegment(), jpegSegment(0xDB, quantTable(16)))
	fp := fpFor(data)
	blob := blobAt(data, oldTime())
	result := fixedAnalyzer().Analyze(blob, fp)

	if result.Metadata.SizeBytes != blob.SizeBytes {
		t.Errorf("metadata size mismatch: %d vs %d", result.Metadata.SizeBytes, blob.SizeBytes)
	}
	if result.Metadata.HashPrefix != fp.ContentHash[:12] {
		t.Errorf("expected 12-char hash prefix, got %s", result.Metadata.HashPrefix)
	}
}
