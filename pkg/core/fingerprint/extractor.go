// Package fingerprint derives stable content identities from uploaded files.
// The content hash is a SHA-256 digest of the raw bytes; raster images
// additionally get a perceptual difference-hash feature vector so that
// near-duplicates can be compared by providers downstream.
package fingerprint

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"image"
	"net/http"
	"strings"

	// Raster formats the perceptual hasher understands.
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/trunet-labs/trunet/pkg/core/content"
)

const (
	// dhash grid: 9x8 luminance samples produce 64 adjacent-pixel
	// comparisons.
	dhashWidth  = 9
	dhashHeight = 8
)

// Extract computes the fingerprint for a file. Deterministic: byte-identical
// inputs always yield the same fingerprint. Fails only with MalformedInput
// when the bytes cannot be read.
func Extract(file content.FileBlob) (*content.Fingerprint, error) {
	if len(file.Bytes) == 0 {
		return nil, fmt.Errorf("%w: file %s has no readable bytes", content.ErrMalformedInput, file.OriginalName)
	}

	digest := sha256.Sum256(file.Bytes)

	mime := file.DeclaredMime
	if mime == "" || mime == "application/octet-stream" {
		mime = http.DetectContentType(file.Bytes)
	}

	fp := &content.Fingerprint{
		ContentHash: hex.EncodeToString(digest[:]),
		SizeBytes:   int64(len(file.Bytes)),
		MimeType:    mime,
	}

	if strings.HasPrefix(mime, "image/") {
		// Undecodable image bytes just skip the perceptual features;
		// the content hash alone still identifies the file.
		if features, err := perceptualFeatures(file.Bytes); err == nil {
			fp.PerceptualFeatures = features
		}
	}

	return fp, nil
}

// perceptualFeatures computes a difference hash over a downscaled grayscale
// rendering of the image. Each feature is 1 when a pixel is brighter than
// its right neighbor, 0 otherwise.
func perceptualFeatures(data []byte) ([]float64, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}

	small := image.NewGray(image.Rect(0, 0, dhashWidth, dhashHeight))
	draw.ApproxBiLinear.Scale(small, small.Bounds(), img, img.Bounds(), draw.Src, nil)

	features := make([]float64, 0, (dhashWidth-1)*dhashHeight)
	for y := 0; y < dhashHeight; y++ {
		for x := 0; x < dhashWidth-1; x++ {
			left := small.GrayAt(x, y).Y
			right := small.GrayAt(x+1, y).Y
			if left > right {
				features = append(features, 1)
			} else {
				features = append(features, 0)
			}
		}
	}
	return features, nil
}

// HammingDistance counts differing positions between two feature vectors.
// Returns -1 when the vectors are not comparable.
func HammingDistance(a, b []float64) int {
	if len(a) != len(b) || len(a) == 0 {
		return -1
	}
	dist := 0
	for i := range a {
		if a[i] != b[i] {
			dist++
		}
	}
	return dist
}
