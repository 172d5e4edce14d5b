// Package validate flags likely-corrupted raw frames for diagnostics.
// Frames are never dropped on a failed check; cheap endoscopes produce
// banding and shearing that the operator needs to see to diagnose a bad
// cable or connector.
package validate

import (
	"fmt"
	"log"
	"os"
	"strings"
)

// EnvVar selects the validation level at startup without a code change.
const EnvVar = "CLEANSCOPE_FRAME_VALIDATION"

const (
	strictRowDiffThreshold = 40.0
	moderateSizeTolerance  = 1.1
	minimalSizeTolerance   = 2.0
)

// Level is the validation strictness.
type Level int

const (
	// Strict checks size, stride alignment and row similarity.
	Strict Level = iota
	// Moderate checks size and stride alignment only.
	Moderate
	// Minimal flags only massive size mismatches.
	Minimal
	// Off disables validation.
	Off
)

func (l Level) String() string {
	switch l {
	case Strict:
		return "strict"
	case Moderate:
		return "moderate"
	case Minimal:
		return "minimal"
	case Off:
		return "off"
	}
	return fmt.Sprintf("Level(%d)", int(l))
}

// ParseLevel maps a level name to its Level, case-insensitively. Unknown
// names fall back to Strict so a typo fails safe.
func ParseLevel(s string) Level {
	switch strings.ToLower(s) {
	case "strict":
		return Strict
	case "moderate":
		return Moderate
	case "minimal":
		return Minimal
	case "off", "none", "disabled":
		return Off
	}
	log.Printf("validate: unknown validation level %q, defaulting to strict", s)
	return Strict
}

// LevelFromEnv reads the level from CLEANSCOPE_FRAME_VALIDATION, defaulting
// to Strict when unset.
func LevelFromEnv() Level {
	if s, ok := os.LookupEnv(EnvVar); ok {
		return ParseLevel(s)
	}
	return Strict
}

// Result carries the verdict and the metrics behind it. It is logged and
// discarded; validity never affects frame delivery.
type Result struct {
	Valid         bool
	RowChecked    bool
	AvgRowDiff    float64
	ActualSize    int
	ExpectedSize  int
	SizeRatio     float64
	StrideAligned bool
	FailureReason string
}

// YUY2 inspects a packed 4:2:2 frame for the corruption signatures cheap
// cameras produce: truncated or oversized frames, sizes that shear rows
// diagonally, and adjacent rows too dissimilar to be real video (banding
// from frames split mid-row).
func YUY2(data []byte, width, height, expectedSize int, level Level) Result {
	actual := len(data)
	denom := expectedSize
	if denom < 1 {
		denom = 1
	}
	r := Result{
		Valid:         true,
		ActualSize:    actual,
		ExpectedSize:  expectedSize,
		SizeRatio:     float64(actual) / float64(denom),
		StrideAligned: true,
	}
	if level == Off {
		return r
	}

	var reasons []string

	sizeValid := true
	switch level {
	case Minimal:
		sizeValid = r.SizeRatio >= 0.5 && r.SizeRatio <= minimalSizeTolerance
	case Moderate, Strict:
		sizeValid = r.SizeRatio >= 0.9 && r.SizeRatio <= moderateSizeTolerance
	}
	if !sizeValid {
		reasons = append(reasons, fmt.Sprintf("size mismatch: %d bytes (expected %d, ratio %.2f)",
			actual, expectedSize, r.SizeRatio))
	}

	stride := width * 2
	if (level == Strict || level == Moderate) && stride > 0 {
		diff := actual - expectedSize
		if diff < 0 {
			diff = -diff
		}
		r.StrideAligned = actual%stride == 0 || diff < stride
		if !r.StrideAligned {
			reasons = append(reasons, fmt.Sprintf("stride misalignment: size %d not aligned to stride %d",
				actual, stride))
		}
	}

	rowValid := true
	if level == Strict && height >= 4 && actual >= stride*4 {
		r.RowChecked = true
		r.AvgRowDiff = rowSimilarity(data, stride, height)
		if r.AvgRowDiff > strictRowDiffThreshold {
			rowValid = false
			reasons = append(reasons, fmt.Sprintf("high row difference: %.1f (threshold %v)",
				r.AvgRowDiff, strictRowDiffThreshold))
		}
	}

	r.Valid = sizeValid && r.StrideAligned && rowValid
	r.FailureReason = strings.Join(reasons, "; ")
	return r
}

// rowSimilarity averages the luminance difference between adjacent rows
// over the first few rows, sampling every 16th pixel. Real video rows
// resemble their neighbors; a large average means rows were shifted or
// interleaved from different frames.
func rowSimilarity(data []byte, stride, height int) float64 {
	rows := height - 1
	if rows > 3 {
		rows = 3
	}

	var total, samples uint64
	for row := 0; row < rows; row++ {
		r0 := row * stride
		r1 := (row + 1) * stride
		// Luminance sits at even byte offsets in YUYV, so stepping 32
		// bytes samples every 16th pixel's Y value.
		for x := 0; x < stride; x += 32 {
			if r1+x >= len(data) {
				break
			}
			d := int(data[r0+x]) - int(data[r1+x])
			if d < 0 {
				d = -d
			}
			total += uint64(d)
			samples++
		}
	}
	if samples == 0 {
		return 0
	}
	return float64(total) / float64(samples)
}
