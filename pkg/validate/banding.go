package validate

import (
	"math/cmplx"

	"github.com/mjibson/go-dsp/fft"
)

const (
	bandingMinRows  = 16
	bandingStrength = 0.3
)

// BandingResult describes periodic horizontal banding found in a frame.
// Period is the band cycle length in rows; Strength is the share of
// spectral energy in the dominant frequency.
type BandingResult struct {
	Detected bool
	Period   float64
	Strength float64
}

// Banding looks for periodic horizontal bands in a packed 4:2:2 frame.
// Stride misalignment repeats displaced content every few rows, so the FFT
// of per-row mean luminance concentrates in one bin; real scene content
// spreads across the spectrum. The period tells the operator how many rows
// the stream slips per cycle.
func Banding(data []byte, width, height int) BandingResult {
	stride := width * 2
	if stride <= 0 {
		return BandingResult{}
	}
	rows := len(data) / stride
	if rows > height {
		rows = height
	}
	if rows < bandingMinRows {
		return BandingResult{}
	}

	means := make([]complex128, rows)
	for row := 0; row < rows; row++ {
		base := row * stride
		var total, samples int
		// Luminance sits at even byte offsets in YUYV; stepping 8 bytes
		// samples every 4th pixel's Y value.
		for x := 0; x < stride; x += 8 {
			total += int(data[base+x])
			samples++
		}
		means[row] = complex(float64(total)/float64(samples), 0)
	}

	// Remove the DC offset so bin 0 does not swamp the band frequencies.
	var dc float64
	for _, m := range means {
		dc += real(m)
	}
	dc /= float64(rows)
	for i := range means {
		means[i] -= complex(dc, 0)
	}

	spectrum := fft.FFT(means)

	var peak, total float64
	var peakBin int
	for k := 1; k <= rows/2; k++ {
		mag := cmplx.Abs(spectrum[k])
		total += mag
		if mag > peak {
			peak = mag
			peakBin = k
		}
	}
	if peakBin == 0 || total == 0 {
		return BandingResult{}
	}

	r := BandingResult{
		Period:   float64(rows) / float64(peakBin),
		Strength: peak / total,
	}
	r.Detected = r.Strength >= bandingStrength
	return r
}
