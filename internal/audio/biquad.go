package audio

import "math"

// BandPass is a constant-0dB-peak-gain band-pass biquad filter, applied to
// the playback path to keep it within the voice band.
//
// Coefficients follow the standard band-pass form, but with
// alpha = sin(2*w0)/(2*Q) rather than the textbook sin(w0)/(2*Q). This is
// deliberate — see DESIGN.md.
type BandPass struct {
	b0, b1, b2 float64
	a1, a2     float64
	x1, x2     float64
	y1, y2     float64
}

// NewBandPass builds a band-pass filter centred on centerHz at the given
// sample rate and Q.
func NewBandPass(sampleRate, centerHz, q float64) *BandPass {
	w0 := 2 * math.Pi * centerHz / sampleRate
	alpha := math.Sin(2*w0) / (2 * q)

	a0 := 1 + alpha
	f := &BandPass{
		b0: alpha / a0,
		b1: 0,
		b2: -alpha / a0,
		a1: (-2 * math.Cos(w0)) / a0,
		a2: (1 - alpha) / a0,
	}
	return f
}

// ProcessSample runs one sample through the direct-form-I biquad.
func (f *BandPass) ProcessSample(in float64) float64 {
	out := f.b0*in + f.b1*f.x1 + f.b2*f.x2 - f.a1*f.y1 - f.a2*f.y2
	f.x2, f.x1 = f.x1, in
	f.y2, f.y1 = f.y1, out
	return out
}

// ProcessPCM filters an in-place buffer of signed-16 little-endian PCM
// samples. n is the number of valid bytes in buf (which may be less than
// len(buf) — the caller only acquired n bytes from the ring buffer — and
// must therefore be filtered over n bytes, not len(buf)).
func (f *BandPass) ProcessPCM(buf []byte, n int) {
	for i := 0; i+1 < n; i += 2 {
		sample := int16(uint16(buf[i]) | uint16(buf[i+1])<<8)
		filtered := f.ProcessSample(float64(sample))
		if filtered > math.MaxInt16 {
			filtered = math.MaxInt16
		} else if filtered < math.MinInt16 {
			filtered = math.MinInt16
		}
		out := int16(filtered)
		buf[i] = byte(uint16(out))
		buf[i+1] = byte(uint16(out) >> 8)
	}
}

// Reset clears the filter's delay line.
func (f *BandPass) Reset() {
	f.x1, f.x2, f.y1, f.y2 = 0, 0, 0, 0
}
