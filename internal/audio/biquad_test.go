package audio

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewBandPassUsesDoubledOmegaAlpha(t *testing.T) {
	f := NewBandPass(SampleRate, 1500.0, 0.707)

	w0 := 2 * math.Pi * 1500.0 / SampleRate
	wantAlpha := math.Sin(2*w0) / (2 * 0.707)
	wantA0 := 1 + wantAlpha

	assert.InDelta(t, wantAlpha/wantA0, f.b0, 1e-12)
	assert.InDelta(t, -wantAlpha/wantA0, f.b2, 1e-12)
	assert.InDelta(t, 0.0, f.b1, 1e-12)
}

func TestProcessPCMOnlyFiltersValidBytes(t *testing.T) {
	f := NewBandPass(SampleRate, 1500.0, 0.707)

	buf := make([]byte, 8)
	binary.LittleEndian.PutUint16(buf[0:2], uint16(int16(1000)))
	binary.LittleEndian.PutUint16(buf[2:4], uint16(int16(2000)))
	// The last two samples are untouched garbage that must survive
	// unfiltered because only the first 4 bytes (2 samples) were acquired.
	binary.LittleEndian.PutUint16(buf[4:6], uint16(int16(9999)))
	binary.LittleEndian.PutUint16(buf[6:8], uint16(int16(8888)))

	f.ProcessPCM(buf, 4)

	untouched1 := int16(binary.LittleEndian.Uint16(buf[4:6]))
	untouched2 := int16(binary.LittleEndian.Uint16(buf[6:8]))
	assert.Equal(t, int16(9999), untouched1)
	assert.Equal(t, int16(8888), untouched2)
}

func TestProcessPCMClampsOverflowToInt16Range(t *testing.T) {
	buf := make([]byte, 2)
	g := &BandPass{b0: 1000, a1: 0, a2: 0}
	binary.LittleEndian.PutUint16(buf, uint16(int16(1000)))
	g.ProcessPCM(buf, 2)
	got := int16(binary.LittleEndian.Uint16(buf))
	assert.Equal(t, int16(math.MaxInt16), got)
}

func TestResetClearsDelayLine(t *testing.T) {
	f := NewBandPass(SampleRate, 1500.0, 0.707)
	f.ProcessSample(12345)
	f.Reset()
	assert.Equal(t, 0.0, f.x1)
	assert.Equal(t, 0.0, f.x2)
	assert.Equal(t, 0.0, f.y1)
	assert.Equal(t, 0.0, f.y2)
}
