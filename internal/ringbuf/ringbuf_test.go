package ringbuf

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestAcquireReadNeverExceedsAvailable(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		capacity := rapid.IntRange(1, 256).Draw(t, "capacity")
		rb := New(capacity)

		written := rapid.IntRange(0, capacity).Draw(t, "written")
		buf, n := rb.AcquireWrite(written)
		assert.LessOrEqual(t, n, written)
		rb.CommitWrite(n)

		want := n
		got, actual := rb.AcquireRead(want + 1)
		assert.Equal(t, want, actual)
		if actual > 0 {
			assert.Equal(t, buf[:actual], got)
		}
	})
}

func TestCommitRoundTripPreservesBytes(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		capacity := rapid.IntRange(4, 512).Draw(t, "capacity")
		rb := New(capacity)

		payload := rapid.SliceOfN(rapid.Byte(), 0, capacity).Draw(t, "payload")

		buf, n := rb.AcquireWrite(len(payload))
		require.LessOrEqual(t, n, len(payload))
		copy(buf[:n], payload[:n])
		rb.CommitWrite(n)

		out, actual := rb.AcquireRead(n)
		require.Equal(t, n, actual)
		assert.Equal(t, payload[:n], out)
		rb.CommitRead(actual)

		assert.Equal(t, int32(0), rb.PointerDistance())
	})
}

func TestAcquireStopsAtWrapBoundary(t *testing.T) {
	rb := New(8)

	buf, n := rb.AcquireWrite(8)
	require.Equal(t, 8, n)
	for i := range buf {
		buf[i] = byte(i)
	}
	rb.CommitWrite(8)

	out, n := rb.AcquireRead(8)
	require.Equal(t, 8, n)
	rb.CommitRead(6)
	_ = out

	buf2, n2 := rb.AcquireWrite(8)
	require.Equal(t, 6, n2)
	for i := range buf2 {
		buf2[i] = 0xFF
	}
	rb.CommitWrite(n2)

	// The logical readable region (2 stale bytes + 6 fresh bytes) straddles
	// the wrap boundary: the first acquire must stop there.
	first, firstN := rb.AcquireRead(8)
	assert.Equal(t, 2, firstN)
	assert.Equal(t, []byte{6, 7}, first)
	rb.CommitRead(firstN)

	second, secondN := rb.AcquireRead(8)
	assert.Equal(t, 6, secondN)
	for _, b := range second {
		assert.Equal(t, byte(0xFF), b)
	}
}

func TestSeekDiscardsWithoutReturningData(t *testing.T) {
	rb := New(16)

	buf, n := rb.AcquireWrite(10)
	require.Equal(t, 10, n)
	rb.CommitWrite(n)
	_ = buf

	rb.SeekRead(4)
	assert.Equal(t, int32(6), rb.PointerDistance())

	_, remaining := rb.AcquireRead(100)
	assert.Equal(t, 6, remaining)
}

func TestFullBufferBlocksFurtherWrites(t *testing.T) {
	rb := New(4)

	_, n := rb.AcquireWrite(4)
	rb.CommitWrite(n)

	_, none := rb.AcquireWrite(1)
	assert.Equal(t, 0, none)
}

func TestSharedBackingRoundTrips(t *testing.T) {
	rb, err := NewShared(64)
	require.NoError(t, err)
	defer rb.Close()

	buf, n := rb.AcquireWrite(4)
	require.Equal(t, 4, n)
	copy(buf, []byte{1, 2, 3, 4})
	rb.CommitWrite(4)

	out, got := rb.AcquireRead(4)
	require.Equal(t, 4, got)
	assert.Equal(t, []byte{1, 2, 3, 4}, out)
}
