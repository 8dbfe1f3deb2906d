package shm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllocZeroFillsAndIsWritable(t *testing.T) {
	r, err := Alloc(4096)
	require.NoError(t, err)
	defer r.Close()

	data := r.Bytes()
	require.Len(t, data, 4096)
	for _, b := range data {
		require.Equal(t, byte(0), b)
	}

	data[0] = 0xAB
	data[4095] = 0xCD
	assert.Equal(t, byte(0xAB), r.Bytes()[0])
	assert.Equal(t, byte(0xCD), r.Bytes()[4095])
}

func TestAllocRejectsNonPositiveSize(t *testing.T) {
	_, err := Alloc(0)
	assert.Error(t, err)

	_, err = Alloc(-1)
	assert.Error(t, err)
}

func TestCloseIsIdempotent(t *testing.T) {
	r, err := Alloc(4096)
	require.NoError(t, err)
	require.NoError(t, r.Close())
	require.NoError(t, r.Close())
}
