// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package testsupport provides helpers shared by the tests of several
// packages: synthetic ELF objects and archives, and io.ReaderAt checks.
package testsupport // import "github.com/opencl-tools/clelf/testsupport"

import (
	"io"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/require"
)

// ValidateReadAtWrapperTransparency checks that random reads from testee,
// including reads running past the end, match reference.
func ValidateReadAtWrapperTransparency(
	t *testing.T, iterations uint, reference []byte, testee io.ReaderAt) {
	t.Helper()
	size := uint64(len(reference))

	r := rand.New(rand.NewPCG(0, 0)) //nolint:gosec
	for range iterations {
		length := r.Uint64() % size
		start := r.Uint64() % size

		buf := make([]byte, length)
		n, err := testee.ReadAt(buf, int64(start))

		want := min(size-start, length)
		if want != length {
			require.ErrorIs(t, err, io.EOF, "read of %d at %d", length, start)
		} else {
			require.NoError(t, err, "read of %d at %d", length, start)
		}
		require.Equal(t, want, uint64(n))
		require.Equal(t, reference[start:start+want], buf[:want])
	}
}

// GenerateTestInputFile returns outputSize bytes repeating the sequence
// 0, 1, ..., seqLen-1.
func GenerateTestInputFile(seqLen uint8, outputSize uint) []byte {
	out := make([]byte, outputSize)
	for i := range out {
		out[i] = byte(uint(i) % uint(seqLen))
	}
	return out
}
