package tools

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiffGoldenMatch(t *testing.T) {
	diff, err := DiffGolden("listing", "00000000: halt\n", "00000000: halt\n")
	require.NoError(t, err)
	assert.Empty(t, diff)
}

func TestDiffGoldenMismatch(t *testing.T) {
	diff, err := DiffGolden("listing", "00000000: halt\n", "00000000: mov r0, 1\n")
	require.NoError(t, err)
	assert.Contains(t, diff, "listing.golden")
	assert.Contains(t, diff, "listing.actual")
	assert.Contains(t, diff, "-00000000: halt")
	assert.Contains(t, diff, "+00000000: mov r0, 1")
}
