package tools

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dccarter/cyn/parser"
)

func TestBuildXRefDefinitionsAndReferences(t *testing.T) {
	src := "main:\n  jmp done\n  halt\ndone:\n  halt\n"
	table, err := BuildXRef(src, "t.cyn")
	require.NoError(t, err)

	main, ok := table["main"]
	require.True(t, ok)
	assert.True(t, main.Defined)
	assert.Equal(t, parser.SymbolLabel, main.Kind)
	assert.True(t, main.IsUnused(), "main is never jumped to in this program")

	done, ok := table["done"]
	require.True(t, ok)
	require.Len(t, done.References, 1)
	assert.Equal(t, RefBranch, done.References[0].Kind)
	assert.Equal(t, "jmp", done.References[0].Mnemonic)
}

func TestBuildXRefUndefinedSymbol(t *testing.T) {
	table, err := BuildXRef("main:\n  jmp missing\n", "t.cyn")
	require.NoError(t, err)

	undef := UndefinedSymbols(table)
	assert.Equal(t, []string{"missing"}, undef)
}

func TestBuildXRefSizeOfReference(t *testing.T) {
	src := "$buf = {1, 2, 3}\nmain:\n  mov r0, #buf\n  halt\n"
	table, err := BuildXRef(src, "t.cyn")
	require.NoError(t, err)

	buf, ok := table["buf"]
	require.True(t, ok)
	require.Len(t, buf.References, 1)
	assert.Equal(t, RefSizeOf, buf.References[0].Kind)
}

func TestBuildXRefParseError(t *testing.T) {
	_, err := BuildXRef("bogus r0\n", "t.cyn")
	assert.Error(t, err)
}

func TestUnusedSymbolsExcludesVars(t *testing.T) {
	src := "$buf = {1}\nmain:\n  halt\n"
	table, err := BuildXRef(src, "t.cyn")
	require.NoError(t, err)

	unused := UnusedSymbols(table)
	assert.NotContains(t, unused, "buf")
	assert.Contains(t, unused, "main")
}

func TestReportIncludesUndefinedMarker(t *testing.T) {
	table, err := BuildXRef("main:\n  jmp missing\n", "t.cyn")
	require.NoError(t, err)

	report := Report(table)
	assert.Contains(t, report, "missing (undefined)")
}
