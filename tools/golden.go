package tools

import (
	"fmt"

	"github.com/pmezard/go-difflib/difflib"
)

// DiffGolden compares actual against a golden listing (disassembly
// text, xref report text) and returns a unified diff when they
// differ, or an empty string when they match exactly.
func DiffGolden(name, golden, actual string) (string, error) {
	if golden == actual {
		return "", nil
	}
	diff := difflib.UnifiedDiff{
		A:        difflib.SplitLines(golden),
		B:        difflib.SplitLines(actual),
		FromFile: name + ".golden",
		ToFile:   name + ".actual",
		Context:  3,
	}
	text, err := difflib.GetUnifiedDiffString(diff)
	if err != nil {
		return "", fmt.Errorf("computing diff: %w", err)
	}
	return text, nil
}
