package parser

import (
	"os"
	"path/filepath"
)

// ParseFile reads and parses a cyn assembly file.
//
// Returns the parsed program, the parser's accumulated diagnostics, and
// an error only when the file could not be read at all. Assembly-level
// errors are reported through the returned Parser's Errors() list;
// callers should check HasErrors() before using the program.
func ParseFile(filePath string) (*Program, *Parser, error) {
	content, err := os.ReadFile(filePath) // #nosec G304 -- user-provided assembly file path
	if err != nil {
		return nil, nil, err
	}

	filename := filepath.Base(filePath)
	p := NewParser(string(content), filename)
	program := p.Parse()
	return program, p, nil
}
