package parser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tokenTypes(toks []Token) []TokenType {
	out := make([]TokenType, len(toks))
	for i, t := range toks {
		out[i] = t.Type
	}
	return out
}

func TestLexerBasicInstruction(t *testing.T) {
	lx := NewLexer("mov.q r0, 3\n", "t.cyn")
	toks := lx.TokenizeAll()
	require.False(t, lx.Errors().HasErrors())
	assert.Equal(t, []TokenType{
		TokenIdentifier, TokenDot, TokenIdentifier,
		TokenIdentifier, TokenComma, TokenInt,
		TokenNewline, TokenEOF,
	}, tokenTypes(toks))
}

func TestLexerDollarIdentifierIsOneToken(t *testing.T) {
	lx := NewLexer(`$msg = "HI\n"`, "t.cyn")
	toks := lx.TokenizeAll()
	require.False(t, lx.Errors().HasErrors())
	require.Equal(t, TokenIdentifier, toks[0].Type)
	assert.Equal(t, "$msg", toks[0].Literal)
}

func TestLexerNestedBlockComment(t *testing.T) {
	lx := NewLexer("/* outer /* inner */ still comment */ halt\n", "t.cyn")
	toks := lx.TokenizeAll()
	require.False(t, lx.Errors().HasErrors())
	assert.Equal(t, []TokenType{TokenComment, TokenIdentifier, TokenNewline, TokenEOF}, tokenTypes(toks))
}

func TestLexerUnterminatedString(t *testing.T) {
	lx := NewLexer(`"unterminated`, "t.cyn")
	lx.TokenizeAll()
	assert.True(t, lx.Errors().HasErrors())
}

func TestLexerHexBinOctalLiterals(t *testing.T) {
	lx := NewLexer("0x1F 0b101 017", "t.cyn")
	toks := lx.TokenizeAll()
	require.False(t, lx.Errors().HasErrors())
	assert.Equal(t, "0x1F", toks[0].Literal)
	assert.Equal(t, "0b101", toks[1].Literal)
	assert.Equal(t, "017", toks[2].Literal)
}

func TestLexerFloatLiteral(t *testing.T) {
	lx := NewLexer("3.14 1e10 0x1p4", "t.cyn")
	toks := lx.TokenizeAll()
	require.False(t, lx.Errors().HasErrors())
	for _, tok := range toks[:3] {
		assert.Equal(t, TokenFloat, tok.Type)
	}
}
