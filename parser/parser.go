package parser

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/dccarter/cyn/vm"
)

// Parser turns a token stream into a Program: an instruction list, a
// data block, and a symbol table with a forward-reference patch list.
// It recovers from recoverable errors by resyncing at the next newline
// so a single pass can surface every diagnostic in a file.
type Parser struct {
	tokens  []Token
	pos     int
	errors  *ErrorList
	program *Program
}

// NewParser tokenizes source and seeds the predefined assembly symbols
// (argc, argv, __stdin/__stdout/__stderr, and __<builtin> for every
// native call).
func NewParser(source, filename string) *Parser {
	lx := NewLexer(source, filename)
	tokens := filterComments(lx.TokenizeAll())

	p := &Parser{
		tokens:  tokens,
		errors:  &ErrorList{},
		program: &Program{Symbols: NewSymbolTable()},
	}
	p.errors.Errors = append(p.errors.Errors, lx.Errors().Errors...)
	p.definePredefined(filename)
	return p
}

func filterComments(tokens []Token) []Token {
	out := make([]Token, 0, len(tokens))
	for _, t := range tokens {
		if t.Type == TokenComment {
			continue
		}
		out = append(out, t)
	}
	return out
}

func (p *Parser) definePredefined(filename string) {
	pos := Position{Filename: filename}
	st := p.program.Symbols
	_ = st.Define("argc", SymbolDefine, vm.FrameArgc, 0, pos)
	_ = st.Define("argv", SymbolDefine, vm.FrameArgv, 0, pos)
	_ = st.Define("__stdin", SymbolDefine, 0, 0, pos)
	_ = st.Define("__stdout", SymbolDefine, 1, 0, pos)
	_ = st.Define("__stderr", SymbolDefine, 2, 0, pos)
	for i := 0; i < vm.BuiltinCount(); i++ {
		name := "__" + vm.BuiltinNativeCall(i).String()
		_ = st.Define(name, SymbolDefine, int64(i), 0, pos)
	}
}

// Errors returns the parser's accumulated diagnostics.
func (p *Parser) Errors() *ErrorList {
	return p.errors
}

// HasErrors reports whether any error-severity diagnostic was recorded.
func (p *Parser) HasErrors() bool {
	return p.errors.HasErrors()
}

// Parse consumes the whole token stream and returns the resulting
// Program. Check Errors().HasErrors() before using the result: a
// program with errors may still be partially built so later passes can
// report additional diagnostics.
func (p *Parser) Parse() *Program {
	for !p.atEnd() {
		p.skipNewlines()
		if p.atEnd() {
			break
		}
		p.parseLine()
	}
	return p.program
}

func (p *Parser) current() Token {
	if p.pos >= len(p.tokens) {
		return Token{Type: TokenEOF}
	}
	return p.tokens[p.pos]
}

func (p *Parser) peek(n int) Token {
	idx := p.pos + n
	if idx >= len(p.tokens) {
		return Token{Type: TokenEOF}
	}
	return p.tokens[idx]
}

func (p *Parser) advance() {
	if p.pos < len(p.tokens) {
		p.pos++
	}
}

func (p *Parser) atEnd() bool {
	return p.current().Type == TokenEOF
}

func (p *Parser) skipNewlines() {
	for p.current().Type == TokenNewline {
		p.advance()
	}
}

func (p *Parser) syncToNewline() {
	for p.current().Type != TokenNewline && p.current().Type != TokenEOF {
		p.advance()
	}
}

func (p *Parser) expectLineEnd() {
	if p.current().Type == TokenNewline || p.current().Type == TokenEOF {
		return
	}
	p.errorf(p.current().Pos, ErrorSyntax, "unexpected token %s at end of line", p.current().Type)
	p.syncToNewline()
}

func (p *Parser) errorf(pos Position, kind ErrorKind, format string, args ...any) {
	p.errors.AddError(NewError(pos, kind, fmt.Sprintf(format, args...)))
}

func (p *Parser) parseLine() {
	tok := p.current()
	if tok.Type != TokenIdentifier {
		p.errorf(tok.Pos, ErrorSyntax, "unexpected token %s", tok.Type)
		p.syncToNewline()
		return
	}
	if strings.HasPrefix(tok.Literal, "$") && p.peek(1).Type == TokenEqual {
		p.parseVarDecl()
		return
	}
	if p.peek(1).Type == TokenColon {
		p.parseLabel()
		return
	}
	p.parseInstruction()
}

func (p *Parser) parseLabel() {
	tok := p.current()
	name, pos := tok.Literal, tok.Pos
	p.advance() // identifier
	p.advance() // ':'
	if err := p.program.Symbols.Define(name, SymbolLabel, int64(len(p.program.Instructions)), 0, pos); err != nil {
		p.errorf(pos, ErrorDuplicateSymbol, "%v", err)
	}
	p.expectLineEnd()
}

func (p *Parser) parseInstruction() {
	tok := p.current()
	pos := tok.Pos
	mnemonic := tok.Literal
	p.advance()

	op, ok := vm.LookupMnemonic(mnemonic)
	if !ok {
		p.errorf(pos, ErrorInvalidInstruction, "unknown instruction mnemonic %q", mnemonic)
		p.syncToNewline()
		return
	}

	instr := &AsmInstruction{Mnemonic: mnemonic, Op: op, Pos: pos}

	if p.current().Type == TokenDot {
		p.advance()
		modeTok := p.current()
		if w, ok := vm.WidthFromSuffix(modeTok.Literal); ok {
			instr.ModeSuffix, instr.HasModeSuffix = w, true
		} else {
			p.errorf(modeTok.Pos, ErrorInvalidDirective, "unknown mode suffix %q", modeTok.Literal)
		}
		p.advance()
	}

	arity := op.Arity()
	for i := 0; i < arity; i++ {
		if i > 0 {
			if p.current().Type != TokenComma {
				p.errorf(p.current().Pos, ErrorSyntax, "expected ',' between operands")
				break
			}
			p.advance()
		}
		operand, ok := p.parseOperand()
		if !ok {
			break
		}
		instr.Operands = append(instr.Operands, operand)
	}

	instr.Index = len(p.program.Instructions)
	p.program.Instructions = append(p.program.Instructions, instr)
	p.expectLineEnd()
}

func (p *Parser) parseOperand() (Operand, bool) {
	var o Operand
	o.Pos = p.current().Pos

	if p.current().Type == TokenLBracket {
		o.Memory = true
		p.advance()
	}

	sign := int64(1)
	switch p.current().Type {
	case TokenPlus:
		p.advance()
	case TokenMinus:
		sign = -1
		p.advance()
	}

	if p.current().Type == TokenHash {
		o.SizeOf = true
		p.advance()
	}

	if !p.parsePrimaryOperand(&o, sign) {
		return o, false
	}

	if o.Memory && (p.current().Type == TokenComma || p.current().Type == TokenPlus || p.current().Type == TokenMinus) {
		if p.current().Type == TokenComma {
			p.advance()
		}
		o.EA = true
		if !p.parseDisplacement(&o) {
			return o, false
		}
	}

	if o.Memory {
		if p.current().Type != TokenRBracket {
			p.errorf(p.current().Pos, ErrorSyntax, "expected ']'")
			return o, false
		}
		p.advance()
	}

	return o, true
}

func (p *Parser) parseDisplacement(o *Operand) bool {
	dsign := int64(1)
	switch p.current().Type {
	case TokenPlus:
		p.advance()
	case TokenMinus:
		dsign = -1
		p.advance()
	}

	if p.current().Type == TokenHash {
		p.advance()
		tok := p.current()
		if tok.Type != TokenIdentifier {
			p.errorf(tok.Pos, ErrorSyntax, "expected symbol name after '#'")
			return false
		}
		if dsign < 0 {
			p.errorf(tok.Pos, ErrorInvalidOperand, "size-of displacement cannot be negated")
		}
		sym, ok := p.program.Symbols.Lookup(tok.Literal)
		if !ok {
			p.errorf(tok.Pos, ErrorUndefinedSymbol, "size of undefined symbol %q (forward reference forbidden after '#')", tok.Literal)
		} else {
			o.Disp = int64(sym.Size)
		}
		p.advance()
		return true
	}

	tok := p.current()
	if tok.Type == TokenIdentifier {
		sym, ok := p.program.Symbols.Lookup(tok.Literal)
		if !ok {
			p.errorf(tok.Pos, ErrorUndefinedSymbol, "undefined symbol %q in displacement (forward reference forbidden)", tok.Literal)
			return false
		}
		o.Disp = dsign * sym.ID
		p.advance()
		return true
	}
	if tok.Type != TokenInt {
		p.errorf(tok.Pos, ErrorSyntax, "expected displacement after ','")
		return false
	}
	v, err := parseIntLiteral(tok.Literal)
	if err != nil {
		p.errorf(tok.Pos, ErrorInvalidOperand, "%v", err)
		return false
	}
	o.Disp = dsign * v
	p.advance()
	return true
}

// parsePrimaryOperand classifies an identifier in order: register name,
// then plain symbol reference (define/var/label, possibly forward).
func (p *Parser) parsePrimaryOperand(o *Operand, sign int64) bool {
	tok := p.current()
	switch tok.Type {
	case TokenIdentifier:
		if o.SizeOf {
			if _, ok := vm.LookupRegister(tok.Literal); ok {
				p.errorf(tok.Pos, ErrorInvalidOperand, "'#' cannot be applied to a register")
			} else if sym, ok := p.program.Symbols.Lookup(tok.Literal); !ok {
				p.errorf(tok.Pos, ErrorUndefinedSymbol, "size of undefined symbol %q (forward reference forbidden after '#')", tok.Literal)
			} else {
				o.IntValue, o.HasLiteral, o.Symbol = int64(sym.Size), true, tok.Literal
			}
			o.Mode = vm.AddrImm
			p.advance()
			return true
		}
		if reg, ok := vm.LookupRegister(tok.Literal); ok {
			o.HasReg, o.Reg, o.Mode = true, reg, vm.AddrReg
			p.advance()
			return true
		}
		o.Symbol = tok.Literal
		o.Mode = vm.AddrImm
		p.advance()
		return true

	case TokenInt:
		v, err := parseIntLiteral(tok.Literal)
		if err != nil {
			p.errorf(tok.Pos, ErrorInvalidOperand, "%v", err)
			p.advance()
			return false
		}
		o.IntValue, o.HasLiteral, o.Mode = sign*v, true, vm.AddrImm
		p.advance()
		return true

	case TokenFloat:
		v, err := strconv.ParseFloat(tok.Literal, 64)
		if err != nil {
			p.errorf(tok.Pos, ErrorInvalidOperand, "%v", err)
			p.advance()
			return false
		}
		if sign < 0 {
			v = -v
		}
		o.FloatValue, o.IsFloat, o.HasLiteral, o.Mode = v, true, true, vm.AddrImm
		p.advance()
		return true

	case TokenChar:
		r, err := DecodeCharLiteral(tok.Literal)
		if err != nil {
			p.errorf(tok.Pos, ErrorInvalidOperand, "%v", err)
			p.advance()
			return false
		}
		o.IntValue, o.HasLiteral, o.Mode = sign*int64(r), true, vm.AddrImm
		p.advance()
		return true

	default:
		p.errorf(tok.Pos, ErrorSyntax, "unexpected token %s in operand", tok.Type)
		p.advance()
		return false
	}
}

func (p *Parser) parseVarDecl() {
	tok := p.current()
	name, pos := strings.TrimPrefix(tok.Literal, "$"), tok.Pos
	p.advance() // name
	p.advance() // '='

	data, err := p.parseDataInitializer()
	if err != nil {
		p.errorf(pos, ErrorInvalidDirective, "%v", err)
		p.syncToNewline()
		return
	}

	offset := uint32(len(p.program.DataBytes))
	p.program.DataBytes = append(p.program.DataBytes, data...)
	p.program.Data = append(p.program.Data, &DataItem{Name: name, Offset: offset, Size: uint32(len(data)), Pos: pos})
	if err := p.program.Symbols.Define(name, SymbolVar, int64(offset), uint32(len(data)), pos); err != nil {
		p.errorf(pos, ErrorDuplicateSymbol, "%v", err)
	}
	p.expectLineEnd()
}

func (p *Parser) parseDataInitializer() ([]byte, error) {
	tok := p.current()
	switch tok.Type {
	case TokenLBrace:
		return p.parseByteList()
	case TokenString:
		s := ProcessEscapeSequences(tok.Literal)
		p.advance()
		return append([]byte(s), 0), nil
	case TokenLBracket:
		return p.parseReservation()
	default:
		return p.parseScalarInitializer()
	}
}

func (p *Parser) parseByteList() ([]byte, error) {
	p.advance() // '{'
	var out []byte
	for p.current().Type != TokenRBrace {
		if p.current().Type != TokenInt {
			return nil, fmt.Errorf("expected byte value in data initializer")
		}
		v, err := parseIntLiteral(p.current().Literal)
		if err != nil {
			return nil, err
		}
		out = append(out, byte(v))
		p.advance()
		if p.current().Type == TokenComma {
			p.advance()
		}
	}
	p.advance() // '}'
	return out, nil
}

func (p *Parser) parseReservation() ([]byte, error) {
	p.advance() // '['
	if p.current().Type != TokenInt {
		return nil, fmt.Errorf("expected reservation count")
	}
	n, err := parseIntLiteral(p.current().Literal)
	if err != nil {
		return nil, err
	}
	p.advance()
	if p.current().Type != TokenRBracket {
		return nil, fmt.Errorf("expected ']'")
	}
	p.advance()

	width := vm.WidthByte
	if p.current().Type == TokenBacktick {
		p.advance()
		w, ok := vm.WidthFromSuffix(p.current().Literal)
		if !ok {
			return nil, fmt.Errorf("unknown mode suffix %q", p.current().Literal)
		}
		width = w
		p.advance()
	}
	return make([]byte, n*int64(width.Bytes())), nil
}

func (p *Parser) parseScalarInitializer() ([]byte, error) {
	sign := int64(1)
	switch p.current().Type {
	case TokenPlus:
		p.advance()
	case TokenMinus:
		sign = -1
		p.advance()
	}

	tok := p.current()
	var raw uint64
	var fval float64
	isFloat := false
	width := vm.WidthQuad

	switch tok.Type {
	case TokenInt:
		v, err := parseIntLiteral(tok.Literal)
		if err != nil {
			return nil, err
		}
		raw = uint64(sign * v)
		width = vm.IntegerWidth(uint64(v))
		p.advance()
	case TokenFloat:
		v, err := strconv.ParseFloat(tok.Literal, 64)
		if err != nil {
			return nil, err
		}
		if sign < 0 {
			v = -v
		}
		fval, isFloat = v, true
		p.advance()
	case TokenChar:
		r, err := DecodeCharLiteral(tok.Literal)
		if err != nil {
			return nil, err
		}
		raw = uint64(sign * int64(r))
		width = vm.IntegerWidth(raw)
		p.advance()
	default:
		return nil, fmt.Errorf("unexpected token %s in data initializer", tok.Type)
	}

	if p.current().Type == TokenBacktick {
		p.advance()
		w, ok := vm.WidthFromSuffix(p.current().Literal)
		if !ok {
			return nil, fmt.Errorf("unknown mode suffix %q", p.current().Literal)
		}
		width = w
		p.advance()
	}

	buf := make([]byte, width.Bytes())
	if isFloat {
		putLE(buf, vm.FromF64(fval))
	} else {
		putLE(buf, raw)
	}
	return buf, nil
}

func putLE(buf []byte, v uint64) {
	for i := range buf {
		buf[i] = byte(v >> (8 * uint(i)))
	}
}

func parseIntLiteral(s string) (int64, error) {
	u, err := strconv.ParseUint(s, 0, 64)
	if err != nil {
		return 0, fmt.Errorf("malformed integer literal %q: %w", s, err)
	}
	return int64(u), nil
}
