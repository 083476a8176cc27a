package script

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrParse wraps every syntax error reported by Parse.
var ErrParse = errors.New("parse script")

// Expr is a node of the parsed script.
type Expr struct {
	// Name is the function name of a call.
	Name string
	// Args are the arguments of a call.
	Args []*Expr
	// Value is the text of a literal.
	Value string
	// IsCall distinguishes calls from literals.
	IsCall bool
	// Quoted marks string literals, as opposed to numbers and bare words.
	Quoted bool
	// Line is where the expression starts.
	Line int
}

// String renders the expression back as script text.
func (e *Expr) String() string {
	if !e.IsCall {
		if e.Quoted {
			return strconv.Quote(e.Value)
		}

		return e.Value
	}

	args := make([]string, 0, len(e.Args))
	for _, arg := range e.Args {
		args = append(args, arg.String())
	}

	return e.Name + "(" + strings.Join(args, ", ") + ")"
}

// Program is a parsed script.
type Program struct {
	// Statements run in order.
	Statements []*Expr
}

// SyntaxError is a single problem found by the parser.
type SyntaxError struct {
	Line    int
	Col     int
	Message string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("line %d col %d: %s", e.Line, e.Col, e.Message)
}

// parser is a recursive-descent parser with statement-level recovery.
type parser struct {
	lex    *lexer
	tok    token
	known  func(name string) bool
	errors []error
}

// parse turns src into a Program. Unknown function names are syntax errors
// when known is not nil.
func parse(src string, known func(name string) bool) (*Program, int, error) {
	p := &parser{
		lex:   newLexer(src),
		known: known,
	}
	p.advance()

	program := new(Program)

	for p.tok.kind != tokenEOF {
		if p.tok.kind == tokenSemicolon {
			p.advance()
			continue
		}

		expr, ok := p.parseExpr()
		if !ok {
			p.skipStatement()
			continue
		}

		switch p.tok.kind {
		case tokenSemicolon, tokenEOF:
			program.Statements = append(program.Statements, expr)
		default:
			p.fail("expected ';' after statement, got %s", p.tok.kind)
			p.skipStatement()
		}
	}

	if len(p.errors) > 0 {
		return program, len(p.errors), fmt.Errorf("%w: %w", ErrParse, errors.Join(p.errors...))
	}

	return program, 0, nil
}

func (p *parser) parseExpr() (*Expr, bool) {
	tok := p.tok

	switch tok.kind {
	case tokenString:
		p.advance()

		return &Expr{Value: tok.text, Quoted: true, Line: tok.line}, true
	case tokenNumber:
		p.advance()

		return &Expr{Value: tok.text, Line: tok.line}, true
	case tokenIdent:
		p.advance()

		if p.tok.kind != tokenLParen {
			return &Expr{Value: tok.text, Line: tok.line}, true
		}

		return p.parseCall(tok)
	case tokenIllegal:
		p.fail("%s", tok.text)

		return nil, false
	default:
		p.fail("unexpected %s", tok.kind)

		return nil, false
	}
}

// parseCall parses the argument list; the current token is '('.
func (p *parser) parseCall(name token) (*Expr, bool) {
	call := &Expr{Name: name.text, IsCall: true, Line: name.line}

	if p.known != nil && !p.known(name.text) {
		p.failAt(name, "unknown function %q", name.text)
	}

	p.advance()

	if p.tok.kind == tokenRParen {
		p.advance()

		return call, true
	}

	for {
		arg, ok := p.parseExpr()
		if !ok {
			return nil, false
		}

		call.Args = append(call.Args, arg)

		switch p.tok.kind {
		case tokenComma:
			p.advance()
		case tokenRParen:
			p.advance()

			return call, true
		default:
			p.fail("expected ',' or ')' in call to %s, got %s", name.text, p.tok.kind)

			return nil, false
		}
	}
}

// skipStatement skips to the end of the current statement.
func (p *parser) skipStatement() {
	for p.tok.kind != tokenSemicolon && p.tok.kind != tokenEOF {
		p.advance()
	}
}

func (p *parser) advance() {
	p.tok = p.lex.next()
}

func (p *parser) fail(format string, args ...any) {
	p.failAt(p.tok, format, args...)
}

func (p *parser) failAt(tok token, format string, args ...any) {
	p.errors = append(p.errors, &SyntaxError{
		Line:    tok.line,
		Col:     tok.col,
		Message: fmt.Sprintf(format, args...),
	})
}
