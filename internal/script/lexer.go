package script

import (
	"fmt"
	"strings"
)

// tokenKind classifies lexer output.
type tokenKind int

const (
	tokenEOF tokenKind = iota
	tokenIdent
	tokenString
	tokenNumber
	tokenLParen
	tokenRParen
	tokenComma
	tokenSemicolon
	tokenIllegal
)

func (k tokenKind) String() string {
	switch k {
	case tokenEOF:
		return "end of script"
	case tokenIdent:
		return "identifier"
	case tokenString:
		return "string"
	case tokenNumber:
		return "number"
	case tokenLParen:
		return "'('"
	case tokenRParen:
		return "')'"
	case tokenComma:
		return "','"
	case tokenSemicolon:
		return "';'"
	default:
		return "illegal token"
	}
}

// token is one lexeme with its position.
type token struct {
	kind tokenKind
	text string
	line int
	col  int
}

// lexer splits script source into tokens.
type lexer struct {
	src  string
	pos  int
	line int
	col  int
}

func newLexer(src string) *lexer {
	return &lexer{src: src, line: 1, col: 1}
}

// next returns the following token. Lexical errors come back as tokenIllegal
// with a message in text.
func (l *lexer) next() token {
	l.skipSpaceAndComments()

	if l.pos >= len(l.src) {
		return token{kind: tokenEOF, line: l.line, col: l.col}
	}

	line, col := l.line, l.col
	c := l.src[l.pos]

	switch {
	case c == '(':
		l.advance(1)

		return token{kind: tokenLParen, text: "(", line: line, col: col}
	case c == ')':
		l.advance(1)

		return token{kind: tokenRParen, text: ")", line: line, col: col}
	case c == ',':
		l.advance(1)

		return token{kind: tokenComma, text: ",", line: line, col: col}
	case c == ';':
		l.advance(1)

		return token{kind: tokenSemicolon, text: ";", line: line, col: col}
	case c == '"':
		return l.lexString(line, col)
	case isDigit(c) || (c == '-' && l.pos+1 < len(l.src) && isDigit(l.src[l.pos+1])):
		start := l.pos
		l.advance(1)

		for l.pos < len(l.src) && (isDigit(l.src[l.pos]) || l.src[l.pos] == '.') {
			l.advance(1)
		}

		return token{kind: tokenNumber, text: l.src[start:l.pos], line: line, col: col}
	case isIdentStart(c):
		start := l.pos
		for l.pos < len(l.src) && isIdentPart(l.src[l.pos]) {
			l.advance(1)
		}

		return token{kind: tokenIdent, text: l.src[start:l.pos], line: line, col: col}
	default:
		l.advance(1)

		return token{kind: tokenIllegal, text: fmt.Sprintf("unexpected character %q", c), line: line, col: col}
	}
}

func (l *lexer) lexString(line, col int) token {
	var b strings.Builder

	l.advance(1) // opening quote

	for l.pos < len(l.src) {
		c := l.src[l.pos]

		switch c {
		case '"':
			l.advance(1)

			return token{kind: tokenString, text: b.String(), line: line, col: col}
		case '\\':
			if l.pos+1 >= len(l.src) {
				l.advance(1)

				return token{kind: tokenIllegal, text: "unterminated string", line: line, col: col}
			}

			b.WriteByte(unescape(l.src[l.pos+1]))
			l.advance(2)
		default:
			b.WriteByte(c)
			l.advance(1)
		}
	}

	return token{kind: tokenIllegal, text: "unterminated string", line: line, col: col}
}

func (l *lexer) skipSpaceAndComments() {
	for l.pos < len(l.src) {
		switch c := l.src[l.pos]; {
		case c == ' ' || c == '\t' || c == '\r' || c == '\n':
			l.advance(1)
		case c == '#':
			for l.pos < len(l.src) && l.src[l.pos] != '\n' {
				l.advance(1)
			}
		default:
			return
		}
	}
}

// advance moves n bytes forward, tracking line and column.
func (l *lexer) advance(n int) {
	for range n {
		if l.pos >= len(l.src) {
			return
		}

		if l.src[l.pos] == '\n' {
			l.line++
			l.col = 1
		} else {
			l.col++
		}

		l.pos++
	}
}

func unescape(c byte) byte {
	switch c {
	case 'n':
		return '\n'
	case 't':
		return '\t'
	case 'r':
		return '\r'
	default:
		return c
	}
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

func isIdentStart(c byte) bool {
	return c == '_' || c == '/' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentPart(c byte) bool {
	return isIdentStart(c) || isDigit(c) || c == '.' || c == '-' || c == ':'
}
