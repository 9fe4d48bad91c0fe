package expr

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokNumber
	tokString
	tokIdent
	tokPlus     // +
	tokMinus    // -
	tokStar     // *
	tokSlash    // /
	tokPercent  // %
	tokLParen   // (
	tokRParen   // )
	tokComma    // ,
	tokQuestion // ?
	tokColon    // :
	tokEq       // ==
	tokNeq      // !=
	tokLt       // <
	tokLte      // <=
	tokGt       // >
	tokGte      // >=
	tokAnd      // &&
	tokOr       // ||
	tokNot      // !
)

func (k tokenKind) String() string {
	switch k {
	case tokEOF:
		return "end of expression"
	case tokNumber:
		return "number"
	case tokString:
		return "string"
	case tokIdent:
		return "identifier"
	case tokPlus:
		return "'+'"
	case tokMinus:
		return "'-'"
	case tokStar:
		return "'*'"
	case tokSlash:
		return "'/'"
	case tokPercent:
		return "'%'"
	case tokLParen:
		return "'('"
	case tokRParen:
		return "')'"
	case tokComma:
		return "','"
	case tokQuestion:
		return "'?'"
	case tokColon:
		return "':'"
	case tokEq:
		return "'=='"
	case tokNeq:
		return "'!='"
	case tokLt:
		return "'<'"
	case tokLte:
		return "'<='"
	case tokGt:
		return "'>'"
	case tokGte:
		return "'>='"
	case tokAnd:
		return "'&&'"
	case tokOr:
		return "'||'"
	case tokNot:
		return "'!'"
	default:
		return fmt.Sprintf("token(%d)", int(k))
	}
}

type token struct {
	kind tokenKind
	// text holds the literal text for numbers and identifiers, and the
	// decoded content for strings.
	text string
	pos  int
}

// scanner turns formula source into a token stream. It is a plain
// hand-written loop; the grammar is small enough that no generator or
// third-party machinery pays its way here.
type scanner struct {
	src string
	off int
}

func (s *scanner) next() (token, *EvaluationError) {
	s.skipSpace()
	start := s.off
	if s.off >= len(s.src) {
		return token{kind: tokEOF, pos: start}, nil
	}

	c := s.src[s.off]
	switch {
	case c >= '0' && c <= '9', c == '.' && s.off+1 < len(s.src) && isDigit(s.src[s.off+1]):
		return s.scanNumber(start)
	case c == '\'' || c == '"':
		return s.scanString(start, rune(c))
	case isIdentStart(rune(c)):
		return s.scanIdent(start), nil
	}

	// Operators and punctuation.
	two := ""
	if s.off+2 <= len(s.src) {
		two = s.src[s.off : s.off+2]
	}
	switch two {
	case "==":
		s.off += 2
		return token{kind: tokEq, pos: start}, nil
	case "!=":
		s.off += 2
		return token{kind: tokNeq, pos: start}, nil
	case "<=":
		s.off += 2
		return token{kind: tokLte, pos: start}, nil
	case ">=":
		s.off += 2
		return token{kind: tokGte, pos: start}, nil
	case "&&":
		s.off += 2
		return token{kind: tokAnd, pos: start}, nil
	case "||":
		s.off += 2
		return token{kind: tokOr, pos: start}, nil
	}

	s.off++
	switch c {
	case '+':
		return token{kind: tokPlus, pos: start}, nil
	case '-':
		return token{kind: tokMinus, pos: start}, nil
	case '*':
		return token{kind: tokStar, pos: start}, nil
	case '/':
		return token{kind: tokSlash, pos: start}, nil
	case '%':
		return token{kind: tokPercent, pos: start}, nil
	case '(':
		return token{kind: tokLParen, pos: start}, nil
	case ')':
		return token{kind: tokRParen, pos: start}, nil
	case ',':
		return token{kind: tokComma, pos: start}, nil
	case '?':
		return token{kind: tokQuestion, pos: start}, nil
	case ':':
		return token{kind: tokColon, pos: start}, nil
	case '<':
		return token{kind: tokLt, pos: start}, nil
	case '>':
		return token{kind: tokGt, pos: start}, nil
	case '!':
		return token{kind: tokNot, pos: start}, nil
	}

	r, _ := utf8.DecodeRuneInString(s.src[start:])
	return token{}, errf(ReasonParse, start, "unexpected character %q", r)
}

func (s *scanner) skipSpace() {
	for s.off < len(s.src) {
		switch s.src[s.off] {
		case ' ', '\t', '\n', '\r':
			s.off++
		default:
			return
		}
	}
}

func (s *scanner) scanNumber(start int) (token, *EvaluationError) {
	seenDot := false
	seenExp := false
	for s.off < len(s.src) {
		c := s.src[s.off]
		switch {
		case isDigit(c):
			s.off++
		case c == '.' && !seenDot && !seenExp:
			seenDot = true
			s.off++
		case (c == 'e' || c == 'E') && !seenExp && s.off > start:
			seenExp = true
			s.off++
			if s.off < len(s.src) && (s.src[s.off] == '+' || s.src[s.off] == '-') {
				s.off++
			}
			if s.off >= len(s.src) || !isDigit(s.src[s.off]) {
				return token{}, errf(ReasonParse, s.off, "malformed exponent in number")
			}
		default:
			return token{kind: tokNumber, text: s.src[start:s.off], pos: start}, nil
		}
	}
	return token{kind: tokNumber, text: s.src[start:s.off], pos: start}, nil
}

func (s *scanner) scanString(start int, quote rune) (token, *EvaluationError) {
	s.off++ // consume the opening quote
	var sb strings.Builder
	for s.off < len(s.src) {
		r, size := utf8.DecodeRuneInString(s.src[s.off:])
		s.off += size
		switch r {
		case quote:
			return token{kind: tokString, text: sb.String(), pos: start}, nil
		case '\\':
			if s.off >= len(s.src) {
				return token{}, errf(ReasonParse, start, "unterminated string literal")
			}
			esc, escSize := utf8.DecodeRuneInString(s.src[s.off:])
			s.off += escSize
			switch esc {
			case '\\', '\'', '"':
				sb.WriteRune(esc)
			case 'n':
				sb.WriteByte('\n')
			case 't':
				sb.WriteByte('\t')
			default:
				return token{}, errf(ReasonParse, s.off-escSize, "unknown escape sequence \\%c", esc)
			}
		default:
			sb.WriteRune(r)
		}
	}
	return token{}, errf(ReasonParse, start, "unterminated string literal")
}

// scanIdent consumes an identifier. A '-' is folded into the identifier
// when the following rune starts a new identifier chunk, which is what
// makes hyphenated accessor names like get-pack-shape single tokens
// while leaving "x-1" as a subtraction.
func (s *scanner) scanIdent(start int) token {
	for s.off < len(s.src) {
		r, size := utf8.DecodeRuneInString(s.src[s.off:])
		if r == '-' {
			nr, _ := utf8.DecodeRuneInString(s.src[s.off+size:])
			if !isIdentStart(nr) {
				break
			}
			s.off += size
			continue
		}
		if !isIdentPart(r) {
			break
		}
		s.off += size
	}
	return token{kind: tokIdent, text: s.src[start:s.off], pos: start}
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

func isIdentStart(r rune) bool {
	return r == '_' || unicode.IsLetter(r)
}

func isIdentPart(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}
