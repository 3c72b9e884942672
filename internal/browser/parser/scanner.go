// internal/browser/parser/scanner.go
package parser

import "strings"

// scanner is a byte cursor over CSS source. Comments count as whitespace.
type scanner struct {
	src string
	off int
}

func (s *scanner) done() bool { return s.off >= len(s.src) }

func (s *scanner) cur() byte {
	if s.done() {
		return 0
	}
	return s.src[s.off]
}

func (s *scanner) at(b byte) bool { return !s.done() && s.src[s.off] == b }

func (s *scanner) advance() byte {
	c := s.cur()
	if !s.done() {
		s.off++
	}
	return c
}

// accept consumes b if it is next.
func (s *scanner) accept(b byte) bool {
	if s.at(b) {
		s.off++
		return true
	}
	return false
}

func (s *scanner) peek(n int) string {
	return s.src[s.off:min(s.off+n, len(s.src))]
}

func (s *scanner) space() {
	for !s.done() {
		switch {
		case isSpace(s.cur()):
			s.off++
		case strings.HasPrefix(s.src[s.off:], "/*"):
			end := strings.Index(s.src[s.off+2:], "*/")
			if end < 0 {
				s.off = len(s.src)
				return
			}
			s.off += end + 4
		default:
			return
		}
	}
}

// until stops on the first byte contained in stop.
func (s *scanner) until(stop string) {
	for !s.done() && strings.IndexByte(stop, s.cur()) < 0 {
		s.off++
	}
}

// balanced consumes through the close that matches an already consumed
// open. Quoted strings inside are skipped whole.
func (s *scanner) balanced(open, close byte) {
	depth := 1
	for !s.done() {
		switch s.cur() {
		case '"', '\'':
			s.quoted()
			continue
		case open:
			depth++
		case close:
			depth--
			if depth == 0 {
				s.off++
				return
			}
		}
		s.off++
	}
}

// quoted consumes a string literal starting at its opening quote.
func (s *scanner) quoted() {
	q := s.advance()
	for !s.done() {
		switch s.advance() {
		case '\\':
			s.advance()
		case q:
			return
		}
	}
}

func (s *scanner) ident() string {
	start := s.off
	for !s.done() && isNameByte(s.cur()) {
		s.off++
	}
	return s.src[start:s.off]
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '\f'
}

func isNameStart(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || c == '_' || c == '-' || c >= 0x80
}

func isNameByte(c byte) bool {
	return isNameStart(c) || (c >= '0' && c <= '9')
}
