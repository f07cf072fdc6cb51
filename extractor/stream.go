package extractor

import (
	"strconv"
	"strings"
	"unicode"
	"unicode/utf16"

	"golang.org/x/text/encoding/charmap"
)

// kerningSpace is the TJ displacement (thousandths of text space) below
// which an adjustment is read as a word gap.
const kerningSpace = -250

// showText collects the strings of text-showing operators (Tj, TJ, ', ")
// from a decoded content stream. Positioning operators become line breaks
// or spaces.
func showText(stream []byte) string {
	s := &scanner{data: stream}
	var out strings.Builder
	var strs []string
	var nums []float64
	inArray := 0

	newline := func() {
		cur := out.String()
		if cur != "" && !strings.HasSuffix(cur, "\n") {
			out.WriteByte('\n')
		}
	}
	space := func() {
		cur := out.String()
		if cur != "" && !strings.HasSuffix(cur, "\n") && !strings.HasSuffix(cur, " ") {
			out.WriteByte(' ')
		}
	}
	flush := func() {
		for _, str := range strs {
			out.WriteString(str)
		}
		strs = strs[:0]
	}

	for {
		tok, kind := s.next()
		switch kind {
		case tokEOF:
			return normalizeLines(out.String())
		case tokString:
			strs = append(strs, tok)
		case tokNumber:
			n, err := strconv.ParseFloat(tok, 64)
			if err != nil {
				continue
			}
			if inArray > 0 && n < kerningSpace {
				strs = append(strs, " ")
				continue
			}
			nums = append(nums, n)
		case tokArrayOpen:
			inArray++
		case tokArrayClose:
			if inArray > 0 {
				inArray--
			}
		case tokOperator:
			switch tok {
			case "Tj", "TJ":
				flush()
			case "'", `"`:
				newline()
				flush()
			case "Td", "TD":
				if len(nums) >= 2 && nums[len(nums)-1] != 0 {
					newline()
				} else {
					space()
				}
			case "T*", "Tm", "ET":
				newline()
			case "BI":
				s.skipInlineImage()
			}
			strs = strs[:0]
			nums = nums[:0]
		}
	}
}

// normalizeLines collapses horizontal whitespace, drops unprintable runes
// and removes blank lines.
func normalizeLines(text string) string {
	lines := strings.Split(text, "\n")
	kept := lines[:0]
	for _, line := range lines {
		var sb strings.Builder
		prevSpace := false
		for _, r := range line {
			switch {
			case unicode.IsSpace(r):
				if !prevSpace && sb.Len() > 0 {
					sb.WriteByte(' ')
					prevSpace = true
				}
			case unicode.IsPrint(r):
				sb.WriteRune(r)
				prevSpace = false
			}
		}
		if l := strings.TrimSpace(sb.String()); l != "" {
			kept = append(kept, l)
		}
	}
	return strings.Join(kept, "\n")
}

type tokKind int

const (
	tokEOF tokKind = iota
	tokString
	tokNumber
	tokName
	tokArrayOpen
	tokArrayClose
	tokDict
	tokOperator
)

type scanner struct {
	data []byte
	pos  int
}

func isDelimiter(c byte) bool {
	switch c {
	case '(', ')', '<', '>', '[', ']', '{', '}', '/', '%':
		return true
	}
	return false
}

func isWhite(c byte) bool {
	switch c {
	case ' ', '\t', '\r', '\n', '\f', 0:
		return true
	}
	return false
}

func (s *scanner) next() (string, tokKind) {
	for s.pos < len(s.data) {
		c := s.data[s.pos]
		switch {
		case isWhite(c):
			s.pos++
		case c == '%':
			for s.pos < len(s.data) && s.data[s.pos] != '\n' && s.data[s.pos] != '\r' {
				s.pos++
			}
		case c == '(':
			s.pos++
			return decodeTextBytes(s.literal()), tokString
		case c == '<':
			if s.pos+1 < len(s.data) && s.data[s.pos+1] == '<' {
				s.pos += 2
				return "<<", tokDict
			}
			s.pos++
			return decodeTextBytes(s.hex()), tokString
		case c == '>':
			s.pos++
			if s.pos < len(s.data) && s.data[s.pos] == '>' {
				s.pos++
			}
			return ">>", tokDict
		case c == '[':
			s.pos++
			return "[", tokArrayOpen
		case c == ']':
			s.pos++
			return "]", tokArrayClose
		case c == '{' || c == '}' || c == ')':
			s.pos++
		case c == '/':
			s.pos++
			return s.regular(), tokName
		default:
			tok := s.regular()
			if tok == "" {
				s.pos++
				continue
			}
			if looksNumeric(tok) {
				return tok, tokNumber
			}
			return tok, tokOperator
		}
	}
	return "", tokEOF
}

func (s *scanner) regular() string {
	start := s.pos
	for s.pos < len(s.data) && !isWhite(s.data[s.pos]) && !isDelimiter(s.data[s.pos]) {
		s.pos++
	}
	return string(s.data[start:s.pos])
}

func looksNumeric(tok string) bool {
	for i := 0; i < len(tok); i++ {
		c := tok[i]
		if (c < '0' || c > '9') && c != '.' && c != '-' && c != '+' {
			return false
		}
	}
	return true
}

// literal reads a (string) body; the opening parenthesis is consumed.
func (s *scanner) literal() []byte {
	var out []byte
	depth := 1
	for s.pos < len(s.data) {
		c := s.data[s.pos]
		s.pos++
		switch c {
		case '\\':
			if s.pos >= len(s.data) {
				return out
			}
			e := s.data[s.pos]
			s.pos++
			switch e {
			case 'n':
				out = append(out, '\n')
			case 'r':
				out = append(out, '\r')
			case 't':
				out = append(out, '\t')
			case 'b':
				out = append(out, '\b')
			case 'f':
				out = append(out, '\f')
			case '\r':
				// Line continuation.
				if s.pos < len(s.data) && s.data[s.pos] == '\n' {
					s.pos++
				}
			case '\n':
			default:
				if e >= '0' && e <= '7' {
					val := int(e - '0')
					for i := 0; i < 2 && s.pos < len(s.data) && s.data[s.pos] >= '0' && s.data[s.pos] <= '7'; i++ {
						val = val*8 + int(s.data[s.pos]-'0')
						s.pos++
					}
					out = append(out, byte(val))
				} else {
					out = append(out, e)
				}
			}
		case '(':
			depth++
			out = append(out, c)
		case ')':
			depth--
			if depth == 0 {
				return out
			}
			out = append(out, c)
		default:
			out = append(out, c)
		}
	}
	return out
}

// hex reads a <hex> string body; the opening bracket is consumed.
func (s *scanner) hex() []byte {
	var out []byte
	var hi byte
	half := false
	for s.pos < len(s.data) {
		c := s.data[s.pos]
		s.pos++
		if c == '>' {
			break
		}
		v, ok := hexVal(c)
		if !ok {
			continue
		}
		if half {
			out = append(out, hi<<4|v)
			half = false
		} else {
			hi = v
			half = true
		}
	}
	if half {
		out = append(out, hi<<4)
	}
	return out
}

func hexVal(c byte) (byte, bool) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', true
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, true
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, true
	}
	return 0, false
}

// skipInlineImage advances past "ID <binary> EI".
func (s *scanner) skipInlineImage() {
	for s.pos+1 < len(s.data) {
		if s.data[s.pos] == 'I' && s.data[s.pos+1] == 'D' && (s.pos == 0 || isWhite(s.data[s.pos-1])) {
			s.pos += 2
			break
		}
		s.pos++
	}
	for s.pos+2 < len(s.data) {
		if isWhite(s.data[s.pos]) && s.data[s.pos+1] == 'E' && s.data[s.pos+2] == 'I' &&
			(s.pos+3 >= len(s.data) || isWhite(s.data[s.pos+3])) {
			s.pos += 3
			return
		}
		s.pos++
	}
	s.pos = len(s.data)
}

// decodeTextBytes handles UTF-16BE strings (BOM FE FF) and otherwise reads
// the bytes as WinAnsi, the encoding of the standard fonts.
func decodeTextBytes(b []byte) string {
	if len(b) >= 2 && b[0] == 0xFE && b[1] == 0xFF {
		u := make([]uint16, 0, (len(b)-2)/2)
		for i := 2; i+1 < len(b); i += 2 {
			u = append(u, uint16(b[i])<<8|uint16(b[i+1]))
		}
		return string(utf16.Decode(u))
	}
	out, err := charmap.Windows1252.NewDecoder().Bytes(b)
	if err != nil {
		return string(b)
	}
	return string(out)
}
