package gcode

import "errors"

var (
	// ErrChecksumMismatch is returned when a "*nn" suffix does not match the line.
	ErrChecksumMismatch = errors.New("gcode: checksum mismatch")

	// ErrMalformedChecksum is returned for a '*' not followed by a number.
	ErrMalformedChecksum = errors.New("gcode: malformed checksum")
)

// Parser handles G-code parsing
type Parser struct{}

// NewParser creates a new G-code parser
func NewParser() *Parser {
	return &Parser{}
}

// ParseLine parses a single line of G-code. Host line numbers ("N12") and
// XOR checksums ("*71") are accepted and checked. Empty lines return nil.
func (p *Parser) ParseLine(line string) (*Command, error) {
	i := skipSpace(line, 0)
	if i >= len(line) {
		return nil, nil
	}
	line = line[i:]

	line, err := stripChecksum(line)
	if err != nil {
		return nil, err
	}

	cmd := &Command{
		Parameters: make(map[byte]float64),
	}

	i = 0
	if line[i] == 'N' || line[i] == 'n' {
		num, newPos := parseInt(line, i+1)
		if newPos > i+1 {
			cmd.LineNumber = num
			cmd.HasLine = true
			i = skipSpace(line, newPos)
		}
	}

	for i < len(line) && isComment(line[i]) {
		i = skipSpace(line, readComment(cmd, line, i))
	}
	if i >= len(line) {
		return cmd, nil
	}

	// Command letter and number
	switch toUpper(line[i]) {
	case 'G', 'M', 'T':
		cmd.Type = toUpper(line[i])
		i++

		num, newPos := parseInt(line, i)
		if newPos > i {
			cmd.Number = num
			i = newPos
		}
	}

	// Parameters
	for i < len(line) {
		i = skipSpace(line, i)
		if i >= len(line) {
			break
		}

		if isComment(line[i]) {
			i = readComment(cmd, line, i)
			continue
		}

		if !isLetter(line[i]) {
			i++
			continue
		}

		letter := toUpper(line[i])
		i++

		// Letters without a value ("M907 X") are dropped
		value, newPos := parseFloat(line, i)
		if newPos > i {
			cmd.Parameters[letter] = value
			i = newPos
		}
	}

	return cmd, nil
}

// stripChecksum verifies and removes a trailing "*nn". The checksum is the
// XOR of every byte before the '*'.
func stripChecksum(line string) (string, error) {
	star := -1
	for i := 0; i < len(line) && star < 0; i++ {
		switch line[i] {
		case ';':
			i = len(line)
		case '(':
			i = commentEnd(line, i) - 1
		case '*':
			star = i
		}
	}
	if star < 0 {
		return line, nil
	}

	want, end := parseInt(line, star+1)
	if end <= star+1 || want < 0 {
		return "", ErrMalformedChecksum
	}

	var sum byte
	for i := 0; i < star; i++ {
		sum ^= line[i]
	}
	if int(sum) != want {
		return "", ErrChecksumMismatch
	}

	return line[:star], nil
}

// parseInt parses an integer from the string starting at pos.
// The returned position equals pos when no digits were found.
func parseInt(s string, pos int) (int, int) {
	start := pos
	if pos >= len(s) {
		return 0, start
	}

	negative := false
	if s[pos] == '-' || s[pos] == '+' {
		negative = s[pos] == '-'
		pos++
	}

	digits := pos
	value := 0
	for pos < len(s) && isDigit(s[pos]) {
		value = value*10 + int(s[pos]-'0')
		pos++
	}

	if pos == digits {
		return 0, start
	}

	if negative {
		value = -value
	}
	return value, pos
}

// parseFloat parses a decimal number from the string starting at pos.
// The returned position equals pos when no number was found.
func parseFloat(s string, pos int) (float64, int) {
	start := pos
	if pos >= len(s) {
		return 0, start
	}

	negative := false
	if s[pos] == '-' || s[pos] == '+' {
		negative = s[pos] == '-'
		pos++
	}

	intPart := 0.0
	sawDigit := false
	for pos < len(s) && isDigit(s[pos]) {
		intPart = intPart*10 + float64(s[pos]-'0')
		sawDigit = true
		pos++
	}

	value := intPart
	if pos < len(s) && s[pos] == '.' {
		pos++
		frac, divisor := 0.0, 1.0
		for pos < len(s) && isDigit(s[pos]) {
			frac = frac*10 + float64(s[pos]-'0')
			divisor *= 10
			sawDigit = true
			pos++
		}
		value += frac / divisor
	}

	if !sawDigit {
		return 0, start
	}

	if negative {
		value = -value
	}
	return value, pos
}

func skipSpace(s string, pos int) int {
	for pos < len(s) && (s[pos] == ' ' || s[pos] == '\t') {
		pos++
	}
	return pos
}

// readComment appends the comment starting at pos to cmd and returns the
// position after it.
func readComment(cmd *Command, line string, pos int) int {
	end := commentEnd(line, pos)
	if cmd.Comment != "" {
		cmd.Comment += " "
	}
	cmd.Comment += line[pos:end]
	return end
}

// commentEnd returns the end of the comment at pos: ';' runs to the end of
// the line, '(' to the matching ')' or the end of an unclosed line.
func commentEnd(line string, pos int) int {
	if line[pos] == '(' {
		for i := pos + 1; i < len(line); i++ {
			if line[i] == ')' {
				return i + 1
			}
		}
	}
	return len(line)
}

func isComment(c byte) bool {
	return c == ';' || c == '('
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

func isLetter(c byte) bool {
	return (c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z')
}

func toUpper(c byte) byte {
	if c >= 'a' && c <= 'z' {
		return c - ('a' - 'A')
	}
	return c
}
