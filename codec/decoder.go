package codec

import (
	"fmt"
	"strconv"
	"strings"
	"unicode/utf16"
	"unicode/utf8"
)

// ParseError reports malformed input with the position of the offending byte.
type ParseError struct {
	Line   int
	Column int
	Msg    string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse error at line %d, column %d: %s", e.Line, e.Column, e.Msg)
}

// Decode parses a JSON document into a Value tree. Objects of the reserved
// two-key form are reified into tagged values in post-order; hints unknown to
// the class registry are preserved as-is. Empty or blank input is a ParseError.
func Decode(data []byte) (*Value, error) {
	d := &decoder{data: data, line: 1, col: 1}
	d.skipSpace()
	if d.pos >= len(d.data) {
		return nil, d.errorf("empty input")
	}
	v, err := d.value()
	if err != nil {
		return nil, err
	}
	d.skipSpace()
	if d.pos < len(d.data) {
		return nil, d.errorf("trailing data after document")
	}
	return v, nil
}

// decoder is a single-pass recursive-descent parser. It advances byte by
// byte so that line/column stay exact for diagnostics.
type decoder struct {
	data []byte
	pos  int
	line int
	col  int
}

func (d *decoder) errorf(format string, args ...any) error {
	return &ParseError{Line: d.line, Column: d.col, Msg: fmt.Sprintf(format, args...)}
}

// advance moves past n bytes, tracking newlines.
func (d *decoder) advance(n int) {
	for i := 0; i < n && d.pos < len(d.data); i++ {
		if d.data[d.pos] == '\n' {
			d.line++
			d.col = 1
		} else {
			d.col++
		}
		d.pos++
	}
}

func (d *decoder) skipSpace() {
	for d.pos < len(d.data) {
		switch d.data[d.pos] {
		case ' ', '\t', '\r', '\n':
			d.advance(1)
		default:
			return
		}
	}
}

func (d *decoder) peek() (byte, error) {
	if d.pos >= len(d.data) {
		return 0, d.errorf("unexpected end of input")
	}
	return d.data[d.pos], nil
}

// expect consumes the literal lit or fails.
func (d *decoder) expect(lit string) error {
	if d.pos+len(lit) > len(d.data) || string(d.data[d.pos:d.pos+len(lit)]) != lit {
		return d.errorf("expected %q", lit)
	}
	d.advance(len(lit))
	return nil
}

func (d *decoder) value() (*Value, error) {
	d.skipSpace()
	c, err := d.peek()
	if err != nil {
		return nil, err
	}
	switch {
	case c == 'n':
		if err := d.expect("null"); err != nil {
			return nil, err
		}
		return NewNull(), nil
	case c == 't':
		if err := d.expect("true"); err != nil {
			return nil, err
		}
		return NewBool(true), nil
	case c == 'f':
		if err := d.expect("false"); err != nil {
			return nil, err
		}
		return NewBool(false), nil
	case c == '"':
		s, err := d.stringLit()
		if err != nil {
			return nil, err
		}
		return NewString(s), nil
	case c == '[':
		return d.array()
	case c == '{':
		return d.object()
	case c == '-' || (c >= '0' && c <= '9'):
		return d.number()
	}
	return nil, d.errorf("unexpected character %q", c)
}

func (d *decoder) array() (*Value, error) {
	d.advance(1) // '['
	arr := NewArray()
	d.skipSpace()
	if c, err := d.peek(); err != nil {
		return nil, err
	} else if c == ']' {
		d.advance(1)
		return arr, nil
	}
	for {
		elem, err := d.value()
		if err != nil {
			return nil, err
		}
		arr.Append(elem)
		d.skipSpace()
		c, err := d.peek()
		if err != nil {
			return nil, err
		}
		switch c {
		case ',':
			d.advance(1)
		case ']':
			d.advance(1)
			return arr, nil
		default:
			return nil, d.errorf("expected ',' or ']' in array, got %q", c)
		}
	}
}

func (d *decoder) object() (*Value, error) {
	d.advance(1) // '{'
	obj := NewObject()
	d.skipSpace()
	if c, err := d.peek(); err != nil {
		return nil, err
	} else if c == '}' {
		d.advance(1)
		return obj, nil
	}
	for {
		d.skipSpace()
		if c, err := d.peek(); err != nil {
			return nil, err
		} else if c != '"' {
			return nil, d.errorf("expected object key, got %q", c)
		}
		key, err := d.stringLit()
		if err != nil {
			return nil, err
		}
		d.skipSpace()
		if c, err := d.peek(); err != nil {
			return nil, err
		} else if c != ':' {
			return nil, d.errorf("expected ':' after object key, got %q", c)
		}
		d.advance(1)
		member, err := d.value()
		if err != nil {
			return nil, err
		}
		obj.Set(key, member)
		d.skipSpace()
		c, err := d.peek()
		if err != nil {
			return nil, err
		}
		switch c {
		case ',':
			d.advance(1)
		case '}':
			d.advance(1)
			return reify(obj), nil
		default:
			return nil, d.errorf("expected ',' or '}' in object, got %q", c)
		}
	}
}

// reify turns an object of the reserved two-key form into a tagged value.
// Children were already reified when they were parsed, so this is post-order.
// A missing payload key reads as a null payload.
func reify(obj *Value) *Value {
	hintVal := obj.Get(keyClass)
	if hintVal == nil || hintVal.Kind() != String {
		return obj
	}
	for _, k := range obj.Keys() {
		if k != keyClass && k != keyPayload {
			return obj
		}
	}
	return NewTagged(hintVal.Str(), obj.Get(keyPayload))
}

func (d *decoder) number() (*Value, error) {
	start := d.pos
	isFloat := false
	if c, _ := d.peek(); c == '-' {
		d.advance(1)
	}
	digits := 0
	for d.pos < len(d.data) {
		c := d.data[d.pos]
		if c >= '0' && c <= '9' {
			digits++
			d.advance(1)
			continue
		}
		if c == '.' || c == 'e' || c == 'E' || c == '+' || c == '-' {
			isFloat = true
			d.advance(1)
			continue
		}
		break
	}
	if digits == 0 {
		return nil, d.errorf("malformed number")
	}
	text := string(d.data[start:d.pos])
	if !isFloat {
		if i, err := strconv.ParseInt(text, 10, 64); err == nil {
			return NewInt(i), nil
		}
		// Too large for int64, fall through to double.
	}
	f, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return nil, d.errorf("malformed number %q", text)
	}
	return NewFloat(f), nil
}

func (d *decoder) stringLit() (string, error) {
	d.advance(1) // opening quote
	var sb strings.Builder
	for {
		if d.pos >= len(d.data) {
			return "", d.errorf("unterminated string")
		}
		c := d.data[d.pos]
		switch {
		case c == '"':
			d.advance(1)
			return sb.String(), nil
		case c == '\\':
			d.advance(1)
			if d.pos >= len(d.data) {
				return "", d.errorf("unterminated escape")
			}
			esc := d.data[d.pos]
			switch esc {
			case '"', '\\', '/':
				sb.WriteByte(esc)
				d.advance(1)
			case 'b':
				sb.WriteByte('\b')
				d.advance(1)
			case 'f':
				sb.WriteByte('\f')
				d.advance(1)
			case 'n':
				sb.WriteByte('\n')
				d.advance(1)
			case 'r':
				sb.WriteByte('\r')
				d.advance(1)
			case 't':
				sb.WriteByte('\t')
				d.advance(1)
			case 'u':
				d.advance(1)
				r, err := d.hex4()
				if err != nil {
					return "", err
				}
				if utf16.IsSurrogate(rune(r)) {
					if d.pos+1 < len(d.data) && d.data[d.pos] == '\\' && d.data[d.pos+1] == 'u' {
						d.advance(2)
						r2, err := d.hex4()
						if err != nil {
							return "", err
						}
						combined := utf16.DecodeRune(rune(r), rune(r2))
						sb.WriteRune(combined)
					} else {
						sb.WriteRune(utf8.RuneError)
					}
				} else {
					sb.WriteRune(rune(r))
				}
			default:
				return "", d.errorf("invalid escape \\%c", esc)
			}
		case c < 0x20:
			return "", d.errorf("raw control character in string")
		default:
			// Copy a full UTF-8 sequence through unchanged.
			_, size := utf8.DecodeRune(d.data[d.pos:])
			sb.Write(d.data[d.pos : d.pos+size])
			d.advance(size)
		}
	}
}

func (d *decoder) hex4() (uint32, error) {
	if d.pos+4 > len(d.data) {
		return 0, d.errorf("truncated \\u escape")
	}
	var r uint32
	for i := 0; i < 4; i++ {
		c := d.data[d.pos]
		var nib uint32
		switch {
		case c >= '0' && c <= '9':
			nib = uint32(c - '0')
		case c >= 'a' && c <= 'f':
			nib = uint32(c-'a') + 10
		case c >= 'A' && c <= 'F':
			nib = uint32(c-'A') + 10
		default:
			return 0, d.errorf("invalid hex digit %q in \\u escape", c)
		}
		r = r<<4 | nib
		d.advance(1)
	}
	return r, nil
}
