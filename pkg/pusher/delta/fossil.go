package delta

import "fmt"

// fossilDigits is the base-64 digit alphabet used by the Fossil Delta
// format's variable-length integer encoding.
const fossilDigits = "0123456789abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ~"

var fossilDigitValue [256]int8

func init() {
	for i := range fossilDigitValue {
		fossilDigitValue[i] = -1
	}
	for i := 0; i < len(fossilDigits); i++ {
		fossilDigitValue[fossilDigits[i]] = int8(i)
	}
}

// readFossilInt consumes consecutive base-64 digits starting at pos and
// returns their accumulated value together with the position of the
// first non-digit byte (the command's terminator).
func readFossilInt(delta []byte, pos int) (int64, int, error) {
	start := pos
	var v int64
	for pos < len(delta) {
		d := fossilDigitValue[delta[pos]]
		if d < 0 {
			break
		}
		v = v*64 + int64(d)
		pos++
	}
	if pos == start {
		return 0, pos, fmt.Errorf("delta: fossil: expected integer at offset %d", start)
	}
	return v, pos, nil
}

// FossilDecoder reconstructs a target message from a Fossil Delta
// (fossil-scm's binary diff format: a SIZE header followed by a stream
// of copy/insert/checksum commands).
type FossilDecoder struct{}

func (FossilDecoder) Decode(base, delta []byte) ([]byte, error) {
	size, pos, err := readFossilInt(delta, 0)
	if err != nil {
		return nil, err
	}
	if pos >= len(delta) || delta[pos] != '\n' {
		return nil, fmt.Errorf("delta: fossil: malformed header")
	}
	pos++

	out := make([]byte, 0, size)
	for pos < len(delta) {
		arg, next, err := readFossilInt(delta, pos)
		if err != nil {
			return nil, err
		}
		if next >= len(delta) {
			return nil, fmt.Errorf("delta: fossil: truncated command")
		}
		op := delta[next]
		pos = next + 1

		switch op {
		case '@': // copy <arg> bytes from base starting at <offset>,
			offset, next2, err := readFossilInt(delta, pos)
			if err != nil {
				return nil, err
			}
			if next2 >= len(delta) || delta[next2] != ',' {
				return nil, fmt.Errorf("delta: fossil: expected ',' after copy offset")
			}
			pos = next2 + 1
			length, off := int(arg), int(offset)
			if off < 0 || length < 0 || off+length > len(base) {
				return nil, fmt.Errorf("delta: fossil: copy command out of range")
			}
			out = append(out, base[off:off+length]...)

		case ':': // insert <arg> literal bytes
			length := int(arg)
			if length < 0 || pos+length > len(delta) {
				return nil, fmt.Errorf("delta: fossil: insert command out of range")
			}
			out = append(out, delta[pos:pos+length]...)
			pos += length

		case ';': // checksum of the target; terminates the stream
			if int64(len(out)) != size {
				return nil, fmt.Errorf("delta: fossil: target size mismatch: got %d want %d", len(out), size)
			}
			return out, nil

		default:
			return nil, fmt.Errorf("delta: fossil: unknown command byte %q", op)
		}
	}

	if int64(len(out)) != size {
		return nil, fmt.Errorf("delta: fossil: target size mismatch: got %d want %d", len(out), size)
	}
	return out, nil
}
