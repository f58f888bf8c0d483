package delta

import "fmt"

// VcdiffDecoder reconstructs a target message from a VCDIFF (RFC 3284,
// a.k.a. xdelta3) delta window sequence.
//
// This decoder supports the default (non-custom) code table and the
// standard ADD/RUN/COPY single-instruction codes (table entries 0-162).
// It deliberately does not support custom code tables, secondary
// (window or section) compressors, or the combined two-instruction
// code-table entries (163-255) — encoders that emit those are outside
// the subset this client negotiates, and frames using them fail with a
// clear error rather than being silently misdecoded.
type VcdiffDecoder struct{}

const (
	vcdInstNoOp = 0
	vcdInstAdd  = 1
	vcdInstRun  = 2
	vcdInstCopy = 3
)

type codeTableEntry struct {
	inst1, size1, mode1 byte
	inst2, size2, mode2 byte
}

var defaultCodeTable = buildDefaultCodeTable()

// buildDefaultCodeTable constructs table entries 0-162 per the
// generation rule of RFC 3284 Appendix A: RUN (entry 0), ADD (sizes
// 0..17, entries 1-18) and COPY (modes 0..8, sizes {0,4..18}, entries
// 19-162). Entries 163-255 (the combined ADD+COPY/COPY+ADD codes) are
// left as NOOP/NOOP and rejected at decode time — see VcdiffDecoder's
// doc comment.
func buildDefaultCodeTable() [256]codeTableEntry {
	var t [256]codeTableEntry

	t[0] = codeTableEntry{inst1: vcdInstRun, size1: 0}

	for size := 0; size <= 17; size++ {
		t[1+size] = codeTableEntry{inst1: vcdInstAdd, size1: byte(size)}
	}

	entry := 19
	for mode := 0; mode <= 8; mode++ {
		for _, size := range append([]int{0}, sizeRange(4, 18)...) {
			t[entry] = codeTableEntry{inst1: vcdInstCopy, size1: byte(size), mode1: byte(mode)}
			entry++
		}
	}
	return t
}

func sizeRange(lo, hi int) []int {
	out := make([]int, 0, hi-lo+1)
	for i := lo; i <= hi; i++ {
		out = append(out, i)
	}
	return out
}

const (
	vcdNearCacheSize = 4
	vcdSameCacheSize = 3
)

// addrCache implements VCDIFF's near/same address caches (RFC 3284
// §5.3), shared across every window of one delta.
type addrCache struct {
	near    [vcdNearCacheSize]int
	nearPos int
	same    [vcdSameCacheSize * 256]int
}

func (c *addrCache) update(addr int) {
	c.near[c.nearPos] = addr
	c.nearPos = (c.nearPos + 1) % vcdNearCacheSize
	c.same[addr%(vcdSameCacheSize*256)] = addr
}

// decode reads one COPY address for the given mode, consuming bytes
// from addrSection as needed, and updates the caches.
func (c *addrCache) decode(mode byte, here int, addrSection []byte, pos *int) (int, error) {
	var addr int
	switch {
	case mode == 0: // VCD_SELF: address given directly
		v, next, err := readVarint(addrSection, *pos)
		if err != nil {
			return 0, err
		}
		*pos = next
		addr = v
	case mode == 1: // VCD_HERE: address relative to current position
		v, next, err := readVarint(addrSection, *pos)
		if err != nil {
			return 0, err
		}
		*pos = next
		addr = here - v
	case int(mode) < 2+vcdNearCacheSize:
		v, next, err := readVarint(addrSection, *pos)
		if err != nil {
			return 0, err
		}
		*pos = next
		addr = c.near[mode-2] + v
	default:
		if *pos >= len(addrSection) {
			return 0, fmt.Errorf("delta: vcdiff: truncated address section")
		}
		b := addrSection[*pos]
		*pos++
		slot := int(mode) - (2 + vcdNearCacheSize)
		addr = c.same[slot*256+int(b)]
	}
	c.update(addr)
	return addr, nil
}

// readVarint reads a VCDIFF variable-length integer: big-endian,
// 7 data bits per byte, MSB set to indicate continuation.
func readVarint(b []byte, pos int) (int, int, error) {
	v := 0
	for {
		if pos >= len(b) {
			return 0, 0, fmt.Errorf("delta: vcdiff: truncated integer")
		}
		c := b[pos]
		pos++
		v = (v << 7) | int(c&0x7f)
		if c&0x80 == 0 {
			break
		}
	}
	return v, pos, nil
}

const (
	vcdWinSource  = 0x01
	vcdWinTarget  = 0x02
	vcdWinAdler32 = 0x04
)

func (VcdiffDecoder) Decode(base, delta []byte) ([]byte, error) {
	if len(delta) < 5 || delta[0] != 0xD6 || delta[1] != 0xC3 || delta[2] != 0xC4 {
		return nil, fmt.Errorf("delta: vcdiff: bad magic bytes")
	}
	if delta[3] != 0x00 {
		return nil, fmt.Errorf("delta: vcdiff: unsupported version %d", delta[3])
	}
	pos := 4
	hdrIndicator := delta[pos]
	pos++
	if hdrIndicator&0x01 != 0 {
		return nil, fmt.Errorf("delta: vcdiff: secondary compressors are not supported")
	}
	if hdrIndicator&0x02 != 0 {
		return nil, fmt.Errorf("delta: vcdiff: custom code tables are not supported")
	}

	cache := &addrCache{}
	var out []byte
	base = append([]byte(nil), base...) // own copy: later windows append to it as history grows

	for pos < len(delta) {
		winIndicator := delta[pos]
		pos++

		var sourceLen, sourcePos int
		var source []byte
		if winIndicator&(vcdWinSource|vcdWinTarget) != 0 {
			if winIndicator&vcdWinTarget != 0 {
				return nil, fmt.Errorf("delta: vcdiff: target-window (self-referential) deltas are not supported")
			}
			var err error
			sourceLen, pos, err = readVarint(delta, pos)
			if err != nil {
				return nil, err
			}
			sourcePos, pos, err = readVarint(delta, pos)
			if err != nil {
				return nil, err
			}
			if sourcePos < 0 || sourcePos+sourceLen > len(base) {
				return nil, fmt.Errorf("delta: vcdiff: source segment out of range")
			}
			source = base[sourcePos : sourcePos+sourceLen]
		}

		_, next, err := readVarint(delta, pos) // length of delta encoding (unused: sections are self-describing)
		if err != nil {
			return nil, err
		}
		pos = next

		targetLen, next, err := readVarint(delta, pos)
		if err != nil {
			return nil, err
		}
		pos = next

		if pos >= len(delta) {
			return nil, fmt.Errorf("delta: vcdiff: truncated window header")
		}
		deltaIndicator := delta[pos]
		pos++
		if deltaIndicator != 0 {
			return nil, fmt.Errorf("delta: vcdiff: section-level secondary compression is not supported")
		}

		dataLen, next, err := readVarint(delta, pos)
		if err != nil {
			return nil, err
		}
		pos = next
		instLen, next, err := readVarint(delta, pos)
		if err != nil {
			return nil, err
		}
		pos = next
		addrLen, next, err := readVarint(delta, pos)
		if err != nil {
			return nil, err
		}
		pos = next

		if winIndicator&vcdWinAdler32 != 0 {
			if pos+4 > len(delta) {
				return nil, fmt.Errorf("delta: vcdiff: truncated checksum")
			}
			pos += 4 // checksum verification is not implemented; presence is only skipped over
		}

		if pos+dataLen+instLen+addrLen > len(delta) {
			return nil, fmt.Errorf("delta: vcdiff: truncated window sections")
		}
		dataSection := delta[pos : pos+dataLen]
		pos += dataLen
		instSection := delta[pos : pos+instLen]
		pos += instLen
		addrSection := delta[pos : pos+addrLen]
		pos += addrLen

		target := make([]byte, 0, targetLen)
		dataPos, instPos, addrPos := 0, 0, 0

		for instPos < len(instSection) {
			code := instSection[instPos]
			instPos++
			entry := defaultCodeTable[code]
			if entry.inst2 != vcdInstNoOp {
				return nil, fmt.Errorf("delta: vcdiff: combined-instruction code table entries are not supported")
			}

			size := int(entry.size1)
			if size == 0 && entry.inst1 != vcdInstNoOp {
				var err error
				size, instPos, err = readVarint(instSection, instPos)
				if err != nil {
					return nil, err
				}
			}

			switch entry.inst1 {
			case vcdInstNoOp:
				return nil, fmt.Errorf("delta: vcdiff: combined-instruction code table entry %d is not supported", code)
			case vcdInstAdd:
				if dataPos+size > len(dataSection) {
					return nil, fmt.Errorf("delta: vcdiff: ADD out of range")
				}
				target = append(target, dataSection[dataPos:dataPos+size]...)
				dataPos += size
			case vcdInstRun:
				if dataPos >= len(dataSection) {
					return nil, fmt.Errorf("delta: vcdiff: RUN out of range")
				}
				b := dataSection[dataPos]
				dataPos++
				for i := 0; i < size; i++ {
					target = append(target, b)
				}
			case vcdInstCopy:
				here := sourceLen + len(target)
				addr, err := cache.decode(entry.mode1, here, addrSection, &addrPos)
				if err != nil {
					return nil, err
				}
				if addr < 0 || addr+size > sourceLen+len(target) {
					return nil, fmt.Errorf("delta: vcdiff: COPY out of range")
				}
				for i := 0; i < size; i++ {
					p := addr + i
					if p < sourceLen {
						target = append(target, source[p])
					} else {
						target = append(target, target[p-sourceLen])
					}
				}
			default:
				return nil, fmt.Errorf("delta: vcdiff: unknown instruction %d", entry.inst1)
			}
		}

		if len(target) != targetLen {
			return nil, fmt.Errorf("delta: vcdiff: target window size mismatch: got %d want %d", len(target), targetLen)
		}
		out = append(out, target...)
		base = append(base, target...) // subsequent windows may address earlier target data as source
	}

	return out, nil
}
