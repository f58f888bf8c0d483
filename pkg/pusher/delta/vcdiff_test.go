package delta

import "testing"

// TestVcdiffDecodeAddOnlyWindow is a minimal RFC 3284 default-table
// window containing a single ADD instruction and no source segment.
func TestVcdiffDecodeAddOnlyWindow(t *testing.T) {
	delta := append([]byte{
		0xD6, 0xC3, 0xC4, 0x00, 0x00, // magic, version, header indicator
		0x00,             // win indicator: no source/target window
		0x00,             // length of the delta encoding (unused)
		0x0B,             // target window length: 11
		0x00,             // delta indicator
		0x0B,             // data section length: 11
		0x01,             // instruction section length: 1
		0x00,             // address section length: 0
	}, []byte("hello world")...)
	delta = append(delta, 0x0C) // ADD size 11 (code table entry 1+11)

	got, err := (VcdiffDecoder{}).Decode(nil, delta)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if string(got) != "hello world" {
		t.Fatalf("got %q", got)
	}
}

// TestVcdiffDecodeCopyAddCopyWithSourceWindow covers a COPY/ADD/COPY
// window addressed against a source segment (VCD_SOURCE, mode 0 /
// VCD_SELF addressing), the shape real xdelta3 encoders emit for a
// small edit in the middle of a message.
func TestVcdiffDecodeCopyAddCopyWithSourceWindow(t *testing.T) {
	base := []byte("Hello, World!")
	delta := []byte{
		0xD6, 0xC3, 0xC4, 0x00, 0x00, // magic, version, header indicator
		0x01,       // win indicator: VCD_SOURCE
		0x0D, 0x00, // source length 13, source position 0
		0x00,       // length of the delta encoding (unused)
		0x10,       // target window length: 16
		0x00,       // delta indicator
		0x03,       // data section length: 3
		0x03,       // instruction section length: 3
		0x02,       // address section length: 2
		'G', 'o', ' ',
		0x17, // COPY size 7 mode 0 (code table entry 23)
		0x04, // ADD size 3 (code table entry 4)
		0x16, // COPY size 6 mode 0 (code table entry 22)
		0x00, // COPY 1 address: 0
		0x07, // COPY 2 address: 7
	}

	got, err := (VcdiffDecoder{}).Decode(base, delta)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if string(got) != "Hello, Go World!" {
		t.Fatalf("got %q", got)
	}
}

func TestVcdiffDecodeBadMagicRejected(t *testing.T) {
	delta := []byte{0x00, 0x00, 0x00, 0x00, 0x00}
	if _, err := (VcdiffDecoder{}).Decode(nil, delta); err == nil {
		t.Fatal("expected error for bad magic bytes")
	}
}

func TestVcdiffDecodeSecondaryCompressorRejected(t *testing.T) {
	delta := []byte{0xD6, 0xC3, 0xC4, 0x00, 0x01} // header indicator bit 0x01
	if _, err := (VcdiffDecoder{}).Decode(nil, delta); err == nil {
		t.Fatal("expected error for secondary compressor")
	}
}

func TestVcdiffDecodeCustomCodeTableRejected(t *testing.T) {
	delta := []byte{0xD6, 0xC3, 0xC4, 0x00, 0x02} // header indicator bit 0x02
	if _, err := (VcdiffDecoder{}).Decode(nil, delta); err == nil {
		t.Fatal("expected error for custom code table")
	}
}
