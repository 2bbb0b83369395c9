package bitio

import (
	"bytes"
	"testing"
)

func TestReadBufferUintRoundTrip(t *testing.T) {
	cases := []struct {
		name   string
		width  int
		endian Endian
		bytes  []byte
		want   uint64
	}{
		{"be-1", 1, BigEndian, []byte{0xAB}, 0xAB},
		{"be-3", 3, BigEndian, []byte{0x00, 0xFF, 0xFF}, 0xFFFF},
		{"be-3-max", 3, BigEndian, []byte{0xFF, 0xFF, 0xFF}, 0xFFFFFF},
		{"be-4", 4, BigEndian, []byte{0x00, 0x00, 0x01, 0x00}, 0x100},
		{"le-4", 4, LittleEndian, []byte{0x00, 0x01, 0x00, 0x00}, 0x100},
		{"be-8", 8, BigEndian, []byte{0, 0, 0, 0, 0x10, 0, 0, 0}, 0x10000000},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := NewReadBuffer(0)
			if err := r.Append(tc.bytes); err != nil {
				t.Fatalf("Append: %v", err)
			}
			got, err := r.ReadUint(tc.width, tc.endian)
			if err != nil {
				t.Fatalf("ReadUint: %v", err)
			}
			if got != tc.want {
				t.Fatalf("got %#x want %#x", got, tc.want)
			}
			if r.Remaining() != 0 {
				t.Fatalf("expected 0 remaining, got %d", r.Remaining())
			}
		})
	}
}

func TestReadBufferInsufficientData(t *testing.T) {
	r := NewReadBuffer(0)
	if err := r.Append([]byte{0x01, 0x02}); err != nil {
		t.Fatal(err)
	}
	if _, err := r.ReadUint(4, BigEndian); err != ErrInsufficientData {
		t.Fatalf("expected ErrInsufficientData, got %v", err)
	}
	// A failed read must not move the cursor.
	b, err := r.ReadBytes(2)
	if err != nil {
		t.Fatalf("ReadBytes: %v", err)
	}
	if !bytes.Equal(b, []byte{0x01, 0x02}) {
		t.Fatalf("cursor moved despite insufficient read: got %v", b)
	}
}

func TestReadBufferSnapshotRestore(t *testing.T) {
	r := NewReadBuffer(0)
	if err := r.Append([]byte{1, 2, 3, 4, 5}); err != nil {
		t.Fatal(err)
	}
	if _, err := r.ReadByte(); err != nil {
		t.Fatal(err)
	}

	if err := r.Snapshot(); err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if _, err := r.ReadBytes(2); err != nil {
		t.Fatalf("ReadBytes: %v", err)
	}
	if _, err := r.ReadBytes(100); err != ErrInsufficientData {
		t.Fatalf("expected ErrInsufficientData, got %v", err)
	}
	if err := r.Restore(); err != nil {
		t.Fatalf("Restore: %v", err)
	}

	// Cursor must be bitwise identical to where it was right after the first
	// ReadByte, i.e. positioned to read byte value 2 next.
	b, err := r.ReadByte()
	if err != nil {
		t.Fatal(err)
	}
	if b != 2 {
		t.Fatalf("got %d want 2", b)
	}
}

func TestReadBufferSnapshotBlocksAppend(t *testing.T) {
	r := NewReadBuffer(0)
	if err := r.Snapshot(); err != nil {
		t.Fatal(err)
	}
	if err := r.Append([]byte{1}); err != ErrSnapshotActive {
		t.Fatalf("expected ErrSnapshotActive, got %v", err)
	}
}

func TestReadBufferNestedSnapshotRejected(t *testing.T) {
	r := NewReadBuffer(0)
	if err := r.Snapshot(); err != nil {
		t.Fatal(err)
	}
	if err := r.Snapshot(); err != ErrNestedSnapshot {
		t.Fatalf("expected ErrNestedSnapshot, got %v", err)
	}
}

func TestReadBufferStreamingAppendAcrossBoundary(t *testing.T) {
	// A four-byte value delivered one byte at a time must only become
	// readable once the fourth byte lands; every earlier attempt restores
	// cleanly and leaves the buffer ready to retry.
	r := NewReadBuffer(0)
	full := []byte{0xDE, 0xAD, 0xBE, 0xEF}
	for i := 0; i < len(full)-1; i++ {
		if err := r.Append(full[i : i+1]); err != nil {
			t.Fatal(err)
		}
		if err := r.Snapshot(); err != nil {
			t.Fatal(err)
		}
		if _, err := r.ReadUint(4, BigEndian); err != ErrInsufficientData {
			t.Fatalf("byte %d: expected ErrInsufficientData, got %v", i, err)
		}
		if err := r.Restore(); err != nil {
			t.Fatal(err)
		}
	}
	if err := r.Append(full[len(full)-1:]); err != nil {
		t.Fatal(err)
	}
	got, err := r.ReadUint(4, BigEndian)
	if err != nil {
		t.Fatal(err)
	}
	if got != 0xDEADBEEF {
		t.Fatalf("got %#x want 0xdeadbeef", got)
	}
}

func TestReadBufferPeekDoesNotConsume(t *testing.T) {
	r := NewReadBuffer(0)
	if err := r.Append([]byte{0x01, 0x02, 0x03}); err != nil {
		t.Fatal(err)
	}
	v, err := r.PeekUint(2, BigEndian, 1)
	if err != nil {
		t.Fatal(err)
	}
	if v != 0x0203 {
		t.Fatalf("got %#x want 0x0203", v)
	}
	if r.Remaining() != 3 {
		t.Fatalf("peek consumed bytes: remaining=%d", r.Remaining())
	}
}

func TestReadBufferCompactionPreservesUnreadTail(t *testing.T) {
	r := NewReadBuffer(4)
	if err := r.Append([]byte{1, 2, 3, 4}); err != nil {
		t.Fatal(err)
	}
	if _, err := r.ReadBytes(3); err != nil {
		t.Fatal(err)
	}
	// Forces growth/compaction since capacity hint was tiny.
	if err := r.Append([]byte{5, 6, 7, 8, 9, 10}); err != nil {
		t.Fatal(err)
	}
	got, err := r.ReadBytes(7)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, []byte{4, 5, 6, 7, 8, 9, 10}) {
		t.Fatalf("got %v", got)
	}
}
