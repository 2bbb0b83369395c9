package bitio

import "testing"

func TestWriteBufferWriteBitsBE(t *testing.T) {
	w := NewWriteBuffer(0)
	if err := w.WriteBitsBE(0xFFFFFF, 24); err != nil {
		t.Fatal(err)
	}
	got := w.Take()
	want := []byte{0xFF, 0xFF, 0xFF}
	if string(got) != string(want) {
		t.Fatalf("got %v want %v", got, want)
	}
}

func TestWriteBufferWriteBitsBEPartialByte(t *testing.T) {
	w := NewWriteBuffer(0)
	// Two 4-bit nibbles should pack into a single byte, high nibble first.
	if err := w.WriteBitsBE(0xA, 4); err != nil {
		t.Fatal(err)
	}
	if err := w.WriteBitsBE(0xB, 4); err != nil {
		t.Fatal(err)
	}
	got := w.Take()
	if len(got) != 1 || got[0] != 0xAB {
		t.Fatalf("got %v want [0xAB]", got)
	}
}

func TestWriteBufferWriteBitsLEByteAligned(t *testing.T) {
	w := NewWriteBuffer(0)
	if err := w.WriteBitsLE(0x01020304, 32); err != nil {
		t.Fatal(err)
	}
	got := w.Take()
	want := []byte{0x04, 0x03, 0x02, 0x01}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v want %v", got, want)
		}
	}
}

func TestWriteBufferReadBackRoundTrip(t *testing.T) {
	w := NewWriteBuffer(0)
	if err := w.WriteBitsBE(0x0203, 16); err != nil {
		t.Fatal(err)
	}
	w.WriteBytes([]byte("hello"))
	if err := w.WriteBitsLE(0x11223344, 32); err != nil {
		t.Fatal(err)
	}

	r := NewReadBuffer(0)
	if err := r.Append(w.Take()); err != nil {
		t.Fatal(err)
	}
	v, err := r.ReadUint(2, BigEndian)
	if err != nil {
		t.Fatal(err)
	}
	if v != 0x0203 {
		t.Fatalf("got %#x want 0x0203", v)
	}
	s, err := r.ReadBytes(5)
	if err != nil {
		t.Fatal(err)
	}
	if string(s) != "hello" {
		t.Fatalf("got %q want hello", s)
	}
	le, err := r.ReadUint(4, LittleEndian)
	if err != nil {
		t.Fatal(err)
	}
	if le != 0x11223344 {
		t.Fatalf("got %#x want 0x11223344", le)
	}
}

func TestWriteBufferInvalidWidth(t *testing.T) {
	w := NewWriteBuffer(0)
	if err := w.WriteBitsBE(0, 0); err != ErrInvalidWidth {
		t.Fatalf("expected ErrInvalidWidth, got %v", err)
	}
	if err := w.WriteBitsBE(0, 65); err != ErrInvalidWidth {
		t.Fatalf("expected ErrInvalidWidth, got %v", err)
	}
}

func TestWriteBufferResetAndTake(t *testing.T) {
	w := NewWriteBuffer(0)
	w.WriteBytes([]byte{1, 2, 3})
	w.Reset()
	if w.Len() != 0 {
		t.Fatalf("expected 0 after Reset, got %d", w.Len())
	}
	w.WriteBytes([]byte{9})
	got := w.Take()
	if len(got) != 1 || got[0] != 9 {
		t.Fatalf("got %v", got)
	}
}
