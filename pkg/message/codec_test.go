package message

import (
	"bytes"
	"errors"
	"testing"
)

func TestCodec_RoundTrip(t *testing.T) {
	w := NewWriter(0)
	w.PutUint8(0xAB)
	w.PutUint32(0xDEADBEEF)
	w.PutBytes([]byte("hello"))
	w.PutBytes(nil)
	w.PutFixed([]byte{1, 2, 3})

	data, err := w.Bytes()
	if err != nil {
		t.Fatalf("Bytes() failed: %v", err)
	}

	want := []byte{
		0xAB,
		0xDE, 0xAD, 0xBE, 0xEF,
		0x00, 0x00, 0x00, 0x05, 'h', 'e', 'l', 'l', 'o',
		0x00, 0x00, 0x00, 0x00,
		0x01, 0x02, 0x03,
	}
	if !bytes.Equal(data, want) {
		t.Fatalf("encoding = %x, want %x", data, want)
	}

	r := NewReader(data)
	if got := r.Uint8(); got != 0xAB {
		t.Errorf("Uint8() = %#x", got)
	}
	if got := r.Uint32(); got != 0xDEADBEEF {
		t.Errorf("Uint32() = %#x", got)
	}
	if got := r.Bytes(); string(got) != "hello" {
		t.Errorf("Bytes() = %q", got)
	}
	if got := r.Bytes(); got != nil {
		t.Errorf("empty Bytes() = %v, want nil", got)
	}
	if got := r.Fixed(3); !bytes.Equal(got, []byte{1, 2, 3}) {
		t.Errorf("Fixed() = %x", got)
	}
	if err := r.Finish(); err != nil {
		t.Errorf("Finish() = %v", err)
	}
}

func TestCodec_Errors(t *testing.T) {
	t.Run("writer field too long", func(t *testing.T) {
		w := NewWriter(0)
		w.PutBytes(make([]byte, MaxFieldLength+1))
		w.PutUint8(1)
		if _, err := w.Bytes(); !errors.Is(err, ErrFieldTooLong) {
			t.Errorf("error = %v, want ErrFieldTooLong", err)
		}
	})

	t.Run("reader length exceeds maximum", func(t *testing.T) {
		r := NewReader([]byte{0x00, 0x01, 0x00, 0x01})
		r.Bytes()
		if err := r.Finish(); !errors.Is(err, ErrFieldTooLong) {
			t.Errorf("error = %v, want ErrFieldTooLong", err)
		}
	})

	t.Run("truncated field", func(t *testing.T) {
		r := NewReader([]byte{0x00, 0x00, 0x00, 0x08, 1, 2})
		r.Bytes()
		if err := r.Finish(); !errors.Is(err, ErrTruncated) {
			t.Errorf("error = %v, want ErrTruncated", err)
		}
	})

	t.Run("truncated integer", func(t *testing.T) {
		r := NewReader([]byte{0x00, 0x00})
		r.Uint32()
		if err := r.Finish(); !errors.Is(err, ErrTruncated) {
			t.Errorf("error = %v, want ErrTruncated", err)
		}
	})

	t.Run("trailing data", func(t *testing.T) {
		r := NewReader([]byte{0x01, 0x02})
		r.Uint8()
		if err := r.Finish(); !errors.Is(err, ErrTrailingData) {
			t.Errorf("error = %v, want ErrTrailingData", err)
		}
	})

	t.Run("first error sticks", func(t *testing.T) {
		r := NewReader(nil)
		r.Uint8()
		r.Fail(ErrInvalidStatus)
		if err := r.Err(); !errors.Is(err, ErrTruncated) {
			t.Errorf("error = %v, want ErrTruncated", err)
		}
	})
}

func TestReauthState_RoundTrip(t *testing.T) {
	for _, s := range []ReauthState{ReauthContinue, ReauthPause, ReauthStop, ReauthError} {
		got, err := ParseReauthState(byte(s))
		if err != nil {
			t.Errorf("%s: ParseReauthState() failed: %v", s, err)
			continue
		}
		if got != s {
			t.Errorf("ParseReauthState(%#x) = %s, want %s", byte(s), got, s)
		}
	}

	for _, b := range []byte{0x04, 0x10, 0x7F, 0xFF} {
		if _, err := ParseReauthState(b); !errors.Is(err, ErrInvalidReauthState) {
			t.Errorf("ParseReauthState(%#x) error = %v, want ErrInvalidReauthState", b, err)
		}
	}
}

func TestStatusCode(t *testing.T) {
	tests := []struct {
		b       byte
		valid   bool
		success bool
	}{
		{0x00, true, true},
		{0x01, true, true},
		{0x02, false, false},
		{0xFE, true, false},
		{0xFF, true, false},
	}
	for _, tc := range tests {
		s, err := ParseStatusCode(tc.b)
		if (err == nil) != tc.valid {
			t.Errorf("ParseStatusCode(%#x) error = %v, want valid=%v", tc.b, err, tc.valid)
			continue
		}
		if tc.valid && s.IsSuccess() != tc.success {
			t.Errorf("%s.IsSuccess() = %v, want %v", s, s.IsSuccess(), tc.success)
		}
	}
}
