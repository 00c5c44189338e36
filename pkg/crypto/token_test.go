package crypto

import (
	"errors"
	"strings"
	"testing"
)

func TestParseToken(t *testing.T) {
	tests := []struct {
		name    string
		token   string
		want    []byte
		wantErr bool
	}{
		{"raw_16", "0123456789abcdef", []byte("0123456789abcdef"), false},
		{"hex_32", "000102030405060708090a0b0c0d0e0f", []byte{0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15}, false},
		{"hex_32_upper", "000102030405060708090A0B0C0D0E0F", []byte{0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15}, false},
		{"empty", "", nil, true},
		{"short", "0123456789abcde", nil, true},
		{"17_chars", "0123456789abcdefg", nil, true},
		{"31_chars", strings.Repeat("a", 31), nil, true},
		{"33_chars", strings.Repeat("a", 33), nil, true},
		{"hex_32_not_hex", "zz0102030405060708090a0b0c0d0e0f", nil, true},
		{"placeholder_zero", strings.Repeat("0", 32), make([]byte, 16), false},
		{"placeholder_ones", strings.Repeat("F", 32), []byte(strings.Repeat("\xff", 16)), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseToken(tt.token)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidToken) {
					t.Fatalf("ParseToken() error = %v, want ErrInvalidToken", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseToken() error = %v", err)
			}
			if string(got.Bytes()) != string(tt.want) {
				t.Errorf("ParseToken() = %x, want %x", got.Bytes(), tt.want)
			}
		})
	}
}

// Every 16-character string and every 32-character hex string is a valid
// token; every other length is not.
func TestParseToken_Lengths(t *testing.T) {
	for n := 0; n <= 40; n++ {
		s := strings.Repeat("1", n)
		_, err := ParseToken(s)
		valid := n == 16 || n == 32
		if valid && err != nil {
			t.Errorf("ParseToken(len=%d) error = %v, want nil", n, err)
		}
		if !valid && !errors.Is(err, ErrInvalidToken) {
			t.Errorf("ParseToken(len=%d) error = %v, want ErrInvalidToken", n, err)
		}
	}
}

func TestToken_IsPlaceholder(t *testing.T) {
	tests := []struct {
		token string
		want  bool
	}{
		{strings.Repeat("0", 32), true},
		{strings.Repeat("f", 32), true},
		{strings.Repeat("F", 32), true},
		{"000102030405060708090a0b0c0d0e0f", false},
		{"0123456789abcdef", false},
	}
	for _, tt := range tests {
		if got := MustParseToken(tt.token).IsPlaceholder(); got != tt.want {
			t.Errorf("IsPlaceholder(%s) = %v, want %v", tt.token, got, tt.want)
		}
	}
}

func TestToken_StringRedacted(t *testing.T) {
	tok := MustParseToken("0123456789abcdef")
	if strings.Contains(tok.String(), "0123") {
		t.Errorf("Token.String() leaks token: %q", tok.String())
	}
}
