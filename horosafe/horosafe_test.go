package horosafe

import (
	"errors"
	"strings"
	"testing"
)

func TestValidateURL(t *testing.T) {
	tests := []struct {
		url     string
		wantErr error
	}{
		{"http://127.0.0.1/tex.png", ErrSSRF},
		{"http://10.1.2.3/tex.png", ErrSSRF},
		{"http://192.168.0.10/tex.png", ErrSSRF},
		{"http://[::1]/tex.png", ErrSSRF},
		{"ftp://example.com/tex.png", ErrUnsafeScheme},
		{"data:image/png;base64,AAAA", ErrUnsafeScheme},
		{"https://93.184.216.34/tex.png", nil},
	}
	for _, tt := range tests {
		err := ValidateURL(tt.url)
		if tt.wantErr == nil {
			if err != nil {
				t.Errorf("ValidateURL(%q) = %v, want nil", tt.url, err)
			}
			continue
		}
		if !errors.Is(err, tt.wantErr) {
			t.Errorf("ValidateURL(%q) = %v, want %v", tt.url, err, tt.wantErr)
		}
	}
}

func TestValidateIdentifier(t *testing.T) {
	for _, ok := range []string{"ses_0190", "texture-1", "polygon-3", "a.b"} {
		if err := ValidateIdentifier(ok); err != nil {
			t.Errorf("ValidateIdentifier(%q) = %v", ok, err)
		}
	}
	for _, bad := range []string{"", "../etc", "a b", "x/y", strings.Repeat("a", 300)} {
		if err := ValidateIdentifier(bad); err == nil {
			t.Errorf("ValidateIdentifier(%q) = nil, want error", bad)
		}
	}
}

func TestLimitedReadAll(t *testing.T) {
	data, err := LimitedReadAll(strings.NewReader("hello"), 5)
	if err != nil || string(data) != "hello" {
		t.Fatalf("got %q, %v", data, err)
	}
	if _, err := LimitedReadAll(strings.NewReader("hello!"), 5); !errors.Is(err, ErrTooLarge) {
		t.Fatalf("err = %v, want ErrTooLarge", err)
	}
}

func TestValidateSecret(t *testing.T) {
	if err := ValidateSecret([]byte("texstudio")); !errors.Is(err, ErrSecretTooShort) {
		t.Errorf("short secret: %v", err)
	}
	if err := ValidateSecret([]byte(strings.Repeat("k", MinSecretLen))); err != nil {
		t.Errorf("valid secret: %v", err)
	}
}
