package crypt

import (
	"encoding/base64"
	"errors"
	"testing"
)

func TestGenerateKey(t *testing.T) {
	key, err := GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey() error = %v", err)
	}
	if len(key) != KeySize {
		t.Errorf("GenerateKey() key length = %d, want %d", len(key), KeySize)
	}

	key2, err := GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey() error = %v", err)
	}
	if string(key) == string(key2) {
		t.Error("GenerateKey() generated identical keys (should be random)")
	}
}

func TestCodec_RoundTrip(t *testing.T) {
	key, err := GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey() error = %v", err)
	}
	codec, err := NewCodec(key)
	if err != nil {
		t.Fatalf("NewCodec() error = %v", err)
	}

	tests := []struct {
		name      string
		plaintext string
	}{
		{"access token", "ya29.a0AfB_byDFsomeaccesstoken"},
		{"refresh token", "1//0gRefreshTokenWithSlashes"},
		{"empty string", ""},
		{"special chars", "token!@#$%^&*()_+-={}[]|:;<>?,./"},
		{"unicode", "token_🔐_secure"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ciphertext, err := codec.Encrypt(tt.plaintext)
			if err != nil {
				t.Fatalf("Encrypt() error = %v", err)
			}

			if tt.plaintext != "" && ciphertext == tt.plaintext {
				t.Error("Encrypt() returned plaintext unchanged")
			}
			if _, err := base64.StdEncoding.DecodeString(ciphertext); err != nil {
				t.Errorf("Encrypt() did not return valid base64: %v", err)
			}

			decrypted, err := codec.Decrypt(ciphertext)
			if err != nil {
				t.Fatalf("Decrypt() error = %v", err)
			}
			if decrypted != tt.plaintext {
				t.Errorf("Decrypt() = %q, want %q", decrypted, tt.plaintext)
			}
		})
	}
}

func TestCodec_TamperedCiphertext(t *testing.T) {
	key, _ := GenerateKey()
	codec, err := NewCodec(key)
	if err != nil {
		t.Fatalf("NewCodec() error = %v", err)
	}

	ciphertext, err := codec.Encrypt("secret_access_token")
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}

	raw, _ := base64.StdEncoding.DecodeString(ciphertext)
	raw[len(raw)-1] ^= 0xFF
	tampered := base64.StdEncoding.EncodeToString(raw)

	out, err := codec.Decrypt(tampered)
	if err == nil {
		t.Fatalf("Decrypt(tampered) = %q, want error", out)
	}
	if !errors.Is(err, ErrCorruptCredential) {
		t.Errorf("Decrypt(tampered) error = %v, want ErrCorruptCredential", err)
	}
}

func TestCodec_WrongKey(t *testing.T) {
	key1, _ := GenerateKey()
	key2, _ := GenerateKey()
	c1, _ := NewCodec(key1)
	c2, _ := NewCodec(key2)

	ciphertext, err := c1.Encrypt("token_sealed_under_key1")
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}

	// Key rotation without re-encryption must surface as corruption, not
	// silent garbage.
	if _, err := c2.Decrypt(ciphertext); !errors.Is(err, ErrCorruptCredential) {
		t.Errorf("Decrypt() with wrong key error = %v, want ErrCorruptCredential", err)
	}
}

func TestCodec_MalformedInput(t *testing.T) {
	key, _ := GenerateKey()
	codec, _ := NewCodec(key)

	tests := []struct {
		name  string
		input string
	}{
		{"not base64", "not%%base64!!"},
		{"too short", base64.StdEncoding.EncodeToString([]byte("short"))},
		{"empty ciphertext body", base64.StdEncoding.EncodeToString([]byte{})},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := codec.Decrypt(tt.input); !errors.Is(err, ErrCorruptCredential) {
				t.Errorf("Decrypt(%q) error = %v, want ErrCorruptCredential", tt.input, err)
			}
		})
	}
}

func TestNewCodec_KeySize(t *testing.T) {
	if _, err := NewCodec([]byte("too-short")); err == nil {
		t.Error("NewCodec() with short key should fail")
	}
	if _, err := NewCodec(nil); err == nil {
		t.Error("NewCodec() with nil key should fail")
	}
}

func TestKeyFromBase64(t *testing.T) {
	key, _ := GenerateKey()

	tests := []struct {
		name    string
		encoded string
		wantErr bool
	}{
		{"url-safe padded", base64.URLEncoding.EncodeToString(key), false},
		{"url-safe raw", base64.RawURLEncoding.EncodeToString(key), false},
		{"standard", base64.StdEncoding.EncodeToString(key), false},
		{"empty", "", true},
		{"garbage", "!!!not-a-key!!!", true},
		{"wrong length", base64.URLEncoding.EncodeToString(key[:16]), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			decoded, err := KeyFromBase64(tt.encoded)
			if tt.wantErr {
				if err == nil {
					t.Errorf("KeyFromBase64(%q) expected error", tt.encoded)
				}
				return
			}
			if err != nil {
				t.Fatalf("KeyFromBase64() error = %v", err)
			}
			if string(decoded) != string(key) {
				t.Error("KeyFromBase64() did not round-trip key material")
			}
		})
	}
}

func TestKeyToBase64_RoundTrip(t *testing.T) {
	key, _ := GenerateKey()
	decoded, err := KeyFromBase64(KeyToBase64(key))
	if err != nil {
		t.Fatalf("KeyFromBase64(KeyToBase64()) error = %v", err)
	}
	if string(decoded) != string(key) {
		t.Error("base64 round-trip did not preserve key")
	}
}
