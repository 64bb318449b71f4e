package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestEncryptDecryptRoundTrip(t *testing.T) {
	passphrase := "test-passphrase-123"
	plaintext := "sk-abcdef123456"

	encrypted, err := EncryptValue(plaintext, passphrase)
	if err != nil {
		t.Fatalf("EncryptValue: %v", err)
	}
	decrypted, err := DecryptValue(encrypted, passphrase)
	if err != nil {
		t.Fatalf("DecryptValue: %v", err)
	}
	if decrypted != plaintext {
		t.Errorf("got %q, want %q", decrypted, plaintext)
	}
}

func TestDecryptWrongPassphrase(t *testing.T) {
	encrypted, err := EncryptValue("secret", "correct-pass")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := DecryptValue(encrypted, "wrong-pass"); err == nil {
		t.Error("expected error with wrong passphrase")
	}
}

func TestDecryptValueMalformed(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"no separator", "abcdef"},
		{"bad salt", "zz:00"},
		{"bad ciphertext", "00:zz"},
		{"too short", "00112233445566778899aabbccddeeff:00"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := DecryptValue(tt.input, "pass"); err == nil {
				t.Errorf("DecryptValue(%q) expected error", tt.input)
			}
		})
	}
}

func TestDecryptSecrets(t *testing.T) {
	passphrase := "test-config-key"
	encKey, err := EncryptValue("sk-secret", passphrase)
	if err != nil {
		t.Fatal(err)
	}
	encTok, err := EncryptValue("gw-secret", passphrase)
	if err != nil {
		t.Fatal(err)
	}

	cfg := Defaults()
	cfg.Generator.APIKey = "enc:" + encKey
	cfg.Sync.Token = "plain-token"
	cfg.Gateway.Auth.Tokens = []TokenConfig{{Name: "ui", Token: "enc:" + encTok}}

	if err := decryptSecrets(cfg, passphrase); err != nil {
		t.Fatalf("decryptSecrets: %v", err)
	}
	if cfg.Generator.APIKey != "sk-secret" {
		t.Errorf("APIKey = %q, want sk-secret", cfg.Generator.APIKey)
	}
	if cfg.Sync.Token != "plain-token" {
		t.Errorf("Sync.Token = %q, want unchanged", cfg.Sync.Token)
	}
	if cfg.Gateway.Auth.Tokens[0].Token != "gw-secret" {
		t.Errorf("gateway token = %q, want gw-secret", cfg.Gateway.Auth.Tokens[0].Token)
	}
}

func TestDecryptSecretsInvalidCiphertext(t *testing.T) {
	cfg := Defaults()
	cfg.Generator.APIKey = "enc:not-valid"
	if err := decryptSecrets(cfg, "key"); err == nil {
		t.Fatal("expected error for invalid ciphertext")
	}
}

func TestLoadWithConfigKey(t *testing.T) {
	passphrase := "load-key"
	enc, err := EncryptValue("sk-from-file", passphrase)
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := "generator:\n  api_key: \"enc:" + enc + "\"\n"
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("DOCCHAT_CONFIG_KEY", passphrase)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Generator.APIKey != "sk-from-file" {
		t.Errorf("APIKey = %q, want sk-from-file", cfg.Generator.APIKey)
	}
}
