package utils

import (
	"testing"
)

func TestHashString(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{
			name:  "empty string",
			input: "",
			want:  "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855",
		},
		{
			name:  "simple string",
			input: "abc",
			want:  "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := HashString(tt.input)
			if got != tt.want {
				t.Errorf("HashString(%q) = %s, want %s", tt.input, got, tt.want)
			}
		})
	}
}

func TestHashCredential(t *testing.T) {
	secret := "llm-gw-example"

	digest := HashCredential(secret)
	if len(digest) != 64 {
		t.Fatalf("HashCredential() length = %d, want 64", len(digest))
	}
	if digest == secret {
		t.Fatal("HashCredential() returned the plaintext secret")
	}
	if digest != HashCredential(secret) {
		t.Error("HashCredential() is not deterministic")
	}
	if digest == HashCredential(secret+" ") {
		t.Error("HashCredential() collided for different secrets")
	}
}

func TestEqualDigests(t *testing.T) {
	a := HashCredential("key-a")
	b := HashCredential("key-b")

	if !EqualDigests(a, a) {
		t.Error("EqualDigests() = false for identical digests")
	}
	if EqualDigests(a, b) {
		t.Error("EqualDigests() = true for different digests")
	}
	if EqualDigests(a, a[:10]) {
		t.Error("EqualDigests() = true for different lengths")
	}
}
