package hashutil

import (
	"crypto/sha256"
	"encoding/hex"
	"testing"
)

func TestSum(t *testing.T) {
	data := []byte("jpeg bytes")
	want := sha256.Sum256(data)

	got, err := Sum(Default, data)
	if err != nil {
		t.Fatalf("Sum failed: %v", err)
	}
	if got != hex.EncodeToString(want[:]) {
		t.Errorf("got %s, want %x", got, want)
	}

	if _, err := Sum("md4", data); err == nil {
		t.Error("expected error for unsupported algorithm")
	}
	if _, err := GetHasher("sha512"); err != nil {
		t.Errorf("sha512 should be supported: %v", err)
	}
}
