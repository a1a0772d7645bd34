package security

import (
	"encoding/hex"
	"testing"
)

func TestGenerateNodeKey(t *testing.T) {
	key, err := GenerateNodeKey()
	if err != nil {
		t.Fatalf("GenerateNodeKey() error: %v", err)
	}
	if len(key) != NodeKeyBytes*2 {
		t.Errorf("len(key) = %d, want %d", len(key), NodeKeyBytes*2)
	}
	if _, err := hex.DecodeString(key); err != nil {
		t.Errorf("key is not hex: %v", err)
	}
}

func TestGenerateNodeKey_Unique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		key, err := GenerateNodeKey()
		if err != nil {
			t.Fatalf("GenerateNodeKey() error: %v", err)
		}
		if seen[key] {
			t.Fatalf("duplicate key after %d draws", i)
		}
		seen[key] = true
	}
}

func TestEqualKey(t *testing.T) {
	key, _ := GenerateNodeKey()

	tests := []struct {
		name      string
		stored    string
		presented string
		want      bool
	}{
		{"match", key, key, true},
		{"last char differs", key, key[:len(key)-1] + "x", false},
		{"empty presented", key, "", false},
		{"empty stored", "", "", false},
		{"prefix", key, key[:10], false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := EqualKey(tt.stored, tt.presented); got != tt.want {
				t.Errorf("EqualKey() = %v, want %v", got, tt.want)
			}
		})
	}
}
