package identity

import (
	"errors"
	"strings"
	"testing"
)

func TestPasswordHasher_HashAndVerify(t *testing.T) {
	hasher := NewPasswordHasherWithCost(4)

	tests := []struct {
		name     string
		password string
	}{
		{"simple password", "Secret123"},
		{"symbols", "P@ssw0rd!#$%^&*()"},
		{"unicode", "mật khẩu 123"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hash, err := hasher.Hash(tt.password)
			if err != nil {
				t.Fatalf("Hash() error = %v", err)
			}
			if hash == tt.password {
				t.Error("Hash() returned the original password")
			}
			if !hasher.Verify(tt.password, hash) {
				t.Error("Verify() = false for the correct password")
			}
			if hasher.Verify(tt.password+"x", hash) {
				t.Error("Verify() = true for a wrong password")
			}
		})
	}
}

func TestPasswordHasher_SaltsEachHash(t *testing.T) {
	hasher := NewPasswordHasherWithCost(4)

	first, _ := hasher.Hash("Secret123")
	second, _ := hasher.Hash("Secret123")
	if first == second {
		t.Error("Hash() produced identical hashes for the same password")
	}
}

func TestPasswordHasher_TooLong(t *testing.T) {
	hasher := NewPasswordHasherWithCost(4)

	_, err := hasher.Hash(strings.Repeat("a", 73))
	if !errors.Is(err, ErrPasswordTooLong) {
		t.Errorf("Hash() error = %v, want %v", err, ErrPasswordTooLong)
	}
}

func TestPasswordHasher_VerifyInvalidHash(t *testing.T) {
	hasher := NewPasswordHasher()

	if hasher.Verify("Secret123", "not-a-bcrypt-hash") {
		t.Error("Verify() = true for an invalid hash")
	}
}
