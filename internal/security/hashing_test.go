package security

import (
	"context"
	"strings"
	"testing"

	"golang.org/x/crypto/bcrypt"
)

func TestHasherHashAndCompare(t *testing.T) {
	h := NewHasher(bcrypt.MinCost, 2)
	ctx := context.Background()

	hash, err := h.Hash(ctx, []byte("correct horse battery 1"))
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	if strings.Contains(hash, "correct horse") {
		t.Fatal("plaintext leaked into hash")
	}
	if err := h.Compare(ctx, hash, []byte("correct horse battery 1")); err != nil {
		t.Errorf("Compare with right password: %v", err)
	}
	if err := h.Compare(ctx, hash, []byte("wrong password 2")); err == nil {
		t.Error("Compare with wrong password succeeded")
	}
}

func TestHasherCostClamped(t *testing.T) {
	if got := NewHasher(0, 1).Cost(); got != bcrypt.DefaultCost {
		t.Errorf("cost(0) = %d, want default %d", got, bcrypt.DefaultCost)
	}
	if got := NewHasher(99, 1).Cost(); got != bcrypt.MaxCost {
		t.Errorf("cost(99) = %d, want max %d", got, bcrypt.MaxCost)
	}
	if got := NewHasher(2, 1).Cost(); got != bcrypt.MinCost {
		t.Errorf("cost(2) = %d, want min %d", got, bcrypt.MinCost)
	}
}

func TestHasherCancelledContext(t *testing.T) {
	h := NewHasher(bcrypt.MinCost, 1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := h.Hash(ctx, []byte("pw")); err == nil {
		t.Error("Hash with cancelled context should fail")
	}
	if err := h.Compare(ctx, "$2a$04$invalid", []byte("pw")); err == nil {
		t.Error("Compare with cancelled context should fail")
	}
}

func TestHashRefreshToken(t *testing.T) {
	h1 := HashRefreshToken("token-a")
	h2 := HashRefreshToken("token-a")
	if h1 != h2 {
		t.Error("hash not deterministic")
	}
	if len(h1) != 64 {
		t.Errorf("hash length = %d, want 64 hex chars", len(h1))
	}
	if h1 == "token-a" || strings.Contains(h1, "token") {
		t.Error("token leaked into hash")
	}
	if HashRefreshToken("token-b") == h1 {
		t.Error("different tokens collide")
	}
}

func TestRefreshTokenHashEqual(t *testing.T) {
	stored := HashRefreshToken("token-a")
	if !RefreshTokenHashEqual("token-a", stored) {
		t.Error("matching token rejected")
	}
	if RefreshTokenHashEqual("token-b", stored) {
		t.Error("wrong token accepted")
	}
	if RefreshTokenHashEqual("token-a", "") {
		t.Error("empty stored hash accepted")
	}
}
