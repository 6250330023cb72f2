package auth

import (
	"errors"
	"fmt"
	"testing"
	"time"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func newTestService(t *testing.T) *Service {
	t.Helper()
	svc, err := NewService(testSecret, "qawakun-test")
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return svc
}

func signLogin(t *testing.T, wallet string, issuedAt time.Time, keyHex string) string {
	t.Helper()
	key, err := ethcrypto.HexToECDSA(keyHex)
	if err != nil {
		t.Fatalf("parse key: %v", err)
	}
	message := LoginMessage(wallet, issuedAt)
	digest := ethcrypto.Keccak256(
		[]byte(fmt.Sprintf("\x19Ethereum Signed Message:\n%d%s", len(message), message)),
	)
	sig, err := ethcrypto.Sign(digest, key)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	sig[64] += 27
	return fmt.Sprintf("0x%x", sig)
}

func TestVerifyLogin(t *testing.T) {
	svc := newTestService(t)
	keyHex := "4c0883a69102937d6231471b5dbb6204fe51296170827936ea5cce4b76994b0f"
	key, _ := ethcrypto.HexToECDSA(keyHex)
	wallet := ethcrypto.PubkeyToAddress(key.PublicKey).Hex()

	issuedAt := time.Now()
	sig := signLogin(t, wallet, issuedAt, keyHex)
	if err := svc.VerifyLogin(wallet, issuedAt, sig); err != nil {
		t.Fatalf("verify login: %v", err)
	}
}

func TestVerifyLoginWrongWallet(t *testing.T) {
	svc := newTestService(t)
	keyHex := "4c0883a69102937d6231471b5dbb6204fe51296170827936ea5cce4b76994b0f"
	key, _ := ethcrypto.HexToECDSA(keyHex)
	wallet := ethcrypto.PubkeyToAddress(key.PublicKey).Hex()

	issuedAt := time.Now()
	sig := signLogin(t, wallet, issuedAt, keyHex)
	other := "0x1111111111111111111111111111111111111111"
	if err := svc.VerifyLogin(other, issuedAt, sig); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature, got %v", err)
	}
}

func TestVerifyLoginStaleMessage(t *testing.T) {
	svc := newTestService(t)
	keyHex := "4c0883a69102937d6231471b5dbb6204fe51296170827936ea5cce4b76994b0f"
	key, _ := ethcrypto.HexToECDSA(keyHex)
	wallet := ethcrypto.PubkeyToAddress(key.PublicKey).Hex()

	issuedAt := time.Now().Add(-time.Hour)
	sig := signLogin(t, wallet, issuedAt, keyHex)
	if err := svc.VerifyLogin(wallet, issuedAt, sig); !errors.Is(err, ErrStaleLogin) {
		t.Fatalf("expected ErrStaleLogin, got %v", err)
	}
}

func TestIssueAndVerifyToken(t *testing.T) {
	svc := newTestService(t)

	token, err := svc.Issue("0xABCDEF0000000000000000000000000000000001")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	wallet, err := svc.Verify(token)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if wallet != "0xabcdef0000000000000000000000000000000001" {
		t.Fatalf("unexpected wallet %q", wallet)
	}
}

func TestVerifyExpiredToken(t *testing.T) {
	svc := newTestService(t)
	svc.nowFn = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	token, err := svc.Issue("0xabc0000000000000000000000000000000000001")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	svc.nowFn = time.Now
	if _, err := svc.Verify(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestVerifyGarbageToken(t *testing.T) {
	svc := newTestService(t)
	if _, err := svc.Verify("not.a.token"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestNewServiceRejectsShortSecret(t *testing.T) {
	if _, err := NewService("short", "issuer"); err == nil {
		t.Fatal("expected error for short secret")
	}
}
