// Package auth issues and verifies the session tokens used by the API.
// Sessions are established with a wallet signature and carried as JWTs.
package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	jwt "github.com/golang-jwt/jwt/v5"
)

const (
	// TokenTTL is how long an issued session stays valid.
	TokenTTL = time.Hour
	// loginWindow bounds how stale a signed login message may be.
	loginWindow = 5 * time.Minute
)

var (
	ErrInvalidSignature = errors.New("auth: invalid signature")
	ErrStaleLogin       = errors.New("auth: login message expired")
	ErrInvalidToken     = errors.New("auth: invalid token")
)

// Claims is the JWT payload for a wallet session.
type Claims struct {
	Wallet string `json:"wallet"`
	jwt.RegisteredClaims
}

// Service signs and verifies session tokens.
type Service struct {
	secret []byte
	issuer string
	nowFn  func() time.Time
}

// NewService builds the auth service with a shared HMAC secret.
func NewService(secret, issuer string) (*Service, error) {
	trimmed := strings.TrimSpace(secret)
	if len(trimmed) < 32 {
		return nil, errors.New("auth: secret must be at least 32 bytes")
	}
	if issuer == "" {
		issuer = "qawakun"
	}
	return &Service{secret: []byte(trimmed), issuer: issuer, nowFn: time.Now}, nil
}

// LoginMessage is the exact text a wallet must sign to establish a session.
func LoginMessage(wallet string, issuedAt time.Time) string {
	return fmt.Sprintf("Login to Qawakun as %s at %d", strings.ToLower(wallet), issuedAt.Unix())
}

// VerifyLogin recovers the signer of a login message and checks it matches
// the claimed wallet. The signature is 65-byte hex from personal_sign.
func (s *Service) VerifyLogin(wallet string, issuedAt time.Time, signatureHex string) error {
	now := s.nowFn()
	if issuedAt.Before(now.Add(-loginWindow)) || issuedAt.After(now.Add(loginWindow)) {
		return ErrStaleLogin
	}

	sig := common.FromHex(strings.TrimSpace(signatureHex))
	if len(sig) != 65 {
		return ErrInvalidSignature
	}
	// personal_sign produces V as 27/28.
	if sig[64] >= 27 {
		sig[64] -= 27
	}

	message := LoginMessage(wallet, issuedAt)
	digest := ethcrypto.Keccak256(
		[]byte(fmt.Sprintf("\x19Ethereum Signed Message:\n%d%s", len(message), message)),
	)
	pub, err := ethcrypto.SigToPub(digest, sig)
	if err != nil {
		return ErrInvalidSignature
	}
	recovered := ethcrypto.PubkeyToAddress(*pub)
	if !strings.EqualFold(recovered.Hex(), strings.TrimSpace(wallet)) {
		return ErrInvalidSignature
	}
	return nil
}

// Issue mints a session token for a wallet.
func (s *Service) Issue(wallet string) (string, error) {
	now := s.nowFn()
	claims := Claims{
		Wallet: strings.ToLower(strings.TrimSpace(wallet)),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   strings.ToLower(strings.TrimSpace(wallet)),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(TokenTTL)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("auth: sign token: %w", err)
	}
	return signed, nil
}

// Verify parses a session token and returns the wallet it belongs to.
func (s *Service) Verify(tokenString string) (string, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.secret, nil
	},
		jwt.WithIssuer(s.issuer),
		jwt.WithTimeFunc(func() time.Time { return s.nowFn() }),
	)
	if err != nil || !token.Valid {
		return "", ErrInvalidToken
	}
	if claims.Wallet == "" {
		return "", ErrInvalidToken
	}
	return claims.Wallet, nil
}
