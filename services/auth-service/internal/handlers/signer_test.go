package handlers

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/modernmen/shopfront/libs/auth"
)

func generateKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return key
}

func encodeKey(key *rsa.PrivateKey) string {
	return string(pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)}))
}

func TestRotatingSignerKeepsOldKeysVerifiable(t *testing.T) {
	k1, k2 := generateKey(t), generateKey(t)
	keys, err := ParseRS256KeySet(encodeKey(k1) + "\n" + encodeKey(k2))
	if err != nil {
		t.Fatalf("parse key set: %v", err)
	}
	if len(keys) != 2 {
		t.Fatalf("expected 2 keys, got %d", len(keys))
	}

	kid1, kid2 := keyIDFromPublicKey(&k1.PublicKey), keyIDFromPublicKey(&k2.PublicKey)
	signer, err := NewRotatingSigner(keys, kid1)
	if err != nil {
		t.Fatalf("new signer: %v", err)
	}
	claims := auth.NewClaims("u1", "t1", auth.RoleAdmin, "", time.Now(), time.Minute)

	before, err := signer.Sign(claims)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if err := signer.SetActiveKid(kid2); err != nil {
		t.Fatalf("rotate: %v", err)
	}
	after, err := signer.Sign(claims)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	for _, token := range []string{before, after} {
		if _, err := signer.Verify(token); err != nil {
			t.Fatalf("token should verify after rotation: %v", err)
		}
	}
	header, err := auth.ParseHeader(after)
	if err != nil || header.Kid != kid2 {
		t.Fatalf("expected kid %s, got %+v (%v)", kid2, header, err)
	}

	set := signer.JWKS()
	if len(set.Keys) != 2 {
		t.Fatalf("expected both keys published, got %d", len(set.Keys))
	}
	if !errors.Is(signer.SetActiveKid("missing"), ErrUnknownKid) {
		t.Fatal("expected ErrUnknownKid")
	}
}

func TestRS256TokensVerifyThroughSharedVerifier(t *testing.T) {
	key := generateKey(t)
	signer, err := NewRS256Signer([]byte(encodeKey(key)), "k1")
	if err != nil {
		t.Fatalf("new signer: %v", err)
	}
	token, err := signer.Sign(auth.NewClaims("u1", "t1", auth.RoleStaff, "s@example.com", time.Now(), time.Minute))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if signer.ActiveKid() != "k1" {
		t.Fatalf("expected active kid k1, got %s", signer.ActiveKid())
	}
	claims, err := auth.VerifyRS256(token, &key.PublicKey)
	if err != nil || claims.UserID() != "u1" {
		t.Fatalf("expected verified claims, got %+v (%v)", claims, err)
	}

	hs := NewHS256Signer("secret")
	if _, err := signer.Verify(mustSign(t, hs)); err == nil {
		t.Fatal("HS256 token must not pass the RS256 signer")
	}
}

func TestParseKeySetRejectsGarbage(t *testing.T) {
	if _, err := ParseRS256KeySet("not a key"); err == nil || !strings.Contains(err.Error(), "no valid") {
		t.Fatalf("expected no valid keys error, got %v", err)
	}
}

func mustSign(t *testing.T, s TokenSigner) string {
	t.Helper()
	token, err := s.Sign(auth.NewClaims("u1", "t1", auth.RoleStaff, "", time.Now(), time.Minute))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return token
}
