package handlers

import (
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"sort"
	"sync"

	"github.com/modernmen/shopfront/libs/auth"
)

var (
	ErrRotationUnsupported = errors.New("key rotation not supported")
	ErrUnknownKid          = errors.New("unknown kid")
)

type TokenSigner interface {
	Sign(claims auth.Claims) (string, error)
	Verify(token string) (*auth.Claims, error)
	// JWKS is empty for symmetric signers.
	JWKS() auth.JWKS
	SetActiveKid(kid string) error
}

type hs256Signer struct {
	secret string
}

func NewHS256Signer(secret string) TokenSigner {
	return &hs256Signer{secret: secret}
}

func (s *hs256Signer) Sign(claims auth.Claims) (string, error) {
	return auth.SignHS256(claims, s.secret)
}

func (s *hs256Signer) Verify(token string) (*auth.Claims, error) {
	return auth.ParseAndVerifyHS256(token, s.secret)
}

func (s *hs256Signer) JWKS() auth.JWKS {
	return auth.JWKS{Keys: []auth.JWK{}}
}

func (s *hs256Signer) SetActiveKid(string) error {
	return ErrRotationUnsupported
}

// RotatingSigner signs with the active RSA key and verifies with any key it
// holds, so tokens issued before a rotation stay valid until they expire.
type RotatingSigner struct {
	mu        sync.RWMutex
	activeKid string
	keys      map[string]*rsa.PrivateKey
}

func NewRS256Signer(pemBytes []byte, kid string) (*RotatingSigner, error) {
	key, err := parseRSAPrivateKey(pemBytes)
	if err != nil {
		return nil, err
	}
	if kid == "" {
		kid = keyIDFromPublicKey(&key.PublicKey)
	}
	return NewRotatingSigner(map[string]*rsa.PrivateKey{kid: key}, kid)
}

func NewRotatingSigner(keys map[string]*rsa.PrivateKey, activeKid string) (*RotatingSigner, error) {
	s := &RotatingSigner{keys: map[string]*rsa.PrivateKey{}}
	for kid, key := range keys {
		if kid != "" && key != nil {
			s.keys[kid] = key
		}
	}
	if len(s.keys) == 0 {
		return nil, errors.New("no rsa keys provided")
	}
	if activeKid == "" {
		kids := s.kids()
		activeKid = kids[0]
	}
	if s.keys[activeKid] == nil {
		return nil, errors.New("active kid not found")
	}
	s.activeKid = activeKid
	return s, nil
}

// ParseRS256KeySet reads every PEM private key in raw and names each by its
// public key fingerprint.
func ParseRS256KeySet(raw string) (map[string]*rsa.PrivateKey, error) {
	keys := map[string]*rsa.PrivateKey{}
	rest := []byte(raw)
	for {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			break
		}
		key, err := privateKeyFromBlock(block)
		if err != nil {
			return nil, err
		}
		keys[keyIDFromPublicKey(&key.PublicKey)] = key
	}
	if len(keys) == 0 {
		return nil, errors.New("no valid rsa keys found")
	}
	return keys, nil
}

func (s *RotatingSigner) Sign(claims auth.Claims) (string, error) {
	s.mu.RLock()
	kid, key := s.activeKid, s.keys[s.activeKid]
	s.mu.RUnlock()
	return auth.SignRS256(claims, key, kid)
}

func (s *RotatingSigner) Verify(token string) (*auth.Claims, error) {
	header, err := auth.ParseHeader(token)
	if err != nil {
		return nil, err
	}
	if header.Alg != "RS256" || header.Kid == "" {
		return nil, auth.ErrInvalidToken
	}
	s.mu.RLock()
	key := s.keys[header.Kid]
	s.mu.RUnlock()
	if key == nil {
		return nil, auth.ErrInvalidToken
	}
	return auth.VerifyRS256(token, &key.PublicKey)
}

func (s *RotatingSigner) JWKS() auth.JWKS {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := auth.JWKS{Keys: make([]auth.JWK, 0, len(s.keys))}
	for _, kid := range s.kids() {
		out.Keys = append(out.Keys, auth.PublicJWK(kid, &s.keys[kid].PublicKey))
	}
	return out
}

func (s *RotatingSigner) ActiveKid() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.activeKid
}

func (s *RotatingSigner) SetActiveKid(kid string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.keys[kid] == nil {
		return ErrUnknownKid
	}
	s.activeKid = kid
	return nil
}

func (s *RotatingSigner) kids() []string {
	kids := make([]string, 0, len(s.keys))
	for kid := range s.keys {
		kids = append(kids, kid)
	}
	sort.Strings(kids)
	return kids
}

func parseRSAPrivateKey(pemBytes []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, errors.New("invalid pem")
	}
	return privateKeyFromBlock(block)
}

func privateKeyFromBlock(block *pem.Block) (*rsa.PrivateKey, error) {
	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	if key, err := x509.ParsePKCS8PrivateKey(block.Bytes); err == nil {
		if rsaKey, ok := key.(*rsa.PrivateKey); ok {
			return rsaKey, nil
		}
	}
	return nil, errors.New("unsupported private key")
}

func keyIDFromPublicKey(pub *rsa.PublicKey) string {
	sum := sha256.Sum256(pub.N.Bytes())
	return base64.RawURLEncoding.EncodeToString(sum[:8])
}
