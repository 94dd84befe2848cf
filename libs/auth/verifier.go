package auth

// Verifier checks HS256 tokens with a shared secret and, when a JWKS client is
// configured, RS256 tokens by key id.
type Verifier struct {
	secret string
	jwks   *JWKSClient
}

func NewVerifier(secret string, jwks *JWKSClient) *Verifier {
	return &Verifier{secret: secret, jwks: jwks}
}

func (v *Verifier) Verify(token string) (*Claims, error) {
	header, err := ParseHeader(token)
	if err != nil {
		return nil, err
	}
	if header.Alg == "RS256" {
		if v.jwks == nil || header.Kid == "" {
			return nil, ErrInvalidToken
		}
		pub, err := v.jwks.Get(header.Kid)
		if err != nil {
			return nil, ErrInvalidToken
		}
		return VerifyRS256(token, pub)
	}
	if v.secret == "" {
		return nil, ErrInvalidToken
	}
	return ParseAndVerifyHS256(token, v.secret)
}
