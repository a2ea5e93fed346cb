package auth

import (
	"context"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"strings"
	"time"

	"github.com/firemsg/firemsg-go/internal/logctx"
	"github.com/golang-jwt/jwt/v5"
)

const (
	// maxTokenLength guards against oversized input before any decoding.
	maxTokenLength = 2500
	// issuerPrefix is completed with the project id to form the expected iss.
	issuerPrefix = "https://securetoken.google.com/"
	// maxSubjectLength bounds the sub claim.
	maxSubjectLength = 128
	// issuedAtLeeway tolerates clock skew on the iat check.
	issuedAtLeeway = 5 * time.Minute
)

type tokenHeader struct {
	Alg string `json:"alg"`
	Kid string `json:"kid"`
}

// VerifyIDToken validates the raw token and returns its claims. The pipeline
// short-circuits on the first failure; see the package documentation for the
// refresh behavior on key misses.
func (c *Client) VerifyIDToken(ctx context.Context, idToken string) (*Token, error) {
	ctx = logctx.WithOperation(ctx, &logctx.Operation{Name: "auth.verify", Project: c.projectID})

	if len(idToken) > maxTokenLength {
		return nil, ErrTokenTooLong
	}
	segments := strings.Split(idToken, ".")
	if len(segments) != 3 {
		return nil, ErrMalformedToken
	}

	if err := c.ring.EnsureLoaded(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoKeysAvailable, err)
	}

	parser := jwt.NewParser()
	headerRaw, err := parser.DecodeSegment(segments[0])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedHeader, err)
	}
	var header tokenHeader
	if err := json.Unmarshal(headerRaw, &header); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedHeader, err)
	}
	if header.Alg != jwt.SigningMethodRS256.Alg() {
		return nil, fmt.Errorf("%w: algorithm %q is not RS256", ErrMalformedHeader, header.Alg)
	}
	if header.Kid == "" {
		return nil, ErrNoKeyID
	}

	material, ok := c.ring.Key(header.Kid)
	if !ok {
		// The key may be newer than the cache. Kick a background refresh so a
		// subsequent call can succeed; this call still fails.
		c.refresher.Refresh()
		c.log.DebugContext(ctx, "token kid not cached, refresh triggered", "kid", header.Kid)
		return nil, ErrKeyNotFound
	}
	pub, err := publicKeyFromPEM(material)
	if err != nil {
		c.refresher.Refresh()
		return nil, fmt.Errorf("%w: cached key %q unusable: %v", ErrKeyNotFound, header.Kid, err)
	}

	signingString := idToken[:len(segments[0])+1+len(segments[1])]
	sig, err := parser.DecodeSegment(segments[2])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSignatureInvalid, err)
	}
	if err := jwt.SigningMethodRS256.Verify(signingString, sig, pub); err != nil {
		// Possibly a rotation the cache has not caught up with yet.
		c.refresher.Refresh()
		return nil, fmt.Errorf("%w: %v", ErrSignatureInvalid, err)
	}

	payloadRaw, err := parser.DecodeSegment(segments[1])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedToken, err)
	}
	var claims jwt.MapClaims
	if err := json.Unmarshal(payloadRaw, &claims); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedToken, err)
	}

	return c.validateClaims(claims)
}

// validateClaims applies the claim checks in their fixed order; the first
// violation wins.
func (c *Client) validateClaims(claims jwt.MapClaims) (*Token, error) {
	now := c.now()

	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return nil, ErrTokenExpired
	}
	if !exp.Time.After(now) {
		return nil, ErrTokenExpired
	}

	iat, err := claims.GetIssuedAt()
	if err != nil || iat == nil {
		return nil, ErrIssuedInFuture
	}
	if iat.Time.After(now.Add(issuedAtLeeway)) {
		return nil, ErrIssuedInFuture
	}

	iss, err := claims.GetIssuer()
	if err != nil || iss != c.issuer {
		return nil, fmt.Errorf("%w: got %q", ErrInvalidIssuer, iss)
	}

	aud, err := claims.GetAudience()
	if err != nil || len(aud) != 1 || aud[0] != c.projectID {
		return nil, ErrInvalidAudience
	}

	sub, err := claims.GetSubject()
	if err != nil || sub == "" || len(sub) > maxSubjectLength {
		return nil, ErrInvalidSubject
	}

	return &Token{
		Issuer:   iss,
		Audience: aud[0],
		Subject:  sub,
		UID:      sub,
		IssuedAt: iat.Time,
		Expires:  exp.Time,
		Claims:   map[string]any(claims),
	}, nil
}

// publicKeyFromPEM accepts either an X.509 certificate or a PKIX public key
// block and returns the contained RSA public key.
func publicKeyFromPEM(material string) (*rsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(material))
	if block == nil {
		return nil, fmt.Errorf("not PEM encoded")
	}
	switch block.Type {
	case "CERTIFICATE":
		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("parse certificate: %w", err)
		}
		pub, ok := cert.PublicKey.(*rsa.PublicKey)
		if !ok {
			return nil, fmt.Errorf("certificate does not carry an RSA key")
		}
		return pub, nil
	default:
		pub, err := x509.ParsePKIXPublicKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("parse public key: %w", err)
		}
		rsaPub, ok := pub.(*rsa.PublicKey)
		if !ok {
			return nil, fmt.Errorf("not an RSA key")
		}
		return rsaPub, nil
	}
}
