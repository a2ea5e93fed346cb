package auth

import "errors"

// Malformed-input errors. Deterministic; retrying the same token cannot help.
var (
	// ErrTokenTooLong rejects tokens over the maximum accepted length before
	// any decoding work happens.
	ErrTokenTooLong = errors.New("auth: token exceeds maximum length")
	// ErrMalformedToken means the token is not a three-segment JWT.
	ErrMalformedToken = errors.New("auth: malformed token")
	// ErrMalformedHeader means the header segment did not decode to a usable
	// JOSE header, or declares an algorithm other than RS256.
	ErrMalformedHeader = errors.New("auth: malformed token header")
	// ErrNoKeyID means the header carries no kid to select a key by.
	ErrNoKeyID = errors.New("auth: token header has no key id")
)

// Key-availability errors. A background refresh may recover these; the
// current call still fails.
var (
	// ErrNoKeysAvailable means the durable key cache could not be read at all.
	ErrNoKeysAvailable = errors.New("auth: no public keys available")
	// ErrKeyNotFound means the token's kid is not in the cached key set.
	ErrKeyNotFound = errors.New("auth: key not found for token kid")
)

// ErrSignatureInvalid means the RS256 signature did not verify against the
// resolved key. Never retried automatically.
var ErrSignatureInvalid = errors.New("auth: signature verification failed")

// Claim errors. Business-rule rejections, never retried.
var (
	ErrTokenExpired    = errors.New("auth: token has expired")
	ErrIssuedInFuture  = errors.New("auth: token issued in the future")
	ErrInvalidIssuer   = errors.New("auth: unexpected token issuer")
	ErrInvalidAudience = errors.New("auth: unexpected token audience")
	ErrInvalidSubject  = errors.New("auth: missing or invalid subject")
)
