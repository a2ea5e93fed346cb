// Package auth verifies bearer ID tokens issued by the identity provider.
//
// The public surface intentionally stays small: a Client validates a raw
// token string and returns a Token (or an error), and can revoke a user's
// refresh tokens through the identity-toolkit endpoint.
//
// # Verification
//
// VerifyIDToken runs a fixed pipeline, short-circuiting on the first
// failure: a length guard, a structural three-segment check, a lazy load of
// the durable key cache, header decoding (RS256 only), key resolution by kid,
// RS256 signature verification, and finally the claim checks (expiry, issue
// time with a five minute skew allowance, issuer, audience, subject).
//
// A kid that is not in the cache, or a signature that does not verify, kicks
// off an asynchronous key refresh before the call returns its error: the key
// may simply be newer than the cache. The current call never retries against
// the refreshed keys; callers seeing ErrKeyNotFound or ErrSignatureInvalid
// right after a cold start may retry once themselves.
//
// # Errors
//
// Every failure mode maps to a package-level sentinel tested with errors.Is:
//
//	tok, err := client.VerifyIDToken(ctx, raw)
//	if errors.Is(err, auth.ErrTokenExpired) { /* prompt re-authentication */ }
//	if errors.Is(err, auth.ErrKeyNotFound) { /* retry once after a beat */ }
package auth
