// Package messaging sends push messages through the provider send endpoint.
//
// A Message targets exactly one of a device token, a topic, or a boolean
// condition expression. Platform-specific option blocks (android, apns,
// webpush) are opaque to this package and forwarded unmodified.
//
// SendMulticast fans one template out to up to 500 device tokens through a
// bounded worker pool. Results come back in input order: Responses[i] always
// corresponds to Tokens[i], a failed or timed-out send contributes a failure
// entry rather than an error, and SuccessCount+FailureCount always equals the
// number of tokens. Only pre-flight validation (no targets, too many targets,
// an empty token string) returns a non-nil error.
package messaging
