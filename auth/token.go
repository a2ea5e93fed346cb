package auth

import (
	"encoding/json"
	"time"
)

// Token is a verified ID token. Claims holds the full decoded claim set,
// including any custom claims beyond the validated ones, unmodified.
type Token struct {
	Issuer   string
	Audience string
	Subject  string
	// UID is the provider user id; for these tokens it equals Subject.
	UID      string
	IssuedAt time.Time
	Expires  time.Time
	Claims   map[string]any
}

// ClaimsInto unmarshals the full claim set into the provided struct
// reference.
func (t *Token) ClaimsInto(ref any) error {
	b, err := json.Marshal(t.Claims)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, ref)
}
