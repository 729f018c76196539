package ratelimiter

import (
	"fmt"
	"strings"
	"unicode"
)

const maxKeyPartLen = 256

const keyNamespace = "ratelimit"

// Key addresses one counter: a limit type, a tier and a subject. The tier is
// part of the key, so tiers never share state.
type Key struct {
	LimitType string
	Tier      TierName
	Subject   string
}

func (k Key) String() string {
	return keyNamespace + ":" + k.LimitType + ":" + string(k.Tier) + ":" + k.Subject
}

// Subject is what a limiter sees of an inbound request.
type Subject struct {
	// ID is the authenticated user id, empty for anonymous requests.
	ID string
	// Address is the client network address.
	Address string
	// Route is the route template, e.g. /api/users/:id.
	Route string
}

// Identifier is the user id when authenticated, else the network address.
func (s Subject) Identifier() string {
	if s.ID != "" {
		return "user:" + s.ID
	}
	return "ip:" + s.Address
}

// Validate rejects subjects that cannot form a key.
func (s Subject) Validate() error {
	if s.ID == "" && s.Address == "" {
		return fmt.Errorf("subject has neither user id nor address: %w", ErrInvalidKey)
	}
	if s.ID != "" {
		if err := validatePart("user id", s.ID); err != nil {
			return err
		}
	} else if err := validatePart("address", s.Address); err != nil {
		return err
	}
	if s.Route != "" {
		return validatePart("route", s.Route)
	}
	return nil
}

// ValidateIdentifier checks a free form identifier used directly as a key part.
func ValidateIdentifier(id string) error {
	return validatePart("identifier", id)
}

func validatePart(what, v string) error {
	if v == "" {
		return fmt.Errorf("empty %s: %w", what, ErrInvalidKey)
	}
	if len(v) > maxKeyPartLen {
		return fmt.Errorf("%s longer than %d bytes: %w", what, maxKeyPartLen, ErrInvalidKey)
	}
	if i := strings.IndexFunc(v, func(r rune) bool {
		return unicode.IsSpace(r) || unicode.IsControl(r)
	}); i >= 0 {
		return fmt.Errorf("%s contains whitespace or control characters at %d: %w", what, i, ErrInvalidKey)
	}
	return nil
}
