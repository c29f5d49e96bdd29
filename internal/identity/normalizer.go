// Package identity derives canonical contact keys.
//
// Raw provider identifiers arrive in many spellings of the same phone number:
//
//	5584996250203@s.whatsapp.net
//	5584996250203:12@s.whatsapp.net   (device suffix)
//	84996250203                        (missing country code)
//	558496250203                       (legacy 8-digit mobile form)
//
// All of them must map to the single routing key "5584996250203". Group ids
// are unroutable; broadcast events are routable only through their participant.
package identity

import (
	"strings"
)

// Provider suffixes stripped from raw identifiers.
const (
	suffixUser      = "@s.whatsapp.net"
	suffixLegacy    = "@c.us"
	suffixGroup     = "@g.us"
	suffixLID       = "@lid"
	suffixBroadcast = "@broadcast"
)

// Normalizer derives canonical contact keys. It is pure and deterministic:
// the same input always yields the same key, and it performs no I/O.
type Normalizer struct {
	// DefaultCountryCode is prepended to numbers that arrive without one.
	// Empty means "55" (Brazil), matching the deployment this was built for.
	DefaultCountryCode string
}

// Result carries the normalized key plus broadcast metadata. Key is empty when
// the identifier is unroutable (group id, broadcast without participant, or
// not enough digits to be a phone number).
type Result struct {
	Key         string
	IsBroadcast bool
}

// Normalize canonicalizes a raw provider identifier. For broadcast-list forms
// the participant identifier (delivered alongside the event) is normalized
// instead and the result is flagged; the broadcast id itself is never a
// routing key.
func (n Normalizer) Normalize(raw, participant string) Result {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Result{}
	}

	if strings.HasSuffix(raw, suffixBroadcast) || strings.Contains(raw, "broadcast") {
		if participant == "" {
			return Result{}
		}
		key := n.normalizeNumber(participant)
		return Result{Key: key, IsBroadcast: key != ""}
	}

	if strings.HasSuffix(raw, suffixGroup) {
		return Result{}
	}

	return Result{Key: n.normalizeNumber(raw)}
}

// normalizeNumber reduces one raw identifier to the canonical digits-only key.
func (n Normalizer) normalizeNumber(raw string) string {
	// Device suffix ("5584...:12@s.whatsapp.net") comes before the domain part.
	if idx := strings.IndexByte(raw, ':'); idx >= 0 {
		if at := strings.IndexByte(raw, '@'); at < 0 || idx < at {
			raw = raw[:idx]
		}
	}
	if idx := strings.IndexByte(raw, '@'); idx >= 0 {
		raw = raw[:idx]
	}

	digits := stripNonDigits(raw)
	if len(digits) < 8 {
		return ""
	}

	cc := n.DefaultCountryCode
	if cc == "" {
		cc = "55"
	}

	// A 10/11-digit number is area code + local number without country code.
	if !strings.HasPrefix(digits, cc) && (len(digits) == 10 || len(digits) == 11) {
		digits = cc + digits
	}

	// Legacy 8-digit mobile numbers gained a leading "9" in the Brazilian
	// renumbering. Applying the same rule to every 8-digit mobile local part
	// keeps old and new spellings on one key.
	if strings.HasPrefix(digits, cc) && len(digits) == len(cc)+10 {
		local := digits[len(cc)+2:]
		if local[0] >= '6' && local[0] <= '9' {
			digits = digits[:len(cc)+2] + "9" + local
		}
	}

	return digits
}

func stripNonDigits(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
