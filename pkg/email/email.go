// Package email normalizes and validates platform sender identifiers and
// derives human-readable contact names from email addresses.
package email

import (
	"net/mail"
	"strings"
	"unicode"

	"commhub/pkg/domain"
	dErrors "commhub/pkg/domain-errors"
)

// NormalizeIdentifier validates a raw sender identifier against its
// platform's identifier scheme and returns the canonical form (trimmed,
// addresses lowercased, phone numbers stripped of separators).
//
// Errors: CodeInvalidIdentifier when the identifier is malformed. Callers
// must still persist the communication with an unresolved sender.
func NormalizeIdentifier(platform domain.Platform, identifier string) (string, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return "", dErrors.New(dErrors.CodeInvalidIdentifier, "identifier cannot be empty")
	}

	switch {
	case platform.UsesEmailAddresses():
		addr, err := mail.ParseAddress(identifier)
		if err != nil {
			return "", dErrors.New(dErrors.CodeInvalidIdentifier, "unparsable address: "+identifier)
		}
		return strings.ToLower(addr.Address), nil

	case platform.UsesPhoneNumbers():
		normalized, ok := normalizePhone(identifier)
		if !ok {
			return "", dErrors.New(dErrors.CodeInvalidIdentifier, "unparsable phone number: "+identifier)
		}
		return normalized, nil

	default:
		// Handle-based platforms (slack, telegram, instagram): opaque
		// usernames, case-insensitive.
		return strings.ToLower(identifier), nil
	}
}

func normalizePhone(raw string) (string, bool) {
	var b strings.Builder
	for i, r := range raw {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '+' && i == 0:
			b.WriteRune(r)
		case r == ' ' || r == '-' || r == '(' || r == ')' || r == '.':
			// separators are dropped
		default:
			return "", false
		}
	}
	digits := strings.TrimPrefix(b.String(), "+")
	if len(digits) < 7 || len(digits) > 15 {
		return "", false
	}
	return b.String(), true
}

// DeriveNameFromEmail splits an address's local part into a plausible
// first/last name pair for auto-created contacts.
func DeriveNameFromEmail(email string) (string, string) {
	localPart := email
	if at := strings.IndexByte(email, '@'); at > 0 {
		localPart = email[:at]
	}

	parts := strings.FieldsFunc(localPart, func(r rune) bool {
		return r == '.' || r == '_' || r == '-' || r == '+'
	})

	if len(parts) == 0 {
		return "Unknown", "Sender"
	}

	first := capitalize(parts[0])
	last := "Sender"
	if len(parts) > 1 {
		last = capitalize(parts[len(parts)-1])
	}

	return first, last
}

// SplitDisplayName divides a free-form display name into first/last fields.
func SplitDisplayName(displayName string) (string, string) {
	fields := strings.Fields(displayName)
	switch len(fields) {
	case 0:
		return "", ""
	case 1:
		return fields[0], ""
	default:
		return fields[0], strings.Join(fields[1:], " ")
	}
}

func capitalize(s string) string {
	if s == "" {
		return s
	}

	runes := []rune(s)
	runes[0] = unicode.ToUpper(runes[0])
	return string(runes)
}
