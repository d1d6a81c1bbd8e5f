package types

import "strings"

// CanonicalHex normalizes a felt-like hex string: lower case, "0x" prefix, no leading zeros.
// "0x00AbC" and "0xabc" both become "0xabc"; zero is "0x0".
// Input that is not hex is returned lower-cased and trimmed.
func CanonicalHex(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if !strings.HasPrefix(s, "0x") {
		return s
	}
	digits := s[2:]
	if digits == "" || !isHexDigits(digits) {
		return s
	}
	digits = strings.TrimLeft(digits, "0")
	if digits == "" {
		return "0x0"
	}
	return "0x" + digits
}

// SameAddress reports whether two addresses denote the same felt, ignoring case and leading zeros
func SameAddress(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	return CanonicalHex(a) == CanonicalHex(b)
}

// IsHex reports whether s is a 0x-prefixed, non-empty hex string
func IsHex(s string) bool {
	s = strings.TrimSpace(s)
	if len(s) < 3 || !(strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X")) {
		return false
	}
	return isHexDigits(s[2:])
}

func isHexDigits(s string) bool {
	for _, c := range s {
		switch {
		case c >= '0' && c <= '9', c >= 'a' && c <= 'f', c >= 'A' && c <= 'F':
		default:
			return false
		}
	}
	return true
}
