package sqlengine

import "strings"

// IsConstraintViolation reports whether err came back from a failed
// UNIQUE or PRIMARY KEY constraint, so callers can translate it into a
// domain-level duplicate error instead of surfacing the raw driver
// message.
func IsConstraintViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "constraint failed: UNIQUE") ||
		strings.Contains(msg, "PRIMARY KEY constraint failed")
}
