package session

import (
	"regexp"
	"strings"

	"github.com/google/uuid"
)

var idPattern = regexp.MustCompile(`^[A-Za-z0-9._:-]{1,128}$`)

// ValidID reports whether id is acceptable as a client-supplied session id.
func ValidID(id string) bool {
	return idPattern.MatchString(id)
}

func sanitizeID(id string) string {
	id = strings.TrimSpace(id)
	if !ValidID(id) {
		return ""
	}
	return id
}

func newID() string {
	return uuid.NewString()
}
