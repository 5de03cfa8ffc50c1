package nativehost

import (
	"strings"

	"github.com/google/uuid"
)

// newSessionID returns a time-ordered id without dashes, used to correlate
// the log lines of one host session.
func newSessionID() string {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	return strings.ReplaceAll(id.String(), "-", "")
}
