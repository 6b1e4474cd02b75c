package message

import (
	"fmt"
	"strings"
)

// rootToken stands in for the root unit's empty path, since NATS subjects
// cannot contain empty tokens.
const rootToken = "_"

// SubjectForPath maps a unit path onto the request subject space below
// prefix. Path segments become subject tokens.
func SubjectForPath(prefix, path string) string {
	token := rootToken
	if path != "" {
		token = strings.ReplaceAll(strings.Trim(path, "/"), "/", ".")
	}
	return fmt.Sprintf("%s.requests.%s", prefix, token)
}

// PathForSubject recovers the unit path from a request subject.
func PathForSubject(prefix, subject string) (string, error) {
	requestPrefix := prefix + ".requests."
	if !strings.HasPrefix(subject, requestPrefix) {
		return "", fmt.Errorf("subject %q is outside the %q request space", subject, prefix)
	}
	token := strings.TrimPrefix(subject, requestPrefix)
	if token == "" {
		return "", fmt.Errorf("subject %q has no path token", subject)
	}
	if token == rootToken {
		return "", nil
	}
	return strings.ReplaceAll(token, ".", "/"), nil
}
