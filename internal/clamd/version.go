package clamd

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// VERSION replies look like "ClamAV 0.102.1/25701/Mon Jan 20 12:41:43 2020":
// release, signature DB revision, DB build time.
var versionRegexp = regexp.MustCompile(`^ClamAV ([^/]+)/(\d+)/(.+)$`)

const dbTimeFormat = "Mon Jan 2 15:04:05 2006"

// Version is the parsed clamd VERSION reply. Raw always holds the original
// text; the remaining fields are zero when the daemon replies without the
// signature DB suffix (e.g. before the first freshclam run).
type Version struct {
	Raw         string
	Release     string
	SignatureDB int
	DBTime      time.Time
}

// ParseVersion parses a VERSION reply, tolerating the suffix-less form.
func ParseVersion(raw string) Version {
	raw = strings.TrimSpace(raw)
	v := Version{Raw: raw}

	m := versionRegexp.FindStringSubmatch(raw)
	if m == nil {
		v.Release = strings.TrimPrefix(raw, "ClamAV ")
		return v
	}

	v.Release = m[1]
	v.SignatureDB, _ = strconv.Atoi(m[2])
	if t, err := time.ParseInLocation(dbTimeFormat, m[3], time.UTC); err == nil {
		v.DBTime = t
	}
	return v
}
