package db

import (
	"net/url"
	"regexp"
	"strings"
)

var (
	kvPairRegex   = regexp.MustCompile(`(?i)\b(host|user|password|dbname|port|sslmode)=`)
	passwordRegex = regexp.MustCompile(`(?i)(password=)([^\s]+)`)
)

// NormalizeDSN accepts either a URL style DSN (postgres://...) or a key=value list.
// It trims quotes and whitespace and adds sslmode=disable to key=value lists
// that do not set it.
func NormalizeDSN(raw string) string {
	s := strings.TrimSpace(raw)
	s = strings.Trim(s, "\"'")
	if s == "" {
		return s
	}
	if isURLDSN(s) {
		return s
	}
	// not key=value either; let the driver report it
	if !kvPairRegex.MatchString(s) {
		return s
	}
	cleaned := strings.Join(strings.Fields(s), " ")
	if !strings.Contains(strings.ToLower(cleaned), "sslmode=") {
		cleaned += " sslmode=disable"
	}
	return cleaned
}

// ToURLDSN converts a key=value DSN into URL form, which golang-migrate requires.
// Inputs missing host, user or dbname are returned unchanged.
func ToURLDSN(kvDSN string) string {
	if kvDSN == "" || isURLDSN(kvDSN) {
		return kvDSN
	}
	m := map[string]string{}
	for _, part := range strings.Fields(kvDSN) {
		kv := strings.SplitN(part, "=", 2)
		if len(kv) == 2 {
			m[strings.ToLower(kv[0])] = kv[1]
		}
	}
	host, user, dbname := m["host"], m["user"], m["dbname"]
	if host == "" || user == "" || dbname == "" {
		return kvDSN
	}
	u := &url.URL{Scheme: "postgres", Host: host, Path: "/" + dbname}
	if port := m["port"]; port != "" {
		u.Host = host + ":" + port
	}
	if pass := m["password"]; pass != "" {
		u.User = url.UserPassword(user, pass)
	} else {
		u.User = url.User(user)
	}
	if sslm, ok := m["sslmode"]; ok {
		u.RawQuery = url.Values{"sslmode": []string{sslm}}.Encode()
	}
	return u.String()
}

// WithTimeZone pins the session time zone of a Postgres DSN unless it already
// sets one. Date columns are compared against UTC midnights, which only holds
// when the session runs in UTC.
func WithTimeZone(dsn, tz string) string {
	if dsn == "" || strings.Contains(strings.ToLower(dsn), "timezone=") {
		return dsn
	}
	if isURLDSN(dsn) {
		u, err := url.Parse(dsn)
		if err != nil {
			return dsn
		}
		q := u.Query()
		q.Set("timezone", tz)
		u.RawQuery = q.Encode()
		return u.String()
	}
	return dsn + " TimeZone=" + tz
}

// MaskDSN hides the password of a DSN for logging.
func MaskDSN(dsn string) string {
	if isURLDSN(dsn) {
		if u, err := url.Parse(dsn); err == nil {
			return u.Redacted()
		}
	}
	return passwordRegex.ReplaceAllString(dsn, `${1}***`)
}

func isURLDSN(s string) bool {
	lower := strings.ToLower(s)
	return strings.HasPrefix(lower, "postgres://") || strings.HasPrefix(lower, "postgresql://")
}
