package threat

import (
	"net"
	"net/mail"
	"regexp"
	"strings"
)

type pattern struct {
	typ   string
	regex *regexp.Regexp
}

// Checked in order; the first match wins.
var patterns = []pattern{
	{TypeCVE, regexp.MustCompile(`(?i)^CVE-\d{4}-\d{4,}$`)},
	{TypeMD5, regexp.MustCompile(`^[a-fA-F0-9]{32}$`)},
	{TypeSHA1, regexp.MustCompile(`^[a-fA-F0-9]{40}$`)},
	{TypeSHA256, regexp.MustCompile(`^[a-fA-F0-9]{64}$`)},
	{TypeURL, regexp.MustCompile(`(?i)^(https?|ftp)://[^\s/$.?#].[^\s]*$`)},
	{TypeDomain, regexp.MustCompile(`(?i)^([a-z0-9]([a-z0-9-]{0,61}[a-z0-9])?\.)+[a-z]{2,63}$`)},
}

// Classify guesses the indicator type of value. It returns "" when nothing
// matches; callers keep whatever type their upstream reported in that case.
func Classify(value string) string {
	v := strings.TrimSpace(value)
	if v == "" {
		return ""
	}

	if ip := net.ParseIP(v); ip != nil {
		if ip.To4() != nil {
			return TypeIP
		}
		return TypeIPv6
	}
	if _, _, err := net.ParseCIDR(v); err == nil {
		return TypeCIDR
	}
	if strings.Contains(v, "@") && !strings.Contains(v, "://") {
		if addr, err := mail.ParseAddress(v); err == nil && addr.Address == v {
			return TypeEmail
		}
	}

	for _, p := range patterns {
		if p.regex.MatchString(v) {
			return p.typ
		}
	}
	return ""
}
