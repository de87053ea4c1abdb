// Package builtin implements the fixed library of matcher predicates
// (path globbing, regex, IP, time-window matching) available to every
// matcher expression. Every function here is total: malformed input
// (a bad CIDR, an unparsable pattern) makes the predicate report false
// rather than returning an error, so a single bad rule never aborts
// evaluation of the rest of the policy set.
package builtin

import (
	"net"
	"regexp"
	"strings"
	"time"
)

func splitSegments(s string) []string {
	return strings.Split(s, "/")
}

// KeyMatch reports whether req matches pat, where a "*" segment in pat
// matches exactly one corresponding path segment in req.
func KeyMatch(req, pat string) bool {
	return keyMatch(req, pat, nil, nil)
}

// KeyMatch2 is KeyMatch extended with ":name" segments, each of which
// matches (and captures) exactly one path segment.
func KeyMatch2(req, pat string) bool {
	return keyMatch(req, pat, colonCapture, nil)
}

// KeyMatch3 is KeyMatch extended with "{name}" capturing segments.
func KeyMatch3(req, pat string) bool {
	return keyMatch(req, pat, braceCapture, nil)
}

// KeyMatch4 is KeyMatch3 with the added constraint that repeated
// occurrences of the same "{name}" must capture equal values.
func KeyMatch4(req, pat string) bool {
	captured := make(map[string]string)
	return keyMatch(req, pat, braceCapture, captured)
}

// segmentMatcher recognises a capturing segment pattern and returns the
// capture name, or ok=false if seg is not a capture.
type segmentMatcher func(seg string) (name string, ok bool)

func colonCapture(seg string) (string, bool) {
	if strings.HasPrefix(seg, ":") && len(seg) > 1 {
		return seg[1:], true
	}
	return "", false
}

func braceCapture(seg string) (string, bool) {
	if strings.HasPrefix(seg, "{") && strings.HasSuffix(seg, "}") && len(seg) > 2 {
		return seg[1 : len(seg)-1], true
	}
	return "", false
}

func keyMatch(req, pat string, capture segmentMatcher, consistency map[string]string) bool {
	reqSegs := splitSegments(req)
	patSegs := splitSegments(pat)
	if len(reqSegs) != len(patSegs) {
		return false
	}
	for i, p := range patSegs {
		r := reqSegs[i]
		if p == "*" {
			continue
		}
		if capture != nil {
			if name, ok := capture(p); ok {
				if consistency != nil {
					if prev, seen := consistency[name]; seen && prev != r {
						return false
					}
					consistency[name] = r
				}
				continue
			}
		}
		if p != r {
			return false
		}
	}
	return true
}

// KeyGet returns the segment req matched against pat's single "*"
// wildcard, or "" if req does not match pat or pat has no wildcard.
func KeyGet(req, pat string) string {
	reqSegs := splitSegments(req)
	patSegs := splitSegments(pat)
	if len(reqSegs) != len(patSegs) {
		return ""
	}
	for i, p := range patSegs {
		if p != "*" && p != reqSegs[i] {
			return ""
		}
	}
	for i, p := range patSegs {
		if p == "*" {
			return reqSegs[i]
		}
	}
	return ""
}

// KeyGet2 returns the value req captured for the named ":name" segment
// in pat, or "" if there is no match or no such name.
func KeyGet2(req, pat, name string) string {
	return keyGetCapture(req, pat, name, colonCapture)
}

// KeyGet3 returns the value req captured for the named "{name}" segment
// in pat, or "" if there is no match or no such name.
func KeyGet3(req, pat, name string) string {
	return keyGetCapture(req, pat, name, braceCapture)
}

func keyGetCapture(req, pat, name string, capture segmentMatcher) string {
	reqSegs := splitSegments(req)
	patSegs := splitSegments(pat)
	if len(reqSegs) != len(patSegs) {
		return ""
	}
	var value string
	for i, p := range patSegs {
		r := reqSegs[i]
		if p == "*" {
			continue
		}
		if n, ok := capture(p); ok {
			if n == name {
				value = r
			}
			continue
		}
		if p != r {
			return ""
		}
	}
	return value
}

// RegexMatch reports whether req matches the regular expression pat
// anywhere within req. A malformed pattern evaluates to false.
func RegexMatch(req, pat string) bool {
	re, err := regexp.Compile(pat)
	if err != nil {
		return false
	}
	return re.MatchString(req)
}

// IPMatch reports whether addr falls within cidr. cidr may be a CIDR
// range ("10.0.0.0/8") or a bare address, in which case an exact-match
// comparison is used; if neither side parses as an IP, a literal string
// comparison is the fallback so non-IP identifiers still compare sanely.
func IPMatch(addr, cidr string) bool {
	if strings.Contains(cidr, "/") {
		_, ipnet, err := net.ParseCIDR(cidr)
		if err != nil {
			return false
		}
		ip := net.ParseIP(addr)
		if ip == nil {
			return false
		}
		return ipnet.Contains(ip)
	}
	ip1 := net.ParseIP(addr)
	ip2 := net.ParseIP(cidr)
	if ip1 != nil && ip2 != nil {
		return ip1.Equal(ip2)
	}
	return addr == cidr
}

// GlobMatch reports whether path matches the shell glob pat, supporting
// "*" (any run of characters within one segment), "?" (any single
// character), and "**" (any run of characters across segment
// boundaries).
func GlobMatch(path, pat string) bool {
	re, err := globToRegexp(pat)
	if err != nil {
		return false
	}
	return re.MatchString(path)
}

func globToRegexp(pat string) (*regexp.Regexp, error) {
	var b strings.Builder
	b.WriteString("^")
	runes := []rune(pat)
	for i := 0; i < len(runes); i++ {
		c := runes[i]
		switch c {
		case '*':
			if i+1 < len(runes) && runes[i+1] == '*' {
				b.WriteString(".*")
				i++
			} else {
				b.WriteString("[^/]*")
			}
		case '?':
			b.WriteString("[^/]")
		default:
			b.WriteString(regexp.QuoteMeta(string(c)))
		}
	}
	b.WriteString("$")
	return regexp.Compile(b.String())
}

// TimeMatchNow is TimeMatch evaluated at the wall clock's current
// instant, the form matcher expressions conventionally use.
func TimeMatchNow(start, end string) bool {
	return TimeMatch(time.Now().Format(time.RFC3339), start, end)
}

// TimeMatch reports whether current falls within the inclusive window
// [start, end]. An underscore ("_") for start or end means that side of
// the window is unbounded. Any unparsable timestamp makes the predicate
// report false.
func TimeMatch(current, start, end string) bool {
	now, err := time.Parse(time.RFC3339, current)
	if err != nil {
		return false
	}
	if start != "_" {
		s, err := time.Parse(time.RFC3339, start)
		if err != nil {
			return false
		}
		if now.Before(s) {
			return false
		}
	}
	if end != "_" {
		e, err := time.Parse(time.RFC3339, end)
		if err != nil {
			return false
		}
		if now.After(e) {
			return false
		}
	}
	return true
}
