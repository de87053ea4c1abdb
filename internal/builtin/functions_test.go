package builtin

import "testing"

func TestKeyMatch(t *testing.T) {
	cases := []struct {
		req, pat string
		want     bool
	}{
		{"/data/file", "/data/*", true},
		{"/other/file", "/data/*", false},
		{"/data/a/b", "/data/*", false}, // * matches exactly one segment
		{"/data", "/data", true},
	}
	for _, c := range cases {
		if got := KeyMatch(c.req, c.pat); got != c.want {
			t.Errorf("KeyMatch(%q, %q) = %v, want %v", c.req, c.pat, got, c.want)
		}
	}
}

func TestKeyMatch2_NamedCapture(t *testing.T) {
	if !KeyMatch2("/users/42/profile", "/users/:id/profile") {
		t.Errorf("expected named capture to match")
	}
	if KeyMatch2("/users/42/settings", "/users/:id/profile") {
		t.Errorf("expected trailing literal mismatch to fail")
	}
}

func TestKeyMatch3_BraceCapture(t *testing.T) {
	if !KeyMatch3("/users/42/profile", "/users/{id}/profile") {
		t.Errorf("expected brace capture to match")
	}
}

func TestKeyMatch4_RepeatedCaptureConsistency(t *testing.T) {
	if !KeyMatch4("/users/42/friends/42", "/users/{id}/friends/{id}") {
		t.Errorf("expected equal repeated captures to match")
	}
	if KeyMatch4("/users/42/friends/7", "/users/{id}/friends/{id}") {
		t.Errorf("expected unequal repeated captures to fail")
	}
}

func TestKeyGet(t *testing.T) {
	if got := KeyGet("/data/file", "/data/*"); got != "file" {
		t.Errorf("KeyGet = %q, want %q", got, "file")
	}
	if got := KeyGet("/other/file", "/data/*"); got != "" {
		t.Errorf("KeyGet on non-match = %q, want empty", got)
	}
}

func TestKeyGet2And3(t *testing.T) {
	if got := KeyGet2("/users/42/profile", "/users/:id/profile", "id"); got != "42" {
		t.Errorf("KeyGet2 = %q, want %q", got, "42")
	}
	if got := KeyGet3("/users/42/profile", "/users/{id}/profile", "id"); got != "42" {
		t.Errorf("KeyGet3 = %q, want %q", got, "42")
	}
	if got := KeyGet2("/users/42/profile", "/users/:id/profile", "missing"); got != "" {
		t.Errorf("KeyGet2 for unknown name = %q, want empty", got)
	}
}

func TestRegexMatch(t *testing.T) {
	if !RegexMatch("data1", "^data[0-9]+$") {
		t.Errorf("expected regex to match")
	}
	if RegexMatch("data1", "[") {
		t.Errorf("expected malformed regex to evaluate false, not panic/error")
	}
}

func TestIPMatch(t *testing.T) {
	cases := []struct {
		addr, cidr string
		want       bool
	}{
		{"192.168.1.5", "192.168.1.0/24", true},
		{"192.168.2.5", "192.168.1.0/24", false},
		{"10.0.0.1", "10.0.0.1", true},
		{"10.0.0.1", "10.0.0.2", false},
		{"192.168.1.5", "not-a-cidr/99", false},
		{"custom-id", "custom-id", true},
	}
	for _, c := range cases {
		if got := IPMatch(c.addr, c.cidr); got != c.want {
			t.Errorf("IPMatch(%q, %q) = %v, want %v", c.addr, c.cidr, got, c.want)
		}
	}
}

func TestGlobMatch(t *testing.T) {
	cases := []struct {
		path, pat string
		want      bool
	}{
		{"/a/b", "/a/*", true},
		{"/a/b/c", "/a/*", false},
		{"/a/b/c", "/a/**", true},
		{"/ax", "/a?", true},
		{"/a.b", "/a.b", true},
	}
	for _, c := range cases {
		if got := GlobMatch(c.path, c.pat); got != c.want {
			t.Errorf("GlobMatch(%q, %q) = %v, want %v", c.path, c.pat, got, c.want)
		}
	}
}

func TestTimeMatch(t *testing.T) {
	const now = "2026-06-01T12:00:00Z"
	if !TimeMatch(now, "_", "_") {
		t.Errorf("expected fully unbounded window to match")
	}
	if !TimeMatch(now, "2026-01-01T00:00:00Z", "2026-12-31T00:00:00Z") {
		t.Errorf("expected time within bounded window to match")
	}
	if TimeMatch(now, "2026-07-01T00:00:00Z", "_") {
		t.Errorf("expected time before an open-ended start to fail")
	}
	if TimeMatch("not-a-time", "_", "_") {
		t.Errorf("expected unparsable current time to evaluate false")
	}
}
