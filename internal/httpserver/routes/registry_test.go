package routes

import "testing"

func TestGroupsRegistered(t *testing.T) {
	want := map[string]Access{
		"liveness":    Public,
		"readiness":   Internal,
		"admin":       Admin,
		"lifecycle":   API,
		"bridge":      Internal,
		"sync-config": API,
		"sync":        Sync,
		"tags":        API,
	}

	seen := make(map[string]bool)
	for _, g := range groups {
		if seen[g.name] {
			t.Errorf("group %q registered twice", g.name)
		}
		seen[g.name] = true
		if access, ok := want[g.name]; !ok {
			t.Errorf("unexpected group %q", g.name)
		} else if g.access != access {
			t.Errorf("group %q access = %s, want %s", g.name, g.access, access)
		}
	}
	if len(seen) != len(want) {
		t.Errorf("registered %d groups, want %d", len(seen), len(want))
	}
}

func TestAccessString(t *testing.T) {
	for access, want := range map[Access]string{Public: "public", API: "api", Admin: "admin", Sync: "sync", Internal: "internal", Access(42): "unknown"} {
		if got := access.String(); got != want {
			t.Errorf("Access(%d).String() = %q, want %q", int(access), got, want)
		}
	}
}
