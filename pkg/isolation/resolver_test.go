package isolation

import (
	"testing"

	"github.com/psantana5/interpreter-runtime/pkg/models"
)

func TestResolvePerNote(t *testing.T) {
	tests := []struct {
		name   string
		policy models.Policy
		want   Keys
	}{
		{"shared", models.PolicyShared, Keys{Group: "setting", Session: "setting"}},
		{"scoped", models.PolicyScoped, Keys{Group: "setting", Session: "note1"}},
		{"isolated", models.PolicyIsolated, Keys{Group: "note1", Session: "note1"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Resolve(models.Option{PerNote: tt.policy}, "user1", "note1", "setting")
			if got != tt.want {
				t.Errorf("Resolve() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestResolvePerUser(t *testing.T) {
	tests := []struct {
		name        string
		policy      models.Policy
		sameGroup   bool
		sameSession bool
	}{
		{"shared", models.PolicyShared, true, true},
		{"scoped", models.PolicyScoped, true, false},
		{"isolated", models.PolicyIsolated, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opt := models.Option{PerUser: tt.policy}
			a := Resolve(opt, "userA", "noteN", "setting")
			b := Resolve(opt, "userB", "noteN", "setting")
			if (a.Group == b.Group) != tt.sameGroup {
				t.Errorf("group keys %q/%q, want same=%v", a.Group, b.Group, tt.sameGroup)
			}
			if (a.Session == b.Session) != tt.sameSession {
				t.Errorf("session keys %q/%q, want same=%v", a.Session, b.Session, tt.sameSession)
			}
		})
	}
}

func TestResolveBothAxes(t *testing.T) {
	opt := models.Option{PerUser: models.PolicyIsolated, PerNote: models.PolicyScoped}
	got := Resolve(opt, "userA", "noteN", "setting")
	want := Keys{Group: "userA", Session: "userA:noteN"}
	if got != want {
		t.Errorf("Resolve() = %+v, want %+v", got, want)
	}

	opt = models.Option{PerUser: models.PolicyIsolated, PerNote: models.PolicyIsolated}
	got = Resolve(opt, "userA", "noteN", "setting")
	want = Keys{Group: "userA:noteN", Session: "userA:noteN"}
	if got != want {
		t.Errorf("Resolve() = %+v, want %+v", got, want)
	}
}

func TestResolveIsDeterministic(t *testing.T) {
	opt := models.Option{PerNote: models.PolicyScoped, PerUser: models.PolicyScoped}
	first := Resolve(opt, "u", "n", "s")
	for i := 0; i < 10; i++ {
		if got := Resolve(opt, "u", "n", "s"); got != first {
			t.Fatalf("iteration %d: %+v != %+v", i, got, first)
		}
	}
}

func TestSharesProcess(t *testing.T) {
	if !SharesProcess(models.Option{PerUser: models.PolicyScoped}) {
		t.Error("scoped should share the process")
	}
	if SharesProcess(models.Option{PerNote: models.PolicyIsolated}) {
		t.Error("isolated should not share the process")
	}
}
