package netfile

import (
	"errors"
	"testing"
)

func TestParseMode(t *testing.T) {
	cases := []struct {
		in   string
		want Mode
	}{
		{"READ", ModeRead},
		{"read", ModeRead},
		{"", ModeRead},
		{"  Update ", ModeUpdate},
		{"NEW", ModeNew},
		{"create", ModeNew},
		{"RECREATE", ModeRecreate},
	}
	for _, c := range cases {
		got, err := ParseMode(c.in)
		if err != nil {
			t.Errorf("ParseMode(%q) failed: %v", c.in, err)
			continue
		}
		if got != c.want {
			t.Errorf("ParseMode(%q) = %s, want %s", c.in, got, c.want)
		}
	}

	if _, err := ParseMode("APPEND"); !errors.Is(err, ErrInvalidMode) {
		t.Errorf("expected ErrInvalidMode, got %v", err)
	}
}

func TestMode_Predicates(t *testing.T) {
	if ModeRead.writable() {
		t.Error("READ must not be writable")
	}
	for _, m := range []Mode{ModeUpdate, ModeNew, ModeRecreate} {
		if !m.writable() {
			t.Errorf("%s must be writable", m)
		}
	}
	if ModeRead.creates() || ModeUpdate.creates() {
		t.Error("READ/UPDATE must not create")
	}
	if !ModeNew.creates() || !ModeRecreate.creates() {
		t.Error("NEW/RECREATE must create")
	}
}
