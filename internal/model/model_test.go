package model

import "testing"

func TestParseRole(t *testing.T) {
	t.Parallel()

	cases := map[string]Role{
		"global":  RoleGlobal,
		" Site ":  RoleSite,
		"UNIT":    RoleUnit,
		"":        RoleUnknown,
		"cluster": RoleUnknown,
	}
	for in, want := range cases {
		if got := ParseRole(in); got != want {
			t.Fatalf("ParseRole(%q)=%v want %v", in, got, want)
		}
	}
}

func TestStatusStrings(t *testing.T) {
	t.Parallel()

	if StatusMasked.String() != "masked" || TaskExecuting.String() != "executing" {
		t.Fatalf("unexpected names")
	}
	if Status(9).String() != "status(9)" {
		t.Fatalf("unknown status rendered as %q", Status(9).String())
	}
}
