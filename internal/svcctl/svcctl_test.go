package svcctl

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestUnitName(t *testing.T) {
	cases := map[string]string{
		"obsched-global":          "obsched-global.service",
		" obsched-site ":          "obsched-site.service",
		"obsched-unit@t1.service": "obsched-unit@t1.service",
		"":                        "",
	}
	for in, want := range cases {
		if got := UnitName(in); got != want {
			t.Fatalf("UnitName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestCheckManaged(t *testing.T) {
	if unit, err := checkManaged(DefaultPrefixes, "obsched-site"); err != nil || unit != "obsched-site.service" {
		t.Fatalf("got %q, %v", unit, err)
	}
	for _, name := range []string{"sshd", "obsched-*", "", "../obsched-x"} {
		if _, err := checkManaged(DefaultPrefixes, name); !errors.Is(err, ErrNotManaged) {
			t.Fatalf("%q: expected ErrNotManaged, got %v", name, err)
		}
	}
}

func TestStatusString(t *testing.T) {
	since := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	s := Status{Unit: "obsched-global.service", Active: "active", SubState: "running", LoadState: "loaded", ActiveSince: since, MainPID: 42}
	got := s.String()
	if !strings.Contains(got, "since 2026-01-02T03:04:05Z") || !strings.Contains(got, "pid 42") {
		t.Fatalf("unexpected %q", got)
	}
	missing := Status{Unit: "obsched-x.service", LoadState: "not-found"}
	if missing.String() != "obsched-x.service not found" {
		t.Fatalf("unexpected %q", missing.String())
	}
}

func TestUsecTime(t *testing.T) {
	if !usecTime(uint64(0)).IsZero() || !usecTime("x").IsZero() {
		t.Fatal("expected zero time")
	}
	if got := usecTime(uint64(1_500_000)); !got.Equal(time.Unix(1, 500_000_000)) {
		t.Fatalf("got %v", got)
	}
}
