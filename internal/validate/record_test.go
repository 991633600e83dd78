package validate

import (
	"testing"
	"time"
)

func TestProject(t *testing.T) {
	t.Parallel()

	answers := []Answer{
		{Domain: "foo.lu", Type: "A", Value: "192.0.2.1", Class: "IN", TTL: 300},
		{Domain: "foo.lu", Type: "A", Value: "192.0.2.2", Class: "IN", TTL: 300},
		{Domain: "foo.lu", Type: "MX", Value: "10 mx.foo.lu.", Class: "IN", TTL: 300},
		{Domain: "bar.be", Type: "AAAA", Value: "2001:db8::1", Class: "IN", TTL: 60},
	}
	now := time.Unix(1700000000, 250000000)

	ext := Project(answers, ModeExtended, "8.8.8.8", now)
	if len(ext) != 3 {
		t.Fatalf("extended: expected one record per answered type, got %v", ext)
	}
	if r := ext[0].(ExtendedRecord); r.Value != "192.0.2.1" {
		t.Fatalf("extended must keep the first value, got %q", r.Value)
	}

	compact := Project(answers, ModeCompact, "8.8.8.8", now)
	if len(compact) != 2 || compact[0].String() != "foo.lu" || compact[1].String() != "bar.be" {
		t.Fatalf("compact: got %v", compact)
	}

	pdns := Project(answers, ModePassiveDNS, "8.8.8.8", now)
	if len(pdns) != 4 {
		t.Fatalf("passive-dns: expected one line per answer, got %d", len(pdns))
	}
	want := "1700000000.250000||127.0.0.1||8.8.8.8||IN||foo.lu||MX||10 mx.foo.lu.||300||1"
	if got := pdns[2].String(); got != want {
		t.Fatalf("passive-dns line\n got %q\nwant %q", got, want)
	}
	if pdns[3].DomainName() != "bar.be" {
		t.Fatalf("DomainName = %q", pdns[3].DomainName())
	}
}

func TestPassiveLineHasNineFields(t *testing.T) {
	t.Parallel()
	line := PassiveLine(Answer{Domain: "foo.lu", Type: "A", Value: "192.0.2.1", Class: "IN", TTL: 5}, "9.9.9.9", time.Unix(1, 0))
	fields := 1
	for i := 0; i+1 < len(line); i++ {
		if line[i] == '|' && line[i+1] == '|' {
			fields++
			i++
		}
	}
	if fields != 9 {
		t.Fatalf("expected 9 fields, got %d in %q", fields, line)
	}
	if line[len(line)-1] == '\n' {
		t.Fatalf("line must not end in a newline")
	}
}

func TestParseMode(t *testing.T) {
	t.Parallel()
	for in, want := range map[string]Mode{"": ModeExtended, "extended": ModeExtended, "Compact": ModeCompact, "passive-dns": ModePassiveDNS, "pdns": ModePassiveDNS} {
		got, err := ParseMode(in)
		if err != nil || got != want {
			t.Fatalf("ParseMode(%q) = %v, %v", in, got, err)
		}
	}
	if _, err := ParseMode("verbose"); err == nil {
		t.Fatalf("expected error for unknown mode")
	}
}
