package validate

/*
domclass — extract and classify Internet domains from raw text
Copyright (C) 2025  Pepijn van der Stap <rxtls@vanderstap.info>

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU Affero General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU Affero General Public License for more details.

You should have received a copy of the GNU Affero General Public License
along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

import (
	"fmt"
	"strings"
	"time"
)

// Mode selects how validated answers are projected.
type Mode int

const (
	// ModeExtended emits (domain, type, value) for the first answer of every answered type.
	ModeExtended Mode = iota
	// ModeCompact emits each answered domain once.
	ModeCompact
	// ModePassiveDNS emits one passive-DNS line per answer RR.
	ModePassiveDNS
)

func (m Mode) String() string {
	switch m {
	case ModeExtended:
		return "extended"
	case ModeCompact:
		return "compact"
	case ModePassiveDNS:
		return "passive-dns"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// ParseMode accepts "extended", "compact" and "passive-dns" (or "passive_dns", "pdns").
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "extended":
		return ModeExtended, nil
	case "compact":
		return ModeCompact, nil
	case "passive-dns", "passive_dns", "pdns":
		return ModePassiveDNS, nil
	}
	return 0, fmt.Errorf("unknown output mode %q", s)
}

// Record is a projected validation result: CompactRecord, ExtendedRecord or PassiveDNSLine.
type Record interface {
	DomainName() string
	String() string
	isRecord()
}

// CompactRecord is a domain with at least one answer.
type CompactRecord struct {
	Domain string `json:"domain"`
}

// ExtendedRecord is one answered record type of a domain.
type ExtendedRecord struct {
	Domain string `json:"domain"`
	Type   string `json:"type"`
	Value  string `json:"value"`
}

// PassiveDNSLine is an answer in the nine-field passive-DNS text format.
type PassiveDNSLine struct {
	Domain string `json:"domain"`
	Line   string `json:"line"`
}

func (r CompactRecord) DomainName() string  { return r.Domain }
func (r ExtendedRecord) DomainName() string { return r.Domain }
func (r PassiveDNSLine) DomainName() string { return r.Domain }

func (r CompactRecord) String() string  { return r.Domain }
func (r ExtendedRecord) String() string { return r.Domain + " " + r.Type + " " + r.Value }
func (r PassiveDNSLine) String() string { return r.Line }

func (CompactRecord) isRecord()  {}
func (ExtendedRecord) isRecord() {}
func (PassiveDNSLine) isRecord() {}

// PassiveLine formats a as
// timestamp||127.0.0.1||resolver||class||domain||type||value||ttl||1.
// The line carries no trailing newline.
func PassiveLine(a Answer, resolver string, now time.Time) string {
	return fmt.Sprintf("%d.%06d||127.0.0.1||%s||%s||%s||%s||%s||%d||1",
		now.Unix(), now.Nanosecond()/1000, resolver, a.Class, a.Domain, a.Type, a.Value, a.TTL)
}

// Project turns answers into records of the given mode, keeping answer order.
func Project(answers []Answer, mode Mode, resolver string, now time.Time) []Record {
	out := make([]Record, 0, len(answers))
	switch mode {
	case ModeCompact:
		seen := make(map[string]struct{})
		for _, a := range answers {
			if _, ok := seen[a.Domain]; ok {
				continue
			}
			seen[a.Domain] = struct{}{}
			out = append(out, CompactRecord{Domain: a.Domain})
		}
	case ModePassiveDNS:
		for _, a := range answers {
			out = append(out, PassiveDNSLine{Domain: a.Domain, Line: PassiveLine(a, resolver, now)})
		}
	default:
		type key struct{ domain, typ string }
		seen := make(map[key]struct{})
		for _, a := range answers {
			k := key{a.Domain, a.Type}
			if _, ok := seen[k]; ok {
				continue
			}
			seen[k] = struct{}{}
			out = append(out, ExtendedRecord{Domain: a.Domain, Type: a.Type, Value: a.Value})
		}
	}
	return out
}
