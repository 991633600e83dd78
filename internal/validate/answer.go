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
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// FieldSeparator joins the fields of a serialized answer in the validation cache.
const FieldSeparator = "[^]"

// Answer is one RR returned for a candidate.
type Answer struct {
	Domain string // candidate as extracted, not the RR owner name
	Type   string // "A", "MX", ...
	Value  string // rdata in presentation format
	Class  string // "IN"
	TTL    uint32
}

// serialize renders a as a cache member. The ordinal keeps answer order, since cache
// entries are sets.
func (a Answer) serialize(ordinal int) string {
	return strings.Join([]string{
		a.Domain,
		a.Type,
		a.Value,
		a.Class,
		strconv.FormatUint(uint64(a.TTL), 10),
		strconv.Itoa(ordinal),
	}, FieldSeparator)
}

// parseAnswer is the inverse of serialize. Values may themselves contain the separator,
// so the fixed fields are taken from both ends.
func parseAnswer(s string) (Answer, int, error) {
	parts := strings.Split(s, FieldSeparator)
	if len(parts) < 6 {
		return Answer{}, 0, fmt.Errorf("expected 6 fields, got %d", len(parts))
	}
	n := len(parts)
	ordinal, err := strconv.Atoi(parts[n-1])
	if err != nil {
		return Answer{}, 0, fmt.Errorf("bad ordinal %q", parts[n-1])
	}
	ttl, err := strconv.ParseUint(parts[n-2], 10, 32)
	if err != nil {
		return Answer{}, 0, fmt.Errorf("bad ttl %q", parts[n-2])
	}
	a := Answer{
		Domain: parts[0],
		Type:   parts[1],
		Value:  strings.Join(parts[2:n-3], FieldSeparator),
		Class:  parts[n-3],
		TTL:    uint32(ttl),
	}
	if a.Domain == "" || a.Type == "" {
		return Answer{}, 0, errors.New("empty domain or type")
	}
	return a, ordinal, nil
}
