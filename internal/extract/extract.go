// Package extract finds domain-shaped tokens in raw text.
package extract

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
	"context"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/x-stp/domclass/internal/core"
)

// DomainPattern matches two or more labels of 1-63 characters from [A-Za-z0-9-] joined
// by dots and bounded by word boundaries. RE2's \b is ASCII-only; Candidates masks
// non-ASCII letters and digits first so they do not count as boundaries.
var DomainPattern = regexp.MustCompile(`\b[A-Za-z0-9-]{1,63}(?:\.[A-Za-z0-9-]{1,63})+\b`)

// Candidates returns the distinct matches of DomainPattern in text in order of first
// occurrence. Text is scanned in chunks and ctx is checked between chunks; a done ctx
// aborts the scan with its error and no result.
func Candidates(ctx context.Context, text string) ([]string, error) {
	return candidates(ctx, text, core.ExtractChunkSize)
}

func candidates(ctx context.Context, text string, chunkSize int) ([]string, error) {
	seen := make(map[string]struct{})
	out := make([]string, 0)

	for pos := 0; pos < len(text); {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		end := chunkEnd(text, pos, chunkSize)
		for _, m := range DomainPattern.FindAllString(maskWordRunes(text[pos:end]), -1) {
			if _, dup := seen[m]; dup {
				continue
			}
			seen[m] = struct{}{}
			out = append(out, m)
		}
		pos = end
	}
	return out, nil
}

// maskWordRunes replaces every non-ASCII letter or digit with '_', an ASCII word
// character the grammar never matches. "ébc.lu" thus yields nothing instead of "bc.lu".
// Matches are pure ASCII, so they read the same in the masked text.
func maskWordRunes(s string) string {
	for i := 0; i < len(s); i++ {
		if s[i] >= utf8.RuneSelf {
			return strings.Map(func(r rune) rune {
				if r >= utf8.RuneSelf && (unicode.IsLetter(r) || unicode.IsNumber(r)) {
					return '_'
				}
				return r
			}, s)
		}
	}
	return s
}

// chunkEnd picks where the chunk starting at pos ends. Chunks only end right after a
// separator byte, so no match or word boundary spans two chunks.
func chunkEnd(text string, pos, size int) int {
	end := pos + size
	if size <= 0 || end >= len(text) {
		return len(text)
	}
	for i := end - 1; i > pos; i-- {
		if isSeparator(text[i]) {
			return i + 1
		}
	}
	for i := end; i < len(text); i++ {
		if isSeparator(text[i]) {
			return i + 1
		}
	}
	return len(text)
}

// isSeparator reports whether b is an ASCII byte that can neither be part of a match nor
// count as a word character.
func isSeparator(b byte) bool {
	switch {
	case b >= 0x80:
		return false
	case b >= 'a' && b <= 'z', b >= 'A' && b <= 'Z', b >= '0' && b <= '9':
		return false
	case b == '-', b == '.', b == '_':
		return false
	}
	return true
}

// LastLabel returns the text after the final dot.
func LastLabel(domain string) string {
	if i := strings.LastIndexByte(domain, '.'); i >= 0 {
		return domain[i+1:]
	}
	return domain
}

// FilterTLD keeps the candidates whose last label is accepted by contains. The result is
// always a subset of candidates, in the same order.
func FilterTLD(candidates []string, contains func(string) bool) []string {
	out := make([]string, 0, len(candidates))
	for _, c := range candidates {
		if contains(LastLabel(c)) {
			out = append(out, c)
		}
	}
	return out
}
