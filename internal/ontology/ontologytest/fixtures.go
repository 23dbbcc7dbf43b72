// Package ontologytest builds Read V2 fixtures for tests.
package ontologytest

import (
	"bytes"
	"compress/gzip"
	"strings"
	"testing"
)

// Record is one Read V2 row. Only the columns the parser reads are settable.
type Record struct {
	Code    string
	Suffix  string
	Desc30  string
	Desc60  string
	Desc198 string
}

// Line renders r as a 10 field quoted record.
func (r Record) Line() string {
	fields := []string{
		strings.ToUpper(firstWord(r.Desc30)),
		"01",
		r.Desc30,
		r.Desc60,
		r.Desc198,
		r.Suffix,
		"EN",
		r.Code,
		"0",
		"0",
	}
	for i, f := range fields {
		fields[i] = `"` + strings.ReplaceAll(f, `"`, `""`) + `"`
	}
	return strings.Join(fields, ",")
}

// Primary is a shorthand for a concept's "00" term with a short description.
func Primary(code, desc string) Record {
	return Record{Code: code, Suffix: "00", Desc30: desc}
}

// Synonym is a shorthand for a secondary term.
func Synonym(code, suffix, desc string) Record {
	return Record{Code: code, Suffix: suffix, Desc30: desc}
}

// Gzip compresses the given raw lines, newline terminated.
func Gzip(tb testing.TB, lines ...string) []byte {
	tb.Helper()
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	for _, l := range lines {
		if _, err := zw.Write([]byte(l + "\r\n")); err != nil {
			tb.Fatalf("gzip write: %v", err)
		}
	}
	if err := zw.Close(); err != nil {
		tb.Fatalf("gzip close: %v", err)
	}
	return buf.Bytes()
}

// GzipRecords renders and compresses records.
func GzipRecords(tb testing.TB, recs ...Record) []byte {
	tb.Helper()
	lines := make([]string, 0, len(recs))
	for _, r := range recs {
		lines = append(lines, r.Line())
	}
	return Gzip(tb, lines...)
}

func firstWord(s string) string {
	f := strings.Fields(s)
	if len(f) == 0 {
		return ""
	}
	return f[0]
}
