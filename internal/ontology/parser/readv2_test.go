package parser

import (
	"bytes"
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/yungbote/conceptgraph/internal/ontology/model"
	"github.com/yungbote/conceptgraph/internal/ontology/ontologytest"
	pkgerrors "github.com/yungbote/conceptgraph/internal/pkg/errors"
)

func circulatoryFixture(t *testing.T) []byte {
	t.Helper()
	return ontologytest.GzipRecords(t,
		ontologytest.Primary("C10..", "Diabetes mellitus"),
		ontologytest.Record{Code: "C10E.", Suffix: "00", Desc30: "Type 1 diabetes mellitus"},
		ontologytest.Record{Code: "C10E.", Suffix: "11", Desc30: "[V]diabetes mellitus type 2", Desc60: "", Desc198: ""},
		ontologytest.Record{Code: "C10E.", Suffix: "12", Desc30: "Short", Desc60: "Medium length", Desc198: "The longest (198) description"},
		// The top level concept comes last: its description is only known after the scan.
		ontologytest.Primary("C....", "Circulatory"),
	)
}

func parseReadV2(t *testing.T, data []byte) *model.Snapshot {
	t.Helper()
	snap, err := NewReadV2(ReadV2Options{}).Parse(context.Background(), bytes.NewReader(data))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	return snap
}

func TestReadV2DomainPropagation(t *testing.T) {
	snap := parseReadV2(t, circulatoryFixture(t))

	for _, id := range []string{"C", "C10", "C10E"} {
		c, ok := snap.Concepts[id]
		if !ok {
			t.Fatalf("concept %q missing", id)
		}
		if c.Domain != "Circulatory" {
			t.Fatalf("concept %q domain: want=%q got=%q", id, "Circulatory", c.Domain)
		}
		if c.Level != len(id) {
			t.Fatalf("concept %q level: want=%d got=%d", id, len(id), c.Level)
		}
		if !c.Current || c.Label != "ReadV2_Concept" {
			t.Fatalf("concept %q: unexpected %+v", id, c)
		}
	}
}

func TestReadV2ParentLinkage(t *testing.T) {
	snap := parseReadV2(t, circulatoryFixture(t))

	key := model.NewRelationshipKey(
		model.Endpoint{Label: "ReadV2_Concept", ID: "C10E"},
		model.Endpoint{Label: "ReadV2_Concept", ID: "C10"},
	)
	rel, ok := snap.Relationships[key]
	if !ok {
		t.Fatalf("parent relationship C10E -> C10 missing")
	}
	if rel.Type != "parent" || rel.Qualifier != "Parent" {
		t.Fatalf("parent relationship: got type=%q qualifier=%q", rel.Type, rel.Qualifier)
	}
	if rel.Node1 != "C10E" || rel.Node2 != "C10" {
		t.Fatalf("parent direction: got %s -> %s", rel.Node1, rel.Node2)
	}

	for k, r := range snap.Relationships {
		if r.Type == model.RelParent && (k.A.ID == "C" || k.B.ID == "C") && r.Node1 == "C" {
			t.Fatalf("top level concept must not have a parent: %+v", r)
		}
	}
}

func TestReadV2BracketStripping(t *testing.T) {
	got := descriptionWords(strings.ToLower("[V]diabetes mellitus type 2"))
	want := []string{"diabetes", "mellitus", "type", "2"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("descriptionWords: want=%v got=%v", want, got)
	}

	snap := parseReadV2(t, circulatoryFixture(t))
	if snap.Words.Has("[v]diabetes") || snap.Words.Has("[v]") {
		t.Fatalf("bracket tag leaked into words: %v", snap.Words.Sorted())
	}
	for _, w := range want {
		key := model.NewRelationshipKey(
			model.Endpoint{Label: "ReadV2_Term", ID: "C10E_11"},
			model.Endpoint{Label: "Word", ID: w},
		)
		if _, ok := snap.Relationships[key]; !ok {
			t.Fatalf("Contains relationship C10E_11 -> %q missing", w)
		}
	}
}

func TestReadV2TermsAndDescriptions(t *testing.T) {
	snap := parseReadV2(t, circulatoryFixture(t))

	term, ok := snap.Terms["C10E_12"]
	if !ok {
		t.Fatalf("term C10E_12 missing")
	}
	if term.Pretty != "The longest (198) description" {
		t.Fatalf("description selection: got=%q", term.Pretty)
	}
	if term.Searchable != "the longest (198) description" {
		t.Fatalf("searchable: got=%q", term.Searchable)
	}

	primary := snap.Relationships[model.NewRelationshipKey(
		model.Endpoint{Label: "ReadV2_Concept", ID: "C10E"},
		model.Endpoint{Label: "ReadV2_Term", ID: "C10E_00"},
	)]
	if primary.Type != "DescribedBy" || primary.Qualifier != "Primary" {
		t.Fatalf("primary DescribedBy: got %+v", primary)
	}
	secondary := snap.Relationships[model.NewRelationshipKey(
		model.Endpoint{Label: "ReadV2_Concept", ID: "C10E"},
		model.Endpoint{Label: "ReadV2_Term", ID: "C10E_11"},
	)]
	if secondary.Type != "DescribedBy" || secondary.Qualifier != "" {
		t.Fatalf("secondary DescribedBy: got %+v", secondary)
	}

	if snap.Words.Has("the") || snap.Words.Has("(198)") || !snap.Words.Has("198") {
		t.Fatalf("word cleaning not applied: %v", snap.Words.Sorted())
	}
}

func TestReadV2Deterministic(t *testing.T) {
	data := circulatoryFixture(t)
	a := parseReadV2(t, data)
	b := parseReadV2(t, data)
	if !a.Equal(b) {
		t.Fatalf("parsing identical bytes produced different snapshots")
	}
	if !reflect.DeepEqual(a.ConceptIDs(), b.ConceptIDs()) || !reflect.DeepEqual(a.Words.Sorted(), b.Words.Sorted()) {
		t.Fatalf("sorted views differ")
	}
}

func TestReadV2MissingDomain(t *testing.T) {
	data := ontologytest.GzipRecords(t,
		ontologytest.Primary("C", "Circulatory"),
		ontologytest.Primary("C1", "Hypertensive disease"),
		ontologytest.Primary("G2", "Orphan"),
		// G only has a secondary term, which does not define a domain.
		ontologytest.Synonym("G", "11", "Not the primary"),
	)
	_, err := NewReadV2(ReadV2Options{}).Parse(context.Background(), bytes.NewReader(data))
	var mde *MissingDomainError
	if !errors.As(err, &mde) {
		t.Fatalf("expected *MissingDomainError, got=%v", err)
	}
	if mde.ConceptID != "G" || mde.DomainID != "G" {
		t.Fatalf("MissingDomainError: got concept=%q domain=%q", mde.ConceptID, mde.DomainID)
	}
}

func TestReadV2MalformedRecords(t *testing.T) {
	good := ontologytest.Primary("C", "Circulatory").Line()
	cases := []struct {
		name string
		data []byte
		code RecordErrorCode
		line int
	}{
		{
			name: "field count",
			data: ontologytest.Gzip(t, good, `"A","B","C"`),
			code: RecordErrorFieldCount,
			line: 2,
		},
		{
			name: "bare quote",
			data: ontologytest.Gzip(t, good, `"K","01","bad"quote","","","00","EN","C1","0","0"`),
			code: RecordErrorQuoting,
			line: 2,
		},
		{
			name: "invalid utf8",
			data: ontologytest.Gzip(t, good, "\"K\",\"01\",\"\xff\xfe\",\"\",\"\",\"00\",\"EN\",\"C1\",\"0\",\"0\""),
			code: RecordErrorEncoding,
			line: 2,
		},
		{
			name: "empty code",
			data: ontologytest.Gzip(t, good, ontologytest.Primary("....", "Nothing").Line()),
			code: RecordErrorEmptyCode,
			line: 2,
		},
		{
			name: "empty term id",
			data: ontologytest.Gzip(t, good, ontologytest.Record{Code: "C1", Desc30: "No suffix"}.Line()),
			code: RecordErrorEmptyTermID,
			line: 2,
		},
		{
			name: "not gzip",
			data: []byte(good),
			code: RecordErrorCompression,
			line: 0,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewReadV2(ReadV2Options{}).Parse(context.Background(), bytes.NewReader(tc.data))
			var re *RecordError
			if !errors.As(err, &re) {
				t.Fatalf("expected *RecordError, got=%v", err)
			}
			if re.Code != tc.code {
				t.Fatalf("code: want=%q got=%q (%v)", tc.code, re.Code, err)
			}
			if re.Line != tc.line {
				t.Fatalf("line: want=%d got=%d", tc.line, re.Line)
			}
		})
	}
}

func TestReadV2FieldCountOverride(t *testing.T) {
	nine := `"MELLITUS","02","Type 1 diabetes mellitus","","","00","EN","C.","0"`
	data := ontologytest.Gzip(t, nine)
	if _, err := NewReadV2(ReadV2Options{}).Parse(context.Background(), bytes.NewReader(data)); err == nil {
		t.Fatalf("expected field count error with default options")
	}
	snap, err := NewReadV2(ReadV2Options{FieldCount: 9}).Parse(context.Background(), bytes.NewReader(data))
	if err != nil {
		t.Fatalf("Parse with FieldCount=9: %v", err)
	}
	if snap.Concepts["C"].Domain != "Type 1 diabetes mellitus" {
		t.Fatalf("domain: got=%q", snap.Concepts["C"].Domain)
	}
}

func TestReadV2HonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewReadV2(ReadV2Options{}).Parse(ctx, bytes.NewReader(circulatoryFixture(t)))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got=%v", err)
	}
}

func TestForFormat(t *testing.T) {
	p, err := ForFormat(model.FormatReadV2)
	if err != nil || p.Format() != model.FormatReadV2 {
		t.Fatalf("ForFormat(ReadV2): p=%v err=%v", p, err)
	}
	for _, f := range []model.Format{model.FormatCTV3, model.FormatSNOMEDCT} {
		p, err := ForFormat(f)
		if err != nil {
			t.Fatalf("ForFormat(%s): %v", f, err)
		}
		if _, err := p.Parse(context.Background(), bytes.NewReader(nil)); !errors.Is(err, ErrFormatNotImplemented) {
			t.Fatalf("%s stub: expected ErrFormatNotImplemented, got=%v", f, err)
		}
	}
	if _, err := ForFormat(model.Format("ICD10")); err == nil {
		t.Fatalf("expected error for unknown format")
	}
}

func TestReadV2MissingParent(t *testing.T) {
	data := ontologytest.GzipRecords(t,
		ontologytest.Primary("C....", "Circulatory"),
		ontologytest.Primary("C10E.", "Type 1 diabetes mellitus"),
	)
	_, err := NewReadV2(ReadV2Options{}).Parse(context.Background(), bytes.NewReader(data))
	var mpe *MissingParentError
	if !errors.As(err, &mpe) {
		t.Fatalf("expected *MissingParentError, got=%v", err)
	}
	if mpe.ConceptID != "C10E" || mpe.ParentID != "C10" {
		t.Fatalf("MissingParentError: got concept=%q parent=%q", mpe.ConceptID, mpe.ParentID)
	}
}

func TestReadV2RejectsShortFieldCount(t *testing.T) {
	five := `"MELLITUS","02","Type 1 diabetes mellitus","","00"`
	data := ontologytest.Gzip(t, five)
	for _, n := range []int{1, 5, MinReadV2FieldCount - 1} {
		_, err := NewReadV2(ReadV2Options{FieldCount: n}).Parse(context.Background(), bytes.NewReader(data))
		if !errors.Is(err, pkgerrors.ErrInvalidArgument) {
			t.Fatalf("FieldCount=%d: expected ErrInvalidArgument, got=%v", n, err)
		}
	}
	eight := `"MELLITUS","02","Type 1 diabetes mellitus","","","00","EN","C."`
	snap, err := NewReadV2(ReadV2Options{FieldCount: MinReadV2FieldCount}).Parse(context.Background(), bytes.NewReader(ontologytest.Gzip(t, eight)))
	if err != nil {
		t.Fatalf("Parse with FieldCount=%d: %v", MinReadV2FieldCount, err)
	}
	if _, ok := snap.Concepts["C"]; !ok {
		t.Fatalf("concept C missing")
	}
}

func TestParentIDTrimsWholeRune(t *testing.T) {
	cases := map[string]string{"C10E": "C10", "Xé": "X", "ab€": "ab"}
	for id, want := range cases {
		got := parentID(id)
		if got != want || !utf8.ValidString(got) {
			t.Fatalf("parentID(%q): want=%q got=%q", id, want, got)
		}
	}
	if got := topID("éa"); got != "é" {
		t.Fatalf("topID: got=%q", got)
	}
}
