package conceptdef

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/yungbote/conceptgraph/internal/ontology/cleaners"
	pkgerrors "github.com/yungbote/conceptgraph/internal/pkg/errors"
)

// entry is one top level concept of a JSON or YAML file, in file order.
type entry struct {
	name  string
	value any
}

var errNotObject = errors.New("top level value must be an object of concepts")

func decodeJSONEntries(r io.Reader) ([]entry, error) {
	dec := json.NewDecoder(r)
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, errNotObject
	}
	var out []entry
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		name, _ := tok.(string)
		var v any
		if err := dec.Decode(&v); err != nil {
			return nil, err
		}
		out = append(out, entry{name: name, value: v})
	}
	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("unexpected content after the concepts object")
	}
	return out, nil
}

func decodeYAMLEntries(r io.Reader) ([]entry, error) {
	var doc yaml.Node
	if err := yaml.NewDecoder(r).Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, err
	}
	root := &doc
	if root.Kind == yaml.DocumentNode && len(root.Content) > 0 {
		root = root.Content[0]
	}
	if root.Kind == yaml.ScalarNode && root.Tag == "!!null" {
		return nil, nil
	}
	if root.Kind != yaml.MappingNode {
		return nil, errNotObject
	}
	out := make([]entry, 0, len(root.Content)/2)
	for i := 0; i+1 < len(root.Content); i += 2 {
		var v any
		if err := root.Content[i+1].Decode(&v); err != nil {
			return nil, err
		}
		out = append(out, entry{name: root.Content[i].Value, value: v})
	}
	return out, nil
}

func buildStructured(entries []entry) (*Collection, error) {
	c := NewCollection()
	for _, e := range entries {
		fields, ok := e.value.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("conceptdef: concept %q: %w: not an object", e.name, pkgerrors.ErrInvalidArgument)
		}
		d := c.Define(e.name)
		for _, name := range []string{SectionPositive, SectionNegative} {
			raw, ok := fields[name]
			if !ok || raw == nil {
				continue
			}
			sec, ok := raw.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("conceptdef: concept %q: %w: %s is not an object", e.name, pkgerrors.ErrInvalidArgument, name)
			}
			codes, err := stringList(sec["Codes"])
			if err != nil {
				return nil, fmt.Errorf("conceptdef: concept %q %s codes: %w", e.name, name, err)
			}
			terms, err := stringList(sec["Terms"])
			if err != nil {
				return nil, fmt.Errorf("conceptdef: concept %q %s terms: %w", e.name, name, err)
			}
			s := d.section(name)
			for _, code := range codes {
				s.Codes = append(s.Codes, cleaners.CleanCode(code))
			}
			for _, term := range terms {
				s.Terms = append(s.Terms, cleaners.CleanTerm(term))
			}
		}
	}
	return c, nil
}

// stringList accepts a list of scalars. Numbers are kept as written so a
// numeric code survives the YAML decoder.
func stringList(raw any) ([]string, error) {
	switch v := raw.(type) {
	case nil:
		return nil, nil
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			switch s := item.(type) {
			case string:
				out = append(out, s)
			case int, int64, uint64, float64, bool:
				out = append(out, fmt.Sprint(s))
			default:
				return nil, fmt.Errorf("%w: list entries must be scalars", pkgerrors.ErrInvalidArgument)
			}
		}
		return out, nil
	case map[string]any:
		// A set written as an object; only its keys matter.
		out := make([]string, 0, len(v))
		for k := range v {
			out = append(out, k)
		}
		sort.Strings(out)
		return out, nil
	default:
		return nil, fmt.Errorf("%w: expected a list", pkgerrors.ErrInvalidArgument)
	}
}
