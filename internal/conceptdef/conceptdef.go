// Package conceptdef reads the concept definition files users write to
// describe a clinical concept as positive and negative codes and terms.
package conceptdef

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"

	pkgerrors "github.com/yungbote/conceptgraph/internal/pkg/errors"
)

type Format string

const (
	FormatFlatFile Format = "flatfile"
	FormatJSON     Format = "json"
	FormatYAML     Format = "yaml"
)

func ParseFormat(raw string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "flatfile", "flat", "txt":
		return FormatFlatFile, nil
	case "json":
		return FormatJSON, nil
	case "yaml", "yml":
		return FormatYAML, nil
	default:
		return "", fmt.Errorf("conceptdef: %w: unknown format %q", pkgerrors.ErrInvalidArgument, raw)
	}
}

const (
	SectionPositive = "Positive"
	SectionNegative = "Negative"
)

type Section struct {
	Codes []string `json:"Codes" yaml:"Codes"`
	Terms []string `json:"Terms" yaml:"Terms"`
}

func (s Section) Empty() bool { return len(s.Codes) == 0 && len(s.Terms) == 0 }

type Definition struct {
	Name     string  `json:"-" yaml:"-"`
	Positive Section `json:"Positive" yaml:"Positive"`
	Negative Section `json:"Negative" yaml:"Negative"`
}

func (d *Definition) section(name string) *Section {
	if name == SectionNegative {
		return &d.Negative
	}
	return &d.Positive
}

// Collection keeps concepts in the order they were first defined.
type Collection struct {
	defs  []*Definition
	index map[string]int
}

func NewCollection() *Collection {
	return &Collection{index: map[string]int{}}
}

// Define returns the named concept, adding an empty one if it is new.
func (c *Collection) Define(name string) *Definition {
	if i, ok := c.index[name]; ok {
		return c.defs[i]
	}
	d := &Definition{
		Name:     name,
		Positive: Section{Codes: []string{}, Terms: []string{}},
		Negative: Section{Codes: []string{}, Terms: []string{}},
	}
	c.index[name] = len(c.defs)
	c.defs = append(c.defs, d)
	return d
}

func (c *Collection) Len() int { return len(c.defs) }

func (c *Collection) Names() []string {
	out := make([]string, 0, len(c.defs))
	for _, d := range c.defs {
		out = append(out, d.Name)
	}
	return out
}

func (c *Collection) Get(name string) (Definition, bool) {
	i, ok := c.index[name]
	if !ok {
		return Definition{}, false
	}
	return *c.defs[i], true
}

func (c *Collection) Definitions() []Definition {
	out := make([]Definition, 0, len(c.defs))
	for _, d := range c.defs {
		out = append(out, *d)
	}
	return out
}

// Parse reads a whole definition file. Use Validate first to get messages
// fit for the person who wrote the file.
func Parse(r io.Reader, format Format) (*Collection, error) {
	switch format {
	case FormatFlatFile:
		return parseFlatFile(r)
	case FormatJSON:
		entries, err := decodeJSONEntries(r)
		if err != nil {
			return nil, fmt.Errorf("conceptdef: json: %w", err)
		}
		return buildStructured(entries)
	case FormatYAML:
		entries, err := decodeYAMLEntries(r)
		if err != nil {
			return nil, fmt.Errorf("conceptdef: yaml: %w", err)
		}
		return buildStructured(entries)
	default:
		return nil, fmt.Errorf("conceptdef: %w: unknown format %q", pkgerrors.ErrInvalidArgument, format)
	}
}

// MarshalJSON writes concepts as one object keyed by name, in file order.
func (c *Collection) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, d := range c.defs {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(d.Name)
		if err != nil {
			return nil, err
		}
		val, err := json.Marshal(d)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// MarshalYAML keeps file order by building the mapping node by hand.
func (c *Collection) MarshalYAML() (interface{}, error) {
	root := &yaml.Node{Kind: yaml.MappingNode}
	for _, d := range c.defs {
		var val yaml.Node
		if err := val.Encode(d); err != nil {
			return nil, err
		}
		root.Content = append(root.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: d.Name},
			&val,
		)
	}
	return root, nil
}
