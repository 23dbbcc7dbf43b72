package conceptdef

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/yungbote/conceptgraph/internal/ontology/cleaners"
	pkgerrors "github.com/yungbote/conceptgraph/internal/pkg/errors"
)

// Flat file line markers.
const (
	markConcept = '#'
	markControl = '$'
	markCode    = '>'
	markComment = '%'
)

var controlTerms = map[string]bool{"positive": true, "negative": true, "search": true, "output": true}

// parseFlatFile reads the line oriented format:
//
//	#Diabetes
//	>C10..
//	"type 2" diabetes
//	$negative
//	gestational
//
// A new concept starts in its positive section. Unknown control terms are
// ignored here and reported by Validate.
func parseFlatFile(r io.Reader) (*Collection, error) {
	c := NewCollection()
	var (
		current *Definition
		section = SectionPositive
	)
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for lineNo := 1; sc.Scan(); lineNo++ {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		switch line[0] {
		case markConcept:
			current = c.Define(strings.TrimSpace(line[1:]))
			section = SectionPositive
		case markControl:
			switch strings.ToLower(strings.TrimSpace(line[1:])) {
			case "positive":
				section = SectionPositive
			case "negative":
				section = SectionNegative
			}
		case markComment:
		case markCode:
			if current == nil {
				return nil, outsideConcept(lineNo)
			}
			s := current.section(section)
			s.Codes = append(s.Codes, cleaners.CleanCode(line[1:]))
		default:
			if current == nil {
				return nil, outsideConcept(lineNo)
			}
			s := current.section(section)
			s.Terms = append(s.Terms, cleaners.CleanTerm(line))
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("conceptdef: read flat file: %w", err)
	}
	return c, nil
}

func outsideConcept(line int) error {
	return fmt.Errorf("conceptdef: line %d: %w: code or term before the first #concept", line, pkgerrors.ErrInvalidArgument)
}
