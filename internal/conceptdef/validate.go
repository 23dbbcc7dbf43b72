package conceptdef

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"strings"

	pkgerrors "github.com/yungbote/conceptgraph/internal/pkg/errors"
)

// Validate returns the problems a user needs to fix before their definitions
// can be used. uploaded only changes the wording ("uploaded file" or "text
// area"). The error is reserved for read failures.
func Validate(r io.Reader, format Format, uploaded bool) ([]string, error) {
	source := "text area"
	if uploaded {
		source = "uploaded file"
	}
	switch format {
	case FormatFlatFile:
		return validateFlatFile(r, source)
	case FormatJSON, FormatYAML:
		raw, err := io.ReadAll(r)
		if err != nil {
			return nil, fmt.Errorf("conceptdef: read: %w", err)
		}
		var entries []entry
		if format == FormatJSON {
			entries, err = decodeJSONEntries(bytes.NewReader(raw))
		} else {
			entries, err = decodeYAMLEntries(bytes.NewReader(raw))
		}
		if err != nil {
			return []string{fmt.Sprintf("Error in %s %s content - %v.", source, strings.ToUpper(string(format)), err)}, nil
		}
		return validateEntries(entries), nil
	default:
		return nil, fmt.Errorf("conceptdef: %w: unknown format %q", pkgerrors.ErrInvalidArgument, format)
	}
}

func validateFlatFile(r io.Reader, source string) ([]string, error) {
	var (
		problems []string
		first    byte
	)
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for lineNo := 1; sc.Scan(); lineNo++ {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if line[0] != markComment && first == 0 {
			first = line[0]
		}
		switch line[0] {
		case markConcept:
			if strings.TrimSpace(line[1:]) == "" {
				problems = append(problems, fmt.Sprintf("Line %d begins with a # but has no concept name on it.", lineNo))
			}
		case markControl:
			var term string
			if f := strings.Fields(line[1:]); len(f) > 0 {
				term = f[0]
			}
			if !controlTerms[strings.ToLower(term)] {
				problems = append(problems, fmt.Sprintf("The control term %s on line %d is not valid.", term, lineNo))
			}
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("conceptdef: read flat file: %w", err)
	}
	switch first {
	case markConcept:
	case 0:
		problems = append(problems, fmt.Sprintf("The %s must contain at least one concept.", source))
	default:
		problems = append(problems, fmt.Sprintf("The first non-whitespace character of the %s must be a # not a '%c'.", source, first))
	}
	return problems, nil
}

func validateEntries(entries []entry) []string {
	if len(entries) == 0 {
		return []string{"The file of concepts must contain terms for at least one concept."}
	}
	var problems []string
	for _, e := range entries {
		fields, ok := e.value.(map[string]any)
		if !ok {
			problems = append(problems, fmt.Sprintf("The value for concept %s is not a dictionary.", e.name))
			continue
		}
		positive, hasPositive := fields[SectionPositive]
		if !hasPositive || positive == nil {
			problems = append(problems, fmt.Sprintf("No field named \"Positive\" found for concept %s.", e.name))
		} else if !hasCodesOrTerms(positive) {
			problems = append(problems, fmt.Sprintf("No field named \"Codes\" or \"Terms\" found in the \"Positive\" field of concept %s.", e.name))
		}
		if negative, ok := fields[SectionNegative]; ok && !emptyValue(negative) && !hasCodesOrTerms(negative) {
			problems = append(problems, fmt.Sprintf("No field named \"Codes\" or \"Terms\" found in the \"Negative\" field of concept %s.", e.name))
		}
	}
	return problems
}

func hasCodesOrTerms(v any) bool {
	m, ok := v.(map[string]any)
	if !ok {
		return false
	}
	_, codes := m["Codes"]
	_, terms := m["Terms"]
	return codes || terms
}

func emptyValue(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case map[string]any:
		return len(t) == 0
	case []any:
		return len(t) == 0
	case string:
		return t == ""
	case bool:
		return !t
	default:
		return false
	}
}
