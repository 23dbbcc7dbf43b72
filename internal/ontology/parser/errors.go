package parser

import "fmt"

type RecordErrorCode string

const (
	RecordErrorCompression RecordErrorCode = "compression"
	RecordErrorFieldCount  RecordErrorCode = "field_count"
	RecordErrorQuoting     RecordErrorCode = "quoting"
	RecordErrorEncoding    RecordErrorCode = "encoding"
	RecordErrorEmptyCode   RecordErrorCode = "empty_code"
	RecordErrorEmptyTermID RecordErrorCode = "empty_term_id"
)

// RecordError aborts a parse. Snapshots are all or nothing: the delta engine
// assumes both sides are complete.
type RecordError struct {
	Format string
	Line   int
	Code   RecordErrorCode
	Detail string
	Cause  error
}

func (e *RecordError) Error() string {
	if e == nil {
		return "malformed ontology record"
	}
	msg := fmt.Sprintf("%s: malformed record at line %d (code=%s)", e.Format, e.Line, e.Code)
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *RecordError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// MissingDomainError means a concept's top level ancestor never appeared with a
// primary term, so its domain cannot be resolved.
type MissingDomainError struct {
	Format    string
	ConceptID string
	DomainID  string
}

func (e *MissingDomainError) Error() string {
	if e == nil {
		return "missing domain"
	}
	return fmt.Sprintf("%s: concept %q has no domain: top level concept %q has no primary term", e.Format, e.ConceptID, e.DomainID)
}

// MissingParentError means a concept's parent code (its id minus the last
// character) is not in the snapshot.
type MissingParentError struct {
	Format    string
	ConceptID string
	ParentID  string
}

func (e *MissingParentError) Error() string {
	if e == nil {
		return "missing parent"
	}
	return fmt.Sprintf("%s: concept %q has no parent: concept %q is not in the snapshot", e.Format, e.ConceptID, e.ParentID)
}
