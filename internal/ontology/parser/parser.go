// Package parser turns raw ontology snapshots into model.Snapshot values.
// There is one implementation per ontology format, selected by model.Format.
package parser

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/yungbote/conceptgraph/internal/ontology/model"
	pkgerrors "github.com/yungbote/conceptgraph/internal/pkg/errors"
)

var ErrFormatNotImplemented = errors.New("parser: format not implemented")

type Parser interface {
	Format() model.Format
	// Parse consumes the whole snapshot. The returned snapshot is complete and
	// internally consistent, or an error is returned.
	Parse(ctx context.Context, r io.Reader) (*model.Snapshot, error)
}

func ForFormat(format model.Format) (Parser, error) {
	switch format {
	case model.FormatReadV2:
		return NewReadV2(ReadV2Options{}), nil
	case model.FormatCTV3:
		return stubParser{format: model.FormatCTV3}, nil
	case model.FormatSNOMEDCT:
		return stubParser{format: model.FormatSNOMEDCT}, nil
	default:
		return nil, fmt.Errorf("parser: %w: unknown format %q", pkgerrors.ErrInvalidArgument, format)
	}
}

// stubParser stands in for formats whose release files are not handled yet.
type stubParser struct {
	format model.Format
}

func (p stubParser) Format() model.Format { return p.format }

func (p stubParser) Parse(ctx context.Context, r io.Reader) (*model.Snapshot, error) {
	return nil, fmt.Errorf("%w: %s", ErrFormatNotImplemented, p.format)
}
