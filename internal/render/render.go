// Package render is the completion-time seam that overlays signed values
// onto the source file. The engine treats the renderer as an optional
// capability: when absent, completion still commits and the signed-file
// reference stays empty.
package render

import (
	"context"
	"fmt"

	"github.com/codebymv/Itemize-sub008/internal/blob"
	"github.com/codebymv/Itemize-sub008/pkg/domain"
)

type Renderer interface {
	RenderSigned(ctx context.Context, doc domain.Document, fields []domain.Field) (domain.FileRef, error)
}

// Passthrough produces the signed artifact by copying the source bytes into
// a new blob. It carries the engine's completion contract (stable reference,
// fresh checksum) without a PDF toolchain; the real overlay renderer is an
// external service behind the same interface.
type Passthrough struct {
	Blobs blob.Store
}

func (p Passthrough) RenderSigned(ctx context.Context, doc domain.Document, _ []domain.Field) (domain.FileRef, error) {
	if doc.File == nil {
		return domain.FileRef{}, fmt.Errorf("render: document %s has no source file", doc.DocumentID)
	}
	src, err := p.Blobs.Open(ctx, doc.File.Location, doc.File.URL)
	if err != nil {
		return domain.FileRef{}, err
	}
	defer src.Close()

	res, err := p.Blobs.Put(ctx, "signed_"+doc.DocumentID+".pdf", src)
	if err != nil {
		return domain.FileRef{}, err
	}
	return domain.FileRef{
		URL:      res.Ref,
		Name:     "signed_" + doc.File.Name,
		Size:     res.Size,
		Mime:     doc.File.Mime,
		SHA256:   res.SHA256,
		Location: res.Location,
	}, nil
}

var _ Renderer = Passthrough{}
