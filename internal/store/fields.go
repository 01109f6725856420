package store

import (
	"context"
	"fmt"

	"github.com/codebymv/Itemize-sub008/pkg/domain"
)

type FieldInput struct {
	RecipientID *string          `json:"recipient_id"`
	RoleName    *string          `json:"role_name"`
	Type        domain.FieldType `json:"field_type"`
	Page        int              `json:"page_number"`
	X           float64          `json:"x"`
	Y           float64          `json:"y"`
	Width       float64          `json:"width"`
	Height      float64          `json:"height"`
	Label       string           `json:"label"`
	Required    bool             `json:"is_required"`
}

// ReplaceFields swaps the full field list of a draft. Coordinates are
// validated here, at write time, not when the page is rendered.
func (s *Store) ReplaceFields(ctx context.Context, orgID, documentID string, inputs []FieldInput) ([]domain.Field, error) {
	tx, err := s.DB.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx, `SELECT `+docColumns+` FROM documents WHERE document_id=$1 AND org_id=$2 FOR UPDATE`, documentID, orgID)
	d, err := scanDocument(row)
	if err != nil {
		return nil, notFound(err)
	}
	if d.Status != domain.DocDraft {
		return nil, &StateError{Op: "replace fields of", Status: d.Status}
	}

	recips, err := loadRecipientsTx(ctx, tx, documentID)
	if err != nil {
		return nil, err
	}
	known := make(map[string]struct{}, len(recips))
	for _, r := range recips {
		known[r.RecipientID] = struct{}{}
	}

	candidates := make([]domain.Field, 0, len(inputs))
	for i, in := range inputs {
		if in.RecipientID != nil {
			if _, ok := known[*in.RecipientID]; !ok {
				return nil, &domain.FieldValidationError{Index: i, Reason: fmt.Sprintf("unknown recipient %s", *in.RecipientID)}
			}
		}
		candidates = append(candidates, domain.Field{
			FieldID:     NewID("fld"),
			DocumentID:  documentID,
			RecipientID: in.RecipientID,
			RoleName:    in.RoleName,
			Type:        in.Type,
			Page:        in.Page,
			X:           in.X,
			Y:           in.Y,
			Width:       in.Width,
			Height:      in.Height,
			Label:       in.Label,
			Required:    in.Required,
		})
	}
	if err := domain.ValidateFields(candidates); err != nil {
		return nil, err
	}

	if _, err := tx.Exec(ctx, `DELETE FROM fields WHERE document_id=$1`, documentID); err != nil {
		return nil, err
	}
	for _, f := range candidates {
		_, err := tx.Exec(ctx, `
INSERT INTO fields(field_id,document_id,recipient_id,role_name,field_type,page_number,pos_x,pos_y,width,height,label,is_required)
VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
`, f.FieldID, f.DocumentID, f.RecipientID, f.RoleName, f.Type, f.Page, f.X, f.Y, f.Width, f.Height, f.Label, f.Required)
		if err != nil {
			return nil, err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return candidates, nil
}
