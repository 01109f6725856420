package store

import (
	"context"

	"github.com/codebymv/Itemize-sub008/pkg/domain"
)

type RecipientInput struct {
	Name           string  `json:"name"`
	Email          string  `json:"email"`
	ContactID      *string `json:"contact_id"`
	SigningOrder   int     `json:"signing_order"`
	RoleName       *string `json:"role_name"`
	IdentityMethod string  `json:"identity_method"`
}

// ReplaceRecipients swaps the full recipient list of a draft. Replacing is
// destructive on purpose: recipients carry no signatures before send.
func (s *Store) ReplaceRecipients(ctx context.Context, orgID, documentID string, inputs []RecipientInput) ([]domain.Recipient, error) {
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
		return nil, &StateError{Op: "replace recipients of", Status: d.Status}
	}

	candidates := make([]domain.Recipient, 0, len(inputs))
	for i, in := range inputs {
		order := in.SigningOrder
		if order < 1 {
			order = i + 1
		}
		method := in.IdentityMethod
		if method == "" {
			method = "email"
		}
		candidates = append(candidates, domain.Recipient{
			RecipientID:    NewID("rcp"),
			DocumentID:     documentID,
			Name:           in.Name,
			Email:          in.Email,
			ContactID:      in.ContactID,
			SigningOrder:   order,
			Position:       i,
			RoleName:       in.RoleName,
			IdentityMethod: method,
			RoutingStatus:  domain.RoutingLocked,
			Status:         domain.RecipPending,
		})
	}
	if err := domain.ValidateRecipients(d.RoutingMode, candidates); err != nil {
		return nil, err
	}

	if _, err := tx.Exec(ctx, `DELETE FROM recipients WHERE document_id=$1`, documentID); err != nil {
		return nil, err
	}
	for _, r := range candidates {
		_, err := tx.Exec(ctx, `
INSERT INTO recipients(recipient_id,document_id,name,email,contact_id,signing_order,position,role_name,identity_method,routing_status,status)
VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
`, r.RecipientID, r.DocumentID, r.Name, r.Email, r.ContactID, r.SigningOrder, r.Position, r.RoleName, r.IdentityMethod, r.RoutingStatus, r.Status)
		if err != nil {
			return nil, err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return candidates, nil
}
