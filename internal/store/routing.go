package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/codebymv/Itemize-sub008/pkg/domain"
	"github.com/codebymv/Itemize-sub008/pkg/token"
)

// Activation pairs a recipient with the one-time bearer token minted for
// them. The raw token exists only in this in-memory result; the database
// holds its hash.
type Activation struct {
	Recipient domain.Recipient
	Token     string
}

type SendResult struct {
	Document    domain.Document
	Activations []Activation
}

// Access is a resolved signer view: the document, the presenting recipient
// and only the fields visible to them.
type Access struct {
	Document  domain.Document
	Recipient domain.Recipient
	Fields    []domain.Field
}

type SubmitResult struct {
	Document    domain.Document
	Recipient   domain.Recipient
	Recipients  []domain.Recipient
	Fields      []domain.Field
	Activations []Activation
	Completed   bool
}

type DeclineResult struct {
	Document  domain.Document
	Recipient domain.Recipient
}

// SendDocument moves a draft into routing in one transaction: computes
// expiry, activates the initial recipient set per routing mode, mints their
// tokens and emits one `sent` audit event per activation.
func (s *Store) SendDocument(ctx context.Context, orgID, documentID string, now time.Time, actor domain.Actor) (SendResult, error) {
	tx, err := s.DB.Begin(ctx)
	if err != nil {
		return SendResult{}, err
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx, `SELECT `+docColumns+` FROM documents WHERE document_id=$1 AND org_id=$2 FOR UPDATE`, documentID, orgID)
	d, err := scanDocument(row)
	if err != nil {
		return SendResult{}, notFound(err)
	}
	if d.Status != domain.DocDraft {
		return SendResult{}, &StateError{Op: "send", Status: d.Status}
	}
	if d.File == nil {
		return SendResult{}, ErrNoFile
	}
	recips, err := loadRecipientsTx(ctx, tx, documentID)
	if err != nil {
		return SendResult{}, err
	}
	if len(recips) == 0 {
		return SendResult{}, ErrNoRecipients
	}

	expiresAt := now.Add(time.Duration(d.ExpirationDays) * 24 * time.Hour)
	activateIDs, lockIDs := domain.PlanSend(d.RoutingMode, recips)

	res := SendResult{}
	byID := make(map[string]domain.Recipient, len(recips))
	for _, r := range recips {
		byID[r.RecipientID] = r
	}
	for _, id := range activateIDs {
		raw, hash := token.Issue()
		_, err := tx.Exec(ctx, `
UPDATE recipients SET routing_status=$1, status=$2, token_hash=$3, token_expires_at=$4, sent_at=$5
WHERE recipient_id=$6
`, domain.RoutingActive, domain.RecipSent, hash, expiresAt, now, id)
		if err != nil {
			return SendResult{}, err
		}
		err = addEventTx(ctx, tx, domain.AuditEvent{
			DocumentID: documentID, RecipientID: &id, Type: domain.EventSent,
			Description: "signing request sent to " + byID[id].Email,
			IPAddress:   actor.IPAddress, UserAgent: actor.UserAgent,
		})
		if err != nil {
			return SendResult{}, err
		}
		r := byID[id]
		r.RoutingStatus = domain.RoutingActive
		r.Status = domain.RecipSent
		res.Activations = append(res.Activations, Activation{Recipient: r, Token: raw})
	}
	for _, id := range lockIDs {
		_, err := tx.Exec(ctx, `
UPDATE recipients SET routing_status=$1, token_hash=NULL, token_expires_at=NULL WHERE recipient_id=$2
`, domain.RoutingLocked, id)
		if err != nil {
			return SendResult{}, err
		}
	}
	_, err = tx.Exec(ctx, `UPDATE documents SET status=$1, expires_at=$2, updated_at=now() WHERE document_id=$3`,
		domain.DocSent, expiresAt, documentID)
	if err != nil {
		return SendResult{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return SendResult{}, err
	}
	d.Status = domain.DocSent
	d.ExpiresAt = &expiresAt
	res.Document = d
	return res, nil
}

// lockByToken resolves a presented token hash to its locked (document,
// recipient) pair. The document row is locked before the recipient row so
// every routing mutation takes locks in the same order.
func lockByToken(ctx context.Context, tx pgx.Tx, tokenHash string) (domain.Document, domain.Recipient, error) {
	var documentID, recipientID string
	err := tx.QueryRow(ctx, `SELECT document_id, recipient_id FROM recipients WHERE token_hash=$1`, tokenHash).
		Scan(&documentID, &recipientID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Document{}, domain.Recipient{}, domain.ErrLinkInvalid
		}
		return domain.Document{}, domain.Recipient{}, err
	}
	row := tx.QueryRow(ctx, `SELECT `+docColumns+` FROM documents WHERE document_id=$1 FOR UPDATE`, documentID)
	d, err := scanDocument(row)
	if err != nil {
		return domain.Document{}, domain.Recipient{}, notFound(err)
	}
	rrow := tx.QueryRow(ctx, `SELECT `+recipientColumns+` FROM recipients WHERE recipient_id=$1 FOR UPDATE`, recipientID)
	r, err := scanRecipient(rrow)
	if err != nil {
		return domain.Document{}, domain.Recipient{}, notFound(err)
	}
	// The token may have been rotated between the unlocked read and the
	// lock; a stale token fails like any other invalid link.
	if r.TokenHash == nil || *r.TokenHash != tokenHash {
		return domain.Document{}, domain.Recipient{}, domain.ErrLinkInvalid
	}
	return d, r, nil
}

// ResolveAccess runs the signer-access gate for a presented token hash. On
// the recipient's first successful resolution it records the view.
func (s *Store) ResolveAccess(ctx context.Context, tokenHash string, now time.Time, actor domain.Actor) (Access, error) {
	tx, err := s.DB.Begin(ctx)
	if err != nil {
		return Access{}, err
	}
	defer tx.Rollback(ctx)

	d, r, err := lockByToken(ctx, tx, tokenHash)
	if err != nil {
		return Access{}, err
	}
	if err := domain.GateAccess(d, r, now); err != nil {
		return Access{}, err
	}

	if r.Status == domain.RecipPending || r.Status == domain.RecipSent {
		_, err := tx.Exec(ctx, `UPDATE recipients SET status=$1, viewed_at=$2 WHERE recipient_id=$3`,
			domain.RecipViewed, now, r.RecipientID)
		if err != nil {
			return Access{}, err
		}
		err = addEventTx(ctx, tx, domain.AuditEvent{
			DocumentID: d.DocumentID, RecipientID: &r.RecipientID, Type: domain.EventViewed,
			Description: "document viewed by " + r.Email,
			IPAddress:   actor.IPAddress, UserAgent: actor.UserAgent,
		})
		if err != nil {
			return Access{}, err
		}
		r.Status = domain.RecipViewed
		r.ViewedAt = &now
	}

	fields, err := loadFieldsTx(ctx, tx, d.DocumentID)
	if err != nil {
		return Access{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return Access{}, err
	}
	return Access{Document: d, Recipient: r, Fields: domain.VisibleFields(fields, r.RecipientID)}, nil
}

// SubmitSignature executes the signing transaction: gate, validate, write
// values, mark the recipient signed, then either advance sequential routing
// or complete the document. Everything commits or nothing does.
func (s *Store) SubmitSignature(ctx context.Context, tokenHash string, values map[string]string, now time.Time, actor domain.Actor) (SubmitResult, error) {
	tx, err := s.DB.Begin(ctx)
	if err != nil {
		return SubmitResult{}, err
	}
	defer tx.Rollback(ctx)

	d, r, err := lockByToken(ctx, tx, tokenHash)
	if err != nil {
		return SubmitResult{}, err
	}
	if err := domain.GateAccess(d, r, now); err != nil {
		return SubmitResult{}, err
	}

	fields, err := loadFieldsTx(ctx, tx, d.DocumentID)
	if err != nil {
		return SubmitResult{}, err
	}
	visible := domain.VisibleFields(fields, r.RecipientID)
	if err := domain.ValidateSubmission(visible, values); err != nil {
		return SubmitResult{}, err
	}
	applied := domain.ApplySubmission(visible, values)
	for id, v := range applied {
		if _, err := tx.Exec(ctx, `UPDATE fields SET value=$1 WHERE field_id=$2 AND document_id=$3`, v, id, d.DocumentID); err != nil {
			return SubmitResult{}, err
		}
	}
	for i := range fields {
		if v, ok := applied[fields[i].FieldID]; ok {
			val := v
			fields[i].Value = &val
		}
	}

	_, err = tx.Exec(ctx, `
UPDATE recipients SET status=$1, signed_at=$2, signed_ip=$3, signed_ua=$4, token_hash=NULL
WHERE recipient_id=$5
`, domain.RecipSigned, now, actor.IPAddress, actor.UserAgent, r.RecipientID)
	if err != nil {
		return SubmitResult{}, err
	}
	err = addEventTx(ctx, tx, domain.AuditEvent{
		DocumentID: d.DocumentID, RecipientID: &r.RecipientID, Type: domain.EventSigned,
		Description: "document signed by " + r.Email,
		IPAddress:   actor.IPAddress, UserAgent: actor.UserAgent,
	})
	if err != nil {
		return SubmitResult{}, err
	}
	r.Status = domain.RecipSigned
	r.SignedAt = &now
	r.TokenHash = nil

	// Completion and next-recipient activation are decided from this
	// transaction's snapshot, so two racing last-signers cannot both
	// complete: the second blocks on the document lock and then sees a
	// signed recipient, failing the gate above.
	recips, err := loadRecipientsTx(ctx, tx, d.DocumentID)
	if err != nil {
		return SubmitResult{}, err
	}
	res := SubmitResult{Recipient: r, Recipients: recips, Fields: fields}

	if domain.AllSigned(recips) {
		if d.Status != domain.DocCompleted {
			_, err = tx.Exec(ctx, `UPDATE documents SET status=$1, updated_at=now() WHERE document_id=$2`, domain.DocCompleted, d.DocumentID)
			if err != nil {
				return SubmitResult{}, err
			}
			err = addEventTx(ctx, tx, domain.AuditEvent{
				DocumentID: d.DocumentID, Type: domain.EventCompleted,
				Description: "all recipients signed",
			})
			if err != nil {
				return SubmitResult{}, err
			}
			res.Completed = true
		}
		d.Status = domain.DocCompleted
	} else {
		nextIDs := domain.NextActivations(d.RoutingMode, recips)
		byID := make(map[string]domain.Recipient, len(recips))
		for _, rr := range recips {
			byID[rr.RecipientID] = rr
		}
		for _, id := range nextIDs {
			raw, hash := token.Issue()
			expiresAt := d.ExpiresAt
			_, err := tx.Exec(ctx, `
UPDATE recipients SET routing_status=$1, status=$2, token_hash=$3, token_expires_at=$4, sent_at=$5
WHERE recipient_id=$6
`, domain.RoutingActive, domain.RecipSent, hash, expiresAt, now, id)
			if err != nil {
				return SubmitResult{}, err
			}
			err = addEventTx(ctx, tx, domain.AuditEvent{
				DocumentID: d.DocumentID, RecipientID: &id, Type: domain.EventSent,
				Description: "signing request sent to " + byID[id].Email,
			})
			if err != nil {
				return SubmitResult{}, err
			}
			nr := byID[id]
			nr.RoutingStatus = domain.RoutingActive
			nr.Status = domain.RecipSent
			res.Activations = append(res.Activations, Activation{Recipient: nr, Token: raw})
		}
		if d.Status != domain.DocInProgress {
			_, err = tx.Exec(ctx, `UPDATE documents SET status=$1, updated_at=now() WHERE document_id=$2`, domain.DocInProgress, d.DocumentID)
			if err != nil {
				return SubmitResult{}, err
			}
			d.Status = domain.DocInProgress
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return SubmitResult{}, err
	}
	res.Document = d
	return res, nil
}

// DeclineSignature marks the recipient declined and voids the whole
// document: one decline cancels routing for everyone.
func (s *Store) DeclineSignature(ctx context.Context, tokenHash, reason string, now time.Time, actor domain.Actor) (DeclineResult, error) {
	tx, err := s.DB.Begin(ctx)
	if err != nil {
		return DeclineResult{}, err
	}
	defer tx.Rollback(ctx)

	d, r, err := lockByToken(ctx, tx, tokenHash)
	if err != nil {
		return DeclineResult{}, err
	}
	if err := domain.GateAccess(d, r, now); err != nil {
		return DeclineResult{}, err
	}

	_, err = tx.Exec(ctx, `
UPDATE recipients SET status=$1, declined_at=$2, decline_reason=$3, signed_ip=$4, signed_ua=$5, token_hash=NULL
WHERE recipient_id=$6
`, domain.RecipDeclined, now, reason, actor.IPAddress, actor.UserAgent, r.RecipientID)
	if err != nil {
		return DeclineResult{}, err
	}
	_, err = tx.Exec(ctx, `UPDATE documents SET status=$1, updated_at=now() WHERE document_id=$2`, domain.DocCancelled, d.DocumentID)
	if err != nil {
		return DeclineResult{}, err
	}
	desc := "declined by " + r.Email
	if reason != "" {
		desc += ": " + reason
	}
	err = addEventTx(ctx, tx, domain.AuditEvent{
		DocumentID: d.DocumentID, RecipientID: &r.RecipientID, Type: domain.EventDeclined,
		Description: desc,
		IPAddress:   actor.IPAddress, UserAgent: actor.UserAgent,
		Metadata: map[string]any{"reason": reason},
	})
	if err != nil {
		return DeclineResult{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return DeclineResult{}, err
	}
	r.Status = domain.RecipDeclined
	r.DeclinedAt = &now
	d.Status = domain.DocCancelled
	return DeclineResult{Document: d, Recipient: r}, nil
}

// CancelDocument is the operator-side void. Recipient rows are untouched;
// their tokens simply stop passing the gate.
func (s *Store) CancelDocument(ctx context.Context, orgID, documentID string, actor domain.Actor) (domain.Document, error) {
	tx, err := s.DB.Begin(ctx)
	if err != nil {
		return domain.Document{}, err
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx, `SELECT `+docColumns+` FROM documents WHERE document_id=$1 AND org_id=$2 FOR UPDATE`, documentID, orgID)
	d, err := scanDocument(row)
	if err != nil {
		return domain.Document{}, notFound(err)
	}
	switch d.Status {
	case domain.DocDraft, domain.DocSent, domain.DocInProgress:
	default:
		return domain.Document{}, &StateError{Op: "cancel", Status: d.Status}
	}
	_, err = tx.Exec(ctx, `UPDATE documents SET status=$1, updated_at=now() WHERE document_id=$2`, domain.DocCancelled, documentID)
	if err != nil {
		return domain.Document{}, err
	}
	err = addEventTx(ctx, tx, domain.AuditEvent{
		DocumentID: documentID, Type: domain.EventCancelled,
		Description: "cancelled by sender",
		IPAddress:   actor.IPAddress, UserAgent: actor.UserAgent,
	})
	if err != nil {
		return domain.Document{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return domain.Document{}, err
	}
	d.Status = domain.DocCancelled
	return d, nil
}

// SetSignedFile records the rendered artifact after completion has already
// committed. Render failures leave the reference empty; the lifecycle
// transition stands either way.
func (s *Store) SetSignedFile(ctx context.Context, documentID string, ref domain.FileRef) error {
	tag, err := s.DB.Exec(ctx, `
UPDATE documents SET signed_file_url=$1, signed_file_name=$2, signed_file_size=$3, signed_file_mime=$4, signed_file_sha256=$5, signed_file_location=$6, updated_at=now()
WHERE document_id=$7 AND status=$8
`, ref.URL, ref.Name, ref.Size, ref.Mime, ref.SHA256, ref.Location, documentID, domain.DocCompleted)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
