package store

import (
	"context"
	"time"

	"github.com/codebymv/Itemize-sub008/pkg/domain"
)

type DocumentInput struct {
	Title          string             `json:"title"`
	Description    string             `json:"description"`
	Message        string             `json:"message"`
	RoutingMode    domain.RoutingMode `json:"routing_mode"`
	ExpirationDays int                `json:"expiration_days"`
	SenderName     string             `json:"sender_name"`
	SenderEmail    string             `json:"sender_email"`
}

func (s *Store) CreateDocument(ctx context.Context, orgID, createdBy string, in DocumentInput) (domain.Document, error) {
	id := NewID("doc")
	if in.RoutingMode == "" {
		in.RoutingMode = domain.RouteParallel
	}
	if in.ExpirationDays <= 0 {
		in.ExpirationDays = 30
	}
	_, err := s.DB.Exec(ctx, `
INSERT INTO documents(document_id,org_id,title,description,message,routing_mode,expiration_days,sender_name,sender_email,status,created_by)
VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
`, id, orgID, in.Title, in.Description, in.Message, in.RoutingMode, in.ExpirationDays, in.SenderName, in.SenderEmail, domain.DocDraft, createdBy)
	if err != nil {
		return domain.Document{}, err
	}
	return s.GetDocument(ctx, orgID, id)
}

func (s *Store) GetDocument(ctx context.Context, orgID, documentID string) (domain.Document, error) {
	row := s.DB.QueryRow(ctx, `SELECT `+docColumns+` FROM documents WHERE document_id=$1 AND org_id=$2`, documentID, orgID)
	d, err := scanDocument(row)
	return d, notFound(err)
}

func (s *Store) ListDocuments(ctx context.Context, orgID string) ([]domain.Document, error) {
	rows, err := s.DB.Query(ctx, `SELECT `+docColumns+` FROM documents WHERE org_id=$1 ORDER BY created_at DESC`, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *Store) ListRecipients(ctx context.Context, orgID, documentID string) ([]domain.Recipient, error) {
	rows, err := s.DB.Query(ctx, `
SELECT `+prefixedRecipientColumns+` FROM recipients r
JOIN documents d ON d.document_id = r.document_id
WHERE r.document_id=$1 AND d.org_id=$2
ORDER BY r.signing_order, r.position
`, documentID, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Recipient
	for rows.Next() {
		r, err := scanRecipient(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) ListFields(ctx context.Context, orgID, documentID string) ([]domain.Field, error) {
	rows, err := s.DB.Query(ctx, `
SELECT `+prefixedFieldColumns+` FROM fields f
JOIN documents d ON d.document_id = f.document_id
WHERE f.document_id=$1 AND d.org_id=$2
ORDER BY f.page_number, f.pos_y, f.pos_x
`, documentID, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Field
	for rows.Next() {
		f, err := scanField(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

type DocumentUpdate struct {
	Title          *string             `json:"title"`
	Description    *string             `json:"description"`
	Message        *string             `json:"message"`
	RoutingMode    *domain.RoutingMode `json:"routing_mode"`
	ExpirationDays *int                `json:"expiration_days"`
}

// UpdateDocument patches document metadata. Routing mode and expiration can
// only change while the document is still a draft.
func (s *Store) UpdateDocument(ctx context.Context, orgID, documentID string, up DocumentUpdate) (domain.Document, error) {
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
	if (up.RoutingMode != nil || up.ExpirationDays != nil) && d.Status != domain.DocDraft {
		return domain.Document{}, &StateError{Op: "change routing of", Status: d.Status}
	}
	if up.Title != nil {
		d.Title = *up.Title
	}
	if up.Description != nil {
		d.Description = *up.Description
	}
	if up.Message != nil {
		d.Message = *up.Message
	}
	if up.RoutingMode != nil {
		d.RoutingMode = *up.RoutingMode
	}
	if up.ExpirationDays != nil && *up.ExpirationDays > 0 {
		d.ExpirationDays = *up.ExpirationDays
	}
	_, err = tx.Exec(ctx, `
UPDATE documents SET title=$1, description=$2, message=$3, routing_mode=$4, expiration_days=$5, updated_at=now()
WHERE document_id=$6
`, d.Title, d.Description, d.Message, d.RoutingMode, d.ExpirationDays, documentID)
	if err != nil {
		return domain.Document{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return domain.Document{}, err
	}
	return s.GetDocument(ctx, orgID, documentID)
}

// DeleteDocument refuses once any recipient has signed; the document must be
// cancelled and retained for its audit trail instead.
func (s *Store) DeleteDocument(ctx context.Context, orgID, documentID string) error {
	tx, err := s.DB.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx, `SELECT `+docColumns+` FROM documents WHERE document_id=$1 AND org_id=$2 FOR UPDATE`, documentID, orgID)
	d, err := scanDocument(row)
	if err != nil {
		return notFound(err)
	}
	if d.Status != domain.DocDraft {
		var signedCount int
		if err := tx.QueryRow(ctx, `SELECT count(*) FROM recipients WHERE document_id=$1 AND signed_at IS NOT NULL`, documentID).Scan(&signedCount); err != nil {
			return err
		}
		if signedCount > 0 {
			return ErrSigningStarted
		}
	}
	if _, err := tx.Exec(ctx, `DELETE FROM documents WHERE document_id=$1`, documentID); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// AttachFile replaces the document's file reference and appends a version
// row. Status is never touched; replacing is only legal pre-send.
func (s *Store) AttachFile(ctx context.Context, orgID, documentID string, ref domain.FileRef, actor domain.Actor) (domain.Document, error) {
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
	if d.Status != domain.DocDraft {
		return domain.Document{}, &StateError{Op: "replace the file of", Status: d.Status}
	}
	_, err = tx.Exec(ctx, `
UPDATE documents SET file_url=$1, file_name=$2, file_size=$3, file_mime=$4, file_sha256=$5, file_location=$6, updated_at=now()
WHERE document_id=$7
`, ref.URL, ref.Name, ref.Size, ref.Mime, ref.SHA256, ref.Location, documentID)
	if err != nil {
		return domain.Document{}, err
	}
	_, err = tx.Exec(ctx, `
INSERT INTO document_file_versions(version_id,document_id,file_url,file_name,file_size,file_mime,file_sha256,file_location)
VALUES($1,$2,$3,$4,$5,$6,$7,$8)
`, NewID("ver"), documentID, ref.URL, ref.Name, ref.Size, ref.Mime, ref.SHA256, ref.Location)
	if err != nil {
		return domain.Document{}, err
	}
	err = addEventTx(ctx, tx, domain.AuditEvent{
		DocumentID: documentID, Type: domain.EventFileAttached,
		Description: "file attached: " + ref.Name,
		IPAddress:   actor.IPAddress, UserAgent: actor.UserAgent,
		Metadata: map[string]any{"sha256": ref.SHA256, "size": ref.Size},
	})
	if err != nil {
		return domain.Document{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return domain.Document{}, err
	}
	return s.GetDocument(ctx, orgID, documentID)
}

// RemoveFile clears the file reference on a draft. The returned ref lets the
// caller delete the blob after commit.
func (s *Store) RemoveFile(ctx context.Context, orgID, documentID string, actor domain.Actor) (*domain.FileRef, error) {
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
		return nil, &StateError{Op: "remove the file of", Status: d.Status}
	}
	if d.File == nil {
		return nil, ErrNoFile
	}
	_, err = tx.Exec(ctx, `
UPDATE documents SET file_url=NULL, file_name=NULL, file_size=NULL, file_mime=NULL, file_sha256=NULL, file_location=NULL, updated_at=now()
WHERE document_id=$1
`, documentID)
	if err != nil {
		return nil, err
	}
	err = addEventTx(ctx, tx, domain.AuditEvent{
		DocumentID: documentID, Type: domain.EventFileRemoved,
		Description: "file removed: " + d.File.Name,
		IPAddress:   actor.IPAddress, UserAgent: actor.UserAgent,
	})
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return d.File, nil
}

type Reminder struct {
	ReminderID  string    `json:"reminder_id"`
	DocumentID  string    `json:"document_id"`
	RecipientID *string   `json:"recipient_id,omitempty"`
	RemindAt    time.Time `json:"remind_at"`
	CreatedBy   string    `json:"created_by"`
	CreatedAt   time.Time `json:"created_at"`
}

// ScheduleReminder records a future nudge; an external dispatcher acts on it.
func (s *Store) ScheduleReminder(ctx context.Context, orgID, documentID string, recipientID *string, remindAt time.Time, createdBy string, actor domain.Actor) (Reminder, error) {
	tx, err := s.DB.Begin(ctx)
	if err != nil {
		return Reminder{}, err
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx, `SELECT `+docColumns+` FROM documents WHERE document_id=$1 AND org_id=$2 FOR UPDATE`, documentID, orgID)
	d, err := scanDocument(row)
	if err != nil {
		return Reminder{}, notFound(err)
	}
	switch d.Status {
	case domain.DocSent, domain.DocInProgress:
	default:
		return Reminder{}, &StateError{Op: "schedule a reminder for", Status: d.Status}
	}
	rem := Reminder{
		ReminderID: NewID("rem"), DocumentID: documentID, RecipientID: recipientID,
		RemindAt: remindAt, CreatedBy: createdBy, CreatedAt: time.Now().UTC(),
	}
	_, err = tx.Exec(ctx, `
INSERT INTO reminders(reminder_id,document_id,recipient_id,remind_at,created_by)
VALUES($1,$2,$3,$4,$5)
`, rem.ReminderID, rem.DocumentID, rem.RecipientID, rem.RemindAt, rem.CreatedBy)
	if err != nil {
		return Reminder{}, err
	}
	err = addEventTx(ctx, tx, domain.AuditEvent{
		DocumentID: documentID, RecipientID: recipientID, Type: domain.EventReminderScheduled,
		IPAddress: actor.IPAddress, UserAgent: actor.UserAgent,
		Metadata: map[string]any{"remind_at": remindAt.UTC().Format(time.RFC3339)},
	})
	if err != nil {
		return Reminder{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return Reminder{}, err
	}
	return rem, nil
}
