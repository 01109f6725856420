// Package store persists the signing engine's state in Postgres. Every
// multi-step mutation runs in one transaction; the routing mutations lock
// the document row before touching its recipients so concurrent submissions
// against the same document serialize.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/codebymv/Itemize-sub008/pkg/domain"
)

var (
	ErrNotFound       = errors.New("not found")
	ErrNoRecipients   = errors.New("document has no recipients")
	ErrNoFile         = errors.New("document has no file attached")
	ErrSigningStarted = errors.New("signing has started; cancel the document first")
	ErrEmailTaken     = errors.New("email already registered")
)

// StateError rejects an operation that is illegal in the document's current
// status.
type StateError struct {
	Op     string
	Status domain.DocumentStatus
}

func (e *StateError) Error() string {
	return fmt.Sprintf("cannot %s a %s document", e.Op, e.Status)
}

type Store struct{ DB *pgxpool.Pool }

func New(db *pgxpool.Pool) *Store { return &Store{DB: db} }

func NewID(prefix string) string { return prefix + "_" + uuid.NewString() }

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

const docColumns = `document_id,org_id,title,description,message,routing_mode,expiration_days,
sender_name,sender_email,
file_url,file_name,file_size,file_mime,file_sha256,file_location,
signed_file_url,signed_file_name,signed_file_size,signed_file_mime,signed_file_sha256,signed_file_location,
status,expires_at,created_by,created_at,updated_at`

func scanDocument(row pgx.Row) (domain.Document, error) {
	var d domain.Document
	var fileURL, fileName, fileMime, fileSHA, fileLoc *string
	var fileSize *int64
	var sURL, sName, sMime, sSHA, sLoc *string
	var sSize *int64
	err := row.Scan(
		&d.DocumentID, &d.OrgID, &d.Title, &d.Description, &d.Message, &d.RoutingMode, &d.ExpirationDays,
		&d.SenderName, &d.SenderEmail,
		&fileURL, &fileName, &fileSize, &fileMime, &fileSHA, &fileLoc,
		&sURL, &sName, &sSize, &sMime, &sSHA, &sLoc,
		&d.Status, &d.ExpiresAt, &d.CreatedBy, &d.CreatedAt, &d.UpdatedAt,
	)
	if err != nil {
		return domain.Document{}, err
	}
	if fileURL != nil {
		d.File = &domain.FileRef{
			URL: *fileURL, Name: deref(fileName), Size: derefInt(fileSize),
			Mime: deref(fileMime), SHA256: deref(fileSHA), Location: domain.LocationKind(deref(fileLoc)),
		}
	}
	if sURL != nil {
		d.SignedFile = &domain.FileRef{
			URL: *sURL, Name: deref(sName), Size: derefInt(sSize),
			Mime: deref(sMime), SHA256: deref(sSHA), Location: domain.LocationKind(deref(sLoc)),
		}
	}
	return d, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func derefInt(n *int64) int64 {
	if n == nil {
		return 0
	}
	return *n
}

const recipientColumns = `recipient_id,document_id,name,email,contact_id,signing_order,position,role_name,
identity_method,routing_status,status,token_hash,token_expires_at,
sent_at,viewed_at,signed_at,declined_at,decline_reason,signed_ip,signed_ua`

func scanRecipient(row pgx.Row) (domain.Recipient, error) {
	var r domain.Recipient
	err := row.Scan(
		&r.RecipientID, &r.DocumentID, &r.Name, &r.Email, &r.ContactID, &r.SigningOrder, &r.Position, &r.RoleName,
		&r.IdentityMethod, &r.RoutingStatus, &r.Status, &r.TokenHash, &r.TokenExpiresAt,
		&r.SentAt, &r.ViewedAt, &r.SignedAt, &r.DeclinedAt, &r.DeclineReason, &r.SignedIP, &r.SignedUA,
	)
	return r, err
}

const prefixedRecipientColumns = `r.recipient_id,r.document_id,r.name,r.email,r.contact_id,r.signing_order,r.position,r.role_name,
r.identity_method,r.routing_status,r.status,r.token_hash,r.token_expires_at,
r.sent_at,r.viewed_at,r.signed_at,r.declined_at,r.decline_reason,r.signed_ip,r.signed_ua`

const fieldColumns = `field_id,document_id,recipient_id,role_name,field_type,page_number,pos_x,pos_y,width,height,label,is_required,value`

const prefixedFieldColumns = `f.field_id,f.document_id,f.recipient_id,f.role_name,f.field_type,f.page_number,f.pos_x,f.pos_y,f.width,f.height,f.label,f.is_required,f.value`

func scanField(row pgx.Row) (domain.Field, error) {
	var f domain.Field
	err := row.Scan(
		&f.FieldID, &f.DocumentID, &f.RecipientID, &f.RoleName, &f.Type, &f.Page,
		&f.X, &f.Y, &f.Width, &f.Height, &f.Label, &f.Required, &f.Value,
	)
	return f, err
}

func loadRecipientsTx(ctx context.Context, tx pgx.Tx, documentID string) ([]domain.Recipient, error) {
	rows, err := tx.Query(ctx, `SELECT `+recipientColumns+` FROM recipients WHERE document_id=$1 ORDER BY signing_order, position`, documentID)
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

func loadFieldsTx(ctx context.Context, tx pgx.Tx, documentID string) ([]domain.Field, error) {
	rows, err := tx.Query(ctx, `SELECT `+fieldColumns+` FROM fields WHERE document_id=$1 ORDER BY page_number, pos_y, pos_x`, documentID)
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

// addEventTx appends one audit row inside the caller's transaction so the
// event can never exist without the change it describes.
func addEventTx(ctx context.Context, tx pgx.Tx, ev domain.AuditEvent) error {
	meta := ev.Metadata
	if meta == nil {
		meta = map[string]any{}
	}
	b, _ := json.Marshal(meta)
	_, err := tx.Exec(ctx, `
INSERT INTO audit_events(document_id,recipient_id,event_type,description,ip_address,user_agent,metadata)
VALUES($1,$2,$3,$4,$5,$6,$7::jsonb)
`, ev.DocumentID, ev.RecipientID, ev.Type, ev.Description, ev.IPAddress, ev.UserAgent, string(b))
	return err
}

// ListEvents returns a document's audit trail, oldest first.
func (s *Store) ListEvents(ctx context.Context, orgID, documentID string) ([]domain.AuditEvent, error) {
	rows, err := s.DB.Query(ctx, `
SELECT e.event_id,e.document_id,e.recipient_id,e.event_type,e.description,e.ip_address,e.user_agent,e.metadata,e.created_at
FROM audit_events e
JOIN documents d ON d.document_id = e.document_id
WHERE e.document_id=$1 AND d.org_id=$2
ORDER BY e.created_at, e.event_id
`, documentID, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.AuditEvent
	for rows.Next() {
		var ev domain.AuditEvent
		var meta []byte
		if err := rows.Scan(&ev.EventID, &ev.DocumentID, &ev.RecipientID, &ev.Type, &ev.Description, &ev.IPAddress, &ev.UserAgent, &meta, &ev.CreatedAt); err != nil {
			return nil, err
		}
		_ = json.Unmarshal(meta, &ev.Metadata)
		out = append(out, ev)
	}
	return out, rows.Err()
}

type Org struct {
	OrgID     string    `json:"org_id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

type User struct {
	UserID       string    `json:"user_id"`
	OrgID        string    `json:"org_id"`
	Email        string    `json:"email"`
	Name         string    `json:"name"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// CreateOrgWithOwner provisions an organization and its first operator in
// one transaction.
func (s *Store) CreateOrgWithOwner(ctx context.Context, org Org, user User) error {
	tx, err := s.DB.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `INSERT INTO orgs(org_id,name) VALUES($1,$2)`, org.OrgID, org.Name); err != nil {
		return err
	}
	tag, err := tx.Exec(ctx, `
INSERT INTO users(user_id,org_id,email,name,password_hash)
VALUES($1,$2,lower($3),$4,$5)
ON CONFLICT (email) DO NOTHING
`, user.UserID, org.OrgID, user.Email, user.Name, user.PasswordHash)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrEmailTaken
	}
	return tx.Commit(ctx)
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (User, error) {
	var u User
	err := s.DB.QueryRow(ctx, `
SELECT user_id,org_id,email,name,password_hash,created_at FROM users WHERE email=lower($1)
`, email).Scan(&u.UserID, &u.OrgID, &u.Email, &u.Name, &u.PasswordHash, &u.CreatedAt)
	return u, notFound(err)
}
