package domain

import "time"

type DocumentStatus string

const (
	DocDraft      DocumentStatus = "draft"
	DocSent       DocumentStatus = "sent"
	DocInProgress DocumentStatus = "in_progress"
	DocCompleted  DocumentStatus = "completed"
	DocCancelled  DocumentStatus = "cancelled"
	DocExpired    DocumentStatus = "expired"
)

type RoutingMode string

const (
	RouteParallel   RoutingMode = "parallel"
	RouteSequential RoutingMode = "sequential"
)

type RoutingStatus string

const (
	RoutingLocked RoutingStatus = "locked"
	RoutingActive RoutingStatus = "active"
)

type RecipientStatus string

const (
	RecipPending  RecipientStatus = "pending"
	RecipSent     RecipientStatus = "sent"
	RecipViewed   RecipientStatus = "viewed"
	RecipSigned   RecipientStatus = "signed"
	RecipDeclined RecipientStatus = "declined"
)

type FieldType string

const (
	FieldSignature FieldType = "signature"
	FieldInitials  FieldType = "initials"
	FieldText      FieldType = "text"
	FieldDate      FieldType = "date"
	FieldCheckbox  FieldType = "checkbox"
)

// LocationKind is decided once at upload time and stored as a discriminant;
// readers never re-derive it from the reference string.
type LocationKind string

const (
	LocationLocal  LocationKind = "local"
	LocationRemote LocationKind = "remote"
)

// FileRef points at bytes held in an external blob store. Only the reference
// and checksum are recorded; the engine never embeds file content.
type FileRef struct {
	URL      string       `json:"url"`
	Name     string       `json:"name"`
	Size     int64        `json:"size"`
	Mime     string       `json:"mime"`
	SHA256   string       `json:"sha256"`
	Location LocationKind `json:"location"`
}

type Document struct {
	DocumentID     string         `json:"document_id"`
	OrgID          string         `json:"org_id"`
	Title          string         `json:"title"`
	Description    string         `json:"description,omitempty"`
	Message        string         `json:"message,omitempty"`
	RoutingMode    RoutingMode    `json:"routing_mode"`
	ExpirationDays int            `json:"expiration_days"`
	SenderName     string         `json:"sender_name"`
	SenderEmail    string         `json:"sender_email"`
	File           *FileRef       `json:"file,omitempty"`
	SignedFile     *FileRef       `json:"signed_file,omitempty"`
	Status         DocumentStatus `json:"status"`
	ExpiresAt      *time.Time     `json:"expires_at,omitempty"`
	CreatedBy      string         `json:"created_by"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

type Recipient struct {
	RecipientID    string          `json:"recipient_id"`
	DocumentID     string          `json:"document_id"`
	Name           string          `json:"name"`
	Email          string          `json:"email"`
	ContactID      *string         `json:"contact_id,omitempty"`
	SigningOrder   int             `json:"signing_order"`
	Position       int             `json:"-"` // insertion rank, tie-break within an order
	RoleName       *string         `json:"role_name,omitempty"`
	IdentityMethod string          `json:"identity_method,omitempty"`
	RoutingStatus  RoutingStatus   `json:"routing_status"`
	Status         RecipientStatus `json:"status"`
	TokenHash      *string         `json:"-"`
	TokenExpiresAt *time.Time      `json:"-"`
	SentAt         *time.Time      `json:"sent_at,omitempty"`
	ViewedAt       *time.Time      `json:"viewed_at,omitempty"`
	SignedAt       *time.Time      `json:"signed_at,omitempty"`
	DeclinedAt     *time.Time      `json:"declined_at,omitempty"`
	DeclineReason  *string         `json:"decline_reason,omitempty"`
	SignedIP       *string         `json:"-"`
	SignedUA       *string         `json:"-"`
}

type Field struct {
	FieldID     string    `json:"field_id"`
	DocumentID  string    `json:"document_id"`
	RecipientID *string   `json:"recipient_id,omitempty"`
	RoleName    *string   `json:"role_name,omitempty"`
	Type        FieldType `json:"field_type"`
	Page        int       `json:"page_number"`
	X           float64   `json:"x"`
	Y           float64   `json:"y"`
	Width       float64   `json:"width"`
	Height      float64   `json:"height"`
	Label       string    `json:"label,omitempty"`
	Required    bool      `json:"is_required"`
	Value       *string   `json:"value,omitempty"`
}

type EventType string

const (
	EventSent              EventType = "sent"
	EventViewed            EventType = "viewed"
	EventSigned            EventType = "signed"
	EventDeclined          EventType = "declined"
	EventCompleted         EventType = "completed"
	EventCancelled         EventType = "cancelled"
	EventFileAttached      EventType = "file_attached"
	EventFileRemoved       EventType = "file_removed"
	EventReminderScheduled EventType = "reminder_scheduled"
)

// AuditEvent rows are append-only; the ledger is the canonical history of a
// document's lifecycle.
type AuditEvent struct {
	EventID     int64          `json:"event_id"`
	DocumentID  string         `json:"document_id"`
	RecipientID *string        `json:"recipient_id,omitempty"`
	Type        EventType      `json:"event_type"`
	Description string         `json:"description,omitempty"`
	IPAddress   string         `json:"ip_address,omitempty"`
	UserAgent   string         `json:"user_agent,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

// Actor carries request provenance into audit rows.
type Actor struct {
	IPAddress string
	UserAgent string
}

type Template struct {
	TemplateID  string    `json:"template_id"`
	OrgID       string    `json:"org_id"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	File        *FileRef  `json:"file,omitempty"`
	CreatedBy   string    `json:"created_by"`
	CreatedAt   time.Time `json:"created_at"`
}

type TemplateRole struct {
	RoleName     string `json:"role_name"`
	SigningOrder int    `json:"signing_order"`
}

type TemplateField struct {
	FieldID  string    `json:"field_id"`
	RoleName *string   `json:"role_name,omitempty"`
	Type     FieldType `json:"field_type"`
	Page     int       `json:"page_number"`
	X        float64   `json:"x"`
	Y        float64   `json:"y"`
	Width    float64   `json:"width"`
	Height   float64   `json:"height"`
	Label    string    `json:"label,omitempty"`
	Required bool      `json:"is_required"`
}
