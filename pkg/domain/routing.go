package domain

import (
	"encoding/base64"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"
)

// ErrLinkInvalid is the single error every failed signer-access check maps
// to. The gate never tells a caller which check failed.
var ErrLinkInvalid = errors.New("signing link is invalid or expired")

// MaxFieldValueBytes caps a single submitted field value.
const MaxFieldValueBytes = 1 << 20

type SubmissionError struct {
	Code    string
	Message string
	Fields  []string
}

func (e *SubmissionError) Error() string {
	if len(e.Fields) == 0 {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Message, strings.Join(e.Fields, ", "))
}

type FieldValidationError struct {
	Index  int
	Reason string
}

func (e *FieldValidationError) Error() string {
	return fmt.Sprintf("field %d invalid: %s", e.Index, e.Reason)
}

type RecipientValidationError struct {
	Index  int
	Reason string
}

func (e *RecipientValidationError) Error() string {
	return fmt.Sprintf("recipient %d invalid: %s", e.Index, e.Reason)
}

// SortRecipients orders by signing_order, ties broken by insertion rank.
func SortRecipients(recips []Recipient) {
	sort.SliceStable(recips, func(i, j int) bool {
		if recips[i].SigningOrder != recips[j].SigningOrder {
			return recips[i].SigningOrder < recips[j].SigningOrder
		}
		return recips[i].Position < recips[j].Position
	})
}

// PlanSend decides which recipients become addressable when a document is
// sent: everyone under parallel routing, only the lowest-order group under
// sequential routing. Returned slices hold recipient ids.
func PlanSend(mode RoutingMode, recips []Recipient) (activate, lock []string) {
	sorted := append([]Recipient(nil), recips...)
	SortRecipients(sorted)
	if mode != RouteSequential {
		for _, r := range sorted {
			activate = append(activate, r.RecipientID)
		}
		return activate, nil
	}
	if len(sorted) == 0 {
		return nil, nil
	}
	first := sorted[0].SigningOrder
	for _, r := range sorted {
		if r.SigningOrder == first {
			activate = append(activate, r.RecipientID)
		} else {
			lock = append(lock, r.RecipientID)
		}
	}
	return activate, lock
}

// NextActivations returns the recipients to activate after a signature lands:
// under sequential routing, the lowest-order group that is still locked and
// unresolved. Parallel documents never re-activate (everyone already holds a
// token).
func NextActivations(mode RoutingMode, recips []Recipient) []string {
	if mode != RouteSequential {
		return nil
	}
	sorted := append([]Recipient(nil), recips...)
	SortRecipients(sorted)
	for i := 0; i < len(sorted); {
		order := sorted[i].SigningOrder
		var group []Recipient
		for i < len(sorted) && sorted[i].SigningOrder == order {
			group = append(group, sorted[i])
			i++
		}
		resolved := true
		for _, r := range group {
			if r.Status != RecipSigned && r.Status != RecipDeclined {
				resolved = false
				break
			}
		}
		if resolved {
			continue
		}
		// This group still has work. Activate only members not yet holding
		// a token; if any member is already active the advance is a no-op.
		var out []string
		for _, r := range group {
			if r.RoutingStatus == RoutingLocked && r.Status != RecipSigned && r.Status != RecipDeclined {
				out = append(out, r.RecipientID)
			}
		}
		return out
	}
	return nil
}

// AllSigned reports whether every recipient has signed.
func AllSigned(recips []Recipient) bool {
	if len(recips) == 0 {
		return false
	}
	for _, r := range recips {
		if r.Status != RecipSigned {
			return false
		}
	}
	return true
}

// GateAccess enforces the signer-access checks of the routing engine, in
// order: token expiry, document expiry, terminal recipient status, and the
// sequential-turn rule. The missing-row check happens at lookup time in the
// store. Every failure is ErrLinkInvalid.
func GateAccess(doc Document, r Recipient, now time.Time) error {
	if r.TokenExpiresAt != nil && now.After(*r.TokenExpiresAt) {
		return ErrLinkInvalid
	}
	if doc.ExpiresAt != nil && now.After(*doc.ExpiresAt) {
		return ErrLinkInvalid
	}
	switch doc.Status {
	case DocSent, DocInProgress:
	default:
		return ErrLinkInvalid
	}
	if r.Status == RecipSigned || r.Status == RecipDeclined {
		return ErrLinkInvalid
	}
	if doc.RoutingMode == RouteSequential && r.RoutingStatus != RoutingActive {
		return ErrLinkInvalid
	}
	return nil
}

// VisibleFields returns the fields a recipient may see and fill: fields
// bound to them plus unbound fields. The same set drives both the signing
// view and submission validation, so the two cannot disagree.
func VisibleFields(fields []Field, recipientID string) []Field {
	var out []Field
	for _, f := range fields {
		if f.RecipientID == nil || *f.RecipientID == recipientID {
			out = append(out, f)
		}
	}
	return out
}

var reInlineImage = regexp.MustCompile(`^data:image/(png|jpeg|jpg|gif|webp);base64,`)

// IsInlineImage reports whether v is a well-formed base64 inline image, the
// only accepted payload for signature and initials fields.
func IsInlineImage(v string) bool {
	loc := reInlineImage.FindStringIndex(v)
	if loc == nil {
		return false
	}
	payload := v[loc[1]:]
	if payload == "" {
		return false
	}
	_, err := base64.StdEncoding.DecodeString(payload)
	return err == nil
}

// ValidateSubmission checks a submitted value set against the recipient's
// visible fields. Values for ids outside the visible set are not an error
// here; ApplySubmission drops them.
func ValidateSubmission(visible []Field, values map[string]string) error {
	for id, v := range values {
		if len(v) > MaxFieldValueBytes {
			return &SubmissionError{Code: "FIELD_VALUE_TOO_LARGE", Message: "field value exceeds size limit", Fields: []string{id}}
		}
	}
	byID := make(map[string]Field, len(visible))
	for _, f := range visible {
		byID[f.FieldID] = f
	}
	var missing []string
	for _, f := range visible {
		if !f.Required {
			continue
		}
		if strings.TrimSpace(values[f.FieldID]) == "" {
			missing = append(missing, f.FieldID)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return &SubmissionError{Code: "MISSING_REQUIRED_FIELDS", Message: "missing required fields", Fields: missing}
	}
	var badImages []string
	for id, v := range values {
		f, ok := byID[id]
		if !ok || v == "" {
			continue
		}
		if (f.Type == FieldSignature || f.Type == FieldInitials) && !IsInlineImage(v) {
			badImages = append(badImages, id)
		}
	}
	if len(badImages) > 0 {
		sort.Strings(badImages)
		return &SubmissionError{Code: "INVALID_SIGNATURE_DATA", Message: "invalid signature data", Fields: badImages}
	}
	return nil
}

// ApplySubmission filters values down to ids within the visible set, so a
// payload can never write into another recipient's field.
func ApplySubmission(visible []Field, values map[string]string) map[string]string {
	byID := make(map[string]struct{}, len(visible))
	for _, f := range visible {
		byID[f.FieldID] = struct{}{}
	}
	out := make(map[string]string)
	for id, v := range values {
		if _, ok := byID[id]; ok {
			out[id] = v
		}
	}
	return out
}

// ValidateFields checks a bulk field replacement at write time.
func ValidateFields(fields []Field) error {
	for i, f := range fields {
		switch f.Type {
		case FieldSignature, FieldInitials, FieldText, FieldDate, FieldCheckbox:
		default:
			return &FieldValidationError{Index: i, Reason: fmt.Sprintf("unknown field type %q", f.Type)}
		}
		if f.Page < 1 {
			return &FieldValidationError{Index: i, Reason: "page_number must be >= 1"}
		}
		for _, v := range []float64{f.X, f.Y, f.Width, f.Height} {
			if v < 0 || v > 100 {
				return &FieldValidationError{Index: i, Reason: "position and size must be within [0,100]"}
			}
		}
		if f.RecipientID != nil && f.RoleName != nil {
			return &FieldValidationError{Index: i, Reason: "field cannot bind both a recipient and a role"}
		}
	}
	return nil
}

// ValidateRecipients checks a bulk recipient replacement. Shared signing
// orders are only legal under parallel routing.
func ValidateRecipients(mode RoutingMode, recips []Recipient) error {
	seenOrder := map[int]bool{}
	for i, r := range recips {
		if strings.TrimSpace(r.Name) == "" {
			return &RecipientValidationError{Index: i, Reason: "name is required"}
		}
		if strings.TrimSpace(r.Email) == "" || !strings.Contains(r.Email, "@") {
			return &RecipientValidationError{Index: i, Reason: "valid email is required"}
		}
		if r.SigningOrder < 1 {
			return &RecipientValidationError{Index: i, Reason: "signing_order must be >= 1"}
		}
		if mode == RouteSequential && seenOrder[r.SigningOrder] {
			return &RecipientValidationError{Index: i, Reason: "duplicate signing_order under sequential routing"}
		}
		seenOrder[r.SigningOrder] = true
	}
	return nil
}
