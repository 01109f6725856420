package domain

import (
	"encoding/base64"
	"errors"
	"testing"
	"time"
)

func strptr(s string) *string { return &s }

func TestPlanSendParallelActivatesEveryone(t *testing.T) {
	recips := []Recipient{
		{RecipientID: "rcp_a", SigningOrder: 1, Position: 0},
		{RecipientID: "rcp_b", SigningOrder: 2, Position: 1},
	}
	activate, lock := PlanSend(RouteParallel, recips)
	if len(activate) != 2 || len(lock) != 0 {
		t.Fatalf("expected all active, got activate=%v lock=%v", activate, lock)
	}
}

func TestPlanSendSequentialActivatesLowestOrder(t *testing.T) {
	recips := []Recipient{
		{RecipientID: "rcp_b", SigningOrder: 2, Position: 0},
		{RecipientID: "rcp_a", SigningOrder: 1, Position: 1},
	}
	activate, lock := PlanSend(RouteSequential, recips)
	if len(activate) != 1 || activate[0] != "rcp_a" {
		t.Fatalf("expected rcp_a active, got %v", activate)
	}
	if len(lock) != 1 || lock[0] != "rcp_b" {
		t.Fatalf("expected rcp_b locked, got %v", lock)
	}
}

func TestNextActivationsAdvancesToNextOrder(t *testing.T) {
	recips := []Recipient{
		{RecipientID: "rcp_a", SigningOrder: 1, Status: RecipSigned, RoutingStatus: RoutingActive},
		{RecipientID: "rcp_b", SigningOrder: 2, Status: RecipPending, RoutingStatus: RoutingLocked},
		{RecipientID: "rcp_c", SigningOrder: 3, Status: RecipPending, RoutingStatus: RoutingLocked},
	}
	next := NextActivations(RouteSequential, recips)
	if len(next) != 1 || next[0] != "rcp_b" {
		t.Fatalf("expected rcp_b next, got %v", next)
	}
}

func TestNextActivationsNoDoubleActivate(t *testing.T) {
	// The current turn holder is still unsigned and active: nothing to do.
	recips := []Recipient{
		{RecipientID: "rcp_a", SigningOrder: 1, Status: RecipViewed, RoutingStatus: RoutingActive},
		{RecipientID: "rcp_b", SigningOrder: 2, Status: RecipPending, RoutingStatus: RoutingLocked},
	}
	if next := NextActivations(RouteSequential, recips); len(next) != 0 {
		t.Fatalf("expected no activation, got %v", next)
	}
}

func TestNextActivationsParallelIsNil(t *testing.T) {
	recips := []Recipient{{RecipientID: "rcp_a", Status: RecipPending, RoutingStatus: RoutingLocked}}
	if next := NextActivations(RouteParallel, recips); next != nil {
		t.Fatalf("expected nil, got %v", next)
	}
}

func TestAllSigned(t *testing.T) {
	if AllSigned(nil) {
		t.Fatal("empty recipient set must not count as signed")
	}
	recips := []Recipient{{Status: RecipSigned}, {Status: RecipViewed}}
	if AllSigned(recips) {
		t.Fatal("unsigned recipient present")
	}
	recips[1].Status = RecipSigned
	if !AllSigned(recips) {
		t.Fatal("expected all signed")
	}
}

func gateDoc(status DocumentStatus, mode RoutingMode, expires *time.Time) Document {
	return Document{Status: status, RoutingMode: mode, ExpiresAt: expires}
}

func TestGateAccessUniformFailures(t *testing.T) {
	now := time.Now()
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	cases := []struct {
		name string
		doc  Document
		rcpt Recipient
	}{
		{"token expired", gateDoc(DocSent, RouteParallel, &future), Recipient{Status: RecipSent, TokenExpiresAt: &past}},
		{"document expired", gateDoc(DocSent, RouteParallel, &past), Recipient{Status: RecipSent}},
		{"document cancelled", gateDoc(DocCancelled, RouteParallel, &future), Recipient{Status: RecipSent}},
		{"document draft", gateDoc(DocDraft, RouteParallel, nil), Recipient{Status: RecipPending}},
		{"already signed", gateDoc(DocInProgress, RouteParallel, &future), Recipient{Status: RecipSigned}},
		{"already declined", gateDoc(DocSent, RouteParallel, &future), Recipient{Status: RecipDeclined}},
		{"not their turn", gateDoc(DocSent, RouteSequential, &future), Recipient{Status: RecipPending, RoutingStatus: RoutingLocked}},
	}
	for _, tc := range cases {
		err := GateAccess(tc.doc, tc.rcpt, now)
		if !errors.Is(err, ErrLinkInvalid) {
			t.Fatalf("%s: expected ErrLinkInvalid, got %v", tc.name, err)
		}
	}
}

func TestGateAccessAllowsActiveRecipient(t *testing.T) {
	now := time.Now()
	future := now.Add(time.Hour)
	doc := gateDoc(DocSent, RouteSequential, &future)
	rcpt := Recipient{Status: RecipSent, RoutingStatus: RoutingActive, TokenExpiresAt: &future}
	if err := GateAccess(doc, rcpt, now); err != nil {
		t.Fatalf("unexpected gate failure: %v", err)
	}
}

func TestVisibleFieldsScoping(t *testing.T) {
	fields := []Field{
		{FieldID: "fld_mine", RecipientID: strptr("rcp_a")},
		{FieldID: "fld_theirs", RecipientID: strptr("rcp_b")},
		{FieldID: "fld_shared"},
	}
	vis := VisibleFields(fields, "rcp_a")
	if len(vis) != 2 {
		t.Fatalf("expected 2 visible fields, got %d", len(vis))
	}
	for _, f := range vis {
		if f.FieldID == "fld_theirs" {
			t.Fatal("foreign field leaked into visible set")
		}
	}
}

func pngData() string {
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString([]byte{0x89, 'P', 'N', 'G'})
}

func TestIsInlineImage(t *testing.T) {
	if !IsInlineImage(pngData()) {
		t.Fatal("expected valid png data url")
	}
	if IsInlineImage("data:text/html;base64,PGI+") {
		t.Fatal("non-image mime accepted")
	}
	if IsInlineImage("data:image/png;base64,") {
		t.Fatal("empty payload accepted")
	}
	if IsInlineImage("data:image/png;base64,!!!") {
		t.Fatal("invalid base64 accepted")
	}
	if IsInlineImage("John Hancock") {
		t.Fatal("plain text accepted")
	}
}

func TestValidateSubmissionMissingRequired(t *testing.T) {
	visible := []Field{
		{FieldID: "fld_sig", Type: FieldSignature, Required: true},
		{FieldID: "fld_note", Type: FieldText},
	}
	err := ValidateSubmission(visible, map[string]string{"fld_note": "ok"})
	var se *SubmissionError
	if !errors.As(err, &se) || se.Code != "MISSING_REQUIRED_FIELDS" {
		t.Fatalf("expected missing required fields, got %v", err)
	}
}

func TestValidateSubmissionBadSignatureImage(t *testing.T) {
	visible := []Field{{FieldID: "fld_sig", Type: FieldSignature, Required: true}}
	err := ValidateSubmission(visible, map[string]string{"fld_sig": "not-an-image"})
	var se *SubmissionError
	if !errors.As(err, &se) || se.Code != "INVALID_SIGNATURE_DATA" {
		t.Fatalf("expected invalid signature data, got %v", err)
	}
}

func TestValidateSubmissionOversizedValue(t *testing.T) {
	visible := []Field{{FieldID: "fld_note", Type: FieldText}}
	big := make([]byte, MaxFieldValueBytes+1)
	err := ValidateSubmission(visible, map[string]string{"fld_note": string(big)})
	var se *SubmissionError
	if !errors.As(err, &se) || se.Code != "FIELD_VALUE_TOO_LARGE" {
		t.Fatalf("expected oversize rejection, got %v", err)
	}
}

func TestValidateSubmissionAccepts(t *testing.T) {
	visible := []Field{
		{FieldID: "fld_sig", Type: FieldSignature, Required: true},
		{FieldID: "fld_date", Type: FieldDate, Required: true},
	}
	values := map[string]string{"fld_sig": pngData(), "fld_date": "2026-08-30"}
	if err := ValidateSubmission(visible, values); err != nil {
		t.Fatalf("unexpected: %v", err)
	}
}

func TestApplySubmissionDropsForeignIDs(t *testing.T) {
	visible := []Field{{FieldID: "fld_mine", Type: FieldText}}
	out := ApplySubmission(visible, map[string]string{
		"fld_mine":   "yes",
		"fld_theirs": "overwrite attempt",
	})
	if len(out) != 1 || out["fld_mine"] != "yes" {
		t.Fatalf("unexpected applied set: %v", out)
	}
}

func TestValidateFieldsCoordinateBounds(t *testing.T) {
	err := ValidateFields([]Field{{Type: FieldText, Page: 1, X: 101}})
	var fe *FieldValidationError
	if !errors.As(err, &fe) {
		t.Fatalf("expected field validation error, got %v", err)
	}
	if err := ValidateFields([]Field{{Type: FieldText, Page: 1, X: 100, Y: 0, Width: 20, Height: 5}}); err != nil {
		t.Fatalf("boundary values must pass, got %v", err)
	}
}

func TestValidateFieldsRejectsUnknownTypeAndPage(t *testing.T) {
	if err := ValidateFields([]Field{{Type: "stamp", Page: 1}}); err == nil {
		t.Fatal("expected unknown type rejection")
	}
	if err := ValidateFields([]Field{{Type: FieldText, Page: 0}}); err == nil {
		t.Fatal("expected page rejection")
	}
}

func TestValidateRecipientsSequentialOrderTies(t *testing.T) {
	recips := []Recipient{
		{Name: "A", Email: "a@x.test", SigningOrder: 1},
		{Name: "B", Email: "b@x.test", SigningOrder: 1},
	}
	if err := ValidateRecipients(RouteSequential, recips); err == nil {
		t.Fatal("expected duplicate order rejection under sequential")
	}
	if err := ValidateRecipients(RouteParallel, recips); err != nil {
		t.Fatalf("parallel ties must be legal, got %v", err)
	}
}

func TestValidateRecipientsBasics(t *testing.T) {
	if err := ValidateRecipients(RouteParallel, []Recipient{{Name: "", Email: "a@x.test", SigningOrder: 1}}); err == nil {
		t.Fatal("expected name rejection")
	}
	if err := ValidateRecipients(RouteParallel, []Recipient{{Name: "A", Email: "nope", SigningOrder: 1}}); err == nil {
		t.Fatal("expected email rejection")
	}
	if err := ValidateRecipients(RouteParallel, []Recipient{{Name: "A", Email: "a@x.test", SigningOrder: 0}}); err == nil {
		t.Fatal("expected order rejection")
	}
}
