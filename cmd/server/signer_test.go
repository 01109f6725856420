package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/codebymv/Itemize-sub008/internal/routing"
	"github.com/codebymv/Itemize-sub008/internal/store"
	"github.com/codebymv/Itemize-sub008/pkg/domain"
	"github.com/codebymv/Itemize-sub008/pkg/token"
)

type signerFakeStore struct {
	access       store.Access
	accessErr    error
	submitResult store.SubmitResult
	submitErr    error
	declineRes   store.DeclineResult
	declineErr   error

	gotTokenHash string
	gotValues    map[string]string
	gotReason    string
}

func (f *signerFakeStore) SendDocument(ctx context.Context, orgID, documentID string, now time.Time, actor domain.Actor) (store.SendResult, error) {
	return store.SendResult{}, nil
}

func (f *signerFakeStore) ResolveAccess(ctx context.Context, tokenHash string, now time.Time, actor domain.Actor) (store.Access, error) {
	f.gotTokenHash = tokenHash
	return f.access, f.accessErr
}

func (f *signerFakeStore) SubmitSignature(ctx context.Context, tokenHash string, values map[string]string, now time.Time, actor domain.Actor) (store.SubmitResult, error) {
	f.gotTokenHash = tokenHash
	f.gotValues = values
	return f.submitResult, f.submitErr
}

func (f *signerFakeStore) DeclineSignature(ctx context.Context, tokenHash, reason string, now time.Time, actor domain.Actor) (store.DeclineResult, error) {
	f.gotTokenHash = tokenHash
	f.gotReason = reason
	return f.declineRes, f.declineErr
}

func (f *signerFakeStore) CancelDocument(ctx context.Context, orgID, documentID string, actor domain.Actor) (domain.Document, error) {
	return domain.Document{}, nil
}

func (f *signerFakeStore) SetSignedFile(ctx context.Context, documentID string, ref domain.FileRef) error {
	return nil
}

func newSignerServer(fs *signerFakeStore) *httptest.Server {
	eng := &routing.Engine{Store: fs}
	r := chi.NewRouter()
	r.Route("/sign", func(sr chi.Router) {
		registerSignerRoutes(sr, eng, nil)
	})
	return httptest.NewServer(r)
}

func TestSignerResolveSanitizesView(t *testing.T) {
	fs := &signerFakeStore{access: store.Access{
		Document: domain.Document{
			DocumentID:  "doc_1",
			Title:       `<script>alert("x")</script>Offer Letter`,
			Message:     "Please <b>sign</b>",
			SenderName:  "Ada",
			RoutingMode: domain.RouteSequential,
			Status:      domain.DocSent,
		},
		Recipient: domain.Recipient{RecipientID: "rcp_1", Name: "Bob", Email: "bob@x.test", Status: domain.RecipViewed},
		Fields:    []domain.Field{{FieldID: "fld_1", Type: domain.FieldSignature, Page: 1, Required: true}},
	}}
	srv := newSignerServer(fs)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/sign/raw-token")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != 200 {
		t.Fatalf("status %d", resp.StatusCode)
	}
	if fs.gotTokenHash != token.Hash("raw-token") {
		t.Fatal("handler must hash the path token before hitting the store")
	}

	var body struct {
		Document struct {
			Title   string `json:"title"`
			Message string `json:"message"`
		} `json:"document"`
		Fields []domain.Field `json:"fields"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if strings.Contains(body.Document.Title, "<") || strings.Contains(body.Document.Title, "script") {
		t.Fatalf("markup survived sanitization: %q", body.Document.Title)
	}
	if !strings.Contains(body.Document.Title, "Offer Letter") {
		t.Fatalf("text content lost: %q", body.Document.Title)
	}
	if body.Document.Message != "Please sign" {
		t.Fatalf("unexpected message: %q", body.Document.Message)
	}
	if len(body.Fields) != 1 || body.Fields[0].FieldID != "fld_1" {
		t.Fatalf("unexpected fields: %+v", body.Fields)
	}
}

func TestSignerGateFailureIsUniform404(t *testing.T) {
	fs := &signerFakeStore{accessErr: domain.ErrLinkInvalid, submitErr: domain.ErrLinkInvalid, declineErr: domain.ErrLinkInvalid}
	srv := newSignerServer(fs)
	defer srv.Close()

	checks := []struct {
		method, path, body string
	}{
		{"GET", "/sign/bad", ""},
		{"POST", "/sign/bad", `{"fields":[]}`},
		{"POST", "/sign/bad/decline", `{"reason":"no"}`},
		{"GET", "/sign/bad/file", ""},
	}
	var bodies []string
	for _, c := range checks {
		req, _ := http.NewRequest(c.method, srv.URL+c.path, strings.NewReader(c.body))
		if c.body != "" {
			req.Header.Set("Content-Type", "application/json")
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatal(err)
		}
		if resp.StatusCode != 404 {
			t.Fatalf("%s %s: status %d, want 404", c.method, c.path, resp.StatusCode)
		}
		var env struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		bodies = append(bodies, env.Error.Code+"|"+env.Error.Message)
	}
	for i := 1; i < len(bodies); i++ {
		if bodies[i] != bodies[0] {
			t.Fatalf("failure surface differs across endpoints: %q vs %q", bodies[0], bodies[i])
		}
	}
}

func TestSignerSubmitMapsFieldsToValues(t *testing.T) {
	fs := &signerFakeStore{submitResult: store.SubmitResult{
		Document:  domain.Document{Status: domain.DocCompleted},
		Completed: true,
	}}
	srv := newSignerServer(fs)
	defer srv.Close()

	payload := `{"fields":[{"id":"fld_1","value":"Ada"},{"id":"fld_2","value":"2026-08-30"}]}`
	resp, err := http.Post(srv.URL+"/sign/raw", "application/json", strings.NewReader(payload))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != 200 {
		t.Fatalf("status %d", resp.StatusCode)
	}
	if fs.gotValues["fld_1"] != "Ada" || fs.gotValues["fld_2"] != "2026-08-30" {
		t.Fatalf("values not mapped: %v", fs.gotValues)
	}
	var body struct {
		Completed      bool   `json:"completed"`
		DocumentStatus string `json:"document_status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if !body.Completed || body.DocumentStatus != "completed" {
		t.Fatalf("unexpected body: %+v", body)
	}
}

func TestSignerSubmitValidationError(t *testing.T) {
	fs := &signerFakeStore{submitErr: &domain.SubmissionError{
		Code: "MISSING_REQUIRED_FIELDS", Message: "required fields are missing", Fields: []string{"fld_1"},
	}}
	srv := newSignerServer(fs)
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/sign/raw", "application/json", strings.NewReader(`{"fields":[]}`))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != 400 {
		t.Fatalf("status %d", resp.StatusCode)
	}
	var env struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		t.Fatal(err)
	}
	if env.Error.Code != "MISSING_REQUIRED_FIELDS" {
		t.Fatalf("code %q", env.Error.Code)
	}
}

func TestSignerDeclineStripsMarkupFromReason(t *testing.T) {
	fs := &signerFakeStore{declineRes: store.DeclineResult{
		Document: domain.Document{Status: domain.DocCancelled},
	}}
	srv := newSignerServer(fs)
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/sign/raw/decline", "application/json",
		strings.NewReader(`{"reason":"<img src=x onerror=alert(1)>wrong terms"}`))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != 200 {
		t.Fatalf("status %d", resp.StatusCode)
	}
	if strings.Contains(fs.gotReason, "<") || !strings.Contains(fs.gotReason, "wrong terms") {
		t.Fatalf("reason not sanitized: %q", fs.gotReason)
	}
}

func TestSignerSubmitBodyCap(t *testing.T) {
	fs := &signerFakeStore{}
	srv := newSignerServer(fs)
	defer srv.Close()

	// Valid JSON framing so the decoder keeps reading until the cap trips.
	var payload bytes.Buffer
	payload.WriteString(`{"fields":[{"id":"fld_1","value":"`)
	payload.Write(bytes.Repeat([]byte("a"), maxSignerBody+1024))
	payload.WriteString(`"}]}`)
	resp, err := http.Post(srv.URL+"/sign/raw", "application/json", &payload)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusRequestEntityTooLarge {
		t.Fatalf("status %d, want 413", resp.StatusCode)
	}
}
