package routing

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/codebymv/Itemize-sub008/internal/store"
	"github.com/codebymv/Itemize-sub008/pkg/domain"
	"github.com/codebymv/Itemize-sub008/pkg/token"
)

type fakeStore struct {
	sendResult    store.SendResult
	sendErr       error
	submitResult  store.SubmitResult
	submitErr     error
	declineResult store.DeclineResult

	lastTokenHash   string
	setSignedCalls  int
	lastSignedRef   domain.FileRef
	setSignedErr    error
	submittedValues map[string]string
}

func (f *fakeStore) SendDocument(ctx context.Context, orgID, documentID string, now time.Time, actor domain.Actor) (store.SendResult, error) {
	return f.sendResult, f.sendErr
}

func (f *fakeStore) ResolveAccess(ctx context.Context, tokenHash string, now time.Time, actor domain.Actor) (store.Access, error) {
	f.lastTokenHash = tokenHash
	return store.Access{}, nil
}

func (f *fakeStore) SubmitSignature(ctx context.Context, tokenHash string, values map[string]string, now time.Time, actor domain.Actor) (store.SubmitResult, error) {
	f.lastTokenHash = tokenHash
	f.submittedValues = values
	return f.submitResult, f.submitErr
}

func (f *fakeStore) DeclineSignature(ctx context.Context, tokenHash, reason string, now time.Time, actor domain.Actor) (store.DeclineResult, error) {
	f.lastTokenHash = tokenHash
	return f.declineResult, nil
}

func (f *fakeStore) CancelDocument(ctx context.Context, orgID, documentID string, actor domain.Actor) (domain.Document, error) {
	return domain.Document{DocumentID: documentID, Status: domain.DocCancelled}, nil
}

func (f *fakeStore) SetSignedFile(ctx context.Context, documentID string, ref domain.FileRef) error {
	f.setSignedCalls++
	f.lastSignedRef = ref
	return f.setSignedErr
}

type fakeNotifier struct {
	sent []Message
	err  error
}

func (f *fakeNotifier) Send(ctx context.Context, m Message) error {
	f.sent = append(f.sent, m)
	return f.err
}

type fakeRenderer struct {
	calls int
	ref   domain.FileRef
	err   error
}

func (f *fakeRenderer) RenderSigned(ctx context.Context, doc domain.Document, fields []domain.Field) (domain.FileRef, error) {
	f.calls++
	return f.ref, f.err
}

func TestSendNotifiesEveryActivation(t *testing.T) {
	st := &fakeStore{sendResult: store.SendResult{
		Document: domain.Document{DocumentID: "doc_1", Title: "NDA", SenderName: "Ada", Status: domain.DocSent},
		Activations: []store.Activation{
			{Recipient: domain.Recipient{RecipientID: "rcp_a", Email: "a@x.test"}, Token: "tok-a"},
			{Recipient: domain.Recipient{RecipientID: "rcp_b", Email: "b@x.test"}, Token: "tok-b"},
		},
	}}
	n := &fakeNotifier{}
	e := &Engine{Store: st, Notifier: n, BaseURL: "https://sign.example.com"}

	if _, err := e.Send(context.Background(), "org_1", "doc_1", domain.Actor{}); err != nil {
		t.Fatalf("unexpected: %v", err)
	}
	if len(n.sent) != 2 {
		t.Fatalf("expected 2 notifications, got %d", len(n.sent))
	}
	if !strings.HasSuffix(n.sent[0].SignLink, "/sign/tok-a") {
		t.Fatalf("unexpected link: %s", n.sent[0].SignLink)
	}
}

func TestSendErrorSkipsNotifications(t *testing.T) {
	st := &fakeStore{sendErr: store.ErrNoRecipients}
	n := &fakeNotifier{}
	e := &Engine{Store: st, Notifier: n}
	if _, err := e.Send(context.Background(), "org_1", "doc_1", domain.Actor{}); !errors.Is(err, store.ErrNoRecipients) {
		t.Fatalf("expected ErrNoRecipients, got %v", err)
	}
	if len(n.sent) != 0 {
		t.Fatalf("expected no notifications, got %d", len(n.sent))
	}
}

func TestResolveHashesToken(t *testing.T) {
	st := &fakeStore{}
	e := &Engine{Store: st}
	if _, err := e.Resolve(context.Background(), "raw-token", domain.Actor{}); err != nil {
		t.Fatalf("unexpected: %v", err)
	}
	if st.lastTokenHash != token.Hash("raw-token") {
		t.Fatal("raw token leaked to store instead of its hash")
	}
}

func TestSubmitAdvanceNotifiesNextRecipient(t *testing.T) {
	st := &fakeStore{submitResult: store.SubmitResult{
		Document: domain.Document{DocumentID: "doc_1", Title: "NDA", Status: domain.DocInProgress},
		Activations: []store.Activation{
			{Recipient: domain.Recipient{RecipientID: "rcp_b", Email: "b@x.test"}, Token: "tok-b"},
		},
	}}
	n := &fakeNotifier{}
	r := &fakeRenderer{}
	e := &Engine{Store: st, Notifier: n, Renderer: r, BaseURL: "https://sign.example.com"}

	res, err := e.Submit(context.Background(), "raw", map[string]string{"fld_1": "v"}, domain.Actor{})
	if err != nil {
		t.Fatalf("unexpected: %v", err)
	}
	if res.Completed {
		t.Fatal("unexpected completion")
	}
	if r.calls != 0 {
		t.Fatal("renderer must not run before completion")
	}
	if len(n.sent) != 1 || n.sent[0].To != "b@x.test" {
		t.Fatalf("expected next-recipient notification, got %+v", n.sent)
	}
}

func TestSubmitCompletionRendersOnceAndFansOut(t *testing.T) {
	st := &fakeStore{submitResult: store.SubmitResult{
		Document:  domain.Document{DocumentID: "doc_1", Title: "NDA", SenderEmail: "ada@x.test", Status: domain.DocCompleted},
		Completed: true,
		Recipients: []domain.Recipient{
			{RecipientID: "rcp_a", Email: "a@x.test", Status: domain.RecipSigned},
			{RecipientID: "rcp_b", Email: "b@x.test", Status: domain.RecipSigned},
		},
	}}
	n := &fakeNotifier{}
	r := &fakeRenderer{ref: domain.FileRef{URL: "/blobs/signed_doc_1.pdf", SHA256: "abc"}}
	e := &Engine{Store: st, Notifier: n, Renderer: r}

	res, err := e.Submit(context.Background(), "raw", nil, domain.Actor{})
	if err != nil {
		t.Fatalf("unexpected: %v", err)
	}
	if !res.Completed {
		t.Fatal("expected completion")
	}
	if r.calls != 1 {
		t.Fatalf("expected exactly one render, got %d", r.calls)
	}
	if st.setSignedCalls != 1 || st.lastSignedRef.SHA256 != "abc" {
		t.Fatalf("signed file not recorded: calls=%d ref=%+v", st.setSignedCalls, st.lastSignedRef)
	}
	// Sender plus both recipients.
	if len(n.sent) != 3 {
		t.Fatalf("expected 3 notifications, got %d", len(n.sent))
	}
	if n.sent[0].To != "ada@x.test" {
		t.Fatalf("sender first, got %s", n.sent[0].To)
	}
}

func TestSubmitFailureSkipsSideEffects(t *testing.T) {
	st := &fakeStore{submitErr: domain.ErrLinkInvalid}
	n := &fakeNotifier{}
	r := &fakeRenderer{}
	e := &Engine{Store: st, Notifier: n, Renderer: r}

	if _, err := e.Submit(context.Background(), "raw", nil, domain.Actor{}); !errors.Is(err, domain.ErrLinkInvalid) {
		t.Fatalf("expected ErrLinkInvalid, got %v", err)
	}
	if r.calls != 0 || len(n.sent) != 0 || st.setSignedCalls != 0 {
		t.Fatal("side effects must not run on failed submission")
	}
}

func TestSubmitRenderFailureDoesNotFailSubmission(t *testing.T) {
	st := &fakeStore{submitResult: store.SubmitResult{
		Document:  domain.Document{DocumentID: "doc_1", SenderEmail: "ada@x.test", Status: domain.DocCompleted},
		Completed: true,
	}}
	n := &fakeNotifier{}
	r := &fakeRenderer{err: errors.New("pdf service down")}
	e := &Engine{Store: st, Notifier: n, Renderer: r}

	res, err := e.Submit(context.Background(), "raw", nil, domain.Actor{})
	if err != nil {
		t.Fatalf("render failure must not fail the submission: %v", err)
	}
	if !res.Completed {
		t.Fatal("expected completion to stand")
	}
	if st.setSignedCalls != 0 {
		t.Fatal("failed render must not record a signed file")
	}
	if len(n.sent) == 0 {
		t.Fatal("completion notifications must still fan out")
	}
}

func TestDeclineNotifiesSender(t *testing.T) {
	st := &fakeStore{declineResult: store.DeclineResult{
		Document:  domain.Document{DocumentID: "doc_1", Title: "NDA", SenderEmail: "ada@x.test", Status: domain.DocCancelled},
		Recipient: domain.Recipient{RecipientID: "rcp_a", Name: "Bob", Status: domain.RecipDeclined},
	}}
	n := &fakeNotifier{}
	e := &Engine{Store: st, Notifier: n}

	res, err := e.Decline(context.Background(), "raw", "wrong document", domain.Actor{})
	if err != nil {
		t.Fatalf("unexpected: %v", err)
	}
	if res.Document.Status != domain.DocCancelled {
		t.Fatalf("expected cancelled document, got %s", res.Document.Status)
	}
	if len(n.sent) != 1 || n.sent[0].To != "ada@x.test" {
		t.Fatalf("expected sender notification, got %+v", n.sent)
	}
	if n.sent[0].Body != "wrong document" {
		t.Fatalf("reason missing from notification: %+v", n.sent[0])
	}
}
