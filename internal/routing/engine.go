// Package routing drives a document through its signing lifecycle. The
// store owns the transactional state transitions; the engine adds the
// out-of-band side effects (notification, rendering) that must never roll
// back an already-committed transition.
package routing

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/codebymv/Itemize-sub008/internal/render"
	"github.com/codebymv/Itemize-sub008/internal/store"
	"github.com/codebymv/Itemize-sub008/pkg/domain"
	"github.com/codebymv/Itemize-sub008/pkg/token"
)

// Store is the transactional surface the engine drives. *store.Store is the
// production implementation.
type Store interface {
	SendDocument(ctx context.Context, orgID, documentID string, now time.Time, actor domain.Actor) (store.SendResult, error)
	ResolveAccess(ctx context.Context, tokenHash string, now time.Time, actor domain.Actor) (store.Access, error)
	SubmitSignature(ctx context.Context, tokenHash string, values map[string]string, now time.Time, actor domain.Actor) (store.SubmitResult, error)
	DeclineSignature(ctx context.Context, tokenHash, reason string, now time.Time, actor domain.Actor) (store.DeclineResult, error)
	CancelDocument(ctx context.Context, orgID, documentID string, actor domain.Actor) (domain.Document, error)
	SetSignedFile(ctx context.Context, documentID string, ref domain.FileRef) error
}

// Notifier matches notify.Notifier without importing it, keeping the engine
// testable with inline fakes.
type Notifier interface {
	Send(ctx context.Context, m Message) error
}

// Message mirrors notify.Message.
type Message struct {
	To       string
	ToName   string
	Subject  string
	Body     string
	SignLink string
}

type Engine struct {
	Store    Store
	Notifier Notifier
	Renderer render.Renderer // optional capability; nil skips rendering
	BaseURL  string
	Now      func() time.Time
}

func (e *Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now().UTC()
}

func (e *Engine) signLink(raw string) string {
	return e.BaseURL + "/sign/" + raw
}

func (e *Engine) notifyActivations(ctx context.Context, doc domain.Document, acts []store.Activation) {
	if e.Notifier == nil {
		return
	}
	for _, a := range acts {
		err := e.Notifier.Send(ctx, Message{
			To:       a.Recipient.Email,
			ToName:   a.Recipient.Name,
			Subject:  fmt.Sprintf("%s asked you to sign %q", doc.SenderName, doc.Title),
			Body:     doc.Message,
			SignLink: e.signLink(a.Token),
		})
		if err != nil {
			log.Printf("routing: notify %s for %s failed: %v", a.Recipient.Email, doc.DocumentID, err)
		}
	}
}

// Send activates the initial recipient set and notifies them. Notification
// failures are logged; the committed transition stands.
func (e *Engine) Send(ctx context.Context, orgID, documentID string, actor domain.Actor) (store.SendResult, error) {
	res, err := e.Store.SendDocument(ctx, orgID, documentID, e.now(), actor)
	if err != nil {
		return store.SendResult{}, err
	}
	e.notifyActivations(ctx, res.Document, res.Activations)
	return res, nil
}

// Resolve runs the access gate for a raw bearer token and returns the
// signer view.
func (e *Engine) Resolve(ctx context.Context, rawToken string, actor domain.Actor) (store.Access, error) {
	return e.Store.ResolveAccess(ctx, token.Hash(rawToken), e.now(), actor)
}

// Submit records a signature. On sequential advance the next recipient is
// notified; on completion the renderer runs and everyone is told.
func (e *Engine) Submit(ctx context.Context, rawToken string, values map[string]string, actor domain.Actor) (store.SubmitResult, error) {
	res, err := e.Store.SubmitSignature(ctx, token.Hash(rawToken), values, e.now(), actor)
	if err != nil {
		return store.SubmitResult{}, err
	}
	if len(res.Activations) > 0 {
		e.notifyActivations(ctx, res.Document, res.Activations)
	}
	if res.Completed {
		e.complete(ctx, res)
	}
	return res, nil
}

// complete runs the post-commit completion side effects exactly once per
// completed transition (the store's idempotent completion guarantees a
// single caller sees Completed=true).
func (e *Engine) complete(ctx context.Context, res store.SubmitResult) {
	doc := res.Document
	if e.Renderer != nil {
		ref, err := e.Renderer.RenderSigned(ctx, doc, res.Fields)
		if err != nil {
			log.Printf("routing: render for %s failed: %v", doc.DocumentID, err)
		} else if err := e.Store.SetSignedFile(ctx, doc.DocumentID, ref); err != nil {
			log.Printf("routing: record signed file for %s failed: %v", doc.DocumentID, err)
		}
	}
	if e.Notifier == nil {
		return
	}
	subject := fmt.Sprintf("%q has been signed by everyone", doc.Title)
	if doc.SenderEmail != "" {
		if err := e.Notifier.Send(ctx, Message{To: doc.SenderEmail, ToName: doc.SenderName, Subject: subject}); err != nil {
			log.Printf("routing: notify sender for %s failed: %v", doc.DocumentID, err)
		}
	}
	for _, r := range res.Recipients {
		if err := e.Notifier.Send(ctx, Message{To: r.Email, ToName: r.Name, Subject: subject}); err != nil {
			log.Printf("routing: notify %s for %s failed: %v", r.Email, doc.DocumentID, err)
		}
	}
}

// Decline voids the document and tells the sender why.
func (e *Engine) Decline(ctx context.Context, rawToken, reason string, actor domain.Actor) (store.DeclineResult, error) {
	res, err := e.Store.DeclineSignature(ctx, token.Hash(rawToken), reason, e.now(), actor)
	if err != nil {
		return store.DeclineResult{}, err
	}
	if e.Notifier != nil && res.Document.SenderEmail != "" {
		msg := Message{
			To:      res.Document.SenderEmail,
			ToName:  res.Document.SenderName,
			Subject: fmt.Sprintf("%s declined to sign %q", res.Recipient.Name, res.Document.Title),
			Body:    reason,
		}
		if err := e.Notifier.Send(ctx, msg); err != nil {
			log.Printf("routing: notify sender for %s failed: %v", res.Document.DocumentID, err)
		}
	}
	return res, nil
}

// Cancel is the operator-side void; no notifications go out.
func (e *Engine) Cancel(ctx context.Context, orgID, documentID string, actor domain.Actor) (domain.Document, error) {
	return e.Store.CancelDocument(ctx, orgID, documentID, actor)
}
