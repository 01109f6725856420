package main

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/codebymv/Itemize-sub008/internal/blob"
	"github.com/codebymv/Itemize-sub008/internal/routing"
	"github.com/codebymv/Itemize-sub008/internal/store"
	"github.com/codebymv/Itemize-sub008/pkg/domain"
	"github.com/codebymv/Itemize-sub008/pkg/httpx"
	"github.com/codebymv/Itemize-sub008/pkg/sanitize"
)

// signerView is the unauthenticated projection of a resolved signing link.
// Operator-facing metadata and other recipients never appear here.
type signerView struct {
	Document  signerDocument  `json:"document"`
	Recipient signerRecipient `json:"recipient"`
	Fields    []domain.Field  `json:"fields"`
}

type signerDocument struct {
	DocumentID  string                `json:"document_id"`
	Title       string                `json:"title"`
	Description string                `json:"description,omitempty"`
	Message     string                `json:"message,omitempty"`
	SenderName  string                `json:"sender_name"`
	RoutingMode domain.RoutingMode    `json:"routing_mode"`
	Status      domain.DocumentStatus `json:"status"`
	ExpiresAt   *time.Time            `json:"expires_at,omitempty"`
}

type signerRecipient struct {
	RecipientID string                 `json:"recipient_id"`
	Name        string                 `json:"name"`
	Email       string                 `json:"email"`
	Status      domain.RecipientStatus `json:"status"`
}

func viewOf(acc store.Access) signerView {
	return signerView{
		Document: signerDocument{
			DocumentID:  acc.Document.DocumentID,
			Title:       sanitize.Text(acc.Document.Title),
			Description: sanitize.Text(acc.Document.Description),
			Message:     sanitize.Text(acc.Document.Message),
			SenderName:  sanitize.Text(acc.Document.SenderName),
			RoutingMode: acc.Document.RoutingMode,
			Status:      acc.Document.Status,
			ExpiresAt:   acc.Document.ExpiresAt,
		},
		Recipient: signerRecipient{
			RecipientID: acc.Recipient.RecipientID,
			Name:        acc.Recipient.Name,
			Email:       acc.Recipient.Email,
			Status:      acc.Recipient.Status,
		},
		Fields: acc.Fields,
	}
}

func registerSignerRoutes(sr chi.Router, eng *routing.Engine, blobs blob.Store) {
	sr.Get("/{token}", func(w http.ResponseWriter, r *http.Request) {
		acc, err := eng.Resolve(r.Context(), chi.URLParam(r, "token"), actorFrom(r))
		if err != nil {
			writeSignerError(w, err)
			return
		}
		view := viewOf(acc)
		httpx.WriteJSON(w, 200, map[string]any{
			"request_id": httpx.NewRequestID(),
			"document":   view.Document,
			"recipient":  view.Recipient,
			"fields":     view.Fields,
		})
	})

	sr.Post("/{token}", func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxSignerBody)
		var req struct {
			Fields []struct {
				ID    string `json:"id"`
				Value string `json:"value"`
			} `json:"fields"`
		}
		if err := httpx.ReadJSON(r, &req); err != nil {
			httpx.WriteBodyError(w, err)
			return
		}
		values := make(map[string]string, len(req.Fields))
		for _, f := range req.Fields {
			values[f.ID] = f.Value
		}
		res, err := eng.Submit(r.Context(), chi.URLParam(r, "token"), values, actorFrom(r))
		if err != nil {
			writeSignerError(w, err)
			return
		}
		httpx.WriteJSON(w, 200, map[string]any{
			"request_id":      httpx.NewRequestID(),
			"document_status": res.Document.Status,
			"completed":       res.Completed,
		})
	})

	sr.Post("/{token}/decline", func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxSignerBody)
		var req struct {
			Reason string `json:"reason"`
		}
		if err := httpx.ReadJSON(r, &req); err != nil {
			httpx.WriteBodyError(w, err)
			return
		}
		res, err := eng.Decline(r.Context(), chi.URLParam(r, "token"), sanitize.Text(req.Reason), actorFrom(r))
		if err != nil {
			writeSignerError(w, err)
			return
		}
		httpx.WriteJSON(w, 200, map[string]any{
			"request_id":      httpx.NewRequestID(),
			"document_status": res.Document.Status,
		})
	})

	sr.Get("/{token}/file", func(w http.ResponseWriter, r *http.Request) {
		acc, err := eng.Resolve(r.Context(), chi.URLParam(r, "token"), actorFrom(r))
		if err != nil {
			writeSignerError(w, err)
			return
		}
		streamFile(w, r, blobs, acc.Document.File)
	})

	sr.Get("/{token}/signed-file", func(w http.ResponseWriter, r *http.Request) {
		acc, err := eng.Resolve(r.Context(), chi.URLParam(r, "token"), actorFrom(r))
		if err != nil {
			writeSignerError(w, err)
			return
		}
		streamFile(w, r, blobs, acc.Document.SignedFile)
	})
}

// writeSignerError keeps the unauthenticated surface uniform: every access
// failure looks identical, leaking nothing about why the link did not work.
func writeSignerError(w http.ResponseWriter, err error) {
	var subErr *domain.SubmissionError
	switch {
	case errors.Is(err, domain.ErrLinkInvalid):
		httpx.WriteError(w, 404, "LINK_INVALID", domain.ErrLinkInvalid.Error(), nil)
	case errors.As(err, &subErr):
		httpx.WriteError(w, 400, subErr.Code, subErr.Message, map[string]any{"fields": subErr.Fields})
	default:
		httpx.WriteError(w, 500, "INTERNAL", "something went wrong", nil)
	}
}
