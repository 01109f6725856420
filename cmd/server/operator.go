package main

import (
	"errors"
	"io"
	"log"
	"net"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/codebymv/Itemize-sub008/internal/auth"
	"github.com/codebymv/Itemize-sub008/internal/blob"
	"github.com/codebymv/Itemize-sub008/internal/routing"
	"github.com/codebymv/Itemize-sub008/internal/store"
	"github.com/codebymv/Itemize-sub008/pkg/domain"
	"github.com/codebymv/Itemize-sub008/pkg/httpx"
)

const maxUploadBytes = 50 << 20

func registerAuthRoutes(api chi.Router, st *store.Store, secret []byte) {
	api.Post("/auth/login", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Email    string `json:"email"`
			Password string `json:"password"`
		}
		if err := httpx.ReadJSON(r, &req); err != nil {
			httpx.WriteError(w, 400, "BAD_JSON", err.Error(), nil)
			return
		}
		usr, err := st.GetUserByEmail(r.Context(), strings.ToLower(strings.TrimSpace(req.Email)))
		if err != nil {
			// Same response whether the account is missing or the
			// password is wrong.
			httpx.WriteError(w, 401, "UNAUTHORIZED", "invalid credentials", nil)
			return
		}
		if err := auth.CheckPassword(usr.PasswordHash, req.Password); err != nil {
			httpx.WriteError(w, 401, "UNAUTHORIZED", "invalid credentials", nil)
			return
		}
		tok, err := auth.MintToken(secret, usr.UserID, usr.OrgID, time.Now().UTC())
		if err != nil {
			httpx.WriteError(w, 500, "TOKEN_ERROR", err.Error(), nil)
			return
		}
		httpx.WriteJSON(w, 200, map[string]any{
			"request_id": httpx.NewRequestID(),
			"token":      tok,
			"user":       usr,
		})
	})
}

func registerOperatorRoutes(api chi.Router, st *store.Store, eng *routing.Engine, blobs blob.Store) {
	api.Post("/documents", func(w http.ResponseWriter, r *http.Request) {
		id, _ := auth.IdentityFrom(r.Context())
		var req store.DocumentInput
		if err := httpx.ReadJSON(r, &req); err != nil {
			httpx.WriteError(w, 400, "BAD_JSON", err.Error(), nil)
			return
		}
		if strings.TrimSpace(req.Title) == "" {
			httpx.WriteError(w, 400, "BAD_REQUEST", "title is required", nil)
			return
		}
		doc, err := st.CreateDocument(r.Context(), id.OrgID, id.UserID, req)
		if err != nil {
			writeStoreError(w, err)
			return
		}
		httpx.WriteJSON(w, 201, map[string]any{"request_id": httpx.NewRequestID(), "document": doc})
	})

	api.Get("/documents", func(w http.ResponseWriter, r *http.Request) {
		id, _ := auth.IdentityFrom(r.Context())
		docs, err := st.ListDocuments(r.Context(), id.OrgID)
		if err != nil {
			writeStoreError(w, err)
			return
		}
		httpx.WriteJSON(w, 200, map[string]any{"request_id": httpx.NewRequestID(), "documents": docs})
	})

	api.Get("/documents/{document_id}", func(w http.ResponseWriter, r *http.Request) {
		id, _ := auth.IdentityFrom(r.Context())
		docID := chi.URLParam(r, "document_id")
		doc, err := st.GetDocument(r.Context(), id.OrgID, docID)
		if err != nil {
			writeStoreError(w, err)
			return
		}
		recips, err := st.ListRecipients(r.Context(), id.OrgID, docID)
		if err != nil {
			writeStoreError(w, err)
			return
		}
		fields, err := st.ListFields(r.Context(), id.OrgID, docID)
		if err != nil {
			writeStoreError(w, err)
			return
		}
		events, err := st.ListEvents(r.Context(), id.OrgID, docID)
		if err != nil {
			writeStoreError(w, err)
			return
		}
		httpx.WriteJSON(w, 200, map[string]any{
			"request_id": httpx.NewRequestID(),
			"document":   doc,
			"recipients": recips,
			"fields":     fields,
			"events":     events,
		})
	})

	api.Patch("/documents/{document_id}", func(w http.ResponseWriter, r *http.Request) {
		id, _ := auth.IdentityFrom(r.Context())
		var req store.DocumentUpdate
		if err := httpx.ReadJSON(r, &req); err != nil {
			httpx.WriteError(w, 400, "BAD_JSON", err.Error(), nil)
			return
		}
		doc, err := st.UpdateDocument(r.Context(), id.OrgID, chi.URLParam(r, "document_id"), req)
		if err != nil {
			writeStoreError(w, err)
			return
		}
		httpx.WriteJSON(w, 200, map[string]any{"request_id": httpx.NewRequestID(), "document": doc})
	})

	api.Delete("/documents/{document_id}", func(w http.ResponseWriter, r *http.Request) {
		id, _ := auth.IdentityFrom(r.Context())
		if err := st.DeleteDocument(r.Context(), id.OrgID, chi.URLParam(r, "document_id")); err != nil {
			writeStoreError(w, err)
			return
		}
		w.WriteHeader(204)
	})

	api.Post("/documents/{document_id}/file", func(w http.ResponseWriter, r *http.Request) {
		id, _ := auth.IdentityFrom(r.Context())
		docID := chi.URLParam(r, "document_id")
		r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
		if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
			httpx.WriteBodyError(w, err)
			return
		}
		f, hdr, err := r.FormFile("file")
		if err != nil {
			httpx.WriteError(w, 400, "BAD_REQUEST", "multipart field 'file' is required", nil)
			return
		}
		defer f.Close()

		name := filepath.Base(hdr.Filename)
		res, err := blobs.Put(r.Context(), docID+"_"+name, f)
		if err != nil {
			httpx.WriteError(w, 502, "BLOB_ERROR", err.Error(), nil)
			return
		}
		ref := domain.FileRef{
			URL:      res.Ref,
			Name:     name,
			Size:     res.Size,
			Mime:     hdr.Header.Get("Content-Type"),
			SHA256:   res.SHA256,
			Location: res.Location,
		}
		doc, err := st.AttachFile(r.Context(), id.OrgID, docID, ref, actorFrom(r))
		if err != nil {
			// The upload is orphaned; reclaim it.
			_ = blobs.Remove(r.Context(), res.Location, res.Ref)
			writeStoreError(w, err)
			return
		}
		httpx.WriteJSON(w, 200, map[string]any{"request_id": httpx.NewRequestID(), "document": doc})
	})

	api.Delete("/documents/{document_id}/file", func(w http.ResponseWriter, r *http.Request) {
		id, _ := auth.IdentityFrom(r.Context())
		ref, err := st.RemoveFile(r.Context(), id.OrgID, chi.URLParam(r, "document_id"), actorFrom(r))
		if err != nil {
			writeStoreError(w, err)
			return
		}
		if ref != nil {
			if err := blobs.Remove(r.Context(), ref.Location, ref.URL); err != nil {
				// Detach already committed; the blob is merely orphaned.
				logBlobError(ref.URL, err)
			}
		}
		w.WriteHeader(204)
	})

	api.Get("/documents/{document_id}/file", func(w http.ResponseWriter, r *http.Request) {
		id, _ := auth.IdentityFrom(r.Context())
		doc, err := st.GetDocument(r.Context(), id.OrgID, chi.URLParam(r, "document_id"))
		if err != nil {
			writeStoreError(w, err)
			return
		}
		streamFile(w, r, blobs, doc.File)
	})

	api.Get("/documents/{document_id}/signed-file", func(w http.ResponseWriter, r *http.Request) {
		id, _ := auth.IdentityFrom(r.Context())
		doc, err := st.GetDocument(r.Context(), id.OrgID, chi.URLParam(r, "document_id"))
		if err != nil {
			writeStoreError(w, err)
			return
		}
		streamFile(w, r, blobs, doc.SignedFile)
	})

	api.Put("/documents/{document_id}/recipients", func(w http.ResponseWriter, r *http.Request) {
		id, _ := auth.IdentityFrom(r.Context())
		var req struct {
			Recipients []store.RecipientInput `json:"recipients"`
		}
		if err := httpx.ReadJSON(r, &req); err != nil {
			httpx.WriteError(w, 400, "BAD_JSON", err.Error(), nil)
			return
		}
		recips, err := st.ReplaceRecipients(r.Context(), id.OrgID, chi.URLParam(r, "document_id"), req.Recipients)
		if err != nil {
			writeStoreError(w, err)
			return
		}
		httpx.WriteJSON(w, 200, map[string]any{"request_id": httpx.NewRequestID(), "recipients": recips})
	})

	api.Put("/documents/{document_id}/fields", func(w http.ResponseWriter, r *http.Request) {
		id, _ := auth.IdentityFrom(r.Context())
		var req struct {
			Fields []store.FieldInput `json:"fields"`
		}
		if err := httpx.ReadJSON(r, &req); err != nil {
			httpx.WriteError(w, 400, "BAD_JSON", err.Error(), nil)
			return
		}
		fields, err := st.ReplaceFields(r.Context(), id.OrgID, chi.URLParam(r, "document_id"), req.Fields)
		if err != nil {
			writeStoreError(w, err)
			return
		}
		httpx.WriteJSON(w, 200, map[string]any{"request_id": httpx.NewRequestID(), "fields": fields})
	})

	api.Post("/documents/{document_id}/send", func(w http.ResponseWriter, r *http.Request) {
		id, _ := auth.IdentityFrom(r.Context())
		res, err := eng.Send(r.Context(), id.OrgID, chi.URLParam(r, "document_id"), actorFrom(r))
		if err != nil {
			writeStoreError(w, err)
			return
		}
		httpx.WriteJSON(w, 200, map[string]any{"request_id": httpx.NewRequestID(), "document": res.Document})
	})

	api.Post("/documents/{document_id}/cancel", func(w http.ResponseWriter, r *http.Request) {
		id, _ := auth.IdentityFrom(r.Context())
		doc, err := eng.Cancel(r.Context(), id.OrgID, chi.URLParam(r, "document_id"), actorFrom(r))
		if err != nil {
			writeStoreError(w, err)
			return
		}
		httpx.WriteJSON(w, 200, map[string]any{"request_id": httpx.NewRequestID(), "document": doc})
	})

	api.Post("/documents/{document_id}/reminders", func(w http.ResponseWriter, r *http.Request) {
		id, _ := auth.IdentityFrom(r.Context())
		var req struct {
			RecipientID *string   `json:"recipient_id"`
			RemindAt    time.Time `json:"remind_at"`
		}
		if err := httpx.ReadJSON(r, &req); err != nil {
			httpx.WriteError(w, 400, "BAD_JSON", err.Error(), nil)
			return
		}
		if req.RemindAt.IsZero() {
			httpx.WriteError(w, 400, "BAD_REQUEST", "remind_at is required", nil)
			return
		}
		rem, err := st.ScheduleReminder(r.Context(), id.OrgID, chi.URLParam(r, "document_id"), req.RecipientID, req.RemindAt, id.UserID, actorFrom(r))
		if err != nil {
			writeStoreError(w, err)
			return
		}
		httpx.WriteJSON(w, 201, map[string]any{"request_id": httpx.NewRequestID(), "reminder": rem})
	})

	registerTemplateRoutes(api, st, blobs)
}

func registerTemplateRoutes(api chi.Router, st *store.Store, blobs blob.Store) {
	api.Post("/templates", func(w http.ResponseWriter, r *http.Request) {
		id, _ := auth.IdentityFrom(r.Context())
		var req store.TemplateInput
		if err := httpx.ReadJSON(r, &req); err != nil {
			httpx.WriteError(w, 400, "BAD_JSON", err.Error(), nil)
			return
		}
		if strings.TrimSpace(req.Title) == "" {
			httpx.WriteError(w, 400, "BAD_REQUEST", "title is required", nil)
			return
		}
		tpl, err := st.CreateTemplate(r.Context(), id.OrgID, id.UserID, req)
		if err != nil {
			writeStoreError(w, err)
			return
		}
		httpx.WriteJSON(w, 201, map[string]any{"request_id": httpx.NewRequestID(), "template": tpl})
	})

	api.Get("/templates", func(w http.ResponseWriter, r *http.Request) {
		id, _ := auth.IdentityFrom(r.Context())
		tpls, err := st.ListTemplates(r.Context(), id.OrgID)
		if err != nil {
			writeStoreError(w, err)
			return
		}
		httpx.WriteJSON(w, 200, map[string]any{"request_id": httpx.NewRequestID(), "templates": tpls})
	})

	api.Get("/templates/{template_id}", func(w http.ResponseWriter, r *http.Request) {
		id, _ := auth.IdentityFrom(r.Context())
		tplID := chi.URLParam(r, "template_id")
		tpl, err := st.GetTemplate(r.Context(), id.OrgID, tplID)
		if err != nil {
			writeStoreError(w, err)
			return
		}
		roles, err := st.ListTemplateRoles(r.Context(), id.OrgID, tplID)
		if err != nil {
			writeStoreError(w, err)
			return
		}
		fields, err := st.ListTemplateFields(r.Context(), id.OrgID, tplID)
		if err != nil {
			writeStoreError(w, err)
			return
		}
		httpx.WriteJSON(w, 200, map[string]any{
			"request_id": httpx.NewRequestID(),
			"template":   tpl,
			"roles":      roles,
			"fields":     fields,
		})
	})

	api.Patch("/templates/{template_id}", func(w http.ResponseWriter, r *http.Request) {
		id, _ := auth.IdentityFrom(r.Context())
		var req store.TemplateInput
		if err := httpx.ReadJSON(r, &req); err != nil {
			httpx.WriteError(w, 400, "BAD_JSON", err.Error(), nil)
			return
		}
		tpl, err := st.UpdateTemplate(r.Context(), id.OrgID, chi.URLParam(r, "template_id"), req)
		if err != nil {
			writeStoreError(w, err)
			return
		}
		httpx.WriteJSON(w, 200, map[string]any{"request_id": httpx.NewRequestID(), "template": tpl})
	})

	api.Delete("/templates/{template_id}", func(w http.ResponseWriter, r *http.Request) {
		id, _ := auth.IdentityFrom(r.Context())
		if err := st.DeleteTemplate(r.Context(), id.OrgID, chi.URLParam(r, "template_id")); err != nil {
			writeStoreError(w, err)
			return
		}
		w.WriteHeader(204)
	})

	api.Post("/templates/{template_id}/file", func(w http.ResponseWriter, r *http.Request) {
		id, _ := auth.IdentityFrom(r.Context())
		tplID := chi.URLParam(r, "template_id")
		r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
		if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
			httpx.WriteBodyError(w, err)
			return
		}
		f, hdr, err := r.FormFile("file")
		if err != nil {
			httpx.WriteError(w, 400, "BAD_REQUEST", "multipart field 'file' is required", nil)
			return
		}
		defer f.Close()

		name := filepath.Base(hdr.Filename)
		res, err := blobs.Put(r.Context(), tplID+"_"+name, f)
		if err != nil {
			httpx.WriteError(w, 502, "BLOB_ERROR", err.Error(), nil)
			return
		}
		ref := domain.FileRef{
			URL:      res.Ref,
			Name:     name,
			Size:     res.Size,
			Mime:     hdr.Header.Get("Content-Type"),
			SHA256:   res.SHA256,
			Location: res.Location,
		}
		tpl, err := st.AttachTemplateFile(r.Context(), id.OrgID, tplID, ref)
		if err != nil {
			_ = blobs.Remove(r.Context(), res.Location, res.Ref)
			writeStoreError(w, err)
			return
		}
		httpx.WriteJSON(w, 200, map[string]any{"request_id": httpx.NewRequestID(), "template": tpl})
	})

	api.Put("/templates/{template_id}/roles", func(w http.ResponseWriter, r *http.Request) {
		id, _ := auth.IdentityFrom(r.Context())
		var req struct {
			Roles []domain.TemplateRole `json:"roles"`
		}
		if err := httpx.ReadJSON(r, &req); err != nil {
			httpx.WriteError(w, 400, "BAD_JSON", err.Error(), nil)
			return
		}
		if err := st.ReplaceTemplateRoles(r.Context(), id.OrgID, chi.URLParam(r, "template_id"), req.Roles); err != nil {
			writeStoreError(w, err)
			return
		}
		httpx.WriteJSON(w, 200, map[string]any{"request_id": httpx.NewRequestID(), "roles": req.Roles})
	})

	api.Put("/templates/{template_id}/fields", func(w http.ResponseWriter, r *http.Request) {
		id, _ := auth.IdentityFrom(r.Context())
		var req struct {
			Fields []store.FieldInput `json:"fields"`
		}
		if err := httpx.ReadJSON(r, &req); err != nil {
			httpx.WriteError(w, 400, "BAD_JSON", err.Error(), nil)
			return
		}
		fields, err := st.ReplaceTemplateFields(r.Context(), id.OrgID, chi.URLParam(r, "template_id"), req.Fields)
		if err != nil {
			writeStoreError(w, err)
			return
		}
		httpx.WriteJSON(w, 200, map[string]any{"request_id": httpx.NewRequestID(), "fields": fields})
	})

	api.Post("/templates/{template_id}/instantiate", func(w http.ResponseWriter, r *http.Request) {
		id, _ := auth.IdentityFrom(r.Context())
		var req struct {
			Document   store.DocumentInput    `json:"document"`
			Recipients []store.RecipientInput `json:"recipients"`
		}
		if err := httpx.ReadJSON(r, &req); err != nil {
			httpx.WriteError(w, 400, "BAD_JSON", err.Error(), nil)
			return
		}
		doc, err := st.InstantiateTemplate(r.Context(), id.OrgID, chi.URLParam(r, "template_id"), id.UserID, req.Document, req.Recipients)
		if err != nil {
			writeStoreError(w, err)
			return
		}
		httpx.WriteJSON(w, 201, map[string]any{"request_id": httpx.NewRequestID(), "document": doc})
	})
}

// streamFile copies a stored blob to the response. A nil ref means the
// document has no such file yet.
func streamFile(w http.ResponseWriter, r *http.Request, blobs blob.Store, ref *domain.FileRef) {
	if ref == nil {
		httpx.WriteError(w, 404, "NOT_FOUND", "no file available", nil)
		return
	}
	rc, err := blobs.Open(r.Context(), ref.Location, ref.URL)
	if err != nil {
		httpx.WriteError(w, 502, "BLOB_ERROR", err.Error(), nil)
		return
	}
	defer rc.Close()

	mime := ref.Mime
	if mime == "" {
		mime = "application/octet-stream"
	}
	w.Header().Set("Content-Type", mime)
	w.Header().Set("Content-Disposition", `attachment; filename="`+ref.Name+`"`)
	w.WriteHeader(200)
	_, _ = io.Copy(w, rc)
}

// writeStoreError maps store failures to the response envelope.
func writeStoreError(w http.ResponseWriter, err error) {
	var stateErr *store.StateError
	var fieldErr *domain.FieldValidationError
	var recipErr *domain.RecipientValidationError
	switch {
	case errors.Is(err, store.ErrNotFound):
		httpx.WriteError(w, 404, "NOT_FOUND", "not found", nil)
	case errors.Is(err, store.ErrSigningStarted):
		httpx.WriteError(w, 409, "SIGNING_STARTED", err.Error(), nil)
	case errors.As(err, &stateErr):
		httpx.WriteError(w, 409, "INVALID_STATE", stateErr.Error(), nil)
	case errors.Is(err, store.ErrNoRecipients):
		httpx.WriteError(w, 400, "NO_RECIPIENTS", err.Error(), nil)
	case errors.Is(err, store.ErrNoFile):
		httpx.WriteError(w, 400, "NO_FILE", err.Error(), nil)
	case errors.As(err, &fieldErr), errors.As(err, &recipErr):
		httpx.WriteError(w, 400, "VALIDATION_FAILED", err.Error(), nil)
	default:
		httpx.WriteError(w, 500, "DB_ERROR", err.Error(), nil)
	}
}

// actorFrom extracts request provenance for the audit ledger.
func actorFrom(r *http.Request) domain.Actor {
	ip := strings.TrimSpace(r.Header.Get("X-Forwarded-For"))
	if i := strings.IndexByte(ip, ','); i >= 0 {
		ip = strings.TrimSpace(ip[:i])
	}
	if ip == "" {
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err == nil {
			ip = host
		} else {
			ip = r.RemoteAddr
		}
	}
	return domain.Actor{IPAddress: ip, UserAgent: r.UserAgent()}
}

func logBlobError(ref string, err error) {
	log.Printf("blob: remove %s failed: %v", ref, err)
}
