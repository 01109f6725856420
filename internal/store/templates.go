package store

import (
	"context"

	"github.com/codebymv/Itemize-sub008/pkg/domain"
)

type TemplateInput struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

func (s *Store) CreateTemplate(ctx context.Context, orgID, createdBy string, in TemplateInput) (domain.Template, error) {
	id := NewID("tpl")
	_, err := s.DB.Exec(ctx, `
INSERT INTO templates(template_id,org_id,title,description,created_by) VALUES($1,$2,$3,$4,$5)
`, id, orgID, in.Title, in.Description, createdBy)
	if err != nil {
		return domain.Template{}, err
	}
	return s.GetTemplate(ctx, orgID, id)
}

const tplColumns = `template_id,org_id,title,description,file_url,file_name,file_size,file_mime,file_sha256,file_location,created_by,created_at`

func scanTemplate(row interface{ Scan(...any) error }) (domain.Template, error) {
	var t domain.Template
	var fileURL, fileName, fileMime, fileSHA, fileLoc *string
	var fileSize *int64
	err := row.Scan(&t.TemplateID, &t.OrgID, &t.Title, &t.Description,
		&fileURL, &fileName, &fileSize, &fileMime, &fileSHA, &fileLoc,
		&t.CreatedBy, &t.CreatedAt)
	if err != nil {
		return domain.Template{}, err
	}
	if fileURL != nil {
		t.File = &domain.FileRef{
			URL: *fileURL, Name: deref(fileName), Size: derefInt(fileSize),
			Mime: deref(fileMime), SHA256: deref(fileSHA), Location: domain.LocationKind(deref(fileLoc)),
		}
	}
	return t, nil
}

func (s *Store) GetTemplate(ctx context.Context, orgID, templateID string) (domain.Template, error) {
	row := s.DB.QueryRow(ctx, `SELECT `+tplColumns+` FROM templates WHERE template_id=$1 AND org_id=$2`, templateID, orgID)
	t, err := scanTemplate(row)
	return t, notFound(err)
}

func (s *Store) ListTemplates(ctx context.Context, orgID string) ([]domain.Template, error) {
	rows, err := s.DB.Query(ctx, `SELECT `+tplColumns+` FROM templates WHERE org_id=$1 ORDER BY created_at DESC`, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Template
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *Store) UpdateTemplate(ctx context.Context, orgID, templateID string, in TemplateInput) (domain.Template, error) {
	tag, err := s.DB.Exec(ctx, `
UPDATE templates SET title=$1, description=$2 WHERE template_id=$3 AND org_id=$4
`, in.Title, in.Description, templateID, orgID)
	if err != nil {
		return domain.Template{}, err
	}
	if tag.RowsAffected() == 0 {
		return domain.Template{}, ErrNotFound
	}
	return s.GetTemplate(ctx, orgID, templateID)
}

func (s *Store) DeleteTemplate(ctx context.Context, orgID, templateID string) error {
	tag, err := s.DB.Exec(ctx, `DELETE FROM templates WHERE template_id=$1 AND org_id=$2`, templateID, orgID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// AttachTemplateFile replaces the stencil's file metadata.
func (s *Store) AttachTemplateFile(ctx context.Context, orgID, templateID string, ref domain.FileRef) (domain.Template, error) {
	tag, err := s.DB.Exec(ctx, `
UPDATE templates SET file_url=$1, file_name=$2, file_size=$3, file_mime=$4, file_sha256=$5, file_location=$6
WHERE template_id=$7 AND org_id=$8
`, ref.URL, ref.Name, ref.Size, ref.Mime, ref.SHA256, ref.Location, templateID, orgID)
	if err != nil {
		return domain.Template{}, err
	}
	if tag.RowsAffected() == 0 {
		return domain.Template{}, ErrNotFound
	}
	return s.GetTemplate(ctx, orgID, templateID)
}

func (s *Store) ReplaceTemplateRoles(ctx context.Context, orgID, templateID string, roles []domain.TemplateRole) error {
	tx, err := s.DB.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	var exists bool
	if err := tx.QueryRow(ctx, `SELECT true FROM templates WHERE template_id=$1 AND org_id=$2 FOR UPDATE`, templateID, orgID).Scan(&exists); err != nil {
		return notFound(err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM template_roles WHERE template_id=$1`, templateID); err != nil {
		return err
	}
	for _, r := range roles {
		order := r.SigningOrder
		if order < 1 {
			order = 1
		}
		if _, err := tx.Exec(ctx, `INSERT INTO template_roles(template_id,role_name,signing_order) VALUES($1,$2,$3)`, templateID, r.RoleName, order); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func (s *Store) ListTemplateRoles(ctx context.Context, orgID, templateID string) ([]domain.TemplateRole, error) {
	rows, err := s.DB.Query(ctx, `
SELECT tr.role_name, tr.signing_order FROM template_roles tr
JOIN templates t ON t.template_id = tr.template_id
WHERE tr.template_id=$1 AND t.org_id=$2
ORDER BY tr.signing_order, tr.role_name
`, templateID, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.TemplateRole
	for rows.Next() {
		var r domain.TemplateRole
		if err := rows.Scan(&r.RoleName, &r.SigningOrder); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) ReplaceTemplateFields(ctx context.Context, orgID, templateID string, inputs []FieldInput) ([]domain.TemplateField, error) {
	tx, err := s.DB.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	var exists bool
	if err := tx.QueryRow(ctx, `SELECT true FROM templates WHERE template_id=$1 AND org_id=$2 FOR UPDATE`, templateID, orgID).Scan(&exists); err != nil {
		return nil, notFound(err)
	}

	// Template fields bind roles, not recipients; reuse the document field
	// validator via a throwaway projection.
	check := make([]domain.Field, 0, len(inputs))
	candidates := make([]domain.TemplateField, 0, len(inputs))
	for _, in := range inputs {
		f := domain.TemplateField{
			FieldID:  NewID("fld"),
			RoleName: in.RoleName,
			Type:     in.Type,
			Page:     in.Page,
			X:        in.X,
			Y:        in.Y,
			Width:    in.Width,
			Height:   in.Height,
			Label:    in.Label,
			Required: in.Required,
		}
		candidates = append(candidates, f)
		check = append(check, domain.Field{
			Type: f.Type, Page: f.Page, X: f.X, Y: f.Y, Width: f.Width, Height: f.Height, RoleName: f.RoleName,
		})
	}
	if err := domain.ValidateFields(check); err != nil {
		return nil, err
	}

	if _, err := tx.Exec(ctx, `DELETE FROM template_fields WHERE template_id=$1`, templateID); err != nil {
		return nil, err
	}
	for _, f := range candidates {
		_, err := tx.Exec(ctx, `
INSERT INTO template_fields(field_id,template_id,role_name,field_type,page_number,pos_x,pos_y,width,height,label,is_required)
VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
`, f.FieldID, templateID, f.RoleName, f.Type, f.Page, f.X, f.Y, f.Width, f.Height, f.Label, f.Required)
		if err != nil {
			return nil, err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return candidates, nil
}

func (s *Store) ListTemplateFields(ctx context.Context, orgID, templateID string) ([]domain.TemplateField, error) {
	rows, err := s.DB.Query(ctx, `
SELECT tf.field_id, tf.role_name, tf.field_type, tf.page_number, tf.pos_x, tf.pos_y, tf.width, tf.height, tf.label, tf.is_required
FROM template_fields tf
JOIN templates t ON t.template_id = tf.template_id
WHERE tf.template_id=$1 AND t.org_id=$2
ORDER BY tf.page_number, tf.pos_y, tf.pos_x
`, templateID, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.TemplateField
	for rows.Next() {
		var f domain.TemplateField
		if err := rows.Scan(&f.FieldID, &f.RoleName, &f.Type, &f.Page, &f.X, &f.Y, &f.Width, &f.Height, &f.Label, &f.Required); err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// InstantiateTemplate stamps a stencil into a concrete draft document:
// copies file metadata, creates recipients (signing order resolved from the
// matching role when present), and copies fields mapping role_name to the
// supplied recipient. Fields whose role has no recipient stay unbound.
func (s *Store) InstantiateTemplate(ctx context.Context, orgID, templateID, createdBy string, in DocumentInput, recipients []RecipientInput) (domain.Document, error) {
	tx, err := s.DB.Begin(ctx)
	if err != nil {
		return domain.Document{}, err
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx, `SELECT `+tplColumns+` FROM templates WHERE template_id=$1 AND org_id=$2`, templateID, orgID)
	tpl, err := scanTemplate(row)
	if err != nil {
		return domain.Document{}, notFound(err)
	}

	orderByRole := map[string]int{}
	roleRows, err := tx.Query(ctx, `SELECT role_name, signing_order FROM template_roles WHERE template_id=$1`, templateID)
	if err != nil {
		return domain.Document{}, err
	}
	for roleRows.Next() {
		var name string
		var order int
		if err := roleRows.Scan(&name, &order); err != nil {
			roleRows.Close()
			return domain.Document{}, err
		}
		orderByRole[name] = order
	}
	roleRows.Close()
	if err := roleRows.Err(); err != nil {
		return domain.Document{}, err
	}

	docID := NewID("doc")
	title := in.Title
	if title == "" {
		title = tpl.Title
	}
	mode := in.RoutingMode
	if mode == "" {
		mode = domain.RouteParallel
	}
	days := in.ExpirationDays
	if days <= 0 {
		days = 30
	}
	_, err = tx.Exec(ctx, `
INSERT INTO documents(document_id,org_id,title,description,message,routing_mode,expiration_days,sender_name,sender_email,status,created_by,
file_url,file_name,file_size,file_mime,file_sha256,file_location)
VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)
`, docID, orgID, title, in.Description, in.Message, mode, days, in.SenderName, in.SenderEmail, domain.DocDraft, createdBy,
		fileCol(tpl.File, func(f *domain.FileRef) any { return f.URL }),
		fileCol(tpl.File, func(f *domain.FileRef) any { return f.Name }),
		fileCol(tpl.File, func(f *domain.FileRef) any { return f.Size }),
		fileCol(tpl.File, func(f *domain.FileRef) any { return f.Mime }),
		fileCol(tpl.File, func(f *domain.FileRef) any { return f.SHA256 }),
		fileCol(tpl.File, func(f *domain.FileRef) any { return string(f.Location) }))
	if err != nil {
		return domain.Document{}, err
	}

	recipByRole := map[string]string{}
	candidates := make([]domain.Recipient, 0, len(recipients))
	for i, rin := range recipients {
		order := rin.SigningOrder
		if rin.RoleName != nil {
			if ro, ok := orderByRole[*rin.RoleName]; ok && order < 1 {
				order = ro
			}
		}
		if order < 1 {
			order = i + 1
		}
		method := rin.IdentityMethod
		if method == "" {
			method = "email"
		}
		r := domain.Recipient{
			RecipientID:    NewID("rcp"),
			DocumentID:     docID,
			Name:           rin.Name,
			Email:          rin.Email,
			ContactID:      rin.ContactID,
			SigningOrder:   order,
			Position:       i,
			RoleName:       rin.RoleName,
			IdentityMethod: method,
			RoutingStatus:  domain.RoutingLocked,
			Status:         domain.RecipPending,
		}
		candidates = append(candidates, r)
		if rin.RoleName != nil {
			recipByRole[*rin.RoleName] = r.RecipientID
		}
	}
	if err := domain.ValidateRecipients(mode, candidates); err != nil {
		return domain.Document{}, err
	}
	for _, r := range candidates {
		_, err := tx.Exec(ctx, `
INSERT INTO recipients(recipient_id,document_id,name,email,contact_id,signing_order,position,role_name,identity_method,routing_status,status)
VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
`, r.RecipientID, r.DocumentID, r.Name, r.Email, r.ContactID, r.SigningOrder, r.Position, r.RoleName, r.IdentityMethod, r.RoutingStatus, r.Status)
		if err != nil {
			return domain.Document{}, err
		}
	}

	fieldRows, err := tx.Query(ctx, `
SELECT role_name, field_type, page_number, pos_x, pos_y, width, height, label, is_required
FROM template_fields WHERE template_id=$1
`, templateID)
	if err != nil {
		return domain.Document{}, err
	}
	type tfield struct {
		roleName *string
		ftype    string
		page     int
		x, y     float64
		w, h     float64
		label    string
		required bool
	}
	var tfields []tfield
	for fieldRows.Next() {
		var f tfield
		if err := fieldRows.Scan(&f.roleName, &f.ftype, &f.page, &f.x, &f.y, &f.w, &f.h, &f.label, &f.required); err != nil {
			fieldRows.Close()
			return domain.Document{}, err
		}
		tfields = append(tfields, f)
	}
	fieldRows.Close()
	if err := fieldRows.Err(); err != nil {
		return domain.Document{}, err
	}
	for _, f := range tfields {
		var recipientID *string
		if f.roleName != nil {
			if id, ok := recipByRole[*f.roleName]; ok {
				recipientID = &id
			}
		}
		_, err := tx.Exec(ctx, `
INSERT INTO fields(field_id,document_id,recipient_id,role_name,field_type,page_number,pos_x,pos_y,width,height,label,is_required)
VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
`, NewID("fld"), docID, recipientID, f.roleName, f.ftype, f.page, f.x, f.y, f.w, f.h, f.label, f.required)
		if err != nil {
			return domain.Document{}, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.Document{}, err
	}
	return s.GetDocument(ctx, orgID, docID)
}

func fileCol(f *domain.FileRef, pick func(*domain.FileRef) any) any {
	if f == nil {
		return nil
	}
	return pick(f)
}
