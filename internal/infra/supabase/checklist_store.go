package supabase

import (
	"context"
	"fmt"
	"time"

	"github.com/boddenberg/etudes-bfa-go/internal/domain"

	"go.opentelemetry.io/otel/attribute"
)

// ============================================================
// Document checklist: one row per (etude_id, document)
// ============================================================

type documentRow struct {
	EtudeID  flexString `json:"etude_id"`
	Document string     `json:"document"`
	Checked  bool       `json:"checked"`
}

// ListDocuments returns the checked state of every stored document of a
// study. Rows for unknown document keys are ignored.
func (c *Client) ListDocuments(ctx context.Context, studyID string) (map[domain.DocumentKey]bool, error) {
	ctx, span := tracer.Start(ctx, "Supabase.ListDocuments")
	defer span.End()
	span.SetAttributes(attribute.String("study.id", studyID))

	docs := make(map[domain.DocumentKey]bool, len(domain.Documents))
	err := c.call(ctx, "documents", func() error {
		path := fmt.Sprintf("%s?select=etude_id,document,checked&etude_id=%s", c.documentsTable, eq(studyID))
		var rows []documentRow
		if err := c.doGet(ctx, path, &rows); err != nil {
			return err
		}
		for _, r := range rows {
			key, err := domain.ParseDocumentKey(r.Document)
			if err != nil {
				continue
			}
			docs[key] = r.Checked
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return docs, nil
}

// SetDocument upserts the checked state of one document.
func (c *Client) SetDocument(ctx context.Context, studyID string, doc domain.DocumentKey, checked bool) error {
	ctx, span := tracer.Start(ctx, "Supabase.SetDocument")
	defer span.End()
	span.SetAttributes(
		attribute.String("study.id", studyID),
		attribute.String("document", string(doc)),
		attribute.Bool("checked", checked),
	)

	data := map[string]any{
		"etude_id":   studyID,
		"document":   string(doc),
		"checked":    checked,
		"updated_at": time.Now().UTC().Format(time.RFC3339),
	}
	return c.call(ctx, "documents", func() error {
		return c.doUpsert(ctx, c.documentsTable, "etude_id,document", data)
	})
}
