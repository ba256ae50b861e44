package supabase

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/boddenberg/etudes-bfa-go/internal/domain"
	"github.com/boddenberg/etudes-bfa-go/internal/infra/resilience"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// ============================================================
// Études: CRUD via PostgREST
// ============================================================

const studyColumns = "id,titre,statut,montant,client,created_at"

// flexString accepts a JSON string, number or null. Primary keys are
// uuid or bigint depending on the project.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*f = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	*f = flexString(b)
	return nil
}

// flexAmount accepts a JSON number, a numeric string (PostgREST numeric)
// or null. Unparsable strings decode to nil.
type flexAmount struct {
	v *float64
}

func (f *flexAmount) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	f.v = nil
	if bytes.Equal(b, []byte("null")) {
		return nil
	}
	raw := string(b)
	if len(b) > 0 && b[0] == '"' {
		if err := json.Unmarshal(b, &raw); err != nil {
			return err
		}
		raw = strings.TrimSpace(raw)
	}
	n, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil
	}
	f.v = &n
	return nil
}

// studyRow maps the etudes table columns.
type studyRow struct {
	ID        flexString `json:"id"`
	Titre     *string    `json:"titre"`
	Statut    *string    `json:"statut"`
	Montant   flexAmount `json:"montant"`
	Client    *string    `json:"client"`
	CreatedAt *string    `json:"created_at"`
}

func (r studyRow) toDomain() domain.Study {
	return domain.Study{
		ID:        string(r.ID),
		Title:     deref(r.Titre),
		Client:    deref(r.Client),
		Amount:    r.Montant.v,
		Status:    domain.NormalizeStatus(deref(r.Statut)),
		CreatedAt: deref(r.CreatedAt),
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// ListStudies returns every study, newest first.
func (c *Client) ListStudies(ctx context.Context) ([]domain.Study, error) {
	ctx, span := tracer.Start(ctx, "Supabase.ListStudies")
	defer span.End()

	var studies []domain.Study
	err := c.call(ctx, "studies", func() error {
		path := fmt.Sprintf("%s?select=%s&order=created_at.desc", c.studiesTable, studyColumns)
		var rows []studyRow
		if err := c.doGet(ctx, path, &rows); err != nil {
			return err
		}
		studies = make([]domain.Study, 0, len(rows))
		for _, r := range rows {
			studies = append(studies, r.toDomain())
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	span.SetAttributes(attribute.Int("studies.count", len(studies)))
	return studies, nil
}

// GetStudy fetches one study by id.
func (c *Client) GetStudy(ctx context.Context, id string) (*domain.Study, error) {
	ctx, span := tracer.Start(ctx, "Supabase.GetStudy")
	defer span.End()
	span.SetAttributes(attribute.String("study.id", id))

	var study *domain.Study
	err := c.call(ctx, "studies", func() error {
		path := fmt.Sprintf("%s?select=%s&id=%s&limit=1", c.studiesTable, studyColumns, eq(id))
		var rows []studyRow
		if err := c.doGet(ctx, path, &rows); err != nil {
			return err
		}
		if len(rows) == 0 {
			return notFound(id)
		}
		s := rows[0].toDomain()
		study = &s
		return nil
	})
	if err != nil {
		return nil, err
	}
	return study, nil
}

// CreateStudy inserts a study and returns the stored row.
func (c *Client) CreateStudy(ctx context.Context, in *domain.NewStudy) (*domain.Study, error) {
	ctx, span := tracer.Start(ctx, "Supabase.CreateStudy")
	defer span.End()

	status := in.Status
	if status == "" {
		status = domain.StatusInProgress
	}
	data := map[string]any{
		"titre":   in.Title,
		"statut":  string(status),
		"montant": in.Amount,
		"client":  nullable(in.Client),
	}

	var study *domain.Study
	err := c.call(ctx, "studies", func() error {
		path := fmt.Sprintf("%s?select=%s", c.studiesTable, studyColumns)
		var rows []studyRow
		if err := c.doPost(ctx, path, data, &rows); err != nil {
			return err
		}
		if len(rows) == 0 {
			return fmt.Errorf("insert into %s returned no row", c.studiesTable)
		}
		s := rows[0].toDomain()
		study = &s
		return nil
	})
	if err != nil {
		return nil, err
	}

	c.logger.Info("supabase: study created", zap.String("study_id", study.ID))
	span.SetAttributes(attribute.String("study.id", study.ID))
	return study, nil
}

// UpdateStudyStatus sets the status of one study.
func (c *Client) UpdateStudyStatus(ctx context.Context, id string, status domain.Status) error {
	ctx, span := tracer.Start(ctx, "Supabase.UpdateStudyStatus")
	defer span.End()
	span.SetAttributes(attribute.String("study.id", id), attribute.String("study.status", string(status)))

	return c.call(ctx, "studies", func() error {
		path := fmt.Sprintf("%s?id=%s&select=id", c.studiesTable, eq(id))
		var rows []studyRow
		if err := c.doPatch(ctx, path, map[string]any{"statut": string(status)}, &rows); err != nil {
			return err
		}
		if len(rows) == 0 {
			return notFound(id)
		}
		return nil
	})
}

// DeleteStudy removes a study.
func (c *Client) DeleteStudy(ctx context.Context, id string) error {
	ctx, span := tracer.Start(ctx, "Supabase.DeleteStudy")
	defer span.End()
	span.SetAttributes(attribute.String("study.id", id))

	return c.call(ctx, "studies", func() error {
		path := fmt.Sprintf("%s?id=%s&select=id", c.studiesTable, eq(id))
		var rows []studyRow
		if err := c.doDelete(ctx, path, &rows); err != nil {
			return err
		}
		if len(rows) == 0 {
			return notFound(id)
		}
		return nil
	})
}

// Ping checks that PostgREST answers for the studies table.
func (c *Client) Ping(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "Supabase.Ping")
	defer span.End()

	return c.call(ctx, "ping", func() error {
		var rows []studyRow
		return c.doGet(ctx, fmt.Sprintf("%s?select=id&limit=1", c.studiesTable), &rows)
	})
}

func notFound(id string) error {
	return resilience.Permanent(&domain.ErrNotFound{Resource: "study", ID: id})
}

func nullable(s string) any {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return s
}
