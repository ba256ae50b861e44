package supabase

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/boddenberg/etudes-bfa-go/internal/infra/resilience"
)

// ============================================================
// HTTP helpers for GET, POST, PATCH, DELETE and upsert
// ============================================================

const (
	preferRepresentation = "return=representation"
	preferMinimal        = "return=minimal"
	preferMerge          = "resolution=merge-duplicates,return=minimal"
)

func (c *Client) doGet(ctx context.Context, path string, out any) error {
	body, err := c.doRequest(ctx, http.MethodGet, path, nil, "")
	if err != nil {
		return err
	}
	return decode(body, out)
}

func (c *Client) doPost(ctx context.Context, path string, data map[string]any, out any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return err
	}
	body, err := c.doRequest(ctx, http.MethodPost, path, payload, preferRepresentation)
	if err != nil {
		return err
	}
	return decode(body, out)
}

// doUpsert inserts or merges on the conflict columns.
func (c *Client) doUpsert(ctx context.Context, table, onConflict string, data map[string]any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return err
	}
	path := fmt.Sprintf("%s?on_conflict=%s", table, url.QueryEscape(onConflict))
	_, err = c.doRequest(ctx, http.MethodPost, path, payload, preferMerge)
	return err
}

// doPatch updates the rows selected by path and decodes the updated rows
// into out when it is non-nil.
func (c *Client) doPatch(ctx context.Context, path string, data map[string]any, out any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return err
	}
	prefer := preferMinimal
	if out != nil {
		prefer = preferRepresentation
	}
	body, err := c.doRequest(ctx, http.MethodPatch, path, payload, prefer)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	return decode(body, out)
}

func (c *Client) doDelete(ctx context.Context, path string, out any) error {
	prefer := preferMinimal
	if out != nil {
		prefer = preferRepresentation
	}
	body, err := c.doRequest(ctx, http.MethodDelete, path, nil, prefer)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	return decode(body, out)
}

// eq builds a PostgREST equality filter value.
func eq(v string) string {
	return "eq." + url.QueryEscape(v)
}

func decode(body []byte, out any) error {
	if out == nil || len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return resilience.Permanent(fmt.Errorf("decode response: %w", err))
	}
	return nil
}

func readBody(resp *http.Response) ([]byte, error) {
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
