// Package entity provides the client for the entity service, the system of
// record for contact and lead attributes. Workflow and segment evaluation
// only ever read entities through this boundary.
package entity

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/leadwell/drip/pkg/models"
)

const clientTimeout = 10 * time.Second

// HTTPClient implements snapshot lookups and entity listing against the
// entity service HTTP API. The field schema is fetched once at construction;
// schema changes require a restart, matching how definitions are validated
// against one schema version.
type HTTPClient struct {
	baseURL string
	client  *http.Client
	schema  models.FieldSchema
	logger  *slog.Logger
}

func NewHTTPClient(ctx context.Context, baseURL string, logger *slog.Logger) (*HTTPClient, error) {
	c := &HTTPClient{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client:  &http.Client{Timeout: clientTimeout},
		logger:  logger.With("module", "entity_client"),
	}

	schema, err := c.fetchSchema(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch entity field schema: %w", err)
	}

	c.schema = schema
	c.logger.InfoContext(ctx, "Loaded entity field schema", "fields", len(schema))

	return c, nil
}

// Snapshot returns the entity's current flattened field values, stored
// attributes and computed fields alike.
func (c *HTTPClient) Snapshot(ctx context.Context, entityID string) (map[string]any, error) {
	var snapshot map[string]any

	err := c.getJSON(ctx, "/entities/"+url.PathEscape(entityID)+"/snapshot", &snapshot)
	if err != nil {
		return nil, fmt.Errorf("snapshot for entity %s: %w", entityID, err)
	}

	return snapshot, nil
}

func (c *HTTPClient) Fields() models.FieldSchema {
	return c.schema
}

// EntityIDs lists every entity id, the candidate set for segment
// recalculation.
func (c *HTTPClient) EntityIDs(ctx context.Context) ([]string, error) {
	var ids []string

	err := c.getJSON(ctx, "/entities", &ids)
	if err != nil {
		return nil, fmt.Errorf("failed to list entities: %w", err)
	}

	return ids, nil
}

func (c *HTTPClient) fetchSchema(ctx context.Context) (models.FieldSchema, error) {
	var schema models.FieldSchema

	err := c.getJSON(ctx, "/schema", &schema)
	if err != nil {
		return nil, err
	}

	return schema, nil
}

func (c *HTTPClient) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}

	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}

	defer func() {
		if err := resp.Body.Close(); err != nil {
			c.logger.Warn("Failed to close response body", "error", err)
		}
	}()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("entity service returned status %d for %s", resp.StatusCode, path)
	}

	return json.NewDecoder(resp.Body).Decode(out)
}
