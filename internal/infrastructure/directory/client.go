// Package directory is the HTTP adapter to the upstream business system. It
// implements the resolver, signature, and notifier ports against a REST API;
// the engine itself never learns where candidate pools come from.
package directory

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/stagecraft/approvalflow/internal/application/port"
	"github.com/stagecraft/approvalflow/internal/domain/entity"
)

// Config holds directory client configuration
type Config struct {
	BaseURL string
	Timeout time.Duration
}

// Client calls the upstream directory service over HTTP.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient creates a new directory client.
func NewClient(cfg Config, logger *zap.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:    cfg.BaseURL,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

type candidateResponse struct {
	Candidates []struct {
		UserID string `json:"user_id"`
		Role   string `json:"role"`
	} `json:"candidates"`
}

// ResolveCandidatePool returns the actors eligible to act on the given stage.
func (c *Client) ResolveCandidatePool(ctx context.Context, entityType, entityID string, stage *entity.StageDefinition) ([]port.Candidate, error) {
	req := map[string]interface{}{
		"entity_type":  entityType,
		"entity_id":    entityID,
		"stage_number": stage.StageNumber,
		"stage_name":   stage.Name,
		"strategy":     stage.Strategy.String(),
	}

	var resp candidateResponse
	if err := c.post(ctx, "/v1/resolve/candidates", req, &resp); err != nil {
		return nil, fmt.Errorf("failed to resolve candidate pool: %w", err)
	}
	return c.toCandidates(resp), nil
}

// ResolveRoleMembers returns the members of a role for a business entity.
func (c *Client) ResolveRoleMembers(ctx context.Context, entityType, entityID, role string) ([]port.Candidate, error) {
	req := map[string]interface{}{
		"entity_type": entityType,
		"entity_id":   entityID,
		"role":        role,
	}

	var resp candidateResponse
	if err := c.post(ctx, "/v1/resolve/role-members", req, &resp); err != nil {
		return nil, fmt.Errorf("failed to resolve role members: %w", err)
	}
	return c.toCandidates(resp), nil
}

// OnInstanceCompleted notifies the owning system that its workflow finished
// approved.
func (c *Client) OnInstanceCompleted(ctx context.Context, entityType, entityID string) error {
	req := map[string]interface{}{
		"entity_type": entityType,
		"entity_id":   entityID,
	}
	if err := c.post(ctx, "/v1/callbacks/completed", req, nil); err != nil {
		return fmt.Errorf("failed to deliver completion callback: %w", err)
	}
	return nil
}

// OnInstanceRejected notifies the owning system that its workflow closed
// rejected, with the outcome that caused it.
func (c *Client) OnInstanceRejected(ctx context.Context, entityType, entityID string, outcome entity.Outcome) error {
	req := map[string]interface{}{
		"entity_type": entityType,
		"entity_id":   entityID,
		"outcome":     outcome.String(),
	}
	if err := c.post(ctx, "/v1/callbacks/rejected", req, nil); err != nil {
		return fmt.Errorf("failed to deliver rejection callback: %w", err)
	}
	return nil
}

// CaptureSignature obtains a signature reference for an actor and document.
func (c *Client) CaptureSignature(ctx context.Context, actorID, documentRef string) (string, error) {
	req := map[string]interface{}{
		"actor_id":     actorID,
		"document_ref": documentRef,
	}

	var resp struct {
		SignatureRef string `json:"signature_ref"`
	}
	if err := c.post(ctx, "/v1/signatures", req, &resp); err != nil {
		return "", fmt.Errorf("failed to capture signature: %w", err)
	}
	return resp.SignatureRef, nil
}

// Notify delivers one queued notification to its recipient.
func (c *Client) Notify(ctx context.Context, notification *entity.Notification) error {
	req := map[string]interface{}{
		"recipient_id": notification.RecipientID,
		"kind":         notification.Kind,
		"subject":      notification.Subject,
		"instance_id":  notification.InstanceID,
	}
	if err := c.post(ctx, "/v1/notifications", req, nil); err != nil {
		return fmt.Errorf("failed to deliver notification: %w", err)
	}
	return nil
}

func (c *Client) toCandidates(resp candidateResponse) []port.Candidate {
	candidates := make([]port.Candidate, 0, len(resp.Candidates))
	for _, cand := range resp.Candidates {
		candidates = append(candidates, port.Candidate{UserID: cand.UserID, Role: cand.Role})
	}
	return candidates
}

func (c *Client) post(ctx context.Context, path string, payload interface{}, out interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("Directory request failed",
			zap.String("path", path),
			zap.Error(err))
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		c.logger.Error("Directory request rejected",
			zap.String("path", path),
			zap.Int("status", resp.StatusCode),
			zap.ByteString("body", data))
		return fmt.Errorf("directory returned status %d", resp.StatusCode)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// Verify interface compliance
var (
	_ port.EntityResolver   = (*Client)(nil)
	_ port.SignatureCapture = (*Client)(nil)
	_ port.Notifier         = (*Client)(nil)
)
