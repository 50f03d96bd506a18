// Package instagram wraps the Meta Graph API surface the pipeline needs:
// sending a private reply DM to a commenter, posting a public comment reply,
// and verifying webhook signatures.
//
// Outbound calls go through a circuit breaker so a misbehaving upstream trips
// fast instead of tying up every delivery worker on timeouts.
package instagram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sony/gobreaker/v2"
)

const (
	defaultGraphHost = "https://graph.facebook.com"
	instagramHost    = "https://graph.instagram.com"
)

// APIError is a structured Graph API error response. Status is the HTTP
// status code of the reply that carried it.
type APIError struct {
	Code    int    `json:"code"`
	Subcode int    `json:"error_subcode"`
	Type    string `json:"type"`
	Message string `json:"message"`
	Status  int    `json:"-"`
}

// Error implements the error interface.
func (e *APIError) Error() string {
	return fmt.Sprintf("graph api error %d (subcode %d, http %d): %s", e.Code, e.Subcode, e.Status, e.Message)
}

// Retryable reports whether a later attempt could plausibly succeed.
// Permission, auth, and policy errors are permanent; throttling and server
// side errors are worth retrying.
func (e *APIError) Retryable() bool {
	switch e.Code {
	case 10, 100, 190, 200, 230:
		// permission denied, invalid parameter, expired token, permission
		// sets, messaging policy violations
		return false
	case 613:
		// calls-per-hour ceiling; retry after backoff
		return true
	case 4, 17, 32, 1, 2:
		// application/user throttling, unknown upstream errors
		return true
	}
	return e.Status >= 500 || e.Status == http.StatusTooManyRequests
}

// SendParams describes one private reply DM. CommentID addresses the
// recipient: Meta's private-reply flow targets the comment, not the user id.
type SendParams struct {
	AccessToken string
	CommentID   string
	Kind        string // text, link, image, video, document
	Text        string
	MediaURL    string
}

// SendResult carries the platform message id of a delivered DM.
type SendResult struct {
	MessageID   string `json:"message_id"`
	RecipientID string `json:"recipient_id"`
}

// Client talks to the Graph API. Construct with NewClient.
type Client struct {
	httpClient *http.Client
	apiVersion string
	breaker    *gobreaker.CircuitBreaker[*SendResult]
}

// NewClient builds a Client using the given API version (e.g. "v23.0") and
// send timeout. A nil httpClient gets a default with the timeout applied.
func NewClient(apiVersion string, timeout time.Duration, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}
	st := gobreaker.Settings{
		Name:    "graph-api",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	}
	return &Client{
		httpClient: httpClient,
		apiVersion: apiVersion,
		breaker:    gobreaker.NewCircuitBreaker[*SendResult](st),
	}
}

// hostFor selects the Graph host by token family: Instagram API with
// Instagram Login tokens (IGAA prefix) live on graph.instagram.com,
// everything else on graph.facebook.com.
func hostFor(token string) string {
	if strings.HasPrefix(token, "IGAA") {
		return instagramHost
	}
	return defaultGraphHost
}

// SendMessage delivers a private reply DM for the given comment. Errors from
// the Graph API are returned as *APIError so callers can classify them.
func (c *Client) SendMessage(ctx context.Context, p SendParams) (*SendResult, error) {
	return c.breaker.Execute(func() (*SendResult, error) {
		body := map[string]interface{}{
			"recipient": map[string]string{"comment_id": p.CommentID},
			"message":   messagePayload(p),
		}
		url := fmt.Sprintf("%s/%s/me/messages", hostFor(p.AccessToken), c.apiVersion)
		var out SendResult
		if err := c.postJSON(ctx, url, p.AccessToken, body, &out); err != nil {
			return nil, err
		}
		return &out, nil
	})
}

// PostPublicReply posts a public comment reply under the original comment.
// Best effort for callers: failures here must not affect DM accounting.
func (c *Client) PostPublicReply(ctx context.Context, accessToken, commentID, text string) error {
	body := map[string]interface{}{"message": text}
	url := fmt.Sprintf("%s/%s/%s/replies", hostFor(accessToken), c.apiVersion, commentID)
	return c.postJSON(ctx, url, accessToken, body, nil)
}

func messagePayload(p SendParams) map[string]interface{} {
	switch p.Kind {
	case "image", "video", "document":
		attachType := p.Kind
		if attachType == "document" {
			attachType = "file"
		}
		return map[string]interface{}{
			"attachment": map[string]interface{}{
				"type":    attachType,
				"payload": map[string]string{"url": p.MediaURL},
			},
		}
	default:
		// text and link both go out as plain message text
		return map[string]interface{}{"text": p.Text}
	}
}

func (c *Client) postJSON(ctx context.Context, url, token string, body interface{}, out interface{}) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode >= 400 {
		var wrapper struct {
			Error APIError `json:"error"`
		}
		apiErr := &APIError{Status: resp.StatusCode, Message: strings.TrimSpace(string(data))}
		if json.Unmarshal(data, &wrapper) == nil && wrapper.Error.Message != "" {
			wrapper.Error.Status = resp.StatusCode
			apiErr = &wrapper.Error
		}
		return apiErr
	}
	if out != nil {
		return json.Unmarshal(data, out)
	}
	return nil
}
