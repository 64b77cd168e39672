package raindrop

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/thomaskoefod/trendframe/pkg/models"
)

const raindropAPIURL = "https://api.raindrop.io/rest/v1"

type Client struct {
	apiToken string
	baseURL  string
	client   *http.Client
}

type RaindropItem struct {
	Link    string   `json:"link"`
	Title   string   `json:"title"`
	Excerpt string   `json:"excerpt,omitempty"`
	Tags    []string `json:"tags,omitempty"`
}

type RaindropResponse struct {
	Result       bool          `json:"result"`
	Item         *RaindropItem `json:"item,omitempty"`
	ErrorMessage string        `json:"errorMessage,omitempty"`
}

func NewClient(apiToken string) *Client {
	return NewClientWithBaseURL(apiToken, raindropAPIURL)
}

// NewClientWithBaseURL points the client at another API root, for tests.
func NewClientWithBaseURL(apiToken, baseURL string) *Client {
	return &Client{
		apiToken: apiToken,
		baseURL:  strings.TrimRight(baseURL, "/"),
		client:   &http.Client{},
	}
}

// Enabled reports whether a token is configured
func (c *Client) Enabled() bool {
	return c != nil && c.apiToken != ""
}

// SaveItem bookmarks an item on Raindrop.io, tagged with its category.
// The translated title is preferred when there is one.
func (c *Client) SaveItem(ctx context.Context, item *models.Candidate) error {
	title := item.Title
	if item.TranslatedTitle != nil && *item.TranslatedTitle != "" {
		title = *item.TranslatedTitle
	}
	rd := RaindropItem{
		Link:    item.URL,
		Title:   title,
		Excerpt: item.Summary,
	}
	if item.Category != "" {
		rd.Tags = []string{item.Category}
	}

	jsonData, err := json.Marshal(rd)
	if err != nil {
		return fmt.Errorf("marshaling item: %w", err)
	}

	url := fmt.Sprintf("%s/raindrop", c.baseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", c.apiToken))

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("sending request to Raindrop: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("Raindrop API error (status %d): %s", resp.StatusCode, string(body))
	}

	var result RaindropResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}

	if !result.Result {
		if result.ErrorMessage != "" {
			return fmt.Errorf("Raindrop API returned failure: %s", result.ErrorMessage)
		}
		return errors.New("Raindrop API returned failure")
	}

	return nil
}

// TestConnection checks the API token with a cheap authenticated request
func (c *Client) TestConnection(ctx context.Context) error {
	url := fmt.Sprintf("%s/user", c.baseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", c.apiToken))

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("sending request to Raindrop: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("Raindrop API error (status %d): %s", resp.StatusCode, string(body))
	}

	return nil
}
