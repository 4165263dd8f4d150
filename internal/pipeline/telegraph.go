package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	telegraphMaxTitle   = 256
	telegraphMaxContent = 60 << 10
)

// TelegraphPublisher publishes documents as telegra.ph pages.
type TelegraphPublisher struct {
	baseURL     string
	accessToken string
	authorName  string
	httpClient  *http.Client
}

func NewTelegraphPublisher(baseURL, accessToken string, timeout time.Duration) *TelegraphPublisher {
	if baseURL == "" {
		baseURL = "https://api.telegra.ph"
	}
	return &TelegraphPublisher{
		baseURL:     strings.TrimRight(baseURL, "/"),
		accessToken: accessToken,
		authorName:  "feeddigest",
		httpClient:  &http.Client{Timeout: timeout},
	}
}

// Node is a telegra.ph DOM node.
type Node struct {
	Tag      string `json:"tag"`
	Children []any  `json:"children,omitempty"`
}

type createPageRequest struct {
	AccessToken string `json:"access_token"`
	Title       string `json:"title"`
	AuthorName  string `json:"author_name,omitempty"`
	Content     []Node `json:"content"`
}

type createPageResponse struct {
	OK     bool   `json:"ok"`
	Error  string `json:"error"`
	Result struct {
		URL string `json:"url"`
	} `json:"result"`
}

// Publish creates a page whose paragraphs are the blank-line separated
// blocks of body. Content beyond the page size limit is dropped.
func (p *TelegraphPublisher) Publish(ctx context.Context, title, body string) (string, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		title = "Untitled"
	}
	title = truncateUTF8(title, telegraphMaxTitle)

	reqBody, err := json.Marshal(createPageRequest{
		AccessToken: p.accessToken,
		Title:       title,
		AuthorName:  p.authorName,
		Content:     Paragraphs(body, telegraphMaxContent),
	})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/createPage", bytes.NewReader(reqBody))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected telegraph status %d", resp.StatusCode)
	}
	var parsed createPageResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if !parsed.OK || parsed.Result.URL == "" {
		return "", fmt.Errorf("telegraph createPage: %s", parsed.Error)
	}
	return parsed.Result.URL, nil
}

// Paragraphs splits body into <p> nodes, keeping the encoded text under
// limit bytes.
func Paragraphs(body string, limit int) []Node {
	blocks := strings.Split(strings.ReplaceAll(body, "\r\n", "\n"), "\n\n")
	nodes := make([]Node, 0, len(blocks))
	size := 0
	for _, block := range blocks {
		block = strings.TrimSpace(block)
		if block == "" {
			continue
		}
		if size+len(block) > limit {
			if rest := limit - size; rest > 0 {
				nodes = append(nodes, Node{Tag: "p", Children: []any{truncateUTF8(block, rest) + "…"}})
			}
			break
		}
		size += len(block)
		nodes = append(nodes, Node{Tag: "p", Children: []any{block}})
	}
	if len(nodes) == 0 {
		nodes = append(nodes, Node{Tag: "p", Children: []any{"(empty)"}})
	}
	return nodes
}

// compile-time check that TelegraphPublisher implements Publisher
var _ Publisher = (*TelegraphPublisher)(nil)
