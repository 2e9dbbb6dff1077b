package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"
)

const (
	defaultAPIURL      = "https://api.voyageai.com/v1/embeddings"
	defaultModel       = "voyage-3-lite"
	defaultBatchSize   = 128
	defaultHTTPTimeout = 30 * time.Second

	// Dimensions of defaultModel; matches the videos.embedding column.
	Dimensions = 512
)

// Input types understood by the API.
const (
	InputDocument = "document"
	InputQuery    = "query"
)

// Client is a lightweight VoyageAI embeddings HTTP client.
type Client struct {
	apiKey     string
	model      string
	url        string
	httpClient *http.Client
}

// NewClient creates a VoyageAI embedding client.
// If model is empty, it defaults to "voyage-3-lite".
func NewClient(apiKey, model string) *Client {
	if model == "" {
		model = defaultModel
	}
	return &Client{
		apiKey: apiKey,
		model:  model,
		url:    defaultAPIURL,
		httpClient: &http.Client{
			Timeout: defaultHTTPTimeout,
		},
	}
}

// WithURL points the client at another endpoint (a proxy, or a test server).
func (c *Client) WithURL(url string) *Client {
	c.url = url
	return c
}

type embeddingRequest struct {
	Input     []string `json:"input"`
	Model     string   `json:"model"`
	InputType string   `json:"input_type"`
}

type embeddingResponse struct {
	Data  []embeddingData `json:"data"`
	Usage struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
}

type embeddingData struct {
	Embedding []float32 `json:"embedding"`
	Index     int       `json:"index"`
}

type voyageErrorResponse struct {
	Detail string `json:"detail"`
}

// Embed embeds texts in a single request. Rate limiting (429) and 5xx responses are retried
// with exponential backoff; other failures are returned at once.
func (c *Client) Embed(ctx context.Context, texts []string, inputType string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	bodyBytes, err := json.Marshal(embeddingRequest{Input: texts, Model: c.model, InputType: inputType})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	operation := func() (*embeddingResponse, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(bodyBytes))
		if err != nil {
			return nil, backoff.Permanent(fmt.Errorf("new request: %w", err))
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+c.apiKey)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("http do: %w", err)
		}
		defer resp.Body.Close()

		respBody, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("read response: %w", err)
		}

		if resp.StatusCode != http.StatusOK {
			var voyageErr voyageErrorResponse
			_ = json.Unmarshal(respBody, &voyageErr)
			err := fmt.Errorf("voyage API %d: %s", resp.StatusCode, voyageErr.Detail)
			if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
				return nil, err
			}
			return nil, backoff.Permanent(err)
		}

		var embResp embeddingResponse
		if err := json.Unmarshal(respBody, &embResp); err != nil {
			return nil, backoff.Permanent(fmt.Errorf("unmarshal response: %w", err))
		}
		return &embResp, nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 1 * time.Second
	bo.MaxInterval = 10 * time.Second
	embResp, err := backoff.Retry(ctx, operation, backoff.WithBackOff(bo), backoff.WithMaxTries(3))
	if err != nil {
		return nil, err
	}

	// The API returns embeddings indexed; restore input order.
	embeddings := make([][]float32, len(texts))
	for _, d := range embResp.Data {
		if d.Index >= 0 && d.Index < len(embeddings) {
			embeddings[d.Index] = d.Embedding
		}
	}
	for i, e := range embeddings {
		if e == nil {
			return nil, fmt.Errorf("voyage API: missing embedding for input %d", i)
		}
	}
	return embeddings, nil
}

// EmbedBatch splits texts into batches of batchSize and calls Embed for each batch.
// Results are returned in the same order as the input texts.
func (c *Client) EmbedBatch(ctx context.Context, texts []string, inputType string, batchSize int) ([][]float32, error) {
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	all := make([][]float32, 0, len(texts))
	for i := 0; i < len(texts); i += batchSize {
		end := min(i+batchSize, len(texts))
		batch, err := c.Embed(ctx, texts[i:end], inputType)
		if err != nil {
			return nil, fmt.Errorf("embed batch [%d:%d]: %w", i, end, err)
		}
		all = append(all, batch...)
	}
	return all, nil
}
