package market

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// DefaultFearGreedURL is the public alternative.me endpoint.
const DefaultFearGreedURL = "https://api.alternative.me/fng/"

// FearGreedIndex is one reading of the crypto fear & greed index.
type FearGreedIndex struct {
	Value          int       `json:"value"`
	Classification string    `json:"classification"`
	Timestamp      time.Time `json:"timestamp"`
}

// FearGreedClient fetches the fear & greed index. The endpoint returns
// numeric fields as strings, so decoding goes through an intermediate
// shape.
type FearGreedClient struct {
	baseURL string
	http    *http.Client
}

// NewFearGreedClient returns a client for the given endpoint. An empty
// baseURL selects the public alternative.me API.
func NewFearGreedClient(baseURL string) *FearGreedClient {
	if baseURL == "" {
		baseURL = DefaultFearGreedURL
	}
	return &FearGreedClient{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

type fngResponse struct {
	Name string `json:"name"`
	Data []struct {
		Value          string `json:"value"`
		Classification string `json:"value_classification"`
		Timestamp      string `json:"timestamp"`
	} `json:"data"`
	Metadata struct {
		Error *string `json:"error"`
	} `json:"metadata"`
}

// Index returns the latest fear & greed reading.
func (c *FearGreedClient) Index(ctx context.Context) (FearGreedIndex, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?limit=1", nil)
	if err != nil {
		return FearGreedIndex{}, fmt.Errorf("fear greed request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return FearGreedIndex{}, fmt.Errorf("fear greed fetch: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return FearGreedIndex{}, fmt.Errorf("fear greed fetch: unexpected status %d", resp.StatusCode)
	}

	var body fngResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return FearGreedIndex{}, fmt.Errorf("fear greed decode: %w", err)
	}
	if body.Metadata.Error != nil {
		return FearGreedIndex{}, fmt.Errorf("fear greed api: %s", *body.Metadata.Error)
	}
	if len(body.Data) == 0 {
		return FearGreedIndex{}, fmt.Errorf("fear greed api: empty data")
	}

	raw := body.Data[0]
	value, err := strconv.Atoi(raw.Value)
	if err != nil {
		return FearGreedIndex{}, fmt.Errorf("fear greed value %q: %w", raw.Value, err)
	}
	if value < 0 || value > 100 {
		return FearGreedIndex{}, fmt.Errorf("fear greed value %d out of range", value)
	}

	idx := FearGreedIndex{Value: value, Classification: raw.Classification}
	if ts, err := strconv.ParseInt(raw.Timestamp, 10, 64); err == nil {
		idx.Timestamp = time.Unix(ts, 0).UTC()
	}
	return idx, nil
}

// FearGreedSentiment adapts the index client to the SentimentProvider
// contract. Social fields stay neutral; only the index is populated.
type FearGreedSentiment struct {
	client *FearGreedClient
}

// NewFearGreedSentiment wraps an index client as a sentiment provider.
func NewFearGreedSentiment(client *FearGreedClient) *FearGreedSentiment {
	return &FearGreedSentiment{client: client}
}

// Sentiment fetches the latest index reading. The symbol is ignored:
// the index is market-wide.
func (p *FearGreedSentiment) Sentiment(ctx context.Context, _ string) (*SentimentData, error) {
	idx, err := p.client.Index(ctx)
	if err != nil {
		return nil, err
	}
	return &SentimentData{FearGreed: idx.Value}, nil
}
