package elasticsearch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"

	"github.com/xaviermiles/web-sentiment-analysis/internal/models"
)

// Client wraps go-elasticsearch with helpers for the article index.
type Client struct {
	es    *elasticsearch.Client
	index string
	log   *slog.Logger
}

// SearchParams narrow the search endpoint query.
type SearchParams struct {
	Query   string
	Country string
	Theme   string
	Source  string
	From    int
	Size    int
	Sort    string
	Start   *time.Time
	End     *time.Time
}

// SearchResult bundles hits and total count.
type SearchResult struct {
	Total int64                    `json:"total"`
	Items []models.ArticleDocument `json:"items"`
}

var articleMapping = map[string]any{
	"mappings": map[string]any{
		"properties": map[string]any{
			"feed_id":     map[string]any{"type": "keyword"},
			"gkg_id":      map[string]any{"type": "keyword"},
			"date":        map[string]any{"type": "date"},
			"source":      map[string]any{"type": "integer"},
			"source_name": map[string]any{"type": "keyword"},
			"doc_id":      map[string]any{"type": "keyword"},
			"themes":      map[string]any{"type": "keyword"},
			"countries":   map[string]any{"type": "keyword"},
			"persons":     map[string]any{"type": "text"},
			"orgs":        map[string]any{"type": "text"},
			"locations": map[string]any{
				"properties": map[string]any{
					"type":         map[string]any{"type": "integer"},
					"full_name":    map[string]any{"type": "text"},
					"country_code": map[string]any{"type": "keyword"},
					"adm1_code":    map[string]any{"type": "keyword"},
					"lat":          map[string]any{"type": "double"},
					"long":         map[string]any{"type": "double"},
					"feature_id":   map[string]any{"type": "keyword"},
				},
			},
			"gcam": map[string]any{"type": "object", "dynamic": true},
		},
	},
}

// New instantiates the Elasticsearch client.
func New(addr, index string, logger *slog.Logger) (*Client, error) {
	cfg := elasticsearch.Config{
		Addresses: []string{addr},
	}

	es, err := elasticsearch.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("create elasticsearch client: %w", err)
	}

	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	return &Client{es: es, index: index, log: logger}, nil
}

// Index is the article index name.
func (c *Client) Index() string { return c.index }

// ledgerIndex holds one document per fully written feed.
func (c *Client) ledgerIndex() string { return c.index + "-feeds" }

// Ping checks if Elasticsearch is available.
func (c *Client) Ping(ctx context.Context) error {
	res, err := c.es.Ping(c.es.Ping.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("ping elasticsearch: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return fmt.Errorf("elasticsearch ping failed: %s", res.Status())
	}

	return nil
}

// EnsureIndex creates the article index with its mapping when missing.
func (c *Client) EnsureIndex(ctx context.Context) error {
	res, err := c.es.Indices.Exists([]string{c.index}, c.es.Indices.Exists.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("check index: %w", err)
	}
	res.Body.Close()
	if res.StatusCode == http.StatusOK {
		return nil
	}
	if res.StatusCode != http.StatusNotFound {
		return fmt.Errorf("check index: %s", res.Status())
	}

	payload, err := json.Marshal(articleMapping)
	if err != nil {
		return fmt.Errorf("marshal mapping: %w", err)
	}
	res, err = c.es.Indices.Create(c.index,
		c.es.Indices.Create.WithContext(ctx),
		c.es.Indices.Create.WithBody(bytes.NewReader(payload)),
	)
	if err != nil {
		return fmt.Errorf("create index: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		data, _ := io.ReadAll(res.Body)
		if strings.Contains(string(data), "resource_already_exists_exception") {
			return nil
		}
		return fmt.Errorf("create index failed: %s", strings.TrimSpace(string(data)))
	}
	c.log.Info("created index", slog.String("index", c.index))
	return nil
}

// HasFeed reports whether a feed was recorded in the ledger index.
func (c *Client) HasFeed(ctx context.Context, feedID string) (bool, error) {
	res, err := c.es.Exists(c.ledgerIndex(), feedID, c.es.Exists.WithContext(ctx))
	if err != nil {
		return false, fmt.Errorf("check feed %s: %w", feedID, err)
	}
	defer res.Body.Close()

	switch res.StatusCode {
	case http.StatusOK:
		return true, nil
	case http.StatusNotFound:
		return false, nil
	default:
		return false, fmt.Errorf("check feed %s: %s", feedID, res.Status())
	}
}

// BulkIndex writes docs in one bulk request and waits for them to be
// searchable. Any item failure fails the whole call.
func (c *Client) BulkIndex(ctx context.Context, docs []models.ArticleDocument) error {
	if len(docs) == 0 {
		return nil
	}
	body, err := bulkBody(docs)
	if err != nil {
		return err
	}

	req := esapi.BulkRequest{
		Index:   c.index,
		Body:    bytes.NewReader(body),
		Refresh: "wait_for",
	}
	res, err := req.Do(ctx, c.es)
	if err != nil {
		return fmt.Errorf("bulk index: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		data, _ := io.ReadAll(res.Body)
		return fmt.Errorf("bulk index failed: %s", strings.TrimSpace(string(data)))
	}

	var parsed struct {
		Errors bool `json:"errors"`
		Items  []map[string]struct {
			Status int `json:"status"`
			Error  struct {
				Type   string `json:"type"`
				Reason string `json:"reason"`
			} `json:"error"`
		} `json:"items"`
	}
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return fmt.Errorf("decode bulk response: %w", err)
	}
	if !parsed.Errors {
		return nil
	}
	failed := 0
	first := ""
	for _, item := range parsed.Items {
		for _, r := range item {
			if r.Status >= http.StatusBadRequest {
				failed++
				if first == "" {
					first = r.Error.Type + ": " + r.Error.Reason
				}
			}
		}
	}
	return fmt.Errorf("bulk index: %d of %d documents failed, first: %s", failed, len(docs), first)
}

func bulkBody(docs []models.ArticleDocument) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, doc := range docs {
		meta := map[string]any{"index": map[string]any{"_id": doc.GKGID}}
		if err := enc.Encode(meta); err != nil {
			return nil, fmt.Errorf("marshal bulk meta: %w", err)
		}
		if err := enc.Encode(doc); err != nil {
			return nil, fmt.Errorf("marshal doc %s: %w", doc.GKGID, err)
		}
	}
	return buf.Bytes(), nil
}

// RecordFeed stores the ledger document for a fully written feed.
func (c *Client) RecordFeed(ctx context.Context, feedID string, rows int) error {
	payload, err := json.Marshal(map[string]any{
		"feed_id":     feedID,
		"row_count":   rows,
		"ingested_at": time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return fmt.Errorf("marshal feed record: %w", err)
	}

	req := esapi.IndexRequest{
		Index:      c.ledgerIndex(),
		DocumentID: feedID,
		Body:       bytes.NewReader(payload),
		Refresh:    "wait_for",
	}
	res, err := req.Do(ctx, c.es)
	if err != nil {
		return fmt.Errorf("record feed %s: %w", feedID, err)
	}
	defer res.Body.Close()

	if res.IsError() {
		body, _ := io.ReadAll(res.Body)
		return fmt.Errorf("record feed %s failed: %s", feedID, strings.TrimSpace(string(body)))
	}
	return nil
}

// SearchArticles executes a bool query with optional filters.
func (c *Client) SearchArticles(ctx context.Context, params SearchParams) (*SearchResult, error) {
	payload, err := json.Marshal(searchBody(params))
	if err != nil {
		return nil, fmt.Errorf("marshal search body: %w", err)
	}

	res, err := c.es.Search(
		c.es.Search.WithContext(ctx),
		c.es.Search.WithIndex(c.index),
		c.es.Search.WithBody(bytes.NewReader(payload)),
	)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		data, _ := io.ReadAll(res.Body)
		return nil, fmt.Errorf("search failed: %s", strings.TrimSpace(string(data)))
	}

	var parsed struct {
		Hits struct {
			Total struct {
				Value int64 `json:"value"`
			} `json:"total"`
			Hits []struct {
				Source models.ArticleDocument `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}

	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}

	items := make([]models.ArticleDocument, 0, len(parsed.Hits.Hits))
	for _, hit := range parsed.Hits.Hits {
		items = append(items, hit.Source)
	}

	return &SearchResult{
		Total: parsed.Hits.Total.Value,
		Items: items,
	}, nil
}

func searchBody(params SearchParams) map[string]any {
	if params.Size <= 0 {
		params.Size = 20
	}
	if params.Size > 200 {
		params.Size = 200
	}
	if params.From < 0 {
		params.From = 0
	}

	must := make([]map[string]any, 0, 1)
	filters := make([]map[string]any, 0, 4)

	if params.Query != "" {
		must = append(must, map[string]any{
			"multi_match": map[string]any{
				"query":  params.Query,
				"fields": []string{"persons", "orgs", "locations.full_name"},
			},
		})
	}

	terms := []struct{ field, value string }{
		{"countries", params.Country},
		{"themes", params.Theme},
		{"source_name", params.Source},
	}
	for _, t := range terms {
		if t.value != "" {
			filters = append(filters, map[string]any{
				"term": map[string]any{t.field: t.value},
			})
		}
	}

	if params.Start != nil || params.End != nil {
		rangeQuery := map[string]any{}
		if params.Start != nil {
			rangeQuery["gte"] = params.Start.UTC().Format(time.RFC3339)
		}
		if params.End != nil {
			rangeQuery["lte"] = params.End.UTC().Format(time.RFC3339)
		}
		filters = append(filters, map[string]any{
			"range": map[string]any{
				"date": rangeQuery,
			},
		})
	}

	boolQuery := map[string]any{}
	if len(must) > 0 {
		boolQuery["must"] = must
	}
	if len(filters) > 0 {
		boolQuery["filter"] = filters
	}
	if len(must) == 0 && len(filters) == 0 {
		boolQuery["must"] = []map[string]any{
			{"match_all": map[string]any{}},
		}
	}

	body := map[string]any{
		"from":             params.From,
		"size":             params.Size,
		"track_total_hits": true,
		"query": map[string]any{
			"bool": boolQuery,
		},
	}

	sortField := params.Sort
	if sortField == "" {
		sortField = "date:desc"
	}

	parts := strings.Split(sortField, ":")
	order := "desc"
	field := parts[0]
	if field == "" {
		field = "date"
	}
	if len(parts) > 1 && parts[1] != "" {
		order = parts[1]
	}
	body["sort"] = []map[string]any{
		{field: map[string]any{"order": order}},
	}
	return body
}

// DeleteOlderThan removes articles dated before now-maxAge using batched
// delete-by-query. It loops until a batch deletes fewer than batchSize.
func (c *Client) DeleteOlderThan(ctx context.Context, maxAge time.Duration, batchSize int) (int64, error) {
	if batchSize <= 0 {
		batchSize = 1000
	}

	cutoff := time.Now().Add(-maxAge).UTC().Format(time.RFC3339)
	totalDeleted := int64(0)

	for {
		body := map[string]any{
			"query": map[string]any{
				"range": map[string]any{
					"date": map[string]any{
						"lte": cutoff,
					},
				},
			},
			"max_docs": batchSize,
		}

		payload, err := json.Marshal(body)
		if err != nil {
			return totalDeleted, fmt.Errorf("marshal delete body: %w", err)
		}

		res, err := c.es.DeleteByQuery(
			[]string{c.index},
			bytes.NewReader(payload),
			c.es.DeleteByQuery.WithContext(ctx),
			c.es.DeleteByQuery.WithWaitForCompletion(true),
			c.es.DeleteByQuery.WithConflicts("proceed"),
			c.es.DeleteByQuery.WithScrollSize(batchSize),
		)
		if err != nil {
			return totalDeleted, fmt.Errorf("delete by query: %w", err)
		}

		if res.IsError() {
			data, _ := io.ReadAll(res.Body)
			res.Body.Close()
			return totalDeleted, fmt.Errorf("delete by query failed: %s", strings.TrimSpace(string(data)))
		}

		var parsed struct {
			Deleted int64 `json:"deleted"`
		}
		if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
			res.Body.Close()
			return totalDeleted, fmt.Errorf("decode delete response: %w", err)
		}
		res.Body.Close()

		totalDeleted += parsed.Deleted

		if parsed.Deleted < int64(batchSize) {
			break
		}
	}

	return totalDeleted, nil
}

// Health checks cluster health.
func (c *Client) Health(ctx context.Context) error {
	res, err := c.es.Cluster.Health(c.es.Cluster.Health.WithContext(ctx))
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode >= http.StatusBadRequest {
		data, _ := io.ReadAll(res.Body)
		return fmt.Errorf("cluster health bad: %s", strings.TrimSpace(string(data)))
	}
	return nil
}
