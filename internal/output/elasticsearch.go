package output

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync/atomic"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
	"github.com/valyala/fastjson"

	"github.com/therealutkarshpriyadarshi/logbridge/internal/config"
	"github.com/therealutkarshpriyadarshi/logbridge/pkg/types"
)

// ElasticsearchOutput indexes each record as one document
type ElasticsearchOutput struct {
	config config.ElasticsearchOutputConfig
	client *elasticsearch.Client
	parser fastjson.ParserPool
	stats  stats
	closed atomic.Bool
}

// NewElasticsearchOutput creates a new Elasticsearch output
func NewElasticsearchOutput(cfg config.ElasticsearchOutputConfig) (*ElasticsearchOutput, error) {
	if len(cfg.Addresses) == 0 && cfg.CloudID == "" {
		return nil, fmt.Errorf("no addresses or cloud ID specified")
	}

	client, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: cfg.Addresses,
		CloudID:   cfg.CloudID,
		Username:  cfg.Username,
		Password:  cfg.Password,
		APIKey:    cfg.APIKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Elasticsearch client: %w", err)
	}

	return &ElasticsearchOutput{
		config: cfg,
		client: client,
	}, nil
}

// IndexName derives a valid index name from a stream name
func IndexName(stream string) string {
	return strings.NewReplacer(":", "-", " ", "-", "/", "-", "\\", "-", "*", "-", "?", "-",
		"\"", "-", "<", "-", ">", "-", "|", "-", ",", "-", "#", "-").Replace(strings.ToLower(stream))
}

// Append indexes fields and returns the document id
func (e *ElasticsearchOutput) Append(ctx context.Context, stream string, fields types.FlatRecord) (string, error) {
	if e.closed.Load() {
		return "", ErrClosed
	}
	if len(fields) == 0 {
		return "", ErrEmptyRecord
	}

	doc, err := json.Marshal(fields.Map())
	if err != nil {
		e.stats.failure(err)
		return "", fmt.Errorf("failed to marshal record: %w", err)
	}

	index := e.config.Index
	if index == "" {
		index = IndexName(stream)
	}

	req := esapi.IndexRequest{
		Index:   index,
		Body:    bytes.NewReader(doc),
		Refresh: "false",
	}
	if e.config.Pipeline != "" {
		req.Pipeline = e.config.Pipeline
	}

	startTime := time.Now()
	res, err := req.Do(ctx, e.client)
	if err != nil {
		e.stats.failure(err)
		return "", fmt.Errorf("failed to index document: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		err := fmt.Errorf("elasticsearch returned error: %s", res.Status())
		e.stats.failure(err)
		return "", err
	}

	body, err := io.ReadAll(res.Body)
	if err != nil {
		e.stats.failure(err)
		return "", fmt.Errorf("failed to read index response: %w", err)
	}

	p := e.parser.Get()
	defer e.parser.Put(p)

	v, err := p.ParseBytes(body)
	if err != nil {
		e.stats.failure(err)
		return "", fmt.Errorf("failed to parse index response: %w", err)
	}

	e.stats.success(len(doc), time.Since(startTime))
	return string(v.GetStringBytes("_id")), nil
}

// Ping checks the cluster is reachable
func (e *ElasticsearchOutput) Ping(ctx context.Context) error {
	if e.closed.Load() {
		return ErrClosed
	}

	res, err := e.client.Ping(e.client.Ping.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("failed to ping Elasticsearch: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return fmt.Errorf("elasticsearch returned error: %s", res.Status())
	}
	return nil
}

// Close marks the output closed. The HTTP client holds no resources that
// need explicit release.
func (e *ElasticsearchOutput) Close() error {
	e.closed.Store(true)
	return nil
}

// Name returns the output name
func (e *ElasticsearchOutput) Name() string {
	return "elasticsearch"
}

// Metrics returns the current metrics
func (e *ElasticsearchOutput) Metrics() *OutputMetrics {
	return e.stats.snapshot()
}
