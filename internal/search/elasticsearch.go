package search

import (
	"bytes"
	"context"
	"encoding/json"

	"github.com/elastic/go-elasticsearch/v7"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/semyenov/graphql-microservices-sub001/config"
)

// ElasticClient provides integration with Elasticsearch
type ElasticClient struct {
	client *elasticsearch.Client
	config config.ElasticConfig
}

// NewElasticClient creates a new Elasticsearch client
func NewElasticClient(cfg config.ElasticConfig) (*ElasticClient, error) {
	if !cfg.Enabled {
		return nil, errors.New("elasticsearch is disabled")
	}

	esConfig := elasticsearch.Config{
		Addresses: []string{cfg.URL},
		Username:  cfg.Username,
		Password:  cfg.Password,
	}

	client, err := elasticsearch.NewClient(esConfig)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create Elasticsearch client")
	}

	return &ElasticClient{
		client: client,
		config: cfg,
	}, nil
}

// IndexDocument indexes a document by id into a prefixed index
func (c *ElasticClient) IndexDocument(ctx context.Context, index, documentID string, doc interface{}) error {
	body, err := json.Marshal(doc)
	if err != nil {
		return errors.Wrap(err, "failed to marshal document")
	}

	fullIndex := config.FormatIndex(c.config, index)
	res, err := c.client.Index(
		fullIndex,
		bytes.NewReader(body),
		c.client.Index.WithDocumentID(documentID),
		c.client.Index.WithContext(ctx),
	)
	if err != nil {
		return errors.Wrap(err, "failed to index document")
	}
	defer res.Body.Close()

	if res.IsError() {
		return errors.Errorf("failed to index document in %s: %s", fullIndex, res.String())
	}

	log.Debug().Str("index", fullIndex).Str("document_id", documentID).Msg("Document indexed")
	return nil
}

// DeleteDocument removes a document by id from a prefixed index.
// A missing document is not an error.
func (c *ElasticClient) DeleteDocument(ctx context.Context, index, documentID string) error {
	fullIndex := config.FormatIndex(c.config, index)
	res, err := c.client.Delete(
		fullIndex,
		documentID,
		c.client.Delete.WithContext(ctx),
	)
	if err != nil {
		return errors.Wrap(err, "failed to delete document")
	}
	defer res.Body.Close()

	if res.IsError() && res.StatusCode != 404 {
		return errors.Errorf("failed to delete document from %s: %s", fullIndex, res.String())
	}

	return nil
}
