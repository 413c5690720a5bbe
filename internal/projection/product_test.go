package projection

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/semyenov/graphql-microservices-sub001/internal/domain"
	"github.com/semyenov/graphql-microservices-sub001/internal/models"
)

// stubIndexer records indexed documents
type stubIndexer struct {
	docs map[string]interface{}
}

func (s *stubIndexer) IndexDocument(ctx context.Context, index, documentID string, doc interface{}) error {
	if s.docs == nil {
		s.docs = make(map[string]interface{})
	}
	s.docs[index+"/"+documentID] = doc
	return nil
}

func TestProductProjectionBuildsRecordAndIndex(t *testing.T) {
	db := newTestDB(t)
	indexer := &stubIndexer{}
	proj := NewProductProjection(db, indexer)
	ctx := context.Background()

	events := []domain.Event{
		{ID: uuid.New().String(), AggregateID: "prod-1", Type: domain.ProductCreated, Data: []byte(`{"sku":"SKU-1","name":"Widget","price":9.99,"stock":5}`), Version: 1},
		{ID: uuid.New().String(), AggregateID: "prod-1", Type: domain.ProductPriceChanged, Data: []byte(`{"old_price":9.99,"new_price":12.5}`), Version: 2},
		{ID: uuid.New().String(), AggregateID: "prod-1", Type: domain.ProductStockAdjusted, Data: []byte(`{"delta":-2,"new_stock":3}`), Version: 3},
	}
	require.NoError(t, proj.Handle(ctx, events))

	var record models.ProductRecord
	require.NoError(t, db.Where("product_id = ?", "prod-1").First(&record).Error)
	require.Equal(t, 12.5, record.Price)
	require.Equal(t, 3, record.Stock)
	require.Equal(t, 3, record.Version)

	// Each applied event refreshed the search document
	doc, ok := indexer.docs[ProductsIndex+"/prod-1"].(map[string]interface{})
	require.True(t, ok)
	require.Equal(t, 12.5, doc["price"])
	require.Equal(t, 3, doc["stock"])
}

// A nil indexer disables search mirroring without breaking the read model
func TestProductProjectionWithoutIndexer(t *testing.T) {
	db := newTestDB(t)
	proj := NewProductProjection(db, nil)
	ctx := context.Background()

	event := domain.Event{
		ID:          uuid.New().String(),
		AggregateID: "prod-1",
		Type:        domain.ProductCreated,
		Data:        []byte(`{"sku":"SKU-1","name":"Widget","price":9.99,"stock":5}`),
		Version:     1,
	}
	require.NoError(t, proj.Handle(ctx, []domain.Event{event}))

	var record models.ProductRecord
	require.NoError(t, db.Where("product_id = ?", "prod-1").First(&record).Error)
	require.False(t, record.Discontinued)
}
