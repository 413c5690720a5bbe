package handlers

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"
	"gorm.io/gorm"

	"github.com/semyenov/graphql-microservices-sub001/internal/bus"
	"github.com/semyenov/graphql-microservices-sub001/internal/domain"
	"github.com/semyenov/graphql-microservices-sub001/internal/models"
)

// Query types
const (
	GetUserQuery              = "GetUser"
	GetProductQuery           = "GetProduct"
	GetOrderQuery             = "GetOrder"
	ListOrdersByCustomerQuery = "ListOrdersByCustomer"
)

// GetUser fetches one user by ID
type GetUser struct {
	UserID string `json:"user_id"`
}

func (GetUser) QueryType() string  { return GetUserQuery }
func (q GetUser) CacheKey() string { return q.UserID }

func (q GetUser) Validate() error {
	if q.UserID == "" {
		return domain.NewValidationError("user_id", "must not be empty")
	}
	return nil
}

// GetProduct fetches one product by ID
type GetProduct struct {
	ProductID string `json:"product_id"`
}

func (GetProduct) QueryType() string  { return GetProductQuery }
func (q GetProduct) CacheKey() string { return q.ProductID }

func (q GetProduct) Validate() error {
	if q.ProductID == "" {
		return domain.NewValidationError("product_id", "must not be empty")
	}
	return nil
}

// GetOrder fetches one order by ID
type GetOrder struct {
	OrderID string `json:"order_id"`
}

func (GetOrder) QueryType() string  { return GetOrderQuery }
func (q GetOrder) CacheKey() string { return q.OrderID }

func (q GetOrder) Validate() error {
	if q.OrderID == "" {
		return domain.NewValidationError("order_id", "must not be empty")
	}
	return nil
}

// ListOrdersByCustomer fetches a customer's orders, newest first.
// Not cached: the result set changes with every order event.
type ListOrdersByCustomer struct {
	CustomerID string `json:"customer_id"`
	Limit      int    `json:"limit"`
}

func (ListOrdersByCustomer) QueryType() string { return ListOrdersByCustomerQuery }
func (ListOrdersByCustomer) CacheKey() string  { return "" }

func (q ListOrdersByCustomer) Validate() error {
	if q.CustomerID == "" {
		return domain.NewValidationError("customer_id", "must not be empty")
	}
	return nil
}

// OrderView is the order read model shape returned to callers
type OrderView struct {
	OrderID    string             `json:"order_id"`
	CustomerID string             `json:"customer_id"`
	Status     string             `json:"status"`
	Total      float64            `json:"total"`
	Items      []domain.OrderItem `json:"items"`
	Version    int                `json:"version"`
}

// QueryHandlers serves queries from the projected read models
type QueryHandlers struct {
	db *gorm.DB
}

// NewQueryHandlers creates query handlers backed by the read model database
func NewQueryHandlers(db *gorm.DB) *QueryHandlers {
	return &QueryHandlers{db: db}
}

// HandleGetUser handles GetUser
func (h *QueryHandlers) HandleGetUser(ctx context.Context, query bus.Query) (interface{}, error) {
	q := query.(GetUser)

	var record models.UserRecord
	err := h.db.WithContext(ctx).Where("user_id = ?", q.UserID).First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, errors.Wrap(err, "failed to read user")
	}

	return &record, nil
}

// HandleGetProduct handles GetProduct
func (h *QueryHandlers) HandleGetProduct(ctx context.Context, query bus.Query) (interface{}, error) {
	q := query.(GetProduct)

	var record models.ProductRecord
	err := h.db.WithContext(ctx).Where("product_id = ?", q.ProductID).First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, errors.Wrap(err, "failed to read product")
	}

	return &record, nil
}

// HandleGetOrder handles GetOrder
func (h *QueryHandlers) HandleGetOrder(ctx context.Context, query bus.Query) (interface{}, error) {
	q := query.(GetOrder)

	var record models.OrderRecord
	err := h.db.WithContext(ctx).Where("order_id = ?", q.OrderID).First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, errors.Wrap(err, "failed to read order")
	}

	return toOrderView(&record)
}

// HandleListOrdersByCustomer handles ListOrdersByCustomer
func (h *QueryHandlers) HandleListOrdersByCustomer(ctx context.Context, query bus.Query) (interface{}, error) {
	q := query.(ListOrdersByCustomer)

	limit := q.Limit
	if limit <= 0 || limit > 100 {
		limit = 50
	}

	var records []models.OrderRecord
	err := h.db.WithContext(ctx).
		Where("customer_id = ?", q.CustomerID).
		Order("created_at DESC").
		Limit(limit).
		Find(&records).Error
	if err != nil {
		return nil, errors.Wrap(err, "failed to list orders")
	}

	views := make([]*OrderView, 0, len(records))
	for i := range records {
		view, err := toOrderView(&records[i])
		if err != nil {
			return nil, err
		}
		views = append(views, view)
	}

	return views, nil
}

func toOrderView(record *models.OrderRecord) (*OrderView, error) {
	view := &OrderView{
		OrderID:    record.OrderID,
		CustomerID: record.CustomerID,
		Status:     record.Status,
		Total:      record.Total,
		Version:    record.Version,
	}

	if len(record.Items) > 0 {
		if err := json.Unmarshal(record.Items, &view.Items); err != nil {
			return nil, errors.Wrap(err, "failed to unmarshal order items")
		}
	}

	return view, nil
}
