package tracing

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/semyenov/graphql-microservices-sub001/config"
)

// Without a license key the tracer must still be safe to call
func TestNewTracerWithoutLicenseKey(t *testing.T) {
	tracer, err := NewTracer(config.TracingConfig{})
	require.NoError(t, err)
	require.NotNil(t, tracer)

	txn := tracer.StartTransaction("test")
	require.Nil(t, txn)

	tracer.AddAttribute(txn, "key", "value")
	tracer.RecordError(txn, errors.New("test error"))
	tracer.EndTransaction(txn)
}

// The no-op fallback handles every method on a nil transaction, so
// middleware wired with it never panics
func TestNoopTracer(t *testing.T) {
	tracer := NewNoopTracer()
	require.NotNil(t, tracer)

	txn := tracer.StartTransaction("request")
	require.Nil(t, txn)

	tracer.AddAttribute(txn, "http.path", "/health")
	tracer.RecordError(txn, errors.New("boom"))
	tracer.RecordError(txn, nil)
	tracer.EndTransaction(txn)
}
