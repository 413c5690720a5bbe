package api

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/semyenov/graphql-microservices-sub001/internal/tracing"
)

// requestLogger logs each request with zerolog
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		log.Debug().
			Str("method", c.Request.Method).
			Str("path", path).
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Msg("HTTP request")
	}
}

// requestTracing wraps each request in a tracer transaction
func requestTracing(tracer tracing.Tracer) gin.HandlerFunc {
	return func(c *gin.Context) {
		txn := tracer.StartTransaction(c.Request.Method + " " + c.FullPath())
		defer tracer.EndTransaction(txn)

		tracer.AddAttribute(txn, "http.path", c.Request.URL.Path)
		c.Next()

		if len(c.Errors) > 0 {
			tracer.RecordError(txn, c.Errors.Last())
		}
	}
}
