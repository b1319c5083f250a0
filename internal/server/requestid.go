package server

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const requestIDHeader = "X-Request-ID"

// IDProvider issues identifiers for request correlation.
type IDProvider interface {
	NewID() (string, error)
}

type uuidProvider struct{}

// NewUUIDProvider constructs an IDProvider that issues UUIDv7 identifiers.
func NewUUIDProvider() IDProvider {
	return &uuidProvider{}
}

func (p *uuidProvider) NewID() (string, error) {
	value, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return value.String(), nil
}

// requestIDMiddleware honors an inbound request id and generates one
// otherwise, echoing it on the response for log correlation.
func requestIDMiddleware(provider IDProvider) gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader(requestIDHeader)
		if requestID == "" && provider != nil {
			if generated, err := provider.NewID(); err == nil {
				requestID = generated
			}
		}
		if requestID != "" {
			c.Header(requestIDHeader, requestID)
			c.Set(requestIDContextKey, requestID)
		}
		c.Next()
	}
}
