package tracing

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.opentelemetry.io/otel/attribute"
)

func TestStartSpanWithoutProvider(t *testing.T) {
	ctx, span := StartSpan(context.Background(), "test.span", attribute.String("k", "v"))
	assert.NotNil(t, ctx)

	// The no-op provider yields no valid trace id.
	assert.Empty(t, TraceID(ctx))

	End(span, errors.New("boom"))
	End(span, nil)
}

func TestStartSpanNilContext(t *testing.T) {
	//nolint:staticcheck
	ctx, span := StartSpan(nil, "test.nil")
	defer End(span, nil)

	assert.NotNil(t, ctx)
}
