package llmclient

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelmetric "go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

var (
	instrumentsOnce sync.Once
	requestCounter  otelmetric.Int64Counter
	tokenCounter    otelmetric.Int64Counter
)

func ensureInstruments() {
	instrumentsOnce.Do(func() {
		m := otel.Meter("internal/llmclient")
		requestCounter, _ = m.Int64Counter("llmclient.requests", otelmetric.WithDescription("Provider requests by model and outcome"))
		tokenCounter, _ = m.Int64Counter("llmclient.tokens", otelmetric.WithDescription("Tokens consumed by model"))
	})
}

// recordRequest updates the request/token counters after a provider call.
func recordRequest(ctx context.Context, model string, kind Kind, tokens int) {
	ensureInstruments()
	outcome := "ok"
	if kind != "" {
		outcome = string(kind)
	}
	if requestCounter != nil {
		requestCounter.Add(ctx, 1, otelmetric.WithAttributes(
			attribute.String("llmclient.model", model),
			attribute.String("llmclient.outcome", outcome),
		))
	}
	if tokenCounter != nil && tokens > 0 {
		tokenCounter.Add(ctx, int64(tokens), otelmetric.WithAttributes(attribute.String("llmclient.model", model)))
	}
}

// startSpan mirrors the teacher's internal/llm.StartRequestSpan shape,
// scoped to this package's tracer name.
func startSpan(ctx context.Context, operation, model string, historyLen int) (context.Context, trace.Span) {
	ctx, span := otel.Tracer("internal/llmclient").Start(ctx, operation)
	span.SetAttributes(attribute.String("llmclient.model", model), attribute.Int("llmclient.history", historyLen))
	return ctx, span
}
