package service

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/rl1809/pharmacy/internal/core/domain"
)

var tracer = otel.Tracer("github.com/rl1809/pharmacy/internal/core/service")

func startSpan(ctx context.Context, name string, caller domain.Principal, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	attrs = append(attrs,
		attribute.String("caller.id", caller.UserID),
		attribute.String("caller.role", string(caller.Role)),
	)
	return tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, domain.MessageOf(err))
		span.SetAttributes(attribute.String("error.kind", string(domain.KindOf(err))))
	}
	span.End()
}
