package otelhelper

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// ErrorCauseKey classifies a span failure as canceled, timeout or error.
const ErrorCauseKey = "flowpilot.error.cause"

// SetError marks span failed for a workflow, step, agent or worker operation. The
// "error_occurred" event carries attrs together with the cause, so shutdowns and deadline
// expiries can be told apart from real step or persistence failures.
func SetError(span trace.Span, err error, attrs ...attribute.KeyValue) {
	cause := errorCause(err)

	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	span.SetAttributes(attribute.String(ErrorCauseKey, cause))
	span.AddEvent("error_occurred", trace.WithAttributes(
		append(attrs, attribute.String(ErrorCauseKey, cause))...,
	))
}

func errorCause(err error) string {
	switch {
	case errors.Is(err, context.Canceled):
		return "canceled"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		return "error"
	}
}
