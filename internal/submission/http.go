// Package submission delivers a completed enrollment to its backend.
package submission

import (
	"context"
	"net/http"

	apperrors "sgpa-enrollment/internal/common/errors"
	commonhttp "sgpa-enrollment/internal/common/http"
	"sgpa-enrollment/internal/enrollment"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// HTTPSubmitter POSTs the FieldSet as JSON. Any 2xx is acceptance.
type HTTPSubmitter struct {
	client *commonhttp.Client
	url    string
	tracer trace.Tracer
}

func NewHTTPSubmitter(client *commonhttp.Client, url string) *HTTPSubmitter {
	return &HTTPSubmitter{
		client: client,
		url:    url,
		tracer: otel.Tracer("sgpa-enrollment/submission"),
	}
}

func (s *HTTPSubmitter) Submit(ctx context.Context, fields enrollment.FieldSet) error {
	ctx, span := s.tracer.Start(ctx, "POST submit-pa",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.request.method", http.MethodPost),
			attribute.String("url.full", s.url),
		))
	defer span.End()

	status, err := s.client.PostJSON(ctx, s.url, fields)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "transport failure")
		return apperrors.NewSubmissionTransportFailedError(err)
	}

	span.SetAttributes(attribute.Int("http.response.status_code", status))
	if status < 200 || status > 299 {
		span.SetStatus(codes.Error, http.StatusText(status))
		return apperrors.NewSubmissionRejectedError(status)
	}
	return nil
}
