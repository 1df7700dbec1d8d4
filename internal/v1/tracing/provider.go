// Package tracing wires the OpenTelemetry tracer provider that
// internal/v1/httpapi's otelgin middleware and the registry's sweep spans
// feed into. Spans started through SpanWithRoomCode carry the room code so
// a trace can be correlated back to a single watch-together session;
// otelgin's request spans do not carry it.
package tracing

import (
	"context"
	"crypto/tls"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
)

// RoomCodeKey is the span attribute key carrying a watch-together room
// code, so traces from distinct rooms never collapse into one another in
// a collector's UI.
const RoomCodeKey = attribute.Key("watch_together.room_code")

// InitTracer dials collectorAddr over gRPC and installs the resulting
// exporter as the process-wide tracer provider. insecureSkipVerify is
// only ever true in local development (spec §7 "never relax TLS
// verification against a production collector").
func InitTracer(ctx context.Context, serviceName, collectorAddr string, insecureSkipVerify bool) (*sdktrace.TracerProvider, error) {
	tlsConfig := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: insecureSkipVerify,
	}

	conn, err := grpc.NewClient(collectorAddr, grpc.WithTransportCredentials(credentials.NewTLS(tlsConfig)))
	if err != nil {
		return nil, fmt.Errorf("dial otel collector: %w", err)
	}

	exporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		return nil, fmt.Errorf("create otlp trace exporter: %w", err)
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewSchemaless(
			semconv.ServiceName(serviceName),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("build otel resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return tp, nil
}

// SpanWithRoomCode starts a span named op tagged with roomCode, for call
// sites outside the HTTP surface (otelgin already tags request spans)
// that still want a room-correlated trace, e.g. the registry's sweep loop.
func SpanWithRoomCode(ctx context.Context, op, roomCode string) (context.Context, func()) {
	ctx, span := otel.Tracer("rdm").Start(ctx, op)
	span.SetAttributes(RoomCodeKey.String(roomCode))
	return ctx, span.End
}
