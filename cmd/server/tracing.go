package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"

	"github.com/KungFuJesus/ntetris/internal/config"
)

// tracerProvider owns the SDK provider and the file its exporter writes to
type tracerProvider struct {
	*sdktrace.TracerProvider
	output io.Closer
}

// initTracer builds a span pipeline exporting to the configured output.
// The caller installs it with otel.SetTracerProvider.
func initTracer(cfg config.TracingConfig) (*tracerProvider, error) {
	var (
		output io.Writer
		closer io.Closer
	)
	switch cfg.Output {
	case "stdout", "":
		output = os.Stdout
	case "stderr":
		output = os.Stderr
	default:
		file, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, fmt.Errorf("failed to open trace output %s: %w", cfg.Output, err)
		}
		output, closer = file, file
	}

	opts := []stdouttrace.Option{stdouttrace.WithWriter(output)}
	if cfg.PrettyPrint {
		opts = append(opts, stdouttrace.WithPrettyPrint())
	}

	exporter, err := stdouttrace.New(opts...)
	if err != nil {
		if closer != nil {
			closer.Close()
		}
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}

	res := resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(serviceName),
		semconv.ServiceVersion(serviceVersion),
	)

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRatio))),
	)

	return &tracerProvider{TracerProvider: tp, output: closer}, nil
}

// Shutdown flushes pending spans and closes the output file
func (p *tracerProvider) Shutdown(ctx context.Context) error {
	err := p.TracerProvider.Shutdown(ctx)
	if p.output != nil {
		if cerr := p.output.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
