// Package tracing wraps OpenTelemetry so components can open spans without
// importing the SDK. Until Init or InitWithExporter is called spans are
// no-ops.
package tracing

import (
	"context"
	"errors"
	"io"
	"os"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/okian/ratekeep"

var (
	mu       sync.Mutex
	provider *sdktrace.TracerProvider
	closer   io.Closer
)

// Init installs a provider exporting spans as JSON to outputFile, or to
// stdout when outputFile is empty.
func Init(serviceName, serviceVersion, outputFile string) error {
	var w io.Writer = os.Stdout
	var c io.Closer
	if outputFile != "" {
		f, err := os.Create(outputFile)
		if err != nil {
			return err
		}
		w, c = f, f
	}

	exporter, err := stdouttrace.New(stdouttrace.WithWriter(w))
	if err != nil {
		if c != nil {
			_ = c.Close()
		}
		return err
	}
	if err := InitWithExporter(serviceName, serviceVersion, exporter); err != nil {
		if c != nil {
			_ = c.Close()
		}
		return err
	}

	mu.Lock()
	closer = c
	mu.Unlock()
	return nil
}

// InitWithExporter installs a provider exporting spans synchronously to
// exporter, replacing any previous one.
func InitWithExporter(serviceName, serviceVersion string, exporter sdktrace.SpanExporter) error {
	if exporter == nil {
		return errors.New("tracing: nil exporter")
	}
	res, err := resource.New(context.Background(),
		resource.WithAttributes(
			attribute.String("service.name", serviceName),
			attribute.String("service.version", serviceVersion),
		),
	)
	if err != nil {
		return err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSpanProcessor(sdktrace.NewSimpleSpanProcessor(exporter)),
		sdktrace.WithResource(res),
	)

	mu.Lock()
	prev := provider
	provider = tp
	mu.Unlock()

	otel.SetTracerProvider(tp)
	if prev != nil {
		_ = prev.Shutdown(context.Background())
	}
	return nil
}

// Shutdown flushes and removes the installed provider.
func Shutdown(ctx context.Context) error {
	mu.Lock()
	tp, c := provider, closer
	provider, closer = nil, nil
	mu.Unlock()

	var err error
	if tp != nil {
		err = tp.Shutdown(ctx)
	}
	if c != nil {
		err = errors.Join(err, c.Close())
	}
	return err
}

// Span is an open span.
type Span struct {
	span trace.Span
}

// StartSpan starts an internal span named name as a child of ctx's span.
func StartSpan(ctx context.Context, name string) (context.Context, *Span) {
	ctx, span := otel.Tracer(instrumentationName).Start(ctx, name, trace.WithSpanKind(trace.SpanKindInternal))
	return ctx, &Span{span: span}
}

// String attaches a string attribute.
func (s *Span) String(key, val string) *Span {
	if s != nil {
		s.span.SetAttributes(attribute.String(key, val))
	}
	return s
}

// Int attaches an integer attribute.
func (s *Span) Int(key string, val int) *Span {
	if s != nil {
		s.span.SetAttributes(attribute.Int(key, val))
	}
	return s
}

// Bool attaches a boolean attribute.
func (s *Span) Bool(key string, val bool) *Span {
	if s != nil {
		s.span.SetAttributes(attribute.Bool(key, val))
	}
	return s
}

// Event records a named point in time on the span.
func (s *Span) Event(name string) {
	if s != nil {
		s.span.AddEvent(name)
	}
}

// EndSpan records err, if any, as the span status and ends the span.
func EndSpan(s *Span, err error) {
	if s == nil {
		return
	}
	if err != nil {
		s.span.RecordError(err)
		s.span.SetStatus(codes.Error, err.Error())
	} else {
		s.span.SetStatus(codes.Ok, "")
	}
	s.span.End()
}
