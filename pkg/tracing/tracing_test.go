package tracing

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	. "github.com/smartystreets/goconvey/convey"
)

func TestTracing(t *testing.T) {
	Convey("Given an in-memory exporter", t, func() {
		exporter := tracetest.NewInMemoryExporter()
		So(InitWithExporter("ratekeep", "test", exporter), ShouldBeNil)
		defer func() { _ = Shutdown(context.Background()) }()

		Convey("When a span ends without error", func() {
			ctx, span := StartSpan(context.Background(), "finish")
			span.String("puzzle", "p1").Int("plays", 3).Bool("rated", true)
			_, child := StartSpan(ctx, "persist")
			EndSpan(child, nil)
			EndSpan(span, nil)

			Convey("Then both spans are exported with their attributes", func() {
				spans := exporter.GetSpans()
				So(len(spans), ShouldEqual, 2)
				So(spans[0].Name, ShouldEqual, "persist")
				So(spans[1].Name, ShouldEqual, "finish")
				So(spans[0].Parent.SpanID(), ShouldEqual, spans[1].SpanContext.SpanID())
				So(len(spans[1].Attributes), ShouldEqual, 3)
				So(spans[1].Status.Code, ShouldEqual, codes.Ok)
			})
		})

		Convey("When a span ends with an error", func() {
			_, span := StartSpan(context.Background(), "finish")
			EndSpan(span, errors.New("boom"))

			Convey("Then the error status is recorded", func() {
				spans := exporter.GetSpans()
				So(len(spans), ShouldEqual, 1)
				So(spans[0].Status.Code, ShouldEqual, codes.Error)
				So(spans[0].Status.Description, ShouldEqual, "boom")
			})
		})
	})

	Convey("Given a file exporter", t, func() {
		fname := filepath.Join(t.TempDir(), "spans.json")
		So(Init("ratekeep", "test", fname), ShouldBeNil)

		_, span := StartSpan(context.Background(), "finish")
		EndSpan(span, nil)
		So(Shutdown(context.Background()), ShouldBeNil)

		Convey("Then spans are written to the file", func() {
			data, err := os.ReadFile(fname)
			So(err, ShouldBeNil)
			So(len(data), ShouldBeGreaterThan, 0)
		})
	})

	Convey("Given a nil span", t, func() {
		var span *Span

		Convey("Then every method is a no-op", func() {
			So(func() {
				span.String("k", "v").Int("n", 1).Bool("b", true)
				span.Event("e")
				EndSpan(span, nil)
			}, ShouldNotPanic)
		})
	})
}
