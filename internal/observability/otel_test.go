package observability

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"github.com/tbourn/go-callback-backend/internal/config"
)

// keepGlobals restores the OTel globals after the test.
func keepGlobals(t *testing.T) {
	t.Helper()
	tp, prop := otel.GetTracerProvider(), otel.GetTextMapPropagator()
	t.Cleanup(func() {
		otel.SetTracerProvider(tp)
		otel.SetTextMapPropagator(prop)
	})
}

func gatewayOTEL(enabled, insecure bool, ratio float64) config.OTELConfig {
	return config.OTELConfig{
		Enabled:     enabled,
		Insecure:    insecure,
		Endpoint:    "localhost:4317",
		ServiceName: "go-callback-backend",
		SampleRatio: ratio,
	}
}

func TestSetupOTel_DisabledLeavesGlobals(t *testing.T) {
	keepGlobals(t)
	before := otel.GetTracerProvider()

	shutdown, err := SetupOTel(context.Background(), gatewayOTEL(false, true, 1), "dev")
	if err != nil || shutdown == nil {
		t.Fatalf("SetupOTel disabled = (%v, %v)", shutdown, err)
	}
	if otel.GetTracerProvider() != before {
		t.Fatal("tracer provider replaced while disabled")
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("noop shutdown: %v", err)
	}
}

func TestSetupOTel_SubmissionSpanCarriesServiceResource(t *testing.T) {
	for _, insecure := range []bool{true, false} {
		keepGlobals(t)
		shutdown, err := SetupOTel(context.Background(), gatewayOTEL(true, insecure, 1), "1.4.0")
		if err != nil {
			t.Fatalf("insecure=%v: %v", insecure, err)
		}

		_, span := otel.Tracer("services/submission").Start(context.Background(), "submission.gate")
		ro, ok := span.(sdktrace.ReadOnlySpan)
		if !ok {
			t.Fatalf("insecure=%v: span is %T, want sdk span", insecure, span)
		}
		attrs := map[string]string{}
		for _, kv := range ro.Resource().Attributes() {
			attrs[string(kv.Key)] = kv.Value.Emit()
		}
		if attrs[string(semconv.ServiceNameKey)] != "go-callback-backend" || attrs[string(semconv.ServiceVersionKey)] != "1.4.0" {
			t.Fatalf("resource attrs = %v", attrs)
		}
		span.End()

		// Trace context must cross the wire for the gateway's outbound calls.
		carrier := propagation.MapCarrier{}
		ctx, parent := otel.Tracer("test").Start(context.Background(), "parent")
		otel.GetTextMapPropagator().Inject(ctx, carrier)
		parent.End()
		if carrier.Get("traceparent") == "" {
			t.Fatalf("insecure=%v: traceparent not injected", insecure)
		}

		sctx, cancel := context.WithTimeout(context.Background(), 250*time.Millisecond)
		if err := shutdown(sctx); err != nil {
			t.Fatalf("shutdown: %v", err)
		}
		cancel()
	}
}

func TestSetupOTel_ZeroRatioDropsRootSpans(t *testing.T) {
	keepGlobals(t)
	shutdown, err := SetupOTel(context.Background(), gatewayOTEL(true, true, 0), "dev")
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = shutdown(context.Background()) }()

	_, span := otel.Tracer("test").Start(context.Background(), "root")
	defer span.End()
	if span.SpanContext().IsSampled() {
		t.Fatal("root span sampled with ratio 0")
	}
}

func TestSetupOTel_FailuresKeepGlobals(t *testing.T) {
	origExp, origRes := newOTLPExporterFn, newServiceResourceFn
	t.Cleanup(func() { newOTLPExporterFn, newServiceResourceFn = origExp, origRes })

	cases := map[string]func(){
		"exporter": func() {
			newOTLPExporterFn = func(context.Context, otlptrace.Client) (*otlptrace.Exporter, error) {
				return nil, errors.New("exporter down")
			}
		},
		"resource": func() {
			newServiceResourceFn = func(context.Context, string, string) (*resource.Resource, error) {
				return nil, errors.New("bad resource")
			}
		},
	}
	for name, breakIt := range cases {
		t.Run(name, func(t *testing.T) {
			keepGlobals(t)
			newOTLPExporterFn, newServiceResourceFn = origExp, origRes
			breakIt()

			tp := otel.GetTracerProvider()
			if _, err := SetupOTel(context.Background(), gatewayOTEL(true, true, 1), "dev"); err == nil {
				t.Fatal("expected error")
			}
			if otel.GetTracerProvider() != tp {
				t.Fatal("tracer provider changed on failure")
			}
		})
	}
}
