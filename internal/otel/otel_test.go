package otel

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
)

func TestInit_DisabledIsNoop(t *testing.T) {
	p, err := Init(context.Background(), Config{Enabled: false, Timezone: "Europe/Bucharest"})
	if err != nil {
		t.Fatalf("Init disabled: %v", err)
	}
	if p.Tracer == nil || p.Meter == nil {
		t.Fatal("expected noop tracer and meter")
	}
	if p.TracerProvider != nil || p.Resource != nil {
		t.Fatal("disabled provider should not build an SDK pipeline")
	}
	if err := p.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
}

func TestInit_ResourceDescribesAssistant(t *testing.T) {
	p, err := Init(context.Background(), Config{
		Enabled:   true,
		Exporter:  "none",
		Version:   "1.2.3",
		Timezone:  "Europe/Bucharest",
		Organizer: "Ana.Pop@Firma.RO",
		Calendar:  "google",
	})
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	defer p.Shutdown(context.Background())

	want := map[attribute.Key]string{
		semconv.ServiceNameKey:    "asis",
		semconv.ServiceVersionKey: "1.2.3",
		AttrTimezone:              "Europe/Bucharest",
		AttrOrganizerDomain:       "firma.ro",
		AttrCalendar:              "google",
	}
	set := p.Resource.Set()
	for k, v := range want {
		got, ok := set.Value(k)
		if !ok || got.AsString() != v {
			t.Fatalf("resource %s = %q (present %v), want %q", k, got.AsString(), ok, v)
		}
	}
}

func TestNewResource_OmitsEmptyFields(t *testing.T) {
	res, err := NewResource(context.Background(), Config{ServiceName: "asis-test", Organizer: "fara-domeniu"})
	if err != nil {
		t.Fatalf("NewResource: %v", err)
	}
	set := res.Set()
	if v, _ := set.Value(semconv.ServiceNameKey); v.AsString() != "asis-test" {
		t.Fatalf("service.name = %q", v.AsString())
	}
	for _, k := range []attribute.Key{AttrTimezone, AttrOrganizerDomain, AttrCalendar, semconv.ServiceVersionKey} {
		if _, ok := set.Value(k); ok {
			t.Fatalf("unexpected attribute %s", k)
		}
	}
}

func TestMailDomain(t *testing.T) {
	tests := map[string]string{
		"ana@example.com":    "example.com",
		"a@b@Sub.Example.RO": "sub.example.ro",
		"no-at-sign":         "",
		"trailing@":          "",
		"":                   "",
	}
	for in, want := range tests {
		if got := mailDomain(in); got != want {
			t.Fatalf("mailDomain(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestInit_Exporters(t *testing.T) {
	for _, exp := range []string{"none", "stdout", "otlp-http", "otlp"} {
		p, err := Init(context.Background(), Config{Enabled: true, Exporter: exp, SampleRate: 0.5})
		if err != nil {
			t.Fatalf("Init(%s): %v", exp, err)
		}
		if p.Tracer == nil {
			t.Fatalf("Init(%s): nil tracer", exp)
		}
		_ = p.Shutdown(context.Background())
	}

	if _, err := Init(context.Background(), Config{Enabled: true, Exporter: "kafka"}); err == nil {
		t.Fatal("expected error for unknown exporter")
	}
}

func TestSpanHelpers(t *testing.T) {
	p, err := Init(context.Background(), Config{Enabled: true, Exporter: "none"})
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	defer p.Shutdown(context.Background())

	_, span := StartSpan(context.Background(), p.Tracer, "dispatch.schedule_meeting",
		AttrIntent.String("schedule_meeting"),
		AttrEventID.Int64(12),
	)
	span.End()

	_, span = StartServerSpan(context.Background(), p.Tracer, "gateway.execute")
	span.End()

	_, span = StartClientSpan(context.Background(), p.Tracer, "calendar.create_event",
		AttrCollaborator.String("calendar"),
		AttrOperation.String("create_event"),
	)
	span.End()
}
