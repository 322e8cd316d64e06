package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"imagepump/internal/clock"
	"imagepump/internal/delivery"
	"imagepump/internal/infra"
	"imagepump/internal/pipeline"
	"imagepump/internal/providers/image"
	"imagepump/internal/retry"
	"imagepump/internal/storage"
)

type stubGenerator func(ctx context.Context, img []byte, prompt string) ([]byte, error)

func (f stubGenerator) Generate(ctx context.Context, img []byte, prompt string) ([]byte, error) {
	return f(ctx, img, prompt)
}

// newTestApp wires an App around a stub generator that returns size bytes
// per call. Deliveries split at threshold encoded bytes.
func newTestApp(t *testing.T, size, threshold int) *App {
	t.Helper()
	clk := clock.NewFake(time.UnixMilli(1_700_000_000_000))
	queue := pipeline.NewQueue(clk)
	calls := 0
	registry := image.NewRegistry(image.RegistryOptions{
		Factory: func(string, image.Options) (image.Generator, error) {
			return stubGenerator(func(context.Context, []byte, string) ([]byte, error) {
				calls++
				return bytes.Repeat([]byte{byte(calls)}, size), nil
			}), nil
		},
	})
	orch := pipeline.NewOrchestrator(pipeline.Options{
		Queue:      queue,
		Generators: registry,
		Retry:      retry.Controller{Attempts: 1},
		Clock:      clk,
	})
	store, err := storage.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	return &App{
		Config:       infra.Config{AppEnv: "test", CORSAllowedOrigins: []string{"http://localhost:3000"}},
		Logger:       infra.NopLogger(),
		Clock:        clk,
		Queue:        queue,
		Orchestrator: orch,
		Generators:   registry,
		Deliverer:    delivery.NewDeliverer(delivery.Options{Sink: store, Clock: clk, Threshold: threshold}),
		Store:        store,
		Events:       pipeline.NewBroadcaster(),
	}
}

func seedCompleted(t *testing.T, app *App, n int) {
	t.Helper()
	cfg := pipeline.RunConfig{Provider: "localsd", Mode: pipeline.ModeGenerate}
	for i := 0; i < n; i++ {
		if _, err := app.Orchestrator.GenerateSingle(context.Background(), cfg, "a lighthouse at dusk"); err != nil {
			t.Fatalf("GenerateSingle: %v", err)
		}
	}
}

func TestEventStreamSendsStatusThenEvents(t *testing.T) {
	app := newTestApp(t, 10, delivery.DefaultThreshold)
	srv := httptest.NewServer(http.HandlerFunc(app.EventStream))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	read := func() map[string]any {
		_, data, err := conn.Read(ctx)
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		var v map[string]any
		if err := json.Unmarshal(data, &v); err != nil {
			t.Fatalf("decode: %v", err)
		}
		return v
	}

	first := read()
	if first["type"] != "run.status" {
		t.Fatalf("first frame = %v", first)
	}
	status, ok := first["status"].(map[string]any)
	if !ok || status["running"] != false {
		t.Fatalf("expected idle status, got %v", first["status"])
	}
	if n := app.Events.Subscribers(); n != 1 {
		t.Fatalf("expected 1 subscriber, got %d", n)
	}

	app.Events.Publish(pipeline.Event{Type: pipeline.EventDeliveryProgress, Batch: 1, Total: 3})
	ev := read()
	if ev["type"] != string(pipeline.EventDeliveryProgress) || ev["batch"] != float64(1) || ev["total"] != float64(3) {
		t.Fatalf("event = %v", ev)
	}
}

func TestEventStreamUnavailableWithoutBroadcaster(t *testing.T) {
	app := newTestApp(t, 10, delivery.DefaultThreshold)
	app.Events = nil
	rec := httptest.NewRecorder()
	app.EventStream(rec, httptest.NewRequest(http.MethodGet, "/v1/events", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}

func TestCreateDeliveryPublishesProgress(t *testing.T) {
	// Each 100 byte result encodes to 136 bytes, so a 150 byte threshold
	// yields one archive per job.
	app := newTestApp(t, 100, 150)
	seedCompleted(t, app, 2)

	events, unsubscribe := app.Events.Subscribe(8)
	defer unsubscribe()

	rec := httptest.NewRecorder()
	app.CreateDelivery(rec, httptest.NewRequest(http.MethodPost, "/v1/deliveries", nil))
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var res delivery.Result
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(res.Archives) != 2 || res.Items != 2 {
		t.Fatalf("unexpected result %+v", res)
	}

	for want := 1; want <= 2; want++ {
		select {
		case ev := <-events:
			if ev.Type != pipeline.EventDeliveryProgress || ev.Batch != want || ev.Total != 2 {
				t.Fatalf("event %d = %+v", want, ev)
			}
		default:
			t.Fatalf("missing progress event %d", want)
		}
	}
	select {
	case ev := <-events:
		t.Fatalf("unexpected extra event %+v", ev)
	default:
	}

	objs, err := app.Store.List(context.Background(), app.Deliverer.Prefix())
	if err != nil || len(objs) != 2 {
		t.Fatalf("expected 2 stored archives, got %d (%v)", len(objs), err)
	}
}

func TestCreateDeliveryWithoutResults(t *testing.T) {
	app := newTestApp(t, 10, delivery.DefaultThreshold)
	events, unsubscribe := app.Events.Subscribe(1)
	defer unsubscribe()

	rec := httptest.NewRecorder()
	app.CreateDelivery(rec, httptest.NewRequest(http.MethodPost, "/v1/deliveries", nil))
	if rec.Code != http.StatusBadRequest || !strings.Contains(rec.Body.String(), delivery.ErrNothingToDeliver.Error()) {
		t.Fatalf("expected 400 nothing to deliver, got %d: %s", rec.Code, rec.Body.String())
	}
	select {
	case ev := <-events:
		t.Fatalf("unexpected event %+v", ev)
	default:
	}
}
