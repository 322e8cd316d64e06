package httpapi

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coder/websocket"

	"imagepump/internal/clock"
	"imagepump/internal/delivery"
	"imagepump/internal/domain"
	"imagepump/internal/http/handlers"
	"imagepump/internal/infra"
	"imagepump/internal/metrics"
	"imagepump/internal/pipeline"
	imagegen "imagepump/internal/providers/image"
	"imagepump/internal/retry"
	"imagepump/internal/settings"
	"imagepump/internal/storage"
)

type generatorFunc func(ctx context.Context, img []byte, prompt string) ([]byte, error)

func (f generatorFunc) Generate(ctx context.Context, img []byte, prompt string) ([]byte, error) {
	return f(ctx, img, prompt)
}

func testPNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, 8, 8))
	img.Set(1, 1, color.NRGBA{R: 255, A: 255})
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

type testServer struct {
	app     *handlers.App
	handler http.Handler
	prompts []string
}

func newTestServer(t *testing.T, gen imagegen.Generator, tweak func(*infra.Config)) *testServer {
	t.Helper()
	cfg := infra.Config{
		AppEnv:             "test",
		RateLimitPerMin:    100,
		CORSAllowedOrigins: []string{"http://localhost:3000"},
		MaxDownloadBytes:   4_500_000,
		ProviderTimeout:    time.Minute,
	}
	if tweak != nil {
		tweak(&cfg)
	}
	clk := clock.NewFake(time.UnixMilli(1_700_000_000_000))
	queue := pipeline.NewQueue(clk)
	registry := imagegen.NewRegistry(imagegen.RegistryOptions{
		Factory: func(string, imagegen.Options) (imagegen.Generator, error) { return gen, nil },
	})
	collector := metrics.NewCollector()
	orch := pipeline.NewOrchestrator(pipeline.Options{
		Queue:      queue,
		Generators: registry,
		Retry:      retry.Controller{Attempts: 1},
		ItemDelay:  time.Second,
		Clock:      clk,
		Metrics:    collector,
	})
	events := pipeline.NewBroadcaster()
	orch.Observe(events.Publish)
	store, err := storage.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	svc, err := settings.Open(context.Background(), nil)
	if err != nil {
		t.Fatalf("settings: %v", err)
	}
	app := &handlers.App{
		Config:       cfg,
		Logger:       infra.NopLogger(),
		Clock:        clk,
		Queue:        queue,
		Orchestrator: orch,
		Generators:   registry,
		Settings:     svc,
		Deliverer:    delivery.NewDeliverer(delivery.Options{Sink: store, Clock: clk}),
		Store:        store,
		Events:       events,
		Metrics:      collector,
	}
	return &testServer{app: app, handler: NewRouter(app)}
}

func (s *testServer) do(t *testing.T, method, path string, body io.Reader, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) doJSON(t *testing.T, method, path string, v any) *httptest.ResponseRecorder {
	t.Helper()
	raw, _ := json.Marshal(v)
	return s.do(t, method, path, bytes.NewReader(raw), map[string]string{"Content-Type": "application/json"})
}

type part struct {
	field, filename string
	data            []byte
}

func multipartBody(t *testing.T, fields map[string]string, files ...part) (io.Reader, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		_ = mw.WriteField(k, v)
	}
	for _, f := range files {
		w, err := mw.CreateFormFile(f.field, f.filename)
		if err != nil {
			t.Fatalf("form file: %v", err)
		}
		_, _ = w.Write(f.data)
	}
	_ = mw.Close()
	return &buf, mw.FormDataContentType()
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
}

func errorOf(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]string
	decodeBody(t, rec, &body)
	return body["error"]
}

func TestGenerateReturnsImage(t *testing.T) {
	src := testPNG(t)
	result := append([]byte(nil), src...)
	var gotPrompt string
	s := newTestServer(t, generatorFunc(func(_ context.Context, img []byte, prompt string) ([]byte, error) {
		gotPrompt = prompt
		if !bytes.Equal(img, src) {
			t.Errorf("image not forwarded")
		}
		return result, nil
	}), nil)

	body, ct := multipartBody(t, map[string]string{"prompt": "make it blue", "provider": "stability"}, part{"image", "a.png", src})
	rec := s.do(t, http.MethodPost, "/v1/generate", body, map[string]string{"Content-Type": ct, "X-API-Key": "sk-test"})

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", rec.Code, rec.Body.String())
	}
	if gotPrompt != "make it blue" {
		t.Fatalf("prompt = %q", gotPrompt)
	}
	h := rec.Header()
	if h.Get("Content-Type") != "image/png" || h.Get("X-Provider") != "stability" || h.Get("Cache-Control") != "no-store" {
		t.Fatalf("unexpected headers %v", h)
	}
	if h.Get("X-Original-Size") != h.Get("X-Result-Size") || h.Get("X-Result-Size") == "" {
		t.Fatalf("size headers %v", h)
	}
}

func TestGenerateErrors(t *testing.T) {
	src := testPNG(t)
	cases := []struct {
		name    string
		fields  map[string]string
		key     string
		file    []byte
		genErr  error
		status  int
		message string
	}{
		{"missing prompt", map[string]string{"provider": "stability"}, "k", src, nil, 400, "Prompt is required"},
		{"unknown provider", map[string]string{"provider": "puter", "prompt": "p"}, "k", src, nil, 400, "Valid provider is required"},
		{"missing key", map[string]string{"provider": "stability", "prompt": "p"}, "", src, nil, 400, "API key is required"},
		{"bad type", map[string]string{"provider": "stability", "prompt": "p"}, "k", []byte("GIF89a..."), nil, 400, "Invalid file type"},
		{"auth", map[string]string{"provider": "stability", "prompt": "p"}, "k", src,
			&imagegen.Error{Kind: imagegen.KindAuth, Message: "Invalid API key"}, 400, "Invalid API key"},
		{"rate limited", map[string]string{"provider": "stability", "prompt": "p"}, "k", src,
			&imagegen.Error{Kind: imagegen.KindRateLimited, Message: "429 Too Many Requests"}, 429, "429"},
		{"provider failure", map[string]string{"provider": "stability", "prompt": "p"}, "k", src,
			&imagegen.Error{Kind: imagegen.KindNoOutput, Message: "No image returned"}, 500, "No image returned"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := newTestServer(t, generatorFunc(func(context.Context, []byte, string) ([]byte, error) {
				if tc.genErr != nil {
					return nil, tc.genErr
				}
				return src, nil
			}), nil)
			body, ct := multipartBody(t, tc.fields, part{"image", "a.png", tc.file})
			rec := s.do(t, http.MethodPost, "/v1/generate", body, map[string]string{"Content-Type": ct, "X-API-Key": tc.key})
			if rec.Code != tc.status {
				t.Fatalf("status = %d, want %d (%s)", rec.Code, tc.status, rec.Body.String())
			}
			if msg := errorOf(t, rec); !strings.Contains(msg, tc.message) {
				t.Fatalf("error = %q, want it to contain %q", msg, tc.message)
			}
		})
	}
}

func TestGenerateIsRateLimitedPerIP(t *testing.T) {
	src := testPNG(t)
	s := newTestServer(t, generatorFunc(func(context.Context, []byte, string) ([]byte, error) { return src, nil }),
		func(c *infra.Config) { c.RateLimitPerMin = 1 })
	send := func() int {
		body, ct := multipartBody(t, map[string]string{"prompt": "p", "provider": "localsd"}, part{"image", "a.png", src})
		return s.do(t, http.MethodPost, "/v1/generate", body, map[string]string{"Content-Type": ct}).Code
	}
	if code := send(); code != http.StatusOK {
		t.Fatalf("first status = %d", code)
	}
	if code := send(); code != http.StatusTooManyRequests {
		t.Fatalf("second status = %d, want 429", code)
	}
}

func TestCompress(t *testing.T) {
	s := newTestServer(t, nil, nil)
	body, ct := multipartBody(t, map[string]string{"quality": "low"}, part{"image", "a.png", testPNG(t)})
	rec := s.do(t, http.MethodPost, "/v1/compress", body, map[string]string{"Content-Type": ct})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", rec.Code, rec.Body.String())
	}
	if rec.Header().Get("Content-Type") != "image/jpeg" || rec.Header().Get("X-Compressed-Size") == "" {
		t.Fatalf("headers = %v", rec.Header())
	}

	body, ct = multipartBody(t, map[string]string{"quality": "ultra"}, part{"image", "a.png", testPNG(t)})
	rec = s.do(t, http.MethodPost, "/v1/compress", body, map[string]string{"Content-Type": ct})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad quality status = %d", rec.Code)
	}
}

func TestDownload(t *testing.T) {
	s := newTestServer(t, nil, func(c *infra.Config) { c.MaxDownloadBytes = 2048 })

	rec := s.doJSON(t, http.MethodPost, "/v1/download", delivery.DownloadRequest{Images: []delivery.Image{
		{Filename: "edited-1-café.png", Base64: base64.StdEncoding.EncodeToString([]byte("one"))},
		{Filename: "../two.png", Base64: "data:image/png;base64," + base64.StdEncoding.EncodeToString([]byte("two"))},
	}})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Header().Get("Content-Disposition"), "imagepump-1700000000000.zip") {
		t.Fatalf("disposition = %q", rec.Header().Get("Content-Disposition"))
	}
	zr, err := zip.NewReader(bytes.NewReader(rec.Body.Bytes()), int64(rec.Body.Len()))
	if err != nil {
		t.Fatalf("open zip: %v", err)
	}
	if zr.File[0].Name != "edited-1-cafe.png" || zr.File[1].Name != ".._two.png" {
		t.Fatalf("entries = %s, %s", zr.File[0].Name, zr.File[1].Name)
	}

	cases := []struct {
		name   string
		body   any
		status int
	}{
		{"empty", delivery.DownloadRequest{}, 400},
		{"missing filename", delivery.DownloadRequest{Images: []delivery.Image{{Base64: "b25l"}}}, 400},
		{"missing data", delivery.DownloadRequest{Images: []delivery.Image{{Filename: "a.png"}}}, 400},
		{"bad base64", delivery.DownloadRequest{Images: []delivery.Image{{Filename: "a.png", Base64: "!!!"}}}, 400},
		{"too large", delivery.DownloadRequest{Images: []delivery.Image{{Filename: "a.png", Base64: strings.Repeat("A", 4096)}}}, 413},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if rec := s.doJSON(t, http.MethodPost, "/v1/download", tc.body); rec.Code != tc.status {
				t.Fatalf("status = %d, want %d (%s)", rec.Code, tc.status, rec.Body.String())
			}
		})
	}
}

func submitJobs(t *testing.T, s *testServer, names ...string) []domain.ImageJob {
	t.Helper()
	files := make([]part, 0, len(names))
	for _, n := range names {
		files = append(files, part{"images", n, testPNG(t)})
	}
	body, ct := multipartBody(t, nil, files...)
	rec := s.do(t, http.MethodPost, "/v1/jobs", body, map[string]string{"Content-Type": ct})
	if rec.Code != http.StatusCreated {
		t.Fatalf("submit status = %d body = %s", rec.Code, rec.Body.String())
	}
	var out struct {
		Jobs []domain.ImageJob `json:"jobs"`
	}
	decodeBody(t, rec, &out)
	return out.Jobs
}

func TestRunRejectedWithoutPrompt(t *testing.T) {
	s := newTestServer(t, generatorFunc(func(context.Context, []byte, string) ([]byte, error) { return nil, nil }), nil)
	submitJobs(t, s, "a.png", "b.png")
	rec := s.do(t, http.MethodPost, "/v1/runs", strings.NewReader(`{"provider":"stability"}`), map[string]string{"X-API-Key": "sk-test"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
	if msg := errorOf(t, rec); !strings.HasPrefix(msg, "2 image(s) have no prompt assigned") {
		t.Fatalf("error = %q", msg)
	}
}

func TestWorkspaceRunAndDelivery(t *testing.T) {
	var calls atomic.Int32
	result := testPNG(t)
	var seen []string
	s := newTestServer(t, generatorFunc(func(_ context.Context, _ []byte, prompt string) ([]byte, error) {
		calls.Add(1)
		seen = append(seen, prompt)
		return result, nil
	}), nil)

	jobs := submitJobs(t, s, "first.jpg", "second.png", "third.webp")

	rec := s.doJSON(t, http.MethodPost, "/v1/groups", map[string]string{"name": "Blue", "prompt": "paint it blue"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create group = %d", rec.Code)
	}
	var group domain.PromptGroup
	decodeBody(t, rec, &group)
	if rec := s.doJSON(t, http.MethodPost, "/v1/groups/"+group.ID+"/assign", map[string][]string{"jobIds": {jobs[1].ID}}); rec.Code != http.StatusNoContent {
		t.Fatalf("assign = %d %s", rec.Code, rec.Body.String())
	}
	if rec := s.doJSON(t, http.MethodPut, "/v1/prompt", map[string]string{"prompt": "make it pop"}); rec.Code != http.StatusOK {
		t.Fatalf("prompt = %d", rec.Code)
	}

	rec = s.do(t, http.MethodPost, "/v1/runs", strings.NewReader(`{"provider":"stability"}`), map[string]string{"X-API-Key": "sk-test"})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("start run = %d %s", rec.Code, rec.Body.String())
	}
	s.app.Orchestrator.Wait()

	if calls.Load() != 3 {
		t.Fatalf("calls = %d", calls.Load())
	}
	if seen[0] != "make it pop" || seen[1] != "paint it blue" || seen[2] != "make it pop" {
		t.Fatalf("prompts = %v", seen)
	}

	rec = s.do(t, http.MethodGet, "/v1/runs/current", nil, nil)
	var status pipeline.RunStatus
	decodeBody(t, rec, &status)
	if status.Running || status.LastSummary == nil || status.LastSummary.Succeeded != 3 {
		t.Fatalf("status = %+v", status)
	}

	rec = s.do(t, http.MethodGet, "/v1/jobs/"+jobs[0].ID+"/result", nil, nil)
	if rec.Code != http.StatusOK || !bytes.Equal(rec.Body.Bytes(), result) {
		t.Fatalf("result = %d", rec.Code)
	}

	if rec := s.do(t, http.MethodPost, "/v1/jobs/"+jobs[2].ID+"/select", nil, nil); rec.Code != http.StatusOK {
		t.Fatalf("select = %d", rec.Code)
	}
	rec = s.do(t, http.MethodPost, "/v1/deliveries", nil, nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("delivery = %d %s", rec.Code, rec.Body.String())
	}
	var res delivery.Result
	decodeBody(t, rec, &res)
	if len(res.Archives) != 1 || res.Items != 1 {
		t.Fatalf("delivery result = %+v", res)
	}

	rec = s.do(t, http.MethodGet, "/v1/deliveries/"+res.Archives[0].Name, nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get delivery = %d", rec.Code)
	}
	zr, err := zip.NewReader(bytes.NewReader(rec.Body.Bytes()), int64(rec.Body.Len()))
	if err != nil || len(zr.File) != 1 || zr.File[0].Name != "edited-1-third.png" {
		t.Fatalf("archive entries unexpected: %v", err)
	}

	for _, j := range s.app.Queue.Jobs() {
		if j.Selected {
			t.Fatalf("job %s still selected after delivery", j.ID)
		}
	}

	rec = s.do(t, http.MethodPost, "/v1/jobs/reset", nil, nil)
	var reset map[string]int
	decodeBody(t, rec, &reset)
	if reset["reset"] != 3 {
		t.Fatalf("reset = %v", reset)
	}
}

func TestMutationsRejectedDuringRun(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{}, 1)
	s := newTestServer(t, generatorFunc(func(ctx context.Context, _ []byte, _ string) ([]byte, error) {
		started <- struct{}{}
		select {
		case <-release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		return []byte("x"), nil
	}), nil)
	jobs := submitJobs(t, s, "a.png")
	s.doJSON(t, http.MethodPut, "/v1/prompt", map[string]string{"prompt": "p"})

	if rec := s.do(t, http.MethodPost, "/v1/runs", strings.NewReader(`{"provider":"localsd"}`), nil); rec.Code != http.StatusAccepted {
		t.Fatalf("start = %d %s", rec.Code, rec.Body.String())
	}
	<-started

	if rec := s.do(t, http.MethodDelete, "/v1/jobs/"+jobs[0].ID, nil, nil); rec.Code != http.StatusConflict {
		t.Fatalf("delete during run = %d", rec.Code)
	}
	if rec := s.do(t, http.MethodPost, "/v1/runs", nil, nil); rec.Code != http.StatusConflict {
		t.Fatalf("second start = %d", rec.Code)
	}
	if rec := s.do(t, http.MethodDelete, "/v1/runs/current", nil, nil); rec.Code != http.StatusAccepted {
		t.Fatalf("cancel = %d", rec.Code)
	}
	s.app.Orchestrator.Wait()
	close(release)

	job, _ := s.app.Queue.Job(jobs[0].ID)
	if job.Status != domain.JobStatusPending {
		t.Fatalf("cancelled job status = %s", job.Status)
	}
	if rec := s.do(t, http.MethodDelete, "/v1/runs/current", nil, nil); rec.Code != http.StatusNotFound {
		t.Fatalf("cancel when idle = %d", rec.Code)
	}
}

func TestGroupsLifecycle(t *testing.T) {
	s := newTestServer(t, nil, nil)
	jobs := submitJobs(t, s, "a.png")

	rec := s.doJSON(t, http.MethodPost, "/v1/groups", map[string]string{"name": "G"})
	var g domain.PromptGroup
	decodeBody(t, rec, &g)

	rec = s.doJSON(t, http.MethodPatch, "/v1/groups/"+g.ID, map[string]string{"prompt": "new prompt"})
	decodeBody(t, rec, &g)
	if g.Prompt != "new prompt" || g.Name != "G" {
		t.Fatalf("patched group = %+v", g)
	}
	s.doJSON(t, http.MethodPost, "/v1/groups/"+g.ID+"/assign", map[string][]string{"jobIds": {jobs[0].ID}})
	if rec := s.doJSON(t, http.MethodPost, "/v1/groups/unassign", map[string][]string{"jobIds": {jobs[0].ID}}); rec.Code != http.StatusNoContent {
		t.Fatalf("unassign = %d", rec.Code)
	}
	if rec := s.do(t, http.MethodDelete, "/v1/groups/"+g.ID, nil, nil); rec.Code != http.StatusNoContent {
		t.Fatalf("delete = %d", rec.Code)
	}
	if rec := s.do(t, http.MethodDelete, "/v1/groups/"+g.ID, nil, nil); rec.Code != http.StatusNotFound {
		t.Fatalf("second delete = %d", rec.Code)
	}
	if rec := s.doJSON(t, http.MethodPost, "/v1/groups", map[string]string{"name": " "}); rec.Code != http.StatusBadRequest {
		t.Fatalf("blank name = %d", rec.Code)
	}
}

func TestSettingsRoundTrip(t *testing.T) {
	s := newTestServer(t, nil, nil)
	rec := s.doJSON(t, http.MethodPut, "/v1/settings", map[string]any{
		"selectedProvider": "google",
		"apiKeys":          map[string]string{"google": "AIzaSyExample1234"},
		"compression":      map[string]any{"enabled": true},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("put = %d %s", rec.Code, rec.Body.String())
	}
	rec = s.do(t, http.MethodGet, "/v1/settings", nil, nil)
	var got settings.Settings
	decodeBody(t, rec, &got)
	if got.SelectedProvider != "google" || got.APIKeys["google"] != "****1234" || !got.Compression.Enabled {
		t.Fatalf("settings = %+v", got)
	}
	if rec := s.doJSON(t, http.MethodPut, "/v1/settings", map[string]any{"mode": "batch"}); rec.Code != http.StatusBadRequest {
		t.Fatalf("invalid mode = %d", rec.Code)
	}

	rec = s.do(t, http.MethodGet, "/v1/providers", nil, nil)
	if !strings.Contains(rec.Body.String(), `"id":"google"`) || !strings.Contains(rec.Body.String(), `"selected":true`) {
		t.Fatalf("providers = %s", rec.Body.String())
	}
}

func TestEventsStream(t *testing.T) {
	s := newTestServer(t, nil, nil)
	srv := httptest.NewServer(s.handler)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http")+"/v1/events", nil)
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
	if first := read(); first["type"] != "run.status" {
		t.Fatalf("first frame = %v", first)
	}
	s.app.Events.Publish(pipeline.Event{Type: pipeline.EventRunFinished, Summary: &domain.Summary{Total: 1, Succeeded: 1}})
	ev := read()
	if ev["type"] != string(pipeline.EventRunFinished) {
		t.Fatalf("event = %v", ev)
	}
}

func TestHealthAndMetrics(t *testing.T) {
	s := newTestServer(t, nil, nil)
	rec := s.do(t, http.MethodGet, "/v1/healthz", nil, nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"status":"ok"`) {
		t.Fatalf("healthz = %d %s", rec.Code, rec.Body.String())
	}
	rec = s.do(t, http.MethodGet, "/metrics", nil, nil)
	if !strings.Contains(rec.Body.String(), `imagepump_http_requests_total{method="GET",route="/v1/healthz",status="200"} 1`) {
		t.Fatalf("metrics missing request counter:\n%s", rec.Body.String())
	}
}
