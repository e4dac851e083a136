package server

import (
	"bytes"
	"context"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/andybalholm/brotli"
	"github.com/valyala/fasthttp"

	"github.com/saiset-co/sai-og/logger"
	"github.com/saiset-co/sai-og/templates"
	"github.com/saiset-co/sai-og/types"
	"github.com/saiset-co/sai-og/utils"
)

type fakeGenerator struct {
	mu      sync.Mutex
	last    *types.RenderParams
	err     error
	running bool
}

func (f *fakeGenerator) Generate(_ context.Context, params *types.RenderParams) (*types.GeneratedImage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.last = params
	if f.err != nil {
		return nil, f.err
	}
	return &types.GeneratedImage{
		Data:        []byte("\x89PNG\r\n\x1a\nfake"),
		ContentType: params.Format.ContentType(),
		Format:      params.Format,
		Width:       params.Width,
		Height:      params.Height,
		Key:         "abc123",
	}, nil
}

func (f *fakeGenerator) Stats() types.CacheStats {
	return types.CacheStats{Hits: 3, Misses: 1}
}

func (f *fakeGenerator) IsRunning() bool {
	return f.running
}

func newTestServer(t *testing.T, gen *fakeGenerator) *Server {
	t.Helper()

	engine := templates.NewEngine(logger.NewNop(),
		&types.TemplatesConfig{MissingPolicy: types.MissingPolicyEmpty},
		&types.LimitsConfig{MaxLoopIterations: 10})
	if err := engine.Register("card", `<svg xmlns="http://www.w3.org/2000/svg"><text>{{ title | default: "N/A" }}</text></svg>`); err != nil {
		t.Fatalf("Register: %v", err)
	}

	return New(logger.NewNop(), nil, &types.ServerConfig{MaxAge: 60}, gen, engine)
}

func serve(s *Server, method, uri string, body []byte, headers map[string]string) *fasthttp.Response {
	var req fasthttp.Request
	req.Header.SetMethod(method)
	req.SetRequestURI(uri)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	if body != nil {
		req.SetBody(body)
		req.Header.SetContentType("application/json")
	}

	var ctx fasthttp.RequestCtx
	ctx.Init(&req, nil, nil)
	s.Handler()(&ctx)

	var resp fasthttp.Response
	ctx.Response.CopyTo(&resp)
	return &resp
}

func TestGenerateFromQuery(t *testing.T) {
	gen := &fakeGenerator{running: true}
	s := newTestServer(t, gen)

	resp := serve(s, "GET", "/og/card?w=800&h=400&format=jpg&quality=70&bg=ff0000&title=Hello", nil, nil)

	if resp.StatusCode() != fasthttp.StatusOK {
		t.Fatalf("status = %d, body %s", resp.StatusCode(), resp.Body())
	}
	if ct := string(resp.Header.ContentType()); ct != "image/jpeg" {
		t.Errorf("content type = %q", ct)
	}
	if etag := string(resp.Header.Peek(fasthttp.HeaderETag)); etag != `"abc123"` {
		t.Errorf("etag = %q", etag)
	}
	if cc := string(resp.Header.Peek(fasthttp.HeaderCacheControl)); cc != "public, max-age=60" {
		t.Errorf("cache control = %q", cc)
	}
	if id := resp.Header.Peek(headerRequestID); len(id) == 0 {
		t.Error("no request id assigned")
	}

	p := gen.last
	if p.Template != "card" || p.Width != 800 || p.Height != 400 || p.Format != types.FormatJPEG {
		t.Errorf("params = %+v", p)
	}
	if p.Quality == nil || *p.Quality != 70 {
		t.Errorf("quality = %v", p.Quality)
	}
	if p.BackgroundColor == nil || p.BackgroundColor.R != 255 || p.BackgroundColor.G != 0 {
		t.Errorf("background = %v", p.BackgroundColor)
	}
	if p.Data["title"] != "Hello" {
		t.Errorf("data = %v", p.Data)
	}
	if _, ok := p.Data["w"]; ok {
		t.Error("reserved argument leaked into data")
	}
}

func TestGenerateFromBody(t *testing.T) {
	gen := &fakeGenerator{running: true}
	s := newTestServer(t, gen)

	body := []byte(`{"data":{"title":"Hi","tags":["a","b"]},"format":"png","text_color":"#00ff00"}`)
	resp := serve(s, "POST", "/og/card", body, nil)

	if resp.StatusCode() != fasthttp.StatusOK {
		t.Fatalf("status = %d, body %s", resp.StatusCode(), resp.Body())
	}

	p := gen.last
	if p.Width != DefaultWidth || p.Height != DefaultHeight {
		t.Errorf("size = %dx%d, want defaults", p.Width, p.Height)
	}
	if p.TextColor == nil || p.TextColor.G != 255 {
		t.Errorf("text color = %v", p.TextColor)
	}
	if tags, ok := p.Data["tags"].([]interface{}); !ok || len(tags) != 2 {
		t.Errorf("tags = %#v", p.Data["tags"])
	}
}

func TestConditionalRequest(t *testing.T) {
	s := newTestServer(t, &fakeGenerator{running: true})

	resp := serve(s, "GET", "/og/card", nil, map[string]string{fasthttp.HeaderIfNoneMatch: `"abc123"`})
	if resp.StatusCode() != fasthttp.StatusNotModified {
		t.Fatalf("status = %d, want 304", resp.StatusCode())
	}
	if len(resp.Body()) != 0 {
		t.Error("304 carried a body")
	}
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		uri    string
		status int
		kind   types.ErrorKind
	}{
		{name: "unknown template", err: types.NewError(types.KindTemplateNotFound, "ghost"), uri: "/og/ghost", status: 404, kind: types.KindTemplateNotFound},
		{name: "too large", err: types.NewError(types.KindSizeLimitExceeded, "big"), uri: "/og/card", status: 400, kind: types.KindSizeLimitExceeded},
		{name: "timeout", err: types.NewError(types.KindTimeoutError, "slow"), uri: "/og/card", status: 504, kind: types.KindTimeoutError},
		{name: "render", err: types.NewError(types.KindRenderError, "bad svg"), uri: "/og/card", status: 422, kind: types.KindRenderError},
		{name: "bad format", uri: "/og/card?format=gif", status: 400, kind: types.KindUnsupportedFormat},
		{name: "bad width", uri: "/og/card?w=wide", status: 400, kind: types.KindInvalidParams},
		{name: "bad color", uri: "/og/card?bg=notacolor", status: 400, kind: types.KindInvalidParams},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t, &fakeGenerator{running: true, err: tt.err})

			resp := serve(s, "GET", tt.uri, nil, nil)
			if resp.StatusCode() != tt.status {
				t.Fatalf("status = %d, want %d (body %s)", resp.StatusCode(), tt.status, resp.Body())
			}

			var body errorResponse
			if err := utils.Unmarshal(resp.Body(), &body); err != nil {
				t.Fatalf("body: %v", err)
			}
			if body.Kind != tt.kind {
				t.Errorf("kind = %q, want %q", body.Kind, tt.kind)
			}
		})
	}
}

func TestInternalErrorsAreOpaque(t *testing.T) {
	s := newTestServer(t, &fakeGenerator{running: true, err: types.NewError(types.KindEncodeError, "disk path /secret")})

	resp := serve(s, "GET", "/og/card", nil, nil)
	if resp.StatusCode() != fasthttp.StatusInternalServerError {
		t.Fatalf("status = %d", resp.StatusCode())
	}
	if strings.Contains(string(resp.Body()), "/secret") {
		t.Error("internal error details leaked")
	}
}

func TestPreviewAndTemplates(t *testing.T) {
	s := newTestServer(t, &fakeGenerator{running: true})

	resp := serve(s, "GET", "/templates/card/preview?title=Preview", nil, nil)
	if resp.StatusCode() != fasthttp.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode())
	}
	if !strings.Contains(string(resp.Body()), "<text>Preview</text>") {
		t.Errorf("preview = %s", resp.Body())
	}

	resp = serve(s, "GET", "/templates/ghost/preview", nil, nil)
	if resp.StatusCode() != fasthttp.StatusNotFound {
		t.Errorf("missing template status = %d", resp.StatusCode())
	}

	resp = serve(s, "GET", "/templates", nil, nil)
	if !strings.Contains(string(resp.Body()), `"card"`) {
		t.Errorf("templates = %s", resp.Body())
	}
}

func TestPreviewIsBrotliCompressed(t *testing.T) {
	s := newTestServer(t, &fakeGenerator{running: true})

	title := strings.Repeat("compressible ", 100)
	resp := serve(s, "GET", "/templates/card/preview?title="+strings.ReplaceAll(title, " ", "+"), nil,
		map[string]string{fasthttp.HeaderAcceptEncoding: "gzip, br"})

	if enc := string(resp.Header.Peek(fasthttp.HeaderContentEncoding)); enc != "br" {
		t.Fatalf("content encoding = %q", enc)
	}

	plain, err := io.ReadAll(brotli.NewReader(bytes.NewReader(resp.Body())))
	if err != nil {
		t.Fatalf("decompress: %v", err)
	}
	if !strings.Contains(string(plain), strings.TrimSpace(title)) {
		t.Error("decompressed body lost the title")
	}
}

func TestImagesAreNotCompressed(t *testing.T) {
	s := newTestServer(t, &fakeGenerator{running: true})

	resp := serve(s, "GET", "/og/card", nil, map[string]string{fasthttp.HeaderAcceptEncoding: "br"})
	if enc := resp.Header.Peek(fasthttp.HeaderContentEncoding); len(enc) != 0 {
		t.Errorf("image response encoded as %q", enc)
	}
}

func TestHealthStatsAndNotFound(t *testing.T) {
	gen := &fakeGenerator{running: true}
	s := newTestServer(t, gen)

	if resp := serve(s, "GET", "/health", nil, nil); resp.StatusCode() != fasthttp.StatusOK {
		t.Errorf("health = %d", resp.StatusCode())
	}

	resp := serve(s, "GET", "/stats", nil, nil)
	if !strings.Contains(string(resp.Body()), `"hits":3`) {
		t.Errorf("stats = %s", resp.Body())
	}

	if resp := serve(s, "GET", "/nope", nil, nil); resp.StatusCode() != fasthttp.StatusNotFound {
		t.Errorf("unknown route = %d", resp.StatusCode())
	}

	gen.running = false
	if resp := serve(s, "GET", "/health", nil, nil); resp.StatusCode() != fasthttp.StatusServiceUnavailable {
		t.Errorf("stopped health = %d", resp.StatusCode())
	}
}

func TestRouterMatching(t *testing.T) {
	r := newRouter()
	var hit string
	r.add("GET", "/a/{x}/b", func(ctx *fasthttp.RequestCtx) { hit, _ = ctx.UserValue("x").(string) })

	h := r.handler(func(ctx *fasthttp.RequestCtx) { hit = "404" })

	tests := []struct {
		uri  string
		want string
	}{
		{uri: "/a/one/b", want: "one"},
		{uri: "/a/one/b/", want: "one"},
		{uri: "/a/one", want: "404"},
		{uri: "/a/one/c", want: "404"},
	}

	for _, tt := range tests {
		var req fasthttp.Request
		req.SetRequestURI(tt.uri)
		var ctx fasthttp.RequestCtx
		ctx.Init(&req, nil, nil)

		hit = ""
		h(&ctx)
		if hit != tt.want {
			t.Errorf("%s: hit = %q, want %q", tt.uri, hit, tt.want)
		}
	}
}
