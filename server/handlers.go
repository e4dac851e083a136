package server

import (
	"context"
	"strconv"
	"strings"

	"github.com/valyala/fasthttp"

	"github.com/saiset-co/sai-og/types"
	"github.com/saiset-co/sai-og/utils"
)

const (
	DefaultWidth  = 1200
	DefaultHeight = 630
)

// reserved query arguments; everything else on GET /og/{template} is data.
var reservedArgs = map[string]bool{
	"w": true, "h": true, "width": true, "height": true,
	"format": true, "quality": true, "compression": true,
	"bg": true, "color": true, "data": true,
}

type generateRequest struct {
	Data            map[string]interface{} `json:"data"`
	Width           int                    `json:"width"`
	Height          int                    `json:"height"`
	Format          string                 `json:"format"`
	Quality         *int                   `json:"quality"`
	Compression     *int                   `json:"compression"`
	BackgroundColor *types.Color           `json:"background_color"`
	TextColor       *types.Color           `json:"text_color"`
}

type errorResponse struct {
	Kind    types.ErrorKind `json:"kind"`
	Message string          `json:"message"`
}

func (s *Server) handleGenerateQuery(ctx *fasthttp.RequestCtx) {
	params, err := paramsFromQuery(templateParam(ctx, "template"), ctx.QueryArgs())
	if err != nil {
		writeError(ctx, err)
		return
	}
	s.generate(ctx, params)
}

func (s *Server) handleGenerateBody(ctx *fasthttp.RequestCtx) {
	var req generateRequest
	if body := ctx.PostBody(); len(body) > 0 {
		if err := utils.Unmarshal(body, &req); err != nil {
			writeError(ctx, types.WrapKind(types.KindInvalidParams, err, "malformed request body"))
			return
		}
	}

	format, err := types.ParseFormat(req.Format)
	if err != nil {
		writeError(ctx, err)
		return
	}

	params := &types.RenderParams{
		Template:        templateParam(ctx, "template"),
		Data:            req.Data,
		Width:           orDefault(req.Width, DefaultWidth),
		Height:          orDefault(req.Height, DefaultHeight),
		Format:          format,
		Quality:         req.Quality,
		Compression:     req.Compression,
		BackgroundColor: req.BackgroundColor,
		TextColor:       req.TextColor,
	}
	s.generate(ctx, params)
}

func (s *Server) generate(ctx *fasthttp.RequestCtx, params *types.RenderParams) {
	// RequestCtx must not outlive the handler, and a timed-out render keeps
	// running in the background.
	img, err := s.generator.Generate(context.Background(), params)
	if err != nil {
		writeError(ctx, err)
		return
	}

	etag := `"` + img.Key + `"`
	ctx.Response.Header.Set(fasthttp.HeaderETag, etag)
	ctx.Response.Header.Set(fasthttp.HeaderCacheControl, "public, max-age="+strconv.Itoa(s.config.MaxAge))
	ctx.Response.Header.Set("X-Cache", cacheStatus(img.CacheHit))

	if match := string(ctx.Request.Header.Peek(fasthttp.HeaderIfNoneMatch)); match != "" && match == etag {
		ctx.SetStatusCode(fasthttp.StatusNotModified)
		return
	}

	ctx.SetContentType(img.ContentType)
	ctx.SetStatusCode(fasthttp.StatusOK)
	ctx.SetBody(img.Data)
}

func (s *Server) handleTemplates(ctx *fasthttp.RequestCtx) {
	writeJSON(ctx, fasthttp.StatusOK, map[string]interface{}{"templates": s.templates.Names()})
}

// handlePreview returns the resolved markup for the query data, without
// rasterizing it.
func (s *Server) handlePreview(ctx *fasthttp.RequestCtx) {
	tmpl, err := s.templates.Lookup(templateParam(ctx, "name"))
	if err != nil {
		writeError(ctx, err)
		return
	}

	data, err := dataFromQuery(ctx.QueryArgs())
	if err != nil {
		writeError(ctx, err)
		return
	}

	markup, err := s.templates.Execute(tmpl, data)
	if err != nil {
		writeError(ctx, err)
		return
	}

	ctx.SetContentType("image/svg+xml; charset=utf-8")
	ctx.SetStatusCode(fasthttp.StatusOK)
	ctx.SetBodyString(markup)
}

func (s *Server) handleStats(ctx *fasthttp.RequestCtx) {
	writeJSON(ctx, fasthttp.StatusOK, map[string]interface{}{"cache": s.generator.Stats()})
}

func (s *Server) handleHealth(ctx *fasthttp.RequestCtx) {
	if !s.generator.IsRunning() {
		writeJSON(ctx, fasthttp.StatusServiceUnavailable, map[string]string{"status": "stopped"})
		return
	}
	writeJSON(ctx, fasthttp.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleNotFound(ctx *fasthttp.RequestCtx) {
	writeJSON(ctx, fasthttp.StatusNotFound, errorResponse{Kind: "NotFound", Message: "no route for " + string(ctx.Path())})
}

func paramsFromQuery(name string, args *fasthttp.Args) (*types.RenderParams, error) {
	params := &types.RenderParams{
		Template: name,
		Width:    DefaultWidth,
		Height:   DefaultHeight,
	}

	var err error
	if params.Width, err = intArg(args, DefaultWidth, "w", "width"); err != nil {
		return nil, err
	}
	if params.Height, err = intArg(args, DefaultHeight, "h", "height"); err != nil {
		return nil, err
	}

	if params.Format, err = types.ParseFormat(string(args.Peek("format"))); err != nil {
		return nil, err
	}

	if args.Has("quality") {
		q, err := intArg(args, 0, "quality")
		if err != nil {
			return nil, err
		}
		params.Quality = &q
	}
	if args.Has("compression") {
		c, err := intArg(args, 0, "compression")
		if err != nil {
			return nil, err
		}
		params.Compression = &c
	}

	if params.BackgroundColor, err = colorArg(args, "bg"); err != nil {
		return nil, err
	}
	if params.TextColor, err = colorArg(args, "color"); err != nil {
		return nil, err
	}

	if params.Data, err = dataFromQuery(args); err != nil {
		return nil, err
	}

	return params, nil
}

// dataFromQuery merges a JSON "data" argument with the remaining plain
// arguments; plain arguments win.
func dataFromQuery(args *fasthttp.Args) (map[string]interface{}, error) {
	data := make(map[string]interface{})

	if raw := args.Peek("data"); len(raw) > 0 {
		if err := utils.Unmarshal(raw, &data); err != nil {
			return nil, types.WrapKind(types.KindInvalidParams, err, "data is not a JSON object")
		}
	}

	args.VisitAll(func(key, value []byte) {
		if !reservedArgs[string(key)] {
			data[string(key)] = string(value)
		}
	})

	return data, nil
}

func intArg(args *fasthttp.Args, def int, names ...string) (int, error) {
	for _, name := range names {
		raw := args.Peek(name)
		if len(raw) == 0 {
			continue
		}
		v, err := strconv.Atoi(string(raw))
		if err != nil {
			return 0, types.NewError(types.KindInvalidParams, "%s must be an integer", name)
		}
		return v, nil
	}
	return def, nil
}

func colorArg(args *fasthttp.Args, name string) (*types.Color, error) {
	raw := string(args.Peek(name))
	if raw == "" {
		return nil, nil
	}
	// Hex colors may arrive without the '#', which is awkward in URLs.
	if !strings.HasPrefix(raw, "#") && !strings.Contains(raw, "(") {
		if _, err := strconv.ParseUint(raw, 16, 32); err == nil {
			raw = "#" + raw
		}
	}
	c, err := types.ParseColor(raw)
	if err != nil {
		return nil, types.WrapKind(types.KindInvalidParams, err, "%s", name)
	}
	return &c, nil
}

func templateParam(ctx *fasthttp.RequestCtx, name string) string {
	v, _ := ctx.UserValue(name).(string)
	return v
}

func orDefault(v, def int) int {
	if v == 0 {
		return def
	}
	return v
}

func cacheStatus(hit bool) string {
	if hit {
		return "HIT"
	}
	return "MISS"
}

func statusFor(kind types.ErrorKind) int {
	switch kind {
	case types.KindTemplateNotFound:
		return fasthttp.StatusNotFound
	case types.KindInvalidParams, types.KindSizeLimitExceeded, types.KindUnsupportedFormat:
		return fasthttp.StatusBadRequest
	case types.KindTemplateParseError, types.KindPlaceholderPolicyViolation,
		types.KindRenderError, types.KindUnsupportedElement, types.KindFontNotFound:
		return fasthttp.StatusUnprocessableEntity
	case types.KindTimeoutError:
		return fasthttp.StatusGatewayTimeout
	default:
		return fasthttp.StatusInternalServerError
	}
}

func writeError(ctx *fasthttp.RequestCtx, err error) {
	kind := types.KindOf(err)
	status := statusFor(kind)

	message := err.Error()
	if status == fasthttp.StatusInternalServerError {
		message = "internal server error"
	}

	ctx.Response.Header.Set(fasthttp.HeaderCacheControl, "no-cache, no-store, must-revalidate")
	writeJSON(ctx, status, errorResponse{Kind: kind, Message: message})
}

func writeJSON(ctx *fasthttp.RequestCtx, status int, v interface{}) {
	body, err := utils.Marshal(v)
	if err != nil {
		ctx.Error(`{"kind":"Internal","message":"failed to encode response"}`, fasthttp.StatusInternalServerError)
		return
	}

	ctx.SetContentType("application/json")
	ctx.SetStatusCode(status)
	ctx.SetBody(body)
}
