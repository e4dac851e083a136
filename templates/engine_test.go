package templates

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/saiset-co/sai-og/logger"
	"github.com/saiset-co/sai-og/types"
)

func newTestEngine(policy string) *Engine {
	return NewEngine(logger.NewNop(),
		&types.TemplatesConfig{MissingPolicy: policy, WatchDebounce: 20 * time.Millisecond},
		&types.LimitsConfig{MaxLoopIterations: 5})
}

func mustRender(t *testing.T, e *Engine, markup string, data map[string]interface{}) string {
	t.Helper()

	if err := e.Register("t", markup); err != nil {
		t.Fatalf("Register: %v", err)
	}
	out, err := e.Render("t", data)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	return out
}

func TestRenderInterpolation(t *testing.T) {
	e := newTestEngine(types.MissingPolicyEmpty)

	tests := []struct {
		name   string
		markup string
		data   map[string]interface{}
		want   string
	}{
		{
			name:   "simple",
			markup: `<svg><text>{{ title }}</text></svg>`,
			data:   map[string]interface{}{"title": "Hello"},
			want:   `<svg><text>Hello</text></svg>`,
		},
		{
			name:   "default for missing",
			markup: `<svg><text>{{ missing | default: "N/A" }}</text></svg>`,
			data:   map[string]interface{}{},
			want:   `<svg><text>N/A</text></svg>`,
		},
		{
			name:   "nested path and index",
			markup: `<svg><text>{{ author.name }} {{ tags.1 }}</text></svg>`,
			data: map[string]interface{}{
				"author": map[string]interface{}{"name": "Ada"},
				"tags":   []interface{}{"go", "svg"},
			},
			want: `<svg><text>Ada svg</text></svg>`,
		},
		{
			name:   "numbers",
			markup: `<svg><text>{{ n }}/{{ f }}</text></svg>`,
			data:   map[string]interface{}{"n": 3, "f": 2.5},
			want:   `<svg><text>3/2.5</text></svg>`,
		},
		{
			name:   "escapes untrusted values",
			markup: `<svg><text fill="{{ c }}">{{ v }}</text></svg>`,
			data:   map[string]interface{}{"c": `"red`, "v": "<script>&"},
			want:   `<svg><text fill="&quot;red">&lt;script&gt;&amp;</text></svg>`,
		},
		{
			name:   "filter chain",
			markup: `<svg><text>{{ title | trim | truncate: 5 | upper }}</text></svg>`,
			data:   map[string]interface{}{"title": "  hello world  "},
			want:   `<svg><text>HELLO…</text></svg>`,
		},
		{
			name:   "case filters",
			markup: `<svg><text>{{ a | capitalize }}|{{ b | title }}|{{ c | lower }}</text></svg>`,
			data:   map[string]interface{}{"a": "hELLO", "b": "the go gopher", "c": "LOUD"},
			want:   `<svg><text>Hello|The Go Gopher|loud</text></svg>`,
		},
		{
			name:   "missing renders empty",
			markup: `<svg><text>[{{ nothing }}]</text></svg>`,
			data:   nil,
			want:   `<svg><text>[]</text></svg>`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := mustRender(t, e, tt.markup, tt.data); got != tt.want {
				t.Fatalf("got  %s\nwant %s", got, tt.want)
			}
		})
	}
}

func TestRenderConditionals(t *testing.T) {
	e := newTestEngine(types.MissingPolicyEmpty)
	markup := `<svg>{% if theme == "dark" %}<rect fill="black"/>{% elif theme %}<rect fill="{{ theme }}"/>{% else %}<rect fill="white"/>{% endif %}{% if not subtitle %}<g/>{% endif %}</svg>`

	tests := []struct {
		data map[string]interface{}
		want string
	}{
		{map[string]interface{}{"theme": "dark"}, `<svg><rect fill="black"/><g/></svg>`},
		{map[string]interface{}{"theme": "teal", "subtitle": "x"}, `<svg><rect fill="teal"/></svg>`},
		{map[string]interface{}{"theme": ""}, `<svg><rect fill="white"/><g/></svg>`},
		{nil, `<svg><rect fill="white"/><g/></svg>`},
	}

	for _, tt := range tests {
		if got := mustRender(t, e, markup, tt.data); got != tt.want {
			t.Errorf("data %v: got %s, want %s", tt.data, got, tt.want)
		}
	}
}

func TestRenderLoops(t *testing.T) {
	e := newTestEngine(types.MissingPolicyEmpty)
	items := []interface{}{"a", "b", "c", "d", "e", "f", "g"}

	got := mustRender(t, e,
		`<svg>{% for it in items limit: 3 %}<text>{{ loop.index }}{{ it }}{% if loop.last %}!{% endif %}</text>{% endfor %}</svg>`,
		map[string]interface{}{"items": items})
	want := `<svg><text>1a</text><text>2b</text><text>3c!</text></svg>`
	if got != want {
		t.Fatalf("got %s, want %s", got, want)
	}

	got = mustRender(t, e, `<svg>{% for it in items %}{{ it }}{% endfor %}</svg>`, map[string]interface{}{"items": items})
	if got != `<svg>abcde</svg>` {
		t.Fatalf("loop was not capped by max iterations: %s", got)
	}

	got = mustRender(t, e, `<svg>{% for p in people %}{{ p.name }},{% endfor %}</svg>`, map[string]interface{}{
		"people": []map[string]interface{}{{"name": "x"}, {"name": "y"}},
	})
	if got != `<svg>x,y,</svg>` {
		t.Fatalf("typed slice loop: %s", got)
	}
}

func TestMissingPolicyError(t *testing.T) {
	e := newTestEngine(types.MissingPolicyError)

	if err := e.Register("strict", `<svg><text>{{ title }}</text></svg>`); err != nil {
		t.Fatal(err)
	}
	_, err := e.Render("strict", map[string]interface{}{})
	if !errors.Is(err, types.ErrPlaceholderPolicyViolation) {
		t.Fatalf("err = %v, want PlaceholderPolicyViolation", err)
	}

	out := mustRender(t, e, `<svg><text>{{ title | default: "x" }}</text></svg>`, nil)
	if out != `<svg><text>x</text></svg>` {
		t.Fatalf("default should satisfy strict policy: %s", out)
	}

	out = mustRender(t, e, `<svg>{% if subtitle %}{% else %}<text>[{{ subtitle }}]</text>{% endif %}</svg>`, nil)
	if out != `<svg><text>[]</text></svg>` {
		t.Fatalf("guarded variable should not violate policy: %s", out)
	}
}

func TestRenderTemplateNotFound(t *testing.T) {
	e := newTestEngine(types.MissingPolicyEmpty)

	_, err := e.Render("ghost", nil)
	if types.KindOf(err) != types.KindTemplateNotFound {
		t.Fatalf("err = %v, want TemplateNotFound", err)
	}
}

func TestRegisterRejectsMalformed(t *testing.T) {
	e := newTestEngine(types.MissingPolicyEmpty)

	tests := map[string]string{
		"unclosed placeholder": `<svg>{{ title </svg>`,
		"unclosed if":          `<svg>{% if a %}<g/></svg>`,
		"stray endfor":         `<svg>{% endfor %}</svg>`,
		"unknown tag":          `<svg>{% include "x" %}</svg>`,
		"unknown filter":       `<svg>{{ a | shout }}</svg>`,
		"truncate without arg": `<svg>{{ a | truncate }}</svg>`,
		"empty placeholder":    `<svg>{{ }}</svg>`,
		"bad loop":             `<svg>{% for in items %}{% endfor %}</svg>`,
		"unbalanced tags":      `<svg><g></svg>`,
		"bad branch":           `<svg>{% if a %}<g/>{% else %}<g>{% endif %}</svg>`,
		"huge truncate":        `<svg>{{ a | truncate: 99999999999999999999 }}</svg>`,
		"fractional truncate":  `<svg>{{ a | truncate: 2.5 }}</svg>`,
		"huge loop limit":      `<svg>{% for it in items limit: 2000000 %}{% endfor %}</svg>`,
	}

	for name, markup := range tests {
		t.Run(name, func(t *testing.T) {
			err := e.Register("bad", markup)
			if types.KindOf(err) != types.KindTemplateParseError {
				t.Fatalf("err = %v, want TemplateParseError", err)
			}
		})
	}

	if _, ok := e.Get("bad"); ok {
		t.Fatal("rejected template was stored")
	}
	if err := e.Register(" ", "<svg/>"); !errors.Is(err, types.ErrTemplateNameEmpty) {
		t.Fatalf("empty name err = %v", err)
	}
}

func TestReRegisterChangesHash(t *testing.T) {
	e := newTestEngine(types.MissingPolicyEmpty)

	if err := e.Register("card", `<svg><text>v1</text></svg>`); err != nil {
		t.Fatal(err)
	}
	first, _ := e.Get("card")

	if err := e.Register("card", `<svg><text>v2</text></svg>`); err != nil {
		t.Fatal(err)
	}
	second, _ := e.Get("card")

	if first.Hash == second.Hash {
		t.Fatal("hash did not change with content")
	}
	if out, _ := e.Render("card", nil); out != `<svg><text>v2</text></svg>` {
		t.Fatalf("render returned stale content: %s", out)
	}
	if names := e.Names(); len(names) != 1 || names[0] != "card" {
		t.Fatalf("names = %v", names)
	}
	if !e.Remove("card") || e.Remove("card") {
		t.Fatal("Remove should succeed once")
	}
}

func TestMinify(t *testing.T) {
	e := NewEngine(logger.NewNop(), &types.TemplatesConfig{MissingPolicy: types.MissingPolicyEmpty, Minify: true}, nil)

	out := mustRender(t, e, "<svg>\n  <rect  width=\"10\"  height=\"10\" />\n</svg>", nil)
	if strings.Contains(out, "\n") || len(out) >= len("<svg>\n  <rect  width=\"10\"  height=\"10\" />\n</svg>") {
		t.Fatalf("markup was not minified: %q", out)
	}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestLoadDir(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "simple.svg"), `<svg><text>{{ title }}</text></svg>`)
	writeFile(t, filepath.Join(dir, "cards", "article.svg"), `<svg><text>article</text></svg>`)
	writeFile(t, filepath.Join(dir, "legacy.svg"), `<svg><text>legacy</text></svg>`)
	writeFile(t, filepath.Join(dir, "readme.md"), `ignored`)
	writeFile(t, filepath.Join(dir, ManifestFile), "templates:\n  article: cards/article.svg\n  old: legacy.svg\n")

	e := newTestEngine(types.MissingPolicyEmpty)
	n, err := e.LoadDir(dir)
	if err != nil {
		t.Fatalf("LoadDir: %v", err)
	}
	if n != 3 {
		t.Fatalf("loaded %d, want 3", n)
	}

	want := []string{"article", "old", "simple"}
	got := e.Names()
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("names = %v, want %v", got, want)
	}
}

func TestWatchReloadsChangedFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "live.svg")
	writeFile(t, path, `<svg><text>one</text></svg>`)

	e := newTestEngine(types.MissingPolicyEmpty)
	if _, err := e.LoadDir(dir); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := e.Watch(ctx, dir); err != nil {
		t.Fatalf("Watch: %v", err)
	}

	writeFile(t, path, `<svg><text>two</text></svg>`)

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if out, _ := e.Render("live", nil); out == `<svg><text>two</text></svg>` {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("template was not reloaded")
}

func TestRenderStripsCharactersXMLCannotCarry(t *testing.T) {
	e := newTestEngine(types.MissingPolicyEmpty)

	tests := []struct {
		name  string
		title string
		want  string
	}{
		{name: "control character", title: "a\x01b", want: "<svg><text>ab</text></svg>"},
		{name: "invalid utf-8", title: "bad\xffutf8", want: "<svg><text>bad\uFFFDutf8</text></svg>"},
		{name: "whitespace kept", title: "a\tb\nc", want: "<svg><text>a\tb\nc</text></svg>"},
		{name: "escaped markup", title: `<b>&`, want: "<svg><text>&lt;b&gt;&amp;</text></svg>"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := mustRender(t, e, `<svg><text>{{ title }}</text></svg>`, map[string]interface{}{"title": tt.title})
			if got != tt.want {
				t.Fatalf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestTruncateClampsLargeCounts(t *testing.T) {
	e := newTestEngine(types.MissingPolicyEmpty)

	got := mustRender(t, e, `<svg><text>{{ title | truncate: 1048576 }}</text></svg>`, map[string]interface{}{"title": "short"})
	if got != `<svg><text>short</text></svg>` {
		t.Fatalf("got %s", got)
	}
}
