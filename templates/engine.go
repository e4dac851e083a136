// Package templates resolves placeholder markup into plain SVG documents.
package templates

import (
	"encoding/hex"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/tdewolff/minify/v2"
	"github.com/tdewolff/minify/v2/svg"
	"go.uber.org/zap"
	"golang.org/x/crypto/blake2b"

	"github.com/saiset-co/sai-og/types"
)

const svgMediaType = "image/svg+xml"

// Template is a registered, parsed document. Instances are immutable:
// re-registering a name swaps in a new *Template.
type Template struct {
	Name         string    `json:"name"`
	Markup       string    `json:"-"`
	Hash         string    `json:"hash"`
	RegisteredAt time.Time `json:"registered_at"`
	root         []node
}

type Engine struct {
	logger    types.Logger
	config    *types.TemplatesConfig
	limits    *types.LimitsConfig
	mu        sync.RWMutex
	templates map[string]*Template
	minifier  *minify.M
}

func NewEngine(logger types.Logger, config *types.TemplatesConfig, limits *types.LimitsConfig) *Engine {
	if config == nil {
		config = &types.TemplatesConfig{MissingPolicy: types.MissingPolicyEmpty}
	}
	if limits == nil {
		limits = &types.LimitsConfig{MaxLoopIterations: 100}
	}

	e := &Engine{
		logger:    logger,
		config:    config,
		limits:    limits,
		templates: make(map[string]*Template),
	}

	if config.Minify {
		e.minifier = minify.New()
		e.minifier.AddFunc(svgMediaType, svg.Minify)
	}

	return e
}

// Register parses and validates markup and stores it under name, replacing
// any previous template with that name.
func (e *Engine) Register(name, markup string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return types.ErrTemplateNameEmpty
	}

	root, err := parse(markup)
	if err != nil {
		return types.WrapKind(types.KindTemplateParseError, err, "template %q", name)
	}

	if err := validateSkeleton(root); err != nil {
		return types.WrapKind(types.KindTemplateParseError, err, "template %q", name)
	}

	sum := blake2b.Sum256([]byte(markup))
	tmpl := &Template{
		Name:         name,
		Markup:       markup,
		Hash:         hex.EncodeToString(sum[:]),
		RegisteredAt: time.Now(),
		root:         root,
	}

	e.mu.Lock()
	previous, replaced := e.templates[name]
	e.templates[name] = tmpl
	e.mu.Unlock()

	if replaced && previous.Hash != tmpl.Hash {
		e.logger.Info("Template replaced",
			zap.String("name", name),
			zap.String("old_hash", previous.Hash[:12]),
			zap.String("new_hash", tmpl.Hash[:12]))
	} else {
		e.logger.Debug("Template registered", zap.String("name", name), zap.String("hash", tmpl.Hash[:12]))
	}

	return nil
}

func (e *Engine) Get(name string) (*Template, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	tmpl, ok := e.templates[name]
	return tmpl, ok
}

// Lookup is Get returning a TemplateNotFound error.
func (e *Engine) Lookup(name string) (*Template, error) {
	tmpl, ok := e.Get(name)
	if !ok {
		return nil, types.NewError(types.KindTemplateNotFound, "template %q is not registered", name)
	}
	return tmpl, nil
}

func (e *Engine) Names() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()

	names := make([]string, 0, len(e.templates))
	for name := range e.templates {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (e *Engine) Remove(name string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.templates[name]; !ok {
		return false
	}
	delete(e.templates, name)
	return true
}

// Render resolves the named template against data.
func (e *Engine) Render(name string, data map[string]interface{}) (string, error) {
	tmpl, err := e.Lookup(name)
	if err != nil {
		return "", err
	}
	return e.Execute(tmpl, data)
}

// Execute resolves a specific template version. Callers that derive cache
// keys from tmpl.Hash use this to render exactly the content they hashed.
func (e *Engine) Execute(tmpl *Template, data map[string]interface{}) (string, error) {
	ev := newEvaluator(data, e.config.MissingPolicy == types.MissingPolicyError, e.limits.MaxLoopIterations)
	if err := ev.run(tmpl.root); err != nil {
		return "", err
	}

	out := ev.out.String()
	if e.minifier == nil {
		return out, nil
	}

	minified, err := e.minifier.String(svgMediaType, out)
	if err != nil {
		e.logger.Warn("Failed to minify resolved markup", zap.String("template", tmpl.Name), zap.Error(err))
		return out, nil
	}

	return minified, nil
}
