package fonts

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/image/font/gofont/gobold"
	"golang.org/x/image/font/gofont/gobolditalic"
	"golang.org/x/image/font/gofont/goitalic"
	"golang.org/x/image/font/gofont/gomedium"
	"golang.org/x/image/font/gofont/gomediumitalic"
	"golang.org/x/image/font/gofont/gomono"
	"golang.org/x/image/font/gofont/gomonobold"
	"golang.org/x/image/font/gofont/goregular"

	"github.com/saiset-co/sai-og/types"
)

const (
	BuiltinFamily     = "Go"
	BuiltinMonoFamily = "Go Mono"
)

type builtin struct {
	family string
	weight types.FontWeight
	style  types.FontStyle
	data   []byte
}

var builtins = []builtin{
	{BuiltinFamily, types.WeightRegular, types.StyleNormal, goregular.TTF},
	{BuiltinFamily, types.WeightMedium, types.StyleNormal, gomedium.TTF},
	{BuiltinFamily, types.WeightBold, types.StyleNormal, gobold.TTF},
	{BuiltinFamily, types.WeightRegular, types.StyleItalic, goitalic.TTF},
	{BuiltinFamily, types.WeightMedium, types.StyleItalic, gomediumitalic.TTF},
	{BuiltinFamily, types.WeightBold, types.StyleItalic, gobolditalic.TTF},
	{BuiltinMonoFamily, types.WeightRegular, types.StyleNormal, gomono.TTF},
	{BuiltinMonoFamily, types.WeightBold, types.StyleNormal, gomonobold.TTF},
}

// RegisterBuiltins registers the Go font families shipped with x/image.
func (m *Manager) RegisterBuiltins() error {
	for _, b := range builtins {
		if err := m.Register(b.family, b.weight, b.style, b.data); err != nil {
			return types.WrapError(err, "failed to register builtin font")
		}
	}
	return nil
}

// LoadDir registers every .ttf/.otf file in dir. File names follow
// Family-Weight[Italic].ttf, e.g. Inter-SemiBoldItalic.ttf; underscores in the
// family part become spaces.
func (m *Manager) LoadDir(dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, types.WrapError(err, "failed to read font directory")
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	loaded := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if ext != ".ttf" && ext != ".otf" {
			continue
		}

		family, weight, style := ParseFileName(entry.Name())
		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return loaded, types.WrapError(err, "failed to read font file")
		}

		if err := m.Register(family, weight, style, data); err != nil {
			return loaded, types.WrapError(err, entry.Name())
		}

		loaded++
	}

	m.logger.Info("Fonts loaded", zap.String("dir", dir), zap.Int("count", loaded))
	return loaded, nil
}

func ParseFileName(name string) (string, types.FontWeight, types.FontStyle) {
	stem := strings.TrimSuffix(name, filepath.Ext(name))
	family := stem
	variant := ""

	if idx := strings.LastIndex(stem, "-"); idx > 0 {
		family = stem[:idx]
		variant = stem[idx+1:]
	}

	family = strings.ReplaceAll(family, "_", " ")
	style := types.StyleNormal

	lower := strings.ToLower(variant)
	if strings.HasSuffix(lower, "italic") {
		style = types.StyleItalic
		lower = strings.TrimSuffix(lower, "italic")
	}

	weight, ok := types.ParseFontWeight(lower)
	if !ok {
		weight = types.WeightRegular
		if lower != "" {
			return strings.ReplaceAll(stem, "_", " "), weight, types.StyleNormal
		}
	}

	return family, weight, style
}
