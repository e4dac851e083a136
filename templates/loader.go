package templates

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/saiset-co/sai-og/types"
)

const ManifestFile = "templates.yaml"

// Manifest maps template names to files relative to the template directory.
//
//	templates:
//	  article: cards/article.svg
//	  profile: profile-v2.svg
type Manifest struct {
	Templates map[string]string `yaml:"templates"`
}

// LoadDir registers every *.svg file in dir under its file stem. Files named
// in templates.yaml are registered under the manifest name instead.
func (e *Engine) LoadDir(dir string) (int, error) {
	manifest, err := readManifest(dir)
	if err != nil {
		return 0, err
	}

	sources := make(map[string]string)
	claimed := make(map[string]struct{})

	for name, file := range manifest.Templates {
		path := filepath.Join(dir, filepath.FromSlash(file))
		sources[name] = path
		claimed[filepath.Clean(path)] = struct{}{}
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, types.WrapError(err, "failed to read template directory")
	}

	for _, entry := range entries {
		if entry.IsDir() || !isTemplateFile(entry.Name()) {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		if _, ok := claimed[filepath.Clean(path)]; ok {
			continue
		}
		sources[templateName(entry.Name())] = path
	}

	names := make([]string, 0, len(sources))
	for name := range sources {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if err := e.registerFile(name, sources[name]); err != nil {
			return 0, err
		}
	}

	e.logger.Info("Templates loaded", zap.String("dir", dir), zap.Int("count", len(names)))
	return len(names), nil
}

func (e *Engine) registerFile(name, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return types.WrapError(err, "failed to read template "+path)
	}
	return e.Register(name, string(data))
}

func readManifest(dir string) (*Manifest, error) {
	manifest := &Manifest{}

	data, err := os.ReadFile(filepath.Join(dir, ManifestFile))
	if os.IsNotExist(err) {
		return manifest, nil
	}
	if err != nil {
		return nil, types.WrapError(err, "failed to read template manifest")
	}

	if err := yaml.Unmarshal(data, manifest); err != nil {
		return nil, types.Errorf(types.ErrConfigParseFailed, "%s: %v", ManifestFile, err)
	}

	return manifest, nil
}

func isTemplateFile(name string) bool {
	return strings.EqualFold(filepath.Ext(name), ".svg") && !strings.HasPrefix(name, ".")
}

func templateName(file string) string {
	return strings.TrimSuffix(filepath.Base(file), filepath.Ext(file))
}
