// Package fonts holds the font registry used for text layout. Assets are
// registered once at startup and read concurrently by every render; parsed
// fonts are cached per (family, weight, style).
package fonts

import (
	"encoding/hex"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/crypto/blake2b"
	"golang.org/x/image/font"
	"golang.org/x/image/font/opentype"

	"github.com/saiset-co/sai-og/types"
)

// Asset is an immutable registered font binary.
type Asset struct {
	Family string
	Weight types.FontWeight
	Style  types.FontStyle
	Data   []byte
	Sum    [32]byte
}

// Resolved is the result of walking a family chain.
type Resolved struct {
	Family string
	Weight types.FontWeight
	Style  types.FontStyle
	Font   *opentype.Font
}

type faceKey struct {
	family string
	weight types.FontWeight
	style  types.FontStyle
}

var genericFamilies = map[string]string{
	"monospace":    "go mono",
	"ui-monospace": "go mono",
}

type Manager struct {
	logger      types.Logger
	config      *types.FontsConfig
	mu          sync.RWMutex
	assets      map[faceKey]*Asset
	families    map[string][]faceKey
	parsed      map[faceKey]*opentype.Font
	parseCount  uint64
	fingerprint string
}

func NewManager(logger types.Logger, config *types.FontsConfig) *Manager {
	if config == nil {
		config = &types.FontsConfig{DefaultFamily: BuiltinFamily}
	}

	return &Manager{
		logger:   logger,
		config:   config,
		assets:   make(map[faceKey]*Asset),
		families: make(map[string][]faceKey),
		parsed:   make(map[faceKey]*opentype.Font),
	}
}

// Register adds a font binary. The data is validated by parsing it, and the
// parsed font is kept for later resolution. A (family, weight, style) triple
// can only be registered once.
func (m *Manager) Register(family string, weight types.FontWeight, style types.FontStyle, data []byte) error {
	family = strings.TrimSpace(family)
	if family == "" {
		return types.Errorf(types.ErrFontInvalid, "family is empty")
	}
	if !weight.Valid() {
		return types.Errorf(types.ErrFontInvalid, "weight %d out of range", weight)
	}

	parsed, err := opentype.Parse(data)
	if err != nil {
		return types.Errorf(types.ErrFontInvalid, "family %s: %v", family, err)
	}

	key := faceKey{family: normalizeFamily(family), weight: weight, style: style}
	owned := make([]byte, len(data))
	copy(owned, data)

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.assets[key]; exists {
		return types.Errorf(types.ErrFontExists, "%s %d %s", family, weight, style)
	}

	m.assets[key] = &Asset{
		Family: family,
		Weight: weight,
		Style:  style,
		Data:   owned,
		Sum:    blake2b.Sum256(owned),
	}
	m.families[key.family] = append(m.families[key.family], key)
	m.parsed[key] = parsed
	atomic.AddUint64(&m.parseCount, 1)
	m.fingerprint = m.computeFingerprintUnsafe()

	m.logger.Debug("Font registered",
		zap.String("family", family),
		zap.Int("weight", int(weight)),
		zap.String("style", style.String()))

	return nil
}

// Resolve walks the chain in order and returns the first family that has any
// registered face. Within a family the closest weight with the requested style
// wins, then the closest weight in any style.
func (m *Manager) Resolve(chain []string, weight types.FontWeight, style types.FontStyle) (*Resolved, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, family := range chain {
		if resolved, ok := m.resolveFamilyUnsafe(family, weight, style); ok {
			return resolved, true
		}
	}

	return nil, false
}

// ResolveWithDefault extends Resolve with the configured fallback chain and,
// unless RequireMatch is set, the process-wide default family.
func (m *Manager) ResolveWithDefault(chain []string, weight types.FontWeight, style types.FontStyle) (*Resolved, error) {
	full := make([]string, 0, len(chain)+len(m.config.FallbackChain))
	full = append(full, chain...)
	full = append(full, m.config.FallbackChain...)

	if resolved, ok := m.Resolve(full, weight, style); ok {
		return resolved, nil
	}

	if m.config.RequireMatch && len(chain) > 0 {
		return nil, types.NewError(types.KindFontNotFound, "no font for families %s", strings.Join(full, ", "))
	}

	if resolved, ok := m.Resolve([]string{m.config.DefaultFamily}, weight, style); ok {
		return resolved, nil
	}

	return nil, types.NewError(types.KindFontNotFound, "default family %q is not registered", m.config.DefaultFamily)
}

func (m *Manager) resolveFamilyUnsafe(family string, weight types.FontWeight, style types.FontStyle) (*Resolved, bool) {
	name := normalizeFamily(family)
	if alias, ok := genericFamilies[name]; ok {
		name = alias
	}

	keys := m.families[name]
	if len(keys) == 0 {
		return nil, false
	}

	var best faceKey
	bestScore := -1
	for _, key := range keys {
		score := weightDistance(key.weight, weight)
		if key.style != style {
			score += 10000
		}
		if bestScore < 0 || score < bestScore || (score == bestScore && key.weight < best.weight) {
			best = key
			bestScore = score
		}
	}

	asset := m.assets[best]
	return &Resolved{
		Family: asset.Family,
		Weight: best.weight,
		Style:  best.style,
		Font:   m.parsed[best],
	}, true
}

// NewFace builds a face for one render. Faces keep internal buffers and
// must not be shared between goroutines.
func NewFace(f *opentype.Font, size float64) (font.Face, error) {
	return opentype.NewFace(f, &opentype.FaceOptions{
		Size:    size,
		DPI:     72,
		Hinting: font.HintingNone,
	})
}

func (m *Manager) Families() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	seen := make(map[string]struct{})
	var names []string
	for _, asset := range m.assets {
		if _, ok := seen[asset.Family]; ok {
			continue
		}
		seen[asset.Family] = struct{}{}
		names = append(names, asset.Family)
	}
	sort.Strings(names)
	return names
}

func (m *Manager) Fingerprint() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.fingerprint
}

func (m *Manager) ParseCount() uint64 {
	return atomic.LoadUint64(&m.parseCount)
}

func (m *Manager) computeFingerprintUnsafe() string {
	keys := make([]faceKey, 0, len(m.assets))
	for key := range m.assets {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].family != keys[j].family {
			return keys[i].family < keys[j].family
		}
		if keys[i].weight != keys[j].weight {
			return keys[i].weight < keys[j].weight
		}
		return keys[i].style < keys[j].style
	})

	h, _ := blake2b.New256(nil)
	for _, key := range keys {
		sum := m.assets[key].Sum
		h.Write([]byte(key.family))
		h.Write([]byte{byte(key.weight / 100), byte(key.style)})
		h.Write(sum[:])
	}
	return hex.EncodeToString(h.Sum(nil))
}

func normalizeFamily(family string) string {
	family = strings.TrimSpace(family)
	family = strings.Trim(family, `"'`)
	return strings.ToLower(family)
}

func weightDistance(a, b types.FontWeight) int {
	d := int(a) - int(b)
	if d < 0 {
		return -d
	}
	return d
}
