package fonts

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"golang.org/x/image/font/gofont/gobold"
	"golang.org/x/image/font/gofont/goregular"

	"github.com/saiset-co/sai-og/logger"
	"github.com/saiset-co/sai-og/types"
)

func newTestManager(t *testing.T, config *types.FontsConfig) *Manager {
	t.Helper()

	m := NewManager(logger.NewNop(), config)
	if err := m.RegisterBuiltins(); err != nil {
		t.Fatalf("RegisterBuiltins: %v", err)
	}
	return m
}

func TestResolveWalksChainInOrder(t *testing.T) {
	m := newTestManager(t, &types.FontsConfig{DefaultFamily: BuiltinFamily})

	resolved, ok := m.Resolve([]string{"Inter", "Go Mono", "Go"}, types.WeightRegular, types.StyleNormal)
	if !ok {
		t.Fatal("expected a match")
	}
	if resolved.Family != BuiltinMonoFamily {
		t.Fatalf("family = %q, want %q", resolved.Family, BuiltinMonoFamily)
	}
}

func TestResolvePicksNearestWeightAndStyle(t *testing.T) {
	m := newTestManager(t, &types.FontsConfig{DefaultFamily: BuiltinFamily})

	tests := []struct {
		name       string
		weight     types.FontWeight
		style      types.FontStyle
		wantWeight types.FontWeight
		wantStyle  types.FontStyle
	}{
		{"exact bold", types.WeightBold, types.StyleNormal, types.WeightBold, types.StyleNormal},
		{"black falls to bold", types.WeightBlack, types.StyleNormal, types.WeightBold, types.StyleNormal},
		{"light falls to regular", types.WeightLight, types.StyleNormal, types.WeightRegular, types.StyleNormal},
		{"semibold ties resolve lighter", types.WeightSemiBold, types.StyleItalic, types.WeightMedium, types.StyleItalic},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resolved, ok := m.Resolve([]string{"go"}, tt.weight, tt.style)
			if !ok {
				t.Fatal("expected a match")
			}
			if resolved.Weight != tt.wantWeight || resolved.Style != tt.wantStyle {
				t.Fatalf("got %d/%s, want %d/%s", resolved.Weight, resolved.Style, tt.wantWeight, tt.wantStyle)
			}
		})
	}
}

func TestResolveMonoFallsBackToAnyStyle(t *testing.T) {
	m := newTestManager(t, &types.FontsConfig{DefaultFamily: BuiltinFamily})

	resolved, ok := m.Resolve([]string{"monospace"}, types.WeightRegular, types.StyleItalic)
	if !ok {
		t.Fatal("expected generic monospace to resolve")
	}
	if resolved.Family != BuiltinMonoFamily || resolved.Style != types.StyleNormal {
		t.Fatalf("got %s/%s", resolved.Family, resolved.Style)
	}
}

func TestResolveWithDefault(t *testing.T) {
	lenient := newTestManager(t, &types.FontsConfig{DefaultFamily: BuiltinFamily})
	resolved, err := lenient.ResolveWithDefault([]string{"Missing Sans"}, types.WeightRegular, types.StyleNormal)
	if err != nil {
		t.Fatalf("lenient resolve: %v", err)
	}
	if resolved.Family != BuiltinFamily {
		t.Fatalf("family = %q, want default", resolved.Family)
	}

	strict := newTestManager(t, &types.FontsConfig{DefaultFamily: BuiltinFamily, RequireMatch: true})
	_, err = strict.ResolveWithDefault([]string{"Missing Sans"}, types.WeightRegular, types.StyleNormal)
	if types.KindOf(err) != types.KindFontNotFound {
		t.Fatalf("strict resolve err = %v, want FontNotFound", err)
	}

	viaChain := newTestManager(t, &types.FontsConfig{DefaultFamily: BuiltinFamily, RequireMatch: true, FallbackChain: []string{"Go Mono"}})
	resolved, err = viaChain.ResolveWithDefault([]string{"Missing Sans"}, types.WeightRegular, types.StyleNormal)
	if err != nil || resolved.Family != BuiltinMonoFamily {
		t.Fatalf("fallback chain resolve = %v, %v", resolved, err)
	}
}

func TestRegisterRejectsDuplicatesAndGarbage(t *testing.T) {
	m := NewManager(logger.NewNop(), nil)

	if err := m.Register("Custom", types.WeightRegular, types.StyleNormal, goregular.TTF); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := m.Register("custom", types.WeightRegular, types.StyleNormal, gobold.TTF); !errors.Is(err, types.ErrFontExists) {
		t.Fatalf("duplicate err = %v, want ErrFontExists", err)
	}
	if err := m.Register("Broken", types.WeightRegular, types.StyleNormal, []byte("not a font")); !errors.Is(err, types.ErrFontInvalid) {
		t.Fatalf("garbage err = %v, want ErrFontInvalid", err)
	}
	if err := m.Register("Odd", types.FontWeight(450), types.StyleNormal, goregular.TTF); !errors.Is(err, types.ErrFontInvalid) {
		t.Fatalf("weight err = %v, want ErrFontInvalid", err)
	}
}

func TestFingerprintChangesOnRegister(t *testing.T) {
	m := NewManager(logger.NewNop(), nil)
	if err := m.Register("A", types.WeightRegular, types.StyleNormal, goregular.TTF); err != nil {
		t.Fatal(err)
	}
	before := m.Fingerprint()

	if err := m.Register("A", types.WeightBold, types.StyleNormal, gobold.TTF); err != nil {
		t.Fatal(err)
	}
	if m.Fingerprint() == before {
		t.Fatal("fingerprint did not change after registering a new face")
	}

	other := NewManager(logger.NewNop(), nil)
	_ = other.Register("A", types.WeightBold, types.StyleNormal, gobold.TTF)
	_ = other.Register("A", types.WeightRegular, types.StyleNormal, goregular.TTF)
	if other.Fingerprint() != m.Fingerprint() {
		t.Fatal("fingerprint depends on registration order")
	}
}

func TestLoadDir(t *testing.T) {
	dir := t.TempDir()
	files := map[string][]byte{
		"Brand_Sans-Bold.ttf": gobold.TTF,
		"Brand_Sans.ttf":      goregular.TTF,
		"notes.txt":           []byte("ignored"),
	}
	for name, data := range files {
		if err := os.WriteFile(filepath.Join(dir, name), data, 0644); err != nil {
			t.Fatal(err)
		}
	}

	m := NewManager(logger.NewNop(), nil)
	n, err := m.LoadDir(dir)
	if err != nil {
		t.Fatalf("LoadDir: %v", err)
	}
	if n != 2 {
		t.Fatalf("loaded %d fonts, want 2", n)
	}

	resolved, ok := m.Resolve([]string{"Brand Sans"}, types.WeightBold, types.StyleNormal)
	if !ok || resolved.Weight != types.WeightBold {
		t.Fatalf("resolve Brand Sans bold = %v, %v", resolved, ok)
	}
}

func TestParseFileName(t *testing.T) {
	tests := []struct {
		in     string
		family string
		weight types.FontWeight
		style  types.FontStyle
	}{
		{"Inter-SemiBoldItalic.ttf", "Inter", types.WeightSemiBold, types.StyleItalic},
		{"Inter-Italic.otf", "Inter", types.WeightRegular, types.StyleItalic},
		{"Inter-700.ttf", "Inter", types.WeightBold, types.StyleNormal},
		{"Open-Sans.ttf", "Open-Sans", types.WeightRegular, types.StyleNormal},
		{"Plain.ttf", "Plain", types.WeightRegular, types.StyleNormal},
	}

	for _, tt := range tests {
		family, weight, style := ParseFileName(tt.in)
		if family != tt.family || weight != tt.weight || style != tt.style {
			t.Errorf("ParseFileName(%q) = %q %d %s", tt.in, family, weight, style)
		}
	}
}

func TestNewFace(t *testing.T) {
	m := newTestManager(t, nil)
	resolved, _ := m.Resolve([]string{"Go"}, types.WeightRegular, types.StyleNormal)

	face, err := NewFace(resolved.Font, 32)
	if err != nil {
		t.Fatalf("NewFace: %v", err)
	}
	defer face.Close()

	if face.Metrics().Height <= 0 {
		t.Fatal("face has no height")
	}
}
