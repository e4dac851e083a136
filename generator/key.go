package generator

import (
	"encoding/hex"

	"golang.org/x/crypto/blake2b"

	"github.com/saiset-co/sai-og/types"
	"github.com/saiset-co/sai-og/utils"
)

type keyMaterial struct {
	Template     string                 `json:"template"`
	TemplateHash string                 `json:"template_hash"`
	Fonts        string                 `json:"fonts"`
	Data         map[string]interface{} `json:"data"`
	Width        int                    `json:"width"`
	Height       int                    `json:"height"`
	Background   *types.Color           `json:"background,omitempty"`
	TextColor    *types.Color           `json:"text_color,omitempty"`
	Format       types.Format           `json:"format"`
	Quality      *int                   `json:"quality,omitempty"`
	Compression  *int                   `json:"compression,omitempty"`
}

// CacheKey derives the content address of a request. Map keys are sorted
// before hashing, and the template content hash and font fingerprint are
// folded in so re-registering either yields new keys.
func CacheKey(params *types.RenderParams, templateHash, fontFingerprint string) (string, error) {
	raw, err := utils.MarshalCanonical(keyMaterial{
		Template:     params.Template,
		TemplateHash: templateHash,
		Fonts:        fontFingerprint,
		Data:         params.Data,
		Width:        params.Width,
		Height:       params.Height,
		Background:   params.BackgroundColor,
		TextColor:    params.TextColor,
		Format:       params.Format,
		Quality:      params.Quality,
		Compression:  params.Compression,
	})
	if err != nil {
		return "", types.WrapKind(types.KindInvalidParams, err, "data is not serializable")
	}

	sum := blake2b.Sum256(raw)
	return hex.EncodeToString(sum[:]), nil
}
