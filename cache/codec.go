package cache

import (
	"encoding/binary"
	"time"

	"github.com/saiset-co/sai-og/types"
	"github.com/saiset-co/sai-og/utils"
)

var entryMagic = [4]byte{'O', 'G', 'C', '1'}

type entryHeader struct {
	ContentType string    `json:"content_type"`
	Width       int       `json:"width"`
	Height      int       `json:"height"`
	CreatedAt   time.Time `json:"created_at"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// encodeEntry lays an entry out as magic, header length, JSON header, then
// the raw image bytes.
func encodeEntry(entry *types.CacheEntry) ([]byte, error) {
	header, err := utils.Marshal(entryHeader{
		ContentType: entry.ContentType,
		Width:       entry.Width,
		Height:      entry.Height,
		CreatedAt:   entry.CreatedAt,
		ExpiresAt:   entry.ExpiresAt,
	})
	if err != nil {
		return nil, types.WrapError(err, "failed to marshal cache entry header")
	}

	out := make([]byte, 0, 8+len(header)+len(entry.Data))
	out = append(out, entryMagic[:]...)
	out = binary.BigEndian.AppendUint32(out, uint32(len(header)))
	out = append(out, header...)
	out = append(out, entry.Data...)
	return out, nil
}

func decodeEntry(raw []byte) (*types.CacheEntry, error) {
	header, data, err := splitEntry(raw)
	if err != nil {
		return nil, err
	}

	var h entryHeader
	if err := utils.Unmarshal(header, &h); err != nil {
		return nil, types.Errorf(types.ErrCacheEntryCorrupt, "header: %v", err)
	}

	return &types.CacheEntry{
		Data:        data,
		ContentType: h.ContentType,
		Width:       h.Width,
		Height:      h.Height,
		CreatedAt:   h.CreatedAt,
		ExpiresAt:   h.ExpiresAt,
	}, nil
}

func splitEntry(raw []byte) ([]byte, []byte, error) {
	if len(raw) < 8 || [4]byte(raw[:4]) != entryMagic {
		return nil, nil, types.Errorf(types.ErrCacheEntryCorrupt, "bad magic")
	}

	n := int(binary.BigEndian.Uint32(raw[4:8]))
	if n > len(raw)-8 {
		return nil, nil, types.Errorf(types.ErrCacheEntryCorrupt, "header length %d exceeds entry", n)
	}

	return raw[8 : 8+n], raw[8+n:], nil
}
