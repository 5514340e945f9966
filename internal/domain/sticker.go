package domain

import "context"

// StickerMetadata is embedded into every sticker the bot produces.
type StickerMetadata struct {
	PackID     string
	Author     string
	Pack       string
	Categories []string
	Quality    int    // 1-100
	Background string // "transparent" or #rrggbb
}

// StickerTranscoder converts image bytes into a sticker payload.
type StickerTranscoder interface {
	Build(ctx context.Context, data []byte, meta StickerMetadata) ([]byte, error)
}
