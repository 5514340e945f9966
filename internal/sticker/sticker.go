// Package sticker converts images into WhatsApp stickers: a 512x512 WebP
// carrying the sticker-pack EXIF block.
package sticker

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"log/slog"
	"strconv"
	"strings"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"

	"github.com/Xractz/whatsapp-assistant/internal/domain"
)

// Size is the edge length of a sticker canvas.
const Size = 512

const defaultQuality = 70

// exifHeader is a little-endian TIFF header with a single IFD entry
// (tag 0x5741, type UNDEFINED) pointing at the JSON payload at offset 22.
var exifHeader = []byte{
	0x49, 0x49, 0x2A, 0x00, 0x08, 0x00, 0x00, 0x00,
	0x01, 0x00, 0x41, 0x57, 0x07, 0x00, 0x00, 0x00,
	0x00, 0x00, 0x16, 0x00, 0x00, 0x00,
}

// exifCountOffset is where the payload length is written in exifHeader.
const exifCountOffset = 14

// Transcoder implements domain.StickerTranscoder.
type Transcoder struct {
	logger *slog.Logger
}

func New(logger *slog.Logger) *Transcoder {
	return &Transcoder{logger: logger}
}

// Build decodes an image (JPEG, PNG, GIF first frame, WebP ...), fits it
// into a 512x512 canvas and encodes it as a WebP sticker.
func (t *Transcoder) Build(ctx context.Context, data []byte, meta domain.StickerMetadata) ([]byte, error) {
	bg, err := ParseBackground(meta.Background)
	if err != nil {
		return nil, err
	}
	src, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	canvas := Fit(src, bg)

	quality := meta.Quality
	if quality < 1 || quality > 100 {
		quality = defaultQuality
	}
	var buf bytes.Buffer
	if err := webp.Encode(&buf, canvas, &webp.Options{Quality: float32(quality)}); err != nil {
		return nil, fmt.Errorf("encode webp: %w", err)
	}

	exif, err := BuildEXIF(meta)
	if err != nil {
		return nil, err
	}
	out, err := webp.SetMetadata(buf.Bytes(), exif, "EXIF")
	if err != nil {
		return nil, fmt.Errorf("attach sticker metadata: %w", err)
	}

	t.logger.Debug("sticker built",
		"source", fmt.Sprintf("%dx%d", src.Bounds().Dx(), src.Bounds().Dy()),
		"bytes", len(out),
		"quality", quality,
	)
	return out, nil
}

// Fit scales img to fit within Size x Size, keeping its aspect ratio, and
// centres it on a square canvas filled with bg.
func Fit(img image.Image, bg color.Color) *image.NRGBA {
	b := img.Bounds()
	switch {
	case b.Dx() > Size || b.Dy() > Size:
		img = imaging.Fit(img, Size, Size, imaging.Lanczos)
	case b.Dx() < Size && b.Dy() < Size:
		img = upscale(img)
	}
	return imaging.PasteCenter(imaging.New(Size, Size, bg), img)
}

func upscale(img image.Image) image.Image {
	b := img.Bounds()
	if b.Dx() >= b.Dy() {
		return imaging.Resize(img, Size, 0, imaging.Lanczos)
	}
	return imaging.Resize(img, 0, Size, imaging.Lanczos)
}

// ParseBackground accepts "transparent" (or empty) and "#rrggbb".
func ParseBackground(s string) (color.Color, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" || s == "transparent" {
		return color.NRGBA{}, nil
	}
	hex, ok := strings.CutPrefix(s, "#")
	if !ok || len(hex) != 6 {
		return nil, fmt.Errorf("invalid sticker background %q: want transparent or #rrggbb", s)
	}
	v, err := strconv.ParseUint(hex, 16, 32)
	if err != nil {
		return nil, fmt.Errorf("invalid sticker background %q: %w", s, err)
	}
	return color.NRGBA{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v), A: 0xFF}, nil
}

type packInfo struct {
	PackID    string   `json:"sticker-pack-id"`
	Name      string   `json:"sticker-pack-name"`
	Publisher string   `json:"sticker-pack-publisher"`
	Emojis    []string `json:"emojis"`
}

// BuildEXIF returns the EXIF block WhatsApp reads pack name, author and
// emoji categories from.
func BuildEXIF(meta domain.StickerMetadata) ([]byte, error) {
	emojis := meta.Categories
	if emojis == nil {
		emojis = []string{}
	}
	payload, err := json.Marshal(packInfo{
		PackID:    meta.PackID,
		Name:      meta.Pack,
		Publisher: meta.Author,
		Emojis:    emojis,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal sticker metadata: %w", err)
	}

	exif := make([]byte, len(exifHeader)+len(payload))
	copy(exif, exifHeader)
	binary.LittleEndian.PutUint32(exif[exifCountOffset:], uint32(len(payload)))
	copy(exif[len(exifHeader):], payload)
	return exif, nil
}
