package core

import (
	"fmt"
	"image"
	"image/draw"

	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/gomono"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/math/fixed"
)

type TextVertex struct {
	Pos   [2]float32
	UV    [2]float32
	Color [4]float32
}

type TextItem struct {
	Text     string
	Position [2]float32 // pixels from the top-left corner
	Scale    float32
	Color    [4]float32
}

type GlyphInfo struct {
	UVMin [2]float32
	UVMax [2]float32
	Size  [2]float32
	Off   [2]float32
	Adv   float32
}

// TextAtlas rasterizes printable ASCII of the Go Mono face into one alpha atlas for the overlay.
type TextAtlas struct {
	Image  *image.Alpha
	Glyphs map[rune]GlyphInfo
	Face   font.Face
}

const atlasSize = 512

func NewTextAtlas(fontSize float64) (*TextAtlas, error) {
	f, err := opentype.Parse(gomono.TTF)
	if err != nil {
		return nil, fmt.Errorf("failed to parse font: %w", err)
	}
	face, err := opentype.NewFace(f, &opentype.FaceOptions{
		Size:    fontSize,
		DPI:     72,
		Hinting: font.HintingFull,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create face: %w", err)
	}

	atlas := image.NewAlpha(image.Rect(0, 0, atlasSize, atlasSize))
	glyphs := make(map[rune]GlyphInfo)
	const pad = 2
	cursor, shelf := image.Pt(pad, pad), 0
	for r := rune(' '); r <= '~'; r++ {
		dr, mask, maskp, adv, ok := face.Glyph(fixed.Point26_6{}, r)
		if !ok {
			continue
		}
		size := dr.Size()
		if cursor.X+size.X+pad > atlasSize {
			cursor = image.Pt(pad, cursor.Y+shelf+2*pad)
			shelf = 0
		}
		if cursor.Y+size.Y+pad > atlasSize {
			return nil, fmt.Errorf("font size %.0f does not fit a %dpx atlas", fontSize, atlasSize)
		}
		cell := image.Rectangle{Min: cursor, Max: cursor.Add(size)}
		draw.Draw(atlas, cell, mask, maskp, draw.Src)
		glyphs[r] = GlyphInfo{
			UVMin: [2]float32{float32(cell.Min.X) / atlasSize, float32(cell.Min.Y) / atlasSize},
			UVMax: [2]float32{float32(cell.Max.X) / atlasSize, float32(cell.Max.Y) / atlasSize},
			Size:  [2]float32{float32(size.X), float32(size.Y)},
			Off:   [2]float32{float32(dr.Min.X), float32(dr.Min.Y)},
			Adv:   float32(adv) / 64,
		}
		cursor.X += size.X + 2*pad
		shelf = max(shelf, size.Y)
	}
	return &TextAtlas{Image: atlas, Glyphs: glyphs, Face: face}, nil
}

// glyphQuad appends the two triangles of one glyph. Corners are in pixels from the top-left.
func glyphQuad(out []TextVertex, p0, p1 [2]float32, g GlyphInfo, c [4]float32, sw, sh float32) []TextVertex {
	ndc := func(x, y float32) [2]float32 { return [2]float32{2*x/sw - 1, 1 - 2*y/sh} }
	tl := TextVertex{Pos: ndc(p0[0], p0[1]), UV: g.UVMin, Color: c}
	tr := TextVertex{Pos: ndc(p1[0], p0[1]), UV: [2]float32{g.UVMax[0], g.UVMin[1]}, Color: c}
	bl := TextVertex{Pos: ndc(p0[0], p1[1]), UV: [2]float32{g.UVMin[0], g.UVMax[1]}, Color: c}
	br := TextVertex{Pos: ndc(p1[0], p1[1]), UV: g.UVMax, Color: c}
	return append(out, tl, tr, bl, tr, br, bl)
}

// BuildVertices lays items out as clip-space triangles for a screenW x screenH target. A newline
// returns to the item's x position one line lower; runes missing from the atlas are skipped.
func (ta *TextAtlas) BuildVertices(items []TextItem, screenW, screenH int) []TextVertex {
	var out []TextVertex
	sw, sh := float32(screenW), float32(screenH)
	m := ta.Face.Metrics()
	ascent, line := float32(m.Ascent.Ceil()), float32(m.Height.Ceil())
	for _, it := range items {
		x, y := it.Position[0], it.Position[1]+ascent*it.Scale
		for _, r := range it.Text {
			if r == '\n' {
				x, y = it.Position[0], y+line*it.Scale
				continue
			}
			g, ok := ta.Glyphs[r]
			if !ok {
				continue
			}
			p0 := [2]float32{x + g.Off[0]*it.Scale, y + g.Off[1]*it.Scale}
			p1 := [2]float32{p0[0] + g.Size[0]*it.Scale, p0[1] + g.Size[1]*it.Scale}
			out = glyphQuad(out, p0, p1, g, it.Color, sw, sh)
			x += g.Adv * it.Scale
		}
	}
	return out
}

func (ta *TextAtlas) LineHeight(scale float32) float32 {
	return float32(ta.Face.Metrics().Height.Ceil()) * scale
}
