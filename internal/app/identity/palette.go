package identity

import (
	"github.com/lucasb-eyer/go-colorful"
)

// DefaultPaletteSize is the number of cursor colors before the rotation wraps.
const DefaultPaletteSize = 12

const goldenRatio = 0.618033988749895

// Palette hands out cursor colors round-robin over a fixed list. Colors are never
// reclaimed when a user leaves, so two users share a color once the list wraps.
//
// A Palette belongs to one room and is only touched from that room's loop.
type Palette struct {
	colors []string
	next   int
}

// NewPalette builds a palette of size colors spread around the hue circle by the golden ratio.
func NewPalette(size int) *Palette {
	if size <= 0 {
		size = DefaultPaletteSize
	}

	colors := make([]string, size)
	for i := range colors {
		hue := float64(i) * goldenRatio
		hue -= float64(int(hue))

		colors[i] = colorful.Hsl(hue*360, 0.85, 0.55).Hex()
	}

	return &Palette{colors: colors}
}

// Next returns the next color in rotation.
func (p *Palette) Next() string {
	color := p.colors[p.next]
	p.next = (p.next + 1) % len(p.colors)

	return color
}

// Size returns the number of distinct colors.
func (p *Palette) Size() int {
	return len(p.colors)
}
