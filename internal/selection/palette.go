package selection

import "github.com/stagepass/checkout/internal/domain"

// paletteColors is the fixed set of grade colors, assigned by first-seen
// order. With more grades than colors the palette wraps around.
var paletteColors = []string{
	"#4F46E5", // indigo
	"#059669", // emerald
	"#D97706", // amber
	"#DC2626", // red
	"#7C3AED", // violet
	"#0891B2", // cyan
}

// GradePalette maps each distinct grade name to a color. The mapping is
// built once per flow session from the seat inventory, so a grade never
// changes color mid-flow.
type GradePalette struct {
	colors map[string]string
	order  []string
}

// NewGradePalette assigns colors to grades in the order they first appear
// in the given seats.
func NewGradePalette(seats []domain.SelectableSeat) *GradePalette {
	p := &GradePalette{colors: make(map[string]string)}
	for _, seat := range seats {
		if _, seen := p.colors[seat.Grade]; seen {
			continue
		}
		p.colors[seat.Grade] = paletteColors[len(p.order)%len(paletteColors)]
		p.order = append(p.order, seat.Grade)
	}
	return p
}

func (p *GradePalette) Color(grade string) (string, bool) {
	c, ok := p.colors[grade]
	return c, ok
}

// Grades returns the grade names in first-seen order.
func (p *GradePalette) Grades() []string {
	out := make([]string, len(p.order))
	copy(out, p.order)
	return out
}

// Colors returns the full grade→color mapping.
func (p *GradePalette) Colors() map[string]string {
	out := make(map[string]string, len(p.colors))
	for grade, color := range p.colors {
		out[grade] = color
	}
	return out
}
