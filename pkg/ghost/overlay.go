package ghost

import (
	"github.com/atinylittleshell/autotab/pkg/page"
)

const (
	OverlayClass = "ai-ghost-text"
	OverlayColor = "rgba(128, 128, 128, 0.8)"
)

// Surface is where the overlay node is attached.
type Surface interface {
	AppendNode(n *page.Node)
	RemoveNode(n *page.Node) bool
	ScrollOffset() (x, y float64)
}

// Overlay holds at most one node on its surface.
type Overlay struct {
	surface Surface
	node    *page.Node
}

func NewOverlay(surface Surface) *Overlay {
	return &Overlay{surface: surface}
}

// Show replaces any current node with one holding text, placed at the
// anchor's bottom-left corner in page coordinates.
func (o *Overlay) Show(text string, anchor page.Rect) {
	o.Hide()

	scrollX, scrollY := o.surface.ScrollOffset()
	o.node = &page.Node{
		Class:         OverlayClass,
		Text:          text,
		Position:      "absolute",
		Top:           anchor.Bottom() + scrollY,
		Left:          anchor.Left + scrollX,
		Color:         OverlayColor,
		PointerEvents: false,
	}
	o.surface.AppendNode(o.node)
}

// Hide removes the node if present and reports whether one was removed.
func (o *Overlay) Hide() bool {
	if o.node == nil {
		return false
	}
	o.surface.RemoveNode(o.node)
	o.node = nil
	return true
}

func (o *Overlay) Visible() bool {
	return o.node != nil
}

func (o *Overlay) Text() string {
	if o.node == nil {
		return ""
	}
	return o.node.Text
}
