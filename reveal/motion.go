package reveal

import (
	"fmt"
	"strconv"
	"strings"
)

// Direction is the side a block slides in from.
type Direction string

const (
	None  Direction = ""
	Up    Direction = "up"
	Down  Direction = "down"
	Left  Direction = "left"
	Right Direction = "right"
)

// offset is how far, in pixels, a block starts from its resting place.
const offset = 100

// Animation is the per-block entrance configuration.
type Animation struct {
	Direction       Direction
	DelaySeconds    float64
	DurationSeconds float64
}

// Frame is one end of an entrance animation.
type Frame struct {
	X       float64 `json:"x"`
	Y       float64 `json:"y"`
	Opacity float64 `json:"opacity"`
}

// Transition describes how a block moves between frames.
type Transition struct {
	Type     string  `json:"type"`
	Delay    float64 `json:"delay"`
	Duration float64 `json:"duration"`
	Ease     string  `json:"ease"`
}

// Variant pairs the hidden and shown frames of an animation.
type Variant struct {
	Hidden     Frame      `json:"hidden"`
	Show       Frame      `json:"show"`
	Transition Transition `json:"transition"`
}

// FadeIn builds a fade-and-slide variant. "up" rises from below, "down"
// drops from above, "left" enters from the right and "right" from the left.
func FadeIn(a Animation) Variant {
	hidden := Frame{Opacity: 0}
	switch a.Direction {
	case Up:
		hidden.Y = offset
	case Down:
		hidden.Y = -offset
	case Left:
		hidden.X = offset
	case Right:
		hidden.X = -offset
	}
	return Variant{
		Hidden: hidden,
		Show:   Frame{Opacity: 1},
		Transition: Transition{
			Type:     "tween",
			Delay:    a.DelaySeconds,
			Duration: a.DurationSeconds,
			Ease:     "easeOut",
		},
	}
}

// Stagger shifts a's delay for the index-th child of a list.
func Stagger(a Animation, index int, step float64) Animation {
	a.DelaySeconds += float64(index) * step
	return a
}

// HiddenStyle renders the hidden frame as inline CSS.
func (v Variant) HiddenStyle() string {
	return frameStyle(v.Hidden)
}

// ShownStyle renders the shown frame and its transition as inline CSS.
func (v Variant) ShownStyle() string {
	t := v.Transition
	timing := fmt.Sprintf("%ss ease-out %ss", num(t.Duration), num(t.Delay))
	return frameStyle(v.Show) + ";transition:opacity " + timing + ",transform " + timing
}

func frameStyle(f Frame) string {
	var b strings.Builder
	b.WriteString("opacity:")
	b.WriteString(num(f.Opacity))
	b.WriteString(";transform:")
	if f.X == 0 && f.Y == 0 {
		b.WriteString("none")
	} else {
		fmt.Fprintf(&b, "translate(%spx,%spx)", num(f.X), num(f.Y))
	}
	return b.String()
}

func num(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
