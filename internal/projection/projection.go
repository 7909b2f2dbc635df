// Package projection turns raw stage results into the strings a viewer shows.
// Projectors are pure: the same input always yields the same Display, and no
// input makes them panic. Input they cannot handle maps to a placeholder.
package projection

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"

	"github.com/signalsfoundry/reactive-labs/model"
)

// PlaceholderText is shown for values a projector could not render.
const PlaceholderText = "n/a"

// Display is a rendered result.
type Display struct {
	Text        string `json:"text"`
	Placeholder bool   `json:"placeholder,omitempty"`
}

func (d Display) String() string { return d.Text }

// Placeholder returns the display used for invalid input.
func Placeholder() Display { return Display{Text: PlaceholderText, Placeholder: true} }

// Text wraps s as a regular display.
func Text(s string) Display { return Display{Text: s} }

// Projector maps a raw value to a Display.
type Projector interface {
	Project(raw any) Display
}

// Func adapts a function to Projector. A panicking function yields a placeholder.
type Func func(raw any) Display

// Project implements Projector.
func (f Func) Project(raw any) (d Display) {
	defer func() {
		if recover() != nil {
			d = Placeholder()
		}
	}()
	return f(raw)
}

// Tick renders a non-negative integer count as "Tick N".
var Tick Projector = Func(func(raw any) Display {
	n, ok := toInt(raw)
	if !ok || n < 0 {
		return Placeholder()
	}
	return Text("Tick " + strconv.FormatInt(n, 10))
})

// Number renders integers and finite floats in their shortest decimal form.
var Number Projector = Func(func(raw any) Display {
	if n, ok := toInt(raw); ok {
		return Text(strconv.FormatInt(n, 10))
	}
	var f float64
	switch v := raw.(type) {
	case float64:
		f = v
	case float32:
		f = float64(v)
	default:
		return Placeholder()
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return Placeholder()
	}
	return Text(strconv.FormatFloat(f, 'f', -1, 64))
})

// String renders strings and fmt.Stringers verbatim.
var String Projector = Func(func(raw any) Display {
	switch v := raw.(type) {
	case string:
		return Text(v)
	case fmt.Stringer:
		return Text(v.String())
	default:
		return Placeholder()
	}
})

// Payload renders an API payload as compact JSON, truncated to MaxRunes
// runes followed by "...". Map keys are sorted, so output is deterministic.
type Payload struct {
	MaxRunes int
}

// Project implements Projector.
func (p Payload) Project(raw any) Display {
	if raw == nil {
		return Placeholder()
	}
	b, err := json.Marshal(raw)
	if err != nil {
		return Placeholder()
	}
	return Text(Truncate(string(b), p.MaxRunes))
}

// PostTitle renders a post as "Post {id}: {first MaxTitle runes of title}...".
// It accepts model.Post values and decoded JSON objects.
type PostTitle struct {
	MaxTitle int
}

// Project implements Projector.
func (p PostTitle) Project(raw any) Display {
	var post model.Post
	switch v := raw.(type) {
	case model.Post:
		post = v
	case *model.Post:
		if v == nil {
			return Placeholder()
		}
		post = *v
	case map[string]any:
		var ok bool
		if post, ok = model.PostFromMap(v); !ok {
			return Placeholder()
		}
	default:
		return Placeholder()
	}
	limit := p.MaxTitle
	if limit <= 0 {
		limit = 30
	}
	title := []rune(post.Title)
	if len(title) > limit {
		title = title[:limit]
	}
	return Text(fmt.Sprintf("Post %d: %s...", post.ID, string(title)))
}

// Chain tries each projector in order and returns the first non-placeholder display.
func Chain(ps ...Projector) Projector {
	return Func(func(raw any) Display {
		for _, p := range ps {
			if d := p.Project(raw); !d.Placeholder {
				return d
			}
		}
		return Placeholder()
	})
}

// Default handles the values the labs produce: strings, numbers, then JSON payloads.
var Default = Chain(String, Number, Payload{MaxRunes: 80})

// Truncate shortens s to limit runes and appends "..." when it was cut. A
// non-positive limit leaves s untouched.
func Truncate(s string, limit int) string {
	if limit <= 0 {
		return s
	}
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit]) + "..."
}

func toInt(raw any) (int64, bool) {
	switch v := raw.(type) {
	case int:
		return int64(v), true
	case int8:
		return int64(v), true
	case int16:
		return int64(v), true
	case int32:
		return int64(v), true
	case int64:
		return v, true
	case uint:
		if uint64(v) > math.MaxInt64 {
			return 0, false
		}
		return int64(v), true
	case uint8:
		return int64(v), true
	case uint16:
		return int64(v), true
	case uint32:
		return int64(v), true
	case uint64:
		if v > math.MaxInt64 {
			return 0, false
		}
		return int64(v), true
	default:
		return 0, false
	}
}
