// Package segment splits job content into ordered segments and groups them
// into size-bounded batches. Everything here is deterministic: the same text
// and policy always produce the same segments and batches.
package segment

import (
	"errors"
	"strings"
	"unicode"

	"translator/internal/config"
	"translator/internal/model"
)

// ErrEmptyContent is returned when the content has nothing to translate
var ErrEmptyContent = errors.New("empty content: nothing to translate")

// Mode selects how content is split into segments
type Mode string

const (
	ModeSentence Mode = "sentence"
	ModeNewline  Mode = "newline"
	ModeLength   Mode = "length"
)

// Policy controls segment and batch sizing. Sizes are counted in runes.
type Policy struct {
	Mode            Mode
	MaxSegmentChars int
	MaxBatchChars   int
	MaxBatches      int

	SmallContentChars   int
	LargeContentChars   int
	SmallBatchSegments  int
	MediumBatchSegments int
	LargeBatchSegments  int

	// SlotChars is the amount of content that earns one concurrency slot
	SlotChars int
}

// DefaultPolicy returns the default sizing policy
func DefaultPolicy() Policy {
	return Policy{
		Mode:                ModeSentence,
		MaxSegmentChars:     1000,
		MaxBatchChars:       8000,
		MaxBatches:          200,
		SmallContentChars:   10000,
		LargeContentChars:   50000,
		SmallBatchSegments:  25,
		MediumBatchSegments: 15,
		LargeBatchSegments:  10,
		SlotChars:           4000,
	}
}

// PolicyFromConfig overlays configured values onto the defaults
func PolicyFromConfig(cfg config.SegmentationConfig) Policy {
	p := DefaultPolicy()
	if cfg.Mode != "" {
		p.Mode = Mode(cfg.Mode)
	}
	setIfPositive(&p.MaxSegmentChars, cfg.MaxSegmentChars)
	setIfPositive(&p.MaxBatchChars, cfg.MaxBatchChars)
	setIfPositive(&p.MaxBatches, cfg.MaxBatches)
	setIfPositive(&p.SmallContentChars, cfg.SmallContentChars)
	setIfPositive(&p.LargeContentChars, cfg.LargeContentChars)
	setIfPositive(&p.SmallBatchSegments, cfg.SmallBatchSegments)
	setIfPositive(&p.MediumBatchSegments, cfg.MediumBatchSegments)
	setIfPositive(&p.LargeBatchSegments, cfg.LargeBatchSegments)
	setIfPositive(&p.SlotChars, cfg.SlotChars)
	return p
}

func setIfPositive(dst *int, v int) {
	if v > 0 {
		*dst = v
	}
}

// Engine segments and batches content under a fixed policy
type Engine struct {
	policy Policy
}

// New creates an engine. Zero fields in p fall back to the defaults.
func New(p Policy) *Engine {
	d := DefaultPolicy()
	if p.Mode == "" {
		p.Mode = d.Mode
	}
	for _, f := range []struct{ dst *int; def int }{
		{&p.MaxSegmentChars, d.MaxSegmentChars},
		{&p.MaxBatchChars, d.MaxBatchChars},
		{&p.MaxBatches, d.MaxBatches},
		{&p.SmallContentChars, d.SmallContentChars},
		{&p.LargeContentChars, d.LargeContentChars},
		{&p.SmallBatchSegments, d.SmallBatchSegments},
		{&p.MediumBatchSegments, d.MediumBatchSegments},
		{&p.LargeBatchSegments, d.LargeBatchSegments},
		{&p.SlotChars, d.SlotChars},
	} {
		if *f.dst <= 0 {
			*f.dst = f.def
		}
	}
	return &Engine{policy: p}
}

// Policy returns the effective policy
func (e *Engine) Policy() Policy {
	return e.policy
}

// Segment splits text into ordered segments with indices [0, N)
func (e *Engine) Segment(text string) ([]model.Segment, error) {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyContent
	}

	var (
		texts []string
		seps  []string
	)

	for _, unit := range e.units(text) {
		for _, piece := range splitByLength(unit, e.policy.MaxSegmentChars) {
			rest := strings.TrimLeftFunc(piece, unicode.IsSpace)
			lead := piece[:len(piece)-len(rest)]
			body := strings.TrimRightFunc(rest, unicode.IsSpace)
			tail := rest[len(body):]

			if len(texts) > 0 {
				seps[len(seps)-1] += lead
			}
			if body == "" {
				if len(texts) > 0 {
					seps[len(seps)-1] += tail
				}
				continue
			}
			texts = append(texts, body)
			seps = append(seps, tail)
		}
	}

	if len(texts) == 0 {
		return nil, ErrEmptyContent
	}

	segments := make([]model.Segment, len(texts))
	for i, t := range texts {
		segments[i] = model.Segment{Index: i, Text: t, Trailing: normalizeSeparator(seps[i])}
	}
	segments[len(segments)-1].Trailing = ""

	return segments, nil
}

// units cuts text into raw units whose concatenation is exactly text
func (e *Engine) units(text string) []string {
	if e.policy.Mode == ModeLength {
		return []string{text}
	}

	sentences := e.policy.Mode != ModeNewline
	r := []rune(text)

	var units []string
	start := 0
	for i := 0; i < len(r); i++ {
		c := r[i]
		j := i + 1
		boundary := false

		switch {
		case c == '\n':
			boundary = true
		case sentences && isHardStop(c):
			boundary = true
		case sentences && isTerminator(c):
			for j < len(r) && isCloser(r[j]) {
				j++
			}
			boundary = j < len(r) && unicode.IsSpace(r[j])
		}

		if !boundary {
			continue
		}

		for j < len(r) && (unicode.IsSpace(r[j]) || (sentences && isHardStop(r[j]))) {
			j++
		}
		units = append(units, string(r[start:j]))
		start = j
		i = j - 1
	}

	if start < len(r) {
		units = append(units, string(r[start:]))
	}

	return units
}

// splitByLength cuts s into pieces of at most max runes, preferring to cut
// after a newline, then after a sentence end, then after a space.
// Concatenating the pieces yields s.
func splitByLength(s string, max int) []string {
	r := []rune(s)
	if max <= 0 || len(r) <= max {
		return []string{s}
	}

	var pieces []string
	for len(r) > max {
		window := r[:max]
		cut := lastCut(window, func(w []rune, i int) bool { return w[i] == '\n' })
		if cut <= 0 {
			cut = lastCut(window, func(w []rune, i int) bool {
				if isHardStop(w[i]) {
					return true
				}
				return isTerminator(w[i]) && i+1 < len(w) && unicode.IsSpace(w[i+1])
			})
		}
		if cut <= 0 {
			cut = lastCut(window, func(w []rune, i int) bool { return w[i] == ' ' })
		}
		if cut <= 0 {
			cut = max
		}
		pieces = append(pieces, string(r[:cut]))
		r = r[cut:]
	}
	if len(r) > 0 {
		pieces = append(pieces, string(r))
	}
	return pieces
}

// lastCut returns the position just after the last rune matching fn, or 0
func lastCut(w []rune, fn func([]rune, int) bool) int {
	for i := len(w) - 1; i > 0; i-- {
		if fn(w, i) {
			return i + 1
		}
	}
	return 0
}

func normalizeSeparator(ws string) string {
	if n := strings.Count(ws, "\n"); n > 0 {
		return strings.Repeat("\n", n)
	}
	if ws != "" {
		return " "
	}
	return ""
}

func isTerminator(c rune) bool {
	return c == '.' || c == '!' || c == '?'
}

// isHardStop covers terminators that end a sentence without trailing
// whitespace: CJK full stops and Tibetan shad marks.
func isHardStop(c rune) bool {
	switch c {
	case '。', '！', '？', '།', '༎', '༑', '༈', '༏', '༐', '༔':
		return true
	}
	return false
}

func isCloser(c rune) bool {
	switch c {
	case '"', '\'', ')', ']', '”', '’', '»':
		return true
	}
	return false
}
