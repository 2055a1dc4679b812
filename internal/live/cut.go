package live

import (
	"math"
	"strings"
	"time"

	"github.com/loqalabs/loqa-dictation/internal/stt"
)

// Cut splits a transcription of the unconfirmed span. Confirmed becomes
// permanent, At is the audio offset (relative to the span start) up to which
// the confirmed text reaches, and Rest is the remaining text for display.
type Cut struct {
	Confirmed string
	At        time.Duration
	Rest      string
}

// CutPolicy decides how much of an unconfirmed span to make permanent.
// fraction is the configured share of the span to aim for. Returning a Cut
// with At <= 0 confirms nothing.
type CutPolicy func(res stt.Result, span time.Duration, fraction float64) Cut

// SegmentCut cuts at the segment boundary nearest to fraction*span, never at
// the final boundary since the last segment may still be growing. Without
// usable segments it falls back to WordCut.
func SegmentCut(res stt.Result, span time.Duration, fraction float64) Cut {
	target := time.Duration(float64(span) * fraction)
	segs := res.Segments
	best := -1
	var bestDist time.Duration
	for i, seg := range segs[:max(len(segs)-1, 0)] {
		if seg.End <= 0 || seg.End >= span {
			continue
		}
		dist := seg.End - target
		if dist < 0 {
			dist = -dist
		}
		if best < 0 || dist < bestDist {
			best, bestDist = i, dist
		}
	}
	if best < 0 {
		return WordCut(res, span, fraction)
	}
	return Cut{
		Confirmed: stt.JoinSegments(segs[:best+1]),
		At:        segs[best].End,
		Rest:      stt.JoinSegments(segs[best+1:]),
	}
}

// WordCut confirms fraction of the words and assumes they are spread evenly
// over the span. It can drop or repeat a word at the cut when speech is
// uneven.
func WordCut(res stt.Result, span time.Duration, fraction float64) Cut {
	words := strings.Fields(res.Text)
	if len(words) < 2 {
		return Cut{Rest: strings.Join(words, " ")}
	}
	k := int(math.Round(float64(len(words)) * fraction))
	k = min(max(k, 1), len(words)-1)
	return Cut{
		Confirmed: strings.Join(words[:k], " "),
		At:        time.Duration(float64(span) * float64(k) / float64(len(words))),
		Rest:      strings.Join(words[k:], " "),
	}
}

func joinText(parts ...string) string {
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, " ")
}
