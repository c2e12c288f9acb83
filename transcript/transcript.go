package transcript

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// MergeGap is the largest pause, in seconds, that Compact bridges between
// two segments of the same speaker.
const MergeGap = 0.5

var ErrInvalidSegment = errors.New("invalid segment")

// Segment is a contiguous span of transcribed text. Start and End are
// seconds; an empty Speaker means unattributed.
type Segment struct {
	Text    string  `json:"text"`
	Start   float64 `json:"start"`
	End     float64 `json:"end"`
	Speaker string  `json:"speaker,omitempty"`
}

func NewSegment(text string, start, end float64, speaker string) (Segment, error) {
	if start > end {
		return Segment{}, fmt.Errorf("%w: start %.3f after end %.3f", ErrInvalidSegment, start, end)
	}
	return Segment{Text: text, Start: start, End: end, Speaker: speaker}, nil
}

func (s Segment) Duration() float64 {
	return s.End - s.Start
}

// Transcript is an immutable, start-ordered sequence of segments.
type Transcript struct {
	Segments []Segment `json:"segments"`
}

// New builds a transcript, ordering the segments by start.
func New(segments ...Segment) Transcript {
	segs := make([]Segment, len(segments))
	copy(segs, segments)
	sort.SliceStable(segs, func(i, j int) bool {
		return segs[i].Start < segs[j].Start
	})
	return Transcript{Segments: segs}
}

func (t Transcript) Len() int {
	return len(t.Segments)
}

// Start is the absolute start of the first segment.
func (t Transcript) Start() float64 {
	if len(t.Segments) == 0 {
		return 0
	}
	return t.Segments[0].Start
}

// Seconds is the span from the first start to the latest end.
func (t Transcript) Seconds() float64 {
	if len(t.Segments) == 0 {
		return 0
	}
	end := t.Segments[0].End
	for _, s := range t.Segments[1:] {
		if s.End > end {
			end = s.End
		}
	}
	return end - t.Start()
}

// Before keeps segments starting strictly before d seconds into the
// transcript.
func (t Transcript) Before(d float64) Transcript {
	limit := t.Start() + d
	return t.filter(func(s Segment) bool { return s.Start < limit })
}

// After keeps segments starting at or after s seconds into the transcript.
func (t Transcript) After(s float64) Transcript {
	limit := t.Start() + s
	return t.filter(func(seg Segment) bool { return seg.Start >= limit })
}

func (t Transcript) WithRole(roles RoleResolver, role Role) Transcript {
	return t.filter(func(s Segment) bool { return roles.Role(s.Speaker) == role })
}

func (t Transcript) filter(keep func(Segment) bool) Transcript {
	out := make([]Segment, 0, len(t.Segments))
	for _, s := range t.Segments {
		if keep(s) {
			out = append(out, s)
		}
	}
	return Transcript{Segments: out}
}

// Compact merges neighbouring segments of the same speaker separated by at
// most MergeGap seconds, in a single pass, and drops blank segments.
func (t Transcript) Compact() Transcript {
	out := make([]Segment, 0, len(t.Segments))
	for _, s := range t.Segments {
		if strings.TrimSpace(s.Text) == "" {
			continue
		}
		if n := len(out); n > 0 {
			last := &out[n-1]
			if last.Speaker == s.Speaker && s.Start-last.End <= MergeGap {
				last.Text = last.Text + " " + s.Text
				if s.End > last.End {
					last.End = s.End
				}
				continue
			}
		}
		out = append(out, s)
	}
	return Transcript{Segments: out}
}

// Speakers lists the distinct speaker labels, sorted.
func (t Transcript) Speakers() []string {
	seen := make(map[string]struct{})
	var speakers []string
	for _, s := range t.Segments {
		if s.Speaker == "" {
			continue
		}
		if _, ok := seen[s.Speaker]; ok {
			continue
		}
		seen[s.Speaker] = struct{}{}
		speakers = append(speakers, s.Speaker)
	}
	sort.Strings(speakers)
	return speakers
}

// Text joins all segment texts with spaces.
func (t Transcript) Text() string {
	parts := make([]string, 0, len(t.Segments))
	for _, s := range t.Segments {
		parts = append(parts, s.Text)
	}
	return strings.Join(parts, " ")
}

func (t Transcript) String() string {
	var sb strings.Builder
	t0 := t.Start()
	for _, s := range t.Segments {
		offset := int(s.Start - t0)
		speaker := s.Speaker
		if speaker == "" {
			speaker = "unknown"
		}
		fmt.Fprintf(&sb, "[%02d:%02d] %s: %s\n", offset/60, offset%60, speaker, s.Text)
	}
	return sb.String()
}
