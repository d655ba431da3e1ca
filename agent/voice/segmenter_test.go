package voice

import (
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func texts(segs []Segment) []string {
	out := make([]string, 0, len(segs))
	for _, s := range segs {
		out = append(out, s.Text)
	}
	return out
}

func feedAll(s *Segmenter, chunks ...string) []Segment {
	var out []Segment
	for _, c := range chunks {
		out = append(out, s.Feed(c)...)
	}
	return append(out, s.Flush()...)
}

func TestSegmenter(t *testing.T) {
	tests := []struct {
		name   string
		chunks []string
		want   []string
	}{
		{
			name:   "cut after sentence punctuation",
			chunks: []string{"Bonjour Michael. Comment", " allez-vous ?"},
			want:   []string{"Bonjour Michael.", "Comment allez-vous ?"},
		},
		{
			name:   "short fragment merged forward",
			chunks: []string{"Ah. Je vais ", "bien. "},
			want:   []string{"Ah. Je vais bien."},
		},
		{
			name:   "letterless fragments dropped",
			chunks: []string{"... !!! Bonjour.\n"},
			want:   []string{"Bonjour."},
		},
		{
			name:   "newline cuts",
			chunks: []string{"Liste:\nun\ndeux trois\n"},
			want:   []string{"Liste:", "un deux trois"},
		},
		{
			name:   "pending short fragment flushed",
			chunks: []string{"Ok. "},
			want:   []string{"Ok."},
		},
		{
			name:   "ellipsis is sentence end",
			chunks: []string{"Hmm… Je vois. "},
			want:   []string{"Hmm…", "Je vois."},
		},
		{
			name:   "punctuation without whitespace waits",
			chunks: []string{"Version 2.5 disponible"},
			want:   []string{"Version 2.5 disponible"},
		},
		{
			name:   "empty input",
			chunks: []string{"", "  "},
			want:   []string{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := feedAll(NewSegmenter(0), tt.chunks...)
			assert.Equal(t, tt.want, texts(got))
			for i, s := range got {
				assert.Equal(t, i, s.Index)
			}
		})
	}
}

func TestSegmenter_FeedReturnsCompleteSentencesOnly(t *testing.T) {
	s := NewSegmenter(4)
	assert.Empty(t, s.Feed("Affirmatif"))
	assert.Empty(t, s.Feed("."))
	segs := s.Feed(" Turbo")
	assert.Equal(t, []string{"Affirmatif."}, texts(segs))
	assert.Equal(t, 1, s.Count())
	assert.Equal(t, []string{"Turbo"}, texts(s.Flush()))
	assert.Empty(t, s.Flush())
}

// 任意切分方式下片段相同；除最后一个外都不短于最小长度；每个片段都含字母
func TestProperty_SegmenterChunkingInvariant(t *testing.T) {
	vocabulary := []string{
		"Bonjour", "Ok", "Je", "vois", " ", ".", "!", "?", "…", "\n", ",", "é", "42", "Ah",
	}
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("segments do not depend on delta boundaries", prop.ForAll(
		func(tokens []int, cuts []int) bool {
			var sb strings.Builder
			for _, i := range tokens {
				sb.WriteString(vocabulary[i])
			}
			raw := []rune(sb.String())

			whole := texts(feedAll(NewSegmenter(4), string(raw)))

			var chunks []string
			for pos, c := 0, 0; pos < len(raw); c++ {
				n := 1
				if len(cuts) > 0 {
					n = cuts[c%len(cuts)]
				}
				end := pos + n
				if end > len(raw) {
					end = len(raw)
				}
				chunks = append(chunks, string(raw[pos:end]))
				pos = end
			}
			chunked := texts(feedAll(NewSegmenter(4), chunks...))

			if strings.Join(whole, "|") != strings.Join(chunked, "|") {
				t.Logf("whole %q != chunked %q", whole, chunked)
				return false
			}
			for i, s := range whole {
				if !hasLetter(s) {
					return false
				}
				if i < len(whole)-1 && utf8.RuneCountInString(s) < 4 {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.IntRange(0, len(vocabulary)-1)),
		gen.SliceOf(gen.IntRange(1, 5)),
	))

	properties.TestingRun(t)
}

func TestSplitPhrases(t *testing.T) {
	half := func() float64 { return 0.5 }
	got := SplitPhrases("Je, suis KITT. Prêt à rouler, Michael", 4, half)
	require.Len(t, got, 3)
	assert.Equal(t, "Je, suis KITT.", got[0].Text)
	assert.Equal(t, 400*time.Millisecond, got[0].Pause)
	assert.Equal(t, "Prêt à rouler,", got[1].Text)
	assert.Equal(t, 215*time.Millisecond, got[1].Pause)
	assert.Equal(t, "Michael", got[2].Text)
	assert.Zero(t, got[2].Pause)
	for _, p := range got {
		assert.InDelta(t, 1.0, p.Speed, 1e-9)
	}

	assert.Nil(t, SplitPhrases("   ", 4, half))
	assert.Equal(t, "Oui", SplitPhrases("Oui", 4, half)[0].Text, "last short phrase is kept")
}

func TestSplitPhrases_PauseRange(t *testing.T) {
	for _, j := range []float64{0, 0.999} {
		fixed := func() float64 { return j }
		p := SplitPhrases("Alerte générale! Attention; danger", 4, fixed)
		assert.Len(t, p, 3)
		assert.GreaterOrEqual(t, p[0].Pause.Milliseconds(), int64(350))
		assert.LessOrEqual(t, p[0].Pause.Milliseconds(), int64(450))
		assert.GreaterOrEqual(t, p[1].Pause.Milliseconds(), int64(180))
		assert.LessOrEqual(t, p[1].Pause.Milliseconds(), int64(250))
		assert.InDelta(t, 1.0, p[2].Speed, 0.05+1e-9)
	}
}
