package language

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"
)

func TestDetect(t *testing.T) {
	tests := []struct {
		name string
		text string
		want string
	}{
		{"empty falls back to base", "", "fr"},
		{"digits only", "12345", "fr"},
		{"french", "Bonjour, comment ça va ?", "fr"},
		{"english", "Hello, how are you today?", "en"},
		{"german", "Ich bin müde und hungrig", "de"},
		{"italian", "Ciao, come stai?", "it"},
		{"portuguese", "Olá, tudo bem?", "pt"},
		{"elision counts", "D’accord", "fr"},
		{"tie resolved by order", "a", "en"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Detect(tt.text))
		})
	}
}

func TestDetect_StatisticalFallbackStaysSupported(t *testing.T) {
	got := Detect("Buenos días señor, ¿cómo estás hoy? Muchísimas gracias.")
	assert.True(t, IsSupported(got), got)
}

func TestMapHint(t *testing.T) {
	cases := map[string]string{
		"":      "fr",
		"EN":    "en",
		"pt-BR": "pt",
		"es":    "fr",
		"ja":    "en",
		"de-DE": "de",
		"xx":    "fr",
	}
	for in, want := range cases {
		assert.Equal(t, want, MapHint(in), in)
	}
}

func TestResolve(t *testing.T) {
	assert.Equal(t, Decision{Lang: "en", Locked: true}, Resolve("en", "de", "Bonjour à tous"))
	assert.Equal(t, Decision{Lang: "fr"}, Resolve("", "es", "Hello there you"))
	assert.Equal(t, Decision{Lang: "de"}, Resolve("", "", "Ich bin hier und warte"))
}

func TestReplyLock(t *testing.T) {
	l := NewReplyLock(Decision{Lang: "fr"}, 15)

	lang, changed := l.Observe("Hi")
	assert.Equal(t, "fr", lang)
	assert.False(t, changed)
	assert.False(t, l.Locked())

	lang, changed = l.Observe("Hello, how are you doing today?")
	assert.Equal(t, "en", lang)
	assert.True(t, changed)
	assert.True(t, l.Locked())

	lang, changed = l.Observe("Bonjour, comment allez-vous ce matin ?")
	assert.Equal(t, "en", lang)
	assert.False(t, changed)
}

func TestReplyLock_StoredPreferenceNeverChanges(t *testing.T) {
	l := NewReplyLock(Decision{Lang: "it", Locked: true}, 15)
	lang, changed := l.Observe("Hello, how are you doing today?")
	assert.Equal(t, "it", lang)
	assert.False(t, changed)
}

// 一旦锁定，语言不再变化
func TestProperty_ReplyLockMonotonic(t *testing.T) {
	phrases := []string{
		"Hi", "Bonjour Michael, je suis là.", "Hello, how are you doing?",
		"Ich bin hier und warte auf dich.", "Ciao, come stai oggi?", "…",
	}
	rapid.Check(t, func(rt *rapid.T) {
		start := rapid.SampledFrom(Supported).Draw(rt, "start")
		l := NewReplyLock(Decision{Lang: start}, 15)
		reply := ""
		frozen := ""
		steps := rapid.IntRange(1, 8).Draw(rt, "steps")
		for i := 0; i < steps; i++ {
			reply += " " + rapid.SampledFrom(phrases).Draw(rt, "phrase")
			lang, _ := l.Observe(reply)
			if frozen != "" && lang != frozen {
				rt.Fatalf("locked language changed from %s to %s", frozen, lang)
			}
			if l.Locked() && frozen == "" {
				frozen = lang
			}
		}
	})
}
