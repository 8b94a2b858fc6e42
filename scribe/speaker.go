package scribe

import (
	"strings"
	"unicode"
)

// Attribution is what the processor learned about who spoke in a window.
type Attribution int

const (
	// NotDiarized means no diarizer was available or the window was too short for one.
	NotDiarized Attribution = iota
	// Diarized means the diarizer returned a label for the window.
	Diarized
	// Inconclusive means the diarizer ran but failed or returned no usable label.
	Inconclusive
)

const (
	confidenceDiarized  = 0.95
	confidenceKeywords  = 0.9
	confidenceUncertain = 0.7
)

var (
	selfWords = map[string]bool{
		"i": true, "i'm": true, "i've": true, "i'll": true, "i'd": true,
		"me": true, "my": true, "mine": true, "myself": true,
		"we": true, "we're": true, "we've": true, "we'll": true,
		"us": true, "our": true, "ours": true,
	}
	selfPhrases = []string{"let me", "i think", "i believe", "i guess", "let's"}

	otherWords = map[string]bool{
		"you": true, "you're": true, "you've": true, "you'll": true, "your": true, "yours": true,
		"they": true, "they're": true, "them": true, "their": true,
		"he": true, "she": true, "his": true, "her": true,
	}
	otherPhrases = []string{"can you", "could you", "would you", "do you", "did you", "are you"}
)

// SpeakerResolver maps per-window diarization labels onto the me/other taxonomy. The first
// label seen in a recording is taken to be the local speaker. When there is no label it
// falls back to counting self and other referential keywords in the text.
//
// Owned by the pipeline worker; not safe for concurrent use.
type SpeakerResolver struct {
	first    string
	segments int
}

func NewSpeakerResolver() *SpeakerResolver {
	return &SpeakerResolver{}
}

// Resolve attributes one segment. It must be called exactly once per emitted segment since
// the running segment count breaks keyword ties.
func (r *SpeakerResolver) Resolve(text, label string, a Attribution) (Speaker, float64) {
	defer func() { r.segments++ }()

	if a == Diarized && label != "" {
		if r.first == "" {
			r.first = label
		}
		if sameVoice(label, r.first) {
			return SpeakerMe, confidenceDiarized
		}
		return SpeakerOther, confidenceDiarized
	}

	conf := confidenceKeywords
	if a != NotDiarized {
		conf = confidenceUncertain
	}

	self, other := countKeywords(text)
	switch {
	case self > other:
		return SpeakerMe, conf
	case other > self:
		return SpeakerOther, conf
	case r.segments%2 == 0:
		return SpeakerMe, conf
	default:
		return SpeakerOther, conf
	}
}

// FirstLabel is the diarization label treated as the local speaker, if one has been seen.
func (r *SpeakerResolver) FirstLabel() string {
	return r.first
}

func (r *SpeakerResolver) Reset() {
	r.first = ""
	r.segments = 0
}

// sameVoice reports whether label names the same voice as first. Engines are inconsistent
// about prefixes ("SPEAKER_00", "speaker-00", "00"), so a label also matches when it ends in
// first or shares first's trailing token.
func sameVoice(label, first string) bool {
	if label == first || strings.HasSuffix(label, first) {
		return true
	}
	return trailingToken(label) == trailingToken(first)
}

func trailingToken(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if i := strings.LastIndexAny(s, "_- "); i >= 0 {
		return s[i+1:]
	}
	return s
}

func countKeywords(text string) (self, other int) {
	words := tokenize(text)
	for _, w := range words {
		if selfWords[w] {
			self++
		}
		if otherWords[w] {
			other++
		}
	}

	joined := " " + strings.Join(words, " ") + " "
	for _, p := range selfPhrases {
		self += strings.Count(joined, " "+p+" ")
	}
	for _, p := range otherPhrases {
		other += strings.Count(joined, " "+p+" ")
	}
	return self, other
}

func tokenize(text string) []string {
	text = strings.ToLower(strings.ReplaceAll(text, "’", "'"))
	return strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\''
	})
}
