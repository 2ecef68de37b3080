package voice

import "strings"

// Voice is one entry in the catalog.
type Voice struct {
	Name        string `json:"name"`
	Model       string `json:"model"`
	Gender      string `json:"gender"`
	Accent      string `json:"accent"`
	Description string `json:"description"`
}

// DefaultModel is used when nothing has been selected.
const DefaultModel = "aura-2-thalia-en"

var catalog = []Voice{
	// English
	{"thalia", "aura-2-thalia-en", "female", "American", "Warm, friendly female voice with a clear American accent. Great all-rounder, the default voice."},
	{"orion", "aura-2-orion-en", "male", "American", "Deep, confident male voice with a smooth American accent. Professional and authoritative."},
	{"apollo", "aura-2-apollo-en", "male", "American", "Energetic, youthful male voice with a casual American tone. Upbeat and conversational."},
	{"athena", "aura-2-athena-en", "female", "American", "Articulate, polished female voice. Calm and measured delivery."},
	{"luna", "aura-2-luna-en", "female", "American", "Soft, gentle female voice with a soothing quality. Relaxed and approachable."},
	{"zeus", "aura-2-zeus-en", "male", "American", "Bold, commanding male voice with a rich low register. Strong presence."},
	{"draco", "aura-2-draco-en", "male", "British", "Refined male voice with a British RP accent. Sophisticated and articulate."},
	{"pandora", "aura-2-pandora-en", "female", "British", "Elegant female voice with a British accent. Warm but polished."},
	{"hyperion", "aura-2-hyperion-en", "male", "Australian", "Relaxed male voice with an Australian accent. Friendly and laid-back."},
	// Spanish
	{"estrella", "aura-2-estrella-es", "female", "Mexican", "Bright, expressive female voice in Mexican Spanish."},
	{"javier", "aura-2-javier-es", "male", "Mexican", "Clear, natural male voice in Mexican Spanish."},
	{"alvaro", "aura-2-alvaro-es", "male", "Spain", "Warm male voice in Castilian Spanish."},
	{"celeste", "aura-2-celeste-es", "female", "Colombian", "Melodic female voice in Colombian Spanish."},
	// German
	{"fabian", "aura-2-fabian-de", "male", "German", "Clear, professional male voice in German."},
	{"aurelia", "aura-2-aurelia-de", "female", "German", "Warm, natural female voice in German."},
	{"lara", "aura-2-lara-de", "female", "German", "Bright, youthful female voice in German."},
	// French
	{"hector", "aura-2-hector-fr", "male", "French", "Smooth, natural male voice in French."},
	{"agathe", "aura-2-agathe-fr", "female", "French", "Elegant, expressive female voice in French."},
	// Italian
	{"cesare", "aura-2-cesare-it", "male", "Italian", "Warm, expressive male voice in Italian."},
	{"livia", "aura-2-livia-it", "female", "Italian", "Melodic, lively female voice in Italian."},
	// Dutch
	{"lars", "aura-2-lars-nl", "male", "Dutch", "Clear, natural male voice in Dutch."},
	{"daphne", "aura-2-daphne-nl", "female", "Dutch", "Warm, friendly female voice in Dutch."},
	// Japanese
	{"ebisu", "aura-2-ebisu-ja", "male", "Japanese", "Natural, clear male voice in Japanese."},
	{"izanami", "aura-2-izanami-ja", "female", "Japanese", "Soft, natural female voice in Japanese."},
}

var accentKeywords = []string{
	"american", "british", "australian", "mexican", "spain",
	"colombian", "german", "french", "italian", "dutch", "japanese",
}

// Catalog returns every known voice in display order.
func Catalog() []Voice {
	return append([]Voice(nil), catalog...)
}

// ByModel looks up a voice by model ID.
func ByModel(model string) (Voice, bool) {
	for _, v := range catalog {
		if v.Model == model {
			return v, true
		}
	}
	return Voice{}, false
}

// Resolve maps a name, model ID or description to a model ID.
func Resolve(query string) (string, bool) {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return "", false
	}

	for _, v := range catalog {
		if v.Name == q || v.Model == q {
			return v.Model, true
		}
	}

	best, bestScore := -1, 0
	for i, v := range catalog {
		if s := score(q, v); s > bestScore {
			best, bestScore = i, s
		}
	}
	if best < 0 {
		return "", false
	}
	return catalog[best].Model, true
}

func score(q string, v Voice) int {
	s := 0
	// "female" contains "male", so a bare "male" only counts without it.
	switch {
	case strings.Contains(q, "male") && !strings.Contains(q, "female") && v.Gender == "male":
		s += 3
	case strings.Contains(q, "female") && v.Gender == "female":
		s += 3
	}

	accent := strings.ToLower(v.Accent)
	for _, kw := range accentKeywords {
		if strings.Contains(q, kw) && strings.Contains(accent, kw) {
			s += 5
		}
	}

	if strings.Contains(q, v.Name) {
		s += 10
	}
	return s
}
