package estimate

import (
	"fmt"
	"sort"
	"strings"
)

// ModelProfile describes how fast a speech model transcribes and how long
// it takes to load before the first word comes out
type ModelProfile struct {
	Name           string  `json:"name" yaml:"name"`
	WordsPerSecond float64 `json:"wordsPerSecond" yaml:"words_per_second"`
	SetupSeconds   float64 `json:"setupSeconds" yaml:"setup_seconds"`
}

// Profiles is the lookup table of every supported model. Small models load
// instantly; medium and large spend noticeable time warming up.
var Profiles = map[string]ModelProfile{
	"tiny":   {Name: "tiny", WordsPerSecond: 30, SetupSeconds: 0},
	"base":   {Name: "base", WordsPerSecond: 20, SetupSeconds: 0},
	"small":  {Name: "small", WordsPerSecond: 15, SetupSeconds: 0},
	"medium": {Name: "medium", WordsPerSecond: 5, SetupSeconds: 22},
	"large":  {Name: "large", WordsPerSecond: 2, SetupSeconds: 32},
}

// ConfigurationError reports an unknown model or an invalid estimator input
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("configuration error: %s: %s", e.Field, e.Reason)
}

// LookupProfile returns the profile registered for name
func LookupProfile(name string) (ModelProfile, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	profile, ok := Profiles[key]
	if !ok {
		return ModelProfile{}, &ConfigurationError{
			Field:  "model",
			Reason: fmt.Sprintf("unknown model %q (supported: %s)", name, strings.Join(ModelNames(), ", ")),
		}
	}
	return profile, nil
}

// ModelNames lists supported models from fastest to slowest
func ModelNames() []string {
	names := make([]string, 0, len(Profiles))
	for name := range Profiles {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		return Profiles[names[i]].WordsPerSecond > Profiles[names[j]].WordsPerSecond
	})
	return names
}
