package screening

import (
	_ "embed"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

//go:embed script.yaml
var defaultScriptYAML []byte

// Script is the copy deck of the conversation: fixed lines, keyword lists,
// lookup tables and pacing. It never changes control flow beyond what the
// tables say.
type Script struct {
	Welcome             string              `yaml:"welcome"`
	Apology             string              `yaml:"apology"`
	StartFailure        string              `yaml:"start_failure"`
	ScreeningMarker     string              `yaml:"screening_marker"`
	DemographicKeywords []string            `yaml:"demographic_keywords"`
	Suggestions         map[string][]string `yaml:"suggestions"`
	LevelPercent        map[string]int      `yaml:"level_percent"`
	DefaultPercent      int                 `yaml:"default_percent"`
	Pacing              Pacing              `yaml:"pacing"`
	Progress            struct {
		ExpectedQuestions int     `yaml:"expected_questions"`
		CapPercent        float64 `yaml:"cap_percent"`
	} `yaml:"progress"`
}

type Pacing struct {
	Composing       time.Duration `yaml:"composing"`
	ToScreening     time.Duration `yaml:"to_screening"`
	AnswerBefore    time.Duration `yaml:"answer_before"`
	AnswerAfter     time.Duration `yaml:"answer_after"`
	ToResult        time.Duration `yaml:"to_result"`
	RevealPerLetter time.Duration `yaml:"reveal_per_letter"`
}

// DefaultScript returns a fresh copy of the embedded deck.
func DefaultScript() *Script {
	s, err := parseScript(defaultScriptYAML, nil)
	if err != nil {
		panic(fmt.Sprintf("screening: embedded script.yaml: %v", err))
	}
	return s
}

// LoadScript overlays the YAML file at path on the embedded deck. Keys the
// file leaves out keep their default.
func LoadScript(path string) (*Script, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return parseScript(b, DefaultScript())
}

// ResolveScript picks the embedded deck or the file at path, optionally with
// every delay removed.
func ResolveScript(path string, noPacing bool) (*Script, error) {
	s := DefaultScript()
	if path != "" {
		var err error
		if s, err = LoadScript(path); err != nil {
			return nil, err
		}
	}
	if noPacing {
		s = s.WithoutPacing()
	}
	return s, nil
}

func parseScript(b []byte, base *Script) (*Script, error) {
	s := base
	if s == nil {
		s = &Script{}
	}
	if err := yaml.Unmarshal(b, s); err != nil {
		return nil, err
	}
	if strings.TrimSpace(s.Welcome) == "" || strings.TrimSpace(s.Apology) == "" {
		return nil, fmt.Errorf("welcome and apology lines are required")
	}
	if strings.TrimSpace(s.ScreeningMarker) == "" {
		return nil, fmt.Errorf("screening_marker is required")
	}
	if s.Progress.ExpectedQuestions <= 0 {
		return nil, fmt.Errorf("progress.expected_questions must be positive")
	}
	return s, nil
}

// WithoutPacing returns a copy with every delay set to zero.
func (s *Script) WithoutPacing() *Script {
	cp := *s
	cp.Pacing = Pacing{}
	return &cp
}

// SuggestionsFor looks the label up verbatim; unknown labels get nothing.
func (s *Script) SuggestionsFor(label string) []string {
	list := s.Suggestions[label]
	return append([]string(nil), list...)
}

// PercentFor maps a severity level (any case) to a bar width.
func (s *Script) PercentFor(level string) int {
	if p, ok := s.LevelPercent[strings.ToLower(strings.TrimSpace(level))]; ok {
		return p
	}
	return s.DefaultPercent
}

func (s *Script) Classifier() Classifier {
	return Classifier{keywords: s.DemographicKeywords}
}
