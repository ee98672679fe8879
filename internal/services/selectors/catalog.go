// Package selectors holds the prioritised UI probes used to locate portal controls.
package selectors

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed defaults.yaml
var defaultCatalog []byte

// By names the query language of a probe
type By string

const (
	ByCSS   By = "css"
	ByXPath By = "xpath"
)

// Key identifies a UI control the publish flow needs
type Key string

const (
	UploadInput    Key = "upload_input"
	TitleInput     Key = "title_input"
	BodyEditor     Key = "body_editor"
	TagSuggestion  Key = "tag_suggestion"
	ScheduleToggle Key = "schedule_toggle"
	ScheduleInput  Key = "schedule_input"
	SubmitButton   Key = "submit_button"
	LoginForm      Key = "login_form"
)

// RequiredKeys must resolve to at least one probe in every catalog
var RequiredKeys = []Key{UploadInput, TitleInput, BodyEditor, ScheduleToggle, ScheduleInput, SubmitButton, LoginForm}

// Probe is one candidate way of finding a control
type Probe struct {
	Name  string `yaml:"name"`
	By    By     `yaml:"by"`
	Query string `yaml:"query"`
}

func (p Probe) String() string {
	if p.Name != "" {
		return fmt.Sprintf("%s(%s %s)", p.Name, p.By, p.Query)
	}
	return fmt.Sprintf("%s %s", p.By, p.Query)
}

// Catalog maps each control to its probes in priority order
type Catalog map[Key][]Probe

// Parse decodes and validates a YAML catalog
func Parse(data []byte) (Catalog, error) {
	var raw map[string][]Probe
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse selector catalog: %w", err)
	}

	catalog := make(Catalog, len(raw))
	for key, probes := range raw {
		normalized := make([]Probe, 0, len(probes))
		for i, p := range probes {
			p.Query = strings.TrimSpace(p.Query)
			if p.Query == "" {
				return nil, fmt.Errorf("selector %s[%d]: query is required", key, i)
			}
			switch By(strings.ToLower(string(p.By))) {
			case "", ByCSS:
				p.By = ByCSS
			case ByXPath:
				p.By = ByXPath
			default:
				return nil, fmt.Errorf("selector %s[%d]: unknown type %q", key, i, p.By)
			}
			normalized = append(normalized, p)
		}
		catalog[Key(key)] = normalized
	}
	return catalog, nil
}

// Default returns the embedded catalog
func Default() Catalog {
	catalog, err := Parse(defaultCatalog)
	if err != nil {
		panic(fmt.Sprintf("embedded selector catalog is invalid: %v", err))
	}
	return catalog
}

// LoadFile reads an override file and merges it over the defaults.
// Keys present in the file replace the default probe list for that key.
func LoadFile(path string) (Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read selector file: %w", err)
	}
	override, err := Parse(data)
	if err != nil {
		return nil, err
	}

	merged := Default()
	for key, probes := range override {
		merged[key] = probes
	}
	if err := merged.Validate(); err != nil {
		return nil, err
	}
	return merged, nil
}

// Validate checks every required key has at least one probe
func (c Catalog) Validate() error {
	var missing []string
	for _, key := range RequiredKeys {
		if len(c[key]) == 0 {
			missing = append(missing, string(key))
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("selector catalog missing probes for: %s", strings.Join(missing, ", "))
	}
	return nil
}

// Probes returns the probes for key in priority order
func (c Catalog) Probes(key Key) []Probe {
	return c[key]
}
