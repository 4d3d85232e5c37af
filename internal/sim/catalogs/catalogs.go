package catalogs

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"griduniverse/internal/sim/distributions"
	"griduniverse/internal/sim/items"
)

// ErrInvalid wraps every validation failure so callers can tell a bad config
// from an unreadable one.
var ErrInvalid = errors.New("invalid game config")

type Catalogs struct {
	Items  *items.Catalog
	Player PlayerConfig

	ItemsDigest       string
	TransitionsDigest string
}

type PlayerConfig struct {
	ProbabilityDistribution string `yaml:"probability_distribution" json:"probability_distribution"`
	// AvailableColors replaces the built-in player palette, in document order.
	AvailableColors Palette `yaml:"available_colors" json:"available_colors,omitempty"`
}

// Color is a named player color with RGB components in [0, 1].
type Color struct {
	Name string     `json:"name"`
	RGB  [3]float64 `json:"rgb"`
}

type Palette []Color

// UnmarshalYAML reads a mapping of color name to [r, g, b], keeping the
// mapping's order since it decides color indexes.
func (p *Palette) UnmarshalYAML(n *yaml.Node) error {
	if n.Kind != yaml.MappingNode {
		return fmt.Errorf("available_colors: line %d: want a mapping of name to [r, g, b]", n.Line)
	}
	out := make(Palette, 0, len(n.Content)/2)
	for i := 0; i+1 < len(n.Content); i += 2 {
		name := n.Content[i].Value
		var rgb []float64
		if err := n.Content[i+1].Decode(&rgb); err != nil {
			return fmt.Errorf("available_colors.%s: %w", name, err)
		}
		if len(rgb) != 3 {
			return fmt.Errorf("available_colors.%s: want 3 components, got %d", name, len(rgb))
		}
		c := Color{Name: name}
		copy(c.RGB[:], rgb)
		out = append(out, c)
	}
	*p = out
	return nil
}

type file struct {
	ItemDefaults       yaml.Node    `yaml:"item_defaults"`
	Items              []yaml.Node  `yaml:"items"`
	TransitionDefaults yaml.Node    `yaml:"transition_defaults"`
	Transitions        []yaml.Node  `yaml:"transitions"`
	PlayerConfig       PlayerConfig `yaml:"player_config"`
}

// Load reads a game config file (item types, transitions, player config).
func Load(path string) (*Catalogs, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(raw)
}

func Parse(raw []byte) (*Catalogs, error) {
	var f file
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("game_config.yaml: %w", err)
	}

	var itemDefaults items.Spec
	if !f.ItemDefaults.IsZero() {
		if err := f.ItemDefaults.Decode(&itemDefaults); err != nil {
			return nil, fmt.Errorf("game_config.yaml: item_defaults: %w", err)
		}
	}
	specs := make([]items.Spec, 0, len(f.Items))
	for i := range f.Items {
		s := itemDefaults
		if err := f.Items[i].Decode(&s); err != nil {
			return nil, fmt.Errorf("game_config.yaml: items[%d]: %w", i, err)
		}
		specs = append(specs, s)
	}

	var ruleDefaults items.Rule
	if !f.TransitionDefaults.IsZero() {
		if err := f.TransitionDefaults.Decode(&ruleDefaults); err != nil {
			return nil, fmt.Errorf("game_config.yaml: transition_defaults: %w", err)
		}
	}
	rules := make([]items.Rule, 0, len(f.Transitions))
	for i := range f.Transitions {
		r := ruleDefaults
		if err := f.Transitions[i].Decode(&r); err != nil {
			return nil, fmt.Errorf("game_config.yaml: transitions[%d]: %w", i, err)
		}
		rules = append(rules, r)
	}

	if err := validate(specs, rules, f.PlayerConfig); err != nil {
		return nil, err
	}
	cat, err := items.NewCatalog(specs, rules)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	specJSON, _ := json.Marshal(specs)
	ruleJSON, _ := json.Marshal(rules)
	return &Catalogs{
		Items:             cat,
		Player:            f.PlayerConfig,
		ItemsDigest:       sha256Hex(specJSON),
		TransitionsDigest: sha256Hex(ruleJSON),
	}, nil
}

func validate(specs []items.Spec, rules []items.Rule, pc PlayerConfig) error {
	if len(specs) == 0 {
		return fmt.Errorf("%w: no item types", ErrInvalid)
	}
	known := make(map[string]bool, len(specs))
	for _, s := range specs {
		if s.ID == "" {
			return fmt.Errorf("%w: item with empty item_id", ErrInvalid)
		}
		if known[s.ID] {
			return fmt.Errorf("%w: duplicate item_id %q", ErrInvalid, s.ID)
		}
		known[s.ID] = true
		if s.Name == "" {
			return fmt.Errorf("%w: item %q: missing name", ErrInvalid, s.ID)
		}
		if s.NUses < 0 {
			return fmt.Errorf("%w: item %q: n_uses must be >= 0", ErrInvalid, s.ID)
		}
		if s.SpawnRate < 0 || s.MaturationSpeed < 0 {
			return fmt.Errorf("%w: item %q: negative rate", ErrInvalid, s.ID)
		}
	}
	for _, s := range specs {
		if s.AutoTransitionTarget != "" && !known[s.AutoTransitionTarget] {
			return fmt.Errorf("%w: item %q: auto_transition_target %q is not an item", ErrInvalid, s.ID, s.AutoTransitionTarget)
		}
	}
	for i, r := range rules {
		for _, ref := range []string{r.ActorStart, r.TargetStart, r.ActorEnd, r.TargetEnd} {
			if ref != "" && !known[ref] {
				return fmt.Errorf("%w: transitions[%d]: unknown item %q", ErrInvalid, i, ref)
			}
		}
		if r.ActorStart == "" && r.TargetStart == "" {
			return fmt.Errorf("%w: transitions[%d]: needs an actor or a target", ErrInvalid, i)
		}
		if r.RequiredActors < 0 {
			return fmt.Errorf("%w: transitions[%d]: required_actors must be >= 0", ErrInvalid, i)
		}
	}
	seen := map[string]bool{}
	for _, c := range pc.AvailableColors {
		if c.Name == "" || seen[c.Name] {
			return fmt.Errorf("%w: player_config: empty or duplicate color %q", ErrInvalid, c.Name)
		}
		seen[c.Name] = true
		for _, v := range c.RGB {
			if v < 0 || v > 1 {
				return fmt.Errorf("%w: player_config: color %s: components must be in [0, 1]", ErrInvalid, c.Name)
			}
		}
	}
	if pc.ProbabilityDistribution != "" && !distributions.Known(firstField(pc.ProbabilityDistribution)) {
		return fmt.Errorf("%w: player_config: unknown probability_distribution %q", ErrInvalid, pc.ProbabilityDistribution)
	}
	return nil
}

func sha256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func firstField(s string) string {
	f := strings.Fields(s)
	if len(f) == 0 {
		return ""
	}
	return f[0]
}
