package tuning

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Tuning holds the game parameters. Load decodes over Defaults, so a file
// only needs the knobs it changes.
type Tuning struct {
	ProtocolVersion string `yaml:"protocol_version"`
	Seed            int64  `yaml:"seed"`

	TickIntervalMs     int `yaml:"tick_interval_ms"`
	StateIntervalMs    int `yaml:"state_interval_ms"`
	SnapshotEveryTicks int `yaml:"snapshot_every_ticks"`
	MinPlayers         int `yaml:"min_players"`

	MaxParticipants int     `yaml:"max_participants"`
	NumRounds       int     `yaml:"num_rounds"`
	TimePerRound    float64 `yaml:"time_per_round"`
	Rows            int     `yaml:"rows"`
	Columns         int     `yaml:"columns"`
	Layout          string  `yaml:"layout"`

	ChatVisibilityThreshold float64 `yaml:"chat_visibility_threshold"`
	Visibility              int     `yaml:"visibility"`
	PlayerOverlap           bool    `yaml:"player_overlap"`

	Motion      Motion      `yaml:"motion"`
	Colors      Colors      `yaml:"colors"`
	Walls       Walls       `yaml:"walls"`
	Payoffs     Payoffs     `yaml:"payoffs"`
	Donation    Donation    `yaml:"donation"`
	Leaderboard Leaderboard `yaml:"leaderboard"`

	RateLimits RateLimits `yaml:"rate_limits"`
}

type Motion struct {
	SpeedLimit  float64 `yaml:"speed_limit"`
	Auto        bool    `yaml:"auto"`
	Cost        float64 `yaml:"cost"`
	TrembleRate float64 `yaml:"tremble_rate"`
}

type Colors struct {
	NumColors             int  `yaml:"num_colors"`
	MutableColors         bool `yaml:"mutable_colors"`
	CostlyColors          bool `yaml:"costly_colors"`
	Pseudonyms            bool `yaml:"pseudonyms"`
	Contagion             int  `yaml:"contagion"`
	ContagionHierarchy    bool `yaml:"contagion_hierarchy"`
	IdentitySignaling     bool `yaml:"identity_signaling"`
	IdentityStartsVisible bool `yaml:"identity_starts_visible"`
}

type Walls struct {
	Density      float64 `yaml:"density"`
	Contiguity   float64 `yaml:"contiguity"`
	Build        bool    `yaml:"build"`
	BuildingCost float64 `yaml:"building_cost"`
}

type Payoffs struct {
	InitialScore                 float64 `yaml:"initial_score"`
	DollarsPerPoint              float64 `yaml:"dollars_per_point"`
	Tax                          float64 `yaml:"tax"`
	RelativeDeprivation          float64 `yaml:"relative_deprivation"`
	FrequencyDependence          float64 `yaml:"frequency_dependence"`
	FrequencyDependentPayoffRate float64 `yaml:"frequency_dependent_payoff_rate"`
	IntergroupCompetition        float64 `yaml:"intergroup_competition"`
	IntragroupCompetition        float64 `yaml:"intragroup_competition"`
	ScoreVisible                 bool    `yaml:"score_visible"`
}

type Donation struct {
	Amount     float64 `yaml:"amount"`
	Multiplier float64 `yaml:"multiplier"`
	Individual bool    `yaml:"individual"`
	Group      bool    `yaml:"group"`
	Ingroup    bool    `yaml:"ingroup"`
	Public     bool    `yaml:"public"`

	// AlternateConsumption makes even rounds donation-only.
	AlternateConsumption bool `yaml:"alternate_consumption"`
}

type Leaderboard struct {
	Group      bool    `yaml:"group"`
	Individual bool    `yaml:"individual"`
	Time       float64 `yaml:"time"`
}

type RateLimits struct {
	ActionsPerSecond float64 `yaml:"actions_per_second"`
	Burst            int     `yaml:"burst"`
}

func Defaults() Tuning {
	return Tuning{
		ProtocolVersion:    "1.0",
		Seed:               1,
		TickIntervalMs:     10,
		StateIntervalMs:    50,
		SnapshotEveryTicks: 3000,
		MinPlayers:         1,

		MaxParticipants: 3,
		NumRounds:       1,
		TimePerRound:    300,
		Rows:            25,
		Columns:         25,

		ChatVisibilityThreshold: 0.4,
		Visibility:              40,

		Motion: Motion{SpeedLimit: 8},
		Colors: Colors{
			NumColors:  3,
			Pseudonyms: true,
		},
		Walls: Walls{Contiguity: 1},
		Payoffs: Payoffs{
			DollarsPerPoint:       0.02,
			RelativeDeprivation:   1,
			IntergroupCompetition: 1,
			IntragroupCompetition: 1,
		},
		Donation:   Donation{Multiplier: 1},
		RateLimits: RateLimits{ActionsPerSecond: 50, Burst: 100},
	}
}

// Load reads a tuning file over Defaults and validates the result.
func Load(path string) (Tuning, error) {
	t := Defaults()
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	if err := t.Validate(); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	return t, nil
}

func (t Tuning) Validate() error {
	var errs []error
	if t.Rows < 1 || t.Columns < 1 {
		errs = append(errs, fmt.Errorf("grid must be at least 1x1, got %dx%d", t.Rows, t.Columns))
	}
	if t.NumRounds < 1 {
		errs = append(errs, errors.New("num_rounds must be >= 1"))
	}
	if t.TimePerRound <= 0 {
		errs = append(errs, errors.New("time_per_round must be > 0"))
	}
	if t.TickIntervalMs <= 0 || t.StateIntervalMs <= 0 {
		errs = append(errs, errors.New("tick_interval_ms and state_interval_ms must be > 0"))
	}
	if t.Colors.NumColors < 1 || t.Colors.NumColors > MaxColors {
		errs = append(errs, fmt.Errorf("colors.num_colors must be in [1,%d]", MaxColors))
	}
	if t.Walls.Density < 0 || t.Walls.Density > 1 {
		errs = append(errs, errors.New("walls.density must be in [0,1]"))
	}
	if t.Walls.Contiguity < 0 || t.Walls.Contiguity > 1 {
		errs = append(errs, errors.New("walls.contiguity must be in [0,1]"))
	}
	if t.Motion.TrembleRate < 0 || t.Motion.TrembleRate > 1 {
		errs = append(errs, errors.New("motion.tremble_rate must be in [0,1]"))
	}
	if t.Payoffs.IntergroupCompetition < 0 || t.Payoffs.IntragroupCompetition < 0 {
		errs = append(errs, errors.New("competition exponents must be >= 0"))
	}
	if t.MaxParticipants < 1 {
		errs = append(errs, errors.New("max_participants must be >= 1"))
	}
	return errors.Join(errs...)
}

// MaxColors is the size of the built-in team palette.
const MaxColors = 6
