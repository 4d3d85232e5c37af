package items

// Rule describes what happens when a player holding ActorStart acts on a cell
// holding TargetStart. Empty strings mean "nothing": an empty hand, an empty
// cell, or a side that ends up empty.
type Rule struct {
	ActorStart     string `yaml:"actor_start" json:"actor_start"`
	TargetStart    string `yaml:"target_start" json:"target_start"`
	ActorEnd       string `yaml:"actor_end" json:"actor_end"`
	TargetEnd      string `yaml:"target_end" json:"target_end"`
	LastUse        bool   `yaml:"last_use" json:"last_use"`
	RequiredActors int    `yaml:"required_actors" json:"required_actors"`
	Calories       int    `yaml:"calories" json:"calories"`

	// ModifyUses is the (actor, target) delta applied to remaining uses.
	ModifyUses [2]int `yaml:"modify_uses" json:"modify_uses"`
	Visible    string `yaml:"visible" json:"visible,omitempty"`
}

type Key struct {
	Actor   string
	Target  string
	LastUse bool
}

func (r Rule) Key() Key { return Key{Actor: r.ActorStart, Target: r.TargetStart, LastUse: r.LastUse} }

// Table indexes rules by (actor, target) with a separate last-use slot.
type Table struct {
	rules map[Key]Rule
	order []Key
}

func NewTable(rules []Rule) *Table {
	t := &Table{rules: make(map[Key]Rule, len(rules))}
	for _, r := range rules {
		k := r.Key()
		if _, dup := t.rules[k]; !dup {
			t.order = append(t.order, k)
		}
		t.rules[k] = r
	}
	return t
}

// Rules returns every rule in load order.
func (t *Table) Rules() []Rule {
	out := make([]Rule, 0, len(t.order))
	for _, k := range t.order {
		out = append(out, t.rules[k])
	}
	return out
}

func typeID(it *Item) string {
	if it == nil {
		return ""
	}
	return it.TypeID()
}

// Lookup finds the rule for a held item and a cell item. The last-use variant
// wins when the target has exactly one use left; otherwise, or when no
// last-use rule exists, the standard rule applies.
func (t *Table) Lookup(actor, target *Item) (Rule, bool) {
	if t == nil {
		return Rule{}, false
	}
	k := Key{Actor: typeID(actor), Target: typeID(target)}
	if target != nil && target.RemainingUses == 1 {
		last := k
		last.LastUse = true
		if r, ok := t.rules[last]; ok {
			return r, true
		}
	}
	r, ok := t.rules[k]
	return r, ok
}

// Outcome is the result of applying a rule. A nil New* together with its
// Changed flag means that side is left empty.
type Outcome struct {
	ActorConsumed  bool
	TargetConsumed bool

	ActorChanged  bool
	NewActor      *Item
	TargetChanged bool
	NewTarget     *Item

	Calories int
}

// Consumed lists the items removed from play by the transition.
func (o Outcome) Consumed(actor, target *Item) []*Item {
	var out []*Item
	if o.ActorConsumed && actor != nil {
		out = append(out, actor)
	}
	if o.TargetConsumed && target != nil {
		out = append(out, target)
	}
	return out
}

// Apply mutates the remaining uses of actor and target and computes the end
// state. spawn builds the replacement for a side whose end type changed to a
// non-empty type; onCell is true for the target side.
func Apply(r Rule, actor, target *Item, spawn func(typeID string, onCell bool) *Item) Outcome {
	if actor != nil && actor.RemainingUses != 0 {
		actor.RemainingUses += r.ModifyUses[0]
	}
	if target != nil && target.RemainingUses != 0 {
		target.RemainingUses += r.ModifyUses[1]
	}

	out := Outcome{Calories: r.Calories}
	actorStart, targetStart := typeID(actor), typeID(target)
	if actor != nil && (actor.RemainingUses < 1 || r.ActorEnd != actorStart) {
		out.ActorConsumed = true
	}
	if target != nil && (target.RemainingUses < 1 || r.TargetEnd != targetStart) {
		out.TargetConsumed = true
	}
	if r.ActorEnd != actorStart {
		out.ActorChanged = true
		if r.ActorEnd != "" {
			out.NewActor = spawn(r.ActorEnd, false)
		}
	}
	if r.TargetEnd != targetStart {
		out.TargetChanged = true
		if r.TargetEnd != "" {
			out.NewTarget = spawn(r.TargetEnd, true)
		}
	}
	return out
}

// SplitCalories divides calories evenly between participants; the initiator
// additionally receives the remainder.
func SplitCalories(calories, participants int) (each, remainder int) {
	if participants < 1 {
		participants = 1
	}
	return calories / participants, calories % participants
}
