// Factions and the ally/rival web between townsfolk. Reputation ripples
// along these edges.
package social

import (
	"fmt"
	"slices"
	"strings"
)

// FactionID is a unique identifier for a faction.
type FactionID string

// FactionKind categorizes the nature of a faction.
type FactionKind uint8

const (
	FactionPolitical FactionKind = iota // Governance-focused
	FactionEconomic                     // Trade and wealth
	FactionMilitary                     // Martial power
	FactionReligious                    // Spiritual and cultural
	FactionCriminal                     // Underground
)

var factionKindNames = []string{"political", "economic", "military", "religious", "criminal"}

func (k FactionKind) String() string {
	if int(k) < len(factionKindNames) {
		return factionKindNames[k]
	}
	return "unknown"
}

// ParseFactionKind maps a content name to a kind.
func ParseFactionKind(s string) (FactionKind, error) {
	i := slices.Index(factionKindNames, strings.ToLower(s))
	if i < 0 {
		return 0, fmt.Errorf("unknown faction kind %q", s)
	}
	return FactionKind(i), nil
}

// Relation thresholds between factions (-100 to +100).
const (
	AllyThreshold  = 25
	RivalThreshold = -25
)

// Faction represents an organization townsfolk and goods can belong to.
type Faction struct {
	ID   FactionID   `json:"id"`
	Name string      `json:"name"`
	Kind FactionKind `json:"kind"`

	// Relations with other factions (faction ID → -100 to +100).
	Relations map[FactionID]int `json:"relations"`
}

// Directory is the static relation web loaded with the town content.
// Targets are agent ids or faction ids.
type Directory struct {
	factions map[FactionID]*Faction
	members  map[string]FactionID
	allies   map[string][]string // Declared per agent
	rivals   map[string][]string
}

func NewDirectory() *Directory {
	return &Directory{
		factions: make(map[FactionID]*Faction),
		members:  make(map[string]FactionID),
		allies:   make(map[string][]string),
		rivals:   make(map[string][]string),
	}
}

// AddFaction registers a faction.
func (d *Directory) AddFaction(f Faction) error {
	if f.ID == "" {
		return fmt.Errorf("faction without id")
	}
	if _, dup := d.factions[f.ID]; dup {
		return fmt.Errorf("duplicate faction %s", f.ID)
	}
	if f.Relations == nil {
		f.Relations = make(map[FactionID]int)
	}
	d.factions[f.ID] = &f
	return nil
}

// SetRelation sets a symmetric relation between two factions.
func (d *Directory) SetRelation(a, b FactionID, v int) error {
	fa, ok := d.factions[a]
	if !ok {
		return fmt.Errorf("unknown faction %s", a)
	}
	fb, ok := d.factions[b]
	if !ok {
		return fmt.Errorf("unknown faction %s", b)
	}
	v = max(-100, min(100, v))
	fa.Relations[b] = v
	fb.Relations[a] = v
	return nil
}

// Join assigns an agent to a faction.
func (d *Directory) Join(agent string, f FactionID) error {
	if _, ok := d.factions[f]; !ok {
		return fmt.Errorf("agent %s: unknown faction %s", agent, f)
	}
	d.members[agent] = f
	return nil
}

// Declare records an agent's personal allies and rivals.
func (d *Directory) Declare(agent string, allies, rivals []string) {
	if len(allies) > 0 {
		d.allies[agent] = append(d.allies[agent], allies...)
	}
	if len(rivals) > 0 {
		d.rivals[agent] = append(d.rivals[agent], rivals...)
	}
}

// FactionOf returns the faction an agent belongs to.
func (d *Directory) FactionOf(agent string) (FactionID, bool) {
	f, ok := d.members[agent]
	return f, ok
}

// Faction returns a faction by id.
func (d *Directory) Faction(id FactionID) (Faction, bool) {
	f, ok := d.factions[id]
	if !ok {
		return Faction{}, false
	}
	return *f, true
}

// Factions returns all factions sorted by id.
func (d *Directory) Factions() []Faction {
	out := make([]Faction, 0, len(d.factions))
	for _, f := range d.factions {
		out = append(out, *f)
	}
	slices.SortFunc(out, func(a, b Faction) int { return strings.Compare(string(a.ID), string(b.ID)) })
	return out
}

// Members returns the agents in a faction, sorted.
func (d *Directory) Members(f FactionID) []string {
	var out []string
	for agent, fid := range d.members {
		if fid == f {
			out = append(out, agent)
		}
	}
	slices.Sort(out)
	return out
}

// Allies returns everyone who shares a target's feelings: for a faction,
// the factions at or above AllyThreshold; for an agent, its declared
// allies plus fellow faction members.
func (d *Directory) Allies(target string) []string {
	if f, ok := d.factions[FactionID(target)]; ok {
		return relatedFactions(f, func(v int) bool { return v >= AllyThreshold })
	}
	out := slices.Clone(d.allies[target])
	if f, ok := d.members[target]; ok {
		out = append(out, d.Members(f)...)
	}
	return normalize(out, target, nil)
}

// Rivals returns everyone who feels the opposite of a target: for a
// faction, the factions at or below RivalThreshold; for an agent, its
// declared rivals plus members of rival factions.
func (d *Directory) Rivals(target string) []string {
	if f, ok := d.factions[FactionID(target)]; ok {
		return relatedFactions(f, func(v int) bool { return v <= RivalThreshold })
	}
	out := slices.Clone(d.rivals[target])
	if fid, ok := d.members[target]; ok {
		for _, other := range relatedFactions(d.factions[fid], func(v int) bool { return v <= RivalThreshold }) {
			out = append(out, d.Members(FactionID(other))...)
		}
	}
	// Someone who is both stays an ally.
	return normalize(out, target, d.Allies(target))
}

func relatedFactions(f *Faction, keep func(int) bool) []string {
	var out []string
	for other, v := range f.Relations {
		if other != f.ID && keep(v) {
			out = append(out, string(other))
		}
	}
	slices.Sort(out)
	return out
}

// normalize sorts and dedupes ids, dropping self and anything in exclude.
func normalize(ids []string, self string, exclude []string) []string {
	slices.Sort(ids)
	ids = slices.Compact(ids)
	return slices.DeleteFunc(ids, func(id string) bool {
		return id == self || slices.Contains(exclude, id)
	})
}
