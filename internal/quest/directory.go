package quest

import (
	"cmp"
	"errors"
	"fmt"
	"slices"

	"github.com/talgya/townsim/internal/config"
	"github.com/talgya/townsim/internal/simerr"
)

// Scores reads reputation.
type Scores interface {
	Score(player, target string) int
}

// Rewarder pays quest rewards and penalties. Grant may fail; Adjust may
// not.
type Rewarder interface {
	Grant(tick uint64, player string, crowns int64) error
	Adjust(tick uint64, player, target string, delta int, reason string)
}

// Instance is one player's progress on one template.
type Instance struct {
	Player       string `json:"player"`
	Quest        string `json:"quest"`
	State        State  `json:"state"`
	Progress     int    `json:"progress"`
	AcceptedTick uint64 `json:"accepted_tick"`
	UpdatedTick  uint64 `json:"updated_tick"`
	OfferedBy    string `json:"offered_by,omitempty"`
	OfferedTick  uint64 `json:"offered_tick,omitempty"` // Last offer; survives resets
	Offers       int    `json:"offers,omitempty"`
	Completions  int    `json:"completions"`
	Failures     int    `json:"failures"`
	Cycles       int    `json:"cycles"` // Repeatable resets
}

// Transition records one state change.
type Transition struct {
	Tick   uint64 `json:"tick"`
	Player string `json:"player"`
	Quest  string `json:"quest"`
	From   State  `json:"from"`
	To     State  `json:"to"`
	Reason string `json:"reason"`
}

// Offer records an agent putting an available quest in front of a player.
type Offer struct {
	Tick   uint64 `json:"tick"`
	Player string `json:"player"`
	Quest  string `json:"quest"`
	Agent  string `json:"agent"`
}

// Stats summarises a player's quest record.
type Stats struct {
	Available int `json:"available"`
	Active    int `json:"active"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
}

// Penalty reasons applied toward the quest giver.
const (
	ReasonCompleted = "quest_completed"
	ReasonAbandoned = "quest_abandoned"
	ReasonExpired   = "quest_expired"
)

type key struct{ player, quest string }

// Directory owns quest instance state. Not safe for concurrent use.
type Directory struct {
	cfg       config.Quests
	penalties map[string]int

	templates map[string]*Template
	order     []string // Template ids, sorted
	players   []string // Sorted
	instances map[key]*Instance

	transitions []Transition
	offers      []Offer
}

// NewDirectory builds a directory over a fixed template catalog. penalties
// maps reason tags to reputation deltas toward the giver.
func NewDirectory(cfg config.Quests, penalties map[string]int, templates []Template) (*Directory, error) {
	d := &Directory{
		cfg:       cfg,
		penalties: penalties,
		templates: make(map[string]*Template, len(templates)),
		instances: make(map[key]*Instance),
	}
	for _, t := range templates {
		if err := t.Validate(); err != nil {
			return nil, err
		}
		if _, dup := d.templates[t.ID]; dup {
			return nil, fmt.Errorf("duplicate quest %s", t.ID)
		}
		t := t
		d.templates[t.ID] = &t
		d.order = append(d.order, t.ID)
	}
	slices.Sort(d.order)
	return d, nil
}

// Template returns one template.
func (d *Directory) Template(id string) (Template, bool) {
	t, ok := d.templates[id]
	if !ok {
		return Template{}, false
	}
	return *t, true
}

// Templates returns the catalog sorted by id.
func (d *Directory) Templates() []Template {
	out := make([]Template, 0, len(d.order))
	for _, id := range d.order {
		out = append(out, *d.templates[id])
	}
	return out
}

// RegisterPlayer creates a Locked instance of every template for player.
// Registering twice is a no-op.
func (d *Directory) RegisterPlayer(player string) {
	i, found := slices.BinarySearch(d.players, player)
	if found {
		return
	}
	d.players = slices.Insert(d.players, i, player)
	for _, id := range d.order {
		d.instances[key{player, id}] = &Instance{Player: player, Quest: id, State: Locked}
	}
}

// Registered reports whether player has instances.
func (d *Directory) Registered(player string) bool {
	_, found := slices.BinarySearch(d.players, player)
	return found
}

func (d *Directory) move(tick uint64, in *Instance, to State, reason string) {
	d.transitions = append(d.transitions, Transition{
		Tick:   tick,
		Player: in.Player,
		Quest:  in.Quest,
		From:   in.State,
		To:     to,
		Reason: reason,
	})
	in.State = to
	in.UpdatedTick = tick
}

// reset sends a finished repeatable instance back to Locked.
func (d *Directory) reset(tick uint64, in *Instance) {
	d.move(tick, in, Locked, "reset")
	in.Progress = 0
	in.OfferedBy = ""
	in.Cycles++
}

// Evaluate unlocks Locked instances whose every threshold holds. It runs
// once per tick; reputation changes never unlock anything by themselves.
// Instances reset during this tick wait for the next one.
func (d *Directory) Evaluate(tick uint64, scores Scores) []Transition {
	var out []Transition
	for _, player := range d.players {
		for _, id := range d.order {
			in := d.instances[key{player, id}]
			if in.State != Locked {
				continue
			}
			if in.Cycles > 0 && in.UpdatedTick == tick {
				continue
			}
			if !d.unlocked(player, d.templates[id], scores) {
				continue
			}
			d.move(tick, in, Available, "requirements met")
			out = append(out, d.transitions[len(d.transitions)-1])
		}
	}
	return out
}

func (d *Directory) unlocked(player string, t *Template, scores Scores) bool {
	for _, r := range t.Requirements {
		if scores.Score(player, r.Target) < r.Min {
			return false
		}
	}
	return true
}

func (d *Directory) instance(player, quest string) (*Instance, error) {
	if _, ok := d.templates[quest]; !ok {
		return nil, simerr.New(simerr.UnknownQuest, "unknown quest %q", quest)
	}
	in, ok := d.instances[key{player, quest}]
	if !ok {
		return nil, simerr.New(simerr.UnknownActor, "unknown player %q", player)
	}
	return in, nil
}

// CheckAccept reports whether Accept would succeed, without mutating.
func (d *Directory) CheckAccept(player, quest string) error {
	in, err := d.instance(player, quest)
	if err != nil {
		return err
	}
	if in.State != Available {
		return simerr.New(simerr.PrerequisiteNotMet, "quest %s is %s", quest, in.State)
	}
	if n := d.countState(player, Accepted); n >= d.cfg.MaxActive {
		return simerr.New(simerr.QuestLimitReached, "%d quests already active", n)
	}
	return nil
}

// Accept moves an Available instance to Accepted.
func (d *Directory) Accept(tick uint64, player, quest string) error {
	if err := d.CheckAccept(player, quest); err != nil {
		return err
	}
	in := d.instances[key{player, quest}]
	in.AcceptedTick = tick
	in.Progress = 0
	d.move(tick, in, Accepted, "accepted")
	return nil
}

// Abandon fails an Accepted instance and applies the abandon penalty
// toward the giver. rw may be nil.
func (d *Directory) Abandon(tick uint64, player, quest string, rw Rewarder) error {
	in, err := d.instance(player, quest)
	if err != nil {
		return err
	}
	if in.State != Accepted {
		return simerr.New(simerr.PrerequisiteNotMet, "quest %s is %s, not accepted", quest, in.State)
	}
	d.fail(tick, in, ReasonAbandoned, rw)
	return nil
}

func (d *Directory) fail(tick uint64, in *Instance, reason string, rw Rewarder) {
	t := d.templates[in.Quest]
	in.Failures++
	d.move(tick, in, Failed, reason)
	if delta := d.penalties[reason]; rw != nil && delta != 0 {
		rw.Adjust(tick, in.Player, t.Giver, delta, reason)
	}
	if t.Repeatable {
		d.reset(tick, in)
	}
}

// Offer records that agent offered an Available quest to player.
func (d *Directory) Offer(tick uint64, player, quest, agent string) error {
	in, err := d.instance(player, quest)
	if err != nil {
		return err
	}
	if in.State != Available {
		return simerr.New(simerr.PrerequisiteNotMet, "quest %s is %s", quest, in.State)
	}
	if d.coolingDown(tick, player, agent) {
		return simerr.New(simerr.PrerequisiteNotMet, "%s offered %s a quest too recently", agent, player)
	}
	in.OfferedBy = agent
	in.OfferedTick = tick
	in.Offers++
	d.offers = append(d.offers, Offer{Tick: tick, Player: player, Quest: quest, Agent: agent})
	return nil
}

// Signal feeds a fulfillment event to player's Accepted instances. A quest
// that reaches its goal pays out through rw: crowns first, then
// reputation. If the grant fails the quest stays Accepted.
func (d *Directory) Signal(tick uint64, player string, s Signal, rw Rewarder) ([]Transition, error) {
	if !d.Registered(player) {
		return nil, simerr.New(simerr.UnknownActor, "unknown player %q", player)
	}
	var (
		done []Transition
		errs []error
	)
	for _, id := range d.order {
		in := d.instances[key{player, id}]
		if in.State != Accepted {
			continue
		}
		t := d.templates[id]
		p := t.Goal.progress(s)
		if p == 0 {
			continue
		}
		in.Progress = min(in.Progress+p, t.Goal.target())
		if in.Progress < t.Goal.target() {
			continue
		}
		if err := rw.Grant(tick, player, t.Reward.Crowns); err != nil {
			errs = append(errs, fmt.Errorf("quest %s reward: %w", id, err))
			continue
		}
		for _, r := range t.Reward.Reputation {
			rw.Adjust(tick, player, r.Target, r.Delta, ReasonCompleted)
		}
		in.Completions++
		d.move(tick, in, Completed, "goal reached")
		done = append(done, d.transitions[len(d.transitions)-1])
		if t.Repeatable {
			d.reset(tick, in)
		}
	}
	return done, errors.Join(errs...)
}

// Expire fails Accepted instances whose time ran out.
func (d *Directory) Expire(tick uint64, rw Rewarder) []Transition {
	start := len(d.transitions)
	for _, player := range d.players {
		for _, id := range d.order {
			in := d.instances[key{player, id}]
			t := d.templates[id]
			if in.State != Accepted || t.ExpiryTicks == 0 {
				continue
			}
			if tick >= in.AcceptedTick+t.ExpiryTicks {
				d.fail(tick, in, ReasonExpired, rw)
			}
		}
	}
	return slices.Clone(d.transitions[start:])
}

func (d *Directory) countState(player string, s State) int {
	n := 0
	for _, id := range d.order {
		if d.instances[key{player, id}].State == s {
			n++
		}
	}
	return n
}

// Get returns one instance.
func (d *Directory) Get(player, quest string) (Instance, error) {
	in, err := d.instance(player, quest)
	if err != nil {
		return Instance{}, err
	}
	return *in, nil
}

// Instances returns all of a player's instances sorted by quest id.
func (d *Directory) Instances(player string) []Instance {
	var out []Instance
	if !d.Registered(player) {
		return out
	}
	for _, id := range d.order {
		out = append(out, *d.instances[key{player, id}])
	}
	return out
}

// Active returns a player's Accepted instances.
func (d *Directory) Active(player string) []Instance {
	return d.filter(player, Accepted)
}

// AvailableFor returns a player's Available instances.
func (d *Directory) AvailableFor(player string) []Instance {
	return d.filter(player, Available)
}

func (d *Directory) filter(player string, s State) []Instance {
	var out []Instance
	for _, in := range d.Instances(player) {
		if in.State == s {
			out = append(out, in)
		}
	}
	return out
}

// coolingDown reports whether agent offered player any quest within the
// last OfferCooldownTicks.
func (d *Directory) coolingDown(tick uint64, player, agent string) bool {
	cooldown := d.cfg.OfferCooldownTicks
	if cooldown == 0 {
		return false
	}
	for _, id := range d.order {
		if d.templates[id].Giver != agent {
			continue
		}
		in := d.instances[key{player, id}]
		if in.Offers > 0 && tick < in.OfferedTick+cooldown {
			return true
		}
	}
	return false
}

// OfferableBy lists (player, quest) instances that agent gives and that
// are Available, in player then quest order. Players agent offered a quest
// to within the cooldown are skipped.
func (d *Directory) OfferableBy(tick uint64, agent string) []Instance {
	var out []Instance
	for _, player := range d.players {
		if d.coolingDown(tick, player, agent) {
			continue
		}
		for _, id := range d.order {
			in := d.instances[key{player, id}]
			if in.State == Available && in.OfferedBy == "" && d.templates[id].Giver == agent {
				out = append(out, *in)
			}
		}
	}
	return out
}

// Stats returns a player's quest record.
func (d *Directory) Stats(player string) Stats {
	var s Stats
	for _, in := range d.Instances(player) {
		s.Completed += in.Completions
		s.Failed += in.Failures
		switch in.State {
		case Accepted:
			s.Active++
		case Available:
			s.Available++
		}
	}
	return s
}

// Players returns every registered player, sorted.
func (d *Directory) Players() []string {
	return slices.Clone(d.players)
}

// Drain returns and clears transitions and offers recorded since the last
// call.
func (d *Directory) Drain() ([]Transition, []Offer) {
	t, o := d.transitions, d.offers
	d.transitions, d.offers = nil, nil
	return t, o
}

// Snapshot returns every instance sorted by (player, quest).
func (d *Directory) Snapshot() []Instance {
	out := make([]Instance, 0, len(d.instances))
	for _, in := range d.instances {
		out = append(out, *in)
	}
	slices.SortFunc(out, func(a, b Instance) int {
		if c := cmp.Compare(a.Player, b.Player); c != 0 {
			return c
		}
		return cmp.Compare(a.Quest, b.Quest)
	})
	return out
}

// Restore replaces instance state. Instances for unknown templates are an
// error; missing instances are created Locked.
func (d *Directory) Restore(instances []Instance) error {
	d.instances = make(map[key]*Instance, len(instances))
	d.players = nil
	for _, in := range instances {
		if _, ok := d.templates[in.Quest]; !ok {
			return fmt.Errorf("restore quests: unknown quest %q", in.Quest)
		}
		in := in
		d.instances[key{in.Player, in.Quest}] = &in
		if i, found := slices.BinarySearch(d.players, in.Player); !found {
			d.players = slices.Insert(d.players, i, in.Player)
		}
	}
	for _, player := range d.players {
		for _, id := range d.order {
			if _, ok := d.instances[key{player, id}]; !ok {
				d.instances[key{player, id}] = &Instance{Player: player, Quest: id, State: Locked}
			}
		}
	}
	d.transitions, d.offers = nil, nil
	return nil
}
