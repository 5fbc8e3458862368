// Package economy owns goods, accounts, the town treasury and the market
// rules that move currency and goods between them.
package economy

import (
	"fmt"
	"math"
)

// GoodID identifies a tradeable good.
type GoodID string

// ActorID identifies an account holder: a player or an agent.
type ActorID string

// ActorKind decides settlement priority within a tick.
type ActorKind string

const (
	KindPlayer ActorKind = "player"
	KindMayor  ActorKind = "mayor"
	KindNPC    ActorKind = "npc"
)

// rank orders actors inside one settlement batch: players, then the Mayor,
// then NPCs.
func (k ActorKind) rank() int {
	switch k {
	case KindPlayer:
		return 0
	case KindMayor:
		return 1
	default:
		return 2
	}
}

// Direction is the side of a trade from the actor's point of view.
type Direction string

const (
	Buy  Direction = "buy"
	Sell Direction = "sell"
)

// Valid reports whether d is a known direction.
func (d Direction) Valid() bool {
	return d == Buy || d == Sell
}

// Good is one tradeable commodity in the town market.
type Good struct {
	ID         GoodID  `json:"id"`
	Name       string  `json:"name"`
	BasePrice  float64 `json:"base_price"`
	Price      float64 `json:"price"`       // Current reference price in crowns
	Volatility float64 `json:"volatility"`  // [0,1); spread and price impact
	Supply     int     `json:"supply"`      // Units held by the market
	BaseSupply int     `json:"base_supply"` // Reference point of the elasticity curve
	Patron     string  `json:"patron,omitempty"`
}

func (g Good) validate() error {
	switch {
	case g.ID == "":
		return fmt.Errorf("good without id")
	case g.BasePrice <= 0 || math.IsNaN(g.BasePrice):
		return fmt.Errorf("good %s: base price must be > 0", g.ID)
	case g.Price <= 0 || math.IsNaN(g.Price):
		return fmt.Errorf("good %s: price must be > 0", g.ID)
	case g.Volatility < 0 || g.Volatility >= 1:
		return fmt.Errorf("good %s: volatility must be in [0,1)", g.ID)
	case g.Supply < 0:
		return fmt.Errorf("good %s: supply must be >= 0", g.ID)
	case g.BaseSupply <= 0:
		return fmt.Errorf("good %s: base supply must be > 0", g.ID)
	}
	return nil
}

// Account is a wallet plus an inventory. Agents and players both hold one.
type Account struct {
	Kind      ActorKind      `json:"kind"`
	Wallet    int64          `json:"wallet"`
	Inventory map[GoodID]int `json:"inventory"`
}

func (a *Account) clone() Account {
	inv := make(map[GoodID]int, len(a.Inventory))
	for g, q := range a.Inventory {
		inv[g] = q
	}
	return Account{Kind: a.Kind, Wallet: a.Wallet, Inventory: inv}
}

// Trade is one settled entry of the transaction log.
type Trade struct {
	ID         uint64    `json:"id"`
	Tick       uint64    `json:"tick"`
	Actor      ActorID   `json:"actor"`
	Good       GoodID    `json:"good"`
	Direction  Direction `json:"direction"`
	Requested  int       `json:"requested"`
	Quantity   int       `json:"quantity"` // Filled; may be below Requested for buys
	UnitPrice  int64     `json:"unit_price"`
	Gross      int64     `json:"gross"`
	Tax        int64     `json:"tax"`
	PriceAfter float64   `json:"price_after"`
}

// Partial reports whether a buy was filled below the requested quantity.
func (t Trade) Partial() bool {
	return t.Quantity < t.Requested
}

// Quote is a read-only view of one good's market state.
type Quote struct {
	Good       GoodID  `json:"good"`
	Name       string  `json:"name"`
	Price      float64 `json:"price"`
	BasePrice  float64 `json:"base_price"`
	Buy        int64   `json:"buy"`
	Sell       int64   `json:"sell"`
	Supply     int     `json:"supply"`
	Volatility float64 `json:"volatility"`
	Patron     string  `json:"patron,omitempty"`
}
