// Package stock models per-target availability state: the status enum,
// the observed snapshot kept for each watched URL, and the pure
// transition classification between two observations.
package stock

import "time"

// Status is the availability classification of a product page.
type Status string

const (
	InStock    Status = "in_stock"
	OutOfStock Status = "out_of_stock"
	PreOrder   Status = "pre_order"
	ComingSoon Status = "coming_soon"
	Unknown    Status = "unknown"
)

// Buyable reports whether a status means the product can be purchased
// right now. Only InStock qualifies; pre-orders and teasers do not.
func Buyable(s Status) bool { return s == InStock }

// State is the live record kept for one watched URL. It is overwritten
// on every successful poll cycle.
type State struct {
	Status           Status     `json:"status"`
	Price            string     `json:"price,omitempty"`
	Title            string     `json:"title,omitempty"`
	LastCheckedAt    time.Time  `json:"last_checked_at"`
	LastTransitionAt *time.Time `json:"last_transition_at,omitempty"`
}

// TransitionKind classifies the change between two observations.
type TransitionKind string

const (
	TransitionNone    TransitionKind = "none"
	TransitionRestock TransitionKind = "restock"
	TransitionSoldOut TransitionKind = "sold_out"
)

// Detect classifies the transition from prev to cur. A nil prev means
// first observation: that is a restock when cur is already buyable, and
// never a sold-out. Moves between distinct non-buyable statuses
// (pre_order → coming_soon, unknown → out_of_stock) are not transitions.
func Detect(prev *State, cur State) TransitionKind {
	curBuyable := Buyable(cur.Status)

	if prev == nil {
		if curBuyable {
			return TransitionRestock
		}
		return TransitionNone
	}

	prevBuyable := Buyable(prev.Status)
	switch {
	case !prevBuyable && curBuyable:
		return TransitionRestock
	case prevBuyable && !curBuyable:
		return TransitionSoldOut
	default:
		return TransitionNone
	}
}
