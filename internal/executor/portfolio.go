package executor

import "kalshi-binary-trader/internal/kalshi"

// Portfolio is the plain accounting snapshot the source's design notes
// call for: "Live and simulator implementations share the portfolio
// accounting helper (inventory clamp, flip-sale translation, fill
// bookkeeping) as a plain state struct, not through inheritance."
// Base builds one of these from its current fields before every
// clamp/split decision; LiveExecutor and SimExecutor never see it
// directly, they only differ in the RESTClient they hand to Base.
type Portfolio struct {
	Inventory    int
	MaxInventory int
}

// Clamp applies the inventory-clamp constraint: for a "long" order (buy
// YES or sell NO) max_delta = max_inventory - inventory; for "short",
// max_delta = inventory + max_inventory. order.count becomes
// max(0, min(count, max_delta)).
func (p Portfolio) Clamp(o OrderIntent) OrderIntent {
	maxDelta := p.maxDelta(o)
	if maxDelta < 0 {
		maxDelta = 0
	}
	if o.Count > maxDelta {
		o.Count = maxDelta
	}
	return o
}

func (p Portfolio) maxDelta(o OrderIntent) int {
	if p.isLong(o) {
		return p.MaxInventory - p.Inventory
	}
	return p.Inventory + p.MaxInventory
}

func (p Portfolio) isLong(o OrderIntent) bool {
	return (o.Side == kalshi.SideYes && o.Action == kalshi.ActionBuy) ||
		(o.Side == kalshi.SideNo && o.Action == kalshi.ActionSell)
}

// SplitFlipSale implements the flip-sale translation: a sell-YES with
// count greater than long inventory splits into a sell-YES of the held
// size plus a buy-NO of the remainder; a sell-NO in excess of short
// inventory splits symmetrically. Orders entirely outside existing
// inventory flip wholesale to the opposite side's buy. Buys never
// split; this only concerns orders that reduce a position.
func (p Portfolio) SplitFlipSale(o OrderIntent) []OrderIntent {
	switch {
	case o.Side == kalshi.SideYes && o.Action == kalshi.ActionSell:
		return p.splitSell(o, p.longQty(), kalshi.SideNo)
	case o.Side == kalshi.SideNo && o.Action == kalshi.ActionSell:
		return p.splitSell(o, p.shortQty(), kalshi.SideYes)
	default:
		return []OrderIntent{o}
	}
}

func (p Portfolio) longQty() int {
	if p.Inventory > 0 {
		return p.Inventory
	}
	return 0
}

func (p Portfolio) shortQty() int {
	if p.Inventory < 0 {
		return -p.Inventory
	}
	return 0
}

// splitSell handles one side of the flip-sale rule. held is the
// quantity of o's own side currently in inventory; flipSide is the
// opposite contract side the remainder is translated into as a buy.
func (p Portfolio) splitSell(o OrderIntent, held int, flipSide kalshi.Side) []OrderIntent {
	if o.Count <= held {
		return []OrderIntent{o}
	}
	remainder := o.Count - held
	var out []OrderIntent
	if held > 0 {
		out = append(out, OrderIntent{Side: o.Side, Action: kalshi.ActionSell, Count: held, Price: o.Price, Type: o.Type, ClientOrderID: o.ClientOrderID})
	}
	out = append(out, OrderIntent{
		Side:          flipSide,
		Action:        kalshi.ActionBuy,
		Count:         remainder,
		Price:         o.Price.Complement(),
		Type:          o.Type,
		ClientOrderID: o.ClientOrderID,
	})
	return out
}
