package executor

import (
	"testing"

	"kalshi-binary-trader/internal/kalshi"
	"kalshi-binary-trader/internal/money"
)

func TestClampBuyYesNearLimit(t *testing.T) {
	p := Portfolio{Inventory: 47, MaxInventory: 50}
	o := p.Clamp(OrderIntent{Side: kalshi.SideYes, Action: kalshi.ActionBuy, Count: 100})
	if o.Count != 3 {
		t.Fatalf("Clamp count = %d, want 3", o.Count)
	}
}

func TestClampSellYesWhenShort(t *testing.T) {
	p := Portfolio{Inventory: -10, MaxInventory: 50}
	// "short" direction for a sell-YES: max_delta = inventory + max_inventory = 40
	o := p.Clamp(OrderIntent{Side: kalshi.SideYes, Action: kalshi.ActionSell, Count: 100})
	if o.Count != 40 {
		t.Fatalf("Clamp count = %d, want 40", o.Count)
	}
}

func TestClampAtLimitYieldsZero(t *testing.T) {
	p := Portfolio{Inventory: 50, MaxInventory: 50}
	o := p.Clamp(OrderIntent{Side: kalshi.SideYes, Action: kalshi.ActionBuy, Count: 5})
	if o.Count != 0 {
		t.Fatalf("Clamp count = %d, want 0", o.Count)
	}
}

func TestSplitFlipSaleWithinInventoryIsUnchanged(t *testing.T) {
	p := Portfolio{Inventory: 20, MaxInventory: 50}
	legs := p.SplitFlipSale(OrderIntent{Side: kalshi.SideYes, Action: kalshi.ActionSell, Count: 10, Price: money.New(0.40)})
	if len(legs) != 1 || legs[0].Count != 10 || legs[0].Side != kalshi.SideYes {
		t.Fatalf("expected single unchanged leg, got %+v", legs)
	}
}

func TestSplitFlipSaleExceedingLongInventory(t *testing.T) {
	p := Portfolio{Inventory: 6, MaxInventory: 50}
	legs := p.SplitFlipSale(OrderIntent{Side: kalshi.SideYes, Action: kalshi.ActionSell, Count: 10, Price: money.New(0.40)})
	if len(legs) != 2 {
		t.Fatalf("expected 2 legs, got %d: %+v", len(legs), legs)
	}
	if legs[0].Side != kalshi.SideYes || legs[0].Action != kalshi.ActionSell || legs[0].Count != 6 {
		t.Fatalf("leg 0 = %+v, want sell 6 YES", legs[0])
	}
	if legs[1].Side != kalshi.SideNo || legs[1].Action != kalshi.ActionBuy || legs[1].Count != 4 {
		t.Fatalf("leg 1 = %+v, want buy 4 NO", legs[1])
	}
	if !legs[1].Price.Equal(money.New(0.40).Complement()) {
		t.Fatalf("leg 1 price = %s, want complement of 0.40", legs[1].Price)
	}
}

func TestSplitFlipSaleEntirelyOutsideInventoryFlipsWholesale(t *testing.T) {
	p := Portfolio{Inventory: 0, MaxInventory: 50}
	legs := p.SplitFlipSale(OrderIntent{Side: kalshi.SideYes, Action: kalshi.ActionSell, Count: 5, Price: money.New(0.40)})
	if len(legs) != 1 || legs[0].Side != kalshi.SideNo || legs[0].Action != kalshi.ActionBuy || legs[0].Count != 5 {
		t.Fatalf("expected wholesale flip to buy 5 NO, got %+v", legs)
	}
}

func TestSplitFlipSaleSellNoSymmetric(t *testing.T) {
	p := Portfolio{Inventory: -4, MaxInventory: 50}
	legs := p.SplitFlipSale(OrderIntent{Side: kalshi.SideNo, Action: kalshi.ActionSell, Count: 9, Price: money.New(0.60)})
	if len(legs) != 2 {
		t.Fatalf("expected 2 legs, got %d: %+v", len(legs), legs)
	}
	if legs[0].Side != kalshi.SideNo || legs[0].Count != 4 {
		t.Fatalf("leg 0 = %+v, want sell 4 NO", legs[0])
	}
	if legs[1].Side != kalshi.SideYes || legs[1].Count != 5 {
		t.Fatalf("leg 1 = %+v, want buy 5 YES", legs[1])
	}
}
