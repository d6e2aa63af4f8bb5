package payments

import (
	"fmt"
	"sort"

	"github.com/warp/loan-engine/billing"
	"github.com/warp/loan-engine/core"
)

// =============================================================================
// ALLOCATION STRATEGY - Closed enum with a comparator payload
// =============================================================================

type StrategyKind string

const (
	StrategyFIFO              StrategyKind = "fifo"
	StrategyLIFO              StrategyKind = "lifo"
	StrategyEqualDistribution StrategyKind = "equal_distribution"
	StrategyCustomOrder       StrategyKind = "custom_order"
)

// Strategy selects the bill ordering for allocation. CustomOrder
// carries its comparator; the kind alone round-trips to a name with no
// reverse type inspection.
type Strategy struct {
	Kind StrategyKind

	// Less orders bills for StrategyCustomOrder. Ignored otherwise.
	Less func(a, b *billing.Bill) bool
}

func NewStrategy(kind StrategyKind) (Strategy, error) {
	switch kind {
	case StrategyFIFO, StrategyLIFO, StrategyEqualDistribution:
		return Strategy{Kind: kind}, nil
	case StrategyCustomOrder:
		return Strategy{}, fmt.Errorf("%w: custom_order requires a comparator", core.ErrUnknownStrategy)
	default:
		return Strategy{}, fmt.Errorf("%w: %q", core.ErrUnknownStrategy, kind)
	}
}

func NewCustomOrderStrategy(less func(a, b *billing.Bill) bool) (Strategy, error) {
	if less == nil {
		return Strategy{}, fmt.Errorf("%w: custom_order requires a comparator", core.ErrUnknownStrategy)
	}
	return Strategy{Kind: StrategyCustomOrder, Less: less}, nil
}

// ParseStrategyKind maps a wire name to a kind.
func ParseStrategyKind(name string) (StrategyKind, error) {
	switch StrategyKind(name) {
	case StrategyFIFO, StrategyLIFO, StrategyEqualDistribution, StrategyCustomOrder:
		return StrategyKind(name), nil
	default:
		return "", fmt.Errorf("%w: %q", core.ErrUnknownStrategy, name)
	}
}

func (s Strategy) String() string { return string(s.Kind) }

// order sorts eligible bills into allocation order. The input slice is
// sorted in place.
func (s Strategy) order(bills []*billing.Bill) {
	switch s.Kind {
	case StrategyLIFO:
		sort.SliceStable(bills, func(i, j int) bool { return bills[j].DueDate.Before(bills[i].DueDate) })
	case StrategyCustomOrder:
		if s.Less != nil {
			sort.SliceStable(bills, func(i, j int) bool { return s.Less(bills[i], bills[j]) })
		}
	default:
		// FIFO and EqualDistribution both walk earliest due first.
		sort.SliceStable(bills, func(i, j int) bool { return bills[i].DueDate.Before(bills[j].DueDate) })
	}
}
