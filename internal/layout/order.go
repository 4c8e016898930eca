package layout

import (
	"fmt"
	"sort"
	"strings"
)

// OrderPolicy selects the spatial sort key used to assign reading order.
// A pipeline holds exactly one policy for its whole lifetime.
type OrderPolicy int

const (
	// TopToBottom sorts by top edge, then left edge.
	TopToBottom OrderPolicy = iota
	// LeftToRight sorts by left edge, then top edge.
	LeftToRight
)

// DefaultOrderPolicy is the policy used when none is configured.
const DefaultOrderPolicy = TopToBottom

func (p OrderPolicy) String() string {
	switch p {
	case TopToBottom:
		return "top-to-bottom"
	case LeftToRight:
		return "left-to-right"
	default:
		return fmt.Sprintf("OrderPolicy(%d)", int(p))
	}
}

// OrderPolicyNames lists the accepted policy names.
func OrderPolicyNames() []string {
	return []string{TopToBottom.String(), LeftToRight.String()}
}

// ParseOrderPolicy parses a policy name such as "top-to-bottom".
// The empty string selects DefaultOrderPolicy.
func ParseOrderPolicy(s string) (OrderPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return DefaultOrderPolicy, nil
	case "top-to-bottom", "ttb", "rows":
		return TopToBottom, nil
	case "left-to-right", "ltr", "columns":
		return LeftToRight, nil
	default:
		return 0, fmt.Errorf("unknown order policy %q (must be one of: %s)", s, strings.Join(OrderPolicyNames(), ", "))
	}
}

// compare returns -1, 0 or 1 for a and b under the policy key.
func (p OrderPolicy) compare(a, b Rect) int {
	primaryA, secondaryA := a.Y, a.X
	primaryB, secondaryB := b.Y, b.X
	if p == LeftToRight {
		primaryA, secondaryA = a.X, a.Y
		primaryB, secondaryB = b.X, b.Y
	}
	switch {
	case primaryA < primaryB:
		return -1
	case primaryA > primaryB:
		return 1
	case secondaryA < secondaryB:
		return -1
	case secondaryA > secondaryB:
		return 1
	}
	return 0
}

// AssignOrder returns the detections sorted under policy with Order set to
// 1..N. Detections with identical keys keep their input order. The input
// slice is not modified.
func AssignOrder(dets []RawDetection, policy OrderPolicy) []OrderedDetection {
	idx := make([]int, len(dets))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(i, j int) bool {
		if c := policy.compare(dets[idx[i]].Rect, dets[idx[j]].Rect); c != 0 {
			return c < 0
		}
		return idx[i] < idx[j]
	})

	out := make([]OrderedDetection, len(dets))
	for pos, src := range idx {
		out[pos] = OrderedDetection{RawDetection: dets[src], Order: pos + 1}
	}
	return out
}
