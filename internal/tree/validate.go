package tree

import "sort"

// ValidateNodes checks the nested-set invariant over a subtree's nodes:
// visiting in pre-order, every left bound equals a running counter, every
// node spans an odd width (a leaf spans exactly 1), and children nest
// strictly inside their parent without overlapping and in left-to-right
// order. Returns false at the first violation.
//
// The slice must contain the subtree root and all of its descendants.
func ValidateNodes(nodes []Node) bool {
	if len(nodes) == 0 {
		return false
	}

	sorted := make([]Node, len(nodes))
	copy(sorted, nodes)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].LeftID < sorted[j].LeftID })

	var stack []Node
	counter := sorted[0].LeftID

	for _, node := range sorted {
		// Leaving completed siblings: their right bound must be the
		// next counter value.
		for len(stack) > 0 && stack[len(stack)-1].RightID < node.LeftID {
			top := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			if top.RightID != counter {
				return false
			}
			counter++
		}

		if node.LeftID != counter {
			return false
		}
		if node.RightID <= node.LeftID {
			return false
		}
		if (node.RightID-node.LeftID)%2 == 0 {
			return false
		}
		if len(stack) > 0 {
			parent := stack[len(stack)-1]
			if node.LeftID <= parent.LeftID || node.RightID >= parent.RightID {
				return false
			}
		}
		stack = append(stack, node)
		counter++
	}

	for len(stack) > 0 {
		top := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if top.RightID != counter {
			return false
		}
		counter++
	}
	return true
}
