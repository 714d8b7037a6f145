package tree

import "testing"

// buildTree returns a valid tree:
//
//	root(1,10)
//	  a(2,5)
//	    a1(3,4)
//	  b(6,7)
//	  c(8,9)
func buildTree() []Node {
	return []Node{
		{ID: 1, RoleID: 1, LeftID: 1, RightID: 10},
		{ID: 2, RoleID: 1, ParentID: 1, LeftID: 2, RightID: 5},
		{ID: 3, RoleID: 1, ParentID: 2, LeftID: 3, RightID: 4},
		{ID: 4, RoleID: 1, ParentID: 1, LeftID: 6, RightID: 7},
		{ID: 5, RoleID: 1, ParentID: 1, LeftID: 8, RightID: 9},
	}
}

func TestValidateFreshTree(t *testing.T) {
	if !ValidateNodes(buildTree()) {
		t.Fatal("expected fresh tree to validate")
	}
}

func TestValidateSingleNode(t *testing.T) {
	if !ValidateNodes([]Node{{ID: 1, LeftID: 1, RightID: 2}}) {
		t.Fatal("expected single-node tree to validate")
	}
}

func TestValidateEmpty(t *testing.T) {
	if ValidateNodes(nil) {
		t.Fatal("expected empty slice to fail validation")
	}
}

func TestValidateSubtreeOfLargerTree(t *testing.T) {
	// The subtree rooted at a(2,5) on its own must also validate.
	nodes := []Node{
		{ID: 2, LeftID: 2, RightID: 5},
		{ID: 3, ParentID: 2, LeftID: 3, RightID: 4},
	}
	if !ValidateNodes(nodes) {
		t.Fatal("expected subtree to validate")
	}
}

func TestValidateDetectsCorruption(t *testing.T) {
	cases := []struct {
		name   string
		mutate func([]Node)
	}{
		{
			name: "swapped sibling ranges",
			mutate: func(nodes []Node) {
				// b takes c's range and vice versa; pre-order counter
				// still matches, but parent pointers no longer matter:
				// swap so the ranges collide instead.
				nodes[3].LeftID, nodes[3].RightID = 8, 9
				nodes[4].LeftID, nodes[4].RightID = 8, 9
			},
		},
		{
			name: "left equals right",
			mutate: func(nodes []Node) {
				nodes[2].RightID = nodes[2].LeftID
			},
		},
		{
			name: "inverted bounds",
			mutate: func(nodes []Node) {
				nodes[2].LeftID, nodes[2].RightID = nodes[2].RightID, nodes[2].LeftID
			},
		},
		{
			name: "even width",
			mutate: func(nodes []Node) {
				nodes[1].RightID = 6
			},
		},
		{
			name: "gap in numbering",
			mutate: func(nodes []Node) {
				nodes[4].LeftID, nodes[4].RightID = 9, 10
			},
		},
		{
			name: "child escapes parent range",
			mutate: func(nodes []Node) {
				nodes[2].RightID = 11
			},
		},
		{
			name: "overlapping siblings",
			mutate: func(nodes []Node) {
				nodes[3].RightID = 8
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			nodes := buildTree()
			tc.mutate(nodes)
			if ValidateNodes(nodes) {
				t.Fatal("expected corrupted tree to fail validation")
			}
		})
	}
}
