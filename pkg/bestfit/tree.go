package bestfit

// This file implements the size-keyed red-black tree: insert, remove, the
// two rotations, and the best-fit descent. Keys are never stored; every
// comparison calls a.sizeOf on the node's header, per the implicit-size
// discipline. Ported from original_source/best_fit_allocator.h's
// AddNode/RemoveNode/LeftRotate/RightRotate/FindBestFit, expressed without
// goto: the deletion fix-up's case 5/6 is a single fixupCase6 helper, called
// once from each side's branch, that runs case 5 when needed and then case 6.

// findBestFit descends the tree looking for the smallest free block whose
// size is >= size, per spec's best_fit(size): go right while the current
// node's size is strictly less than the request, otherwise record the
// current node as the best candidate so far and go left.
func (a *Allocator) findBestFit(size int) *freeBlock {
	var best *freeBlock

	for n := a.rootNode(); n != nil; {
		if a.sizeOf(&n.header) < size {
			n = n.Right()
		} else {
			best = n
			n = n.Left()
		}
	}

	return best
}

// insert adds n to the tree, keyed on its current implicit size. Duplicate
// keys descend to the right, per spec §4.3.
func (a *Allocator) insert(n *freeBlock) {
	n.setLeft(nil)
	n.setRight(nil)
	n.setParent(nil)
	n.setColor(red)

	size := a.sizeOf(&n.header)

	var parent *freeBlock

	cur := a.rootNode()
	for cur != nil {
		parent = cur

		if size < a.sizeOf(&cur.header) {
			cur = cur.Left()
		} else {
			cur = cur.Right()
		}
	}

	n.setParent(parent)

	switch {
	case parent == nil:
		a.setRoot(n)
	case size < a.sizeOf(&parent.header):
		parent.setLeft(n)
	default:
		parent.setRight(n)
	}

	a.insertFixup(n)
}

func (a *Allocator) insertFixup(n *freeBlock) {
	for n.Parent() != nil && n.Parent().red() {
		parent := n.Parent()
		grandparent := parent.Parent()

		if grandparent == nil {
			break
		}

		if parent == grandparent.Left() {
			uncle := grandparent.Right()

			if uncle != nil && uncle.red() {
				parent.setColor(black)
				uncle.setColor(black)
				grandparent.setColor(red)
				n = grandparent
				continue
			}

			if n == parent.Right() {
				n = parent
				a.leftRotate(n)
				parent = n.Parent()
				grandparent = parent.Parent()
			}

			parent.setColor(black)
			grandparent.setColor(red)
			a.rightRotate(grandparent)
		} else {
			uncle := grandparent.Left()

			if uncle != nil && uncle.red() {
				parent.setColor(black)
				uncle.setColor(black)
				grandparent.setColor(red)
				n = grandparent
				continue
			}

			if n == parent.Left() {
				n = parent
				a.rightRotate(n)
				parent = n.Parent()
				grandparent = parent.Parent()
			}

			parent.setColor(black)
			grandparent.setColor(red)
			a.leftRotate(grandparent)
		}
	}

	a.rootNode().setColor(black)
}

func (a *Allocator) leftRotate(n *freeBlock) {
	r := n.Right()
	n.setRight(r.Left())

	if r.Left() != nil {
		r.Left().setParent(n)
	}

	r.setParent(n.Parent())

	switch {
	case n.Parent() == nil:
		a.setRoot(r)
	case n == n.Parent().Left():
		n.Parent().setLeft(r)
	default:
		n.Parent().setRight(r)
	}

	r.setLeft(n)
	n.setParent(r)
}

func (a *Allocator) rightRotate(n *freeBlock) {
	l := n.Left()
	n.setLeft(l.Right())

	if l.Right() != nil {
		l.Right().setParent(n)
	}

	l.setParent(n.Parent())

	switch {
	case n.Parent() == nil:
		a.setRoot(l)
	case n == n.Parent().Right():
		n.Parent().setRight(l)
	default:
		n.Parent().setLeft(l)
	}

	l.setRight(n)
	n.setParent(l)
}

// remove deletes n from the tree. This is the classical BST-delete plus
// red-black fix-up: if n has two children, it is swapped structurally with
// its in-order successor (the successor's *position* moves into n's slot)
// before the single-child/no-child case is handled.
func (a *Allocator) remove(n *freeBlock) {
	removedWasRed := n.red()

	var (
		child       *freeBlock
		childParent *freeBlock
		childIsLeft bool
	)

	switch {
	case n.Left() == nil:
		child = n.Right()
		childParent = n.Parent()
		childIsLeft = childParent != nil && n == childParent.Left()
		a.transplant(n, child)
	case n.Right() == nil:
		child = n.Left()
		childParent = n.Parent()
		childIsLeft = childParent != nil && n == childParent.Left()
		a.transplant(n, child)
	default:
		successor := leftmost(n.Right())
		removedWasRed = successor.red()
		child = successor.Right()

		if successor.Parent() == n {
			childParent = successor
			childIsLeft = false
		} else {
			childParent = successor.Parent()
			childIsLeft = true // leftmost(n.Right()) is always reached via a left step
			a.transplant(successor, successor.Right())
			successor.setRight(n.Right())
			successor.Right().setParent(successor)
		}

		a.transplant(n, successor)
		successor.setLeft(n.Left())
		successor.Left().setParent(successor)
		successor.setColor(n.red())
	}

	if !removedWasRed {
		a.deleteFixup(child, childParent, childIsLeft)
	}
}

// transplant replaces the subtree rooted at old with the subtree rooted at
// repl (which may be nil), re-seating old's parent's child pointer or the
// tree root.
func (a *Allocator) transplant(old, repl *freeBlock) {
	switch {
	case old.Parent() == nil:
		a.setRoot(repl)
	case old == old.Parent().Left():
		old.Parent().setLeft(repl)
	default:
		old.Parent().setRight(repl)
	}

	if repl != nil {
		repl.setParent(old.Parent())
	}
}

func leftmost(n *freeBlock) *freeBlock {
	for n.Left() != nil {
		n = n.Left()
	}

	return n
}

// deleteFixup restores the red-black properties after a black node was
// removed, using the classical six-case analysis with a "double-black"
// token represented implicitly by (node, parent, isLeft) — node may be nil,
// which is why its side and parent are threaded through explicitly instead
// of derived by comparing node against parent.Left(): when node is nil, both
// of parent's children can be nil simultaneously, so pointer comparison
// cannot recover which side node is on.
func (a *Allocator) deleteFixup(n, parent *freeBlock, isLeft bool) {
	for n != a.rootNode() && !isRed(n) {
		if parent == nil {
			break
		}

		if isLeft {
			sibling := parent.Right()

			if isRed(sibling) {
				sibling.setColor(black)
				parent.setColor(red)
				a.leftRotate(parent)
				sibling = parent.Right()
			}

			if !isRed(sibling.Left()) && !isRed(sibling.Right()) {
				sibling.setColor(red)
				n = parent
				parent = n.Parent()
				isLeft = parent != nil && n == parent.Left()
				continue
			}

			a.fixupCase6(parent, sibling, true)
			n = a.rootNode()
			break
		} else {
			sibling := parent.Left()

			if isRed(sibling) {
				sibling.setColor(black)
				parent.setColor(red)
				a.rightRotate(parent)
				sibling = parent.Left()
			}

			if !isRed(sibling.Left()) && !isRed(sibling.Right()) {
				sibling.setColor(red)
				n = parent
				parent = n.Parent()
				isLeft = parent != nil && n == parent.Left()
				continue
			}

			a.fixupCase6(parent, sibling, false)
			n = a.rootNode()
			break
		}
	}

	if n != nil {
		n.setColor(black)
	}
}

// fixupCase6 handles red-black delete cases 5 and 6 for one side, shared
// between the left-child and right-child branches of deleteFixup (Open
// Question 3: the original's goto case6 becomes this one helper called from
// both sites rather than duplicated inline or a literal goto).
func (a *Allocator) fixupCase6(parent, sibling *freeBlock, parentLeft bool) {
	if parentLeft {
		if !isRed(sibling.Right()) {
			sibling.Left().setColor(black)
			sibling.setColor(red)
			a.rightRotate(sibling)
			sibling = parent.Right()
		}

		sibling.setColor(parent.red())
		parent.setColor(black)
		sibling.Right().setColor(black)
		a.leftRotate(parent)
	} else {
		if !isRed(sibling.Left()) {
			sibling.Right().setColor(black)
			sibling.setColor(red)
			a.leftRotate(sibling)
			sibling = parent.Left()
		}

		sibling.setColor(parent.red())
		parent.setColor(black)
		sibling.Left().setColor(black)
		a.rightRotate(parent)
	}
}

// isRed reports n's color, treating nil (a leaf) as black, per the
// red-black tree convention.
func isRed(n *freeBlock) bool {
	return n != nil && n.red()
}
