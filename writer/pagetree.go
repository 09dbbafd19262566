package writer

import (
	"github.com/wudi/pdfcore/ir/raw"
)

// pageTreeFanout is the number of kids per page tree node.
const pageTreeFanout = 10

// pageNode is a /Pages node. Leaf parents (level 0) hold page numbers,
// higher levels hold nodes.
type pageNode struct {
	id     int
	level  int
	parent *pageNode
	kids   []*pageNode
	pages  []int
}

func (n *pageNode) full() bool {
	if n.level == 0 {
		return len(n.pages) >= pageTreeFanout
	}
	return len(n.kids) >= pageTreeFanout
}

// pageTree grows a balanced tree of node numbers as pages are added. Node
// numbers are allocated up front so pages can name their parent.
type pageTree struct {
	reg     *Registry
	root    *pageNode
	current *pageNode
}

// add places page id and returns the number of its parent node.
func (t *pageTree) add(id int) int {
	if t.root == nil {
		t.root = &pageNode{id: t.reg.AllocateNewObjectID()}
		t.current = t.root
	}
	if t.current.full() {
		t.current = t.grow()
	}
	t.current.pages = append(t.current.pages, id)
	return t.current.id
}

// grow opens a new leaf parent under the lowest ancestor with room,
// raising the root when every level is full.
func (t *pageTree) grow() *pageNode {
	n := t.current.parent
	for n != nil && n.full() {
		n = n.parent
	}
	if n == nil {
		old := t.root
		t.root = &pageNode{id: t.reg.AllocateNewObjectID(), level: old.level + 1, kids: []*pageNode{old}}
		old.parent = t.root
		n = t.root
	}
	for n.level > 0 {
		kid := &pageNode{id: t.reg.AllocateNewObjectID(), level: n.level - 1, parent: n}
		n.kids = append(n.kids, kid)
		n = kid
	}
	return n
}

func (t *pageTree) empty() bool { return t.root == nil || t.root.count() == 0 }

func (n *pageNode) count() int {
	if n.level == 0 {
		return len(n.pages)
	}
	total := 0
	for _, k := range n.kids {
		total += k.count()
	}
	return total
}

// write emits node and its descendants, kids first. parent overrides the
// /Parent of the node itself; 0 means the node's own parent, if any.
func (t *pageTree) write(c *ObjectsContext, n *pageNode, parent int) (int, error) {
	kids := raw.NewArray()
	count := 0
	if n.level == 0 {
		for _, id := range n.pages {
			kids.Append(raw.Ref(id, 0))
		}
		count = len(n.pages)
	} else {
		for _, k := range n.kids {
			kc, err := t.write(c, k, 0)
			if err != nil {
				return 0, err
			}
			count += kc
			kids.Append(raw.Ref(k.id, 0))
		}
	}

	d := raw.Dict()
	d.Set("Type", raw.NameLiteral("Pages"))
	d.Set("Count", raw.NumberInt(int64(count)))
	d.Set("Kids", kids)
	if parent == 0 && n.parent != nil {
		parent = n.parent.id
	}
	if parent != 0 {
		d.Set("Parent", raw.Ref(parent, 0))
	}
	return count, c.writeIndirect(n.id, d, c.StartNewIndirectObjectWithID)
}
