package deck

import "github.com/conorfennell/knolsched/internal/domain"

// Limit is what a deck may still show today.
type Limit struct {
	New    int
	Review int
	// Unlimited is set for filtered decks, which ignore daily limits.
	Unlimited bool
}

// Remaining computes today's leftover allowance of a deck under cfg.
func Remaining(d *domain.Deck, cfg *domain.DeckConfig, today int) Limit {
	if d.IsFiltered() {
		return Limit{Unlimited: true}
	}
	return Limit{
		New:    max(cfg.New.PerDay-d.NewToday.On(today), 0),
		Review: max(cfg.Review.PerDay-d.ReviewToday.On(today), 0),
	}
}

// Node is one deck in a rendered tree, with counts that include its children.
type Node struct {
	DeckID    int64         `json:"deck_id"`
	Name      string        `json:"name"`
	FullName  string        `json:"full_name"`
	Level     int           `json:"level"`
	Collapsed bool          `json:"collapsed"`
	Filtered  bool          `json:"filtered"`
	Counts    domain.Counts `json:"counts"`
	Children  []*Node       `json:"children,omitempty"`
}

// BuildTree renders the whole hierarchy under a nameless root. counts holds
// the limited counts of each deck with its subdecks included, as the study
// queue of that deck would report them. A deck missing from counts shows
// zero; the root shows the sum of the top-level decks.
func BuildTree(t *Tree, counts map[int64]domain.Counts) *Node {
	root := &Node{}
	for _, id := range t.Roots() {
		child := build(t, id, counts)
		root.Children = append(root.Children, child)
		root.Counts.New += child.Counts.New
		root.Counts.Learning += child.Counts.Learning
		root.Counts.Review += child.Counts.Review
	}
	return root
}

func build(t *Tree, id int64, counts map[int64]domain.Counts) *Node {
	d, _ := t.Deck(id)
	n := &Node{
		DeckID:    d.ID,
		Name:      d.BaseName(),
		FullName:  d.Name,
		Level:     t.Depth(id) + 1,
		Collapsed: d.Collapsed,
		Filtered:  d.IsFiltered(),
		Counts:    counts[id],
	}
	for _, cid := range t.Children(id) {
		n.Children = append(n.Children, build(t, cid, counts))
	}
	return n
}

// SubtreeDue sums the raw due counts of every deck and its descendants.
// Limits only ever lower a count, so a deck whose sum is zero has nothing
// to show.
func SubtreeDue(t *Tree, raw map[int64]domain.DeckDueCounts) map[int64]int {
	totals := make(map[int64]int, t.Len())
	var walk func(id int64) int
	walk = func(id int64) int {
		c := raw[id]
		n := c.New + c.Learning + c.Review
		for _, cid := range t.Children(id) {
			n += walk(cid)
		}
		totals[id] = n
		return n
	}
	for _, id := range t.Roots() {
		walk(id)
	}
	return totals
}

// Find returns the node for a deck, searching depth first.
func (n *Node) Find(id int64) *Node {
	if n.DeckID == id {
		return n
	}
	for _, c := range n.Children {
		if found := c.Find(id); found != nil {
			return found
		}
	}
	return nil
}
