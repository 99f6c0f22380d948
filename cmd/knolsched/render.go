package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/conorfennell/knolsched/internal/deck"
	"github.com/conorfennell/knolsched/internal/domain"
)

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("170"))
	newStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("75"))
	learnStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	reviewStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("214")).Bold(true)
	labelStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("241")).Width(10)
	buttonStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("62")).Padding(0, 1)
)

// countCell renders n in style, or dimmed when zero.
func countCell(n int, style lipgloss.Style) string {
	if n == 0 {
		return dimStyle.Render("0")
	}
	return style.Render(fmt.Sprint(n))
}

func renderCounts(c domain.Counts) string {
	return fmt.Sprintf("%s new  %s learning  %s review",
		countCell(c.New, newStyle),
		countCell(c.Learning, learnStyle),
		countCell(c.Review, reviewStyle),
	)
}

// renderTree draws the deck hierarchy, one deck per line. Collapsed decks
// hide their children.
func renderTree(root *deck.Node, withCounts bool) string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("Decks"))
	b.WriteString("\n")
	for _, child := range root.Children {
		writeNode(&b, child, "", withCounts)
	}
	return b.String()
}

func writeNode(b *strings.Builder, n *deck.Node, indent string, withCounts bool) {
	marker := "-"
	if n.Collapsed && len(n.Children) > 0 {
		marker = "+"
	}
	name := n.Name
	if n.Filtered {
		name = newStyle.Render(name)
	}
	fmt.Fprintf(b, "%s%s %s", indent, marker, name)
	if withCounts {
		fmt.Fprintf(b, "  %s %s %s",
			countCell(n.Counts.New, newStyle),
			countCell(n.Counts.Learning, learnStyle),
			countCell(n.Counts.Review, reviewStyle),
		)
	}
	b.WriteString("\n")
	if n.Collapsed {
		return
	}
	for _, child := range n.Children {
		writeNode(b, child, indent+"  ", withCounts)
	}
}

func renderCard(c *domain.Card) string {
	rows := []string{
		labelStyle.Render("card") + fmt.Sprint(c.ID),
		labelStyle.Render("note") + fmt.Sprint(c.NoteID),
		labelStyle.Render("queue") + c.Queue.String(),
		labelStyle.Render("type") + c.Type.String(),
	}
	if c.Type == domain.TypeReview || c.Type == domain.TypeRelearning {
		rows = append(rows,
			labelStyle.Render("interval")+fmt.Sprintf("%dd", c.Interval),
			labelStyle.Render("ease")+fmt.Sprintf("%d%%", c.EaseFactor/10),
		)
	}
	if len(c.Tags) > 0 {
		rows = append(rows, labelStyle.Render("tags")+strings.Join(c.Tags, " "))
	}
	return strings.Join(rows, "\n")
}

func renderButtons(labels map[domain.Rating]string) string {
	cells := make([]string, 0, len(domain.Ratings))
	for _, r := range domain.Ratings {
		cells = append(cells, buttonStyle.Render(fmt.Sprintf("%d %s\n%s", int(r), r, labels[r])))
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, cells...)
}
