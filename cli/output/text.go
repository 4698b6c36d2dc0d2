package output

import (
	"fmt"
	"strconv"

	"github.com/pdvrieze/ProcessManager-sub007/model"
	"github.com/pterm/pterm"
	"github.com/pterm/pterm/putils"
)

// Text provides a client output implementation for console
type Text struct {
}

// OutputValidation reports the outcome of validating a model.
func (c *Text) OutputValidation(name string, err error) {
	if err != nil {
		write(pterm.Error.Sprintln(name + ": " + err.Error()))
		return
	}
	write(pterm.Success.Sprintln(name + " is valid"))
}

// OutputModel renders a model as a tree of its nodes.
func (c *Text) OutputModel(pm *model.ProcessModel) {
	ll := pterm.LeveledList{
		pterm.LeveledListItem{Level: 0, Text: "Model: " + pm.Name},
		pterm.LeveledListItem{Level: 1, Text: "Owner: " + pm.Owner},
		pterm.LeveledListItem{Level: 1, Text: "UUID: " + pm.UUID.String()},
	}
	for _, n := range pm.Nodes {
		ll = append(ll, pterm.LeveledListItem{Level: 1, Text: n.Kind.String() + " " + n.ID})
		if n.Label != "" {
			ll = append(ll, pterm.LeveledListItem{Level: 2, Text: "Label: " + n.Label})
		}
		if len(n.Predecessors) > 0 {
			ll = append(ll, pterm.LeveledListItem{Level: 2, Text: fmt.Sprintf("Predecessors: %v", n.Predecessors)})
		}
		if n.Kind == model.KindSplit || n.Kind == model.KindJoin {
			ll = append(ll, pterm.LeveledListItem{Level: 2, Text: "Min: " + strconv.Itoa(n.Min) + " Max: " + strconv.Itoa(n.Max)})
		}
		if n.Condition != "" {
			ll = append(ll, pterm.LeveledListItem{Level: 2, Text: "Condition: " + n.Condition})
		}
		if n.Message != nil {
			ll = append(ll, pterm.LeveledListItem{Level: 2, Text: "Message: " + n.Message.Destination})
		}
		for _, d := range n.Defines {
			ll = append(ll, pterm.LeveledListItem{Level: 2, Text: "Define: " + d.Name})
		}
		for _, r := range n.Results {
			ll = append(ll, pterm.LeveledListItem{Level: 2, Text: "Result: " + r.Name})
		}
	}
	root := putils.TreeFromLeveledList(ll)
	op, err := pterm.DefaultTree.WithRoot(root).Srender()
	if err != nil {
		panic(fmt.Errorf("render: %w", err))
	}
	write(op)
}

// OutputRender prints a resolved message body.
func (c *Text) OutputRender(body string) {
	write(body + "\n")
}

// OutputNodeInstances prints the audit form of node instances, one per line.
func (c *Text) OutputNodeInstances(xml [][]byte) {
	for _, x := range xml {
		write(string(x) + "\n")
	}
}

func write(s string) {
	if _, err := Stream.Write([]byte(s)); err != nil {
		panic(err)
	}
}
