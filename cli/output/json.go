package output

import (
	"encoding/json"

	"github.com/pdvrieze/ProcessManager-sub007/model"
)

// JSON contains the output methods for returning json CLI responses
type JSON struct {
}

// OutputValidation returns a CLI response
func (c *JSON) OutputValidation(name string, err error) {
	res := struct {
		Model string
		Valid bool
		Error string `json:",omitempty"`
	}{Model: name, Valid: err == nil}
	if err != nil {
		res.Error = err.Error()
	}
	outJSON(res)
}

// OutputModel returns a CLI response
func (c *JSON) OutputModel(pm *model.ProcessModel) {
	type node struct {
		ID           string
		Kind         string
		Predecessors []string `json:",omitempty"`
		Successors   []string `json:",omitempty"`
		Condition    string   `json:",omitempty"`
		Destination  string   `json:",omitempty"`
	}
	res := struct {
		Name  string
		Owner string
		UUID  string
		Nodes []node
	}{Name: pm.Name, Owner: pm.Owner, UUID: pm.UUID.String()}
	for _, n := range pm.Nodes {
		nd := node{ID: n.ID, Kind: n.Kind.String(), Predecessors: n.Predecessors, Successors: n.Successors, Condition: n.Condition}
		if n.Message != nil {
			nd.Destination = n.Message.Destination
		}
		res.Nodes = append(res.Nodes, nd)
	}
	outJSON(res)
}

// OutputRender returns a CLI response
func (c *JSON) OutputRender(body string) {
	outJSON(struct{ Body string }{Body: body})
}

// OutputNodeInstances returns a CLI response
func (c *JSON) OutputNodeInstances(xml [][]byte) {
	res := struct{ NodeInstances []string }{NodeInstances: make([]string, 0, len(xml))}
	for _, x := range xml {
		res.NodeInstances = append(res.NodeInstances, string(x))
	}
	outJSON(res)
}

func outJSON(js interface{}) {
	op, err := json.Marshal(&js)
	if err != nil {
		panic(err)
	}
	if _, err := Stream.Write(append(op, '\n')); err != nil {
		panic(err)
	}
}
