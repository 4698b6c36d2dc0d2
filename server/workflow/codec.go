package workflow

import (
	"encoding/xml"
	"fmt"

	"github.com/pdvrieze/ProcessManager-sub007/model"
)

type xmlNodeInstance struct {
	XMLName         xml.Name       `xml:"http://adaptivity.nl/ProcessEngine/ nodeInstance"`
	Handle          model.Handle   `xml:"handle,attr"`
	State           string         `xml:"state,attr"`
	ProcessInstance model.Handle   `xml:"processinstance,attr"`
	NodeID          string         `xml:"nodeid,attr"`
	Failure         string         `xml:"failure,attr,omitempty"`
	Send            model.Handle   `xml:"send,attr,omitempty"`
	Attempts        int            `xml:"attempts,attr,omitempty"`
	Predecessors    []model.Handle `xml:"predecessor"`
	Results         []xmlResult    `xml:"result"`
	Body            *xmlInner      `xml:"body"`
}

type xmlResult struct {
	Name  string `xml:"name,attr"`
	Value string `xml:",innerxml"`
}

type xmlInner struct {
	Value string `xml:",innerxml"`
}

// MarshalNodeInstance writes the audit form of ni. Results and body are
// written verbatim as XML content.
func MarshalNodeInstance(ni *model.NodeInstance) ([]byte, error) {
	x := xmlNodeInstance{
		Handle:          ni.Handle,
		State:           ni.State.String(),
		ProcessInstance: ni.Instance,
		NodeID:          ni.NodeID,
		Failure:         ni.Failure,
		Send:            ni.Send,
		Attempts:        ni.Attempts,
		Predecessors:    ni.Predecessors,
	}
	for _, d := range ni.Results {
		x.Results = append(x.Results, xmlResult{Name: d.Name, Value: d.Value})
	}
	if ni.Body != "" {
		x.Body = &xmlInner{Value: ni.Body}
	}
	b, err := xml.Marshal(&x)
	if err != nil {
		return nil, fmt.Errorf("marshal node instance %d: %w", ni.Handle, err)
	}
	return b, nil
}

// UnmarshalNodeInstance reads the form written by MarshalNodeInstance.
func UnmarshalNodeInstance(data []byte) (*model.NodeInstance, error) {
	var x xmlNodeInstance
	if err := xml.Unmarshal(data, &x); err != nil {
		return nil, fmt.Errorf("unmarshal node instance: %w", err)
	}
	state, err := model.ParseNodeState(x.State)
	if err != nil {
		return nil, fmt.Errorf("node instance %d: %w", x.Handle, err)
	}
	ni := &model.NodeInstance{
		Handle:       x.Handle,
		Instance:     x.ProcessInstance,
		NodeID:       x.NodeID,
		Predecessors: x.Predecessors,
		State:        state,
		Failure:      x.Failure,
		Send:         x.Send,
		Attempts:     x.Attempts,
	}
	for _, r := range x.Results {
		ni.Results = append(ni.Results, model.ProcessData{Name: r.Name, Value: r.Value})
	}
	if x.Body != nil {
		ni.Body = x.Body.Value
	}
	return ni, nil
}
