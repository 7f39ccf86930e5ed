package production

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/comalice/hsmx"
)

// Node describes one engine in a topology snapshot.
type Node struct {
	Name      string   `json:"name" yaml:"name"`
	Loop      string   `json:"loop" yaml:"loop"`
	Dedicated bool     `json:"dedicated" yaml:"dedicated"`
	Phase     string   `json:"phase" yaml:"phase"`
	Current   string   `json:"current,omitempty" yaml:"current,omitempty"`
	Parent    string   `json:"parent,omitempty" yaml:"parent,omitempty"`
	States    []string `json:"states" yaml:"states"`
}

// Topology is a point-in-time view of a set of engines and their parent
// edges.
type Topology struct {
	Engines []Node `json:"engines" yaml:"engines"`
}

// Snapshot captures the given engines, sorted by name.
func Snapshot(engines ...*hsmx.Engine) Topology {
	var topo Topology
	for _, e := range engines {
		if e == nil {
			continue
		}
		n := Node{
			Name:      e.Name(),
			Loop:      e.Loop().Name(),
			Dedicated: e.Dedicated(),
			Phase:     e.Phase().String(),
			Current:   e.State(),
			States:    e.States(),
		}
		if p := e.Parent(); p != nil {
			n.Parent = p.Name()
		}
		topo.Engines = append(topo.Engines, n)
	}
	sort.Slice(topo.Engines, func(i, j int) bool {
		return topo.Engines[i].Name < topo.Engines[j].Name
	})
	return topo
}

// DefaultVisualizer renders topologies.
type DefaultVisualizer struct{}

// ExportDOT generates Graphviz DOT source: one cluster per engine holding
// its states, the current state highlighted, and an edge from every child
// engine to its parent.
func (v *DefaultVisualizer) ExportDOT(topo Topology) string {
	var buf bytes.Buffer
	buf.WriteString(`digraph Engines {
  rankdir=BT;
  compound=true;
  node [shape=box, fontsize=10, style=rounded];
  edge [fontsize=9];
`)

	for _, n := range topo.Engines {
		renderEngine(&buf, n)
	}

	for _, n := range topo.Engines {
		if n.Parent == "" {
			continue
		}
		fmt.Fprintf(&buf, "  %q -> %q [label=\"bubble\" ltail=%q lhead=%q];\n",
			anchor(n), anchor(parentNode(topo, n.Parent)),
			cluster(n.Name), cluster(n.Parent))
	}

	buf.WriteString("}\n")
	return buf.String()
}

// ExportJSON serializes the topology to JSON.
func (v *DefaultVisualizer) ExportJSON(topo Topology) ([]byte, error) {
	return json.MarshalIndent(topo, "", "  ")
}

// ExportYAML serializes the topology to YAML.
func (v *DefaultVisualizer) ExportYAML(topo Topology) ([]byte, error) {
	return yaml.Marshal(topo)
}

func renderEngine(buf *bytes.Buffer, n Node) {
	fmt.Fprintf(buf, "  subgraph %s {\n", cluster(n.Name))
	loop := n.Loop
	if n.Dedicated {
		loop = "dedicated"
	}
	fmt.Fprintf(buf, "    label=\"%s [%s, %s]\";\n", n.Name, loop, n.Phase)
	fmt.Fprintf(buf, "    %q [label=\"%s\" shape=point];\n", anchor(n), n.Name)
	for _, s := range n.States {
		style := ""
		if s == n.Current {
			style = " style=filled fillcolor=lightgreen"
		}
		fmt.Fprintf(buf, "    %q [label=%q%s];\n", n.Name+"."+s, s, style)
	}
	buf.WriteString("  }\n")
}

func parentNode(topo Topology, name string) Node {
	for _, n := range topo.Engines {
		if n.Name == name {
			return n
		}
	}
	return Node{Name: name}
}

func anchor(n Node) string {
	return n.Name + ".__engine"
}

func cluster(name string) string {
	return fmt.Sprintf("%q", "cluster_"+name)
}
