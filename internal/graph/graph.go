// Package graph defines graph-of-agents structures, the YAML loader, and
// definition validation.
package graph

import (
	"fmt"
	"os"
	"slices"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ashita-ai/kumo/internal/state"
)

// Retry is a node's retry policy for failed attempts.
type Retry struct {
	MaxAttempts    int     `yaml:"max_attempts"`
	BackoffSeconds float64 `yaml:"backoff_seconds"`
}

// Backoff returns the sleep between attempts.
func (r Retry) Backoff() time.Duration {
	return time.Duration(r.BackoffSeconds * float64(time.Second))
}

// NodeBudget caps a single node's share of the run budget; zero fields are
// uncapped.
type NodeBudget struct {
	MaxTokens int     `yaml:"max_tokens"`
	MaxCost   float64 `yaml:"max_cost"`
}

// Node binds an agent to input/output keys and routing edges.
type Node struct {
	Name    string      `yaml:"-"`
	Agent   string      `yaml:"agent"`
	Inputs  []string    `yaml:"inputs"`
	Outputs []string    `yaml:"outputs"`
	Next    string      `yaml:"next"`
	OnFail  string      `yaml:"on_fail"`
	Retry   Retry       `yaml:"retry"`
	Budget  *NodeBudget `yaml:"budget"`
	End     bool        `yaml:"end"`
}

// Graph is an immutable graph definition.
type Graph struct {
	ID    string
	Entry string
	Nodes map[string]*Node
}

// DefinitionError is a malformed graph: missing entry, dangling edge,
// unreachable node, or a non-terminal node without a next edge. Fatal.
type DefinitionError struct {
	GraphID string
	Reason  string
}

func (e *DefinitionError) Error() string {
	return fmt.Sprintf("graph %q: %s", e.GraphID, e.Reason)
}

// Node returns the named node or a DefinitionError.
func (g *Graph) Node(name string) (*Node, error) {
	n, ok := g.Nodes[name]
	if !ok {
		return nil, &DefinitionError{GraphID: g.ID, Reason: fmt.Sprintf("node not found: %s", name)}
	}
	return n, nil
}

// Validate checks structural integrity of the definition.
func (g *Graph) Validate() error {
	if g.Entry == "" {
		return &DefinitionError{GraphID: g.ID, Reason: "no entry node"}
	}
	if _, ok := g.Nodes[g.Entry]; !ok {
		return &DefinitionError{GraphID: g.ID, Reason: fmt.Sprintf("entry node not found: %s", g.Entry)}
	}
	for name, n := range g.Nodes {
		if n.Agent == "" {
			return &DefinitionError{GraphID: g.ID, Reason: fmt.Sprintf("node %s has no agent", name)}
		}
		if !n.End && n.Next == "" {
			return &DefinitionError{GraphID: g.ID, Reason: fmt.Sprintf("node %s is not terminal and has no next", name)}
		}
		if n.End && n.Next != "" {
			return &DefinitionError{GraphID: g.ID, Reason: fmt.Sprintf("node %s is terminal but has next %q", name, n.Next)}
		}
		if n.Next != "" {
			if _, ok := g.Nodes[n.Next]; !ok {
				return &DefinitionError{GraphID: g.ID, Reason: fmt.Sprintf("node %s: next target not found: %s", name, n.Next)}
			}
		}
		if n.OnFail != "" {
			if _, ok := g.Nodes[n.OnFail]; !ok {
				return &DefinitionError{GraphID: g.ID, Reason: fmt.Sprintf("node %s: on_fail target not found: %s", name, n.OnFail)}
			}
		}
	}
	if unreachable := g.unreachable(); len(unreachable) > 0 {
		return &DefinitionError{
			GraphID: g.ID,
			Reason:  fmt.Sprintf("unreachable nodes: %s", strings.Join(unreachable, ", ")),
		}
	}
	return g.validateInputs()
}

// validateInputs checks that every node's declared inputs are satisfiable:
// each input key must come from the initial-state required keys, from the
// entry node's inputs (seeded by the caller), or from the outputs of a node
// that must run earlier on the next chain. An on_fail target is checked
// against what is available before the node that jumps to it, since the
// failing node's own outputs are not guaranteed.
func (g *Graph) validateInputs() error {
	available := map[string]bool{}
	for _, k := range state.RequiredKeys() {
		available[k] = true
	}
	for _, k := range g.Nodes[g.Entry].Inputs {
		available[k] = true
	}

	visited := map[string]bool{}
	for name := g.Entry; name != "" && !visited[name]; {
		visited[name] = true
		n := g.Nodes[name]
		if missing := missingInputs(available, n.Inputs); len(missing) > 0 {
			return &DefinitionError{
				GraphID: g.ID,
				Reason: fmt.Sprintf("node %s: undeclared inputs: %s (no earlier node produces them)",
					name, strings.Join(missing, ", ")),
			}
		}
		if n.OnFail != "" {
			if missing := missingInputs(available, g.Nodes[n.OnFail].Inputs); len(missing) > 0 {
				return &DefinitionError{
					GraphID: g.ID,
					Reason: fmt.Sprintf("node %s: on_fail target %s has undeclared inputs: %s",
						name, n.OnFail, strings.Join(missing, ", ")),
				}
			}
		}
		for _, k := range n.Outputs {
			available[k] = true
		}
		name = n.Next
	}
	return nil
}

// missingInputs returns the inputs absent from the available set, in
// declaration order.
func missingInputs(available map[string]bool, inputs []string) []string {
	var missing []string
	for _, k := range inputs {
		if !available[k] {
			missing = append(missing, k)
		}
	}
	return missing
}

// unreachable returns node names not reachable from the entry via next or
// on_fail edges, sorted for deterministic error text.
func (g *Graph) unreachable() []string {
	visited := map[string]bool{}
	var walk func(name string)
	walk = func(name string) {
		if visited[name] {
			return
		}
		visited[name] = true
		n := g.Nodes[name]
		if n == nil {
			return
		}
		if n.Next != "" {
			walk(n.Next)
		}
		if n.OnFail != "" {
			walk(n.OnFail)
		}
	}
	walk(g.Entry)

	var out []string
	for name := range g.Nodes {
		if !visited[name] {
			out = append(out, name)
		}
	}
	slices.Sort(out)
	return out
}

// rawGraph is the YAML document shape.
type rawGraph struct {
	ID    string           `yaml:"id"`
	Entry string           `yaml:"entry"`
	Nodes map[string]*Node `yaml:"nodes"`
}

// Load reads and validates a graph definition from a YAML file.
func Load(path string) (*Graph, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("graph: read %s: %w", path, err)
	}
	g, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("graph: %s: %w", path, err)
	}
	if g.ID == "" {
		g.ID = strings.TrimSuffix(strings.TrimSuffix(pathBase(path), ".yaml"), ".yml")
	}
	return g, nil
}

// Parse decodes and validates a graph definition from YAML bytes.
func Parse(data []byte) (*Graph, error) {
	var raw rawGraph
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("unmarshal: %w", err)
	}
	g := &Graph{ID: raw.ID, Entry: raw.Entry, Nodes: raw.Nodes}
	if g.Nodes == nil {
		g.Nodes = map[string]*Node{}
	}
	for name, n := range g.Nodes {
		n.Name = name
		if n.Retry.MaxAttempts == 0 {
			n.Retry.MaxAttempts = 1
		}
	}
	if err := g.Validate(); err != nil {
		return nil, err
	}
	return g, nil
}

func pathBase(path string) string {
	if i := strings.LastIndexByte(path, '/'); i >= 0 {
		return path[i+1:]
	}
	return path
}
