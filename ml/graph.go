// graph.go - Berechnungsgraph mit Gradienten-Slots
// Enthaelt: Graph, NewGraph, BuildForwardExpand, Dup, Reset
package ml

import (
	"fmt"

	"github.com/ollama/train/logutil"
)

// Graph haelt Knoten in topologischer Reihenfolge sowie die Blaetter.
// Ein Graph mit Gradienten ordnet Knoten ihren Gradienten und
// Gradienten-Akkumulatoren zu.
type Graph struct {
	size  int
	nodes []*Tensor
	leafs []*Tensor

	visited map[*Tensor]struct{}

	grads    map[*Tensor]*Tensor
	gradAccs map[*Tensor]*Tensor
}

// NewGraph erstellt einen leeren Graphen mit Platz fuer size Knoten und size Blaetter
func NewGraph(size int, grads bool) *Graph {
	assertf(size > 0, "invalid graph size %d", size)

	g := &Graph{
		size:    size,
		visited: make(map[*Tensor]struct{}),
	}
	if grads {
		g.grads = make(map[*Tensor]*Tensor)
		g.gradAccs = make(map[*Tensor]*Tensor)
	}
	return g
}

// Size gibt die Kapazitaet des Graphen zurueck
func (g *Graph) Size() int {
	return g.size
}

// Nodes gibt die Knoten in Ausfuehrungsreihenfolge zurueck
func (g *Graph) Nodes() []*Tensor {
	return g.nodes
}

// Leafs gibt die Blaetter des Graphen zurueck
func (g *Graph) Leafs() []*Tensor {
	return g.leafs
}

// Node gibt den Knoten i zurueck, negative Indizes zaehlen vom Ende
func (g *Graph) Node(i int) *Tensor {
	if i < 0 {
		i += len(g.nodes)
	}
	assertf(i >= 0 && i < len(g.nodes), "node index %d out of range", i)
	return g.nodes[i]
}

// HasGrads meldet, ob der Graph Gradienten-Slots besitzt
func (g *Graph) HasGrads() bool {
	return g.grads != nil
}

// Contains meldet, ob t bereits im Graphen enthalten ist
func (g *Graph) Contains(t *Tensor) bool {
	_, ok := g.visited[t]
	return ok
}

// Grad gibt den Gradienten von node zurueck oder nil
func (g *Graph) Grad(node *Tensor) *Tensor {
	if g.grads == nil {
		return nil
	}
	return g.grads[node]
}

// GradAcc gibt den Gradienten-Akkumulator von node zurueck oder nil
func (g *Graph) GradAcc(node *Tensor) *Tensor {
	if g.gradAccs == nil {
		return nil
	}
	return g.gradAccs[node]
}

// SetGrad setzt Gradient und Akkumulator von node. acc darf nil sein.
func (g *Graph) SetGrad(node, grad, acc *Tensor) {
	assertf(g.grads != nil, "graph has no gradient slots")

	setOrDelete(g.grads, node, grad)
	setOrDelete(g.gradAccs, node, acc)
}

func setOrDelete(m map[*Tensor]*Tensor, k, v *Tensor) {
	if v == nil {
		delete(m, k)
		return
	}
	m[k] = v
}

// BuildForwardExpand fuegt t und alle noch nicht enthaltenen Vorgaenger hinzu
func (g *Graph) BuildForwardExpand(t *Tensor) {
	n0 := len(g.nodes)
	g.visit(t)

	if len(g.nodes) > n0 && g.nodes[len(g.nodes)-1] != t {
		panic(fmt.Sprintf("ml: last expanded node is not %q", t.Name))
	}
}

func (g *Graph) visit(t *Tensor) {
	if _, ok := g.visited[t]; ok {
		return
	}
	g.visited[t] = struct{}{}

	for _, src := range t.Src {
		if src != nil {
			g.visit(src)
		}
	}

	if t.Op == OpNone && !t.IsParam() {
		assertf(len(g.leafs) < g.size, "graph leaf capacity %d exceeded", g.size)
		if t.Name == "" {
			t.Name = fmt.Sprintf("leaf_%d", len(g.leafs))
		}
		g.leafs = append(g.leafs, t)
		return
	}

	assertf(len(g.nodes) < g.size, "graph node capacity %d exceeded", g.size)
	if t.Name == "" {
		t.Name = fmt.Sprintf("node_%d", len(g.nodes))
	}
	g.nodes = append(g.nodes, t)
}

// Dup erstellt eine flache Kopie, die dieselben Tensoren referenziert.
// Mit forceGrads erhaelt die Kopie Gradienten-Slots, auch wenn g keine hat.
func (g *Graph) Dup(forceGrads bool) *Graph {
	d := NewGraph(g.size, g.grads != nil || forceGrads)
	d.nodes = append(d.nodes, g.nodes...)
	d.leafs = append(d.leafs, g.leafs...)
	for t := range g.visited {
		d.visited[t] = struct{}{}
	}

	for k, v := range g.grads {
		d.grads[k] = v
	}
	for k, v := range g.gradAccs {
		d.gradAccs[k] = v
	}

	return d
}

// Reset setzt die Akkumulatoren zurueck: der Gradient des Verlusts wird 1,
// alle anderen 0, AdamW-Momente werden geloescht. Alle betroffenen Tensoren
// muessen alloziert sein.
func (g *Graph) Reset() {
	if g == nil {
		return
	}
	assertf(g.grads != nil, "reset of a graph without gradients")

	for _, node := range g.nodes {
		if node.Op == OpOptStepAdamW {
			TensorMemset(node.Src[2], 0)
			TensorMemset(node.Src[3], 0)
		}

		acc := g.GradAcc(node)
		if acc == nil {
			continue
		}

		if node.IsLoss() {
			assertf(acc.Type == DTypeF32 && acc.IsScalar(), "loss gradient must be a f32 scalar")
			acc.SetFloats([]float32{1})
		} else {
			TensorMemset(acc, 0)
		}
	}

	logutil.Trace("graph reset", "nodes", len(g.nodes))
}
