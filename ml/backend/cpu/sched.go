// sched.go - Scheduler fuer Graphen auf einem oder mehreren Backends
// Enthaelt: Scheduler mit Backend-Zuordnung, liveness-basierter Allokation
// und Ausfuehrung zusammenhaengender Knotenfolgen
package cpu

import (
	"fmt"

	"github.com/ollama/train/logutil"
	"github.com/ollama/train/ml"
)

// Scheduler ordnet jeden Knoten dem ersten Backend zu, das ihn berechnen kann,
// und haelt pro Backend einen wiederverwendbaren Buffer fuer Zwischenergebnisse.
type Scheduler struct {
	backends []ml.Backend
	buffers  []ml.Buffer

	// allocated enthaelt alle Tensoren, deren Daten der Scheduler gesetzt hat
	allocated []*ml.Tensor
}

var _ ml.Scheduler = (*Scheduler)(nil)

// NewScheduler erstellt einen Scheduler, die Reihenfolge legt die Prioritaet fest
func NewScheduler(backends ...ml.Backend) *Scheduler {
	if len(backends) == 0 {
		panic("cpu: scheduler needs at least one backend")
	}

	return &Scheduler{
		backends: backends,
		buffers:  make([]ml.Buffer, len(backends)),
	}
}

func (s *Scheduler) Backend(i int) ml.Backend { return s.backends[i] }

func (s *Scheduler) NumBackends() int { return len(s.backends) }

// Reset loest die Daten aller vom Scheduler allozierten Tensoren. Die Buffer
// bleiben fuer den naechsten Graphen erhalten.
func (s *Scheduler) Reset() {
	for _, t := range s.allocated {
		t.Data = nil
		t.Buffer = nil
	}
	s.allocated = s.allocated[:0]
}

// Close gibt die Buffer frei
func (s *Scheduler) Close() {
	s.Reset()
	for i, buf := range s.buffers {
		if buf != nil {
			buf.Free()
			s.buffers[i] = nil
		}
	}
}

func (s *Scheduler) assign(node *ml.Tensor) (int, error) {
	for i, b := range s.backends {
		if b.Supports(node) {
			return i, nil
		}
	}
	return 0, fmt.Errorf("node %q (%s, %s): %w", node.Name, node.Op, node.Type, ml.ErrUnsupportedOp)
}

type plan struct {
	lists    []*freeList
	offsets  map[*ml.Tensor]int
	owner    map[*ml.Tensor]int
	children map[*ml.Tensor]int
	views    map[*ml.Tensor]int
	order    []*ml.Tensor
}

func (p *plan) allocate(t *ml.Tensor, bi int) {
	if t.Data != nil || t.ViewSrc != nil {
		return
	}
	if _, ok := p.offsets[t]; ok {
		return
	}

	p.offsets[t] = p.lists[bi].alloc(t.NBytes())
	p.owner[t] = bi
	p.order = append(p.order, t)
}

func (p *plan) free(t *ml.Tensor) {
	off, ok := p.offsets[t]
	if !ok || t.IsInput() || t.IsOutput() || t.IsParam() {
		return
	}

	p.lists[p.owner[t]].free(off, t.NBytes())
}

// release wird aufgerufen, wenn t weder Verbraucher noch Sichten mehr hat
func (p *plan) release(t *ml.Tensor) {
	vs := t.ViewSrc
	if vs == nil {
		p.free(t)
		return
	}

	p.views[vs]--
	if p.views[vs] == 0 && p.children[vs] == 0 {
		p.free(vs)
	}
}

// AllocGraph plant die Speicherbelegung aller Knoten und Blaetter ohne Daten
// und bindet sie an die Backend-Buffer. Speicher eines Zwischenergebnisses
// wird wiederverwendet, sobald alle Verbraucher geplant sind. Eingaben,
// Ausgaben und Parameter werden nie freigegeben.
func (s *Scheduler) AllocGraph(g *ml.Graph) error {
	if len(s.allocated) > 0 {
		s.Reset()
	}

	nodes := g.Nodes()
	assigned := make([]int, len(nodes))
	for i, node := range nodes {
		bi, err := s.assign(node)
		if err != nil {
			return err
		}
		assigned[i] = bi
	}

	p := plan{
		lists:    make([]*freeList, len(s.backends)),
		offsets:  make(map[*ml.Tensor]int),
		owner:    make(map[*ml.Tensor]int),
		children: make(map[*ml.Tensor]int),
		views:    make(map[*ml.Tensor]int),
	}
	for i, b := range s.backends {
		p.lists[i] = newFreeList(b.BufferType().Alignment())
	}

	for _, node := range nodes {
		for _, src := range node.Src {
			if src != nil {
				p.children[src]++
			}
		}
		if node.ViewSrc != nil {
			p.views[node.ViewSrc]++
		}
	}

	for _, leaf := range g.Leafs() {
		p.allocate(leaf, 0)
	}

	for i, node := range nodes {
		bi := assigned[i]
		for _, src := range node.Src {
			if src != nil {
				p.allocate(src, bi)
			}
		}
		p.allocate(node, bi)

		for _, src := range node.Src {
			if src == nil {
				continue
			}
			p.children[src]--
			if p.children[src] == 0 && p.views[src] == 0 {
				p.release(src)
			}
		}
	}

	for i, b := range s.backends {
		if err := s.reserve(i, b, p.lists[i].maxSize); err != nil {
			return err
		}
	}

	for _, t := range p.order {
		buf := s.buffers[p.owner[t]]
		off, n := p.offsets[t], t.NBytes()
		t.Data = buf.Bytes()[off : off+n : off+n]
		t.Buffer = buf
		s.allocated = append(s.allocated, t)
	}

	for _, t := range g.Leafs() {
		s.bindView(t)
	}
	for _, t := range nodes {
		s.bindView(t)
	}

	logutil.Trace("sched: graph allocated", "nodes", len(nodes), "leafs", len(g.Leafs()), "tensors", len(p.order), "bytes", s.bufferBytes())
	return nil
}

func (s *Scheduler) bindView(t *ml.Tensor) {
	if t.Data != nil || t.ViewSrc == nil {
		return
	}
	t.InitView()
	s.allocated = append(s.allocated, t)
}

// reserve stellt sicher, dass Backend i einen Buffer mit mindestens size Bytes hat
func (s *Scheduler) reserve(i int, b ml.Backend, size int) error {
	if buf := s.buffers[i]; buf != nil {
		if buf.Size() >= size {
			return nil
		}
		buf.Free()
		s.buffers[i] = nil
	}

	bt := b.BufferType()
	if limit := bt.MaxSize(); limit > 0 && size > limit {
		return fmt.Errorf("%s: compute buffer of %d bytes exceeds limit of %d bytes: %w", b.Name(), size, limit, ml.ErrOutOfMemory)
	}

	buf, err := bt.Alloc(size)
	if err != nil {
		return fmt.Errorf("%s: allocating compute buffer: %w", b.Name(), err)
	}

	logutil.Trace("sched: compute buffer", "backend", b.Name(), "bytes", size)
	s.buffers[i] = buf
	return nil
}

func (s *Scheduler) bufferBytes() int {
	var n int
	for _, buf := range s.buffers {
		if buf != nil {
			n += buf.Size()
		}
	}
	return n
}

// GraphCompute fuehrt die Knoten aus. Aufeinanderfolgende Knoten desselben
// Backends werden gemeinsam uebergeben.
func (s *Scheduler) GraphCompute(g *ml.Graph) error {
	nodes := g.Nodes()
	for _, node := range nodes {
		if node.Data == nil && node.NBytes() > 0 {
			panic(fmt.Sprintf("cpu: node %q is not allocated", node.Name))
		}
	}

	lo, cur := 0, -1
	for i := 0; i <= len(nodes); i++ {
		bi := -1
		if i < len(nodes) {
			var err error
			if bi, err = s.assign(nodes[i]); err != nil {
				return err
			}
		}

		if bi != cur {
			if cur >= 0 {
				if err := s.backends[cur].Compute(nodes[lo:i]); err != nil {
					return fmt.Errorf("%s: %w", s.backends[cur].Name(), err)
				}
			}
			lo, cur = i, bi
		}
	}

	return nil
}
