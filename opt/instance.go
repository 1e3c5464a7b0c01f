// instance.go - Wegwerf-Kopien statischer Graphen
// Enthaelt: instance und newInstance. Der Scheduler alloziert die Kopie,
// die Vorlage bleibt unveraendert und kann erneut kopiert werden.
package opt

import (
	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/ollama/train/logutil"
	"github.com/ollama/train/ml"
)

// instance ist eine tiefe Kopie eines Graphen mit eigenen Tensor-Deskriptoren.
// Tensoren mit Daten teilen ihren Speicher mit der Vorlage.
type instance struct {
	ctx   *ml.Context
	graph *ml.Graph

	// tensors ordnet Vorlagen-Tensoren ihren Kopien in Kopierreihenfolge zu
	tensors *orderedmap.OrderedMap[*ml.Tensor, *ml.Tensor]
}

func newInstance(template *ml.Graph) *instance {
	in := &instance{
		ctx:     ml.NewContext(2 * template.Size()),
		graph:   ml.NewGraph(template.Size(), true),
		tensors: orderedmap.New[*ml.Tensor, *ml.Tensor](),
	}

	for _, leaf := range template.Leafs() {
		in.graph.BuildForwardExpand(in.tensor(leaf))
	}
	for _, node := range template.Nodes() {
		in.graph.BuildForwardExpand(in.tensor(node))
	}

	if len(in.graph.Leafs()) != len(template.Leafs()) || len(in.graph.Nodes()) != len(template.Nodes()) {
		panic("opt: graph copy differs from its template")
	}

	// Gradienten in Kopierreihenfolge umhaengen, Quellen vor ihren Verbrauchern
	for pair := in.tensors.Oldest(); pair != nil; pair = pair.Next() {
		grad, acc := template.Grad(pair.Key), template.GradAcc(pair.Key)
		if grad == nil && acc == nil {
			continue
		}
		in.graph.SetGrad(pair.Value, in.lookup(grad), in.lookup(acc))
	}

	logutil.Trace("graph instance created", "tensors", in.tensors.Len(), "nodes", len(in.graph.Nodes()))
	return in
}

// tensor gibt die Kopie von t zurueck und legt sie samt Quellen bei Bedarf an
func (in *instance) tensor(t *ml.Tensor) *ml.Tensor {
	if t == nil {
		return nil
	}
	if c, ok := in.tensors.Get(t); ok {
		return c
	}

	c := in.ctx.EmptyLike(t)
	c.Nb = t.Nb
	c.Op = t.Op
	c.OpParams = t.OpParams
	c.Flags = t.Flags
	c.Name = t.Name
	c.Data = t.Data
	c.Buffer = t.Buffer
	c.ViewOffs = t.ViewOffs
	in.tensors.Set(t, c)

	c.ViewSrc = in.tensor(t.ViewSrc)
	for i, src := range t.Src {
		c.Src[i] = in.tensor(src)
	}

	return c
}

// lookup gibt die Kopie von t zurueck, falls vorhanden, sonst t selbst
func (in *instance) lookup(t *ml.Tensor) *ml.Tensor {
	if t == nil {
		return nil
	}
	if c, ok := in.tensors.Get(t); ok {
		return c
	}
	return t
}
