// context.go - Tensor-Arena mit fester Kapazitaet
// Dieses Modul stellt den Context bereit, in dem Tensoren und Operationen
// angelegt werden. Die Kapazitaet wird beim Anlegen festgelegt.
package ml

import "fmt"

// Context verwaltet eine begrenzte Anzahl von Tensor-Deskriptoren.
// Er reserviert keinen Datenspeicher, dies uebernimmt AllocContextTensors
// oder der Scheduler.
type Context struct {
	capacity int
	tensors  []*Tensor
}

// NewContext erstellt einen Context fuer hoechstens maxTensors Tensoren
func NewContext(maxTensors int) *Context {
	if maxTensors <= 0 {
		panic(fmt.Sprintf("ml: invalid context capacity %d", maxTensors))
	}

	return &Context{
		capacity: maxTensors,
		tensors:  make([]*Tensor, 0, maxTensors),
	}
}

// Capacity gibt die maximale Anzahl Tensoren zurueck
func (c *Context) Capacity() int {
	return c.capacity
}

// NumTensors gibt die Anzahl der angelegten Tensoren zurueck
func (c *Context) NumTensors() int {
	return len(c.tensors)
}

// Tensors gibt alle Tensoren in Anlagereihenfolge zurueck
func (c *Context) Tensors() []*Tensor {
	return c.tensors
}

func (c *Context) add(t *Tensor) *Tensor {
	if len(c.tensors) >= c.capacity {
		panic(fmt.Sprintf("ml: context full (%d tensors)", c.capacity))
	}

	c.tensors = append(c.tensors, t)
	return t
}

// Empty legt einen zusammenhaengenden Tensor ohne Daten an
func (c *Context) Empty(dtype DType, shape ...int64) *Tensor {
	return c.add(newTensorDesc(dtype, shape))
}

// EmptyLike legt einen Tensor mit Typ und Form von t an
func (c *Context) EmptyLike(t *Tensor) *Tensor {
	return c.Empty(t.Type, t.Ne[:]...)
}

// EmptyF32Like legt einen F32-Tensor mit der Form von t an
func (c *Context) EmptyF32Like(t *Tensor) *Tensor {
	return c.Empty(DTypeF32, t.Ne[:]...)
}

// view legt eine Sicht auf den Speicher von t an
func (c *Context) view(t *Tensor, shape []int64, offset int) *Tensor {
	v := newTensorDesc(t.Type, shape)
	src := t
	if t.ViewSrc != nil {
		src = t.ViewSrc
		offset += t.ViewOffs
	}

	v.ViewSrc = src
	v.ViewOffs = offset
	if src.Data != nil {
		v.InitView()
	}

	return c.add(v)
}

// ViewOf legt eine Sicht mit identischer Form und Strides auf t an
func (c *Context) ViewOf(t *Tensor) *Tensor {
	v := c.view(t, t.Ne[:], 0)
	v.Nb = t.Nb
	if v.ViewSrc.Data != nil {
		v.InitView()
	}
	return v
}

// Free gibt alle Deskriptoren frei. Daten in Buffern bleiben unberuehrt.
func (c *Context) Free() {
	clear(c.tensors)
	c.tensors = c.tensors[:0]
}
