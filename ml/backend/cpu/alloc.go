// alloc.go - Freiliste fuer die Graph-Allokation
// Enthaelt: freeList mit First-Fit-Vergabe, Zusammenfuehren beim Freigeben
// und Hochwassermarke
package cpu

import (
	"fmt"
	"math"

	"github.com/emirpasic/gods/v2/lists/arraylist"
)

type block struct {
	offset, size int
}

// freeList verwaltet freie Bereiche eines gedachten Buffers. Der letzte Block
// reicht bis ins Unendliche, maxSize ist die benoetigte Buffergroesse.
type freeList struct {
	align   int
	blocks  *arraylist.List[block]
	maxSize int
}

func newFreeList(align int) *freeList {
	f := &freeList{align: align, blocks: arraylist.New[block]()}
	f.reset()
	return f
}

func (f *freeList) reset() {
	f.blocks.Clear()
	f.blocks.Add(block{offset: 0, size: math.MaxInt / 2})
	f.maxSize = 0
}

func (f *freeList) alignSize(size int) int {
	return (size + f.align - 1) / f.align * f.align
}

// alloc vergibt den ersten passenden Block und gibt dessen Offset zurueck
func (f *freeList) alloc(size int) int {
	size = f.alignSize(size)

	for i := range f.blocks.Size() {
		blk, _ := f.blocks.Get(i)
		if blk.size < size {
			continue
		}

		offset := blk.offset
		blk.offset += size
		blk.size -= size
		if blk.size == 0 {
			f.blocks.Remove(i)
		} else {
			f.blocks.Set(i, blk)
		}

		f.maxSize = max(f.maxSize, offset+size)
		return offset
	}

	panic(fmt.Sprintf("cpu: no free block for %d bytes", size))
}

// free gibt einen Bereich zurueck und verschmilzt ihn mit Nachbarbloecken
func (f *freeList) free(offset, size int) {
	size = f.alignSize(size)
	if size == 0 {
		return
	}

	for i := range f.blocks.Size() {
		blk, _ := f.blocks.Get(i)

		switch {
		case blk.offset+blk.size == offset:
			blk.size += size
			if next, ok := f.blocks.Get(i + 1); ok && blk.offset+blk.size == next.offset {
				blk.size += next.size
				f.blocks.Remove(i + 1)
			}
			f.blocks.Set(i, blk)
			return
		case offset+size == blk.offset:
			blk.offset = offset
			blk.size += size
			f.blocks.Set(i, blk)
			return
		case offset < blk.offset:
			f.blocks.Insert(i, block{offset: offset, size: size})
			return
		}
	}

	panic(fmt.Sprintf("cpu: freed block at %d is beyond the free list", offset))
}

// numBlocks gibt die Anzahl der freien Bloecke zurueck
func (f *freeList) numBlocks() int {
	return f.blocks.Size()
}
