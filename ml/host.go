// host.go - Buffer im Hauptspeicher
// Enthaelt: HostBufferType, NewHostBufferType und den zugehoerigen Buffer
package ml

import (
	"fmt"
	"unsafe"
)

type hostBufferType struct {
	name    string
	maxSize int
}

var defaultHost = &hostBufferType{name: "Host"}

// HostBufferType gibt den unbegrenzten Buffer-Typ fuer Hauptspeicher zurueck
func HostBufferType() BufferType {
	return defaultHost
}

// NewHostBufferType erstellt einen Hauptspeicher-Buffer-Typ mit Groessenlimit.
// maxSize 0 bedeutet unbegrenzt.
func NewHostBufferType(name string, maxSize int) BufferType {
	return &hostBufferType{name: name, maxSize: maxSize}
}

func (bt *hostBufferType) Name() string   { return bt.name }
func (bt *hostBufferType) Alignment() int { return TensorAlignment }
func (bt *hostBufferType) MaxSize() int   { return bt.maxSize }

func (bt *hostBufferType) Alloc(size int) (Buffer, error) {
	if size < 0 {
		panic(fmt.Sprintf("ml: negative buffer size %d", size))
	}
	if bt.maxSize > 0 && size > bt.maxSize {
		return nil, fmt.Errorf("%s buffer of %d bytes exceeds limit of %d bytes: %w", bt.name, size, bt.maxSize, ErrOutOfMemory)
	}

	// uint64-Backing garantiert 8-Byte-Ausrichtung fuer typisierte Zugriffe
	words := make([]uint64, (size+7)/8)
	var data []byte
	if len(words) > 0 {
		data = unsafe.Slice((*byte)(unsafe.Pointer(&words[0])), size)
	} else {
		data = []byte{}
	}

	return &hostBuffer{bt: bt, data: data, words: words}, nil
}

type hostBuffer struct {
	bt    *hostBufferType
	data  []byte
	words []uint64
}

func (b *hostBuffer) Type() BufferType { return b.bt }
func (b *hostBuffer) Size() int        { return len(b.data) }
func (b *hostBuffer) Bytes() []byte    { return b.data }

func (b *hostBuffer) Free() {
	b.data = nil
	b.words = nil
}
