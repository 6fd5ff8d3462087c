// Copyright 2026 Teradata
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package wasm

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sort"
	"sync"
	"unicode/utf8"

	"github.com/mofa-org/mofa/pkg/types"
)

const allocAlign = 8

func alignUp(n uint64) uint64 {
	return (n + allocAlign - 1) &^ (allocAlign - 1)
}

// LinearMemory is the raw byte store behind a Memory. Data may return a
// different slice after Grow.
type LinearMemory interface {
	Data() []byte
	Grow(deltaPages uint32) error
}

type heapLinear struct {
	data []byte
}

func (h *heapLinear) Data() []byte { return h.data }

func (h *heapLinear) Grow(deltaPages uint32) error {
	h.data = append(h.data, make([]byte, int(deltaPages)*PageSize)...)
	return nil
}

// heap is the bump allocator state. It is shared by every view of the same
// guest memory.
type heap struct {
	mu     sync.Mutex
	next   uint32
	allocs map[uint32]uint32
	freed  map[uint32]uint32
}

// Memory is a bounds-checked view of a guest linear memory plus a bump
// allocator. The first page is reserved for the guest; allocations start at
// PageSize. Free marks a region released but never reuses or coalesces it.
type Memory struct {
	lm       LinearMemory
	maxPages uint32
	heap     *heap
}

// NewMemory wraps lm. maxPages bounds growth through Alloc.
func NewMemory(lm LinearMemory, maxPages uint32) *Memory {
	return &Memory{
		lm:       lm,
		maxPages: maxPages,
		heap: &heap{
			next:   PageSize,
			allocs: make(map[uint32]uint32),
			freed:  make(map[uint32]uint32),
		},
	}
}

// NewHeapMemory returns a Memory backed by a Go slice, used for host-side
// buffers and tests.
func NewHeapMemory(initialPages, maxPages uint32) *Memory {
	return NewMemory(&heapLinear{data: make([]byte, int(initialPages)*PageSize)}, maxPages)
}

// bind returns a view of the same allocator over another handle to the
// same linear memory.
func (m *Memory) bind(lm LinearMemory) *Memory {
	return &Memory{lm: lm, maxPages: m.maxPages, heap: m.heap}
}

// Size returns the current size in bytes.
func (m *Memory) Size() uint32 {
	return uint32(len(m.lm.Data()))
}

// Pages returns the current size in pages.
func (m *Memory) Pages() uint32 {
	return m.Size() / PageSize
}

// MaxPages returns the growth bound.
func (m *Memory) MaxPages() uint32 {
	return m.maxPages
}

func (m *Memory) slice(ptr, n uint32) ([]byte, error) {
	data := m.lm.Data()
	if uint64(ptr)+uint64(n) > uint64(len(data)) {
		return nil, outOfBounds(ptr, n)
	}
	return data[ptr : ptr+n], nil
}

// Read copies n bytes starting at ptr.
func (m *Memory) Read(ptr, n uint32) ([]byte, error) {
	b, err := m.slice(ptr, n)
	if err != nil {
		return nil, err
	}
	return bytes.Clone(b), nil
}

// ReadMut calls fn with the live bytes at [ptr, ptr+n). The slice must not
// be retained after fn returns because growth may move the memory.
func (m *Memory) ReadMut(ptr, n uint32, fn func([]byte)) error {
	b, err := m.slice(ptr, n)
	if err != nil {
		return err
	}
	fn(b)
	return nil
}

// Write copies data to ptr.
func (m *Memory) Write(ptr uint32, data []byte) error {
	b, err := m.slice(ptr, uint32(len(data)))
	if err != nil {
		return err
	}
	copy(b, data)
	return nil
}

// ReadString reads n bytes at ptr as UTF-8.
func (m *Memory) ReadString(ptr, n uint32) (string, error) {
	b, err := m.slice(ptr, n)
	if err != nil {
		return "", err
	}
	if !utf8.Valid(b) {
		return "", newError(KindSerialization, fmt.Sprintf("invalid utf-8 at offset %d", ptr))
	}
	return string(b), nil
}

// WriteString writes s to ptr without a terminator.
func (m *Memory) WriteString(ptr uint32, s string) error {
	return m.Write(ptr, []byte(s))
}

// ReadValue decodes a fixed-size little-endian value at ptr. The address
// need not be aligned.
func ReadValue[T any](m *Memory, ptr uint32) (T, error) {
	var v T
	size := binary.Size(v)
	if size < 0 {
		return v, newError(KindTypeMismatch, fmt.Sprintf("%T has no fixed size", v))
	}
	b, err := m.slice(ptr, uint32(size))
	if err != nil {
		return v, err
	}
	if _, err := binary.Decode(b, binary.LittleEndian, &v); err != nil {
		return v, wrapError(KindSerialization, "decode value", err)
	}
	return v, nil
}

// WriteValue encodes v little-endian at ptr.
func WriteValue[T any](m *Memory, ptr uint32, v T) error {
	size := binary.Size(v)
	if size < 0 {
		return newError(KindTypeMismatch, fmt.Sprintf("%T has no fixed size", v))
	}
	b, err := m.slice(ptr, uint32(size))
	if err != nil {
		return err
	}
	if _, err := binary.Encode(b, binary.LittleEndian, v); err != nil {
		return wrapError(KindSerialization, "encode value", err)
	}
	return nil
}

// Alloc reserves size bytes rounded up to 8 and returns the offset. The
// memory grows when needed but never past MaxPages.
func (m *Memory) Alloc(size uint32) (uint32, error) {
	if size == 0 {
		return 0, &Error{Kind: KindAllocationFailed, Message: "zero-sized allocation", Err: types.ErrInvalidInput}
	}
	h := m.heap
	h.mu.Lock()
	defer h.mu.Unlock()

	ptr := h.next
	end := uint64(ptr) + alignUp(uint64(size))
	if end > 1<<32 {
		return 0, &Error{Kind: KindAllocationFailed, Size: size, Message: "address space exhausted"}
	}
	if cur := uint64(m.Size()); end > cur {
		needed := (end + PageSize - 1) / PageSize
		if needed > uint64(m.maxPages) {
			return 0, newError(KindResourceLimit,
				fmt.Sprintf("allocation of %d bytes needs %d pages, limit is %d", size, needed, m.maxPages))
		}
		if err := m.lm.Grow(uint32(needed - cur/PageSize)); err != nil {
			return 0, &Error{Kind: KindAllocationFailed, Size: size, Err: err}
		}
	}
	h.next = uint32(end)
	h.allocs[ptr] = size
	return ptr, nil
}

// AllocBytes allocates room for data and copies it in.
func (m *Memory) AllocBytes(data []byte) (uint32, error) {
	n := uint32(len(data))
	if n == 0 {
		n = 1
	}
	ptr, err := m.Alloc(n)
	if err != nil {
		return 0, err
	}
	return ptr, m.Write(ptr, data)
}

// AllocString allocates room for s and copies it in.
func (m *Memory) AllocString(s string) (uint32, error) {
	return m.AllocBytes([]byte(s))
}

// Free marks the allocation at ptr released. Unknown pointers and double
// frees are ignored.
func (m *Memory) Free(ptr uint32) {
	h := m.heap
	h.mu.Lock()
	defer h.mu.Unlock()
	if size, ok := h.allocs[ptr]; ok {
		delete(h.allocs, ptr)
		h.freed[ptr] = size
	}
}

// MemoryStats summarises the bump allocator.
type MemoryStats struct {
	HeapTop      uint32
	LiveAllocs   int
	LiveBytes    uint64
	FreedRegions int
	FreedBytes   uint64
	CurrentPages uint32
	MaxPages     uint32
}

// Stats returns allocator statistics.
func (m *Memory) Stats() MemoryStats {
	h := m.heap
	h.mu.Lock()
	defer h.mu.Unlock()
	s := MemoryStats{
		HeapTop:      h.next,
		LiveAllocs:   len(h.allocs),
		FreedRegions: len(h.freed),
		CurrentPages: m.Pages(),
		MaxPages:     m.maxPages,
	}
	for _, n := range h.allocs {
		s.LiveBytes += uint64(n)
	}
	for _, n := range h.freed {
		s.FreedBytes += uint64(n)
	}
	return s
}

// Block is a contiguous region of memory.
type Block struct {
	Offset uint32
	Size   uint32
}

func (b Block) end() uint64 { return uint64(b.Offset) + uint64(b.Size) }

// MemoryAllocator is a first-fit free-list allocator over regions the
// caller hands it. Released blocks are coalesced with their neighbours.
type MemoryAllocator struct {
	mu        sync.Mutex
	free      []Block
	used      map[uint32]uint32
	minBlock  uint32
	allocated uint64
	peak      uint64
}

// NewMemoryAllocator creates an allocator that does not split off
// remainders smaller than minBlockSize.
func NewMemoryAllocator(minBlockSize uint32) *MemoryAllocator {
	if minBlockSize < allocAlign {
		minBlockSize = allocAlign
	}
	return &MemoryAllocator{used: make(map[uint32]uint32), minBlock: minBlockSize}
}

// AddRegion makes [offset, offset+size) available for allocation.
func (a *MemoryAllocator) AddRegion(offset, size uint32) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.insertLocked(Block{Offset: offset, Size: size})
}

// Allocate returns the offset of a block of at least size bytes.
func (a *MemoryAllocator) Allocate(size uint32) (uint32, error) {
	if size == 0 {
		return 0, &Error{Kind: KindAllocationFailed, Message: "zero-sized allocation", Err: types.ErrInvalidInput}
	}
	want := alignUp(uint64(size))
	a.mu.Lock()
	defer a.mu.Unlock()

	for i, b := range a.free {
		if uint64(b.Size) < want {
			continue
		}
		taken := uint32(want)
		if rest := b.Size - taken; rest >= a.minBlock {
			a.free[i] = Block{Offset: b.Offset + taken, Size: rest}
		} else {
			taken = b.Size
			a.free = append(a.free[:i], a.free[i+1:]...)
		}
		a.used[b.Offset] = taken
		a.allocated += uint64(taken)
		a.peak = max(a.peak, a.allocated)
		return b.Offset, nil
	}
	return 0, &Error{Kind: KindAllocationFailed, Size: size}
}

// Deallocate returns the block at ptr to the free list.
func (a *MemoryAllocator) Deallocate(ptr uint32) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	size, ok := a.used[ptr]
	if !ok {
		return &Error{Kind: KindInternal, Message: fmt.Sprintf("no allocation at offset %d", ptr), Err: types.ErrInvalidInput}
	}
	delete(a.used, ptr)
	a.allocated -= uint64(size)
	a.insertLocked(Block{Offset: ptr, Size: size})
	return nil
}

func (a *MemoryAllocator) insertLocked(b Block) {
	i := sort.Search(len(a.free), func(i int) bool { return a.free[i].Offset >= b.Offset })
	a.free = append(a.free, Block{})
	copy(a.free[i+1:], a.free[i:])
	a.free[i] = b

	if i+1 < len(a.free) && a.free[i].end() == uint64(a.free[i+1].Offset) {
		a.free[i].Size += a.free[i+1].Size
		a.free = append(a.free[:i+1], a.free[i+2:]...)
	}
	if i > 0 && a.free[i-1].end() == uint64(a.free[i].Offset) {
		a.free[i-1].Size += a.free[i].Size
		a.free = append(a.free[:i], a.free[i+1:]...)
	}
}

// AllocatedBytes returns the bytes currently handed out.
func (a *MemoryAllocator) AllocatedBytes() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.allocated
}

// PeakBytes returns the high-water mark of AllocatedBytes.
func (a *MemoryAllocator) PeakBytes() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.peak
}

// FreeBlocks returns the free list ordered by offset.
func (a *MemoryAllocator) FreeBlocks() []Block {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]Block(nil), a.free...)
}
