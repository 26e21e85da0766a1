package allocator

import (
	"errors"
	"fmt"
)

var (
	// ErrInsufficientSpace is returned when all buckets together cannot hold the file.
	ErrInsufficientSpace = errors.New("insufficient space across all buckets")
	// ErrNoAvailableBucket is returned when bytes remain but no bucket has room left.
	ErrNoAvailableBucket = errors.New("no bucket with free space available")
)

// Candidate is a bucket as seen by the allocator: its registry index and free bytes.
type Candidate struct {
	Index int
	Free  int64
}

// Assignment is one chunk destined for the bucket at Index.
type Assignment struct {
	Index int
	Size  int64
}

// Allocator tracks free space in memory while a file is being placed.
// It performs no I/O; callers report what was actually written.
type Allocator struct {
	free  map[int]int64
	full  map[int]bool
	order []int
	size  int64
}

// New checks that the candidates can hold size bytes in total. With no
// candidates at all, a non-empty file is ErrInsufficientSpace and an empty
// one ErrNoAvailableBucket.
func New(cands []Candidate, size int64) (*Allocator, error) {
	a := &Allocator{
		free: make(map[int]int64, len(cands)),
		full: make(map[int]bool),
		size: size,
	}
	var total int64
	for _, c := range cands {
		free := c.Free
		if free < 0 {
			free = 0
		}
		if _, dup := a.free[c.Index]; !dup {
			a.order = append(a.order, c.Index)
		}
		a.free[c.Index] = free
		total += free
	}

	if total < size {
		return nil, fmt.Errorf("%w: need %d bytes, %d available", ErrInsufficientSpace, size, total)
	}
	if len(a.order) == 0 {
		return nil, ErrNoAvailableBucket
	}
	return a, nil
}

// Whole returns the bucket that can take the entire file, if any.
func (a *Allocator) Whole() (int, bool) {
	idx, free := a.best()
	if idx < 0 || free < a.size {
		return -1, false
	}
	return idx, true
}

// Next picks the bucket with the most tracked free space for the next chunk.
// Ties go to the lowest index.
func (a *Allocator) Next(remaining int64) (Assignment, error) {
	idx, free := a.best()
	if idx < 0 || free <= 0 {
		return Assignment{}, ErrNoAvailableBucket
	}
	n := remaining
	if free < n {
		n = free
	}
	return Assignment{Index: idx, Size: n}, nil
}

// Commit subtracts n written bytes from the bucket at index.
func (a *Allocator) Commit(index int, n int64) {
	free, ok := a.free[index]
	if !ok {
		return
	}
	free -= n
	if free < 0 {
		free = 0
	}
	a.free[index] = free
}

// MarkFull drops the bucket at index from further consideration.
func (a *Allocator) MarkFull(index int) {
	if _, ok := a.free[index]; ok {
		a.free[index] = 0
		a.full[index] = true
	}
}

// Free returns the tracked free space of the bucket at index.
func (a *Allocator) Free(index int) int64 {
	return a.free[index]
}

func (a *Allocator) best() (int, int64) {
	bestIdx, bestFree := -1, int64(-1)
	for _, idx := range a.order {
		if a.full[idx] {
			continue
		}
		free := a.free[idx]
		if free > bestFree || (free == bestFree && idx < bestIdx) {
			bestIdx, bestFree = idx, free
		}
	}
	return bestIdx, bestFree
}

// Plan computes every assignment for a file of size bytes without writing anything.
// A single assignment means the file is stored unsplit.
func Plan(cands []Candidate, size int64) ([]Assignment, error) {
	a, err := New(cands, size)
	if err != nil {
		return nil, err
	}

	if idx, ok := a.Whole(); ok {
		return []Assignment{{Index: idx, Size: size}}, nil
	}

	var plan []Assignment
	remaining := size
	for remaining > 0 {
		next, err := a.Next(remaining)
		if err != nil {
			return plan, err
		}
		plan = append(plan, next)
		a.Commit(next.Index, next.Size)
		remaining -= next.Size
	}
	return plan, nil
}
