package frame

import (
	lru "github.com/hashicorp/golang-lru"
)

// TableCache keeps the most recently decoded row tables. It is safe for
// concurrent use.
type TableCache struct {
	tables *lru.Cache
}

// NewTableCache returns a cache holding at most size tables.
func NewTableCache(size int) (*TableCache, error) {
	c, err := lru.New(size)
	if err != nil {
		return nil, err
	}
	return &TableCache{tables: c}, nil
}

// Get returns the decoded row table of fde. Decode errors are not cached.
func (c *TableCache) Get(fde *FrameDescriptionEntry) (*RowTable, error) {
	if t, ok := c.tables.Get(fde); ok {
		return t.(*RowTable), nil
	}
	t, err := fde.Decode()
	if err != nil {
		return nil, err
	}
	c.tables.Add(fde, t)
	return t, nil
}

// Len returns the number of cached tables.
func (c *TableCache) Len() int {
	return c.tables.Len()
}
