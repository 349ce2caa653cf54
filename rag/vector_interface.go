// File: vector_interface.go

package rag

import (
	"context"
	"fmt"
	"time"
)

type VectorDB interface {
	Connect(ctx context.Context) error
	Close() error
	HasCollection(ctx context.Context, name string) (bool, error)
	DropCollection(ctx context.Context, name string) error
	CreateCollection(ctx context.Context, name string, schema Schema) error
	Insert(ctx context.Context, collectionName string, data []Record) error
	Flush(ctx context.Context, collectionName string) error
	CreateIndex(ctx context.Context, collectionName, field string, index Index) error
	LoadCollection(ctx context.Context, name string) error
	// Search performs a similarity search, restricted to results matching
	// filter (nil means no restriction) and at or above minScore (0 means
	// no threshold).
	Search(ctx context.Context, collectionName string, vectors map[string]Vector, topK int, metricType string, searchParams map[string]interface{}, filter *Filter, minScore float64) ([]SearchResult, error)
	HybridSearch(ctx context.Context, collectionName string, vectors map[string]Vector, topK int, metricType string, searchParams map[string]interface{}, reranker interface{}, filter *Filter) ([]SearchResult, error)
	SetColumnNames(names []string)
}

// FilterOp is the comparison a Filter clause applies.
type FilterOp int

const (
	// FilterEq matches a field equal to Value.
	FilterEq FilterOp = iota
	// FilterIn matches a field equal to any element of Values.
	FilterIn
	// FilterAnd requires every sub-filter in Clauses to match.
	FilterAnd
)

// Filter is a small metadata-filter language supporting equality, set
// membership, and conjunction — the subset the external vector-index
// interface requires. Adapters translate it into their own native query
// form (a Milvus boolean expression, chromem's `where` map).
type Filter struct {
	Op      FilterOp
	Field   string        // used by FilterEq/FilterIn
	Value   interface{}   // used by FilterEq
	Values  []interface{} // used by FilterIn
	Clauses []*Filter     // used by FilterAnd
}

// Eq builds an equality filter.
func Eq(field string, value interface{}) *Filter {
	return &Filter{Op: FilterEq, Field: field, Value: value}
}

// In builds a set-membership filter.
func In(field string, values ...interface{}) *Filter {
	return &Filter{Op: FilterIn, Field: field, Values: values}
}

// And builds a conjunction of filters. And() with no clauses returns nil
// (no restriction), so callers can build up a filter conditionally without
// special-casing the empty case.
func And(clauses ...*Filter) *Filter {
	clauses = compactFilters(clauses)
	if len(clauses) == 0 {
		return nil
	}
	if len(clauses) == 1 {
		return clauses[0]
	}
	return &Filter{Op: FilterAnd, Clauses: clauses}
}

func compactFilters(in []*Filter) []*Filter {
	out := make([]*Filter, 0, len(in))
	for _, f := range in {
		if f != nil {
			out = append(out, f)
		}
	}
	return out
}

// Matches reports whether a record's field map satisfies the filter. A nil
// filter always matches, so callers can call Matches(fields) unconditionally
// on a possibly-nil *Filter.
func (f *Filter) Matches(fields map[string]interface{}) bool {
	if f == nil {
		return true
	}
	switch f.Op {
	case FilterEq:
		v, ok := fields[f.Field]
		return ok && v == f.Value
	case FilterIn:
		v, ok := fields[f.Field]
		if !ok {
			return false
		}
		for _, want := range f.Values {
			if v == want {
				return true
			}
		}
		return false
	case FilterAnd:
		for _, clause := range f.Clauses {
			if !clause.Matches(fields) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

type SearchParam struct {
	MetricType string
	Params     map[string]interface{}
}

type Schema struct {
	Name        string
	Description string
	Fields      []Field
}

type Field struct {
	Name       string
	DataType   string
	PrimaryKey bool
	AutoID     bool
	Dimension  int
	MaxLength  int
}

type Record struct {
	Fields map[string]interface{}
}

type Vector []float64

type Index struct {
	Type       string
	Metric     string
	Parameters map[string]interface{}
}

type SearchResult struct {
	ID     int64
	Score  float64
	Fields map[string]interface{}
}

type Config struct {
	Type        string
	Address     string
	MaxPoolSize int
	Timeout     time.Duration
	Parameters  map[string]interface{}
}

type Option func(*Config)

func (c *Config) SetType(dbType string) *Config {
	c.Type = dbType
	return c
}

func (c *Config) SetAddress(address string) *Config {
	c.Address = address
	return c
}

func (c *Config) SetMaxPoolSize(size int) *Config {
	c.MaxPoolSize = size
	return c
}

func (c *Config) SetTimeout(timeout time.Duration) *Config {
	c.Timeout = timeout
	return c
}

func NewVectorDB(cfg *Config) (VectorDB, error) {
	switch cfg.Type {
	case "milvus":
		return newMilvusDB(cfg)
	case "memory":
		return newMemoryDB(cfg)
	case "chromem":
		return newChromemDB(cfg)
	default:
		return nil, fmt.Errorf("unsupported database type: %s", cfg.Type)
	}
}
