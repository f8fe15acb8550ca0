package retrieval

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/siherrmann/medrag/model"
)

// Cache holds retrieval results for a limited time.
// When full, the entry inserted first is evicted; reads do not refresh entries.
type Cache struct {
	lru *expirable.LRU[string, *model.RetrievalResult]
}

// NewCache creates a cache holding at most size results for ttl
func NewCache(size int, ttl time.Duration) *Cache {
	return &Cache{
		lru: expirable.NewLRU[string, *model.RetrievalResult](size, nil, ttl),
	}
}

// Get returns a copy of the cached result for key
func (c *Cache) Get(key string) (*model.RetrievalResult, bool) {
	// Peek does not move the entry, so eviction stays in insertion order.
	result, ok := c.lru.Peek(key)
	if !ok {
		return nil, false
	}
	return copyResult(result), true
}

// Set stores a copy of result under key
func (c *Cache) Set(key string, result *model.RetrievalResult) {
	c.lru.Add(key, copyResult(result))
}

// Len returns the number of cached results
func (c *Cache) Len() int {
	return c.lru.Len()
}

// Purge removes all cached results
func (c *Cache) Purge() {
	c.lru.Purge()
}

func copyResult(result *model.RetrievalResult) *model.RetrievalResult {
	copied := *result
	copied.Candidates = model.CloneCandidates(result.Candidates)
	return &copied
}

type cacheKeyFields struct {
	Query          string             `json:"query"`
	PatientID      string             `json:"patient_id"`
	Intent         model.Intent       `json:"intent"`
	Filters        model.QueryFilters `json:"filters"`
	TemporalFilter *model.DateRange   `json:"temporal_filter,omitempty"`
	TopK           int                `json:"top_k"`
}

// CacheKey derives the cache key of a query. The result size is part of the
// key so that a smaller cached result is never served for a larger request.
func CacheKey(query *model.StructuredQuery, topK int) string {
	data, err := json.Marshal(cacheKeyFields{
		Query:          query.OriginalQuery,
		PatientID:      query.PatientID,
		Intent:         query.Intent,
		Filters:        query.Filters,
		TemporalFilter: query.TemporalFilter,
		TopK:           topK,
	})
	if err != nil {
		// Only plain data is marshalled, this cannot fail.
		panic(err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
