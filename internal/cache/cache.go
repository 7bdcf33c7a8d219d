// Package cache memoises completions for the lifetime of the process.
package cache

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math"

	"github.com/dustin/go-humanize"
	"github.com/jellydator/ttlcache/v3"
)

// Fingerprint identifies a completion request.
type Fingerprint string

// NewFingerprint hashes the prompt together with the generation parameters.
// The prompt is hashed exactly as given. Stop sequences are order-sensitive.
func NewFingerprint(prompt, model string, temperature float64, maxTokens int, stop []string) Fingerprint {
	h := sha256.New()

	var buf [8]byte
	writeField := func(b []byte) {
		binary.BigEndian.PutUint64(buf[:], uint64(len(b)))
		h.Write(buf[:])
		h.Write(b)
	}

	writeField([]byte(prompt))
	writeField([]byte(model))
	binary.BigEndian.PutUint64(buf[:], math.Float64bits(temperature))
	h.Write(buf[:])
	binary.BigEndian.PutUint64(buf[:], uint64(int64(maxTokens)))
	h.Write(buf[:])
	binary.BigEndian.PutUint64(buf[:], uint64(len(stop)))
	h.Write(buf[:])
	for _, s := range stop {
		writeField([]byte(s))
	}

	return Fingerprint(hex.EncodeToString(h.Sum(nil)))
}

// Cache maps fingerprints to completions. Entries never expire and are never
// evicted. It is safe for concurrent use.
type Cache struct {
	items *ttlcache.Cache[Fingerprint, string]
}

func New() *Cache {
	return &Cache{
		items: ttlcache.New[Fingerprint, string](
			ttlcache.WithTTL[Fingerprint, string](ttlcache.NoTTL),
			ttlcache.WithDisableTouchOnHit[Fingerprint, string](),
		),
	}
}

func (c *Cache) Get(key Fingerprint) (string, bool) {
	item := c.items.Get(key)
	if item == nil {
		return "", false
	}
	return item.Value(), true
}

// Put stores completion under key. A later Put for the same key wins.
func (c *Cache) Put(key Fingerprint, completion string) {
	c.items.Set(key, completion, ttlcache.NoTTL)
}

func (c *Cache) Len() int {
	return c.items.Len()
}

func (c *Cache) Clear() {
	c.items.DeleteAll()
}

type Stats struct {
	Entries int
	Hits    uint64
	Misses  uint64
}

func (c *Cache) Stats() Stats {
	m := c.items.Metrics()
	return Stats{
		Entries: c.items.Len(),
		Hits:    m.Hits,
		Misses:  m.Misses,
	}
}

func (s Stats) String() string {
	return fmt.Sprintf("cache %s entries, %s hits, %s misses",
		humanize.Comma(int64(s.Entries)),
		humanize.Comma(int64(s.Hits)),
		humanize.Comma(int64(s.Misses)),
	)
}
