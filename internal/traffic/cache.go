package traffic

import (
	"fmt"

	lru "github.com/hashicorp/golang-lru"
)

type cacheKey struct {
	GameID int64
	TeamID int64
	UserID int64
}

type cacheEntry struct {
	// batches holds one slice of clicked article ids per session, oldest first.
	batches [][]int64
	// total counts every click ever appended, including trimmed batches.
	total int
}

// PageviewCache remembers recent clicks per (team, user) in process memory so
// bulk backfills can skip the pageview history query. It is never persisted:
// a missing or evicted entry reads as empty, which callers accept as an
// approximation.
//
// Entries of different games may be used concurrently. Access to one game's
// entries must be serialized by the caller.
type PageviewCache struct {
	entries *lru.Cache
	window  int
}

// NewPageviewCache keeps at most size (team, user) entries with the last
// window session batches each.
func NewPageviewCache(size, window int) (*PageviewCache, error) {
	if window < 1 {
		return nil, fmt.Errorf("pageview cache window must be > 0, got %d", window)
	}
	entries, err := lru.New(size)
	if err != nil {
		return nil, fmt.Errorf("pageview cache: %w", err)
	}
	return &PageviewCache{entries: entries, window: window}, nil
}

// Get flattens the last trailing batches for (team, user), oldest first.
func (c *PageviewCache) Get(gameID, teamID, userID int64, trailing int) []int64 {
	e := c.entry(gameID, teamID, userID)
	if e == nil || trailing < 1 {
		return nil
	}
	batches := e.batches
	if len(batches) > trailing {
		batches = batches[len(batches)-trailing:]
	}
	var out []int64
	for _, b := range batches {
		out = append(out, b...)
	}
	return out
}

// Total is the number of clicks appended for (team, user) since the entry
// was created.
func (c *PageviewCache) Total(gameID, teamID, userID int64) int {
	if e := c.entry(gameID, teamID, userID); e != nil {
		return e.total
	}
	return 0
}

// Append records one session batch, creating the entry if needed. Empty
// batches are kept so that batch positions line up with days.
func (c *PageviewCache) Append(gameID, teamID, userID int64, articleIDs []int64) {
	e := c.entry(gameID, teamID, userID)
	if e == nil {
		e = &cacheEntry{}
		c.entries.Add(cacheKey{GameID: gameID, TeamID: teamID, UserID: userID}, e)
	}
	e.batches = append(e.batches, append([]int64(nil), articleIDs...))
	if extra := len(e.batches) - c.window; extra > 0 {
		e.batches = append([][]int64(nil), e.batches[extra:]...)
	}
	e.total += len(articleIDs)
}

// Len is the number of (team, user) entries held.
func (c *PageviewCache) Len() int { return c.entries.Len() }

// Purge drops every entry.
func (c *PageviewCache) Purge() { c.entries.Purge() }

func (c *PageviewCache) entry(gameID, teamID, userID int64) *cacheEntry {
	v, ok := c.entries.Get(cacheKey{GameID: gameID, TeamID: teamID, UserID: userID})
	if !ok {
		return nil
	}
	return v.(*cacheEntry)
}
