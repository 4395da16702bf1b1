// Package crawl implements the Crawl Coordinator: the role-specialized
// worker pool, priority URL frontier, domain rate limiting, and
// role-switch governance for a crawl swarm.
package crawl

import (
	"fmt"
	"math"
	"net/url"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"
)

// phi is the golden ratio used by the depth-decay priority formula.
const phi = 1.618033988749895

// EntryStatus is the lifecycle state of a frontier entry.
type EntryStatus string

const (
	EntryQueued    EntryStatus = "queued"
	EntryClaimed   EntryStatus = "claimed"
	EntryCrawling  EntryStatus = "crawling"
	EntryCompleted EntryStatus = "completed"
	EntryFailed    EntryStatus = "failed"
	EntryBlocked   EntryStatus = "blocked"
)

// Entry is one URL tracked by the frontier.
type Entry struct {
	URL         string
	Domain      string
	Depth       int
	Priority    float64
	Status      EntryStatus
	ClaimHolder string
	ClaimedAt   time.Time
	ParentURL   string
	RetryCount  int
	AddedAt     time.Time
}

// Frontier is the priority URL queue: dedup by canonical URL, domain
// rate limiting, claim/release with stale-claim recovery.
type Frontier struct {
	mu sync.Mutex

	entries map[string]*Entry // canonical URL -> entry

	domainRateLimitMs int64
	claimTimeout      time.Duration
	lastCrawled       map[string]time.Time
}

// NewFrontier constructs an empty frontier.
func NewFrontier(domainRateLimitMs int64, claimTimeout time.Duration) *Frontier {
	return &Frontier{
		entries:           make(map[string]*Entry),
		domainRateLimitMs: domainRateLimitMs,
		claimTimeout:      claimTimeout,
		lastCrawled:       make(map[string]time.Time),
	}
}

// Priority computes P(url) = basePriority * phi^(-depth) * boost.
func Priority(basePriority float64, depth int, boost float64) float64 {
	return basePriority * math.Pow(phi, -float64(depth)) * boost
}

// AddSeed adds a seed URL (depth 0, boost 10) if not already present.
func (f *Frontier) AddSeed(rawURL string) (*Entry, error) {
	return f.add(rawURL, 0, "", 10)
}

// AddDiscovered adds a URL discovered by a worker at parent's depth+1.
func (f *Frontier) AddDiscovered(rawURL, parentURL string, parentDepth int) (*Entry, error) {
	return f.add(rawURL, parentDepth+1, parentURL, 1)
}

func (f *Frontier) add(rawURL string, depth int, parentURL string, boost float64) (*Entry, error) {
	canon, err := Canonicalize(rawURL)
	if err != nil {
		return nil, err
	}
	domain := extractDomain(canon)

	f.mu.Lock()
	defer f.mu.Unlock()

	if existing, ok := f.entries[canon]; ok {
		return existing, nil
	}

	e := &Entry{
		URL:       canon,
		Domain:    domain,
		Depth:     depth,
		Priority:  Priority(1.0, depth, boost),
		Status:    EntryQueued,
		ParentURL: parentURL,
		AddedAt:   time.Now(),
	}
	f.entries[canon] = e
	return e, nil
}

// HasSeen reports whether canon is already tracked by the frontier.
func (f *Frontier) HasSeen(canon string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.entries[canon]
	return ok
}

// recoverStaleLocked reclaims any claim older than claimTimeout, scaling
// its priority down by 0.8 as a recovered stale claim.
func (f *Frontier) recoverStaleLocked(now time.Time) {
	for _, e := range f.entries {
		if e.Status == EntryClaimed && now.Sub(e.ClaimedAt) > f.claimTimeout {
			e.Status = EntryQueued
			e.ClaimHolder = ""
			e.Priority *= 0.8
		}
	}
}

// Claim returns and marks claimed the highest-priority queued entry
// whose domain is not currently rate-limited. Returns nil if nothing is
// eligible.
func (f *Frontier) Claim(agentID string, now time.Time) *Entry {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.recoverStaleLocked(now)

	var candidates []*Entry
	for _, e := range f.entries {
		if e.Status != EntryQueued {
			continue
		}
		if last, ok := f.lastCrawled[e.Domain]; ok {
			if now.Sub(last) < time.Duration(f.domainRateLimitMs)*time.Millisecond {
				continue
			}
		}
		candidates = append(candidates, e)
	}
	if len(candidates) == 0 {
		return nil
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Priority != candidates[j].Priority {
			return candidates[i].Priority > candidates[j].Priority
		}
		return candidates[i].AddedAt.Before(candidates[j].AddedAt)
	})

	best := candidates[0]
	best.Status = EntryClaimed
	best.ClaimHolder = agentID
	best.ClaimedAt = now
	f.lastCrawled[best.Domain] = now
	return best
}

// CompletedByScout returns the first completed entry, which a scout has
// already finished, for an analyzer's second pass. It never re-claims
// the frontier slot.
func (f *Frontier) CompletedByScout() *Entry {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, e := range f.entries {
		if e.Status == EntryCompleted {
			return e
		}
	}
	return nil
}

// Complete marks canon completed, removing it from the claimed set.
func (f *Frontier) Complete(canon string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.entries[canon]
	if !ok {
		return fmt.Errorf("unknown frontier entry: %s", canon)
	}
	e.Status = EntryCompleted
	e.ClaimHolder = ""
	return nil
}

// Fail marks canon failed, or re-queues it at half priority if retries remain.
func (f *Frontier) Fail(canon string, maxRetries int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.entries[canon]
	if !ok {
		return fmt.Errorf("unknown frontier entry: %s", canon)
	}
	if e.RetryCount < maxRetries {
		e.RetryCount++
		e.Status = EntryQueued
		e.ClaimHolder = ""
		e.Priority *= 0.5
		return nil
	}
	e.Status = EntryFailed
	e.ClaimHolder = ""
	return nil
}

// All returns every tracked entry (for dashboard display).
func (f *Frontier) All() []*Entry {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*Entry, 0, len(f.entries))
	for _, e := range f.entries {
		out = append(out, e)
	}
	return out
}

var hostnameRe = regexp.MustCompile(`(?i)^(?:[a-z][a-z0-9+.-]*://)?([^/:?#]+)`)

// Canonicalize normalizes a URL: strip fragment, sort query params
// lexicographically by key (preserving duplicate-key relative order),
// and strip a trailing slash unless the path is exactly "/". On parse
// failure, it regex-extracts a hostname and accepts the input as-is.
func Canonicalize(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		m := hostnameRe.FindStringSubmatch(raw)
		if m == nil {
			return raw, nil
		}
		return raw, nil
	}

	u.Fragment = ""

	if u.RawQuery != "" {
		values := u.Query()
		keys := make([]string, 0, len(values))
		for k := range values {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		var parts []string
		for _, k := range keys {
			for _, v := range values[k] {
				parts = append(parts, url.QueryEscape(k)+"="+url.QueryEscape(v))
			}
		}
		u.RawQuery = strings.Join(parts, "&")
	}

	if u.Path != "/" {
		u.Path = strings.TrimSuffix(u.Path, "/")
	}

	return u.String(), nil
}

func extractDomain(canon string) string {
	u, err := url.Parse(canon)
	if err != nil || u.Host == "" {
		m := hostnameRe.FindStringSubmatch(canon)
		if m != nil {
			return m[1]
		}
		return canon
	}
	return u.Host
}
