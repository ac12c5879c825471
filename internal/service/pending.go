package service

import (
	"sync"
	"time"
)

// PendingStore holds TOTP secrets that were issued but not yet confirmed by a
// valid code. Entries expire after the configured TTL.
type PendingStore struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	entries map[string]pendingSecret
}

type pendingSecret struct {
	secret  string
	expires time.Time
}

// NewPendingStore creates an empty store whose entries live for ttl.
func NewPendingStore(ttl time.Duration) *PendingStore {
	return &PendingStore{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]pendingSecret),
	}
}

// Put records secret as the candidate for username, replacing any previous one.
func (p *PendingStore) Put(username, secret string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.entries[username] = pendingSecret{secret: secret, expires: p.now().Add(p.ttl)}
}

// Get returns the unexpired candidate secret for username.
func (p *PendingStore) Get(username string) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.entries[username]
	if !ok {
		return "", false
	}
	if !p.now().Before(e.expires) {
		delete(p.entries, username)
		return "", false
	}
	return e.secret, true
}

// Delete drops the candidate for username.
func (p *PendingStore) Delete(username string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.entries, username)
}

// Sweep removes expired entries and returns how many were dropped.
func (p *PendingStore) Sweep() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	now := p.now()
	n := 0
	for k, e := range p.entries {
		if !now.Before(e.expires) {
			delete(p.entries, k)
			n++
		}
	}
	return n
}

// Len returns the number of entries, expired or not.
func (p *PendingStore) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}
