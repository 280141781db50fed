package authflow

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"sync"
	"time"
)

const stateBytes = 32

// attempt is one issued authorization request.
type attempt struct {
	state string
	// requested is the pre-supplied account, empty for account-agnostic
	// attempts.
	requested string
	verifier  string
	createdAt time.Time
	expiresAt time.Time

	// consumed is set under attempts.mu; done is closed once the outcome is
	// recorded.
	consumed bool
	done     chan struct{}
	resolved string
	err      error
}

func (a *attempt) finish(account string, err error) {
	a.resolved = account
	a.err = err
	close(a.done)
}

// attempts indexes issued attempts by state token.
type attempts struct {
	mu    sync.Mutex
	byKey map[string]*attempt
}

func newAttempts() *attempts {
	return &attempts{byKey: make(map[string]*attempt)}
}

func generateState() (string, error) {
	b := make([]byte, stateBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

func (s *attempts) add(a *attempt) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byKey[a.state] = a
}

// take marks the attempt consumed and returns it. It is the only transition
// out of Issued, so at most one caller ever receives a given attempt.
// An attempt past its expiry is returned with expired set; it is consumed
// as Expired.
func (s *attempts) take(state string, now time.Time) (a *attempt, expired bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.byKey[state]
	if !ok || a.consumed {
		return nil, false
	}
	a.consumed = true
	if !now.Before(a.expiresAt) {
		delete(s.byKey, state)
		return a, true
	}
	return a, false
}

// lookup returns an attempt without consuming it.
func (s *attempts) lookup(state string) (*attempt, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.byKey[state]
	return a, ok
}

// sweep removes attempts past their expiry and returns those that were
// still issued, already marked consumed.
func (s *attempts) sweep(now time.Time) (expired []*attempt, removed int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for state, a := range s.byKey {
		if now.Before(a.expiresAt) {
			continue
		}
		delete(s.byKey, state)
		removed++
		if !a.consumed {
			a.consumed = true
			expired = append(expired, a)
		}
	}
	return expired, removed
}

func (s *attempts) pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, a := range s.byKey {
		if !a.consumed {
			n++
		}
	}
	return n
}
