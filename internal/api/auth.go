package api

import (
	"crypto/rand"
	"encoding/hex"
	"net/http"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/nerrad567/gray-logic-nuki/internal/auth"
)

const (
	// ticketTTL is how long a WebSocket ticket is valid.
	ticketTTL = 60 * time.Second

	// ticketBytes is the number of random bytes in a ticket.
	ticketBytes = 32
)

// ticketStore holds pending WebSocket tickets. Tickets are single-use and
// expire after the store's TTL; the cache janitor drops expired entries.
type ticketStore struct {
	mu      sync.Mutex
	ttl     time.Duration
	tickets *cache.Cache
}

type ticketEntry struct {
	subject string
	role    auth.Role
}

func newTicketStore(ttl time.Duration) *ticketStore {
	return &ticketStore{
		ttl:     ttl,
		tickets: cache.New(ttl, ttl),
	}
}

// issue stores a new ticket for the given identity and returns it.
func (ts *ticketStore) issue(subject string, role auth.Role) string {
	b := make([]byte, ticketBytes)
	//nolint:errcheck // crypto/rand.Read always fills b on supported platforms
	rand.Read(b)
	ticket := hex.EncodeToString(b)

	ts.tickets.Set(ticket, ticketEntry{subject: subject, role: role}, ts.ttl)
	return ticket
}

// consume validates a ticket and removes it.
func (ts *ticketStore) consume(ticket string) (ticketEntry, bool) {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	v, ok := ts.tickets.Get(ticket)
	if !ok {
		return ticketEntry{}, false
	}
	ts.tickets.Delete(ticket)
	entry, ok := v.(ticketEntry)
	return entry, ok
}

func (ts *ticketStore) len() int {
	return ts.tickets.ItemCount()
}

// handleWSTicket issues a single-use ticket for GET /ws?ticket=...
// Browsers cannot set an Authorization header on a WebSocket upgrade.
func (s *Server) handleWSTicket(w http.ResponseWriter, r *http.Request) {
	var entry ticketEntry
	if claims, ok := claimsFromContext(r.Context()); ok {
		entry = ticketEntry{subject: claims.Subject, role: claims.Role}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"ticket":     s.tickets.issue(entry.subject, entry.role),
		"expires_in": int(s.tickets.ttl.Seconds()),
	})
}
