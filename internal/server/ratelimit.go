package server

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

var rateRegex = regexp.MustCompile(`^\s*(\d+)\s*(?:/|per)\s*(second|minute|hour|day)\s*$`)

// Rate is a request budget such as "100 per minute".
type Rate struct {
	Count int
	Per   time.Duration
}

// ParseRate parses "<n> per <second|minute|hour|day>" or "<n>/<unit>".
func ParseRate(s string) (Rate, error) {
	m := rateRegex.FindStringSubmatch(strings.ToLower(s))
	if m == nil {
		return Rate{}, fmt.Errorf("invalid rate %q", s)
	}
	n, err := strconv.Atoi(m[1])
	if err != nil || n <= 0 {
		return Rate{}, fmt.Errorf("invalid rate %q", s)
	}

	var per time.Duration
	switch m[2] {
	case "second":
		per = time.Second
	case "minute":
		per = time.Minute
	case "hour":
		per = time.Hour
	case "day":
		per = 24 * time.Hour
	}
	return Rate{Count: n, Per: per}, nil
}

func (r Rate) String() string {
	unit := "second"
	switch r.Per {
	case time.Minute:
		unit = "minute"
	case time.Hour:
		unit = "hour"
	case 24 * time.Hour:
		unit = "day"
	}
	return fmt.Sprintf("%d per %s", r.Count, unit)
}

// newLimiter returns a token bucket that allows Count requests in a burst and
// refills at Count per Per.
func (r Rate) newLimiter() *rate.Limiter {
	return rate.NewLimiter(rate.Limit(float64(r.Count)/r.Per.Seconds()), r.Count)
}

// sweepInterval is how often idle client limiters are dropped.
const sweepInterval = time.Minute

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// limiterStore keeps one token bucket per client key.
type limiterStore struct {
	rate Rate
	now  func() time.Time

	mu        sync.Mutex
	clients   map[string]*clientLimiter
	lastSweep time.Time
}

func newLimiterStore(r Rate) *limiterStore {
	return &limiterStore{
		rate:    r,
		now:     time.Now,
		clients: make(map[string]*clientLimiter),
	}
}

// allow reports whether key may make a request now and, if not, how long it
// should wait.
func (s *limiterStore) allow(key string) (bool, time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.sweepLocked(now)

	c, ok := s.clients[key]
	if !ok {
		c = &clientLimiter{limiter: s.rate.newLimiter()}
		s.clients[key] = c
	}
	c.lastSeen = now

	if c.limiter.AllowN(now, 1) {
		return true, 0
	}
	r := c.limiter.ReserveN(now, 1)
	wait := r.DelayFrom(now)
	r.CancelAt(now)
	return false, wait
}

// sweepLocked drops clients idle long enough for their bucket to be full again.
func (s *limiterStore) sweepLocked(now time.Time) {
	if now.Sub(s.lastSweep) < sweepInterval {
		return
	}
	s.lastSweep = now
	for key, c := range s.clients {
		if now.Sub(c.lastSeen) > s.rate.Per {
			delete(s.clients, key)
		}
	}
}

func (s *limiterStore) size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

// retryAfterSeconds rounds a wait up to whole seconds for the Retry-After header.
func retryAfterSeconds(wait time.Duration) string {
	return strconv.Itoa(int(math.Max(1, math.Ceil(wait.Seconds()))))
}
