// Package ticket allocates the human-facing order identifiers printed on
// job slips, e.g. TKT-250314-7KQ2ZD.
package ticket

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"time"

	"printshop/internal/apperr"
	"printshop/internal/util"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
)

const (
	// DefaultMaxAttempts bounds the retry loop when the caller supplies no limit.
	DefaultMaxAttempts = 10

	prefix     = "TKT"
	suffixLen  = 6
	claimTTL   = 24 * time.Hour
	dateLayout = "060102"
)

// ErrTaken is returned by an insert callback when the candidate lost a race
// against another writer. Allocate retries with a fresh candidate.
var ErrTaken = errors.New("ticket number already taken")

// Claimer reserves a candidate in a shared fast-path store before it hits the
// database. A false result means someone else already holds it.
type Claimer interface {
	ClaimTicket(ctx context.Context, ticket string, ttl time.Duration) (bool, error)
}

// Checker reports whether a ticket is already persisted.
type Checker func(ctx context.Context, ticket string) (bool, error)

// Allocator generates candidates and retries until one is committed.
type Allocator struct {
	maxAttempts int
	claimer     Claimer
	generate    func(now time.Time) string
	clock       func() time.Time
	logger      *zap.Logger
}

// Option customises an Allocator.
type Option func(*Allocator)

// WithClaimer enables the Redis claim fast path.
func WithClaimer(c Claimer) Option {
	return func(a *Allocator) { a.claimer = c }
}

// WithGenerator replaces the candidate generator.
func WithGenerator(gen func(now time.Time) string) Option {
	return func(a *Allocator) { a.generate = gen }
}

// WithClock replaces time.Now.
func WithClock(clock func() time.Time) Option {
	return func(a *Allocator) { a.clock = clock }
}

// NewAllocator creates an allocator that gives up after maxAttempts candidates.
func NewAllocator(maxAttempts int, opts ...Option) *Allocator {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	a := &Allocator{
		maxAttempts: maxAttempts,
		generate:    Generate,
		clock:       time.Now,
		logger:      util.GetLogger(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Generate builds a candidate from the date and six characters of ULID entropy.
func Generate(now time.Time) string {
	id := ulid.MustNew(ulid.Timestamp(now), rand.Reader).String()
	return fmt.Sprintf("%s-%s-%s", prefix, now.UTC().Format(dateLayout), id[len(id)-suffixLen:])
}

// Allocate finds a free ticket and hands it to insert. insert is expected to
// persist the ticket under a uniqueness constraint and return ErrTaken when
// the constraint rejects it; that is the authoritative collision signal; the
// claim and exists checks only avoid wasted inserts.
func (a *Allocator) Allocate(ctx context.Context, exists Checker, insert func(ticket string) error) (string, error) {
	for attempt := 1; attempt <= a.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		candidate := a.generate(a.clock())

		if a.claimer != nil {
			ok, err := a.claimer.ClaimTicket(ctx, candidate, claimTTL)
			if err != nil {
				a.logger.Warn("Ticket claim unavailable, relying on database constraint",
					zap.String("ticket", candidate), zap.Error(err))
			} else if !ok {
				a.collision(candidate, attempt, "claimed")
				continue
			}
		}

		if exists != nil {
			taken, err := exists(ctx, candidate)
			if err != nil {
				return "", err
			}
			if taken {
				a.collision(candidate, attempt, "exists")
				continue
			}
		}

		err := insert(candidate)
		if errors.Is(err, ErrTaken) {
			a.collision(candidate, attempt, "constraint")
			continue
		}
		if err != nil {
			return "", err
		}
		return candidate, nil
	}

	a.logger.Warn("Ticket allocation exhausted", zap.Int("attempts", a.maxAttempts))
	return "", fmt.Errorf("after %d attempts: %w", a.maxAttempts, apperr.ErrAllocationExhausted)
}

func (a *Allocator) collision(ticket string, attempt int, stage string) {
	util.TicketCollisionsTotal.WithLabelValues(stage).Inc()
	a.logger.Debug("Ticket collision",
		zap.String("ticket", ticket),
		zap.Int("attempt", attempt),
		zap.String("stage", stage))
}
