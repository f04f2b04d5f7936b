package tokens

import (
	"errors"
	"time"

	"github.com/dgraph-io/ristretto/v2"
	"github.com/jonboulle/clockwork"
)

// ErrDenylistFull is returned when a revoked token id could not be stored.
var ErrDenylistFull = errors.New("tokens: denylist full")

// Denylist remembers revoked access token ids until the tokens expire.
// Entries are in-process only; losing them on restart leaves a revoked
// token usable until its exp.
type Denylist struct {
	cache *ristretto.Cache[string, struct{}]
	clock clockwork.Clock
}

// NewDenylist holds up to capacity ids, each entry costs 1.
func NewDenylist(capacity int64, clock clockwork.Clock) (*Denylist, error) {
	c, err := ristretto.NewCache(&ristretto.Config[string, struct{}]{
		NumCounters:        capacity * 10,
		MaxCost:            capacity,
		BufferItems:        64,
		IgnoreInternalCost: true,
		OnEvict: func(item *ristretto.Item[struct{}]) {
			// ristretto stamps expirations with the wall clock.
			if item.Expiration.After(time.Now()) {
				logger.Error().Bool("security", true).Time("expires_at", item.Expiration).
					Msg("Revoked access token evicted from full denylist before expiry")
			}
		},
	})
	if err != nil {
		return nil, err
	}

	return &Denylist{
		cache: c,
		clock: clock,
	}, nil
}

// Add denylists jti until expiresAt. It fails with ErrDenylistFull when the
// cache refused the entry, the token then stays usable.
func (d *Denylist) Add(jti string, expiresAt time.Time) error {
	ttl := expiresAt.Sub(d.clock.Now())
	if ttl <= 0 {
		// already expired, verification rejects it anyway.
		return nil
	}

	ok := d.cache.SetWithTTL(jti, struct{}{}, 1, ttl)
	d.cache.Wait()
	if !ok || !d.Contains(jti) {
		return ErrDenylistFull
	}
	return nil
}

func (d *Denylist) Contains(jti string) bool {
	_, ok := d.cache.Get(jti)
	return ok
}

func (d *Denylist) Close() {
	d.cache.Close()
}
