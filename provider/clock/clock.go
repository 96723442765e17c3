// Package clock implements the offset-based wall clock and the deterministic
// prev-randao stream used by the provider engine to pick block timestamps
// and post-merge randomness values.
package clock

import (
	"crypto/sha256"
	"encoding/binary"
	"time"
)

// Clock tracks a signed offset applied to wall-clock time when choosing the
// next block's timestamp. It mirrors the "blockTimeOffsetSeconds" field
// threaded through snapshot capture/restore in the provider engine.
type Clock struct {
	offsetSeconds int64
	now           func() time.Time
}

// New creates a Clock with a zero offset. now defaults to time.Now; tests
// may override it to make timestamp selection deterministic.
func New(now func() time.Time) *Clock {
	if now == nil {
		now = time.Now
	}
	return &Clock{now: now}
}

// NowSeconds returns the current wall-clock epoch second.
func (c *Clock) NowSeconds() int64 {
	return c.now().Unix()
}

// OffsetSeconds returns the currently configured offset.
func (c *Clock) OffsetSeconds() int64 {
	return c.offsetSeconds
}

// SetOffsetSeconds overwrites the offset directly; used on snapshot revert
// where the offset is reconstructed rather than derived from a request.
func (c *Clock) SetOffsetSeconds(seconds int64) {
	c.offsetSeconds = seconds
}

// IncrementOffset nudges the offset by delta seconds, used when a
// same-timestamp collision is resolved by bumping both the timestamp and
// the offset that produced it.
func (c *Clock) IncrementOffset(delta int64) {
	c.offsetSeconds += delta
}

// TimestampRequest holds NextTimestamp's inputs: the timestamp of the
// latest block, an optional explicit request, an optional sticky "next
// block timestamp", and whether same-timestamp blocks are allowed.
type TimestampRequest struct {
	Latest             uint64
	Requested          *uint64
	Sticky             *uint64
	AllowSameTimestamp bool
}

// TimestampLowerThanPreviousError is returned when an explicit request is at
// or below the latest block's timestamp without same-timestamp blocks
// allowed.
type TimestampLowerThanPreviousError struct {
	Requested uint64
	Latest    uint64
}

func (e *TimestampLowerThanPreviousError) Error() string {
	return "timestamp lower than or equal to previous block's timestamp"
}

// NextTimestamp picks the next block timestamp, mutating the clock's offset
// as a side effect per spec §4.1 steps 2-5.
func (c *Clock) NextTimestamp(req TimestampRequest) (uint64, error) {
	now := c.NowSeconds()

	var timestamp int64
	offsetChanged := false

	switch {
	case req.Requested != nil:
		requested := int64(*req.Requested)
		if requested <= int64(req.Latest) && !(requested == int64(req.Latest) && req.AllowSameTimestamp) {
			return 0, &TimestampLowerThanPreviousError{Requested: *req.Requested, Latest: req.Latest}
		}
		c.offsetSeconds = requested - now
		offsetChanged = true
		timestamp = requested
	case req.Sticky != nil:
		sticky := int64(*req.Sticky)
		c.offsetSeconds = sticky - now
		offsetChanged = true
		timestamp = sticky
	default:
		timestamp = now + c.offsetSeconds
	}

	if timestamp == int64(req.Latest) && !req.AllowSameTimestamp {
		timestamp++
		if !offsetChanged {
			c.offsetSeconds++
		}
	}
	return uint64(timestamp), nil
}

// RandaoGenerator produces a deterministic, reproducible stream of prev-randao
// values seeded once at construction. Successive Next() calls must be
// reproducible across process restarts given the same call count, so the
// stream is a counter-keyed hash rather than a PRNG with mutable state beyond
// the counter itself.
type RandaoGenerator struct {
	seed    [32]byte
	calls   uint64
	primed  *[32]byte
}

// NewRandaoGenerator seeds the generator with seed, used exactly as given;
// the same seed always yields the same stream.
func NewRandaoGenerator(seed [32]byte) *RandaoGenerator {
	return &RandaoGenerator{seed: seed}
}

// Next returns the next value in the stream, advancing the call counter
// unless a primed value is pending.
func (g *RandaoGenerator) Next() [32]byte {
	if g.primed != nil {
		v := *g.primed
		g.primed = nil
		return v
	}
	v := g.valueAt(g.calls)
	g.calls++
	return v
}

// SetNext primes the very next value without disturbing the rolling seed or
// call counter used for values after it.
func (g *RandaoGenerator) SetNext(value [32]byte) {
	g.primed = &value
}

// CallCount reports how many rolling-stream values have been produced
// (primed values are not counted), for snapshot
// capture/restore.
func (g *RandaoGenerator) CallCount() uint64 {
	return g.calls
}

// Seed exposes the generator's seed, for snapshot capture.
func (g *RandaoGenerator) Seed() [32]byte {
	return g.seed
}

// Restore rebuilds a generator at a specific point in its stream, used when
// reverting to a prior snapshot.
func Restore(seed [32]byte, calls uint64) *RandaoGenerator {
	return &RandaoGenerator{seed: seed, calls: calls}
}

func (g *RandaoGenerator) valueAt(counter uint64) [32]byte {
	h := sha256.New()
	h.Write(g.seed[:])
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], counter)
	h.Write(buf[:])
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}
