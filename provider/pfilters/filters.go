// Package pfilters implements the filter/subscription registry (C7, spec.md
// §4.7): block, log, and pending-tx filters and subscriptions, fanned out
// transactionally on every commit.
//
// Grounded on github.com/ethereum/go-ethereum/eth/filters (see
// filter_system_test.go's FilterCriteria shape, reused here directly); the
// push-subscription fan-out is a direct synchronous callback rather than
// event.Feed; spec.md §6 requires SubscriberCallback delivery to happen
// synchronously within the commit that produced it, which event.Feed's
// channel-based, reader-paced delivery does not guarantee.
package pfilters

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// Kind identifies what a filter accumulates.
type Kind int

const (
	KindBlock Kind = iota
	KindLog
	KindPendingTx
)

// ID is the FilterId entity from spec.md §3: a monotonically increasing
// counter starting at 1.
type ID uint64

// InvalidFilterSubscriptionTypeError is returned by GetFilterLogs when the
// requested filter is not a Log filter.
type InvalidFilterSubscriptionTypeError struct {
	ID   ID
	Kind Kind
}

func (e *InvalidFilterSubscriptionTypeError) Error() string {
	return "filter not found or not a logs filter"
}

// NotFoundError is returned for operations against an unknown filter id.
type NotFoundError struct {
	ID ID
}

func (e *NotFoundError) Error() string {
	return "filter not found"
}

// Criteria mirrors github.com/ethereum/go-ethereum's FilterCriteria/
// ethereum.FilterQuery shape used throughout eth/filters.
type Criteria struct {
	FromBlock *big.Int
	ToBlock   *big.Int
	Addresses []common.Address
	Topics    [][]common.Hash
}

// SubscriberFunc is the SubscriberCallback collaborator from spec.md §6: may
// be called synchronously during a commit.
type SubscriberFunc func(event any)

// filter is one registered entry.
type filter struct {
	id             ID
	kind           Kind
	isSubscription bool
	criteria       Criteria
	subscriber     SubscriberFunc

	blockHashes []common.Hash
	logs        []*types.Log
	txHashes    []common.Hash

	lastPoll time.Time
}

// Registry owns every live filter/subscription.
type Registry struct {
	nextID  ID
	filters map[ID]*filter
	now     func() time.Time
	ttl     time.Duration
}

// DefaultTTL is the idle-expiry window for non-subscription filters,
// matching the conventional eth_newFilter TTL of most JSON-RPC providers
// (spec.md §9 Open Question 2 leaves the exact value to the implementation).
const DefaultTTL = 5 * time.Minute

// New creates an empty registry. now defaults to time.Now.
func New(now func() time.Time) *Registry {
	if now == nil {
		now = time.Now
	}
	return &Registry{filters: make(map[ID]*filter), now: now, ttl: DefaultTTL}
}

func (r *Registry) add(kind Kind, isSubscription bool, criteria Criteria, sub SubscriberFunc) ID {
	r.nextID++
	id := r.nextID
	r.filters[id] = &filter{
		id:             id,
		kind:           kind,
		isSubscription: isSubscription,
		criteria:       criteria,
		subscriber:     sub,
		lastPoll:       r.now(),
	}
	return id
}

// AddBlockFilter registers a non-subscription block filter.
func (r *Registry) AddBlockFilter() ID {
	return r.add(KindBlock, false, Criteria{}, nil)
}

// AddLogFilter registers a non-subscription log filter.
func (r *Registry) AddLogFilter(criteria Criteria) ID {
	return r.add(KindLog, false, criteria, nil)
}

// AddPendingTxFilter registers a non-subscription pending-tx filter.
func (r *Registry) AddPendingTxFilter() ID {
	return r.add(KindPendingTx, false, Criteria{}, nil)
}

// AddBlockSubscription registers a push subscription for new block hashes.
func (r *Registry) AddBlockSubscription(sub SubscriberFunc) ID {
	return r.add(KindBlock, true, Criteria{}, sub)
}

// AddLogSubscription registers a push subscription for matching logs.
func (r *Registry) AddLogSubscription(criteria Criteria, sub SubscriberFunc) ID {
	return r.add(KindLog, true, criteria, sub)
}

// AddPendingTxSubscription registers a push subscription for pending tx
// hashes.
func (r *Registry) AddPendingTxSubscription(sub SubscriberFunc) ID {
	return r.add(KindPendingTx, true, Criteria{}, sub)
}

// Remove deletes a filter/subscription, reporting whether it existed.
func (r *Registry) Remove(id ID) bool {
	if _, ok := r.filters[id]; !ok {
		return false
	}
	delete(r.filters, id)
	return true
}

// GetFilterChanges returns and clears the accumulator for a non-subscription
// filter, regardless of kind.
func (r *Registry) GetFilterChanges(id ID) (any, error) {
	f, ok := r.filters[id]
	if !ok {
		return nil, &NotFoundError{ID: id}
	}
	f.lastPoll = r.now()
	switch f.kind {
	case KindBlock:
		out := f.blockHashes
		f.blockHashes = nil
		return out, nil
	case KindLog:
		out := f.logs
		f.logs = nil
		return out, nil
	default:
		out := f.txHashes
		f.txHashes = nil
		return out, nil
	}
}

// GetFilterLogs returns the accumulated logs for a Log-kind filter without
// clearing them, erroring if the filter is not a Log filter.
func (r *Registry) GetFilterLogs(id ID) ([]*types.Log, error) {
	f, ok := r.filters[id]
	if !ok {
		return nil, &NotFoundError{ID: id}
	}
	if f.kind != KindLog {
		return nil, &InvalidFilterSubscriptionTypeError{ID: id, Kind: f.kind}
	}
	f.lastPoll = r.now()
	out := make([]*types.Log, len(f.logs))
	copy(out, f.logs)
	return out, nil
}

// BloomContainsLogFilter reports whether a block's bloom filter might
// contain a match for criteria; a false result definitively rules the block
// out, a true result requires checking the actual receipts (spec.md §4.7).
func BloomContainsLogFilter(bloom types.Bloom, criteria Criteria) bool {
	if len(criteria.Addresses) > 0 {
		found := false
		for _, addr := range criteria.Addresses {
			if types.BloomLookup(bloom, addr) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	for _, sub := range criteria.Topics {
		if len(sub) == 0 {
			continue
		}
		found := false
		for _, topic := range sub {
			if types.BloomLookup(bloom, topic) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// FilterLogs narrows logs down to those matching criteria, the local
// analog of eth/filters.FilterLogs.
func FilterLogs(logs []*types.Log, criteria Criteria) []*types.Log {
	var out []*types.Log
	for _, lg := range logs {
		if !matchesAddresses(lg.Address, criteria.Addresses) {
			continue
		}
		if !matchesTopics(lg.Topics, criteria.Topics) {
			continue
		}
		out = append(out, lg)
	}
	return out
}

func matchesAddresses(addr common.Address, addresses []common.Address) bool {
	if len(addresses) == 0 {
		return true
	}
	for _, a := range addresses {
		if a == addr {
			return true
		}
	}
	return false
}

func matchesTopics(logTopics []common.Hash, criteria [][]common.Hash) bool {
	if len(criteria) > len(logTopics) {
		return false
	}
	for i, sub := range criteria {
		if len(sub) == 0 {
			continue
		}
		found := false
		for _, want := range sub {
			if want == logTopics[i] {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// CommitInput is everything NotifyCommit needs to fan out filters for one
// newly inserted block.
type CommitInput struct {
	BlockHash common.Hash
	Bloom     types.Bloom
	Logs      func() ([]*types.Log, error) // lazily fetched: only called if the bloom might match
}

// NotifyCommit implements the per-commit fan-out of spec.md §4.7 and the
// ordering guarantee of spec.md §5 (subscriptions on one commit delivered in
// filter-id order): for each filter, append to its accumulator or invoke its
// subscriber.
func (r *Registry) NotifyCommit(in CommitInput) error {
	ids := r.sortedIDs()
	var cachedLogs []*types.Log
	var logsErr error
	logsFetched := false

	for _, id := range ids {
		f := r.filters[id]
		switch f.kind {
		case KindBlock:
			if f.isSubscription {
				f.subscriber(in.BlockHash)
			} else {
				f.blockHashes = append(f.blockHashes, in.BlockHash)
			}
		case KindLog:
			if !BloomContainsLogFilter(in.Bloom, f.criteria) {
				continue
			}
			if !logsFetched {
				cachedLogs, logsErr = in.Logs()
				logsFetched = true
			}
			if logsErr != nil {
				return logsErr
			}
			matched := FilterLogs(cachedLogs, f.criteria)
			if f.isSubscription {
				for _, lg := range matched {
					f.subscriber(lg)
				}
			} else {
				f.logs = append(f.logs, matched...)
			}
		}
	}
	return nil
}

// NotifyPendingTx fans out a newly admitted pending transaction hash to
// PendingTx filters/subscriptions.
func (r *Registry) NotifyPendingTx(hash common.Hash) {
	for _, id := range r.sortedIDs() {
		f := r.filters[id]
		if f.kind != KindPendingTx {
			continue
		}
		if f.isSubscription {
			f.subscriber(hash)
		} else {
			f.txHashes = append(f.txHashes, hash)
		}
	}
}

// PruneExpired removes idle, non-subscription filters, invoked after each
// mine (spec.md §3 Filter lifecycle).
func (r *Registry) PruneExpired() {
	now := r.now()
	for id, f := range r.filters {
		if f.isSubscription {
			continue
		}
		if now.Sub(f.lastPoll) > r.ttl {
			delete(r.filters, id)
		}
	}
}

func (r *Registry) sortedIDs() []ID {
	ids := make([]ID, 0, len(r.filters))
	for id := range r.filters {
		ids = append(ids, id)
	}
	// filters are added with strictly increasing ids, so a simple
	// insertion sort over a typically-small set keeps this allocation-free
	// beyond the slice itself.
	for i := 1; i < len(ids); i++ {
		for j := i; j > 0 && ids[j-1] > ids[j]; j-- {
			ids[j-1], ids[j] = ids[j], ids[j-1]
		}
	}
	return ids
}
