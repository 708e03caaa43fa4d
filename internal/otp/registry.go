package otp

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"

	"github.com/premisehq/visitor-gate/internal/domain"
	"github.com/premisehq/visitor-gate/pkg/events"
	"github.com/premisehq/visitor-gate/pkg/logger"
)

// Registry issues, validates and expires authorization codes. It is an
// explicitly constructed component: callers own its lifecycle through
// New and Close, nothing is process-global.
//
// All mutations are linearized per registry by a single mutex; the
// ttlcache janitor handles scheduled removal at each code's expiry.
type Registry struct {
	mu       sync.Mutex
	cache    *ttlcache.Cache[string, *domain.AuthorizationCode]
	byIssuer map[string]string // issuer id -> active code

	ownerTTL    time.Duration
	facilityTTL time.Duration

	bus events.Publisher
}

type Option func(*Registry)

// WithPublisher forwards issue/expiry events to the bus. Publish
// failures are logged and swallowed.
func WithPublisher(bus events.Publisher) Option {
	return func(r *Registry) { r.bus = bus }
}

func WithTTLs(ownerTTL, facilityTTL time.Duration) Option {
	return func(r *Registry) {
		r.ownerTTL = ownerTTL
		r.facilityTTL = facilityTTL
	}
}

func New(opts ...Option) *Registry {
	r := &Registry{
		byIssuer:    make(map[string]string),
		ownerTTL:    25 * time.Minute,
		facilityTTL: 60 * time.Minute,
	}
	for _, opt := range opts {
		opt(r)
	}

	r.cache = ttlcache.New(
		ttlcache.WithDisableTouchOnHit[string, *domain.AuthorizationCode](),
	)
	r.cache.OnEviction(func(_ context.Context, reason ttlcache.EvictionReason, item *ttlcache.Item[string, *domain.AuthorizationCode]) {
		if reason != ttlcache.EvictionReasonExpired {
			return
		}
		// Janitor goroutine; take the lock off this callback to avoid
		// re-entering ttlcache internals while holding it.
		go r.onExpired(item.Value())
	})

	go r.cache.Start()

	return r
}

// Close stops the janitor goroutine.
func (r *Registry) Close() {
	r.cache.Stop()
}

// Issue creates a fresh owner code, replacing any active code for the
// same issuer.
func (r *Registry) Issue(ctx context.Context, issuerID string, maxUses int) (*domain.AuthorizationCode, error) {
	if maxUses < domain.MinCodeUses || maxUses > domain.MaxCodeUses {
		return nil, fmt.Errorf("%w: max uses must be between %d and %d", domain.ErrInvalidInput, domain.MinCodeUses, domain.MaxCodeUses)
	}
	return r.issue(ctx, issuerID, domain.CodeKindOwner, maxUses, "", r.ownerTTL)
}

// IssueFacility creates a single-use facility code pre-bound to one
// consumer, with the longer facility TTL.
func (r *Registry) IssueFacility(ctx context.Context, issuerID, consumerID string) (*domain.AuthorizationCode, error) {
	if consumerID == "" {
		return nil, fmt.Errorf("%w: facility codes require a bound consumer", domain.ErrInvalidInput)
	}
	return r.issue(ctx, issuerID, domain.CodeKindFacility, 1, consumerID, r.facilityTTL)
}

func (r *Registry) issue(ctx context.Context, issuerID string, kind domain.CodeKind, maxUses int, consumerID string, ttl time.Duration) (*domain.AuthorizationCode, error) {
	if issuerID == "" {
		return nil, fmt.Errorf("%w: issuer id is required", domain.ErrInvalidInput)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// Single active code per issuer: a new issue invalidates the old one.
	if prev, ok := r.byIssuer[issuerID]; ok {
		r.cache.Delete(prev)
		delete(r.byIssuer, issuerID)
	}

	code, err := r.generateCode()
	if err != nil {
		return nil, fmt.Errorf("failed to generate code: %w", err)
	}

	now := time.Now()
	entry := &domain.AuthorizationCode{
		Code:          code,
		IssuerID:      issuerID,
		Kind:          kind,
		MaxUses:       maxUses,
		UsedBy:        []string{},
		BoundConsumer: consumerID,
		IssuedAt:      now,
		ExpiresAt:     now.Add(ttl),
	}

	r.cache.Set(code, entry, ttl)
	r.byIssuer[issuerID] = code

	if r.bus != nil {
		event := events.CodeIssuedEvent{
			IssuerID:  issuerID,
			Kind:      string(kind),
			MaxUses:   maxUses,
			ExpiresAt: entry.ExpiresAt,
		}
		if err := r.bus.Publish(ctx, events.CodeIssued, event); err != nil {
			logger.ErrorContext(ctx, "Failed to publish code issued event", "error", err, "issuer_id", issuerID)
		}
	}

	return entry, nil
}

// Validate atomically checks and consumes one use of a code. It reports
// false for unknown, expired, consumer-repeated or wrongly bound codes.
// The consumer that claims the final use removes the code in the same
// call, so no two concurrent callers can both take the last slot.
func (r *Registry) Validate(ctx context.Context, code, consumerID string) bool {
	if code == "" || consumerID == "" {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	item := r.cache.Get(code)
	if item == nil {
		return false
	}

	entry := item.Value()
	if entry.Expired(time.Now()) {
		return false
	}
	if entry.BoundConsumer != "" && entry.BoundConsumer != consumerID {
		return false
	}
	if entry.HasConsumed(consumerID) {
		return false
	}

	entry.UsedBy = append(entry.UsedBy, consumerID)
	logger.DebugContext(ctx, "Authorization code consumed",
		"issuer_id", entry.IssuerID, "uses", len(entry.UsedBy), "max_uses", entry.MaxUses)

	if entry.Exhausted() {
		r.cache.Delete(code)
		delete(r.byIssuer, entry.IssuerID)
	}

	return true
}

// RemainingTime reports how long a code stays valid.
func (r *Registry) RemainingTime(code string) (time.Duration, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	item := r.cache.Get(code)
	if item == nil {
		return 0, false
	}
	remaining := time.Until(item.Value().ExpiresAt)
	if remaining <= 0 {
		return 0, false
	}
	return remaining, true
}

// ForceRemove revokes a code explicitly, e.g. when a facility session
// closes before the code expires.
func (r *Registry) ForceRemove(code string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	item := r.cache.Get(code)
	if item == nil {
		return
	}
	r.cache.Delete(code)
	delete(r.byIssuer, item.Value().IssuerID)
}

// Entry returns the live entry for a code, if any.
func (r *Registry) Entry(code string) (*domain.AuthorizationCode, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	item := r.cache.Get(code)
	if item == nil {
		return nil, false
	}
	if item.Value().Expired(time.Now()) {
		return nil, false
	}
	return item.Value(), true
}

// ActiveForIssuer returns the issuer's current code, if one is live.
func (r *Registry) ActiveForIssuer(issuerID string) (*domain.AuthorizationCode, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	code, ok := r.byIssuer[issuerID]
	if !ok {
		return nil, false
	}
	item := r.cache.Get(code)
	if item == nil || item.Value().Expired(time.Now()) {
		return nil, false
	}
	return item.Value(), true
}

// AllActive lists every live code.
func (r *Registry) AllActive() []*domain.AuthorizationCode {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	var out []*domain.AuthorizationCode
	for _, item := range r.cache.Items() {
		if entry := item.Value(); !entry.Expired(now) {
			out = append(out, entry)
		}
	}
	return out
}

func (r *Registry) onExpired(entry *domain.AuthorizationCode) {
	r.mu.Lock()
	if active, ok := r.byIssuer[entry.IssuerID]; ok && active == entry.Code {
		delete(r.byIssuer, entry.IssuerID)
	}
	r.mu.Unlock()

	if r.bus != nil {
		event := events.CodeExpiredEvent{
			IssuerID:  entry.IssuerID,
			Kind:      string(entry.Kind),
			ExpiredAt: entry.ExpiresAt,
		}
		if err := r.bus.Publish(context.Background(), events.CodeExpired, event); err != nil {
			logger.Error("Failed to publish code expired event", "error", err, "issuer_id", entry.IssuerID)
		}
	}
}

// generateCode draws a fresh 6-character code from [A-Z0-9], retrying
// on the (unlikely) collision with a live code. Caller holds r.mu.
func (r *Registry) generateCode() (string, error) {
	max := big.NewInt(int64(len(domain.CodeAlphabet)))
	for attempt := 0; attempt < 10; attempt++ {
		buf := make([]byte, domain.CodeLength)
		for i := range buf {
			n, err := rand.Int(rand.Reader, max)
			if err != nil {
				return "", err
			}
			buf[i] = domain.CodeAlphabet[n.Int64()]
		}
		code := string(buf)
		if r.cache.Get(code) == nil {
			return code, nil
		}
	}
	return "", fmt.Errorf("could not find an unused code")
}
