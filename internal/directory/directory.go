package directory

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"vainalista-api/internal/cache"
	"vainalista-api/internal/logging"
	"vainalista-api/internal/models"
	"vainalista-api/internal/storage"
)

const (
	DefaultTTL        = 5 * time.Minute
	DefaultMaxEntries = 100
	MaxRecentEmails   = 20

	historyPrefix = "historico-emails/"
	// lookupConcurrency bounds the parallel profile reads of UsersByIDs
	lookupConcurrency = 8
)

var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// CacheStats describes the lookup cache
type CacheStats struct {
	Size  int `json:"size"`
	Valid int `json:"valid"`
}

// Directory resolves users by email with a small time-boxed cache in front
// of the user store
type Directory struct {
	users storage.UserStore
	local *cache.Store
	ttl   time.Duration
	max   int
	log   *logrus.Entry

	// found users by normalized email, oldest insertion evicted first
	cache *ttlcache.Cache[string, models.BasicUser]

	historyMu sync.Mutex
}

// Option configures a Directory
type Option func(*Directory)

// WithTTL sets how long a found user stays cached
func WithTTL(ttl time.Duration) Option {
	return func(d *Directory) { d.ttl = ttl }
}

// WithMaxEntries bounds the lookup cache
func WithMaxEntries(n int) Option {
	return func(d *Directory) { d.max = n }
}

// New creates a directory. local may be nil, in which case the email
// history is not kept.
func New(users storage.UserStore, local *cache.Store, opts ...Option) *Directory {
	d := &Directory{
		users: users,
		local: local,
		ttl:   DefaultTTL,
		max:   DefaultMaxEntries,
		log:   logging.For("directory"),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.max < 1 {
		d.max = 1
	}

	d.cache = ttlcache.New[string, models.BasicUser](
		ttlcache.WithTTL[string, models.BasicUser](d.ttl),
		ttlcache.WithCapacity[string, models.BasicUser](uint64(d.max)),
		ttlcache.WithDisableTouchOnHit[string, models.BasicUser](),
	)
	d.cache.OnEviction(func(ctx context.Context, reason ttlcache.EvictionReason, item *ttlcache.Item[string, models.BasicUser]) {
		if reason == ttlcache.EvictionReasonCapacityReached {
			d.log.WithField("uid", item.Value().UID).Debug("Directory cache full, evicted oldest entry")
		}
	})
	return d
}

// NormalizeEmail trims and lowercases an address
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// ValidEmail reports whether email looks like an address
func ValidEmail(email string) bool {
	return emailPattern.MatchString(email)
}

// FindByEmail returns the user registered with email. A missing user is
// reported with found == false, not as an error.
func (d *Directory) FindByEmail(ctx context.Context, email string) (*models.BasicUser, bool, error) {
	email = NormalizeEmail(email)
	if !ValidEmail(email) {
		return nil, false, fmt.Errorf("%w: email %q", models.ErrInvalidInput, email)
	}

	if item := d.cache.Get(email); item != nil {
		user := item.Value()
		return &user, true, nil
	}

	user, err := d.users.FindUserByEmail(ctx, email)
	if errors.Is(err, models.ErrUserNotFound) {
		return nil, false, nil
	}
	if err != nil {
		d.log.WithError(err).Error("User lookup failed")
		return nil, false, err
	}

	d.cache.Set(email, *user, ttlcache.DefaultTTL)
	return user, true, nil
}

// ValidateEmail checks the address format and whether a user is registered
// with it. Lookup failures are reported in the result, never as an error.
func (d *Directory) ValidateEmail(ctx context.Context, email string) models.EmailValidation {
	email = NormalizeEmail(email)
	result := models.EmailValidation{Email: email}
	if !ValidEmail(email) {
		result.MensagemErro = "Invalid email format"
		return result
	}
	result.FormatoCorreto = true

	user, found, err := d.FindByEmail(ctx, email)
	switch {
	case err != nil:
		result.MensagemErro = "Failed to validate email"
	case !found:
		result.MensagemErro = "User not found"
	default:
		result.Valido = true
		result.UsuarioExiste = true
		result.Usuario = user
	}
	return result
}

// UsersByIDs reads the profiles of uids in parallel, keeping their order.
// Unknown users and failed reads are skipped.
func (d *Directory) UsersByIDs(ctx context.Context, uids []string) []models.BasicUser {
	profiles := make([]*models.BasicUser, len(uids))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(lookupConcurrency)
	for i, uid := range uids {
		g.Go(func() error {
			user, err := d.users.GetUser(gctx, uid)
			switch {
			case errors.Is(err, models.ErrUserNotFound):
				d.log.WithField("uid", uid).Warn("User not found by uid")
			case err != nil:
				d.log.WithError(err).WithField("uid", uid).Error("Failed to load user")
			default:
				profiles[i] = user
			}
			return nil
		})
	}
	_ = g.Wait()

	found := make([]models.BasicUser, 0, len(uids))
	for _, user := range profiles {
		if user != nil {
			found = append(found, *user)
		}
	}
	d.log.WithFields(logrus.Fields{"requested": len(uids), "found": len(found)}).Debug("Loaded user profiles")
	return found
}

// ClearCache drops every cached lookup
func (d *Directory) ClearCache() {
	d.cache.DeleteAll()
	d.log.Info("Directory cache cleared")
}

// CacheStats reports the cache size and how many entries are still fresh
func (d *Directory) CacheStats() CacheStats {
	stats := CacheStats{Size: d.cache.Len()}
	for _, item := range d.cache.Items() {
		if !item.IsExpired() {
			stats.Valid++
		}
	}
	return stats
}

func historyKey(uid string) string {
	return historyPrefix + uid
}

// RecentEmails returns the addresses uid recently shared with, newest first
func (d *Directory) RecentEmails(ctx context.Context, uid string) ([]string, error) {
	if d.local == nil {
		return []string{}, nil
	}
	emails, found, err := cache.GetAs[[]string](ctx, d.local, historyKey(uid))
	if err != nil {
		return nil, err
	}
	if !found || emails == nil {
		return []string{}, nil
	}
	return emails, nil
}

// RememberEmail moves email to the front of uid's history
func (d *Directory) RememberEmail(ctx context.Context, uid, email string) error {
	if d.local == nil {
		return nil
	}
	email = NormalizeEmail(email)
	if !ValidEmail(email) {
		return fmt.Errorf("%w: email %q", models.ErrInvalidInput, email)
	}

	d.historyMu.Lock()
	defer d.historyMu.Unlock()

	emails, err := d.RecentEmails(ctx, uid)
	if err != nil {
		return err
	}
	history := []string{email}
	for _, e := range emails {
		if e != email && len(history) < MaxRecentEmails {
			history = append(history, e)
		}
	}
	return d.local.Set(ctx, historyKey(uid), history)
}

// ClearHistory forgets every email remembered for uid
func (d *Directory) ClearHistory(ctx context.Context, uid string) error {
	if d.local == nil {
		return nil
	}
	return d.local.Remove(ctx, historyKey(uid))
}
