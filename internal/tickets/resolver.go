package tickets

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/expopass/backend/internal/models"
	"github.com/expopass/backend/internal/registrations"
)

// ErrTicketNotFound means no role table holds a matching registration.
var ErrTicketNotFound = errors.New("ticket not found")

// DefaultScanLimit caps the fallback deep-scan tier per role table.
const DefaultScanLimit = 1000

// Searcher is the slice of the registration store the resolver needs.
type Searcher interface {
	FindByCode(ctx context.Context, role models.Role, code string) (*models.Registration, error)
	FindByCodeFold(ctx context.Context, role models.Role, code string) (*models.Registration, error)
	FindByAliasField(ctx context.Context, role models.Role, aliases []string, values []string) (*models.Registration, error)
	ScanCandidates(ctx context.Context, role models.Role, aliases []string, limit int) ([]*models.Registration, error)
}

// Match is a resolved ticket: the record plus the role table that owns
// it, so downstream rendering can apply role-specific display rules.
type Match struct {
	Registration *models.Registration
	Role         models.Role
}

// Resolver turns an opaque scan payload into exactly one registration.
// Lookup walks the role tables in models.Roles order, short-circuiting
// on the first hit and escalating through match tiers only as needed:
// exact, case-insensitive, alias fields, bounded deep scan.
type Resolver struct {
	store     Searcher
	scanLimit int
	logger    *zap.Logger
}

// NewResolver creates a Resolver. scanLimit <= 0 uses DefaultScanLimit.
func NewResolver(store Searcher, scanLimit int, logger *zap.Logger) *Resolver {
	if scanLimit <= 0 {
		scanLimit = DefaultScanLimit
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{store: store, scanLimit: scanLimit, logger: logger}
}

// Resolve extracts a candidate key from the payload and searches for
// its registration. Returns ErrInvalidPayload when no key can be
// extracted and ErrTicketNotFound when no table matches.
func (r *Resolver) Resolve(ctx context.Context, raw interface{}) (*Match, error) {
	key, err := ExtractKey(raw)
	if err != nil {
		return nil, err
	}
	values := candidateValues(key)

	for _, role := range models.Roles {
		reg, err := r.lookupRole(ctx, role, key, values)
		if errors.Is(err, registrations.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return &Match{Registration: reg, Role: role}, nil
	}
	r.logger.Debug("ticket key not found in any role table", zap.String("key", key))
	return nil, ErrTicketNotFound
}

func (r *Resolver) lookupRole(ctx context.Context, role models.Role, key string, values []string) (*models.Registration, error) {
	reg, err := r.store.FindByCode(ctx, role, key)
	if err == nil || !errors.Is(err, registrations.ErrNotFound) {
		return reg, err
	}
	reg, err = r.store.FindByCodeFold(ctx, role, key)
	if err == nil || !errors.Is(err, registrations.ErrNotFound) {
		return reg, err
	}
	reg, err = r.store.FindByAliasField(ctx, role, AliasFields, values)
	if err == nil || !errors.Is(err, registrations.ErrNotFound) {
		return reg, err
	}
	return r.deepScan(ctx, role, key)
}

// deepScan is the bounded fallback over malformed historical rows:
// inspect up to scanLimit candidates, walking nested field and raw-form
// documents for a case-insensitive match. Plain reads only, never
// unbounded.
func (r *Resolver) deepScan(ctx context.Context, role models.Role, key string) (*models.Registration, error) {
	candidates, err := r.store.ScanCandidates(ctx, role, AliasFields, r.scanLimit)
	if err != nil {
		return nil, err
	}
	for _, reg := range candidates {
		if deepMatch(reg.Fields, key) || deepMatch(reg.RawForm, key) {
			return reg, nil
		}
	}
	return nil, registrations.ErrNotFound
}

// candidateValues returns the lower-cased forms a stored value may
// take for the key: the key itself and, for all-digit keys, the
// numeric rendering (strips leading zeros, covers historical documents
// that stored codes as numbers).
func candidateValues(key string) []string {
	values := []string{strings.ToLower(key)}
	if n, err := strconv.ParseInt(key, 10, 64); err == nil {
		numeric := strconv.FormatInt(n, 10)
		if numeric != key {
			values = append(values, numeric)
		}
	}
	return values
}

func deepMatch(v interface{}, key string) bool {
	switch t := v.(type) {
	case nil:
		return false
	case map[string]interface{}:
		for _, nested := range t {
			if deepMatch(nested, key) {
				return true
			}
		}
	case []interface{}:
		for _, nested := range t {
			if deepMatch(nested, key) {
				return true
			}
		}
	case string:
		return strings.EqualFold(strings.TrimSpace(t), key)
	case float64:
		return formatNumber(t) == key
	default:
		return strings.EqualFold(fmt.Sprintf("%v", t), key)
	}
	return false
}
