// Package rewards pays out mine/dig loot. A dig rolls the named loot table
// through the shared roller, then credits currency or mints an item.
package rewards

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/minerush/economy/internal/catalog"
	"github.com/minerush/economy/internal/cooldown"
	"github.com/minerush/economy/internal/domain"
	"github.com/minerush/economy/internal/ledger"
	"github.com/minerush/economy/internal/metrics"
	"github.com/minerush/economy/internal/roller"
	"github.com/minerush/economy/internal/store"
)

// DefaultTable is rolled when a dig names no table.
const DefaultTable = "dig"

const action = "dig"

// DigInput identifies one dig. RequestID makes retries safe: a dig whose
// currency payout was already booked under the same id is replayed.
type DigInput struct {
	UserID    int64
	TableID   string
	RequestID string
}

// Reward is the outcome of one dig.
type Reward struct {
	RequestID string
	TableID   string
	Kind      catalog.DropKind
	Currency  string
	Amount    int64
	Item      *domain.Item
	Replayed  bool
}

// Service rolls loot tables.
type Service struct {
	runner    store.Runner
	catalog   catalog.Catalog
	cooldowns cooldown.Store
	src       roller.Source
	window    time.Duration
	logger    *slog.Logger
}

// NewService constructs a reward service. A nil source uses roller.Default.
func NewService(runner store.Runner, cat catalog.Catalog, cooldowns cooldown.Store, src roller.Source, window time.Duration, logger *slog.Logger) *Service {
	if src == nil {
		src = roller.Default()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{runner: runner, catalog: cat, cooldowns: cooldowns, src: src, window: window, logger: logger}
}

func grantKey(userID int64, requestID string) string {
	return fmt.Sprintf("%s:%d:%s", ledger.RefMineDig, userID, requestID)
}

// Dig rolls the table for the user. It fails with domain.ErrCooldown while
// the user's previous dig window is open. A dig that fails to book its
// reward releases the window again.
func (s *Service) Dig(ctx context.Context, in DigInput) (Reward, error) {
	if in.UserID <= 0 {
		return Reward{}, fmt.Errorf("%w: user required", domain.ErrInvalidInput)
	}
	if in.TableID == "" {
		in.TableID = DefaultTable
	}
	table, ok := s.catalog.LootTable(in.TableID)
	if !ok {
		return Reward{}, fmt.Errorf("%w: unknown loot table %q", domain.ErrInvalidInput, in.TableID)
	}
	if in.RequestID == "" {
		in.RequestID = uuid.NewString()
	}
	key := grantKey(in.UserID, in.RequestID)

	if prev, ok, err := s.replay(ctx, key); err != nil || ok {
		prev.RequestID, prev.TableID = in.RequestID, in.TableID
		return prev, err
	}

	cooldownKey := cooldown.Key(action, in.UserID)
	acquired := false
	if s.cooldowns != nil && s.window > 0 {
		ok, left, err := s.cooldowns.Acquire(ctx, cooldownKey, s.window)
		if err != nil {
			return Reward{}, err
		}
		if !ok {
			return Reward{}, fmt.Errorf("%w: retry in %s", domain.ErrCooldown, left.Round(time.Millisecond))
		}
		acquired = true
	}

	drop := roller.Roll(table.Entries(), s.src, catalog.Drop{Kind: catalog.DropNothing})
	reward := Reward{RequestID: in.RequestID, TableID: in.TableID, Kind: drop.Kind}

	err := s.runner.Do(ctx, func(tx store.Tx) error {
		switch drop.Kind {
		case catalog.DropCurrency:
			e, err := tx.Ledger().Credit(ctx, ledger.Posting{
				UserID:         in.UserID,
				Currency:       drop.Currency,
				Amount:         drop.Amount,
				RefType:        ledger.RefMineDig,
				RefID:          in.TableID,
				IdempotencyKey: key,
			})
			if err != nil {
				return err
			}
			reward.Currency, reward.Amount = e.Currency, e.Amount
		case catalog.DropItem:
			level := roller.Roll(drop.LevelEntries(), s.src, 1)
			meta := map[string]any{"source": ledger.RefMineDig, "grant_key": key}
			if def, ok := s.catalog.Definition(drop.DefinitionID); ok && def.Rarity != "" {
				meta["rarity"] = def.Rarity
			}
			it, err := tx.Vault().Grant(ctx, in.UserID, drop.DefinitionID, level, meta)
			if err != nil {
				return err
			}
			reward.Item = &it
		}
		return nil
	})
	if err != nil {
		if acquired {
			s.release(ctx, cooldownKey)
		}
		return Reward{}, err
	}

	metrics.RewardsRolled.WithLabelValues(in.TableID, string(reward.Kind)).Inc()
	s.logger.Info("dig rewarded",
		slog.Int64("user_id", in.UserID),
		slog.String("table", in.TableID),
		slog.String("kind", string(reward.Kind)),
		slog.String("request_id", in.RequestID),
	)
	return reward, nil
}

// release reopens the cooldown after a dig that booked nothing. It runs even
// when ctx is already canceled.
func (s *Service) release(ctx context.Context, key string) {
	if err := s.cooldowns.Release(context.WithoutCancel(ctx), key); err != nil {
		s.logger.Warn("cooldown release failed", slog.String("key", key), slog.Any("error", err))
	}
}

// replay returns the currency reward already booked under key, if any.
func (s *Service) replay(ctx context.Context, key string) (Reward, bool, error) {
	var rows []domain.Entry
	err := s.runner.Do(ctx, func(tx store.Tx) error {
		var err error
		rows, err = tx.Ledger().EntriesByKey(ctx, key)
		return err
	})
	if err != nil {
		return Reward{}, false, err
	}
	if len(rows) == 0 {
		return Reward{}, false, nil
	}
	e := rows[0]
	return Reward{Kind: catalog.DropCurrency, Currency: e.Currency, Amount: e.Amount, Replayed: true}, true, nil
}

// ParseRequestID accepts ids of up to 64 characters from [A-Za-z0-9_-]. An
// empty id is valid and makes the dig non-retryable.
func ParseRequestID(raw string) (string, error) {
	if len(raw) > 64 {
		return "", fmt.Errorf("%w: request id too long", domain.ErrInvalidInput)
	}
	for _, r := range raw {
		ok := r == '-' || r == '_' || (r >= '0' && r <= '9') || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')
		if !ok {
			return "", fmt.Errorf("%w: request id has invalid character %q", domain.ErrInvalidInput, r)
		}
	}
	return raw, nil
}
