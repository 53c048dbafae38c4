package rates

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/yeremiapane/omnipay-gateway/apperrors"
)

// Pair is an ordered currency pair. A rate for {From, To} converts one unit of From into To.
type Pair struct {
	From string
	To   string
}

func (p Pair) String() string {
	return p.From + "_TO_" + p.To
}

// Source fetches a batch of rates from one upstream feed.
type Source interface {
	Name() string
	Fetch(ctx context.Context) (map[Pair]decimal.Decimal, error)
}

var cryptoCurrencies = map[string]bool{"USDT": true, "BTC": true, "ETH": true}

// IsCrypto reports whether currency is a crypto token.
func IsCrypto(currency string) bool {
	return cryptoCurrencies[strings.ToUpper(currency)]
}

// Round applies the unit precision of currency: 6 places for crypto, 2 for fiat, half away from zero.
func Round(amount decimal.Decimal, currency string) decimal.Decimal {
	if IsCrypto(currency) {
		return amount.Round(6)
	}
	return amount.Round(2)
}

// FallbackRates seed the table until the first successful refresh.
func FallbackRates() map[Pair]decimal.Decimal {
	return map[Pair]decimal.Decimal{
		{From: "USD", To: "INR"}:  decimal.RequireFromString("83.12"),
		{From: "USDT", To: "USD"}: decimal.RequireFromString("1.00"),
		{From: "USDT", To: "INR"}: decimal.RequireFromString("83.12"),
	}
}

// Snapshot is a point-in-time copy of the table.
type Snapshot struct {
	Rates       map[string]string `json:"rates"`
	UpdatedAt   time.Time         `json:"updated_at"`
	LastError   string            `json:"last_error,omitempty"`
	LastAttempt time.Time         `json:"last_attempt"`
}

// Table is the single source of truth for conversions. Refresh failures keep the previous
// snapshot; Convert never sees a refresh error.
type Table struct {
	mu          sync.RWMutex
	rates       map[Pair]decimal.Decimal
	updatedAt   time.Time
	lastAttempt time.Time
	lastErr     error

	sources  []Source
	Interval time.Duration
	Timeout  time.Duration
	logger   logrus.FieldLogger
	StopChan chan struct{}
	wg       sync.WaitGroup
}

func NewTable(logger logrus.FieldLogger, sources ...Source) *Table {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	t := &Table{
		rates:    make(map[Pair]decimal.Decimal),
		sources:  sources,
		Interval: 5 * time.Minute,
		Timeout:  10 * time.Second,
		logger:   logger,
		StopChan: make(chan struct{}),
	}
	for pair, rate := range FallbackRates() {
		t.rates[pair] = rate
	}
	t.updatedAt = time.Now().UTC()
	return t
}

// Set stores a single rate. Non-positive rates are ignored.
func (t *Table) Set(from, to string, rate decimal.Decimal) {
	if !rate.IsPositive() {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rates[Pair{From: strings.ToUpper(from), To: strings.ToUpper(to)}] = rate
}

// Rate returns the direct rate, or the reciprocal of the reverse rate.
func (t *Table) Rate(from, to string) (decimal.Decimal, error) {
	from, to = strings.ToUpper(from), strings.ToUpper(to)
	if from == to {
		return decimal.NewFromInt(1), nil
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	if rate, ok := t.rates[Pair{From: from, To: to}]; ok {
		return rate, nil
	}
	if reverse, ok := t.rates[Pair{From: to, To: from}]; ok && reverse.IsPositive() {
		return decimal.NewFromInt(1).DivRound(reverse, 16), nil
	}
	return decimal.Zero, apperrors.New(apperrors.KindConversionUnavailable, "no rate for %s to %s", from, to)
}

// Convert converts amount and rounds it to the target unit. Identity when from == to.
func (t *Table) Convert(amount decimal.Decimal, from, to string) (decimal.Decimal, error) {
	from, to = strings.ToUpper(from), strings.ToUpper(to)
	if from == to {
		return amount, nil
	}
	t.mu.RLock()
	direct, hasDirect := t.rates[Pair{From: from, To: to}]
	reverse, hasReverse := t.rates[Pair{From: to, To: from}]
	t.mu.RUnlock()

	switch {
	case hasDirect:
		return Round(amount.Mul(direct), to), nil
	case hasReverse && reverse.IsPositive():
		return Round(amount.DivRound(reverse, 16), to), nil
	}
	return decimal.Zero, apperrors.New(apperrors.KindConversionUnavailable, "no rate for %s to %s", from, to)
}

// Conversions converts amount into each target, skipping targets without a rate.
func (t *Table) Conversions(amount decimal.Decimal, from string, targets ...string) map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal, len(targets))
	for _, target := range targets {
		converted, err := t.Convert(amount, from, target)
		if err != nil {
			continue
		}
		out[strings.ToUpper(target)] = converted
	}
	return out
}

// Currencies lists every currency the table can convert.
func (t *Table) Currencies() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	seen := make(map[string]bool)
	for pair := range t.rates {
		seen[pair.From] = true
		seen[pair.To] = true
	}
	out := make([]string, 0, len(seen))
	for c := range seen {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

func (t *Table) Snapshot() Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	snap := Snapshot{
		Rates:       make(map[string]string, len(t.rates)),
		UpdatedAt:   t.updatedAt,
		LastAttempt: t.lastAttempt,
	}
	for pair, rate := range t.rates {
		snap.Rates[pair.String()] = rate.String()
	}
	if t.lastErr != nil {
		snap.LastError = t.lastErr.Error()
	}
	return snap
}

// Refresh pulls every source. Rates from a failing source are left untouched.
// The returned error is informational; the table stays usable either way.
func (t *Table) Refresh(ctx context.Context) error {
	var errs []error
	fetched := make(map[Pair]decimal.Decimal)
	for _, src := range t.sources {
		fetchCtx, cancel := context.WithTimeout(ctx, t.Timeout)
		rates, err := src.Fetch(fetchCtx)
		cancel()
		if err != nil {
			t.logger.WithFields(logrus.Fields{"source": src.Name()}).WithError(err).Warn("rate refresh failed, keeping previous rates")
			errs = append(errs, err)
			continue
		}
		for pair, rate := range rates {
			if rate.IsPositive() {
				fetched[pair] = rate
			}
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.lastAttempt = time.Now().UTC()
	t.lastErr = errors.Join(errs...)
	if len(fetched) > 0 {
		for pair, rate := range fetched {
			t.rates[pair] = rate
		}
		t.updatedAt = t.lastAttempt
		t.logger.WithField("pairs", len(fetched)).Info("exchange rates updated")
	}
	return t.lastErr
}

// Start refreshes once and then on every Interval until Stop.
func (t *Table) Start() {
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		_ = t.Refresh(context.Background())

		ticker := time.NewTicker(t.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				_ = t.Refresh(context.Background())
			case <-t.StopChan:
				return
			}
		}
	}()
	t.logger.Info("rate table refresher started")
}

func (t *Table) Stop() {
	close(t.StopChan)
	t.wg.Wait()
}
