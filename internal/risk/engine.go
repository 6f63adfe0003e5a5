package risk

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/pkozlov/bankledger/internal/config"
	"github.com/pkozlov/bankledger/internal/ledger"
	"github.com/pkozlov/bankledger/internal/logging"
)

// HistoryStore supplies the sender's trailing transaction history. The
// ledger stores satisfy it.
type HistoryStore interface {
	ListByUserSince(ctx context.Context, userID string, since time.Time) ([]*ledger.Transaction, error)
}

// Assessment is the result of scoring one transfer.
type Assessment struct {
	Score        float64
	NeedsReview  bool
	Factors      map[string]any
	ModelVersion string
}

// Engine computes risk scores from weighted signals over the sender's
// recent history.
type Engine struct {
	cfg     config.RiskConfig
	history HistoryStore
}

// NewEngine creates a scoring engine.
func NewEngine(cfg config.RiskConfig, history HistoryStore) *Engine {
	return &Engine{cfg: cfg, history: history}
}

// Evaluate scores a transfer. It never returns an error: when scoring
// itself fails the engine fails closed with a conservative 0.8 score and
// a review requirement. All time-dependent signals use one evaluation
// timestamp frozen at the start of the call.
func (e *Engine) Evaluate(ctx context.Context, tx *ledger.Transaction) Assessment {
	now := tx.CreatedAt
	if now.IsZero() {
		now = time.Now()
	}

	history, err := e.loadHistory(ctx, tx, now)
	if err != nil {
		logging.L(ctx).Error("risk history unavailable, failing closed",
			"reference", tx.Reference, "error", err)
		return Assessment{
			Score:        0.8,
			NeedsReview:  true,
			Factors:      map[string]any{"error": err.Error()},
			ModelVersion: ModelVersion,
		}
	}

	amount, _ := tx.Amount.Float64()
	recent := recentWindow(history, now)
	freqScore, velocityScore, combined := velocitySignals(amount, recent, e.cfg)

	signals := map[string]float64{
		"amount":          e.amountSignal(amount, history),
		"time":            e.timeSignal(now),
		"frequency":       freqScore,
		"pattern":         e.patternSignal(amount, history, combined),
		"velocity_amount": velocityScore,
	}
	weights := map[string]float64{
		"amount":          e.cfg.AmountWeight,
		"time":            e.cfg.TimeWeight,
		"frequency":       e.cfg.FrequencyWeight,
		"pattern":         e.cfg.PatternWeight,
		"velocity_amount": e.cfg.VelocityWeight,
	}

	base := 0.0
	for name, score := range signals {
		base += score * weights[name]
	}

	// A large amount arriving in a burst is the classic takeover shape;
	// the combination scores higher than the weighted sum would.
	final := base
	if signals["amount"] > 0.7 && signals["frequency"] > 0.7 {
		final = math.Max(base, 0.9)
	}
	final = round2(final)

	return Assessment{
		Score:        final,
		NeedsReview:  final >= e.cfg.ReviewThreshold,
		Factors:      e.explain(signals, weights, final, amount, now, recent),
		ModelVersion: ModelVersion,
	}
}

// loadHistory returns the sender's transactions in the analysis window,
// oldest first, excluding the transaction being scored.
func (e *Engine) loadHistory(ctx context.Context, tx *ledger.Transaction, now time.Time) ([]*ledger.Transaction, error) {
	since := now.AddDate(0, 0, -e.cfg.HistoryWindowDays)
	all, err := e.history.ListByUserSince(ctx, tx.UserID, since)
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for _, h := range all {
		if h.ID != tx.ID {
			out = append(out, h)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func recentWindow(history []*ledger.Transaction, now time.Time) []*ledger.Transaction {
	cutoff := now.Add(-24 * time.Hour)
	var out []*ledger.Transaction
	for _, h := range history {
		if !h.CreatedAt.Before(cutoff) {
			out = append(out, h)
		}
	}
	return out
}

// amountSignal is the larger of the absolute-size risk and the
// deviation-from-average risk.
func (e *Engine) amountSignal(amount float64, history []*ledger.Transaction) float64 {
	avg := amount
	if len(history) > 0 {
		sum := 0.0
		for _, h := range history {
			v, _ := h.Amount.Float64()
			sum += v
		}
		avg = sum / float64(len(history))
	}

	ratio := 1.0
	if avg != 0 {
		ratio = amount / avg
	}

	baseRisk := math.Min(1, ratio/5)
	sizeRisk := math.Min(1, amount/e.cfg.HighAmountThreshold)
	return math.Max(baseRisk, sizeRisk)
}

// timeSignal blends hour-of-day and day-of-week risk.
func (e *Engine) timeSignal(now time.Time) float64 {
	hour := now.Hour()
	var hourRisk float64
	switch {
	case hour >= e.cfg.BankingHourStart && hour <= e.cfg.BankingHourEnd:
		hourRisk = 0.1
	case hour < 6 || hour > 22:
		hourRisk = 0.9
	default:
		hourRisk = 0.5
	}

	// Monday is 0 so the weekend carries the most weekday risk.
	weekday := float64((int(now.Weekday())+6)%7) / 6

	return hourRisk*0.7 + weekday*0.3
}

// velocitySignals returns the 24h frequency score, the 24h volume score,
// and their combination.
func velocitySignals(amount float64, recent []*ledger.Transaction, cfg config.RiskConfig) (freq, velocity, combined float64) {
	if len(recent) == 0 {
		return 0, 0, 0
	}

	freq = math.Min(1, float64(len(recent))/float64(cfg.FrequencyThreshold))

	volume := amount
	for _, h := range recent {
		v, _ := h.Amount.Float64()
		volume += v
	}
	velocity = math.Min(1, volume/cfg.VelocityThreshold)

	if freq > 0.7 && velocity > 0.7 {
		combined = 1.0
	} else {
		combined = (freq + velocity) / 2
	}
	return freq, velocity, combined
}

// patternSignal combines structuring indicators: suspiciously round
// amounts, repeats of the same amount, and burst velocity.
func (e *Engine) patternSignal(amount float64, history []*ledger.Transaction, velocityCombined float64) float64 {
	if len(history) == 0 {
		return 0.5
	}
	round := roundAmountSignal(amount)
	repeated := repeatedAmountSignal(amount, history)
	return round*0.2 + repeated*0.2 + velocityCombined*0.6
}

func roundAmountSignal(amount float64) float64 {
	isRound := amount == math.Trunc(amount)

	intStr := fmt.Sprintf("%d", int64(math.Trunc(amount)))
	zeros := len(intStr) - len(strings.TrimRight(intStr, "0"))

	score := float64(zeros) * 0.2
	if isRound {
		score += 0.3
	}
	return math.Min(1, score)
}

func repeatedAmountSignal(amount float64, history []*ledger.Transaction) float64 {
	same := 0
	for _, h := range history {
		v, _ := h.Amount.Float64()
		if math.Abs(v-amount) < 0.01 {
			same++
		}
	}
	return math.Min(1, float64(same)/float64(len(history)))
}

// explain builds the per-signal breakdown persisted with the score and
// returned to the caller on a hold.
func (e *Engine) explain(signals, weights map[string]float64, final, amount float64, now time.Time, recent []*ledger.Transaction) map[string]any {
	factors := make(map[string]any, len(signals)+2)
	for name, score := range signals {
		factors[name] = map[string]any{
			"score":        round2(score),
			"weight":       weights[name],
			"contribution": round2(score * weights[name]),
		}
	}

	var triggers []string
	if final > e.cfg.ReviewThreshold {
		if signals["amount"] > 0.7 {
			triggers = append(triggers, "high_amount")
		}
		if signals["frequency"] > 0.7 {
			triggers = append(triggers, "high_frequency")
		}
		if signals["velocity_amount"] > 0.7 {
			triggers = append(triggers, "high_velocity")
		}
	}
	factors["risk_triggers"] = map[string]any{
		"triggers":  triggers,
		"score":     final,
		"threshold": e.cfg.ReviewThreshold,
	}

	volume := 0.0
	for _, h := range recent {
		v, _ := h.Amount.Float64()
		volume += v
	}
	factors["transaction_summary"] = map[string]any{
		"amount":                fmt.Sprintf("%.2f", amount),
		"time":                  now.Format("2006-01-02 15:04:05"),
		"24h_total_volume":      fmt.Sprintf("%.2f", volume),
		"24h_transaction_count": len(recent),
	}
	return factors
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
