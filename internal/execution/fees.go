package execution

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/blocto/solana-go-sdk/common"
	"github.com/blocto/solana-go-sdk/program/compute_budget"
	"github.com/blocto/solana-go-sdk/types"
)

// PriorityTier selects the per-compute-unit priority fee.
type PriorityTier string

const (
	TierNone    PriorityTier = "none"
	TierLow     PriorityTier = "low"
	TierMedium  PriorityTier = "medium"
	TierHigh    PriorityTier = "high"
	TierDynamic PriorityTier = "dynamic"
)

// Fixed tier prices in micro-lamports per compute unit.
var tierPrice = map[PriorityTier]uint64{
	TierNone:   0,
	TierLow:    1_000,
	TierMedium: 10_000,
	TierHigh:   100_000,
}

// ParsePriorityTier validates a tier name.
func ParsePriorityTier(s string) (PriorityTier, error) {
	t := PriorityTier(s)
	if _, ok := tierPrice[t]; ok || t == TierDynamic {
		return t, nil
	}
	return "", fmt.Errorf("execution: unknown priority tier %q", s)
}

// Compute unit bounds.
const (
	MaxComputeUnits     uint32 = 1_400_000
	DefaultComputeUnits uint32 = 200_000
	dynamicPercentile          = 75
	feeCacheTTL                = 10 * time.Second
)

// AddFeeInstructions prepends a compute unit limit and a compute unit price
// to ixs. Estimation failures degrade to the default limit and the medium
// tier; this never fails.
func (s *Service) AddFeeInstructions(ctx context.Context, ixs []types.Instruction, payer common.PublicKey) []types.Instruction {
	units := s.computeUnits(ctx, ixs, payer)
	price := s.priorityFee(ctx, ixs)

	out := make([]types.Instruction, 0, len(ixs)+2)
	out = append(out,
		compute_budget.SetComputeUnitLimit(compute_budget.SetComputeUnitLimitParam{Units: units}),
		compute_budget.SetComputeUnitPrice(compute_budget.SetComputeUnitPriceParam{MicroLamports: price}),
	)
	return append(out, ixs...)
}

func (s *Service) computeUnits(ctx context.Context, ixs []types.Instruction, payer common.PublicKey) uint32 {
	if s.cfg.ComputeUnitLimit > 0 {
		return min(s.cfg.ComputeUnitLimit, MaxComputeUnits)
	}

	// Simulate with the budget instructions in place so their own cost is
	// counted. The node replaces the blockhash.
	probe := append([]types.Instruction{
		compute_budget.SetComputeUnitLimit(compute_budget.SetComputeUnitLimitParam{Units: MaxComputeUnits}),
		compute_budget.SetComputeUnitPrice(compute_budget.SetComputeUnitPriceParam{MicroLamports: 0}),
	}, ixs...)

	blockhash, err := s.ledger.LatestBlockhash(ctx)
	if err != nil {
		s.logger.WarnContext(ctx, "compute unit simulation skipped", slog.String("error", err.Error()))
		return DefaultComputeUnits
	}
	msg := types.NewMessage(types.NewMessageParam{
		FeePayer:        payer,
		Instructions:    probe,
		RecentBlockhash: blockhash,
	})
	tx, err := types.NewTransaction(types.NewTransactionParam{Message: msg})
	if err != nil {
		return DefaultComputeUnits
	}
	sim, err := s.ledger.SimulateTransaction(ctx, tx)
	if err != nil || sim.UnitsConsumed == 0 {
		if err != nil {
			s.logger.WarnContext(ctx, "compute unit simulation failed", slog.String("error", err.Error()))
		}
		return DefaultComputeUnits
	}

	margin := s.cfg.ComputeUnitMargin
	if margin < 1 {
		margin = 1
	}
	est := math.Ceil(float64(sim.UnitsConsumed) * margin)
	if est >= float64(MaxComputeUnits) {
		return MaxComputeUnits
	}
	return uint32(est)
}

func (s *Service) priorityFee(ctx context.Context, ixs []types.Instruction) uint64 {
	if s.cfg.Priority != TierDynamic {
		if p, ok := tierPrice[s.cfg.Priority]; ok {
			return p
		}
		return tierPrice[TierMedium]
	}

	accounts := writableAccounts(ixs)
	key := feeKey(accounts)
	if s.fees != nil {
		if fee, ok, err := s.fees.GetFee(ctx, key); err == nil && ok {
			return fee
		}
	}

	samples, err := s.ledger.RecentPrioritizationFees(ctx, accounts)
	if err != nil || len(samples) == 0 {
		if err != nil {
			s.logger.WarnContext(ctx, "priority fee lookup failed, using medium tier",
				slog.String("error", err.Error()))
		}
		return tierPrice[TierMedium]
	}

	fee := percentile(samples, dynamicPercentile)
	if s.cfg.MaxPriorityFee > 0 && fee > s.cfg.MaxPriorityFee {
		fee = s.cfg.MaxPriorityFee
	}
	if s.fees != nil {
		if err := s.fees.SetFee(ctx, key, fee, feeCacheTTL); err != nil {
			s.logger.DebugContext(ctx, "fee cache write failed", slog.String("error", err.Error()))
		}
	}
	return fee
}

// percentile returns the nearest-rank p-th percentile of samples.
func percentile(samples []uint64, p int) uint64 {
	sorted := append([]uint64(nil), samples...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	rank := int(math.Ceil(float64(p) / 100 * float64(len(sorted))))
	if rank < 1 {
		rank = 1
	}
	return sorted[rank-1]
}

func writableAccounts(ixs []types.Instruction) []common.PublicKey {
	seen := make(map[common.PublicKey]struct{})
	var out []common.PublicKey
	for _, ix := range ixs {
		for _, m := range ix.Accounts {
			if !m.IsWritable {
				continue
			}
			if _, ok := seen[m.PubKey]; ok {
				continue
			}
			seen[m.PubKey] = struct{}{}
			out = append(out, m.PubKey)
		}
	}
	return out
}

func feeKey(accounts []common.PublicKey) string {
	keys := make([]string, len(accounts))
	for i, a := range accounts {
		keys[i] = a.ToBase58()
	}
	sort.Strings(keys)
	h := sha256.New()
	for _, k := range keys {
		h.Write([]byte(k))
	}
	return hex.EncodeToString(h.Sum(nil)[:16])
}
