package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/evetabi/racesettle/internal/config"
	"github.com/evetabi/racesettle/internal/domain"
	"github.com/evetabi/racesettle/internal/metrics"
	"github.com/shopspring/decimal"
)

// RebateRequest identifies one stake whose rebate pool should be distributed.
type RebateRequest struct {
	PeriodID      int64
	BetID         int64
	MemberID      int64
	DirectAgentID *int64
	Market        domain.MarketType
	Stake         decimal.Decimal
}

// RebateRequestFor builds the request for a bet.
func RebateRequestFor(bet *domain.Bet) RebateRequest {
	return RebateRequest{
		PeriodID:      bet.PeriodID,
		BetID:         bet.ID,
		MemberID:      bet.MemberID,
		DirectAgentID: bet.AgentID,
		Market:        bet.Market,
		Stake:         bet.Amount,
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// RebateService
// ──────────────────────────────────────────────────────────────────────────────

// RebateService walks a member's agent chain and credits each agent's cut of
// the stake's rebate pool. Every credit is keyed by (period, agent, bet), so a
// repeated call for the same bet writes nothing new.
type RebateService struct {
	agents  AgentStore
	ledger  Ledger
	metrics *metrics.Settlement
	maxHops int
	logger  *slog.Logger
}

// NewRebateService creates a RebateService.
func NewRebateService(
	agents AgentStore,
	ledger Ledger,
	m *metrics.Settlement,
	cfg *config.Config,
	logger *slog.Logger,
) *RebateService {
	return &RebateService{
		agents:  agents,
		ledger:  ledger,
		metrics: m,
		maxHops: cfg.Settlement.MaxHops,
		logger:  logger,
	}
}

// Distribute allocates and credits the rebate pool of one stake. It returns
// the transactions written by this call; cuts applied by an earlier call are
// skipped silently.
//
// A member without a direct agent has no chain and nothing is distributed.
// Chain errors (*CycleDetectedError, ErrChainTooDeep, missing agents) are
// returned before anything is credited.
func (s *RebateService) Distribute(ctx context.Context, req RebateRequest) ([]domain.Transaction, error) {
	if req.DirectAgentID == nil {
		return nil, nil
	}

	chain, err := domain.WalkChain(*req.DirectAgentID, s.maxHops, func(id int64) (*domain.Agent, error) {
		return s.agents.GetByID(ctx, id)
	})
	if err != nil {
		return nil, fmt.Errorf("rebate_service.Distribute: bet %d: %w", req.BetID, err)
	}

	market := req.Market
	if !market.IsValid() {
		market = chain[0].MarketType
	}
	alloc := domain.AllocateRebate(req.Stake, market, chain)

	var written []domain.Transaction
	for _, cut := range alloc.Cuts {
		if !cut.Amount.IsPositive() {
			continue
		}
		txn, err := s.ledger.CreditAgent(ctx, domain.Credit{
			UserType:       domain.UserAgent,
			UserID:         cut.AgentID,
			Type:           domain.TxRebate,
			Amount:         cut.Amount,
			PeriodID:       req.PeriodID,
			BetID:          req.BetID,
			IdempotencyKey: domain.RebateKey(req.PeriodID, cut.AgentID, req.BetID),
			Description:    fmt.Sprintf("rebate %s from member %d bet %d", cut.Mode, req.MemberID, req.BetID),
		})
		if errors.Is(err, domain.ErrAlreadyApplied) {
			continue
		}
		if err != nil {
			return written, fmt.Errorf("rebate_service.Distribute: credit agent %d: %w", cut.AgentID, err)
		}
		s.metrics.ObserveRebate(string(cut.Mode), cut.Amount)
		written = append(written, *txn)
	}

	if len(written) > 0 {
		s.logger.Debug("rebate distributed",
			"period", req.PeriodID, "bet", req.BetID,
			"pool", alloc.TotalPool.StringFixed(4),
			"credits", len(written), "retained", alloc.Retained.StringFixed(4))
	}
	return written, nil
}
