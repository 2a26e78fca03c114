/**
 * @description
 * This file contains the fee calculation engine for the payment-service. The
 * `Engine` converts between the amount the payer is charged (gross) and the
 * amount the seller receives (net) under the provider and platform fee
 * schedules, and produces an immutable fee snapshot for audit.
 *
 * Key features:
 * - Net -> gross inversion with a guarantee the seller never receives less
 *   than requested, even across three independent ceiling roundings.
 * - Gross -> net direct computation with a floor on the resulting net amount.
 * - Cart totals with a per-line breakdown.
 * - Hard-coded default schedules per provider as a logged fallback when no
 *   configuration row matches.
 *
 * @dependencies
 * - context, errors, fmt, log, math, time: Standard Go libraries.
 * - github.com/google/uuid: For cart service identifiers.
 * - internal/domain: For the service's domain models.
 */

package pricing

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/paylink/payment-service/internal/domain"
)

var (
	ErrInvalidAmount           = errors.New("amount must be an integer between 100 and 10000000 FCFA")
	ErrInvalidFeeConfiguration = errors.New("invalid fee configuration")
	ErrAmountTooSmall          = errors.New("amount too small to cover fees")
	ErrInvalidCartItem         = errors.New("one or more cart items are invalid or inactive")
	ErrUnknownProvider         = errors.New("unknown payment provider")
)

const (
	// Amount bounds in whole FCFA.
	MinAmount = 100
	MaxAmount = 10_000_000

	// maxGrossAdjustments bounds the +1 gross fix-up loop in net mode. In
	// practice one extra iteration suffices; the cap guards against a broken
	// schedule turning the loop infinite.
	maxGrossAdjustments = 8
)

// defaultSchedules are the hard-coded fallback fee parameters used when no
// configuration row matches a (provider, amount) pair. Version 0 marks a
// fallback snapshot.
var defaultSchedules = map[string]domain.FeeSchedule{
	domain.ProviderOrangeMoney: {
		Provider:           domain.ProviderOrangeMoney,
		FixedFee:           0,
		PercentageFee:      0.015, // 1.5% Orange fee
		PlatformFixedFee:   0,
		PlatformPercentage: 0.02, // 2% platform margin
		Version:            0,
	},
	domain.ProviderMTNMoMo: {
		Provider:           domain.ProviderMTNMoMo,
		FixedFee:           0,
		PercentageFee:      0.015, // 1.5% MTN fee
		PlatformFixedFee:   0,
		PlatformPercentage: 0.02, // 2% platform margin
		Version:            0,
	},
}

// ScheduleSource resolves the active fee schedule for a provider and amount.
// The store's fee schedule table satisfies this interface.
type ScheduleSource interface {
	FindActiveFeeSchedule(ctx context.Context, provider string, amount int64) (*domain.FeeSchedule, error)
}

// ServiceSource resolves sellable services for cart calculations.
type ServiceSource interface {
	FindActiveServicesByIDs(ctx context.Context, ids []uuid.UUID) ([]domain.Service, error)
}

// ErrFeeScheduleNotFound is returned by a ScheduleSource when no active row
// matches; the engine then falls back to the provider defaults.
var ErrFeeScheduleNotFound = errors.New("fee schedule not found")

// Engine performs all price calculations. Given a resolved schedule both
// public operations are pure: two calls with identical (amount, provider,
// schedule version) return identical numbers.
type Engine struct {
	schedules ScheduleSource
	services  ServiceSource
}

// NewEngine creates a new fee calculation engine.
func NewEngine(schedules ScheduleSource, services ServiceSource) *Engine {
	return &Engine{schedules: schedules, services: services}
}

// CalculateFromNet computes the gross amount a payer must be charged so the
// seller receives at least netAmount after all fees.
//
// The inversion: net = gross - (gross*providerPct + providerFixed)
//                           - (gross*platformPct + platformFixed)
// gives gross = (net + totalFixed) / (1 - totalPct), rounded up. Exact fees
// are then re-derived from the rounded gross; if the three ceilings conspire
// to push the actual net below the request, the gross is bumped by one and
// re-derived, bounded by maxGrossAdjustments.
func (e *Engine) CalculateFromNet(ctx context.Context, netAmount int64, provider string) (*domain.PriceCalculation, error) {
	if err := validateAmount(netAmount); err != nil {
		return nil, err
	}

	fees, err := e.feesForProvider(ctx, provider, netAmount)
	if err != nil {
		return nil, err
	}

	totalPct := fees.PercentageFee + fees.PlatformPercentage
	totalFixed := fees.FixedFee + fees.PlatformFixedFee
	if totalPct >= 1 {
		return nil, fmt.Errorf("%w: total percentage %.4f >= 100%%", ErrInvalidFeeConfiguration, totalPct)
	}

	gross := int64(math.Ceil(float64(netAmount+totalFixed) / (1 - totalPct)))

	for attempt := 0; attempt <= maxGrossAdjustments; attempt++ {
		providerFee, platformFee := deriveFees(gross, fees)
		actualNet := gross - providerFee - platformFee
		if actualNet >= netAmount {
			return buildCalculation(gross, actualNet, providerFee, platformFee, fees), nil
		}
		gross++
	}

	return nil, fmt.Errorf("%w: net guarantee not reached after %d gross adjustments (provider=%s net=%d)",
		ErrInvalidFeeConfiguration, maxGrossAdjustments, provider, netAmount)
}

// CalculateFromGross computes what the seller receives when the payer is
// charged exactly grossAmount. Fails with ErrAmountTooSmall when the schedule
// would consume the entire payment or more.
func (e *Engine) CalculateFromGross(ctx context.Context, grossAmount int64, provider string) (*domain.PriceCalculation, error) {
	if err := validateAmount(grossAmount); err != nil {
		return nil, err
	}

	fees, err := e.feesForProvider(ctx, provider, grossAmount)
	if err != nil {
		return nil, err
	}

	providerFee, platformFee := deriveFees(grossAmount, fees)
	net := grossAmount - providerFee - platformFee
	if net <= 0 {
		return nil, fmt.Errorf("%w: seller would receive %d FCFA after fees", ErrAmountTooSmall, net)
	}

	return buildCalculation(grossAmount, net, providerFee, platformFee, fees), nil
}

// CalculateCart sums each line's net unit price times quantity and delegates
// to CalculateFromNet on the total, returning the per-line breakdown for
// display. Missing or inactive services reject the whole cart.
func (e *Engine) CalculateCart(ctx context.Context, items []domain.CartItem, provider string) (*domain.CartCalculation, error) {
	if len(items) == 0 {
		return nil, fmt.Errorf("%w: empty cart", ErrInvalidCartItem)
	}

	ids := make([]uuid.UUID, 0, len(items))
	for _, item := range items {
		if item.Quantity <= 0 {
			return nil, fmt.Errorf("%w: quantity must be positive for service %s", ErrInvalidCartItem, item.ServiceID)
		}
		ids = append(ids, item.ServiceID)
	}

	services, err := e.services.FindActiveServicesByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("resolve cart services: %w", err)
	}
	byID := make(map[uuid.UUID]domain.Service, len(services))
	for _, svc := range services {
		byID[svc.ID] = svc
	}

	var totalNet int64
	lines := make([]domain.CartLine, 0, len(items))
	for _, item := range items {
		svc, ok := byID[item.ServiceID]
		if !ok {
			return nil, fmt.Errorf("%w: service %s", ErrInvalidCartItem, item.ServiceID)
		}
		subtotal := svc.NetPrice * int64(item.Quantity)
		totalNet += subtotal
		lines = append(lines, domain.CartLine{
			ServiceID: svc.ID,
			Quantity:  item.Quantity,
			UnitPrice: svc.NetPrice,
			Subtotal:  subtotal,
		})
	}

	calc, err := e.CalculateFromNet(ctx, totalNet, provider)
	if err != nil {
		return nil, err
	}

	return &domain.CartCalculation{PriceCalculation: *calc, CartDetails: lines}, nil
}

// feesForProvider resolves the active schedule for (provider, amount), falling
// back to the hard-coded defaults when no row matches. The fallback indicates
// missing configuration, so it is always logged.
func (e *Engine) feesForProvider(ctx context.Context, provider string, amount int64) (*domain.FeeSchedule, error) {
	schedule, err := e.schedules.FindActiveFeeSchedule(ctx, provider, amount)
	if err == nil {
		return schedule, nil
	}
	if !errors.Is(err, ErrFeeScheduleNotFound) {
		return nil, fmt.Errorf("resolve fee schedule: %w", err)
	}

	fallback, ok := defaultSchedules[provider]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, provider)
	}
	log.Printf("level=warn component=pricing msg=\"no fee schedule configured; using defaults\" provider=%s amount=%d", provider, amount)
	return &fallback, nil
}

// deriveFees computes the exact provider and platform fees for a fixed gross
// amount, each rounded up independently.
func deriveFees(gross int64, fees *domain.FeeSchedule) (providerFee, platformFee int64) {
	providerFee = int64(math.Ceil(float64(gross)*fees.PercentageFee)) + fees.FixedFee
	platformFee = int64(math.Ceil(float64(gross)*fees.PlatformPercentage)) + fees.PlatformFixedFee
	return providerFee, platformFee
}

func buildCalculation(gross, net, providerFee, platformFee int64, fees *domain.FeeSchedule) *domain.PriceCalculation {
	return &domain.PriceCalculation{
		GrossAmount: gross,
		NetAmount:   net,
		ProviderFee: providerFee,
		PlatformFee: platformFee,
		TotalFees:   providerFee + platformFee,
		Provider:    fees.Provider,
		Currency:    domain.Currency,
		FeeSnapshot: domain.FeeSnapshot{
			Provider:           fees.Provider,
			ProviderFixedFee:   fees.FixedFee,
			ProviderPercentage: fees.PercentageFee,
			PlatformFixedFee:   fees.PlatformFixedFee,
			PlatformPercentage: fees.PlatformPercentage,
			FeeVersion:         fees.Version,
			CalculatedAt:       time.Now().UTC(),
		},
	}
}

func validateAmount(amount int64) error {
	if amount < MinAmount || amount > MaxAmount {
		return fmt.Errorf("%w: got %d", ErrInvalidAmount, amount)
	}
	return nil
}
