package pricing

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/paylink/payment-service/internal/domain"
)

// stubScheduleSource returns a fixed schedule per provider, or the configured
// error for every lookup.
type stubScheduleSource struct {
	schedules map[string]*domain.FeeSchedule
	err       error
}

func (s *stubScheduleSource) FindActiveFeeSchedule(_ context.Context, provider string, _ int64) (*domain.FeeSchedule, error) {
	if s.err != nil {
		return nil, s.err
	}
	if schedule, ok := s.schedules[provider]; ok {
		return schedule, nil
	}
	return nil, ErrFeeScheduleNotFound
}

type stubServiceSource struct {
	services []domain.Service
	err      error
}

func (s *stubServiceSource) FindActiveServicesByIDs(_ context.Context, _ []uuid.UUID) ([]domain.Service, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.services, nil
}

// standardSchedules mirrors the production fee bands: Orange Money at
// 1.5% + 2% platform, MTN MoMo at 100 FCFA fixed + 1% + 2% platform.
func standardSchedules() map[string]*domain.FeeSchedule {
	return map[string]*domain.FeeSchedule{
		domain.ProviderOrangeMoney: {
			Provider:           domain.ProviderOrangeMoney,
			MinAmount:          100,
			MaxAmount:          10_000_000,
			FixedFee:           0,
			PercentageFee:      0.015,
			PlatformFixedFee:   0,
			PlatformPercentage: 0.02,
			Version:            1,
			IsActive:           true,
		},
		domain.ProviderMTNMoMo: {
			Provider:           domain.ProviderMTNMoMo,
			MinAmount:          100,
			MaxAmount:          10_000_000,
			FixedFee:           100,
			PercentageFee:      0.01,
			PlatformFixedFee:   0,
			PlatformPercentage: 0.02,
			Version:            1,
			IsActive:           true,
		},
	}
}

func newTestEngine() *Engine {
	return NewEngine(&stubScheduleSource{schedules: standardSchedules()}, &stubServiceSource{})
}

func TestCalculateFromNetOrangeMoney(t *testing.T) {
	engine := newTestEngine()

	// 1.5% + 2% on net 10 000: the raw inversion gives 10 363, the ceilings
	// leave the seller one franc short, and the +1 adjustment lands on 10 364.
	calc, err := engine.CalculateFromNet(context.Background(), 10_000, domain.ProviderOrangeMoney)
	if err != nil {
		t.Fatalf("CalculateFromNet returned error: %v", err)
	}

	if calc.GrossAmount != 10_364 {
		t.Errorf("expected gross 10364, got %d", calc.GrossAmount)
	}
	if calc.NetAmount != 10_000 {
		t.Errorf("expected net 10000, got %d", calc.NetAmount)
	}
	if calc.ProviderFee != 156 {
		t.Errorf("expected provider fee 156, got %d", calc.ProviderFee)
	}
	if calc.PlatformFee != 208 {
		t.Errorf("expected platform fee 208, got %d", calc.PlatformFee)
	}
	if calc.Currency != domain.Currency {
		t.Errorf("expected currency %s, got %s", domain.Currency, calc.Currency)
	}
}

func TestCalculateFromNetMTNFixedFee(t *testing.T) {
	engine := newTestEngine()

	calc, err := engine.CalculateFromNet(context.Background(), 50_000, domain.ProviderMTNMoMo)
	if err != nil {
		t.Fatalf("CalculateFromNet returned error: %v", err)
	}

	if calc.NetAmount < 50_000 {
		t.Errorf("seller must receive at least 50000, got %d", calc.NetAmount)
	}
	if calc.ProviderFee < 100 {
		t.Errorf("provider fee must include the 100 FCFA fixed part, got %d", calc.ProviderFee)
	}
	if calc.GrossAmount != calc.NetAmount+calc.ProviderFee+calc.PlatformFee {
		t.Errorf("gross %d != net %d + fees %d + %d", calc.GrossAmount, calc.NetAmount, calc.ProviderFee, calc.PlatformFee)
	}
}

func TestNetGuaranteeAcrossAmounts(t *testing.T) {
	engine := newTestEngine()

	amounts := []int64{100, 500, 1_000, 5_000, 10_000, 25_000, 50_000, 100_000, 500_000, 10_000_000}
	for _, provider := range []string{domain.ProviderOrangeMoney, domain.ProviderMTNMoMo} {
		for _, amount := range amounts {
			calc, err := engine.CalculateFromNet(context.Background(), amount, provider)
			if err != nil {
				t.Fatalf("CalculateFromNet(%d, %s) returned error: %v", amount, provider, err)
			}
			if calc.NetAmount < amount {
				t.Errorf("%s net %d: seller receives %d, less than requested", provider, amount, calc.NetAmount)
			}
			if calc.GrossAmount != calc.NetAmount+calc.ProviderFee+calc.PlatformFee {
				t.Errorf("%s net %d: amounts do not reconcile", provider, amount)
			}
			if calc.ProviderFee < 0 || calc.PlatformFee < 0 {
				t.Errorf("%s net %d: negative fee", provider, amount)
			}
		}
	}
}

func TestCalculationIsDeterministic(t *testing.T) {
	engine := newTestEngine()

	first, err := engine.CalculateFromNet(context.Background(), 10_000, domain.ProviderOrangeMoney)
	if err != nil {
		t.Fatalf("first calculation failed: %v", err)
	}
	second, err := engine.CalculateFromNet(context.Background(), 10_000, domain.ProviderOrangeMoney)
	if err != nil {
		t.Fatalf("second calculation failed: %v", err)
	}

	if first.GrossAmount != second.GrossAmount || first.NetAmount != second.NetAmount ||
		first.ProviderFee != second.ProviderFee || first.PlatformFee != second.PlatformFee {
		t.Errorf("identical inputs produced different results: %+v vs %+v", first, second)
	}
}

func TestCalculateFromGross(t *testing.T) {
	engine := newTestEngine()

	calc, err := engine.CalculateFromGross(context.Background(), 10_000, domain.ProviderOrangeMoney)
	if err != nil {
		t.Fatalf("CalculateFromGross returned error: %v", err)
	}

	if calc.GrossAmount != 10_000 {
		t.Errorf("gross mode must keep the input amount, got %d", calc.GrossAmount)
	}
	if calc.NetAmount <= 0 || calc.NetAmount >= calc.GrossAmount {
		t.Errorf("net %d out of range for gross 10000", calc.NetAmount)
	}
	if calc.GrossAmount != calc.NetAmount+calc.ProviderFee+calc.PlatformFee {
		t.Errorf("amounts do not reconcile: %+v", calc)
	}
}

func TestGrossNetRoundTrip(t *testing.T) {
	engine := newTestEngine()

	netCalc, err := engine.CalculateFromNet(context.Background(), 25_000, domain.ProviderMTNMoMo)
	if err != nil {
		t.Fatalf("CalculateFromNet returned error: %v", err)
	}
	grossCalc, err := engine.CalculateFromGross(context.Background(), netCalc.GrossAmount, domain.ProviderMTNMoMo)
	if err != nil {
		t.Fatalf("CalculateFromGross returned error: %v", err)
	}

	if grossCalc.NetAmount != netCalc.NetAmount {
		t.Errorf("round trip changed the net amount: %d -> %d", netCalc.NetAmount, grossCalc.NetAmount)
	}
	if grossCalc.ProviderFee != netCalc.ProviderFee || grossCalc.PlatformFee != netCalc.PlatformFee {
		t.Errorf("round trip changed the fees: %+v vs %+v", netCalc, grossCalc)
	}
}

func TestGrossModeAmountTooSmall(t *testing.T) {
	// A confiscatory schedule: 500 + 50% provider, 500 + 40% platform. Fees
	// exceed any payment of 100 FCFA.
	schedules := &stubScheduleSource{schedules: map[string]*domain.FeeSchedule{
		domain.ProviderOrangeMoney: {
			Provider:           domain.ProviderOrangeMoney,
			FixedFee:           500,
			PercentageFee:      0.5,
			PlatformFixedFee:   500,
			PlatformPercentage: 0.4,
			Version:            2,
		},
	}}
	engine := NewEngine(schedules, &stubServiceSource{})

	_, err := engine.CalculateFromGross(context.Background(), 100, domain.ProviderOrangeMoney)
	if !errors.Is(err, ErrAmountTooSmall) {
		t.Fatalf("expected ErrAmountTooSmall, got %v", err)
	}
}

func TestNetModePercentageAtOrAboveOneHundred(t *testing.T) {
	schedules := &stubScheduleSource{schedules: map[string]*domain.FeeSchedule{
		domain.ProviderOrangeMoney: {
			Provider:           domain.ProviderOrangeMoney,
			PercentageFee:      0.6,
			PlatformPercentage: 0.5,
			Version:            3,
		},
	}}
	engine := NewEngine(schedules, &stubServiceSource{})

	_, err := engine.CalculateFromNet(context.Background(), 10_000, domain.ProviderOrangeMoney)
	if !errors.Is(err, ErrInvalidFeeConfiguration) {
		t.Fatalf("expected ErrInvalidFeeConfiguration, got %v", err)
	}
}

func TestAmountBounds(t *testing.T) {
	engine := newTestEngine()
	ctx := context.Background()

	if _, err := engine.CalculateFromNet(ctx, 99, domain.ProviderOrangeMoney); !errors.Is(err, ErrInvalidAmount) {
		t.Errorf("net 99: expected ErrInvalidAmount, got %v", err)
	}
	if _, err := engine.CalculateFromNet(ctx, 10_000_001, domain.ProviderOrangeMoney); !errors.Is(err, ErrInvalidAmount) {
		t.Errorf("net 10000001: expected ErrInvalidAmount, got %v", err)
	}
	if _, err := engine.CalculateFromNet(ctx, 100, domain.ProviderOrangeMoney); err != nil {
		t.Errorf("net 100 must be accepted, got %v", err)
	}
	if _, err := engine.CalculateFromNet(ctx, 10_000_000, domain.ProviderOrangeMoney); err != nil {
		t.Errorf("net 10000000 must be accepted, got %v", err)
	}
	if _, err := engine.CalculateFromGross(ctx, 99, domain.ProviderOrangeMoney); !errors.Is(err, ErrInvalidAmount) {
		t.Errorf("gross 99: expected ErrInvalidAmount, got %v", err)
	}
}

func TestMTNFixedFeeDominatesSmallAmounts(t *testing.T) {
	engine := newTestEngine()
	ctx := context.Background()

	orange, err := engine.CalculateFromNet(ctx, 1_000, domain.ProviderOrangeMoney)
	if err != nil {
		t.Fatalf("orange calculation failed: %v", err)
	}
	mtn, err := engine.CalculateFromNet(ctx, 1_000, domain.ProviderMTNMoMo)
	if err != nil {
		t.Fatalf("mtn calculation failed: %v", err)
	}

	// MTN carries a 100 FCFA fixed fee, so small payments cost the payer more.
	if mtn.GrossAmount <= orange.GrossAmount {
		t.Errorf("expected MTN gross (%d) > Orange gross (%d) at net 1000", mtn.GrossAmount, orange.GrossAmount)
	}
}

func TestFallbackToDefaultSchedules(t *testing.T) {
	engine := NewEngine(&stubScheduleSource{err: ErrFeeScheduleNotFound}, &stubServiceSource{})

	calc, err := engine.CalculateFromNet(context.Background(), 10_000, domain.ProviderOrangeMoney)
	if err != nil {
		t.Fatalf("CalculateFromNet with fallback returned error: %v", err)
	}
	if calc.FeeSnapshot.FeeVersion != 0 {
		t.Errorf("fallback snapshot must carry version 0, got %d", calc.FeeSnapshot.FeeVersion)
	}
	if calc.NetAmount < 10_000 {
		t.Errorf("fallback schedule broke the net guarantee: %d", calc.NetAmount)
	}
}

func TestUnknownProviderRejected(t *testing.T) {
	engine := NewEngine(&stubScheduleSource{err: ErrFeeScheduleNotFound}, &stubServiceSource{})

	_, err := engine.CalculateFromNet(context.Background(), 10_000, "paypal")
	if !errors.Is(err, ErrUnknownProvider) {
		t.Fatalf("expected ErrUnknownProvider, got %v", err)
	}
}

func TestScheduleSourceFailurePropagates(t *testing.T) {
	dbErr := errors.New("connection refused")
	engine := NewEngine(&stubScheduleSource{err: dbErr}, &stubServiceSource{})

	_, err := engine.CalculateFromNet(context.Background(), 10_000, domain.ProviderOrangeMoney)
	if !errors.Is(err, dbErr) {
		t.Fatalf("expected wrapped source error, got %v", err)
	}
}

func TestFeeSnapshotIsComplete(t *testing.T) {
	engine := newTestEngine()

	calc, err := engine.CalculateFromNet(context.Background(), 10_000, domain.ProviderOrangeMoney)
	if err != nil {
		t.Fatalf("CalculateFromNet returned error: %v", err)
	}

	snap := calc.FeeSnapshot
	if snap.Provider != domain.ProviderOrangeMoney {
		t.Errorf("snapshot provider: got %s", snap.Provider)
	}
	if snap.ProviderPercentage != 0.015 || snap.PlatformPercentage != 0.02 {
		t.Errorf("snapshot percentages: got %v / %v", snap.ProviderPercentage, snap.PlatformPercentage)
	}
	if snap.FeeVersion != 1 {
		t.Errorf("snapshot version: got %d", snap.FeeVersion)
	}
	if snap.CalculatedAt.IsZero() {
		t.Error("snapshot must record when it was calculated")
	}
}

func TestCalculateCart(t *testing.T) {
	idA := uuid.New()
	idB := uuid.New()
	services := &stubServiceSource{services: []domain.Service{
		{ID: idA, Name: "Consultation", NetPrice: 2_500, IsActive: true},
		{ID: idB, Name: "Formation", NetPrice: 5_000, IsActive: true},
	}}
	engine := NewEngine(&stubScheduleSource{schedules: standardSchedules()}, services)

	cart, err := engine.CalculateCart(context.Background(), []domain.CartItem{
		{ServiceID: idA, Quantity: 2},
		{ServiceID: idB, Quantity: 1},
	}, domain.ProviderOrangeMoney)
	if err != nil {
		t.Fatalf("CalculateCart returned error: %v", err)
	}

	// 2*2500 + 5000 = 10000 net, same arithmetic as the single-payment case.
	if cart.NetAmount < 10_000 {
		t.Errorf("cart net %d below item total 10000", cart.NetAmount)
	}
	if cart.GrossAmount != 10_364 {
		t.Errorf("expected cart gross 10364, got %d", cart.GrossAmount)
	}
	if len(cart.CartDetails) != 2 {
		t.Fatalf("expected 2 cart lines, got %d", len(cart.CartDetails))
	}
	if cart.CartDetails[0].Subtotal != 5_000 || cart.CartDetails[1].Subtotal != 5_000 {
		t.Errorf("unexpected line subtotals: %+v", cart.CartDetails)
	}
}

func TestCalculateCartRejectsUnknownService(t *testing.T) {
	known := uuid.New()
	services := &stubServiceSource{services: []domain.Service{
		{ID: known, Name: "Consultation", NetPrice: 2_500, IsActive: true},
	}}
	engine := NewEngine(&stubScheduleSource{schedules: standardSchedules()}, services)

	_, err := engine.CalculateCart(context.Background(), []domain.CartItem{
		{ServiceID: known, Quantity: 1},
		{ServiceID: uuid.New(), Quantity: 1},
	}, domain.ProviderOrangeMoney)
	if !errors.Is(err, ErrInvalidCartItem) {
		t.Fatalf("expected ErrInvalidCartItem, got %v", err)
	}
}

func TestCalculateCartRejectsBadQuantity(t *testing.T) {
	engine := newTestEngine()

	_, err := engine.CalculateCart(context.Background(), []domain.CartItem{
		{ServiceID: uuid.New(), Quantity: 0},
	}, domain.ProviderOrangeMoney)
	if !errors.Is(err, ErrInvalidCartItem) {
		t.Fatalf("expected ErrInvalidCartItem for zero quantity, got %v", err)
	}

	_, err = engine.CalculateCart(context.Background(), nil, domain.ProviderOrangeMoney)
	if !errors.Is(err, ErrInvalidCartItem) {
		t.Fatalf("expected ErrInvalidCartItem for empty cart, got %v", err)
	}
}
