package portfolio

import (
	"testing"

	"github.com/aristath/backtest/internal/asset"
	"github.com/aristath/backtest/internal/broker"
	"github.com/aristath/backtest/internal/exchange"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyFill_OppositeSignFillsPropagateAndAggregate(t *testing.T) {
	master := NewMaster("master", 20000, NewMarket(), zerolog.Nop())
	p1 := master.NewChild("p1", 10000)
	p2 := master.NewChild("p2", 10000)

	p1.ApplyFill("test2", 50, 101, 1, "s1", 1)
	p2.ApplyFill("test2", -100, 101, 1, "s2", 2)

	p1pos, _ := p1.GetPosition("test2")
	assert.Equal(t, 50.0, p1pos.Units)
	assert.Equal(t, 101.0, p1pos.AveragePrice)
	assert.Equal(t, 10000.0-50*101, p1.Cash())

	p2pos, _ := p2.GetPosition("test2")
	assert.Equal(t, -100.0, p2pos.Units)
	assert.Equal(t, 10000.0+100*101, p2.Cash())

	mpos, ok := master.GetPosition("test2")
	require.True(t, ok)
	assert.Equal(t, -50.0, mpos.Units)
	assert.Equal(t, 101.0, mpos.AveragePrice)
	assert.Equal(t, 25050.0, master.Cash())

	mpos.LastPrice = 101.5
	p1pos.LastPrice = 101.5
	p2pos.LastPrice = 101.5
	assert.InDelta(t, -25.0, mpos.UnrealizedPL(), 1e-9)
	assert.InDelta(t, 19975.0, master.NLV(), 1e-9)

	require.NoError(t, CheckInvariants(master))
}

func TestApplyFill_SameSignWeightedAverage(t *testing.T) {
	master := NewMaster("master", 10000, NewMarket(), zerolog.Nop())
	master.ApplyFill("test1", 10, 100, 1, "s1", 1)
	master.ApplyFill("test1", 10, 110, 2, "s1", 2)

	pos, _ := master.GetPosition("test1")
	assert.Equal(t, 20.0, pos.Units)
	assert.InDelta(t, 105.0, pos.AveragePrice, 1e-9)
}

func TestApplyFill_PartialReduceRealizesPL(t *testing.T) {
	master := NewMaster("master", 10000, NewMarket(), zerolog.Nop())
	master.ApplyFill("test1", 10, 100, 1, "s1", 1)
	master.ApplyFill("test1", -4, 110, 2, "s1", 2)

	pos, _ := master.GetPosition("test1")
	assert.Equal(t, 6.0, pos.Units)
	assert.Equal(t, 100.0, pos.AveragePrice, "average price unchanged on a reduce")
	assert.InDelta(t, 40.0, pos.RealizedPL, 1e-9)
}

func TestApplyFill_ClosingFillRemovesPosition(t *testing.T) {
	master := NewMaster("master", 10000, NewMarket(), zerolog.Nop())
	master.ApplyFill("test1", 10, 100, 1, "s1", 1)
	master.ApplyFill("test1", -10, 105, 2, "s1", 2)

	_, ok := master.GetPosition("test1")
	assert.False(t, ok, "flat position is removed from the map")
}

func buildWiredMarket(t *testing.T) (*Market, *exchange.Exchange, *broker.Broker) {
	t.Helper()
	a := asset.New("test1", 0, zerolog.Nop())
	a.LoadHeaders([]string{asset.Open, asset.Close})
	require.NoError(t, a.LoadData([][]float64{{100, 101}, {102, 103}}, []int64{1, 2}, true))

	ex := exchange.New("ex1", zerolog.Nop())
	require.NoError(t, ex.AddAsset(a))
	require.NoError(t, ex.Build())
	require.NoError(t, ex.Step())

	b := broker.New("b1", zerolog.Nop())
	b.RegisterExchange(ex)

	m := NewMarket()
	m.RegisterExchange(ex)
	m.RegisterBroker(b)
	require.NoError(t, m.RegisterAsset("test1", "ex1", "b1"))
	m.SetPhase(broker.PhaseOpen)
	return m, ex, b
}

func TestOrderTargetSize_DollarsAndEpsilonSkip(t *testing.T) {
	m, _, _ := buildWiredMarket(t)
	p := NewMaster("master", 10000, m, zerolog.Nop())

	require.NoError(t, p.OrderTargetSize("test1", 1000, "s1", 0.01, TargetDollars, broker.Eager, -1))
	pos, ok := p.GetPosition("test1")
	require.True(t, ok)
	assert.InDelta(t, 10.0, pos.Units, 1e-9) // 1000 / 100
	assert.Equal(t, 100.0, pos.AveragePrice)

	// Re-targeting to the same notional within epsilon should not trade.
	require.NoError(t, p.OrderTargetSize("test1", 1000.5, "s1", 0.01, TargetDollars, broker.Eager, -1))
	pos, _ = p.GetPosition("test1")
	assert.InDelta(t, 10.0, pos.Units, 1e-9)
}

func TestOrderTargetAllocations_ClosesUnlistedHoldings(t *testing.T) {
	m, _, _ := buildWiredMarket(t)
	p := NewMaster("master", 10000, m, zerolog.Nop())
	require.NoError(t, p.PlaceMarketOrder("test1", 5, "s1", broker.Eager, -1))

	require.NoError(t, p.OrderTargetAllocations(map[string]float64{}, "s1", 0, TargetUnits, broker.Eager, -1))
	_, ok := p.GetPosition("test1")
	assert.False(t, ok, "omitted asset is implicitly targeted to zero")
}

func TestEvaluate_SnapshotsValueHistory(t *testing.T) {
	m, ex, _ := buildWiredMarket(t)
	p := NewMaster("master", 10000, m, zerolog.Nop())
	require.NoError(t, p.PlaceMarketOrder("test1", 5, "s1", broker.Eager, -1))

	ts, err := ex.CurrentTimestamp()
	require.NoError(t, err)
	p.Evaluate(ts)

	hist := p.ValueHistory()
	require.Len(t, hist, 1)
	assert.Equal(t, ts, hist[0].Timestamp)
	assert.InDelta(t, 10000.0, hist[0].NLV, 1e-9) // bought 5 at 100, still worth 500
}

func TestReset_RestoresInitialCashAndClearsTracers(t *testing.T) {
	master := NewMaster("master", 10000, NewMarket(), zerolog.Nop())
	child := master.NewChild("c1", 5000)
	master.ApplyFill("test1", 10, 100, 1, "s1", 1)
	master.Evaluate(1)
	child.ApplyFill("test2", 5, 50, 1, "s1", 2)

	master.Reset()

	assert.Equal(t, 10000.0, master.Cash())
	assert.Empty(t, master.Positions())
	assert.Empty(t, master.ValueHistory())
	assert.Equal(t, 5000.0, child.Cash())
	assert.Empty(t, child.Positions())
}

func TestCheckInvariants_DetectsDrift(t *testing.T) {
	master := NewMaster("master", 10000, NewMarket(), zerolog.Nop())
	child := master.NewChild("c1", 10000)
	child.ApplyFill("test1", 10, 100, 1, "s1", 1)

	require.NoError(t, CheckInvariants(master))

	master.cash += 1 // simulate drift without propagation
	require.Error(t, CheckInvariants(master))
}
