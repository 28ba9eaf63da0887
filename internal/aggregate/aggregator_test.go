package aggregate

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/oddslab/bookmon/internal/model"
)

func dec(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	if err != nil {
		t.Fatalf("bad decimal literal %q: %v", s, err)
	}
	return d
}

// fakeAsks is an in-memory AskSource.
type fakeAsks struct {
	mu   sync.Mutex
	asks map[string]decimal.Decimal
}

func newFakeAsks() *fakeAsks {
	return &fakeAsks{asks: make(map[string]decimal.Decimal)}
}

func (f *fakeAsks) set(id, price string) {
	d, _ := decimal.NewFromString(price)
	f.mu.Lock()
	f.asks[id] = d
	f.mu.Unlock()
}

func (f *fakeAsks) BestAsk(assetID string) (decimal.Decimal, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.asks[assetID]
	return d, ok
}

func threeWayDef() EventDef {
	return EventDef{
		ID:    "ev1",
		Title: "Arsenal vs Chelsea",
		Slug:  "arsenal-vs-chelsea",
		Members: []Member{
			{InstrumentID: "home", Outcome: "Arsenal"},
			{InstrumentID: "away", Outcome: "Chelsea"},
			{InstrumentID: "draw", Outcome: "Draw"},
		},
	}
}

func TestAddEvent_MemberCount(t *testing.T) {
	a := New(newFakeAsks(), nil)

	def := threeWayDef()
	def.Members = def.Members[:1]
	if err := a.AddEvent(def); !errors.Is(err, ErrMemberCount) {
		t.Errorf("AddEvent with 1 member = %v, want ErrMemberCount", err)
	}

	def.Members = []Member{
		{InstrumentID: "yes"}, {InstrumentID: "no"},
	}
	if err := a.AddEvent(def); err != nil {
		t.Errorf("AddEvent with 2 members failed: %v", err)
	}

	if err := a.AddEvent(def); !errors.Is(err, ErrAlreadyTracked) {
		t.Errorf("duplicate AddEvent = %v, want ErrAlreadyTracked", err)
	}
}

func TestTotal_UndefinedUntilAllLegsKnown(t *testing.T) {
	asks := newFakeAsks()
	a := New(asks, nil)
	if err := a.AddEvent(threeWayDef()); err != nil {
		t.Fatalf("AddEvent failed: %v", err)
	}

	asks.set("home", "0.30")
	asks.set("away", "0.30")
	a.OnInstrumentChanged("home", time.Now())

	ev, ok := a.Event("ev1")
	if !ok {
		t.Fatal("event not found")
	}
	if ev.HasTotal {
		t.Error("total defined with a missing leg")
	}
	if ev.ATLTotal != nil {
		t.Error("record set with a missing leg")
	}

	asks.set("draw", "0.41")
	a.OnInstrumentChanged("draw", time.Now())

	ev, _ = a.Event("ev1")
	if !ev.HasTotal {
		t.Fatal("total undefined with all legs known")
	}
	if !ev.CurrentTotal.Equal(dec(t, "1.01")) {
		t.Errorf("CurrentTotal = %v, want 1.01", ev.CurrentTotal)
	}
}

func TestATLTotal_StrictImprovementOnly(t *testing.T) {
	asks := newFakeAsks()
	a := New(asks, nil)
	if err := a.AddEvent(threeWayDef()); err != nil {
		t.Fatalf("AddEvent failed: %v", err)
	}

	base := time.Now()
	asks.set("home", "0.30")
	asks.set("away", "0.30")
	asks.set("draw", "0.41")
	a.OnInstrumentChanged("draw", base) // total 1.01, first record

	asks.set("home", "0.25")
	a.OnInstrumentChanged("home", base.Add(time.Second)) // total 0.96, new record

	asks.set("home", "0.28")
	a.OnInstrumentChanged("home", base.Add(2*time.Second)) // total 0.99, no record

	ev, _ := a.Event("ev1")
	if ev.ATLTotal == nil {
		t.Fatal("ATLTotal not set")
	}
	if !ev.ATLTotal.Value.Equal(dec(t, "0.96")) {
		t.Errorf("ATLTotal.Value = %v, want 0.96", ev.ATLTotal.Value)
	}
	if !ev.ATLTotal.At.Equal(base.Add(time.Second)) {
		t.Errorf("ATLTotal.At = %v, want the 0.96 observation", ev.ATLTotal.At)
	}
	// Current total still tracks the latest prices.
	if !ev.CurrentTotal.Equal(dec(t, "0.99")) {
		t.Errorf("CurrentTotal = %v, want 0.99", ev.CurrentTotal)
	}

	// Legs captured with the record are the prices at record time.
	var homeLeg *model.Leg
	for i := range ev.ATLTotal.Legs {
		if ev.ATLTotal.Legs[i].InstrumentID == "home" {
			homeLeg = &ev.ATLTotal.Legs[i]
		}
	}
	if homeLeg == nil || !homeLeg.Ask.Equal(dec(t, "0.25")) {
		t.Errorf("home leg = %+v, want ask 0.25", homeLeg)
	}
}

func TestATLTotal_TieDoesNotOverwrite(t *testing.T) {
	asks := newFakeAsks()
	a := New(asks, nil)
	if err := a.AddEvent(threeWayDef()); err != nil {
		t.Fatalf("AddEvent failed: %v", err)
	}

	base := time.Now()
	asks.set("home", "0.30")
	asks.set("away", "0.30")
	asks.set("draw", "0.40")
	a.OnInstrumentChanged("draw", base)

	// Same total from different legs a minute later.
	asks.set("home", "0.35")
	asks.set("away", "0.25")
	a.OnInstrumentChanged("away", base.Add(time.Minute))

	ev, _ := a.Event("ev1")
	if !ev.ATLTotal.At.Equal(base) {
		t.Errorf("ATLTotal.At = %v, want the original observation %v", ev.ATLTotal.At, base)
	}
}

func TestNotifications_OnNewATLTotal(t *testing.T) {
	asks := newFakeAsks()
	a := New(asks, nil)
	if err := a.AddEvent(threeWayDef()); err != nil {
		t.Fatalf("AddEvent failed: %v", err)
	}

	asks.set("home", "0.30")
	asks.set("away", "0.30")
	asks.set("draw", "0.41")
	a.OnInstrumentChanged("home", time.Now())

	select {
	case update := <-a.Notifications():
		if update.Kind != model.RecordATLTotal {
			t.Errorf("Kind = %q, want atl_total", update.Kind)
		}
		if update.EventID != "ev1" || !update.Total.Equal(dec(t, "1.01")) {
			t.Errorf("update = %+v, want ev1 total 1.01", update)
		}
		if len(update.Legs) != 3 {
			t.Errorf("update carries %d legs, want 3", len(update.Legs))
		}
	default:
		t.Fatal("expected a buffered notification")
	}
}

func TestRemoveEvent(t *testing.T) {
	asks := newFakeAsks()
	a := New(asks, nil)
	if err := a.AddEvent(threeWayDef()); err != nil {
		t.Fatalf("AddEvent failed: %v", err)
	}

	a.RemoveEvent("ev1")

	if _, ok := a.Event("ev1"); ok {
		t.Error("event still present after RemoveEvent")
	}

	// Changes to former members are ignored.
	asks.set("home", "0.10")
	a.OnInstrumentChanged("home", time.Now())
	if got := len(a.ATLTotals()); got != 0 {
		t.Errorf("ATLTotals after removal = %d records, want 0", got)
	}

	// Removing again is a no-op.
	a.RemoveEvent("ev1")
}

func TestSharedInstrumentUpdatesBothEvents(t *testing.T) {
	asks := newFakeAsks()
	a := New(asks, nil)

	def1 := EventDef{
		ID: "ev1", Title: "One",
		Members: []Member{{InstrumentID: "shared"}, {InstrumentID: "x"}},
	}
	def2 := EventDef{
		ID: "ev2", Title: "Two",
		Members: []Member{{InstrumentID: "shared"}, {InstrumentID: "y"}},
	}
	if err := a.AddEvent(def1); err != nil {
		t.Fatalf("AddEvent failed: %v", err)
	}
	if err := a.AddEvent(def2); err != nil {
		t.Fatalf("AddEvent failed: %v", err)
	}

	asks.set("shared", "0.50")
	asks.set("x", "0.40")
	asks.set("y", "0.45")
	a.OnInstrumentChanged("shared", time.Now())

	ev1, _ := a.Event("ev1")
	ev2, _ := a.Event("ev2")
	if !ev1.HasTotal || !ev1.CurrentTotal.Equal(dec(t, "0.90")) {
		t.Errorf("ev1 total = %v (has=%v), want 0.90", ev1.CurrentTotal, ev1.HasTotal)
	}
	if !ev2.HasTotal || !ev2.CurrentTotal.Equal(dec(t, "0.95")) {
		t.Errorf("ev2 total = %v (has=%v), want 0.95", ev2.CurrentTotal, ev2.HasTotal)
	}
}

func TestSnapshotIsolation(t *testing.T) {
	asks := newFakeAsks()
	a := New(asks, nil)
	if err := a.AddEvent(threeWayDef()); err != nil {
		t.Fatalf("AddEvent failed: %v", err)
	}

	asks.set("home", "0.30")
	asks.set("away", "0.30")
	asks.set("draw", "0.40")
	a.OnInstrumentChanged("home", time.Now())

	ev, _ := a.Event("ev1")
	ev.ATLTotal.Legs[0].Ask = dec(t, "0.01")

	again, _ := a.Event("ev1")
	if again.ATLTotal.Legs[0].Ask.Equal(dec(t, "0.01")) {
		t.Error("snapshot mutation leaked into the aggregator")
	}
}
