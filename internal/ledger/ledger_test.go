package ledger

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
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

func newTestLedger() *Ledger {
	return New(Config{HistoryDepth: 5}, nil)
}

func TestApply_TracksBestPrices(t *testing.T) {
	l := newTestLedger()
	now := time.Now()

	l.Apply("a", model.SideBid, dec(t, "0.45"), dec(t, "100"), now)
	l.Apply("a", model.SideAsk, dec(t, "0.55"), dec(t, "200"), now)

	inst, ok := l.Snapshot("a")
	if !ok {
		t.Fatal("instrument not found")
	}
	if !inst.HasBid || !inst.BestBid.Equal(dec(t, "0.45")) {
		t.Errorf("BestBid = %v (has=%v), want 0.45", inst.BestBid, inst.HasBid)
	}
	if !inst.HasAsk || !inst.BestAsk.Equal(dec(t, "0.55")) {
		t.Errorf("BestAsk = %v (has=%v), want 0.55", inst.BestAsk, inst.HasAsk)
	}
	if inst.UpdateCount != 2 {
		t.Errorf("UpdateCount = %d, want 2", inst.UpdateCount)
	}
}

func TestApply_NoPriceUntilFirstUpdate(t *testing.T) {
	l := newTestLedger()
	l.Ensure([]string{"a"})

	inst, ok := l.Snapshot("a")
	if !ok {
		t.Fatal("instrument not found")
	}
	if inst.HasBid || inst.HasAsk {
		t.Error("fresh instrument should have no prices")
	}
	if inst.ATHBid != nil || inst.ATHAsk != nil || inst.ATLAsk != nil {
		t.Error("fresh instrument should have no records")
	}
}

func TestApply_AskRecordsFollowStrictImprovement(t *testing.T) {
	l := newTestLedger()
	base := time.Now()

	// 0.50 seeds both ask records, 0.40 lowers the ATL, 0.45 changes
	// nothing: records only move on strict improvement.
	l.Apply("a", model.SideAsk, dec(t, "0.50"), dec(t, "10"), base)
	l.Apply("a", model.SideAsk, dec(t, "0.40"), dec(t, "20"), base.Add(time.Second))
	l.Apply("a", model.SideAsk, dec(t, "0.45"), dec(t, "30"), base.Add(2*time.Second))

	inst, _ := l.Snapshot("a")

	if inst.ATHAsk == nil || !inst.ATHAsk.Price.Equal(dec(t, "0.50")) {
		t.Errorf("ATHAsk = %+v, want price 0.50", inst.ATHAsk)
	}
	if inst.ATLAsk == nil || !inst.ATLAsk.Price.Equal(dec(t, "0.40")) {
		t.Errorf("ATLAsk = %+v, want price 0.40", inst.ATLAsk)
	}
	if !inst.ATLAsk.At.Equal(base.Add(time.Second)) {
		t.Errorf("ATLAsk.At = %v, want the 0.40 observation time", inst.ATLAsk.At)
	}
	// Current best still reflects the last update.
	if !inst.BestAsk.Equal(dec(t, "0.45")) {
		t.Errorf("BestAsk = %v, want 0.45", inst.BestAsk)
	}
}

func TestApply_TieKeepsOriginalRecord(t *testing.T) {
	l := newTestLedger()
	base := time.Now()

	l.Apply("a", model.SideBid, dec(t, "0.60"), dec(t, "10"), base)
	l.Apply("a", model.SideBid, dec(t, "0.60"), dec(t, "99"), base.Add(time.Minute))

	inst, _ := l.Snapshot("a")
	if inst.ATHBid == nil {
		t.Fatal("ATHBid not set")
	}
	if !inst.ATHBid.At.Equal(base) {
		t.Errorf("ATHBid.At = %v, want first observation time %v", inst.ATHBid.At, base)
	}
	if !inst.ATHBid.Size.Equal(dec(t, "10")) {
		t.Errorf("ATHBid.Size = %v, want the original 10", inst.ATHBid.Size)
	}
}

func TestApply_ReportsAskChanges(t *testing.T) {
	l := newTestLedger()
	now := time.Now()

	if !l.Apply("a", model.SideAsk, dec(t, "0.50"), dec(t, "1"), now) {
		t.Error("first ask should report a change")
	}
	if l.Apply("a", model.SideAsk, dec(t, "0.50"), dec(t, "2"), now) {
		t.Error("same ask price should not report a change")
	}
	if !l.Apply("a", model.SideAsk, dec(t, "0.51"), dec(t, "2"), now) {
		t.Error("new ask price should report a change")
	}
	if l.Apply("a", model.SideBid, dec(t, "0.40"), dec(t, "2"), now) {
		t.Error("bid update should never report an ask change")
	}
}

func TestApply_BidAboveAskIsKeptAsIs(t *testing.T) {
	l := newTestLedger()
	now := time.Now()

	l.Apply("a", model.SideAsk, dec(t, "0.50"), dec(t, "1"), now)
	l.Apply("a", model.SideBid, dec(t, "0.60"), dec(t, "1"), now)

	// The crossed book is logged but mirrored verbatim.
	inst, _ := l.Snapshot("a")
	if !inst.BestBid.Equal(dec(t, "0.60")) || !inst.BestAsk.Equal(dec(t, "0.50")) {
		t.Errorf("crossed book altered: bid=%v ask=%v", inst.BestBid, inst.BestAsk)
	}
}

func TestHistory_BoundedOldestFirst(t *testing.T) {
	l := newTestLedger() // depth 5
	base := time.Now()

	for i := 0; i < 8; i++ {
		price := decimal.NewFromInt(int64(i + 1)).Div(decimal.NewFromInt(100))
		l.Apply("a", model.SideAsk, price, dec(t, "1"), base.Add(time.Duration(i)*time.Second))
	}

	hist := l.History("a")
	if len(hist) != 5 {
		t.Fatalf("history length = %d, want 5", len(hist))
	}

	// Oldest surviving entry is the 4th update; entries ascend in time.
	if !hist[0].At.Equal(base.Add(3 * time.Second)) {
		t.Errorf("hist[0].At = %v, want update 3", hist[0].At)
	}
	for i := 1; i < len(hist); i++ {
		if !hist[i].At.After(hist[i-1].At) {
			t.Errorf("history out of order at %d", i)
		}
	}
}

func TestNotifications_EmittedOnNewRecords(t *testing.T) {
	l := newTestLedger()
	l.SetOutcome("a", "Chelsea - Yes")
	now := time.Now()

	// First ask sets ATH and ATL, so two notifications.
	l.Apply("a", model.SideAsk, dec(t, "0.50"), dec(t, "10"), now)

	kinds := map[model.RecordKind]bool{}
	for i := 0; i < 2; i++ {
		select {
		case update := <-l.Notifications():
			kinds[update.Kind] = true
			if update.InstrumentID != "a" {
				t.Errorf("InstrumentID = %q, want a", update.InstrumentID)
			}
			if update.Outcome != "Chelsea - Yes" {
				t.Errorf("Outcome = %q, want label", update.Outcome)
			}
			if update.ID == uuid.Nil {
				t.Error("update has zero ID")
			}
		default:
			t.Fatal("expected a buffered notification")
		}
	}
	if !kinds[model.RecordATHAsk] || !kinds[model.RecordATLAsk] {
		t.Errorf("kinds = %v, want ath_ask and atl_ask", kinds)
	}

	// A non-improving update emits nothing.
	l.Apply("a", model.SideAsk, dec(t, "0.50"), dec(t, "10"), now)
	select {
	case update := <-l.Notifications():
		t.Errorf("unexpected notification: %+v", update)
	default:
	}
}

func TestRecords_FlattenedViews(t *testing.T) {
	l := newTestLedger()
	now := time.Now()

	l.Apply("b", model.SideAsk, dec(t, "0.30"), dec(t, "1"), now)
	l.Apply("a", model.SideBid, dec(t, "0.70"), dec(t, "2"), now)
	l.Apply("a", model.SideAsk, dec(t, "0.80"), dec(t, "3"), now)

	aths := l.ATHRecords()
	if len(aths) != 3 {
		t.Fatalf("got %d ATH records, want 3", len(aths))
	}
	// Ordered by instrument id, then side.
	if aths[0].InstrumentID != "a" || aths[0].Side != model.SideAsk {
		t.Errorf("aths[0] = %+v, want a/ask", aths[0])
	}
	if aths[2].InstrumentID != "b" {
		t.Errorf("aths[2] = %+v, want b", aths[2])
	}

	atls := l.ATLRecords()
	if len(atls) != 2 {
		t.Fatalf("got %d ATL records, want 2", len(atls))
	}
	for _, rec := range atls {
		if rec.Side != model.SideAsk {
			t.Errorf("ATL record on side %q, want ask only", rec.Side)
		}
	}
}

func TestSnapshotAll_SortedAndIsolated(t *testing.T) {
	l := newTestLedger()
	now := time.Now()

	l.Apply("c", model.SideBid, dec(t, "0.10"), dec(t, "1"), now)
	l.Apply("a", model.SideBid, dec(t, "0.20"), dec(t, "1"), now)
	l.Apply("b", model.SideBid, dec(t, "0.30"), dec(t, "1"), now)

	all := l.SnapshotAll()
	if len(all) != 3 {
		t.Fatalf("got %d instruments, want 3", len(all))
	}
	for i, want := range []string{"a", "b", "c"} {
		if all[i].ID != want {
			t.Errorf("all[%d].ID = %q, want %q", i, all[i].ID, want)
		}
	}

	// Mutating a snapshot's record must not leak into the store.
	l.Apply("a", model.SideAsk, dec(t, "0.90"), dec(t, "1"), now)
	snap, _ := l.Snapshot("a")
	snap.ATHAsk.Price = dec(t, "0.01")

	again, _ := l.Snapshot("a")
	if !again.ATHAsk.Price.Equal(dec(t, "0.90")) {
		t.Error("snapshot mutation leaked into the ledger")
	}
}

func TestConcurrentReadersAndWriter(t *testing.T) {
	l := New(Config{HistoryDepth: 100}, nil)
	now := time.Now()

	done := make(chan struct{})
	var wg sync.WaitGroup

	// Single writer, as on the real processing path.
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 500; i++ {
			id := fmt.Sprintf("inst-%d", i%10)
			price := decimal.NewFromInt(int64(i%90 + 1)).Div(decimal.NewFromInt(100))
			l.Apply(id, model.SideAsk, price, dec(t, "1"), now)
		}
		close(done)
	}()

	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-done:
					return
				default:
					l.SnapshotAll()
					l.ATHRecords()
					l.ATLRecords()
					l.BestAsk("inst-3")
				}
			}
		}()
	}

	wg.Wait()

	if got := len(l.SnapshotAll()); got != 10 {
		t.Errorf("instrument count = %d, want 10", got)
	}

	// Drain: the writer may have filled the notification buffer.
	for {
		select {
		case <-l.Notifications():
		default:
			return
		}
	}
}
