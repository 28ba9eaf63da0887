package archive

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/oddslab/bookmon/internal/model"
)

func TestTransform_InstrumentRecord(t *testing.T) {
	at := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	update := model.RecordUpdate{
		ID:           uuid.New(),
		Kind:         model.RecordATLAsk,
		At:           at,
		InstrumentID: "token-1",
		Outcome:      "Arsenal vs Chelsea - Draw",
		Price:        decimal.RequireFromString("0.41"),
		Size:         decimal.RequireFromString("150"),
	}

	row := transform(update)

	if row.ID != update.ID.String() || row.Kind != "atl_ask" {
		t.Errorf("row = %+v", row)
	}
	if row.At != at.UnixMicro() {
		t.Errorf("row.At = %d, want %d", row.At, at.UnixMicro())
	}
	if row.Price != "0.41" || row.Size != "150" {
		t.Errorf("price/size = %q/%q, want 0.41/150", row.Price, row.Size)
	}
	if row.Total != "" || row.LegsJSON != nil {
		t.Error("instrument record should not carry total fields")
	}
}

func TestTransform_TotalRecord(t *testing.T) {
	update := model.RecordUpdate{
		ID:      uuid.New(),
		Kind:    model.RecordATLTotal,
		At:      time.Now(),
		EventID: "ev1",
		Title:   "Arsenal vs Chelsea",
		Total:   decimal.RequireFromString("0.96"),
		Legs: []model.Leg{
			{InstrumentID: "home", Outcome: "Arsenal", Ask: decimal.RequireFromString("0.25")},
			{InstrumentID: "away", Outcome: "Chelsea", Ask: decimal.RequireFromString("0.30")},
			{InstrumentID: "draw", Outcome: "Draw", Ask: decimal.RequireFromString("0.41")},
		},
	}

	row := transform(update)

	if row.Total != "0.96" || row.EventID != "ev1" {
		t.Errorf("row = %+v", row)
	}
	if row.Price != "" || row.Size != "" {
		t.Error("total record should not carry instrument price fields")
	}

	var legs []model.Leg
	if err := json.Unmarshal(row.LegsJSON, &legs); err != nil {
		t.Fatalf("legs json: %v", err)
	}
	if len(legs) != 3 || legs[2].InstrumentID != "draw" {
		t.Errorf("legs = %+v", legs)
	}
}
