package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Side identifies one side of an order book.
type Side string

const (
	SideBid Side = "bid"
	SideAsk Side = "ask"
)

// BookLevel is a single resting price level.
type BookLevel struct {
	Price decimal.Decimal
	Size  decimal.Decimal
}

// SideRecord is a per-instrument extremum (ATH or ATL) with the size and
// timestamp observed when the record was set.
type SideRecord struct {
	Price decimal.Decimal
	Size  decimal.Decimal
	At    time.Time
}

// Instrument is a point-in-time copy of one tradable outcome token.
//
// BestBid/BestAsk are meaningful only when the corresponding Has flag is set;
// an instrument has no price until its first book update arrives.
type Instrument struct {
	ID      string // Venue-assigned asset/token id
	Outcome string // Display label (e.g., "Chelsea - Yes"), empty if unresolved

	BestBid decimal.Decimal
	BestAsk decimal.Decimal
	HasBid  bool
	HasAsk  bool
	BidSize decimal.Decimal
	AskSize decimal.Decimal

	// Monotonic records. ATHBid/ATHAsk only ever increase, ATLAsk only
	// ever decreases. Nil until the first update on that side.
	ATHBid *SideRecord
	ATHAsk *SideRecord
	ATLAsk *SideRecord

	LastUpdated time.Time
	UpdateCount int64
}

// BookSnapshot is one entry in an instrument's bounded rolling history.
type BookSnapshot struct {
	At      time.Time
	BestBid decimal.Decimal
	BestAsk decimal.Decimal
	HasBid  bool
	HasAsk  bool
	BidSize decimal.Decimal
	AskSize decimal.Decimal
}

// InstrumentRecord is a flattened view of one extremum, as served to API
// consumers ("all ATH records" / "all ATL records" queries).
type InstrumentRecord struct {
	InstrumentID string
	Outcome      string
	Side         Side
	Price        decimal.Decimal
	Size         decimal.Decimal
	At           time.Time
}

// Leg is one member's contribution to an event total.
type Leg struct {
	InstrumentID string
	Outcome      string
	Ask          decimal.Decimal
}

// TotalRecord is the lowest combined ask total ever observed for an event,
// with the per-member prices that produced it.
type TotalRecord struct {
	EventID string
	Title   string
	Value   decimal.Decimal
	Legs    []Leg
	At      time.Time
}

// EventAggregate is a point-in-time copy of one event's combined state.
//
// CurrentTotal is meaningful only when HasTotal is set, which requires every
// member instrument to have a known best ask simultaneously.
type EventAggregate struct {
	ID              string
	Title           string
	Slug            string
	ExpectedMembers int
	MemberIDs       []string

	CurrentTotal decimal.Decimal
	HasTotal     bool
	ATLTotal     *TotalRecord
	LastUpdated  time.Time
}

// RecordKind distinguishes record update notifications.
type RecordKind string

const (
	RecordATHBid   RecordKind = "ath_bid"
	RecordATHAsk   RecordKind = "ath_ask"
	RecordATLAsk   RecordKind = "atl_ask"
	RecordATLTotal RecordKind = "atl_total"
)

// RecordUpdate is a push notification emitted whenever an extremum is
// overwritten. Instrument records populate InstrumentID/Price/Size; ATL-total
// records populate EventID/Total/Legs.
type RecordUpdate struct {
	ID   uuid.UUID
	Kind RecordKind
	At   time.Time

	InstrumentID string
	Outcome      string
	Price        decimal.Decimal
	Size         decimal.Decimal

	EventID string
	Title   string
	Total   decimal.Decimal
	Legs    []Leg
}
