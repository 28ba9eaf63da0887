package decode

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/oddslab/bookmon/internal/model"
)

// DecodeError marks a single malformed or unrecognized frame. The frame is
// dropped and counted; it never terminates the processing loop.
type DecodeError struct {
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("decode: %s: %v", e.Reason, e.Err)
	}
	return "decode: " + e.Reason
}

func (e *DecodeError) Unwrap() error { return e.Err }

func decodeErr(reason string, err error) error {
	return &DecodeError{Reason: reason, Err: err}
}

// messageEnvelope carries only the tag field needed for dispatch.
type messageEnvelope struct {
	EventType string `json:"event_type"`
	Type      string `json:"type"`
}

// bookWire is a full order book frame.
type bookWire struct {
	AssetID string      `json:"asset_id"`
	Bids    []levelWire `json:"bids"`
	Asks    []levelWire `json:"asks"`
}

type levelWire struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

// priceChangeWire covers both observed shapes: a per-asset frame with a
// "changes" array, and the older form with "price_changes" entries that carry
// their own asset_id.
type priceChangeWire struct {
	AssetID      string       `json:"asset_id"`
	Changes      []changeWire `json:"changes"`
	PriceChanges []changeWire `json:"price_changes"`
	BestBid      string       `json:"best_bid"`
	BestAsk      string       `json:"best_ask"`
}

type changeWire struct {
	AssetID string `json:"asset_id"`
	Price   string `json:"price"`
	Size    string `json:"size"`
	Side    string `json:"side"`
	BestBid string `json:"best_bid"`
	BestAsk string `json:"best_ask"`
}

// ackWire is a subscription confirmation.
type ackWire struct {
	AssetsIDs []string `json:"assets_ids"`
	AssetIDs  []string `json:"asset_ids"`
}

// Decode parses one raw frame into domain events. A frame may be a single
// JSON object, a JSON array of book objects (sent after subscribing), or the
// literal PONG keep-alive.
func Decode(data []byte) ([]DomainEvent, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, decodeErr("empty frame", nil)
	}

	if string(trimmed) == "PONG" {
		return []DomainEvent{Pong{}}, nil
	}

	if trimmed[0] == '[' {
		return decodeArray(trimmed)
	}

	return decodeObject(trimmed)
}

func decodeArray(data []byte) ([]DomainEvent, error) {
	var raws []json.RawMessage
	if err := json.Unmarshal(data, &raws); err != nil {
		return nil, decodeErr("malformed array frame", err)
	}

	events := make([]DomainEvent, 0, len(raws))
	for _, raw := range raws {
		evs, err := decodeObject(raw)
		if err != nil {
			return nil, err
		}
		events = append(events, evs...)
	}
	return events, nil
}

func decodeObject(data []byte) ([]DomainEvent, error) {
	var env messageEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, decodeErr("malformed frame", err)
	}

	tag := env.EventType
	if tag == "" {
		tag = env.Type
	}

	switch strings.ToLower(tag) {
	case "book":
		return decodeBook(data)
	case "price_change":
		return decodePriceChange(data)
	case "subscribed":
		return decodeAck(data)
	case "pong":
		return []DomainEvent{Pong{}}, nil
	case "":
		// Early venue book frames omit the tag; a frame with both bids
		// and asks keys is a book.
		if bytes.Contains(data, []byte(`"bids"`)) && bytes.Contains(data, []byte(`"asks"`)) {
			return decodeBook(data)
		}
		return nil, decodeErr("untagged frame", nil)
	default:
		return nil, decodeErr("unrecognized frame type "+tag, nil)
	}
}

func decodeBook(data []byte) ([]DomainEvent, error) {
	var wire bookWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, decodeErr("malformed book frame", err)
	}
	if wire.AssetID == "" {
		return nil, decodeErr("book frame missing asset_id", nil)
	}

	bids, err := parseLevels(wire.Bids)
	if err != nil {
		return nil, decodeErr("book bids", err)
	}
	asks, err := parseLevels(wire.Asks)
	if err != nil {
		return nil, decodeErr("book asks", err)
	}

	return []DomainEvent{BookSnapshot{AssetID: wire.AssetID, Bids: bids, Asks: asks}}, nil
}

func decodePriceChange(data []byte) ([]DomainEvent, error) {
	var wire priceChangeWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, decodeErr("malformed price_change frame", err)
	}

	changes := wire.Changes
	if len(changes) == 0 {
		changes = wire.PriceChanges
	}
	if len(changes) == 0 {
		return nil, decodeErr("price_change frame with no changes", nil)
	}

	events := make([]DomainEvent, 0, len(changes))
	for _, ch := range changes {
		assetID := ch.AssetID
		if assetID == "" {
			assetID = wire.AssetID
		}
		if assetID == "" {
			return nil, decodeErr("price_change missing asset_id", nil)
		}

		side, err := parseSide(ch.Side)
		if err != nil {
			return nil, decodeErr("price_change side", err)
		}

		// The new best on the changed side, when the frame carries it;
		// otherwise the changed level itself is the best.
		priceStr := ch.Price
		switch side {
		case model.SideBid:
			if ch.BestBid != "" {
				priceStr = ch.BestBid
			} else if wire.BestBid != "" {
				priceStr = wire.BestBid
			}
		case model.SideAsk:
			if ch.BestAsk != "" {
				priceStr = ch.BestAsk
			} else if wire.BestAsk != "" {
				priceStr = wire.BestAsk
			}
		}

		price, err := decimal.NewFromString(priceStr)
		if err != nil {
			return nil, decodeErr("price_change price", err)
		}
		size, err := parseSize(ch.Size)
		if err != nil {
			return nil, decodeErr("price_change size", err)
		}

		events = append(events, BookDelta{
			AssetID: assetID,
			Side:    side,
			Price:   price,
			Size:    size,
		})
	}

	return events, nil
}

func decodeAck(data []byte) ([]DomainEvent, error) {
	var wire ackWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, decodeErr("malformed subscribed frame", err)
	}

	ids := wire.AssetsIDs
	if len(ids) == 0 {
		ids = wire.AssetIDs
	}
	return []DomainEvent{SubscriptionAck{AssetIDs: ids}}, nil
}

func parseLevels(wires []levelWire) ([]model.BookLevel, error) {
	levels := make([]model.BookLevel, 0, len(wires))
	for _, w := range wires {
		price, err := decimal.NewFromString(w.Price)
		if err != nil {
			return nil, fmt.Errorf("price %q: %w", w.Price, err)
		}
		size, err := parseSize(w.Size)
		if err != nil {
			return nil, err
		}
		levels = append(levels, model.BookLevel{Price: price, Size: size})
	}
	return levels, nil
}

func parseSize(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	size, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("size %q: %w", s, err)
	}
	return size, nil
}

func parseSide(s string) (model.Side, error) {
	switch strings.ToUpper(s) {
	case "BUY", "BID":
		return model.SideBid, nil
	case "SELL", "ASK":
		return model.SideAsk, nil
	default:
		return "", fmt.Errorf("unknown side %q", s)
	}
}
