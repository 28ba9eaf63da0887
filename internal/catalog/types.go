package catalog

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Errors
var (
	// ErrNotFound means the slug or id matched no catalog event.
	ErrNotFound = errors.New("event not found")

	// ErrUnavailable means the catalog could not be reached or kept
	// failing after retries.
	ErrUnavailable = errors.New("catalog unavailable")

	// ErrUnsupportedShape means the event's market structure does not map
	// to a 2- or 3-outcome set.
	ErrUnsupportedShape = errors.New("unsupported event shape")
)

// APIError is an HTTP-level error from the catalog.
type APIError struct {
	StatusCode int
	Message    string
	Body       []byte
}

func (e *APIError) Error() string {
	return fmt.Sprintf("catalog api error %d: %s", e.StatusCode, e.Message)
}

// IsRetryable returns true if the error should trigger a retry.
func (e *APIError) IsRetryable() bool {
	return e.StatusCode >= 500 || e.StatusCode == 429
}

// Token is one outcome token of a resolved event.
type Token struct {
	ID      string // CLOB asset id, subscribed on the feed
	Outcome string // Display label ("Chelsea", "Draw", ...)
}

// Resolution is the result of resolving an event reference.
type Resolution struct {
	EventID         string
	Title           string
	Slug            string
	Tokens          []Token
	ExpectedMembers int // len(Tokens), always 2 or 3
}

// apiEvent mirrors the catalog's event payload.
type apiEvent struct {
	ID      string      `json:"id"`
	Title   string      `json:"title"`
	Slug    string      `json:"slug"`
	Markets []apiMarket `json:"markets"`
}

// apiMarket mirrors one market within an event. The catalog encodes token
// ids and outcome names as JSON strings inside the JSON document.
type apiMarket struct {
	Question       string `json:"question"`
	GroupItemTitle string `json:"groupItemTitle"`
	ClobTokenIDs   string `json:"clobTokenIds"`
	Outcomes       string `json:"outcomes"`
	Active         bool   `json:"active"`
	Closed         bool   `json:"closed"`
}

// decodeStringArray parses the catalog's nested JSON-array-in-a-string
// fields (clobTokenIds, outcomes).
func decodeStringArray(s string) ([]string, error) {
	if s == "" {
		return nil, nil
	}
	var out []string
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return nil, fmt.Errorf("nested array %q: %w", s, err)
	}
	return out, nil
}
