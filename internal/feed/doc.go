// Package feed implements the upstream feed transport.
//
// The transport:
//   - Maintains one persistent WebSocket connection to the venue
//   - Probes liveness with periodic pings; a missed response is treated
//     as connection loss
//   - Reconnects forever with jittered exponential backoff
//   - Replays the entire desired subscription set after every reconnect
//     (the venue cannot resume a prior session)
//   - Delivers inbound frames, in receipt order, to the processing path
package feed
