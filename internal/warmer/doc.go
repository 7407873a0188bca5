// Package warmer implements the network warm-up pipeline.
//
// A run executes three stages strictly in order on a single supervised
// worker goroutine:
//
//  1. reachability: HTTPS GET against a fixed target list
//  2. datagram: a two-byte UDP send to public resolvers
//  3. throughput: server discovery plus download/upload measurement
//
// Progress is reported as an ordered stream of Events ending in exactly one
// EventDone. Cancellation is cooperative: Cancel sets a flag that is polled
// before each stage, before each probe and between throughput steps. A probe
// already in flight is allowed to finish.
package warmer
