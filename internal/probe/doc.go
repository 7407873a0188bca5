// Package probe holds the network primitives behind the warm-up stages:
// an HTTP reachability fetcher and a UDP datagram sender.
package probe
