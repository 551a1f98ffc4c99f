// Package relay maintains websocket subscriptions and publications against a
// configurable set of public relay endpoints.
//
// The relays are untrusted rendezvous brokers: anything can be published to
// them and anything can arrive from them. Every inbound envelope is
// signature-verified at this boundary and dropped silently on failure, so a
// forged or corrupted message on one subscription never affects another.
//
// Each subscription is a cancellable stream delivering verified events on a
// channel; the RPC layer above consumes from that channel rather than
// registering callbacks, which keeps cancellation and backpressure explicit.
package relay
