// Package rpc turns method calls into signed, encrypted envelopes addressed
// to a peer over the relay pool, and correlates inbound encrypted responses
// back to their pending requests by id.
//
// Inbound envelopes that fail to decrypt are ignored rather than treated as
// protocol errors: on a public relay they are usually cross-talk from an
// unrelated exchange. Responses for unknown or already-resolved ids are
// ignored the same way, which makes duplicate relay delivery harmless.
package rpc
