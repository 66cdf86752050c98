// Package serversession provides the server-side session and token
// lifecycle engine for an OpenID Connect provider: encrypted
// authentication tickets, queryable session records, remembered consent,
// background expiration, and coordinated revocation with backchannel
// logout.
//
// The package is designed for concurrent server workloads: Engine
// methods are safe to call from multiple goroutines after initialization
// through [Builder.Build].
//
// # Architecture boundaries
//
// serversession is the public surface. It exposes [Engine], [Builder],
// [Config], and value types (RevocationRequest, MetricsSnapshot). The
// building blocks live in subpackages — session records and stores in
// session, ticket encryption in ticket, consent decisions in consent,
// logout token signing and delivery in backchannel — and are importable
// directly when a host needs only one of them.
//
// # Storage
//
// Session and consent records persist through pluggable stores. The
// in-process stores serve tests and single-node embedding; the Redis
// stores make sessions survive restarts and visible across instances.
// All records are namespaced under a partition key derived from the
// application name and authentication scheme, so co-hosted applications
// sharing one Redis never see each other's sessions.
//
// # Failure model
//
// Sentinel errors ([ErrConflict], [ErrNotFound], [ErrTicketCorrupt],
// [ErrStoreUnavailable]) are matched with errors.Is. A vanished record
// on an update or delete path is an expected concurrency outcome, not a
// fault; an unreadable ticket tears its session down and forces
// re-authentication.
package serversession
