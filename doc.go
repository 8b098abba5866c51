// `hive` supervises a pool of independent worker *processes* and gives
// them a typed message protocol to talk to their controller and to each
// other.
//
// ## How it works
//
// The first thing to do is to `Create` a `Pool` pointing at one or more
// worker commands, then `Pool.Spawn` it. Under the hood, each worker is
// launched with its stdin/stdout pipes as a bidirectional message
// conduit; the worker calls `Connect` as its very first action, which
// claims a *peer id* through a registration handshake. `Spawn` returns
// once every worker completed the handshake.
//
// From there, both sides share the same surface: `Send` for
// fire-and-forget messages, `Request`/`Call` for correlated
// request/response pairs, `Broadcast` for fan-out to every peer, and
// `On`/`Once` listener tables keyed by message kind. A reply is made
// with `Respond`, which links back to the request's uuid.
//
// When a worker process dies, the pool consults its restart supervisor:
// unless the worker used the reserved no-restart exit code (or restarts
// are disabled), it is relaunched with exponentially doubling delays,
// and sustained uptime past a grace period resets the backoff.
//
// ## Design Principles
//
// > `hive` is **best-effort**, **observable**, and **minimalist**.
//
// ### Best-Effort
//
// Messages to unknown peers are dropped, not errored: workers come and
// go (they crash, they restart, they deregister) and the protocol MUST
// NOT let a dying peer take its correspondents down with it. The only
// errors surfaced to callers are their own: a response timeout, a
// cancelled call, a closed pool. Everything else is a counter and a log
// line.
//
// ### Observable
//
// Precisely because so much is best-effort, every silent decision is
// counted: dropped messages (by reason), duplicate registrations,
// restarts, timeouts. Plug any `metrics.MetricSink` and a `slog.Handler`
// and nothing that happens is invisible.
//
// ### Minimalist
//
// `hive` is not an actor framework. It is a worker-pool supervisor with
// a message protocol, and the process-spawning primitive is an
// interface, so anything with a post-message and an exit event can be a
// "worker". Dependencies are kept small, actually, I can enumerate them:
//
// * [`hashicorp/go-metrics`][dep-met], to let you chose how to collect metrics.
// * [`google/uuid`][dep-uid], for message and peer identifiers.
// * [`cenkalti/backoff`][dep-bak], for the restart delay schedule.
// * [`goccy/go-json`][dep-jsn], to keep the envelope codec cheap.
// * [`protobuf`][dep-pbf], for the optional proto payload codec in `pkg/wire`.
//
// [dep-met]: https://github.com/hashicorp/go-metrics
// [dep-uid]: https://github.com/google/uuid
// [dep-bak]: https://github.com/cenkalti/backoff
// [dep-jsn]: https://github.com/goccy/go-json
// [dep-pbf]: https://github.com/protocolbuffers/protobuf-go
package hive
