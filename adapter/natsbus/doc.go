// Package natsbus provides a core NATS bus for xpub.
//
// Transport name: "nats"
//
// A publisher destination is a NATS subject. Envelope fields travel as
// message headers (the id as Nats-Msg-Id so JetStream streams can
// deduplicate); the body is the payload. A batch is published message by
// message and then flushed once, so SendBatch returns only after the server
// has seen the whole batch. Core NATS has no batch atomicity; a failed
// flush can leave part of the batch delivered.
//
// Config keys:
//   - url: server URL list (default nats.DefaultURL)
//   - name, user, password, token
//   - timeout: connect timeout (default 2s)
//   - max_reconnects, reconnect_wait
//   - flush_timeout: bound of the per-batch flush (default 5s)
//   - max_batch_bytes: byte bound of one batch (default 1 MiB)
//   - max_batch_messages: envelope bound of one batch (default 0 = unbounded)
//
// Every envelope must also fit the server's max_payload, which the batch
// enforces per envelope.
package natsbus
