// Package redisstream provides a Redis Streams bus for xpub.
//
// Transport name: "redis-streams"
//
// Every publisher destination is a stream. A batch is written as one XADD
// per envelope wrapped in MULTI/EXEC, so a batch costs one network round
// trip, its entries are contiguous in the stream, and a connection lost
// before EXEC writes nothing. Redis does not roll back commands that fail
// inside EXEC; with well-formed XADDs on a stream key that does not occur.
//
// Config keys:
//   - addr: "host:port" (default "127.0.0.1:6379")
//   - username, password, db
//   - tls, tls_server_name
//   - max_len_approx: approximate MAXLEN trimming per XADD (default 0 = off)
//   - max_batch_bytes: byte bound of one batch (default 1 MiB)
//   - max_batch_messages: envelope bound of one batch (default 0 = unbounded)
//   - dial_timeout: startup ping timeout (default 2s)
//
// Example:
//
//	reg, closeFn, err := xpub.NewRegistryBuilder().
//	    WithBus(xpub.BusConfig{
//	        Name:      "orders-bus",
//	        Transport: redisstream.TransportName,
//	        Options: map[string]any{
//	            "addr":            "localhost:6379",
//	            "max_len_approx":  int64(100_000),
//	            "max_batch_bytes": 512 * 1024,
//	        },
//	    }).
//	    Build(ctx)
package redisstream
