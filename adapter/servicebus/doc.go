// Package servicebus provides an Azure Service Bus bus for xpub, speaking
// AMQP 1.0 directly through github.com/Azure/go-amqp.
//
// Transport name: "azure-servicebus"
//
// A publisher destination is a queue or topic name. The bus is configured
// with a namespace connection string:
//
//	Endpoint=sb://<ns>.servicebus.windows.net/;SharedAccessKeyName=<name>;SharedAccessKey=<key>
//
// which authenticates with SASL PLAIN. UseDevelopmentEmulator=true switches
// to plain amqp:// for the local emulator.
//
// Envelope mapping:
//   - ID -> message-id, CorrelationID -> correlation-id, Subject -> subject
//   - ContentType -> content-type, ProducedAt -> creation-time
//   - SessionKey -> group-id (the Service Bus SessionId)
//   - PartitionKey -> x-opt-partition-key annotation
//   - Metadata -> application properties
//
// A batch of more than one envelope is sent as one Service Bus batch
// message, so the broker accepts or rejects it as a whole. Batches are
// bounded by the link's max message size (256 KiB on the standard tier).
package servicebus
