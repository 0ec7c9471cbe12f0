// Package vault is the encrypting entity client. It turns records into encrypted
// envelopes, writes them through a single ordered write queue and decrypts them on read.
//
// Writes:
//
//	Create, CreateSensor, Update, Delete and Extend validate their input, encrypt the
//	sensitive fields (Record.Data, or temperature and humidity of a SensorReading) with
//	the process cipher and enqueue the mutation. The queue worker signs every attempt
//	with the client identity for the nonce the store currently expects, so retries after
//	a transient failure never reuse a stale transaction. A payload is only handed to
//	the store after a final check that no encrypted field equals its plaintext.
//
// Reads:
//
//	Read queries by type attribute and decodes every entity independently. A record
//	that can not be decrypted carries decryptionError, the remaining records are still
//	returned.
//
// A client without identity is read only, every mutation fails with a ConfigurationError.
package vault
