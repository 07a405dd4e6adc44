// Package envelope seals secret plaintext to a set of recipients and
// frames the result for storage.
//
// # Encryption Architecture
//
// Every envelope uses a hybrid scheme:
//
//  1. A random 256-bit data key seals the plaintext with NaCl secretbox
//  2. The engine seals a copy of the data key to each recipient's public key
//  3. A recipient unseals its copy, then opens the payload
//
// Re-encoding the same plaintext produces different output because both the
// data key and the 24-byte nonce are fresh each time.
//
// # Wire Format
//
// A serialized envelope is the four bytes "NXSE" followed by a
// deterministic CBOR map:
//
//	{1: version, 2: [{1: fingerprint, 2: share}, ...], 3: nonce || ciphertext}
//
// Stanzas are sorted by fingerprint. Parse rejects anything Serialize would
// not produce with ErrMalformedEnvelope.
package envelope
