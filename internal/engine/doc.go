// Package engine adapts asymmetric cryptography libraries to the small
// interface the secret store needs.
//
// An Engine seals a short payload (the per-secret data key) to one
// recipient's public key and unseals it with a private key. It never sees
// secret plaintext directly; the envelope package does the symmetric part.
//
// # Engines
//
//   - age: filippo.io/age X25519 recipients (default)
//   - box: NaCl anonymous boxes
//   - rsa: RSA-OAEP with PEM or OpenSSH keys
//   - pgp: OpenPGP keys, compatible with keys exported from GnuPG
//
// # Key Material
//
// A Keyring names the directories holding <id>.pub and <id>.key files. It is
// passed explicitly to the engine constructor and lives for one run:
//
//	eng, err := engine.New("age", engine.Keyring{
//	    PublicDir:  "keys/public",
//	    PrivateDir: "/var/lib/nixos-secrets/keys",
//	})
//
// Private keys are parsed on first use, so a locked or corrupted key only
// fails the secrets that actually need it.
package engine
