package errors

import "errors"

// Recipient errors indicate a recipient identifier or its key material could not be used.
var (
	// ErrUnknownRecipient indicates a recipient identifier did not resolve to a public key.
	ErrUnknownRecipient = errors.New("unknown recipient")

	// ErrPublicKeyNotFound indicates a recipient has no public key in the keyring.
	ErrPublicKeyNotFound = errors.New("public key not found")

	// ErrPrivateKeyNotFound indicates a recipient's private key is not available locally.
	ErrPrivateKeyNotFound = errors.New("private key not found")

	// ErrInvalidPublicKey indicates public key material is malformed or of the wrong type.
	ErrInvalidPublicKey = errors.New("invalid or unsupported public key")

	// ErrInvalidPrivateKey indicates private key material is malformed or of the wrong type.
	ErrInvalidPrivateKey = errors.New("invalid or unsupported private key")

	// ErrUnknownEngine indicates the configured cryptographic engine does not exist.
	ErrUnknownEngine = errors.New("unknown cryptographic engine")
)

// Manifest errors indicate structural problems with the declared secrets.
var (
	// ErrValidation indicates the manifest failed validation.
	ErrValidation = errors.New("manifest validation failed")

	// ErrInvalidSecretName indicates a secret name cannot be mapped to a storage path.
	ErrInvalidSecretName = errors.New("invalid secret name")

	// ErrDuplicateSecret indicates a secret name is declared more than once.
	ErrDuplicateSecret = errors.New("duplicate secret name")

	// ErrNoRecipients indicates a secret declares no recipients.
	ErrNoRecipients = errors.New("secret declares no recipients")

	// ErrNotInManifest indicates a secret is not declared in the manifest.
	ErrNotInManifest = errors.New("secret is not declared in the manifest")
)

// Cryptographic errors indicate failures during sealing or unsealing.
var (
	// ErrMalformedEnvelope indicates stored ciphertext could not be parsed.
	ErrMalformedEnvelope = errors.New("malformed envelope")

	// ErrEncryptionFailure indicates a secret could not be sealed to its recipients.
	ErrEncryptionFailure = errors.New("encryption failed")

	// ErrDecryptionFailure indicates the engine could not unseal a secret.
	ErrDecryptionFailure = errors.New("decryption failed")

	// ErrRecipientNotAuthorized indicates the recipient cannot decrypt this envelope.
	ErrRecipientNotAuthorized = errors.New("recipient is not authorized for this envelope")

	// ErrNoAuthorizedLocalKey indicates none of the envelope's recipients has a local private key.
	// This is the expected outcome when rekeying a secret the current machine cannot read.
	ErrNoAuthorizedLocalKey = errors.New("no authorized private key available locally")
)

// Store errors indicate issues with persisted envelopes.
var (
	// ErrSecretNotFound indicates no envelope exists for the secret.
	ErrSecretNotFound = errors.New("secret not found")

	// ErrSecretExists indicates an envelope already exists for the secret.
	ErrSecretExists = errors.New("secret already exists")

	// ErrPlaintextUnavailable indicates a new secret has no plaintext to seal.
	ErrPlaintextUnavailable = errors.New("no plaintext available for new secret")

	// ErrStoreLocked indicates another run holds the store lock.
	ErrStoreLocked = errors.New("secret store is locked by another process")
)

// Run errors aggregate per-secret outcomes.
var (
	// ErrPartialRunFailure indicates at least one secret failed or was skipped.
	ErrPartialRunFailure = errors.New("one or more secrets failed or were skipped")

	// ErrOrphanedSecret indicates an envelope exists for a secret that is no longer declared.
	ErrOrphanedSecret = errors.New("secret is no longer declared in the manifest")
)

// Input errors indicate invalid command arguments.
var (
	// ErrInvalidDateFormat indicates a date filter could not be parsed.
	ErrInvalidDateFormat = errors.New("invalid date format")
)
