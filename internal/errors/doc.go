// Package errors provides typed error values for nixos-secrets.
//
// Using sentinel errors allows callers to handle specific error conditions
// programmatically with errors.Is() rather than string matching. This makes
// error handling more robust and refactoring-safe.
//
// # Error Categories
//
// Errors are grouped by category:
//
//   - Recipient errors: identifiers or key material that cannot be used
//     (ErrUnknownRecipient, ErrPrivateKeyNotFound)
//   - Manifest errors: structural problems found before any work starts
//     (ErrValidation, ErrDuplicateSecret)
//   - Crypto errors: sealing and unsealing failures (ErrMalformedEnvelope,
//     ErrDecryptionFailure, ErrNoAuthorizedLocalKey)
//   - Store errors: persisted envelope state (ErrSecretNotFound)
//   - Run errors: aggregate outcome of a rekey pass (ErrPartialRunFailure)
//
// # Usage
//
// Wrap errors with additional context:
//
//	return nil, fmt.Errorf("resolving %s: %w", id, errors.ErrUnknownRecipient)
//
// Handle errors in the CLI layer:
//
//	report, err := workflows.Rekey(ctx, session, m, opts)
//	if errors.Is(err, serrors.ErrValidation) {
//	    // print every validation problem, no secret was touched
//	}
package errors
