package envelope

import (
	"bytes"
	"encoding/hex"
	"fmt"

	serrors "github.com/nixsecrets/nixos-secrets/internal/errors"

	"github.com/fxamacker/cbor/v2"
	"golang.org/x/crypto/nacl/secretbox"
)

// magic prefixes every serialized envelope.
var magic = []byte("NXSE")

const fingerprintLen = 64

type wireStanza struct {
	Fingerprint string `cbor:"1,keyasint"`
	Share       []byte `cbor:"2,keyasint"`
}

type wireEnvelope struct {
	Version    uint64       `cbor:"1,keyasint"`
	Recipients []wireStanza `cbor:"2,keyasint"`
	Payload    []byte       `cbor:"3,keyasint"`
}

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	decMode, err = cbor.DecOptions{
		DupMapKey:         cbor.DupMapKeyEnforcedAPF,
		IndefLength:       cbor.IndefLengthForbidden,
		ExtraReturnErrors: cbor.ExtraDecErrorUnknownField,
	}.DecMode()
	if err != nil {
		panic(err)
	}
}

// Serialize encodes the envelope into its on-disk form: the magic bytes
// followed by a deterministic CBOR map.
func Serialize(env *Envelope) ([]byte, error) {
	if err := validate(env); err != nil {
		return nil, err
	}
	wire := wireEnvelope{
		Version:    uint64(env.Version),
		Recipients: make([]wireStanza, len(env.Recipients)),
		Payload:    env.Payload,
	}
	for i, s := range env.Recipients {
		wire.Recipients[i] = wireStanza{Fingerprint: s.Fingerprint, Share: s.Share}
	}
	body, err := encMode.Marshal(wire)
	if err != nil {
		return nil, fmt.Errorf("encoding envelope: %w", err)
	}
	return append(append([]byte(nil), magic...), body...), nil
}

// Parse decodes an envelope produced by Serialize. Any structural problem
// is reported as ErrMalformedEnvelope.
func Parse(data []byte) (*Envelope, error) {
	if !bytes.HasPrefix(data, magic) {
		return nil, fmt.Errorf("%w: missing magic header", serrors.ErrMalformedEnvelope)
	}

	var wire wireEnvelope
	if err := decMode.Unmarshal(data[len(magic):], &wire); err != nil {
		return nil, fmt.Errorf("%w: %v", serrors.ErrMalformedEnvelope, err)
	}
	if wire.Version != Version {
		return nil, fmt.Errorf("%w: unsupported version %d", serrors.ErrMalformedEnvelope, wire.Version)
	}

	env := &Envelope{
		Version:    int(wire.Version),
		Recipients: make([]Stanza, len(wire.Recipients)),
		Payload:    wire.Payload,
	}
	for i, s := range wire.Recipients {
		env.Recipients[i] = Stanza{Fingerprint: s.Fingerprint, Share: s.Share}
	}
	if err := validate(env); err != nil {
		return nil, err
	}
	return env, nil
}

func validate(env *Envelope) error {
	if env == nil {
		return fmt.Errorf("%w: nil envelope", serrors.ErrMalformedEnvelope)
	}
	if env.Version != Version {
		return fmt.Errorf("%w: unsupported version %d", serrors.ErrMalformedEnvelope, env.Version)
	}
	if len(env.Recipients) == 0 {
		return fmt.Errorf("%w: no recipients", serrors.ErrMalformedEnvelope)
	}
	seen := make(map[string]bool, len(env.Recipients))
	for _, s := range env.Recipients {
		if !validFingerprint(s.Fingerprint) {
			return fmt.Errorf("%w: invalid fingerprint %q", serrors.ErrMalformedEnvelope, s.Fingerprint)
		}
		if seen[s.Fingerprint] {
			return fmt.Errorf("%w: duplicate fingerprint %s", serrors.ErrMalformedEnvelope, s.Fingerprint)
		}
		seen[s.Fingerprint] = true
		if len(s.Share) == 0 {
			return fmt.Errorf("%w: empty share for %s", serrors.ErrMalformedEnvelope, s.Fingerprint)
		}
	}
	if len(env.Payload) < nonceSize+secretbox.Overhead {
		return fmt.Errorf("%w: payload truncated", serrors.ErrMalformedEnvelope)
	}
	return nil
}

func validFingerprint(fp string) bool {
	if len(fp) != fingerprintLen {
		return false
	}
	for i := 0; i < len(fp); i++ {
		c := fp[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	_, err := hex.DecodeString(fp)
	return err == nil
}
