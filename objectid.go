package vos

import "encoding/binary"

// Feature bits packed into ObjectID.Hi, per the on-disk object-id layout.
const (
	OIDDkeyUint64 uint64 = 1 << 0
	OIDDkeyLexical uint64 = 1 << 1
	OIDAkeyUint64 uint64 = 1 << 2
	OIDAkeyLexical uint64 = 1 << 3
)

// ObjectID is the 128-bit object identifier: Hi carries feature flags in
// its low bits, Lo is the caller-assigned identity.
type ObjectID struct {
	Hi uint64
	Lo uint64
}

// Bytes renders the id in a fixed 16-byte big-endian form suitable as a
// kbtr key (Hi then Lo, so ids sort by Hi first).
func (o ObjectID) Bytes() []byte {
	b := make([]byte, 16)
	binary.BigEndian.PutUint64(b[0:8], o.Hi)
	binary.BigEndian.PutUint64(b[8:16], o.Lo)
	return b
}

// ObjectIDFromBytes parses the encoding produced by Bytes.
func ObjectIDFromBytes(b []byte) (ObjectID, error) {
	if len(b) != 16 {
		return ObjectID{}, Wrap(ErrInval, "object id must be 16 bytes")
	}
	return ObjectID{
		Hi: binary.BigEndian.Uint64(b[0:8]),
		Lo: binary.BigEndian.Uint64(b[8:16]),
	}, nil
}

func (o ObjectID) dkeyLexical() bool { return o.Hi&OIDDkeyLexical != 0 }
func (o ObjectID) dkeyUint64() bool  { return o.Hi&OIDDkeyUint64 != 0 }
func (o ObjectID) akeyLexical() bool { return o.Hi&OIDAkeyLexical != 0 }
func (o ObjectID) akeyUint64() bool  { return o.Hi&OIDAkeyUint64 != 0 }

// validateFeatureBits enforces that UINT64 and LEXICAL are never both set
// for the same key kind.
func (o ObjectID) validateFeatureBits() error {
	if o.dkeyLexical() && o.dkeyUint64() {
		return Wrap(ErrInval, "object id sets both DKEY_UINT64 and DKEY_LEXICAL")
	}
	if o.akeyLexical() && o.akeyUint64() {
		return Wrap(ErrInval, "object id sets both AKEY_UINT64 and AKEY_LEXICAL")
	}
	return nil
}

// EpochMax is the sentinel meaning "unbounded future".
const EpochMax uint64 = ^uint64(0)

// Epoch is a monotonic versioning timestamp.
type Epoch = uint64
