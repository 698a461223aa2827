package address

import (
	"bytes"
	"encoding/binary"

	"github.com/rawblock/veilwallet/internal/crypto"
	"github.com/rawblock/veilwallet/pkg/models"
)

const checksumSize = 4

// Address is the decoded form of a chain address.
type Address struct {
	Network   models.Network
	Scheme    models.AddressScheme
	Kind      models.AddressKind
	SpendPub  crypto.Point
	ViewPub   crypto.Point
	PaymentID [8]byte // meaningful only when Kind == KindIntegrated
}

// Encode emits the base58 string form: Base58(varint(tag) ‖ body ‖ checksum).
func (a Address) Encode() (string, error) {
	tag, ok := prefixTable[prefixKey{a.Network, a.Scheme, a.Kind}]
	if !ok {
		return "", models.Errorf(models.ErrInvalidEncoding,
			"no prefix for %s/%s/%s", a.Network, a.Scheme, a.Kind)
	}

	var buf bytes.Buffer
	var varintBuf [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(varintBuf[:], tag)
	buf.Write(varintBuf[:n])
	buf.Write(a.SpendPub[:])
	buf.Write(a.ViewPub[:])
	if a.Kind == models.KindIntegrated {
		buf.Write(a.PaymentID[:])
	}

	sum := crypto.Keccak256(buf.Bytes())
	buf.Write(sum[:checksumSize])
	return EncodeBase58(buf.Bytes()), nil
}

// Parse decodes and validates a base58 address string.
func Parse(s string) (Address, error) {
	raw, err := DecodeBase58(s)
	if err != nil {
		return Address{}, err
	}
	if len(raw) < checksumSize+1 {
		return Address{}, models.Errorf(models.ErrInvalidEncoding, "address too short")
	}

	body := raw[:len(raw)-checksumSize]
	sum := crypto.Keccak256(body)
	if !bytes.Equal(sum[:checksumSize], raw[len(raw)-checksumSize:]) {
		return Address{}, models.Errorf(models.ErrInvalidEncoding, "address checksum mismatch")
	}

	tag, n := binary.Uvarint(body)
	if n <= 0 {
		return Address{}, models.Errorf(models.ErrInvalidEncoding, "bad address tag varint")
	}
	key, ok := tagLookup[tag]
	if !ok {
		return Address{}, models.Errorf(models.ErrInvalidEncoding, "unknown address tag %#x", tag)
	}

	payload := body[n:]
	wantLen := 64
	if key.Kind == models.KindIntegrated {
		wantLen = 72
	}
	if len(payload) != wantLen {
		return Address{}, models.Errorf(models.ErrInvalidEncoding,
			"address body is %d bytes, want %d for kind %s", len(payload), wantLen, key.Kind)
	}

	a := Address{Network: key.Network, Scheme: key.Scheme, Kind: key.Kind}
	copy(a.SpendPub[:], payload[:32])
	copy(a.ViewPub[:], payload[32:64])
	if key.Kind == models.KindIntegrated {
		copy(a.PaymentID[:], payload[64:72])
	}
	return a, nil
}

// New builds a standard or subaddress Address.
func New(net models.Network, scheme models.AddressScheme, kind models.AddressKind,
	spendPub, viewPub crypto.Point) (Address, error) {
	if kind == models.KindIntegrated {
		return Address{}, models.Errorf(models.ErrInvalidEncoding,
			"integrated addresses require a payment id; use NewIntegrated")
	}
	return Address{Network: net, Scheme: scheme, Kind: kind,
		SpendPub: spendPub, ViewPub: viewPub}, nil
}

// NewIntegrated builds an integrated Address carrying an 8-byte payment id.
func NewIntegrated(net models.Network, scheme models.AddressScheme,
	spendPub, viewPub crypto.Point, paymentID [8]byte) Address {
	return Address{Network: net, Scheme: scheme, Kind: models.KindIntegrated,
		SpendPub: spendPub, ViewPub: viewPub, PaymentID: paymentID}
}
