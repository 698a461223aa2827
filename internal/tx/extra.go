package tx

import (
	"bytes"

	"github.com/rawblock/veilwallet/internal/crypto"
	"github.com/rawblock/veilwallet/pkg/models"
)

// Extra field TLV tags.
const (
	extraTagPadding        = 0x00
	extraTagPubKey         = 0x01
	extraTagNonce          = 0x02
	extraTagAdditionalKeys = 0x04
	extraTagEphemeralPub   = 0x05 // new-scheme X25519 ephemeral key
)

// Nonce sub-tags.
const (
	nonceTagPaymentID          = 0x00 // 32-byte unencrypted
	nonceTagEncryptedPaymentID = 0x01 // 8-byte encrypted
)

const maxNonceSize = 255

// ExtraFields is the decoded view of a transaction's extra blob.
type ExtraFields struct {
	TxPubKey           *crypto.Point
	AdditionalPubKeys  []crypto.Point
	PaymentID          []byte // 32 bytes when present
	EncryptedPaymentID []byte // 8 bytes when present
	EphemeralPub       *crypto.MontgomeryPoint
	Unknown            []byte // opaque remainder after an unrecognized tag
}

// ParseExtra decodes the TLV list. Unknown tags consume the remainder as
// opaque data; padding must be trailing zeros.
func ParseExtra(extra []byte) (ExtraFields, error) {
	var out ExtraFields
	if len(extra) > MaxExtraSize {
		return out, models.Errorf(models.ErrMalformedTransaction, "extra is %d bytes, max %d", len(extra), MaxExtraSize)
	}

	r := newReader(extra)
	for r.remaining() > 0 {
		tag, err := r.oneByte()
		if err != nil {
			return out, err
		}
		switch tag {
		case extraTagPadding:
			rest, _ := r.bytes(r.remaining())
			for _, b := range rest {
				if b != 0 {
					return out, models.Errorf(models.ErrMalformedTransaction, "nonzero byte inside extra padding")
				}
			}
			return out, nil

		case extraTagPubKey:
			k, err := r.byte32()
			if err != nil {
				return out, err
			}
			p := crypto.Point(k)
			out.TxPubKey = &p

		case extraTagNonce:
			n, err := r.uvarint()
			if err != nil {
				return out, err
			}
			if n > maxNonceSize {
				return out, models.Errorf(models.ErrMalformedTransaction, "extra nonce of %d bytes", n)
			}
			payload, err := r.bytes(int(n))
			if err != nil {
				return out, err
			}
			if len(payload) > 0 {
				switch payload[0] {
				case nonceTagPaymentID:
					if len(payload) != 33 {
						return out, models.Errorf(models.ErrMalformedTransaction, "payment id nonce of %d bytes", len(payload))
					}
					out.PaymentID = append([]byte{}, payload[1:]...)
				case nonceTagEncryptedPaymentID:
					if len(payload) != 9 {
						return out, models.Errorf(models.ErrMalformedTransaction, "encrypted payment id nonce of %d bytes", len(payload))
					}
					out.EncryptedPaymentID = append([]byte{}, payload[1:]...)
				}
			}

		case extraTagAdditionalKeys:
			n, err := r.uvarint()
			if err != nil {
				return out, err
			}
			if n > 255 {
				return out, models.Errorf(models.ErrMalformedTransaction, "%d additional pubkeys", n)
			}
			out.AdditionalPubKeys = make([]crypto.Point, n)
			for i := range out.AdditionalPubKeys {
				k, err := r.byte32()
				if err != nil {
					return out, err
				}
				out.AdditionalPubKeys[i] = crypto.Point(k)
			}

		case extraTagEphemeralPub:
			k, err := r.byte32()
			if err != nil {
				return out, err
			}
			p := crypto.MontgomeryPoint(k)
			out.EphemeralPub = &p

		default:
			rest, _ := r.bytes(r.remaining())
			out.Unknown = append([]byte{}, rest...)
			return out, nil
		}
	}
	return out, nil
}

// BuildExtra emits the TLV list in canonical tag order.
func BuildExtra(f ExtraFields) ([]byte, error) {
	var buf bytes.Buffer

	if f.TxPubKey != nil {
		buf.WriteByte(extraTagPubKey)
		buf.Write(f.TxPubKey[:])
	}
	if f.PaymentID != nil {
		if len(f.PaymentID) != 32 {
			return nil, models.Errorf(models.ErrMalformedTransaction, "payment id must be 32 bytes")
		}
		buf.WriteByte(extraTagNonce)
		writeUvarint(&buf, uint64(1+len(f.PaymentID)))
		buf.WriteByte(nonceTagPaymentID)
		buf.Write(f.PaymentID)
	}
	if f.EncryptedPaymentID != nil {
		if len(f.EncryptedPaymentID) != 8 {
			return nil, models.Errorf(models.ErrMalformedTransaction, "encrypted payment id must be 8 bytes")
		}
		buf.WriteByte(extraTagNonce)
		writeUvarint(&buf, uint64(1+len(f.EncryptedPaymentID)))
		buf.WriteByte(nonceTagEncryptedPaymentID)
		buf.Write(f.EncryptedPaymentID)
	}
	if len(f.AdditionalPubKeys) > 0 {
		buf.WriteByte(extraTagAdditionalKeys)
		writeUvarint(&buf, uint64(len(f.AdditionalPubKeys)))
		for i := range f.AdditionalPubKeys {
			buf.Write(f.AdditionalPubKeys[i][:])
		}
	}
	if f.EphemeralPub != nil {
		buf.WriteByte(extraTagEphemeralPub)
		buf.Write(f.EphemeralPub[:])
	}

	if buf.Len() > MaxExtraSize {
		return nil, models.Errorf(models.ErrMalformedTransaction, "extra is %d bytes, max %d", buf.Len(), MaxExtraSize)
	}
	return buf.Bytes(), nil
}
