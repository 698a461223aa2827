package tx

import (
	"bytes"

	"github.com/rawblock/veilwallet/internal/crypto"
	"github.com/rawblock/veilwallet/pkg/models"
)

// SerializePrefix emits the transaction prefix wire form.
func SerializePrefix(p *Prefix) ([]byte, error) {
	var buf bytes.Buffer
	writeUvarint(&buf, p.Version)
	writeUvarint(&buf, p.UnlockTime)

	if p.Version >= 4 {
		writeUvarint(&buf, uint64(p.TxType))
		writeUvarint(&buf, uint64(len(p.SourceAsset)))
		buf.WriteString(p.SourceAsset)
		writeUvarint(&buf, uint64(len(p.DestAsset)))
		buf.WriteString(p.DestAsset)
		writeUvarint(&buf, p.AmountBurnt)
	}

	writeUvarint(&buf, uint64(len(p.Inputs)))
	for _, in := range p.Inputs {
		switch v := in.(type) {
		case InputCoinbase:
			buf.WriteByte(inputTagCoinbase)
			writeUvarint(&buf, v.Height)
		case InputKey:
			buf.WriteByte(inputTagKey)
			writeUvarint(&buf, v.Amount)
			writeUvarint(&buf, uint64(len(v.RingOffsets)))
			for _, o := range v.RingOffsets {
				writeUvarint(&buf, o)
			}
			buf.Write(v.KeyImage[:])
		default:
			return nil, models.Errorf(models.ErrInternal, "unknown input variant %T", in)
		}
	}

	writeUvarint(&buf, uint64(len(p.Outputs)))
	for _, out := range p.Outputs {
		writeUvarint(&buf, out.Amount)
		switch v := out.Target.(type) {
		case TargetKey:
			buf.WriteByte(outputTagKey)
			buf.Write(v.Key[:])
		case TargetTaggedKey:
			buf.WriteByte(outputTagTaggedKey)
			buf.Write(v.Key[:])
			buf.WriteByte(v.ViewTag)
		case TargetCarrotV1:
			buf.WriteByte(outputTagCarrotV1)
			buf.Write(v.Key[:])
			buf.Write(v.ViewTag[:])
			buf.Write(v.EncryptedAnchor[:])
		default:
			return nil, models.Errorf(models.ErrInternal, "unknown output variant %T", out.Target)
		}
	}

	if len(p.Extra) > MaxExtraSize {
		return nil, models.Errorf(models.ErrMalformedTransaction, "extra is %d bytes, max %d", len(p.Extra), MaxExtraSize)
	}
	writeUvarint(&buf, uint64(len(p.Extra)))
	buf.Write(p.Extra)
	return buf.Bytes(), nil
}

func parsePrefix(r *reader) (Prefix, error) {
	var p Prefix
	var err error

	if p.Version, err = r.uvarint(); err != nil {
		return p, err
	}
	if p.Version == 0 || p.Version > 4 {
		return p, models.Errorf(models.ErrMalformedTransaction, "unsupported tx version %d", p.Version)
	}
	if p.UnlockTime, err = r.uvarint(); err != nil {
		return p, err
	}

	if p.Version >= 4 {
		tt, err := r.uvarint()
		if err != nil {
			return p, err
		}
		p.TxType = models.TxType(tt)
		if p.SourceAsset, err = r.shortString(); err != nil {
			return p, err
		}
		if p.DestAsset, err = r.shortString(); err != nil {
			return p, err
		}
		if p.AmountBurnt, err = r.uvarint(); err != nil {
			return p, err
		}
	}

	nIn, err := r.uvarint()
	if err != nil {
		return p, err
	}
	if nIn > uint64(r.remaining()) {
		return p, models.Errorf(models.ErrMalformedTransaction, "input count %d exceeds blob", nIn)
	}
	p.Inputs = make([]Input, 0, nIn)
	for i := uint64(0); i < nIn; i++ {
		tag, err := r.oneByte()
		if err != nil {
			return p, err
		}
		switch tag {
		case inputTagCoinbase:
			h, err := r.uvarint()
			if err != nil {
				return p, err
			}
			p.Inputs = append(p.Inputs, InputCoinbase{Height: h})
		case inputTagKey:
			var in InputKey
			if in.Amount, err = r.uvarint(); err != nil {
				return p, err
			}
			nOff, err := r.uvarint()
			if err != nil {
				return p, err
			}
			if nOff == 0 || nOff > uint64(r.remaining()) {
				return p, models.Errorf(models.ErrMalformedTransaction, "ring of %d offsets", nOff)
			}
			in.RingOffsets = make([]uint64, nOff)
			for j := range in.RingOffsets {
				if in.RingOffsets[j], err = r.uvarint(); err != nil {
					return p, err
				}
			}
			ki, err := r.byte32()
			if err != nil {
				return p, err
			}
			in.KeyImage = crypto.Point(ki)
			p.Inputs = append(p.Inputs, in)
		default:
			return p, models.Errorf(models.ErrMalformedTransaction, "unknown input tag %#x", tag)
		}
	}

	nOut, err := r.uvarint()
	if err != nil {
		return p, err
	}
	if nOut > uint64(r.remaining()) {
		return p, models.Errorf(models.ErrMalformedTransaction, "output count %d exceeds blob", nOut)
	}
	p.Outputs = make([]Output, 0, nOut)
	for i := uint64(0); i < nOut; i++ {
		var out Output
		if out.Amount, err = r.uvarint(); err != nil {
			return p, err
		}
		tag, err := r.oneByte()
		if err != nil {
			return p, err
		}
		switch tag {
		case outputTagKey:
			k, err := r.byte32()
			if err != nil {
				return p, err
			}
			out.Target = TargetKey{Key: crypto.Point(k)}
		case outputTagTaggedKey:
			k, err := r.byte32()
			if err != nil {
				return p, err
			}
			vt, err := r.oneByte()
			if err != nil {
				return p, err
			}
			out.Target = TargetTaggedKey{Key: crypto.Point(k), ViewTag: vt}
		case outputTagCarrotV1:
			k, err := r.byte32()
			if err != nil {
				return p, err
			}
			var tgt TargetCarrotV1
			tgt.Key = crypto.Point(k)
			vt, err := r.bytes(3)
			if err != nil {
				return p, err
			}
			copy(tgt.ViewTag[:], vt)
			an, err := r.bytes(16)
			if err != nil {
				return p, err
			}
			copy(tgt.EncryptedAnchor[:], an)
			out.Target = tgt
		default:
			return p, models.Errorf(models.ErrMalformedTransaction, "unknown output tag %#x", tag)
		}
		p.Outputs = append(p.Outputs, out)
	}

	extraLen, err := r.uvarint()
	if err != nil {
		return p, err
	}
	if extraLen > MaxExtraSize {
		return p, models.Errorf(models.ErrMalformedTransaction, "extra is %d bytes, max %d", extraLen, MaxExtraSize)
	}
	extra, err := r.bytes(int(extraLen))
	if err != nil {
		return p, err
	}
	p.Extra = append([]byte{}, extra...)
	return p, nil
}

// Serialize emits the full transaction (prefix plus RingCT section).
func Serialize(t *Transaction) ([]byte, error) {
	prefix, err := SerializePrefix(&t.Prefix)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	buf.Write(prefix)

	if t.Prefix.Version >= 2 {
		if t.Rct == nil {
			return nil, models.Errorf(models.ErrMalformedTransaction, "v%d transaction without rct section", t.Prefix.Version)
		}
		if err := serializeRctBase(&buf, t.Rct, len(t.Prefix.Outputs)); err != nil {
			return nil, err
		}
		if err := serializeRctPrunable(&buf, t.Rct); err != nil {
			return nil, err
		}
	}

	if buf.Len() > MaxTxSize {
		return nil, models.Errorf(models.ErrMalformedTransaction, "transaction is %d bytes, max %d", buf.Len(), MaxTxSize)
	}
	return buf.Bytes(), nil
}

// Parse decodes a full transaction and rejects trailing garbage.
func Parse(blob []byte) (*Transaction, error) {
	if len(blob) > MaxTxSize {
		return nil, models.Errorf(models.ErrMalformedTransaction, "transaction is %d bytes, max %d", len(blob), MaxTxSize)
	}
	r := newReader(blob)
	prefix, err := parsePrefix(r)
	if err != nil {
		return nil, err
	}
	t := &Transaction{Prefix: prefix}

	if prefix.Version >= 2 {
		rct, err := parseRct(r, &prefix)
		if err != nil {
			return nil, err
		}
		t.Rct = rct
	}
	if r.remaining() != 0 {
		return nil, models.Errorf(models.ErrMalformedTransaction, "%d trailing bytes", r.remaining())
	}
	return t, nil
}

func (r *reader) shortString() (string, error) {
	n, err := r.uvarint()
	if err != nil {
		return "", err
	}
	if n > 64 {
		return "", models.Errorf(models.ErrMalformedTransaction, "asset tag of %d bytes", n)
	}
	b, err := r.bytes(int(n))
	if err != nil {
		return "", err
	}
	return string(b), nil
}
