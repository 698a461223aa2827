package tx

import (
	"bytes"

	"github.com/rawblock/veilwallet/internal/crypto"
	"github.com/rawblock/veilwallet/internal/ringct"
	"github.com/rawblock/veilwallet/pkg/models"
)

// The RingCT section splits into a base (fee, encrypted amounts, output
// commitments) that is part of the signed message, and a prunable tail
// (range proofs, ring signatures, pseudo-outputs) nodes may drop after
// verification. Serialization must keep the two byte-separable because the
// v2+ transaction hash commits to them independently.

func serializeRctBase(buf *bytes.Buffer, rct *RctSignatures, nOutputs int) error {
	buf.WriteByte(rct.RctType)
	if rct.RctType == RctTypeNull {
		return nil
	}
	writeUvarint(buf, rct.TxFee)

	if len(rct.EcdhInfo) != nOutputs || len(rct.OutCommitments) != nOutputs {
		return models.Errorf(models.ErrMalformedTransaction,
			"rct base carries %d/%d entries for %d outputs", len(rct.EcdhInfo), len(rct.OutCommitments), nOutputs)
	}
	for i := range rct.EcdhInfo {
		buf.Write(rct.EcdhInfo[i][:])
	}
	for i := range rct.OutCommitments {
		buf.Write(rct.OutCommitments[i][:])
	}
	return nil
}

func serializeRctPrunable(buf *bytes.Buffer, rct *RctSignatures) error {
	switch {
	case rct.RctType == RctTypeNull:
		return nil

	case usesBulletproofPlus(rct.RctType):
		writeUvarint(buf, uint64(len(rct.BulletproofsPlus)))
		for _, bp := range rct.BulletproofsPlus {
			serializeBpPlus(buf, bp)
		}

	case rct.RctType == RctTypeCLSAG:
		writeUvarint(buf, uint64(len(rct.Bulletproofs)))
		for _, bp := range rct.Bulletproofs {
			serializeBp(buf, bp)
		}

	default: // Full / Simple / FullProofs carry borromean ranges
		writeUvarint(buf, uint64(len(rct.BorromeanRanges)))
		for _, br := range rct.BorromeanRanges {
			serializeBorromean(buf, br)
		}
	}

	switch {
	case rct.RctType == RctTypeSalviumOne:
		writeUvarint(buf, uint64(len(rct.TwinClsags)))
		for _, cl := range rct.TwinClsags {
			writeUvarint(buf, uint64(len(cl.S)))
			for i := range cl.S {
				buf.Write(cl.S[i][:])
			}
			for i := range cl.U {
				buf.Write(cl.U[i][:])
			}
			buf.Write(cl.C1[:])
			buf.Write(cl.D[:])
		}
	case usesClsag(rct.RctType):
		writeUvarint(buf, uint64(len(rct.Clsags)))
		for _, cl := range rct.Clsags {
			writeUvarint(buf, uint64(len(cl.S)))
			for i := range cl.S {
				buf.Write(cl.S[i][:])
			}
			buf.Write(cl.C1[:])
			buf.Write(cl.D[:])
		}
	default:
		writeUvarint(buf, uint64(len(rct.Mlsags)))
		for _, ml := range rct.Mlsags {
			writeUvarint(buf, uint64(len(ml.SS)))
			for i := range ml.SS {
				writeUvarint(buf, uint64(len(ml.SS[i])))
				for j := range ml.SS[i] {
					buf.Write(ml.SS[i][j][:])
				}
			}
			buf.Write(ml.CC[:])
		}
	}

	writeUvarint(buf, uint64(len(rct.PseudoOuts)))
	for i := range rct.PseudoOuts {
		buf.Write(rct.PseudoOuts[i][:])
	}
	return nil
}

func serializeBpPlus(buf *bytes.Buffer, bp *ringct.BulletproofPlus) {
	writeUvarint(buf, uint64(len(bp.V)))
	for i := range bp.V {
		buf.Write(bp.V[i][:])
	}
	buf.Write(bp.A[:])
	buf.Write(bp.A1[:])
	buf.Write(bp.B[:])
	buf.Write(bp.R1[:])
	buf.Write(bp.S1[:])
	buf.Write(bp.D1[:])
	writeUvarint(buf, uint64(len(bp.L)))
	for i := range bp.L {
		buf.Write(bp.L[i][:])
	}
	writeUvarint(buf, uint64(len(bp.R)))
	for i := range bp.R {
		buf.Write(bp.R[i][:])
	}
}

func serializeBp(buf *bytes.Buffer, bp *Bulletproof) {
	buf.Write(bp.A[:])
	buf.Write(bp.S[:])
	buf.Write(bp.T1[:])
	buf.Write(bp.T2[:])
	buf.Write(bp.Taux[:])
	buf.Write(bp.Mu[:])
	writeUvarint(buf, uint64(len(bp.L)))
	for i := range bp.L {
		buf.Write(bp.L[i][:])
	}
	writeUvarint(buf, uint64(len(bp.R)))
	for i := range bp.R {
		buf.Write(bp.R[i][:])
	}
	buf.Write(bp.Aa[:])
	buf.Write(bp.Bb[:])
	buf.Write(bp.Tt[:])
}

func serializeBorromean(buf *bytes.Buffer, br *BorromeanRange) {
	for i := range br.S0 {
		buf.Write(br.S0[i][:])
	}
	for i := range br.S1 {
		buf.Write(br.S1[i][:])
	}
	buf.Write(br.EE[:])
	for i := range br.Ci {
		buf.Write(br.Ci[i][:])
	}
}

func parseRct(r *reader, prefix *Prefix) (*RctSignatures, error) {
	rctType, err := r.oneByte()
	if err != nil {
		return nil, err
	}
	rct := &RctSignatures{RctType: rctType}

	switch rctType {
	case RctTypeNull:
		return rct, nil
	case RctTypeFull, RctTypeSimple, RctTypeFullProofs,
		RctTypeCLSAG, RctTypeBulletproofPlus, RctTypeSalviumZero, RctTypeSalviumOne:
	default:
		return nil, models.Errorf(models.ErrMalformedTransaction, "unknown rct type %d", rctType)
	}

	if rct.TxFee, err = r.uvarint(); err != nil {
		return nil, err
	}

	nOut := len(prefix.Outputs)
	rct.EcdhInfo = make([][8]byte, nOut)
	for i := range rct.EcdhInfo {
		if rct.EcdhInfo[i], err = r.byteN8(); err != nil {
			return nil, err
		}
	}
	rct.OutCommitments = make([]crypto.Point, nOut)
	for i := range rct.OutCommitments {
		b, err := r.byte32()
		if err != nil {
			return nil, err
		}
		rct.OutCommitments[i] = crypto.Point(b)
	}

	// Prunable tail.
	switch {
	case usesBulletproofPlus(rctType):
		n, err := r.uvarint()
		if err != nil {
			return nil, err
		}
		if n > uint64(r.remaining()) {
			return nil, models.Errorf(models.ErrMalformedTransaction, "%d bulletproof+ entries", n)
		}
		rct.BulletproofsPlus = make([]*ringct.BulletproofPlus, n)
		for i := range rct.BulletproofsPlus {
			if rct.BulletproofsPlus[i], err = parseBpPlus(r); err != nil {
				return nil, err
			}
		}
	case rctType == RctTypeCLSAG:
		n, err := r.uvarint()
		if err != nil {
			return nil, err
		}
		if n > uint64(r.remaining()) {
			return nil, models.Errorf(models.ErrMalformedTransaction, "%d bulletproof entries", n)
		}
		rct.Bulletproofs = make([]*Bulletproof, n)
		for i := range rct.Bulletproofs {
			if rct.Bulletproofs[i], err = parseBp(r); err != nil {
				return nil, err
			}
		}
	default:
		n, err := r.uvarint()
		if err != nil {
			return nil, err
		}
		if n > uint64(r.remaining()) {
			return nil, models.Errorf(models.ErrMalformedTransaction, "%d borromean entries", n)
		}
		rct.BorromeanRanges = make([]*BorromeanRange, n)
		for i := range rct.BorromeanRanges {
			if rct.BorromeanRanges[i], err = parseBorromean(r); err != nil {
				return nil, err
			}
		}
	}

	if rctType == RctTypeSalviumOne {
		n, err := r.uvarint()
		if err != nil {
			return nil, err
		}
		if n > uint64(r.remaining()) {
			return nil, models.Errorf(models.ErrMalformedTransaction, "%d twin clsag entries", n)
		}
		rct.TwinClsags = make([]*ringct.TwinClsag, n)
		for i := range rct.TwinClsags {
			cl := &ringct.TwinClsag{}
			ns, err := r.uvarint()
			if err != nil {
				return nil, err
			}
			if ns > uint64(r.remaining()) {
				return nil, models.Errorf(models.ErrMalformedTransaction, "%d twin responses", ns)
			}
			cl.S = make([]crypto.Scalar, ns)
			cl.U = make([]crypto.Scalar, ns)
			for j := range cl.S {
				b, err := r.byte32()
				if err != nil {
					return nil, err
				}
				cl.S[j] = crypto.Scalar(b)
			}
			for j := range cl.U {
				b, err := r.byte32()
				if err != nil {
					return nil, err
				}
				cl.U[j] = crypto.Scalar(b)
			}
			b, err := r.byte32()
			if err != nil {
				return nil, err
			}
			cl.C1 = crypto.Scalar(b)
			if b, err = r.byte32(); err != nil {
				return nil, err
			}
			cl.D = crypto.Point(b)
			if i < len(prefix.Inputs) {
				if in, ok := prefix.Inputs[i].(InputKey); ok {
					cl.I = in.KeyImage
				}
			}
			rct.TwinClsags[i] = cl
		}
	} else if usesClsag(rctType) {
		n, err := r.uvarint()
		if err != nil {
			return nil, err
		}
		if n > uint64(r.remaining()) {
			return nil, models.Errorf(models.ErrMalformedTransaction, "%d clsag entries", n)
		}
		rct.Clsags = make([]*ringct.Clsag, n)
		for i := range rct.Clsags {
			cl := &ringct.Clsag{}
			ns, err := r.uvarint()
			if err != nil {
				return nil, err
			}
			if ns > uint64(r.remaining()) {
				return nil, models.Errorf(models.ErrMalformedTransaction, "%d clsag responses", ns)
			}
			cl.S = make([]crypto.Scalar, ns)
			for j := range cl.S {
				b, err := r.byte32()
				if err != nil {
					return nil, err
				}
				cl.S[j] = crypto.Scalar(b)
			}
			b, err := r.byte32()
			if err != nil {
				return nil, err
			}
			cl.C1 = crypto.Scalar(b)
			if b, err = r.byte32(); err != nil {
				return nil, err
			}
			cl.D = crypto.Point(b)
			// The linkable key image lives on the input, not the wire sig.
			if i < len(prefix.Inputs) {
				if in, ok := prefix.Inputs[i].(InputKey); ok {
					cl.I = in.KeyImage
				}
			}
			rct.Clsags[i] = cl
		}
	} else {
		n, err := r.uvarint()
		if err != nil {
			return nil, err
		}
		if n > uint64(r.remaining()) {
			return nil, models.Errorf(models.ErrMalformedTransaction, "%d mlsag entries", n)
		}
		rct.Mlsags = make([]*ringct.Mlsag, n)
		for i := range rct.Mlsags {
			ml := &ringct.Mlsag{}
			rows, err := r.uvarint()
			if err != nil {
				return nil, err
			}
			if rows > uint64(r.remaining()) {
				return nil, models.Errorf(models.ErrMalformedTransaction, "%d mlsag rows", rows)
			}
			ml.SS = make([][]crypto.Scalar, rows)
			for ri := range ml.SS {
				cols, err := r.uvarint()
				if err != nil {
					return nil, err
				}
				if cols > uint64(r.remaining()) {
					return nil, models.Errorf(models.ErrMalformedTransaction, "%d mlsag cols", cols)
				}
				ml.SS[ri] = make([]crypto.Scalar, cols)
				for ci := range ml.SS[ri] {
					b, err := r.byte32()
					if err != nil {
						return nil, err
					}
					ml.SS[ri][ci] = crypto.Scalar(b)
				}
			}
			b, err := r.byte32()
			if err != nil {
				return nil, err
			}
			ml.CC = crypto.Scalar(b)
			if i < len(prefix.Inputs) {
				if in, ok := prefix.Inputs[i].(InputKey); ok {
					ml.I = in.KeyImage
				}
			}
			rct.Mlsags[i] = ml
		}
	}

	nPseudo, err := r.uvarint()
	if err != nil {
		return nil, err
	}
	if nPseudo > uint64(r.remaining()) {
		return nil, models.Errorf(models.ErrMalformedTransaction, "%d pseudo outputs", nPseudo)
	}
	rct.PseudoOuts = make([]crypto.Point, nPseudo)
	for i := range rct.PseudoOuts {
		b, err := r.byte32()
		if err != nil {
			return nil, err
		}
		rct.PseudoOuts[i] = crypto.Point(b)
	}
	return rct, nil
}

func parseBpPlus(r *reader) (*ringct.BulletproofPlus, error) {
	bp := &ringct.BulletproofPlus{}
	nV, err := r.uvarint()
	if err != nil {
		return nil, err
	}
	if nV == 0 || nV > 16 {
		return nil, models.Errorf(models.ErrMalformedTransaction, "bulletproof+ over %d commitments", nV)
	}
	bp.V = make([]crypto.Point, nV)
	for i := range bp.V {
		b, err := r.byte32()
		if err != nil {
			return nil, err
		}
		bp.V[i] = crypto.Point(b)
	}
	read32 := func(dst *[32]byte) error {
		b, err := r.byte32()
		if err != nil {
			return err
		}
		*dst = b
		return nil
	}
	if err := read32((*[32]byte)(&bp.A)); err != nil {
		return nil, err
	}
	if err := read32((*[32]byte)(&bp.A1)); err != nil {
		return nil, err
	}
	if err := read32((*[32]byte)(&bp.B)); err != nil {
		return nil, err
	}
	if err := read32((*[32]byte)(&bp.R1)); err != nil {
		return nil, err
	}
	if err := read32((*[32]byte)(&bp.S1)); err != nil {
		return nil, err
	}
	if err := read32((*[32]byte)(&bp.D1)); err != nil {
		return nil, err
	}
	nL, err := r.uvarint()
	if err != nil {
		return nil, err
	}
	if nL > 10 {
		return nil, models.Errorf(models.ErrMalformedTransaction, "bulletproof+ with %d rounds", nL)
	}
	bp.L = make([]crypto.Point, nL)
	for i := range bp.L {
		b, err := r.byte32()
		if err != nil {
			return nil, err
		}
		bp.L[i] = crypto.Point(b)
	}
	nR, err := r.uvarint()
	if err != nil {
		return nil, err
	}
	if nR != nL {
		return nil, models.Errorf(models.ErrMalformedTransaction, "bulletproof+ L/R mismatch %d/%d", nL, nR)
	}
	bp.R = make([]crypto.Point, nR)
	for i := range bp.R {
		b, err := r.byte32()
		if err != nil {
			return nil, err
		}
		bp.R[i] = crypto.Point(b)
	}
	return bp, nil
}

func parseBp(r *reader) (*Bulletproof, error) {
	bp := &Bulletproof{}
	read32 := func(dst *[32]byte) error {
		b, err := r.byte32()
		if err != nil {
			return err
		}
		*dst = b
		return nil
	}
	for _, dst := range []*[32]byte{
		(*[32]byte)(&bp.A), (*[32]byte)(&bp.S), (*[32]byte)(&bp.T1), (*[32]byte)(&bp.T2),
		(*[32]byte)(&bp.Taux), (*[32]byte)(&bp.Mu),
	} {
		if err := read32(dst); err != nil {
			return nil, err
		}
	}
	nL, err := r.uvarint()
	if err != nil {
		return nil, err
	}
	if nL > 10 {
		return nil, models.Errorf(models.ErrMalformedTransaction, "bulletproof with %d rounds", nL)
	}
	bp.L = make([]crypto.Point, nL)
	for i := range bp.L {
		b, err := r.byte32()
		if err != nil {
			return nil, err
		}
		bp.L[i] = crypto.Point(b)
	}
	nR, err := r.uvarint()
	if err != nil {
		return nil, err
	}
	if nR != nL {
		return nil, models.Errorf(models.ErrMalformedTransaction, "bulletproof L/R mismatch")
	}
	bp.R = make([]crypto.Point, nR)
	for i := range bp.R {
		b, err := r.byte32()
		if err != nil {
			return nil, err
		}
		bp.R[i] = crypto.Point(b)
	}
	for _, dst := range []*[32]byte{(*[32]byte)(&bp.Aa), (*[32]byte)(&bp.Bb), (*[32]byte)(&bp.Tt)} {
		if err := read32(dst); err != nil {
			return nil, err
		}
	}
	return bp, nil
}

func parseBorromean(r *reader) (*BorromeanRange, error) {
	br := &BorromeanRange{}
	for i := range br.S0 {
		b, err := r.byte32()
		if err != nil {
			return nil, err
		}
		br.S0[i] = b
	}
	for i := range br.S1 {
		b, err := r.byte32()
		if err != nil {
			return nil, err
		}
		br.S1[i] = b
	}
	b, err := r.byte32()
	if err != nil {
		return nil, err
	}
	br.EE = b
	for i := range br.Ci {
		if br.Ci[i], err = r.byte32(); err != nil {
			return nil, err
		}
	}
	return br, nil
}
