package ringct

import (
	"github.com/rawblock/veilwallet/internal/crypto"
	"github.com/rawblock/veilwallet/pkg/models"
)

// Mlsag is the pre-CLSAG matrix ring signature still found in historical
// transactions (rct types Full/Simple/FullProofs). Verification only; the
// builder never emits it.
type Mlsag struct {
	SS [][]crypto.Scalar // n rows × m columns of responses
	CC crypto.Scalar
	I  crypto.Point // key image for the first column
}

// VerifyMlsag checks the MLSAG challenge chain over an n×m public-key matrix.
// Only the first column is linkable (carries the key image).
func VerifyMlsag(sig *Mlsag, message [32]byte, matrix [][]crypto.Point) error {
	n := len(matrix)
	if n == 0 || len(sig.SS) != n {
		return models.Errorf(models.ErrCryptoVerification, "mlsag: matrix/response rows mismatch")
	}
	m := len(matrix[0])
	if m == 0 {
		return models.Errorf(models.ErrCryptoVerification, "mlsag: empty matrix row")
	}
	for i := range matrix {
		if len(matrix[i]) != m || len(sig.SS[i]) != m {
			return models.Errorf(models.ErrCryptoVerification, "mlsag: ragged matrix")
		}
	}
	if crypto.IsIdentity(sig.I) {
		return models.Errorf(models.ErrCryptoVerification, "mlsag: identity key image")
	}

	c := sig.CC
	for i := 0; i < n; i++ {
		parts := make([][]byte, 0, 2*m+1)
		parts = append(parts, message[:])
		for j := 0; j < m; j++ {
			// L = s·G + c·P
			l, err := crypto.DoubleScalarMultBase(c, matrix[i][j], sig.SS[i][j])
			if err != nil {
				return err
			}
			parts = append(parts, l[:])
			if j == 0 {
				// R = s·Hp(P) + c·I
				hp := crypto.HashToPoint(matrix[i][j][:])
				sHp, err := crypto.ScalarMult(sig.SS[i][j], hp)
				if err != nil {
					return err
				}
				cI, err := crypto.ScalarMult(c, sig.I)
				if err != nil {
					return err
				}
				r, err := crypto.PointAdd(sHp, cI)
				if err != nil {
					return err
				}
				parts = append(parts, r[:])
			}
		}
		c = crypto.HnLabel("MLSAG_round", parts...)
	}

	if c != sig.CC {
		return models.Errorf(models.ErrCryptoVerification, "mlsag: challenge chain does not close")
	}
	return nil
}
