package address

import (
	"bytes"
	"testing"

	"github.com/rawblock/veilwallet/internal/crypto"
	"github.com/rawblock/veilwallet/pkg/models"
)

func TestBase58RoundTrip(t *testing.T) {
	cases := [][]byte{
		{},
		{0x00},
		{0xff},
		bytes.Repeat([]byte{0x00}, 8),
		bytes.Repeat([]byte{0xff}, 8),
		[]byte("veilwallet block base58 payload of odd size!"),
		bytes.Repeat([]byte{0x5a}, 69), // eight full blocks plus a 5-byte tail
	}
	for _, in := range cases {
		enc := EncodeBase58(in)
		dec, err := DecodeBase58(enc)
		if err != nil {
			t.Fatalf("decode(%x): %v", in, err)
		}
		if !bytes.Equal(dec, in) {
			t.Fatalf("round trip %x → %q → %x", in, enc, dec)
		}
	}
}

func TestBase58RejectsJunk(t *testing.T) {
	// Three characters is a valid tail length, so only the alphabet check
	// can reject this input.
	if _, err := DecodeBase58("0OI"); err == nil {
		t.Fatal("ambiguous characters must be rejected")
	}
	if _, err := DecodeBase58("1"); err == nil {
		t.Fatal("impossible tail length must be rejected")
	}
	// A full block of 'z' overflows 8 bytes.
	if _, err := DecodeBase58("zzzzzzzzzzz"); err == nil {
		t.Fatal("overflowing block must be rejected")
	}
}

func testKeys() (crypto.Point, crypto.Point) {
	spend := crypto.ScalarMultBase(crypto.HnLabel("test-spend"))
	view := crypto.ScalarMultBase(crypto.HnLabel("test-view"))
	return spend, view
}

func TestAddressRoundTripAllPrefixes(t *testing.T) {
	spend, view := testKeys()

	for key := range prefixTable {
		key := key
		t.Run(key.Network.String()+"/"+key.Scheme.String()+"/"+key.Kind.String(), func(t *testing.T) {
			var a Address
			if key.Kind == models.KindIntegrated {
				a = NewIntegrated(key.Network, key.Scheme, spend, view,
					[8]byte{1, 2, 3, 4, 5, 6, 7, 8})
			} else {
				var err error
				a, err = New(key.Network, key.Scheme, key.Kind, spend, view)
				if err != nil {
					t.Fatal(err)
				}
			}

			enc, err := a.Encode()
			if err != nil {
				t.Fatal(err)
			}
			got, err := Parse(enc)
			if err != nil {
				t.Fatalf("Parse(%q): %v", enc, err)
			}
			if got != a {
				t.Fatalf("round trip mismatch: %+v != %+v", got, a)
			}
		})
	}
}

func TestParseRejectsCorruption(t *testing.T) {
	spend, view := testKeys()
	a, err := New(models.Mainnet, models.SchemeLegacy, models.KindStandard, spend, view)
	if err != nil {
		t.Fatal(err)
	}
	enc, err := a.Encode()
	if err != nil {
		t.Fatal(err)
	}

	// Flip one character; either base58 decode or the checksum must fail.
	b := []byte(enc)
	if b[5] == '2' {
		b[5] = '3'
	} else {
		b[5] = '2'
	}
	_, perr := Parse(string(b))
	if perr == nil {
		t.Fatal("corrupted address accepted")
	}
	if !models.IsKind(perr, models.ErrInvalidEncoding) {
		t.Fatalf("want InvalidEncoding, got %v", perr)
	}
}

func TestIntegratedRequiresPaymentID(t *testing.T) {
	spend, view := testKeys()
	if _, err := New(models.Mainnet, models.SchemeLegacy, models.KindIntegrated, spend, view); err == nil {
		t.Fatal("New must reject the integrated kind")
	}
}

func TestPrefixTagsDistinct(t *testing.T) {
	if len(tagLookup) != len(prefixTable) {
		t.Fatalf("prefix tags collide: %d unique of %d", len(tagLookup), len(prefixTable))
	}
}
