package crypto

// Domain-separated key derivations. Legacy derivations prefix the raw ASCII
// label; new-scheme (carrot) derivations prefix a one-byte tag, the ASCII
// label, and a trailing NUL so no label is a prefix of another.

const carrotDomainTag byte = 0x43

// CarrotDomain builds the new scheme's domain separator bytes.
func CarrotDomain(label string) []byte {
	d := make([]byte, 0, len(label)+2)
	d = append(d, carrotDomainTag)
	d = append(d, label...)
	d = append(d, 0x00)
	return d
}

func concat(domain []byte, args ...[]byte) []byte {
	n := len(domain)
	for _, a := range args {
		n += len(a)
	}
	buf := make([]byte, 0, n)
	buf = append(buf, domain...)
	for _, a := range args {
		buf = append(buf, a...)
	}
	return buf
}

// Hn hashes domain‖args to a canonical scalar: reduce32(keccak256(·)).
func Hn(domain []byte, args ...[]byte) Scalar {
	return Reduce32(Keccak256(concat(domain, args...)))
}

// HnLabel is Hn with a raw ASCII label domain (legacy derivations).
func HnLabel(label string, args ...[]byte) Scalar {
	return Hn([]byte(label), args...)
}

// HnCarrot is Hn with a carrot domain separator.
func HnCarrot(label string, args ...[]byte) Scalar {
	return Hn(CarrotDomain(label), args...)
}

// Hs hashes domain‖args to n raw bytes (no reduction).
func Hs(domain []byte, n int, args ...[]byte) []byte {
	return KeccakVariable(concat(domain, args...), n)
}

// HsCarrot is Hs with a carrot domain separator.
func HsCarrot(label string, n int, args ...[]byte) []byte {
	return Hs(CarrotDomain(label), n, args...)
}

// Hs32 is the common 32-byte case of Hs, returned as an array.
func Hs32(domain []byte, args ...[]byte) [32]byte {
	var out [32]byte
	copy(out[:], Hs(domain, 32, args...))
	return out
}
