package address

import "github.com/rawblock/veilwallet/pkg/models"

// prefixKey identifies one row of the address-prefix table.
type prefixKey struct {
	Network models.Network
	Scheme  models.AddressScheme
	Kind    models.AddressKind
}

// prefixTable maps (network, scheme, kind) to the varint-encoded tag value
// prepended to every address. Bit-exact chain values; do not derive.
var prefixTable = map[prefixKey]uint64{
	{models.Mainnet, models.SchemeLegacy, models.KindStandard}:    0x3ef318,
	{models.Mainnet, models.SchemeLegacy, models.KindIntegrated}:  0x55ef318,
	{models.Mainnet, models.SchemeLegacy, models.KindSubaddress}:  0xf5ef318,
	{models.Mainnet, models.SchemeNew, models.KindStandard}:       0x180c96,
	{models.Mainnet, models.SchemeNew, models.KindIntegrated}:     0x2ccc96,
	{models.Mainnet, models.SchemeNew, models.KindSubaddress}:     0x314c96,
	{models.Testnet, models.SchemeLegacy, models.KindStandard}:    0x15beb318,
	{models.Testnet, models.SchemeLegacy, models.KindIntegrated}:  0xd055eb318,
	{models.Testnet, models.SchemeLegacy, models.KindSubaddress}:  0xa59eb318,
	{models.Testnet, models.SchemeNew, models.KindStandard}:       0x254c96,
	{models.Testnet, models.SchemeNew, models.KindIntegrated}:     0x1ac50c96,
	{models.Testnet, models.SchemeNew, models.KindSubaddress}:     0x3c54c96,
	{models.Stagenet, models.SchemeLegacy, models.KindStandard}:   0x149eb318,
	{models.Stagenet, models.SchemeLegacy, models.KindIntegrated}: 0xf343eb318,
	{models.Stagenet, models.SchemeLegacy, models.KindSubaddress}: 0x2d47eb318,
	{models.Stagenet, models.SchemeNew, models.KindStandard}:      0x24cc96,
	{models.Stagenet, models.SchemeNew, models.KindIntegrated}:    0x1a848c96,
	{models.Stagenet, models.SchemeNew, models.KindSubaddress}:    0x384cc96,
}

// tagLookup is the inverse table, built once at init.
var tagLookup = func() map[uint64]prefixKey {
	m := make(map[uint64]prefixKey, len(prefixTable))
	for k, v := range prefixTable {
		m[v] = k
	}
	return m
}()
