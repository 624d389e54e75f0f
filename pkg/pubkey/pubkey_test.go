package pubkey

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseRejectsWrongLength(t *testing.T) {
	_, err := Parse("deadbeef")
	require.ErrorIs(t, err, ErrInvalidPubkey)
}

func TestParseRejectsNonHex(t *testing.T) {
	bad := "zz0b9f5d5f82231c72696d12bb7cbaef3da3670a59c831b5b402986f9dcc3351"
	_, err := Parse(bad)
	require.ErrorIs(t, err, ErrInvalidPubkey)
}

func TestParseRoundTrip(t *testing.T) {
	const s = "ba0b9f5d5f82231c72696d12bb7cbaef3da3670a59c831b5b402986f9dcc3351"
	pk, err := Parse(s)
	require.NoError(t, err)
	require.Equal(t, s, pk.String())
}

func TestRoutingKeyIsXORFold(t *testing.T) {
	pk, err := Parse("0000000000000001000000000000000200000000000000030000000000000004")
	require.NoError(t, err)
	require.Equal(t, uint64(1^2^3^4), pk.RoutingKey())
}

func TestGenRandomIsDeterministicPerSeed(t *testing.T) {
	a := GenRandom(rand.New(rand.NewSource(0)))
	b := GenRandom(rand.New(rand.NewSource(0)))
	require.Equal(t, a, b)
}
