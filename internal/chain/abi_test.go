package chain

import (
	"encoding/hex"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Selector values cross-checked against the canonical 4-byte registry.
func TestSelectors(t *testing.T) {
	cases := []struct {
		name string
		sel  []byte
		want string
	}{
		{"erc20 transfer", selTransfer, "a9059cbb"},
		{"erc20 transferFrom", selTransferFrom, "23b872dd"},
		{"erc721 safeTransferFrom", selSafeTransfer721, "42842e0e"},
		{"erc1155 safeTransferFrom", selSafeTransfer1155, "f242432a"},
		{"eip2981 royaltyInfo", selRoyaltyInfo, "2a55205a"},
		{"eip165 supportsInterface", selSupportsInterface, "01ffc9a7"},
		{"hasRole", selHasRole, "91d14854"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, hex.EncodeToString(tc.sel), tc.name)
	}
}

func TestPackERC20Transfer(t *testing.T) {
	to := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	data := pack(selTransfer, wordAddress(to), wordBig(big.NewInt(1000)))

	require.Len(t, data, 4+32+32)
	assert.Equal(t, "a9059cbb", hex.EncodeToString(data[:4]))
	assert.Equal(t, to, common.BytesToAddress(data[4:36]))
	assert.Equal(t, big.NewInt(1000), new(big.Int).SetBytes(data[36:68]))
}

func TestPackERC1155TransferShape(t *testing.T) {
	from := common.HexToAddress("0x1")
	to := common.HexToAddress("0x2")
	data := pack(selSafeTransfer1155,
		wordAddress(from),
		wordAddress(to),
		wordBig(big.NewInt(7)),
		wordUint64(3),
		wordUint64(160),
		emptyBytesTail(),
	)

	// Selector plus five head words plus the empty bytes length word.
	require.Len(t, data, 4+5*32+32)
	// Offset word points past the head to the tail.
	assert.Equal(t, big.NewInt(160), new(big.Int).SetBytes(data[4+4*32:4+5*32]))
	// Tail length word is zero.
	assert.Equal(t, int64(0), new(big.Int).SetBytes(data[4+5*32:]).Int64())
}

func TestParseAssetID(t *testing.T) {
	n, err := parseAssetID("987654321987654321987654321")
	require.NoError(t, err)
	assert.Equal(t, "987654321987654321987654321", n.String())

	_, err = parseAssetID("0xdeadbeef")
	assert.Error(t, err)
	_, err = parseAssetID("-5")
	assert.Error(t, err)
	_, err = parseAssetID("")
	assert.Error(t, err)
}

func TestUnpackBool(t *testing.T) {
	assert.False(t, unpackBool(nil))
	assert.False(t, unpackBool(make([]byte, 32)))

	word := make([]byte, 32)
	word[31] = 1
	assert.True(t, unpackBool(word))
}

func TestWordBigNilIsZero(t *testing.T) {
	assert.Equal(t, make([]byte, 32), wordBig(nil))
}
