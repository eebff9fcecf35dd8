package chain

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// Pre-computed 4-byte selectors for every contract method the adapters call.
var (
	// ERC-721: safeTransferFrom(address,address,uint256)
	selSafeTransfer721 = selector("safeTransferFrom(address,address,uint256)")
	// ERC-1155: safeTransferFrom(address,address,uint256,uint256,bytes)
	selSafeTransfer1155 = selector("safeTransferFrom(address,address,uint256,uint256,bytes)")
	// ERC-20: transfer(address,uint256)
	selTransfer = selector("transfer(address,uint256)")
	// ERC-20: transferFrom(address,address,uint256)
	selTransferFrom = selector("transferFrom(address,address,uint256)")
	// Stolen registry: isFlagged(address,uint256)
	selIsFlagged = selector("isFlagged(address,uint256)")
	// Stolen registry: isCollectionFlagged(address)
	selIsCollectionFlagged = selector("isCollectionFlagged(address)")
	// Access registry: hasRole(bytes32,address)
	selHasRole = selector("hasRole(bytes32,address)")
	// EIP-2981: royaltyInfo(uint256,uint256)
	selRoyaltyInfo = selector("royaltyInfo(uint256,uint256)")
	// EIP-165: supportsInterface(bytes4)
	selSupportsInterface = selector("supportsInterface(bytes4)")
)

// royaltyInterfaceID is the EIP-165 interface id of EIP-2981 (0x2a55205a).
var royaltyInterfaceID = [4]byte{0x2a, 0x55, 0x20, 0x5a}

// selector returns the first four bytes of keccak256(signature).
func selector(signature string) []byte {
	return ethcrypto.Keccak256([]byte(signature))[:4]
}

// pack concatenates a selector with 32-byte-aligned argument words.
func pack(sel []byte, words ...[]byte) []byte {
	total := len(sel)
	for _, w := range words {
		total += len(w)
	}
	buf := make([]byte, 0, total)
	buf = append(buf, sel...)
	for _, w := range words {
		buf = append(buf, w...)
	}
	return buf
}

// wordAddress left-pads an address to a 32-byte word.
func wordAddress(a common.Address) []byte {
	return common.LeftPadBytes(a.Bytes(), 32)
}

// wordBig encodes n as a 32-byte big-endian word. Nil is treated as zero.
func wordBig(n *big.Int) []byte {
	if n == nil {
		return make([]byte, 32)
	}
	return common.LeftPadBytes(n.Bytes(), 32)
}

// wordUint64 encodes n as a 32-byte word.
func wordUint64(n uint64) []byte {
	return wordBig(new(big.Int).SetUint64(n))
}

// emptyBytesTail is the tail encoding of an empty dynamic bytes argument: a
// single zero length word. The caller places the matching offset word in the
// head and appends this after all head words.
func emptyBytesTail() []byte {
	return make([]byte, 32)
}

// parseAssetID converts a decimal asset id string to a big.Int.
func parseAssetID(assetID string) (*big.Int, error) {
	n, ok := new(big.Int).SetString(assetID, 10)
	if !ok || n.Sign() < 0 {
		return nil, fmt.Errorf("chain: invalid asset id %q", assetID)
	}
	return n, nil
}

// unpackBool interprets eth_call return data as a boolean word. Empty return
// data reads as false.
func unpackBool(data []byte) bool {
	for _, b := range data {
		if b != 0 {
			return true
		}
	}
	return false
}
