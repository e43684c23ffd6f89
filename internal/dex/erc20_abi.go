package dex

import (
	"fmt"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// Two ERC20 ABI flavors: the standard one with string symbol/name, and the
// bytes32 variant some older tokens (MKR-style) expose instead.
const (
	erc20StringJSON = `[
  {"inputs": [], "name": "decimals", "outputs": [{"type": "uint8"}], "stateMutability": "view", "type": "function"},
  {"inputs": [], "name": "symbol", "outputs": [{"type": "string"}], "stateMutability": "view", "type": "function"},
  {"inputs": [], "name": "name", "outputs": [{"type": "string"}], "stateMutability": "view", "type": "function"}
]`
	erc20Bytes32JSON = `[
  {"inputs": [], "name": "decimals", "outputs": [{"type": "uint8"}], "stateMutability": "view", "type": "function"},
  {"inputs": [], "name": "symbol", "outputs": [{"type": "bytes32"}], "stateMutability": "view", "type": "function"},
  {"inputs": [], "name": "name", "outputs": [{"type": "bytes32"}], "stateMutability": "view", "type": "function"}
]`
)

type erc20ABIs struct {
	standard abi.ABI
	bytes32  abi.ABI
}

var (
	erc20Once   sync.Once
	erc20Loaded erc20ABIs
	erc20Err    error
)

func loadERC20ABIs() (erc20ABIs, error) {
	erc20Once.Do(func() {
		standard, err := abi.JSON(strings.NewReader(erc20StringJSON))
		if err != nil {
			erc20Err = fmt.Errorf("parse erc20 abi: %w", err)
			return
		}
		bytes32, err := abi.JSON(strings.NewReader(erc20Bytes32JSON))
		if err != nil {
			erc20Err = fmt.Errorf("parse erc20 bytes32 abi: %w", err)
			return
		}
		erc20Loaded = erc20ABIs{standard: standard, bytes32: bytes32}
	})
	return erc20Loaded, erc20Err
}
