// Package ethtoken implements the token collaborators against EVM contracts:
// an ERC-20 payment token and an ERC-5489 hyperlink NFT slot token. Reads go
// through eth_call; writes are signed legacy transactions sent from the
// engine's key. Batch payouts can go through a Disperse helper contract so a
// batch lands or reverts as one transaction.
package ethtoken

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

const erc20ABIJSON = `[
	{"constant":true,"inputs":[{"name":"owner","type":"address"}],"name":"balanceOf","outputs":[{"name":"","type":"uint256"}],"type":"function"},
	{"constant":true,"inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],"name":"allowance","outputs":[{"name":"","type":"uint256"}],"type":"function"},
	{"constant":false,"inputs":[{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],"name":"transfer","outputs":[{"name":"","type":"bool"}],"type":"function"},
	{"constant":false,"inputs":[{"name":"from","type":"address"},{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],"name":"transferFrom","outputs":[{"name":"","type":"bool"}],"type":"function"},
	{"constant":false,"inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],"name":"approve","outputs":[{"name":"","type":"bool"}],"type":"function"}
]`

const erc5489ABIJSON = `[
	{"constant":true,"inputs":[{"name":"tokenId","type":"uint256"}],"name":"ownerOf","outputs":[{"name":"","type":"address"}],"type":"function"},
	{"constant":true,"inputs":[{"name":"owner","type":"address"},{"name":"operator","type":"address"}],"name":"isApprovedForAll","outputs":[{"name":"","type":"bool"}],"type":"function"},
	{"constant":false,"inputs":[{"name":"tokenId","type":"uint256"},{"name":"value","type":"string"}],"name":"setSlotUri","outputs":[],"type":"function"},
	{"constant":true,"inputs":[{"name":"tokenId","type":"uint256"},{"name":"slotManagerAddr","type":"address"}],"name":"getSlotUri","outputs":[{"name":"","type":"string"}],"type":"function"}
]`

// disperseABIJSON is the Disperse helper: disperseToken pulls the total from
// msg.sender and pays every recipient in one transaction, reverting as a whole.
const disperseABIJSON = `[
	{"constant":false,"inputs":[{"name":"token","type":"address"},{"name":"recipients","type":"address[]"},{"name":"values","type":"uint256[]"}],"name":"disperseToken","outputs":[],"type":"function"}
]`

//nolint:gochecknoglobals // parsed once, read-only
var (
	erc20ABI    = mustParse(erc20ABIJSON)
	erc5489ABI  = mustParse(erc5489ABIJSON)
	disperseABI = mustParse(disperseABIJSON)
)

func mustParse(s string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(s))
	if err != nil {
		panic("parse ABI: " + err.Error())
	}
	return parsed
}
