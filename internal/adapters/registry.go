package adapters

import "github.com/ethereum/go-ethereum/common"

// poolSeed is the static per-network catalog of pools this build knows
// about. Grounded on the teacher's initializeProtocols/initializePools
// pattern (internal/web3/defi_manager.go): a hardcoded seed list rather
// than protocol-side discovery, since Arbitrum/Optimism lending markets
// and AMM pairs are deployed once and rarely change address.
type poolSeed struct {
	poolID          string
	network         string
	address         common.Address
	underlyingToken string // lending only
	token0, token1  string // amm only
}

// aaveLikeSeeds backs the lending adapter: one Aave V3-style pool per
// network, keyed by its reserve's underlying token.
var aaveLikeSeeds = map[string][]poolSeed{
	"arbitrum": {
		{poolID: "aave-v3-usdc", network: "arbitrum", address: common.HexToAddress("0x794a61358D6845594F94dc1DB02A252b5b4814aD"), underlyingToken: "USDC"},
		{poolID: "aave-v3-usdt", network: "arbitrum", address: common.HexToAddress("0x794a61358D6845594F94dc1DB02A252b5b4814aD"), underlyingToken: "USDT"},
		{poolID: "aave-v3-weth", network: "arbitrum", address: common.HexToAddress("0x794a61358D6845594F94dc1DB02A252b5b4814aD"), underlyingToken: "WETH"},
	},
	"optimism": {
		{poolID: "aave-v3-usdc", network: "optimism", address: common.HexToAddress("0x794a61358D6845594F94dc1DB02A252b5b4814aD"), underlyingToken: "USDC"},
	},
}

// uniLikeSeeds backs the AMM adapter: one Uniswap V2-style pair per
// network.
var uniLikeSeeds = map[string][]poolSeed{
	"arbitrum": {
		{poolID: "uni-v2-weth-usdc", network: "arbitrum", address: common.HexToAddress("0xC31E54c7a869B9FcBEcc14363CF510d1c41fa443"), token0: "WETH", token1: "USDC"},
		{poolID: "uni-v2-usdc-usdt", network: "arbitrum", address: common.HexToAddress("0x7d7629D6ea3F833b8d9eE2D8E3F1f0a5e3d1F1dA"), token0: "USDC", token1: "USDT"},
	},
	"optimism": {
		{poolID: "uni-v2-weth-usdc", network: "optimism", address: common.HexToAddress("0xC31E54c7a869B9FcBEcc14363CF510d1c41fa443"), token0: "WETH", token1: "USDC"},
	},
}
