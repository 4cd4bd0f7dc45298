package chain

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// Minimal ABI covering every oracle, helper, and core method the sentinel
// touches. Mirrors the deployed Oracle/SourceHelper/TargetHelper/Core
// interfaces; only the fragments in use are declared.
const contractABIJSON = `[
{"inputs":[],"name":"value","outputs":[{"internalType":"uint256","name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
{"inputs":[],"name":"lastUpdated","outputs":[{"internalType":"uint256","name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
{"inputs":[],"name":"totalSupply","outputs":[{"internalType":"uint256","name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
{"inputs":[{"internalType":"address","name":"core","type":"address"}],"name":"getSourceValue","outputs":[{"internalType":"uint256","name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
{"inputs":[{"internalType":"address","name":"core","type":"address"}],"name":"getTargetValue","outputs":[{"internalType":"uint256","name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
{"inputs":[{"internalType":"address","name":"core","type":"address"}],"name":"getWithdrawalData","outputs":[{"internalType":"uint256","name":"demand","type":"uint256"},{"internalType":"uint256","name":"supply","type":"uint256"}],"stateMutability":"view","type":"function"},
{"inputs":[{"internalType":"address","name":"core","type":"address"}],"name":"getNonces","outputs":[{"internalType":"uint256","name":"inboundNonce","type":"uint256"},{"internalType":"uint256","name":"outboundNonce","type":"uint256"}],"stateMutability":"view","type":"function"},
{"inputs":[{"internalType":"address","name":"core","type":"address"},{"internalType":"uint256","name":"assetsDeficit","type":"uint256"}],"name":"getAmounts","outputs":[{"internalType":"uint256","name":"pushAmount","type":"uint256"},{"internalType":"bytes","name":"claimData","type":"bytes"},{"internalType":"uint256","name":"redeemAmount","type":"uint256"},{"internalType":"uint256","name":"depositAmount","type":"uint256"}],"stateMutability":"view","type":"function"},
{"inputs":[{"internalType":"address","name":"core","type":"address"}],"name":"quotePushToSource","outputs":[{"internalType":"uint256","name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
{"inputs":[{"internalType":"address","name":"core","type":"address"}],"name":"quotePushToTarget","outputs":[{"internalType":"uint256","name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
{"inputs":[{"internalType":"uint256","name":"amount","type":"uint256"}],"name":"pushToSource","outputs":[],"stateMutability":"payable","type":"function"},
{"inputs":[],"name":"pushToTarget","outputs":[],"stateMutability":"payable","type":"function"},
{"inputs":[{"internalType":"uint256","name":"shares","type":"uint256"}],"name":"redeem","outputs":[],"stateMutability":"nonpayable","type":"function"},
{"inputs":[{"internalType":"bytes","name":"data","type":"bytes"}],"name":"claim","outputs":[],"stateMutability":"nonpayable","type":"function"},
{"inputs":[{"internalType":"uint256","name":"amount","type":"uint256"}],"name":"deposit","outputs":[],"stateMutability":"nonpayable","type":"function"}
]`

var contractABI abi.ABI

func init() {
	parsed, err := abi.JSON(strings.NewReader(contractABIJSON))
	if err != nil {
		panic("failed to parse contract ABI: " + err.Error())
	}
	contractABI = parsed
}
