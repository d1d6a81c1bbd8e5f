package constants

// Network names accepted by the explorer
const (
	// NetworkMainnet is Starknet mainnet
	NetworkMainnet = "mainnet"
	// NetworkSepolia is the Starknet Sepolia testnet
	NetworkSepolia = "sepolia"
)

// DefaultNetworkEndpoints are public JSON-RPC endpoints used when no override is configured
var DefaultNetworkEndpoints = map[string]string{
	NetworkMainnet: "https://starknet-mainnet.public.blastapi.io/rpc/v0_7",
	NetworkSepolia: "https://starknet-sepolia.public.blastapi.io/rpc/v0_7",
}

// DefaultNetwork is used when a query does not name a network
const DefaultNetwork = NetworkMainnet
