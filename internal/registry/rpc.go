package registry

import (
	"fmt"
	"strings"
)

var defaultRPCByChainID = map[int64]string{
	146:   "https://rpc.soniclabs.com",
	57054: "https://rpc.blaze.soniclabs.com", // Sonic Blaze testnet
}

func DefaultRPCURL(chainID int64) (string, bool) {
	v, ok := defaultRPCByChainID[chainID]
	return v, ok
}

func ResolveRPCURL(override string, chainID int64) (string, error) {
	if strings.TrimSpace(override) != "" {
		return strings.TrimSpace(override), nil
	}
	if v, ok := DefaultRPCURL(chainID); ok {
		return v, nil
	}
	return "", fmt.Errorf("no default rpc configured for chain id %d; set rpc_url", chainID)
}
