package chain

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	clierr "github.com/GabrielCartier/noir-monorepo-sub000/internal/errors"
)

// MustParseABI parses a JSON ABI fragment at init time.
func MustParseABI(raw string) *abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(fmt.Sprintf("parse abi: %v", err))
	}
	return &parsed
}

type rpcDataError interface {
	Error() string
	ErrorData() interface{}
}

// wrapRevert decodes an EVM revert payload carried by an RPC error, so
// simulation failures surface the contract's reason string instead of an
// opaque "execution reverted".
func wrapRevert(code clierr.Code, message string, err error) error {
	if reason := revertReasonFromError(err); reason != "" {
		return clierr.Wrap(code, message+" ("+reason+")", err)
	}
	return clierr.Wrap(code, message, err)
}

func revertReasonFromError(err error) string {
	dataErr, ok := err.(rpcDataError)
	if !ok {
		return ""
	}
	raw, ok := dataErr.ErrorData().(string)
	if !ok {
		return ""
	}
	return decodeRevertData(common.FromHex(raw))
}

func decodeRevertData(data []byte) string {
	if len(data) < 4 {
		return ""
	}
	selector := data[:4]
	switch {
	case selector[0] == 0x08 && selector[1] == 0xc3 && selector[2] == 0x79 && selector[3] == 0xa0:
		// Error(string)
		reason, err := abi.UnpackRevert(data)
		if err != nil {
			return ""
		}
		return reason
	case selector[0] == 0x4e && selector[1] == 0x48 && selector[2] == 0x7b && selector[3] == 0x71:
		// Panic(uint256)
		if len(data) >= 36 {
			code := new(big.Int).SetBytes(data[4:36])
			return fmt.Sprintf("panic 0x%x", code)
		}
		return "panic"
	default:
		return fmt.Sprintf("custom error 0x%x", selector)
	}
}
