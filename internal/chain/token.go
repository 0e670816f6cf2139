package chain

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/lmittmann/w3"
)

var (
	funcDecimals        = w3.MustNewFunc("decimals()", "uint8")
	funcTransferAndCall = w3.MustNewFunc("transferAndCall(address to, uint256 value, bytes data)", "bool success")
)

// LinkToken is an ERC-677 funding token.
type LinkToken struct {
	client  *Client
	address common.Address
}

// NewLinkToken binds the token at addr.
func NewLinkToken(client *Client, addr common.Address) *LinkToken {
	return &LinkToken{client: client, address: addr}
}

func (t *LinkToken) Address() common.Address {
	return t.address
}

func (t *LinkToken) Decimals(ctx context.Context) (uint8, error) {
	var decimals uint8
	if err := t.client.Call(ctx, t.address, funcDecimals, nil, &decimals); err != nil {
		return 0, fmt.Errorf("decimals: %w", err)
	}
	return decimals, nil
}

// TransferAndCall transfers amount to `to` and invokes its onTokenTransfer
// hook with data.
func (t *LinkToken) TransferAndCall(ctx context.Context, to common.Address, amount *big.Int, data []byte) error {
	calldata, err := funcTransferAndCall.EncodeArgs(to, amount, data)
	if err != nil {
		return fmt.Errorf("encode transferAndCall: %w", err)
	}
	if _, err := t.client.Transact(ctx, t.address, calldata, CallGasLimit); err != nil {
		return fmt.Errorf("transferAndCall(%s): %w", to.Hex(), err)
	}
	return nil
}
