// Package contractclient wraps a single (address, ABI) pair with the
// generic call/send/decode operations every on-chain contract needs,
// independent of which contract it is. It is the lowest layer beneath
// internal/chainclient, which composes several of these (pool, tokens,
// position manager) into the domain-specific read/write operations the
// strategy pipeline calls.
//
// The ContractClient interface (Call, Send, ContractAddress, Abi,
// ParseReceipt, TransactionData, DecodeTransaction) mirrors the contract
// client layer found elsewhere in the on-chain tooling ecosystem.
package contractclient

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog"

	"github.com/blackholelabs/lpstrategy/pkg/types"
)

// ContractClient is satisfied by Client; strategy code depends on this
// interface so tests can supply a fake.
type ContractClient interface {
	Call(from *common.Address, method string, args ...any) ([]any, error)
	Send(mode types.SendMode, gasLimit *uint64, signer *Signer, method string, args ...any) (common.Hash, error)
	ContractAddress() common.Address
	Abi() abi.ABI
	ParseReceipt(receipt *gethtypes.Receipt) (string, error)
	TransactionData(ctx context.Context, hash common.Hash) ([]byte, error)
	DecodeTransaction(data []byte) (*DecodedTransaction, error)
	Receipt(ctx context.Context, hash common.Hash) (*types.TxReceipt, error)
}

// Client is the concrete ContractClient backed by an ethclient.Client.
type Client struct {
	eth     *ethclient.Client
	address common.Address
	abi     abi.ABI
	log     zerolog.Logger
}

// NewContractClient builds a Client for a single deployed contract address.
func NewContractClient(eth *ethclient.Client, address common.Address, contractABI abi.ABI, log zerolog.Logger) *Client {
	return &Client{
		eth:     eth,
		address: address,
		abi:     contractABI,
		log:     log.With().Str("contract", address.Hex()).Logger(),
	}
}

func (c *Client) ContractAddress() common.Address { return c.address }
func (c *Client) Abi() abi.ABI                     { return c.abi }

// Call performs a read-only eth_call and unpacks the result according to the
// method's ABI outputs.
func (c *Client) Call(from *common.Address, method string, args ...any) ([]any, error) {
	input, err := c.abi.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to pack %s: %w", method, err)
	}

	msg := ethereum.CallMsg{To: &c.address, Data: input}
	if from != nil {
		msg.From = *from
	}

	out, err := c.eth.CallContract(context.Background(), msg, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to call %s: %w", method, err)
	}

	unpacked, err := c.abi.Unpack(method, out)
	if err != nil {
		return nil, fmt.Errorf("failed to unpack %s result: %w", method, err)
	}
	return unpacked, nil
}

// Send packs method+args, signs with signer, and broadcasts. gasLimit, if
// nil, is estimated. The gas price is always the node's suggested price;
// mode does not change it, and no caller-supplied gas price is accepted.
func (c *Client) Send(mode types.SendMode, gasLimit *uint64, signer *Signer, method string, args ...any) (common.Hash, error) {
	input, err := c.abi.Pack(method, args...)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to pack %s: %w", method, err)
	}

	ctx := context.Background()

	gasPrice, err := c.eth.SuggestGasPrice(ctx)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to suggest gas price: %w", err)
	}

	limit := gasLimit
	if limit == nil {
		from := signer.Address()
		estimated, err := c.eth.EstimateGas(ctx, ethereum.CallMsg{
			From: from,
			To:   &c.address,
			Data: input,
		})
		if err != nil {
			return common.Hash{}, fmt.Errorf("failed to estimate gas for %s: %w", method, err)
		}
		limit = &estimated
	}

	hash, err := signer.SignAndSend(ctx, func(nonce uint64) (*gethtypes.Transaction, error) {
		return gethtypes.NewTransaction(nonce, c.address, big.NewInt(0), *limit, gasPrice, input), nil
	})
	if err != nil {
		return common.Hash{}, err
	}

	c.log.Info().Str("method", method).Str("tx", hash.Hex()).Msg("submitted transaction")
	return hash, nil
}

// Receipt fetches and translates a go-ethereum receipt into the
// chain-agnostic types.TxReceipt used by the rest of the codebase.
func (c *Client) Receipt(ctx context.Context, hash common.Hash) (*types.TxReceipt, error) {
	r, err := c.eth.TransactionReceipt(ctx, hash)
	if err != nil {
		return nil, err
	}
	return TranslateReceipt(r), nil
}

// TranslateReceipt converts a go-ethereum receipt into the chain-agnostic
// types.TxReceipt shape; exported so pkg/txlistener can reuse it when it
// resolves a receipt itself instead of going through a Client.
func TranslateReceipt(r *gethtypes.Receipt) *types.TxReceipt {
	status := "0x0"
	if r.Status == gethtypes.ReceiptStatusSuccessful {
		status = "0x1"
	}
	logs := make([]types.Log, 0, len(r.Logs))
	for _, l := range r.Logs {
		topics := make([]string, 0, len(l.Topics))
		for _, t := range l.Topics {
			topics = append(topics, t.Hex())
		}
		logs = append(logs, types.Log{Address: l.Address.Hex(), Topics: topics, Data: l.Data})
	}
	return &types.TxReceipt{
		TxHash:            r.TxHash.Hex(),
		BlockNumber:       r.BlockNumber.String(),
		GasUsed:           fmt.Sprintf("%d", r.GasUsed),
		EffectiveGasPrice: effectiveGasPrice(r),
		Status:            status,
		Logs:              logs,
	}
}

func effectiveGasPrice(r *gethtypes.Receipt) string {
	if r.EffectiveGasPrice != nil {
		return r.EffectiveGasPrice.String()
	}
	return "0"
}

// ParseReceipt decodes every log in the receipt that matches this
// contract's ABI into a JSON array of {EventName, Parameter} objects, the
// shape callers parse a mint's Transfer/IncreaseLiquidity events out of.
func (c *Client) ParseReceipt(receipt *gethtypes.Receipt) (string, error) {
	type decodedEvent struct {
		EventName string         `json:"EventName"`
		Parameter map[string]any `json:"Parameter"`
	}
	var events []decodedEvent

	for _, l := range receipt.Logs {
		if l.Address != c.address {
			continue
		}
		if len(l.Topics) == 0 {
			continue
		}
		ev, err := c.abi.EventByID(l.Topics[0])
		if err != nil {
			continue // not one of ours
		}
		params := map[string]any{}
		if err := c.abi.UnpackIntoMap(params, ev.Name, l.Data); err != nil {
			c.log.Warn().Err(err).Str("event", ev.Name).Msg("failed to unpack event data")
		}
		// indexed args arrive via topics, not data; attach raw hex so callers
		// (e.g. the tokenId-recovery ladder) can still read them.
		for i, input := range ev.Inputs {
			if !input.Indexed {
				continue
			}
			topicIdx := indexedTopicPosition(ev, i)
			if topicIdx > 0 && topicIdx < len(l.Topics) {
				params[input.Name] = decodeIndexedTopic(input, l.Topics[topicIdx])
			}
		}
		events = append(events, decodedEvent{EventName: ev.Name, Parameter: params})
	}

	b, err := json.Marshal(events)
	if err != nil {
		return "", fmt.Errorf("failed to marshal parsed events: %w", err)
	}
	return string(b), nil
}

func indexedTopicPosition(ev abi.Event, inputIdx int) int {
	pos := 1 // topic[0] is the event signature
	for i, in := range ev.Inputs {
		if i == inputIdx {
			return pos
		}
		if in.Indexed {
			pos++
		}
	}
	return -1
}

func decodeIndexedTopic(input abi.Argument, topic common.Hash) any {
	switch input.Type.T {
	case abi.AddressTy:
		return common.HexToAddress(topic.Hex()).Hex()
	case abi.UintTy, abi.IntTy:
		return new(big.Int).SetBytes(topic.Bytes()).String()
	default:
		return topic.Hex()
	}
}

// TransactionData fetches the raw calldata of a confirmed transaction.
func (c *Client) TransactionData(ctx context.Context, hash common.Hash) ([]byte, error) {
	tx, _, err := c.eth.TransactionByHash(ctx, hash)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch transaction %s: %w", hash.Hex(), err)
	}
	return tx.Data(), nil
}

// DecodedTransaction is the method name plus named argument map recovered
// from raw calldata against this contract's ABI.
type DecodedTransaction struct {
	MethodName string         `json:"methodName"`
	Parameters map[string]any `json:"parameters"`
}

// DecodeTransaction decodes calldata (selector + packed args) against this
// contract's ABI.
func (c *Client) DecodeTransaction(data []byte) (*DecodedTransaction, error) {
	if len(data) < 4 {
		return nil, fmt.Errorf("transaction data too short to contain a method selector")
	}
	method, err := c.abi.MethodById(data[:4])
	if err != nil {
		return nil, fmt.Errorf("failed to resolve method selector: %w", err)
	}
	params := map[string]any{}
	if err := method.Inputs.UnpackIntoMap(params, data[4:]); err != nil {
		return nil, fmt.Errorf("failed to unpack %s arguments: %w", method.Name, err)
	}
	return &DecodedTransaction{MethodName: method.Name, Parameters: params}, nil
}
