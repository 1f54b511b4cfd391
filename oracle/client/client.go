package client

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/openllm-network/oracled/oracle/keys"
	"github.com/openllm-network/oracled/oracle/log"
	"github.com/openllm-network/oracled/oracle/types"
)

const receiptTimeout = 2 * time.Minute

// Client wraps the JSON-RPC endpoints for the coordination contract: an HTTP
// connection for calls and transactions, and an optional WS connection for
// log subscriptions. SendResult is a critical section per wallet so two
// tasks never race the account nonce.
type Client struct {
	eth      *ethclient.Client
	ws       *ethclient.Client
	contract common.Address
	wallet   *keys.Wallet
	chainID  *big.Int
	sendMu   sync.Mutex
}

// Dial connects to rpcURL and, when wsURL is non-empty, the subscription
// endpoint.
func Dial(ctx context.Context, rpcURL, wsURL string, contract common.Address, wallet *keys.Wallet) (*Client, error) {
	eth, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("failed to dial rpc endpoint %s: %w", rpcURL, err)
	}

	chainID, err := eth.ChainID(ctx)
	if err != nil {
		eth.Close()
		return nil, fmt.Errorf("failed to query chain id: %w", err)
	}

	c := &Client{
		eth:      eth,
		contract: contract,
		wallet:   wallet,
		chainID:  chainID,
	}

	if wsURL != "" {
		ws, err := ethclient.DialContext(ctx, wsURL)
		if err != nil {
			eth.Close()
			return nil, fmt.Errorf("failed to dial ws endpoint %s: %w", wsURL, err)
		}
		c.ws = ws
	}

	log.Infof("Connected to chain %s (contract %s)", chainID, contract.Hex())

	return c, nil
}

func (c *Client) Close() {
	c.eth.Close()
	if c.ws != nil {
		c.ws.Close()
	}
}

// HasSubscription reports whether a WS endpoint is available for live logs.
func (c *Client) HasSubscription() bool {
	return c.ws != nil
}

func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	head, err := c.eth.BlockNumber(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to query block number: %w", err)
	}

	return head, nil
}

// FilterLogs queries the contract's logs over the inclusive block range.
func (c *Client) FilterLogs(ctx context.Context, from, to uint64) ([]ethtypes.Log, error) {
	query := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(to),
		Addresses: []common.Address{c.contract},
	}

	logs, err := c.eth.FilterLogs(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to filter logs [%d,%d]: %w", from, to, err)
	}

	return logs, nil
}

// SubscribeLogs opens a live subscription to all contract logs.
func (c *Client) SubscribeLogs(ctx context.Context, ch chan<- ethtypes.Log) (ethereum.Subscription, error) {
	if c.ws == nil {
		return nil, fmt.Errorf("no ws endpoint configured")
	}

	query := ethereum.FilterQuery{Addresses: []common.Address{c.contract}}
	sub, err := c.ws.SubscribeFilterLogs(ctx, query, ch)
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to logs: %w", err)
	}

	return sub, nil
}

// view packs, calls, and unpacks a contract view method.
func (c *Client) view(ctx context.Context, method string, args ...any) ([]any, error) {
	data, err := serviceABI.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to pack %s: %w", method, err)
	}

	out, err := c.eth.CallContract(ctx, ethereum.CallMsg{To: &c.contract, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to call %s: %w", method, err)
	}

	vals, err := serviceABI.Unpack(method, out)
	if err != nil {
		return nil, fmt.Errorf("failed to unpack %s: %w", method, err)
	}

	return vals, nil
}

func (c *Client) GetAuthorizedNodes(ctx context.Context) ([]common.Address, error) {
	vals, err := c.view(ctx, "getAuthorizedNodes")
	if err != nil {
		return nil, err
	}

	nodes, ok := vals[0].([]common.Address)
	if !ok {
		return nil, fmt.Errorf("unexpected getAuthorizedNodes result %T", vals[0])
	}

	return nodes, nil
}

// CheckSubmission returns the contract's verdict on whether node may still
// submit for the request: "OK", "request not found", "submitted", or
// "no consensus".
func (c *Client) CheckSubmission(ctx context.Context, requestID *big.Int, node common.Address) (string, error) {
	vals, err := c.view(ctx, "checkSubmission", requestID, node)
	if err != nil {
		return "", err
	}

	return vals[0].(string), nil
}

// GetRequestInfo fetches and decodes the on-chain request record. A record
// whose caller is the zero address is reported through Request.Absent.
func (c *Client) GetRequestInfo(ctx context.Context, requestID *big.Int) (types.Request, error) {
	vals, err := c.view(ctx, "getRequestInfo", requestID)
	if err != nil {
		return types.Request{}, err
	}

	return types.Request{
		Platform:                     bytes32String(vals[0].([32]byte)),
		Model:                        bytes32String(vals[1].([32]byte)),
		Prompt:                       bytes32Hex(vals[2].([32]byte)),
		Input:                        vals[3].(string),
		Redundancy:                   vals[4].(uint8),
		ReturnContentWithinResultTag: vals[5].(bool),
		StoreResultOffchain:          vals[6].(bool),
		Caller:                       vals[7].(common.Address),
		Callback:                     vals[8].(string),
		Args:                         vals[9].([]byte),
	}, nil
}

// SendResult submits the answer for a request. Gas is estimated first and
// padded to 120% with integer arithmetic. The whole nonce-fetch, sign, send
// section holds the wallet mutex.
func (c *Client) SendResult(ctx context.Context, requestID *big.Int, result string) (*ethtypes.Receipt, error) {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	data, err := serviceABI.Pack("sendResult", requestID, result)
	if err != nil {
		return nil, fmt.Errorf("failed to pack sendResult: %w", err)
	}

	from := c.wallet.Address()
	nonce, err := c.eth.PendingNonceAt(ctx, from)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch nonce: %w", err)
	}

	gasPrice, err := c.eth.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to suggest gas price: %w", err)
	}

	estimate, err := c.eth.EstimateGas(ctx, ethereum.CallMsg{From: from, To: &c.contract, Data: data})
	if err != nil {
		return nil, fmt.Errorf("failed to estimate gas: %w", err)
	}
	limit := estimate * 12 / 10

	tx := ethtypes.NewTransaction(nonce, c.contract, big.NewInt(0), limit, gasPrice, data)
	signed, err := c.wallet.SignTx(tx, c.chainID)
	if err != nil {
		return nil, err
	}

	if err := c.eth.SendTransaction(ctx, signed); err != nil {
		return nil, fmt.Errorf("failed to send tx: %w", err)
	}

	log.Debugf("sent result tx %s for request %s (gas %d)", signed.Hash().Hex(), requestID, limit)

	waitCtx, cancel := context.WithTimeout(ctx, receiptTimeout)
	defer cancel()

	receipt, err := bind.WaitMined(waitCtx, c.eth, signed)
	if err != nil {
		return nil, fmt.Errorf("failed to wait for tx %s: %w", signed.Hash().Hex(), err)
	}

	return receipt, nil
}
