package client

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"

	"github.com/openllm-network/oracled/oracle/types"
)

// serviceABIJSON covers exactly the events and methods the node consumes.
// Other contract surface is invisible to the daemon.
const serviceABIJSON = `[
  {"type":"event","name":"NewRequest","anonymous":false,"inputs":[
    {"name":"requestId","type":"uint256","indexed":true},
    {"name":"redundancy","type":"uint8","indexed":false}]},
  {"type":"event","name":"Processed","anonymous":false,"inputs":[
    {"name":"requestId","type":"uint256","indexed":true},
    {"name":"success","type":"bool","indexed":false}]},
  {"type":"event","name":"ResultSubmitted","anonymous":false,"inputs":[
    {"name":"requestId","type":"uint256","indexed":true},
    {"name":"node","type":"address","indexed":true}]},
  {"type":"event","name":"NodeAdded","anonymous":false,"inputs":[
    {"name":"node","type":"address","indexed":true}]},
  {"type":"event","name":"NodeRemoved","anonymous":false,"inputs":[
    {"name":"node","type":"address","indexed":true}]},
  {"type":"function","name":"getAuthorizedNodes","stateMutability":"view","inputs":[],
   "outputs":[{"name":"","type":"address[]"}]},
  {"type":"function","name":"checkSubmission","stateMutability":"view","inputs":[
    {"name":"requestId","type":"uint256"},{"name":"node","type":"address"}],
   "outputs":[{"name":"","type":"string"}]},
  {"type":"function","name":"getRequestInfo","stateMutability":"view","inputs":[
    {"name":"requestId","type":"uint256"}],
   "outputs":[
    {"name":"platform","type":"bytes32"},
    {"name":"model","type":"bytes32"},
    {"name":"prompt","type":"bytes32"},
    {"name":"input","type":"string"},
    {"name":"redundancy","type":"uint8"},
    {"name":"returnContentWithinResultTag","type":"bool"},
    {"name":"storeResultOffchain","type":"bool"},
    {"name":"caller","type":"address"},
    {"name":"callback","type":"string"},
    {"name":"args","type":"bytes"}]},
  {"type":"function","name":"sendResult","stateMutability":"nonpayable","inputs":[
    {"name":"requestId","type":"uint256"},{"name":"result","type":"string"}],
   "outputs":[]}
]`

var serviceABI = mustParseABI()

func mustParseABI() abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(serviceABIJSON))
	if err != nil {
		panic(fmt.Errorf("failed to parse service ABI: %w", err))
	}

	return parsed
}

// DecodeLog turns a raw contract log into a delivered event. Logs the node
// does not act on, including foreign signatures, decode to (nil, nil).
func DecodeLog(lg ethtypes.Log) (types.Event, error) {
	if len(lg.Topics) == 0 {
		return nil, nil
	}

	switch lg.Topics[0] {
	case serviceABI.Events["NewRequest"].ID:
		if len(lg.Topics) < 2 {
			return nil, fmt.Errorf("NewRequest log missing request id topic")
		}
		vals, err := serviceABI.Unpack("NewRequest", lg.Data)
		if err != nil {
			return nil, fmt.Errorf("failed to unpack NewRequest: %w", err)
		}
		return types.NewRequestEvent{
			RequestID:  new(big.Int).SetBytes(lg.Topics[1].Bytes()),
			Redundancy: vals[0].(uint8),
			Block:      lg.BlockNumber,
			LogIndex:   lg.Index,
		}, nil

	case serviceABI.Events["NodeAdded"].ID, serviceABI.Events["NodeRemoved"].ID:
		if len(lg.Topics) < 2 {
			return nil, fmt.Errorf("membership log missing node topic")
		}
		return types.NodeChangeEvent{
			Node:     common.BytesToAddress(lg.Topics[1].Bytes()),
			Added:    lg.Topics[0] == serviceABI.Events["NodeAdded"].ID,
			Block:    lg.BlockNumber,
			LogIndex: lg.Index,
		}, nil

	default:
		// Processed and ResultSubmitted are contract bookkeeping the node
		// never reacts to.
		return nil, nil
	}
}

// bytes32String renders a null-padded bytes32 identifier as its UTF-8 name.
func bytes32String(b [32]byte) string {
	end := bytes.IndexByte(b[:], 0)
	if end == -1 {
		end = len(b)
	}

	return strings.TrimSpace(string(b[:end]))
}

// bytes32Hex renders a raw 32-byte digest as the content store key.
func bytes32Hex(b [32]byte) string {
	return hex.EncodeToString(b[:])
}
