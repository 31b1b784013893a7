package bridge

import (
	"bytes"
	"encoding/json"
	"errors"

	"github.com/Aurorachain/dappshell/params"
	"github.com/Aurorachain/dappshell/ui"
)

// Action names a bridge request.
type Action string

const (
	ActionReady                 Action = "ready"
	ActionGetAccount            Action = "getAccount"
	ActionGetNetwork            Action = "getNetwork"
	ActionFundAccount           Action = "fundAccount"
	ActionSetupEvent            Action = "setupEvent"
	ActionTeardownEvent         Action = "teardownEvent"
	ActionNotify                Action = "notify"
	ActionSend                  Action = "send"
	ActionSendTransaction       Action = "sendTransaction"
	ActionDeployContract        Action = "deployContract"
	ActionCall                  Action = "call"
	ActionEstimateGas           Action = "estimateGas"
	ActionGetBalance            Action = "getBalance"
	ActionGetBlock              Action = "getBlock"
	ActionGetBlockNumber        Action = "getBlockNumber"
	ActionGetGasPrice           Action = "getGasPrice"
	ActionGetTransaction        Action = "getTransaction"
	ActionGetTransactionCount   Action = "getTransactionCount"
	ActionGetTransactionReceipt Action = "getTransactionReceipt"
)

// Notification actions pushed to applications.
const (
	notifyReady          = "ready"
	notifyBlock          = "block"
	notifyAccountChanged = "accountChanged"
	notifyEvent          = "event"
)

// WireError is the closed set of reasons an application can be told.
type WireError string

const (
	ErrCancelled      WireError = "cancelled"
	ErrUnknown        WireError = "unknown error"
	ErrInvalidCommand WireError = "invalid command"
	ErrInvalidNetwork WireError = "invalid network"
)

func (e WireError) Error() string { return string(e) }

// wireError reduces err to a WireError. Aborted flows, purges included, are
// cancellations; everything unexpected is an unknown error.
func wireError(err error) WireError {
	var we WireError
	switch {
	case errors.As(err, &we):
		return we
	case ui.Aborted(err):
		return ErrCancelled
	default:
		return ErrUnknown
	}
}

// request is an inbound envelope.
type request struct {
	Tag    string          `json:"ethers"`
	ID     json.RawMessage `json:"id,omitempty"`
	Action Action          `json:"action"`
	Params json.RawMessage `json:"params,omitempty"`
}

// response answers a request. Result is always emitted on success, a JSON
// null included.
type response struct {
	Tag    string          `json:"ethers"`
	ID     json.RawMessage `json:"id,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  WireError       `json:"error,omitempty"`
}

var jsonNull = json.RawMessage("null")

func decodeRequest(data []byte) (*request, error) {
	req := new(request)
	if err := json.Unmarshal(data, req); err != nil {
		return nil, err
	}
	return req, nil
}

// decodeParams unpacks the request parameters, keeping numbers as
// json.Number so integrality can be checked. Missing params decode to an
// empty map.
func (req *request) decodeParams() (map[string]interface{}, error) {
	out := make(map[string]interface{})
	if len(req.Params) == 0 || bytes.Equal(req.Params, jsonNull) {
		return out, nil
	}
	dec := json.NewDecoder(bytes.NewReader(req.Params))
	dec.UseNumber()
	if err := dec.Decode(&out); err != nil {
		return nil, err
	}
	return out, nil
}

func encodeResult(id json.RawMessage, result interface{}) ([]byte, error) {
	raw := jsonNull
	if result != nil {
		enc, err := json.Marshal(result)
		if err != nil {
			return nil, err
		}
		raw = enc
	}
	return json.Marshal(&response{Tag: params.ProtocolTag, ID: id, Result: raw})
}

func encodeError(id json.RawMessage, reason WireError) []byte {
	enc, _ := json.Marshal(&response{Tag: params.ProtocolTag, ID: id, Error: reason})
	return enc
}

// encodeNotification tags payload and names its action.
func encodeNotification(action string, payload map[string]interface{}) ([]byte, error) {
	msg := make(map[string]interface{}, len(payload)+2)
	for k, v := range payload {
		msg[k] = v
	}
	msg["ethers"] = params.ProtocolTag
	msg["action"] = action
	return json.Marshal(msg)
}
