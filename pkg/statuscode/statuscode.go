// Package statuscode defines the shared numeric status-code space used at
// subsystem boundaries. Zero always means success; risk rejections report
// the triggering rule number separately from these codes.
package statuscode

import "fmt"

const (
	OK = 0

	// Order ledger
	DuplicateOrderID = 10001
	OrderNotFound    = 10002

	// Submission path
	RejectedByRiskCtrl       = 11001
	ExternalSysOrderRejected = 11002
	SubmitToGatewayFailed    = 11003
	CancelToGatewayFailed    = 11004

	// Flow-control configuration
	InvalidFlowCtrlTarget     = 12001
	InvalidFlowCtrlStep       = 12002
	InvalidFlowCtrlAction     = 12003
	InvalidFlowCtrlLimitValue = 12004
	InvalidCondition          = 12005

	// Persistence
	AsyncExecFailed = 13001
)

var messages = map[int]string{
	OK:                        "ok",
	DuplicateOrderID:          "order id already exists in ledger",
	OrderNotFound:             "order not found in ledger",
	RejectedByRiskCtrl:        "order rejected by flow ctrl rule",
	ExternalSysOrderRejected:  "order rejected by external system",
	SubmitToGatewayFailed:     "submit order to gateway failed",
	CancelToGatewayFailed:     "cancel order via gateway failed",
	InvalidFlowCtrlTarget:     "invalid flow ctrl target",
	InvalidFlowCtrlStep:       "invalid flow ctrl step",
	InvalidFlowCtrlAction:     "invalid flow ctrl action",
	InvalidFlowCtrlLimitValue: "invalid flow ctrl limit value",
	InvalidCondition:          "invalid condition",
	AsyncExecFailed:           "async db exec submission failed",
}

// Message returns the human-readable text for a status code.
func Message(code int) string {
	if msg, ok := messages[code]; ok {
		return msg
	}
	return fmt.Sprintf("unknown status code %d", code)
}
