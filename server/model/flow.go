package model

type FlowState int

const RUNNING FlowState = 1
const WAITING_RESPONSE FlowState = 2
const COMPLETED FlowState = 3
const FAILED FlowState = 4

func (s FlowState) Terminal() bool {
	return s == COMPLETED || s == FAILED
}

// FlowContext is the persisted record of one flow. Between engine
// invocations a flow is only this record, never a running task.
type FlowContext struct {
	Id             string            `json:"id"`
	FlowName       string            `json:"flowName"`
	ClientId       string            `json:"clientId,omitempty"`
	HuntId         string            `json:"huntId,omitempty"`
	State          FlowState         `json:"flowState"`
	CurrentHandler string            `json:"currentHandler,omitempty"`
	Outstanding    map[string]string `json:"outstanding"`
	Vars           map[string]any    `json:"vars"`
	Errors         []string          `json:"errors,omitempty"`
	CreateTime     int64             `json:"createTime"`
	LeaseExpiry    int64             `json:"leaseExpiry"`
}

// Request is an outbound message for a remote client, queued through
// the router and picked up by the client on its next poll.
type Request struct {
	SessionId string         `json:"sessionId"`
	RequestId string         `json:"requestId"`
	ClientId  string         `json:"clientId"`
	Action    string         `json:"action"`
	Payload   map[string]any `json:"payload,omitempty"`
}

// Response is an inbound message from a remote client for an
// outstanding request.
type Response struct {
	SessionId string         `json:"sessionId"`
	RequestId string         `json:"requestId"`
	Payload   map[string]any `json:"payload,omitempty"`
	Error     string         `json:"error,omitempty"`
}

func (r *Response) Success() bool {
	return r.Error == ""
}
