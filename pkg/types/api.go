package types

// BatchCallRequest is the body of a batch tool call.
type BatchCallRequest struct {
	Calls []ToolCallRequest `json:"calls"`
}

// BatchCallResponse holds one result per call, in the order of the request.
type BatchCallResponse struct {
	BatchID string            `json:"batch_id"`
	Results []*ToolCallResult `json:"results"`
}

// ConnectResponse is returned by the connect endpoint.
// Error is set when the attempt failed; Status then carries the error state.
type ConnectResponse struct {
	Status *ToolServerStatus `json:"status"`
	Error  string            `json:"error,omitempty"`
}
