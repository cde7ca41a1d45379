package model

// ConnectorSendResult is the connector's reply to a send-message call.
type ConnectorSendResult struct {
	Success   bool   `json:"success"`
	MessageID string `json:"message_id,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Error     string `json:"error,omitempty"`
}

// ConnectorStatus reports the connector's WhatsApp session state.
type ConnectorStatus struct {
	Connected  bool   `json:"connected"`
	State      string `json:"state"`
	RetryCount int    `json:"retry_count"`
	Uptime     int64  `json:"uptime"`
}
