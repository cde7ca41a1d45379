package model

// HealthReport is the store-connectivity snapshot returned by the health
// endpoint.
type HealthReport struct {
	Database      string `json:"database"`
	TotalLeads    int64  `json:"total_leads"`
	TotalMessages int64  `json:"total_messages"`
}
