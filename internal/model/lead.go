package model

import "time"

// LeadStatus is the CRM lifecycle state of a lead.
type LeadStatus string

const (
	LeadStatusNew        LeadStatus = "new"
	LeadStatusContacted  LeadStatus = "contacted"
	LeadStatusInterested LeadStatus = "interested"
	LeadStatusProposal   LeadStatus = "proposal"
	LeadStatusClosed     LeadStatus = "closed"
	LeadStatusLost       LeadStatus = "lost"
)

// UnknownName is the sentinel recorded when the connector has no display
// name for a contact. A later message that does carry a name replaces it.
const UnknownName = "Unknown"

// Lead is a unique contact, keyed by normalized phone number. Exactly one
// Lead exists per phone; repeated inbound messages mutate the same record.
type Lead struct {
	ID          int64      `json:"id"`
	Name        string     `json:"name"`
	Phone       string     `json:"phone"`
	Email       string     `json:"email,omitempty"`
	Status      LeadStatus `json:"status"`
	Notes       string     `json:"notes,omitempty"`
	LastContact *time.Time `json:"last_contact,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// LeadFilter controls List queries.
type LeadFilter struct {
	Status *LeadStatus // equals
	Phone  *string     // equals (normalized form)
	Limit  int         // default 50
	Offset int         // for pagination
	Desc   bool        // order by created_at
}
