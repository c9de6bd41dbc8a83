package models

const (
	DefaultOwner            = "System"
	DefaultType             = "New Submission"
	DefaultPriority         = "Medium"
	DefaultGWPCStatus       = "Pending"
	DefaultIndicated        = false
	DefaultAutomationStatus = "Not Applicable"
	DefaultExposureStatus   = "New"
)

// WorkItemUpdate is one normalized creation event. Workflow fields are always
// populated; the normalizer fills defaults for anything the source omitted.
type WorkItemUpdate struct {
	ID              string            `json:"id"`
	SubmissionID    string            `json:"submissionId"`
	SubmissionRef   string            `json:"submissionRef"`
	Subject         string            `json:"subject"`
	FromEmail       string            `json:"fromEmail"`
	CreatedAt       string            `json:"createdAt"`
	Status          string            `json:"status"`
	ExtractedFields map[string]string `json:"extractedFields,omitempty"`

	Owner            string `json:"owner"`
	Type             string `json:"type"`
	Priority         string `json:"priority"`
	GWPCStatus       string `json:"gwpcStatus"`
	Indicated        bool   `json:"indicated"`
	AutomationStatus string `json:"automationStatus"`
	ExposureStatus   string `json:"exposureStatus"`

	Source string `json:"source,omitempty"`
}

// WorkItem is the display projection kept in the "all known" collection.
type WorkItem struct {
	ID               string `json:"id"`
	Owner            string `json:"owner"`
	Type             string `json:"type"`
	Priority         string `json:"priority"`
	GWPCStatus       string `json:"gwpcStatus"`
	Status           string `json:"status"`
	Indicated        bool   `json:"indicated"`
	AutomationStatus string `json:"automationStatus"`
	ExposureStatus   string `json:"exposureStatus"`
	SubmissionID     string `json:"submissionId"`
}

func (u WorkItemUpdate) Identity() string { return u.ID }

func (w WorkItem) Identity() string { return w.ID }

// WorkItem projects the update into its display record.
func (u WorkItemUpdate) WorkItem() WorkItem {
	return WorkItem{
		ID:               u.ID,
		Owner:            u.Owner,
		Type:             u.Type,
		Priority:         u.Priority,
		GWPCStatus:       u.GWPCStatus,
		Status:           u.Status,
		Indicated:        u.Indicated,
		AutomationStatus: u.AutomationStatus,
		ExposureStatus:   u.ExposureStatus,
		SubmissionID:     u.SubmissionID,
	}
}
