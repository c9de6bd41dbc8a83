package models

import (
	"encoding/json"
	"strconv"
)

type WorkItemDataBuilder struct {
	data *WorkItemData
}

func NewWorkItemDataBuilder() *WorkItemDataBuilder {
	return &WorkItemDataBuilder{
		data: &WorkItemData{},
	}
}

func (b *WorkItemDataBuilder) WithID(id string) *WorkItemDataBuilder {
	b.data.ID, _ = json.Marshal(id)
	return b
}

func (b *WorkItemDataBuilder) WithNumericID(id int64) *WorkItemDataBuilder {
	b.data.ID = json.RawMessage(strconv.FormatInt(id, 10))
	return b
}

func (b *WorkItemDataBuilder) WithSubmission(id int64, ref string) *WorkItemDataBuilder {
	b.data.SubmissionID = json.RawMessage(strconv.FormatInt(id, 10))
	b.data.SubmissionRef = ref
	return b
}

func (b *WorkItemDataBuilder) WithSubject(subject string) *WorkItemDataBuilder {
	b.data.Subject = subject
	return b
}

func (b *WorkItemDataBuilder) WithFromEmail(email string) *WorkItemDataBuilder {
	b.data.FromEmail = &email
	return b
}

func (b *WorkItemDataBuilder) WithCreatedAt(createdAt string) *WorkItemDataBuilder {
	b.data.CreatedAt = createdAt
	return b
}

func (b *WorkItemDataBuilder) WithStatus(status string) *WorkItemDataBuilder {
	b.data.Status = status
	return b
}

func (b *WorkItemDataBuilder) WithPriority(priority string) *WorkItemDataBuilder {
	b.data.Priority = &priority
	return b
}

func (b *WorkItemDataBuilder) WithOwner(owner string) *WorkItemDataBuilder {
	b.data.Owner = &owner
	return b
}

func (b *WorkItemDataBuilder) WithExtractedField(key, value string) *WorkItemDataBuilder {
	if b.data.ExtractedFields == nil {
		b.data.ExtractedFields = make(map[string]string)
	}
	b.data.ExtractedFields[key] = value
	return b
}

func (b *WorkItemDataBuilder) Build() WorkItemData {
	if b.data.Status == "" {
		b.data.Status = "pending"
	}
	return *b.data
}

// Envelope builds the data and wraps it as a new_workitem envelope.
func (b *WorkItemDataBuilder) Envelope() EventEnvelope {
	env, _ := NewWorkItemEnvelope(b.Build())
	return env
}
