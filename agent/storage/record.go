package storage

import "time"

// Record is the interface every persisted entity implements. RecordType
// names the bucket, and TagValues returns the tags derived from the current
// field values of the record.
type Record interface {
	RecordType() string
	Base() *BaseRecord
	TagValues() map[string]string
}

// BaseRecord is the common part of all records. It's embedded to the records.
type BaseRecord struct {
	ID        string            `json:"id"`
	CreatedAt time.Time         `json:"createdAt"`
	UpdatedAt *time.Time        `json:"updatedAt,omitempty"`
	FreeTags  map[string]string `json:"tags,omitempty"`
}

func (b *BaseRecord) Base() *BaseRecord {
	return b
}

// SetTag sets a free form tag which is indexed together with the computed
// tags of the record.
func (b *BaseRecord) SetTag(name, value string) {
	if b.FreeTags == nil {
		b.FreeTags = make(map[string]string)
	}
	b.FreeTags[name] = value
}

func (b *BaseRecord) Tag(name string) string {
	return b.FreeTags[name]
}

// Tags returns all the tags of the record: free tags overridden by computed
// ones. Empty computed values are not indexed.
func Tags(r Record) map[string]string {
	tags := make(map[string]string)
	for k, v := range r.Base().FreeTags {
		tags[k] = v
	}
	for k, v := range r.TagValues() {
		if v == "" {
			continue
		}
		tags[k] = v
	}
	return tags
}

// BoolTag is a helper to store booleans as tags.
func BoolTag(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
