// Package recordmodel implements the tagged Record variant (Presence,
// Content, Meta) and the batch operations the ingestion pipeline runs over
// it: tag, verify_for_config, verify_for_queue, and info.
//
// Records marshal to and from the untagged JSON shape described in the
// wire contract: the JSON discriminates on which fields are present
// (presence_type, content_type, or the username/private/banned trio for
// Meta) rather than an explicit type tag, mirroring the small per-concept
// struct style of the teacher's domain packages (domain/automation/model.go,
// domain/trigger/model.go).
package recordmodel

import (
	"encoding/json"
	"fmt"
	"time"
)

// Kind distinguishes the three record shapes.
type Kind string

const (
	KindPresence Kind = "presence"
	KindContent  Kind = "content"
	KindMeta     Kind = "meta"
)

// Common holds the fields every record shares.
type Common struct {
	ID          string    `json:"id"`
	Platform    string    `json:"platform"`
	RetrievedAt time.Time `json:"retrieved_at"`
	AddedBy     string    `json:"added_by,omitempty"`
	AddedAt     time.Time `json:"added_at,omitempty"`
}

// Record is implemented by Presence, Content, and Meta.
type Record interface {
	Base() *Common
	Kind() Kind
}

// Presence observes that a (platform, id) was seen with a given status.
type Presence struct {
	Common
	PresenceType string `json:"presence_type"`
}

func (p *Presence) Base() *Common { return &p.Common }
func (p *Presence) Kind() Kind    { return KindPresence }

// TimeOrSpan accepts either a single RFC 3339 instant or a {"start","end"}
// span, matching the original source's looser timestamp shape for content
// creation times.
type TimeOrSpan struct {
	Start time.Time
	End   *time.Time
}

func (t TimeOrSpan) MarshalJSON() ([]byte, error) {
	if t.End == nil {
		return json.Marshal(t.Start)
	}
	return json.Marshal(struct {
		Start time.Time `json:"start"`
		End   time.Time `json:"end"`
	}{t.Start, *t.End})
}

func (t *TimeOrSpan) UnmarshalJSON(data []byte) error {
	var instant time.Time
	if err := json.Unmarshal(data, &instant); err == nil {
		t.Start = instant
		t.End = nil
		return nil
	}
	var span struct {
		Start time.Time `json:"start"`
		End   time.Time `json:"end"`
	}
	if err := json.Unmarshal(data, &span); err != nil {
		return fmt.Errorf("created_at: not an instant or a span: %w", err)
	}
	t.Start = span.Start
	t.End = &span.End
	return nil
}

// Content is a single content item (post, story, ...).
type Content struct {
	Common
	ContentType   string            `json:"content_type"`
	ContentID     string            `json:"content_id"`
	Deleted       *bool             `json:"deleted,omitempty"`
	RetrievedFrom string            `json:"retrieved_from,omitempty"`
	CreatedAt     *TimeOrSpan       `json:"created_at,omitempty"`
	Body          string            `json:"body,omitempty"`
	Media         []string          `json:"media,omitempty"`
	References    map[string]string `json:"references,omitempty"`
}

func (c *Content) Base() *Common { return &c.Common }
func (c *Content) Kind() Kind    { return KindContent }

// Meta carries profile metadata, including the ground-truth username for a
// confirmed platform id.
type Meta struct {
	Common
	Username       string            `json:"username"`
	Private        bool              `json:"private"`
	Banned         bool              `json:"banned"`
	DisplayName    *string           `json:"display_name,omitempty"`
	ProfilePicture *string           `json:"profile_picture,omitempty"`
	Bio            *string           `json:"bio,omitempty"`
	Verified       *bool             `json:"verified,omitempty"`
	References     map[string]string `json:"references,omitempty"`
	Link           *string           `json:"link,omitempty"`
}

func (m *Meta) Base() *Common { return &m.Common }
func (m *Meta) Kind() Kind    { return KindMeta }

// discriminator mirrors the subset of fields needed to classify an
// incoming JSON object before decoding it into a concrete type.
type discriminator struct {
	PresenceType *string `json:"presence_type"`
	ContentType  *string `json:"content_type"`
	Username     *string `json:"username"`
	Private      *bool   `json:"private"`
	Banned       *bool   `json:"banned"`
}

// decodeRecord classifies and decodes a single untagged JSON record.
func decodeRecord(raw json.RawMessage) (Record, error) {
	var d discriminator
	if err := json.Unmarshal(raw, &d); err != nil {
		return nil, fmt.Errorf("decode record discriminator: %w", err)
	}

	switch {
	case d.PresenceType != nil:
		var p Presence
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("decode presence record: %w", err)
		}
		return &p, nil
	case d.ContentType != nil:
		var c Content
		if err := json.Unmarshal(raw, &c); err != nil {
			return nil, fmt.Errorf("decode content record: %w", err)
		}
		return &c, nil
	case d.Username != nil || d.Private != nil || d.Banned != nil:
		var m Meta
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, fmt.Errorf("decode meta record: %w", err)
		}
		return &m, nil
	default:
		return nil, fmt.Errorf("record has neither presence_type, content_type, nor username/private/banned")
	}
}
