package recordmodel

import (
	"encoding/json"
	"time"
)

// Batch is an optional lease reference plus an ordered sequence of records
// submitted together.
type Batch struct {
	QueueID *string
	Data    []Record
}

type batchWire struct {
	QueueID *string           `json:"queue_id"`
	Data    []json.RawMessage `json:"data"`
}

// UnmarshalJSON decodes the wire batch, classifying each record by its
// present fields.
func (b *Batch) UnmarshalJSON(data []byte) error {
	var wire batchWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	records := make([]Record, 0, len(wire.Data))
	for _, raw := range wire.Data {
		rec, err := decodeRecord(raw)
		if err != nil {
			return err
		}
		records = append(records, rec)
	}
	b.QueueID = wire.QueueID
	b.Data = records
	return nil
}

// MarshalJSON re-serializes the batch to the same untagged wire shape.
func (b Batch) MarshalJSON() ([]byte, error) {
	return json.Marshal(batchWire{
		QueueID: b.QueueID,
		Data:    rawMessages(b.Data),
	})
}

func rawMessages(records []Record) []json.RawMessage {
	raws := make([]json.RawMessage, 0, len(records))
	for _, r := range records {
		if data, err := json.Marshal(r); err == nil {
			raws = append(raws, data)
		}
	}
	return raws
}

// Tag stamps every record's attribution fields. Pure transformation, no
// suspension points: safe to call without fear of interleaving with other
// tasks' mutations on the same batch.
func Tag(batch Batch, operatorID string, now time.Time) Batch {
	tagged := make([]Record, len(batch.Data))
	for i, r := range batch.Data {
		base := *r.Base()
		base.AddedBy = operatorID
		base.AddedAt = now
		tagged[i] = withBase(r, base)
	}
	return Batch{QueueID: batch.QueueID, Data: tagged}
}

// withBase returns a copy of r with its Common fields replaced.
func withBase(r Record, base Common) Record {
	switch v := r.(type) {
	case *Presence:
		cp := *v
		cp.Common = base
		return &cp
	case *Content:
		cp := *v
		cp.Common = base
		return &cp
	case *Meta:
		cp := *v
		cp.Common = base
		return &cp
	default:
		return r
	}
}

// ConfigView is the subset of configuration verify_for_config consults:
// the allowed content/presence types per platform.
type ConfigView struct {
	ContentTypes  map[string][]string
	PresenceTypes map[string][]string
}

func contains(list []string, needle string) bool {
	for _, v := range list {
		if v == needle {
			return true
		}
	}
	return false
}

func (c ConfigView) allowsPresence(platform, presenceType string) bool {
	types, ok := c.PresenceTypes[platform]
	return ok && contains(types, presenceType)
}

func (c ConfigView) allowsContent(platform, contentType string) bool {
	types, ok := c.ContentTypes[platform]
	return ok && contains(types, contentType)
}

// KnowsPlatform reports whether platform appears in either type map. The
// subject/group registry uses this to reject profiles naming an
// unconfigured platform at creation time.
func (c ConfigView) KnowsPlatform(platform string) bool {
	if _, ok := c.ContentTypes[platform]; ok {
		return true
	}
	if _, ok := c.PresenceTypes[platform]; ok {
		return true
	}
	return false
}

// VerifyForConfig retains a record iff its platform/type combination is
// configured. Records failing verification are silently dropped — that is
// not itself an error, only an empty resulting batch is.
func VerifyForConfig(batch Batch, cfg ConfigView) Batch {
	kept := make([]Record, 0, len(batch.Data))
	for _, r := range batch.Data {
		switch v := r.(type) {
		case *Presence:
			if cfg.allowsPresence(v.Platform, v.PresenceType) {
				kept = append(kept, r)
			}
		case *Content:
			if cfg.allowsContent(v.Platform, v.ContentType) {
				kept = append(kept, r)
			}
		case *Meta:
			if cfg.KnowsPlatform(v.Platform) {
				kept = append(kept, r)
			}
		}
	}
	return Batch{QueueID: batch.QueueID, Data: kept}
}

// QueueLeaseView is the subset of a leased queue entry verify_for_queue
// consults.
type QueueLeaseView struct {
	Platform    string
	PlatformID  string
	ConfirmedID bool
}

// VerifyForQueue retains a record iff it matches the leased platform, and
// either names the leased platform_id, or is a Meta record submitted
// against an unconfirmed (username-keyed) lease — the identity-rebinding
// allowance.
func VerifyForQueue(batch Batch, lease QueueLeaseView) Batch {
	kept := make([]Record, 0, len(batch.Data))
	for _, r := range batch.Data {
		base := r.Base()
		if base.Platform != lease.Platform {
			continue
		}
		if base.ID == lease.PlatformID {
			kept = append(kept, r)
			continue
		}
		if r.Kind() == KindMeta && !lease.ConfirmedID {
			kept = append(kept, r)
		}
	}
	return Batch{QueueID: batch.QueueID, Data: kept}
}

// Info summarizes a non-empty verified batch.
type Info struct {
	PlatformID string
	Platform   string
	AddedBy    string
	Username   *string
}

// Summarize derives an Info from a non-empty batch. The first Meta record
// present is authoritative for platform_id, platform, and added_by, not
// just username — Meta carries the confirmed identity, and a batch can
// legally pair it with other records still keyed by the unconfirmed
// username, so Data[0] is only a fallback for Meta-less batches.
func Summarize(batch Batch) (Info, bool) {
	if len(batch.Data) == 0 {
		return Info{}, false
	}

	var meta *Meta
	for _, r := range batch.Data {
		if m, ok := r.(*Meta); ok {
			meta = m
			break
		}
	}

	if meta != nil {
		base := meta.Base()
		username := meta.Username
		return Info{
			PlatformID: base.ID,
			Platform:   base.Platform,
			AddedBy:    base.AddedBy,
			Username:   &username,
		}, true
	}

	first := batch.Data[0].Base()
	return Info{
		PlatformID: first.ID,
		Platform:   first.Platform,
		AddedBy:    first.AddedBy,
	}, true
}
