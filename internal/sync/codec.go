package sync

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"

	"github.com/hyperengineering/simplesync/internal/store"
)

// Form field names of a sync request.
const (
	FieldProtocol       = "protocol"
	FieldAppVersion     = "appVersion"
	FieldDBIdent        = "dbIdent"
	FieldDBVersion      = "dbVersion"
	FieldDBSyncedAt     = "dbSyncedAt"
	FieldDBDelta        = "dbDelta"
	FieldConversationID = "conversationId"
)

// UpdateMarker opens a schema/code update response. Delta replies are JSON
// objects, so any response not starting with '{' is an update.
const UpdateMarker = "#simplesync-update\n"

type wireEntry struct {
	Op     Op             `json:"op"`
	Record map[string]any `json:"record,omitempty"`
}

// UnmarshalJSON decodes a delta, keeping numbers exact and rejecting
// non-numeric record keys.
func (d *Delta) UnmarshalJSON(data []byte) error {
	var raw map[string]map[string]wireEntry
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return fmt.Errorf("decode delta: %w", err)
	}

	out := make(Delta, len(raw))
	for table, rows := range raw {
		m := make(map[int64]Entry, len(rows))
		for key, we := range rows {
			id, err := strconv.ParseInt(key, 10, 64)
			if err != nil {
				return fmt.Errorf("%w: %s key %q", ErrInvalidID, table, key)
			}
			if we.Op != OpSave && we.Op != OpDelete {
				return fmt.Errorf("%w: %s/%d %q", ErrInvalidOp, table, id, we.Op)
			}
			e := Entry{Op: we.Op}
			if we.Record != nil {
				// Normalize later in the applier so an embedded id that
				// is not numeric can still be reported as such.
				e.Record = store.Record(we.Record)
			}
			m[id] = e
		}
		out[table] = m
	}
	*d = out
	return nil
}

// EncodeRequest renders a request as form values.
func EncodeRequest(req *Request) (url.Values, error) {
	delta := req.Delta
	if delta == nil {
		delta = Delta{}
	}
	deltaJSON, err := json.Marshal(delta)
	if err != nil {
		return nil, fmt.Errorf("encode delta: %w", err)
	}
	protocol := req.Protocol
	if protocol == "" {
		protocol = Protocol
	}
	v := url.Values{}
	v.Set(FieldProtocol, protocol)
	v.Set(FieldAppVersion, req.AppVersion)
	v.Set(FieldDBIdent, req.DBIdent)
	v.Set(FieldDBVersion, strconv.Itoa(req.DBVersion))
	v.Set(FieldDBSyncedAt, req.DBSyncedAt)
	v.Set(FieldDBDelta, string(deltaJSON))
	v.Set(FieldConversationID, req.ConversationID)
	return v, nil
}

// DecodeRequest parses form values into a request.
func DecodeRequest(v url.Values) (*Request, error) {
	req := &Request{
		Protocol:       v.Get(FieldProtocol),
		AppVersion:     v.Get(FieldAppVersion),
		DBIdent:        v.Get(FieldDBIdent),
		DBSyncedAt:     v.Get(FieldDBSyncedAt),
		ConversationID: v.Get(FieldConversationID),
	}
	if req.Protocol != Protocol {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedProtocol, req.Protocol)
	}
	if req.DBIdent == "" {
		return nil, fmt.Errorf("%w: %s is required", ErrMalformedRequest, FieldDBIdent)
	}
	version, err := strconv.Atoi(v.Get(FieldDBVersion))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformedRequest, FieldDBVersion, err)
	}
	req.DBVersion = version
	if req.DBSyncedAt != "" {
		if _, err := store.ParseTime(req.DBSyncedAt); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrMalformedRequest, FieldDBSyncedAt, err)
		}
	}

	req.Delta = Delta{}
	if raw := v.Get(FieldDBDelta); raw != "" {
		if err := json.Unmarshal([]byte(raw), &req.Delta); err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrMalformedRequest, FieldDBDelta, err)
		}
	}
	return req, nil
}

// EncodeReply renders a delta reply.
func EncodeReply(r *Reply) ([]byte, error) {
	if r.Delta == nil {
		r.Delta = Delta{}
	}
	return json.Marshal(r)
}

// EncodeUpdate wraps an update payload with the marker.
func EncodeUpdate(payload []byte) []byte {
	return append([]byte(UpdateMarker), payload...)
}

// IsUpdate reports whether a response body is an update payload rather
// than a delta reply.
func IsUpdate(body []byte) bool {
	trimmed := bytes.TrimLeft(body, " \t\r\n")
	return len(trimmed) == 0 || trimmed[0] != '{'
}

// UpdatePayload strips the marker from an update response.
func UpdatePayload(body []byte) []byte {
	return bytes.TrimPrefix(bytes.TrimLeft(body, " \t\r\n"), []byte(UpdateMarker))
}

// DecodeReply parses a delta reply body.
func DecodeReply(body []byte) (*Reply, error) {
	var r Reply
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&r); err != nil {
		return nil, fmt.Errorf("decode reply: %w", err)
	}
	if r.Delta == nil {
		r.Delta = Delta{}
	}
	return &r, nil
}
