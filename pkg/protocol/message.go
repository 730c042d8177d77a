package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Type identifies a wire message. The vocabulary is closed: the router
// dispatches only on the constants below and drops anything else.
type Type string

// Client-originated message types.
const (
	TypeAuth                  Type = "auth"
	TypeDailyReportSubmitted  Type = "daily_report_submitted"
	TypeFieldUpdate           Type = "field_update"
	TypeAutoSaveDailyReport   Type = "auto_save_daily_report"
	TypeManualSaveDailyReport Type = "manual_save_daily_report"
	TypeNewEvent              Type = "new_event"
	TypeBirthdayUpdate        Type = "birthday_update"
	TypeMemberJoined          Type = "member_joined"
	TypeRequestInitialData    Type = "request_initial_data"
	TypeDataUpdate            Type = "data_update"
)

// Server-originated message types.
const (
	TypeInitialData          Type = "initial_data"
	TypeAuthSuccess          Type = "auth_success"
	TypeReportSubmitted      Type = "report_submitted"
	TypeUserFieldUpdate      Type = "user_field_update"
	TypeStatisticsUpdate     Type = "statistics_update"
	TypeRefreshData          Type = "refresh_data"
	TypeNewReportSubmitted   Type = "new_report_submitted"
	TypeNewMemberJoined      Type = "new_member_joined"
	TypeEventUpdate          Type = "event_update"
	TypeBirthdayNotification Type = "birthday_notification"
)

var knownTypes = map[Type]struct{}{
	TypeAuth:                  {},
	TypeDailyReportSubmitted:  {},
	TypeFieldUpdate:           {},
	TypeAutoSaveDailyReport:   {},
	TypeManualSaveDailyReport: {},
	TypeNewEvent:              {},
	TypeBirthdayUpdate:        {},
	TypeMemberJoined:          {},
	TypeRequestInitialData:    {},
	TypeDataUpdate:            {},
	TypeInitialData:           {},
	TypeAuthSuccess:           {},
	TypeReportSubmitted:       {},
	TypeUserFieldUpdate:       {},
	TypeStatisticsUpdate:      {},
	TypeRefreshData:           {},
	TypeNewReportSubmitted:    {},
	TypeNewMemberJoined:       {},
	TypeEventUpdate:           {},
	TypeBirthdayNotification:  {},
}

// Known reports whether t is part of the closed vocabulary.
func (t Type) Known() bool {
	_, ok := knownTypes[t]
	return ok
}

// Role is the connection role carried on the connect URL and the auth message.
type Role string

const (
	RoleMember     Role = "user"
	RoleLeader     Role = "admin"
	RoleSuperAdmin Role = "super_admin"
)

// Privileged reports whether the role is eligible for leader-only broadcasts.
func (r Role) Privileged() bool {
	return r == RoleLeader || r == RoleSuperAdmin
}

// Valid reports whether r is one of the fixed roles.
func (r Role) Valid() bool {
	switch r {
	case RoleMember, RoleLeader, RoleSuperAdmin:
		return true
	}
	return false
}

// ErrEmptyType is returned when a decoded message carries no type tag.
var ErrEmptyType = errors.New("protocol: message has no type")

// Message is the JSON envelope exchanged between client and server.
// Data is kept raw so the router can decode it against the payload
// struct matching the type tag.
type Message struct {
	Type      Type            `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	UserID    string          `json:"userId,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

// New builds a message of the given type with data marshaled into the
// envelope and the timestamp set to the current time.
func New(t Type, data any) (*Message, error) {
	m := &Message{
		Type:      t,
		Timestamp: time.Now().UnixMilli(),
	}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("protocol: encode %s data: %w", t, err)
		}
		m.Data = raw
	}
	return m, nil
}

// Decode parses a wire message. A syntactically valid JSON object with
// an empty or missing type is rejected; unknown-but-present types pass
// through so the router can log and drop them.
func Decode(b []byte) (*Message, error) {
	var m Message
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("protocol: decode message: %w", err)
	}
	if m.Type == "" {
		return nil, ErrEmptyType
	}
	return &m, nil
}

// Encode serializes the message for the wire.
func (m *Message) Encode() ([]byte, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("protocol: encode message: %w", err)
	}
	return b, nil
}

// DecodeData unmarshals the payload into v.
func (m *Message) DecodeData(v any) error {
	if len(m.Data) == 0 {
		return fmt.Errorf("protocol: %s message has no data", m.Type)
	}
	if err := json.Unmarshal(m.Data, v); err != nil {
		return fmt.Errorf("protocol: decode %s data: %w", m.Type, err)
	}
	return nil
}
