package store

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/saint-community/realtime/pkg/protocol"
)

// Memory is an in-memory Gateway for tests and local development. It
// mirrors the relational shape closely enough for snapshot assembly and
// handler writes, guarded by a single mutex.
type Memory struct {
	mu sync.Mutex

	users         map[string]*User
	events        []Event
	reports       []Report
	birthdays     map[string]Birthday // keyed by user id
	notifications []Notification
	sessions      map[string]*SessionState

	sessionTTL time.Duration
	now        func() time.Time
}

// NewMemory creates an empty in-memory gateway.
func NewMemory() *Memory {
	return &Memory{
		users:      make(map[string]*User),
		birthdays:  make(map[string]Birthday),
		sessions:   make(map[string]*SessionState),
		sessionTTL: 24 * time.Hour,
		now:        time.Now,
	}
}

// AddUser seeds a user row. Intended for tests and dev fixtures.
func (m *Memory) AddUser(u User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := u
	m.users[u.ID] = &cp
}

func (m *Memory) TodaysBirthdays(ctx context.Context) ([]Birthday, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	today := m.now()
	var out []Birthday
	for _, b := range m.birthdays {
		if b.BirthDate.Month() == today.Month() && b.BirthDate.Day() == today.Day() {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *Memory) UpcomingEvents(ctx context.Context) ([]Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	today := m.now().Truncate(24 * time.Hour)
	var out []Event
	for _, e := range m.events {
		if !e.EventDate.Before(today) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EventDate.Before(out[j].EventDate) })
	if len(out) > 10 {
		out = out[:10]
	}
	return out, nil
}

func (m *Memory) RecentReports(ctx context.Context) ([]Report, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reportsLocked(func(Report) bool { return true }), nil
}

func (m *Memory) ReportsByUser(ctx context.Context, userID string) ([]Report, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reportsLocked(func(r Report) bool { return r.UserID == userID }), nil
}

func (m *Memory) ReportsByLeader(ctx context.Context, leaderID string) ([]Report, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reportsLocked(func(r Report) bool {
		u, ok := m.users[r.UserID]
		return ok && u.AdminID == leaderID
	}), nil
}

// reportsLocked returns reports matching keep, newest first, capped at 50.
func (m *Memory) reportsLocked(keep func(Report) bool) []Report {
	var out []Report
	for _, r := range m.reports {
		if keep(r) {
			if u, ok := m.users[r.UserID]; ok {
				r.UserName = u.FullName
			}
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SubmittedAt.After(out[j].SubmittedAt) })
	if len(out) > 50 {
		out = out[:50]
	}
	return out
}

func (m *Memory) ActiveMembers(ctx context.Context) ([]User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.membersLocked(func(u *User) bool { return u.Role == string(protocol.RoleMember) }), nil
}

func (m *Memory) MembersByLeader(ctx context.Context, leaderID string) ([]User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.membersLocked(func(u *User) bool { return u.AdminID == leaderID }), nil
}

func (m *Memory) membersLocked(keep func(*User) bool) []User {
	var out []User
	for _, u := range m.users {
		if keep(u) {
			out = append(out, *u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastActive.After(out[j].LastActive) })
	return out
}

func (m *Memory) UserStatistics(ctx context.Context, userID string) (Statistics, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var s Statistics
	for _, r := range m.reports {
		if r.UserID != userID {
			continue
		}
		switch r.ReportType {
		case "daily":
			s.DailyReports++
		case "weekly":
			s.WeeklyReports++
		case "monthly":
			s.MonthlyReports++
		}
		switch r.Status {
		case ReportPending:
			s.PendingReports++
		case ReportReviewed:
			s.ReviewedReports++
		}
	}
	return s, nil
}

func (m *Memory) LeaderStatistics(ctx context.Context, leaderID string) (Statistics, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var s Statistics
	flock := make(map[string]bool)
	for id, u := range m.users {
		if u.AdminID == leaderID {
			flock[id] = true
			s.TotalMembers++
		}
	}
	weekAgo := m.now().AddDate(0, 0, -7)
	for _, r := range m.reports {
		if !flock[r.UserID] {
			continue
		}
		if r.Status == ReportPending {
			s.PendingReports++
		}
		if r.ReportType == "daily" && r.SubmittedAt.After(weekAgo) {
			s.WeeklyReports++
		}
	}
	s.UpcomingEvents = m.upcomingEventCountLocked()
	return s, nil
}

func (m *Memory) GlobalStatistics(ctx context.Context) (Statistics, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var s Statistics
	for _, u := range m.users {
		if protocol.Role(u.Role).Privileged() {
			s.TotalAdmins++
		} else {
			s.TotalMembers++
		}
	}
	weekAgo := m.now().AddDate(0, 0, -7)
	for _, r := range m.reports {
		if r.Status == ReportPending {
			s.PendingReports++
		}
		if r.SubmittedAt.After(weekAgo) {
			s.WeeklyReports++
		}
	}
	s.UpcomingEvents = m.upcomingEventCountLocked()
	return s, nil
}

func (m *Memory) upcomingEventCountLocked() int {
	today := m.now().Truncate(24 * time.Hour)
	n := 0
	for _, e := range m.events {
		if !e.EventDate.Before(today) {
			n++
		}
	}
	return n
}

func (m *Memory) TouchLastActive(ctx context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.users[userID]; ok {
		u.LastActive = m.now()
	}
	return nil
}

func (m *Memory) CompleteProfile(ctx context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return ErrNotFound
	}
	u.ProfileCompleted = true
	u.LastActive = m.now()
	return nil
}

func (m *Memory) InsertDailyReport(ctx context.Context, userID string, fields protocol.DailyReportFields) (string, error) {
	raw, err := json.Marshal(fields)
	if err != nil {
		return "", err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	r := Report{
		ID:          uuid.NewString(),
		UserID:      userID,
		ReportType:  "daily",
		Status:      ReportPending,
		ReportData:  raw,
		SubmittedAt: m.now(),
	}
	m.reports = append(m.reports, r)
	return r.ID, nil
}

func (m *Memory) InsertEvent(ctx context.Context, in EventInput) (Event, error) {
	date, err := parseEventDate(in.EventDate, m.now())
	if err != nil {
		return Event{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	e := Event{
		ID:          uuid.NewString(),
		Title:       in.Title,
		Description: in.Description,
		EventDate:   date,
		IsGlobal:    in.IsGlobal,
		CreatedBy:   in.CreatedBy,
		BannerURL:   in.BannerURL,
		CreatedAt:   m.now(),
	}
	if u, ok := m.users[in.CreatedBy]; ok {
		e.CreatorName = u.FullName
	}
	m.events = append(m.events, e)
	return e, nil
}

func (m *Memory) UpsertBirthday(ctx context.Context, in BirthdayInput) error {
	date, err := parseEventDate(in.BirthDate, m.now())
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.birthdays[in.UserID]
	if !ok {
		b = Birthday{ID: uuid.NewString(), UserID: in.UserID}
	}
	b.Name = in.Name
	b.BirthDate = date
	b.Age = in.Age
	m.birthdays[in.UserID] = b
	return nil
}

func (m *Memory) InsertNotification(ctx context.Context, in NotificationInput) error {
	var raw json.RawMessage
	if in.Data != nil {
		b, err := json.Marshal(in.Data)
		if err != nil {
			return err
		}
		raw = b
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.notifications = append(m.notifications, Notification{
		ID:        uuid.NewString(),
		UserID:    in.UserID,
		Type:      in.Type,
		Title:     in.Title,
		Message:   in.Message,
		Data:      raw,
		CreatedAt: m.now(),
	})
	return nil
}

func (m *Memory) UpsertSession(ctx context.Context, userID string, fields map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := make(map[string]any, len(fields))
	for k, v := range fields {
		cp[k] = v
	}
	m.sessions[userID] = &SessionState{
		UserID:      userID,
		Fields:      cp,
		LastUpdated: m.now(),
		ExpiresAt:   m.now().Add(m.sessionTTL),
	}
	return nil
}

func (m *Memory) MergeSessionField(ctx context.Context, userID, field string, value any) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[userID]
	if !ok {
		s = &SessionState{UserID: userID, Fields: make(map[string]any)}
		m.sessions[userID] = s
	}
	s.Fields[field] = value
	s.LastUpdated = m.now()
	s.ExpiresAt = m.now().Add(m.sessionTTL)
	return nil
}

func (m *Memory) SessionFields(ctx context.Context, userID string) (map[string]any, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[userID]
	if !ok || s.ExpiresAt.Before(m.now()) {
		return nil, ErrNotFound
	}
	cp := make(map[string]any, len(s.Fields))
	for k, v := range s.Fields {
		cp[k] = v
	}
	return cp, nil
}

func (m *Memory) NotificationsByUser(ctx context.Context, userID string) ([]Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []Notification
	for _, n := range m.notifications {
		if n.UserID == "" || n.UserID == userID {
			out = append(out, n)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > 50 {
		out = out[:50]
	}
	return out, nil
}

func (m *Memory) MarkNotificationRead(ctx context.Context, notificationID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := range m.notifications {
		if m.notifications[i].ID == notificationID {
			m.notifications[i].Read = true
			return nil
		}
	}
	return ErrNotFound
}

func (m *Memory) Close() error { return nil }

// parseEventDate accepts the date formats the clients send: RFC 3339 or
// a bare calendar date.
func parseEventDate(s string, fallback time.Time) (time.Time, error) {
	if s == "" {
		return fallback, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", s)
}
