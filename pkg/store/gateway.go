package store

import (
	"context"
	"errors"

	"github.com/saint-community/realtime/pkg/protocol"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("store: not found")

// Gateway is the storage boundary consumed by the realtime core. The
// core never issues raw queries; everything goes through these named
// operations against the backing relational store.
type Gateway interface {
	// Reads feeding snapshots.
	TodaysBirthdays(ctx context.Context) ([]Birthday, error)
	UpcomingEvents(ctx context.Context) ([]Event, error)
	RecentReports(ctx context.Context) ([]Report, error)
	ReportsByUser(ctx context.Context, userID string) ([]Report, error)
	ReportsByLeader(ctx context.Context, leaderID string) ([]Report, error)
	ActiveMembers(ctx context.Context) ([]User, error)
	MembersByLeader(ctx context.Context, leaderID string) ([]User, error)
	UserStatistics(ctx context.Context, userID string) (Statistics, error)
	LeaderStatistics(ctx context.Context, leaderID string) (Statistics, error)
	GlobalStatistics(ctx context.Context) (Statistics, error)

	// Writes issued by router handlers.
	TouchLastActive(ctx context.Context, userID string) error
	CompleteProfile(ctx context.Context, userID string) error
	InsertDailyReport(ctx context.Context, userID string, fields protocol.DailyReportFields) (reportID string, err error)
	InsertEvent(ctx context.Context, in EventInput) (Event, error)
	UpsertBirthday(ctx context.Context, in BirthdayInput) error
	InsertNotification(ctx context.Context, in NotificationInput) error

	// SessionState, last-writer-wins keyed by owner identity.
	UpsertSession(ctx context.Context, userID string, fields map[string]any) error
	MergeSessionField(ctx context.Context, userID, field string, value any) error
	SessionFields(ctx context.Context, userID string) (map[string]any, error)

	// Notification feed.
	NotificationsByUser(ctx context.Context, userID string) ([]Notification, error)
	MarkNotificationRead(ctx context.Context, notificationID string) error

	Close() error
}

// EventInput is the payload for InsertEvent.
type EventInput struct {
	Title       string
	Description string
	EventDate   string
	IsGlobal    bool
	CreatedBy   string
	BannerURL   string
}

// BirthdayInput is the payload for UpsertBirthday.
type BirthdayInput struct {
	UserID    string
	Name      string
	BirthDate string
	Age       int
}

// NotificationInput is the payload for InsertNotification.
type NotificationInput struct {
	UserID  string
	Type    string
	Title   string
	Message string
	Data    any
}

// FullSnapshot assembles the global view of the derived state: today's
// birthdays, upcoming events, recent reports, active members, and the
// global statistics block. A read failure on any collection fails the
// whole snapshot; callers treat it as one logical read.
func FullSnapshot(ctx context.Context, gw Gateway) (*Snapshot, error) {
	birthdays, err := gw.TodaysBirthdays(ctx)
	if err != nil {
		return nil, err
	}
	events, err := gw.UpcomingEvents(ctx)
	if err != nil {
		return nil, err
	}
	reports, err := gw.RecentReports(ctx)
	if err != nil {
		return nil, err
	}
	members, err := gw.ActiveMembers(ctx)
	if err != nil {
		return nil, err
	}
	stats, err := gw.GlobalStatistics(ctx)
	if err != nil {
		return nil, err
	}
	return &Snapshot{
		Birthdays:  birthdays,
		Events:     events,
		Reports:    reports,
		Members:    members,
		Statistics: stats,
	}, nil
}

// SnapshotFor assembles the snapshot scoped to one viewer: members see
// their own reports and counters, leaders see their flock, top-level
// leaders see the global view.
func SnapshotFor(ctx context.Context, gw Gateway, userID string, role protocol.Role) (*Snapshot, error) {
	birthdays, err := gw.TodaysBirthdays(ctx)
	if err != nil {
		return nil, err
	}
	events, err := gw.UpcomingEvents(ctx)
	if err != nil {
		return nil, err
	}

	snap := &Snapshot{Birthdays: birthdays, Events: events}

	switch {
	case role == protocol.RoleSuperAdmin:
		if snap.Reports, err = gw.RecentReports(ctx); err != nil {
			return nil, err
		}
		if snap.Members, err = gw.ActiveMembers(ctx); err != nil {
			return nil, err
		}
		if snap.Statistics, err = gw.GlobalStatistics(ctx); err != nil {
			return nil, err
		}
	case role.Privileged():
		if snap.Reports, err = gw.ReportsByLeader(ctx, userID); err != nil {
			return nil, err
		}
		if snap.Members, err = gw.MembersByLeader(ctx, userID); err != nil {
			return nil, err
		}
		if snap.Statistics, err = gw.LeaderStatistics(ctx, userID); err != nil {
			return nil, err
		}
	default:
		if snap.Reports, err = gw.ReportsByUser(ctx, userID); err != nil {
			return nil, err
		}
		if snap.Statistics, err = gw.UserStatistics(ctx, userID); err != nil {
			return nil, err
		}
	}
	return snap, nil
}
