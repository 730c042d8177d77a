package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/saint-community/realtime/pkg/protocol"
)

// Postgres is the production Gateway backed by the community database.
// All access is through parameterized queries; the realtime core treats
// this as an opaque read/write boundary.
type Postgres struct {
	db     *sqlx.DB
	logger *slog.Logger

	sessionTTL    time.Duration
	sweepInterval time.Duration
	done          chan struct{}
	sweepDone     chan struct{}
}

// PostgresOption configures a Postgres gateway.
type PostgresOption func(*Postgres)

// WithSessionTTL sets how long SessionState rows live. Default: 24h.
func WithSessionTTL(d time.Duration) PostgresOption {
	return func(p *Postgres) { p.sessionTTL = d }
}

// WithSweepInterval sets how often expired session rows are reaped.
// Default: 5 minutes.
func WithSweepInterval(d time.Duration) PostgresOption {
	return func(p *Postgres) { p.sweepInterval = d }
}

// OpenPostgres connects to the community database and starts the
// expired-session sweep loop.
func OpenPostgres(dsn string, logger *slog.Logger, opts ...PostgresOption) (*Postgres, error) {
	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: connect: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	p := &Postgres{
		db:            db,
		logger:        logger.With("component", "store"),
		sessionTTL:    24 * time.Hour,
		sweepInterval: 5 * time.Minute,
		done:          make(chan struct{}),
		sweepDone:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}

	go p.sweepLoop()

	return p, nil
}

func (p *Postgres) TodaysBirthdays(ctx context.Context) ([]Birthday, error) {
	var out []Birthday
	err := p.db.SelectContext(ctx, &out, `
		SELECT b.id, b.user_id, COALESCE(u.full_name, b.name) AS name, b.birth_date, COALESCE(b.age, 0) AS age
		FROM birthdays b
		LEFT JOIN users u ON b.user_id = u.id
		WHERE EXTRACT(MONTH FROM b.birth_date) = EXTRACT(MONTH FROM CURRENT_DATE)
		  AND EXTRACT(DAY FROM b.birth_date) = EXTRACT(DAY FROM CURRENT_DATE)
		ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("store: todays birthdays: %w", err)
	}
	return out, nil
}

func (p *Postgres) UpcomingEvents(ctx context.Context) ([]Event, error) {
	var out []Event
	err := p.db.SelectContext(ctx, &out, `
		SELECT e.id, e.title, COALESCE(e.description, '') AS description, e.event_date,
		       e.is_global, e.created_by, COALESCE(u.full_name, '') AS creator_name,
		       COALESCE(e.banner_url, '') AS banner_url, e.created_at
		FROM events e
		LEFT JOIN users u ON e.created_by = u.id
		WHERE e.event_date >= CURRENT_DATE
		ORDER BY e.event_date ASC
		LIMIT 10`)
	if err != nil {
		return nil, fmt.Errorf("store: upcoming events: %w", err)
	}
	return out, nil
}

const reportColumns = `
	SELECT r.id, r.user_id, COALESCE(u.full_name, '') AS user_name,
	       r.report_type, r.status, r.report_data, r.submitted_at
	FROM reports r
	LEFT JOIN users u ON r.user_id = u.id`

func (p *Postgres) RecentReports(ctx context.Context) ([]Report, error) {
	var out []Report
	err := p.db.SelectContext(ctx, &out, reportColumns+`
		ORDER BY r.submitted_at DESC
		LIMIT 50`)
	if err != nil {
		return nil, fmt.Errorf("store: recent reports: %w", err)
	}
	return out, nil
}

func (p *Postgres) ReportsByUser(ctx context.Context, userID string) ([]Report, error) {
	var out []Report
	err := p.db.SelectContext(ctx, &out, reportColumns+`
		WHERE r.user_id = $1
		ORDER BY r.submitted_at DESC
		LIMIT 50`, userID)
	if err != nil {
		return nil, fmt.Errorf("store: reports by user: %w", err)
	}
	return out, nil
}

func (p *Postgres) ReportsByLeader(ctx context.Context, leaderID string) ([]Report, error) {
	var out []Report
	err := p.db.SelectContext(ctx, &out, reportColumns+`
		WHERE u.admin_id = $1
		ORDER BY r.submitted_at DESC
		LIMIT 50`, leaderID)
	if err != nil {
		return nil, fmt.Errorf("store: reports by leader: %w", err)
	}
	return out, nil
}

const memberColumns = `
	SELECT id, email, COALESCE(full_name, '') AS full_name, role,
	       COALESCE(admin_id, '') AS admin_id, profile_completed, last_active, created_at
	FROM users`

func (p *Postgres) ActiveMembers(ctx context.Context) ([]User, error) {
	var out []User
	err := p.db.SelectContext(ctx, &out, memberColumns+`
		WHERE role = 'user'
		ORDER BY last_active DESC`)
	if err != nil {
		return nil, fmt.Errorf("store: active members: %w", err)
	}
	return out, nil
}

func (p *Postgres) MembersByLeader(ctx context.Context, leaderID string) ([]User, error) {
	var out []User
	err := p.db.SelectContext(ctx, &out, memberColumns+`
		WHERE admin_id = $1
		ORDER BY created_at DESC`, leaderID)
	if err != nil {
		return nil, fmt.Errorf("store: members by leader: %w", err)
	}
	return out, nil
}

func (p *Postgres) UserStatistics(ctx context.Context, userID string) (Statistics, error) {
	var s Statistics
	err := p.db.GetContext(ctx, &s, `
		SELECT
			COUNT(*) FILTER (WHERE report_type = 'daily')    AS daily_reports,
			COUNT(*) FILTER (WHERE report_type = 'weekly')   AS weekly_reports,
			COUNT(*) FILTER (WHERE report_type = 'monthly')  AS monthly_reports,
			COUNT(*) FILTER (WHERE status = 'pending')       AS pending_reports,
			COUNT(*) FILTER (WHERE status = 'reviewed')      AS reviewed_reports
		FROM reports
		WHERE user_id = $1`, userID)
	if err != nil {
		return Statistics{}, fmt.Errorf("store: user statistics: %w", err)
	}
	return s, nil
}

func (p *Postgres) LeaderStatistics(ctx context.Context, leaderID string) (Statistics, error) {
	var s Statistics
	err := p.db.GetContext(ctx, &s, `
		SELECT
			COUNT(DISTINCT u.id) AS total_members,
			COUNT(*) FILTER (WHERE r.status = 'pending') AS pending_reports,
			COUNT(*) FILTER (WHERE r.report_type = 'daily'
				AND r.submitted_at >= CURRENT_DATE - INTERVAL '7 days') AS weekly_reports,
			(SELECT COUNT(*) FROM events WHERE event_date >= CURRENT_DATE) AS upcoming_events
		FROM users u
		LEFT JOIN reports r ON u.id = r.user_id
		WHERE u.admin_id = $1`, leaderID)
	if err != nil {
		return Statistics{}, fmt.Errorf("store: leader statistics: %w", err)
	}
	return s, nil
}

func (p *Postgres) GlobalStatistics(ctx context.Context) (Statistics, error) {
	var s Statistics
	err := p.db.GetContext(ctx, &s, `
		SELECT
			(SELECT COUNT(*) FROM users WHERE role = 'user') AS total_members,
			(SELECT COUNT(*) FROM users WHERE role IN ('admin', 'super_admin')) AS total_admins,
			(SELECT COUNT(*) FROM reports WHERE status = 'pending') AS pending_reports,
			(SELECT COUNT(*) FROM reports
				WHERE submitted_at >= CURRENT_DATE - INTERVAL '7 days') AS weekly_reports,
			(SELECT COUNT(*) FROM events WHERE event_date >= CURRENT_DATE) AS upcoming_events`)
	if err != nil {
		return Statistics{}, fmt.Errorf("store: global statistics: %w", err)
	}
	return s, nil
}

func (p *Postgres) TouchLastActive(ctx context.Context, userID string) error {
	_, err := p.db.ExecContext(ctx,
		`UPDATE users SET last_active = NOW() WHERE id = $1`, userID)
	if err != nil {
		return fmt.Errorf("store: touch last active: %w", err)
	}
	return nil
}

func (p *Postgres) CompleteProfile(ctx context.Context, userID string) error {
	res, err := p.db.ExecContext(ctx,
		`UPDATE users SET profile_completed = true, last_active = NOW() WHERE id = $1`, userID)
	if err != nil {
		return fmt.Errorf("store: complete profile: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// InsertDailyReport writes the report row and every typed detail row in
// one transaction: either the whole report lands or none of it does.
func (p *Postgres) InsertDailyReport(ctx context.Context, userID string, fields protocol.DailyReportFields) (string, error) {
	raw, err := json.Marshal(fields)
	if err != nil {
		return "", fmt.Errorf("store: encode report data: %w", err)
	}

	tx, err := p.db.BeginTxx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("store: begin report tx: %w", err)
	}
	defer tx.Rollback()

	reportID := uuid.NewString()
	_, err = tx.ExecContext(ctx, `
		INSERT INTO reports (id, user_id, report_type, status, report_data, submitted_at)
		VALUES ($1, $2, 'daily', 'pending', $3, NOW())`,
		reportID, userID, raw)
	if err != nil {
		return "", fmt.Errorf("store: insert report: %w", err)
	}

	dailyID := uuid.NewString()
	var chain protocol.PrayerChain
	if fields.PrayerChain != nil {
		chain = *fields.PrayerChain
	}
	var study protocol.StudyGroup
	if fields.StudyGroup != nil {
		study = *fields.StudyGroup
	}
	var group protocol.PrayerGroup
	if fields.PrayerGroup != nil {
		group = *fields.PrayerGroup
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO daily_reports (id, report_id, prayer_chain_from, prayer_chain_to,
			study_group_status, study_group_title, study_group_file_url,
			prayer_group_days, prayer_group_not_prayed, prayer_group_reason)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		dailyID, reportID,
		nullIfEmpty(chain.FromTime), nullIfEmpty(chain.ToTime),
		nullIfEmpty(study.Status), nullIfEmpty(study.Title), nullIfEmpty(study.FileURL),
		pq.Array(group.Days), group.NotPrayed, nullIfEmpty(group.Reason))
	if err != nil {
		return "", fmt.Errorf("store: insert daily report: %w", err)
	}

	for _, d := range fields.Discipleship {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO discipleship_entries (id, daily_report_id, name, timeline, subject,
				has_bible, did_write, discussed_attendance)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			uuid.NewString(), dailyID, d.Name, nullIfEmpty(d.Timeline), nullIfEmpty(d.Subject),
			d.HasBible, d.DidWrite, d.DiscussedAttendance)
		if err != nil {
			return "", fmt.Errorf("store: insert discipleship entry: %w", err)
		}
	}
	for _, e := range fields.Evangelism {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO evangelism_entries (id, daily_report_id, name, address, phone, status)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			uuid.NewString(), dailyID, e.Name, nullIfEmpty(e.Address), nullIfEmpty(e.Phone),
			nullIfEmpty(e.Status))
		if err != nil {
			return "", fmt.Errorf("store: insert evangelism entry: %w", err)
		}
	}
	for _, h := range fields.Healings {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO healing_entries (id, daily_report_id, name, testimony)
			VALUES ($1, $2, $3, $4)`,
			uuid.NewString(), dailyID, h.Name, nullIfEmpty(h.Testimony))
		if err != nil {
			return "", fmt.Errorf("store: insert healing entry: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("store: commit report tx: %w", err)
	}
	return reportID, nil
}

func (p *Postgres) InsertEvent(ctx context.Context, in EventInput) (Event, error) {
	date, err := parseEventDate(in.EventDate, time.Now())
	if err != nil {
		return Event{}, fmt.Errorf("store: parse event date: %w", err)
	}

	id := uuid.NewString()
	_, err = p.db.ExecContext(ctx, `
		INSERT INTO events (id, title, description, event_date, is_global, created_by, banner_url)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		id, in.Title, nullIfEmpty(in.Description), date, in.IsGlobal, in.CreatedBy,
		nullIfEmpty(in.BannerURL))
	if err != nil {
		return Event{}, fmt.Errorf("store: insert event: %w", err)
	}

	var e Event
	err = p.db.GetContext(ctx, &e, `
		SELECT e.id, e.title, COALESCE(e.description, '') AS description, e.event_date,
		       e.is_global, e.created_by, COALESCE(u.full_name, '') AS creator_name,
		       COALESCE(e.banner_url, '') AS banner_url, e.created_at
		FROM events e
		LEFT JOIN users u ON e.created_by = u.id
		WHERE e.id = $1`, id)
	if err != nil {
		return Event{}, fmt.Errorf("store: read back event: %w", err)
	}
	return e, nil
}

func (p *Postgres) UpsertBirthday(ctx context.Context, in BirthdayInput) error {
	date, err := parseEventDate(in.BirthDate, time.Now())
	if err != nil {
		return fmt.Errorf("store: parse birth date: %w", err)
	}
	_, err = p.db.ExecContext(ctx, `
		INSERT INTO birthdays (id, user_id, name, birth_date, age)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id)
		DO UPDATE SET name = EXCLUDED.name, birth_date = EXCLUDED.birth_date, age = EXCLUDED.age`,
		uuid.NewString(), in.UserID, in.Name, date, in.Age)
	if err != nil {
		return fmt.Errorf("store: upsert birthday: %w", err)
	}
	return nil
}

func (p *Postgres) InsertNotification(ctx context.Context, in NotificationInput) error {
	var raw []byte
	if in.Data != nil {
		b, err := json.Marshal(in.Data)
		if err != nil {
			return fmt.Errorf("store: encode notification data: %w", err)
		}
		raw = b
	}
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO notifications (id, user_id, type, title, message, data)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		uuid.NewString(), nullIfEmpty(in.UserID), in.Type, in.Title, in.Message, raw)
	if err != nil {
		return fmt.Errorf("store: insert notification: %w", err)
	}
	return nil
}

// UpsertSession overwrites the owner's SessionState document outright.
// Last writer wins; there is no merge and no version check.
func (p *Postgres) UpsertSession(ctx context.Context, userID string, fields map[string]any) error {
	raw, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("store: encode session: %w", err)
	}
	_, err = p.db.ExecContext(ctx, `
		INSERT INTO user_sessions (user_id, session_data, last_updated, expires_at)
		VALUES ($1, $2, NOW(), NOW() + make_interval(secs => $3))
		ON CONFLICT (user_id)
		DO UPDATE SET session_data = EXCLUDED.session_data,
		              last_updated = NOW(),
		              expires_at = NOW() + make_interval(secs => $3)`,
		userID, raw, p.sessionTTL.Seconds())
	if err != nil {
		return fmt.Errorf("store: upsert session: %w", err)
	}
	return nil
}

// MergeSessionField folds one field edit into the owner's SessionState,
// creating the document if absent. Concurrent edits from the same owner
// overwrite each other in arrival order.
func (p *Postgres) MergeSessionField(ctx context.Context, userID, field string, value any) error {
	fields, err := p.SessionFields(ctx, userID)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			return err
		}
		fields = make(map[string]any)
	}
	fields[field] = value
	return p.UpsertSession(ctx, userID, fields)
}

func (p *Postgres) SessionFields(ctx context.Context, userID string) (map[string]any, error) {
	var raw []byte
	err := p.db.GetContext(ctx, &raw, `
		SELECT session_data FROM user_sessions
		WHERE user_id = $1 AND expires_at > NOW()`, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: session fields: %w", err)
	}
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("store: decode session: %w", err)
	}
	return fields, nil
}

func (p *Postgres) NotificationsByUser(ctx context.Context, userID string) ([]Notification, error) {
	var out []Notification
	err := p.db.SelectContext(ctx, &out, `
		SELECT id, COALESCE(user_id, '') AS user_id, type, title, message, data, read, created_at
		FROM notifications
		WHERE user_id = $1 OR user_id IS NULL
		ORDER BY created_at DESC
		LIMIT 50`, userID)
	if err != nil {
		return nil, fmt.Errorf("store: notifications: %w", err)
	}
	return out, nil
}

func (p *Postgres) MarkNotificationRead(ctx context.Context, notificationID string) error {
	res, err := p.db.ExecContext(ctx,
		`UPDATE notifications SET read = true WHERE id = $1`, notificationID)
	if err != nil {
		return fmt.Errorf("store: mark notification read: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// Close stops the sweep loop and closes the connection pool.
func (p *Postgres) Close() error {
	close(p.done)
	<-p.sweepDone
	return p.db.Close()
}

// sweepLoop reaps expired SessionState rows on a fixed interval.
func (p *Postgres) sweepLoop() {
	defer close(p.sweepDone)

	ticker := time.NewTicker(p.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			res, err := p.db.Exec(`DELETE FROM user_sessions WHERE expires_at <= NOW()`)
			if err != nil {
				p.logger.Error("session sweep failed", "error", err)
				continue
			}
			if n, err := res.RowsAffected(); err == nil && n > 0 {
				p.logger.Debug("swept expired sessions", "count", n)
			}
		case <-p.done:
			return
		}
	}
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
