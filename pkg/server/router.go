package server

import (
	"context"
	"log/slog"
	"runtime/debug"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/saint-community/realtime/pkg/protocol"
	"github.com/saint-community/realtime/pkg/store"
	"github.com/saint-community/realtime/pkg/upload"
)

const tracerName = "saintlive"

// Router dispatches inbound messages to their handlers. Each handler
// performs its storage writes first and only then decides the fan-out,
// so a broadcast never announces a write that did not land. Storage
// failures are logged and the message dropped: the sender learns the
// truth from the next reconciliation pass. Dispatch is called from one
// connection's read loop at a time, which preserves per-connection
// arrival order end to end.
type Router struct {
	gw      store.Gateway
	reg     *Registry
	uploads upload.Store
	logger  *slog.Logger
	metrics *Metrics
	tracer  trace.Tracer
}

// NewRouter creates a message router over the given gateway and registry.
func NewRouter(gw store.Gateway, reg *Registry, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		gw:     gw,
		reg:    reg,
		logger: logger.With("component", "router"),
		tracer: otel.Tracer(tracerName),
	}
}

// SetUploads wires the attachment store used to claim uploaded event
// banners. Optional; without it banner temp ids are ignored.
func (r *Router) SetUploads(s upload.Store) {
	r.uploads = s
}

// SetMetrics wires the Prometheus instruments. Optional.
func (r *Router) SetMetrics(m *Metrics) {
	r.metrics = m
}

// Dispatch routes one inbound message from sender to its handler. An
// unknown type is logged and dropped; it never closes the connection or
// disturbs other messages. A panicking handler is recovered so one bad
// payload cannot take down the read loop.
func (r *Router) Dispatch(ctx context.Context, sender *Conn, msg *protocol.Message) {
	ctx, span := r.tracer.Start(ctx, "dispatch",
		trace.WithAttributes(
			attribute.String("message.type", string(msg.Type)),
			attribute.String("sender.role", string(sender.Role)),
		))
	defer span.End()

	defer func() {
		if rec := recover(); rec != nil {
			span.SetStatus(codes.Error, "handler panic")
			r.logger.Error("handler panic",
				"type", msg.Type,
				"user_id", sender.UserID,
				"panic", rec,
				"stack", string(debug.Stack()))
		}
	}()

	r.metrics.incMessage(string(msg.Type))

	switch msg.Type {
	case protocol.TypeAuth:
		r.handleAuth(ctx, sender, msg)
	case protocol.TypeDailyReportSubmitted:
		r.handleDailyReport(ctx, sender, msg)
	case protocol.TypeFieldUpdate:
		r.handleFieldUpdate(ctx, sender, msg)
	case protocol.TypeAutoSaveDailyReport, protocol.TypeManualSaveDailyReport:
		r.handleSaveSession(ctx, sender, msg)
	case protocol.TypeNewEvent:
		r.handleNewEvent(ctx, sender, msg)
	case protocol.TypeBirthdayUpdate:
		r.handleBirthdayUpdate(ctx, sender, msg)
	case protocol.TypeMemberJoined:
		r.handleMemberJoined(ctx, sender, msg)
	case protocol.TypeRequestInitialData:
		r.SendInitialData(ctx, sender)
	case protocol.TypeDataUpdate:
		r.handleDataUpdate(ctx, sender, msg)
	default:
		r.metrics.incUnknown()
		span.SetStatus(codes.Error, "unknown message type")
		r.logger.Warn("unknown message type", "type", msg.Type, "user_id", sender.UserID)
	}
}

// storageFailed logs a failed handler write. The message is dropped
// with no retry and no notice to the sender.
func (r *Router) storageFailed(op string, sender *Conn, err error) {
	r.metrics.incStorageError()
	r.logger.Error("storage write failed, dropping message",
		"op", op,
		"user_id", sender.UserID,
		"error", err)
}

// handleAuth completes the handshake: touch the member's last-active
// timestamp and acknowledge to the sender only.
func (r *Router) handleAuth(ctx context.Context, sender *Conn, msg *protocol.Message) {
	if err := r.gw.TouchLastActive(ctx, sender.UserID); err != nil {
		// The acknowledgement still goes out: liveness bookkeeping
		// must not block the feed.
		r.logger.Error("touch last active failed", "user_id", sender.UserID, "error", err)
	}

	reply, err := protocol.New(protocol.TypeAuthSuccess, protocol.AuthSuccessData{
		Message: "Connected to real-time services",
	})
	if err != nil {
		return
	}
	r.reg.SendTo(sender.UserID, reply)
}

// handleDailyReport persists the report row plus its typed detail rows
// in one transaction, notifies leaders, then pushes a fresh snapshot to
// everyone.
func (r *Router) handleDailyReport(ctx context.Context, sender *Conn, msg *protocol.Message) {
	var data protocol.DailyReportData
	if err := msg.DecodeData(&data); err != nil {
		r.logger.Warn("malformed daily report", "user_id", sender.UserID, "error", err)
		return
	}

	userID := msg.UserID
	if userID == "" {
		userID = sender.UserID
	}

	reportID, err := r.gw.InsertDailyReport(ctx, userID, data.ReportData)
	if err != nil {
		r.storageFailed("insert daily report", sender, err)
		return
	}

	if notice, err := protocol.New(protocol.TypeReportSubmitted, protocol.ReportSubmittedData{
		UserName:   data.UserName,
		ReportType: "daily",
		UserID:     userID,
		ReportID:   reportID,
	}); err == nil {
		r.reg.BroadcastPrivileged(notice)
		r.metrics.incBroadcast("privileged")
	}

	r.broadcastSnapshot(ctx, protocol.TypeNewReportSubmitted)
}

// handleFieldUpdate folds one field edit into the sender's session
// state and mirrors it to leaders for live monitoring. No full refresh:
// field edits are high-frequency and low-stakes.
func (r *Router) handleFieldUpdate(ctx context.Context, sender *Conn, msg *protocol.Message) {
	var data protocol.FieldUpdateData
	if err := msg.DecodeData(&data); err != nil {
		r.logger.Warn("malformed field update", "user_id", sender.UserID, "error", err)
		return
	}

	if err := r.gw.MergeSessionField(ctx, sender.UserID, data.Field, data.Value); err != nil {
		r.storageFailed("merge session field", sender, err)
		return
	}

	if notice, err := protocol.New(protocol.TypeUserFieldUpdate, protocol.UserFieldUpdateData{
		UserID: sender.UserID,
		Field:  data.Field,
		Value:  data.Value,
	}); err == nil {
		r.reg.BroadcastPrivileged(notice)
		r.metrics.incBroadcast("privileged")
	}
}

// handleSaveSession overwrites the sender's session state with the
// whole document from an auto-save tick or a manual save. No broadcast.
func (r *Router) handleSaveSession(ctx context.Context, sender *Conn, msg *protocol.Message) {
	var fields map[string]any
	if err := msg.DecodeData(&fields); err != nil {
		r.logger.Warn("malformed session save", "user_id", sender.UserID, "error", err)
		return
	}

	if err := r.gw.UpsertSession(ctx, sender.UserID, fields); err != nil {
		r.storageFailed("upsert session", sender, err)
		return
	}
	r.logger.Debug("session saved", "user_id", sender.UserID, "type", msg.Type)
}

// handleNewEvent persists a new event (global when created by a
// top-level leader), records a notification, then broadcasts the event
// row and the refreshed upcoming-events list to everyone.
func (r *Router) handleNewEvent(ctx context.Context, sender *Conn, msg *protocol.Message) {
	var data protocol.NewEventData
	if err := msg.DecodeData(&data); err != nil {
		r.logger.Warn("malformed new event", "user_id", sender.UserID, "error", err)
		return
	}

	bannerURL := ""
	if data.Banner != "" && r.uploads != nil {
		file, err := r.uploads.Claim(data.Banner)
		if err != nil {
			r.logger.Warn("banner claim failed", "temp_id", data.Banner, "error", err)
		} else {
			bannerURL = file.URL
			file.Close()
		}
	}

	event, err := r.gw.InsertEvent(ctx, store.EventInput{
		Title:       data.Title,
		Description: data.Description,
		EventDate:   data.Date,
		IsGlobal:    sender.Role == protocol.RoleSuperAdmin,
		CreatedBy:   sender.UserID,
		BannerURL:   bannerURL,
	})
	if err != nil {
		r.storageFailed("insert event", sender, err)
		return
	}

	if err := r.gw.InsertNotification(ctx, store.NotificationInput{
		Type:    "new_event",
		Title:   "New Event Created",
		Message: data.Title + " has been scheduled for " + data.Date,
		Data:    map[string]any{"eventId": event.ID, "isGlobal": event.IsGlobal},
	}); err != nil {
		r.storageFailed("insert event notification", sender, err)
		return
	}

	if notice, err := protocol.New(protocol.TypeNewEvent, event); err == nil {
		r.reg.BroadcastAll(notice)
		r.metrics.incBroadcast("all")
	}

	events, err := r.gw.UpcomingEvents(ctx)
	if err != nil {
		r.logger.Error("upcoming events reload failed", "error", err)
		return
	}
	if update, err := protocol.New(protocol.TypeEventUpdate, events); err == nil {
		r.reg.BroadcastAll(update)
		r.metrics.incBroadcast("all")
	}
}

// handleBirthdayUpdate upserts a batch of birthday rows, rebroadcasts
// the refreshed today-list, then one notification per birthday.
func (r *Router) handleBirthdayUpdate(ctx context.Context, sender *Conn, msg *protocol.Message) {
	var entries []protocol.BirthdayEntry
	if err := msg.DecodeData(&entries); err != nil {
		r.logger.Warn("malformed birthday update", "user_id", sender.UserID, "error", err)
		return
	}

	for _, e := range entries {
		err := r.gw.UpsertBirthday(ctx, store.BirthdayInput{
			UserID:    e.UserID,
			Name:      e.Name,
			BirthDate: e.Date,
			Age:       e.Age,
		})
		if err != nil {
			r.storageFailed("upsert birthday", sender, err)
			return
		}
	}

	birthdays, err := r.gw.TodaysBirthdays(ctx)
	if err != nil {
		r.logger.Error("todays birthdays reload failed", "error", err)
		return
	}

	if update, err := protocol.New(protocol.TypeBirthdayUpdate, birthdays); err == nil {
		r.reg.BroadcastAll(update)
		r.metrics.incBroadcast("all")
	}
	for _, b := range birthdays {
		if notice, err := protocol.New(protocol.TypeBirthdayNotification, b); err == nil {
			r.reg.BroadcastAll(notice)
			r.metrics.incBroadcast("all")
		}
	}
}

// handleMemberJoined marks the sender's profile completed, records a
// notification, tells the assigned leader directly, then pushes a fresh
// snapshot to everyone.
func (r *Router) handleMemberJoined(ctx context.Context, sender *Conn, msg *protocol.Message) {
	var data protocol.MemberJoinedData
	if err := msg.DecodeData(&data); err != nil {
		r.logger.Warn("malformed member joined", "user_id", sender.UserID, "error", err)
		return
	}

	if err := r.gw.CompleteProfile(ctx, sender.UserID); err != nil {
		r.storageFailed("complete profile", sender, err)
		return
	}

	if err := r.gw.InsertNotification(ctx, store.NotificationInput{
		UserID:  data.AdminID,
		Type:    "member_joined",
		Title:   "New Member Joined",
		Message: data.Name + " has completed their profile",
		Data:    map[string]any{"userId": sender.UserID, "adminId": data.AdminID},
	}); err != nil {
		r.storageFailed("insert member notification", sender, err)
		return
	}

	if data.AdminID != "" {
		if notice, err := protocol.New(protocol.TypeMemberJoined, data); err == nil {
			r.reg.SendTo(data.AdminID, notice)
		}
	}

	r.broadcastSnapshot(ctx, protocol.TypeNewMemberJoined)
}

// handleDataUpdate mirrors a client's optimistic snapshot patch to
// leader dashboards. Nothing is persisted: the client reconciles itself
// against the store shortly after sending this.
func (r *Router) handleDataUpdate(ctx context.Context, sender *Conn, msg *protocol.Message) {
	forward := &protocol.Message{
		Type:      msg.Type,
		Data:      msg.Data,
		UserID:    sender.UserID,
		Timestamp: msg.Timestamp,
	}
	r.reg.BroadcastPrivileged(forward)
	r.metrics.incBroadcast("privileged")
}

// SendInitialData sends the role-scoped snapshot to one connection.
// Called on connect and on an explicit request_initial_data.
func (r *Router) SendInitialData(ctx context.Context, conn *Conn) {
	snap, err := store.SnapshotFor(ctx, r.gw, conn.UserID, conn.Role)
	if err != nil {
		r.logger.Error("initial data load failed", "user_id", conn.UserID, "error", err)
		return
	}
	if msg, err := protocol.New(protocol.TypeInitialData, snap); err == nil {
		r.reg.SendTo(conn.UserID, msg)
	}
}

// broadcastSnapshot rebuilds the global snapshot and pushes it to every
// connection under the given signal type.
func (r *Router) broadcastSnapshot(ctx context.Context, t protocol.Type) {
	snap, err := store.FullSnapshot(ctx, r.gw)
	if err != nil {
		r.logger.Error("snapshot reload failed", "error", err)
		return
	}
	if msg, err := protocol.New(t, snap); err == nil {
		r.reg.BroadcastAll(msg)
		r.metrics.incBroadcast("all")
	}
}
