package protocol

// AuthData is sent by the client immediately after the transport opens.
type AuthData struct {
	UserID string `json:"userId"`
	Role   Role   `json:"role"`
}

// AuthSuccessData acknowledges a completed handshake.
type AuthSuccessData struct {
	Message string `json:"message"`
}

// PrayerChain covers the prayer-chain slot of a daily report.
type PrayerChain struct {
	FromTime string `json:"fromTime,omitempty"`
	ToTime   string `json:"toTime,omitempty"`
}

// StudyGroup covers the study-group section of a daily report.
type StudyGroup struct {
	Status  string `json:"status,omitempty"`
	Title   string `json:"title,omitempty"`
	FileURL string `json:"fileUrl,omitempty"`
}

// PrayerGroup covers the prayer-group section of a daily report.
type PrayerGroup struct {
	Days      []string `json:"days,omitempty"`
	NotPrayed bool     `json:"notPrayed,omitempty"`
	Reason    string   `json:"reason,omitempty"`
}

// DiscipleshipRecord is one person discipled during the reported day.
type DiscipleshipRecord struct {
	Name                string `json:"name"`
	Timeline            string `json:"timeline,omitempty"`
	Subject             string `json:"subject,omitempty"`
	HasBible            bool   `json:"hasBible,omitempty"`
	DidWrite            bool   `json:"didWrite,omitempty"`
	DiscussedAttendance bool   `json:"discussedAttendance,omitempty"`
}

// EvangelismRecord is one person reached during the reported day.
type EvangelismRecord struct {
	Name    string `json:"name"`
	Address string `json:"address,omitempty"`
	Phone   string `json:"phone,omitempty"`
	Status  string `json:"status,omitempty"`
}

// HealingRecord is one healing testimony from the reported day.
type HealingRecord struct {
	Name      string `json:"name"`
	Testimony string `json:"testimony,omitempty"`
}

// DailyReportData carries a full daily report form.
type DailyReportData struct {
	ReportData DailyReportFields `json:"reportData"`
	UserName   string            `json:"userName,omitempty"`
}

// DailyReportFields is the structured body of a daily report.
type DailyReportFields struct {
	PrayerChain  *PrayerChain         `json:"prayerChain,omitempty"`
	StudyGroup   *StudyGroup          `json:"studyGroup,omitempty"`
	PrayerGroup  *PrayerGroup         `json:"prayerGroup,omitempty"`
	Discipleship []DiscipleshipRecord `json:"discipleship,omitempty"`
	Evangelism   []EvangelismRecord   `json:"evangelism,omitempty"`
	Healings     []HealingRecord      `json:"healings,omitempty"`
}

// ReportSubmittedData notifies leaders that a report arrived.
type ReportSubmittedData struct {
	UserName   string `json:"userName,omitempty"`
	ReportType string `json:"reportType"`
	UserID     string `json:"userId"`
	ReportID   string `json:"reportId"`
}

// FieldUpdateData is a single in-progress form field edit.
type FieldUpdateData struct {
	Field string `json:"field"`
	Value any    `json:"value"`
}

// UserFieldUpdateData mirrors a member's field edit to leaders.
type UserFieldUpdateData struct {
	UserID string `json:"userId"`
	Field  string `json:"field"`
	Value  any    `json:"value"`
}

// NewEventData carries a new event form. Banner is the temp id of a
// previously uploaded banner image, resolved server-side to a URL.
type NewEventData struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Date        string `json:"date"`
	Banner      string `json:"banner,omitempty"`
}

// BirthdayEntry is one row of a birthday batch update.
type BirthdayEntry struct {
	UserID string `json:"userId"`
	Name   string `json:"name"`
	Date   string `json:"date"`
	Age    int    `json:"age,omitempty"`
}

// MemberJoinedData announces a completed member profile.
type MemberJoinedData struct {
	Name    string `json:"name"`
	AdminID string `json:"adminId,omitempty"`
}

// DataUpdateData is the client's optimistic patch of one snapshot field.
type DataUpdateData struct {
	Field   string `json:"type"`
	Payload any    `json:"payload"`
}
