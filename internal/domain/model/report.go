package model

import "time"

// ItemOutcome: итог удаления одного файла в отчёте.
type ItemOutcome string

const (
	OutcomeSucceeded ItemOutcome = "succeeded"
	OutcomeFailed    ItemOutcome = "failed"
)

// AuditReport: сохранённый итог одного пакетного удаления.
type AuditReport struct {
	ID         string       `json:"id"`
	SessionID  string       `json:"session_id"`
	Owner      string       `json:"owner,omitempty"`
	Origin     Origin       `json:"origin"`
	Attempted  int          `json:"attempted"`
	Succeeded  int          `json:"succeeded"`
	Failed     int          `json:"failed"`
	FreedBytes int64        `json:"freed_bytes"`
	StartedAt  time.Time    `json:"started_at"`
	FinishedAt time.Time    `json:"finished_at"`
	CreatedAt  time.Time    `json:"created_at"`
	Items      []ReportItem `json:"items,omitempty"`
}

// ReportItem: строка отчёта по одному файлу.
type ReportItem struct {
	FileID    string      `json:"file_id"`
	FileName  string      `json:"file_name"`
	SizeBytes *int64      `json:"size_bytes,omitempty"`
	Outcome   ItemOutcome `json:"outcome"`
	Code      FailureCode `json:"code,omitempty"`
	Message   string      `json:"message,omitempty"`
}

// NewAuditReport строит отчёт по файлам сессии и результату удаления.
// В отчёт попадают только файлы из результата, в порядке files.
// FreedBytes учитывает только удалённые файлы с известным размером.
func NewAuditReport(id, sessionID, owner string, origin Origin, files []FileRecord, result *RemediationResult) *AuditReport {
	r := &AuditReport{
		ID:         id,
		SessionID:  sessionID,
		Owner:      owner,
		Origin:     origin,
		Attempted:  result.Attempted,
		Succeeded:  len(result.Succeeded),
		Failed:     len(result.Failed),
		StartedAt:  result.StartedAt,
		FinishedAt: result.FinishedAt,
		Items:      make([]ReportItem, 0, len(result.Succeeded)+len(result.Failed)),
	}

	for _, f := range files {
		item := ReportItem{FileID: f.ID, FileName: f.Name, SizeBytes: f.SizeBytes}
		if failure, ok := result.Failed[f.ID]; ok {
			item.Outcome = OutcomeFailed
			item.Code = failure.Code
			item.Message = failure.Message
		} else if result.IsSucceeded(f.ID) {
			item.Outcome = OutcomeSucceeded
			if f.SizeBytes != nil {
				r.FreedBytes += *f.SizeBytes
			}
		} else {
			continue
		}
		r.Items = append(r.Items, item)
	}
	return r
}
