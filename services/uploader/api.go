package uploader

import (
	"time"

	"ojsbot-backend/internal/runner"
	"ojsbot-backend/services/journals"
)

const ServiceName = "ojsbot.uploader.v1.UploaderService"

const (
	StartUploadProcedure   = "/" + ServiceName + "/StartUpload"
	GetRunProcedure        = "/" + ServiceName + "/GetRun"
	ListRunsProcedure      = "/" + ServiceName + "/ListRuns"
	AddJournalProcedure    = "/" + ServiceName + "/AddJournal"
	UpdateJournalProcedure = "/" + ServiceName + "/UpdateJournal"
	DeleteJournalProcedure = "/" + ServiceName + "/DeleteJournal"
	ListJournalsProcedure  = "/" + ServiceName + "/ListJournals"
)

// Target is an inline journal target for runs that do not use a stored
// journal.
type Target struct {
	Host                string `json:"host"`
	Username            string `json:"username"`
	Password            string `json:"password"`
	DefaultSubmissionId string `json:"default_submission_id,omitempty"`
}

type StartUploadRequest struct {
	// JournalId selects a stored journal, Target is used when it is empty.
	JournalId    string   `json:"journal_id,omitempty"`
	Target       *Target  `json:"target,omitempty"`
	Links        []string `json:"links"`
	SubmissionId string   `json:"submission_id,omitempty"`
}

type StartUploadResponse struct {
	RunId   string `json:"run_id"`
	Message string `json:"message"`
}

type GetRunRequest struct {
	Id string `json:"id"`
}

type GetRunResponse struct {
	Run runner.Run `json:"run"`
}

type ListRunsRequest struct{}

type ListRunsResponse struct {
	Runs []runner.Run `json:"runs"`
}

// Journal is a stored journal as returned by the api, it never carries the
// password.
type Journal struct {
	Id                  string    `json:"id"`
	Name                string    `json:"name"`
	Host                string    `json:"host"`
	Username            string    `json:"username"`
	DefaultSubmissionId string    `json:"default_submission_id,omitempty"`
	CreatedAt           time.Time `json:"created_at"`
	UpdatedAt           time.Time `json:"updated_at"`
}

func journalMessage(j journals.Journal) Journal {
	return Journal{
		Id:                  j.Id,
		Name:                j.Name,
		Host:                j.Host,
		Username:            j.Username,
		DefaultSubmissionId: j.DefaultSubmissionId,
		CreatedAt:           j.CreatedAt,
		UpdatedAt:           j.UpdatedAt,
	}
}

type JournalInput struct {
	Name                string `json:"name,omitempty"`
	Host                string `json:"host,omitempty"`
	Username            string `json:"username,omitempty"`
	Password            string `json:"password,omitempty"`
	DefaultSubmissionId string `json:"default_submission_id,omitempty"`
}

func (in JournalInput) store() journals.Input {
	return journals.Input{
		Name:                in.Name,
		Host:                in.Host,
		Username:            in.Username,
		Password:            in.Password,
		DefaultSubmissionId: in.DefaultSubmissionId,
	}
}

type AddJournalRequest struct {
	Journal JournalInput `json:"journal"`
}

type AddJournalResponse struct {
	Journal Journal `json:"journal"`
}

type UpdateJournalRequest struct {
	Id      string       `json:"id"`
	Journal JournalInput `json:"journal"`
}

type UpdateJournalResponse struct {
	Journal Journal `json:"journal"`
}

type DeleteJournalRequest struct {
	Id string `json:"id"`
}

type DeleteJournalResponse struct{}

type ListJournalsRequest struct{}

type ListJournalsResponse struct {
	Journals []Journal `json:"journals"`
}

// Status is served at /api/status.
type Status struct {
	Status             string `json:"status"`
	Uptime             string `json:"uptime"`
	Pending            int    `json:"pending"`
	Running            int    `json:"running"`
	Succeeded          int    `json:"succeeded"`
	PartiallySucceeded int    `json:"partially_succeeded"`
	Failed             int    `json:"failed"`
	UnitsUploaded      int    `json:"units_uploaded"`
	Journals           int    `json:"journals"`
	Reports            int    `json:"reports"`
}
