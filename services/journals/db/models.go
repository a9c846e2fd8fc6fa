package db

type Journal struct {
	ID                  string
	Name                string
	Host                string
	Username            string
	Password            string
	DefaultSubmissionID string
	CreatedAt           int64
	UpdatedAt           int64
}
