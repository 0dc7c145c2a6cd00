package models

import "time"

const (
	AgencyEA  = "EA"
	AgencyHSE = "HSE"
)

const (
	RecordKindCase   = "case"
	RecordKindNotice = "notice"
)

const (
	SessionPending   = "pending"
	SessionRunning   = "running"
	SessionCompleted = "completed"
	SessionFailed    = "failed"
	SessionStopped   = "stopped"
)

const (
	ReviewPending  = "pending"
	ReviewApproved = "approved"
	ReviewSkipped  = "skipped"
	ReviewFlagged  = "flagged"
)

type Agency struct {
	Code string
	Name string
}

type Offender struct {
	ID                 int64
	Name               string
	NormalizedName     string
	RegistrationNumber string
	AddressLine        string
	Town               string
	Postcode           string
	TotalCases         int
	TotalNotices       int
	Placeholder        bool
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// CanonicalAttrs is the normalizer's output: everything needed to upsert a
// record except the offender link, which the resolver supplies.
type CanonicalAttrs struct {
	AgencyCode    string
	SourceID      string
	Kind          string
	ActionType    string
	Title         string
	Description   string
	EventDate     *time.Time
	FineAmount    float64
	CostsAmount   float64
	LegalCitation string
	DetailURL     string

	OffenderName     string
	OffenderRegNum   string
	OffenderAddress  string
	OffenderTown     string
	OffenderPostcode string

	WaterImpact bool
	LandImpact  bool
	AirImpact   bool
}

type Record struct {
	ID            int64
	AgencyCode    string
	SourceID      string
	Kind          string
	ActionType    string
	OffenderID    int64
	Title         string
	Description   string
	EventDate     *time.Time
	FineAmount    float64
	CostsAmount   float64
	LegalCitation string
	DetailURL     string
	WaterImpact   bool
	LandImpact    bool
	AirImpact     bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

type CandidateCompany struct {
	Name               string  `json:"name"`
	RegistrationNumber string  `json:"registration_number"`
	Address            string  `json:"address"`
	Score              float64 `json:"score"`
}

type MatchReview struct {
	ID                string
	OffenderID        int64
	Status            string
	ConfidenceScore   float64
	Candidates        []CandidateCompany
	SelectedCandidate string
	ReviewedBy        string
	ReviewedAt        *time.Time
	CreatedAt         time.Time
}

type SessionCounters struct {
	PagesProcessed  int `json:"pages_processed"`
	RecordsFound    int `json:"records_found"`
	RecordsCreated  int `json:"records_created"`
	RecordsUpdated  int `json:"records_updated"`
	RecordsExisting int `json:"records_existing"`
	ErrorsCount     int `json:"errors_count"`
}

type ScrapeSession struct {
	ID             string
	AgencyCode     string
	TargetDatabase string
	RangeParams    string
	Status         string
	Counters       SessionCounters
	Error          string
	StartedAt      time.Time
	FinishedAt     *time.Time
}

type RecordRef struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}
