package stores

import (
	"context"
	"database/sql"
	"time"
)

// Status is the outcome of a recorded resolution.
type Status string

const (
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Resolution is one recorded resolution of a target configuration.
type Resolution struct {
	ID         string        `json:"id"`
	Target     string        `json:"target"`
	AppConfig  string        `json:"app_config"`
	Status     Status        `json:"status"`
	Features   []string      `json:"features"`
	Libraries  []string      `json:"libraries"`
	MacrosHash string        `json:"macros_hash"` // SHA256 of the compiled macro list
	Error      *string       `json:"error,omitempty"`
	ErrorKind  *string       `json:"error_kind,omitempty"`
	Duration   time.Duration `json:"duration"`
	CreatedAt  time.Time     `json:"created_at"`

	// Parameters and Violations are only filled by GetResolution and
	// LatestResolution.
	Parameters []ParameterRecord `json:"parameters,omitempty"`
	Violations []ViolationRecord `json:"violations,omitempty"`
}

// ParameterRecord is a resolved parameter at the time of recording.
type ParameterRecord struct {
	Name      string  `json:"name"`
	Value     *string `json:"value,omitempty"` // JSON encoded, nil when unset
	MacroName string  `json:"macro_name"`
	DefinedBy string  `json:"defined_by"`
	SetBy     string  `json:"set_by"`
}

// ViolationRecord is a policy violation reported for a resolution.
type ViolationRecord struct {
	ID       int64  `json:"id"`
	Policy   string `json:"policy"`
	Severity string `json:"severity"`
	Subject  string `json:"subject,omitempty"`
	Message  string `json:"message"`
}

// Store defines the interface for the resolution history
type Store interface {
	// Lifecycle
	Init(ctx context.Context) error
	Close() error
	Migrate(ctx context.Context) error

	// Transaction support
	BeginTx(ctx context.Context) (*sql.Tx, error)
	CommitTx(tx *sql.Tx) error
	RollbackTx(tx *sql.Tx) error

	// Resolution operations
	SaveResolution(ctx context.Context, res *Resolution) error
	GetResolution(ctx context.Context, id string) (*Resolution, error)
	LatestResolution(ctx context.Context, target string) (*Resolution, error)
	ListResolutions(ctx context.Context, target *string, limit, offset int) ([]*Resolution, error)
	DeleteResolution(ctx context.Context, id string) error
	PruneResolutions(ctx context.Context, keep int) (int64, error)

	// Violation operations
	ListViolations(ctx context.Context, resolutionID string, severity *string) ([]*ViolationRecord, error)

	// Utility
	HealthCheck(ctx context.Context) error
}
