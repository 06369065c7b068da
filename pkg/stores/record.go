package stores

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mbedconf/mbedconf/pkg/engine"
	"github.com/mbedconf/mbedconf/pkg/policy"
	"github.com/mbedconf/mbedconf/pkg/resolver"
)

// NewResolution starts a record for a resolution of target.
func NewResolution(target, appConfig string) *Resolution {
	return &Resolution{
		ID:        uuid.New().String(),
		Target:    target,
		AppConfig: appConfig,
		Status:    StatusSucceeded,
		CreatedAt: time.Now(),
	}
}

// SetConfig records the features, libraries and parameters of a resolved
// configuration.
func (r *Resolution) SetConfig(cfg *resolver.Config) {
	r.Features = cfg.Features()
	r.Libraries = r.Libraries[:0]
	for _, lib := range cfg.Libraries() {
		r.Libraries = append(r.Libraries, lib.Name)
	}
	sort.Strings(r.Libraries)

	r.Parameters = r.Parameters[:0]
	for _, p := range cfg.Parameters() {
		rec := ParameterRecord{
			Name:      p.Name,
			MacroName: p.MacroName,
			DefinedBy: p.DefinedBy.String(),
			SetBy:     p.SetBy.String(),
		}
		if p.Value != nil {
			if data, err := json.Marshal(p.Value); err == nil {
				v := string(data)
				rec.Value = &v
			}
		}
		r.Parameters = append(r.Parameters, rec)
	}
}

// SetMacros records a digest of the compiled macro list.
func (r *Resolution) SetMacros(macros []string) {
	sum := sha256.Sum256([]byte(strings.Join(macros, "\n")))
	r.MacrosHash = hex.EncodeToString(sum[:])
}

// SetPolicyResult records the violations of a policy evaluation.
func (r *Resolution) SetPolicyResult(result *policy.Result) {
	r.Violations = r.Violations[:0]
	for _, v := range result.Violations {
		r.Violations = append(r.Violations, ViolationRecord{
			Policy:   v.Policy,
			Severity: string(v.Severity),
			Subject:  v.Subject,
			Message:  v.Message,
		})
	}
}

// Fail marks the resolution as failed with err.
func (r *Resolution) Fail(err error) {
	r.Status = StatusFailed
	msg := err.Error()
	r.Error = &msg
	if kind := engine.KindOf(err); kind != "" {
		k := string(kind)
		r.ErrorKind = &k
	}
}

// ChangeKind classifies a parameter difference between two resolutions.
type ChangeKind string

const (
	ChangeAdded   ChangeKind = "added"
	ChangeRemoved ChangeKind = "removed"
	ChangeValue   ChangeKind = "value"
	ChangeSetBy   ChangeKind = "set_by"
)

// Change is one parameter difference.
type Change struct {
	Name string     `json:"name"`
	Kind ChangeKind `json:"kind"`
	Old  *string    `json:"old,omitempty"`
	New  *string    `json:"new,omitempty"`
}

// Diff compares the parameters of two resolutions. Changes are sorted by
// parameter name. A value change takes precedence over a set_by change.
func Diff(old, cur *Resolution) []Change {
	before := make(map[string]ParameterRecord, len(old.Parameters))
	for _, p := range old.Parameters {
		before[p.Name] = p
	}
	var changes []Change
	seen := make(map[string]bool, len(cur.Parameters))
	for _, p := range cur.Parameters {
		seen[p.Name] = true
		prev, ok := before[p.Name]
		switch {
		case !ok:
			changes = append(changes, Change{Name: p.Name, Kind: ChangeAdded, New: p.Value})
		case !equalValue(prev.Value, p.Value):
			changes = append(changes, Change{Name: p.Name, Kind: ChangeValue, Old: prev.Value, New: p.Value})
		case prev.SetBy != p.SetBy:
			o, n := prev.SetBy, p.SetBy
			changes = append(changes, Change{Name: p.Name, Kind: ChangeSetBy, Old: &o, New: &n})
		}
	}
	for _, p := range old.Parameters {
		if !seen[p.Name] {
			changes = append(changes, Change{Name: p.Name, Kind: ChangeRemoved, Old: p.Value})
		}
	}
	sort.Slice(changes, func(i, j int) bool { return changes[i].Name < changes[j].Name })
	return changes
}

func equalValue(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
