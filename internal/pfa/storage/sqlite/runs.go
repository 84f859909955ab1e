package sqlite

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/banshee-data/particleflow/internal/pfa/event"
	"github.com/banshee-data/particleflow/internal/pfa/fragment"
)

// ErrRunNotFound is returned by GetRun for an unknown run ID.
var ErrRunNotFound = errors.New("sqlite: run not found")

// Run is one persisted algorithm run over one event.
type Run struct {
	RunID          string          `json:"run_id"`
	EventID        string          `json:"event_id"`
	Algorithm      string          `json:"algorithm"`
	ClustersBefore int             `json:"clusters_before"`
	ClustersAfter  int             `json:"clusters_after"`
	PairsScored    int             `json:"pairs_scored"`
	NMerges        int             `json:"n_merges"`
	ParamsJSON     json.RawMessage `json:"params_json,omitempty"`
	CreatedAtNs    int64           `json:"created_at_ns"`
}

// NewFragmentRun describes a fragment-removal result for persistence.
func NewFragmentRun(eventID string, res fragment.Result, params json.RawMessage) *Run {
	return &Run{
		RunID:          res.RunID,
		EventID:        eventID,
		Algorithm:      "FragmentRemoval",
		ClustersBefore: res.ClustersBefore,
		ClustersAfter:  res.ClustersAfter,
		PairsScored:    res.PairsScored,
		NMerges:        len(res.Merges),
		ParamsJSON:     params,
	}
}

// InsertRun stores run. If run.RunID is empty, a new UUID is generated.
func (s *Store) InsertRun(run *Run) error {
	if run.RunID == "" {
		run.RunID = uuid.New().String()
	}
	if run.CreatedAtNs == 0 {
		run.CreatedAtNs = s.clock.Now().UnixNano()
	}

	_, err := s.db.Exec(`
		INSERT INTO pfa_runs (
			run_id, event_id, algorithm, clusters_before, clusters_after,
			pairs_scored, n_merges, params_json, created_at_ns
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.RunID, run.EventID, run.Algorithm, run.ClustersBefore, run.ClustersAfter,
		run.PairsScored, run.NMerges, nullString(string(run.ParamsJSON)), run.CreatedAtNs,
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// GetRun retrieves a run by ID.
func (s *Store) GetRun(runID string) (*Run, error) {
	var run Run
	var params sql.NullString
	err := s.db.QueryRow(`
		SELECT run_id, event_id, algorithm, clusters_before, clusters_after,
		       pairs_scored, n_merges, params_json, created_at_ns
		FROM pfa_runs
		WHERE run_id = ?`, runID).Scan(
		&run.RunID, &run.EventID, &run.Algorithm, &run.ClustersBefore, &run.ClustersAfter,
		&run.PairsScored, &run.NMerges, &params, &run.CreatedAtNs,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%s: %w", runID, ErrRunNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	if params.Valid {
		run.ParamsJSON = json.RawMessage(params.String)
	}
	return &run, nil
}

// ListRuns returns the runs recorded for an event, oldest first.
func (s *Store) ListRuns(eventID string) ([]*Run, error) {
	rows, err := s.db.Query(`
		SELECT run_id FROM pfa_runs WHERE event_id = ? ORDER BY created_at_ns, run_id`, eventID)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan run id: %w", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}

	runs := make([]*Run, 0, len(ids))
	for _, id := range ids {
		run, err := s.GetRun(id)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, nil
}

// InsertMerges stores the ordered merge list of a run.
func (s *Store) InsertMerges(runID string, merges []fragment.Merge) (err error) {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	stmt, err := tx.Prepare(`
		INSERT INTO pfa_merges (
			run_id, step, parent_index, parent_generation, daughter_index, daughter_generation,
			evidence, required, excess, parent_energy, daughter_energy
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare merge insert: %w", err)
	}
	defer stmt.Close()

	for _, m := range merges {
		if _, err := stmt.Exec(runID, m.Step,
			m.Parent.Index, m.Parent.Generation, m.Daughter.Index, m.Daughter.Generation,
			m.Evidence, m.Required, m.Excess, m.ParentEnergy, m.DaughterEnergy,
		); err != nil {
			return fmt.Errorf("insert merge %d: %w", m.Step, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit merges: %w", err)
	}
	return nil
}

// ListMerges returns a run's merges in step order.
func (s *Store) ListMerges(runID string) ([]fragment.Merge, error) {
	rows, err := s.db.Query(`
		SELECT step, parent_index, parent_generation, daughter_index, daughter_generation,
		       evidence, required, excess, parent_energy, daughter_energy
		FROM pfa_merges
		WHERE run_id = ?
		ORDER BY step`, runID)
	if err != nil {
		return nil, fmt.Errorf("list merges: %w", err)
	}
	defer rows.Close()

	var merges []fragment.Merge
	for rows.Next() {
		var m fragment.Merge
		var p, d event.ClusterHandle
		if err := rows.Scan(&m.Step, &p.Index, &p.Generation, &d.Index, &d.Generation,
			&m.Evidence, &m.Required, &m.Excess, &m.ParentEnergy, &m.DaughterEnergy); err != nil {
			return nil, fmt.Errorf("scan merge: %w", err)
		}
		m.Parent, m.Daughter = p, d
		merges = append(merges, m)
	}
	return merges, rows.Err()
}

// SaveFragmentRun stores a fragment-removal result and its merges.
func (s *Store) SaveFragmentRun(eventID string, res fragment.Result, params json.RawMessage) (*Run, error) {
	run := NewFragmentRun(eventID, res, params)
	if err := s.InsertRun(run); err != nil {
		return nil, err
	}
	if err := s.InsertMerges(run.RunID, res.Merges); err != nil {
		return nil, err
	}
	return run, nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
