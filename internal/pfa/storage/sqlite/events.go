package sqlite

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/banshee-data/particleflow/internal/pfa/event"
)

// ErrEventNotFound is returned by LoadEvent for an unknown event ID.
var ErrEventNotFound = errors.New("sqlite: event not found")

// SaveEvent stores the event's current cluster collection and all its
// trajectories, replacing any previous copy with the same ID.
func (s *Store) SaveEvent(ev *event.Event) (err error) {
	handles, err := ev.CurrentClusters()
	if err != nil {
		return fmt.Errorf("save event %s: %w", ev.ID, err)
	}
	ordinal := make(map[event.ClusterHandle]int, len(handles))
	for i, h := range handles {
		ordinal[h] = i
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if err = deleteEvent(tx, ev.ID); err != nil {
		return err
	}
	if _, err = tx.Exec(`INSERT INTO pfa_events (event_id, collection, created_at_ns) VALUES (?, ?, ?)`,
		ev.ID, ev.CurrentCollection(), s.clock.Now().UnixNano()); err != nil {
		return fmt.Errorf("insert event: %w", err)
	}

	clusterStmt, err := tx.Prepare(`INSERT INTO pfa_clusters (event_id, ordinal, n_hits, had_energy, em_energy) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare cluster insert: %w", err)
	}
	defer clusterStmt.Close()
	hitStmt, err := tx.Prepare(`INSERT INTO pfa_hits (event_id, ordinal, hit_index, x, y, z, layer, had_energy, em_energy) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare hit insert: %w", err)
	}
	defer hitStmt.Close()

	for i, h := range handles {
		summary, err := ev.Summary(h)
		if err != nil {
			return fmt.Errorf("cluster %s: %w", h, err)
		}
		hits, err := ev.Hits(h)
		if err != nil {
			return fmt.Errorf("cluster %s: %w", h, err)
		}
		if _, err := clusterStmt.Exec(ev.ID, i, summary.NHits, summary.HadEnergy, summary.EMEnergy); err != nil {
			return fmt.Errorf("insert cluster %d: %w", i, err)
		}
		for j, hit := range hits {
			if _, err := hitStmt.Exec(ev.ID, i, j, hit.Position[0], hit.Position[1], hit.Position[2],
				hit.Layer, hit.HadEnergy, hit.EMEnergy); err != nil {
				return fmt.Errorf("insert hit %d/%d: %w", i, j, err)
			}
		}
	}

	for _, tr := range ev.Trajectories() {
		var owner sql.NullInt64
		if h, ok := ev.TrajectoryOwner(tr.ID); ok {
			if i, inCollection := ordinal[h]; inCollection {
				owner = sql.NullInt64{Int64: int64(i), Valid: true}
			}
		}
		if _, err = tx.Exec(`
			INSERT INTO pfa_trajectories (
				event_id, trajectory_id, origin_x, origin_y, origin_z,
				dir_x, dir_y, dir_z, momentum, charge, cluster_ordinal
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			ev.ID, int(tr.ID), tr.Origin[0], tr.Origin[1], tr.Origin[2],
			tr.Direction[0], tr.Direction[1], tr.Direction[2], tr.Momentum, tr.Charge, owner,
		); err != nil {
			return fmt.Errorf("insert trajectory %d: %w", tr.ID, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit event %s: %w", ev.ID, err)
	}
	return nil
}

func deleteEvent(tx *sql.Tx, id string) error {
	for _, table := range []string{"pfa_hits", "pfa_clusters", "pfa_trajectories", "pfa_events"} {
		if _, err := tx.Exec(`DELETE FROM `+table+` WHERE event_id = ?`, id); err != nil {
			return fmt.Errorf("delete from %s: %w", table, err)
		}
	}
	return nil
}

// LoadEvent rebuilds a stored event. Its single collection is current.
func (s *Store) LoadEvent(id string) (*event.Event, error) {
	var collection string
	err := s.db.QueryRow(`SELECT collection FROM pfa_events WHERE event_id = ?`, id).Scan(&collection)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%s: %w", id, ErrEventNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get event: %w", err)
	}

	var nClusters int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM pfa_clusters WHERE event_id = ?`, id).Scan(&nClusters); err != nil {
		return nil, fmt.Errorf("count clusters: %w", err)
	}

	clusterHits := make([][]event.Hit, nClusters)
	rows, err := s.db.Query(`
		SELECT ordinal, x, y, z, layer, had_energy, em_energy
		FROM pfa_hits
		WHERE event_id = ?
		ORDER BY ordinal, hit_index`, id)
	if err != nil {
		return nil, fmt.Errorf("query hits: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var ordinal int
		var hit event.Hit
		if err := rows.Scan(&ordinal, &hit.Position[0], &hit.Position[1], &hit.Position[2],
			&hit.Layer, &hit.HadEnergy, &hit.EMEnergy); err != nil {
			return nil, fmt.Errorf("scan hit: %w", err)
		}
		if ordinal < 0 || ordinal >= nClusters {
			return nil, fmt.Errorf("hit references cluster %d of %d", ordinal, nClusters)
		}
		clusterHits[ordinal] = append(clusterHits[ordinal], hit)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate hits: %w", err)
	}

	ev := event.New(id)
	ev.CreateCollection(collection)
	if err := ev.SetCurrentCollection(collection); err != nil {
		return nil, err
	}
	handles := make([]event.ClusterHandle, nClusters)
	for i, hits := range clusterHits {
		handles[i] = ev.AddCluster(collection, hits)
	}

	trows, err := s.db.Query(`
		SELECT origin_x, origin_y, origin_z, dir_x, dir_y, dir_z, momentum, charge, cluster_ordinal
		FROM pfa_trajectories
		WHERE event_id = ?
		ORDER BY trajectory_id`, id)
	if err != nil {
		return nil, fmt.Errorf("query trajectories: %w", err)
	}
	defer trows.Close()
	for trows.Next() {
		var tr event.Trajectory
		var owner sql.NullInt64
		if err := trows.Scan(&tr.Origin[0], &tr.Origin[1], &tr.Origin[2],
			&tr.Direction[0], &tr.Direction[1], &tr.Direction[2], &tr.Momentum, &tr.Charge, &owner); err != nil {
			return nil, fmt.Errorf("scan trajectory: %w", err)
		}
		tid := ev.AddTrajectory(tr)
		if !owner.Valid {
			continue
		}
		if owner.Int64 < 0 || int(owner.Int64) >= nClusters {
			return nil, fmt.Errorf("trajectory %d references cluster %d of %d", tid, owner.Int64, nClusters)
		}
		if err := ev.AssociateTrajectory(handles[owner.Int64], tid); err != nil {
			return nil, err
		}
	}
	if err := trows.Err(); err != nil {
		return nil, fmt.Errorf("iterate trajectories: %w", err)
	}
	return ev, nil
}

// ListEventIDs returns the stored event IDs in ascending order.
func (s *Store) ListEventIDs() ([]string, error) {
	rows, err := s.db.Query(`SELECT event_id FROM pfa_events ORDER BY event_id`)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan event id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
