package repo

import (
	"context"
	"database/sql"
	"strings"

	"helioflow/internal/domain"
)

const reclamationCols = `id,project_id,description,deadline,status,original_crew_id,current_crew_id,
rejection_reason,resolution_notes,created_at,updated_at`

func scanReclamation(scan func(...any) error) (domain.Reclamation, error) {
	var rec domain.Reclamation
	var status string
	var reason, notes sql.NullString
	err := scan(&rec.ID, &rec.ProjectID, &rec.Description, &rec.Deadline, &status,
		&rec.OriginalCrewID, &rec.CurrentCrewID, &reason, &notes, &rec.CreatedAt, &rec.UpdatedAt)
	if err == sql.ErrNoRows {
		return rec, ErrNotFound
	}
	if err != nil {
		return rec, err
	}
	rec.Status = domain.ReclamationStatus(status)
	rec.RejectionReason = fromNull(reason)
	rec.ResolutionNotes = fromNull(notes)
	return rec, nil
}

func (r Repo) InsertReclamation(ctx context.Context, tx *sql.Tx, rec domain.Reclamation) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO reclamations(id,project_id,description,deadline,status,original_crew_id,current_crew_id,
rejection_reason,resolution_notes,created_at,updated_at) VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		rec.ID, rec.ProjectID, rec.Description, rec.Deadline, string(rec.Status),
		rec.OriginalCrewID, rec.CurrentCrewID, toNull(rec.RejectionReason), toNull(rec.ResolutionNotes),
		rec.CreatedAt, rec.UpdatedAt)
	return err
}

func (r Repo) GetReclamation(ctx context.Context, id string) (domain.Reclamation, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+reclamationCols+` FROM reclamations WHERE id=?`, id)
	return scanReclamation(row.Scan)
}

func (r Repo) GetReclamationTx(ctx context.Context, tx *sql.Tx, id string) (domain.Reclamation, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+reclamationCols+` FROM reclamations WHERE id=?`, id)
	return scanReclamation(row.Scan)
}

// ActiveReclamationForProject returns the non-completed reclamation on a
// project, if any. At most one can exist at a time.
func (r Repo) ActiveReclamationForProject(ctx context.Context, tx *sql.Tx, projectID string) (domain.Reclamation, error) {
	row := tx.QueryRowContext(ctx,
		`SELECT `+reclamationCols+` FROM reclamations WHERE project_id=? AND status<>'completed' LIMIT 1`, projectID)
	return scanReclamation(row.Scan)
}

type ReclamationFilters struct {
	ProjectID string
	CrewID    string
	Status    string
	// Available selects the rejected pool visible to crews other than the
	// one that rejected.
	Available     bool
	ExcludeCrewID string
	Limit         int
}

func (r Repo) ListReclamations(ctx context.Context, f ReclamationFilters) ([]domain.Reclamation, error) {
	var clauses []string
	var args []any
	if f.ProjectID != "" {
		clauses = append(clauses, "project_id=?")
		args = append(args, f.ProjectID)
	}
	if f.CrewID != "" {
		clauses = append(clauses, "current_crew_id=?")
		args = append(args, f.CrewID)
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.Available {
		clauses = append(clauses, "status='rejected'")
		if f.ExcludeCrewID != "" {
			clauses = append(clauses, "current_crew_id<>?")
			args = append(args, f.ExcludeCrewID)
		}
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + reclamationCols + ` FROM reclamations ` + where + ` ORDER BY deadline ASC, id ASC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Reclamation
	for rows.Next() {
		rec, err := scanReclamation(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, rec)
	}
	return res, rows.Err()
}

// Each transition below is a single guarded UPDATE. The WHERE clause encodes
// both the state precondition and the ownership check, so under concurrent
// calls exactly one writer can win; the rest get ErrStale and re-read to
// report the precise failure.

func (r Repo) AcceptReclamation(ctx context.Context, tx *sql.Tx, id, crewID, now string) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE reclamations SET status='accepted', rejection_reason=NULL, updated_at=?
WHERE id=? AND status='pending' AND current_crew_id=?`, now, id, crewID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrStale
	}
	return nil
}

func (r Repo) RejectReclamation(ctx context.Context, tx *sql.Tx, id, crewID, reason, now string) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE reclamations SET status='rejected', rejection_reason=?, updated_at=?
WHERE id=? AND status='pending' AND current_crew_id=?`, reason, now, id, crewID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrStale
	}
	return nil
}

// TakeReclamation claims a rejected reclamation for a new crew. The
// status='rejected' guard means at most one taker succeeds.
func (r Repo) TakeReclamation(ctx context.Context, tx *sql.Tx, id, crewID, now string) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE reclamations SET status='accepted', current_crew_id=?, rejection_reason=NULL, updated_at=?
WHERE id=? AND status='rejected' AND current_crew_id<>?`, crewID, now, id, crewID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrStale
	}
	return nil
}

func (r Repo) StartReclamation(ctx context.Context, tx *sql.Tx, id, crewID, now string) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE reclamations SET status='in_progress', updated_at=?
WHERE id=? AND status='accepted' AND current_crew_id=?`, now, id, crewID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrStale
	}
	return nil
}

func (r Repo) CompleteReclamation(ctx context.Context, tx *sql.Tx, id, crewID, notes, now string) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE reclamations SET status='completed', resolution_notes=?, updated_at=?
WHERE id=? AND status IN ('accepted','in_progress') AND current_crew_id=?`, nullable(notes), now, id, crewID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrStale
	}
	return nil
}
