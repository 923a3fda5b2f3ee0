package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"helioflow/internal/config"
	"helioflow/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var (
	ErrNotFound = errors.New("not found")
	// ErrStale signals that a guarded update matched no row: either the
	// record is gone or a concurrent writer changed the guarded fields
	// first. Callers re-read to tell the two apart.
	ErrStale = errors.New("stale record")
)

// --- firms ---

func (r Repo) InsertFirm(ctx context.Context, tx *sql.Tx, f domain.Firm) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO firms(id,name,status_schema,created_at) VALUES (?,?,?,?)`,
		f.ID, f.Name, string(f.StatusSchema), f.CreatedAt)
	return err
}

func (r Repo) GetFirm(ctx context.Context, id string) (domain.Firm, error) {
	var f domain.Firm
	var schema string
	err := r.DB.QueryRowContext(ctx, `SELECT id,name,status_schema,created_at FROM firms WHERE id=?`, id).
		Scan(&f.ID, &f.Name, &schema, &f.CreatedAt)
	if err == sql.ErrNoRows {
		return f, ErrNotFound
	}
	f.StatusSchema = domain.StatusSchema(schema)
	return f, err
}

func (r Repo) SingleFirm(ctx context.Context) (domain.Firm, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,name,status_schema,created_at FROM firms`)
	if err != nil {
		return domain.Firm{}, err
	}
	defer rows.Close()
	var firms []domain.Firm
	for rows.Next() {
		var f domain.Firm
		var schema string
		if err := rows.Scan(&f.ID, &f.Name, &schema, &f.CreatedAt); err != nil {
			return domain.Firm{}, err
		}
		f.StatusSchema = domain.StatusSchema(schema)
		firms = append(firms, f)
	}
	if len(firms) == 0 {
		return domain.Firm{}, ErrNotFound
	}
	if len(firms) > 1 {
		return domain.Firm{}, fmt.Errorf("multiple firms exist; specify --firm")
	}
	return firms[0], nil
}

func (r Repo) UpsertFirmConfig(ctx context.Context, firmID string, cfg *config.Config) error {
	return upsertFirmConfig(ctx, r.DB, nil, firmID, cfg)
}

func (r Repo) UpsertFirmConfigTx(ctx context.Context, tx *sql.Tx, firmID string, cfg *config.Config) error {
	return upsertFirmConfig(ctx, nil, tx, firmID, cfg)
}

func upsertFirmConfig(ctx context.Context, db *sql.DB, tx *sql.Tx, firmID string, cfg *config.Config) error {
	if cfg == nil {
		return fmt.Errorf("config nil")
	}
	cfg.Firm.ID = firmID
	if err := cfg.Validate(); err != nil {
		return err
	}
	payload, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	now := time.Now().UTC().Format(time.RFC3339)
	exec := func(query string, args ...any) (sql.Result, error) {
		if tx != nil {
			return tx.ExecContext(ctx, query, args...)
		}
		return db.ExecContext(ctx, query, args...)
	}
	_, err = exec(`INSERT INTO firm_configs(firm_id,config_json,created_at,updated_at) VALUES (?,?,?,?)
ON CONFLICT(firm_id) DO UPDATE SET config_json=excluded.config_json, updated_at=excluded.updated_at`, firmID, string(payload), now, now)
	return err
}

func (r Repo) GetFirmConfig(ctx context.Context, firmID string) (*config.Config, error) {
	var payload string
	err := r.DB.QueryRowContext(ctx, `SELECT config_json FROM firm_configs WHERE firm_id=?`, firmID).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var cfg config.Config
	if err := json.Unmarshal([]byte(payload), &cfg); err != nil {
		return nil, err
	}
	if cfg.Firm.ID == "" {
		cfg.Firm.ID = firmID
	}
	return &cfg, cfg.Validate()
}

// --- crews ---

func (r Repo) InsertCrew(ctx context.Context, c domain.Crew) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO crews(id,firm_id,name,created_at) VALUES (?,?,?,?)`,
		c.ID, c.FirmID, c.Name, c.CreatedAt)
	return err
}

func (r Repo) GetCrew(ctx context.Context, id string) (domain.Crew, error) {
	var c domain.Crew
	err := r.DB.QueryRowContext(ctx, `SELECT id,firm_id,name,created_at FROM crews WHERE id=?`, id).
		Scan(&c.ID, &c.FirmID, &c.Name, &c.CreatedAt)
	if err == sql.ErrNoRows {
		return c, ErrNotFound
	}
	return c, err
}

func (r Repo) ListCrews(ctx context.Context, firmID string) ([]domain.Crew, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,firm_id,name,created_at FROM crews WHERE firm_id=? ORDER BY name ASC`, firmID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Crew
	for rows.Next() {
		var c domain.Crew
		if err := rows.Scan(&c.ID, &c.FirmID, &c.Name, &c.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

// --- projects ---

const projectCols = `id,firm_id,name,COALESCE(address,''),status,status_schema,crew_id,
equipment_expected_date,equipment_arrived_date,work_start_date,work_end_date,
invoice_number,invoice_url,reclamation_open,created_at,updated_at`

func scanProject(scan func(...any) error) (domain.Project, error) {
	var p domain.Project
	var status, schema string
	var crewID, eqExpected, eqArrived, workStart, workEnd, invNumber, invURL sql.NullString
	var reclamationOpen int
	err := scan(&p.ID, &p.FirmID, &p.Name, &p.Address, &status, &schema, &crewID,
		&eqExpected, &eqArrived, &workStart, &workEnd,
		&invNumber, &invURL, &reclamationOpen, &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	if err != nil {
		return p, err
	}
	p.Status = domain.ProjectStatus(status)
	p.Schema = domain.StatusSchema(schema)
	p.CrewID = fromNull(crewID)
	p.EquipmentExpectedDate = fromNull(eqExpected)
	p.EquipmentArrivedDate = fromNull(eqArrived)
	p.WorkStartDate = fromNull(workStart)
	p.WorkEndDate = fromNull(workEnd)
	p.InvoiceNumber = fromNull(invNumber)
	p.InvoiceURL = fromNull(invURL)
	p.ReclamationOpen = reclamationOpen != 0
	return p, nil
}

func (r Repo) InsertProject(ctx context.Context, tx *sql.Tx, p domain.Project) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO projects(id,firm_id,name,address,status,status_schema,crew_id,
equipment_expected_date,equipment_arrived_date,work_start_date,work_end_date,
invoice_number,invoice_url,reclamation_open,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		p.ID, p.FirmID, p.Name, nullable(p.Address), string(p.Status), string(p.Schema), toNull(p.CrewID),
		toNull(p.EquipmentExpectedDate), toNull(p.EquipmentArrivedDate), toNull(p.WorkStartDate), toNull(p.WorkEndDate),
		toNull(p.InvoiceNumber), toNull(p.InvoiceURL), boolToInt(p.ReclamationOpen), p.CreatedAt, p.UpdatedAt)
	return err
}

func (r Repo) GetProject(ctx context.Context, id string) (domain.Project, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+projectCols+` FROM projects WHERE id=?`, id)
	return scanProject(row.Scan)
}

func (r Repo) GetProjectTx(ctx context.Context, tx *sql.Tx, id string) (domain.Project, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+projectCols+` FROM projects WHERE id=?`, id)
	return scanProject(row.Scan)
}

type ProjectFilters struct {
	FirmID string
	Status string
	CrewID string
	Limit  int
}

func (r Repo) ListProjects(ctx context.Context, f ProjectFilters) ([]domain.Project, error) {
	var clauses []string
	var args []any
	if f.FirmID != "" {
		clauses = append(clauses, "firm_id=?")
		args = append(args, f.FirmID)
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.CrewID != "" {
		clauses = append(clauses, "crew_id=?")
		args = append(args, f.CrewID)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + projectCols + ` FROM projects ` + where + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Project
	for rows.Next() {
		p, err := scanProject(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

// AdvanceProjectStatus moves a project from one status to another as a
// compare-and-set: the write only lands if the row still holds the expected
// status and no reclamation overlay is active. Returns ErrStale otherwise.
func (r Repo) AdvanceProjectStatus(ctx context.Context, tx *sql.Tx, id string, from, to domain.ProjectStatus, now string) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE projects SET status=?, updated_at=? WHERE id=? AND status=? AND reclamation_open=0`,
		string(to), now, id, string(from))
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrStale
	}
	return nil
}

// SetProjectInvoice records invoice number and URL together with the status
// advance. The invoice_number IS NULL guard makes the number immutable.
func (r Repo) SetProjectInvoice(ctx context.Context, tx *sql.Tx, id string, from, to domain.ProjectStatus, number, url, now string) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE projects SET status=?, invoice_number=?, invoice_url=?, updated_at=?
WHERE id=? AND status=? AND invoice_number IS NULL AND reclamation_open=0`,
		string(to), number, url, now, id, string(from))
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrStale
	}
	return nil
}

type ProjectDates struct {
	EquipmentExpected *string
	EquipmentArrived  *string
	WorkStart         *string
	WorkEnd           *string
}

func (r Repo) UpdateProjectDates(ctx context.Context, tx *sql.Tx, id string, d ProjectDates, now string) error {
	var fields []string
	var args []any
	if d.EquipmentExpected != nil {
		fields = append(fields, "equipment_expected_date=?")
		args = append(args, nullable(*d.EquipmentExpected))
	}
	if d.EquipmentArrived != nil {
		fields = append(fields, "equipment_arrived_date=?")
		args = append(args, nullable(*d.EquipmentArrived))
	}
	if d.WorkStart != nil {
		fields = append(fields, "work_start_date=?")
		args = append(args, nullable(*d.WorkStart))
	}
	if d.WorkEnd != nil {
		fields = append(fields, "work_end_date=?")
		args = append(args, nullable(*d.WorkEnd))
	}
	if len(fields) == 0 {
		return nil
	}
	fields = append(fields, "updated_at=?")
	args = append(args, now, id)
	res, err := tx.ExecContext(ctx, fmt.Sprintf(`UPDATE projects SET %s WHERE id=?`, strings.Join(fields, ",")), args...)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) SetProjectCrew(ctx context.Context, tx *sql.Tx, id, crewID, now string) error {
	res, err := tx.ExecContext(ctx, `UPDATE projects SET crew_id=?, updated_at=? WHERE id=?`, nullable(crewID), now, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// SetReclamationOpen flips the reclamation overlay flag. Opening guards on
// the flag being clear so two concurrent creates cannot both claim the
// project.
func (r Repo) SetReclamationOpen(ctx context.Context, tx *sql.Tx, projectID string, open bool, now string) error {
	query := `UPDATE projects SET reclamation_open=?, updated_at=? WHERE id=?`
	if open {
		query += ` AND reclamation_open=0`
	}
	res, err := tx.ExecContext(ctx, query, boolToInt(open), now, projectID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrStale
	}
	return nil
}

// --- actors ---

func (r Repo) EnsureActor(ctx context.Context, tx *sql.Tx, actorID string, now string) error {
	_, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO actors(id, created_at) VALUES (?,?)`, actorID, now)
	return err
}

// --- events ---

func (r Repo) LatestEvents(ctx context.Context, limit int, firmID, evtType, entityKind, entityID string) ([]domain.Event, error) {
	clauses := []string{"1=1"}
	var args []any
	if firmID != "" {
		clauses = append(clauses, "firm_id=?")
		args = append(args, firmID)
	}
	if evtType != "" {
		clauses = append(clauses, "type=?")
		args = append(args, evtType)
	}
	if entityKind != "" {
		clauses = append(clauses, "entity_kind=?")
		args = append(args, entityKind)
	}
	if entityID != "" {
		clauses = append(clauses, "entity_id=?")
		args = append(args, entityID)
	}
	where := "WHERE " + strings.Join(clauses, " AND ")
	query := fmt.Sprintf(`SELECT id,ts,type,firm_id,entity_kind,entity_id,actor_id,payload_json FROM events %s ORDER BY id DESC LIMIT ?`, where)
	args = append(args, limit)
	return r.queryEvents(ctx, query, args...)
}

// EventsAfter returns events with IDs greater than the cursor in ascending order.
func (r Repo) EventsAfter(ctx context.Context, limit int, cursor int64, firmID string) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	clauses := []string{"1=1"}
	var args []any
	if firmID != "" {
		clauses = append(clauses, "firm_id=?")
		args = append(args, firmID)
	}
	if cursor > 0 {
		clauses = append(clauses, "id>?")
		args = append(args, cursor)
	}
	where := "WHERE " + strings.Join(clauses, " AND ")
	query := fmt.Sprintf(`SELECT id,ts,type,firm_id,entity_kind,entity_id,actor_id,payload_json FROM events %s ORDER BY id ASC LIMIT ?`, where)
	args = append(args, limit)
	return r.queryEvents(ctx, query, args...)
}

// LatestEventID returns the most recent event ID for a firm.
func (r Repo) LatestEventID(ctx context.Context, firmID string) (int64, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT COALESCE(MAX(id),0) FROM events WHERE firm_id=?`, firmID)
	var id int64
	if err := row.Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}

func (r Repo) queryEvents(ctx context.Context, query string, args ...any) ([]domain.Event, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		var firmID, entityID, payload sql.NullString
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &firmID, &e.EntityKind, &entityID, &e.ActorID, &payload); err != nil {
			return nil, err
		}
		if firmID.Valid {
			e.FirmID = firmID.String
		}
		if entityID.Valid {
			e.EntityID = entityID.String
		}
		if payload.Valid {
			e.Payload = payload.String
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// --- helpers ---

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func toNull(v *string) any {
	if v == nil || *v == "" {
		return nil
	}
	return *v
}

func fromNull(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
