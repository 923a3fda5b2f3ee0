package engine

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"helioflow/internal/config"
	"helioflow/internal/domain"
	"helioflow/internal/events"
	"helioflow/internal/repo"
	"helioflow/internal/services/calendar"
	"helioflow/internal/services/invoicing"
)

type Engine struct {
	DB       *sql.DB
	Repo     repo.Repo
	Events   events.Writer
	Config   *config.Config
	Invoices invoicing.Service
	Calendar calendar.Service
	Now      func() time.Time

	locks *projectLocks
}

func New(db *sql.DB, cfg *config.Config) Engine {
	e := Engine{
		DB:       db,
		Repo:     repo.Repo{DB: db},
		Events:   events.Writer{DB: db},
		Config:   cfg,
		Invoices: &invoicing.Stub{},
		Calendar: calendar.Noop{},
		Now:      time.Now,
		locks:    newProjectLocks(),
	}
	if cfg != nil {
		if strings.TrimSpace(cfg.Invoicing.URL) != "" {
			e.Invoices = invoicing.NewClient(cfg.Invoicing.URL, cfg.Invoicing.Token, cfg.Invoicing.TimeoutSeconds)
		}
		if strings.TrimSpace(cfg.Calendar.URL) != "" {
			e.Calendar = calendar.NewClient(cfg.Calendar.URL, cfg.Calendar.Token)
		}
	}
	return e
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) nowString() string {
	return e.now().UTC().Format(time.RFC3339)
}

func (e Engine) today() string {
	return e.now().UTC().Format("2006-01-02")
}

// projectLocks serializes operations that must hold a project exclusively
// across an external call, such as invoice creation.
type projectLocks struct {
	mu sync.Mutex
	m  map[string]*sync.Mutex
}

func newProjectLocks() *projectLocks {
	return &projectLocks{m: make(map[string]*sync.Mutex)}
}

func (l *projectLocks) lock(projectID string) func() {
	l.mu.Lock()
	pl, ok := l.m[projectID]
	if !ok {
		pl = &sync.Mutex{}
		l.m[projectID] = pl
	}
	l.mu.Unlock()
	pl.Lock()
	return pl.Unlock
}

// InitFirm creates the firm record and its default configuration.
func (e Engine) InitFirm(ctx context.Context, firmID, name string, schema domain.StatusSchema, actorID string) (domain.Firm, error) {
	if strings.TrimSpace(name) == "" {
		return domain.Firm{}, ValidationError{Field: "name", Reason: "required"}
	}
	if firmID == "" {
		firmID = uuid.NewString()
	}
	if schema == "" {
		schema = domain.SchemaStandard
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Firm{}, err
	}
	defer tx.Rollback()

	f := domain.Firm{
		ID:           firmID,
		Name:         name,
		StatusSchema: schema,
		CreatedAt:    e.nowString(),
	}
	if err := e.Repo.InsertFirm(ctx, tx, f); err != nil {
		return domain.Firm{}, fmt.Errorf("insert firm: %w", err)
	}
	cfg := config.Default(f.ID)
	cfg.Firm.Name = name
	cfg.Firm.StatusSchema = string(schema)
	if err := e.Repo.UpsertFirmConfigTx(ctx, tx, f.ID, cfg); err != nil {
		return domain.Firm{}, fmt.Errorf("insert firm config: %w", err)
	}
	if err := e.Events.Append(ctx, tx, "firm.init", f.ID, "firm", f.ID, actorID, events.EventPayload{"status_schema": string(schema)}); err != nil {
		return domain.Firm{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Firm{}, err
	}
	return f, nil
}

// CreateCrew registers a crew under a firm.
func (e Engine) CreateCrew(ctx context.Context, firmID, name, actorID string) (domain.Crew, error) {
	if strings.TrimSpace(name) == "" {
		return domain.Crew{}, ValidationError{Field: "name", Reason: "required"}
	}
	if _, err := e.Repo.GetFirm(ctx, firmID); err != nil {
		return domain.Crew{}, err
	}
	c := domain.Crew{
		ID:        uuid.NewString(),
		FirmID:    firmID,
		Name:      name,
		CreatedAt: e.nowString(),
	}
	if err := e.Repo.InsertCrew(ctx, c); err != nil {
		return domain.Crew{}, fmt.Errorf("insert crew: %w", err)
	}
	return c, nil
}

// resolveFirmSchema returns the firm's status schema, defaulting to standard.
func (e Engine) resolveFirmSchema(ctx context.Context, firmID string) (domain.StatusSchema, error) {
	f, err := e.Repo.GetFirm(ctx, firmID)
	if err != nil {
		return "", err
	}
	if f.StatusSchema == "" {
		return domain.SchemaStandard, nil
	}
	return f.StatusSchema, nil
}
