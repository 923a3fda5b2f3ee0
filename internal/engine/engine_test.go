package engine_test

import (
	"context"
	"testing"
	"time"

	"helioflow/internal/config"
	"helioflow/internal/db"
	"helioflow/internal/domain"
	"helioflow/internal/engine"
	"helioflow/internal/engine/auth"
	"helioflow/internal/migrate"
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
	Firm   domain.Firm
	Crew   domain.Crew
	Admin  auth.Actor
}

// newTestEnv opens a fresh database, seeds one firm on the standard schema
// with one crew, and pins the clock to 2024-05-01.
func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	eng := engine.New(conn, config.Default("firm-1"))
	eng.Now = func() time.Time { return time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC) }
	ctx := context.Background()
	firm, err := eng.InitFirm(ctx, "firm-1", "Helio Test", domain.SchemaStandard, "admin-1")
	if err != nil {
		t.Fatalf("init firm: %v", err)
	}
	crew, err := eng.CreateCrew(ctx, firm.ID, "Crew Alpha", "admin-1")
	if err != nil {
		t.Fatalf("create crew: %v", err)
	}
	return testEnv{
		Engine: eng,
		Ctx:    ctx,
		Firm:   firm,
		Crew:   crew,
		Admin:  auth.Actor{ID: "admin-1", Role: auth.RoleAdmin},
	}
}

func leaderOf(crewID string) auth.Actor {
	return auth.Actor{ID: "leader-" + crewID, Role: auth.RoleLeader, CrewID: &crewID}
}

func workerOf(crewID string) auth.Actor {
	return auth.Actor{ID: "worker-" + crewID, Role: auth.RoleWorker, CrewID: &crewID}
}

func (env testEnv) createProject(t *testing.T, name string) domain.Project {
	t.Helper()
	p, err := env.Engine.CreateProject(env.Ctx, engine.ProjectCreateOptions{
		FirmID: env.Firm.ID,
		Name:   name,
		Actor:  env.Admin,
	})
	if err != nil {
		t.Fatalf("create project: %v", err)
	}
	return p
}

func (env testEnv) advance(t *testing.T, projectID string, target domain.ProjectStatus) domain.Project {
	t.Helper()
	p, err := env.Engine.ApplyStatus(env.Ctx, engine.ApplyStatusOptions{
		ProjectID: projectID,
		Target:    string(target),
		Actor:     env.Admin,
	})
	if err != nil {
		t.Fatalf("advance to %s: %v", target, err)
	}
	return p
}
