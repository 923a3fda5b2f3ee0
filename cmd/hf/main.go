package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"helioflow/internal/app"
	"helioflow/internal/db"
	"helioflow/internal/domain"
	"helioflow/internal/engine"
	"helioflow/internal/engine/auth"
	"helioflow/internal/migrate"
	"helioflow/internal/repo"
	"helioflow/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "hf",
	Short: "Helioflow CLI",
	Long: `Helioflow tracks solar installation projects through their lifecycle.
- Workspace: the .helioflow directory holding the database; firm config lives in the DB.
- Projects: move forward through a fixed status chain (planning -> ... -> paid); no going back.
- Invoicing: entering the invoiced stage creates the invoice via the external service first.
- Suggestions: 'hf project suggest' reads the recorded dates and proposes the next stage.
- Reclamations: customer complaints assigned to a crew; they freeze the project until completed.
- Pool: rejected reclamations wait in the available pool for another crew to take.
- Event log: diary of changes, view with 'hf log tail'.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("HELIOFLOW")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	rootCmd.PersistentFlags().String("role", "admin", "actor role: admin, leader or worker")
	rootCmd.PersistentFlags().String("crew", "", "actor crew id")
	rootCmd.PersistentFlags().String("firm", "", "firm id (overrides single-firm default)")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
	_ = viper.BindPFlag("role", rootCmd.PersistentFlags().Lookup("role"))
	_ = viper.BindPFlag("crew", rootCmd.PersistentFlags().Lookup("crew"))
	_ = viper.BindPFlag("firm", rootCmd.PersistentFlags().Lookup("firm"))
}

func registerCommands() {
	rootCmd.AddCommand(firmCmd())
	rootCmd.AddCommand(crewCmd())
	rootCmd.AddCommand(projectCmd())
	rootCmd.AddCommand(reclamationCmd())
	rootCmd.AddCommand(apikeyCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(serveCmd())
}

// cliActor builds the acting identity from flags. The CLI runs against a
// local workspace, so the role is taken on trust.
func cliActor() (auth.Actor, error) {
	role, err := auth.ParseRole(viper.GetString("role"))
	if err != nil {
		return auth.Actor{}, err
	}
	a := auth.Actor{ID: viper.GetString("actor-id"), Role: role}
	if crew := strings.TrimSpace(viper.GetString("crew")); crew != "" {
		a.CrewID = &crew
	}
	return a, nil
}

func firmCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "firm", Short: "Manage the firm"}
	cmd.AddCommand(firmInitCmd())
	cmd.AddCommand(firmShowCmd())
	return cmd
}

func firmInitCmd() *cobra.Command {
	var name, schema string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize a firm",
		RunE: func(cmd *cobra.Command, args []string) error {
			parsed, err := domain.ParseStatusSchema(schema)
			if err != nil {
				return err
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				e := engine.New(r.DB, nil)
				f, err := e.InitFirm(ctx, viper.GetString("firm"), name, parsed, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(f)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "firm name")
	cmd.Flags().StringVar(&schema, "schema", "standard", "status schema: standard or legacy")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func firmShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show firm",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				f, err := e.Repo.GetFirm(ctx, e.Config.Firm.ID)
				if err != nil {
					return err
				}
				return printJSONOrTable(f)
			})
		},
	}
	return cmd
}

func crewCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "crew", Short: "Manage crews"}
	cmd.AddCommand(crewCreateCmd())
	cmd.AddCommand(crewListCmd())
	return cmd
}

func crewCreateCmd() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create crew",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				c, err := e.CreateCrew(ctx, e.Config.Firm.ID, name, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "crew name")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func crewListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List crews",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListCrews(ctx, e.Config.Firm.ID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Created"})
				for _, c := range items {
					tw.AppendRow(table.Row{c.ID, c.Name, c.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func projectCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "project", Short: "Manage projects"}
	cmd.AddCommand(projectCreateCmd())
	cmd.AddCommand(projectListCmd())
	cmd.AddCommand(projectShowCmd())
	cmd.AddCommand(projectStatusCmd())
	cmd.AddCommand(projectSuggestCmd())
	cmd.AddCommand(projectDatesCmd())
	cmd.AddCommand(projectCrewCmd())
	return cmd
}

func projectCreateCmd() *cobra.Command {
	var opts engine.ProjectCreateOptions
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create project",
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := cliActor()
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				opts.FirmID = e.Config.Firm.ID
				opts.Actor = actor
				p, err := e.CreateProject(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().StringVar(&opts.Name, "name", "", "project name")
	cmd.Flags().StringVar(&opts.Address, "address", "", "installation address")
	cmd.Flags().StringVar(&opts.CrewID, "crew-id", "", "assigned crew")
	cmd.Flags().StringVar(&opts.EquipmentExpectedDate, "equipment-expected", "", "expected equipment date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&opts.WorkStartDate, "work-start", "", "planned work start (YYYY-MM-DD)")
	cmd.Flags().StringVar(&opts.WorkEndDate, "work-end", "", "planned work end (YYYY-MM-DD)")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func projectListCmd() *cobra.Command {
	var status, crewID string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List projects",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListProjects(ctx, repo.ProjectFilters{
					FirmID: e.Config.Firm.ID,
					Status: status,
					CrewID: crewID,
				})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Status", "Crew", "Invoice", "Reclamation"})
				for _, p := range items {
					crew := ""
					if p.CrewID != nil {
						crew = *p.CrewID
					}
					invoice := ""
					if p.InvoiceNumber != nil {
						invoice = *p.InvoiceNumber
					}
					open := ""
					if p.ReclamationOpen {
						open = "open"
					}
					tw.AppendRow(table.Row{p.ID, p.Name, p.Status, crew, invoice, open})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "status filter")
	cmd.Flags().StringVar(&crewID, "crew-id", "", "crew filter")
	return cmd
}

func projectShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.Repo.GetProject(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	return cmd
}

func projectStatusCmd() *cobra.Command {
	var fastForward bool
	cmd := &cobra.Command{
		Use:   "status <id> <status>",
		Short: "Advance project status",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := cliActor()
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.ApplyStatus(ctx, engine.ApplyStatusOptions{
					ProjectID:   args[0],
					Target:      args[1],
					FastForward: fastForward,
					Actor:       actor,
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().BoolVar(&fastForward, "fast-forward", false, "allow jumping several stages (admin only)")
	return cmd
}

func projectSuggestCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "suggest <id>",
		Short: "Suggest next status transition",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				s, err := e.SuggestNextTransition(ctx, args[0])
				if err != nil {
					return err
				}
				if s == nil {
					fmt.Println("no transition suggested")
					return nil
				}
				return printJSONOrTable(s)
			})
		},
	}
	return cmd
}

func projectDatesCmd() *cobra.Command {
	var equipmentExpected, equipmentArrived, workStart, workEnd string
	cmd := &cobra.Command{
		Use:   "dates <id>",
		Short: "Update project dates",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := cliActor()
			if err != nil {
				return err
			}
			opts := engine.ProjectDatesOptions{ProjectID: args[0], Actor: actor}
			if cmd.Flags().Changed("equipment-expected") {
				opts.EquipmentExpected = &equipmentExpected
			}
			if cmd.Flags().Changed("equipment-arrived") {
				opts.EquipmentArrived = &equipmentArrived
			}
			if cmd.Flags().Changed("work-start") {
				opts.WorkStart = &workStart
			}
			if cmd.Flags().Changed("work-end") {
				opts.WorkEnd = &workEnd
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.SetProjectDates(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().StringVar(&equipmentExpected, "equipment-expected", "", "expected equipment date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&equipmentArrived, "equipment-arrived", "", "equipment arrival date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&workStart, "work-start", "", "work start date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&workEnd, "work-end", "", "work end date (YYYY-MM-DD)")
	return cmd
}

func projectCrewCmd() *cobra.Command {
	var crewID string
	cmd := &cobra.Command{
		Use:   "crew <id>",
		Short: "Assign project crew",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := cliActor()
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.AssignProjectCrew(ctx, args[0], crewID, actor)
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().StringVar(&crewID, "crew-id", "", "crew id (empty clears)")
	return cmd
}

func reclamationCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "reclamation", Short: "Manage reclamations"}
	cmd.AddCommand(reclamationCreateCmd())
	cmd.AddCommand(reclamationListCmd())
	cmd.AddCommand(reclamationAcceptCmd())
	cmd.AddCommand(reclamationRejectCmd())
	cmd.AddCommand(reclamationTakeCmd())
	cmd.AddCommand(reclamationStartCmd())
	cmd.AddCommand(reclamationCompleteCmd())
	return cmd
}

func reclamationCreateCmd() *cobra.Command {
	var projectID, description, deadline, crewID string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Open reclamation on a project",
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := cliActor()
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				rec, err := e.CreateReclamation(ctx, engine.ReclamationCreateOptions{
					ProjectID:   projectID,
					Description: description,
					Deadline:    deadline,
					CrewID:      crewID,
					Actor:       actor,
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(rec)
			})
		},
	}
	cmd.Flags().StringVar(&projectID, "project-id", "", "project id")
	cmd.Flags().StringVar(&description, "description", "", "complaint description")
	cmd.Flags().StringVar(&deadline, "deadline", "", "deadline (YYYY-MM-DD)")
	cmd.Flags().StringVar(&crewID, "crew-id", "", "assigned crew")
	_ = cmd.MarkFlagRequired("project-id")
	_ = cmd.MarkFlagRequired("description")
	_ = cmd.MarkFlagRequired("deadline")
	_ = cmd.MarkFlagRequired("crew-id")
	return cmd
}

func reclamationListCmd() *cobra.Command {
	var scope, projectID, status string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List reclamations",
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := cliActor()
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.ListReclamations(ctx, engine.ReclamationListOptions{
					Scope:     scope,
					ProjectID: projectID,
					Status:    status,
					Actor:     actor,
				})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Project", "Status", "Crew", "Deadline"})
				for _, rec := range items {
					tw.AppendRow(table.Row{rec.ID, rec.ProjectID, rec.Status, rec.CurrentCrewID, rec.Deadline})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&scope, "scope", "", "assigned, available or all")
	cmd.Flags().StringVar(&projectID, "project-id", "", "project filter")
	cmd.Flags().StringVar(&status, "status", "", "status filter")
	return cmd
}

func reclamationAcceptCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "accept <id>",
		Short: "Accept reclamation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := cliActor()
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				rec, err := e.AcceptReclamation(ctx, args[0], actor)
				if err != nil {
					return err
				}
				return printJSONOrTable(rec)
			})
		},
	}
	return cmd
}

func reclamationRejectCmd() *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "reject <id>",
		Short: "Reject reclamation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := cliActor()
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				rec, err := e.RejectReclamation(ctx, args[0], reason, actor)
				if err != nil {
					return err
				}
				return printJSONOrTable(rec)
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "rejection reason")
	_ = cmd.MarkFlagRequired("reason")
	return cmd
}

func reclamationTakeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "take <id>",
		Short: "Take reclamation from the available pool",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := cliActor()
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				rec, err := e.TakeReclamation(ctx, args[0], actor)
				if err != nil {
					return err
				}
				return printJSONOrTable(rec)
			})
		},
	}
	return cmd
}

func reclamationStartCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start <id>",
		Short: "Start reclamation work",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := cliActor()
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				rec, err := e.StartReclamation(ctx, args[0], actor)
				if err != nil {
					return err
				}
				return printJSONOrTable(rec)
			})
		},
	}
	return cmd
}

func reclamationCompleteCmd() *cobra.Command {
	var notes string
	cmd := &cobra.Command{
		Use:   "complete <id>",
		Short: "Complete reclamation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := cliActor()
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				rec, err := e.CompleteReclamation(ctx, args[0], notes, actor)
				if err != nil {
					return err
				}
				return printJSONOrTable(rec)
			})
		},
	}
	cmd.Flags().StringVar(&notes, "notes", "", "resolution notes")
	return cmd
}

func apikeyCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "apikey", Short: "Manage API keys"}
	cmd.AddCommand(apikeyCreateCmd())
	cmd.AddCommand(apikeyListCmd())
	cmd.AddCommand(apikeyDeleteCmd())
	return cmd
}

func apikeyCreateCmd() *cobra.Command {
	var actorID, role, crewID, name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create API key (prints the key once)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := auth.ParseRole(role); err != nil {
				return err
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				rawKey := uuid.NewString() + uuid.NewString()
				key := domain.APIKey{
					ID:      uuid.NewString(),
					ActorID: actorID,
					Role:    role,
					Name:    name,
					KeyHash: repo.HashAPIKey(rawKey),
				}
				if crewID != "" {
					key.CrewID = &crewID
				}
				tx, err := r.DB.BeginTx(ctx, nil)
				if err != nil {
					return err
				}
				defer tx.Rollback()
				if err := r.EnsureActor(ctx, tx, actorID, time.Now().UTC().Format(time.RFC3339)); err != nil {
					return err
				}
				if err := r.InsertAPIKey(ctx, tx, key); err != nil {
					return err
				}
				if err := tx.Commit(); err != nil {
					return err
				}
				fmt.Printf("api key id: %s\n", key.ID)
				fmt.Printf("api key (save it now, it is not stored): %s\n", rawKey)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&actorID, "actor", "", "actor id the key authenticates as")
	cmd.Flags().StringVar(&role, "key-role", "worker", "role for the key: admin, leader or worker")
	cmd.Flags().StringVar(&crewID, "crew-id", "", "crew binding for leader/worker keys")
	cmd.Flags().StringVar(&name, "name", "", "key label")
	_ = cmd.MarkFlagRequired("actor")
	return cmd
}

func apikeyListCmd() *cobra.Command {
	var actorID string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				keys, err := r.ListAPIKeys(ctx, actorID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(keys)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Actor", "Role", "Crew", "Name", "Created"})
				for _, k := range keys {
					crew := ""
					if k.CrewID != nil {
						crew = *k.CrewID
					}
					tw.AppendRow(table.Row{k.ID, k.ActorID, k.Role, crew, k.Name, k.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&actorID, "actor", "", "filter by actor id")
	return cmd
}

func apikeyDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				return r.DeleteAPIKey(ctx, args[0])
			})
		},
	}
	return cmd
}

func logCmd() *cobra.Command {
	log := &cobra.Command{
		Use:   "log",
		Short: "Event log",
		Long:  "The diary of everything that happened: status changes, invoices, reclamations, and more.",
	}
	log.AddCommand(logTailCmd())
	return log
}

func logTailCmd() *cobra.Command {
	var n int
	var evtType, entityKind, entityID string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				events, err := e.Repo.LatestEvents(ctx, n, e.Config.Firm.ID, evtType, entityKind, entityID)
				if err != nil {
					return err
				}
				return printJSONOrTable(events)
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter")
	cmd.Flags().StringVar(&entityKind, "entity-kind", "", "entity kind")
	cmd.Flags().StringVar(&entityID, "entity-id", "", "entity id")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			if _, err := db.EnsureWorkspace(workspace); err != nil {
				return err
			}
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			r := repo.Repo{DB: conn}
			_, cfg, err := app.ResolveFirmAndConfig(cmd.Context(), viper.GetString("firm"), viper.GetString("actor-id"), r)
			if err != nil {
				return err
			}
			e := engine.New(conn, cfg)
			authCfg := server.AuthConfig{JWTSecret: os.Getenv("HELIOFLOW_JWT_SECRET")}
			if authCfg.JWTSecret == "" {
				return fmt.Errorf("HELIOFLOW_JWT_SECRET is required for bearer auth")
			}
			handler, err := server.New(server.Config{Engine: e, BasePath: basePath, Auth: authCfg})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving Helioflow API on http://%s%s (OpenAPI at /openapi.json, Swagger UI at /docs)\n", addr, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	return cmd
}

// --- helpers ---

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	return withRepo(ctx, func(ctx context.Context, r repo.Repo) error {
		_, cfg, err := app.ResolveFirmAndConfig(ctx, viper.GetString("firm"), viper.GetString("actor-id"), r)
		if err != nil {
			return err
		}
		e := engine.New(r.DB, cfg)
		return fn(ctx, e)
	})
}

func withRepo(ctx context.Context, fn func(context.Context, repo.Repo) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	r := repo.Repo{DB: conn}
	return fn(ctx, r)
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
