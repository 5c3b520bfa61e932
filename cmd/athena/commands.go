package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"athena/internal/conversation"
	"athena/internal/corrector"
	"athena/internal/executor"
	"athena/internal/inventory/parser"
	"athena/internal/inventory/relations"
	"athena/internal/inventory/store"
	"athena/internal/knowledge"
	"athena/internal/llm"
	"athena/internal/orchestrator"
	"athena/internal/scanner"
	"athena/internal/triage"
)

// client resolves the configured LLM provider. Only the scriptable mock is
// built in; real providers plug in through the llm.Client interface.
func (a *app) client() llm.Client {
	if strings.EqualFold(a.cfg.LLMProvider, "mock") {
		return llm.NewMock()
	}
	return nil
}

func newRunCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <request...>",
		Short: "Process one operations request",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			query := strings.Join(args, " ")

			creds, err := a.credentials()
			if err != nil {
				return err
			}
			client := a.client()

			patterns, err := triage.NewPatternStore(
				patternsPath(a.store.Path()), nil, a.logger)
			if err != nil {
				return err
			}
			analyzer := triage.AnalyzerFor(a.store.Path(), a.cfg.UserID, nil, a.logger)
			classify := triage.ClassifierFor(a.store.Path(), a.cfg.UserID, patterns, a.logger)
			exec := executor.New(a.cfg, a.store, analyzer, creds, a.logger)
			kn, err := knowledge.Open(a.cfg.KnowledgeDir, nil, a.logger)
			if err != nil {
				return err
			}

			orch, err := orchestrator.New(ctx, orchestrator.Deps{
				Config:    a.cfg,
				Store:     a.store,
				Conv:      conversation.NewManager(a.cfg, a.store, a.logger),
				Classify:  classify,
				Analyzer:  analyzer,
				Exec:      exec,
				Corrector: corrector.New(a.cfg, exec, client, a.logger),
				Knowledge: kn,
				Scanner:   scanner.New(a.cfg, a.store, exec, a.logger),
				Client:    client,
				Logger:    a.logger,
				Confirm:   a.confirm,
				AskUser:   a.askUser,
			})
			if err != nil {
				return err
			}
			defer func() { _ = orch.Close(context.Background()) }()

			answer, err := orch.ProcessRequest(ctx, query, nil)
			if err != nil {
				if client == nil {
					return fmt.Errorf("%w\nno LLM provider is configured; set llm_provider in ~/.athena/config.yaml or ATHENA_LLM_PROVIDER", err)
				}
				return err
			}
			fmt.Println(answer)
			return nil
		},
	}
	cmd.Flags().StringVar(&a.sshUser, "ssh-user", "", "SSH user for remote targets")
	cmd.Flags().StringVar(&a.sshKey, "ssh-key", "", "SSH private key path")
	cmd.Flags().BoolVar(&a.askPass, "ask-pass", false, "Prompt for an SSH password")
	return cmd
}

// patternsPath places the learned-pattern collection next to the inventory db.
func patternsPath(dbPath string) string {
	if dbPath == "" || dbPath == ":memory:" {
		return ""
	}
	return filepath.Join(filepath.Dir(dbPath), "patterns")
}

func newImportCommand(a *app) *cobra.Command {
	var (
		sourceName string
		format     string
		inferRels  bool
	)
	cmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Import an inventory file (csv, json, yaml, ini, hosts, ssh_config, txt)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			path := args[0]

			p := parser.New(a.cfg, a.client(), a.logger)
			result := p.ParseFile(ctx, path, parser.Format(format))
			for _, warning := range result.Warnings {
				fmt.Fprintln(os.Stderr, yellow("warning: "+warning))
			}
			for _, errMsg := range result.Errors {
				fmt.Fprintln(os.Stderr, red("error: "+errMsg))
			}
			if len(result.Hosts) == 0 {
				return fmt.Errorf("no hosts found in %s (detected format: %s)", path, result.SourceType)
			}

			if sourceName == "" {
				sourceName = filepath.Base(path)
			}
			sourceID, err := a.store.AddSource(ctx, store.Source{
				Name:         sourceName,
				SourceType:   string(result.SourceType),
				FilePath:     path,
				ImportMethod: "cli",
				HostCount:    len(result.Hosts),
			})
			if err != nil {
				return err
			}

			inputs := make([]store.HostInput, 0, len(result.Hosts))
			for _, h := range result.Hosts {
				inputs = append(inputs, h.StoreInput())
			}
			added, err := a.store.BulkAddHosts(ctx, inputs, &sourceID, "import")
			if err != nil {
				return err
			}
			fmt.Printf("%s %d hosts from %s (%s)\n", green("imported"), added, path, result.SourceType)

			if inferRels {
				return a.inferRelations(ctx)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&sourceName, "source", "", "Source name (default: file name)")
	cmd.Flags().StringVar(&format, "format", "", "Force input format instead of detecting")
	cmd.Flags().BoolVar(&inferRels, "relations", false, "Infer host relations after import")
	return cmd
}

func (a *app) inferRelations(ctx context.Context) error {
	hosts, err := a.store.ListHosts(ctx)
	if err != nil {
		return err
	}
	infos := make([]relations.HostInfo, 0, len(hosts))
	for _, h := range hosts {
		infos = append(infos, relations.HostInfo{
			Hostname:    h.Hostname,
			Environment: h.Environment,
			Groups:      h.Groups,
			Service:     h.Service,
			Role:        h.Role,
		})
	}
	stored, err := a.store.ListRelations(ctx, nil)
	if err != nil {
		return err
	}
	existing := make([]relations.Existing, 0, len(stored))
	byID := map[int64]string{}
	for _, h := range hosts {
		byID[h.ID] = h.Hostname
	}
	for _, rel := range stored {
		existing = append(existing, relations.Existing{
			Source: byID[rel.SourceHostID],
			Target: byID[rel.TargetHostID],
			Type:   rel.RelationType,
		})
	}

	classifier := relations.InstanceFor(a.store.Path(), a.cfg.UserID, a.cfg, a.client(), a.logger)
	suggestions := classifier.Classify(ctx, infos, existing)
	if len(suggestions) == 0 {
		fmt.Println("no new relations inferred")
		return nil
	}

	inputs := make([]store.RelationInput, 0, len(suggestions))
	for _, s := range suggestions {
		inputs = append(inputs, store.RelationInput{
			SourceHost:   s.Source,
			TargetHost:   s.Target,
			RelationType: s.Type,
			Confidence:   s.Confidence,
		})
	}
	report, err := a.store.AddRelationsBatch(ctx, inputs)
	if err != nil {
		return err
	}
	fmt.Printf("%s %d relations (%d updated, %d skipped)\n",
		green("inferred"), report.Added, report.Updated, len(report.Skipped))
	return nil
}

func newHostsCommand(a *app) *cobra.Command {
	var filter store.SearchFilter
	cmd := &cobra.Command{
		Use:   "hosts [pattern]",
		Short: "List or search inventoried hosts",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				filter.Pattern = args[0]
			}
			hosts, err := a.store.SearchHosts(cmd.Context(), filter)
			if err != nil {
				return err
			}
			if len(hosts) == 0 {
				fmt.Println(gray("no hosts match"))
				return nil
			}
			for _, h := range hosts {
				line := bold(h.Hostname)
				if h.IP != "" {
					line += " " + h.IP
				}
				if h.Environment != "" {
					line += " " + gray("["+h.Environment+"]")
				}
				if h.Service != "" {
					line += " " + h.Service
				}
				fmt.Println(line)
			}
			fmt.Println(gray(fmt.Sprintf("%d hosts", len(hosts))))
			return nil
		},
	}
	cmd.Flags().StringVar(&filter.Environment, "env", "", "Filter by environment")
	cmd.Flags().StringVar(&filter.Group, "group", "", "Filter by group")
	cmd.Flags().StringVar(&filter.Status, "status", "", "Filter by status")
	cmd.Flags().IntVar(&filter.Limit, "limit", 0, "Maximum results (0 = unlimited)")
	return cmd
}

func newSnapshotCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Manage inventory snapshots",
	}

	var description string
	create := &cobra.Command{
		Use:   "create <name>",
		Short: "Snapshot the current inventory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := a.store.CreateSnapshot(cmd.Context(), args[0], description)
			if err != nil {
				return err
			}
			fmt.Printf("%s snapshot %d (%s)\n", green("created"), id, args[0])
			return nil
		},
	}
	create.Flags().StringVar(&description, "description", "", "Snapshot description")

	list := &cobra.Command{
		Use:   "list",
		Short: "List snapshots",
		RunE: func(cmd *cobra.Command, args []string) error {
			snapshots, err := a.store.ListSnapshots(cmd.Context())
			if err != nil {
				return err
			}
			if len(snapshots) == 0 {
				fmt.Println(gray("no snapshots"))
				return nil
			}
			for _, snap := range snapshots {
				fmt.Printf("%d  %s  %d hosts  %s\n",
					snap.ID, bold(snap.Name), snap.HostCount,
					gray(snap.CreatedAt.Format("2006-01-02 15:04")))
			}
			return nil
		},
	}

	cmd.AddCommand(create, list)
	return cmd
}

func newSessionCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Inspect audit sessions",
	}

	show := &cobra.Command{
		Use:   "show <id>",
		Short: "Show one session with its queries and actions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			sess, err := a.store.GetSession(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Printf("%s  started %s  status %s\n",
				bold(sess.ID), sess.StartedAt.Format("2006-01-02 15:04:05"), sess.Status)

			queries, err := a.store.SessionQueries(ctx, sess.ID)
			if err != nil {
				return err
			}
			for _, q := range queries {
				fmt.Printf("  query: %s (%s, %d actions, %dms)\n",
					q.Query, q.ResponseType, q.ActionsCount, q.ExecutionTimeMS)
			}
			actions, err := a.store.SessionActions(ctx, sess.ID)
			if err != nil {
				return err
			}
			for _, act := range actions {
				marker := green("ok")
				if act.ExitCode != 0 {
					marker = red(fmt.Sprintf("exit %d", act.ExitCode))
				}
				fmt.Printf("  action [%s] %s: %s (%s)\n", marker, act.Target, act.Command, act.RiskLevel)
			}
			return nil
		},
	}

	stats := &cobra.Command{
		Use:   "stats",
		Short: "Show inventory statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.store.GetStats(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("hosts: %d\nrelations: %d (%d validated)\ncached scans: %d\n",
				s.TotalHosts, s.TotalRelations, s.ValidatedRelations, s.CachedScans)
			for env, n := range s.ByEnvironment {
				fmt.Printf("  %s: %d\n", env, n)
			}
			return nil
		},
	}

	cmd.AddCommand(show, stats)
	return cmd
}
