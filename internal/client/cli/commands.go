package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dmitrijs2005/gardenkeeper/internal/client/models"
	"github.com/dmitrijs2005/gardenkeeper/internal/client/query"
	"github.com/dmitrijs2005/gardenkeeper/internal/client/services"
)

var errUsage = errors.New("wrong arguments")

// commands maps REPL command names to handlers.
func (a *App) commands() map[string]command {
	return map[string]command{
		"list":      {"list <type> [field=value ...]", a.List},
		"show":      {"show <type> <id>", a.Show},
		"add":       {"add <type>", a.Add},
		"edit":      {"edit <type> <id>", a.Edit},
		"delete":    {"delete <type> <id>", a.Delete},
		"search":    {"search <text>", a.Search},
		"stats":     {"stats", a.Stats},
		"settings":  {"settings", a.Settings},
		"set":       {"set [name=value ...]", a.Set},
		"history":   {"history <id> [limit]", a.History},
		"status":    {"status", a.Status},
		"sync":      {"sync", a.Sync},
		"conflicts": {"conflicts", a.Conflicts},
		"resolve":   {"resolve <conflict id> keep_local|keep_server|custom", a.Resolve},
		"backup":    {"backup [note]", a.Backup},
		"backups":   {"backups", a.Backups},
		"verify":    {"verify <backup id>", a.Verify},
		"restore":   {"restore <backup id> [dry-run] [clear]", a.Restore},
		"rmbackup":  {"rmbackup <backup id>", a.RemoveBackup},
		"export":    {"export <backup id> [s3]", a.Export},
		"import":    {"import <file> | import s3 <key>", a.Import},
	}
}

// parseType accepts a record kind in singular or collection form.
func parseType(s string) (models.EntityType, error) {
	s = strings.ToLower(s)
	if t := models.EntityType(s); t.Valid() {
		return t, nil
	}
	if t, ok := models.TypeOf(models.Collection(s)); ok {
		return t, nil
	}
	return "", fmt.Errorf("unknown record type %q (plant, event, post, settings)", s)
}

func usage(name string, cmds map[string]command) error {
	return fmt.Errorf("%w, usage: %s", errUsage, cmds[name].usage)
}

func (a *App) printJSON(v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(a.out, string(b))
	return err
}

func (a *App) table() *tabwriter.Writer {
	return tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
}

// label picks the human-readable columns of a record.
func label(t models.EntityType, d query.Doc) (string, string) {
	str := func(k string) string {
		if v, ok := d[k]; ok && v != nil {
			return fmt.Sprint(v)
		}
		return ""
	}
	switch t {
	case models.TypePlant:
		return str("name"), str("status")
	case models.TypeEvent:
		return str("title"), str("date")
	case models.TypePost:
		return str("title"), str("category")
	default:
		return str("theme"), ""
	}
}

func (a *App) List(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return usage("list", a.commands())
	}
	t, err := parseType(args[0])
	if err != nil {
		return err
	}

	filter := make(map[string]any)
	for _, arg := range args[1:] {
		name, value, err := ParseAssignment(arg)
		if err != nil {
			return err
		}
		filter[name] = value
	}

	res, err := a.data.Query(ctx, t, query.Query{
		Filter: filter,
		Sort:   []query.SortKey{{Field: "updatedAt", Desc: true}},
	})
	if err != nil {
		return err
	}

	tw := a.table()
	fmt.Fprintln(tw, "ID\tNAME\tDETAIL")
	for _, d := range res.Data {
		name, detail := label(t, d)
		fmt.Fprintf(tw, "%v\t%s\t%s\n", d["id"], name, detail)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "%d record(s)\n", res.TotalCount)
	return nil
}

func (a *App) Show(ctx context.Context, args []string) error {
	if len(args) != 2 {
		return usage("show", a.commands())
	}
	t, err := parseType(args[0])
	if err != nil {
		return err
	}
	e, err := a.data.Get(ctx, t, args[1])
	if err != nil {
		return err
	}
	return a.printJSON(e)
}

func (a *App) Add(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return usage("add", a.commands())
	}
	t, err := parseType(args[0])
	if err != nil {
		return err
	}
	fields, err := GetFields(a.reader, a.out)
	if err != nil {
		return err
	}
	e, err := a.data.Create(ctx, t, fields)
	if err != nil {
		return err
	}
	fmt.Fprintln(a.out, "created", e.GetBase().ID)
	return nil
}

func (a *App) Edit(ctx context.Context, args []string) error {
	if len(args) != 2 {
		return usage("edit", a.commands())
	}
	t, err := parseType(args[0])
	if err != nil {
		return err
	}
	patch, err := GetFields(a.reader, a.out)
	if err != nil {
		return err
	}
	if len(patch) == 0 {
		fmt.Fprintln(a.out, "nothing to change")
		return nil
	}
	if _, err := a.data.Update(ctx, t, args[1], patch); err != nil {
		return err
	}
	fmt.Fprintln(a.out, "updated", args[1])
	return nil
}

func (a *App) Delete(ctx context.Context, args []string) error {
	if len(args) != 2 {
		return usage("delete", a.commands())
	}
	t, err := parseType(args[0])
	if err != nil {
		return err
	}
	if err := a.data.Delete(ctx, t, args[1]); err != nil {
		return err
	}
	fmt.Fprintln(a.out, "deleted", args[1])
	return nil
}

func (a *App) Search(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return usage("search", a.commands())
	}
	hits, err := a.data.Search(ctx, strings.Join(args, " "), services.SearchOptions{Limit: 50})
	if err != nil {
		return err
	}

	tw := a.table()
	fmt.Fprintln(tw, "TYPE\tID\tNAME")
	for _, h := range hits {
		name, _ := label(h.Type, h.Record)
		fmt.Fprintf(tw, "%s\t%s\t%s\n", h.Type, h.ID, name)
	}
	return tw.Flush()
}

func (a *App) Stats(ctx context.Context, _ []string) error {
	s, err := a.data.GetAnalytics(ctx)
	if err != nil {
		return err
	}
	return a.printJSON(s)
}

func (a *App) Settings(ctx context.Context, _ []string) error {
	s, err := a.data.GetSettings(ctx)
	if err != nil {
		return err
	}
	return a.printJSON(s)
}

func (a *App) Set(ctx context.Context, args []string) error {
	patch := make(map[string]any)
	for _, arg := range args {
		name, value, err := ParseAssignment(arg)
		if err != nil {
			return err
		}
		patch[name] = value
	}
	if len(patch) == 0 {
		var err error
		if patch, err = GetFields(a.reader, a.out); err != nil {
			return err
		}
	}
	s, err := a.data.UpdateSettings(ctx, patch)
	if err != nil {
		return err
	}
	return a.printJSON(s)
}

func (a *App) History(ctx context.Context, args []string) error {
	if len(args) == 0 || len(args) > 2 {
		return usage("history", a.commands())
	}
	limit := 20
	if len(args) == 2 {
		n, err := strconv.Atoi(args[1])
		if err != nil || n <= 0 {
			return usage("history", a.commands())
		}
		limit = n
	}

	entries, err := a.data.AuditLog(ctx, args[0], limit)
	if err != nil {
		return err
	}
	tw := a.table()
	fmt.Fprintln(tw, "TIME\tOPERATION\tCOLLECTION")
	for _, e := range entries {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", e.Timestamp.Local().Format(time.DateTime), e.Operation, e.Collection)
	}
	return tw.Flush()
}

func (a *App) Status(ctx context.Context, _ []string) error {
	s, err := a.sync.GetQueueStatus(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "client:    %s\n", a.sync.ClientID())
	fmt.Fprintf(a.out, "mode:      %s\n", a.mode())
	fmt.Fprintf(a.out, "pending:   %d\n", s.Pending)
	fmt.Fprintf(a.out, "conflicts: %d\n", s.Conflicts)
	fmt.Fprintf(a.out, "evicted:   %d\n", s.Evicted)
	if s.LastSync != nil {
		fmt.Fprintf(a.out, "last sync: %s\n", s.LastSync.Local().Format(time.DateTime))
	}
	return nil
}

func (a *App) Sync(ctx context.Context, _ []string) error {
	r, err := a.sync.ForceSyncNow(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "attempted %d, delivered %d, resolved %d, conflicts %d, failed %d\n",
		r.Attempted, r.Delivered, r.Resolved, r.Conflicts, r.Failed)
	return nil
}

func (a *App) Conflicts(ctx context.Context, _ []string) error {
	list, err := a.sync.GetConflicts(ctx)
	if err != nil {
		return err
	}
	tw := a.table()
	fmt.Fprintln(tw, "ID\tKIND\tRECORD\tOPERATION\tAT")
	for _, c := range list {
		fmt.Fprintf(tw, "%s\t%s\t%s/%s\t%s\t%s\n", c.ID, c.ConflictType,
			c.LocalItem.EntityType, c.LocalItem.EntityID, c.LocalItem.Operation, c.Timestamp.Local().Format(time.DateTime))
	}
	return tw.Flush()
}

func (a *App) Resolve(ctx context.Context, args []string) error {
	if len(args) != 2 {
		return usage("resolve", a.commands())
	}
	res := services.Resolution{Strategy: services.Strategy(args[1])}
	if res.Strategy == services.ResolveCustom {
		text, err := GetMultiline(a.reader, "Enter the record to keep as JSON:", a.out)
		if err != nil {
			return err
		}
		if !json.Valid([]byte(text)) {
			return errors.New("not valid JSON")
		}
		res.Data = json.RawMessage(text)
	}
	if err := a.sync.ResolveConflict(ctx, args[0], res); err != nil {
		return err
	}
	fmt.Fprintln(a.out, "resolved", args[0])
	return nil
}

func (a *App) Backup(ctx context.Context, args []string) error {
	b, err := a.backups.CreateBackup(ctx, services.BackupOptions{
		Type: models.BackupManual,
		Note: strings.Join(args, " "),
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "backup %s created (%d bytes)\n", b.ID, b.Size)
	return nil
}

func (a *App) Backups(ctx context.Context, _ []string) error {
	list, err := a.backups.ListBackups(ctx)
	if err != nil {
		return err
	}
	tw := a.table()
	fmt.Fprintln(tw, "ID\tCREATED\tTYPE\tSIZE\tNOTE")
	for _, b := range list {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n", b.ID, b.CreatedAt.Local().Format(time.DateTime), b.Type, b.Size, b.Note)
	}
	return tw.Flush()
}

func (a *App) Verify(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return usage("verify", a.commands())
	}
	ok, err := a.backups.VerifyBackup(ctx, args[0])
	if err != nil {
		return err
	}
	if ok {
		fmt.Fprintln(a.out, "backup", args[0], "is intact")
	} else {
		fmt.Fprintln(a.out, "backup", args[0], "is CORRUPTED")
	}
	return nil
}

func (a *App) Restore(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return usage("restore", a.commands())
	}
	var opts services.RestoreOptions
	for _, arg := range args[1:] {
		switch arg {
		case "dry-run":
			opts.DryRun = true
		case "clear":
			opts.ClearExisting = true
		default:
			return usage("restore", a.commands())
		}
	}

	res, err := a.backups.RestoreFromBackup(ctx, args[0], opts)
	if err != nil {
		return err
	}
	return a.printJSON(res)
}

func (a *App) RemoveBackup(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return usage("rmbackup", a.commands())
	}
	if err := a.backups.DeleteBackup(ctx, args[0]); err != nil {
		return err
	}
	fmt.Fprintln(a.out, "deleted backup", args[0])
	return nil
}

func (a *App) Export(ctx context.Context, args []string) error {
	switch {
	case len(args) == 1:
		path, err := a.backups.ExportToFile(ctx, args[0], a.config.ExportDir)
		if err != nil {
			return err
		}
		fmt.Fprintln(a.out, "exported to", path)
	case len(args) == 2 && args[1] == "s3":
		key, err := a.backups.ExportToObjectStore(ctx, args[0])
		if err != nil {
			return err
		}
		fmt.Fprintln(a.out, "uploaded as", key)
	default:
		return usage("export", a.commands())
	}
	return nil
}

func (a *App) Import(ctx context.Context, args []string) error {
	var (
		b   *models.Backup
		err error
	)
	switch {
	case len(args) == 1:
		f, ferr := os.Open(args[0])
		if ferr != nil {
			return ferr
		}
		defer f.Close()
		b, err = a.backups.ImportBackup(ctx, f)
	case len(args) == 2 && args[0] == "s3":
		b, err = a.backups.ImportFromObjectStore(ctx, args[1])
	default:
		return usage("import", a.commands())
	}
	if err != nil {
		return err
	}
	fmt.Fprintln(a.out, "imported backup", b.ID)
	return nil
}
