package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"handy/internal/config"
	"handy/internal/keywords"
	"handy/internal/store"
)

// env is what a command runs against.
type env struct {
	ctx        context.Context
	cfg        *config.Config
	configPath string
	store      *store.Store
	out        io.Writer
	in         io.Reader
	now        func() time.Time
}

func (e *env) limits() keywords.Limits { return e.cfg.Limits.KeywordLimits() }

func (e *env) clock() time.Time {
	if e.now != nil {
		return e.now()
	}
	return time.Now()
}

// usageError carries the argument synopsis of a misused command.
type usageError string

func (u usageError) Error() string { return "usage: " + string(u) }

type command struct {
	run func(e *env, args []string) error
}

var commands = map[string]command{
	"list":    {cmdList},
	"add":     {cmdAdd},
	"edit":    {cmdEdit},
	"delete":  {cmdDelete},
	"enable":  {func(e *env, _ []string) error { return setEnabled(e, true) }},
	"disable": {func(e *env, _ []string) error { return setEnabled(e, false) }},
	"import":  {cmdImport},
	"export":  {cmdExport},
	"status":  {cmdStatus},
	"migrate": {cmdMigrate},
	"init":    {cmdInit},
}

func cmdList(e *env, _ []string) error {
	data, err := e.store.Load(e.ctx)
	if err != nil {
		return err
	}
	if len(data.Replacements) == 0 {
		fmt.Fprintln(e.out, "No keywords defined.")
		return nil
	}
	width := 0
	keys := data.Replacements.Keywords()
	for _, k := range keys {
		if len(k) > width {
			width = len(k)
		}
	}
	for _, k := range keys {
		fmt.Fprintf(e.out, "%-*s  %s\n", width, k, preview(data.Replacements[k]))
	}
	if !data.Enabled {
		fmt.Fprintln(e.out, "\n(expansion is disabled)")
	}
	return nil
}

// preview flattens a snippet onto one line and shortens it.
func preview(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if r := []rune(s); len(r) > 60 {
		return string(r[:57]) + "..."
	}
	return s
}

func cmdAdd(e *env, args []string) error {
	if len(args) != 2 {
		return usageError("add <keyword> <replacement>")
	}
	err := e.store.UpdateReplacements(e.ctx, func(m keywords.Map) (keywords.Map, error) {
		return e.limits().Add(m, args[0], args[1])
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(e.out, "Added %q\n", args[0])
	return nil
}

func cmdEdit(e *env, args []string) error {
	if len(args) != 3 {
		return usageError("edit <keyword> <new-keyword> <replacement>")
	}
	err := e.store.UpdateReplacements(e.ctx, func(m keywords.Map) (keywords.Map, error) {
		return e.limits().Edit(m, args[0], args[1], args[2])
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(e.out, "Updated %q\n", args[1])
	return nil
}

func cmdDelete(e *env, args []string) error {
	if len(args) != 1 {
		return usageError("delete <keyword>")
	}
	err := e.store.UpdateReplacements(e.ctx, func(m keywords.Map) (keywords.Map, error) {
		return keywords.Delete(m, args[0])
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(e.out, "Deleted %q\n", args[0])
	return nil
}

func setEnabled(e *env, enabled bool) error {
	if err := e.store.SetEnabled(e.ctx, enabled); err != nil {
		return err
	}
	if enabled {
		fmt.Fprintln(e.out, "Expansion enabled")
	} else {
		fmt.Fprintln(e.out, "Expansion disabled")
	}
	return nil
}

func cmdImport(e *env, args []string) error {
	if len(args) != 1 {
		return usageError("import <file|->")
	}
	r := e.in
	if args[0] != "-" {
		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()
		r = f
	}

	var imported int
	err := e.store.UpdateReplacements(e.ctx, func(m keywords.Map) (keywords.Map, error) {
		merged, n, err := e.limits().Import(r, m)
		imported = n
		return merged, err
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(e.out, "Imported %d keywords\n", imported)
	return nil
}

func cmdExport(e *env, args []string) error {
	if len(args) > 1 {
		return usageError("export [file|-]")
	}
	data, err := e.store.Load(e.ctx)
	if err != nil {
		return err
	}

	path := keywords.ExportFileName(e.clock())
	if len(args) == 1 {
		path = args[0]
	}
	if path == "-" {
		return keywords.Export(e.out, data.Replacements)
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	if err := keywords.Export(f, data.Replacements); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	fmt.Fprintf(e.out, "Exported %d keywords to %s\n", len(data.Replacements), path)
	return nil
}

func cmdStatus(e *env, _ []string) error {
	if err := store.ValidateSchema(e.ctx, e.store.DB()); err != nil {
		return fmt.Errorf("%w (run \"handyctl migrate\")", err)
	}
	st, err := e.store.Status(e.ctx)
	if err != nil {
		return err
	}
	ms, err := store.GetMigrationStatus(e.ctx, e.store.DB())
	if err != nil {
		return err
	}

	fmt.Fprintln(e.out, "=== handy Status ===")
	fmt.Fprintln(e.out)
	fmt.Fprintf(e.out, "Database:       %s\n", st.Path)
	fmt.Fprintf(e.out, "Schema version: %d (latest %d)\n", ms.CurrentVersion, ms.LatestVersion)
	fmt.Fprintln(e.out, "Schema check:   ok")
	fmt.Fprintf(e.out, "Keywords:       %d\n", st.Keywords)
	if st.Enabled {
		fmt.Fprintln(e.out, "Expansion:      enabled")
	} else {
		fmt.Fprintln(e.out, "Expansion:      disabled")
	}
	fmt.Fprintf(e.out, "Revision:       %d\n", st.Revision)
	if !st.UpdatedAt.IsZero() {
		fmt.Fprintf(e.out, "Last change:    %s\n", st.UpdatedAt.Format(time.RFC3339))
	}
	return nil
}

func cmdMigrate(e *env, args []string) error {
	direction := "up"
	if len(args) > 0 {
		direction = args[0]
	}
	db := e.store.DB()
	switch {
	case len(args) > 1:
		return usageError("migrate [up|down]")
	case direction == "up":
		if err := store.MigrateDB(e.ctx, db); err != nil {
			return err
		}
	case direction == "down":
		if err := store.RollbackMigration(e.ctx, db); err != nil {
			return err
		}
	default:
		return usageError("migrate [up|down]")
	}

	ms, err := store.GetMigrationStatus(e.ctx, db)
	if err != nil {
		return err
	}
	fmt.Fprintf(e.out, "Schema version: %d (latest %d)\n", ms.CurrentVersion, ms.LatestVersion)
	for _, m := range ms.Pending {
		fmt.Fprintf(e.out, "Pending:        %d %s\n", m.Version, m.Description)
	}
	return nil
}

func cmdInit(e *env, _ []string) error {
	_, created, err := config.LoadOrCreate(e.configPath)
	if err != nil {
		return err
	}
	if created {
		fmt.Fprintf(e.out, "Wrote default configuration to %s\n", e.configPath)
	} else {
		fmt.Fprintf(e.out, "Configuration already exists at %s\n", e.configPath)
	}
	fmt.Fprintf(e.out, "Settings database: %s\n", e.cfg.Storage.Path)
	return nil
}
