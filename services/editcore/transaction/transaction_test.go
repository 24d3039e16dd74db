// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package transaction

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/AleutianAI/editcore/services/editcore/backup"
	"github.com/AleutianAI/editcore/services/editcore/document"
	"github.com/AleutianAI/editcore/services/editcore/journal"
	"github.com/AleutianAI/editcore/services/editcore/operation"
	"github.com/AleutianAI/editcore/services/editcore/storage"
)

const root = "/ws"

// testEnv bundles a manager over faulty in-memory storage.
type testEnv struct {
	mem    *storage.Memory
	faulty *storage.Faulty
	mgr    *Manager
}

func newTestEnv(t *testing.T, cfg Config, deps Deps, files map[string]string) *testEnv {
	t.Helper()

	mem := storage.NewMemory()
	for p, c := range files {
		if err := mem.Write(p, c); err != nil {
			t.Fatalf("seeding %s: %v", p, err)
		}
	}
	faulty := storage.NewFaulty(mem)

	cfg.Root = root
	cfg.MetricsEnabled = false
	deps.Storage = faulty

	mgr, err := NewManager(cfg, deps)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	return &testEnv{mem: mem, faulty: faulty, mgr: mgr}
}

func (e *testEnv) content(t *testing.T, path string) (string, bool) {
	t.Helper()
	c, err := e.mem.Read(path)
	if storage.IsNotFound(err) {
		return "", false
	}
	if err != nil {
		t.Fatalf("reading %s: %v", path, err)
	}
	return c, true
}

func mustOp(t *testing.T) func(operation.Operation, error) operation.Operation {
	return func(op operation.Operation, err error) operation.Operation {
		t.Helper()
		if err != nil {
			t.Fatalf("building operation: %v", err)
		}
		return op
	}
}

func backupOf(t *testing.T, st storage.Storage, path string) backup.Backup {
	t.Helper()
	b, _, err := backup.NewStore(st, nil).Snapshot(path)
	if err != nil {
		t.Fatalf("snapshot %s: %v", path, err)
	}
	return b
}

// rejectValidator reports a syntax error on the first line containing marker.
type rejectValidator struct {
	marker string
}

func (v rejectValidator) Validate(_ context.Context, path, content string) error {
	for i, line := range strings.Split(content, "\n") {
		if strings.Contains(line, v.marker) {
			return &document.ValidationError{Path: path, Line: i + 1, Snippet: line}
		}
	}
	return nil
}

func TestNewManager_RequiresStorage(t *testing.T) {
	_, err := NewManager(DefaultConfig(), Deps{})
	if !errors.Is(err, ErrNoStorage) {
		t.Fatalf("expected ErrNoStorage, got %v", err)
	}
}

func TestBegin_WhileOpen(t *testing.T) {
	env := newTestEnv(t, DefaultConfig(), Deps{}, nil)
	ctx := context.Background()

	tx, err := env.mgr.Begin(ctx)
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if tx.ID == "" {
		t.Error("expected transaction ID")
	}
	if tx.Status() != StatusOpen {
		t.Errorf("expected open, got %s", tx.Status())
	}

	_, err = env.mgr.Begin(ctx)
	if !errors.Is(err, ErrTransactionActive) {
		t.Fatalf("expected ErrTransactionActive, got %v", err)
	}
	if !IsStateError(err) {
		t.Error("expected a state error")
	}
	if env.mgr.Active() != tx {
		t.Error("the first transaction should still be active")
	}
}

func TestAdd_RenameWithoutNewPath(t *testing.T) {
	env := newTestEnv(t, DefaultConfig(), Deps{}, map[string]string{"/ws/a.txt": "a\n"})
	tx, _ := env.mgr.Begin(context.Background())

	err := tx.Add(operation.Operation{Kind: operation.KindRename, Path: "a.txt"})
	if !errors.Is(err, operation.ErrMalformed) {
		t.Fatalf("expected ErrMalformed, got %v", err)
	}
	var me *operation.MalformedError
	if !errors.As(err, &me) || me.Field != "new_path" {
		t.Errorf("expected new_path field error, got %v", err)
	}
	if n := len(tx.Backups()); n != 0 {
		t.Errorf("expected no backups, got %d", n)
	}
	if tx.Len() != 0 {
		t.Errorf("expected nothing queued, got %d", tx.Len())
	}
	for _, call := range env.faulty.Calls() {
		t.Errorf("unexpected storage call %q", call)
	}
}

func TestAdd_Rejections(t *testing.T) {
	env := newTestEnv(t, DefaultConfig(), Deps{}, nil)
	tx, _ := env.mgr.Begin(context.Background())

	tests := []struct {
		name string
		op   operation.Operation
	}{
		{"unknown kind", operation.Operation{Kind: "copy", Path: "a"}},
		{"missing path", operation.Operation{Kind: operation.KindDelete}},
		{"modify without source", operation.Operation{Kind: operation.KindModify, Path: "a"}},
		{"escapes root", operation.Operation{Kind: operation.KindDelete, Path: "../etc/passwd"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tx.Add(tt.op); !errors.Is(err, operation.ErrMalformed) {
				t.Errorf("expected ErrMalformed, got %v", err)
			}
		})
	}
	if tx.Len() != 0 {
		t.Errorf("expected nothing queued, got %d", tx.Len())
	}
}

func TestAdd_Snapshots(t *testing.T) {
	files := map[string]string{
		"/ws/mod.txt": "m\n",
		"/ws/del.txt": "d\n",
		"/ws/old.txt": "o\n",
		"/ws/new.txt": "n\n",
	}
	must := mustOp(t)

	t.Run("per kind", func(t *testing.T) {
		env := newTestEnv(t, DefaultConfig(), Deps{}, files)
		tx, _ := env.mgr.Begin(context.Background())

		ops := []operation.Operation{
			must(operation.Create("created.txt", "c\n")),
			must(operation.Modify("mod.txt", operation.FullContent("M\n"))),
			must(operation.Delete("del.txt")),
			must(operation.Rename("old.txt", "new.txt")),
		}
		if n, err := tx.AddAll(ops); err != nil || n != 4 {
			t.Fatalf("AddAll = %d, %v", n, err)
		}

		if _, ok := tx.Backup("/ws/created.txt"); ok {
			t.Error("create should not snapshot by default")
		}
		for _, p := range []string{"/ws/mod.txt", "/ws/del.txt", "/ws/old.txt", "/ws/new.txt"} {
			b, ok := tx.Backup(p)
			if !ok {
				t.Errorf("expected backup for %s", p)
				continue
			}
			if !b.Existed || b.Content != files[p] {
				t.Errorf("backup %s = %+v", p, b)
			}
		}
		if got := tx.Operations()[0].Path; got != "/ws/created.txt" {
			t.Errorf("expected normalized path, got %s", got)
		}
	})

	t.Run("create with SnapshotOnCreate", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.SnapshotOnCreate = true
		env := newTestEnv(t, cfg, Deps{}, files)
		tx, _ := env.mgr.Begin(context.Background())

		if err := tx.Add(must(operation.Create("mod.txt", "x\n"))); err != nil {
			t.Fatalf("Add: %v", err)
		}
		b, ok := tx.Backup("/ws/mod.txt")
		if !ok || !b.Existed || b.Content != "m\n" {
			t.Errorf("expected existing backup, got %+v %v", b, ok)
		}
	})

	t.Run("first reference wins", func(t *testing.T) {
		env := newTestEnv(t, DefaultConfig(), Deps{}, files)
		tx, _ := env.mgr.Begin(context.Background())

		if err := tx.Add(must(operation.Modify("mod.txt", operation.FullContent("1\n")))); err != nil {
			t.Fatal(err)
		}
		_ = env.mem.Write("/ws/mod.txt", "changed outside\n")
		if err := tx.Add(must(operation.Delete("mod.txt"))); err != nil {
			t.Fatal(err)
		}
		b, _ := tx.Backup("/ws/mod.txt")
		if b.Content != "m\n" {
			t.Errorf("expected first snapshot, got %q", b.Content)
		}
		if len(tx.Backups()) != 1 {
			t.Errorf("expected one backup, got %d", len(tx.Backups()))
		}
	})

	t.Run("snapshot read failure", func(t *testing.T) {
		env := newTestEnv(t, DefaultConfig(), Deps{}, files)
		env.faulty.FailOn("read", "/ws/mod.txt", nil)
		tx, _ := env.mgr.Begin(context.Background())

		err := tx.Add(must(operation.Delete("mod.txt")))
		if !errors.Is(err, storage.ErrInjected) {
			t.Fatalf("expected injected error, got %v", err)
		}
		if tx.Len() != 0 || len(tx.Backups()) != 0 {
			t.Error("rejected operation must not be queued or backed up")
		}
	})
}

// Create a.txt, Modify b.txt (write fails), Delete c.txt.
func TestCommit_FailureAtSecondOperation(t *testing.T) {
	env := newTestEnv(t, DefaultConfig(), Deps{}, map[string]string{
		"/ws/b.txt": "one\ntwo\nthree\n",
		"/ws/c.txt": "keep\n",
	})
	env.faulty.FailOn("write", "/ws/b.txt", nil)
	ctx := context.Background()
	must := mustOp(t)

	tx, _ := env.mgr.Begin(ctx)
	_, err := tx.AddAll([]operation.Operation{
		must(operation.Create("a.txt", "hi")),
		must(operation.Modify("b.txt", operation.PatchText("@@ -2,1 +2,1 @@\n-two\n+TWO\n"))),
		must(operation.Delete("c.txt")),
	})
	if err != nil {
		t.Fatalf("AddAll: %v", err)
	}

	result, err := tx.Commit(ctx)
	if result != nil {
		t.Errorf("expected no result, got %+v", result)
	}
	var ce *CommitError
	if !errors.As(err, &ce) {
		t.Fatalf("expected *CommitError, got %v", err)
	}
	if ce.Index != 2 || ce.Path != "/ws/b.txt" || ce.Kind != operation.KindModify {
		t.Errorf("failure = index %d path %s kind %s", ce.Index, ce.Path, ce.Kind)
	}
	if !errors.Is(err, storage.ErrInjected) {
		t.Errorf("expected the write failure to unwrap, got %v", err)
	}
	if !ce.RollbackComplete() {
		t.Errorf("expected complete rollback, got %+v", ce.Restores)
	}
	if len(ce.Restores) != 1 || ce.Restores[0].Path != "/ws/a.txt" {
		t.Errorf("expected a.txt restore only, got %+v", ce.Restores)
	}

	if _, ok := env.content(t, "/ws/a.txt"); ok {
		t.Error("a.txt should have been removed by rollback")
	}
	if c, _ := env.content(t, "/ws/b.txt"); c != "one\ntwo\nthree\n" {
		t.Errorf("b.txt changed: %q", c)
	}
	if c, ok := env.content(t, "/ws/c.txt"); !ok || c != "keep\n" {
		t.Errorf("c.txt should be untouched, got %q %v", c, ok)
	}
	for _, call := range env.faulty.Calls() {
		if call == "delete /ws/c.txt" {
			t.Error("delete of c.txt should never run")
		}
	}

	if env.mgr.IsActive() {
		t.Error("manager should be idle after a failed commit")
	}
	if tx.Status() != StatusFailed {
		t.Errorf("expected failed, got %s", tx.Status())
	}
	if !strings.Contains(err.Error(), "operation 2") {
		t.Errorf("error should name the failing index: %v", err)
	}
}

func TestCommit_RestoresEarlierOperations(t *testing.T) {
	files := map[string]string{
		"/ws/x.txt":     "x1\nx2\n",
		"/ws/y.txt":     "y\n",
		"/ws/z.txt":     "z\n",
		"/ws/dir/w.txt": "w\n",
	}
	env := newTestEnv(t, DefaultConfig(), Deps{}, files)
	ctx := context.Background()
	must := mustOp(t)

	upper := operation.Transform(func(old string) (string, error) {
		return strings.ToUpper(old), nil
	})

	tx, _ := env.mgr.Begin(ctx)
	_, err := tx.AddAll([]operation.Operation{
		must(operation.Modify("x.txt", operation.PatchText("@@ -1,1 +1,1 @@\n-x1\n+X1\n"))),
		must(operation.Delete("y.txt")),
		must(operation.Rename("z.txt", "renamed/z.txt")),
		must(operation.Create("v.txt", "v\n")),
		must(operation.Modify("dir/w.txt", upper)),
		must(operation.Modify("x.txt", operation.FullContent("again\n"))),
		must(operation.Modify("missing.txt", operation.PatchText("@@ -1,1 +1,1 @@\n-a\n+b\n"))),
	})
	if err != nil {
		t.Fatalf("AddAll: %v", err)
	}

	_, err = tx.Commit(ctx)
	var ce *CommitError
	if !errors.As(err, &ce) {
		t.Fatalf("expected *CommitError, got %v", err)
	}
	if ce.Index != 7 {
		t.Errorf("expected failure at 7, got %d", ce.Index)
	}
	if !storage.IsNotFound(ce.Err) {
		t.Errorf("expected not found, got %v", ce.Err)
	}

	for p, want := range files {
		if got, ok := env.content(t, p); !ok || got != want {
			t.Errorf("%s = %q (exists %v), want %q", p, got, ok, want)
		}
	}
	for _, p := range []string{"/ws/v.txt", "/ws/renamed/z.txt"} {
		if _, ok := env.content(t, p); ok {
			t.Errorf("%s should not exist", p)
		}
	}

	// Reverse order: x (second modify), w, v, renamed/z, z, y. x is seen once.
	var order []string
	for _, r := range ce.Restores {
		order = append(order, r.Path)
	}
	want := []string{"/ws/x.txt", "/ws/dir/w.txt", "/ws/v.txt", "/ws/renamed/z.txt", "/ws/z.txt", "/ws/y.txt"}
	if fmt.Sprint(order) != fmt.Sprint(want) {
		t.Errorf("restore order = %v, want %v", order, want)
	}
}

func TestCommit_IncompleteRollback(t *testing.T) {
	env := newTestEnv(t, DefaultConfig(), Deps{}, map[string]string{"/ws/b.txt": "b\n"})
	env.faulty.FailOn("write", "/ws/b.txt", nil)
	env.faulty.FailOn("delete", "/ws/a.txt", errors.New("disk gone"))
	ctx := context.Background()
	must := mustOp(t)

	tx, _ := env.mgr.Begin(ctx)
	_, _ = tx.AddAll([]operation.Operation{
		must(operation.Create("a.txt", "a\n")),
		must(operation.Modify("b.txt", operation.FullContent("B\n"))),
	})

	_, err := tx.Commit(ctx)
	var ce *CommitError
	if !errors.As(err, &ce) {
		t.Fatalf("expected *CommitError, got %v", err)
	}
	if ce.RollbackComplete() {
		t.Fatal("expected incomplete rollback")
	}
	failed := ce.FailedRestores()
	if len(failed) != 1 || failed[0].Path != "/ws/a.txt" || failed[0].Err == nil {
		t.Errorf("failed restores = %+v", failed)
	}
	if !strings.Contains(err.Error(), "not restored: /ws/a.txt") {
		t.Errorf("error should list unrestored paths: %v", err)
	}
	if env.mgr.IsActive() {
		t.Error("manager should be idle even when rollback is incomplete")
	}
}

func TestCommit_Success(t *testing.T) {
	env := newTestEnv(t, DefaultConfig(), Deps{}, map[string]string{
		"/ws/b.txt": "one\ntwo\nthree\n",
		"/ws/c.txt": "gone\n",
	})
	ctx := context.Background()
	must := mustOp(t)

	tx, _ := env.mgr.Begin(ctx)
	_, err := tx.AddAll([]operation.Operation{
		must(operation.Create("sub/a.txt", "hi\n")),
		must(operation.Modify("b.txt", operation.PatchText("@@ -2,1 +2,1 @@\n-two\n+TWO\n"))),
		must(operation.Modify("b.txt", operation.PatchText("@@ -3,1 +3,2 @@\n-three\n+three\n+four\n"))),
		must(operation.Delete("c.txt")),
		must(operation.Rename("sub/a.txt", "a.txt")),
	})
	if err != nil {
		t.Fatalf("AddAll: %v", err)
	}

	result, err := tx.Commit(ctx)
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if result.TxID != tx.ID || result.Applied != 5 {
		t.Errorf("result = %+v", result)
	}
	want := []string{"/ws/sub/a.txt", "/ws/b.txt", "/ws/c.txt", "/ws/a.txt"}
	if fmt.Sprint(result.Paths) != fmt.Sprint(want) {
		t.Errorf("paths = %v, want %v", result.Paths, want)
	}

	if c, _ := env.content(t, "/ws/b.txt"); c != "one\nTWO\nthree\nfour\n" {
		t.Errorf("b.txt = %q", c)
	}
	if c, _ := env.content(t, "/ws/a.txt"); c != "hi\n" {
		t.Errorf("a.txt = %q", c)
	}
	for _, p := range []string{"/ws/c.txt", "/ws/sub/a.txt"} {
		if _, ok := env.content(t, p); ok {
			t.Errorf("%s should not exist", p)
		}
	}
	if tx.Status() != StatusCommitted || env.mgr.IsActive() {
		t.Error("expected committed and idle")
	}
}

func TestCommit_ModifyMissingWithFullContentCreates(t *testing.T) {
	env := newTestEnv(t, DefaultConfig(), Deps{}, nil)
	ctx := context.Background()

	tx, _ := env.mgr.Begin(ctx)
	if err := tx.Add(mustOp(t)(operation.Modify("new.txt", operation.FullContent("n\n")))); err != nil {
		t.Fatal(err)
	}
	if _, err := tx.Commit(ctx); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if c, _ := env.content(t, "/ws/new.txt"); c != "n\n" {
		t.Errorf("new.txt = %q", c)
	}
}

func TestClosedHandle(t *testing.T) {
	ctx := context.Background()
	must := mustOp(t)

	terminate := map[string]func(*Transaction) error{
		"commit": func(tx *Transaction) error { _, err := tx.Commit(ctx); return err },
		"abort":  func(tx *Transaction) error { return tx.Abort(ctx) },
	}
	for name, end := range terminate {
		t.Run(name, func(t *testing.T) {
			env := newTestEnv(t, DefaultConfig(), Deps{}, nil)
			tx, _ := env.mgr.Begin(ctx)
			if err := end(tx); err != nil {
				t.Fatalf("%s: %v", name, err)
			}

			if err := tx.Add(must(operation.Create("a", "a"))); !errors.Is(err, ErrTransactionClosed) {
				t.Errorf("Add: expected ErrTransactionClosed, got %v", err)
			}
			if _, err := tx.Commit(ctx); !errors.Is(err, ErrTransactionClosed) {
				t.Errorf("Commit: expected ErrTransactionClosed, got %v", err)
			}
			if err := tx.Abort(ctx); !errors.Is(err, ErrInvalidState) {
				t.Errorf("Abort: expected ErrInvalidState, got %v", err)
			}
			if _, err := tx.Preview(ctx); !errors.Is(err, ErrTransactionClosed) {
				t.Errorf("Preview: expected ErrTransactionClosed, got %v", err)
			}

			next, err := env.mgr.Begin(ctx)
			if err != nil {
				t.Fatalf("Begin after %s: %v", name, err)
			}
			if next.ID == tx.ID {
				t.Error("expected a fresh transaction ID")
			}
		})
	}
}

func TestAbort(t *testing.T) {
	env := newTestEnv(t, DefaultConfig(), Deps{}, map[string]string{"/ws/a.txt": "a\n"})
	ctx := context.Background()
	must := mustOp(t)

	tx, _ := env.mgr.Begin(ctx)
	_, _ = tx.AddAll([]operation.Operation{
		must(operation.Modify("a.txt", operation.FullContent("A\n"))),
		must(operation.Create("b.txt", "b\n")),
	})
	before := len(env.faulty.Calls())

	if err := tx.Abort(ctx); err != nil {
		t.Fatalf("Abort: %v", err)
	}
	if calls := env.faulty.Calls(); len(calls) != before {
		t.Errorf("abort touched storage: %v", calls[before:])
	}
	if c, _ := env.content(t, "/ws/a.txt"); c != "a\n" {
		t.Errorf("a.txt = %q", c)
	}
	if tx.Len() != 0 || len(tx.Backups()) != 0 {
		t.Error("abort should clear operations and backups")
	}
	if tx.Status() != StatusAborted || env.mgr.IsActive() {
		t.Error("expected aborted and idle")
	}
}

func TestPreview(t *testing.T) {
	env := newTestEnv(t, DefaultConfig(), Deps{}, map[string]string{
		"/ws/b.txt": "one\ntwo\n",
		"/ws/c.txt": "c\n",
	})
	ctx := context.Background()
	must := mustOp(t)

	tx, _ := env.mgr.Begin(ctx)
	_, _ = tx.AddAll([]operation.Operation{
		must(operation.Create("a.txt", "hi\n")),
		must(operation.Modify("b.txt", operation.PatchText("@@ -2,1 +2,1 @@\n-two\n+TWO\n"))),
		must(operation.Delete("c.txt")),
		must(operation.Rename("a.txt", "d.txt")),
		must(operation.Modify("d.txt", operation.FullContent("hello\n"))),
		must(operation.Modify("nope.txt", operation.PatchText("@@ -1,1 +1,1 @@\n-a\n+b\n"))),
	})
	before := len(env.faulty.Calls())

	changes, err := tx.Preview(ctx)
	if err != nil {
		t.Fatalf("Preview: %v", err)
	}
	if len(changes) != 6 {
		t.Fatalf("expected 6 changes, got %d", len(changes))
	}

	if c := changes[0]; c.Added != 1 || c.Removed != 0 || !strings.Contains(c.Diff, "+hi") {
		t.Errorf("create change = %+v", c)
	}
	if c := changes[1]; c.Added != 1 || c.Removed != 1 || !strings.Contains(c.Diff, "-two") || !strings.Contains(c.Diff, "+TWO") {
		t.Errorf("modify change = %+v", c)
	}
	if c := changes[2]; c.Removed != 1 || !strings.Contains(c.Diff, "-c") {
		t.Errorf("delete change = %+v", c)
	}
	if c := changes[3]; c.Diff != "" || c.Err != nil {
		t.Errorf("rename change = %+v", c)
	}
	// d.txt holds a.txt's previewed content after the rename.
	if c := changes[4]; !strings.Contains(c.Diff, "-hi") || !strings.Contains(c.Diff, "+hello") {
		t.Errorf("modify after rename = %+v", c)
	}
	if c := changes[5]; !storage.IsNotFound(c.Err) {
		t.Errorf("expected not found for missing patch target, got %v", c.Err)
	}

	for _, call := range env.faulty.Calls()[before:] {
		if !strings.HasPrefix(call, "read ") {
			t.Errorf("preview made a non-read call %q", call)
		}
	}
	if tx.Status() != StatusOpen {
		t.Error("preview must leave the transaction open")
	}
}

func TestValidateEdits(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ValidateEdits = true
	env := newTestEnv(t, cfg, Deps{Validator: rejectValidator{marker: "BROKEN"}}, nil)
	ctx := context.Background()
	must := mustOp(t)

	tx, _ := env.mgr.Begin(ctx)
	_, _ = tx.AddAll([]operation.Operation{
		must(operation.Create("ok.go", "package ok\n")),
		must(operation.Create("bad.go", "package bad\nBROKEN\n")),
	})

	_, err := tx.Commit(ctx)
	var ve *document.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if ve.Line != 2 || ve.Snippet != "BROKEN" {
		t.Errorf("validation error = %+v", ve)
	}
	for _, p := range []string{"/ws/ok.go", "/ws/bad.go"} {
		if _, ok := env.content(t, p); ok {
			t.Errorf("%s should not exist", p)
		}
	}
}

func TestOpenDocumentSync(t *testing.T) {
	ctx := context.Background()
	must := mustOp(t)

	buffers := document.NewBuffers()
	doc := buffers.Open("/ws/main.txt", "old\n")
	applier := document.NewApplier(buffers, document.ApplierConfig{
		Validator: rejectValidator{marker: "BROKEN"},
	})

	cfg := DefaultConfig()
	cfg.ValidateEdits = true
	env := newTestEnv(t, cfg, Deps{Applier: applier}, map[string]string{"/ws/main.txt": "old\n"})

	t.Run("modify updates the open document", func(t *testing.T) {
		tx, _ := env.mgr.Begin(ctx)
		_ = tx.Add(must(operation.Modify("main.txt", operation.FullContent("new\n"))))
		if _, err := tx.Commit(ctx); err != nil {
			t.Fatalf("Commit: %v", err)
		}
		if text, _ := document.Text(buffers, doc); text != "new\n" {
			t.Errorf("document = %q", text)
		}
		if c, _ := env.content(t, "/ws/main.txt"); c != "new\n" {
			t.Errorf("file = %q", c)
		}
	})

	t.Run("invalid content reverts the document and rolls back", func(t *testing.T) {
		tx, _ := env.mgr.Begin(ctx)
		_, _ = tx.AddAll([]operation.Operation{
			must(operation.Create("side.txt", "s\n")),
			must(operation.Modify("main.txt", operation.FullContent("BROKEN\n"))),
		})
		_, err := tx.Commit(ctx)
		if !document.IsValidationError(err) {
			t.Fatalf("expected validation error, got %v", err)
		}
		if text, _ := document.Text(buffers, doc); text != "new\n" {
			t.Errorf("document = %q", text)
		}
		if c, _ := env.content(t, "/ws/main.txt"); c != "new\n" {
			t.Errorf("file = %q", c)
		}
		if _, ok := env.content(t, "/ws/side.txt"); ok {
			t.Error("side.txt should be rolled back")
		}
	})

	t.Run("later failure re-syncs the document", func(t *testing.T) {
		env.faulty.FailOn("delete", "/ws/locked.txt", nil)
		defer env.faulty.Clear()
		_ = env.mem.Write("/ws/locked.txt", "l\n")

		tx, _ := env.mgr.Begin(ctx)
		_, _ = tx.AddAll([]operation.Operation{
			must(operation.Modify("main.txt", operation.FullContent("newer\n"))),
			must(operation.Delete("locked.txt")),
		})
		if _, err := tx.Commit(ctx); err == nil {
			t.Fatal("expected commit failure")
		}
		if text, _ := document.Text(buffers, doc); text != "new\n" {
			t.Errorf("document = %q, want re-synced content", text)
		}
		if c, _ := env.content(t, "/ws/main.txt"); c != "new\n" {
			t.Errorf("file = %q", c)
		}
	})
}

func TestRenameRebindsOpenDocument(t *testing.T) {
	ctx := context.Background()
	must := mustOp(t)

	buffers := document.NewBuffers()
	doc := buffers.Open("/ws/old.go", "package a\n")
	applier := document.NewApplier(buffers, document.ApplierConfig{})
	env := newTestEnv(t, DefaultConfig(), Deps{Applier: applier}, map[string]string{
		"/ws/old.go": "package a\n",
		"/ws/x.txt":  "x\n",
	})

	tx, _ := env.mgr.Begin(ctx)
	_ = tx.Add(must(operation.Rename("old.go", "pkg/new.go")))
	if _, err := tx.Commit(ctx); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if name, _ := buffers.Name(doc); name != "/ws/pkg/new.go" {
		t.Errorf("document bound to %s", name)
	}

	env.faulty.FailOn("write", "/ws/x.txt", nil)
	tx, _ = env.mgr.Begin(ctx)
	_, _ = tx.AddAll([]operation.Operation{
		must(operation.Rename("pkg/new.go", "final.go")),
		must(operation.Modify("x.txt", operation.FullContent("X\n"))),
	})
	if _, err := tx.Commit(ctx); err == nil {
		t.Fatal("expected commit failure")
	}
	if name, _ := buffers.Name(doc); name != "/ws/pkg/new.go" {
		t.Errorf("document should be rebound to /ws/pkg/new.go, got %s", name)
	}
	if c, ok := env.content(t, "/ws/pkg/new.go"); !ok || c != "package a\n" {
		t.Errorf("pkg/new.go = %q %v", c, ok)
	}
	if _, ok := env.content(t, "/ws/final.go"); ok {
		t.Error("final.go should be removed")
	}
}

func TestJournal(t *testing.T) {
	ctx := context.Background()
	must := mustOp(t)

	open := func(t *testing.T) *journal.Journal {
		t.Helper()
		j, err := journal.Open(journal.InMemoryConfig())
		if err != nil {
			t.Fatalf("journal.Open: %v", err)
		}
		t.Cleanup(func() { _ = j.Close() })
		return j
	}
	pending := func(t *testing.T, j *journal.Journal) int {
		t.Helper()
		entries, err := j.Pending()
		if err != nil {
			t.Fatalf("Pending: %v", err)
		}
		return len(entries)
	}

	t.Run("cleared after commit", func(t *testing.T) {
		j := open(t)
		env := newTestEnv(t, DefaultConfig(), Deps{Journal: j}, nil)
		tx, _ := env.mgr.Begin(ctx)
		_ = tx.Add(must(operation.Create("a.txt", "a\n")))
		if _, err := tx.Commit(ctx); err != nil {
			t.Fatalf("Commit: %v", err)
		}
		if n := pending(t, j); n != 0 {
			t.Errorf("expected no pending entries, got %d", n)
		}
	})

	t.Run("kept after incomplete rollback and recovered", func(t *testing.T) {
		j := open(t)
		env := newTestEnv(t, DefaultConfig(), Deps{Journal: j}, map[string]string{"/ws/b.txt": "b\n"})
		env.faulty.FailOn("write", "/ws/b.txt", nil)
		env.faulty.FailOn("delete", "/ws/a.txt", nil)

		tx, _ := env.mgr.Begin(ctx)
		_, _ = tx.AddAll([]operation.Operation{
			must(operation.Create("a.txt", "a\n")),
			must(operation.Modify("b.txt", operation.FullContent("B\n"))),
		})
		if _, err := tx.Commit(ctx); err == nil {
			t.Fatal("expected commit failure")
		}
		if n := pending(t, j); n != 1 {
			t.Fatalf("expected one pending entry, got %d", n)
		}

		env.faulty.Clear()
		report, err := env.mgr.Recover(ctx)
		if err != nil {
			t.Fatalf("Recover: %v", err)
		}
		if report.Entries != 1 || len(report.Completed) != 1 || report.Failed != 0 {
			t.Errorf("report = %+v", report)
		}
		if _, ok := env.content(t, "/ws/a.txt"); ok {
			t.Error("a.txt should be removed by recovery")
		}
		if c, _ := env.content(t, "/ws/b.txt"); c != "b\n" {
			t.Errorf("b.txt = %q", c)
		}
		if n := pending(t, j); n != 0 {
			t.Errorf("expected journal cleared, got %d", n)
		}
	})

	t.Run("existing create target is not journaled", func(t *testing.T) {
		j := open(t)
		env := newTestEnv(t, DefaultConfig(), Deps{Journal: j}, map[string]string{
			"/ws/b.txt":    "b\n",
			"/ws/keep.txt": "keep\n",
		})
		env.faulty.FailOn("write", "/ws/b.txt", nil)
		env.faulty.FailOn("delete", "/ws/new.txt", nil)

		tx, _ := env.mgr.Begin(ctx)
		_, _ = tx.AddAll([]operation.Operation{
			must(operation.Create("new.txt", "n\n")),
			must(operation.Modify("b.txt", operation.FullContent("B\n"))),
			must(operation.Create("keep.txt", "replaced\n")),
		})
		id := tx.ID
		if _, err := tx.Commit(ctx); err == nil {
			t.Fatal("expected commit failure")
		}

		entry, ok, err := j.Get(id)
		if err != nil || !ok {
			t.Fatalf("Get(%s) = %v, %v", id, ok, err)
		}
		for _, b := range entry.Backups {
			if b.Path == "/ws/keep.txt" {
				t.Errorf("keep.txt should not be journaled: %+v", b)
			}
		}

		env.faulty.Clear()
		if _, err := env.mgr.Recover(ctx); err != nil {
			t.Fatalf("Recover: %v", err)
		}
		if _, ok := env.content(t, "/ws/new.txt"); ok {
			t.Error("new.txt should be removed by recovery")
		}
		if c, ok := env.content(t, "/ws/keep.txt"); !ok || c != "keep\n" {
			t.Errorf("keep.txt = %q %v", c, ok)
		}
	})

	t.Run("interrupted commit recovered on init", func(t *testing.T) {
		j := open(t)
		mem := storage.NewMemory()
		_ = mem.Write("/ws/b.txt", "b\n")

		entry := journal.Entry{TxID: "crashed"}
		entry.Backups = append(entry.Backups, backupOf(t, mem, "/ws/b.txt"), backupOf(t, mem, "/ws/new.txt"))
		if err := j.Record(entry); err != nil {
			t.Fatalf("Record: %v", err)
		}
		_ = mem.Write("/ws/b.txt", "half written\n")
		_ = mem.Write("/ws/new.txt", "n\n")

		cfg := DefaultConfig()
		cfg.Root = root
		cfg.RecoverOnInit = true
		cfg.MetricsEnabled = false
		if _, err := NewManager(cfg, Deps{Storage: mem, Journal: j}); err != nil {
			t.Fatalf("NewManager: %v", err)
		}
		if c, _ := mem.Read("/ws/b.txt"); c != "b\n" {
			t.Errorf("b.txt = %q", c)
		}
		if mem.Exists("/ws/new.txt") {
			t.Error("new.txt should be removed")
		}
		if n := pending(t, j); n != 0 {
			t.Errorf("expected journal cleared, got %d", n)
		}
	})

	t.Run("journal failure writes nothing", func(t *testing.T) {
		j, err := journal.Open(journal.InMemoryConfig())
		if err != nil {
			t.Fatal(err)
		}
		env := newTestEnv(t, DefaultConfig(), Deps{Journal: j}, nil)
		tx, _ := env.mgr.Begin(ctx)
		_ = tx.Add(must(operation.Create("a.txt", "a\n")))
		_ = j.Close()

		_, err = tx.Commit(ctx)
		var ce *CommitError
		if !errors.As(err, &ce) {
			t.Fatalf("expected *CommitError, got %v", err)
		}
		if ce.Index != 0 {
			t.Errorf("expected index 0, got %d", ce.Index)
		}
		if _, ok := env.content(t, "/ws/a.txt"); ok {
			t.Error("nothing should be written when the journal fails")
		}
		if env.mgr.IsActive() {
			t.Error("manager should be idle")
		}
	})
}

func TestRecover_Errors(t *testing.T) {
	ctx := context.Background()

	env := newTestEnv(t, DefaultConfig(), Deps{}, nil)
	if _, err := env.mgr.Recover(ctx); !errors.Is(err, ErrJournalDisabled) {
		t.Errorf("expected ErrJournalDisabled, got %v", err)
	}

	j, err := journal.Open(journal.InMemoryConfig())
	if err != nil {
		t.Fatal(err)
	}
	defer j.Close()
	env = newTestEnv(t, DefaultConfig(), Deps{Journal: j}, nil)
	_, _ = env.mgr.Begin(ctx)
	if _, err := env.mgr.Recover(ctx); !errors.Is(err, ErrTransactionActive) {
		t.Errorf("expected ErrTransactionActive, got %v", err)
	}
}

func TestManagerClose(t *testing.T) {
	env := newTestEnv(t, DefaultConfig(), Deps{}, nil)
	ctx := context.Background()

	tx, _ := env.mgr.Begin(ctx)
	if err := env.mgr.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if tx.Status() != StatusAborted {
		t.Errorf("expected open transaction aborted, got %s", tx.Status())
	}
	if _, err := env.mgr.Begin(ctx); !errors.Is(err, ErrManagerClosed) {
		t.Errorf("expected ErrManagerClosed, got %v", err)
	}
}

func TestCommitError_Error(t *testing.T) {
	tests := []struct {
		name string
		err  *CommitError
		want string
	}{
		{
			name: "before any operation",
			err:  &CommitError{TxID: "t1", Err: errors.New("journal: closed")},
			want: "commit t1 failed: journal: closed",
		},
		{
			name: "rolled back",
			err: &CommitError{
				TxID: "t1", Index: 2, Path: "/b", Kind: operation.KindModify, Err: errors.New("boom"),
				Restores: []RestoreOutcome{{Path: "/a", Restored: true}},
			},
			want: "commit t1 failed at operation 2 (modify /b): boom; rolled back 1 path(s)",
		},
		{
			name: "incomplete",
			err: &CommitError{
				TxID: "t1", Index: 3, Path: "/c", Kind: operation.KindDelete, Err: errors.New("boom"),
				Restores: []RestoreOutcome{{Path: "/b", Restored: true}, {Path: "/a", Err: errors.New("x")}},
			},
			want: "commit t1 failed at operation 3 (delete /c): boom; rollback incomplete, 1 of 2 path(s) not restored: /a",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q\nwant      %q", got, tt.want)
			}
		})
	}
}
