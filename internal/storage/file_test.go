package storage

import (
	"context"
	"path/filepath"
	"testing"

	"hushd/pkg/logx"
)

func TestFileStoreRoundTrip(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "state.db")
	ctx := context.Background()

	st, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	put := func(kind Kind, user, id, data string) {
		t.Helper()
		if err := st.Put(ctx, kind, Entry{UserID: user, ID: id, Data: []byte(data)}); err != nil {
			t.Fatalf("Put: %v", err)
		}
	}
	put(KindSchedule, "u1", "s1", `{"a":1}`)
	put(KindSchedule, "u2", "s2", `{"a":2}`)
	put(KindQueueItem, "u1", "q1", `{"b":1}`)
	if err := st.Delete(ctx, KindSchedule, "u2", "s2"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := st.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// Reopen: the journal must replay.
	st2, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer st2.Close()

	scheds, err := st2.List(ctx, KindSchedule)
	if err != nil {
		t.Fatal(err)
	}
	if len(scheds) != 1 || scheds[0].UserID != "u1" || scheds[0].ID != "s1" || string(scheds[0].Data) != `{"a":1}` {
		t.Fatalf("schedules = %+v", scheds)
	}
	items, err := st2.List(ctx, KindQueueItem)
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 1 || items[0].ID != "q1" {
		t.Fatalf("queue items = %+v", items)
	}
}

func TestFileStorePutOverwrites(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "state.db")
	ctx := context.Background()

	st, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()

	if err := st.Put(ctx, KindSchedule, Entry{UserID: "u1", ID: "s1", Data: []byte(`1`)}); err != nil {
		t.Fatal(err)
	}
	if err := st.Put(ctx, KindSchedule, Entry{UserID: "u1", ID: "s1", Data: []byte(`2`)}); err != nil {
		t.Fatal(err)
	}
	out, err := st.List(ctx, KindSchedule)
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 1 || string(out[0].Data) != `2` {
		t.Fatalf("entries = %+v", out)
	}
}

func TestOpenDisabledAndUnknown(t *testing.T) {
	t.Parallel()
	st, err := Open(Config{}, logx.Nop())
	if err != nil || st != nil {
		t.Fatalf("disabled open = (%v, %v)", st, err)
	}
	if _, err := Open(Config{Driver: "bolt"}, logx.Nop()); err == nil {
		t.Fatal("unknown driver must error")
	}
}
