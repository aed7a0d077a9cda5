package watcher

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func receiveBatch(t *testing.T, ch <-chan []FileEvent) []FileEvent {
	t.Helper()
	select {
	case batch, ok := <-ch:
		require.True(t, ok, "output closed before a batch arrived")
		return batch
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a batch")
		return nil
	}
}

func expectNoBatch(t *testing.T, ch <-chan []FileEvent, wait time.Duration) {
	t.Helper()
	select {
	case batch, ok := <-ch:
		if ok {
			t.Fatalf("unexpected batch of %d events", len(batch))
		}
	case <-time.After(wait):
	}
}

func TestDebouncer_FlushesAfterWindow(t *testing.T) {
	d := NewDebouncer(20 * time.Millisecond)
	defer d.Stop()

	d.Add(FileEvent{Path: "/mnt/data/a.txt", Operation: OpCreate})

	batch := receiveBatch(t, d.Output())
	require.Len(t, batch, 1)
	assert.Equal(t, "/mnt/data/a.txt", batch[0].Path)
	assert.Equal(t, OpCreate, batch[0].Operation)
}

func TestDebouncer_CoalescesSamePath(t *testing.T) {
	tests := []struct {
		name string
		ops  []Operation
		want Operation
		drop bool
	}{
		{"create then modify stays create", []Operation{OpCreate, OpModify}, OpCreate, false},
		{"create then delete cancels out", []Operation{OpCreate, OpDelete}, 0, true},
		{"create then rename cancels out", []Operation{OpCreate, OpRename}, 0, true},
		{"modify then delete is delete", []Operation{OpModify, OpDelete}, OpDelete, false},
		{"delete then create is modify", []Operation{OpDelete, OpCreate}, OpModify, false},
		{"rename then create is modify", []Operation{OpRename, OpCreate}, OpModify, false},
		{"repeated modify keeps latest", []Operation{OpModify, OpModify, OpModify}, OpModify, false},
		{"recreated after cancelling out", []Operation{OpCreate, OpDelete, OpCreate}, OpCreate, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := NewDebouncer(20 * time.Millisecond)
			defer d.Stop()

			for _, op := range tt.ops {
				d.Add(FileEvent{Path: "/mnt/data/report.txt", Operation: op})
			}

			if tt.drop {
				expectNoBatch(t, d.Output(), 100*time.Millisecond)
				return
			}
			batch := receiveBatch(t, d.Output())
			require.Len(t, batch, 1)
			assert.Equal(t, tt.want, batch[0].Operation)
		})
	}
}

func TestDebouncer_PathsAreIndependent(t *testing.T) {
	d := NewDebouncer(20 * time.Millisecond)
	defer d.Stop()

	d.Add(FileEvent{Path: "/mnt/data/a.txt", Operation: OpCreate})
	d.Add(FileEvent{Path: "/mnt/data/b.txt", Operation: OpDelete})

	batch := receiveBatch(t, d.Output())
	require.Len(t, batch, 2)

	byPath := make(map[string]Operation, 2)
	for _, ev := range batch {
		byPath[ev.Path] = ev.Operation
	}
	assert.Equal(t, OpCreate, byPath["/mnt/data/a.txt"])
	assert.Equal(t, OpDelete, byPath["/mnt/data/b.txt"])
}

func TestDebouncer_StopClosesOutputAndIgnoresLateAdds(t *testing.T) {
	d := NewDebouncer(20 * time.Millisecond)

	d.Stop()
	d.Stop() // idempotent

	d.Add(FileEvent{Path: "/mnt/data/a.txt", Operation: OpCreate})

	_, ok := <-d.Output()
	assert.False(t, ok)
}
