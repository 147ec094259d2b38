package idgen

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestSequenceStartsAtOne(t *testing.T) {
	s := NewSequence()
	assert.Equal(t, ID{Seq: 1}, s.Next())
	assert.Equal(t, ID{Seq: 2}, s.Next())
}

func TestCompositeScopesIDs(t *testing.T) {
	c := NewComposite("worker-3", NewSequence())
	id := c.Next()
	assert.Equal(t, "worker-3", id.Scope)
	assert.Equal(t, int64(1), id.Seq)
	assert.Equal(t, "worker-3.1", id.String())
	assert.Equal(t, "worker-3", c.Scope())
}

func TestParseRoundTrip(t *testing.T) {
	tests := []struct {
		in      string
		want    ID
		wantErr bool
	}{
		{in: "7", want: ID{Seq: 7}},
		{in: "gradle.test.worker.4.12", want: ID{Scope: "gradle.test.worker.4", Seq: 12}},
		{in: ".3", wantErr: true},
		{in: "w.x", wantErr: true},
		{in: "", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := Parse(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.in, got.String())
		})
	}
}

func TestCompositeConcurrentUnique(t *testing.T) {
	c := NewComposite("w", NewSequence())

	const goroutines, perG = 16, 500
	var (
		mu   sync.Mutex
		seen = make(map[ID]struct{}, goroutines*perG)
		wg   sync.WaitGroup
	)
	for range goroutines {
		wg.Add(1)
		go func() {
			defer wg.Done()
			local := make([]ID, 0, perG)
			for range perG {
				local = append(local, c.Next())
			}
			mu.Lock()
			for _, id := range local {
				seen[id] = struct{}{}
			}
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Len(t, seen, goroutines*perG)
}

// TestNeverRepeats checks that no sequence of calls repeats an id, and that
// ids from distinct scopes never collide.
func TestNeverRepeats(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		scopes := rapid.SliceOfNDistinct(rapid.StringMatching(`w[0-9]{1,3}`), 1, 4, rapid.ID[string]).Draw(rt, "scopes")
		calls := rapid.SliceOfN(rapid.IntRange(0, len(scopes)-1), 1, 300).Draw(rt, "calls")

		gens := make([]*Composite, len(scopes))
		for i, s := range scopes {
			gens[i] = NewComposite(s, NewSequence())
		}

		seen := make(map[string]struct{}, len(calls))
		for _, g := range calls {
			id := gens[g].Next().String()
			if _, dup := seen[id]; dup {
				rt.Fatalf("duplicate id %s", id)
			}
			seen[id] = struct{}{}
		}
	})
}
