package server

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestRegistry(ttl time.Duration) (*registry[string], *clock) {
	c := &clock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	r := newRegistry[string]("session", ttl)
	r.now = c.now
	return r, c
}

func TestRegistry_GetScopesToOwner(t *testing.T) {
	r, _ := newTestRegistry(time.Hour)
	id, owner := uuid.New(), uuid.New()
	r.put(id, owner, "draft")

	e, err := r.get(id.String(), owner)
	require.NoError(t, err)
	assert.Equal(t, "draft", e.load())

	_, err = r.get(id.String(), uuid.New())
	var notFound *ErrNotFound
	assert.ErrorAs(t, err, &notFound)

	_, err = r.get(id.String(), uuid.Nil)
	assert.ErrorAs(t, err, &notFound, "anonymous callers do not see owned entries")

	_, err = r.get("nope", owner)
	assert.ErrorAs(t, err, &notFound)

	got, ok := r.ownerOf(id)
	assert.True(t, ok)
	assert.Equal(t, owner, got)
}

func TestRegistry_SweepEvictsIdleEntries(t *testing.T) {
	r, c := newTestRegistry(time.Hour)
	var evicted []string
	r.onEvict = func(v string) { evicted = append(evicted, v) }

	stale, fresh := uuid.New(), uuid.New()
	r.put(stale, uuid.Nil, "stale")
	c.advance(40 * time.Minute)
	r.put(fresh, uuid.Nil, "fresh")
	c.advance(30 * time.Minute)

	assert.Equal(t, 1, r.sweep())
	assert.Equal(t, []string{"stale"}, evicted)
	assert.Equal(t, 1, r.len())

	_, err := r.get(fresh.String(), uuid.Nil)
	require.NoError(t, err)
}

func TestRegistry_GetRefreshesIdleTime(t *testing.T) {
	r, c := newTestRegistry(time.Hour)
	id := uuid.New()
	r.put(id, uuid.Nil, "draft")

	c.advance(50 * time.Minute)
	_, err := r.get(id.String(), uuid.Nil)
	require.NoError(t, err)
	c.advance(50 * time.Minute)

	assert.Zero(t, r.sweep())
}

func TestRegistry_SweepSkipsBusyAndActive(t *testing.T) {
	r, c := newTestRegistry(time.Hour)
	r.active = func(v string) bool { return v == "running" }

	busy := r.put(uuid.New(), uuid.Nil, "busy")
	require.True(t, busy.busy.TryAcquire(1))
	r.put(uuid.New(), uuid.Nil, "running")
	c.advance(2 * time.Hour)

	assert.Zero(t, r.sweep())
	assert.Equal(t, 2, r.len())

	busy.busy.Release(1)
	assert.Equal(t, 1, r.sweep())
}

func TestRegistry_ZeroTTLKeepsEverything(t *testing.T) {
	r, c := newTestRegistry(0)
	r.put(uuid.New(), uuid.Nil, "draft")
	c.advance(1000 * time.Hour)
	assert.Zero(t, r.sweep())
}

func TestRegistry_RemoveCallsOnEvict(t *testing.T) {
	r, _ := newTestRegistry(time.Hour)
	var evicted []string
	r.onEvict = func(v string) { evicted = append(evicted, v) }

	id := uuid.New()
	r.put(id, uuid.Nil, "draft")
	r.remove(id)
	r.remove(id)

	assert.Equal(t, []string{"draft"}, evicted)
	assert.Zero(t, r.len())
}
