package itemservice

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notesync/syncing-api/internal/events"
	"github.com/notesync/syncing-api/internal/item"
	"github.com/notesync/syncing-api/internal/repo"
	"github.com/notesync/syncing-api/internal/sharedvault"
	"github.com/notesync/syncing-api/internal/synctoken"
)

// stubClock hands out strictly increasing microsecond stamps and lets
// tests jump time forward.
type stubClock struct {
	mu  sync.Mutex
	now int64
}

func newStubClock(start int64) *stubClock { return &stubClock{now: start} }

func (c *stubClock) NowMicros() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now++
	return c.now
}

func (c *stubClock) Sleep(d time.Duration) { c.advance(d) }

func (c *stubClock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now += d.Microseconds()
}

type memPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *memPublisher) Publish(ctx context.Context, ev events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

func (p *memPublisher) countByName(name string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, ev := range p.events {
		if ev.EventName() == name {
			n++
		}
	}
	return n
}

type vaultCall struct {
	userUUID, itemUUID, vaultUUID uuid.UUID
}

type stubUserEvents struct {
	mu      sync.Mutex
	added   []vaultCall
	removed []vaultCall
}

func (s *stubUserEvents) RemoveUserEventsForItemAddedToSharedVault(ctx context.Context, userUUID, itemUUID, sharedVaultUUID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.added = append(s.added, vaultCall{userUUID, itemUUID, sharedVaultUUID})
	return nil
}

func (s *stubUserEvents) CreateItemRemovedFromSharedVaultEvent(ctx context.Context, userUUID, itemUUID, sharedVaultUUID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removed = append(s.removed, vaultCall{userUUID, itemUUID, sharedVaultUUID})
	return nil
}

type fixture struct {
	service    *Service
	items      *repo.MemoryItemRepository
	publisher  *memPublisher
	userEvents *stubUserEvents
	clock      *stubClock
	userUUID   uuid.UUID
}

func newFixture(t *testing.T, cfg Config, memberships ...sharedvault.User) *fixture {
	t.Helper()
	f := &fixture{
		items:      repo.NewMemoryItemRepository(),
		publisher:  &memPublisher{},
		userEvents: &stubUserEvents{},
		clock:      newStubClock(1_000_000),
		userUUID:   uuid.New(),
	}
	for i := range memberships {
		memberships[i].UserUUID = f.userUUID
	}
	vaultUsers := &sharedvault.MemoryUserRepository{Users: memberships}
	f.service = New(f.items, vaultUsers, f.userEvents, f.publisher, f.clock, cfg)
	return f
}

func (f *fixture) seed(t *testing.T, content string, ts int64, mutate ...func(*item.Item)) item.Item {
	t.Helper()
	it := item.Item{
		UUID:               uuid.New(),
		UserUUID:           f.userUUID,
		Content:            &content,
		ContentType:        item.ContentTypeNote,
		CreatedAtTimestamp: ts,
		UpdatedAtTimestamp: ts,
	}
	it.RecomputeContentSize()
	for _, m := range mutate {
		m(&it)
	}
	require.NoError(t, f.items.Save(context.Background(), &it))
	return it
}

func decodeToken(t *testing.T, token string) int64 {
	t.Helper()
	micros, err := synctoken.Decode(token)
	require.NoError(t, err)
	return micros
}

func TestGetItemsInitialSyncHidesTombstones(t *testing.T) {
	f := newFixture(t, Config{})
	a := f.seed(t, "alive", 1000)
	f.seed(t, "", 2000, func(it *item.Item) {
		it.Deleted = true
		it.MarkDeleted()
	})

	res, err := f.service.GetItems(context.Background(), GetItemsRequest{UserUUID: f.userUUID, Limit: 10})
	require.NoError(t, err)
	require.Len(t, res.Items, 1)
	assert.Equal(t, a.UUID, res.Items[0].UUID)
	assert.Empty(t, res.CursorToken)
	assert.Equal(t, a.UpdatedAtTimestamp+1, decodeToken(t, res.SyncToken))
}

func TestGetItemsDeltaSyncDeliversTombstones(t *testing.T) {
	f := newFixture(t, Config{})
	f.seed(t, "alive", 1000)
	dead := f.seed(t, "", 2000, func(it *item.Item) {
		it.Deleted = true
		it.MarkDeleted()
	})

	res, err := f.service.GetItems(context.Background(), GetItemsRequest{
		UserUUID:  f.userUUID,
		SyncToken: synctoken.EncodeSyncToken(1499),
	})
	require.NoError(t, err)
	require.Len(t, res.Items, 1)
	assert.Equal(t, dead.UUID, res.Items[0].UUID)
	assert.True(t, res.Items[0].Deleted)
}

// Three pages under a 100-byte budget: 60B+60B+10B items arrive one
// per page, and the chain ends with a sync token and no cursor. The
// 10B tail lands alone because the page it would join is already full
// once the cursor's boundary item is billed.
func TestGetItemsPaginatesUnderTransferBudget(t *testing.T) {
	f := newFixture(t, Config{ContentTransferBudget: 100})
	a := f.seed(t, "", 1000, func(it *item.Item) { it.ContentSize = 60 })
	b := f.seed(t, "", 2000, func(it *item.Item) { it.ContentSize = 60 })
	c := f.seed(t, "", 3000, func(it *item.Item) { it.ContentSize = 10 })

	first, err := f.service.GetItems(context.Background(), GetItemsRequest{
		UserUUID:  f.userUUID,
		SyncToken: synctoken.EncodeSyncToken(499),
	})
	require.NoError(t, err)
	require.Len(t, first.Items, 1)
	assert.Equal(t, a.UUID, first.Items[0].UUID)
	require.NotEmpty(t, first.CursorToken)
	assert.Equal(t, a.UpdatedAtTimestamp, decodeToken(t, first.CursorToken))

	second, err := f.service.GetItems(context.Background(), GetItemsRequest{
		UserUUID:    f.userUUID,
		CursorToken: first.CursorToken,
	})
	require.NoError(t, err)
	require.Len(t, second.Items, 1)
	assert.Equal(t, b.UUID, second.Items[0].UUID)
	require.NotEmpty(t, second.CursorToken)

	third, err := f.service.GetItems(context.Background(), GetItemsRequest{
		UserUUID:    f.userUUID,
		CursorToken: second.CursorToken,
	})
	require.NoError(t, err)
	require.Len(t, third.Items, 1)
	assert.Equal(t, c.UUID, third.Items[0].UUID)
	assert.Empty(t, third.CursorToken)
	assert.Equal(t, c.UpdatedAtTimestamp+1, decodeToken(t, third.SyncToken))
}

// A cursor page that delivers everything left, exactly filling the
// limit, must end the chain rather than hand out a cursor for an empty
// extra round trip.
func TestGetItemsCursorPageFillingLimitEndsChain(t *testing.T) {
	f := newFixture(t, Config{})
	f.seed(t, "a", 1000)
	f.seed(t, "b", 2000)
	c := f.seed(t, "c", 3000)
	d := f.seed(t, "d", 4000)

	first, err := f.service.GetItems(context.Background(), GetItemsRequest{
		UserUUID:  f.userUUID,
		SyncToken: synctoken.EncodeSyncToken(499),
		Limit:     2,
	})
	require.NoError(t, err)
	require.Len(t, first.Items, 2)
	require.NotEmpty(t, first.CursorToken)

	second, err := f.service.GetItems(context.Background(), GetItemsRequest{
		UserUUID:    f.userUUID,
		CursorToken: first.CursorToken,
		Limit:       2,
	})
	require.NoError(t, err)
	require.Len(t, second.Items, 2)
	assert.Equal(t, c.UUID, second.Items[0].UUID)
	assert.Equal(t, d.UUID, second.Items[1].UUID)
	assert.Empty(t, second.CursorToken)
	assert.Equal(t, d.UpdatedAtTimestamp+1, decodeToken(t, second.SyncToken))
}

func TestGetItemsClampsLimit(t *testing.T) {
	f := newFixture(t, Config{MaxSyncLimit: 2})
	for i := 0; i < 5; i++ {
		f.seed(t, "note", int64(1000+i))
	}

	res, err := f.service.GetItems(context.Background(), GetItemsRequest{UserUUID: f.userUUID, Limit: 1000})
	require.NoError(t, err)
	assert.Len(t, res.Items, 2)
	assert.NotEmpty(t, res.CursorToken)
}

func TestGetItemsRejectsBadToken(t *testing.T) {
	f := newFixture(t, Config{})
	_, err := f.service.GetItems(context.Background(), GetItemsRequest{UserUUID: f.userUUID, SyncToken: "not-a-token"})
	require.Error(t, err)
	assert.ErrorIs(t, err, synctoken.ErrBadToken)
}

func TestGetItemsEmptyDeltaKeepsInstant(t *testing.T) {
	f := newFixture(t, Config{})
	f.seed(t, "note", 1000)

	token := synctoken.EncodeSyncToken(5000)
	res, err := f.service.GetItems(context.Background(), GetItemsRequest{UserUUID: f.userUUID, SyncToken: token})
	require.NoError(t, err)
	assert.Empty(t, res.Items)
	assert.Empty(t, res.CursorToken)
	assert.Equal(t, int64(5001), decodeToken(t, res.SyncToken))
}

func TestGetItemsFrontLoadsItemsKeys(t *testing.T) {
	f := newFixture(t, Config{})
	f.seed(t, "note one", 1000)
	f.seed(t, "note two", 2000)
	key := f.seed(t, "key material", 3000, func(it *item.Item) {
		it.ContentType = item.ContentTypeItemsKey
	})

	res, err := f.service.GetItems(context.Background(), GetItemsRequest{UserUUID: f.userUUID, Limit: 1})
	require.NoError(t, err)
	require.Len(t, res.Items, 2)
	assert.Equal(t, key.UUID, res.Items[0].UUID)
	assert.Equal(t, item.ContentTypeItemsKey, res.Items[0].ContentType)

	// A delta sync does not front-load.
	res, err = f.service.GetItems(context.Background(), GetItemsRequest{
		UserUUID:  f.userUUID,
		SyncToken: synctoken.EncodeSyncToken(999),
		Limit:     1,
	})
	require.NoError(t, err)
	require.Len(t, res.Items, 1)
	assert.NotEqual(t, key.UUID, res.Items[0].UUID)
}

func TestGetItemsScopesVaultsToMemberships(t *testing.T) {
	memberVault := uuid.New()
	strangerVault := uuid.New()
	f := newFixture(t, Config{}, sharedvault.User{SharedVaultUUID: memberVault, Permission: sharedvault.PermissionRead})

	other := uuid.New()
	inMember := item.Item{
		UUID:               uuid.New(),
		UserUUID:           other,
		ContentType:        item.ContentTypeNote,
		SharedVaultUUID:    &memberVault,
		CreatedAtTimestamp: 1000,
		UpdatedAtTimestamp: 1000,
	}
	require.NoError(t, f.items.Save(context.Background(), &inMember))
	inStranger := item.Item{
		UUID:               uuid.New(),
		UserUUID:           other,
		ContentType:        item.ContentTypeNote,
		SharedVaultUUID:    &strangerVault,
		CreatedAtTimestamp: 2000,
		UpdatedAtTimestamp: 2000,
	}
	require.NoError(t, f.items.Save(context.Background(), &inStranger))

	res, err := f.service.GetItems(context.Background(), GetItemsRequest{
		UserUUID:         f.userUUID,
		SharedVaultUUIDs: []uuid.UUID{memberVault, strangerVault},
	})
	require.NoError(t, err)
	require.Len(t, res.Items, 1)
	assert.Equal(t, inMember.UUID, res.Items[0].UUID)
}
