package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notesync/syncing-api/internal/auth"
	"github.com/notesync/syncing-api/internal/events"
	"github.com/notesync/syncing-api/internal/item"
	"github.com/notesync/syncing-api/internal/repo"
	"github.com/notesync/syncing-api/internal/service/itemservice"
	"github.com/notesync/syncing-api/internal/sharedvault"
	"github.com/notesync/syncing-api/internal/timer"
)

type noopUserEvents struct{}

func (noopUserEvents) RemoveUserEventsForItemAddedToSharedVault(ctx context.Context, userUUID, itemUUID, sharedVaultUUID uuid.UUID) error {
	return nil
}

func (noopUserEvents) CreateItemRemovedFromSharedVaultEvent(ctx context.Context, userUUID, itemUUID, sharedVaultUUID uuid.UUID) error {
	return nil
}

func newTestServer(items *repo.MemoryItemRepository) http.Handler {
	svc := itemservice.New(
		items,
		&sharedvault.MemoryUserRepository{},
		noopUserEvents{},
		&events.LogPublisher{},
		timer.NewMonotonic(),
		itemservice.Config{},
	)
	srv := &Server{Items: svc}
	return srv.Routes(auth.JWTCfg{HS256Secret: "test", DevMode: true})
}

func doSync(t *testing.T, handler http.Handler, userUUID uuid.UUID, req syncReq) (*httptest.ResponseRecorder, syncResp) {
	t.Helper()
	body, err := json.Marshal(req)
	require.NoError(t, err)

	httpReq := httptest.NewRequest(http.MethodPost, "/v1/items/sync", bytes.NewReader(body))
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Debug-Sub", userUUID.String())
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httpReq)

	var resp syncResp
	if rec.Code == http.StatusOK {
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	}
	return rec, resp
}

func TestSyncItemsRoundTrip(t *testing.T) {
	items := repo.NewMemoryItemRepository()
	handler := newTestServer(items)
	userUUID := uuid.New()

	content := "ciphertext"
	contentType := item.ContentTypeNote
	pushed := item.Hash{UUID: uuid.New(), Content: &content, ContentType: &contentType}

	rec, resp := doSync(t, handler, userUUID, syncReq{
		Items:      []item.Hash{pushed},
		APIVersion: "20240226",
		SDKVersion: "1.0.0",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, resp.SavedItems, 1)
	assert.Equal(t, pushed.UUID, resp.SavedItems[0].UUID)
	assert.Empty(t, resp.Conflicts)
	// The item just pushed is not echoed back as retrieved.
	assert.Empty(t, resp.RetrievedItems)
	require.NotEmpty(t, resp.SyncToken)

	// A follow-up sync with the returned token sees nothing new.
	rec, resp = doSync(t, handler, userUUID, syncReq{SyncToken: resp.SyncToken})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, resp.RetrievedItems)
	assert.Empty(t, resp.SavedItems)
}

func TestSyncItemsInitialSyncRetrieves(t *testing.T) {
	items := repo.NewMemoryItemRepository()
	userUUID := uuid.New()

	content := "existing"
	seeded := item.Item{
		UUID:               uuid.New(),
		UserUUID:           userUUID,
		Content:            &content,
		ContentType:        item.ContentTypeNote,
		CreatedAtTimestamp: 1000,
		UpdatedAtTimestamp: 1000,
	}
	seeded.RecomputeContentSize()
	require.NoError(t, items.Save(context.Background(), &seeded))

	handler := newTestServer(items)
	rec, resp := doSync(t, handler, userUUID, syncReq{})
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, resp.RetrievedItems, 1)
	assert.Equal(t, seeded.UUID, resp.RetrievedItems[0].UUID)
	assert.Empty(t, resp.CursorToken)
}

func TestSyncItemsBadTokenIsBadRequest(t *testing.T) {
	handler := newTestServer(repo.NewMemoryItemRepository())
	rec, _ := doSync(t, handler, uuid.New(), syncReq{SyncToken: "garbage"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSyncItemsMalformedBody(t *testing.T) {
	handler := newTestServer(repo.NewMemoryItemRepository())

	req := httptest.NewRequest(http.MethodPost, "/v1/items/sync", bytes.NewReader([]byte("{not json")))
	req.Header.Set("X-Debug-Sub", uuid.New().String())
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSyncItemsRequiresAuth(t *testing.T) {
	handler := newTestServer(repo.NewMemoryItemRepository())

	req := httptest.NewRequest(http.MethodPost, "/v1/items/sync", bytes.NewReader([]byte("{}")))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestSyncItemsConflictSurfaces(t *testing.T) {
	items := repo.NewMemoryItemRepository()
	userUUID := uuid.New()

	content := "server copy"
	seeded := item.Item{
		UUID:               uuid.New(),
		UserUUID:           userUUID,
		Content:            &content,
		ContentType:        item.ContentTypeNote,
		CreatedAtTimestamp: 1000,
		UpdatedAtTimestamp: 1000,
	}
	seeded.RecomputeContentSize()
	require.NoError(t, items.Save(context.Background(), &seeded))

	handler := newTestServer(items)
	stale := "client copy"
	staleStamp := int64(900)
	rec, resp := doSync(t, handler, userUUID, syncReq{
		SyncToken: "", // initial sync
		Items: []item.Hash{{
			UUID:               seeded.UUID,
			Content:            &stale,
			UpdatedAtTimestamp: &staleStamp,
		}},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, resp.SavedItems)
	require.Len(t, resp.Conflicts, 1)
	assert.Equal(t, item.ConflictSync, resp.Conflicts[0].Type)
	// The conflicted uuid is not also echoed in retrieved_items.
	assert.Empty(t, resp.RetrievedItems)
}

func TestHealthz(t *testing.T) {
	handler := newTestServer(repo.NewMemoryItemRepository())
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}
