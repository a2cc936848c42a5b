package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/notesync/syncing-api/internal/auth"
	"github.com/notesync/syncing-api/internal/item"
	"github.com/notesync/syncing-api/internal/service/itemservice"
	"github.com/notesync/syncing-api/internal/synctoken"
)

// syncReq is the request body for the sync endpoint.
type syncReq struct {
	SyncToken        string      `json:"sync_token,omitempty"`
	CursorToken      string      `json:"cursor_token,omitempty"`
	Limit            int         `json:"limit,omitempty"`
	ContentType      *string     `json:"content_type,omitempty"`
	SharedVaultUUIDs []uuid.UUID `json:"shared_vault_uuids,omitempty"`
	Items            []item.Hash `json:"items"`
	APIVersion       string      `json:"api_version"`
	SDKVersion       string      `json:"sdk_version"`
}

// syncResp is the response body for the sync endpoint.
type syncResp struct {
	RetrievedItems []item.Item     `json:"retrieved_items"`
	SavedItems     []item.Item     `json:"saved_items"`
	Conflicts      []item.Conflict `json:"conflicts"`
	SyncToken      string          `json:"sync_token"`
	CursorToken    string          `json:"cursor_token,omitempty"`
}

// SyncItems handles one full sync round trip: deliver the changes after
// the client's token, then apply the client's outgoing batch. Items the
// client just pushed are elided from the retrieved list; the client
// already holds them.
func (s *Server) SyncItems(w http.ResponseWriter, r *http.Request) {
	session, ok := auth.SessionFromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, apiError{Error: "unauthorized"})
		return
	}

	var req syncReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, apiError{Error: "malformed request body"})
		return
	}

	retrieved, err := s.Items.GetItems(r.Context(), itemservice.GetItemsRequest{
		UserUUID:         session.UserUUID,
		SyncToken:        req.SyncToken,
		CursorToken:      req.CursorToken,
		Limit:            req.Limit,
		ContentType:      req.ContentType,
		SharedVaultUUIDs: req.SharedVaultUUIDs,
	})
	if err != nil {
		if errors.Is(err, synctoken.ErrBadToken) {
			writeJSON(w, http.StatusBadRequest, apiError{Error: "invalid sync token"})
			return
		}
		log.Error().Err(err).Str("user_uuid", session.UserUUID.String()).Msg("get items failed")
		writeJSON(w, http.StatusInternalServerError, apiError{Error: "sync failed"})
		return
	}

	saved, err := s.Items.SaveItems(r.Context(), itemservice.SaveItemsRequest{
		UserUUID:       session.UserUUID,
		SessionUUID:    session.SessionUUID,
		APIVersion:     req.APIVersion,
		SDKVersion:     req.SDKVersion,
		ReadOnlyAccess: session.ReadOnly,
		ItemHashes:     req.Items,
	})
	if err != nil {
		log.Error().Err(err).Str("user_uuid", session.UserUUID.String()).Msg("save items failed")
		writeJSON(w, http.StatusInternalServerError, apiError{Error: "sync failed"})
		return
	}

	resp := syncResp{
		RetrievedItems: dedupeRetrieved(retrieved.Items, saved),
		SavedItems:     saved.SavedItems,
		Conflicts:      saved.Conflicts,
		CursorToken:    retrieved.CursorToken,
	}

	// The write-side token is newer whenever the batch saved anything.
	resp.SyncToken = retrieved.SyncToken
	if len(saved.SavedItems) > 0 {
		resp.SyncToken = saved.SyncToken
	}

	writeJSON(w, http.StatusOK, resp)
}

// dedupeRetrieved drops retrieved items the save half of the call
// already reported, either as saved or as a conflict's server copy.
func dedupeRetrieved(retrieved []item.Item, saved *itemservice.SaveItemsResult) []item.Item {
	if len(saved.SavedItems) == 0 && len(saved.Conflicts) == 0 {
		if retrieved == nil {
			return []item.Item{}
		}
		return retrieved
	}

	seen := make(map[uuid.UUID]bool, len(saved.SavedItems)+len(saved.Conflicts))
	for _, it := range saved.SavedItems {
		seen[it.UUID] = true
	}
	for _, c := range saved.Conflicts {
		seen[c.UnsavedItem.UUID] = true
	}

	out := make([]item.Item, 0, len(retrieved))
	for _, it := range retrieved {
		if !seen[it.UUID] {
			out = append(out, it)
		}
	}
	return out
}
