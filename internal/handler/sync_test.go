package handler_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"testing"

	"github.com/aws/aws-lambda-go/events"
	"github.com/google/uuid"
	"github.com/jun/securenotes/internal/adapter/memory"
	"github.com/jun/securenotes/internal/handler"
	"github.com/jun/securenotes/internal/model"
)

func push(t *testing.T, h *handler.SyncHandler, body string) model.PushResponse {
	t.Helper()
	resp, err := h.Push(context.Background(), makeRequest("POST", "/sync/push", body))
	if err != nil {
		t.Fatalf("Push returned error: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", resp.StatusCode, resp.Body)
	}
	var out model.PushResponse
	if err := json.Unmarshal([]byte(resp.Body), &out); err != nil {
		t.Fatalf("Failed to unmarshal push response: %v", err)
	}
	return out
}

func TestPush_CreateThenUpdate(t *testing.T) {
	h := handler.NewSyncHandler(memory.NewNoteStore(), testJWTSecret)
	id := uuid.NewString()

	created := push(t, h, fmt.Sprintf(`{"id":%q,"encryptedTitle":"t1","encryptedContent":"c1","syncVersion":0}`, id))
	if !created.Success || created.Conflict {
		t.Fatalf("Expected clean success, got %+v", created)
	}
	if created.Note.SyncVersion != 1 {
		t.Errorf("Expected new note at version 1, got %d", created.Note.SyncVersion)
	}

	updated := push(t, h, fmt.Sprintf(`{"id":%q,"encryptedTitle":"t2","encryptedContent":"c2","syncVersion":1}`, id))
	if updated.Conflict || updated.Note.SyncVersion != 2 {
		t.Errorf("Expected accepted at version 2, got %+v", updated)
	}
	if updated.Note.EncryptedContent != "c2" {
		t.Errorf("Expected content 'c2', got '%s'", updated.Note.EncryptedContent)
	}
}

func TestPush_StaleVersionConflict(t *testing.T) {
	h := handler.NewSyncHandler(memory.NewNoteStore(), testJWTSecret)
	id := uuid.NewString()

	push(t, h, fmt.Sprintf(`{"id":%q,"encryptedTitle":"t","encryptedContent":"a","syncVersion":0}`, id))
	push(t, h, fmt.Sprintf(`{"id":%q,"encryptedTitle":"t","encryptedContent":"b","syncVersion":1}`, id))

	stale := push(t, h, fmt.Sprintf(`{"id":%q,"encryptedTitle":"t","encryptedContent":"stale","syncVersion":1}`, id))
	if !stale.Conflict {
		t.Fatal("Expected conflict for a client behind the stored version")
	}
	if stale.Note.EncryptedContent != "b" || stale.Note.SyncVersion != 2 {
		t.Errorf("Expected stored record (b, v2) returned unchanged, got (%s, v%d)",
			stale.Note.EncryptedContent, stale.Note.SyncVersion)
	}
}

func TestPush_ReplayedOpNotIncrementedTwice(t *testing.T) {
	h := handler.NewSyncHandler(memory.NewNoteStore(), testJWTSecret)
	id := uuid.NewString()
	body := fmt.Sprintf(`{"id":%q,"encryptedTitle":"t","encryptedContent":"c","syncVersion":0,"opId":"op-1"}`, id)

	first := push(t, h, body)
	second := push(t, h, body)
	if second.Conflict || second.Note.SyncVersion != first.Note.SyncVersion {
		t.Errorf("Expected replay acknowledged at version %d, got %+v", first.Note.SyncVersion, second)
	}
}

func TestPush_BadRequests(t *testing.T) {
	h := handler.NewSyncHandler(memory.NewNoteStore(), testJWTSecret)
	ctx := context.Background()

	tests := []struct {
		name string
		body string
	}{
		{"not json", "not-json"},
		{"missing id", `{"encryptedTitle":"t","syncVersion":0}`},
		{"non-uuid id", `{"id":"abc","syncVersion":0}`},
		{"negative version", fmt.Sprintf(`{"id":%q,"syncVersion":-1}`, uuid.NewString())},
	}

	for _, tc := range tests {
		resp, _ := h.Push(ctx, makeRequest("POST", "/sync/push", tc.body))
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("%s: Expected 400, got %d", tc.name, resp.StatusCode)
		}
	}
}

func TestSyncEndpoints_Unauthorized(t *testing.T) {
	h := handler.NewSyncHandler(memory.NewNoteStore(), testJWTSecret)
	ctx := context.Background()
	req := events.APIGatewayProxyRequest{Headers: map[string]string{}}

	for name, fn := range map[string]func(context.Context, events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error){
		"push":  h.Push,
		"pull":  h.Pull,
		"notes": h.Notes,
	} {
		resp, _ := fn(ctx, req)
		if resp.StatusCode != http.StatusUnauthorized {
			t.Errorf("%s: Expected 401, got %d", name, resp.StatusCode)
		}
	}
}

func TestPull_SinceCursor(t *testing.T) {
	h := handler.NewSyncHandler(memory.NewNoteStore(), testJWTSecret)
	ctx := context.Background()

	a, b := uuid.NewString(), uuid.NewString()
	push(t, h, fmt.Sprintf(`{"id":%q,"encryptedTitle":"a","encryptedContent":"a","syncVersion":0}`, a))
	push(t, h, fmt.Sprintf(`{"id":%q,"encryptedTitle":"b","encryptedContent":"b","syncVersion":0}`, b))

	pull := func(since string) model.PullResponse {
		req := makeRequest("GET", "/sync/pull", "")
		if since != "" {
			req.QueryStringParameters["since"] = since
		}
		resp, err := h.Pull(ctx, req)
		if err != nil || resp.StatusCode != http.StatusOK {
			t.Fatalf("Pull failed: %d %v", resp.StatusCode, err)
		}
		var out model.PullResponse
		if err := json.Unmarshal([]byte(resp.Body), &out); err != nil {
			t.Fatalf("Failed to unmarshal pull response: %v", err)
		}
		return out
	}

	all := pull("")
	if len(all.Notes) != 2 || all.LatestVersion != 2 {
		t.Fatalf("Expected 2 notes at cursor 2, got %d at %d", len(all.Notes), all.LatestVersion)
	}
	if all.Notes[0].ID != a || all.Notes[1].ID != b {
		t.Error("Expected notes in ascending change order")
	}

	if bad := pull("garbage"); len(bad.Notes) != 2 {
		t.Errorf("Expected unparsable cursor to act as 0, got %d notes", len(bad.Notes))
	}

	later := pull("1")
	if len(later.Notes) != 1 || later.Notes[0].ID != b {
		t.Errorf("Expected only note b after cursor 1, got %+v", later.Notes)
	}

	none := pull("2")
	if len(none.Notes) != 0 || none.LatestVersion != 2 {
		t.Errorf("Expected empty pull keeping cursor 2, got %d notes at %d", len(none.Notes), none.LatestVersion)
	}
}

func TestNotes_ScopedToUser(t *testing.T) {
	h := handler.NewSyncHandler(memory.NewNoteStore(), testJWTSecret)
	ctx := context.Background()

	push(t, h, fmt.Sprintf(`{"id":%q,"encryptedTitle":"mine","encryptedContent":"x","syncVersion":0}`, uuid.NewString()))

	other := makeRequestAs("someone-else", "GET", "/sync/notes", "")
	resp, _ := h.Notes(ctx, other)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", resp.StatusCode)
	}
	if resp.Body != "[]" {
		t.Errorf("Expected empty list for another user, got %s", resp.Body)
	}

	resp, _ = h.Notes(ctx, makeRequest("GET", "/sync/notes", ""))
	var notes []model.ServerNote
	json.Unmarshal([]byte(resp.Body), &notes)
	if len(notes) != 1 || notes[0].EncryptedTitle != "mine" {
		t.Errorf("Expected own note, got %+v", notes)
	}
}
