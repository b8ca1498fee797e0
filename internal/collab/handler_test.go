package collab

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"appforge/internal/models"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
)

// strictStore refuses canceled contexts the way database/sql drivers do.
// Loads and saves made on behalf of a live session must never run on the
// upgrade request's context, which dies when the HTTP handler returns.
type strictStore struct {
	inner *fakeStore
}

func (s *strictStore) Save(ctx context.Context, project *models.Project) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.inner.Save(ctx, project)
}

func (s *strictStore) Load(ctx context.Context, projectID string) (*models.Project, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.inner.Load(ctx, projectID)
}

func dialTestServer(t *testing.T, m *RoomManager, projectID string) *websocket.Conn {
	t.Helper()

	r := mux.NewRouter()
	r.HandleFunc("/ws/project/{id}", NewWebSocketHandler(m).HandleProjectConnection)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/project/" + projectID + "?user_id=alice&mode=design"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func writeEnvelope(t *testing.T, conn *websocket.Conn, msg *models.Message) {
	t.Helper()
	data, err := msg.Encode()
	if err != nil {
		t.Fatalf("encode %s: %v", msg.Type, err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		t.Fatalf("write %s: %v", msg.Type, err)
	}
}

// readEnvelope reads until a message of the wanted type arrives.
func readEnvelope(t *testing.T, conn *websocket.Conn, want models.MessageType) *models.Message {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read while waiting for %s: %v", want, err)
		}
		msg, err := models.DecodeMessage(data)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if msg.Type == want {
			return msg
		}
	}
}

// A session's persistence calls happen long after the HTTP upgrade handler
// has returned. Against a context-honoring store, join must still hydrate
// the stored snapshot and save-project must still succeed.
func TestConnectionHydratesAndSavesAfterUpgradeReturns(t *testing.T) {
	inner := newFakeStore()
	seed := models.NewProject("seeded")
	seed.ID = "p1"
	seed.Components = []models.UIComponent{{ID: "c1", Type: "button", Name: "Buy"}}
	if err := inner.Save(context.Background(), seed); err != nil {
		t.Fatalf("seed: %v", err)
	}

	m := newTestManager(t, &strictStore{inner: inner}, nil, nil)
	conn := dialTestServer(t, m, "p1")

	join, _ := models.NewMessage(models.MsgJoinProject, "", models.JoinProjectPayload{
		ProjectID: "p1",
		UserID:    "alice",
		Mode:      models.ModeDesign,
	})
	writeEnvelope(t, conn, join)

	state := readEnvelope(t, conn, models.MsgProjectState)
	var got models.Project
	if err := state.DecodePayload(&got); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	if len(got.Components) != 1 || got.Components[0].ID != "c1" {
		t.Fatalf("stored project not hydrated, got %d components", len(got.Components))
	}

	save, _ := models.NewMessage(models.MsgSaveProject, "req-1", nil)
	writeEnvelope(t, conn, save)

	ack := readEnvelope(t, conn, models.MsgProjectSaved)
	if ack.RequestID != "req-1" {
		t.Fatalf("ack requestId: %q", ack.RequestID)
	}
}
