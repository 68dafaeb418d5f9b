package e2e

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"gocv.io/x/gocv"

	"github.com/ayusman/formcheck/internal/app"
	"github.com/ayusman/formcheck/internal/config"
	"github.com/ayusman/formcheck/internal/delivery"
	"github.com/ayusman/formcheck/internal/pose"
	"github.com/ayusman/formcheck/internal/reference"
	"github.com/ayusman/formcheck/internal/render"
	"github.com/ayusman/formcheck/internal/server"
	"github.com/ayusman/formcheck/internal/store"
)

// logService stands in for the session logging backend.
type logService struct {
	mu       sync.Mutex
	payloads []map[string]any
	status   int
}

func (l *logService) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	var payload map[string]any
	json.Unmarshal(body, &payload)

	l.mu.Lock()
	l.payloads = append(l.payloads, payload)
	status := l.status
	l.mu.Unlock()

	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
}

func (l *logService) received() []map[string]any {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]map[string]any(nil), l.payloads...)
}

type harness struct {
	url   string
	logs  *logService
	store *store.Store
	est   *pose.MockEstimator
}

func setup(t *testing.T) *harness {
	t.Helper()
	dir := t.TempDir()

	logs := &logService{}
	backend := httptest.NewServer(logs)
	t.Cleanup(backend.Close)

	settings := config.Default()
	settings.DataDir = dir
	settings.Estimator.Workers = 1
	settings.Reference.Path = filepath.Join(dir, "reference.json")
	settings.Delivery.URL = backend.URL + "/api/v1/log-session"

	ref := []pose.Frame{pose.ArmPoseKeypoints(90, 90), pose.ArmPoseKeypoints(150, 90)}
	if err := reference.WriteKeypointFile(settings.Reference.Path, "bicep_correct.mp4", ref); err != nil {
		t.Fatalf("write reference: %v", err)
	}

	st, err := store.New(settings.DatabasePath())
	if err != nil {
		t.Fatalf("store.New() error = %v", err)
	}
	t.Cleanup(func() { st.Close() })

	deliverer, err := delivery.New(context.Background(), delivery.Config{
		URL:     settings.Delivery.URL,
		Timeout: settings.DeliveryTimeout(),
	})
	if err != nil {
		t.Fatalf("delivery.New() error = %v", err)
	}

	est := pose.NewMockEstimator()
	application, err := app.New(app.Config{
		Settings:     settings,
		Store:        st,
		Deliverer:    deliverer,
		NewEstimator: func(int) (pose.Estimator, error) { return est, nil },
	})
	if err != nil {
		t.Fatalf("app.New() error = %v", err)
	}
	t.Cleanup(func() { application.Close() })

	if _, err := application.LoadReference(context.Background()); err != nil {
		t.Fatalf("LoadReference() error = %v", err)
	}
	application.Start()

	srv := httptest.NewServer(server.New(server.Config{
		Store:   st,
		Service: application,
	}))
	t.Cleanup(srv.Close)

	return &harness{url: srv.URL, logs: logs, store: st, est: est}
}

func (h *harness) connect(t *testing.T) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(h.url, "http")+"/api/session", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	return conn
}

func send(t *testing.T, conn *websocket.Conn, event string, data any) {
	t.Helper()
	raw, _ := json.Marshal(data)
	if err := conn.WriteJSON(server.Message{Event: event, Data: raw}); err != nil {
		t.Fatalf("write %s: %v", event, err)
	}
}

func receive(t *testing.T, conn *websocket.Conn) server.Message {
	t.Helper()
	var msg server.Message
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read: %v", err)
	}
	return msg
}

func cameraFrame(t *testing.T) string {
	t.Helper()
	img := gocv.NewMatWithSize(480, 640, gocv.MatTypeCV8UC3)
	defer img.Close()
	s, err := render.EncodeBase64(img)
	if err != nil {
		t.Fatalf("encode frame: %v", err)
	}
	return s
}

func TestE2E_CompleteSession(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping e2e test")
	}

	h := setup(t)
	h.est.SetSequence([]pose.Frame{pose.ArmPoseKeypoints(90, 90), pose.ArmPoseKeypoints(100, 90)})
	conn := h.connect(t)
	frame := cameraFrame(t)

	t.Run("StreamFrames", func(t *testing.T) {
		for i := 0; i < 2; i++ {
			send(t, conn, server.EventFrame, frame)
			msg := receive(t, conn)
			if msg.Event != server.EventAnnotatedFrame {
				t.Fatalf("frame %d: got event %q", i, msg.Event)
			}

			var af server.AnnotatedFrame
			if err := json.Unmarshal(msg.Data, &af); err != nil {
				t.Fatalf("decode annotated frame: %v", err)
			}
			if !af.Compared {
				t.Errorf("frame %d was not compared", i)
			}
			img, err := render.DecodeBase64(af.Image)
			if err != nil {
				t.Errorf("frame %d: annotated image does not decode: %v", i, err)
			}
			img.Close()
			if i == 1 && af.TotalErrors != 1 {
				t.Errorf("total_errors = %d, want 1", af.TotalErrors)
			}
		}
	})

	t.Run("EndWithoutUser", func(t *testing.T) {
		send(t, conn, server.EventEndSession, map[string]string{"program_id": "bicep_curl"})
		msg := receive(t, conn)
		if msg.Event != server.EventSessionError || !strings.Contains(string(msg.Data), "user_id required") {
			t.Fatalf("unexpected reply %s %s", msg.Event, msg.Data)
		}
		if n := len(h.logs.received()); n != 0 {
			t.Fatalf("nothing should be delivered yet, got %d reports", n)
		}
	})

	t.Run("EndSession", func(t *testing.T) {
		send(t, conn, server.EventEndSession, server.EndSessionRequest{UserID: "u1"})
		msg := receive(t, conn)
		if msg.Event != server.EventSessionSaved {
			t.Fatalf("unexpected reply %s %s", msg.Event, msg.Data)
		}

		reports := h.logs.received()
		if len(reports) != 1 {
			t.Fatalf("expected 1 report, got %d", len(reports))
		}
		r := reports[0]
		if r["user_id"] != "u1" || r["program_id"] != "bicep_curl" || r["exercise"] != "bicep_curl" {
			t.Errorf("unexpected report header %v", r)
		}
		if r["total_errors"] != float64(1) {
			t.Errorf("total_errors = %v, want 1", r["total_errors"])
		}
		devs, _ := r["deviations"].(map[string]any)
		if len(devs) != 1 || devs["50.0"] != "left_elbow" {
			t.Errorf("deviations = %v, want {\"50.0\": \"left_elbow\"}", r["deviations"])
		}
		if _, err := time.Parse(delivery.TimeFormat, r["session_end_time"].(string)); err != nil {
			t.Errorf("session_end_time %v: %v", r["session_end_time"], err)
		}
	})

	t.Run("History", func(t *testing.T) {
		resp, err := http.Get(h.url + "/api/sessions?user_id=u1")
		if err != nil {
			t.Fatalf("GET /api/sessions error = %v", err)
		}
		defer resp.Body.Close()

		var listed struct {
			Sessions []struct {
				UserID      string `json:"user_id"`
				TotalErrors int    `json:"total_errors"`
				Delivered   bool   `json:"delivered"`
			} `json:"sessions"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&listed); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if len(listed.Sessions) != 1 {
			t.Fatalf("expected 1 stored session, got %d", len(listed.Sessions))
		}
		if s := listed.Sessions[0]; s.TotalErrors != 1 || !s.Delivered {
			t.Errorf("unexpected stored session %+v", s)
		}
	})

	t.Run("Health", func(t *testing.T) {
		resp, err := http.Get(h.url + "/api/health")
		if err != nil {
			t.Fatalf("GET /api/health error = %v", err)
		}
		defer resp.Body.Close()

		var health map[string]any
		json.NewDecoder(resp.Body).Decode(&health)
		if health["status"] != "ok" || health["reference_frames"] != float64(2) {
			t.Errorf("unexpected health %v", health)
		}
	})
}

func TestE2E_DeliveryRejected(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping e2e test")
	}

	h := setup(t)
	h.logs.mu.Lock()
	h.logs.status = http.StatusInternalServerError
	h.logs.mu.Unlock()
	h.est.SetFrame(pose.ArmPoseKeypoints(90, 90))
	conn := h.connect(t)

	send(t, conn, server.EventFrame, cameraFrame(t))
	receive(t, conn)

	send(t, conn, server.EventEndSession, server.EndSessionRequest{UserID: "u2"})
	msg := receive(t, conn)
	if msg.Event != server.EventSessionError || !strings.Contains(string(msg.Data), "Failed to save session on server") {
		t.Fatalf("unexpected reply %s %s", msg.Event, msg.Data)
	}

	list, err := h.store.Summaries().List(store.ListFilter{SubjectID: "u2"})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(list) != 1 || list[0].Delivered || list[0].DeliveryError == "" {
		t.Errorf("expected one undelivered summary, got %+v", list)
	}

	// The session was cleared: ending again reports an empty session.
	h.logs.mu.Lock()
	h.logs.status = http.StatusOK
	h.logs.mu.Unlock()
	send(t, conn, server.EventEndSession, server.EndSessionRequest{UserID: "u2"})
	if msg := receive(t, conn); msg.Event != server.EventSessionSaved {
		t.Fatalf("unexpected reply %s %s", msg.Event, msg.Data)
	}
	reports := h.logs.received()
	if last := reports[len(reports)-1]; last["total_errors"] != float64(0) {
		t.Errorf("expected an empty report after the session was cleared, got %v", last)
	}
}
