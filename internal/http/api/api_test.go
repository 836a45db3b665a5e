package api

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/echolog/echolog-server/internal/analysis"
	"github.com/echolog/echolog-server/internal/billing"
	"github.com/echolog/echolog-server/internal/blob/local"
	"github.com/echolog/echolog-server/internal/dashboard"
	"github.com/echolog/echolog-server/internal/db"
	"github.com/echolog/echolog-server/internal/genai"
	"github.com/echolog/echolog-server/internal/speech"
	"github.com/echolog/echolog-server/internal/transcription"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

const (
	testSecret  = "api-test-secret"
	modelReply  = `{"summary":"Weekly sync","tone":"neutral","keywords":["budget","hiring"],"sections":[{"title":"Budget","content":"Numbers","keywords":["budget"]}]}`
	testBaseURL = "http://example.test"
)

type fakeSpeech struct {
	status speech.Status
	jobs   int
}

func (f *fakeSpeech) Submit(context.Context, speech.Audio, speech.Config) (string, error) {
	f.jobs++
	return strconv.Itoa(7000 + f.jobs), nil
}

func (f *fakeSpeech) Poll(context.Context, string) (speech.Status, error) {
	return f.status, nil
}

type fakeGenerator struct {
	calls int
}

func (f *fakeGenerator) Generate(context.Context, string, genai.GenerationConfig) (string, error) {
	f.calls++
	return modelReply, nil
}

type fakeWarehouse struct{}

func (fakeWarehouse) ServiceCosts(context.Context, billing.Window) ([]billing.CostRow, error) {
	return []billing.CostRow{
		{ServiceDescription: "Cloud Speech-to-Text", Cost: 30, Credits: -5},
		{ServiceDescription: "Cloud Storage", Cost: 10},
	}, nil
}

func (fakeWarehouse) AllTimeTotal(context.Context) (float64, error) { return 120, nil }

func (fakeWarehouse) Name() string { return "fake" }

type testServer struct {
	router    *gin.Engine
	db        *gorm.DB
	speech    *fakeSpeech
	generator *fakeGenerator
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	conn, errOpen := db.OpenMemory()
	if errOpen != nil {
		t.Fatalf("open db: %v", errOpen)
	}
	store, errStore := local.New(t.TempDir(), "audio/", testBaseURL, "blob-secret", time.Hour)
	if errStore != nil {
		t.Fatalf("local store: %v", errStore)
	}
	ts := &testServer{
		router:    gin.New(),
		db:        conn,
		speech:    &fakeSpeech{},
		generator: &fakeGenerator{},
	}
	coordinator := transcription.NewCoordinator(transcription.Options{
		DB:           conn,
		Blobs:        store,
		Speech:       ts.speech,
		SpeechConfig: speech.Config{LanguageCode: "it-IT", SampleRateHertz: 16000, Encoding: "LINEAR16"},
		TempDir:      t.TempDir(),
	})
	RegisterRoutes(ts.router, Deps{
		DB:          conn,
		JWTSecret:   testSecret,
		JWTExpiry:   time.Hour,
		Coordinator: coordinator,
		Analysis:    analysis.NewService(conn, ts.generator, 2048),
		Dashboard:   dashboard.NewService(conn),
		Billing:     billing.NewReporter(fakeWarehouse{}, nil, billing.ReporterConfig{}),
		Blobs:       store,
		PlaybackTTL: time.Minute,
	})
	return ts
}

func (ts *testServer) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		payload, errMarshal := json.Marshal(body)
		if errMarshal != nil {
			t.Fatalf("marshal: %v", errMarshal)
		}
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)
	return rec
}

func (ts *testServer) upload(t *testing.T, path, token, field, filename string, data []byte) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, errPart := writer.CreateFormFile(field, filename)
	if errPart != nil {
		t.Fatalf("create form file: %v", errPart)
	}
	_, _ = part.Write(data)
	_ = writer.WriteField("title", "Standup")
	if errClose := writer.Close(); errClose != nil {
		t.Fatalf("close multipart: %v", errClose)
	}
	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)
	return rec
}

func (ts *testServer) register(t *testing.T, email string) string {
	t.Helper()
	rec := ts.do(t, http.MethodPost, "/api/auth/register", "", map[string]string{"email": email, "password": "correct-horse"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected register 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var body struct {
		Token string `json:"token"`
	}
	decode(t, rec, &body)
	return body.Token
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, dst any) {
	t.Helper()
	if errDecode := json.Unmarshal(rec.Body.Bytes(), dst); errDecode != nil {
		t.Fatalf("decode %s: %v", rec.Body.String(), errDecode)
	}
}

func wavBytes(seconds int) []byte {
	const byteRate = 32000
	data := make([]byte, seconds*byteRate)
	var buf bytes.Buffer
	buf.WriteString("RIFF")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(36+len(data)))
	buf.WriteString("WAVEfmt ")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(16))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(1))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(1))
	_ = binary.Write(&buf, binary.LittleEndian, uint32(16000))
	_ = binary.Write(&buf, binary.LittleEndian, uint32(byteRate))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(2))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(16))
	buf.WriteString("data")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(len(data)))
	buf.Write(data)
	return buf.Bytes()
}

func TestAuthFlow(t *testing.T) {
	ts := newTestServer(t)
	token := ts.register(t, "Ada@Example.com")

	if rec := ts.do(t, http.MethodPost, "/api/auth/register", "", map[string]string{"email": "ada@example.com", "password": "another-pass"}); rec.Code != http.StatusConflict {
		t.Fatalf("expected duplicate register 409, got %d", rec.Code)
	}
	if rec := ts.do(t, http.MethodPost, "/api/auth/register", "", map[string]string{"email": "bob@example.com", "password": "short"}); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected short password 400, got %d", rec.Code)
	}
	if rec := ts.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{"email": "ada@example.com", "password": "wrong-password"}); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected bad login 401, got %d", rec.Code)
	}
	if rec := ts.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{"email": "ada@example.com", "password": "correct-horse"}); rec.Code != http.StatusOK {
		t.Fatalf("expected login 200, got %d", rec.Code)
	}

	rec := ts.do(t, http.MethodGet, "/api/auth/verify", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected verify 200, got %d", rec.Code)
	}
	var verified struct {
		User struct {
			Email string `json:"email"`
			Name  string `json:"name"`
		} `json:"user"`
	}
	decode(t, rec, &verified)
	if verified.User.Email != "ada@example.com" || verified.User.Name != "ada" {
		t.Fatalf("unexpected verified user: %+v", verified.User)
	}
	if rec := ts.do(t, http.MethodGet, "/api/dashboard/stats", "", nil); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rec.Code)
	}
}

func TestAudioUploadPlaybackAndDelete(t *testing.T) {
	ts := newTestServer(t)
	token := ts.register(t, "ada@example.com")
	audio := wavBytes(2)

	rec := ts.upload(t, "/api/audio/upload", token, "audio", "meeting.wav", audio)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected upload 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var uploaded struct {
		Filename  string `json:"filename"`
		Recording struct {
			ID              uint64  `json:"id"`
			DurationSeconds float64 `json:"durationSeconds"`
			Status          string  `json:"status"`
		} `json:"recording"`
	}
	decode(t, rec, &uploaded)
	if uploaded.Recording.Status != "uploaded" || uploaded.Recording.DurationSeconds != 2 {
		t.Fatalf("unexpected recording: %+v", uploaded.Recording)
	}

	rec = ts.do(t, http.MethodGet, "/api/audio/"+uploaded.Filename, token, nil)
	if rec.Code != http.StatusFound {
		t.Fatalf("expected redirect, got %d: %s", rec.Code, rec.Body.String())
	}
	location, errParse := url.Parse(rec.Header().Get("Location"))
	if errParse != nil || !strings.HasPrefix(location.Path, local.RoutePrefix) {
		t.Fatalf("unexpected location %q", rec.Header().Get("Location"))
	}

	rec = ts.do(t, http.MethodGet, location.RequestURI(), "", nil)
	if rec.Code != http.StatusOK || !bytes.Equal(rec.Body.Bytes(), audio) {
		t.Fatalf("expected signed download to return the audio, got %d (%d bytes)", rec.Code, rec.Body.Len())
	}
	tampered := location.Path + "?expires=" + location.Query().Get("expires") + "&signature=deadbeef"
	if rec := ts.do(t, http.MethodGet, tampered, "", nil); rec.Code != http.StatusForbidden {
		t.Fatalf("expected tampered signature 403, got %d", rec.Code)
	}

	other := ts.register(t, "eve@example.com")
	ref := strconv.FormatUint(uploaded.Recording.ID, 10)
	if rec := ts.do(t, http.MethodDelete, "/api/audio/"+ref, other, nil); rec.Code != http.StatusNotFound {
		t.Fatalf("expected foreign delete 404, got %d", rec.Code)
	}
	if rec := ts.do(t, http.MethodDelete, "/api/audio/"+ref, token, nil); rec.Code != http.StatusOK {
		t.Fatalf("expected delete 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if rec := ts.do(t, http.MethodGet, "/api/audio/"+ref, token, nil); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 after delete, got %d", rec.Code)
	}
	if rec := ts.do(t, http.MethodGet, location.RequestURI(), "", nil); rec.Code != http.StatusNotFound {
		t.Fatalf("expected blob gone after delete, got %d", rec.Code)
	}
}

func TestUploadRejectsUnsupportedFormat(t *testing.T) {
	ts := newTestServer(t)
	token := ts.register(t, "ada@example.com")

	rec := ts.upload(t, "/api/audio/upload", token, "audio", "notes.ogg", []byte("OggS"))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	rec = ts.upload(t, "/api/audio/upload", token, "file", "meeting.wav", wavBytes(1))
	if rec.Code != http.StatusBadRequest || !strings.Contains(rec.Body.String(), "audio file is required") {
		t.Fatalf("expected missing field 400, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestTranscribeAnalyzeAndCascade(t *testing.T) {
	ts := newTestServer(t)
	token := ts.register(t, "ada@example.com")

	rec := ts.upload(t, "/api/audio/upload", token, "audio", "meeting.wav", wavBytes(1))
	var uploaded struct {
		Recording struct {
			ID uint64 `json:"id"`
		} `json:"recording"`
	}
	decode(t, rec, &uploaded)

	rec = ts.do(t, http.MethodPost, "/api/transcribe", token, map[string]any{"recordingId": uploaded.Recording.ID})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected transcribe 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var started struct {
		OperationID string `json:"operationId"`
		Status      string `json:"status"`
	}
	decode(t, rec, &started)
	if started.OperationID == "" || started.Status != "processing" {
		t.Fatalf("unexpected submit response: %+v", started)
	}

	statusPath := "/api/transcribe/status/" + started.OperationID
	ts.speech.status = speech.Status{Progress: speech.Progress{Percent: 40}}
	rec = ts.do(t, http.MethodGet, statusPath, token, nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"in_progress"`) || !strings.Contains(rec.Body.String(), `"progressPercent":40`) {
		t.Fatalf("expected in_progress with metadata, got %d: %s", rec.Code, rec.Body.String())
	}

	ts.speech.status = speech.Status{Done: true, Segments: []string{"budget review", "and hiring plan"}}
	rec = ts.do(t, http.MethodGet, statusPath, token, nil)
	var completed struct {
		Status          string `json:"status"`
		Transcription   string `json:"transcription"`
		TranscriptionID string `json:"transcriptionId"`
		Persisted       bool   `json:"persisted"`
	}
	decode(t, rec, &completed)
	if completed.Status != "completed" || !completed.Persisted || completed.Transcription != "budget review and hiring plan" {
		t.Fatalf("unexpected completion: %+v", completed)
	}

	rec = ts.do(t, http.MethodGet, "/api/transcribe/"+completed.TranscriptionID, token, nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "hiring plan") {
		t.Fatalf("expected stored transcription, got %d: %s", rec.Code, rec.Body.String())
	}

	numericID, _ := strconv.ParseUint(completed.TranscriptionID, 10, 64)
	rec = ts.do(t, http.MethodPost, "/api/analyze", token, map[string]any{"text": completed.Transcription, "transcriptionId": numericID})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected analyze 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var analyzed struct {
		ID       uint64           `json:"id"`
		Message  string           `json:"message"`
		Analysis analysis.Payload `json:"analysis"`
	}
	decode(t, rec, &analyzed)
	if analyzed.Analysis.Summary != "Weekly sync" || len(analyzed.Analysis.Keywords) != 2 {
		t.Fatalf("unexpected analysis: %+v", analyzed)
	}

	rec = ts.do(t, http.MethodPost, "/api/analyze", token, map[string]any{"text": "ignored", "transcriptionId": completed.TranscriptionID})
	if !strings.Contains(rec.Body.String(), "analysis already exists") || ts.generator.calls != 1 {
		t.Fatalf("expected stored analysis without a second model call, got %s (%d calls)", rec.Body.String(), ts.generator.calls)
	}

	rec = ts.do(t, http.MethodGet, "/api/analyze?limit=5", token, nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"total":1`) || !strings.Contains(rec.Body.String(), `"limit":5`) {
		t.Fatalf("unexpected history: %s", rec.Body.String())
	}

	rec = ts.do(t, http.MethodGet, "/api/dashboard/stats", token, nil)
	var stats dashboard.Stats
	decode(t, rec, &stats)
	if stats.TotalTranscriptions != 1 || len(stats.MostFrequentKeywords) != 2 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	rec = ts.do(t, http.MethodGet, "/api/dashboard/history", token, nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"available":true`) {
		t.Fatalf("expected available audio in history, got %s", rec.Body.String())
	}

	if rec := ts.do(t, http.MethodDelete, "/api/transcribe/"+completed.TranscriptionID, token, nil); rec.Code != http.StatusOK {
		t.Fatalf("expected delete 200, got %d: %s", rec.Code, rec.Body.String())
	}
	analysisPath := "/api/analyze/" + strconv.FormatUint(analyzed.ID, 10)
	if rec := ts.do(t, http.MethodGet, analysisPath, token, nil); rec.Code != http.StatusNotFound {
		t.Fatalf("expected analysis removed by cascade, got %d", rec.Code)
	}
	if rec := ts.do(t, http.MethodGet, "/api/audio/"+strconv.FormatUint(uploaded.Recording.ID, 10), token, nil); rec.Code != http.StatusNotFound {
		t.Fatalf("expected recording removed by cascade, got %d", rec.Code)
	}
}

func TestPollFailedJobReportsStatus(t *testing.T) {
	ts := newTestServer(t)
	token := ts.register(t, "ada@example.com")

	rec := ts.upload(t, "/api/transcribe", token, "audio", "meeting.wav", wavBytes(1))
	var started struct {
		OperationID string `json:"operationId"`
	}
	decode(t, rec, &started)

	ts.speech.status = speech.Status{Done: true, Err: context.DeadlineExceeded}
	rec = ts.do(t, http.MethodGet, "/api/transcribe/status/"+started.OperationID, token, nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"failed"`) {
		t.Fatalf("expected failed status, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestTextIngestion(t *testing.T) {
	ts := newTestServer(t)
	token := ts.register(t, "ada@example.com")

	rec := ts.do(t, http.MethodPost, "/api/texts", token, map[string]string{"title": "Notes", "text": "one two three"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var created struct {
		Status        string `json:"status"`
		Transcription struct {
			WordCount int `json:"wordCount"`
		} `json:"transcription"`
	}
	decode(t, rec, &created)
	if created.Status != "completed" || created.Transcription.WordCount != 3 {
		t.Fatalf("unexpected text submission: %+v", created)
	}

	rec = ts.do(t, http.MethodPost, "/api/texts", token, map[string]string{"title": "Empty", "text": "   "})
	if rec.Code != http.StatusBadRequest || !strings.Contains(rec.Body.String(), `"error"`) {
		t.Fatalf("expected envelope 400, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = ts.upload(t, "/api/texts/document", token, "document", "notes.txt", []byte("from a document"))
	if rec.Code != http.StatusCreated || !strings.Contains(rec.Body.String(), "from a document") {
		t.Fatalf("expected document 201, got %d: %s", rec.Code, rec.Body.String())
	}
	rec = ts.upload(t, "/api/texts/document", token, "document", "slides.pptx", []byte("x"))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected unsupported document 400, got %d", rec.Code)
	}
}

func TestMockBillingAndHealth(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/analyze/mock", "", nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"sections"`) {
		t.Fatalf("expected mock analysis, got %d: %s", rec.Code, rec.Body.String())
	}
	if rec := ts.do(t, http.MethodGet, "/healthz", "", nil); rec.Code != http.StatusOK {
		t.Fatalf("expected healthz 200, got %d", rec.Code)
	}

	token := ts.register(t, "ada@example.com")
	rec = ts.do(t, http.MethodGet, "/api/billing/costs", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected billing 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var report billing.Report
	decode(t, rec, &report)
	if report.TotalCost != 40 || report.NetCost != 35 || report.AllTimeTotal != 120 || len(report.ServiceBreakdown) != 2 {
		t.Fatalf("unexpected report: %+v", report)
	}
}
