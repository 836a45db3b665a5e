package analysis

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"testing"

	"github.com/echolog/echolog-server/internal/apperr"
	"github.com/echolog/echolog-server/internal/db"
	"github.com/echolog/echolog-server/internal/genai"
	"github.com/echolog/echolog-server/internal/models"
	"gorm.io/gorm"
)

type fakeGenerator struct {
	reply   string
	err     error
	calls   int
	prompts []string
	cfg     genai.GenerationConfig
}

func (f *fakeGenerator) Generate(_ context.Context, prompt string, cfg genai.GenerationConfig) (string, error) {
	f.calls++
	f.prompts = append(f.prompts, prompt)
	f.cfg = cfg
	return f.reply, f.err
}

const fencedReply = "```json\n{\"summary\":\"Meeting recap\",\"tone\":\"formal\",\"keywords\":[\"budget\",\"roadmap\"],\"sections\":[{\"title\":\"Budget\",\"content\":\"Costs\"}]}\n```"

func setup(t *testing.T) (*gorm.DB, *models.Transcription) {
	t.Helper()
	conn, errOpen := db.OpenMemory()
	if errOpen != nil {
		t.Fatalf("open db: %v", errOpen)
	}
	recording := models.Recording{UserID: 1, Title: "standup", Format: models.RecordingFormatText, Status: models.RecordingStatusCompleted}
	if errCreate := conn.Create(&recording).Error; errCreate != nil {
		t.Fatalf("create recording: %v", errCreate)
	}
	transcription := models.Transcription{RecordingID: recording.ID, UserID: 1, FullText: strings.Repeat("parola ", 40), Language: "it-IT"}
	if errCreate := conn.Create(&transcription).Error; errCreate != nil {
		t.Fatalf("create transcription: %v", errCreate)
	}
	return conn, &transcription
}

func TestDecodePayloadHandlesFencesAndProse(t *testing.T) {
	payload, err := DecodePayload(fencedReply)
	if err != nil {
		t.Fatalf("decode fenced: %v", err)
	}
	if payload.Summary != "Meeting recap" || len(payload.Keywords) != 2 || payload.Sections[0].Keywords == nil {
		t.Fatalf("unexpected payload: %+v", payload)
	}

	payload, err = DecodePayload("Here is the analysis: {\"summary\":\"x\"} hope it helps")
	if err != nil || payload.Summary != "x" || payload.Keywords == nil {
		t.Fatalf("expected embedded object to decode, got %+v %v", payload, err)
	}

	if _, err = DecodePayload("I cannot help with that."); err == nil {
		t.Fatalf("expected error for prose reply")
	}
	if _, err = DecodePayload("   "); err == nil {
		t.Fatalf("expected error for empty reply")
	}
}

func TestAnalyzeGeneratesOnceAndReturnsExisting(t *testing.T) {
	conn, transcription := setup(t)
	gen := &fakeGenerator{reply: fencedReply}
	svc := NewService(conn, gen, 2048)
	id := strconv.FormatUint(transcription.ID, 10)

	first, err := svc.Analyze(context.Background(), 1, "the text", id)
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if first.Existing || first.Analysis.Summary != "Meeting recap" || first.TranscriptionID != id {
		t.Fatalf("unexpected first result: %+v", first)
	}
	if gen.cfg.Temperature != 0.2 || gen.cfg.TopP != 0.8 || gen.cfg.TopK != 40 || gen.cfg.MaxOutputTokens != 2048 {
		t.Fatalf("unexpected generation config: %+v", gen.cfg)
	}
	if !strings.Contains(gen.prompts[0], "the text") {
		t.Fatalf("expected text embedded in prompt")
	}

	second, err := svc.Analyze(context.Background(), 1, "the text", id)
	if err != nil {
		t.Fatalf("second analyze: %v", err)
	}
	if !second.Existing || second.ID != first.ID {
		t.Fatalf("expected existing analysis %d, got %+v", first.ID, second)
	}
	if gen.calls != 1 {
		t.Fatalf("expected one model call, got %d", gen.calls)
	}
}

func TestAnalyzeTemporaryTranscription(t *testing.T) {
	conn, _ := setup(t)
	gen := &fakeGenerator{reply: `{"summary":"s","tone":"t","keywords":[],"sections":[]}`}
	svc := NewService(conn, gen, 0)

	result, err := svc.Analyze(context.Background(), 1, "text", "tr-abc-123")
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	var stored models.Analysis
	if errFind := conn.First(&stored, result.ID).Error; errFind != nil {
		t.Fatalf("load analysis: %v", errFind)
	}
	if stored.TranscriptionID != nil || stored.TemporaryTranscriptionID != "tr-abc-123" {
		t.Fatalf("expected temporary link, got %+v", stored)
	}
	if gen.cfg.MaxOutputTokens != 4096 {
		t.Fatalf("expected default max tokens, got %d", gen.cfg.MaxOutputTokens)
	}
}

func TestAnalyzeErrors(t *testing.T) {
	conn, transcription := setup(t)
	id := strconv.FormatUint(transcription.ID, 10)

	svc := NewService(conn, &fakeGenerator{reply: "not json at all"}, 0)
	if _, err := svc.Analyze(context.Background(), 1, " ", id); !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("expected validation error for blank text, got %v", err)
	}
	if _, err := svc.Analyze(context.Background(), 1, "text", ""); !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("expected validation error for missing id, got %v", err)
	}
	if _, err := svc.Analyze(context.Background(), 2, "text", id); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected not found for other user's transcription, got %v", err)
	}

	_, err := svc.Analyze(context.Background(), 1, "text", id)
	if !errors.Is(err, apperr.ErrInvalidModelOutput) {
		t.Fatalf("expected invalid model output, got %v", err)
	}
	if _, details := apperr.Envelope(err); details != "not json at all" {
		t.Fatalf("expected raw reply in details, got %q", details)
	}

	failing := NewService(conn, &fakeGenerator{err: errors.New("quota exhausted")}, 0)
	_, err = failing.Analyze(context.Background(), 1, "text", id)
	if !errors.Is(err, apperr.ErrExternalService) {
		t.Fatalf("expected external service error, got %v", err)
	}
	var count int64
	conn.Model(&models.Analysis{}).Count(&count)
	if count != 0 {
		t.Fatalf("expected nothing stored after failures, got %d", count)
	}
}

func TestGetAndHistory(t *testing.T) {
	conn, transcription := setup(t)
	svc := NewService(conn, &fakeGenerator{reply: fencedReply}, 0)
	created, err := svc.Analyze(context.Background(), 1, "text", strconv.FormatUint(transcription.ID, 10))
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}

	detail, err := svc.Get(context.Background(), 1, created.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if detail.TranscriptionText != transcription.FullText {
		t.Fatalf("expected transcript text on detail")
	}
	if _, err = svc.Get(context.Background(), 9, created.ID); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected not found for other user, got %v", err)
	}

	items, total, err := svc.History(context.Background(), 1, 10, 0)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if total != 1 || len(items) != 1 {
		t.Fatalf("expected one item, got %d/%d", len(items), total)
	}
	if items[0].TranscriptionDate == nil || !strings.HasSuffix(items[0].TextPreview, "...") {
		t.Fatalf("unexpected history item: %+v", items[0])
	}
	if len([]rune(items[0].TextPreview)) != previewLength+3 {
		t.Fatalf("expected %d rune preview, got %d", previewLength+3, len([]rune(items[0].TextPreview)))
	}
}

func TestMockPayloadShape(t *testing.T) {
	mock := Mock()
	if mock.Summary == "" || len(mock.Sections) != 2 || len(mock.Keywords) == 0 {
		t.Fatalf("unexpected mock payload: %+v", mock)
	}
}
