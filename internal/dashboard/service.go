// Package dashboard computes per-user usage statistics and history.
package dashboard

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/echolog/echolog-server/internal/models"
	"github.com/echolog/echolog-server/internal/settings"
	"gorm.io/gorm"
)

const topKeywords = 10

// KeywordCount is one entry of the keyword leaderboard.
type KeywordCount struct {
	Keyword string `json:"keyword"`
	Count   int    `json:"count"`
}

// Storage summarizes blob usage against the configured limit.
type Storage struct {
	UsedMB       float64 `json:"usedMB"`
	LimitMB      int     `json:"limitMB"`
	UsagePercent int     `json:"usagePercent"`
}

// Stats is the dashboard summary.
type Stats struct {
	TotalTranscriptions  int64          `json:"totalTranscriptions"`
	TotalAudioMinutes    float64        `json:"totalAudioMinutes"`
	AverageWords         int            `json:"averageWords"`
	MostFrequentKeywords []KeywordCount `json:"mostFrequentKeywords"`
	Storage              Storage        `json:"storage"`
}

// AudioAvailability reports whether the recording's audio can still be played.
type AudioAvailability struct {
	Available     bool       `json:"available"`
	DaysRemaining int        `json:"daysRemaining"`
	ExpiresOn     *time.Time `json:"expiresOn"`
}

// HistoryEntry is one analysis with its transcript and recording links.
type HistoryEntry struct {
	ID              uint64            `json:"id"`
	TranscriptionID *uint64           `json:"transcriptionId"`
	RecordingID     *uint64           `json:"recordingId"`
	AudioFilename   *string           `json:"audioFilename"`
	Title           string            `json:"title"`
	Summary         string            `json:"summary"`
	Keywords        []string          `json:"keywords"`
	CreatedAt       time.Time         `json:"createdAt"`
	Audio           AudioAvailability `json:"audio"`
}

// Service reads dashboard data.
type Service struct {
	db  *gorm.DB
	now func() time.Time
}

// NewService wires the datastore.
func NewService(db *gorm.DB) *Service {
	return &Service{db: db, now: time.Now}
}

// Stats aggregates the user's transcripts, recordings and analyses.
func (s *Service) Stats(ctx context.Context, userID uint64) (*Stats, error) {
	db := s.db.WithContext(ctx)
	stats := &Stats{MostFrequentKeywords: []KeywordCount{}}

	var transcriptAgg struct {
		Total int64
		Words float64
	}
	errTranscripts := db.Model(&models.Transcription{}).
		Select("COUNT(*) AS total, COALESCE(SUM(word_count), 0) AS words").
		Where("user_id = ?", userID).
		Scan(&transcriptAgg).Error
	if errTranscripts != nil {
		return nil, errTranscripts
	}
	stats.TotalTranscriptions = transcriptAgg.Total
	if transcriptAgg.Total > 0 {
		stats.AverageWords = int(math.Round(transcriptAgg.Words / float64(transcriptAgg.Total)))
	}

	var recordingAgg struct {
		Seconds float64
		Bytes   float64
	}
	errRecordings := db.Model(&models.Recording{}).
		Select("COALESCE(SUM(duration_seconds), 0) AS seconds, COALESCE(SUM(CASE WHEN audio_expired = ? THEN size_bytes ELSE 0 END), 0) AS bytes", false).
		Where("user_id = ? AND format <> ?", userID, models.RecordingFormatText).
		Scan(&recordingAgg).Error
	if errRecordings != nil {
		return nil, errRecordings
	}
	stats.TotalAudioMinutes = round1(recordingAgg.Seconds / 60)

	limit := settings.StorageLimitMB()
	used := round1(recordingAgg.Bytes / (1 << 20))
	stats.Storage = Storage{UsedMB: used, LimitMB: limit}
	if limit > 0 {
		stats.Storage.UsagePercent = int(math.Min(100, math.Round(used/float64(limit)*100)))
	}

	var keywordRows []models.Analysis
	if errKeywords := db.Select("keywords").Where("user_id = ?", userID).Find(&keywordRows).Error; errKeywords != nil {
		return nil, errKeywords
	}
	stats.MostFrequentKeywords = rankKeywords(keywordRows)
	return stats, nil
}

// History lists analyses newest first with audio availability under the
// current retention window.
func (s *Service) History(ctx context.Context, userID uint64, limit, skip int) ([]HistoryEntry, int64, error) {
	db := s.db.WithContext(ctx)

	var total int64
	if errCount := db.Model(&models.Analysis{}).Where("user_id = ?", userID).Count(&total).Error; errCount != nil {
		return nil, 0, errCount
	}
	var rows []models.Analysis
	errFind := db.Where("user_id = ?", userID).
		Order("created_at DESC").Order("id DESC").
		Offset(skip).Limit(limit).
		Find(&rows).Error
	if errFind != nil {
		return nil, 0, errFind
	}

	transcriptions := map[uint64]models.Transcription{}
	recordings := map[uint64]models.Recording{}
	var transcriptionIDs []uint64
	for i := range rows {
		if rows[i].TranscriptionID != nil {
			transcriptionIDs = append(transcriptionIDs, *rows[i].TranscriptionID)
		}
	}
	if len(transcriptionIDs) > 0 {
		var found []models.Transcription
		if errLoad := db.Where("user_id = ? AND id IN ?", userID, transcriptionIDs).Find(&found).Error; errLoad != nil {
			return nil, 0, errLoad
		}
		recordingIDs := make([]uint64, 0, len(found))
		for _, t := range found {
			transcriptions[t.ID] = t
			recordingIDs = append(recordingIDs, t.RecordingID)
		}
		if len(recordingIDs) > 0 {
			var recs []models.Recording
			if errLoad := db.Where("user_id = ? AND id IN ?", userID, recordingIDs).Find(&recs).Error; errLoad != nil {
				return nil, 0, errLoad
			}
			for _, r := range recs {
				recordings[r.ID] = r
			}
		}
	}

	retentionDays := settings.FileRetentionDays()
	now := s.now()
	entries := make([]HistoryEntry, 0, len(rows))
	for i := range rows {
		row := &rows[i]
		keywords := []string(row.Keywords)
		if keywords == nil {
			keywords = []string{}
		}
		entry := HistoryEntry{
			ID:        row.ID,
			Summary:   row.Summary,
			Keywords:  keywords,
			CreatedAt: row.CreatedAt,
		}
		if row.TranscriptionID != nil {
			if t, ok := transcriptions[*row.TranscriptionID]; ok {
				id := t.ID
				entry.TranscriptionID = &id
				if r, okRec := recordings[t.RecordingID]; okRec {
					recID := r.ID
					entry.RecordingID = &recID
					entry.AudioFilename = r.Filename
					entry.Title = r.Title
					entry.Audio = availability(&r, retentionDays, now)
				}
			}
		}
		entries = append(entries, entry)
	}
	return entries, total, nil
}

// availability follows the retention window from the upload time.
func availability(recording *models.Recording, retentionDays int, now time.Time) AudioAvailability {
	if recording.IsVirtual() || recording.BlobRef == "" || recording.AudioExpired || retentionDays <= 0 {
		return AudioAvailability{}
	}
	age := now.Sub(recording.CreatedAt)
	if age < 0 {
		age = 0
	}
	ageDays := int(math.Ceil(age.Hours() / 24))
	if ageDays > retentionDays {
		return AudioAvailability{}
	}
	expires := recording.CreatedAt.AddDate(0, 0, retentionDays)
	return AudioAvailability{Available: true, DaysRemaining: retentionDays - ageDays, ExpiresOn: &expires}
}

// rankKeywords counts keywords across analyses and keeps the most frequent.
// Ties keep first-seen order.
func rankKeywords(rows []models.Analysis) []KeywordCount {
	counts := map[string]int{}
	var order []string
	for i := range rows {
		for _, keyword := range rows[i].Keywords {
			if keyword == "" {
				continue
			}
			if _, seen := counts[keyword]; !seen {
				order = append(order, keyword)
			}
			counts[keyword]++
		}
	}
	ranked := make([]KeywordCount, 0, len(order))
	for _, keyword := range order {
		ranked = append(ranked, KeywordCount{Keyword: keyword, Count: counts[keyword]})
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].Count > ranked[j].Count })
	if len(ranked) > topKeywords {
		ranked = ranked[:topKeywords]
	}
	return ranked
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
