package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"marginalia/internal/listening"
)

// timeLayout is fixed width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

const sessionColumns = "id, user_id, book_id, status, started_at, ended_at, duration_ms, cap_duration_ms, warning_duration_ms, cap_reached, retry_count, last_retry_at, failed_stage, last_error, transcribe_latency_ms, synthesis_latency_ms, transcribe_fallback_used, degraded_mode, estimated_cost_usd, audio_url, transcript_live, transcript_provider, synthesis_provider, transcript_chars, raw_note_id, synthesized_note_ids, version, created_at, updated_at"

type rowScanner interface{ Scan(dest ...any) error }

func scanSession(scanner rowScanner) (*listening.Session, error) {
	var (
		id                  string
		userID              string
		bookID              string
		statusStr           string
		startedRaw          string
		endedRaw            sql.NullString
		durationMs          sql.NullInt64
		capMs               int64
		warningMs           int64
		capReached          int64
		retryCount          int64
		lastRetryRaw        sql.NullString
		failedStage         sql.NullString
		lastError           sql.NullString
		transcribeLatency   sql.NullInt64
		synthesisLatency    sql.NullInt64
		fallbackUsed        sql.NullInt64
		degraded            sql.NullInt64
		cost                sql.NullFloat64
		audioURL            sql.NullString
		transcriptLive      sql.NullString
		transcriptProvider  sql.NullString
		synthesisProvider   sql.NullString
		transcriptChars     sql.NullInt64
		rawNoteID           sql.NullString
		synthesizedNotesRaw sql.NullString
		version             int64
		createdRaw          string
		updatedRaw          string
	)
	if err := scanner.Scan(
		&id,
		&userID,
		&bookID,
		&statusStr,
		&startedRaw,
		&endedRaw,
		&durationMs,
		&capMs,
		&warningMs,
		&capReached,
		&retryCount,
		&lastRetryRaw,
		&failedStage,
		&lastError,
		&transcribeLatency,
		&synthesisLatency,
		&fallbackUsed,
		&degraded,
		&cost,
		&audioURL,
		&transcriptLive,
		&transcriptProvider,
		&synthesisProvider,
		&transcriptChars,
		&rawNoteID,
		&synthesizedNotesRaw,
		&version,
		&createdRaw,
		&updatedRaw,
	); err != nil {
		return nil, err
	}

	session := &listening.Session{
		ID:                     id,
		UserID:                 userID,
		BookID:                 bookID,
		Status:                 listening.Status(statusStr),
		EndedAt:                parseNullTime(endedRaw),
		DurationMs:             nullInt64Ptr(durationMs),
		CapDurationMs:          capMs,
		WarningDurationMs:      warningMs,
		CapReached:             capReached != 0,
		RetryCount:             int(retryCount),
		LastRetryAt:            parseNullTime(lastRetryRaw),
		FailedStage:            failedStage.String,
		LastError:              lastError.String,
		TranscribeLatencyMs:    nullInt64Ptr(transcribeLatency),
		SynthesisLatencyMs:     nullInt64Ptr(synthesisLatency),
		TranscribeFallbackUsed: nullBoolPtr(fallbackUsed),
		DegradedMode:           nullBoolPtr(degraded),
		AudioURL:               audioURL.String,
		TranscriptLive:         transcriptLive.String,
		TranscriptProvider:     transcriptProvider.String,
		SynthesisProvider:      synthesisProvider.String,
		RawNoteID:              rawNoteID.String,
		Version:                version,
	}
	if cost.Valid {
		v := cost.Float64
		session.EstimatedCostUSD = &v
	}
	if transcriptChars.Valid {
		v := int(transcriptChars.Int64)
		session.TranscriptChars = &v
	}
	if synthesizedNotesRaw.Valid && synthesizedNotesRaw.String != "" {
		if err := json.Unmarshal([]byte(synthesizedNotesRaw.String), &session.SynthesizedNoteIDs); err != nil {
			return nil, err
		}
	}
	if t, err := parseTimeString(startedRaw); err == nil {
		session.StartedAt = t
	}
	if t, err := parseTimeString(createdRaw); err == nil {
		session.CreatedAt = t
	}
	if t, err := parseTimeString(updatedRaw); err == nil {
		session.UpdatedAt = t
	}
	return session, nil
}

func sessionArgs(session *listening.Session) ([]any, error) {
	var noteIDs any
	if len(session.SynthesizedNoteIDs) > 0 {
		encoded, err := json.Marshal(session.SynthesizedNoteIDs)
		if err != nil {
			return nil, err
		}
		noteIDs = string(encoded)
	}
	var cost any
	if session.EstimatedCostUSD != nil {
		cost = *session.EstimatedCostUSD
	}
	var chars any
	if session.TranscriptChars != nil {
		chars = *session.TranscriptChars
	}
	return []any{
		session.UserID,
		session.BookID,
		string(session.Status),
		formatTime(session.StartedAt),
		nullableTime(session.EndedAt),
		nullableInt64(session.DurationMs),
		session.CapDurationMs,
		session.WarningDurationMs,
		boolToInt(session.CapReached),
		session.RetryCount,
		nullableTime(session.LastRetryAt),
		nullableString(session.FailedStage),
		nullableString(session.LastError),
		nullableInt64(session.TranscribeLatencyMs),
		nullableInt64(session.SynthesisLatencyMs),
		nullableBool(session.TranscribeFallbackUsed),
		nullableBool(session.DegradedMode),
		cost,
		nullableString(session.AudioURL),
		nullableString(session.TranscriptLive),
		nullableString(session.TranscriptProvider),
		nullableString(session.SynthesisProvider),
		chars,
		nullableString(session.RawNoteID),
		noteIDs,
	}, nil
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func nullableTime(value *time.Time) any {
	if value == nil {
		return nil
	}
	return formatTime(*value)
}

func nullableInt64(value *int64) any {
	if value == nil {
		return nil
	}
	return *value
}

func nullableBool(value *bool) any {
	if value == nil {
		return nil
	}
	return boolToInt(*value)
}

func nullInt64Ptr(value sql.NullInt64) *int64 {
	if !value.Valid {
		return nil
	}
	v := value.Int64
	return &v
}

func nullBoolPtr(value sql.NullInt64) *bool {
	if !value.Valid {
		return nil
	}
	v := value.Int64 != 0
	return &v
}

func parseNullTime(value sql.NullString) *time.Time {
	if !value.Valid {
		return nil
	}
	t, err := parseTimeString(value.String)
	if err != nil {
		return nil
	}
	return &t
}

func boolToInt(value bool) int {
	if value {
		return 1
	}
	return 0
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTimeString(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty")
	}
	if t, err := time.Parse(timeLayout, value); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339Nano, value)
}

func makePlaceholders(count int) string {
	if count <= 0 {
		return ""
	}
	placeholders := make([]byte, 0, count*2)
	for i := 0; i < count; i++ {
		if i > 0 {
			placeholders = append(placeholders, ',')
		}
		placeholders = append(placeholders, '?')
	}
	return string(placeholders)
}
