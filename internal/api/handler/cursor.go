package handler

import (
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/cuongbtq/weather-pipeline/internal/store"
)

// DecodeRunCursor parses an opaque page cursor. An empty string means the first page.
func DecodeRunCursor(cursorStr string) (*store.RunCursor, error) {
	if cursorStr == "" {
		return nil, nil
	}

	decoded, err := base64.URLEncoding.DecodeString(cursorStr)
	if err != nil {
		return nil, err
	}

	startedAt, runID, ok := strings.Cut(string(decoded), "|")
	if !ok || runID == "" {
		return nil, fmt.Errorf("invalid cursor format")
	}

	var nanos int64
	if _, err := fmt.Sscanf(startedAt, "%d", &nanos); err != nil {
		return nil, fmt.Errorf("invalid started_at in cursor: %w", err)
	}

	return &store.RunCursor{
		StartedAt: time.Unix(0, nanos).UTC(),
		RunID:     runID,
	}, nil
}

func EncodeRunCursor(cursor *store.RunCursor) string {
	cs := fmt.Sprintf("%d|%s", cursor.StartedAt.UnixNano(), cursor.RunID)
	return base64.URLEncoding.EncodeToString([]byte(cs))
}
