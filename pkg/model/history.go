package model

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// MaxHistoryEntries bounds the history collection
const MaxHistoryEntries = 9

type HistoryID string

const historyIDPrefix = "vid_"

// NewHistoryID derives an id from the creation time
func NewHistoryID(t time.Time) HistoryID {
	return HistoryID(historyIDPrefix + strconv.FormatInt(t.UnixMilli(), 10))
}

// Timestamp returns the epoch milliseconds encoded in the id, if any
func (x HistoryID) Timestamp() (int64, bool) {
	s, ok := strings.CutPrefix(string(x), historyIDPrefix)
	if !ok {
		return 0, false
	}
	ts, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, false
	}
	return ts, true
}

// HistoryEntry is one completed generation kept in the history. Entries are
// never modified after creation.
type HistoryEntry struct {
	ID               HistoryID `json:"id" yaml:"id"`
	Prompt           string    `json:"prompt" yaml:"prompt"`
	VideoDataURL     string    `json:"videoDataUrl" yaml:"-"`
	ThumbnailDataURL string    `json:"thumbnailDataUrl" yaml:"-"`
	Timestamp        int64     `json:"timestamp" yaml:"timestamp"`
}

// CreatedAt returns Timestamp as time.Time
func (x *HistoryEntry) CreatedAt() time.Time {
	return time.UnixMilli(x.Timestamp)
}

// Filename is the download name of the entry's video
func (x *HistoryEntry) Filename() string {
	return fmt.Sprintf("veo_video_%s.mp4", x.ID)
}

// ResultFilename is the download name of a freshly generated video
func ResultFilename(t time.Time) string {
	return fmt.Sprintf("veo_video_%d.mp4", t.UnixMilli())
}
