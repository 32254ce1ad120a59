package model

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusTerminal(t *testing.T) {
	assert.False(t, StatusActive.Terminal())
	assert.True(t, StatusExpired.Terminal())
	assert.True(t, StatusExhausted.Terminal())
	assert.True(t, StatusDeleted.Terminal())
}

func TestLinkRecordExpiredAt(t *testing.T) {
	now := time.Now()
	rec := LinkRecord{ExpiresAt: now.Add(2 * time.Hour)}

	assert.False(t, rec.ExpiredAt(now))
	assert.False(t, rec.ExpiredAt(now.Add(2*time.Hour)))
	assert.True(t, rec.ExpiredAt(now.Add(2*time.Hour+time.Second)))
}

func TestLinkRecordExhausted(t *testing.T) {
	rec := LinkRecord{DownloadCount: 4, MaxDownloads: 5}
	assert.False(t, rec.Exhausted())
	assert.Equal(t, 1, rec.RemainingDownloads())

	rec.DownloadCount = 5
	assert.True(t, rec.Exhausted())
	assert.Equal(t, 0, rec.RemainingDownloads())
}

func TestLinkRecordJSONRoundTrip(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Second)
	rec := LinkRecord{
		Token:         "0b26c1f2-9a1c-4f6a-8f8e-1d2e3f4a5b6c",
		FilePath:      "/data/downloads/era5_test.nc",
		SizeBytes:     5 * 1024 * 1024,
		CreatedAt:     now,
		ExpiresAt:     now.Add(2 * time.Hour),
		DownloadCount: 3,
		MaxDownloads:  5,
		Status:        StatusActive,
	}

	data, err := json.Marshal(rec)
	require.NoError(t, err)

	var decoded LinkRecord
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, rec, decoded)
}
