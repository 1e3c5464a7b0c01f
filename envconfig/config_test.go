package envconfig

import (
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ollama/train/logutil"
)

func TestLogLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"":      slog.LevelInfo,
		"false": slog.LevelInfo,
		"0":     slog.LevelInfo,
		"1":     slog.LevelDebug,
		"true":  slog.LevelDebug,
		"2":     logutil.LevelTrace,
	}

	for value, want := range cases {
		t.Run(value, func(t *testing.T) {
			t.Setenv("TRAIN_DEBUG", value)
			assert.Equal(t, want, LogLevel())
		})
	}
}

func TestUintVars(t *testing.T) {
	t.Setenv("TRAIN_NUM_THREADS", "6")
	t.Setenv("TRAIN_MAX_BUFFER_SIZE", "1048576")
	t.Setenv("TRAIN_SEED", "'42'")

	assert.Equal(t, uint(6), NumThreads())
	assert.Equal(t, uint64(1<<20), MaxBufferSize())
	assert.Equal(t, uint64(42), Seed(), "Quotes werden entfernt")

	t.Setenv("TRAIN_NUM_THREADS", "viele")
	assert.Equal(t, uint(0), NumThreads(), "ungueltige Werte fallen auf den Default zurueck")
}

func TestHistory(t *testing.T) {
	t.Setenv("TRAIN_HISTORY", "/tmp/h.db")
	assert.Equal(t, "/tmp/h.db", History())

	t.Setenv("TRAIN_HISTORY", "")
	t.Setenv("HOME", "/home/test")
	assert.Equal(t, filepath.Join("/home/test", ".train", "history.db"), History())
}

func TestBool(t *testing.T) {
	cases := map[string]bool{
		"":      false,
		"1":     true,
		"false": false,
		"ja":    true,
	}

	for value, want := range cases {
		t.Run(value, func(t *testing.T) {
			t.Setenv("TRAIN_NOHISTORY", value)
			assert.Equal(t, want, NoHistory())
		})
	}
}

func TestValues(t *testing.T) {
	t.Setenv("TRAIN_SEED", "7")
	vals := Values()
	assert.Equal(t, "7", vals["TRAIN_SEED"])
	assert.Len(t, vals, len(AsMap()))
}
