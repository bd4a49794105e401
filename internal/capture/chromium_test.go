package capture

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	var o CaptureOptions
	assert.Error(t, o.Normalize())

	o = CaptureOptions{URL: "http://127.0.0.1:8080/report"}
	require.NoError(t, o.Normalize())
	assert.Equal(t, DefaultWidth, o.Width)
	assert.Equal(t, DefaultHeight, o.Height)
	assert.Equal(t, DefaultTimeoutSec*time.Second, o.Timeout)
}

func TestCaptureRequiresURL(t *testing.T) {
	_, err := CaptureReportPNG(context.Background(), CaptureOptions{})
	assert.Error(t, err)
}

func TestWriteFileAtomic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "report.png")
	require.NoError(t, writeFileAtomic(path, []byte("png")))
	require.NoError(t, writeFileAtomic(path, []byte("png2")))

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "png2", string(got))

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}
