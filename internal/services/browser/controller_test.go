package browser

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/gofrs/flock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/xhspub/internal/common"
)

func TestAllocatorOptions(t *testing.T) {
	config := common.NewDefaultConfig().Browser
	config.ExecPath = "/usr/bin/chromium"

	opts := allocatorOptions(config)

	// defaults + anti-detection flags + user agent + window size + exec path
	assert.Len(t, opts, len(chromedp.DefaultExecAllocatorOptions)+6+3)

	minimal := allocatorOptions(common.BrowserConfig{})
	assert.Len(t, minimal, len(chromedp.DefaultExecAllocatorOptions)+6)
}

func TestController_LockWaitsForOtherHolder(t *testing.T) {
	lockFile := filepath.Join(t.TempDir(), "browser.lock")
	controller := NewController(common.BrowserConfig{LockFile: lockFile}, arbor.NewNoOpLogger())

	other := flock.New(lockFile)
	locked, err := other.TryLock()
	require.NoError(t, err)
	require.True(t, locked)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err = controller.lock(ctx)
	assert.Error(t, err)

	require.NoError(t, other.Unlock())

	unlock, err := controller.lock(context.Background())
	require.NoError(t, err)
	unlock()
}

func TestController_NoLockFile(t *testing.T) {
	controller := NewController(common.BrowserConfig{}, arbor.NewNoOpLogger())
	unlock, err := controller.lock(context.Background())
	require.NoError(t, err)
	unlock()
}
