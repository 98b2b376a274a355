package pwdriver

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/playwright-community/playwright-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kuitang/crmscenarios/internal/driver"
)

func TestTimeoutMS(t *testing.T) {
	t.Parallel()

	ms, err := timeoutMS(context.Background())
	require.NoError(t, err)
	assert.Nil(t, ms, "no deadline should leave the playwright default")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	ms, err = timeoutMS(ctx)
	require.NoError(t, err)
	require.NotNil(t, ms)
	assert.InDelta(t, 2000, *ms, 100)

	canceled, cancelNow := context.WithCancel(context.Background())
	cancelNow()
	_, err = timeoutMS(canceled)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMapError(t *testing.T) {
	t.Parallel()

	assert.NoError(t, mapError(nil))

	err := mapError(playwright.ErrTimeout)
	assert.ErrorIs(t, err, driver.ErrTimeout)
	assert.ErrorIs(t, err, playwright.ErrTimeout)

	other := errors.New("target closed")
	assert.Equal(t, other, mapError(other))
}

func TestLoadStates(t *testing.T) {
	t.Parallel()

	assert.Equal(t, playwright.WaitUntilStateCommit, waitUntilState("commit"))
	assert.Equal(t, playwright.WaitUntilStateDomcontentloaded, waitUntilState("domcontentloaded"))
	assert.Equal(t, playwright.WaitUntilStateLoad, waitUntilState(""))
	assert.Equal(t, playwright.LoadStateNetworkidle, loadState("networkidle"))
	assert.Equal(t, playwright.LoadStateDomcontentloaded, loadState(""))
}
