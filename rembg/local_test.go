package rembg

import (
	"context"
	"os/exec"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chaos-io/carstudio/errs"
	"github.com/chaos-io/carstudio/util/pool"
)

func requireCommand(t *testing.T, name string) {
	t.Helper()
	if _, err := exec.LookPath(name); err != nil {
		t.Skipf("%s not available: %v", name, err)
	}
}

func TestLocal_Remove(t *testing.T) {
	t.Parallel()
	requireCommand(t, "cp")

	l := NewLocal(LocalOptions{Command: "cp", Args: []string{"{input}", "{output}"}}, pool.New(1), nil)
	require.NoError(t, l.Available())

	img, err := l.Remove(context.Background(), testSource(t))
	require.NoError(t, err)
	assert.Equal(t, 6, img.Bounds().Dx())
	assert.Equal(t, uint8(0), img.NRGBAAt(5, 3).A)
}

func TestLocal_Unavailable(t *testing.T) {
	t.Parallel()

	l := NewLocal(LocalOptions{Command: "carstudio-no-such-model"}, nil, nil)
	err := l.Available()
	assert.True(t, errs.Is(err, errs.KindUnavailableProvider))

	_, err = l.Remove(context.Background(), testSource(t))
	assert.True(t, errs.Is(err, errs.KindUnavailableProvider))
	assert.Equal(t, LocalName, errs.ProviderOf(err))
}

func TestLocal_CommandFails(t *testing.T) {
	t.Parallel()
	requireCommand(t, "false")

	l := NewLocal(LocalOptions{Command: "false", Args: []string{"{input}"}}, nil, nil)
	_, err := l.Remove(context.Background(), testSource(t))
	assert.True(t, errs.Is(err, errs.KindUpstream))
	assert.Equal(t, LocalName, errs.ProviderOf(err))
}

func TestLocal_NoResult(t *testing.T) {
	t.Parallel()
	requireCommand(t, "true")

	l := NewLocal(LocalOptions{Command: "true", Args: []string{"{input}"}}, nil, nil)
	_, err := l.Remove(context.Background(), testSource(t))
	assert.True(t, errs.Is(err, errs.KindUpstream))
	assert.Contains(t, err.Error(), "no result")
}

func TestLocal_Timeout(t *testing.T) {
	t.Parallel()
	requireCommand(t, "sleep")

	l := NewLocal(LocalOptions{Command: "sleep", Args: []string{"5"}, Timeout: 50 * time.Millisecond}, nil, nil)

	start := time.Now()
	_, err := l.Remove(context.Background(), testSource(t))
	assert.True(t, errs.Is(err, errs.KindTimeout))
	assert.Less(t, time.Since(start), 3*time.Second)
}

func TestLocal_ExpandArgs(t *testing.T) {
	t.Parallel()

	l := NewLocal(LocalOptions{Args: []string{"i", "--in={input}", "{output}"}}, nil, nil)
	assert.Equal(t, []string{"i", "--in=/a.png", "/b.png"}, l.expandArgs("/a.png", "/b.png"))

	def := NewLocal(LocalOptions{}, nil, nil)
	assert.Equal(t, DefaultLocalCommand, def.command)
	assert.Equal(t, []string{"i", "/a", "/b"}, def.expandArgs("/a", "/b"))
}
