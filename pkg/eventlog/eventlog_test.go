package eventlog

import (
	"path/filepath"
	"testing"

	"github.com/cyclopcam/annotator/pkg/anno"
	"github.com/cyclopcam/logs"
	"github.com/stretchr/testify/require"
)

func TestEventLog(t *testing.T) {
	logger := logs.NewTestingLog(t)
	e, err := Open(logger, filepath.Join(t.TempDir(), "events.sqlite"))
	require.NoError(t, err)
	defer e.Close()

	box := anno.MakeBox(10, 10, 100, 100)
	e.Record("1", ActionCreated, anno.SourceHuman, "", &box)
	e.Record("1", ActionCategory, anno.SourceHuman, "3", &box)
	e.Record("2", ActionCleared, "", "", nil)

	events, err := e.FrameEvents("1")
	require.NoError(t, err)
	require.Len(t, events, 2)
	require.Equal(t, ActionCreated, events[0].Action)
	require.Equal(t, "[10,10,100,100]", events[0].Box)
	require.Equal(t, "3", events[1].CategoryID)

	events, err = e.FrameEvents("2")
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, "", events[0].Box)

	events, err = e.FrameEvents("99")
	require.NoError(t, err)
	require.Len(t, events, 0)
}
