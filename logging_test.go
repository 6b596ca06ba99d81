package svopg

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDefaultLoggerSinksAndPrefix(t *testing.T) {
	var out, errOut bytes.Buffer
	l := NewWriterLogger("voxelgi", false, &out, &errOut)
	oct := l.Named("octree")

	oct.Debugf("hidden %d", 1)
	assert.Empty(t, out.String())

	l.SetDebug(true)
	assert.True(t, oct.DebugEnabled(), "children share the debug switch")
	oct.Debugf("levels %d", 5)
	oct.Infof("built")
	l.Warnf("no timestamps")
	oct.Errorf("boom")

	assert.Contains(t, out.String(), "[voxelgi/octree] DEBUG: levels 5")
	assert.Contains(t, out.String(), "[voxelgi/octree] INFO: built")
	assert.Contains(t, errOut.String(), "[voxelgi] WARN: no timestamps")
	assert.Contains(t, errOut.String(), "[voxelgi/octree] ERROR: boom")
	assert.NotContains(t, out.String(), "boom")
}

func TestOrNopAndRecordingLogger(t *testing.T) {
	assert.NotNil(t, OrNop(nil))
	OrNop(nil).Errorf("dropped")

	r := &RecordingLogger{}
	l := OrNop(r)
	l.Warnf("a %s", "b")
	l.Warnf("c")
	l.Infof("d")
	assert.Equal(t, 2, r.Count("WARN"))
	assert.Equal(t, 1, r.Count("INFO"))
	assert.Equal(t, "WARN: a b", r.Lines[0])
}
