package whisper

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewCLIEngineExplicitPath(t *testing.T) {
	t.Parallel()

	bin := filepath.Join(t.TempDir(), "whisper-cli")
	require.NoError(t, os.WriteFile(bin, []byte("#!/bin/sh\n"), 0o755))

	engine, err := NewCLIEngine(bin, nil)
	require.NoError(t, err)
	require.Equal(t, bin, engine.Executable)
	require.Equal(t, "whisper-cli", engine.Name())
}

func TestNewCLIEngineRejectsNonExecutablePath(t *testing.T) {
	t.Parallel()

	bin := filepath.Join(t.TempDir(), "whisper-cli")
	require.NoError(t, os.WriteFile(bin, []byte(""), 0o644))

	_, err := NewCLIEngine(bin, nil)
	require.Error(t, err)
}

func TestNewCLIEngineRejectsDirectory(t *testing.T) {
	t.Parallel()

	_, err := NewCLIEngine(t.TempDir(), nil)
	require.Error(t, err)
}

func TestJoinSegments(t *testing.T) {
	t.Parallel()

	require.Equal(t, "", joinSegments(""))
	require.Equal(t, "", joinSegments("\n\n\n"))
	require.Equal(t, "hello world", joinSegments(" hello \n world \n"))
	require.Equal(t, "one two three", joinSegments("one\n\ntwo\nthree"))
}

func TestIsMissingSharedLibraryError(t *testing.T) {
	t.Parallel()

	require.True(t, isMissingSharedLibraryError("error while loading shared libraries: libwhisper.so.1: cannot open shared object file"))
	require.True(t, isMissingSharedLibraryError("dyld: Library not loaded: @rpath/libwhisper.dylib"))
	require.False(t, isMissingSharedLibraryError("some other runtime error"))
	require.False(t, isMissingSharedLibraryError(""))
}
