package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/osmem/osmem"
	"github.com/vkngwrapper/osmem/system"
)

func writeTrace(t *testing.T, contents string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "test.trace")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func resetReplayFlags() {
	verbose = false
	quiet = false
	replayMapThreshold = osmem.DefaultMapThreshold
	replayPrealloc = osmem.DefaultHeapPreallocSize
	replaySource = "arena"
	replayHeapLimit = system.DefaultArenaHeapLimit
	replayDetailed = false
	replayValidate = true
}

// statsOutput splits replay output into the summary line and the parsed statistics
func statsOutput(t *testing.T, output string) (string, map[string]interface{}) {
	t.Helper()

	summary, statsJson, found := strings.Cut(output, "\n")
	require.True(t, found)

	var stats map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(statsJson), &stats))
	return summary, stats
}

func TestReplay(t *testing.T) {
	resetReplayFlags()
	replayDetailed = true

	path := writeTrace(t, `# mixed workload
alloc a 100
alloc b 200
free a
alloc c 100
calloc d 10 10
realloc c 1000
alloc big 300000
realloc big 400000
free d
`)

	var out, logOut bytes.Buffer
	require.NoError(t, runReplay(&out, &logOut, path))

	summary, stats := statsOutput(t, out.String())
	require.Equal(t, "replayed 9 operations, 3 allocations live", summary)

	total := stats["Total"].(map[string]interface{})
	require.EqualValues(t, 3, total["AllocationCount"])

	mapped := stats["Mapped"].(map[string]interface{})
	require.EqualValues(t, 1, mapped["BlockCount"])

	blockList := stats["BlockList"].(map[string]interface{})
	detailedMap := blockList["DetailedMap"].([]interface{})
	first := detailedMap[0].(map[string]interface{})
	require.Equal(t, "Mapped", first["Type"])
}

func TestReplayHeapLimit(t *testing.T) {
	resetReplayFlags()
	replayHeapLimit = 64 * 1024

	path := writeTrace(t, "alloc a 100\n")

	var out, logOut bytes.Buffer
	err := runReplay(&out, &logOut, path)
	require.Error(t, err)
	require.Contains(t, err.Error(), "line 1: alloc a")
}

func TestReplayTraceErrors(t *testing.T) {
	tests := []struct {
		name    string
		trace   string
		wantErr string
	}{
		{
			name:    "free unknown id",
			trace:   "free a\n",
			wantErr: "id is not live",
		},
		{
			name:    "alloc live id",
			trace:   "alloc a 10\nalloc a 20\n",
			wantErr: "id is already live",
		},
		{
			name:    "parse error",
			trace:   "alloc a ten\n",
			wantErr: "invalid alloc argument",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resetReplayFlags()
			path := writeTrace(t, tt.trace)

			var out, logOut bytes.Buffer
			err := runReplay(&out, &logOut, path)
			require.Error(t, err)
			require.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestReplayUnknownSource(t *testing.T) {
	resetReplayFlags()
	replaySource = "disk"

	path := writeTrace(t, "alloc a 10\n")

	var out, logOut bytes.Buffer
	err := runReplay(&out, &logOut, path)
	require.Error(t, err)
	require.Contains(t, err.Error(), `unknown memory source "disk"`)
}

func TestReplayVerboseLogging(t *testing.T) {
	resetReplayFlags()
	verbose = true
	defer func() { verbose = false }()

	path := writeTrace(t, "alloc a 10\nfree a\n")

	var out, logOut bytes.Buffer
	require.NoError(t, runReplay(&out, &logOut, path))
	require.Contains(t, logOut.String(), "Allocator::Allocate")
	require.Contains(t, logOut.String(), "Preallocated heap")
}

func TestVersionCommand(t *testing.T) {
	var out bytes.Buffer
	versionCmd.SetOut(&out)
	versionCmd.Run(versionCmd, nil)

	require.Contains(t, out.String(), "osmemctl dev")
}
