package launch

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestSelectMode(t *testing.T) {
	tests := []struct {
		name    string
		runtime string
		inProc8 bool
		want    Mode
		wantErr error
	}{
		{"dotnet with v-next", "dotnet", true, ModeInProc8, nil},
		{"dotnet without v-next", "dotnet", false, ModeInProc6, nil},
		{"isolated ignores flag", "dotnet-isolated", true, ModeIsolated, nil},
		{"isolated", "dotnet-isolated", false, ModeIsolated, nil},
		{"missing", "", false, ModeNone, ErrWorkerRuntimeMissing},
		{"case sensitive", "Dotnet", false, ModeNone, ErrUnknownWorkerRuntime},
		{"other runtime", "node", false, ModeNone, ErrUnknownWorkerRuntime},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := SelectMode(tt.runtime, tt.inProc8)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				require.NoError(t, err)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSelectMode_PureProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		runtime := rapid.SampledFrom([]string{"", "dotnet", "dotnet-isolated", "java", "DOTNET"}).Draw(t, "runtime")
		flag := rapid.Bool().Draw(t, "inproc8")

		m1, err1 := SelectMode(runtime, flag)
		m2, err2 := SelectMode(runtime, flag)
		if m1 != m2 || (err1 == nil) != (err2 == nil) {
			t.Fatalf("SelectMode is not deterministic for (%q, %v)", runtime, flag)
		}
		if runtime == "dotnet-isolated" && m1 != ModeIsolated {
			t.Fatalf("isolated family must always select isolated, got %s", m1)
		}
		if err1 != nil && m1 != ModeNone {
			t.Fatalf("failed selection must yield ModeNone, got %s", m1)
		}
	})
}

func TestResolve(t *testing.T) {
	root := filepath.FromSlash("/app")
	cli := filepath.Join(root, CoreToolsDirName)

	tests := []struct {
		mode Mode
		goos string
		want string
	}{
		{ModeIsolated, "linux", filepath.Join(cli, "func")},
		{ModeIsolated, "windows", filepath.Join(cli, "func.exe")},
		{ModeInProc8, "linux", filepath.Join(cli, "in-proc8", "func")},
		{ModeInProc6, "linux", filepath.Join(cli, "in-proc6", "func")},
		{ModeInProc6, "windows", filepath.Join(cli, "in-proc6", "func.exe")},
	}

	for _, tt := range tests {
		t.Run(tt.mode.String()+"/"+tt.goos, func(t *testing.T) {
			target, err := Resolve(tt.mode, root, tt.goos)
			require.NoError(t, err)
			assert.Equal(t, tt.want, target.Path)
			assert.Equal(t, tt.mode, target.Mode)
			assert.Equal(t, root, target.Root)
		})
	}

	_, err := Resolve(ModeNone, root, "linux")
	assert.Error(t, err)
}

func TestLoadError(t *testing.T) {
	inner := errors.New("exec format error")
	err := error(&LoadError{Target: Target{Mode: ModeIsolated, Path: "/app/func"}, Err: inner})

	assert.ErrorIs(t, err, inner)
	assert.Contains(t, err.Error(), "isolated")
	assert.Contains(t, err.Error(), "/app/func")
}
