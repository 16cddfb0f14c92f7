package cli

import (
	"os"
	"path/filepath"
	"testing"

	"nativereplay/internal/codec"
	"nativereplay/internal/trace"
	"nativereplay/internal/value"
)

const hostYAML = `
natives:
  - name: strlen
    params: [in]
`

// writeFixture writes a host file and a one-call trace whose script calls
// strlen(arg) against a recording of strlen("abc").
func writeFixture(t *testing.T, dir, arg string) (tracePath, hostPath string) {
	t.Helper()
	data, err := trace.Encode(&trace.Trace{
		Header: trace.Header{EntryPoint: "main.lua", GlobalEnv: value.NewDict()},
		Files: map[string]string{
			"main.lua": `print("len=" .. strlen("` + arg + `"))`,
		},
		FunctionIDs: map[string]uint64{"strlen": 7},
		Calls: []trace.NativeCall{{
			FuncID: 7,
			Args:   []codec.Encoded{codec.MustEncode(value.String("abc"))},
			Return: codec.MustEncode(value.Int(3)),
		}},
	})
	if err != nil {
		t.Fatalf("encode trace: %v", err)
	}
	tracePath = filepath.Join(dir, "trace.bin")
	if err := os.WriteFile(tracePath, data, 0o644); err != nil {
		t.Fatalf("write trace: %v", err)
	}
	hostPath = filepath.Join(dir, "host.yaml")
	if err := os.WriteFile(hostPath, []byte(hostYAML), 0o644); err != nil {
		t.Fatalf("write host: %v", err)
	}
	return tracePath, hostPath
}
