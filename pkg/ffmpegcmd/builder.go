// Package ffmpegcmd builds canonical CLI invocations for the ffmpeg binary.
//
// This layer is a pure "command construction" module: no execution, no I/O.
// It normalizes CLI emission semantics and returns either argv (process
// argument vector) or a shell-quoted command string for logging.
//
// Emission policy is deterministic and explicit:
//
//   - Numeric flags are ALWAYS emitted (including 0).
//   - String flags are emitted only when non-empty.
//   - argv[0] is always the binary path, mirroring POSIX/Go norms.
//
// Process lifecycle belongs in a higher layer.
package ffmpegcmd

import (
	"strconv"
	"strings"
)

// Builder constructs argv and shell-safe command strings for ffmpeg.
//
// The Builder implements a fluent API; it is NOT concurrency-safe.
// Callers should treat a Builder as a single-use, short-lived value object.
type Builder struct {
	args []string // argv including binary name at index 0
}

// NewBuilder returns a Builder pre-seeded with the binary path.
// An empty bin defaults to "ffmpeg" on PATH.
func NewBuilder(bin string) *Builder {
	if bin == "" {
		bin = "ffmpeg"
	}
	return &Builder{args: []string{bin}}
}

// WithFlag appends a flag with a string value if the value is non-empty.
func (b *Builder) WithFlag(flag, val string) *Builder {
	if val != "" {
		b.args = append(b.args, flag, val)
	}
	return b
}

// WithIntFlag appends a flag with a base-10 int value (always emitted).
func (b *Builder) WithIntFlag(flag string, val int) *Builder {
	b.args = append(b.args, flag, strconv.Itoa(val))
	return b
}

// WithArg appends a bare argument if non-empty (switches, positionals, URLs).
func (b *Builder) WithArg(arg string) *Builder {
	if arg != "" {
		b.args = append(b.args, arg)
	}
	return b
}

// BuildArgv returns a defensive copy of the constructed argument vector.
func (b *Builder) BuildArgv() []string {
	out := make([]string, len(b.args))
	copy(out, b.args)
	return out
}

// BuildString returns a single shell-quoted command string, safe for POSIX
// shells. Inner single quotes are escaped as ' -> '\''.
func (b *Builder) BuildString() string {
	quoted := make([]string, len(b.args))
	for i, a := range b.args {
		quoted[i] = shQuote(a)
	}
	return strings.Join(quoted, " ")
}

// SnapshotArgv constructs the canonical single-frame capture invocation:
//
//	ffmpeg -hide_banner -loglevel error -rtsp_transport tcp -i <url>
//	       -frames:v 1 -q:v 2 -y <dest>
//
// bin may be empty ("ffmpeg" on PATH). The output is always overwritten.
func SnapshotArgv(bin, rtspURL, dest string) []string {
	return NewBuilder(bin).
		WithArg("-hide_banner").
		WithFlag("-loglevel", "error").
		WithFlag("-rtsp_transport", "tcp").
		WithFlag("-i", rtspURL).
		WithIntFlag("-frames:v", 1).
		WithIntFlag("-q:v", 2).
		WithArg("-y").
		WithArg(dest).
		BuildArgv()
}

// shQuote returns a POSIX-safe single-quoted token. Empty strings become ''
// to preserve round-trippability.
func shQuote(s string) string {
	if s == "" {
		return "''"
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
