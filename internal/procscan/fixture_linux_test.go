//go:build linux

package procscan

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// fakeProc builds a minimal procfs tree under a temporary directory.
type fakeProc struct {
	t    testing.TB
	root string
}

func newFakeProc(t testing.TB) *fakeProc {
	t.Helper()
	return &fakeProc{t: t, root: t.TempDir()}
}

func (f *fakeProc) dir(pid int) string {
	return filepath.Join(f.root, strconv.Itoa(pid))
}

func (f *fakeProc) write(pid int, name, content string) {
	f.t.Helper()
	path := filepath.Join(f.dir(pid), name)
	require.NoError(f.t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(f.t, os.WriteFile(path, []byte(content), 0o644))
}

func statLine(pid int, comm, state string, starttime uint64) string {
	return fmt.Sprintf("%d (%s) %s 1 %d %d 0 -1 4194560 100 0 0 0 10 5 0 0 20 0 4 0 %d 1000000 2000 18446744073709551615 1 1 0 0 0 0 0 4096 1 0 0 0 17 3 0 0 0 0 0 0 0 0 0 0 0 0 0\n",
		pid, comm, state, pid, pid, starttime)
}

// addProcess creates a live process with the given mapping table.
func (f *fakeProc) addProcess(pid int, starttime uint64, maps string) {
	f.t.Helper()
	f.write(pid, "stat", statLine(pid, "python3", "S", starttime))
	f.write(pid, "maps", maps)
	f.write(pid, "environ", "")
	require.NoError(f.t, os.MkdirAll(filepath.Join(f.dir(pid), "fd"), 0o755))
	require.NoError(f.t, os.MkdirAll(filepath.Join(f.dir(pid), "fdinfo"), 0o755))
}

func (f *fakeProc) setState(pid int, state string, starttime uint64) {
	f.t.Helper()
	f.write(pid, "stat", statLine(pid, "python3", state, starttime))
}

// addFD links descriptor fd of pid to target and records its open flags.
func (f *fakeProc) addFD(pid, fd int, target string, flags uint64) {
	f.t.Helper()
	link := filepath.Join(f.dir(pid), "fd", strconv.Itoa(fd))
	require.NoError(f.t, os.Symlink(target, link))
	f.write(pid, filepath.Join("fdinfo", strconv.Itoa(fd)),
		fmt.Sprintf("pos:\t0\nflags:\t%o\nmnt_id:\t25\nino:\t%d\n", flags, 1000+fd))
}

// addBrokenFD creates a descriptor entry whose link cannot be read.
func (f *fakeProc) addBrokenFD(pid, fd int) {
	f.t.Helper()
	f.write(pid, filepath.Join("fd", strconv.Itoa(fd)), "")
}

func (f *fakeProc) setEnviron(pid int, vars ...string) {
	f.t.Helper()
	f.write(pid, "environ", strings.Join(vars, "\x00")+"\x00")
}

func (f *fakeProc) procFS(opts Options) *ProcFS {
	f.t.Helper()
	p, err := NewProcFS(f.root, opts)
	require.NoError(f.t, err)
	return p
}

// mapsLines renders n contiguous anonymous mappings starting at base.
func mapsLines(base uint64, n int) string {
	var sb strings.Builder
	for i := 0; i < n; i++ {
		start := base + uint64(i)*0x2000
		fmt.Fprintf(&sb, "%x-%x rw-p 00000000 00:00 0 \n", start, start+0x1000)
	}
	return sb.String()
}
