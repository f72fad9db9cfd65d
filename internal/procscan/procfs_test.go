//go:build linux

package procscan

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"gpucheckpoint/internal/gpupath"
)

const gpuMaps = `00400000-00452000 r-xp 00000000 08:02 173521      /usr/bin/python3
7f2c00000000-7f2c40000000 rw-p 00000000 00:00 0
7f2c40000000-7f2c40200000 rw-s 00000000 00:05 512                        /dev/nvidia0
7f2c40200000-7f2c40400000 rw-s 00200000 00:05 512                        /dev/nvidia0
7f2c50000000-7f2c50100000 rw-s 00000000 00:19 88                         /dev/shm/nccl-x8Fq2
7ffd1e5a0000-7ffd1e5c1000 rw-p 00000000 00:00 0                          [stack]
`

func TestReadMappings(t *testing.T) {
	fp := newFakeProc(t)
	fp.addProcess(4242, 1000, gpuMaps)

	snap, err := fp.procFS(Options{}).ReadMappings(context.Background(), 4242)
	require.NoError(t, err)

	assert.Equal(t, 4242, snap.PID)
	require.Len(t, snap.Mappings, 6)
	assert.Empty(t, snap.Warnings)
	assert.Equal(t, "/dev/nvidia0", snap.Mappings[2].Path)
	assert.True(t, snap.Mappings[2].Perms.Shared)
	assert.True(t, snap.Mappings[1].Anonymous())
	assert.Equal(t, uint64(0x40000000), snap.Mappings[1].Size())
	assert.Len(t, snap.Generation, 32)
}

func TestReadMappings_GenerationTracksContentAndIdentity(t *testing.T) {
	fp := newFakeProc(t)
	fp.addProcess(10, 500, gpuMaps)
	p := fp.procFS(Options{})
	ctx := context.Background()

	first, err := p.ReadMappings(ctx, 10)
	require.NoError(t, err)
	again, err := p.ReadMappings(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, first.Generation, again.Generation)

	fp.write(10, "maps", gpuMaps+"7ffd1e600000-7ffd1e601000 r-xp 00000000 00:00 0 [vdso]\n")
	changed, err := p.ReadMappings(ctx, 10)
	require.NoError(t, err)
	assert.NotEqual(t, first.Generation, changed.Generation)

	fp.write(10, "maps", gpuMaps)
	fp.setState(10, "S", 501)
	reused, err := p.ReadMappings(ctx, 10)
	require.NoError(t, err)
	assert.NotEqual(t, first.Generation, reused.Generation, "pid reuse must change the generation")
}

func TestReadMappings_ProcessNotFound(t *testing.T) {
	fp := newFakeProc(t)

	_, err := fp.procFS(Options{}).ReadMappings(context.Background(), 999)
	require.ErrorIs(t, err, ErrProcessNotFound)
}

func TestReadMappings_ZombieIsNotFound(t *testing.T) {
	fp := newFakeProc(t)
	fp.addProcess(11, 100, "")
	fp.setState(11, "Z", 100)

	_, err := fp.procFS(Options{}).ReadMappings(context.Background(), 11)
	require.ErrorIs(t, err, ErrProcessNotFound)
}

func TestReaders_ExitedDuringScan(t *testing.T) {
	readers := []struct {
		table string
		read  func(t *testing.T, p *ProcFS, pid int) error
	}{
		{"maps", func(t *testing.T, p *ProcFS, pid int) error {
			snap, err := p.ReadMappings(context.Background(), pid)
			assert.Empty(t, snap.Mappings, "no partial snapshot")
			return err
		}},
		{"fd", func(t *testing.T, p *ProcFS, pid int) error {
			snap, err := p.ReadDescriptors(context.Background(), pid)
			assert.Empty(t, snap.Descriptors, "no partial snapshot")
			return err
		}},
		{"environ", func(t *testing.T, p *ProcFS, pid int) error {
			env, err := p.ReadEnvironment(context.Background(), pid)
			assert.Empty(t, env.Matches, "no partial snapshot")
			return err
		}},
	}
	mutations := []struct {
		name   string
		mutate func(fp *fakeProc, pid int)
	}{
		{"vanished", func(fp *fakeProc, pid int) { require.NoError(fp.t, os.RemoveAll(fp.dir(pid))) }},
		{"pid reused", func(fp *fakeProc, pid int) { fp.setState(pid, "S", 777) }},
		{"became zombie", func(fp *fakeProc, pid int) { fp.setState(pid, "Z", 100) }},
	}

	for _, r := range readers {
		for _, tt := range mutations {
			t.Run(r.table+"/"+tt.name, func(t *testing.T) {
				fp := newFakeProc(t)
				fp.addProcess(12, 100, gpuMaps)
				fp.addFD(12, 3, "/dev/nvidia0", syscall.O_RDWR)
				fp.setEnviron(12, "CUDA_VISIBLE_DEVICES=0")
				p := fp.procFS(Options{})
				p.beforeRecheck = func(what string, pid int) {
					if what == r.table {
						tt.mutate(fp, pid)
					}
				}

				require.ErrorIs(t, r.read(t, p, 12), ErrProcessExited)
			})
		}
	}
}

func TestReaders_ReportStartTime(t *testing.T) {
	fp := newFakeProc(t)
	fp.addProcess(14, 4321, gpuMaps)
	fp.addFD(14, 3, "/dev/nvidia0", syscall.O_RDWR)
	p := fp.procFS(Options{})
	ctx := context.Background()

	maps, err := p.ReadMappings(ctx, 14)
	require.NoError(t, err)
	descs, err := p.ReadDescriptors(ctx, 14)
	require.NoError(t, err)
	env, err := p.ReadEnvironment(ctx, 14)
	require.NoError(t, err)

	assert.Equal(t, uint64(4321), maps.StartTime)
	assert.Equal(t, uint64(4321), descs.StartTime)
	assert.Equal(t, uint64(4321), env.StartTime)
}

func TestReadMappings_MapsMissingAfterStat(t *testing.T) {
	fp := newFakeProc(t)
	fp.addProcess(13, 100, "")
	require.NoError(t, os.Remove(fp.dir(13)+"/maps"))

	_, err := fp.procFS(Options{}).ReadMappings(context.Background(), 13)
	require.ErrorIs(t, err, ErrProcessExited)
}

func TestErrorMapping(t *testing.T) {
	perm := &os.PathError{Op: "open", Path: "/proc/1/maps", Err: syscall.EACCES}
	assert.ErrorIs(t, startErr(1, perm), ErrPermissionDenied)
	assert.ErrorIs(t, midErr(1, "maps", perm), ErrPermissionDenied)
	assert.ErrorIs(t, midErr(1, "maps", syscall.ESRCH), ErrProcessExited)
	assert.ErrorIs(t, startErr(1, os.ErrNotExist), ErrProcessNotFound)
	assert.ErrorIs(t, midErr(1, "maps", context.DeadlineExceeded), context.DeadlineExceeded)
}

func TestReadDescriptors(t *testing.T) {
	fp := newFakeProc(t)
	fp.addProcess(20, 100, gpuMaps)
	fp.addFD(20, 0, "/dev/null", syscall.O_RDWR)
	fp.addFD(20, 3, "/dev/nvidia0", syscall.O_RDWR|syscall.O_CLOEXEC)
	fp.addFD(20, 4, "/dev/nvidia-uvm", syscall.O_RDWR)
	fp.addFD(20, 5, "/dev/shm/nccl-x8Fq2", syscall.O_RDWR)
	fp.addBrokenFD(20, 9)

	snap, err := fp.procFS(Options{}).ReadDescriptors(context.Background(), 20)
	require.NoError(t, err)
	require.Len(t, snap.Descriptors, 5)

	byFD := map[int]DescriptorInfo{}
	for _, d := range snap.Descriptors {
		byFD[d.FD] = d
	}

	assert.True(t, byFD[0].Classes.Empty())
	assert.True(t, byFD[3].Classes.Has(gpupath.ClassCompute))
	assert.Equal(t, gpupath.VendorNvidia, byFD[3].Vendor)
	assert.Equal(t, uint64(syscall.O_RDWR|syscall.O_CLOEXEC), byFD[3].Flags)
	assert.True(t, byFD[4].Classes.Has(gpupath.ClassUVM))
	assert.True(t, byFD[5].Classes.Has(gpupath.ClassSharedMemory))
	assert.Zero(t, byFD[5].PeerRefs, "peer scan disabled")

	assert.False(t, byFD[9].Resolved)
	assert.Empty(t, byFD[9].Target)
	require.Len(t, snap.Warnings, 1)
	assert.Contains(t, snap.Warnings[0], "fd 9")
}

// fakeInodes answers stat calls on descriptor links from a table keyed by
// "pid/fd", standing in for targets that do not exist on the test host.
func fakeInodes(fp *fakeProc, inodes map[string]uint64) func(string, *unix.Stat_t) error {
	return func(path string, st *unix.Stat_t) error {
		rel, err := filepath.Rel(fp.root, path)
		if err != nil {
			return err
		}
		parts := strings.Split(rel, string(filepath.Separator))
		if len(parts) != 3 || parts[1] != "fd" {
			return os.ErrNotExist
		}
		ino, ok := inodes[parts[0]+"/"+parts[2]]
		if !ok {
			return os.ErrNotExist
		}
		*st = unix.Stat_t{Dev: 0x19, Ino: ino, Mode: unix.S_IFREG | 0o600}
		return nil
	}
}

func TestReadDescriptors_PeerScan(t *testing.T) {
	fp := newFakeProc(t)
	fp.addProcess(30, 100, gpuMaps)
	fp.addFD(30, 5, "/dev/shm/nccl-x8Fq2", syscall.O_RDWR)
	fp.addFD(30, 6, "/dev/shm/cuda.shm.30.1", syscall.O_RDWR)
	fp.addFD(30, 8, "/dev/shm/cuda.shm.30.2", syscall.O_RDWR)

	// Same inode as fd 5.
	fp.addProcess(31, 100, "")
	fp.addFD(31, 7, "/dev/shm/nccl-x8Fq2", syscall.O_RDWR)
	// Same path as fd 6 in another mount namespace, different inode.
	fp.addProcess(32, 100, "")
	fp.addFD(32, 4, "/dev/shm/cuda.shm.30.1", syscall.O_RDWR)
	// Same inode as fd 8, reached through another path.
	fp.addProcess(33, 100, "")
	fp.addFD(33, 9, "/run/shm-alias/segment", syscall.O_RDWR)

	p := fp.procFS(Options{PeerScan: true})
	p.stat = fakeInodes(fp, map[string]uint64{
		"30/5": 88, "30/6": 89, "30/8": 90,
		"31/7": 88,
		"32/4": 4711,
		"33/9": 90,
	})

	snap, err := p.ReadDescriptors(context.Background(), 30)
	require.NoError(t, err)
	require.NoError(t, snap.PeerScanErr)

	refs := map[string]int{}
	for _, d := range snap.Descriptors {
		refs[d.Target] = d.PeerRefs
	}
	assert.Equal(t, 1, refs["/dev/shm/nccl-x8Fq2"])
	assert.Equal(t, 0, refs["/dev/shm/cuda.shm.30.1"], "path match with a different inode is not a peer")
	assert.Equal(t, 1, refs["/dev/shm/cuda.shm.30.2"], "inode match through another path is a peer")
}

func TestReadDescriptors_ProcessNotFound(t *testing.T) {
	fp := newFakeProc(t)
	_, err := fp.procFS(Options{}).ReadDescriptors(context.Background(), 404)
	require.ErrorIs(t, err, ErrProcessNotFound)
}

func TestReadEnvironment(t *testing.T) {
	fp := newFakeProc(t)
	fp.addProcess(40, 100, "")
	fp.setEnviron(40,
		"HOME=/root",
		"CUDA_VISIBLE_DEVICES=0,1",
		"NCCL_DEBUG=INFO",
		"LD_LIBRARY_PATH=/usr/lib",
	)

	env, err := fp.procFS(Options{}).ReadEnvironment(context.Background(), 40)
	require.NoError(t, err)
	assert.True(t, env.Available)
	assert.True(t, env.HasGPU())
	assert.True(t, env.HasDistributed())
	assert.Equal(t, []string{"CUDA_VISIBLE_DEVICES", "NCCL_DEBUG"}, env.Names())
}

func TestReadMappings_TenThousandMappingsLatency(t *testing.T) {
	if testing.Short() {
		t.Skip("latency test skipped in short mode")
	}
	fp := newFakeProc(t)
	fp.addProcess(50, 100, mapsLines(0x10000000, 10000))
	p := fp.procFS(Options{})

	// warm the page cache
	_, err := p.ReadMappings(context.Background(), 50)
	require.NoError(t, err)

	start := time.Now()
	snap, err := p.ReadMappings(context.Background(), 50)
	elapsed := time.Since(start)
	require.NoError(t, err)
	require.Len(t, snap.Mappings, 10000)
	assert.Less(t, elapsed, 100*time.Millisecond)
}

func BenchmarkReadMappings(b *testing.B) {
	for _, n := range []int{100, 1000, 10000} {
		b.Run(strconv.Itoa(n), func(b *testing.B) {
			fp := newFakeProc(b)
			fp.addProcess(60, 100, mapsLines(0x10000000, n))
			p := fp.procFS(Options{})
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				if _, err := p.ReadMappings(context.Background(), 60); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}
