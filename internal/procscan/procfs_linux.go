//go:build linux

package procscan

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/prometheus/procfs"
	"golang.org/x/crypto/blake2b"
	"golang.org/x/sys/unix"

	"gpucheckpoint/internal/gpupath"
)

// ProcFS reads process evidence from a procfs mount.
type ProcFS struct {
	fs         procfs.FS
	root       string
	table      *gpupath.Table
	indicators []Indicator
	peerScan   bool
	stat       func(path string, st *unix.Stat_t) error

	// beforeRecheck runs between reading a table and the identity re-check.
	beforeRecheck func(what string, pid int)
}

// NewProcFS opens the procfs mounted at root (procfs.DefaultMountPoint when empty).
func NewProcFS(root string, opts Options) (*ProcFS, error) {
	if root == "" {
		root = procfs.DefaultMountPoint
	}
	pfs, err := procfs.NewFS(root)
	if err != nil {
		return nil, fmt.Errorf("open procfs at %s: %w", root, err)
	}
	return &ProcFS{
		fs:         pfs,
		root:       root,
		table:      opts.table(),
		indicators: opts.indicators(),
		peerScan:   opts.PeerScan,
		stat:       unix.Stat,
	}, nil
}

func (p *ProcFS) path(pid int, elem ...string) string {
	return filepath.Join(append([]string{p.root, strconv.Itoa(pid)}, elem...)...)
}

// open resolves pid to a live process and its start time.
func (p *ProcFS) open(pid int) (procfs.Proc, uint64, error) {
	proc, err := p.fs.Proc(pid)
	if err != nil {
		return procfs.Proc{}, 0, startErr(pid, err)
	}
	st, err := proc.Stat()
	if err != nil {
		return procfs.Proc{}, 0, startErr(pid, err)
	}
	if st.State == "Z" || st.State == "X" {
		return procfs.Proc{}, 0, fmt.Errorf("pid %d is a zombie: %w", pid, ErrProcessNotFound)
	}
	return proc, st.Starttime, nil
}

// recheck confirms pid is still the incarnation that started at started
// once a table has been read.
func (p *ProcFS) recheck(proc procfs.Proc, pid int, started uint64, what string) error {
	if p.beforeRecheck != nil {
		p.beforeRecheck(what, pid)
	}
	after, err := proc.Stat()
	if err != nil || after.Starttime != started || after.State == "Z" || after.State == "X" {
		return fmt.Errorf("pid %d: identity changed while reading %s: %w", pid, what, ErrProcessExited)
	}
	return nil
}

// startErr maps failures that happen before any table was read.
func startErr(pid int, err error) error {
	switch {
	case errors.Is(err, fs.ErrNotExist), errors.Is(err, unix.ESRCH):
		return fmt.Errorf("pid %d: %w", pid, ErrProcessNotFound)
	case errors.Is(err, fs.ErrPermission):
		return fmt.Errorf("pid %d: %w", pid, ErrPermissionDenied)
	default:
		return fmt.Errorf("pid %d: %w", pid, err)
	}
}

// midErr maps failures that happen after the process was seen alive.
func midErr(pid int, what string, err error) error {
	switch {
	case errors.Is(err, fs.ErrNotExist), errors.Is(err, unix.ESRCH):
		return fmt.Errorf("pid %d: read %s: %w", pid, what, ErrProcessExited)
	case errors.Is(err, fs.ErrPermission):
		return fmt.Errorf("pid %d: read %s: %w", pid, what, ErrPermissionDenied)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	default:
		return fmt.Errorf("pid %d: read %s: %w", pid, what, err)
	}
}

// ReadMappings reads the mapping table of pid.
func (p *ProcFS) ReadMappings(ctx context.Context, pid int) (MappingSnapshot, error) {
	if err := ctx.Err(); err != nil {
		return MappingSnapshot{}, err
	}
	proc, started, err := p.open(pid)
	if err != nil {
		return MappingSnapshot{}, err
	}

	f, err := os.Open(p.path(pid, "maps"))
	if err != nil {
		return MappingSnapshot{}, midErr(pid, "maps", err)
	}
	defer f.Close()

	h, err := blake2b.New256(nil)
	if err != nil {
		return MappingSnapshot{}, err
	}
	fmt.Fprintf(h, "%d:%d\n", pid, started)

	mappings, warnings, err := scanMappings(ctx, f, h)
	if err != nil {
		return MappingSnapshot{}, midErr(pid, "maps", err)
	}

	if err := p.recheck(proc, pid, started, "maps"); err != nil {
		return MappingSnapshot{}, err
	}

	sum := h.Sum(nil)
	return MappingSnapshot{
		PID:        pid,
		Mappings:   mappings,
		Warnings:   warnings,
		Generation: hex.EncodeToString(sum[:16]),
		StartTime:  started,
	}, nil
}

// ReadDescriptors reads the descriptor table of pid.
func (p *ProcFS) ReadDescriptors(ctx context.Context, pid int) (DescriptorSnapshot, error) {
	if err := ctx.Err(); err != nil {
		return DescriptorSnapshot{}, err
	}
	proc, started, err := p.open(pid)
	if err != nil {
		return DescriptorSnapshot{}, err
	}

	fds, err := proc.FileDescriptors()
	if err != nil {
		return DescriptorSnapshot{}, midErr(pid, "fd", err)
	}
	sort.Slice(fds, func(i, j int) bool { return fds[i] < fds[j] })

	snap := DescriptorSnapshot{PID: pid, Descriptors: make([]DescriptorInfo, 0, len(fds)), StartTime: started}
	for i, fd := range fds {
		if i%ctxCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return DescriptorSnapshot{}, err
			}
		}
		fdStr := strconv.FormatUint(uint64(fd), 10)
		info := DescriptorInfo{FD: int(fd)}

		link := p.path(pid, "fd", fdStr)
		target, err := os.Readlink(link)
		if err != nil {
			snap.Warnings = append(snap.Warnings, fmt.Sprintf("fd %d: %v", fd, err))
			snap.Descriptors = append(snap.Descriptors, info)
			continue
		}
		info.Target = target
		info.Resolved = true

		var st unix.Stat_t
		if p.stat(link, &st) == nil {
			info.Dev = uint64(st.Dev)
			info.Inode = uint64(st.Ino)
			if st.Mode&unix.S_IFMT == unix.S_IFCHR {
				rdev := uint64(st.Rdev)
				info.Rdev = &rdev
			}
		}
		if fdinfo, err := proc.FDInfo(fdStr); err == nil {
			info.Flags, _ = strconv.ParseUint(fdinfo.Flags, 8, 64)
		}

		m := p.table.Classify(target)
		info.Classes = m.Classes
		info.Vendor = m.Vendor
		snap.Descriptors = append(snap.Descriptors, info)
	}

	// Links of an exited process fail one by one; report the exit instead.
	if err := p.recheck(proc, pid, started, "fd"); err != nil {
		return DescriptorSnapshot{}, err
	}

	if p.peerScan {
		snap.PeerScanErr = p.countPeers(ctx, pid, snap.Descriptors)
	}
	return snap, nil
}

type devIno struct {
	dev, ino uint64
}

// countPeers fills PeerRefs for shared-memory descriptors by looking for
// other processes holding the same backing inode.
func (p *ProcFS) countPeers(ctx context.Context, pid int, descs []DescriptorInfo) error {
	wanted := map[devIno][]int{}
	for i, d := range descs {
		if d.Resolved && d.Inode != 0 && d.Classes.Has(gpupath.ClassSharedMemory) {
			key := devIno{d.Dev, d.Inode}
			wanted[key] = append(wanted[key], i)
		}
	}
	if len(wanted) == 0 {
		return nil
	}

	procs, err := p.fs.AllProcs()
	if err != nil {
		return fmt.Errorf("list processes: %w", err)
	}

	found := map[devIno]bool{}
	for _, peer := range procs {
		if peer.PID == pid {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		entries, err := os.ReadDir(p.path(peer.PID, "fd"))
		if err != nil {
			continue
		}
		for _, e := range entries {
			var st unix.Stat_t
			if p.stat(p.path(peer.PID, "fd", e.Name()), &st) != nil {
				continue
			}
			key := devIno{uint64(st.Dev), uint64(st.Ino)}
			if _, ok := wanted[key]; ok {
				found[key] = true
			}
		}
		if len(found) == len(wanted) {
			break
		}
	}

	for key, idx := range wanted {
		if !found[key] {
			continue
		}
		for _, i := range idx {
			descs[i].PeerRefs = 1
		}
	}
	return nil
}

// ReadEnvironment probes the environment block of pid for indicators.
func (p *ProcFS) ReadEnvironment(ctx context.Context, pid int) (Environment, error) {
	if err := ctx.Err(); err != nil {
		return Environment{}, err
	}
	proc, started, err := p.open(pid)
	if err != nil {
		return Environment{}, err
	}
	vars, err := proc.Environ()
	if err != nil {
		return Environment{}, midErr(pid, "environ", err)
	}
	if err := p.recheck(proc, pid, started, "environ"); err != nil {
		return Environment{}, err
	}
	env := MatchIndicators(vars, p.indicators)
	env.StartTime = started
	return env, nil
}
