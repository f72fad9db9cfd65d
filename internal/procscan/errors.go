package procscan

import "errors"

var (
	// ErrProcessNotFound means the pid did not name a live process when the read started.
	ErrProcessNotFound = errors.New("process not found")
	// ErrPermissionDenied means the caller may not read the requested table.
	ErrPermissionDenied = errors.New("permission denied")
	// ErrProcessExited means the process went away, or its pid was reused,
	// while the table was being read.
	ErrProcessExited = errors.New("process exited during scan")
	// ErrUnsupportedPlatform is returned by every reader on platforms without
	// a process introspection provider.
	ErrUnsupportedPlatform = errors.New("unsupported platform")
)
