//go:build windows

package reactor

import "golang.org/x/sys/windows"

func closeFD(fd int) error {
	return windows.CloseHandle(windows.Handle(fd))
}

func readFD(fd int, p []byte) (int, error) {
	var n uint32
	err := windows.ReadFile(windows.Handle(fd), p, &n, nil)
	return int(n), err
}

func writeFD(fd int, p []byte) (int, error) {
	var n uint32
	err := windows.WriteFile(windows.Handle(fd), p, &n, nil)
	return int(n), err
}
