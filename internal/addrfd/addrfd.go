// Package addrfd hands the address a server listens on to the parent
// process, which passes a file descriptor via -addrfd.
package addrfd

import "os"

// Write communicates listening address addr to the parent process via file
// descriptor fd and closes it. An fd of -1 means no parent is listening. It
// must be called precisely once.
func Write(fd int, addr string) error {
	if fd == -1 {
		return nil
	}
	f := os.NewFile(uintptr(fd), "addrfd")
	if _, err := f.Write([]byte(addr)); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
