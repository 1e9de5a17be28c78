package dtblink

import (
	"net"
	"time"
)

// dialTCP opens a TCP connection with a combined connect/read/write
// deadline, mirroring comm.TCPSetup.
func dialTCP(addr string, timeout time.Duration) (net.Conn, error) {
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return nil, err
	}
	if err := conn.SetDeadline(time.Now().Add(timeout)); err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}
