package transport

import (
	"io"
	"os"
)

type stdioTransport struct {
	in  io.ReadCloser
	out io.WriteCloser
}

// Stdio returns a Transport over os.Stdin and os.Stdout. Logs must go to
// stderr while it is in use.
func Stdio() Transport {
	return &stdioTransport{in: os.Stdin, out: os.Stdout}
}

func (s *stdioTransport) Read(p []byte) (int, error)  { return s.in.Read(p) }
func (s *stdioTransport) Write(p []byte) (int, error) { return s.out.Write(p) }

func (s *stdioTransport) Close() error {
	ierr := s.in.Close()
	if err := s.out.Close(); err != nil {
		return err
	}
	return ierr
}
