package interceptor

import (
	"bufio"
	"errors"
	"io"
)

// ACP frames are newline-delimited UTF-8 JSON objects. The codec hands the
// pump the exact bytes read (terminator included) so forwarding stays
// byte-identical; parsing happens on a separate view in Classify.

const (
	readerBufferSize = 64 * 1024
	writerBufferSize = 64 * 1024
)

// FrameReader yields one raw frame at a time from a byte stream.
type FrameReader struct {
	reader *bufio.Reader
}

func NewFrameReader(src io.Reader) *FrameReader {
	return &FrameReader{
		reader: bufio.NewReaderSize(src, readerBufferSize),
	}
}

// Next returns the raw bytes of the next frame, including the terminating
// newline when present. A final unterminated frame at EOF is still
// returned; the following call reports io.EOF. Partial bytes buffered when
// a read error occurs are discarded with the error.
func (r *FrameReader) Next() ([]byte, error) {
	frame, err := r.reader.ReadBytes('\n')
	if err == nil {
		return frame, nil
	}
	if errors.Is(err, io.EOF) && len(frame) > 0 {
		// Stream ended without a trailing newline — yield what we have.
		return frame, nil
	}
	return nil, err
}

// FrameWriter writes raw frames downstream, flushing after each one so a
// frame is never held back from the peer.
type FrameWriter struct {
	writer *bufio.Writer
}

func NewFrameWriter(dst io.Writer) *FrameWriter {
	return &FrameWriter{
		writer: bufio.NewWriterSize(dst, writerBufferSize),
	}
}

// Write writes exactly the given bytes and flushes.
func (w *FrameWriter) Write(frame []byte) error {
	if _, err := w.writer.Write(frame); err != nil {
		return err
	}
	return w.writer.Flush()
}
