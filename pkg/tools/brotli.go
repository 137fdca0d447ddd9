package tools

import (
	"bytes"
	"io"

	"github.com/andybalholm/brotli"
)

func Brotli(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return []byte{}, nil
	}

	buffer := bytes.Buffer{}
	br := brotli.NewWriter(&buffer)
	if _, err := br.Write(data); err != nil {
		return nil, err
	}
	if err := br.Close(); err != nil {
		return nil, err
	}

	return buffer.Bytes(), nil
}

func UnBrotli(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return []byte{}, nil
	}
	return io.ReadAll(brotli.NewReader(bytes.NewReader(data)))
}
