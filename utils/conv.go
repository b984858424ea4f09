package utils

import (
	"bytes"

	"github.com/pkg/errors"
	"golang.org/x/text/transform"

	"github.com/mogaika/mmd_pose/config"
)

// BytesToString decodes a nil terminated name field using the configured encoding
func BytesToString(bs []byte) (string, error) {
	s, _, err := transform.Bytes(config.GetEncoding().NewDecoder(), bs[:BytesStringLength(bs)])
	if err != nil {
		return "", errors.Wrapf(err, "Failed to decode %q", bs)
	}
	return string(s), nil
}

func BytesStringLength(bs []byte) int {
	if l := bytes.IndexByte(bs, 0); l == -1 {
		return len(bs)
	} else {
		return l
	}
}

// StringToBytesBuffer encodes s into a zero padded field of bufSize bytes
func StringToBytesBuffer(s string, bufSize int) ([]byte, error) {
	bs, _, err := transform.Bytes(config.GetEncoding().NewEncoder(), []byte(s))
	if err != nil {
		return nil, errors.Wrapf(err, "Failed to encode %q", s)
	}
	if len(bs) > bufSize {
		return nil, errors.Errorf("Name %q takes %d bytes, field size is %d", s, len(bs), bufSize)
	}
	r := make([]byte, bufSize)
	copy(r, bs)
	return r, nil
}
