// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package kernelstore // import "github.com/opencl-tools/clelf/kernelstore"

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"

	"github.com/minio/sha256-simd"
)

// ID is used to uniquely identify a kernel binary in a `Store`. It is the
// SHA256 sum of the uncompressed binary.
type ID struct {
	hash [32]byte
}

// String implements the `fmt.Stringer` interface
func (id ID) String() string {
	return hex.EncodeToString(id.hash[:])
}

// IDFromString parses a string into an ID.
func IDFromString(s string) (ID, error) {
	if len(s) != 64 {
		return ID{}, fmt.Errorf("length %d doesn't match expected value (64)", len(s))
	}

	slice, err := hex.DecodeString(s)
	if err != nil {
		return ID{}, fmt.Errorf("failed to parse id: %w", err)
	}

	var id ID
	copy(id.hash[:], slice)

	return id, nil
}

// IDFromBytes returns the ID of an in-memory binary.
func IDFromBytes(b []byte) ID {
	return ID{hash: sha256.Sum256(b)}
}

// MarshalJSON encodes the ID into JSON.
func (id ID) MarshalJSON() ([]byte, error) {
	return json.Marshal(id.String())
}

// UnmarshalJSON decodes JSON into an ID.
func (id *ID) UnmarshalJSON(b []byte) error {
	var v string
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	parsed, err := IDFromString(v)
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// calculateID calculates the ID of the data read from reader.
func calculateID(reader io.Reader) (ID, error) {
	hasher := sha256.New()
	if _, err := io.Copy(hasher, reader); err != nil {
		return ID{}, fmt.Errorf("failed to read chunk: %w", err)
	}

	var id ID
	copy(id.hash[:], hasher.Sum(nil))

	return id, nil
}
