/*
Copyright 2024 Alexandre Mahdhaoui

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package communicator

import "strings"

// Stream tags the origin of an output chunk.
type Stream int

const (
	Stdout Stream = iota
	Stderr
)

func (s Stream) String() string {
	switch s {
	case Stdout:
		return "stdout"
	case Stderr:
		return "stderr"
	default:
		return "unknown"
	}
}

// Chunk is a piece of command output.
type Chunk struct {
	Stream Stream
	Data   string
}

// OutputFunc consumes output chunks in order. Returning false stops delivery
// of the remaining chunks; the command itself still runs to completion.
// The sequence of chunks is finite and cannot be replayed.
type OutputFunc func(Chunk) bool

// TakeFirst stores the first non-blank stdout chunk, trimmed, into dst and
// stops consuming.
func TakeFirst(dst *string) OutputFunc {
	return func(c Chunk) bool {
		if c.Stream != Stdout {
			return true
		}

		data := strings.TrimSpace(c.Data)
		if data == "" {
			return true
		}

		*dst = data

		return false
	}
}

// Collect appends every stdout chunk to dst, one per line.
func Collect(dst *strings.Builder) OutputFunc {
	return func(c Chunk) bool {
		if c.Stream != Stdout {
			return true
		}

		dst.WriteString(c.Data)
		if !strings.HasSuffix(c.Data, "\n") {
			dst.WriteByte('\n')
		}

		return true
	}
}

// Discard drops every chunk.
func Discard() OutputFunc {
	return func(Chunk) bool { return true }
}

// Deliver feeds chunks to fn until it returns false. It reports whether every
// chunk was consumed. A nil fn consumes everything.
func Deliver(fn OutputFunc, chunks ...Chunk) bool {
	if fn == nil {
		return true
	}

	for _, c := range chunks {
		if !fn(c) {
			return false
		}
	}

	return true
}
