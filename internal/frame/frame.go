// Copyright 2024 The Tessera authors. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package frame implements the length-prefixed, self-delimiting
// record framing used by the file-backed log backend: a short text
// header giving the body length in bytes, followed by the body bytes.
// A partial trailing frame (a crash mid-append) is tolerated and
// reported as a clean end of log, never as corruption.
package frame

import (
	"bufio"
	"io"
	"strconv"
	"strings"

	"github.com/brson/blocksy3/internal/xerrors"
)

// Encode returns the on-disk bytes for one frame wrapping body.
func Encode(body []byte) []byte {
	header := strconv.Itoa(len(body))
	out := make([]byte, 0, len(header)+1+len(body)+1)
	out = append(out, header...)
	out = append(out, '\n')
	out = append(out, body...)
	out = append(out, '\n')
	return out
}

// Len returns the number of bytes Encode(body) would occupy, without
// allocating.
func Len(body []byte) int64 {
	return int64(len(strconv.Itoa(len(body)))) + 1 + int64(len(body)) + 1
}

// Decode reads one frame starting at offset from ra, which holds size
// total bytes. ok is false, with err nil, when there is no complete
// frame at offset: this covers both a clean end of log and a partial
// trailing frame left by a crash mid-append, which recovery must
// tolerate as end-of-log rather than corruption.
//
// next is the offset immediately following the decoded frame, valid
// only when ok is true.
func Decode(ra io.ReaderAt, offset, size int64) (body []byte, next int64, ok bool, err error) {
	if offset >= size {
		return nil, offset, false, nil
	}

	sr := io.NewSectionReader(ra, offset, size-offset)
	br := bufio.NewReader(sr)

	headerLine, err := br.ReadString('\n')
	if err != nil {
		// Missing or partial header: a clean or crash-truncated end of log.
		return nil, offset, false, nil
	}
	headerLine = strings.TrimSuffix(headerLine, "\n")

	bodyLen, err := strconv.ParseInt(headerLine, 10, 64)
	if err != nil {
		return nil, offset, false, xerrors.WrapCorrupt(err, "frame header %q at offset %d is not a valid length", headerLine, offset)
	}
	if bodyLen < 0 {
		return nil, offset, false, xerrors.Corruptf("frame header at offset %d has negative length %d", offset, bodyLen)
	}

	buf := make([]byte, bodyLen)
	if _, err := io.ReadFull(br, buf); err != nil {
		// Body (or its trailing newline) got cut off by a crash mid-append.
		return nil, offset, false, nil
	}

	trailer := make([]byte, 1)
	if _, err := io.ReadFull(br, trailer); err != nil {
		return nil, offset, false, nil
	}
	if trailer[0] != '\n' {
		return nil, offset, false, xerrors.Corruptf("frame at offset %d missing trailing newline", offset)
	}

	consumed := int64(len(headerLine)) + 1 + bodyLen + 1
	return buf, offset + consumed, true, nil
}
