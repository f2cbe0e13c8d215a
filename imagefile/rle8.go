package imagefile

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
)

// maxRunLength is the longest run one RLE8 group can hold: the byte twice plus
// up to 255 repeats.
const maxRunLength = 257

// runLength returns how many times data[0] occurs at the start of `data`.
func runLength(data []byte) int {
	n := 1
	for n < len(data) && data[n] == data[0] {
		n++
	}
	return n
}

// encodeRLE8 writes the RLE8 encoding of `data` to `output` and returns the
// number of bytes written.
func encodeRLE8(data []byte, output io.Writer) (int64, error) {
	writer := bufio.NewWriter(output)
	total := int64(0)

	for len(data) > 0 {
		value := data[0]
		remaining := runLength(data)
		data = data[remaining:]

		for remaining >= 2 {
			group := min(remaining, maxRunLength)
			n, err := writer.Write([]byte{value, value, byte(group - 2)})
			total += int64(n)
			if err != nil {
				return total, err
			}
			remaining -= group
		}

		if remaining == 1 {
			if err := writer.WriteByte(value); err != nil {
				return total, err
			}
			total++
		}
	}
	return total, writer.Flush()
}

// decodeRLE8 expands RLE8 data from `input` until EOF and returns the number
// of bytes written to `output`.
func decodeRLE8(input io.Reader, output io.Writer) (int64, error) {
	source := bufio.NewReader(input)
	previous := -1
	total := int64(0)

	for {
		current, err := source.ReadByte()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return total, nil
			}
			return total, fmt.Errorf("error reading input: %w", err)
		}

		var chunk []byte
		if int(current) == previous {
			repeats, err := source.ReadByte()
			if err != nil {
				if errors.Is(err, io.EOF) {
					err = io.ErrUnexpectedEOF
				}
				return total, fmt.Errorf(
					"missing repeat count after two %02x bytes: %w", current, err)
			}

			// The first copy went out on the previous iteration, so the group
			// contributes one more plus the repeats.
			chunk = bytes.Repeat([]byte{current}, int(repeats)+1)

			// A group is complete; a following identical byte starts a new one.
			previous = -1
		} else {
			previous = int(current)
			chunk = []byte{current}
		}

		n, err := output.Write(chunk)
		total += int64(n)
		if err != nil {
			return total, fmt.Errorf("failed to write to output: %w", err)
		}
	}
}
