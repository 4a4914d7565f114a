package transport

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/bitrise-io/go-resumable/source"
)

// contentRange builds the Content-Range header of a chunk.
// A chunk of unknown-length data declares the total once it is final.
func contentRange(chunk source.Chunk, total int64, totalKnown bool) string {
	if !totalKnown && chunk.Final {
		total, totalKnown = chunk.End(), true
	}

	size := "*"
	if totalKnown {
		size = strconv.FormatInt(total, 10)
	}

	if chunk.Len() == 0 {
		return fmt.Sprintf("bytes */%s", size)
	}
	return fmt.Sprintf("bytes %d-%d/%s", chunk.Offset, chunk.End()-1, size)
}

func probeRange(total int64, totalKnown bool) string {
	if !totalKnown {
		return "bytes */*"
	}
	return fmt.Sprintf("bytes */%d", total)
}

// parseRangeHeader returns the number of bytes the server committed.
// Both "bytes=0-N" and "bytes 0-N" are accepted; a missing header means nothing was committed.
func parseRangeHeader(header string) (int64, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0, nil
	}

	byteRange := ""
	switch {
	case strings.HasPrefix(header, "bytes="):
		byteRange = strings.TrimPrefix(header, "bytes=")
	case strings.HasPrefix(header, "bytes "):
		byteRange = strings.TrimPrefix(header, "bytes ")
	default:
		return 0, fmt.Errorf("%w: invalid range header %q", ErrProtocol, header)
	}

	parts := strings.SplitN(strings.TrimSpace(byteRange), "-", 2)
	if len(parts) != 2 {
		return 0, fmt.Errorf("%w: invalid range header %q", ErrProtocol, header)
	}

	start, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: invalid range start in %q", ErrProtocol, header)
	}
	if start != 0 {
		return 0, fmt.Errorf("%w: committed range %q does not start at 0", ErrProtocol, header)
	}

	end, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: invalid range end in %q", ErrProtocol, header)
	}
	if end < start {
		return 0, fmt.Errorf("%w: negative committed range %q", ErrProtocol, header)
	}

	return end + 1, nil
}

// parseRetryAfter reads a Retry-After header given in seconds or as an HTTP date.
func parseRetryAfter(header string, now time.Time) time.Duration {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0
	}

	if seconds, err := strconv.Atoi(header); err == nil {
		if seconds < 0 {
			return 0
		}
		return time.Duration(seconds) * time.Second
	}

	if at, err := http.ParseTime(header); err == nil {
		if d := at.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}
