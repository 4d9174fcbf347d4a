package refresh

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"time"
)

// downloadAttempts bounds the retry loop per source URL.
const downloadAttempts = 3

// maxLineBytes caps a single feed line. Anything longer is feed
// corruption, not data.
const maxLineBytes = 1 << 20

// fetchToTemp streams one URL into a temporary file so parsing never
// holds the full feed in memory. Feeds can exceed a million lines.
// The caller must invoke cleanup when done with the path.
func fetchToTemp(ctx context.Context, client *http.Client, url string) (path string, cleanup func(), err error) {
	tmp, err := os.CreateTemp("", "fraudguard-feed-*")
	if err != nil {
		return "", nil, fmt.Errorf("create temp file: %w", err)
	}
	path = tmp.Name()
	cleanup = func() { os.Remove(path) }

	var lastErr error
	for attempt := 1; attempt <= downloadAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				tmp.Close()
				cleanup()
				return "", nil, ctx.Err()
			case <-time.After(time.Duration(attempt-1) * 5 * time.Second):
			}
		}

		lastErr = streamOnce(ctx, client, url, tmp)
		if lastErr == nil {
			if err := tmp.Close(); err != nil {
				cleanup()
				return "", nil, fmt.Errorf("close temp file: %w", err)
			}
			return path, cleanup, nil
		}
		log.Printf("[Refresh] download attempt %d/%d for %s failed: %v",
			attempt, downloadAttempts, url, lastErr)
	}

	tmp.Close()
	cleanup()
	return "", nil, fmt.Errorf("download %s: %w", url, lastErr)
}

func streamOnce(ctx context.Context, client *http.Client, url string, tmp *os.File) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", "fraudguard/1.0 reference-refresh")

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 512))
		return fmt.Errorf("HTTP %d", resp.StatusCode)
	}

	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		return err
	}
	if err := tmp.Truncate(0); err != nil {
		return err
	}
	_, err = io.Copy(tmp, resp.Body)
	return err
}

// eachLine reads the file line by line, trimming nothing; the callback
// decides what a valid entry looks like. Malformed lines are the
// callback's problem and never stop the scan.
func eachLine(path string, fn func(line string)) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open feed file: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)
	for scanner.Scan() {
		fn(scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("scan feed file: %w", err)
	}
	return nil
}
