package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/go-git/go-billy/v5"

	"launcher-go/internal/transport"
)

// Worker runs one transfer at a time for the scheduler.
type Worker struct {
	client    *transport.Client
	fs        billy.Filesystem
	gov       *Governor
	store     *TaskStore
	reporter  *ProgressReporter
	verifier  *ChecksumVerifier
	chunkSize int
	logger    *slog.Logger
}

// Run downloads t to its destination. It returns nil when the file is
// complete and verified, a *StopError when token was signalled, or a
// *TaskError.
func (w *Worker) Run(ctx context.Context, t *Task, token *StopToken) error {
	err := w.run(ctx, t, token)
	if err == nil {
		return nil
	}
	// a signalled stop explains any error it caused
	if stop := token.Err(); stop != nil {
		return stop
	}
	return err
}

func (w *Worker) run(ctx context.Context, t *Task, token *StopToken) error {
	if err := token.Err(); err != nil {
		return err
	}

	if err := w.fs.MkdirAll(filepath.Dir(t.Destination), 0o755); err != nil {
		return destinationError(fmt.Errorf("create directory: %w", err))
	}

	offset := int64(0)
	if t.SupportsResume && t.Progress.DownloadedBytes > 0 {
		if info, err := w.fs.Stat(t.Destination); err == nil {
			offset = min(info.Size(), t.Progress.DownloadedBytes)
		}
	}

	resp, err := w.client.Open(ctx, t.URL, offset, nil)
	if errors.Is(err, transport.ErrRangeNotSatisfiable) && offset > 0 {
		// stale partial file; start over
		offset = 0
		resp, err = w.client.Open(ctx, t.URL, 0, nil)
	}
	if err != nil {
		return w.openError(t, err)
	}
	defer resp.Body.Close()

	if resp.Offset != offset {
		w.logger.Debug("server ignored range, restarting", "id", t.ID, "requested", offset)
		offset = resp.Offset
	}

	total := resp.Total
	if total == 0 {
		total = t.Progress.TotalBytes
	}
	if err := w.store.SetResume(t.ID, resp.AcceptsRanges, total); err != nil {
		return err
	}

	f, err := w.fs.OpenFile(t.Destination, os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return destinationError(fmt.Errorf("open %s: %w", t.Destination, err))
	}
	written, copyErr := w.copy(ctx, t, token, f, resp.Body, offset, total)
	if err := f.Close(); err != nil && copyErr == nil {
		copyErr = networkError(fmt.Errorf("close %s: %w", t.Destination, err))
	}
	if copyErr != nil {
		return copyErr
	}

	if total > 0 && written != total {
		return networkError(fmt.Errorf("short transfer: got %d of %d bytes", written, total))
	}

	if t.ExpectedChecksum != "" {
		result, err := w.verifier.Verify(t.Destination, t.ExpectedChecksum)
		if err != nil {
			return networkError(fmt.Errorf("verify checksum: %w", err))
		}
		if !result.Match {
			return &TaskError{Kind: KindChecksumMismatch, Err: &ChecksumMismatchError{
				Algorithm: result.Algorithm,
				Expected:  result.Expected,
				Actual:    result.Actual,
			}}
		}
		w.logger.Debug("checksum verified", "id", t.ID, "algorithm", result.Algorithm)
	}
	return nil
}

// copy streams body into f starting at offset and returns the final size.
func (w *Worker) copy(ctx context.Context, t *Task, token *StopToken, f billy.File, body io.Reader, offset, total int64) (int64, error) {
	if err := f.Truncate(offset); err != nil {
		return 0, destinationError(fmt.Errorf("truncate %s: %w", t.Destination, err))
	}
	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return 0, destinationError(fmt.Errorf("seek %s: %w", t.Destination, err))
	}

	written := offset
	w.reporter.Observe(t.ID, written, total)
	buf := make([]byte, w.chunkSize)

	for {
		if err := token.Err(); err != nil {
			return written, err
		}

		n, readErr := body.Read(buf)
		if n > 0 {
			if total > 0 && written+int64(n) > total {
				return written, networkError(fmt.Errorf("server sent more than %d bytes", total))
			}
			if err := w.gov.WaitN(ctx, n); err != nil {
				return written, networkError(err)
			}
			if _, err := f.Write(buf[:n]); err != nil {
				return written, networkError(fmt.Errorf("write %s: %w", t.Destination, err))
			}
			written += int64(n)

			p := w.reporter.Observe(t.ID, written, total)
			if err := w.store.UpdateProgress(t.ID, p); err != nil {
				return written, err
			}
		}

		if readErr == io.EOF {
			return written, nil
		}
		if readErr != nil {
			return written, networkError(readErr)
		}
	}
}

func (w *Worker) openError(t *Task, err error) error {
	if errors.Is(err, transport.ErrUnauthorized) || errors.Is(err, transport.ErrForbidden) {
		return authenticationError(t.Provider, err)
	}
	return networkError(err)
}
