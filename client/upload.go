package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"sync"

	"github.com/caio-sobreiro/dicomview/errors"
	"github.com/caio-sobreiro/dicomview/interfaces"
	"github.com/caio-sobreiro/dicomview/types"
)

// uploadField is the multipart field name the backend reads files from
const uploadField = "files"

// batchFailureName is reported as the file name when a whole batch fails
const batchFailureName = "Upload"

// progressReporter turns byte counts into monotonic integer percentages
type progressReporter struct {
	mu    sync.Mutex
	fn    interfaces.ProgressFunc
	total int64
	sent  int64
	last  int
}

func (p *progressReporter) add(n int64) {
	if p.fn == nil || p.total <= 0 {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sent += n
	// 100 is only reported once the server answered
	pct := int(p.sent * 100 / p.total)
	if pct > 99 {
		pct = 99
	}
	if pct > p.last {
		p.last = pct
		p.fn(pct)
	}
}

func (p *progressReporter) done() {
	if p.fn == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.last < 100 {
		p.last = 100
		p.fn(100)
	}
}

// countingWriter reports bytes written to the multipart body
type countingWriter struct {
	w        io.Writer
	progress *progressReporter
}

func (c *countingWriter) Write(b []byte) (int, error) {
	n, err := c.w.Write(b)
	c.progress.add(int64(n))
	return n, err
}

// Upload sends files as one multipart batch. Progress is reported as
// integer percentages in increasing order, ending with 100 on success.
//
// When the batch as a whole fails, the returned result counts every file as
// failed with a single entry describing the failure, and the error is the
// underlying *errors.TransportError.
func (c *Client) Upload(ctx context.Context, files []types.UploadFile, progress interfaces.ProgressFunc) (*types.UploadResult, error) {
	if len(files) == 0 {
		return &types.UploadResult{Errors: []types.UploadFailure{}}, nil
	}

	result, err := c.upload(ctx, files, progress)
	if err != nil {
		c.logger.ErrorContext(ctx, "Upload failed", "files", len(files), "error", err)
		return &types.UploadResult{
			Uploaded: 0,
			Failed:   len(files),
			Errors:   []types.UploadFailure{{Filename: batchFailureName, Error: err.Error()}},
		}, err
	}

	c.logger.InfoContext(ctx, "Upload completed",
		"uploaded", result.Uploaded,
		"failed", result.Failed)
	return result, nil
}

func (c *Client) upload(ctx context.Context, files []types.UploadFile, progress interfaces.ProgressFunc) (*types.UploadResult, error) {
	const op = "upload"

	reporter := &progressReporter{fn: progress}
	for _, f := range files {
		reporter.total += f.Size
	}

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(&countingWriter{w: pw, progress: reporter})

	go func() {
		pw.CloseWithError(writeParts(mw, files))
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/upload/", pr)
	if err != nil {
		pr.Close()
		return nil, errors.NewTransportError(op, 0, err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Accept", "application/json")

	resp, err := c.send(req)
	if err != nil {
		pr.CloseWithError(err)
		return nil, errors.NewTransportError(op, 0, err)
	}
	defer resp.Body.Close()

	if err := checkStatus(op, resp); err != nil {
		return nil, err
	}

	var result types.UploadResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, errors.NewTransportError(op, resp.StatusCode, fmt.Errorf("decode response: %w", err))
	}
	if result.Errors == nil {
		result.Errors = []types.UploadFailure{}
	}

	reporter.done()
	return &result, nil
}

func writeParts(mw *multipart.Writer, files []types.UploadFile) error {
	for _, f := range files {
		if err := writePart(mw, f); err != nil {
			return err
		}
	}
	return mw.Close()
}

func writePart(mw *multipart.Writer, f types.UploadFile) error {
	part, err := mw.CreateFormFile(uploadField, f.Name)
	if err != nil {
		return err
	}
	rc, err := f.Open()
	if err != nil {
		return fmt.Errorf("open %s: %w", f.Name, err)
	}
	defer rc.Close()
	if _, err := io.Copy(part, rc); err != nil {
		return fmt.Errorf("read %s: %w", f.Name, err)
	}
	return nil
}
