// Package diagnostics captures the page after a failed registration: the
// on-page error messages, a zstd-compressed copy of the HTML and a
// screenshot, stored locally or in S3.
package diagnostics

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/fpang/fc-registrar/internal/browser"
	"github.com/fpang/fc-registrar/internal/registration"
	"github.com/fpang/fc-registrar/internal/s3util"
	"github.com/klauspost/compress/zstd"
	"github.com/rs/zerolog/log"
)

// messageSelectors match the elements the site and its form validator use
// for errors and warnings.
var messageSelectors = strings.Join([]string{
	".alert-danger",
	".alert-warning",
	".alert-error",
	".invalid-feedback",
	".has-error .help-block",
	".error-message",
	"label.error",
}, ", ")

const maxMessages = 20

// Sink stores one artifact and returns where it went.
type Sink interface {
	Put(ctx context.Context, name string, data []byte, contentType string) (string, error)
}

// DirSink writes artifacts into a local directory.
type DirSink struct {
	Dir string
}

func (d DirSink) Put(_ context.Context, name string, data []byte, _ string) (string, error) {
	if err := os.MkdirAll(d.Dir, 0o755); err != nil {
		return "", fmt.Errorf("create diagnostics dir: %w", err)
	}
	p := filepath.Join(d.Dir, name)
	if err := os.WriteFile(p, data, 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", p, err)
	}
	return p, nil
}

// S3Sink uploads artifacts under Prefix in Bucket.
type S3Sink struct {
	Client s3util.API
	Bucket string
	Prefix string
}

func (s S3Sink) Put(ctx context.Context, name string, data []byte, contentType string) (string, error) {
	key := path.Join(s.Prefix, name)
	if err := s3util.UploadBytes(ctx, s.Client, s.Bucket, key, data, contentType); err != nil {
		return "", err
	}
	return "s3://" + s.Bucket + "/" + key, nil
}

// Capturer is a registration.Diagnoser. Failures to capture are logged and
// never change the run's outcome.
type Capturer struct {
	Sink Sink
}

var _ registration.Diagnoser = (*Capturer)(nil)

func (c *Capturer) Diagnose(ctx context.Context, s browser.Session, res *registration.Result) {
	logger := log.With().Str("runId", res.RunID).Logger()

	if text, open := s.PendingAlert(ctx); open {
		res.PageMessages = append(res.PageMessages, "alert: "+text)
	}

	snapper, ok := s.(browser.Snapshotter)
	if !ok {
		logger.Debug().Msg("Session cannot capture snapshots")
		return
	}
	snap, err := snapper.Snapshot(ctx)
	if err != nil {
		logger.Warn().Err(err).Msg("Failed to capture page snapshot")
		return
	}

	res.PageMessages = append(res.PageMessages, ExtractMessages(snap.HTML)...)

	if c.Sink == nil {
		return
	}
	if snap.HTML != "" {
		compressed, err := Compress([]byte(snap.HTML))
		if err != nil {
			logger.Warn().Err(err).Msg("Failed to compress page HTML")
		} else if loc, err := c.Sink.Put(ctx, res.RunID+".html.zst", compressed, "application/zstd"); err != nil {
			logger.Warn().Err(err).Msg("Failed to store page HTML")
		} else {
			res.Artifacts = append(res.Artifacts, loc)
		}
	}
	if len(snap.Screenshot) > 0 {
		if loc, err := c.Sink.Put(ctx, res.RunID+".png", snap.Screenshot, "image/png"); err != nil {
			logger.Warn().Err(err).Msg("Failed to store screenshot")
		} else {
			res.Artifacts = append(res.Artifacts, loc)
		}
	}

	logger.Info().
		Str("url", snap.URL).
		Strs("pageMessages", res.PageMessages).
		Strs("artifacts", res.Artifacts).
		Msg("Failure diagnostics captured")
}

// ExtractMessages returns the distinct visible error and warning texts in
// html, in document order.
func ExtractMessages(html string) []string {
	if strings.TrimSpace(html) == "" {
		return nil
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil
	}

	var out []string
	seen := make(map[string]bool)
	doc.Find(messageSelectors).EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		if style, _ := sel.Attr("style"); strings.Contains(strings.ReplaceAll(style, " ", ""), "display:none") {
			return true
		}
		text := strings.Join(strings.Fields(sel.Text()), " ")
		if text == "" || seen[text] {
			return true
		}
		seen[text] = true
		out = append(out, text)
		return len(out) < maxMessages
	})
	return out
}

// Compress zstd-compresses data.
func Compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	enc, err := zstd.NewWriter(&buf, zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(12)))
	if err != nil {
		return nil, err
	}
	if _, err := enc.Write(data); err != nil {
		enc.Close()
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
