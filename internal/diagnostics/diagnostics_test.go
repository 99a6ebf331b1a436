package diagnostics

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/fpang/fc-registrar/internal/browser"
	"github.com/fpang/fc-registrar/internal/registration"
	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const failedPage = `<html><body>
<div class="alert alert-danger">  入力内容に誤りがあります  </div>
<div class="form-group has-error"><input name="name_ja"><span class="help-block">名称は必須です</span></div>
<div class="alert alert-warning" style="display: none">hidden warning</div>
<div class="alert alert-danger">入力内容に誤りがあります</div>
<div class="alert alert-success">not an error</div>
</body></html>`

// snapSession is a Session that only supports what the Capturer touches.
type snapSession struct {
	browser.Session
	snap    *browser.Snapshot
	snapErr error
	alert   string
}

func (s *snapSession) Snapshot(context.Context) (*browser.Snapshot, error) {
	return s.snap, s.snapErr
}

func (s *snapSession) PendingAlert(context.Context) (string, bool) {
	return s.alert, s.alert != ""
}

// plainSession cannot snapshot.
type plainSession struct{ browser.Session }

func (plainSession) PendingAlert(context.Context) (string, bool) { return "", false }

func TestExtractMessages(t *testing.T) {
	got := ExtractMessages(failedPage)
	assert.Equal(t, []string{"入力内容に誤りがあります", "名称は必須です"}, got)
	assert.Nil(t, ExtractMessages(""))
}

func TestCompressRoundTrip(t *testing.T) {
	data := bytes.Repeat([]byte(failedPage), 20)
	c, err := Compress(data)
	require.NoError(t, err)
	assert.Less(t, len(c), len(data))

	dec, err := zstd.NewReader(bytes.NewReader(c))
	require.NoError(t, err)
	defer dec.Close()
	out, err := io.ReadAll(dec)
	require.NoError(t, err)
	assert.Equal(t, data, out)
}

func TestCapturer_WritesArtifacts(t *testing.T) {
	dir := t.TempDir()
	c := &Capturer{Sink: DirSink{Dir: dir}}
	sess := &snapSession{
		snap:  &browser.Snapshot{URL: "https://fc.jl-db.jp/location/", HTML: failedPage, Screenshot: []byte("\x89PNG")},
		alert: "保存に失敗しました",
	}
	res := &registration.Result{RunID: "run-1"}

	c.Diagnose(context.Background(), sess, res)

	assert.Equal(t, []string{"alert: 保存に失敗しました", "入力内容に誤りがあります", "名称は必須です"}, res.PageMessages)
	assert.Equal(t, []string{filepath.Join(dir, "run-1.html.zst"), filepath.Join(dir, "run-1.png")}, res.Artifacts)

	png, err := os.ReadFile(filepath.Join(dir, "run-1.png"))
	require.NoError(t, err)
	assert.Equal(t, []byte("\x89PNG"), png)
}

func TestCapturer_SnapshotFailureKeepsAlert(t *testing.T) {
	c := &Capturer{Sink: DirSink{Dir: t.TempDir()}}
	res := &registration.Result{RunID: "run-2"}
	c.Diagnose(context.Background(), &snapSession{snapErr: errors.New("target closed"), alert: "x"}, res)
	assert.Equal(t, []string{"alert: x"}, res.PageMessages)
	assert.Empty(t, res.Artifacts)
}

func TestCapturer_NoSnapshotter(t *testing.T) {
	c := &Capturer{}
	res := &registration.Result{RunID: "run-3"}
	c.Diagnose(context.Background(), plainSession{}, res)
	assert.Empty(t, res.PageMessages)
}

type recordingS3 struct {
	keys []string
}

func (r *recordingS3) GetObject(context.Context, *s3.GetObjectInput, ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	return nil, errors.New("unused")
}

func (r *recordingS3) ListObjectsV2(context.Context, *s3.ListObjectsV2Input, ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	return nil, errors.New("unused")
}

func (r *recordingS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	r.keys = append(r.keys, *in.Key)
	return &s3.PutObjectOutput{}, nil
}

func TestS3Sink(t *testing.T) {
	client := &recordingS3{}
	sink := S3Sink{Client: client, Bucket: "fc-artifacts", Prefix: "diagnostics/2026-10"}

	loc, err := sink.Put(context.Background(), "run-4.png", []byte("png"), "image/png")
	require.NoError(t, err)
	assert.Equal(t, "s3://fc-artifacts/diagnostics/2026-10/run-4.png", loc)
	assert.Equal(t, []string{"diagnostics/2026-10/run-4.png"}, client.keys)
}
