package registration

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fpang/fc-registrar/internal/browser"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAwait_SucceedsAfterRetries(t *testing.T) {
	w := NewWaiter(newFakeSession(), fastTiming)
	var probes atomic.Int32

	err := w.Await(context.Background(), func(context.Context) Outcome {
		if probes.Add(1) < 3 {
			return Retryable(errors.New("not yet"))
		}
		return Success()
	}, Wait{Name: "third time lucky"})

	require.NoError(t, err)
	assert.Equal(t, int32(3), probes.Load())
}

func TestAwait_BoundedTimeout(t *testing.T) {
	w := NewWaiter(newFakeSession(), fastTiming)
	cause := errors.New("still spinning")

	start := time.Now()
	err := w.Await(context.Background(), func(context.Context) Outcome {
		return Retryable(cause)
	}, Wait{Name: "spinner gone", Target: "css=.spinner"})

	var re *Error
	require.ErrorAs(t, err, &re)
	assert.Equal(t, KindTimeout, re.Kind)
	assert.Equal(t, "css=.spinner", re.Target)
	assert.ErrorIs(t, err, cause)
	assert.GreaterOrEqual(t, time.Since(start), fastTiming.Bounded)
}

func TestAwait_CappedTimeoutIsUploadIncomplete(t *testing.T) {
	w := NewWaiter(newFakeSession(), fastTiming)

	start := time.Now()
	err := w.Await(context.Background(), func(context.Context) Outcome {
		return Retryable(errors.New("3 of 5 complete"))
	}, Wait{Name: "uploads complete", Capped: true})

	assert.Equal(t, KindUploadIncomplete, KindOf(err))
	elapsed := time.Since(start)
	assert.GreaterOrEqual(t, elapsed, fastTiming.UploadCap)
	assert.Less(t, elapsed, 2*time.Second)
}

func TestAwait_OnTimeoutOverridesKind(t *testing.T) {
	w := NewWaiter(newFakeSession(), fastTiming)
	err := w.Await(context.Background(), func(context.Context) Outcome {
		return Retryable(nil)
	}, Wait{Name: "banner", OnTimeout: KindSaveNotConfirmed})
	assert.Equal(t, KindSaveNotConfirmed, KindOf(err))
}

func TestAwait_FatalStopsImmediately(t *testing.T) {
	w := NewWaiter(newFakeSession(), fastTiming)
	cause := errors.New("driver disconnected")
	var probes atomic.Int32

	err := w.Await(context.Background(), func(context.Context) Outcome {
		probes.Add(1)
		return Fatal(cause)
	}, Wait{Name: "anything"})

	assert.ErrorIs(t, err, cause)
	assert.Equal(t, int32(1), probes.Load())
}

func TestAwait_AlertBeforeFirstProbe(t *testing.T) {
	s := newFakeSession()
	s.alertText, s.alertOpen = "不正な住所です", true
	w := NewWaiter(s, fastTiming)
	var probes atomic.Int32

	err := w.Await(context.Background(), func(context.Context) Outcome {
		probes.Add(1)
		return Success()
	}, Wait{Name: "lat populated", AlertPrefix: "geocode rejected"})

	var re *Error
	require.ErrorAs(t, err, &re)
	assert.Equal(t, KindUnexpectedAlert, re.Kind)
	assert.Equal(t, "geocode rejected: 不正な住所です", re.Message)
	assert.Zero(t, probes.Load())
	assert.Equal(t, 1, s.dismissed)
	_, open := s.PendingAlert(context.Background())
	assert.False(t, open)
}

func TestAwait_AlertRaisedWhilePolling(t *testing.T) {
	s := newFakeSession()
	w := NewWaiter(s, fastTiming)
	var probes atomic.Int32

	err := w.Await(context.Background(), func(context.Context) Outcome {
		if probes.Add(1) == 2 {
			s.mu.Lock()
			s.alertText, s.alertOpen = "保存に失敗しました", true
			s.mu.Unlock()
		}
		return Retryable(nil)
	}, Wait{Name: "success banner"})

	assert.Equal(t, KindUnexpectedAlert, KindOf(err))
	assert.Contains(t, err.Error(), "保存に失敗しました")
	assert.Equal(t, int32(2), probes.Load())
}

func TestAwait_AnyWaitReportsAlert(t *testing.T) {
	s := newFakeSession()
	s.alertText, s.alertOpen = "ログインIDまたはパスワードが違います", true
	w := NewWaiter(s, fastTiming)

	_, err := w.Element(context.Background(), browser.Name("name_ja"), false, Wait{Name: "entry form loaded"})
	assert.Equal(t, KindUnexpectedAlert, KindOf(err))
	assert.Contains(t, err.Error(), "ログインIDまたはパスワードが違います")
	assert.Equal(t, 1, s.dismissed)
}

func TestAwait_FatalProbeWithOpenDialogIsAlert(t *testing.T) {
	s := newFakeSession()
	w := NewWaiter(s, fastTiming)

	err := w.Await(context.Background(), func(context.Context) Outcome {
		s.mu.Lock()
		s.alertText, s.alertOpen = "画像の形式が不正です", true
		s.mu.Unlock()
		return Fatal(errors.New("script call refused"))
	}, Wait{Name: "upload modal visible", AlertPrefix: "upload rejected"})

	var re *Error
	require.ErrorAs(t, err, &re)
	assert.Equal(t, KindUnexpectedAlert, re.Kind)
	assert.Equal(t, "upload rejected: 画像の形式が不正です", re.Message)
}

func TestDo_BlockedCallWithDialogIsAlert(t *testing.T) {
	s := newFakeSession()
	w := NewWaiter(s, fastTiming)

	start := time.Now()
	err := w.Do(context.Background(), Wait{Name: "click", Target: "id=btn-g-search", AlertPrefix: "geocode rejected"},
		func(ctx context.Context) error {
			s.mu.Lock()
			s.alertText, s.alertOpen = "住所が見つかりません", true
			s.mu.Unlock()
			<-ctx.Done()
			return ctx.Err()
		})

	var re *Error
	require.ErrorAs(t, err, &re)
	assert.Equal(t, KindUnexpectedAlert, re.Kind)
	assert.Equal(t, "geocode rejected: 住所が見つかりません", re.Message)
	assert.Less(t, time.Since(start), time.Second)
}

func TestDo_BlockedCallIsTimeout(t *testing.T) {
	w := NewWaiter(newFakeSession(), fastTiming)

	err := w.Do(context.Background(), Wait{Name: "click", Target: "id=save-btn"}, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	assert.Equal(t, KindTimeout, KindOf(err))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Contains(t, err.Error(), "id=save-btn")
}

func TestDo_CallerCancellation(t *testing.T) {
	w := NewWaiter(newFakeSession(), Timing{ProbeTimeout: time.Minute})
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(10*time.Millisecond, cancel)

	err := w.Do(ctx, Wait{Name: "click"}, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	assert.Equal(t, KindCancelled, KindOf(err))
}

func TestNavigate_PageLoadDeadlineIsTimeout(t *testing.T) {
	s := &slowNavSession{fakeSession: newFakeSession()}
	w := NewWaiter(s, fastTiming)

	err := w.Navigate(context.Background(), "https://fc.jl-db.jp/login.php")
	assert.Equal(t, KindTimeout, KindOf(err))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Contains(t, err.Error(), "login.php")
}

// slowNavSession reports a page-load deadline of its own while the
// caller's context is still live.
type slowNavSession struct {
	*fakeSession
}

func (s *slowNavSession) Navigate(_ context.Context, url string) error {
	return fmt.Errorf("navigate %s: %w", url, context.DeadlineExceeded)
}

func TestAwait_StuckProbeIsRetried(t *testing.T) {
	w := NewWaiter(newFakeSession(), Timing{
		Bounded:      300 * time.Millisecond,
		PollInterval: 5 * time.Millisecond,
		ProbeTimeout: 20 * time.Millisecond,
	})
	var probes atomic.Int32

	err := w.Await(context.Background(), func(ctx context.Context) Outcome {
		if probes.Add(1) == 1 {
			<-ctx.Done()
			return Fatal(ctx.Err())
		}
		return Success()
	}, Wait{Name: "recovers from a hung call"})

	require.NoError(t, err)
	assert.Equal(t, int32(2), probes.Load())
}

func TestAwait_CancelledMidPoll(t *testing.T) {
	w := NewWaiter(newFakeSession(), Timing{Bounded: time.Minute, PollInterval: 5 * time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(30*time.Millisecond, cancel)

	start := time.Now()
	err := w.Await(ctx, func(context.Context) Outcome {
		return Retryable(errors.New("waiting"))
	}, Wait{Name: "never"})

	assert.Equal(t, KindCancelled, KindOf(err))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestWaiterElement_WaitsForVisibility(t *testing.T) {
	s := newFakeSession()
	modal := hiddenEl()
	s.put(browser.ID("modal"), modal)
	w := NewWaiter(s, fastTiming)

	time.AfterFunc(15*time.Millisecond, func() {
		s.mu.Lock()
		modal.hidden = false
		s.mu.Unlock()
	})

	got, err := w.Element(context.Background(), browser.ID("modal"), true, Wait{})
	require.NoError(t, err)
	assert.Same(t, modal, got.Ref)
}

func TestWaiterElements_TimesOutBelowCount(t *testing.T) {
	s := newFakeSession()
	loc := browser.CSS("#files li.media")
	s.put(loc, el(), el())
	w := NewWaiter(s, fastTiming)

	_, err := w.Elements(context.Background(), loc, 3, Wait{})
	assert.Equal(t, KindTimeout, KindOf(err))
	assert.Contains(t, err.Error(), "2 of 3 present")
}
