package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestDo_Success(t *testing.T) {
	config := Exponential(3, 1*time.Millisecond, 10*time.Millisecond)

	calls := 0
	result := Do(context.Background(), config, func() error {
		calls++
		return nil
	})

	if result.Err != nil {
		t.Errorf("expected no error, got %v", result.Err)
	}
	if result.Attempts != 1 {
		t.Errorf("expected 1 attempt, got %d", result.Attempts)
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
}

func TestDo_RetryThenSuccess(t *testing.T) {
	config := Config{
		MaxAttempts:  5,
		InitialDelay: 1 * time.Millisecond,
		MaxDelay:     10 * time.Millisecond,
		Factor:       2.0,
		Jitter:       false,
	}

	calls := 0
	result := Do(context.Background(), config, func() error {
		calls++
		if calls < 3 {
			return errors.New("temporary error")
		}
		return nil
	})

	if result.Err != nil {
		t.Errorf("expected no error, got %v", result.Err)
	}
	if result.Attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", result.Attempts)
	}
}

func TestDo_MaxAttempts(t *testing.T) {
	config := Config{
		MaxAttempts:  3,
		InitialDelay: 1 * time.Millisecond,
		MaxDelay:     10 * time.Millisecond,
		Factor:       2.0,
	}

	calls := 0
	result := Do(context.Background(), config, func() error {
		calls++
		return errors.New("always fails")
	})

	if result.Err == nil {
		t.Error("expected error")
	}
	if result.Attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", result.Attempts)
	}
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
}

func TestDo_PermanentError(t *testing.T) {
	config := Config{
		MaxAttempts:  5,
		InitialDelay: 1 * time.Millisecond,
	}

	calls := 0
	result := Do(context.Background(), config, func() error {
		calls++
		return Permanent(errors.New("permanent error"))
	})

	if result.Err == nil {
		t.Error("expected error")
	}
	if result.Attempts != 1 {
		t.Errorf("expected 1 attempt (no retry for permanent), got %d", result.Attempts)
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
}

func TestDo_ContextCanceled(t *testing.T) {
	config := Config{
		MaxAttempts:  5,
		InitialDelay: 100 * time.Millisecond,
	}

	ctx, cancel := context.WithCancel(context.Background())

	calls := 0
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	result := Do(ctx, config, func() error {
		calls++
		return errors.New("retry")
	})

	if !errors.Is(result.Err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", result.Err)
	}
}

func TestDo_ContextCanceledBeforeFirstAttempt(t *testing.T) {
	config := Config{
		MaxAttempts:  3,
		InitialDelay: 1 * time.Millisecond,
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	result := Do(ctx, config, func() error {
		calls++
		return nil
	})

	if calls != 0 {
		t.Errorf("expected 0 calls, got %d", calls)
	}
	if !errors.Is(result.Err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", result.Err)
	}
}

func TestDo_ContextDeadlineExceeded(t *testing.T) {
	config := Config{
		MaxAttempts:  10,
		InitialDelay: 100 * time.Millisecond,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	calls := 0
	result := Do(ctx, config, func() error {
		calls++
		return errors.New("retry")
	})

	if !errors.Is(result.Err, context.DeadlineExceeded) && !errors.Is(result.Err, context.Canceled) {
		t.Errorf("expected context deadline/canceled, got %v", result.Err)
	}
}

func TestDo_ZeroMaxAttempts(t *testing.T) {
	config := Config{
		MaxAttempts:  0, // Should be treated as 1
		InitialDelay: 1 * time.Millisecond,
	}

	calls := 0
	result := Do(context.Background(), config, func() error {
		calls++
		return errors.New("fail")
	})

	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
	if result.Err == nil {
		t.Error("expected error")
	}
}

func TestDo_ZeroDelay(t *testing.T) {
	config := Config{
		MaxAttempts:  3,
		InitialDelay: 0, // Should use default
		MaxDelay:     0, // Should use default
		Factor:       0, // Should use default
	}

	calls := 0
	result := Do(context.Background(), config, func() error {
		calls++
		if calls < 2 {
			return errors.New("retry")
		}
		return nil
	})

	if result.Err != nil {
		t.Errorf("expected no error, got %v", result.Err)
	}
	if calls != 2 {
		t.Errorf("expected 2 calls, got %d", calls)
	}
}

func TestExponential(t *testing.T) {
	config := Exponential(5, 100*time.Millisecond, 10*time.Second)

	if config.MaxAttempts != 5 {
		t.Errorf("MaxAttempts = %d, want 5", config.MaxAttempts)
	}
	if config.Factor != 2.0 {
		t.Errorf("Factor = %f, want 2.0", config.Factor)
	}
	if !config.Jitter {
		t.Error("Exponential should have jitter")
	}
}

func TestPermanent(t *testing.T) {
	err := errors.New("original")
	perm := Permanent(err)

	if !IsPermanent(perm) {
		t.Error("should be permanent")
	}
	if !errors.Is(perm, err) {
		t.Error("should unwrap to original")
	}
}

func TestPermanent_Nil(t *testing.T) {
	result := Permanent(nil)
	if result != nil {
		t.Error("Permanent(nil) should return nil")
	}
}

func TestPermanentError_Error(t *testing.T) {
	original := errors.New("original message")
	perm := Permanent(original)

	if perm.Error() != "original message" {
		t.Errorf("Error() = %q, want %q", perm.Error(), "original message")
	}
}

func TestPermanentError_Unwrap(t *testing.T) {
	original := errors.New("wrapped error")
	perm := Permanent(original)

	unwrapped := errors.Unwrap(perm)
	if unwrapped != original {
		t.Error("Unwrap should return original error")
	}
}

func TestIsPermanent_NestedError(t *testing.T) {
	original := errors.New("base error")
	perm := Permanent(original)

	wrapped := errors.Join(errors.New("wrapper"), perm)

	if !IsPermanent(wrapped) {
		t.Error("IsPermanent should detect wrapped permanent error")
	}
}

func TestResult_Duration(t *testing.T) {
	config := Config{
		MaxAttempts:  3,
		InitialDelay: 10 * time.Millisecond,
		Jitter:       false,
	}

	result := Do(context.Background(), config, func() error {
		time.Sleep(5 * time.Millisecond)
		return errors.New("fail")
	})

	// Duration should be at least (3 calls * 5ms) + (2 delays * 10ms) = 35ms
	// But allow some slack for timing variations
	if result.Duration < 15*time.Millisecond {
		t.Errorf("Duration = %v, expected at least 15ms", result.Duration)
	}
}
