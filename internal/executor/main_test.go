package executor

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/spf13/cast"
)

func init() {
	Register("test.square", squareTask)
	Register("test.sleep", sleepTask)
	Register("test.fail", failOddTask)
	Register("test.crash", crashTask)
}

// TestMain doubles as the worker entry point for the processes backend
func TestMain(m *testing.M) {
	if IsWorkerProcess() {
		os.Exit(RunWorker())
	}
	os.Exit(m.Run())
}

func squareTask(ctx context.Context, item any, p Params) (any, error) {
	n, err := cast.ToIntE(item)
	if err != nil {
		return nil, err
	}
	return n * n, nil
}

// sleepTask sleeps for the "sleep" kwarg, only for item "slow" when set
func sleepTask(ctx context.Context, item any, p Params) (any, error) {
	n := cast.ToInt(item)
	d := p.Duration("sleep", 0)
	if slow := p.Int("slow", -1); slow >= 0 && n != slow {
		d = 0
	}
	if d > 0 && p.Bool("ignore_ctx", false) {
		time.Sleep(d)
		return n, nil
	}

	select {
	case <-time.After(d):
		return n, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func failOddTask(ctx context.Context, item any, p Params) (any, error) {
	n := cast.ToInt(item)
	if n%2 == 1 {
		return nil, fmt.Errorf("odd item %d", n)
	}
	return n, nil
}

// crashTask exits the worker process on the "crash" item
func crashTask(ctx context.Context, item any, p Params) (any, error) {
	n := cast.ToInt(item)
	if n == p.Int("crash", -1) {
		os.Exit(3)
	}
	return n, nil
}

func contains(s, substr string) bool {
	return len(s) >= len(substr) && (s == substr || len(substr) == 0 || indexOf(s, substr) >= 0)
}

func indexOf(s, substr string) int {
	for i := 0; i <= len(s)-len(substr); i++ {
		if s[i:i+len(substr)] == substr {
			return i
		}
	}
	return -1
}
