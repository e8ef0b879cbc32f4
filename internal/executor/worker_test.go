package executor

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
)

func TestServeWorker(t *testing.T) {
	input := strings.Join([]string{
		`{"id":1,"func":"test.square","item":4}`,
		`{"id":2,"func":"test.fail","item":3}`,
		`{"id":3,"func":"missing","item":null}`,
		`{"id":4,"func":"test.sleep","item":2,"params":{"kwargs":{"sleep":"1ms"}}}`,
	}, "\n") + "\n"

	var out bytes.Buffer
	if err := ServeWorker(context.Background(), strings.NewReader(input), &out, quietLogger()); err != nil {
		t.Fatalf("ServeWorker failed: %v", err)
	}

	var responses []workerResponse
	scanner := bufio.NewScanner(&out)
	for scanner.Scan() {
		var resp workerResponse
		if err := json.Unmarshal(scanner.Bytes(), &resp); err != nil {
			t.Fatalf("invalid response line %q: %v", scanner.Text(), err)
		}
		responses = append(responses, resp)
	}

	if len(responses) != 4 {
		t.Fatalf("expected 4 responses, got %d", len(responses))
	}

	tests := []struct {
		id          int64
		result      string
		errContains string
	}{
		{id: 1, result: "16"},
		{id: 2, errContains: "odd item 3"},
		{id: 3, errContains: "not registered"},
		{id: 4, result: "2"},
	}

	for i, tt := range tests {
		resp := responses[i]
		if resp.ID != tt.id {
			t.Errorf("response %d: expected id %d, got %d", i, tt.id, resp.ID)
		}
		if tt.errContains != "" {
			if !contains(resp.Error, tt.errContains) {
				t.Errorf("response %d: expected error containing %q, got %q", i, tt.errContains, resp.Error)
			}
			continue
		}
		if resp.Error != "" {
			t.Errorf("response %d: unexpected error %q", i, resp.Error)
		}
		if string(resp.Result) != tt.result {
			t.Errorf("response %d: expected result %s, got %s", i, tt.result, resp.Result)
		}
	}
}

func TestServeWorker_MalformedInput(t *testing.T) {
	var out bytes.Buffer
	err := ServeWorker(context.Background(), strings.NewReader("{not json\n"), &out, quietLogger())
	if err == nil {
		t.Error("expected error for malformed request")
	}
}

func TestDecodeResponse(t *testing.T) {
	v, err := decodeResponse(workerResponse{ID: 1, Result: json.RawMessage(`{"a":1}`)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	m, ok := v.(map[string]any)
	if !ok || m["a"] != float64(1) {
		t.Errorf("unexpected result %v", v)
	}

	if _, err := decodeResponse(workerResponse{ID: 2, Error: "boom"}); err == nil || err.Error() != "boom" {
		t.Errorf("expected boom, got %v", err)
	}

	if v, err := decodeResponse(workerResponse{ID: 3}); v != nil || err != nil {
		t.Errorf("expected nil result, got %v, %v", v, err)
	}
}

func TestIsWorkerProcess(t *testing.T) {
	t.Setenv(WorkerEnv, "")
	if IsWorkerProcess() {
		t.Error("expected false without env")
	}

	t.Setenv(WorkerEnv, "1")
	if !IsWorkerProcess() {
		t.Error("expected true with env")
	}
}
