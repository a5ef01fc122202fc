package interceptor

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/papercomputeco/acptraces/pkg/telemetry"
	"github.com/papercomputeco/acptraces/pkg/telemetry/telemetrytest"
)

func newPumpInterceptor() (*Interceptor, *telemetrytest.Recorder) {
	recorder := telemetrytest.NewRecorder()
	log := zap.NewNop()
	return &Interceptor{
		exporter: recorder,
		spans:    NewSpanManager(recorder, log, false),
		logger:   log,
	}, recorder
}

func TestPumpForwardsBytesExactly(t *testing.T) {
	// Malformed frames in the middle of the stream must pass through
	// byte-identically with no telemetry emitted for them.
	input := `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{}}` + "\n" +
		"not json\n" +
		`{"jsonrpc":"2.0","id":2,"method":"session/new","params":{}}` + "\n"

	ic, recorder := newPumpInterceptor()
	var out bytes.Buffer

	err := ic.pump(EditorToAgent, strings.NewReader(input), &out)
	require.NoError(t, err)
	assert.Equal(t, input, out.String())

	// Two request spans, nothing for the garbage line.
	assert.NotNil(t, recorder.FindSpan("initialize"))
	assert.NotNil(t, recorder.FindSpan("session/new"))
	assert.Len(t, recorder.Spans, 3) // acp_session + the two requests
}

func TestPumpForwardsUnterminatedFinalFrame(t *testing.T) {
	input := `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{}}`

	ic, _ := newPumpInterceptor()
	var out bytes.Buffer

	err := ic.pump(EditorToAgent, strings.NewReader(input), &out)
	require.NoError(t, err)
	assert.Equal(t, input, out.String())
}

func TestPumpEmptyStream(t *testing.T) {
	ic, recorder := newPumpInterceptor()
	var out bytes.Buffer

	err := ic.pump(AgentToEditor, strings.NewReader(""), &out)
	require.NoError(t, err)
	assert.Empty(t, out.Bytes())
	assert.Empty(t, recorder.Spans)
}

func TestPumpWriteFailureIsFatal(t *testing.T) {
	ic, _ := newPumpInterceptor()

	err := ic.pump(EditorToAgent, strings.NewReader("{\"a\":1}\n"), failingWriter{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "writing frame")
}

func TestRunForwardsThroughChild(t *testing.T) {
	// cat echoes the editor stream back, so the full loop exercises
	// spawn, both pumps, EOF propagation and reaping.
	input := `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"clientInfo":{"name":"zed","version":"0.1"}}}` + "\n" +
		"not json\n" +
		`{"jsonrpc":"2.0","method":"session/update","params":{"sessionId":"S1","update":{"sessionUpdate":"agent_message_chunk","content":{"text":"hi"}}}}` + "\n"

	recorder := telemetrytest.NewRecorder()
	ic := New([]string{"cat"}, recorder, false, zap.NewNop())
	ic.stdin = strings.NewReader(input)
	var out bytes.Buffer
	ic.stdout = &out

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	code, err := ic.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, code)
	assert.Equal(t, input, out.String())

	// Shutdown drained every span and flushed the exporter.
	assert.Empty(t, recorder.OpenSpans())
	assert.Equal(t, 1, recorder.ShutdownN)
}

func TestRunAbandonsInFlightRequests(t *testing.T) {
	// The editor sends a request that never gets a response before EOF:
	// the span must be closed as abandoned when the child is reaped.
	input := `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{}}` + "\n" +
		`{"jsonrpc":"2.0","id":3,"method":"session/prompt","params":{"sessionId":"S1","prompt":[{"type":"text","text":"hi"}]}}` + "\n"

	recorder := telemetrytest.NewRecorder()
	// Swallow the stream so no responses ever come back.
	ic := New([]string{"sh", "-c", "cat > /dev/null"}, recorder, false, zap.NewNop())
	ic.stdin = strings.NewReader(input)
	var out bytes.Buffer
	ic.stdout = &out

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	code, err := ic.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, code)
	assert.Empty(t, out.Bytes())

	prompt := recorder.FindSpan("invoke_agent")
	require.NotNil(t, prompt)
	assert.True(t, prompt.Ended)
	assert.Equal(t, "abandoned", prompt.ErrType)
	assert.Empty(t, recorder.OpenSpans())
}

func TestRunPropagatesChildExitCode(t *testing.T) {
	recorder := telemetrytest.NewRecorder()
	ic := New([]string{"sh", "-c", "exit 7"}, recorder, false, zap.NewNop())
	ic.stdin = strings.NewReader("")
	var out bytes.Buffer
	ic.stdout = &out

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	code, err := ic.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 7, code)
}

func TestRunUnknownCommand(t *testing.T) {
	recorder := telemetrytest.NewRecorder()
	ic := New([]string{"definitely-not-a-real-binary-xyz"}, recorder, false, zap.NewNop())

	code, err := ic.Run(context.Background())
	assert.Error(t, err)
	assert.Equal(t, 1, code)
}

var _ telemetry.Exporter = (*telemetrytest.Recorder)(nil)
