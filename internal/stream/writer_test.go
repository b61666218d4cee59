package stream

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResponseWriterEncodesOneRecordPerLine(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	w := NewResponseWriter(rec)
	assert.False(t, w.Started())

	require.NoError(t, w.Emit(TextDelta("Hi")))
	ev, err := ToolCall("update_whiteboard", map[string]any{"comment": "x", "operations": []any{}})
	require.NoError(t, err)
	require.NoError(t, w.Emit(ev))

	assert.True(t, w.Started())
	assert.Equal(t, 2, w.Written())
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, ContentType, rec.Header().Get("Content-Type"))
	assert.True(t, rec.Flushed)

	lines := strings.Split(strings.TrimSuffix(rec.Body.String(), "\n"), "\n")
	require.Len(t, lines, 2)
	assert.JSONEq(t, `{"type":"text","content":"Hi"}`, lines[0])
	assert.JSONEq(t, `{"type":"tool_call","toolName":"update_whiteboard","args":{"comment":"x","operations":[]}}`, lines[1])
}

func TestResponseWriterOutputDecodesBack(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	w := NewResponseWriter(rec)
	require.NoError(t, w.Emit(TextDelta("a\nb")))

	d := NewDecoder(t.Context(), strings.NewReader(rec.Body.String()), WithLogger(quietLogger()))
	require.True(t, d.Next())
	assert.Equal(t, "a\nb", d.Event().Content)
	assert.False(t, d.Next())
}
