package encoding

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeJSON_ReturnsCopy(t *testing.T) {
	first, err := EncodeJSON(map[string]string{"orderNo": "ORD-1"})
	require.NoError(t, err)
	second, err := EncodeJSON(map[string]string{"orderNo": "ORD-2"})
	require.NoError(t, err)

	assert.JSONEq(t, `{"orderNo":"ORD-1"}`, string(first))
	assert.JSONEq(t, `{"orderNo":"ORD-2"}`, string(second))
}

func TestWriteJSON(t *testing.T) {
	rec := httptest.NewRecorder()
	require.NoError(t, WriteJSON(rec, http.StatusAccepted, map[string]int{"attempts": 2}))

	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Equal(t, "15", rec.Header().Get("Content-Length"))
	assert.JSONEq(t, `{"attempts":2}`, rec.Body.String())
}

func TestWriteJSON_EncodeFailure(t *testing.T) {
	rec := httptest.NewRecorder()
	err := WriteJSON(rec, http.StatusOK, map[string]interface{}{"bad": make(chan int)})

	require.Error(t, err)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "bad")
}

func TestPutBuffer_DropsOversized(t *testing.T) {
	big := bytes.NewBuffer(make([]byte, 0, maxPooledBuffer+1))
	PutBuffer(big)

	buf := GetBuffer()
	assert.Equal(t, 0, buf.Len())
	PutBuffer(buf)
}
