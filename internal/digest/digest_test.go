package digest

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestJSON_OrderIndependent(t *testing.T) {
	a, err := JSON(map[string]any{"b": 1, "a": []string{"x"}})
	require.NoError(t, err)
	b, err := JSON(map[string]any{"a": []string{"x"}, "b": 1})
	require.NoError(t, err)
	require.Equal(t, a, b)
	require.Len(t, a, 64)
}

func TestJSON_DistinguishesValues(t *testing.T) {
	a, err := JSON(map[string]string{"k": "1"})
	require.NoError(t, err)
	b, err := JSON(map[string]string{"k": "2"})
	require.NoError(t, err)
	require.NotEqual(t, a, b)
}

func TestJSON_Unmarshalable(t *testing.T) {
	_, err := JSON(make(chan int))
	require.Error(t, err)
}

func TestBytes(t *testing.T) {
	require.Equal(t,
		"e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855",
		Bytes(nil))
}
