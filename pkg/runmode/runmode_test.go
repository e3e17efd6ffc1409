package runmode

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"imgharvest/pkg/category"
)

func makeCategories(n int) []category.Category {
	cats := make([]category.Category, n)
	for i := range cats {
		cats[i] = category.Category{Index: i, Name: fmt.Sprintf("cat-%d", i)}
	}
	return cats
}

func TestResolve(t *testing.T) {
	tests := []struct {
		directive string
		want      Mode
	}{
		{"confirm-full", Full},
		{"  CONFIRM-FULL \n", Full},
		{"test", Test},
		{"Test", Test},
		{"abort", Abort},
		{"", Abort},
		{"y", Abort},
		{"yes", Abort},
		{"full", Abort},
		{"testing", Abort},
	}
	for _, tt := range tests {
		t.Run(tt.directive, func(t *testing.T) {
			assert.Equal(t, tt.want, Resolve(tt.directive))
		})
	}
}

func TestSelectTestMode(t *testing.T) {
	for n := 0; n <= 6; n++ {
		cats := makeCategories(n)
		got := Resolve("test").Select(cats)
		require.Len(t, got, min(3, n))
		for i, c := range got {
			assert.Equal(t, cats[i], c, "test mode must keep the leading categories in order")
		}
	}
}

func TestSelectFullAndAbort(t *testing.T) {
	cats := makeCategories(5)
	assert.Equal(t, cats, Resolve("confirm-full").Select(cats))

	for _, directive := range []string{"abort", "n", "", "confirm", "TEST!"} {
		assert.Empty(t, Resolve(directive).Select(cats), "directive %q", directive)
	}
}

func TestModeString(t *testing.T) {
	assert.Equal(t, "confirm-full", Full.String())
	assert.Equal(t, "test", Test.String())
	assert.Equal(t, "abort", Abort.String())
	assert.Equal(t, Full, Resolve(Full.String()))
}

func TestObtainOrder(t *testing.T) {
	got, err := Obtain(context.Background(), Static(""), Static(" test "), Static("confirm-full"))
	require.NoError(t, err)
	assert.Equal(t, "test", got)

	got, err = Obtain(context.Background(), Static("confirm-full"), Static("test"))
	require.NoError(t, err)
	assert.Equal(t, "confirm-full", got)
}

func TestObtainNoSource(t *testing.T) {
	got, err := Obtain(context.Background(), nil, Static("  "))
	require.NoError(t, err)
	assert.Equal(t, "", got)
	assert.Equal(t, Abort, Resolve(got))
}

func TestPrompt(t *testing.T) {
	var out bytes.Buffer
	p := &Prompt{In: strings.NewReader("test\n"), Out: &out, Message: "scope? "}

	got, err := Obtain(context.Background(), Static(""), p)
	require.NoError(t, err)
	assert.Equal(t, "test", got)
	assert.Equal(t, "scope? ", out.String())
}

func TestPromptEOF(t *testing.T) {
	p := &Prompt{In: strings.NewReader(""), Out: io.Discard}
	got, err := p.Directive(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "", got)

	p = &Prompt{In: strings.NewReader("confirm-full"), Out: io.Discard}
	got, err = p.Directive(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "confirm-full", got)
}

func TestPromptCancelled(t *testing.T) {
	r, w := io.Pipe()
	defer w.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := &Prompt{In: r, Out: io.Discard}
	_, err := p.Directive(ctx)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestPromptMessage(t *testing.T) {
	msg := PromptMessage(10, 50)
	assert.Contains(t, msg, "~500 images")
	assert.Contains(t, msg, `"confirm-full"`)
	assert.Contains(t, msg, "first 3")
}
