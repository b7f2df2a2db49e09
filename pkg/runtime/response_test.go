package runtime

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/jllopis/aion/pkg/core"
)

func TestParseResponse(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want func(t *testing.T, got core.Response)
	}{
		{
			name: "tagged",
			raw: `<response>
<thought>greet them</thought>
<actions>REPLY, LOOKUP</actions>
<providers>WEATHER</providers>
<text>Hi &amp; welcome</text>
</response>`,
			want: func(t *testing.T, got core.Response) {
				assert.Equal(t, "greet them", got.Thought)
				assert.Equal(t, "Hi & welcome", got.Text)
				assert.Equal(t, []string{"REPLY", "LOOKUP"}, got.Actions)
				assert.Equal(t, []string{"WEATHER"}, got.Providers)
				assert.False(t, got.Simple)
			},
		},
		{
			name: "plain text",
			raw:  "  just words  ",
			want: func(t *testing.T, got core.Response) {
				assert.Equal(t, "just words", got.Text)
				assert.Equal(t, []string{ActionReply}, got.Actions)
				assert.True(t, got.Simple)
			},
		},
		{
			name: "text without actions",
			raw:  "<response><text>ok</text></response>",
			want: func(t *testing.T, got core.Response) {
				assert.Equal(t, []string{ActionReply}, got.Actions)
				assert.False(t, got.Simple)
			},
		},
		{
			name: "actions without text",
			raw:  "<actions>IGNORE</actions>",
			want: func(t *testing.T, got core.Response) {
				assert.Empty(t, got.Text)
				assert.Equal(t, []string{ActionIgnore}, got.Actions)
			},
		},
		{
			name: "empty",
			raw:  "",
			want: func(t *testing.T, got core.Response) {
				assert.Empty(t, got.Actions)
				assert.True(t, got.Simple)
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := ParseResponse(tt.raw)
			assert.Equal(t, tt.raw, resp.Raw)
			tt.want(t, resp)
		})
	}
}
