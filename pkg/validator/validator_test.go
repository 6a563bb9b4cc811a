package validator

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type shortenForm struct {
	URL string `validate:"required,videourl"`
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		in      shortenForm
		wantErr string
	}{
		{"valid", shortenForm{URL: "https://youtube.com/watch?v=abc123"}, ""},
		{"missing", shortenForm{}, "field 'url' failed on 'required'"},
		{"no video token", shortenForm{URL: "https://youtube.com/"}, "field 'url' failed on 'videourl'"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(context.Background(), tt.in)
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Equal(t, tt.wantErr, err.Error())
		})
	}
}
