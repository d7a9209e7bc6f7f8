package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRedactEmail(t *testing.T) {
	cases := map[string]string{
		"john.doe@example.com":       "jo***@example.com",
		"ab@example.com":             "***@example.com",
		"Sales Team <sales@acme.io>": "sa***@acme.io",
		"not-an-address":             "***@***",
		"a@b@c":                      "***@***",
	}
	for in, want := range cases {
		assert.Equal(t, want, RedactEmail(in), in)
	}
}

func TestFromSettings(t *testing.T) {
	log, err := FromSettings("debug", true, "")
	assert.NoError(t, err)
	assert.NotNil(t, log)
}
